package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/hitoshi/ainews/internal/llm"
)

// プロンプトと生成パラメータ。
const (
	summarySystemPrompt     = "You are an AI news summarizer. Create concise, informative summaries of AI-related news articles in 2-3 sentences."
	keyPointsSystemPrompt   = "Extract 3-5 key points from the article. Return as a JSON array of strings."
	fullContentSystemPrompt = "You are an AI journalist. Write a comprehensive news article based on the provided information. Make it engaging and informative."

	summaryInputRunes     = 2000
	keyPointsInputRunes   = 1500
	fullContentInputRunes = 1500

	// SummaryFallbackRunes は要約に失敗した場合に本文から切り出す文字数。
	SummaryFallbackRunes = 200

	// MaxKeyPoints は要点の最大数。
	MaxKeyPoints = 5
)

// PlaceholderKeyPoints は要点抽出が完全に失敗した場合の固定リスト。
var PlaceholderKeyPoints = []string{"Key AI development", "Industry impact", "Technical advancement"}

// errKeyPointsNotJSON は要点の応答がJSON配列として解釈できなかったことを表す。
var errKeyPointsNotJSON = errors.New("key points response is not a JSON array")

// errKeyPointsEmpty は要点の配列が空だったことを表す。
var errKeyPointsEmpty = errors.New("key points response is an empty array")

// Summarize は2〜3文の要約を生成する。
// 失敗時は本文の先頭200文字（本文が空ならタイトル）とエラーを返す。
func Summarize(ctx context.Context, c llm.Completer, title, content string) (string, error) {
	out, err := c.Complete(ctx, llm.Request{
		System:      summarySystemPrompt,
		User:        fmt.Sprintf("Summarize this article:\n\nTitle: %s\n\nContent: %s", title, truncateRunes(content, summaryInputRunes)),
		Temperature: 0.7,
		MaxTokens:   200,
	})
	if err != nil {
		fallback := truncateRunes(content, SummaryFallbackRunes)
		if strings.TrimSpace(fallback) == "" {
			fallback = title
		}
		return fallback, err
	}
	return out, nil
}

// ExtractKeyPoints は3〜5個の要点を抽出する。
// JSON配列として解釈できない場合は応答を行ごとに分割して先頭5行を使う。
// 呼び出し自体が失敗した場合と、配列が空だった場合はPlaceholderKeyPointsを返す。
// いずれのフォールバックでもエラーを返す。
func ExtractKeyPoints(ctx context.Context, c llm.Completer, title, content string) ([]string, error) {
	out, err := c.Complete(ctx, llm.Request{
		System:      keyPointsSystemPrompt,
		User:        fmt.Sprintf("Extract key points from:\n\nTitle: %s\n\nContent: %s", title, truncateRunes(content, keyPointsInputRunes)),
		Temperature: 0.3,
		MaxTokens:   200,
	})
	if err != nil {
		return placeholderKeyPoints(), err
	}

	points, err := parseKeyPoints(out)
	if err == nil {
		if len(points) == 0 {
			return placeholderKeyPoints(), errKeyPointsEmpty
		}
		return points, nil
	}

	lines := nonEmptyLines(out, MaxKeyPoints)
	if len(lines) == 0 {
		return placeholderKeyPoints(), errKeyPointsNotJSON
	}
	return lines, errKeyPointsNotJSON
}

// GenerateFullContent は要約と要点をもとに記事本文を生成する。
// 失敗時は元の本文（空なら要約）とエラーを返す。
func GenerateFullContent(ctx context.Context, c llm.Completer, title, content, summary string, keyPoints []string) (string, error) {
	out, err := c.Complete(ctx, llm.Request{
		System: fullContentSystemPrompt,
		User: fmt.Sprintf("Write a news article based on:\n\nTitle: %s\n\nSummary: %s\n\nKey Points: %s\n\nOriginal Content: %s",
			title, summary, strings.Join(keyPoints, ", "), truncateRunes(content, fullContentInputRunes)),
		Temperature: 0.7,
		MaxTokens:   1000,
	})
	if err != nil {
		if strings.TrimSpace(content) == "" {
			return summary, err
		}
		return content, err
	}
	return out, nil
}

// parseKeyPoints は応答をJSON文字列配列として解釈する。空要素は除く。
func parseKeyPoints(out string) ([]string, error) {
	var raw []string
	if err := json.Unmarshal([]byte(llm.CleanJSON(out)), &raw); err != nil {
		return nil, err
	}

	points := make([]string, 0, len(raw))
	for _, p := range raw {
		if p = strings.TrimSpace(p); p != "" {
			points = append(points, p)
		}
		if len(points) == MaxKeyPoints {
			break
		}
	}
	return points, nil
}

func nonEmptyLines(s string, limit int) []string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line == "" {
			continue
		}
		lines = append(lines, line)
		if len(lines) == limit {
			break
		}
	}
	return lines
}

func placeholderKeyPoints() []string {
	return append([]string(nil), PlaceholderKeyPoints...)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
