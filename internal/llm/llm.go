// Package llm は言語モデルのチャット補完呼び出しを抽象化する。
//
// 要約・要点抽出・本文生成の各ステージは、システム指示・ユーザー入力・
// temperature・最大出力トークンだけが異なる同一の呼び出し形をとる。
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrEmptyCompletion はモデルが空の応答を返したことを表す。
var ErrEmptyCompletion = errors.New("empty completion")

// Request はチャット補完リクエスト。
type Request struct {
	System      string
	User        string
	Temperature float64
	MaxTokens   int
}

// Completer はチャット補完を行うクライアントのインターフェース。
type Completer interface {
	// Complete はテキスト応答を返す。応答が空の場合はErrEmptyCompletionを返す。
	Complete(ctx context.Context, req Request) (string, error)
	// Model は使用しているモデル識別子を返す。
	Model() string
}

// Options はプロバイダ共通のクライアント設定。
type Options struct {
	Provider          string // "openai" または "anthropic"
	APIKey            string
	Model             string
	BaseURL           string
	RequestTimeout    time.Duration
	MaxRetries        int
	RequestsPerMinute int
}

// New は設定に応じたCompleterを生成する。
// RequestsPerMinuteが正の場合はレート制御を付与する。
func New(opts Options) (Completer, error) {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}

	var c Completer
	switch strings.ToLower(opts.Provider) {
	case "", "openai":
		c = NewOpenAIClient(opts)
	case "anthropic":
		c = NewAnthropicClient(opts)
	default:
		return nil, fmt.Errorf("unsupported llm provider: %q", opts.Provider)
	}

	if opts.RequestsPerMinute > 0 {
		c = NewRateLimited(c, opts.RequestsPerMinute)
	}
	return c, nil
}

// CleanJSON はモデル応答からコードフェンスと前後の文章を取り除き、
// 最も外側のJSON配列またはオブジェクトを返す。
func CleanJSON(content string) string {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	open := strings.IndexAny(content, "[{")
	if open < 0 {
		return content
	}
	closer := "]"
	if content[open] == '{' {
		closer = "}"
	}
	end := strings.LastIndex(content, closer)
	if end > open {
		return content[open : end+1]
	}
	return content
}
