package feed

import (
	"bytes"
	"context"
	"log/slog"
	"net/url"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"

	"github.com/hitoshi/ainews/internal/security"
)

// MaxExtractedRunes は抽出本文の最大文字数。
const MaxExtractedRunes = 5000

const (
	noiseSelector   = "script, style, nav, header, footer, aside, noscript, .sidebar, .advertisement, .ads"
	contentSelector = "article, .content, .post-content, main"
)

// ContentExtractor は記事ページから本文テキストを抽出する。
type ContentExtractor struct {
	client *pageClient
	logger *slog.Logger
}

// NewContentExtractor はContentExtractorを生成する。
func NewContentExtractor(guard SSRFValidator, opts HTTPOptions, logger *slog.Logger) *ContentExtractor {
	return &ContentExtractor{client: newPageClient(guard, opts), logger: logger}
}

// Extract はページを取得し、ナビゲーションや広告を除いた最初の本文ブロックのテキストを返す。
// 本文ブロックが見つからない場合はreadabilityで抽出する。
// 失敗時はエラーを返さず空文字を返す。
func (e *ContentExtractor) Extract(ctx context.Context, pageURL string) string {
	resp, err := e.client.get(ctx, pageURL, acceptHTML)
	if err != nil {
		e.logger.Warn("本文ページの取得に失敗しました",
			slog.String("url", pageURL),
			slog.String("error", err.Error()),
		)
		return ""
	}

	text := extractMainText(resp.Body)
	if text == "" {
		text = readabilityText(resp.Body, resp.FinalURL)
	}
	return truncateRunes(text, MaxExtractedRunes)
}

// extractMainText は不要要素を除去してから本文セレクタの最初の一致をテキスト化する。
func extractMainText(body []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return ""
	}
	doc.Find(noiseSelector).Remove()
	return security.NormalizeWhitespace(doc.Find(contentSelector).First().Text())
}

func readabilityText(body []byte, pageURL string) string {
	u, _ := url.Parse(pageURL)
	article, err := readability.FromReader(bytes.NewReader(body), u)
	if err != nil {
		return ""
	}
	return security.NormalizeWhitespace(article.TextContent)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

var _ ContentExtractorService = (*ContentExtractor)(nil)
