// Package security はアプリケーションのセキュリティ機能を提供する。
//
// ContentSanitizerService は外部から取得したHTMLと言語モデルの生成結果を
// 保存・公開できる形に整える。bluemondayの許可リストベースのポリシーを使う。
package security

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// ContentSanitizerService はHTMLコンテンツのサニタイズ機能のインターフェースを定義する。
type ContentSanitizerService interface {
	// ToPlainText はフィードのスニペット等に含まれるHTMLタグをすべて除去し、
	// エンティティを復元したプレーンテキストを返す。
	ToPlainText(rawHTML string) string

	// SanitizeArticle は公開記事本文として安全なHTMLのみを残す。
	// タグを含まないプレーンテキストはエスケープせずにそのまま返す。
	SanitizeArticle(rawHTML string) string
}

// markupTag はタグらしき記述を検出する。"<90%" のような比較表現には一致しない。
var markupTag = regexp.MustCompile(`<[a-zA-Z!/]`)

// blockBoundary はテキスト化の際に改行へ置き換えるブロック要素の境界。
var blockBoundary = regexp.MustCompile(`(?i)<\s*(br\s*/?|/p|/div|/li|/h[1-6]|/blockquote)\s*>`)

// contentSanitizer はContentSanitizerServiceの実装。
// bluemondayのポリシーはスレッドセーフなので共有する。
type contentSanitizer struct {
	strict  *bluemonday.Policy
	article *bluemonday.Policy
}

// NewContentSanitizer はContentSanitizerServiceの新しいインスタンスを生成する。
//   - テキスト化: StrictPolicy（全タグ除去）
//   - 記事本文: p, br, ul, ol, li, blockquote, pre, code, strong, em, h2, h3 と https/httpのリンクのみ
func NewContentSanitizer() *contentSanitizer {
	article := bluemonday.NewPolicy()
	article.AllowElements(
		"p", "br", "ul", "ol", "li",
		"blockquote", "pre", "code",
		"strong", "em", "h2", "h3",
	)
	article.AllowAttrs("href").OnElements("a")
	article.AllowURLSchemes("https", "http")
	article.AllowRelativeURLs(false)
	article.AddTargetBlankToFullyQualifiedLinks(true)
	article.RequireNoReferrerOnLinks(true)

	return &contentSanitizer{
		strict:  bluemonday.StrictPolicy(),
		article: article,
	}
}

// ToPlainText はHTMLをプレーンテキストに変換する。
func (s *contentSanitizer) ToPlainText(rawHTML string) string {
	if rawHTML == "" {
		return ""
	}
	withBreaks := blockBoundary.ReplaceAllString(rawHTML, "\n")
	text := html.UnescapeString(s.strict.Sanitize(withBreaks))
	return NormalizeWhitespace(text)
}

// SanitizeArticle は記事本文用のポリシーでサニタイズする。
// タグがなければbluemondayを通さない。通すと ' や & が実体参照に置き換わる。
func (s *contentSanitizer) SanitizeArticle(rawHTML string) string {
	if !markupTag.MatchString(rawHTML) {
		return strings.TrimSpace(rawHTML)
	}
	return strings.TrimSpace(s.article.Sanitize(rawHTML))
}

var (
	horizontalSpace = regexp.MustCompile(`[ \t\f\v\x{00a0}]+`)
	manyNewlines    = regexp.MustCompile(`\n{3,}`)
)

// NormalizeWhitespace は行内の連続空白を1つにまとめ、空行を最大1行に抑える。
func NormalizeWhitespace(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = horizontalSpace.ReplaceAllString(s, " ")

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	s = strings.Join(lines, "\n")
	s = manyNewlines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
