// Package slug は記事タイトルから公開URL用のスラッグを生成する。
package slug

import (
	"regexp"
	"strconv"
	"strings"
)

// MaxLength はスラッグの最大長。
const MaxLength = 50

// Fallback はタイトルから有効な文字が得られなかった場合のスラッグ。
const Fallback = "article"

var (
	nonWord    = regexp.MustCompile(`[^a-z0-9_\s-]`)
	whitespace = regexp.MustCompile(`\s+`)
	hyphens    = regexp.MustCompile(`-+`)
)

// Make はタイトルからスラッグを生成する。
// 小文字化、英数字・アンダースコア・空白・ハイフン以外の除去、空白のハイフン化、
// 連続ハイフンの圧縮、前後のハイフン除去を行い、MaxLength文字に切り詰める。
func Make(title string) string {
	s := strings.ToLower(strings.TrimSpace(title))
	s = nonWord.ReplaceAllString(s, "")
	s = whitespace.ReplaceAllString(s, "-")
	s = hyphens.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	s = truncate(s, MaxLength)
	if s == "" {
		return Fallback
	}
	return s
}

// Candidate はn番目の衝突回避候補を返す。n<=1の場合はbaseそのもの。
// 接尾辞 "-n" を付けても MaxLength を超えないよう base を切り詰める。
func Candidate(base string, n int) string {
	if n <= 1 {
		return base
	}
	suffix := "-" + strconv.Itoa(n)
	return truncate(base, MaxLength-len(suffix)) + suffix
}

func truncate(s string, max int) string {
	if len(s) > max {
		s = s[:max]
	}
	return strings.TrimRight(s, "-")
}
