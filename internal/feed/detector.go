package feed

import (
	"bytes"
	"context"
	"mime"
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"github.com/hitoshi/ainews/internal/model"
)

// feedLink はHTMLのheadから見つかったフィードリンク。
type feedLink struct {
	URL  string
	Atom bool
}

// Detector はホームページからRSS/Atomフィードを自動検出する。
// シード時にdiscover: trueでフィードURL未指定のソースに対して使われる。
type Detector struct {
	client *pageClient
}

// NewDetector はDetectorを生成する。
func NewDetector(guard SSRFValidator, opts HTTPOptions) *Detector {
	return &Detector{client: newPageClient(guard, opts)}
}

// Detect はURLがフィードそのものならそのURLを、HTMLならheadで告知された
// フィードのうち最適なものを返す。検出できない場合はAPIErrorを返す。
func (d *Detector) Detect(ctx context.Context, pageURL string) (string, error) {
	if pageURL == "" {
		return "", model.NewInvalidURLError("URLが指定されていません")
	}
	if err := d.client.guard.ValidateURL(pageURL); err != nil {
		return "", model.NewSSRFBlockedError()
	}

	resp, err := d.client.get(ctx, pageURL, acceptFeed+", "+acceptHTML)
	if err != nil {
		return "", model.NewFetchFailedError(err.Error())
	}

	if isFeedDocument(resp.ContentType, resp.Body) {
		return pageURL, nil
	}

	mediaType, _, _ := mime.ParseMediaType(resp.ContentType)
	if !strings.Contains(strings.ToLower(mediaType), "html") {
		return "", model.NewFeedNotDetectedError(pageURL)
	}

	best := selectFeed(parseFeedLinks(resp.Body, pageURL), pageURL)
	if best == nil {
		return "", model.NewFeedNotDetectedError(pageURL)
	}
	return best.URL, nil
}

// isFeedDocument はContent-Typeとボディの先頭からRSS/Atom文書かを判定する。
// text/xmlなど汎用XMLの場合はルート要素を確認する。
func isFeedDocument(contentType string, body []byte) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.TrimSpace(strings.Split(contentType, ";")[0])
	}

	switch strings.ToLower(mediaType) {
	case "application/rss+xml", "application/atom+xml":
		return true
	case "text/xml", "application/xml":
	default:
		return false
	}

	head := body
	if len(head) > 4096 {
		head = head[:4096]
	}
	prefix := strings.ToLower(string(head))

	if strings.Contains(prefix, "<rss") || strings.Contains(prefix, "<rdf:rdf") {
		return true
	}
	return strings.Contains(prefix, "<feed") && strings.Contains(prefix, "http://www.w3.org/2005/atom")
}

// parseFeedLinks はheadタグ内の<link rel="alternate">からフィードリンクを集める。
// 相対URLはpageURLを基準に解決する。
func parseFeedLinks(body []byte, pageURL string) []feedLink {
	var links []feedLink

	z := html.NewTokenizer(bytes.NewReader(body))
	inHead := false
	for {
		switch z.Next() {
		case html.ErrorToken:
			return links

		case html.EndTagToken:
			if name, _ := z.TagName(); string(name) == "head" {
				return links
			}

		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			switch string(name) {
			case "head":
				inHead = true
				continue
			case "body":
				return links
			case "link":
			default:
				continue
			}
			if !inHead || !hasAttr {
				continue
			}

			attrs := map[string]string{}
			for {
				key, val, more := z.TagAttr()
				attrs[strings.ToLower(string(key))] = string(val)
				if !more {
					break
				}
			}

			if strings.ToLower(attrs["rel"]) != "alternate" {
				continue
			}
			var atom bool
			switch strings.ToLower(attrs["type"]) {
			case "application/rss+xml":
			case "application/atom+xml":
				atom = true
			default:
				continue
			}
			if resolved := CanonicalURL(pageURL, attrs["href"]); resolved != "" {
				links = append(links, feedLink{URL: resolved, Atom: atom})
			}
		}
	}
}

// selectFeed は候補から1つを選ぶ。
// 優先順位: 同一ホスト > Atom > 出現順
func selectFeed(links []feedLink, pageURL string) *feedLink {
	if len(links) == 0 {
		return nil
	}

	host := hostOf(pageURL)
	best, bestScore := 0, -1
	for i, l := range links {
		score := 0
		if hostOf(l.URL) == host {
			score += 100
		}
		if l.Atom {
			score += 10
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	return &links[best]
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
