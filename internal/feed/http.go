// Package feed は外部ソースから記事候補を取得するフェッチャーを提供する。
//
// 取得方式はソースごとにシード時に決まる（フィード / スクレイピング）。
// いずれの方式も失敗時はログを出して空の結果を返し、集約ラン全体を止めない。
package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// SSRFValidator はSSRF検証のインターフェース。
// security.SSRFGuardServiceを抽象化してテスタビリティを向上させる。
type SSRFValidator interface {
	ValidateURL(rawURL string) error
	NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client
}

// HTTPOptions は外部HTTP取得の共通設定。
type HTTPOptions struct {
	Timeout     time.Duration
	MaxBodySize int64
}

// DefaultHTTPOptions は外部HTTP取得のデフォルト設定（10秒、5MB）。
var DefaultHTTPOptions = HTTPOptions{
	Timeout:     10 * time.Second,
	MaxBodySize: 5 * 1024 * 1024,
}

const (
	acceptFeed = "application/rss+xml, application/atom+xml, application/xml, text/xml, */*"
	acceptHTML = "text/html, application/xhtml+xml, */*"
)

// httpResponse は取得結果のボディとContent-Type。
type httpResponse struct {
	Body        []byte
	ContentType string
	FinalURL    string
}

// pageClient はSSRF検証・タイムアウト・サイズ上限付きでGETする。
type pageClient struct {
	guard SSRFValidator
	opts  HTTPOptions
}

func newPageClient(guard SSRFValidator, opts HTTPOptions) *pageClient {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultHTTPOptions.Timeout
	}
	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = DefaultHTTPOptions.MaxBodySize
	}
	return &pageClient{guard: guard, opts: opts}
}

// get はURLを取得する。2xx以外のステータスはエラーとして返す。
func (c *pageClient) get(ctx context.Context, rawURL, accept string) (*httpResponse, error) {
	if err := c.guard.ValidateURL(rawURL); err != nil {
		return nil, fmt.Errorf("SSRF検証に失敗: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("リクエスト作成に失敗: %w", err)
	}
	req.Header.Set("Accept", accept)

	client := c.guard.NewSafeClient(c.opts.Timeout, c.opts.MaxBodySize)
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエスト失敗: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("予期しないHTTPステータス: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.opts.MaxBodySize))
	if err != nil {
		return nil, fmt.Errorf("レスポンス読み取り失敗: %w", err)
	}

	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	return &httpResponse{
		Body:        body,
		ContentType: resp.Header.Get("Content-Type"),
		FinalURL:    finalURL,
	}, nil
}

// CanonicalURL はhrefをbaseを基準に絶対URLへ解決し、フラグメントを除去する。
// http/https以外のスキームや解析できないURLは空文字を返す。
func CanonicalURL(base, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}

	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base != "" {
		baseU, err := url.Parse(base)
		if err == nil {
			ref = baseU.ResolveReference(ref)
		}
	}

	scheme := strings.ToLower(ref.Scheme)
	if scheme != "http" && scheme != "https" || ref.Host == "" {
		return ""
	}
	ref.Scheme = scheme
	ref.Host = strings.ToLower(ref.Host)
	ref.Fragment = ""
	ref.RawFragment = ""
	return ref.String()
}
