// Package security はアプリケーションのセキュリティ機能を提供する。
package security

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// SSRFGuardService はSSRF防止機能のインターフェースを定義する。
// ソースのシード時と、フィード・ページ・本文の各フェッチ時に使用される。
type SSRFGuardService interface {
	// NewSafeClient はSSRF防止機能付きのHTTPクライアントを生成する。
	// プライベートIP、ループバック、リンクローカル、メタデータIPへの接続は
	// DNS解決後にsafeurlのDialerでブロックされる。
	// 生成したクライアントは全リクエストにUser-Agentを付与する。
	NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client

	// ValidateURL はURLの安全性をリクエスト前に静的に検証する。
	ValidateURL(rawURL string) error
}

// allowedSchemes はSSRF防止で許可されるURLスキーム。
var allowedSchemes = []string{"http", "https"}

// blockedNetworks はValidateURLでブロックするネットワーク範囲。
// パッケージ初期化時に1回だけパースする。
var blockedNetworks []net.IPNet

func init() {
	cidrs := []string{
		"10.0.0.0/8",     // RFC 1918
		"172.16.0.0/12",  // RFC 1918
		"192.168.0.0/16", // RFC 1918
		"127.0.0.0/8",    // ループバック
		"169.254.0.0/16", // リンクローカル（クラウドメタデータIPを含む）
		"100.64.0.0/10",  // CGNAT
		"0.0.0.0/8",
		"::1/128",
		"fe80::/10",
		"fc00::/7",
	}
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR in blockedNetworks: %s: %v", cidr, err))
		}
		blockedNetworks = append(blockedNetworks, *network)
	}
}

// blockedHostnames はブロック対象のホスト名。
var blockedHostnames = []string{
	"localhost",
	"metadata.google.internal",
}

// ssrfGuard はSSRFGuardServiceの実装。
type ssrfGuard struct {
	userAgent string
}

// NewSSRFGuard はSSRFGuardServiceの新しいインスタンスを生成する。
// userAgentは外部サーバーに名乗るクライアント識別子。
func NewSSRFGuard(userAgent string) *ssrfGuard {
	return &ssrfGuard{userAgent: userAgent}
}

// NewSafeClient はSSRF防止機能付きのHTTPクライアントを生成する。
// maxResponseSizeは呼び出し側でio.LimitReaderに渡す想定で、ここでは使わない。
func (g *ssrfGuard) NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(80, 443).
		Build()

	return withUserAgent(safeurl.Client(config).Client, g.userAgent)
}

// ValidateURL はURLの安全性を事前に検証する。
// DNS解決を伴わないため、DNS再バインディングはNewSafeClient側で防ぐ。
func (g *ssrfGuard) ValidateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("empty URL")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if !isAllowedScheme(scheme) {
		return fmt.Errorf("disallowed scheme: %s (allowed: %v)", scheme, allowedSchemes)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("empty host in URL: %s", rawURL)
	}

	if ip := net.ParseIP(host); ip != nil {
		if isBlockedIP(ip) {
			return fmt.Errorf("blocked IP address: %s", ip.String())
		}
		return nil
	}

	lower := strings.ToLower(host)
	for _, blocked := range blockedHostnames {
		if lower == blocked || strings.HasSuffix(lower, "."+blocked) {
			return fmt.Errorf("blocked host: %s", host)
		}
	}

	return nil
}

// userAgentTransport はUser-Agent未設定のリクエストに識別子を付与する。
type userAgentTransport struct {
	base      http.RoundTripper
	userAgent string
}

// RoundTrip はhttp.RoundTripperを実装する。
func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.userAgent)
	}
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}

// withUserAgent はクライアントにUser-Agent付与を追加したコピーを返す。
func withUserAgent(client *http.Client, userAgent string) *http.Client {
	c := *client
	c.Transport = &userAgentTransport{base: client.Transport, userAgent: userAgent}
	return &c
}

func isAllowedScheme(scheme string) bool {
	for _, allowed := range allowedSchemes {
		if strings.EqualFold(scheme, allowed) {
			return true
		}
	}
	return false
}

func isBlockedIP(ip net.IP) bool {
	for _, network := range blockedNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}
