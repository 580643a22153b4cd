package feed

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/ainews/internal/model"
	"github.com/hitoshi/ainews/internal/security"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// mockLedger はテスト用の重複排除台帳。
type mockLedger struct {
	seen map[string]bool
}

func (m *mockLedger) HasSeen(ctx context.Context, url string) bool {
	return m.seen[url]
}

// mockRecorder はFetchRecorderのテスト用実装。
type mockRecorder struct {
	mu         sync.Mutex
	fetches    []string
	failures   int
	dedupSkips int
}

func (m *mockRecorder) RecordFetch(strategy string, items int, failed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetches = append(m.fetches, strategy)
	if failed {
		m.failures++
	}
}

func (m *mockRecorder) RecordDedupSkip() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dedupSkips++
}

// mockExtractor は固定の本文を返す抽出器。
type mockExtractor struct {
	mu      sync.Mutex
	content map[string]string
	calls   []string
}

func (m *mockExtractor) Extract(ctx context.Context, pageURL string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, pageURL)
	return m.content[pageURL]
}

func (m *mockExtractor) called(url string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.calls {
		if c == url {
			return true
		}
	}
	return false
}

// rssWithItems はn件のエントリを持つRSSを生成する。i番目の公開日時はbaseからi時間前。
func rssWithItems(base time.Time, n int) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><rss version="2.0"><channel><title>AI Blog</title><link>https://blog.example.com</link>`)
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, `<item><title>Post %d</title><link>https://blog.example.com/posts/%d</link><description>&lt;p&gt;Snippet %d&lt;/p&gt;</description><pubDate>%s</pubDate></item>`,
			i, i, i, base.Add(-time.Duration(i)*time.Hour).Format(time.RFC1123Z))
	}
	b.WriteString(`</channel></rss>`)
	return b.String()
}

func newFeedServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, body)
	}))
}

func newTestFeedFetcher(ledger SeenChecker, extractor ContentExtractorService, recorder FetchRecorder, limit int, buf *bytes.Buffer) *FeedFetcher {
	return NewFeedFetcher(&mockSSRFGuard{}, DefaultHTTPOptions, ledger, extractor, security.NewContentSanitizer(), recorder, limit, newTestLogger(buf))
}

func TestFeedFetcher_TakesNewestEntriesUpToLimit(t *testing.T) {
	base := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	server := newFeedServer(t, rssWithItems(base, 12))
	defer server.Close()

	var buf bytes.Buffer
	extractor := &mockExtractor{content: map[string]string{}}
	f := newTestFeedFetcher(&mockLedger{}, extractor, nil, 10, &buf)

	items := f.Fetch(context.Background(), &model.Source{ID: "s1", FeedURL: server.URL + "/feed.xml", Strategy: model.StrategyFeed})
	if len(items) != 10 {
		t.Fatalf("期待件数: 10, 結果: %d", len(items))
	}
	if items[0].Title != "Post 0" || items[9].Title != "Post 9" {
		t.Errorf("新しい順の先頭10件が期待される: first=%q last=%q", items[0].Title, items[9].Title)
	}
	if !items[0].PublishedAt.Equal(base) {
		t.Errorf("PublishedAt = %v, want %v", items[0].PublishedAt, base)
	}
	// 抽出に失敗した場合はdescriptionのテキストを使う
	if items[3].Content != "Snippet 3" {
		t.Errorf("Content = %q, want %q", items[3].Content, "Snippet 3")
	}
}

func TestFeedFetcher_SortsOutOfOrderFeed(t *testing.T) {
	body := `<?xml version="1.0"?><rss version="2.0"><channel><title>T</title>
<item><title>Old</title><link>https://example.com/old</link><pubDate>Mon, 01 Sep 2025 10:00:00 +0000</pubDate></item>
<item><title>Undated</title><link>https://example.com/undated</link></item>
<item><title>New</title><link>https://example.com/new</link><pubDate>Wed, 01 Oct 2025 10:00:00 +0000</pubDate></item>
</channel></rss>`
	server := newFeedServer(t, body)
	defer server.Close()

	var buf bytes.Buffer
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f := newTestFeedFetcher(&mockLedger{}, &mockExtractor{}, nil, 2, &buf)
	f.now = func() time.Time { return fixed }

	items := f.Fetch(context.Background(), &model.Source{ID: "s1", FeedURL: server.URL})
	if len(items) != 2 {
		t.Fatalf("期待件数: 2, 結果: %d", len(items))
	}
	if items[0].Title != "New" || items[1].Title != "Old" {
		t.Errorf("日付の新しい順が期待される: %q, %q", items[0].Title, items[1].Title)
	}

	f.limit = 3
	items = f.Fetch(context.Background(), &model.Source{ID: "s1", FeedURL: server.URL})
	if items[2].Title != "Undated" || !items[2].PublishedAt.Equal(fixed) {
		t.Errorf("日付なしエントリは末尾で現在時刻になるべき: %+v", items[2])
	}
}

func TestFeedFetcher_SeenEntrySkipsSecondaryFetch(t *testing.T) {
	base := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	server := newFeedServer(t, rssWithItems(base, 3))
	defer server.Close()

	seenURL := "https://blog.example.com/posts/1"
	extractor := &mockExtractor{content: map[string]string{
		"https://blog.example.com/posts/0": "Full body zero",
	}}
	recorder := &mockRecorder{}

	var buf bytes.Buffer
	f := newTestFeedFetcher(&mockLedger{seen: map[string]bool{seenURL: true}}, extractor, recorder, 10, &buf)

	items := f.Fetch(context.Background(), &model.Source{ID: "s1", FeedURL: server.URL})
	if len(items) != 2 {
		t.Fatalf("期待件数: 2, 結果: %d", len(items))
	}
	for _, it := range items {
		if it.URL == seenURL {
			t.Errorf("取り込み済みのURLが返された: %s", seenURL)
		}
	}
	if extractor.called(seenURL) {
		t.Error("取り込み済みのURLに対して本文取得が行われた")
	}
	if items[0].Content != "Full body zero" {
		t.Errorf("抽出本文が優先されるべき: %q", items[0].Content)
	}
	if recorder.dedupSkips != 1 {
		t.Errorf("dedupSkips = %d, want 1", recorder.dedupSkips)
	}
	if len(recorder.fetches) != 1 || recorder.fetches[0] != "feed" || recorder.failures != 0 {
		t.Errorf("フェッチ記録が不正: %+v", recorder)
	}
}

func TestFeedFetcher_SkipsEntriesWithoutTitleOrLink(t *testing.T) {
	body := `<?xml version="1.0"?><rss version="2.0" xmlns:content="http://purl.org/rss/1.0/modules/content/"><channel><title>T</title>
<item><title></title><link>https://example.com/no-title</link></item>
<item><title>No link</title></item>
<item><title>GUID link</title><guid>https://example.com/guid#frag</guid></item>
<item><title>Relative</title><link>/posts/rel</link><content:encoded><![CDATA[<p>Body &amp; more</p>]]></content:encoded></item>
</channel></rss>`
	server := newFeedServer(t, body)
	defer server.Close()

	var buf bytes.Buffer
	f := newTestFeedFetcher(&mockLedger{}, &mockExtractor{}, nil, 10, &buf)

	items := f.Fetch(context.Background(), &model.Source{ID: "s1", FeedURL: server.URL + "/feed"})
	if len(items) != 2 {
		t.Fatalf("期待件数: 2, 結果: %d (%+v)", len(items), items)
	}
	if items[0].URL != "https://example.com/guid" {
		t.Errorf("GUIDのURLが使われるべき: %q", items[0].URL)
	}
	if items[1].URL != server.URL+"/posts/rel" {
		t.Errorf("相対リンクはフィードURL基準で解決されるべき: %q", items[1].URL)
	}
	if items[1].Content != "Body & more" {
		t.Errorf("contentのテキストが使われるべき: %q", items[1].Content)
	}
}

func TestFeedFetcher_FailuresYieldEmpty(t *testing.T) {
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, "this is not a feed")
	}))
	defer broken.Close()

	unavailable := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer unavailable.Close()

	tests := []struct {
		name    string
		guard   *mockSSRFGuard
		feedURL string
	}{
		{"パース失敗", &mockSSRFGuard{}, broken.URL},
		{"503", &mockSSRFGuard{}, unavailable.URL},
		{"SSRFブロック", &mockSSRFGuard{blockAll: true}, "http://10.0.0.1/feed"},
		{"フィードURLなし", &mockSSRFGuard{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			recorder := &mockRecorder{}
			f := NewFeedFetcher(tt.guard, DefaultHTTPOptions, &mockLedger{}, &mockExtractor{},
				security.NewContentSanitizer(), recorder, 10, newTestLogger(&buf))

			items := f.Fetch(context.Background(), &model.Source{ID: "s1", FeedURL: tt.feedURL})
			if len(items) != 0 {
				t.Errorf("失敗時は空が期待されるが %d 件", len(items))
			}
			if recorder.failures != 1 {
				t.Errorf("failures = %d, want 1", recorder.failures)
			}
			if buf.Len() == 0 {
				t.Error("失敗時はログが出力されるべき")
			}
		})
	}
}

func TestRouter_DispatchesByStrategy(t *testing.T) {
	feedCalls, scrapeCalls := 0, 0
	feedFetcher := fetcherFunc(func(ctx context.Context, s *model.Source) []model.RawItem {
		feedCalls++
		return []model.RawItem{{Title: "feed"}}
	})
	scraper := fetcherFunc(func(ctx context.Context, s *model.Source) []model.RawItem {
		scrapeCalls++
		return nil
	})

	var buf bytes.Buffer
	r := NewRouter(feedFetcher, scraper, newTestLogger(&buf))

	if got := r.Fetch(context.Background(), &model.Source{Strategy: model.StrategyFeed}); len(got) != 1 {
		t.Errorf("feed戦略の結果が返されるべき: %+v", got)
	}
	r.Fetch(context.Background(), &model.Source{Strategy: model.StrategyScrape})
	r.Fetch(context.Background(), &model.Source{Strategy: "unknown"})

	if feedCalls != 1 || scrapeCalls != 1 {
		t.Errorf("feedCalls=%d scrapeCalls=%d, want 1/1", feedCalls, scrapeCalls)
	}
	if !strings.Contains(buf.String(), "未知の取得方式") {
		t.Errorf("未知の戦略はログに記録されるべき: %s", buf.String())
	}
}

type fetcherFunc func(ctx context.Context, s *model.Source) []model.RawItem

func (f fetcherFunc) Fetch(ctx context.Context, s *model.Source) []model.RawItem { return f(ctx, s) }
