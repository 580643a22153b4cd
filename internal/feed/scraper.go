package feed

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/hitoshi/ainews/internal/model"
	"github.com/hitoshi/ainews/internal/security"
)

// DefaultScrapeItemLimit は1ソースあたりに走査する記事ブロックの上限。
const DefaultScrapeItemLimit = 5

const (
	blockSelector   = "article, .post, .news-item"
	titleSelector   = "h1, h2, h3, .title"
	snippetSelector = "p, .content, .summary"
)

// PageScraper はフィードのないソースのホームページから記事ブロックを抽出する。
// サイト固有のテンプレートは持たず、汎用セレクタの最初の一致を使う。
type PageScraper struct {
	client   *pageClient
	recorder FetchRecorder
	limit    int
	logger   *slog.Logger
	now      func() time.Time
}

// NewPageScraper はPageScraperを生成する。limitが0以下の場合はDefaultScrapeItemLimitを使う。
func NewPageScraper(guard SSRFValidator, opts HTTPOptions, recorder FetchRecorder, limit int, logger *slog.Logger) *PageScraper {
	if limit <= 0 {
		limit = DefaultScrapeItemLimit
	}
	return &PageScraper{
		client:   newPageClient(guard, opts),
		recorder: recorder,
		limit:    limit,
		logger:   logger,
		now:      time.Now,
	}
}

// Fetch はホームページを取得し、先頭limit個の記事ブロックからRawItemを作る。
// タイトルかリンクのないブロックは捨てるが、上限のカウントには含める。
func (s *PageScraper) Fetch(ctx context.Context, source *model.Source) []model.RawItem {
	resp, err := s.client.get(ctx, source.HomepageURL, acceptHTML)
	if err != nil {
		s.logger.Error("ページの取得に失敗しました",
			slog.String("source_id", source.ID),
			slog.String("url", source.HomepageURL),
			slog.String("error", err.Error()),
		)
		s.record(0, true)
		return nil
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		s.logger.Error("HTMLのパースに失敗しました",
			slog.String("source_id", source.ID),
			slog.String("url", source.HomepageURL),
			slog.String("error", err.Error()),
		)
		s.record(0, true)
		return nil
	}

	now := s.now()
	var items []model.RawItem
	doc.Find(blockSelector).EachWithBreak(func(i int, block *goquery.Selection) bool {
		if i >= s.limit {
			return false
		}

		title := selectionText(block.Find(titleSelector).First())
		href, _ := block.Find("a[href]").First().Attr("href")
		link := CanonicalURL(source.HomepageURL, href)
		if title == "" || link == "" {
			return true
		}

		content := selectionText(block.Find(snippetSelector).First())
		if content == "" {
			content = title
		}

		items = append(items, model.RawItem{
			Title:       title,
			URL:         link,
			Content:     content,
			PublishedAt: now,
		})
		return true
	})

	s.logger.Info("ページをスクレイピングしました",
		slog.String("source_id", source.ID),
		slog.String("url", source.HomepageURL),
		slog.Int("items", len(items)),
	)
	s.record(len(items), false)
	return items
}

func (s *PageScraper) record(items int, failed bool) {
	if s.recorder != nil {
		s.recorder.RecordFetch(string(model.StrategyScrape), items, failed)
	}
}

func selectionText(sel *goquery.Selection) string {
	return security.NormalizeWhitespace(strings.TrimSpace(sel.Text()))
}

var _ Fetcher = (*PageScraper)(nil)
