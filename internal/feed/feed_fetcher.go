package feed

import (
	"bytes"
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/ainews/internal/model"
)

// DefaultFeedItemLimit は1ソースあたりに処理するフィードエントリの上限。
const DefaultFeedItemLimit = 10

// ContentExtractorService は記事ページから本文テキストを抽出する。
type ContentExtractorService interface {
	Extract(ctx context.Context, pageURL string) string
}

// FeedFetcher はRSS/Atomフィードから記事候補を取得する。
// 台帳に未登録のエントリに限り、記事ページを追加取得して本文を抽出する。
type FeedFetcher struct {
	client    *pageClient
	ledger    SeenChecker
	extractor ContentExtractorService
	text      TextConverter
	recorder  FetchRecorder
	limit     int
	logger    *slog.Logger
	now       func() time.Time
}

// NewFeedFetcher はFeedFetcherを生成する。limitが0以下の場合はDefaultFeedItemLimitを使う。
// recorderはnilでもよい。
func NewFeedFetcher(
	guard SSRFValidator,
	opts HTTPOptions,
	ledger SeenChecker,
	extractor ContentExtractorService,
	text TextConverter,
	recorder FetchRecorder,
	limit int,
	logger *slog.Logger,
) *FeedFetcher {
	if limit <= 0 {
		limit = DefaultFeedItemLimit
	}
	return &FeedFetcher{
		client:    newPageClient(guard, opts),
		ledger:    ledger,
		extractor: extractor,
		text:      text,
		recorder:  recorder,
		limit:     limit,
		logger:    logger,
		now:       time.Now,
	}
}

// Fetch はフィードを取得・パースし、新しい順に最大limit件のエントリをRawItemに変換する。
func (f *FeedFetcher) Fetch(ctx context.Context, source *model.Source) []model.RawItem {
	start := time.Now()

	if source.FeedURL == "" {
		f.logger.Warn("フィードURLが未設定のためスキップします", slog.String("source_id", source.ID))
		f.record(0, true)
		return nil
	}

	resp, err := f.client.get(ctx, source.FeedURL, acceptFeed)
	if err != nil {
		f.logger.Error("フィードの取得に失敗しました",
			slog.String("source_id", source.ID),
			slog.String("feed_url", source.FeedURL),
			slog.String("error", err.Error()),
		)
		f.record(0, true)
		return nil
	}

	parsed, err := gofeed.NewParser().Parse(bytes.NewReader(resp.Body))
	if err != nil {
		f.logger.Error("フィードのパースに失敗しました",
			slog.String("source_id", source.ID),
			slog.String("feed_url", source.FeedURL),
			slog.String("error", err.Error()),
		)
		f.record(0, true)
		return nil
	}

	var items []model.RawItem
	for _, entry := range newestEntries(parsed.Items, f.limit) {
		if ctx.Err() != nil {
			break
		}

		title := strings.TrimSpace(entry.Title)
		link := entryLink(source.FeedURL, entry)
		if title == "" || link == "" {
			continue
		}

		// 既知のURLは本文の追加取得をしない
		if f.ledger.HasSeen(ctx, link) {
			f.logger.Debug("取り込み済みのエントリをスキップします",
				slog.String("source_id", source.ID),
				slog.String("url", link),
			)
			if f.recorder != nil {
				f.recorder.RecordDedupSkip()
			}
			continue
		}

		items = append(items, model.RawItem{
			Title:       title,
			URL:         link,
			Content:     f.entryContent(ctx, link, entry),
			PublishedAt: f.entryTime(entry),
		})
	}

	f.logger.Info("フィードを取得しました",
		slog.String("source_id", source.ID),
		slog.String("feed_url", source.FeedURL),
		slog.Int("entries", len(parsed.Items)),
		slog.Int("items", len(items)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	f.record(len(items), false)
	return items
}

// entryContent は抽出本文 > description > content の順で最初に空でないものを返す。
func (f *FeedFetcher) entryContent(ctx context.Context, link string, entry *gofeed.Item) string {
	if content := f.extractor.Extract(ctx, link); content != "" {
		return content
	}
	if snippet := f.text.ToPlainText(entry.Description); snippet != "" {
		return snippet
	}
	return f.text.ToPlainText(entry.Content)
}

// entryTime は公開日時、更新日時、現在時刻の順にフォールバックする。
func (f *FeedFetcher) entryTime(entry *gofeed.Item) time.Time {
	if t := publishedTime(entry); !t.IsZero() {
		return t
	}
	return f.now()
}

func (f *FeedFetcher) record(items int, failed bool) {
	if f.recorder != nil {
		f.recorder.RecordFetch(string(model.StrategyFeed), items, failed)
	}
}

// newestEntries は公開日時の新しい順に最大limit件を返す。
// 日時のないエントリはフィード内の出現順を保って末尾に回す。
func newestEntries(entries []*gofeed.Item, limit int) []*gofeed.Item {
	valid := make([]*gofeed.Item, 0, len(entries))
	for _, e := range entries {
		if e != nil {
			valid = append(valid, e)
		}
	}

	sort.SliceStable(valid, func(i, j int) bool {
		ti, tj := publishedTime(valid[i]), publishedTime(valid[j])
		if ti.IsZero() || tj.IsZero() {
			return !ti.IsZero() && tj.IsZero()
		}
		return ti.After(tj)
	})

	if len(valid) > limit {
		valid = valid[:limit]
	}
	return valid
}

func publishedTime(entry *gofeed.Item) time.Time {
	if entry.PublishedParsed != nil {
		return *entry.PublishedParsed
	}
	if entry.UpdatedParsed != nil {
		return *entry.UpdatedParsed
	}
	return time.Time{}
}

// entryLink はエントリのリンクを正規化する。リンクがなくGUIDがURL形式ならGUIDを使う。
func entryLink(feedURL string, entry *gofeed.Item) string {
	if link := CanonicalURL(feedURL, entry.Link); link != "" {
		return link
	}
	guid := strings.TrimSpace(entry.GUID)
	if strings.HasPrefix(guid, "http://") || strings.HasPrefix(guid, "https://") {
		return CanonicalURL("", guid)
	}
	return ""
}

var _ Fetcher = (*FeedFetcher)(nil)
