package feed

import (
	"context"
	"log/slog"

	"github.com/hitoshi/ainews/internal/model"
)

// Fetcher はソースから記事候補を取得するインターフェース。
// 失敗はログに記録して空の結果を返し、呼び出し元には伝播させない。
type Fetcher interface {
	Fetch(ctx context.Context, source *model.Source) []model.RawItem
}

// SeenChecker は重複排除台帳の参照インターフェース。
type SeenChecker interface {
	HasSeen(ctx context.Context, url string) bool
}

// TextConverter はHTMLをプレーンテキストに変換する。
type TextConverter interface {
	ToPlainText(rawHTML string) string
}

// FetchRecorder はフェッチ結果のメトリクス記録インターフェース。
type FetchRecorder interface {
	RecordFetch(strategy string, items int, failed bool)
	RecordDedupSkip()
}

// Router はソースの取得方式に応じてFetcherを振り分ける。
type Router struct {
	feed   Fetcher
	scrape Fetcher
	logger *slog.Logger
}

// NewRouter はRouterを生成する。
func NewRouter(feedFetcher, scraper Fetcher, logger *slog.Logger) *Router {
	return &Router{feed: feedFetcher, scrape: scraper, logger: logger}
}

// Fetch はソースのStrategyに対応するFetcherに委譲する。
func (r *Router) Fetch(ctx context.Context, source *model.Source) []model.RawItem {
	switch source.Strategy {
	case model.StrategyFeed:
		return r.feed.Fetch(ctx, source)
	case model.StrategyScrape:
		return r.scrape.Fetch(ctx, source)
	default:
		r.logger.Error("未知の取得方式のためソースをスキップします",
			slog.String("source_id", source.ID),
			slog.String("strategy", string(source.Strategy)),
		)
		return nil
	}
}

var _ Fetcher = (*Router)(nil)
