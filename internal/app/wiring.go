package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/ainews/internal/config"
	"github.com/hitoshi/ainews/internal/enrich"
	"github.com/hitoshi/ainews/internal/feed"
	"github.com/hitoshi/ainews/internal/item"
	"github.com/hitoshi/ainews/internal/llm"
	"github.com/hitoshi/ainews/internal/metrics"
	"github.com/hitoshi/ainews/internal/repository"
	"github.com/hitoshi/ainews/internal/runlock"
	"github.com/hitoshi/ainews/internal/security"
	"github.com/hitoshi/ainews/internal/source"
	"github.com/hitoshi/ainews/internal/worker/aggregate"
	"github.com/hitoshi/ainews/internal/worker/cleanup"
)

// components はコマンド間で共有する組み立て済みの依存関係。
type components struct {
	registry   *source.Registry
	seeder     *source.Seeder
	aggregator *aggregate.Aggregator
	cleanup    *cleanup.Job
	collector  *metrics.Collector
	redis      *redis.Client
}

// Close は保持している外部接続を閉じる。
func (c *components) Close() {
	if c.redis != nil {
		c.redis.Close()
	}
}

// buildComponents はリポジトリからパイプラインまでを組み立てる。
// REDIS_URLが設定されている場合はRedisのランロックを使い、接続できなければエラーを返す。
func buildComponents(ctx context.Context, cfg *config.Config, db *sql.DB, reg prometheus.Registerer, logger *slog.Logger) (*components, error) {
	c := &components{}

	// 1. リポジトリ
	sourceRepo := repository.NewPostgresSourceRepo(db)
	itemRepo := repository.NewPostgresExternalItemRepo(db)
	refRepo := repository.NewPostgresReferenceRepo(db)
	pubRepo := repository.NewPostgresPublicationRepo(db)

	// 2. 横断的なサービス
	c.collector = metrics.NewCollector(reg)
	ssrfGuard := security.NewSSRFGuard(cfg.UserAgent)
	sanitizer := security.NewContentSanitizer()
	httpOpts := feed.HTTPOptions{
		Timeout:     cfg.FetchTimeout,
		MaxBodySize: cfg.FetchMaxSize,
	}

	// 3. ソース
	c.registry = source.NewRegistry(sourceRepo)
	c.seeder = source.NewSeeder(sourceRepo, refRepo, feed.NewDetector(ssrfGuard, httpOpts), logger)

	// 4. 取得
	ledger := item.NewLedger(itemRepo, cfg.MaxItemAttempts, logger)
	extractor := feed.NewContentExtractor(ssrfGuard, httpOpts, logger)
	feedFetcher := feed.NewFeedFetcher(ssrfGuard, httpOpts, ledger, extractor, sanitizer, c.collector, cfg.FeedItemLimit, logger)
	scraper := feed.NewPageScraper(ssrfGuard, httpOpts, c.collector, cfg.ScrapeItemLimit, logger)
	fetcher := feed.NewRouter(feedFetcher, scraper, logger)

	// 5. 加工と公開
	completer, err := llm.New(llm.Options{
		Provider:          cfg.LLMProvider,
		APIKey:            cfg.APIKey(),
		Model:             cfg.LLMModel,
		BaseURL:           cfg.LLMBaseURL,
		MaxRetries:        2,
		RequestsPerMinute: cfg.LLMRequestsPerMinute,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create llm client: %w", err)
	}
	enricher := enrich.NewEnricher(completer, c.collector, logger)
	committer := item.NewCommitter(itemRepo, pubRepo, sanitizer, logger)

	// 6. ランロック
	var lock runlock.Locker = runlock.NewLocal()
	if cfg.RedisURL != "" {
		client, err := runlock.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		c.redis = client
		lock = runlock.NewRedisLock(client, runlock.DefaultKey, cfg.RunLockTTL, logger)
		logger.Info("using redis run lock", slog.Duration("ttl", cfg.RunLockTTL))
	}

	c.aggregator = aggregate.NewAggregator(aggregate.Deps{
		Sources:    c.registry,
		References: refRepo,
		Fetcher:    fetcher,
		Ledger:     ledger,
		Enricher:   enricher,
		Committer:  committer,
		Lock:       lock,
		Pending:    itemRepo,
		Recorder:   c.collector,
		Logger:     logger,
	})

	// 7. クリーンアップ
	c.cleanup = cleanup.NewJob(db, c.collector, logger)
	c.cleanup.RetentionDays = cfg.CleanupRetentionDays
	c.cleanup.StaleDays = cfg.StaleItemDays
	c.cleanup.MaxAttempts = cfg.MaxItemAttempts

	return c, nil
}

// newScheduler はcronスケジューラを設定のタイムゾーンで生成する。
func newScheduler(cfg *config.Config, c *components, logger *slog.Logger) (*aggregate.Scheduler, error) {
	loc, err := time.LoadLocation(cfg.ScheduleTimezone)
	if err != nil {
		return nil, fmt.Errorf("invalid SCHEDULE_TIMEZONE %q: %w", cfg.ScheduleTimezone, err)
	}
	return aggregate.NewScheduler(c.aggregator, c.cleanup, aggregate.ScheduleOptions{
		AggregateSpec: cfg.AggregateSchedule,
		CleanupSpec:   cfg.CleanupSchedule,
		Location:      loc,
	}, logger)
}

// seedSyncFunc はWatcherから呼ばれる同期関数を返す。
func seedSyncFunc(seeder *source.Seeder) source.SyncFunc {
	return func(ctx context.Context, seed *source.Seed) error {
		_, err := seeder.Sync(ctx, seed)
		return err
	}
}
