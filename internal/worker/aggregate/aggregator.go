// Package aggregate はニュース集約ランとそのスケジューリングを提供する。
//
// 1回のランはアクティブなソースを名前順に1件ずつ処理する。
// ソースごとに記事候補を取得し、台帳で取り込み済みのものを除外してから、
// 加工と公開を1件ずつ順に行う。失敗は記事候補またはソースの単位で閉じ込め、
// ラン全体は中断しない。
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/ainews/internal/enrich"
	"github.com/hitoshi/ainews/internal/feed"
	"github.com/hitoshi/ainews/internal/model"
	"github.com/hitoshi/ainews/internal/repository"
	"github.com/hitoshi/ainews/internal/runlock"
)

// SourceRegistry はアクティブなソースの一覧と処理完了の記録を提供する。
type SourceRegistry interface {
	ListActive(ctx context.Context) ([]*model.Source, error)
	RecordFetchCompleted(ctx context.Context, sourceID string, at time.Time) error
}

// ItemEnricher は記事候補を加工する。
type ItemEnricher interface {
	Enrich(ctx context.Context, refs *enrich.References, raw model.RawItem) (*model.Enrichment, error)
}

// ItemCommitter は加工済みの記事候補を公開する。
type ItemCommitter interface {
	Commit(ctx context.Context, raw model.RawItem, source *model.Source, enr *model.Enrichment) (*model.Article, error)
}

// PendingCounter は未処理の外部記事数を返す。
type PendingCounter interface {
	CountPending(ctx context.Context) (int, error)
}

// Recorder は集約ランのメトリクス記録インターフェース。
type Recorder interface {
	RecordRun(trigger, status string, duration time.Duration)
	RecordRunSkipped(trigger string)
	RecordDedupSkip()
	RecordPublished()
	RecordItemFailure(stage string)
	SetPendingItems(n int)
}

// Deps はAggregatorの依存関係。Pending と Recorder は省略できる。
type Deps struct {
	Sources    SourceRegistry
	References enrich.ReferenceLister
	Fetcher    feed.Fetcher
	Ledger     feed.SeenChecker
	Enricher   ItemEnricher
	Committer  ItemCommitter
	Lock       runlock.Locker
	Pending    PendingCounter
	Recorder   Recorder
	Logger     *slog.Logger
}

// Aggregator は集約パイプラインの実行単位。
// パイプラインの状態は持たず、直近のランの結果だけを保持する。
type Aggregator struct {
	deps Deps
	now  func() time.Time

	mu   sync.RWMutex
	last *model.RunReport
}

// NewAggregator はAggregatorを生成する。LockがnilのときはプロセスローカルのLockを使う。
func NewAggregator(deps Deps) *Aggregator {
	if deps.Lock == nil {
		deps.Lock = runlock.NewLocal()
	}
	if deps.Recorder == nil {
		deps.Recorder = nopRecorder{}
	}
	return &Aggregator{deps: deps, now: time.Now}
}

// Run は集約ランを1回実行し、結果を返す。
// 別のランがロックを保持している場合は何もせずrunlock.ErrLockedを返す。
// 参照データやソース一覧が読めない場合はランを中断し、エラーを含むレポートを返す。
func (a *Aggregator) Run(ctx context.Context, trigger model.RunTrigger) (*model.RunReport, error) {
	logger := a.deps.Logger.With(slog.String("trigger", string(trigger)))

	release, err := a.deps.Lock.TryAcquire(ctx)
	if err != nil {
		if errors.Is(err, runlock.ErrLocked) {
			logger.Info("別の集約ランが実行中のためスキップします")
			a.deps.Recorder.RecordRunSkipped(string(trigger))
			return nil, err
		}
		return nil, fmt.Errorf("ランロックの取得に失敗: %w", err)
	}
	defer release()

	report := &model.RunReport{Trigger: trigger, StartedAt: a.now()}
	logger.Info("集約ランを開始します")

	runErr := a.run(ctx, logger, report)
	a.finish(ctx, logger, report, runErr)
	return report, runErr
}

func (a *Aggregator) run(ctx context.Context, logger *slog.Logger, report *model.RunReport) error {
	refs, err := enrich.LoadReferences(ctx, a.deps.References)
	if err != nil {
		return err
	}

	sources, err := a.deps.Sources.ListActive(ctx)
	if err != nil {
		return err
	}

	for _, source := range sources {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("集約ランが中断されました: %w", err)
		}
		a.processSource(ctx, logger, refs, source, report)
		report.Sources++
	}
	return nil
}

// processSource は1件のソースを処理する。失敗はログとレポートに記録するだけで返さない。
func (a *Aggregator) processSource(ctx context.Context, logger *slog.Logger, refs *enrich.References, source *model.Source, report *model.RunReport) {
	logger = logger.With(
		slog.String("source_id", source.ID),
		slog.String("source", source.Name),
	)

	items := a.deps.Fetcher.Fetch(ctx, source)
	report.Fetched += len(items)
	logger.Info("記事候補を取得しました", slog.Int("items", len(items)))

	for _, raw := range items {
		if ctx.Err() != nil {
			break
		}
		a.processItem(ctx, logger, refs, source, raw, report)
	}

	if err := a.deps.Sources.RecordFetchCompleted(ctx, source.ID, a.now()); err != nil {
		logger.Error("ソースの処理完了時刻を記録できませんでした",
			slog.String("error", err.Error()),
		)
	}
}

// processItem は1件の記事候補を台帳で確認し、加工して公開する。
func (a *Aggregator) processItem(ctx context.Context, logger *slog.Logger, refs *enrich.References, source *model.Source, raw model.RawItem, report *model.RunReport) {
	logger = logger.With(slog.String("url", raw.URL))

	if a.deps.Ledger.HasSeen(ctx, raw.URL) {
		report.Skipped++
		a.deps.Recorder.RecordDedupSkip()
		logger.Debug("取り込み済みの記事候補をスキップします")
		return
	}

	enr, err := a.deps.Enricher.Enrich(ctx, refs, raw)
	if err != nil {
		if errors.Is(err, enrich.ErrMissingReference) {
			report.Skipped++
			logger.Error("参照データが不足しているため記事候補をスキップします",
				slog.String("error", err.Error()),
			)
			return
		}
		report.Failed++
		a.deps.Recorder.RecordItemFailure("enrich")
		logger.Error("記事候補の加工に失敗しました", slog.String("error", err.Error()))
		return
	}
	if len(enr.Degraded) > 0 {
		report.Degraded++
	}

	article, err := a.deps.Committer.Commit(ctx, raw, source, enr)
	if err != nil {
		if errors.Is(err, repository.ErrAlreadyPublished) {
			report.Skipped++
			a.deps.Recorder.RecordDedupSkip()
			logger.Info("公開済みの記事候補のため公開をスキップしました")
			return
		}
		report.Failed++
		a.deps.Recorder.RecordItemFailure("commit")
		logger.Error("記事の公開に失敗しました", slog.String("error", err.Error()))
		return
	}

	report.Published++
	a.deps.Recorder.RecordPublished()
	logger.Info("記事を公開しました",
		slog.String("article_id", article.ID),
		slog.String("slug", article.Slug),
	)
}

// finish はレポートを確定し、メトリクスと直近のレポートを更新する。
func (a *Aggregator) finish(ctx context.Context, logger *slog.Logger, report *model.RunReport, runErr error) {
	report.FinishedAt = a.now()
	report.Duration = report.FinishedAt.Sub(report.StartedAt)

	status := "ok"
	if runErr != nil {
		status = "error"
		report.Error = runErr.Error()
	}
	a.deps.Recorder.RecordRun(string(report.Trigger), status, report.Duration)

	if a.deps.Pending != nil {
		if n, err := a.deps.Pending.CountPending(context.WithoutCancel(ctx)); err == nil {
			a.deps.Recorder.SetPendingItems(n)
		}
	}

	a.mu.Lock()
	copied := *report
	a.last = &copied
	a.mu.Unlock()

	attrs := []any{
		slog.Int("sources", report.Sources),
		slog.Int("fetched", report.Fetched),
		slog.Int("published", report.Published),
		slog.Int("skipped", report.Skipped),
		slog.Int("failed", report.Failed),
		slog.Int("degraded", report.Degraded),
		slog.Duration("elapsed", report.Duration),
	}
	if runErr != nil {
		logger.Error("集約ランが中断されました", append(attrs, slog.String("error", runErr.Error()))...)
		return
	}
	logger.Info("集約ランが完了しました", attrs...)
}

// LastReport は直近に完了したランの結果を返す。まだランがなければfalseを返す。
func (a *Aggregator) LastReport() (*model.RunReport, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.last == nil {
		return nil, false
	}
	copied := *a.last
	return &copied, true
}

type nopRecorder struct{}

func (nopRecorder) RecordRun(string, string, time.Duration) {}
func (nopRecorder) RecordRunSkipped(string)                 {}
func (nopRecorder) RecordDedupSkip()                        {}
func (nopRecorder) RecordPublished()                        {}
func (nopRecorder) RecordItemFailure(string)                {}
func (nopRecorder) SetPendingItems(int)                     {}
