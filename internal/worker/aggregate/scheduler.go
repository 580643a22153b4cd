package aggregate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hitoshi/ainews/internal/model"
	"github.com/hitoshi/ainews/internal/runlock"
)

// Runner は集約ランを実行する。
type Runner interface {
	Run(ctx context.Context, trigger model.RunTrigger) (*model.RunReport, error)
}

// CleanupRunner はクリーンアップジョブを実行する。
type CleanupRunner interface {
	Run(ctx context.Context) error
}

// ScheduleOptions はスケジュール設定。
type ScheduleOptions struct {
	AggregateSpec string // 例: "0 */4 * * *"
	CleanupSpec   string // 例: "0 2 * * *"
	Location      *time.Location
}

// Scheduler は集約とクリーンアップを定期実行し、手動実行の入口を提供する。
// パイプラインの状態は持たない。多重実行はRunner側のランロックで防ぐ。
type Scheduler struct {
	cron    *cron.Cron
	runner  Runner
	cleanup CleanupRunner
	logger  *slog.Logger

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler はSchedulerを生成する。cronの式が不正な場合はエラーを返す。
// cleanupがnilの場合はクリーンアップジョブを登録しない。
func NewScheduler(runner Runner, cleanup CleanupRunner, opts ScheduleOptions, logger *slog.Logger) (*Scheduler, error) {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}

	cl := cronLogger{logger: logger}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	base, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron:    c,
		runner:  runner,
		cleanup: cleanup,
		logger:  logger,
		base:    base,
		cancel:  cancel,
	}

	if _, err := c.AddFunc(opts.AggregateSpec, func() { s.runAggregate(model.TriggerSchedule) }); err != nil {
		cancel()
		return nil, fmt.Errorf("集約スケジュールが不正です %q: %w", opts.AggregateSpec, err)
	}
	if cleanup != nil {
		if _, err := c.AddFunc(opts.CleanupSpec, s.runCleanup); err != nil {
			cancel()
			return nil, fmt.Errorf("クリーンアップスケジュールが不正です %q: %w", opts.CleanupSpec, err)
		}
	}

	s.logger.Info("スケジュールを登録しました",
		slog.String("aggregate", opts.AggregateSpec),
		slog.String("cleanup", opts.CleanupSpec),
		slog.String("timezone", loc.String()),
	)
	return s, nil
}

// Start はスケジューラを起動する。
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("スケジューラを開始しました")
}

// TriggerAsync は集約ランを非同期に起動し、すぐに戻る。
func (s *Scheduler) TriggerAsync(trigger model.RunTrigger) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runAggregate(trigger)
	}()
}

// Stop は新しいジョブの起動を止め、実行中のジョブの完了を待つ。
// ctxが先に終了した場合は実行中のジョブをキャンセルしてctx.Err()を返す。
func (s *Scheduler) Stop(ctx context.Context) error {
	cronDone := s.cron.Stop()

	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		s.logger.Info("スケジューラを停止しました")
		return nil
	case <-ctx.Done():
		s.cancel()
		s.logger.Warn("実行中のジョブを待たずにスケジューラを停止しました")
		return ctx.Err()
	}
}

func (s *Scheduler) runAggregate(trigger model.RunTrigger) {
	if _, err := s.runner.Run(s.base, trigger); err != nil {
		if errors.Is(err, runlock.ErrLocked) {
			return
		}
		s.logger.Error("集約ランが失敗しました",
			slog.String("trigger", string(trigger)),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Scheduler) runCleanup() {
	if err := s.cleanup.Run(s.base); err != nil {
		s.logger.Error("クリーンアップジョブが失敗しました", slog.String("error", err.Error()))
	}
}

// cronLogger はcron.Loggerをslogに橋渡しする。
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keysAndValues, slog.String("error", err.Error()))...)
}

var _ cron.Logger = cronLogger{}
