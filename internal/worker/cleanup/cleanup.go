// Package cleanup は外部記事の日次クリーンアップジョブを提供する。
//
// 外部記事の行は重複排除台帳を兼ねるので削除しない。
// 保持期間を過ぎた処理済み記事と、再試行の上限に達したまま古くなった未処理記事は
// URL行を残したまま本文だけを消去する。上限に達した行は台帳上で取り込み済みとして扱われ続ける。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Recorder はクリーンアップ結果のメトリクス記録インターフェース。
type Recorder interface {
	RecordCleanup(cleared, retired int64)
}

// Job は外部記事のクリーンアップジョブ。何度実行しても結果は変わらない。
type Job struct {
	db       Executor
	recorder Recorder
	logger   *slog.Logger

	RetentionDays int // 処理済み記事の本文を保持する日数（デフォルト: 30）
	StaleDays     int // 失敗した未処理記事の本文を残す日数（デフォルト: 7）
	MaxAttempts   int // 再試行の上限回数（デフォルト: 3）
}

// NewJob は新しいJobを生成する。recorderはnilでもよい。
func NewJob(db Executor, recorder Recorder, logger *slog.Logger) *Job {
	return &Job{
		db:            db,
		recorder:      recorder,
		logger:        logger,
		RetentionDays: 30,
		StaleDays:     7,
		MaxAttempts:   3,
	}
}

// Run は処理済み記事の本文消去と、古い未処理記事の退役を順に行う。
func (j *Job) Run(ctx context.Context) error {
	start := time.Now()

	clearQuery, clearArgs, err := j.clearContentStatement()
	if err != nil {
		return fmt.Errorf("本文消去クエリの生成に失敗: %w", err)
	}
	cleared, err := j.exec(ctx, clearQuery, clearArgs)
	if err != nil {
		j.logger.Error("外部記事の本文消去に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return fmt.Errorf("外部記事の本文消去に失敗: %w", err)
	}

	retireQuery, retireArgs, err := j.retireStaleStatement()
	if err != nil {
		return fmt.Errorf("退役クエリの生成に失敗: %w", err)
	}
	retired, err := j.exec(ctx, retireQuery, retireArgs)
	if err != nil {
		j.logger.Error("古い未処理記事の退役に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("stale_days", j.StaleDays),
		)
		return fmt.Errorf("古い未処理記事の退役に失敗: %w", err)
	}

	if j.recorder != nil {
		j.recorder.RecordCleanup(cleared, retired)
	}

	j.logger.Info("クリーンアップジョブが完了しました",
		slog.Int64("cleared_count", cleared),
		slog.Int64("retired_count", retired),
		slog.Int("retention_days", j.RetentionDays),
		slog.Int("stale_days", j.StaleDays),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// clearContentStatement は保持期間を過ぎた処理済み記事の本文を空にするUPDATE文を返す。
func (j *Job) clearContentStatement() (string, []interface{}, error) {
	return sq.Update("external_items").
		Set("content", "").
		Set("updated_at", sq.Expr("now()")).
		Where(sq.Eq{"processed": true}).
		Where(sq.NotEq{"content": ""}).
		Where(sq.Expr("created_at < now() - ?::interval", days(j.RetentionDays))).
		PlaceholderFormat(sq.Dollar).
		ToSql()
}

// retireStaleStatement は再試行上限に達した古い未処理記事の本文を空にするUPDATE文を返す。
// attemptsは変えないので、行が残る限りLedgerは取り込み済みとして扱う。
func (j *Job) retireStaleStatement() (string, []interface{}, error) {
	return sq.Update("external_items").
		Set("content", "").
		Set("updated_at", sq.Expr("now()")).
		Where(sq.Eq{"processed": false}).
		Where(sq.NotEq{"content": ""}).
		Where(sq.GtOrEq{"attempts": j.MaxAttempts}).
		Where(sq.Expr("created_at < now() - ?::interval", days(j.StaleDays))).
		PlaceholderFormat(sq.Dollar).
		ToSql()
}

func (j *Job) exec(ctx context.Context, query string, args []interface{}) (int64, error) {
	result, err := j.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("影響件数の取得に失敗: %w", err)
	}
	return n, nil
}

func days(n int) string {
	return fmt.Sprintf("%d days", n)
}
