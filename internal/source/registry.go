// Package source は外部ソースの登録情報を管理する。
//
// Registryは集約ランから見た読み取り専用のビューを提供し、
// Seederはシードファイルの内容をデータベースへ同期する。
package source

import (
	"context"
	"fmt"
	"time"

	"github.com/hitoshi/ainews/internal/model"
	"github.com/hitoshi/ainews/internal/repository"
)

// Registry はアクティブなソースの一覧と最終フェッチ日時の記録を提供する。
type Registry struct {
	repo repository.SourceRepository
}

// NewRegistry はRegistryを生成する。
func NewRegistry(repo repository.SourceRepository) *Registry {
	return &Registry{repo: repo}
}

// ListActive はアクティブなソースを名前順で返す。
func (r *Registry) ListActive(ctx context.Context) ([]*model.Source, error) {
	sources, err := r.repo.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("アクティブなソースの取得に失敗: %w", err)
	}
	return sources, nil
}

// ListAll は全ソースを名前順で返す。管理APIで使用する。
func (r *Registry) ListAll(ctx context.Context) ([]*model.Source, error) {
	sources, err := r.repo.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("ソース一覧の取得に失敗: %w", err)
	}
	return sources, nil
}

// RecordFetchCompleted はソースの処理完了時刻を記録する。
func (r *Registry) RecordFetchCompleted(ctx context.Context, sourceID string, at time.Time) error {
	if err := r.repo.UpdateLastFetched(ctx, sourceID, at); err != nil {
		return fmt.Errorf("ソースの処理完了時刻の記録に失敗: %w", err)
	}
	return nil
}
