package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/hitoshi/ainews/internal/model"
)

// PostgresExternalItemRepo はPostgreSQLを使用した外部記事リポジトリ。
type PostgresExternalItemRepo struct {
	db *sql.DB
}

// NewPostgresExternalItemRepo はPostgresExternalItemRepoを生成する。
func NewPostgresExternalItemRepo(db *sql.DB) *PostgresExternalItemRepo {
	return &PostgresExternalItemRepo{db: db}
}

const externalItemColumns = `id, source_id, title, content, url, published_at, processed,
	attempts, last_error, created_at, updated_at`

// FindByURL はURLで外部記事を検索する。見つからない場合はnilを返す。
func (r *PostgresExternalItemRepo) FindByURL(ctx context.Context, url string) (*model.ExternalItem, error) {
	item, err := scanExternalItem(r.db.QueryRowContext(ctx,
		`SELECT `+externalItemColumns+` FROM external_items WHERE url = $1`, url,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("外部記事の検索に失敗しました: %w", err)
	}
	return item, nil
}

// Create は外部記事を作成する。
// URLの一意制約に衝突した場合は何もせず、既存レコードを返す。
func (r *PostgresExternalItemRepo) Create(ctx context.Context, item *model.ExternalItem) (*model.ExternalItem, error) {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO external_items (id, source_id, title, content, url, published_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (url) DO NOTHING`,
		item.ID, item.SourceID, item.Title, item.Content, item.URL, item.PublishedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("外部記事の作成に失敗しました: %w", err)
	}

	stored, err := r.FindByURL(ctx, item.URL)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, fmt.Errorf("作成した外部記事が見つかりません: %s", item.URL)
	}
	return stored, nil
}

// RecordFailure は公開処理の失敗回数と理由を記録する。
func (r *PostgresExternalItemRepo) RecordFailure(ctx context.Context, id string, reason string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE external_items
		 SET attempts = attempts + 1, last_error = $2, updated_at = now()
		 WHERE id = $1`,
		id, nullString(reason),
	)
	if err != nil {
		return fmt.Errorf("外部記事の失敗記録に失敗しました: %w", err)
	}
	return nil
}

// CountPending は未処理の外部記事数を返す。
func (r *PostgresExternalItemRepo) CountPending(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM external_items WHERE processed = false`,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("未処理外部記事数の取得に失敗しました: %w", err)
	}
	return count, nil
}

func scanExternalItem(row rowScanner) (*model.ExternalItem, error) {
	item := &model.ExternalItem{}
	var lastError sql.NullString

	err := row.Scan(
		&item.ID, &item.SourceID, &item.Title, &item.Content, &item.URL, &item.PublishedAt,
		&item.Processed, &item.Attempts, &lastError, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	item.LastError = nullStringValue(lastError)
	return item, nil
}

var _ ExternalItemRepository = (*PostgresExternalItemRepo)(nil)
