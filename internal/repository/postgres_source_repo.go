package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/ainews/internal/model"
)

// PostgresSourceRepo はPostgreSQLを使用したソースリポジトリ。
type PostgresSourceRepo struct {
	db *sql.DB
}

// NewPostgresSourceRepo はPostgresSourceRepoを生成する。
func NewPostgresSourceRepo(db *sql.DB) *PostgresSourceRepo {
	return &PostgresSourceRepo{db: db}
}

const sourceColumns = `id, name, homepage_url, feed_url, logo_url, strategy, active,
	last_fetched_at, created_at, updated_at`

// ListActive はactive=trueのソースを名前順で返す。
func (r *PostgresSourceRepo) ListActive(ctx context.Context) ([]*model.Source, error) {
	return r.list(ctx, `SELECT `+sourceColumns+` FROM sources WHERE active = true ORDER BY name, id`)
}

// ListAll は全ソースを名前順で返す。
func (r *PostgresSourceRepo) ListAll(ctx context.Context) ([]*model.Source, error) {
	return r.list(ctx, `SELECT `+sourceColumns+` FROM sources ORDER BY name, id`)
}

func (r *PostgresSourceRepo) list(ctx context.Context, query string) ([]*model.Source, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ソース一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var sources []*model.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("ソースのスキャンに失敗しました: %w", err)
		}
		sources = append(sources, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ソース一覧の読み込みに失敗しました: %w", err)
	}
	return sources, nil
}

// FindByID は指定IDのソースを取得する。見つからない場合はnilを返す。
func (r *PostgresSourceRepo) FindByID(ctx context.Context, id string) (*model.Source, error) {
	src, err := scanSource(r.db.QueryRowContext(ctx,
		`SELECT `+sourceColumns+` FROM sources WHERE id = $1`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ソースの取得に失敗しました: %w", err)
	}
	return src, nil
}

// UpsertByHomepage はホームページURLを自然キーとしてソースを作成または更新する。
func (r *PostgresSourceRepo) UpsertByHomepage(ctx context.Context, source *model.Source) error {
	if !source.Strategy.Valid() {
		return fmt.Errorf("不明な取得方式です: %q", source.Strategy)
	}
	if source.Strategy == model.StrategyFeed && source.FeedURL == "" {
		return fmt.Errorf("フィード方式のソースにはfeed_urlが必要です: %s", source.HomepageURL)
	}
	if source.ID == "" {
		source.ID = uuid.NewString()
	}

	err := r.db.QueryRowContext(ctx,
		`INSERT INTO sources (id, name, homepage_url, feed_url, logo_url, strategy, active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (homepage_url) DO UPDATE SET
		    name = EXCLUDED.name,
		    feed_url = EXCLUDED.feed_url,
		    logo_url = EXCLUDED.logo_url,
		    strategy = EXCLUDED.strategy,
		    active = EXCLUDED.active,
		    updated_at = now()
		 RETURNING id, created_at, updated_at`,
		source.ID, source.Name, source.HomepageURL, nullString(source.FeedURL),
		nullString(source.LogoURL), string(source.Strategy), source.Active,
	).Scan(&source.ID, &source.CreatedAt, &source.UpdatedAt)
	if err != nil {
		return fmt.Errorf("ソースの保存に失敗しました: %w", err)
	}
	return nil
}

// UpdateLastFetched はソースの最終フェッチ日時を更新する。
func (r *PostgresSourceRepo) UpdateLastFetched(ctx context.Context, id string, fetchedAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sources SET last_fetched_at = $2, updated_at = now() WHERE id = $1`,
		id, fetchedAt,
	)
	if err != nil {
		return fmt.Errorf("最終フェッチ日時の更新に失敗しました: %w", err)
	}
	return nil
}

func scanSource(row rowScanner) (*model.Source, error) {
	src := &model.Source{}
	var feedURL, logoURL sql.NullString
	var strategy string
	var lastFetched sql.NullTime

	err := row.Scan(
		&src.ID, &src.Name, &src.HomepageURL, &feedURL, &logoURL, &strategy, &src.Active,
		&lastFetched, &src.CreatedAt, &src.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	src.FeedURL = nullStringValue(feedURL)
	src.LogoURL = nullStringValue(logoURL)
	src.Strategy = model.SourceStrategy(strategy)
	if lastFetched.Valid {
		t := lastFetched.Time
		src.LastFetchedAt = &t
	}
	return src, nil
}

var _ SourceRepository = (*PostgresSourceRepo)(nil)
