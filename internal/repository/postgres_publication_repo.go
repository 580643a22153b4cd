package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/hitoshi/ainews/internal/model"
	"github.com/hitoshi/ainews/internal/slug"
)

// maxSlugCandidates はスラッグ衝突時に試す候補数の上限。
const maxSlugCandidates = 100

// PostgresPublicationRepo は記事公開を1トランザクションで行うリポジトリ。
type PostgresPublicationRepo struct {
	db TxBeginner
}

// NewPostgresPublicationRepo はPostgresPublicationRepoを生成する。
func NewPostgresPublicationRepo(db TxBeginner) *PostgresPublicationRepo {
	return &PostgresPublicationRepo{db: db}
}

// Publish は記事・要約レコードの作成と外部記事の処理済み化を同一トランザクションで行う。
// 外部記事の行をFOR UPDATEでロックするため、重複ランが同じ記事を同時に公開することはない。
func (r *PostgresPublicationRepo) Publish(ctx context.Context, article *model.Article, summary *model.SummaryRecord, externalItemID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// 1. 外部記事をロックし、処理済みかどうかを確認
	var processed bool
	err = tx.QueryRowContext(ctx,
		`SELECT processed FROM external_items WHERE id = $1 FOR UPDATE`,
		externalItemID,
	).Scan(&processed)
	if err == sql.ErrNoRows {
		return fmt.Errorf("外部記事が見つかりません: %s", externalItemID)
	}
	if err != nil {
		return fmt.Errorf("外部記事のロックに失敗しました: %w", err)
	}
	if processed {
		return ErrAlreadyPublished
	}

	// 2. 同じsource_urlの記事が既に存在する場合は処理済みにして終了
	if article.SourceURL != "" {
		var exists bool
		err = tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM articles WHERE source_url = $1)`,
			article.SourceURL,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("既存記事の確認に失敗しました: %w", err)
		}
		if exists {
			if err := markProcessed(ctx, tx, externalItemID); err != nil {
				return err
			}
			if err := tx.Commit(); err != nil {
				return fmt.Errorf("failed to commit transaction: %w", err)
			}
			return ErrAlreadyPublished
		}
	}

	// 3. スラッグの衝突を解決
	resolved, err := resolveSlug(ctx, tx, article.Slug)
	if err != nil {
		return err
	}
	article.Slug = resolved

	// 4. 記事を作成
	if article.ID == "" {
		article.ID = uuid.NewString()
	}
	tags := article.Tags
	if tags == nil {
		tags = []string{}
	}
	err = tx.QueryRowContext(ctx,
		`INSERT INTO articles (id, title, slug, summary, content, author_id, category_id, tags,
		                       published_at, read_time, is_ai_generated, source_url, view_count)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 0)
		 RETURNING created_at, updated_at`,
		article.ID, article.Title, article.Slug, article.Summary, article.Content,
		article.AuthorID, article.CategoryID, pq.Array(tags),
		article.PublishedAt, article.ReadTime, article.IsAIGenerated, nullString(article.SourceURL),
	).Scan(&article.CreatedAt, &article.UpdatedAt)
	if err != nil {
		return fmt.Errorf("記事の作成に失敗しました: %w", err)
	}

	// 5. 要約レコードを作成
	if summary.ID == "" {
		summary.ID = uuid.NewString()
	}
	summary.ArticleID = article.ID
	keyPoints := summary.KeyPoints
	if keyPoints == nil {
		keyPoints = []string{}
	}
	err = tx.QueryRowContext(ctx,
		`INSERT INTO summary_records (id, article_id, source_id, summary, key_points, ai_model)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING created_at`,
		summary.ID, summary.ArticleID, summary.SourceID, summary.Summary, pq.Array(keyPoints), summary.AIModel,
	).Scan(&summary.CreatedAt)
	if err != nil {
		return fmt.Errorf("要約レコードの作成に失敗しました: %w", err)
	}

	// 6. 外部記事を処理済みにする
	if err := markProcessed(ctx, tx, externalItemID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// resolveSlug はbaseから順に候補を試し、未使用の最初のスラッグを返す。
func resolveSlug(ctx context.Context, tx *sql.Tx, base string) (string, error) {
	if base == "" {
		base = slug.Fallback
	}
	for n := 1; n <= maxSlugCandidates; n++ {
		candidate := slug.Candidate(base, n)
		var exists bool
		err := tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM articles WHERE slug = $1)`,
			candidate,
		).Scan(&exists)
		if err != nil {
			return "", fmt.Errorf("スラッグの重複確認に失敗しました: %w", err)
		}
		if !exists {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("スラッグの候補が尽きました: %s", base)
}

func markProcessed(ctx context.Context, tx *sql.Tx, externalItemID string) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE external_items SET processed = true, last_error = NULL, updated_at = now() WHERE id = $1`,
		externalItemID,
	)
	if err != nil {
		return fmt.Errorf("外部記事の処理済み化に失敗しました: %w", err)
	}
	return nil
}

var _ PublicationRepository = (*PostgresPublicationRepo)(nil)
