package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/hitoshi/ainews/internal/model"
)

// PostgresReferenceRepo はPostgreSQLを使用した著者・カテゴリリポジトリ。
type PostgresReferenceRepo struct {
	db *sql.DB
}

// NewPostgresReferenceRepo はPostgresReferenceRepoを生成する。
func NewPostgresReferenceRepo(db *sql.DB) *PostgresReferenceRepo {
	return &PostgresReferenceRepo{db: db}
}

// ListAuthors は著者を作成順で返す。
func (r *PostgresReferenceRepo) ListAuthors(ctx context.Context) ([]*model.Author, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, bio, avatar, specialties, created_at
		 FROM authors ORDER BY created_at, name`,
	)
	if err != nil {
		return nil, fmt.Errorf("著者一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var authors []*model.Author
	for rows.Next() {
		a := &model.Author{}
		if err := rows.Scan(&a.ID, &a.Name, &a.Bio, &a.Avatar, pq.Array(&a.Specialties), &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("著者のスキャンに失敗しました: %w", err)
		}
		authors = append(authors, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("著者一覧の読み込みに失敗しました: %w", err)
	}
	return authors, nil
}

// ListCategories はカテゴリを作成順で返す。
func (r *PostgresReferenceRepo) ListCategories(ctx context.Context) ([]*model.Category, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, slug, name, description, color, created_at
		 FROM categories ORDER BY created_at, slug`,
	)
	if err != nil {
		return nil, fmt.Errorf("カテゴリ一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var categories []*model.Category
	for rows.Next() {
		c := &model.Category{}
		var slug string
		if err := rows.Scan(&c.ID, &slug, &c.Name, &c.Description, &c.Color, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("カテゴリのスキャンに失敗しました: %w", err)
		}
		c.Slug = model.CategorySlug(slug)
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("カテゴリ一覧の読み込みに失敗しました: %w", err)
	}
	return categories, nil
}

// UpsertAuthor は名前を自然キーとして著者を作成または更新する。
func (r *PostgresReferenceRepo) UpsertAuthor(ctx context.Context, author *model.Author) error {
	if author.ID == "" {
		author.ID = uuid.NewString()
	}
	specialties := author.Specialties
	if specialties == nil {
		specialties = []string{}
	}

	err := r.db.QueryRowContext(ctx,
		`INSERT INTO authors (id, name, bio, avatar, specialties)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (name) DO UPDATE SET
		    bio = EXCLUDED.bio,
		    avatar = EXCLUDED.avatar,
		    specialties = EXCLUDED.specialties
		 RETURNING id, created_at`,
		author.ID, author.Name, author.Bio, author.Avatar, pq.Array(specialties),
	).Scan(&author.ID, &author.CreatedAt)
	if err != nil {
		return fmt.Errorf("著者の保存に失敗しました: %w", err)
	}
	return nil
}

// UpsertCategory はスラッグを自然キーとしてカテゴリを作成または更新する。
func (r *PostgresReferenceRepo) UpsertCategory(ctx context.Context, category *model.Category) error {
	if category.ID == "" {
		category.ID = uuid.NewString()
	}

	err := r.db.QueryRowContext(ctx,
		`INSERT INTO categories (id, slug, name, description, color)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (slug) DO UPDATE SET
		    name = EXCLUDED.name,
		    description = EXCLUDED.description,
		    color = EXCLUDED.color
		 RETURNING id, created_at`,
		category.ID, string(category.Slug), category.Name, category.Description, category.Color,
	).Scan(&category.ID, &category.CreatedAt)
	if err != nil {
		return fmt.Errorf("カテゴリの保存に失敗しました: %w", err)
	}
	return nil
}

var _ ReferenceRepository = (*PostgresReferenceRepo)(nil)
