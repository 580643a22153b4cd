// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/hitoshi/ainews/internal/model"
)

// ErrAlreadyPublished は外部記事がすでに公開済みであることを表す。
// 重複した集約ランが同じURLを処理した場合に返る。
var ErrAlreadyPublished = errors.New("external item already published")

// SourceRepository は外部ソースの永続化インターフェース。
type SourceRepository interface {
	// ListActive はactive=trueのソースを名前順で返す。
	ListActive(ctx context.Context) ([]*model.Source, error)

	// ListAll は全ソースを名前順で返す。
	ListAll(ctx context.Context) ([]*model.Source, error)

	// FindByID は指定IDのソースを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Source, error)

	// UpsertByHomepage はホームページURLを自然キーとしてソースを作成または更新する。
	// last_fetched_atは変更しない。source.IDには保存後のIDが設定される。
	UpsertByHomepage(ctx context.Context, source *model.Source) error

	// UpdateLastFetched はソースの最終フェッチ日時を更新する。
	UpdateLastFetched(ctx context.Context, id string, fetchedAt time.Time) error
}

// ExternalItemRepository は取り込み済み外部記事の永続化インターフェース。
type ExternalItemRepository interface {
	// FindByURL はURLで外部記事を検索する。見つからない場合はnilを返す。
	FindByURL(ctx context.Context, url string) (*model.ExternalItem, error)

	// Create は外部記事を作成する。同一URLが既に存在する場合は既存レコードを返す。
	Create(ctx context.Context, item *model.ExternalItem) (*model.ExternalItem, error)

	// RecordFailure は公開処理の失敗回数と理由を記録する。
	RecordFailure(ctx context.Context, id string, reason string) error

	// CountPending は未処理の外部記事数を返す。
	CountPending(ctx context.Context) (int, error)
}

// ReferenceRepository は著者とカテゴリ（シードデータ）の永続化インターフェース。
type ReferenceRepository interface {
	// ListAuthors は著者を作成順で返す。
	ListAuthors(ctx context.Context) ([]*model.Author, error)

	// ListCategories はカテゴリを作成順で返す。
	ListCategories(ctx context.Context) ([]*model.Category, error)

	// UpsertAuthor は名前を自然キーとして著者を作成または更新する。
	UpsertAuthor(ctx context.Context, author *model.Author) error

	// UpsertCategory はスラッグを自然キーとしてカテゴリを作成または更新する。
	UpsertCategory(ctx context.Context, category *model.Category) error
}

// PublicationRepository は記事公開の永続化インターフェース。
type PublicationRepository interface {
	// Publish は記事と要約レコードの作成、外部記事の処理済み化を
	// 同一トランザクションで行う。スラッグの衝突はこの中で解決し、article.Slugを更新する。
	// 外部記事が既に処理済み、または同じsource_urlの記事が存在する場合はErrAlreadyPublishedを返す。
	Publish(ctx context.Context, article *model.Article, summary *model.SummaryRecord, externalItemID string) error
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
