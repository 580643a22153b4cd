package item

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/ainews/internal/model"
	"github.com/hitoshi/ainews/internal/repository"
	"github.com/hitoshi/ainews/internal/security"
)

// Committer は加工済みの記事を公開する。
// 外部記事の保存、記事と要約レコードの作成、処理済み化を順に行う。
type Committer struct {
	items     repository.ExternalItemRepository
	pubs      repository.PublicationRepository
	sanitizer security.ContentSanitizerService
	logger    *slog.Logger
	now       func() time.Time
}

// NewCommitter はCommitterを生成する。
func NewCommitter(
	items repository.ExternalItemRepository,
	pubs repository.PublicationRepository,
	sanitizer security.ContentSanitizerService,
	logger *slog.Logger,
) *Committer {
	return &Committer{
		items:     items,
		pubs:      pubs,
		sanitizer: sanitizer,
		logger:    logger,
		now:       time.Now,
	}
}

// Commit は外部記事を保存したうえで記事を公開し、作成した記事を返す。
// 既に公開済みの場合はrepository.ErrAlreadyPublishedを返す。
// 公開に失敗した場合は外部記事に失敗回数と理由を記録する。
func (c *Committer) Commit(ctx context.Context, raw model.RawItem, source *model.Source, enr *model.Enrichment) (*model.Article, error) {
	if enr.Author == nil || enr.Category == nil {
		return nil, fmt.Errorf("著者またはカテゴリが未決定です: %s", raw.URL)
	}

	now := c.now()
	ext, err := c.items.Create(ctx, &model.ExternalItem{
		ID:          uuid.New().String(),
		SourceID:    source.ID,
		Title:       raw.Title,
		Content:     raw.Content,
		URL:         raw.URL,
		PublishedAt: raw.PublishedAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return nil, fmt.Errorf("外部記事の保存に失敗: %w", err)
	}
	if ext.Processed {
		return nil, repository.ErrAlreadyPublished
	}

	// 本文生成に失敗した場合は元の本文をそのまま公開する。
	content := enr.FullContent
	if !enr.IsDegraded(model.StageFullContent) {
		content = c.sanitizer.SanitizeArticle(content)
	}

	article := &model.Article{
		ID:            uuid.New().String(),
		Title:         raw.Title,
		Slug:          enr.Slug,
		Summary:       enr.Summary,
		Content:       content,
		AuthorID:      enr.Author.ID,
		CategoryID:    enr.Category.ID,
		Tags:          enr.Tags,
		PublishedAt:   raw.PublishedAt,
		ReadTime:      enr.ReadTime,
		IsAIGenerated: true,
		SourceURL:     raw.URL,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	summary := &model.SummaryRecord{
		ID:        uuid.New().String(),
		ArticleID: article.ID,
		SourceID:  source.ID,
		Summary:   enr.Summary,
		KeyPoints: enr.KeyPoints,
		AIModel:   enr.AIModel,
		CreatedAt: now,
	}

	if err := c.pubs.Publish(ctx, article, summary, ext.ID); err != nil {
		if errors.Is(err, repository.ErrAlreadyPublished) {
			return nil, err
		}
		if recErr := c.items.RecordFailure(ctx, ext.ID, err.Error()); recErr != nil {
			c.logger.Error("公開失敗の記録に失敗しました",
				slog.String("external_item_id", ext.ID),
				slog.String("error", recErr.Error()),
			)
		}
		return nil, fmt.Errorf("記事の公開に失敗: %w", err)
	}

	return article, nil
}
