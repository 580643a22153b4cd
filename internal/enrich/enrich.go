// Package enrich は外部記事を公開可能な記事に加工する。
//
// ステージは次の順に実行する。
//  1. カテゴリ判定
//  2. 要約
//  3. 要点抽出
//  4. 著者選択
//  5. タグ抽出
//  6. 本文生成
//  7. スラッグと読了時間
//
// 言語モデルを使うステージは失敗しても決まったフォールバック値に置き換えて続行する。
package enrich

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hitoshi/ainews/internal/llm"
	"github.com/hitoshi/ainews/internal/model"
	"github.com/hitoshi/ainews/internal/slug"
)

// ErrMissingReference はカテゴリまたは著者が登録されていないことを表す。
// この場合は記事を作らずにスキップする。
var ErrMissingReference = errors.New("missing reference data")

// ReferenceLister は著者とカテゴリの読み出しインターフェース。
type ReferenceLister interface {
	ListAuthors(ctx context.Context) ([]*model.Author, error)
	ListCategories(ctx context.Context) ([]*model.Category, error)
}

// References は1回のランで使う著者とカテゴリ。
type References struct {
	Authors    []*model.Author
	categories map[model.CategorySlug]*model.Category
}

// LoadReferences は著者とカテゴリを読み込む。
func LoadReferences(ctx context.Context, repo ReferenceLister) (*References, error) {
	authors, err := repo.ListAuthors(ctx)
	if err != nil {
		return nil, fmt.Errorf("著者の取得に失敗: %w", err)
	}
	categories, err := repo.ListCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("カテゴリの取得に失敗: %w", err)
	}
	return NewReferences(authors, categories), nil
}

// NewReferences はReferencesを生成する。
func NewReferences(authors []*model.Author, categories []*model.Category) *References {
	refs := &References{
		Authors:    authors,
		categories: make(map[model.CategorySlug]*model.Category, len(categories)),
	}
	for _, c := range categories {
		refs.categories[c.Slug] = c
	}
	return refs
}

// Category はスラッグに対応するカテゴリを返す。未登録の場合はnil。
func (r *References) Category(s model.CategorySlug) *model.Category {
	return r.categories[s]
}

// DegradationRecorder はフォールバック発生のメトリクス記録インターフェース。
type DegradationRecorder interface {
	RecordDegraded(stage string)
}

// Enricher は加工ステージを順に実行する。
type Enricher struct {
	llm      llm.Completer
	recorder DegradationRecorder
	logger   *slog.Logger
}

// NewEnricher はEnricherを生成する。recorderはnilでもよい。
func NewEnricher(completer llm.Completer, recorder DegradationRecorder, logger *slog.Logger) *Enricher {
	return &Enricher{llm: completer, recorder: recorder, logger: logger}
}

// Enrich はRawItemを加工する。
// カテゴリか著者が決まらない場合は言語モデルを呼ぶ前にErrMissingReferenceを返す。
// 言語モデルの失敗はエラーにせず、Enrichment.Degradedに記録する。
func (e *Enricher) Enrich(ctx context.Context, refs *References, raw model.RawItem) (*model.Enrichment, error) {
	categorySlug := Categorize(raw.Title, raw.Content)
	category := refs.Category(categorySlug)
	if category == nil {
		return nil, fmt.Errorf("%w: category %q", ErrMissingReference, categorySlug)
	}
	if len(refs.Authors) == 0 {
		return nil, fmt.Errorf("%w: no authors", ErrMissingReference)
	}

	enr := &model.Enrichment{
		Category: category,
		AIModel:  e.llm.Model(),
	}

	summary, err := Summarize(ctx, e.llm, raw.Title, raw.Content)
	if err != nil {
		e.degraded(enr, model.StageSummary, raw, err)
	}
	enr.Summary = summary

	keyPoints, err := ExtractKeyPoints(ctx, e.llm, raw.Title, raw.Content)
	if err != nil {
		e.degraded(enr, model.StageKeyPoints, raw, err)
	}
	enr.KeyPoints = keyPoints

	enr.Author = SelectAuthor(refs.Authors, categorySlug)
	enr.Tags = ExtractTags(raw.Title, raw.Content)

	content, err := GenerateFullContent(ctx, e.llm, raw.Title, raw.Content, summary, keyPoints)
	if err != nil {
		e.degraded(enr, model.StageFullContent, raw, err)
	}
	enr.FullContent = content

	enr.Slug = slug.Make(raw.Title)
	enr.ReadTime = ReadTime(raw.Content)

	return enr, nil
}

// degraded はフォールバックの発生を記録する。
func (e *Enricher) degraded(enr *model.Enrichment, stage model.EnrichmentStage, raw model.RawItem, cause error) {
	enr.Degraded = append(enr.Degraded, stage)
	e.logger.Warn("enrichment stage degraded",
		slog.String("stage", string(stage)),
		slog.String("url", raw.URL),
		slog.String("error", cause.Error()),
	)
	if e.recorder != nil {
		e.recorder.RecordDegraded(string(stage))
	}
}
