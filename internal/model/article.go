package model

import "time"

// Article は公開される記事を表す。
type Article struct {
	ID            string
	Title         string
	Slug          string
	Summary       string
	Content       string
	AuthorID      string
	CategoryID    string
	Tags          []string
	PublishedAt   time.Time
	ReadTime      int // 分
	IsAIGenerated bool
	SourceURL     string
	ViewCount     int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// SummaryRecord は記事生成時の要約結果と使用モデルを保持する。
// 公開記事とは別に、生成元ソースへの来歴として保存される。
type SummaryRecord struct {
	ID        string
	ArticleID string
	SourceID  string
	Summary   string
	KeyPoints []string
	AIModel   string
	CreatedAt time.Time
}

// EnrichmentStage は言語モデルを使う加工ステージの識別子。
type EnrichmentStage string

const (
	StageSummary     EnrichmentStage = "summary"
	StageKeyPoints   EnrichmentStage = "key_points"
	StageFullContent EnrichmentStage = "full_content"
)

// Enrichment はRawItemを加工した結果を表す。
// Degradedにはフォールバック値に置き換えられたステージが入る。
type Enrichment struct {
	Category    *Category
	Author      *Author
	Summary     string
	KeyPoints   []string
	Tags        []string
	FullContent string
	Slug        string
	ReadTime    int
	AIModel     string
	Degraded    []EnrichmentStage
}

// IsDegraded は指定ステージがフォールバックされたかどうかを返す。
func (e *Enrichment) IsDegraded(stage EnrichmentStage) bool {
	for _, s := range e.Degraded {
		if s == stage {
			return true
		}
	}
	return false
}
