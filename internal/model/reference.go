package model

import "time"

// CategorySlug はカテゴリの安定した識別子。
// 表示名ではなくこの値で著者選択などを行う。
type CategorySlug string

const (
	CategoryMachineLearning CategorySlug = "machine-learning"
	CategoryAIIndustry      CategorySlug = "ai-industry"
	CategoryResearch        CategorySlug = "research"
	CategoryEthicsPolicy    CategorySlug = "ethics-policy"
	CategoryApplications    CategorySlug = "applications"
)

// Category は記事カテゴリを表す。シードデータとして投入される。
type Category struct {
	ID          string
	Name        string
	Slug        CategorySlug
	Description string
	Color       string
	CreatedAt   time.Time
}

// Author は記事の著者を表す。シードデータとして投入される。
type Author struct {
	ID          string
	Name        string
	Bio         string
	Avatar      string
	Specialties []string
	CreatedAt   time.Time
}
