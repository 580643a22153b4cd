// Package model はドメインモデルを定義する。
package model

import "time"

// SourceStrategy はソースからの記事取得方式を表す。
// シード時に決定され、フェッチ時にnullチェックで分岐しない。
type SourceStrategy string

const (
	// StrategyFeed はRSS/Atomフィードから取得する方式。
	StrategyFeed SourceStrategy = "feed"
	// StrategyScrape はホームページのHTMLから記事ブロックを抽出する方式。
	StrategyScrape SourceStrategy = "scrape"
)

// Valid は既知の取得方式かどうかを返す。
func (s SourceStrategy) Valid() bool {
	return s == StrategyFeed || s == StrategyScrape
}

// ResolveStrategy はフィードURLの有無から取得方式を決定する。
func ResolveStrategy(feedURL string) SourceStrategy {
	if feedURL != "" {
		return StrategyFeed
	}
	return StrategyScrape
}

// Source は記事の取得元となる外部ソースを表す。
type Source struct {
	ID            string
	Name          string
	HomepageURL   string
	FeedURL       string // StrategyFeedの場合のみ設定される
	LogoURL       string
	Strategy      SourceStrategy
	Active        bool
	LastFetchedAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
