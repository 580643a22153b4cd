// Package model はドメインモデルを定義する。
package model

import "time"

// RawItem はフェッチャーが外部ソースから取得した未保存の記事データを表す。
type RawItem struct {
	Title       string
	URL         string // 正規化済みURL
	Content     string // プレーンテキスト。本文抽出に失敗した場合はスニペット
	PublishedAt time.Time
}

// ExternalItem は取り込み済みの外部記事を表す。
// URLはシステム全体で一意であり、重複排除の基準となる。
type ExternalItem struct {
	ID          string
	SourceID    string
	Title       string
	Content     string
	URL         string
	PublishedAt time.Time
	Processed   bool
	Attempts    int
	LastError   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
