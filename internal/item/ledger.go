// Package item は外部記事の重複排除台帳と公開処理を提供する。
package item

import (
	"context"
	"log/slog"

	"github.com/hitoshi/ainews/internal/repository"
)

// DefaultMaxAttempts は公開に失敗した外部記事を再試行する上限回数。
const DefaultMaxAttempts = 3

// Ledger は取り込み済みURLの台帳。external_itemsのURL一意制約を基準にする。
type Ledger struct {
	items       repository.ExternalItemRepository
	maxAttempts int
	logger      *slog.Logger
}

// NewLedger はLedgerを生成する。maxAttemptsが0以下の場合はDefaultMaxAttemptsを使う。
func NewLedger(items repository.ExternalItemRepository, maxAttempts int, logger *slog.Logger) *Ledger {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Ledger{items: items, maxAttempts: maxAttempts, logger: logger}
}

// HasSeen はURLを再処理すべきでない場合にtrueを返す。
//   - 処理済みの外部記事が存在する
//   - 未処理だが公開失敗が上限回数に達している
//
// 未処理で上限未満のものは次回ランで再試行するためfalseを返す。
// 台帳の参照に失敗した場合は重複公開を避けるためtrueを返す。
func (l *Ledger) HasSeen(ctx context.Context, url string) bool {
	existing, err := l.items.FindByURL(ctx, url)
	if err != nil {
		l.logger.Warn("台帳の参照に失敗したため取り込み済みとして扱います",
			slog.String("url", url),
			slog.String("error", err.Error()),
		)
		return true
	}
	if existing == nil {
		return false
	}
	return existing.Processed || existing.Attempts >= l.maxAttempts
}
