package llm

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// RateLimited はCompleterの呼び出し間隔をトークンバケットで制御する。
// プロバイダのレート上限に当たって全ステージがフォールバックするのを避ける。
type RateLimited struct {
	next    Completer
	limiter *rate.Limiter
}

// NewRateLimited は1分あたりrequestsPerMinute回に呼び出しを抑えるCompleterを返す。
func NewRateLimited(next Completer, requestsPerMinute int) *RateLimited {
	interval := time.Minute / time.Duration(requestsPerMinute)
	return &RateLimited{
		next:    next,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
	}
}

// Complete はトークンを待ってから委譲する。コンテキストがキャンセルされた場合はエラーを返す。
func (r *RateLimited) Complete(ctx context.Context, req Request) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("llm rate limiter: %w", err)
	}
	return r.next.Complete(ctx, req)
}

// Model は委譲先のモデル識別子を返す。
func (r *RateLimited) Model() string {
	return r.next.Model()
}

var _ Completer = (*RateLimited)(nil)
