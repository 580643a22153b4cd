package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/ainews/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	AdminToken        string
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// 管理API
	Trigger  AggregationTrigger
	Sources  SourceLister
	Reporter RunReporter

	// 運用エンドポイント
	HealthChecker  HealthChecker
	MetricsHandler http.Handler
}

// NewRouter は管理APIのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RealIP → RequestID → Logging → Recovery → SecurityHeaders → CORS
//
// /api/admin 配下にはさらに AdminAuth → RateLimit を適用する。
// /health と /metrics は認証なしで公開する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.NewRequestIDMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	r.Get("/health", NewHealthHandler(deps.HealthChecker, deps.Logger))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	admin := NewAdminHandler(deps.Trigger, deps.Sources, deps.Reporter, deps.Logger)

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(middleware.NewAdminAuthMiddleware(deps.AdminToken))
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.Middleware())
		}

		r.Get("/news-sources", admin.ListSources)
		r.Route("/news", func(r chi.Router) {
			r.Post("/aggregate", admin.TriggerAggregation)
			r.Get("/runs/latest", admin.LatestRun)
		})
	})

	return r
}
