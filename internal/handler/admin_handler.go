// Package handler は管理APIのHTTPハンドラーとルーティングを提供する。
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/ainews/internal/middleware"
	"github.com/hitoshi/ainews/internal/model"
)

// AggregationTrigger は集約ランを非同期で起動するインターフェース。
type AggregationTrigger interface {
	// TriggerAsync は集約ランをバックグラウンドで開始し、すぐに戻る。
	TriggerAsync(trigger model.RunTrigger)
}

// SourceLister はニュースソース一覧を取得するインターフェース。
type SourceLister interface {
	// ListAll は全ソースを名前順に返す。
	ListAll(ctx context.Context) ([]*model.Source, error)
}

// RunReporter は直近の集約ランの結果を提供するインターフェース。
type RunReporter interface {
	LastReport() (*model.RunReport, bool)
}

// AdminHandler は管理APIのHTTPハンドラー。
type AdminHandler struct {
	trigger  AggregationTrigger
	sources  SourceLister
	reporter RunReporter
	logger   *slog.Logger
}

// NewAdminHandler はAdminHandlerを生成する。
func NewAdminHandler(trigger AggregationTrigger, sources SourceLister, reporter RunReporter, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		trigger:  trigger,
		sources:  sources,
		reporter: reporter,
		logger:   logger,
	}
}

// messageResponse は処理受付などの単純なメッセージレスポンス。
type messageResponse struct {
	Message string `json:"message"`
}

// sourceResponse はニュースソースのAPIレスポンス。
type sourceResponse struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	HomepageURL   string     `json:"homepage_url"`
	FeedURL       string     `json:"feed_url,omitempty"`
	LogoURL       string     `json:"logo_url,omitempty"`
	Strategy      string     `json:"strategy"`
	Active        bool       `json:"active"`
	LastFetchedAt *time.Time `json:"last_fetched_at"`
}

// TriggerAggregation は集約ランを起動して即座に202を返す。
// POST /api/admin/news/aggregate
func (h *AdminHandler) TriggerAggregation(w http.ResponseWriter, r *http.Request) {
	h.trigger.TriggerAsync(model.TriggerManual)

	h.logger.Info("aggregation triggered",
		slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
	)

	middleware.WriteJSON(w, http.StatusAccepted, messageResponse{
		Message: "News aggregation triggered successfully",
	})
}

// ListSources は登録済みのニュースソースを名前順に返す。
// GET /api/admin/news-sources
func (h *AdminHandler) ListSources(w http.ResponseWriter, r *http.Request) {
	sources, err := h.sources.ListAll(r.Context())
	if err != nil {
		h.logger.Error("failed to list sources",
			slog.String("error", err.Error()),
			slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
		)
		middleware.WriteInternalServerError(w)
		return
	}

	resp := make([]sourceResponse, 0, len(sources))
	for _, s := range sources {
		resp = append(resp, toSourceResponse(s))
	}
	middleware.WriteJSON(w, http.StatusOK, resp)
}

// LatestRun は直近の集約ランの結果を返す。
// GET /api/admin/news/runs/latest
func (h *AdminHandler) LatestRun(w http.ResponseWriter, r *http.Request) {
	report, ok := h.reporter.LastReport()
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewRunNotFoundError())
		return
	}
	middleware.WriteJSON(w, http.StatusOK, report)
}

func toSourceResponse(s *model.Source) sourceResponse {
	return sourceResponse{
		ID:            s.ID,
		Name:          s.Name,
		HomepageURL:   s.HomepageURL,
		FeedURL:       s.FeedURL,
		LogoURL:       s.LogoURL,
		Strategy:      string(s.Strategy),
		Active:        s.Active,
		LastFetchedAt: s.LastFetchedAt,
	}
}
