// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector は集約パイプラインのPrometheusメトリクスを収集する。
// feed.FetchRecorder, enrich.DegradationRecorder, aggregate.Recorderを満たす。
type Collector struct {
	runs           *prometheus.CounterVec
	runsSkipped    *prometheus.CounterVec
	runDuration    prometheus.Histogram
	fetches        *prometheus.CounterVec
	fetchedItems   *prometheus.CounterVec
	dedupSkips     prometheus.Counter
	published      prometheus.Counter
	itemFailures   *prometheus.CounterVec
	degraded       *prometheus.CounterVec
	pendingItems   prometheus.Gauge
	cleanupCleared prometheus.Counter
	cleanupRetired prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ainews_runs_total",
			Help: "集約ランの実行数（起動契機・結果別）",
		}, []string{"trigger", "status"}),
		runsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ainews_runs_skipped_total",
			Help: "ランロック保持中のためスキップした集約ランの数",
		}, []string{"trigger"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ainews_run_duration_seconds",
			Help:    "集約ランの所要時間（秒）",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ainews_fetch_total",
			Help: "ソース取得の回数（取得方式・結果別）",
		}, []string{"strategy", "result"}),
		fetchedItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ainews_fetched_items_total",
			Help: "取得した記事候補の数（取得方式別）",
		}, []string{"strategy"}),
		dedupSkips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ainews_dedup_skips_total",
			Help: "取り込み済みとしてスキップした記事候補の数",
		}),
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ainews_articles_published_total",
			Help: "公開した記事の数",
		}),
		itemFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ainews_item_failures_total",
			Help: "記事候補の処理失敗数（段階別）",
		}, []string{"stage"}),
		degraded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ainews_enrichment_degraded_total",
			Help: "フォールバック値に置き換えた加工ステージの数",
		}, []string{"stage"}),
		pendingItems: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ainews_external_items_pending",
			Help: "未処理の外部記事数",
		}),
		cleanupCleared: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ainews_cleanup_cleared_total",
			Help: "クリーンアップで本文を消去した外部記事の数",
		}),
		cleanupRetired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ainews_cleanup_retired_total",
			Help: "クリーンアップで退役させた未処理の外部記事の数",
		}),
	}

	reg.MustRegister(
		c.runs,
		c.runsSkipped,
		c.runDuration,
		c.fetches,
		c.fetchedItems,
		c.dedupSkips,
		c.published,
		c.itemFailures,
		c.degraded,
		c.pendingItems,
		c.cleanupCleared,
		c.cleanupRetired,
	)

	return c
}

// RecordRun は完了した集約ランを記録する。statusは"ok"または"error"。
func (c *Collector) RecordRun(trigger, status string, duration time.Duration) {
	c.runs.WithLabelValues(trigger, status).Inc()
	c.runDuration.Observe(duration.Seconds())
}

// RecordRunSkipped はランロックによりスキップしたランを記録する。
func (c *Collector) RecordRunSkipped(trigger string) {
	c.runsSkipped.WithLabelValues(trigger).Inc()
}

// RecordFetch はソース1件の取得結果を記録する。
func (c *Collector) RecordFetch(strategy string, items int, failed bool) {
	result := "ok"
	if failed {
		result = "error"
	}
	c.fetches.WithLabelValues(strategy, result).Inc()
	c.fetchedItems.WithLabelValues(strategy).Add(float64(items))
}

// RecordDedupSkip は取り込み済みとしてスキップした記事候補を記録する。
func (c *Collector) RecordDedupSkip() {
	c.dedupSkips.Inc()
}

// RecordPublished は公開した記事を記録する。
func (c *Collector) RecordPublished() {
	c.published.Inc()
}

// RecordItemFailure は記事候補の処理失敗を記録する。stageは"enrich"または"commit"。
func (c *Collector) RecordItemFailure(stage string) {
	c.itemFailures.WithLabelValues(stage).Inc()
}

// RecordDegraded はフォールバックしたステージを記録する。
func (c *Collector) RecordDegraded(stage string) {
	c.degraded.WithLabelValues(stage).Inc()
}

// SetPendingItems は未処理の外部記事数を設定する。
func (c *Collector) SetPendingItems(n int) {
	c.pendingItems.Set(float64(n))
}

// RecordCleanup はクリーンアップの結果を記録する。
func (c *Collector) RecordCleanup(cleared, retired int64) {
	c.cleanupCleared.Add(float64(cleared))
	c.cleanupRetired.Add(float64(retired))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
