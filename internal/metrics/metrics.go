// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ハンドラー、スクレイパー、ワーカーから利用する。
type MetricsCollector interface {
	RecordIngestCreated()
	RecordIngestUpdated()
	RecordScrapeFieldMiss(field string)
	RecordScrapeLatency(duration time.Duration)
	RecordRefetchSuccess()
	RecordRefetchFailure(reason string)
	RecordStatsRefreshed(count int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	ingestCreated   prometheus.Counter
	ingestUpdated   prometheus.Counter
	scrapeFieldMiss *prometheus.CounterVec
	scrapeLatency   prometheus.Histogram
	refetchSuccess  prometheus.Counter
	refetchFail     *prometheus.CounterVec
	statsRefreshed  prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		ingestCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cabinet_ingest_created_total",
			Help: "取り込みで新規作成されたアカウントの合計数",
		}),
		ingestUpdated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cabinet_ingest_updated_total",
			Help: "取り込みで更新された既存アカウントの合計数",
		}),
		scrapeFieldMiss: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cabinet_scrape_field_miss_total",
			Help: "スクレイピングで抽出できなかったフィールド別の合計数",
		}, []string{"field"}),
		scrapeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cabinet_scrape_latency_seconds",
			Help:    "プロフィールページ解析のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		refetchSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cabinet_refetch_success_total",
			Help: "ライブ再取得成功の合計数",
		}),
		refetchFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cabinet_refetch_fail_total",
			Help: "ライブ再取得失敗の理由別の合計数",
		}, []string{"reason"}),
		statsRefreshed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cabinet_stats_refreshed_total",
			Help: "バックグラウンド更新された統計の合計数",
		}),
	}

	reg.MustRegister(
		c.ingestCreated,
		c.ingestUpdated,
		c.scrapeFieldMiss,
		c.scrapeLatency,
		c.refetchSuccess,
		c.refetchFail,
		c.statsRefreshed,
	)

	return c
}

// RecordIngestCreated は取り込みでの新規アカウント作成を記録する。
func (c *Collector) RecordIngestCreated() {
	c.ingestCreated.Inc()
}

// RecordIngestUpdated は取り込みでの既存アカウント更新を記録する。
func (c *Collector) RecordIngestUpdated() {
	c.ingestUpdated.Inc()
}

// RecordScrapeFieldMiss は抽出できなかったフィールドを記録する。
func (c *Collector) RecordScrapeFieldMiss(field string) {
	c.scrapeFieldMiss.WithLabelValues(field).Inc()
}

// RecordScrapeLatency はプロフィール解析のレイテンシを記録する。
func (c *Collector) RecordScrapeLatency(duration time.Duration) {
	c.scrapeLatency.Observe(duration.Seconds())
}

// RecordRefetchSuccess はライブ再取得の成功を記録する。
func (c *Collector) RecordRefetchSuccess() {
	c.refetchSuccess.Inc()
}

// RecordRefetchFailure はライブ再取得の失敗を記録する。
func (c *Collector) RecordRefetchFailure(reason string) {
	c.refetchFail.WithLabelValues(reason).Inc()
}

// RecordStatsRefreshed はバックグラウンド更新された統計数を記録する。
func (c *Collector) RecordStatsRefreshed(count int) {
	c.statsRefreshed.Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
