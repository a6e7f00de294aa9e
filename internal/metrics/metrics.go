// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// コアコンポーネント、ワーカー、HTTPミドルウェアから利用する。
type MetricsCollector interface {
	RecordSessionIssued()
	RecordSessionExpired(reason string)
	RecordAppointmentScheduled()
	RecordReminderFailure()
	RecordNotificationFailure()
	RecordInvalidNodes(count int)
	RecordEdgesPurged(count int64)
	RecordRiskAssessed(level string)
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	sessionsIssued        prometheus.Counter
	sessionsExpired       *prometheus.CounterVec
	appointmentsScheduled prometheus.Counter
	reminderFail          prometheus.Counter
	notificationFail      prometheus.Counter
	invalidNodes          prometheus.Gauge
	edgesPurged           prometheus.Counter
	riskAssessed          *prometheus.CounterVec
	httpStatus            *prometheus.CounterVec
	requestLatency        prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		sessionsIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vidasana_sessions_issued_total",
			Help: "発行したアクセスセッションの合計数",
		}),
		sessionsExpired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vidasana_sessions_expired_total",
			Help: "監視中に終了したセッション数（理由別）",
		}, []string{"reason"}),
		appointmentsScheduled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vidasana_appointments_scheduled_total",
			Help: "登録された予約の合計数",
		}),
		reminderFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vidasana_reminder_fail_total",
			Help: "リマインダー書き込み失敗の合計数",
		}),
		notificationFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vidasana_notification_fail_total",
			Help: "通知送信失敗の合計数",
		}),
		invalidNodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vidasana_graph_invalid_nodes",
			Help: "直近の監査で検出した形状不正ノード数",
		}),
		edgesPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vidasana_graph_edges_purged_total",
			Help: "削除した不正エッジの合計数",
		}),
		riskAssessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vidasana_risk_assessed_total",
			Help: "リスク評価の実行数（レベル別）",
		}, []string{"level"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vidasana_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "vidasana_request_latency_seconds",
			Help:    "HTTPリクエストのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.sessionsIssued,
		c.sessionsExpired,
		c.appointmentsScheduled,
		c.reminderFail,
		c.notificationFail,
		c.invalidNodes,
		c.edgesPurged,
		c.riskAssessed,
		c.httpStatus,
		c.requestLatency,
	)

	return c
}

// RecordSessionIssued はセッション発行を記録する。
func (c *Collector) RecordSessionIssued() {
	c.sessionsIssued.Inc()
}

// RecordSessionExpired はセッション監視の終了を理由別に記録する。
func (c *Collector) RecordSessionExpired(reason string) {
	c.sessionsExpired.WithLabelValues(reason).Inc()
}

// RecordAppointmentScheduled は予約登録を記録する。
func (c *Collector) RecordAppointmentScheduled() {
	c.appointmentsScheduled.Inc()
}

// RecordReminderFailure はリマインダー書き込み失敗を記録する。
func (c *Collector) RecordReminderFailure() {
	c.reminderFail.Inc()
}

// RecordNotificationFailure は通知送信失敗を記録する。
func (c *Collector) RecordNotificationFailure() {
	c.notificationFail.Inc()
}

// RecordInvalidNodes は監査で検出した不正ノード数を記録する。
func (c *Collector) RecordInvalidNodes(count int) {
	c.invalidNodes.Set(float64(count))
}

// RecordEdgesPurged は削除したエッジ数を記録する。
func (c *Collector) RecordEdgesPurged(count int64) {
	c.edgesPurged.Add(float64(count))
}

// RecordRiskAssessed はリスク評価をレベル別に記録する。
func (c *Collector) RecordRiskAssessed(level string) {
	c.riskAssessed.WithLabelValues(level).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はHTTPリクエストのレイテンシを記録する。
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

// NopCollector は何も記録しないMetricsCollector。
// メトリクスを公開しないCLIサブコマンドとテストで使用する。
type NopCollector struct{}

func (NopCollector) RecordSessionIssued() {}
func (NopCollector) RecordSessionExpired(string) {}
func (NopCollector) RecordAppointmentScheduled() {}
func (NopCollector) RecordReminderFailure() {}
func (NopCollector) RecordNotificationFailure() {}
func (NopCollector) RecordInvalidNodes(int) {}
func (NopCollector) RecordEdgesPurged(int64) {}
func (NopCollector) RecordRiskAssessed(string) {}
func (NopCollector) RecordHTTPStatus(int) {}
func (NopCollector) RecordRequestLatency(time.Duration) {}

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

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = NopCollector{}
)
