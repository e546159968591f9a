// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 認証イベントの結果ラベル。
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ミドルウェアやサービス層から利用する。
type MetricsCollector interface {
	RecordAuthResolution(source string)
	RecordAuthEvent(event, outcome string)
	RecordTodoOperation(op string)
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	authResolutions *prometheus.CounterVec
	authEvents      *prometheus.CounterVec
	todoOperations  *prometheus.CounterVec
	httpStatus      *prometheus.CounterVec
	requestLatency  prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		authResolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "todoman_auth_resolutions_total",
			Help: "Session Resolverの解決結果（解決元別）",
		}, []string{"source"}),
		authEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "todoman_auth_events_total",
			Help: "登録・ログイン・外部サインイン等の認証イベント数",
		}, []string{"event", "outcome"}),
		todoOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "todoman_todo_operations_total",
			Help: "タスク操作の成功数（操作別）",
		}, []string{"operation"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "todoman_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "todoman_request_latency_seconds",
			Help:    "HTTPリクエストのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.authResolutions,
		c.authEvents,
		c.todoOperations,
		c.httpStatus,
		c.requestLatency,
	)

	return c
}

// RecordAuthResolution はSession Resolverの解決元を記録する。未解決は "none"。
func (c *Collector) RecordAuthResolution(source string) {
	c.authResolutions.WithLabelValues(source).Inc()
}

// RecordAuthEvent は認証イベントとその結果を記録する。
func (c *Collector) RecordAuthEvent(event, outcome string) {
	c.authEvents.WithLabelValues(event, outcome).Inc()
}

// RecordTodoOperation はタスク操作を記録する。
func (c *Collector) RecordTodoOperation(op string) {
	c.todoOperations.WithLabelValues(op).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はリクエストのレイテンシを記録する。
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

// Nop は何も記録しないMetricsCollector。
type Nop struct{}

func (Nop) RecordAuthResolution(string)        {}
func (Nop) RecordAuthEvent(string, string)     {}
func (Nop) RecordTodoOperation(string)         {}
func (Nop) RecordHTTPStatus(int)               {}
func (Nop) RecordRequestLatency(time.Duration) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
