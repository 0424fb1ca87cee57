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
// サービス層、ワーカー、HTTPミドルウェアから利用する。
type MetricsCollector interface {
	RecordLogin(outcome string)
	RecordRegistration(outcome string)
	RecordSessionEvicted(reason string, count int)
	RecordChatTurn(provenance string)
	RecordProviderLatency(duration time.Duration)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	logins          *prometheus.CounterVec
	registrations   *prometheus.CounterVec
	sessionsEvicted *prometheus.CounterVec
	chatTurns       *prometheus.CounterVec
	providerLatency prometheus.Histogram
	httpStatus      *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "uternity_logins_total",
			Help: "ログイン試行の結果別合計数",
		}, []string{"outcome"}),
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "uternity_registrations_total",
			Help: "ユーザー登録の結果別合計数",
		}, []string{"outcome"}),
		sessionsEvicted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "uternity_sessions_evicted_total",
			Help: "期限切れにより削除されたセッション数",
		}, []string{"reason"}),
		chatTurns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "uternity_chat_turns_total",
			Help: "回答の出所別チャット応答数",
		}, []string{"data_source"}),
		providerLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "uternity_provider_latency_seconds",
			Help:    "回答プロバイダー呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "uternity_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.logins,
		c.registrations,
		c.sessionsEvicted,
		c.chatTurns,
		c.providerLatency,
		c.httpStatus,
	)

	return c
}

// RecordLogin はログイン試行の結果を記録する。
func (c *Collector) RecordLogin(outcome string) {
	c.logins.WithLabelValues(outcome).Inc()
}

// RecordRegistration はユーザー登録の結果を記録する。
func (c *Collector) RecordRegistration(outcome string) {
	c.registrations.WithLabelValues(outcome).Inc()
}

// RecordSessionEvicted は期限切れセッションの削除を記録する。
// reasonはアクセス時の遅延削除なら"lazy"、定期掃除なら"sweep"。
func (c *Collector) RecordSessionEvicted(reason string, count int) {
	c.sessionsEvicted.WithLabelValues(reason).Add(float64(count))
}

// RecordChatTurn はチャット応答を記録する。
func (c *Collector) RecordChatTurn(provenance string) {
	c.chatTurns.WithLabelValues(provenance).Inc()
}

// RecordProviderLatency は回答プロバイダーのレイテンシを記録する。
func (c *Collector) RecordProviderLatency(duration time.Duration) {
	c.providerLatency.Observe(duration.Seconds())
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Nop は何も記録しないMetricsCollector。メトリクス無効時とテストで使用する。
type Nop struct{}

func (Nop) RecordLogin(string)                  {}
func (Nop) RecordRegistration(string)           {}
func (Nop) RecordSessionEvicted(string, int)    {}
func (Nop) RecordChatTurn(string)               {}
func (Nop) RecordProviderLatency(time.Duration) {}
func (Nop) RecordHTTPStatus(int)                {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// statusRecorder はステータスコードを記録するResponseWriter。
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

// NewHTTPMiddleware はレスポンスのステータスコードをcollectorに記録するミドルウェアを返す。
func NewHTTPMiddleware(collector MetricsCollector) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rec, r)
			collector.RecordHTTPStatus(rec.statusCode)
		})
	}
}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
