// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ログイン結果のラベル値
const (
	LoginSuccess       = "success"
	LoginStateMismatch = "state_mismatch"
	LoginFailure       = "failure"
)

// 交換コードの結果のラベル値
const (
	ExchangeIssued   = "issued"
	ExchangeRedeemed = "redeemed"
	ExchangeRejected = "rejected"
)

// MetricsCollector はメトリクス収集のインターフェース。
// リアルタイム配信層・認証ハンドラー・ミドルウェアから利用する。
type MetricsCollector interface {
	ConnectionOpened()
	ConnectionClosed()
	HandshakeRejected()
	PushDelivered(kind string, sessions int)
	SendFailed(kind string)
	RecordLogin(provider, result string)
	RecordExchangeCode(outcome string)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	wsConnections     prometheus.Gauge
	handshakeRejected prometheus.Counter
	pushDelivered     *prometheus.CounterVec
	sendFailed        *prometheus.CounterVec
	logins            *prometheus.CounterVec
	exchangeCodes     *prometheus.CounterVec
	httpStatus        *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		wsConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tsudoi_ws_connections",
			Help: "接続中のプッシュセッション数",
		}),
		handshakeRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tsudoi_ws_handshake_rejected_total",
			Help: "認証に失敗したハンドシェイクの合計数",
		}),
		pushDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tsudoi_push_delivered_total",
			Help: "メッセージ種別ごとのプッシュ配信セッション数",
		}, []string{"type"}),
		sendFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tsudoi_push_send_failed_total",
			Help: "メッセージ種別ごとのプッシュ送信失敗数",
		}, []string{"type"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tsudoi_oauth_logins_total",
			Help: "プロバイダー・結果ごとのOAuthログイン数",
		}, []string{"provider", "result"}),
		exchangeCodes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tsudoi_exchange_codes_total",
			Help: "交換コードの発行・引き換え・拒否の合計数",
		}, []string{"outcome"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tsudoi_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.wsConnections,
		c.handshakeRejected,
		c.pushDelivered,
		c.sendFailed,
		c.logins,
		c.exchangeCodes,
		c.httpStatus,
	)

	return c
}

// ConnectionOpened は接続数を1増やす。
func (c *Collector) ConnectionOpened() {
	c.wsConnections.Inc()
}

// ConnectionClosed は接続数を1減らす。
func (c *Collector) ConnectionClosed() {
	c.wsConnections.Dec()
}

// HandshakeRejected はハンドシェイク拒否を記録する。
func (c *Collector) HandshakeRejected() {
	c.handshakeRejected.Inc()
}

// PushDelivered は配信できたセッション数を記録する。
func (c *Collector) PushDelivered(kind string, sessions int) {
	if sessions <= 0 {
		return
	}
	c.pushDelivered.WithLabelValues(kind).Add(float64(sessions))
}

// SendFailed は送信失敗を記録する。
func (c *Collector) SendFailed(kind string) {
	c.sendFailed.WithLabelValues(kind).Inc()
}

// RecordLogin はOAuthログインの結果を記録する。
func (c *Collector) RecordLogin(provider, result string) {
	c.logins.WithLabelValues(provider, result).Inc()
}

// RecordExchangeCode は交換コードの結果を記録する。
func (c *Collector) RecordExchangeCode(outcome string) {
	c.exchangeCodes.WithLabelValues(outcome).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// SessionStats はセッションレジストリの集計値。realtime.Registryが満たす。
type SessionStats interface {
	UserCount() int
	SessionCount() int
}

// RegisterSessionGauges は接続ユーザー数と登録セッション数をスクレイプ時に
// レジストリから読むゲージを登録する。
func RegisterSessionGauges(reg prometheus.Registerer, stats SessionStats) {
	reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "tsudoi_ws_online_users",
			Help: "プッシュセッションを1つ以上持つユーザー数",
		}, func() float64 { return float64(stats.UserCount()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "tsudoi_ws_registered_sessions",
			Help: "レジストリに登録されているプッシュセッション数",
		}, func() float64 { return float64(stats.SessionCount()) }),
	)
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Noop は何も記録しないMetricsCollectorを返す。テストとメトリクス無効時に使う。
func Noop() MetricsCollector {
	return noopCollector{}
}

type noopCollector struct{}

func (noopCollector) ConnectionOpened()          {}
func (noopCollector) ConnectionClosed()          {}
func (noopCollector) HandshakeRejected()         {}
func (noopCollector) PushDelivered(string, int)  {}
func (noopCollector) SendFailed(string)          {}
func (noopCollector) RecordLogin(string, string) {}
func (noopCollector) RecordExchangeCode(string)  {}
func (noopCollector) RecordHTTPStatus(int)       {}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
