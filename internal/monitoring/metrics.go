// Package monitoring 提供 Prometheus 指标采集。
package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal HTTP 请求总数
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lnemail_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration HTTP 请求耗时分布
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lnemail_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// InvoicesIssued 按用途统计已签发的 Lightning 发票
	InvoicesIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lnemail_invoices_issued_total",
			Help: "Lightning invoices issued, by purpose",
		},
		[]string{"purpose"},
	)

	// PaymentsSettled 按用途统计已确认结算的支付
	PaymentsSettled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lnemail_payments_settled_total",
			Help: "Lightning payments confirmed settled, by purpose",
		},
		[]string{"purpose"},
	)

	// EmailsDelivered 成功投递的付费外发邮件数
	EmailsDelivered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lnemail_emails_delivered_total",
			Help: "Paid outgoing emails delivered via SMTP",
		},
	)

	// DeliveryFailures 投递失败次数（每次尝试计一次）
	DeliveryFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lnemail_delivery_failures_total",
			Help: "Failed SMTP delivery attempts",
		},
	)

	// AccountsProvisioned 成功开通的邮箱账户数
	AccountsProvisioned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lnemail_accounts_provisioned_total",
			Help: "Mailbox accounts provisioned after payment",
		},
	)

	// AccountsPurged 超出宽限期被清扫注销的账户数
	AccountsPurged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lnemail_accounts_purged_total",
			Help: "Accounts purged after grace period",
		},
	)

	// RevenueSats 累计确认收入（聪）
	RevenueSats = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lnemail_revenue_sats_total",
			Help: "Confirmed revenue in satoshis, by purpose",
		},
		[]string{"purpose"},
	)

	// WebSocketConnections 当前 WebSocket 订阅连接数
	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lnemail_websocket_connections",
			Help: "Active WebSocket settlement subscriptions",
		},
	)
)

// RecordHTTPRequest 记录一次 HTTP 请求的计数与耗时
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// HTTPHandler 返回 /metrics 端点处理器
func HTTPHandler() http.Handler {
	return promhttp.Handler()
}
