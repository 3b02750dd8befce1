package domain

import "time"

// 外发邮件生命周期常量
const (
	// SendInvoiceTTL 发送发票的有效期，超时未支付的记录标记为 expired
	SendInvoiceTTL = time.Hour

	// SendRetention 外发记录的保留期，超期记录无条件清除
	SendRetention = 30 * 24 * time.Hour

	// RecoveryWindow 进程启动时重新入队投递失败记录的回溯窗口
	RecoveryWindow = 7 * 24 * time.Hour
)

// retryBackoff 投递重试的退避表，按失败次数索引，超出后固定每小时一次
var retryBackoff = []time.Duration{
	30 * time.Second,
	60 * time.Second,
	5 * time.Minute,
	15 * time.Minute,
	time.Hour,
}

// RetryDelay 返回第 retryCount 次失败后的重试延迟
func RetryDelay(retryCount int) time.Duration {
	if retryCount < 1 {
		return retryBackoff[0]
	}
	if retryCount > len(retryBackoff) {
		return retryBackoff[len(retryBackoff)-1]
	}
	return retryBackoff[retryCount-1]
}

// PendingOutgoingEmail 表示一条按次付费的外发邮件请求。
//
// 支付状态与投递状态是两条独立的轴: 支付在结算确认时立即翻转为 paid，
// 与投递结果解耦。发票 TTL 内未支付的记录转为 expired，之后即使
// 付款也视为放弃，永不投递。
type PendingOutgoingEmail struct {
	ID              uint           `json:"-" gorm:"primaryKey"`
	SenderEmail     string         `json:"sender" gorm:"type:varchar(255);index"`
	Recipient       string         `json:"recipient" gorm:"type:varchar(255)"`
	Subject         string         `json:"subject" gorm:"type:varchar(500)"`
	Body            string         `json:"-" gorm:"type:text"`
	InReplyTo       string         `json:"-" gorm:"type:varchar(255)"`
	References      string         `json:"-" gorm:"type:text"`
	AttachmentsJSON string         `json:"-" gorm:"type:text"`
	PaymentHash     string         `json:"payment_hash" gorm:"type:varchar(64);uniqueIndex"`
	PaymentRequest  string         `json:"payment_request" gorm:"type:text"`
	PriceSats       int64          `json:"price_sats"`
	Status          PaymentStatus  `json:"payment_status" gorm:"type:varchar(16);index"`
	DeliveryStatus  DeliveryStatus `json:"delivery_status" gorm:"type:varchar(16);index"`
	DeliveryError   string         `json:"-" gorm:"type:text"`
	CreatedAt       time.Time      `json:"created_at" gorm:"index"`
	ExpiresAt       time.Time      `json:"expires_at"`
	SentAt          *time.Time     `json:"sent_at,omitempty"`
	RetryCount      int            `json:"retry_count"`
	LastRetryAt     *time.Time     `json:"-"`
}

// TableName 指定数据库表名
func (PendingOutgoingEmail) TableName() string {
	return "pending_outgoing_emails"
}

// InvoiceExpired 判断发票 TTL 是否已过
func (e *PendingOutgoingEmail) InvoiceExpired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// IsDelivered 判断记录是否已到达终态（已支付且已投递）
func (e *PendingOutgoingEmail) IsDelivered() bool {
	return e.Status == PaymentPaid && e.DeliveryStatus == DeliverySent
}

// NextRetryDelay 返回按当前失败次数计算的下一次重试延迟
func (e *PendingOutgoingEmail) NextRetryDelay() time.Duration {
	return RetryDelay(e.RetryCount)
}
