package domain

import "time"

// 账户生命周期常量
const (
	// AccountValidity 账户初始有效期（一年）
	AccountValidity = 365 * 24 * time.Hour

	// GracePeriod 账户过期后的宽限期，期内仍可续期，超过后被清扫删除
	GracePeriod = 365 * 24 * time.Hour

	// StalePendingTTL 未支付账户的保留时间，超时视为放弃
	StalePendingTTL = 24 * time.Hour

	// ExpiryWarningWindow 到期提醒窗口，距过期不足该时长时在收件箱注入提醒
	ExpiryWarningWindow = 90 * 24 * time.Hour
)

// EmailAccount 表示一个通过 Lightning 支付购买的邮箱账户。
//
// 邮箱密码在首次开通成功时写入且仅写入一次。
// RenewalPaymentHash 非空时表示恰有一张在途的续期发票，应用后清空。
type EmailAccount struct {
	ID                     uint           `json:"-" gorm:"primaryKey"`
	EmailAddress           string         `json:"email" gorm:"type:varchar(255);uniqueIndex"`
	AccessToken            string         `json:"-" gorm:"type:varchar(64);uniqueIndex"`
	EmailPassword          string         `json:"-" gorm:"type:varchar(64)"`
	CreatedAt              time.Time      `json:"created_at"`
	ExpiresAt              time.Time      `json:"expires_at" gorm:"index"`
	OriginalPaymentRequest *string       `json:"-" gorm:"type:text"`
	PaymentHash            string        `json:"payment_hash" gorm:"type:varchar(64);index"`
	PaymentStatus          PaymentStatus `json:"payment_status" gorm:"type:varchar(16);index"`
	RenewalPaymentHash     *string       `json:"-" gorm:"type:varchar(64);index"`
	RenewalYears           int           `json:"-"`
}

// TableName 指定数据库表名
func (EmailAccount) TableName() string {
	return "email_accounts"
}

// IsExpired 判断账户在给定时刻是否已过名义有效期
func (a *EmailAccount) IsExpired(now time.Time) bool {
	return now.After(a.ExpiresAt)
}

// IsActive 判断账户是否可执行邮箱操作（已支付且未过期）
func (a *EmailAccount) IsActive(now time.Time) bool {
	return a.PaymentStatus == PaymentPaid && !a.IsExpired(now)
}

// IsRenewable 判断账户是否可续期（已支付且处于宽限期内）
//
// 宽限期边界为闭区间: 恰好在 expires_at + 365 天时仍可续期。
func (a *EmailAccount) IsRenewable(now time.Time) bool {
	return a.PaymentStatus == PaymentPaid && !now.After(a.ExpiresAt.Add(GracePeriod))
}

// DaysUntilExpiry 返回距名义过期的剩余天数，已过期时为负数
func (a *EmailAccount) DaysUntilExpiry(now time.Time) int {
	return int(a.ExpiresAt.Sub(now) / (24 * time.Hour))
}

// NeedsExpiryWarning 判断是否处于到期提醒窗口内（未过期但不足 90 天）
func (a *EmailAccount) NeedsExpiryWarning(now time.Time) bool {
	if a.IsExpired(now) {
		return false
	}
	return a.ExpiresAt.Sub(now) <= ExpiryWarningWindow
}

// RenewedExpiry 计算续期 years 年后的新过期时间
//
// 始终从当前过期时间起算而非从 now 起算: 提前续期保留剩余有效期，
// 宽限期内的过期账户续期则需要补上已经流逝的时间。
func (a *EmailAccount) RenewedExpiry(years int) time.Time {
	return a.ExpiresAt.Add(time.Duration(years) * AccountValidity)
}
