package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryDelay(t *testing.T) {
	t.Run("退避序列固定且封顶", func(t *testing.T) {
		// 连续 6 次失败的重试延迟: 30s, 60s, 5m, 15m, 1h, 1h
		expected := []time.Duration{
			30 * time.Second,
			60 * time.Second,
			5 * time.Minute,
			15 * time.Minute,
			time.Hour,
			time.Hour,
		}

		for i, want := range expected {
			assert.Equal(t, want, RetryDelay(i+1), "第 %d 次失败", i+1)
		}
	})

	t.Run("超出退避表后永远每小时一次", func(t *testing.T) {
		assert.Equal(t, time.Hour, RetryDelay(100))
	})

	t.Run("非法计数退化为首个延迟", func(t *testing.T) {
		assert.Equal(t, 30*time.Second, RetryDelay(0))
		assert.Equal(t, 30*time.Second, RetryDelay(-1))
	})
}

func TestPendingOutgoingEmail(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("发票过期判断", func(t *testing.T) {
		email := &PendingOutgoingEmail{ExpiresAt: now.Add(SendInvoiceTTL)}

		assert.False(t, email.InvoiceExpired(now))
		assert.False(t, email.InvoiceExpired(now.Add(SendInvoiceTTL)))
		assert.True(t, email.InvoiceExpired(now.Add(SendInvoiceTTL+time.Second)))
	})

	t.Run("终态判断要求支付与投递同时完成", func(t *testing.T) {
		email := &PendingOutgoingEmail{Status: PaymentPaid, DeliveryStatus: DeliverySent}
		assert.True(t, email.IsDelivered())

		email.DeliveryStatus = DeliveryFailed
		assert.False(t, email.IsDelivered())

		email.Status = PaymentPending
		email.DeliveryStatus = DeliverySent
		assert.False(t, email.IsDelivered())
	})

	t.Run("下次重试延迟随失败次数增长", func(t *testing.T) {
		email := &PendingOutgoingEmail{RetryCount: 3}
		assert.Equal(t, 5*time.Minute, email.NextRetryDelay())
	})
}

func TestMonthKey(t *testing.T) {
	assert.Equal(t, "2026-03", MonthKey(time.Date(2026, 3, 15, 8, 0, 0, 0, time.UTC)))

	// 跨时区按 UTC 归一
	loc := time.FixedZone("UTC+8", 8*3600)
	assert.Equal(t, "2026-02", MonthKey(time.Date(2026, 3, 1, 4, 0, 0, 0, loc)))
}
