package service

import (
	"context"
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lnemail/backend/internal/config"
	"lnemail/backend/internal/domain"
	"lnemail/backend/internal/storage/memory"
)

type sendHarness struct {
	store     *memory.Store
	gateway   *fakeGateway
	transport *fakeTransport
	queue     *recordingQueue
	clock     *testClock
	svc       *SendService
	account   *domain.EmailAccount
}

func newSendHarness(t *testing.T) *sendHarness {
	t.Helper()

	h := &sendHarness{
		store:     memory.NewStore(),
		gateway:   newFakeGateway(),
		transport: &fakeTransport{},
		queue:     &recordingQueue{},
		clock:     newTestClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
	}
	h.svc = NewSendService(
		h.store, h.gateway, h.transport, h.queue, nil,
		config.PricingConfig{AccountPriceSats: 994, SendPriceSats: 100, RenewalPriceSatsYear: 994},
		testLogger(),
	)
	h.svc.now = h.clock.Now

	h.account = &domain.EmailAccount{
		EmailAddress:  "sender001@lnemail.net",
		AccessToken:   domain.NewAccessToken(),
		EmailPassword: "mailbox-pw",
		CreatedAt:     h.clock.Now(),
		ExpiresAt:     h.clock.Now().Add(domain.AccountValidity),
		PaymentStatus: domain.PaymentPaid,
	}
	require.NoError(t, h.store.CreateAccount(h.account))
	return h
}

func validSendRequest() SendRequest {
	return SendRequest{
		Recipient: "dest@example.com",
		Subject:   "hello",
		Body:      "body text",
	}
}

func TestRequestSend(t *testing.T) {
	ctx := context.Background()

	t.Run("签发发票并落库双待状态记录", func(t *testing.T) {
		h := newSendHarness(t)

		invoice, err := h.svc.RequestSend(ctx, h.account, validSendRequest())
		require.NoError(t, err)
		assert.Equal(t, int64(100), invoice.PriceSats)
		assert.Equal(t, h.clock.Now().Add(domain.SendInvoiceTTL), invoice.ExpiresAt)

		record, err := h.store.GetOutgoingByPaymentHash(invoice.PaymentHash)
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentPending, record.Status)
		assert.Equal(t, domain.DeliveryPending, record.DeliveryStatus)
		assert.Zero(t, h.transport.sendCount())
	})

	t.Run("非活跃账户被拒绝", func(t *testing.T) {
		h := newSendHarness(t)
		expired := &domain.EmailAccount{
			EmailAddress:  "expired001@lnemail.net",
			PaymentStatus: domain.PaymentPaid,
			ExpiresAt:     h.clock.Now().Add(-time.Hour),
		}

		_, err := h.svc.RequestSend(ctx, expired, validSendRequest())
		assert.ErrorIs(t, err, ErrAccountNotActive)
		assert.Zero(t, h.gateway.invoices())
	})

	t.Run("校验失败不产生发票", func(t *testing.T) {
		h := newSendHarness(t)

		req := validSendRequest()
		req.Recipient = "not-an-address"
		_, err := h.svc.RequestSend(ctx, h.account, req)
		assert.ErrorIs(t, err, domain.ErrInvalidEmail)

		req = validSendRequest()
		req.Attachments = []domain.EmailAttachment{{Filename: "bad.bin", Content: "!!not-base64!!"}}
		_, err = h.svc.RequestSend(ctx, h.account, req)
		assert.ErrorIs(t, err, domain.ErrAttachmentEncoding)

		assert.Zero(t, h.gateway.invoices())
	})
}

func TestReconcileSend(t *testing.T) {
	ctx := context.Background()

	t.Run("结算前不投递并继续轮询", func(t *testing.T) {
		h := newSendHarness(t)
		invoice, err := h.svc.RequestSend(ctx, h.account, validSendRequest())
		require.NoError(t, err)
		h.queue.reset()

		require.NoError(t, h.svc.ReconcileSend(ctx, invoice.PaymentHash))

		assert.Zero(t, h.transport.sendCount())
		assert.Equal(t, []time.Duration{settlementPollDelay}, h.queue.scheduled())
	})

	t.Run("TTL内未支付标记过期且之后付款也不投递", func(t *testing.T) {
		h := newSendHarness(t)
		invoice, err := h.svc.RequestSend(ctx, h.account, validSendRequest())
		require.NoError(t, err)

		h.clock.Advance(domain.SendInvoiceTTL + time.Minute)
		require.NoError(t, h.svc.ReconcileSend(ctx, invoice.PaymentHash))

		record, err := h.store.GetOutgoingByPaymentHash(invoice.PaymentHash)
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentExpired, record.Status)

		// 迟到的付款不复活已过期的记录
		h.gateway.settle(invoice.PaymentHash)
		require.NoError(t, h.svc.ReconcileSend(ctx, invoice.PaymentHash))
		assert.Zero(t, h.transport.sendCount())
	})

	t.Run("TTL已过即使网关报告结算也标记过期", func(t *testing.T) {
		h := newSendHarness(t)
		invoice, err := h.svc.RequestSend(ctx, h.account, validSendRequest())
		require.NoError(t, err)

		// 结算发生了，但清扫与对账都迟到: TTL 判定必须先于结算判定
		h.gateway.settle(invoice.PaymentHash)
		h.clock.Advance(domain.SendInvoiceTTL + time.Minute)
		require.NoError(t, h.svc.ReconcileSend(ctx, invoice.PaymentHash))

		record, err := h.store.GetOutgoingByPaymentHash(invoice.PaymentHash)
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentExpired, record.Status)
		assert.Zero(t, h.transport.sendCount())
	})

	t.Run("结算后投递并更新统计", func(t *testing.T) {
		h := newSendHarness(t)
		payload := []byte("attachment payload")

		req := validSendRequest()
		req.InReplyTo = "<parent@example.com>"
		req.Attachments = []domain.EmailAttachment{{
			Filename:    "data.bin",
			ContentType: "application/octet-stream",
			Content:     base64.StdEncoding.EncodeToString(payload),
		}}
		invoice, err := h.svc.RequestSend(ctx, h.account, req)
		require.NoError(t, err)

		h.gateway.settle(invoice.PaymentHash)
		require.NoError(t, h.svc.ReconcileSend(ctx, invoice.PaymentHash))

		require.Equal(t, 1, h.transport.sendCount())
		msg := h.transport.sent[0]
		assert.Equal(t, "sender001@lnemail.net", msg.From)
		assert.Equal(t, "dest@example.com", msg.Recipient)
		assert.Equal(t, "<parent@example.com>", msg.InReplyTo)
		require.Len(t, msg.Attachments, 1)
		assert.Equal(t, payload, msg.Attachments[0].Data)

		record, err := h.store.GetOutgoingByPaymentHash(invoice.PaymentHash)
		require.NoError(t, err)
		assert.True(t, record.IsDelivered())
		require.NotNil(t, record.SentAt)

		stats, err := h.store.GetSendStats(domain.MonthKey(h.clock.Now()))
		require.NoError(t, err)
		assert.Equal(t, int64(1), stats.TotalSent)
		assert.Equal(t, int64(100), stats.TotalRevenueSats)
	})

	t.Run("重复对账不重复投递", func(t *testing.T) {
		h := newSendHarness(t)
		invoice, err := h.svc.RequestSend(ctx, h.account, validSendRequest())
		require.NoError(t, err)

		h.gateway.settle(invoice.PaymentHash)
		require.NoError(t, h.svc.ReconcileSend(ctx, invoice.PaymentHash))
		require.NoError(t, h.svc.ReconcileSend(ctx, invoice.PaymentHash))
		require.NoError(t, h.svc.ReconcileSend(ctx, invoice.PaymentHash))

		assert.Equal(t, 1, h.transport.sendCount())
	})

	t.Run("并发对账至多提交一次", func(t *testing.T) {
		h := newSendHarness(t)
		invoice, err := h.svc.RequestSend(ctx, h.account, validSendRequest())
		require.NoError(t, err)
		h.gateway.settle(invoice.PaymentHash)

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = h.svc.ReconcileSend(ctx, invoice.PaymentHash)
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, h.transport.sendCount())
	})

	t.Run("节点不可用不改变记录状态", func(t *testing.T) {
		h := newSendHarness(t)
		invoice, err := h.svc.RequestSend(ctx, h.account, validSendRequest())
		require.NoError(t, err)
		h.queue.reset()

		h.gateway.lookupErr = assert.AnError
		require.Error(t, h.svc.ReconcileSend(ctx, invoice.PaymentHash))

		record, err := h.store.GetOutgoingByPaymentHash(invoice.PaymentHash)
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentPending, record.Status)
		assert.Equal(t, []time.Duration{settlementPollDelay}, h.queue.scheduled())
	})
}

func TestDeliveryRetry(t *testing.T) {
	ctx := context.Background()

	t.Run("投递失败按退避表排期重试", func(t *testing.T) {
		h := newSendHarness(t)
		invoice, err := h.svc.RequestSend(ctx, h.account, validSendRequest())
		require.NoError(t, err)
		h.gateway.settle(invoice.PaymentHash)

		h.transport.failures = 6
		var delays []time.Duration
		for i := 0; i < 6; i++ {
			h.queue.reset()
			require.NoError(t, h.svc.ReconcileSend(ctx, invoice.PaymentHash))
			scheduled := h.queue.scheduled()
			require.Len(t, scheduled, 1)
			delays = append(delays, scheduled[0])
		}

		assert.Equal(t, []time.Duration{
			30 * time.Second,
			60 * time.Second,
			5 * time.Minute,
			15 * time.Minute,
			time.Hour,
			time.Hour,
		}, delays)

		record, err := h.store.GetOutgoingByPaymentHash(invoice.PaymentHash)
		require.NoError(t, err)
		assert.Equal(t, domain.DeliveryFailed, record.DeliveryStatus)
		assert.Equal(t, 6, record.RetryCount)
		assert.Nil(t, record.SentAt)

		// 第七次重试成功
		require.NoError(t, h.svc.ReconcileSend(ctx, invoice.PaymentHash))
		record, err = h.store.GetOutgoingByPaymentHash(invoice.PaymentHash)
		require.NoError(t, err)
		assert.True(t, record.IsDelivered())
		assert.Equal(t, 1, h.transport.sendCount())
	})

	t.Run("发件账户缺失为永久失败不排期重试", func(t *testing.T) {
		h := newSendHarness(t)
		invoice, err := h.svc.RequestSend(ctx, h.account, validSendRequest())
		require.NoError(t, err)
		h.gateway.settle(invoice.PaymentHash)

		// 模拟账户在支付与投递之间消失
		record, err := h.store.GetOutgoingByPaymentHash(invoice.PaymentHash)
		require.NoError(t, err)
		record.SenderEmail = "vanished001@lnemail.net"
		require.NoError(t, h.store.UpdateOutgoingEmail(record))

		h.queue.reset()
		require.NoError(t, h.svc.ReconcileSend(ctx, invoice.PaymentHash))

		record, err = h.store.GetOutgoingByPaymentHash(invoice.PaymentHash)
		require.NoError(t, err)
		assert.Equal(t, domain.DeliveryFailed, record.DeliveryStatus)
		assert.Zero(t, h.transport.sendCount())
		assert.Empty(t, h.queue.scheduled())
	})
}

func TestSendStatusAndHistory(t *testing.T) {
	ctx := context.Background()

	t.Run("状态查询不暴露内部错误", func(t *testing.T) {
		h := newSendHarness(t)
		invoice, err := h.svc.RequestSend(ctx, h.account, validSendRequest())
		require.NoError(t, err)
		h.gateway.settle(invoice.PaymentHash)

		h.transport.failures = 1
		require.NoError(t, h.svc.ReconcileSend(ctx, invoice.PaymentHash))

		info, err := h.svc.SendStatus(ctx, invoice.PaymentHash)
		require.NoError(t, err)
		assert.Equal(t, domain.DeliveryFailed, info.DeliveryStatus)
		assert.Equal(t, "delivery failed, retry scheduled", info.Detail)
		assert.NotContains(t, info.Detail, "smtp")
	})

	t.Run("最近外发最多返回十条", func(t *testing.T) {
		h := newSendHarness(t)
		for i := 0; i < 12; i++ {
			h.clock.Advance(time.Minute)
			_, err := h.svc.RequestSend(ctx, h.account, validSendRequest())
			require.NoError(t, err)
		}

		sends, err := h.svc.ListRecentSends(h.account)
		require.NoError(t, err)
		assert.Len(t, sends, 10)
	})
}

func TestSendSweepsAndRecovery(t *testing.T) {
	ctx := context.Background()

	t.Run("启动恢复重新入队未完结记录", func(t *testing.T) {
		h := newSendHarness(t)

		failed, err := h.svc.RequestSend(ctx, h.account, validSendRequest())
		require.NoError(t, err)
		h.gateway.settle(failed.PaymentHash)
		h.transport.failures = 1
		require.NoError(t, h.svc.ReconcileSend(ctx, failed.PaymentHash))

		undelivered, err := h.svc.RequestSend(ctx, h.account, validSendRequest())
		require.NoError(t, err)
		h.gateway.settle(undelivered.PaymentHash)
		record, err := h.store.GetOutgoingByPaymentHash(undelivered.PaymentHash)
		require.NoError(t, err)
		record.Status = domain.PaymentPaid
		require.NoError(t, h.store.UpdateOutgoingEmail(record))

		h.queue.reset()
		h.svc.RecoverUnfinished(ctx)

		// 失败记录按退避延迟，已支付未投递记录立即入队
		scheduled := h.queue.scheduled()
		require.Len(t, scheduled, 2)
		assert.Contains(t, scheduled, 30*time.Second)
		assert.Contains(t, scheduled, time.Duration(0))
	})

	t.Run("小时清扫标记过期发票", func(t *testing.T) {
		h := newSendHarness(t)
		invoice, err := h.svc.RequestSend(ctx, h.account, validSendRequest())
		require.NoError(t, err)

		h.clock.Advance(domain.SendInvoiceTTL + time.Minute)
		h.svc.ExpireStaleSends(ctx)

		record, err := h.store.GetOutgoingByPaymentHash(invoice.PaymentHash)
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentExpired, record.Status)
	})

	t.Run("保留期清扫删除历史记录", func(t *testing.T) {
		h := newSendHarness(t)
		invoice, err := h.svc.RequestSend(ctx, h.account, validSendRequest())
		require.NoError(t, err)

		h.clock.Advance(domain.SendRetention + 24*time.Hour)
		h.svc.PurgeOldSends(ctx)

		_, err = h.store.GetOutgoingByPaymentHash(invoice.PaymentHash)
		assert.Error(t, err)
	})
}
