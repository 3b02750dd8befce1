package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lnemail/backend/internal/config"
	"lnemail/backend/internal/domain"
	"lnemail/backend/internal/storage/memory"
)

type accountHarness struct {
	store       *memory.Store
	gateway     *fakeGateway
	provisioner *fakeProvisioner
	queue       *recordingQueue
	clock       *testClock
	svc         *AccountService
}

func newAccountHarness(t *testing.T) *accountHarness {
	t.Helper()

	h := &accountHarness{
		store:       memory.NewStore(),
		gateway:     newFakeGateway(),
		provisioner: newFakeProvisioner(),
		queue:       &recordingQueue{},
		clock:       newTestClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
	}
	h.svc = NewAccountService(
		h.store, h.gateway, h.provisioner, h.queue, nil,
		config.PricingConfig{AccountPriceSats: 994, SendPriceSats: 100, RenewalPriceSatsYear: 994},
		"lnemail.net", testLogger(),
	)
	h.svc.now = h.clock.Now
	return h
}

func TestRequestAccount(t *testing.T) {
	ctx := context.Background()

	t.Run("签发发票并落库待支付账户", func(t *testing.T) {
		h := newAccountHarness(t)

		invoice, err := h.svc.RequestAccount(ctx)
		require.NoError(t, err)

		assert.Contains(t, invoice.Email, "@lnemail.net")
		assert.Len(t, invoice.AccessToken, 43)
		assert.Equal(t, int64(994), invoice.PriceSats)
		assert.Equal(t, h.clock.Now().Add(domain.AccountValidity), invoice.ExpiresAt)

		account, err := h.store.GetAccountByPaymentHash(invoice.PaymentHash)
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentPending, account.PaymentStatus)
		assert.Empty(t, account.EmailPassword)

		// 结算轮询已排期
		assert.NotEmpty(t, h.queue.scheduled())
	})
}

func TestReconcileCreation(t *testing.T) {
	ctx := context.Background()

	t.Run("结算前不产生任何副作用", func(t *testing.T) {
		h := newAccountHarness(t)
		invoice, err := h.svc.RequestAccount(ctx)
		require.NoError(t, err)

		require.NoError(t, h.svc.ReconcileCreation(ctx, invoice.PaymentHash))

		account, err := h.store.GetAccountByPaymentHash(invoice.PaymentHash)
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentPending, account.PaymentStatus)
		assert.Zero(t, h.provisioner.createCount())
	})

	t.Run("结算后开通邮箱并翻转支付状态", func(t *testing.T) {
		h := newAccountHarness(t)
		invoice, err := h.svc.RequestAccount(ctx)
		require.NoError(t, err)

		h.gateway.settle(invoice.PaymentHash)
		require.NoError(t, h.svc.ReconcileCreation(ctx, invoice.PaymentHash))

		account, err := h.store.GetAccountByPaymentHash(invoice.PaymentHash)
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentPaid, account.PaymentStatus)
		assert.NotEmpty(t, account.EmailPassword)
		assert.Equal(t, account.EmailPassword, h.provisioner.created[invoice.Email])
	})

	t.Run("重复对账不重复开通", func(t *testing.T) {
		h := newAccountHarness(t)
		invoice, err := h.svc.RequestAccount(ctx)
		require.NoError(t, err)

		h.gateway.settle(invoice.PaymentHash)
		require.NoError(t, h.svc.ReconcileCreation(ctx, invoice.PaymentHash))
		require.NoError(t, h.svc.ReconcileCreation(ctx, invoice.PaymentHash))
		require.NoError(t, h.svc.ReconcileCreation(ctx, invoice.PaymentHash))

		assert.Equal(t, 1, h.provisioner.createCount())
	})

	t.Run("开通失败保持待支付可重试", func(t *testing.T) {
		h := newAccountHarness(t)
		invoice, err := h.svc.RequestAccount(ctx)
		require.NoError(t, err)

		h.gateway.settle(invoice.PaymentHash)
		h.provisioner.failCreate = true
		require.Error(t, h.svc.ReconcileCreation(ctx, invoice.PaymentHash))

		account, err := h.store.GetAccountByPaymentHash(invoice.PaymentHash)
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentPending, account.PaymentStatus)

		h.provisioner.failCreate = false
		require.NoError(t, h.svc.ReconcileCreation(ctx, invoice.PaymentHash))

		account, err = h.store.GetAccountByPaymentHash(invoice.PaymentHash)
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentPaid, account.PaymentStatus)
	})
}

func TestCreationStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("支付后立刻查询即见已支付", func(t *testing.T) {
		h := newAccountHarness(t)
		invoice, err := h.svc.RequestAccount(ctx)
		require.NoError(t, err)

		status, err := h.svc.CreationStatus(ctx, invoice.PaymentHash)
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentPending, status.Status)
		assert.Empty(t, status.AccessToken)

		// 后台轮询尚未跑到，状态查询自己完成对账
		h.gateway.settle(invoice.PaymentHash)
		status, err = h.svc.CreationStatus(ctx, invoice.PaymentHash)
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentPaid, status.Status)
		assert.Equal(t, invoice.Email, status.Email)
		assert.Equal(t, invoice.AccessToken, status.AccessToken)
		require.NotNil(t, status.ExpiresAt)
	})
}

func TestAccountSweeps(t *testing.T) {
	ctx := context.Background()

	t.Run("超时未支付账户被标记过期", func(t *testing.T) {
		h := newAccountHarness(t)
		invoice, err := h.svc.RequestAccount(ctx)
		require.NoError(t, err)

		// 未到保留时限不动
		h.clock.Advance(23 * time.Hour)
		h.svc.ExpireStalePendingAccounts(ctx)
		account, err := h.store.GetAccountByPaymentHash(invoice.PaymentHash)
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentPending, account.PaymentStatus)

		h.clock.Advance(2 * time.Hour)
		h.svc.ExpireStalePendingAccounts(ctx)
		account, err = h.store.GetAccountByPaymentHash(invoice.PaymentHash)
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentExpired, account.PaymentStatus)
	})

	t.Run("超出宽限期账户被注销", func(t *testing.T) {
		h := newAccountHarness(t)
		now := h.clock.Now()

		account := &domain.EmailAccount{
			EmailAddress:  "olduser001@lnemail.net",
			AccessToken:   domain.NewAccessToken(),
			EmailPassword: "pw",
			CreatedAt:     now.Add(-3 * 365 * 24 * time.Hour),
			ExpiresAt:     now.Add(-domain.GracePeriod - time.Hour),
			PaymentStatus: domain.PaymentPaid,
		}
		require.NoError(t, h.store.CreateAccount(account))

		h.svc.PurgeExpiredAccounts(ctx)

		assert.Equal(t, []string{"olduser001@lnemail.net"}, h.provisioner.deleted)
		purged, err := h.store.GetAccountByAddress("olduser001@lnemail.net")
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentExpired, purged.PaymentStatus)
	})

	t.Run("宽限期内账户不被注销", func(t *testing.T) {
		h := newAccountHarness(t)
		now := h.clock.Now()

		account := &domain.EmailAccount{
			EmailAddress:  "graceuser001@lnemail.net",
			AccessToken:   domain.NewAccessToken(),
			EmailPassword: "pw",
			CreatedAt:     now.Add(-400 * 24 * time.Hour),
			ExpiresAt:     now.Add(-100 * 24 * time.Hour),
			PaymentStatus: domain.PaymentPaid,
		}
		require.NoError(t, h.store.CreateAccount(account))

		h.svc.PurgeExpiredAccounts(ctx)

		assert.Empty(t, h.provisioner.deleted)
	})
}
