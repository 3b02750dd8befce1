package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"lnemail/backend/internal/config"
	"lnemail/backend/internal/domain"
	"lnemail/backend/internal/monitoring"
	"lnemail/backend/internal/storage"
)

// AccountService 处理账户的签发、开通、续期与生命周期清扫。
type AccountService struct {
	store       storage.Store
	gateway     InvoiceGateway
	provisioner MailboxProvisioner
	queue       TaskQueue
	notifier    SettlementNotifier
	pricing     config.PricingConfig
	mailDomain  string
	log         *zap.Logger
	now         func() time.Time
}

// NewAccountService 创建账户服务，notifier 可为 nil
func NewAccountService(
	store storage.Store,
	gateway InvoiceGateway,
	provisioner MailboxProvisioner,
	queue TaskQueue,
	notifier SettlementNotifier,
	pricing config.PricingConfig,
	mailDomain string,
	log *zap.Logger,
) *AccountService {
	return &AccountService{
		store:       store,
		gateway:     gateway,
		provisioner: provisioner,
		queue:       queue,
		notifier:    notifier,
		pricing:     pricing,
		mailDomain:  mailDomain,
		log:         log,
		now:         time.Now,
	}
}

// AccountInvoice 是创建账户请求的响应: 发票加上未来的账户凭证
type AccountInvoice struct {
	Email          string    `json:"email"`
	AccessToken    string    `json:"access_token"`
	PaymentHash    string    `json:"payment_hash"`
	PaymentRequest string    `json:"payment_request"`
	PriceSats      int64     `json:"price_sats"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// AccountStatus 是支付状态查询的响应
type AccountStatus struct {
	Status      domain.PaymentStatus `json:"status"`
	Email       string               `json:"email,omitempty"`
	AccessToken string               `json:"access_token,omitempty"`
	ExpiresAt   *time.Time           `json:"expires_at,omitempty"`
}

// AccountDetails 是已认证账户的概要信息
type AccountDetails struct {
	Email           string    `json:"email"`
	CreatedAt       time.Time `json:"created_at"`
	ExpiresAt       time.Time `json:"expires_at"`
	DaysUntilExpiry int       `json:"days_until_expiry"`
	IsExpired       bool      `json:"is_expired"`
	RenewalEligible bool      `json:"renewal_eligible"`
}

// RequestAccount 签发一张创建账户的发票并落库 pending 账户。
//
// 地址与访问令牌在签发时即确定并返回给调用方，但在支付确认前
// 令牌不可用于任何操作。
func (s *AccountService) RequestAccount(ctx context.Context) (*AccountInvoice, error) {
	now := s.now()

	for attempt := 0; attempt < 5; attempt++ {
		address := domain.RandomEmailAddress(s.mailDomain)
		if _, err := s.store.GetAccountByAddress(address); err == nil {
			continue
		} else if !errors.Is(err, storage.ErrAccountNotFound) {
			return nil, err
		}

		memo := fmt.Sprintf("LNemail account %s (valid for 1 year)", address)
		invoice, err := s.gateway.CreateInvoice(ctx, s.pricing.AccountPriceSats, memo)
		if err != nil {
			return nil, fmt.Errorf("create account invoice: %w", err)
		}

		paymentRequest := invoice.PaymentRequest
		account := &domain.EmailAccount{
			EmailAddress:           address,
			AccessToken:            domain.NewAccessToken(),
			CreatedAt:              now,
			ExpiresAt:              now.Add(domain.AccountValidity),
			OriginalPaymentRequest: &paymentRequest,
			PaymentHash:            invoice.PaymentHash,
			PaymentStatus:          domain.PaymentPending,
		}
		if err := s.store.CreateAccount(account); err != nil {
			if errors.Is(err, storage.ErrDuplicateAccount) {
				continue
			}
			return nil, err
		}

		s.pollCreation(invoice.PaymentHash, now.Add(time.Hour))

		s.log.Info("账户发票已签发",
			zap.String("email", address),
			zap.String("payment_hash", invoice.PaymentHash))

		return &AccountInvoice{
			Email:          address,
			AccessToken:    account.AccessToken,
			PaymentHash:    invoice.PaymentHash,
			PaymentRequest: invoice.PaymentRequest,
			PriceSats:      s.pricing.AccountPriceSats,
			ExpiresAt:      account.ExpiresAt,
		}, nil
	}

	return nil, errors.New("could not allocate a unique email address")
}

// pollCreation 在发票有效期内周期性对账，每次失败或未结算后重新排期
func (s *AccountService) pollCreation(hash string, deadline time.Time) {
	s.queue.EnqueueAfter(settlementPollDelay, func(ctx context.Context) {
		account, err := s.store.GetAccountByPaymentHash(hash)
		if err != nil || account.PaymentStatus != domain.PaymentPending {
			return
		}

		if err := s.ReconcileCreation(ctx, hash); err != nil {
			s.log.Warn("账户对账失败", zap.String("payment_hash", hash), zap.Error(err))
		}

		account, err = s.store.GetAccountByPaymentHash(hash)
		if err == nil && account.PaymentStatus == domain.PaymentPending && s.now().Before(deadline) {
			s.pollCreation(hash, deadline)
		}
	})
}

// ReconcileCreation 对账一笔创建账户的支付。
//
// 幂等: 已支付的账户直接返回。结算确认后先开通邮箱再翻转支付状态，
// 开通失败时保持 pending，下一次对账会重试。
func (s *AccountService) ReconcileCreation(ctx context.Context, hash string) error {
	account, err := s.store.GetAccountByPaymentHash(hash)
	if err != nil {
		return err
	}
	if account.PaymentStatus != domain.PaymentPending {
		return nil
	}

	settled, err := s.gateway.IsSettled(ctx, hash)
	if err != nil {
		return fmt.Errorf("lookup invoice %s: %w", hash, err)
	}
	if !settled {
		return nil
	}

	password := domain.NewMailboxPassword()
	if err := s.provisioner.CreateMailbox(ctx, account.EmailAddress, password); err != nil {
		return fmt.Errorf("provision mailbox %s: %w", account.EmailAddress, err)
	}

	account.EmailPassword = password
	account.PaymentStatus = domain.PaymentPaid
	if err := s.store.UpdateAccount(account); err != nil {
		return err
	}

	monitoring.PaymentsSettled.WithLabelValues("account").Inc()
	monitoring.AccountsProvisioned.Inc()
	monitoring.RevenueSats.WithLabelValues("account").Add(float64(s.pricing.AccountPriceSats))

	s.log.Info("账户已开通", zap.String("email", account.EmailAddress))
	s.notify(hash, "paid")
	return nil
}

// CreationStatus 查询创建支付的状态。
//
// 账户仍为 pending 时同步对账一次，使得"支付后立刻查询"能直接
// 看到 paid 而无需等待后台轮询。
func (s *AccountService) CreationStatus(ctx context.Context, hash string) (*AccountStatus, error) {
	account, err := s.store.GetAccountByPaymentHash(hash)
	if err != nil {
		return nil, err
	}

	if account.PaymentStatus == domain.PaymentPending {
		if err := s.ReconcileCreation(ctx, hash); err != nil {
			s.log.Warn("状态查询触发的对账失败", zap.String("payment_hash", hash), zap.Error(err))
		}
		if account, err = s.store.GetAccountByPaymentHash(hash); err != nil {
			return nil, err
		}
	}

	status := &AccountStatus{Status: account.PaymentStatus}
	if account.PaymentStatus == domain.PaymentPaid {
		status.Email = account.EmailAddress
		status.AccessToken = account.AccessToken
		expiresAt := account.ExpiresAt
		status.ExpiresAt = &expiresAt
	}
	return status, nil
}

// Details 构造已认证账户的概要信息
func (s *AccountService) Details(account *domain.EmailAccount) *AccountDetails {
	now := s.now()
	return &AccountDetails{
		Email:           account.EmailAddress,
		CreatedAt:       account.CreatedAt,
		ExpiresAt:       account.ExpiresAt,
		DaysUntilExpiry: account.DaysUntilExpiry(now),
		IsExpired:       account.IsExpired(now),
		RenewalEligible: account.IsRenewable(now),
	}
}

// ExpireStalePendingAccounts 将超过保留时间仍未支付的账户标记为 expired。
// 由调度器每日执行。
func (s *AccountService) ExpireStalePendingAccounts(ctx context.Context) {
	cutoff := s.now().Add(-domain.StalePendingTTL)

	accounts, err := s.store.ListStalePendingAccounts(cutoff)
	if err != nil {
		s.log.Error("列举过期未支付账户失败", zap.Error(err))
		return
	}

	expired := 0
	for i := range accounts {
		account := accounts[i]
		account.PaymentStatus = domain.PaymentExpired
		if err := s.store.UpdateAccount(&account); err != nil {
			s.log.Warn("标记未支付账户失败",
				zap.String("email", account.EmailAddress), zap.Error(err))
			continue
		}
		expired++
	}

	if expired > 0 {
		s.log.Info("已清扫未支付账户", zap.Int("count", expired))
	}
}

// PurgeExpiredAccounts 注销超出宽限期的账户: 删除邮箱并标记 expired。
// 由调度器每日执行。邮箱删除失败的账户保持原状，下一轮清扫重试。
func (s *AccountService) PurgeExpiredAccounts(ctx context.Context) {
	accounts, err := s.store.ListAccountsPastGrace(s.now())
	if err != nil {
		s.log.Error("列举超出宽限期账户失败", zap.Error(err))
		return
	}

	purged := 0
	for i := range accounts {
		account := accounts[i]
		if err := s.provisioner.DeleteMailbox(ctx, account.EmailAddress); err != nil {
			s.log.Warn("注销邮箱失败",
				zap.String("email", account.EmailAddress), zap.Error(err))
			continue
		}

		account.PaymentStatus = domain.PaymentExpired
		if err := s.store.UpdateAccount(&account); err != nil {
			s.log.Warn("标记注销账户失败",
				zap.String("email", account.EmailAddress), zap.Error(err))
			continue
		}
		purged++
	}

	if purged > 0 {
		monitoring.AccountsPurged.Add(float64(purged))
		s.log.Info("已注销超出宽限期账户", zap.Int("count", purged))
	}
}

func (s *AccountService) notify(hash, status string) {
	if s.notifier != nil {
		s.notifier.NotifySettled(hash, status)
	}
}
