package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"lnemail/backend/internal/domain"
	"lnemail/backend/internal/monitoring"
	"lnemail/backend/internal/storage"
)

// 续期支付状态。与账户的 PaymentStatus 不同，续期状态是三态的:
// 结算确认与有效期延长之间存在一个可观测的中间态。
const (
	// RenewalPending 发票尚未结算
	RenewalPending = "pending"
	// RenewalProcessing 发票已结算，延长有效期的对账尚未落库
	RenewalProcessing = "processing"
	// RenewalPaid 续期已应用，哈希已从账户上清除
	RenewalPaid = "paid"
)

// RenewalInvoice 是续期请求的响应
type RenewalInvoice struct {
	PaymentHash      string    `json:"payment_hash"`
	PaymentRequest   string    `json:"payment_request"`
	PriceSats        int64     `json:"price_sats"`
	Years            int       `json:"years"`
	CurrentExpiresAt time.Time `json:"current_expires_at"`
}

// RenewalStatus 是续期状态查询的响应
type RenewalStatus struct {
	Status string `json:"status"`
}

// RequestRenewal 为宽限期内的账户签发一张续期发票。
//
// 同一账户只保留一张在途续期发票: 新发票覆盖旧哈希，旧发票即使
// 之后被支付也不再被对账应用。
func (s *AccountService) RequestRenewal(ctx context.Context, account *domain.EmailAccount, years int) (*RenewalInvoice, error) {
	if years < 1 {
		return nil, ErrInvalidRenewalYears
	}
	now := s.now()
	if !account.IsRenewable(now) {
		return nil, ErrAccountNotRenewable
	}

	price := s.pricing.RenewalPriceSatsYear * int64(years)
	unit := "years"
	if years == 1 {
		unit = "year"
	}
	memo := fmt.Sprintf("LNemail renewal %s (%d %s)", account.EmailAddress, years, unit)
	invoice, err := s.gateway.CreateInvoice(ctx, price, memo)
	if err != nil {
		return nil, fmt.Errorf("create renewal invoice: %w", err)
	}

	hash := invoice.PaymentHash
	account.RenewalPaymentHash = &hash
	account.RenewalYears = years
	if err := s.store.UpdateAccount(account); err != nil {
		return nil, err
	}

	s.pollRenewal(hash, now.Add(time.Hour))

	s.log.Info("续期发票已签发",
		zap.String("email", account.EmailAddress),
		zap.String("payment_hash", hash),
		zap.Int("years", years))

	return &RenewalInvoice{
		PaymentHash:      hash,
		PaymentRequest:   invoice.PaymentRequest,
		PriceSats:        price,
		Years:            years,
		CurrentExpiresAt: account.ExpiresAt,
	}, nil
}

// pollRenewal 在发票有效期内周期性对账续期支付
func (s *AccountService) pollRenewal(hash string, deadline time.Time) {
	s.queue.EnqueueAfter(settlementPollDelay, func(ctx context.Context) {
		if err := s.ReconcileRenewal(ctx, hash); err != nil {
			s.log.Warn("续期对账失败", zap.String("payment_hash", hash), zap.Error(err))
		}

		// 哈希仍挂在账户上说明续期还没应用，继续轮询
		if _, err := s.store.GetAccountByRenewalHash(hash); err == nil && s.now().Before(deadline) {
			s.pollRenewal(hash, deadline)
		}
	})
}

// ReconcileRenewal 对账一笔续期支付。
//
// 幂等: 哈希已从账户上清除（已应用或被新发票覆盖）时直接返回。
// 新有效期始终从旧过期时间起算，年数取自签发时落库的记录，
// 而非请求参数。
func (s *AccountService) ReconcileRenewal(ctx context.Context, hash string) error {
	account, err := s.store.GetAccountByRenewalHash(hash)
	if errors.Is(err, storage.ErrAccountNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	settled, err := s.gateway.IsSettled(ctx, hash)
	if err != nil {
		return fmt.Errorf("lookup invoice %s: %w", hash, err)
	}
	if !settled {
		return nil
	}

	years := account.RenewalYears
	if years < 1 {
		years = 1
	}
	account.ExpiresAt = account.RenewedExpiry(years)
	account.RenewalPaymentHash = nil
	account.RenewalYears = 0
	if err := s.store.UpdateAccount(account); err != nil {
		return err
	}

	monitoring.PaymentsSettled.WithLabelValues("renewal").Inc()
	monitoring.RevenueSats.WithLabelValues("renewal").Add(float64(s.pricing.RenewalPriceSatsYear * int64(years)))

	s.log.Info("续期已应用",
		zap.String("email", account.EmailAddress),
		zap.Int("years", years),
		zap.Time("new_expires_at", account.ExpiresAt))
	s.notify(hash, "paid")
	return nil
}

// RenewalStatusByHash 查询一笔续期支付的状态。
//
// 哈希仍挂在某账户上时区分 pending 与 processing；哈希已不存在时
// 回退询问网关: 已结算视为续期已应用，否则该哈希不属于本系统。
func (s *AccountService) RenewalStatusByHash(ctx context.Context, hash string) (*RenewalStatus, error) {
	_, err := s.store.GetAccountByRenewalHash(hash)
	if err == nil {
		settled, lookupErr := s.gateway.IsSettled(ctx, hash)
		if lookupErr != nil {
			return nil, fmt.Errorf("lookup invoice %s: %w", hash, lookupErr)
		}
		if !settled {
			return &RenewalStatus{Status: RenewalPending}, nil
		}

		// 已结算但尚未应用: 入队应用并如实报告中间态
		s.queue.Enqueue(func(ctx context.Context) {
			if err := s.ReconcileRenewal(ctx, hash); err != nil {
				s.log.Warn("续期对账失败", zap.String("payment_hash", hash), zap.Error(err))
			}
		})
		return &RenewalStatus{Status: RenewalProcessing}, nil
	}
	if !errors.Is(err, storage.ErrAccountNotFound) {
		return nil, err
	}

	settled, lookupErr := s.gateway.IsSettled(ctx, hash)
	if lookupErr != nil {
		return nil, fmt.Errorf("lookup invoice %s: %w", hash, lookupErr)
	}
	if settled {
		return &RenewalStatus{Status: RenewalPaid}, nil
	}
	return nil, ErrRenewalNotFound
}
