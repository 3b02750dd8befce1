// Package redis 提供基于 Redis 的缓存层，用于降低热点查询压力。
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"lnemail/backend/internal/domain"
)

const (
	tokenKeyPrefix   = "lnemail:token:"
	settledKeyPrefix = "lnemail:settled:"

	// 令牌缓存的默认有效期，短于账户有效期，容忍一定程度的陈旧
	defaultTokenTTL = 5 * time.Minute

	// 已结算哈希缓存的有效期，结算是不可逆事实，可以长缓存
	defaultSettledTTL = 24 * time.Hour
)

// Cache Redis 缓存客户端
type Cache struct {
	rdb *redis.Client
}

// cachedAccount 账户的缓存专用序列化结构。
//
// 不能直接序列化 domain.EmailAccount: 其 JSON 标签面向 API 响应，
// 凭证字段全部标记为 "-"，直接复用会在缓存往返中丢掉密码与令牌。
type cachedAccount struct {
	ID                     uint                 `json:"id"`
	EmailAddress           string               `json:"email_address"`
	AccessToken            string               `json:"access_token"`
	EmailPassword          string               `json:"email_password"`
	CreatedAt              time.Time            `json:"created_at"`
	ExpiresAt              time.Time            `json:"expires_at"`
	OriginalPaymentRequest *string              `json:"original_payment_request,omitempty"`
	PaymentHash            string               `json:"payment_hash"`
	PaymentStatus          domain.PaymentStatus `json:"payment_status"`
	RenewalPaymentHash     *string              `json:"renewal_payment_hash,omitempty"`
	RenewalYears           int                  `json:"renewal_years"`
}

// encodeAccount 将账户完整编码为缓存字节
func encodeAccount(account *domain.EmailAccount) ([]byte, error) {
	return json.Marshal(cachedAccount{
		ID:                     account.ID,
		EmailAddress:           account.EmailAddress,
		AccessToken:            account.AccessToken,
		EmailPassword:          account.EmailPassword,
		CreatedAt:              account.CreatedAt,
		ExpiresAt:              account.ExpiresAt,
		OriginalPaymentRequest: account.OriginalPaymentRequest,
		PaymentHash:            account.PaymentHash,
		PaymentStatus:          account.PaymentStatus,
		RenewalPaymentHash:     account.RenewalPaymentHash,
		RenewalYears:           account.RenewalYears,
	})
}

// decodeAccount 从缓存字节恢复账户
func decodeAccount(raw []byte) (*domain.EmailAccount, error) {
	var cached cachedAccount
	if err := json.Unmarshal(raw, &cached); err != nil {
		return nil, err
	}
	return &domain.EmailAccount{
		ID:                     cached.ID,
		EmailAddress:           cached.EmailAddress,
		AccessToken:            cached.AccessToken,
		EmailPassword:          cached.EmailPassword,
		CreatedAt:              cached.CreatedAt,
		ExpiresAt:              cached.ExpiresAt,
		OriginalPaymentRequest: cached.OriginalPaymentRequest,
		PaymentHash:            cached.PaymentHash,
		PaymentStatus:          cached.PaymentStatus,
		RenewalPaymentHash:     cached.RenewalPaymentHash,
		RenewalYears:           cached.RenewalYears,
	}, nil
}

// NewCache 建立 Redis 连接并验证连通性
func NewCache(address, password string, db int) (*Cache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Cache{rdb: rdb}, nil
}

// CacheAccountByToken 缓存令牌到账户的映射
func (c *Cache) CacheAccountByToken(ctx context.Context, token string, account *domain.EmailAccount) error {
	raw, err := encodeAccount(account)
	if err != nil {
		return fmt.Errorf("marshal account: %w", err)
	}
	return c.rdb.Set(ctx, tokenKeyPrefix+token, raw, defaultTokenTTL).Err()
}

// GetAccountByToken 按令牌读取缓存的账户，未命中返回 (nil, nil)
func (c *Cache) GetAccountByToken(ctx context.Context, token string) (*domain.EmailAccount, error) {
	raw, err := c.rdb.Get(ctx, tokenKeyPrefix+token).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cached account: %w", err)
	}

	account, err := decodeAccount(raw)
	if err != nil {
		// 缓存数据损坏按未命中处理
		return nil, nil
	}
	return account, nil
}

// InvalidateToken 使令牌缓存失效
func (c *Cache) InvalidateToken(ctx context.Context, token string) error {
	return c.rdb.Del(ctx, tokenKeyPrefix+token).Err()
}

// MarkSettled 记录一个已结算的支付哈希
func (c *Cache) MarkSettled(ctx context.Context, paymentHash string) error {
	return c.rdb.Set(ctx, settledKeyPrefix+paymentHash, "1", defaultSettledTTL).Err()
}

// IsSettled 查询支付哈希是否已记录为结算
func (c *Cache) IsSettled(ctx context.Context, paymentHash string) (bool, error) {
	n, err := c.rdb.Exists(ctx, settledKeyPrefix+paymentHash).Result()
	if err != nil {
		return false, fmt.Errorf("check settled cache: %w", err)
	}
	return n > 0, nil
}

// Health Redis 连通性检查
func (c *Cache) Health(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close 关闭 Redis 连接
func (c *Cache) Close() error {
	return c.rdb.Close()
}
