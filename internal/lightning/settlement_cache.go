package lightning

import (
	"context"

	"go.uber.org/zap"

	rediscache "lnemail/backend/internal/storage/redis"
)

// SettlementCache 在结算查询前叠加 Redis 缓存。
//
// 结算是不可逆事实: 一旦确认即可长期缓存，后续的状态查询不再触达
// 节点。缓存故障只降级为直查节点，绝不影响正确性。
type SettlementCache struct {
	inner *Client
	cache *rediscache.Cache
	log   *zap.Logger
}

// NewSettlementCache 包装 LND 客户端
func NewSettlementCache(inner *Client, cache *rediscache.Cache, log *zap.Logger) *SettlementCache {
	return &SettlementCache{inner: inner, cache: cache, log: log}
}

// CreateInvoice 直接透传给节点
func (s *SettlementCache) CreateInvoice(ctx context.Context, amountSats int64, memo string) (*Invoice, error) {
	return s.inner.CreateInvoice(ctx, amountSats, memo)
}

// IsSettled 优先命中缓存，节点确认结算后写入缓存
func (s *SettlementCache) IsSettled(ctx context.Context, paymentHash string) (bool, error) {
	settled, err := s.cache.IsSettled(ctx, paymentHash)
	if err != nil {
		s.log.Warn("结算缓存读取失败，回退节点查询", zap.Error(err))
	} else if settled {
		return true, nil
	}

	settled, err = s.inner.IsSettled(ctx, paymentHash)
	if err != nil {
		return false, err
	}

	if settled {
		if err := s.cache.MarkSettled(ctx, paymentHash); err != nil {
			s.log.Warn("结算缓存写入失败", zap.Error(err))
		}
	}
	return settled, nil
}
