// Package hybrid 将关系型主存储与 Redis 缓存组合为一个 Store。
//
// 读路径上令牌查询优先走缓存，写路径上任何账户变更使相应缓存失效。
// 缓存故障只降级为直查主存储，绝不影响正确性。
package hybrid

import (
	"context"
	"time"

	"go.uber.org/zap"

	"lnemail/backend/internal/domain"
	"lnemail/backend/internal/storage"
	rediscache "lnemail/backend/internal/storage/redis"
)

// Store 组合存储实现，嵌入主存储并按需覆盖热点方法
type Store struct {
	storage.Store

	cache *rediscache.Cache
	log   *zap.Logger
}

// NewStore 创建组合存储
func NewStore(primary storage.Store, cache *rediscache.Cache, log *zap.Logger) *Store {
	return &Store{
		Store: primary,
		cache: cache,
		log:   log,
	}
}

// GetAccountByToken 令牌查询优先命中缓存，未命中时回源并写入
func (s *Store) GetAccountByToken(token string) (*domain.EmailAccount, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	cached, err := s.cache.GetAccountByToken(ctx, token)
	if err != nil {
		s.log.Warn("令牌缓存读取失败，回退主存储", zap.Error(err))
	}
	if cached != nil {
		return cached, nil
	}

	account, err := s.Store.GetAccountByToken(token)
	if err != nil {
		return nil, err
	}

	if err := s.cache.CacheAccountByToken(ctx, token, account); err != nil {
		s.log.Warn("令牌缓存写入失败", zap.Error(err))
	}
	return account, nil
}

// UpdateAccount 更新主存储并使令牌缓存失效
func (s *Store) UpdateAccount(account *domain.EmailAccount) error {
	if err := s.Store.UpdateAccount(account); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := s.cache.InvalidateToken(ctx, account.AccessToken); err != nil {
		s.log.Warn("令牌缓存失效失败", zap.Error(err), zap.String("email", account.EmailAddress))
	}
	return nil
}

// Health 主存储与缓存任一不健康即报告异常
func (s *Store) Health() error {
	if err := s.Store.Health(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.cache.Health(ctx)
}

// Close 依次关闭缓存与主存储
func (s *Store) Close() error {
	if err := s.cache.Close(); err != nil {
		s.log.Warn("关闭缓存连接失败", zap.Error(err))
	}
	return s.Store.Close()
}
