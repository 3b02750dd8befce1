// Package cache 提供进程内 TTL 缓存，用于无须持久化的短期标记，
// 例如到期提醒的忽略状态。
package cache

import (
	"sync"
	"time"
)

// LocalCache 进程内 TTL 缓存，读取无锁
type LocalCache struct {
	data sync.Map
	ttl  time.Duration
}

type cacheEntry struct {
	value     interface{}
	expiresAt time.Time
}

// NewLocalCache 创建本地缓存，ttl 为条目的默认过期时间
func NewLocalCache(ttl time.Duration) *LocalCache {
	c := &LocalCache{ttl: ttl}
	go c.cleanupLoop()
	return c
}

// Get 读取缓存值，条目不存在或已过期返回 false
func (c *LocalCache) Get(key string) (interface{}, bool) {
	val, ok := c.data.Load(key)
	if !ok {
		return nil, false
	}

	entry := val.(*cacheEntry)
	if time.Now().After(entry.expiresAt) {
		c.data.Delete(key)
		return nil, false
	}
	return entry.value, true
}

// Set 写入缓存值，ttl 为 0 时使用默认过期时间
func (c *LocalCache) Set(key string, value interface{}, ttl time.Duration) {
	if ttl == 0 {
		ttl = c.ttl
	}
	c.data.Store(key, &cacheEntry{
		value:     value,
		expiresAt: time.Now().Add(ttl),
	})
}

// Delete 删除缓存值
func (c *LocalCache) Delete(key string) {
	c.data.Delete(key)
}

// cleanupLoop 定期清理过期条目，避免只写不读的键常驻内存
func (c *LocalCache) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		now := time.Now()
		c.data.Range(func(key, value interface{}) bool {
			if now.After(value.(*cacheEntry).expiresAt) {
				c.data.Delete(key)
			}
			return true
		})
	}
}
