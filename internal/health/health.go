// Package health 提供存活与就绪探针端点。
package health

import (
	"github.com/heptiolabs/healthcheck"

	"lnemail/backend/internal/storage"
)

// NewHandler 构建健康检查处理器
//
// 存活探针只检查进程自身状态，就绪探针额外检查存储可达性，
// 存储短暂不可用时摘除流量而不重启进程。
func NewHandler(store storage.Store) healthcheck.Handler {
	handler := healthcheck.NewHandler()

	handler.AddLivenessCheck("goroutine-count", healthcheck.GoroutineCountCheck(10000))
	handler.AddReadinessCheck("storage", store.Health)

	return handler
}
