package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"lnemail/backend/internal/monitoring"
)

// HTTPMetrics 采集每个请求的 Prometheus 计数与耗时指标
func HTTPMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		// 使用路由模板而非原始路径，避免路径参数导致标签爆炸
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		monitoring.RecordHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}

// BusinessMetrics 按路由采集业务指标: 发票签发按用途计数
func BusinessMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Status() >= 400 {
			return
		}

		switch c.FullPath() {
		case "/v1/accounts":
			if c.Request.Method == "POST" {
				monitoring.InvoicesIssued.WithLabelValues("account").Inc()
			}
		case "/v1/account/renew":
			if c.Request.Method == "POST" {
				monitoring.InvoicesIssued.WithLabelValues("renewal").Inc()
			}
		case "/v1/emails/send":
			if c.Request.Method == "POST" {
				monitoring.InvoicesIssued.WithLabelValues("send").Inc()
			}
		}
	}
}
