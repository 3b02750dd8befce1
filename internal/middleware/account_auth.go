package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"lnemail/backend/internal/domain"
	"lnemail/backend/internal/storage"
)

// accountContextKey 存入 gin.Context 的账户键名
const accountContextKey = "account"

// extractToken 按优先级提取访问令牌:
// Authorization Bearer > X-Access-Token 头 > token 查询参数
func extractToken(c *gin.Context) string {
	if auth := c.GetHeader("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}

	if token := c.GetHeader("X-Access-Token"); token != "" {
		return strings.TrimSpace(token)
	}

	return strings.TrimSpace(c.Query("token"))
}

// resolveAccount 提取令牌并查询账户，失败时写出响应并中止
func resolveAccount(c *gin.Context, store storage.Store, log *zap.Logger) (*domain.EmailAccount, bool) {
	token := extractToken(c)
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"code": http.StatusUnauthorized,
			"msg":  "缺少访问令牌",
		})
		return nil, false
	}

	account, err := store.GetAccountByToken(token)
	if err != nil {
		if errors.Is(err, storage.ErrAccountNotFound) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code": http.StatusUnauthorized,
				"msg":  "访问令牌无效",
			})
			return nil, false
		}
		log.Error("账户查询失败", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"code": http.StatusInternalServerError,
			"msg":  "服务器内部错误",
		})
		return nil, false
	}

	return account, true
}

// RequireActiveAccount 要求账户已支付且在有效期内，用于收件箱与外发接口
func RequireActiveAccount(store storage.Store, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		account, ok := resolveAccount(c, store, log)
		if !ok {
			return
		}

		if !account.IsActive(time.Now()) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"code": http.StatusForbidden,
				"msg":  "账户未激活或已过期",
			})
			return
		}

		c.Set(accountContextKey, account)
		c.Next()
	}
}

// RequireRenewableAccount 要求账户已支付且处于宽限期内，仅用于续期接口。
// 已过名义有效期但未超出宽限期的账户仍可通过。
func RequireRenewableAccount(store storage.Store, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		account, ok := resolveAccount(c, store, log)
		if !ok {
			return
		}

		if !account.IsRenewable(time.Now()) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"code": http.StatusForbidden,
				"msg":  "账户已超出续期宽限期",
			})
			return
		}

		c.Set(accountContextKey, account)
		c.Next()
	}
}

// AccountFromContext 取出鉴权中间件写入的账户
func AccountFromContext(c *gin.Context) (*domain.EmailAccount, bool) {
	value, exists := c.Get(accountContextKey)
	if !exists {
		return nil, false
	}
	account, ok := value.(*domain.EmailAccount)
	return account, ok
}
