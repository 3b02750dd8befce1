package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"lnemail/backend/internal/domain"
	"lnemail/backend/internal/storage/memory"
)

func newAuthRouter(t *testing.T, guard gin.HandlerFunc) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.GET("/protected", guard, func(c *gin.Context) {
		account, ok := AccountFromContext(c)
		require.True(t, ok)
		c.String(http.StatusOK, account.EmailAddress)
	})
	return router
}

func seedAccount(t *testing.T, store *memory.Store, expiresAt time.Time) *domain.EmailAccount {
	t.Helper()

	account := &domain.EmailAccount{
		EmailAddress:  "guard001@lnemail.net",
		AccessToken:   "token-guard-001",
		EmailPassword: "pw",
		PaymentStatus: domain.PaymentPaid,
		CreatedAt:     time.Now().Add(-time.Hour),
		ExpiresAt:     expiresAt,
	}
	require.NoError(t, store.CreateAccount(account))
	return account
}

func doRequest(router *gin.Engine, configure func(*http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if configure != nil {
		configure(req)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestRequireActiveAccount(t *testing.T) {
	t.Run("缺少令牌返回401", func(t *testing.T) {
		store := memory.NewStore()
		router := newAuthRouter(t, RequireActiveAccount(store, zap.NewNop()))

		rec := doRequest(router, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("无效令牌返回401", func(t *testing.T) {
		store := memory.NewStore()
		router := newAuthRouter(t, RequireActiveAccount(store, zap.NewNop()))

		rec := doRequest(router, func(req *http.Request) {
			req.Header.Set("Authorization", "Bearer bogus")
		})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("有效账户放行并注入上下文", func(t *testing.T) {
		store := memory.NewStore()
		account := seedAccount(t, store, time.Now().Add(30*24*time.Hour))
		router := newAuthRouter(t, RequireActiveAccount(store, zap.NewNop()))

		rec := doRequest(router, func(req *http.Request) {
			req.Header.Set("Authorization", "Bearer "+account.AccessToken)
		})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, account.EmailAddress, rec.Body.String())
	})

	t.Run("过期账户返回403", func(t *testing.T) {
		store := memory.NewStore()
		account := seedAccount(t, store, time.Now().Add(-24*time.Hour))
		router := newAuthRouter(t, RequireActiveAccount(store, zap.NewNop()))

		rec := doRequest(router, func(req *http.Request) {
			req.Header.Set("Authorization", "Bearer "+account.AccessToken)
		})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("令牌可经由请求头或查询参数传递", func(t *testing.T) {
		store := memory.NewStore()
		account := seedAccount(t, store, time.Now().Add(30*24*time.Hour))
		router := newAuthRouter(t, RequireActiveAccount(store, zap.NewNop()))

		rec := doRequest(router, func(req *http.Request) {
			req.Header.Set("X-Access-Token", account.AccessToken)
		})
		assert.Equal(t, http.StatusOK, rec.Code)

		rec = doRequest(router, func(req *http.Request) {
			q := req.URL.Query()
			q.Set("token", account.AccessToken)
			req.URL.RawQuery = q.Encode()
		})
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestRequireRenewableAccount(t *testing.T) {
	t.Run("宽限期内的过期账户放行", func(t *testing.T) {
		store := memory.NewStore()
		account := seedAccount(t, store, time.Now().Add(-100*24*time.Hour))
		router := newAuthRouter(t, RequireRenewableAccount(store, zap.NewNop()))

		rec := doRequest(router, func(req *http.Request) {
			req.Header.Set("Authorization", "Bearer "+account.AccessToken)
		})
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("超出宽限期返回403", func(t *testing.T) {
		store := memory.NewStore()
		account := seedAccount(t, store, time.Now().Add(-400*24*time.Hour))
		router := newAuthRouter(t, RequireRenewableAccount(store, zap.NewNop()))

		rec := doRequest(router, func(req *http.Request) {
			req.Header.Set("Authorization", "Bearer "+account.AccessToken)
		})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}
