package http

import (
	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"lnemail/backend/internal/config"
	"lnemail/backend/internal/health"
	"lnemail/backend/internal/middleware"
	"lnemail/backend/internal/monitoring"
	"lnemail/backend/internal/service"
	"lnemail/backend/internal/storage"
	"lnemail/backend/internal/websocket"
)

// Handler 聚合所有 HTTP 处理器依赖
type Handler struct {
	accounts *service.AccountService
	sends    *service.SendService
	inbox    *service.InboxService
	log      *zap.Logger
}

// RouterDependencies 定义路由装配所需的全部依赖
type RouterDependencies struct {
	Accounts *service.AccountService
	Sends    *service.SendService
	Inbox    *service.InboxService
	Store    storage.Store
	Hub      *websocket.Hub
	CORS     config.CORSConfig
	Log      *zap.Logger
}

// NewRouter 装配完整的 HTTP 路由
func NewRouter(deps RouterDependencies) *gin.Engine {
	h := &Handler{
		accounts: deps.Accounts,
		sends:    deps.Sends,
		inbox:    deps.Inbox,
		log:      deps.Log,
	}

	router := gin.New()
	router.Use(middleware.RecoveryHandler(deps.Log))
	router.Use(middleware.RequestLogger(deps.Log))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.HTTPMetrics())
	router.Use(middleware.BusinessMetrics())
	router.Use(middleware.BodySizeLimit(middleware.MaxRequestBodyBytes))

	corsConfig := gincors.Config{
		AllowOrigins:     deps.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Access-Token"},
		AllowCredentials: true,
	}
	for _, origin := range deps.CORS.AllowedOrigins {
		if origin == "*" {
			// 通配来源与凭证不能同时开启
			corsConfig.AllowAllOrigins = true
			corsConfig.AllowOrigins = nil
			corsConfig.AllowCredentials = false
			break
		}
	}
	router.Use(gincors.New(corsConfig))

	// 运维端点
	healthHandler := health.NewHandler(deps.Store)
	router.GET("/health", gin.WrapF(healthHandler.ReadyEndpoint))
	router.GET("/health/live", gin.WrapF(healthHandler.LiveEndpoint))
	router.GET("/health/ready", gin.WrapF(healthHandler.ReadyEndpoint))
	router.GET("/metrics", gin.WrapH(monitoring.HTTPHandler()))
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	v1 := router.Group("/v1")
	{
		// 无需鉴权: 账户购买与支付状态查询，支付哈希即凭证
		v1.POST("/accounts", h.CreateAccount)
		v1.GET("/payments/:hash", h.PaymentStatus)
		v1.GET("/account/renew/status/:hash", h.RenewalStatus)
		v1.GET("/emails/send/status/:hash", h.SendStatus)

		if deps.Hub != nil {
			v1.GET("/ws/payments/:hash", websocket.HandleSubscription(deps.Hub))
		}

		// 宽限期内可访问: 账户概要与续期
		renewable := v1.Group("")
		renewable.Use(middleware.RequireRenewableAccount(deps.Store, deps.Log))
		{
			renewable.GET("/account", h.AccountDetails)
			renewable.POST("/account/renew", h.RenewAccount)
		}

		// 仅限有效期内的已支付账户: 收件箱与外发
		active := v1.Group("")
		active.Use(middleware.RequireActiveAccount(deps.Store, deps.Log))
		{
			active.GET("/emails", h.ListEmails)
			active.GET("/emails/:id", h.GetEmail)
			active.DELETE("/emails/:id", h.DeleteEmail)
			active.POST("/emails/send", h.SendEmail)
			active.GET("/emails/send/recent", h.RecentSends)
		}
	}

	return router
}
