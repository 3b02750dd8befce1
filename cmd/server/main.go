package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"lnemail/backend/internal/config"
	"lnemail/backend/internal/lightning"
	"lnemail/backend/internal/logger"
	"lnemail/backend/internal/mailer"
	"lnemail/backend/internal/provisioner"
	"lnemail/backend/internal/scheduler"
	"lnemail/backend/internal/service"
	"lnemail/backend/internal/storage"
	"lnemail/backend/internal/storage/hybrid"
	"lnemail/backend/internal/storage/memory"
	rediscache "lnemail/backend/internal/storage/redis"
	sqlstore "lnemail/backend/internal/storage/sql"
	httptransport "lnemail/backend/internal/transport/http"
	"lnemail/backend/internal/websocket"
)

// main 启动 LNemail 核心服务: REST API、结算对账调度器与 WebSocket 推送。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if cfg.Log.Development {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	log := logger.NewDefault(cfg.Log.Level, cfg.Log.Development)
	defer func() { _ = log.Sync() }()

	log.Info("starting lnemail server",
		zap.String("mail_domain", cfg.Mail.Domain),
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
	)

	store, cache, err := initializeStorage(cfg, log)
	if err != nil {
		log.Fatal("failed to initialize storage", zap.Error(err))
	}
	defer func() { _ = store.Close() }()

	lnd, err := lightning.NewClient(cfg.LND, log)
	if err != nil {
		log.Fatal("failed to initialize lightning client", zap.Error(err))
	}

	// Redis 可用时在结算查询前叠加缓存，已确认的结算不再触达节点
	var gateway service.InvoiceGateway = lnd
	if cache != nil {
		gateway = lightning.NewSettlementCache(lnd, cache, log)
	}

	agent, err := provisioner.NewAgent(cfg.Agent, log)
	if err != nil {
		log.Fatal("failed to initialize mail agent", zap.Error(err))
	}

	mail := mailer.NewMailer(cfg.Mail, log)

	sched := scheduler.New(4, 256, log)
	sched.Start()
	defer sched.Stop()

	hub := websocket.NewHub(cfg.CORS.AllowedOrigins, log)

	accountSvc := service.NewAccountService(store, gateway, agent, sched, hub, cfg.Pricing, cfg.Mail.Domain, log)
	sendSvc := service.NewSendService(store, gateway, mail, sched, hub, cfg.Pricing, log)
	inboxSvc := service.NewInboxService(mail, cfg.Mail.Domain, log)

	// 进程重启期间错过的对账在启动时补齐
	sendSvc.RecoverUnfinished(context.Background())

	// 生命周期清扫
	sched.RunEvery("expire-stale-sends", time.Hour, sendSvc.ExpireStaleSends)
	sched.RunEvery("expire-stale-pending-accounts", 24*time.Hour, accountSvc.ExpireStalePendingAccounts)
	sched.RunEvery("purge-expired-accounts", 24*time.Hour, accountSvc.PurgeExpiredAccounts)
	sched.RunEvery("purge-old-sends", 24*time.Hour, sendSvc.PurgeOldSends)

	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Accounts: accountSvc,
		Sends:    sendSvc,
		Inbox:    inboxSvc,
		Store:    store,
		Hub:      hub,
		CORS:     cfg.CORS,
		Log:      log,
	})

	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	group.Go(func() error {
		hub.Run(groupCtx)
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}
		return nil
	})

	if err := group.Wait(); err != nil && err != context.Canceled {
		log.Fatal("server error", zap.Error(err))
	}

	log.Info("server exited cleanly")
}

// initializeStorage 按配置选择存储后端。
//
// 配置了数据库时使用 SQL 存储，Redis 可达时叠加令牌读缓存；
// 否则退化为内存存储，仅适用于开发环境。
func initializeStorage(cfg *config.Config, log *zap.Logger) (storage.Store, *rediscache.Cache, error) {
	if cfg.Database.Type == "" || cfg.Database.DSN == "" {
		log.Info("using in-memory storage (development mode)")
		return memory.NewStore(), nil, nil
	}

	primary, err := sqlstore.NewStore(sqlstore.Config{
		Type:            cfg.Database.Type,
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("open sql store: %w", err)
	}
	log.Info("using sql storage", zap.String("type", cfg.Database.Type))

	cache, err := rediscache.NewCache(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Warn("redis unavailable, continuing without cache", zap.Error(err))
		return primary, nil, nil
	}
	log.Info("redis cache enabled", zap.String("address", cfg.Redis.Address))

	return hybrid.NewStore(primary, cache, log), cache, nil
}
