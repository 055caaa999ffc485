package main

import (
	"context"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	redis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"roomrunner/internal/archive"
	"roomrunner/internal/audit"
	"roomrunner/internal/config"
	"roomrunner/internal/db"
	"roomrunner/internal/economy"
	"roomrunner/internal/gamereg"
	httpServer "roomrunner/internal/http"
	"roomrunner/internal/http/middleware"
	"roomrunner/internal/logger"
	"roomrunner/internal/luckymine"
	"roomrunner/internal/ludo"
	"roomrunner/internal/outbox"
	"roomrunner/internal/pubsub"
	"roomrunner/internal/registry"
	"roomrunner/internal/repository"
	"roomrunner/internal/roomsvc"
	"roomrunner/internal/scheduler"
	"roomrunner/internal/service"
	"roomrunner/internal/statestore"
	"roomrunner/internal/ws"
)

func main() {
	logger.Init("info", true)
	log := logger.Get()

	cfg := config.Load()
	service.InitJWT()

	gamereg.Register("ludo", ludo.New())
	gamereg.Register("luckymine", luckymine.New())

	dbPool := db.Connect(cfg.DatabaseURL)
	defer dbPool.Close()

	rdb := redis.NewClient(mustParseRedisURL(cfg.RedisURL))
	defer rdb.Close()

	reg := registry.New(rdb)
	store := statestore.New(rdb)

	wallets := repository.NewWalletRepository(dbPool)
	ledger := repository.NewLedgerRepository(dbPool)
	outboxRepo := repository.NewOutboxRepository(dbPool)
	archiveRepo := repository.NewArchiveRepository(dbPool)
	auditRepo := repository.NewAuditRepository(dbPool)
	templateRepo := repository.NewRoomTemplateRepository(dbPool)

	publisher := pubsub.NewRedisPublisher(rdb)
	econ := economy.New(wallets, ledger, outboxRepo, publisher, templateRepo, cfg.Economy.InitialCoins, log)
	archiver := archive.New(archiveRepo)
	auditSvc := audit.New(auditRepo)

	rooms := roomsvc.New(reg, store, econ, log)
	outboxDispatcher := outbox.New(outboxRepo, archiver, publisher, rooms, log)

	dispatcher := ws.NewDispatcher(reg, store, rooms, econ, outboxRepo, log, cfg.Session.ReconnectionGracePeriod, cfg.RateLimit.MessagesPerMinute, cfg.Session.MaxConnectionsPerUser)
	wsHandler := ws.NewHandler(dispatcher, log)

	sched := scheduler.New(reg, store, dispatcher.HandleSchedulerResult, cfg.GameLoop.TickInterval, log)
	snapshots := statestore.NewSnapshotWorker(store, reg, dbPool, gamereg.Types, 0, log)

	r := gin.Default()
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin != "" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
			c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		}
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	middleware.SetClient(rdb)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	adminCfg := httpServer.AdminConfig{APIKey: cfg.Security.AdminAPIKey, Enforce: cfg.Security.EnforceAPIKeyValidation}
	httpServer.RegisterRoutes(r, dbPool, rdb, reg, rooms, dispatcher, wsHandler, econ, auditSvc, adminCfg, cfg.RateLimit.MessagesPerMinute, "1.0.0")

	srv := &http.Server{
		Addr:    ":" + cfg.AppPort,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error { return sched.Run(gctx) })
	group.Go(func() error { return outboxDispatcher.Run(gctx) })
	group.Go(func() error { return snapshots.Run(gctx) })
	group.Go(func() error { return econ.RunKeyRetention(gctx, cfg.Economy.IdempotencyKeyRetentionDays) })

	group.Go(func() error {
		log.Info("server started", "port", cfg.AppPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	<-ctx.Done()
	log.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", "err", err)
	}

	if err := group.Wait(); err != nil && err != context.Canceled {
		log.Error("background services exited with error", "err", err)
	}
	log.Info("server exited")
}

func mustParseRedisURL(raw string) *redis.Options {
	opts, err := redis.ParseURL(raw)
	if err != nil {
		slog.Default().Error("invalid REDIS_URL, falling back to localhost", "err", err)
		return &redis.Options{Addr: "localhost:6379"}
	}
	return opts
}
