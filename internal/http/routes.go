package http

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	redis "github.com/redis/go-redis/v9"

	"roomrunner/internal/audit"
	"roomrunner/internal/economy"
	"roomrunner/internal/http/handlers"
	"roomrunner/internal/http/middleware"
	"roomrunner/internal/registry"
	"roomrunner/internal/roomsvc"
	"roomrunner/internal/ws"
)

// AdminConfig gates the admin wallet-adjustment surface behind a static
// API key, enforced only when the deployment turns it on.
type AdminConfig struct {
	APIKey  string
	Enforce bool
}

// RegisterRoutes wires the platform's public surface: health/readiness
// probes, Prometheus metrics are mounted by the caller, a small REST layer
// for room lifecycle, an admin wallet-adjustment endpoint, and the
// websocket upgrade that hands off to the dispatcher for everything
// gameplay-related.
func RegisterRoutes(r *gin.Engine, db *pgxpool.Pool, rdb *redis.Client, reg *registry.Registry, rooms *roomsvc.Service, dispatcher *ws.Dispatcher, wsHandler *ws.Handler, econ *economy.Core, auditSvc *audit.Service, admin AdminConfig, messagesPerMinute int, version string) {
	healthHandler := handlers.NewHealthHandler(db, rdb, version)
	r.GET("/health", healthHandler.Health)
	r.GET("/healthz", healthHandler.Liveness)
	r.GET("/readyz", healthHandler.Readiness)

	roomHandler := handlers.NewRoomHandler(rooms, dispatcher, reg)
	api := r.Group("/api/v1")
	{
		roomRoutes := api.Group("/rooms")
		roomRoutes.Use(middleware.JWT())
		roomRoutes.Use(middleware.RedisRateLimit(messagesPerMinute, time.Minute))
		roomRoutes.POST("", roomHandler.Create)
		roomRoutes.GET("", roomHandler.List)
		roomRoutes.GET("/:id", roomHandler.Get)
		roomRoutes.POST("/:id/join", roomHandler.Join)
		roomRoutes.POST("/:id/leave", roomHandler.Leave)
	}

	r.GET("/ws", wsHandler.Upgrade())

	adminHandler := handlers.NewAdminHandler(econ, auditSvc)
	adminRoutes := api.Group("/admin")
	adminRoutes.Use(middleware.JWT())
	adminRoutes.Use(middleware.APIKey(admin.APIKey, admin.Enforce))
	adminRoutes.POST("/wallet/adjust", adminHandler.Adjust)
	adminRoutes.GET("/users/:userId/history", adminHandler.History)
}
