package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/kestrelhq/chatgate/internal/service"
	"github.com/kestrelhq/chatgate/pkg/redis"
)

// HealthHandler reports liveness of the service and its dependencies
type HealthHandler struct {
	db      *gorm.DB
	redis   *redis.Client
	gateway *service.ModelGatewayClient
	appName string
	version string
}

func NewHealthHandler(db *gorm.DB, rdb *redis.Client, gateway *service.ModelGatewayClient, appName, version string) *HealthHandler {
	return &HealthHandler{
		db:      db,
		redis:   rdb,
		gateway: gateway,
		appName: appName,
		version: version,
	}
}

// Live handles GET /health, a bare liveness probe
func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": h.appName,
		"version": h.version,
	})
}

// Ready handles GET /health/ready: database, cache and upstream daemon are
// each probed with a short deadline. The database is the only hard
// dependency; anything else failing degrades rather than fails the check.
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	components := gin.H{}
	status := http.StatusOK
	overall := "ok"

	if sqlDB, err := h.db.DB(); err != nil {
		components["database"] = "error: " + err.Error()
		status = http.StatusServiceUnavailable
		overall = "unavailable"
	} else if err := sqlDB.PingContext(ctx); err != nil {
		components["database"] = "error: " + err.Error()
		status = http.StatusServiceUnavailable
		overall = "unavailable"
	} else {
		components["database"] = "ok"
	}

	if h.redis == nil || !h.redis.IsEnabled() {
		components["redis"] = "disabled"
	} else if err := h.redis.Ping(ctx); err != nil {
		components["redis"] = "error: " + err.Error()
		if overall == "ok" {
			overall = "degraded"
		}
	} else {
		components["redis"] = "ok"
	}

	if _, err := h.gateway.Version(ctx); err != nil {
		components["ollama"] = "error: " + err.Error()
		if overall == "ok" {
			overall = "degraded"
		}
	} else {
		components["ollama"] = "ok"
	}

	c.JSON(status, gin.H{
		"status":     overall,
		"service":    h.appName,
		"version":    h.version,
		"components": components,
	})
}
