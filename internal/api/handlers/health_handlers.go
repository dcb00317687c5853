package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/stacklayer/custody-service/internal/infrastructure/cache"
	"github.com/stacklayer/custody-service/internal/infrastructure/database"
)

// HealthHandlers serves liveness and readiness probes
type HealthHandlers struct {
	db    *sqlx.DB
	redis cache.RedisClient
}

// NewHealthHandlers creates health handlers
func NewHealthHandlers(db *sqlx.DB, redis cache.RedisClient) *HealthHandlers {
	return &HealthHandlers{db: db, redis: redis}
}

// Health reports process liveness
func (h *HealthHandlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}

// Ready reports dependency readiness
func (h *HealthHandlers) Ready(c *gin.Context) {
	checks := gin.H{}
	healthy := true

	if err := database.HealthCheck(h.db); err != nil {
		checks["database"] = err.Error()
		healthy = false
	} else {
		checks["database"] = "ok"
	}

	if h.redis != nil {
		if err := h.redis.Ping(c.Request.Context()); err != nil {
			checks["redis"] = err.Error()
			healthy = false
		} else {
			checks["redis"] = "ok"
		}
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"checks": checks})
}
