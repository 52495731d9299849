package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/coinpulse/market-data-service/pkg/exchange"
)

// HealthChecker is anything that can probe its own connectivity.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthHandler reports component status. Postgres or Redis being down
// degrades the service; an unreachable exchange does not, because the
// stored history still serves reads.
type HealthHandler struct {
	postgres  HealthChecker
	redis     HealthChecker
	exchanges map[string]exchange.Client
}

// NewHealthHandler creates the health handler.
func NewHealthHandler(postgres, redis HealthChecker, exchanges map[string]exchange.Client) *HealthHandler {
	return &HealthHandler{postgres: postgres, redis: redis, exchanges: exchanges}
}

// HealthResponse is the /health payload.
type HealthResponse struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Components map[string]string `json:"components"`
}

// Check handles GET /health.
func (h *HealthHandler) Check(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	components := make(map[string]string)
	degraded := false

	if err := h.postgres.HealthCheck(ctx); err != nil {
		components["postgres"] = "unhealthy: " + err.Error()
		degraded = true
	} else {
		components["postgres"] = "healthy"
	}

	if err := h.redis.HealthCheck(ctx); err != nil {
		components["redis"] = "unhealthy: " + err.Error()
		degraded = true
	} else {
		components["redis"] = "healthy"
	}

	for exchangeID, client := range h.exchanges {
		if err := client.HealthCheck(ctx); err != nil {
			components["exchange:"+exchangeID] = "unreachable"
		} else {
			components["exchange:"+exchangeID] = "healthy"
		}
	}

	status := "healthy"
	code := http.StatusOK
	if degraded {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, HealthResponse{
		Status:     status,
		Timestamp:  time.Now().UTC(),
		Components: components,
	})
}
