package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/coinpulse/market-data-service/internal/api/handlers"
	"github.com/coinpulse/market-data-service/internal/config"
)

type okChecker struct{}

func (okChecker) HealthCheck(ctx context.Context) error { return nil }

func newTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()

	health := handlers.NewHealthHandler(okChecker{}, okChecker{}, nil)
	market := handlers.NewMarketDataHandler(nil, config.CollectionConfig{})
	admin := handlers.NewAdminHandler(nil, config.CollectionConfig{})

	SetupRoutes(router, health, market, admin, "test-token")
	return router
}

func TestRoutes_HealthIsPublic(t *testing.T) {
	router := newTestRouter()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRoutes_DataAndAdminRequireAuth(t *testing.T) {
	router := newTestRouter()

	paths := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/v1/ohlcv/binance/BTC/USDT"},
		{http.MethodPost, "/api/v1/ohlcv/batch"},
		{http.MethodGet, "/api/v1/ticker/binance/BTC/USDT"},
		{http.MethodGet, "/api/v1/tickers/binance"},
		{http.MethodPost, "/api/v1/admin/gap-fill"},
		{http.MethodGet, "/api/v1/admin/status"},
	}

	for _, p := range paths {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(p.method, p.path, nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code, p.path)
	}
}
