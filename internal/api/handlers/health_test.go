package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinpulse/market-data-service/pkg/exchange"
)

type fakeChecker struct {
	err error
}

func (f *fakeChecker) HealthCheck(ctx context.Context) error { return f.err }

func healthRouter(postgres, redis HealthChecker, exchanges map[string]exchange.Client) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/health", NewHealthHandler(postgres, redis, exchanges).Check)
	return router
}

func doHealth(t *testing.T, router *gin.Engine) (int, HealthResponse) {
	t.Helper()
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w.Code, resp
}

func TestHealth_AllHealthy(t *testing.T) {
	router := healthRouter(&fakeChecker{}, &fakeChecker{},
		map[string]exchange.Client{"binance": newStubClient("binance")})

	code, resp := doHealth(t, router)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "healthy", resp.Components["postgres"])
	assert.Equal(t, "healthy", resp.Components["redis"])
	assert.Equal(t, "healthy", resp.Components["exchange:binance"])
}

func TestHealth_DatabaseDownDegrades(t *testing.T) {
	router := healthRouter(&fakeChecker{err: errors.New("connection refused")}, &fakeChecker{}, nil)

	code, resp := doHealth(t, router)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "degraded", resp.Status)
	assert.Contains(t, resp.Components["postgres"], "unhealthy")
}

func TestHealth_ExchangeDownDoesNotDegrade(t *testing.T) {
	client := newStubClient("binance")
	client.healthErr = errors.New("gateway timeout")
	router := healthRouter(&fakeChecker{}, &fakeChecker{},
		map[string]exchange.Client{"binance": client})

	code, resp := doHealth(t, router)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "unreachable", resp.Components["exchange:binance"])
}
