package api

import (
	"github.com/gin-gonic/gin"

	"github.com/coinpulse/market-data-service/internal/api/handlers"
	"github.com/coinpulse/market-data-service/internal/middleware"
)

// SetupRoutes mounts the HTTP surface: a public health probe and the
// token-protected data and admin endpoints.
func SetupRoutes(router *gin.Engine, health *handlers.HealthHandler, market *handlers.MarketDataHandler, admin *handlers.AdminHandler, apiToken string) {
	router.GET("/health", health.Check)

	v1 := router.Group("/api/v1")
	v1.Use(middleware.AuthRequired(apiToken))
	{
		v1.GET("/ohlcv/:exchange/*symbol", market.GetCandles)
		v1.POST("/ohlcv/batch", market.GetCandlesBatch)
		v1.GET("/ticker/:exchange/*symbol", market.GetTicker)
		v1.GET("/tickers/:exchange", market.GetAllTickers)

		adminGroup := v1.Group("/admin")
		{
			adminGroup.POST("/gap-fill", admin.TriggerGapFill)
			adminGroup.POST("/gap-fill/batch", admin.TriggerGapFillBatch)
			adminGroup.POST("/pause/:exchange", admin.PauseExchange)
			adminGroup.POST("/resume/:exchange", admin.ResumeExchange)
			adminGroup.GET("/status", admin.Status)
		}
	}
}
