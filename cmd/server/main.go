package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/coinpulse/market-data-service/internal/api"
	"github.com/coinpulse/market-data-service/internal/api/handlers"
	"github.com/coinpulse/market-data-service/internal/cache"
	"github.com/coinpulse/market-data-service/internal/config"
	"github.com/coinpulse/market-data-service/internal/database"
	"github.com/coinpulse/market-data-service/internal/services"
	"github.com/coinpulse/market-data-service/pkg/exchange"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logrus.SetLevel(level)
	}
	if cfg.Environment != "development" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}

	db, err := database.NewPostgresConnection(cfg.Database)
	if err != nil {
		logrus.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	redis, err := database.NewRedisConnection(cfg.Redis)
	if err != nil {
		logrus.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redis.Close()

	clients := make(map[string]exchange.Client)
	for _, ex := range cfg.Collection.Exchanges {
		clients[ex.ID] = exchange.NewGatewayClient(ex.ID, cfg.Gateway)
	}

	repo := database.NewCandleRepository(db.Pool)
	candleCache := cache.NewCandleCache(redis.Client, cfg.Cache.CandleWindowSize)
	tickerCache := cache.NewTickerCache(redis.Client, time.Duration(cfg.Cache.TickerTTLSeconds)*time.Second)

	pauses := services.NewPauseRegistry()
	market := services.NewMarketDataService(repo, candleCache, tickerCache, clients)

	batchDelay, err := time.ParseDuration(cfg.Collection.GapFillBatchDelay)
	if err != nil {
		logrus.Fatalf("Invalid gap fill batch delay: %v", err)
	}
	gapfill := services.NewGapFillService(repo, candleCache, clients, pauses, batchDelay)

	scheduler, err := services.NewCollectionScheduler(cfg.Collection, clients, market, gapfill, pauses)
	if err != nil {
		logrus.Fatalf("Failed to build scheduler: %v", err)
	}
	if err := scheduler.Start(); err != nil {
		logrus.Fatalf("Failed to start scheduler: %v", err)
	}

	if cfg.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()

	healthHandler := handlers.NewHealthHandler(db, redis, clients)
	marketHandler := handlers.NewMarketDataHandler(market, cfg.Collection)
	adminHandler := handlers.NewAdminHandler(scheduler, cfg.Collection)
	api.SetupRoutes(router, healthHandler, marketHandler, adminHandler, cfg.Security.APIToken)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logrus.Infof("Server starting on port %d", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("Shutting down...")

	// Collectors first so no writes race the draining server.
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logrus.Fatalf("Server forced to shutdown: %v", err)
	}

	logrus.Info("Server exited")
}
