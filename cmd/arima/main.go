package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/gevsen/Mini-Arima/internal/api"
	"github.com/gevsen/Mini-Arima/internal/api/handlers"
	"github.com/gevsen/Mini-Arima/internal/config"
	"github.com/gevsen/Mini-Arima/internal/db"
	"github.com/gevsen/Mini-Arima/internal/health"
	"github.com/gevsen/Mini-Arima/internal/metrics"
	"github.com/gevsen/Mini-Arima/internal/orchestrator"
	"github.com/gevsen/Mini-Arima/internal/profile"
	"github.com/gevsen/Mini-Arima/internal/provider"
	"github.com/gevsen/Mini-Arima/internal/quota"
	"github.com/gevsen/Mini-Arima/internal/stats"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Setup logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// Database connection
	database, err := db.NewConnection(cfg.Database.URL, cfg.Database.MaxConnections, cfg.Database.MaxIdleConns)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close()

	if err := db.Migrate(database); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	repo := db.NewRepository(database)

	// Core components
	collector := metrics.NewCollector(prometheus.DefaultRegisterer)
	registry := health.NewRegistry(logger)
	backend := provider.NewClient(cfg.Provider.URL, cfg.Provider.APIKey, cfg.Provider.RatePerSecond, cfg.Provider.RateBurst, logger)
	prober := health.NewProber(backend, repo, registry, collector, cfg, logger)

	cache := profile.NewCache(repo, cfg.Cache.ProfileTTL, logger)
	profiles := profile.NewService(repo, cache, logger)
	ledger := quota.NewLedger(repo, profiles, cfg, logger)
	orch := orchestrator.New(backend, registry, ledger, profiles, collector, cfg, logger)
	statsSvc := stats.NewService(repo, cfg, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Reuse a fresh persisted snapshot instead of probing on every restart
	if err := prober.StartupReconcile(ctx); err != nil {
		logger.Error("Startup model check failed", zap.Error(err))
	}
	go prober.Run(ctx)

	// API server
	handler := handlers.NewHandler(orch, prober, registry, ledger, profiles, statsSvc, cfg, logger)
	server := api.NewServer(cfg, handler, logger)

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: server.Router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	logger.Info("Mini-Arima started", zap.String("port", cfg.Server.Port))

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Mini-Arima exited")
}
