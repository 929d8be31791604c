package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/gommon/log"

	"github.com/sreedath/simplepaperbanana/internal/adapter/pipeline"
	"github.com/sreedath/simplepaperbanana/internal/config"
	"github.com/sreedath/simplepaperbanana/internal/hub"
	"github.com/sreedath/simplepaperbanana/internal/metrics"
	"github.com/sreedath/simplepaperbanana/internal/policy"
	"github.com/sreedath/simplepaperbanana/internal/repository"
	"github.com/sreedath/simplepaperbanana/internal/service"
	transporthttp "github.com/sreedath/simplepaperbanana/internal/transport/http"
	"github.com/sreedath/simplepaperbanana/internal/transport/ws"
)

func main() {
	logger := log.New("paperbanana")
	logger.SetHeader("${time_rfc3339} ${level} ${prefix}")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	logger.SetLevel(parseLevel(cfg.LogLevel))

	logger.Infof("Starting generation bridge...")
	logger.Infof("HTTP Port: %d", cfg.HTTPPort)
	logger.Infof("Store: %s (%s)", cfg.StoreDriver, cfg.DatabaseURL)
	logger.Infof("Max runs: %d, run TTL: %s", cfg.MaxRuns, cfg.RunTTL)

	// Initialize store
	opts := repository.Options{Capacity: cfg.MaxRuns, TTL: cfg.RunTTL}
	var store repository.Store
	switch cfg.StoreDriver {
	case config.StoreSQLite:
		db, err := repository.NewSQLiteStore(cfg.DatabaseURL, opts)
		if err != nil {
			logger.Fatalf("Failed to initialize store: %v", err)
		}
		store = db
	default:
		store = repository.NewMemoryStore(opts)
	}
	defer store.Close()

	// Initialize pipeline client
	var p pipeline.Pipeline
	if cfg.PipelineURL != "" {
		logger.Infof("Pipeline: %s", cfg.PipelineURL)
		p = pipeline.NewRemoteClient(cfg.PipelineURL, cfg.PipelineTimeout)
	} else {
		logger.Infof("Pipeline: simulated, writing to %s", cfg.OutputDir)
		p = pipeline.NewSimulated(cfg.OutputDir, cfg.SimulatedStepDelay)
	}

	// Initialize policy engine
	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	policyEngine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	if err != nil {
		logger.Fatalf("Failed to initialize policy engine: %v", err)
	}

	// Initialize service
	m := metrics.New()
	svc := service.New(store, p, hub.NewHub(), policyEngine, m, cfg, logger)
	go svc.RunEvictionSweeper(ctx)

	// Create Echo server
	server := transporthttp.NewServer(svc, m, ws.NewServer(svc, cfg.WriteTimeout), cfg)
	server.Logger = logger

	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := server.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	logger.Infof("API started on port %d", cfg.HTTPPort)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Infof("Shutting down...")
	stop()

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("Failed to shutdown server gracefully: %v", err)
	}

	// Give in-flight runs the rest of the grace period to record a terminal event.
	done := make(chan struct{})
	go func() {
		svc.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warnf("Exiting with runs still in flight")
	}

	logger.Infof("Stopped")
}

func parseLevel(level string) log.Lvl {
	switch strings.ToLower(level) {
	case "debug":
		return log.DEBUG
	case "warn", "warning":
		return log.WARN
	case "error":
		return log.ERROR
	case "off":
		return log.OFF
	default:
		return log.INFO
	}
}
