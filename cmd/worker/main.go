package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/projectpulse/pulse/internal/app"
	"github.com/projectpulse/pulse/pkg/config"
	"github.com/projectpulse/pulse/pkg/observability"
)

func main() {
	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		observability.NewLogger(observability.DevelopmentLogConfig()).
			Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logCfg := observability.ProductionLogConfig()
	if cfg.IsDevelopment() {
		logCfg = observability.DevelopmentLogConfig()
	}
	logCfg.Level = cfg.LogLevel
	logger := observability.NewLogger(logCfg)

	logger.Info("starting pulse worker", "env", cfg.AppEnv)

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	container, err := app.NewContainer(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize container", "error", err)
		os.Exit(1)
	}
	defer container.Close()

	if err := container.Migrate(ctx); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	// Start the periodic trigger loops and the immediate update loop.
	container.Scheduler.Start(ctx)
	container.Immediate.Start(ctx)

	if cfg.WorkerHealthAddr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			response := map[string]any{
				"status":    "ok",
				"triggers":  container.Scheduler.Stats(),
				"immediate": container.Immediate.Stats(),
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(response)
		})

		mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
			overall := container.Health.Overall(r.Context())
			w.Header().Set("Content-Type", "application/json")
			if overall.Status == observability.HealthStatusUnhealthy {
				w.WriteHeader(http.StatusServiceUnavailable)
			}
			_ = json.NewEncoder(w).Encode(overall)
		})

		healthSrv := &http.Server{
			Addr:              cfg.WorkerHealthAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}

		go func() {
			logger.Info("health server starting", "addr", cfg.WorkerHealthAddr)
			if err := healthSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("health server error", "error", err)
			}
		}()

		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := healthSrv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("health server shutdown error", "error", err)
			}
		}()
	}

	statsTicker := time.NewTicker(cfg.WorkerStatsInterval)
	defer statsTicker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-statsTicker.C:
				immediate := container.Immediate.Stats()
				logger.Info("worker stats",
					"immediate_running", immediate.IsRunning,
					"immediate_processed", immediate.ProcessedCount,
					"immediate_failed", immediate.FailedCount,
					"dirty_pending", container.Dirty.Len(),
				)
			}
		}
	}()

	// Wait for shutdown
	<-ctx.Done()
	logger.Info("shutting down worker")

	container.Scheduler.Stop()
	container.Immediate.Stop()
	logger.Info("worker stopped")
}
