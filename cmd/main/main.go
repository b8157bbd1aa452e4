// Command main runs the caching layer as a standalone sidecar process: it
// wires the manager and exposes health and metrics endpoints. Applications
// embedding the layer as a library construct manager.New themselves.
package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/drmweyers/FitnessMealPlanner-sub016/internal/config"
	"github.com/drmweyers/FitnessMealPlanner-sub016/internal/manager"
	"github.com/drmweyers/FitnessMealPlanner-sub016/internal/middleware"
	"github.com/drmweyers/FitnessMealPlanner-sub016/internal/ratelimit"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, logLevel, err := buildLogger(cfg.Logging.Level)
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer logger.Sync()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		watcher, err := config.NewWatcher(path, cfg, logger)
		if err != nil {
			logger.Warn("config hot reload unavailable", zap.Error(err))
		} else {
			defer watcher.Close()
			watcher.OnChange(func(next config.Config) {
				if lvl, err := zap.ParseAtomicLevel(next.Logging.Level); err == nil {
					logLevel.SetLevel(lvl.Level())
				}
			})
		}
	}

	mgr, err := manager.New(cfg, logger, prometheus.DefaultRegisterer)
	if err != nil {
		logger.Fatal("build manager", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := mgr.Initialize(ctx); err != nil {
		logger.Fatal("initialize caching layer", zap.Error(err))
	}

	if cfg.RateLimit.Enabled {
		// A conservative default guard on the health endpoints themselves.
		if err := mgr.RateLimiter().AddRule(ratelimit.Rule{
			ID:          "default-ip",
			Name:        "per-IP default",
			Algorithm:   ratelimit.AlgorithmFixedWindow,
			WindowMs:    60_000,
			MaxRequests: 600,
			Enabled:     true,
			Priority:    100,
		}); err != nil {
			logger.Fatal("register default rate rule", zap.Error(err))
		}
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	if cfg.RateLimit.Enabled {
		r.Use(middleware.RateLimit(mgr.RateLimiter()))
	}
	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		status := mgr.HealthStatus(req.Context())
		w.Header().Set("Content-Type", "application/json")
		if !status.RedisConnected {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(status)
	})
	r.Handle("/metrics", promhttp.Handler())

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("serve", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if err := mgr.Shutdown(shutdownCtx); err != nil {
		logger.Warn("manager shutdown", zap.Error(err))
	}
}

func buildLogger(level string) (*zap.Logger, zap.AtomicLevel, error) {
	cfg := zap.NewProductionConfig()
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, lvl, err
	}
	cfg.Level = lvl
	logger, err := cfg.Build()
	return logger, lvl, err
}
