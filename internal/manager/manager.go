// Package manager wires the caching layer together: store client, resilience
// envelope, and the cache, rate-limit, and feature-flag services. It is the
// single composition root; callers construct a Manager explicitly and pass it
// where needed instead of relying on package-level singletons.
package manager

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/drmweyers/FitnessMealPlanner-sub016/internal/cache"
	"github.com/drmweyers/FitnessMealPlanner-sub016/internal/config"
	"github.com/drmweyers/FitnessMealPlanner-sub016/internal/features"
	"github.com/drmweyers/FitnessMealPlanner-sub016/internal/ratelimit"
	"github.com/drmweyers/FitnessMealPlanner-sub016/internal/resilience"
	"github.com/drmweyers/FitnessMealPlanner-sub016/internal/store"
)

// Manager owns the lifecycle of the caching layer and exposes its services.
type Manager struct {
	cfg    config.Config
	logger *zap.Logger

	client   store.Client
	envelope *resilience.Envelope

	cache       *cache.Service
	rateLimiter *ratelimit.Service
	flags       *features.Service
}

// HealthStatus is the aggregate health report.
type HealthStatus struct {
	RedisConnected bool               `json:"redisConnected"`
	BreakerState   string             `json:"breakerState"`
	Services       ServiceStatus      `json:"services"`
	Store          resilience.Metrics `json:"store"`
}

// ServiceStatus reports which services are active.
type ServiceStatus struct {
	Cache        bool `json:"cache"`
	RateLimiting bool `json:"rateLimiting"`
	FeatureFlags bool `json:"featureFlags"`
}

// New builds a manager backed by a Redis client. reg receives the envelope's
// prometheus collectors; pass nil to skip registration.
func New(cfg config.Config, logger *zap.Logger, reg prometheus.Registerer) (*Manager, error) {
	client := store.NewRedisClient(store.RedisConfig{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
		PoolSize:     cfg.Redis.PoolSize,
	}, logger)
	return NewWithClient(cfg, logger, client, reg)
}

// NewWithClient builds a manager around an explicit store client. Tests and
// embedders without a Redis instance pass a store.MemoryClient.
func NewWithClient(cfg config.Config, logger *zap.Logger, client store.Client, reg prometheus.Registerer) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	envelope, err := resilience.New(client, resilience.Config{
		FailureThreshold:   cfg.CircuitBreaker.FailureThreshold,
		Cooldown:           cfg.CircuitBreaker.Cooldown,
		OpTimeout:          cfg.CircuitBreaker.OpTimeout,
		FallbackMaxEntries: cfg.CircuitBreaker.FallbackMaxEntries,
	}, logger, resilience.NewPromMetrics(reg))
	if err != nil {
		return nil, err
	}

	cacheSvc := cache.New(envelope, cache.Config{
		DefaultTTL:           cfg.Cache.DefaultTTL,
		CompressionThreshold: cfg.Cache.CompressionThreshold,
		StampedeLockTTL:      cfg.Cache.StampedeLockTTL,
		StampedeWaitMax:      cfg.Cache.StampedeWaitMax,
		StampedePollInterval: cfg.Cache.StampedePollInterval,
	}, logger)

	return &Manager{
		cfg:         cfg,
		logger:      logger.Named("manager"),
		client:      client,
		envelope:    envelope,
		cache:       cacheSvc,
		rateLimiter: ratelimit.New(envelope, logger),
		flags:       features.New(logger, cacheSvc),
	}, nil
}

// Initialize connects to the store. A store that is down at startup is
// tolerated: the envelope serves degraded traffic until it recovers.
func (m *Manager) Initialize(ctx context.Context) error {
	if err := m.client.Connect(ctx); err != nil {
		m.logger.Warn("store unavailable at startup, running degraded", zap.Error(err))
		return nil
	}
	m.logger.Info("caching layer initialized")
	return nil
}

// Shutdown releases the store connection.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("caching layer shutting down")
	return m.client.Close()
}

// Cache returns the cache service.
func (m *Manager) Cache() *cache.Service { return m.cache }

// RateLimiter returns the rate limit service.
func (m *Manager) RateLimiter() *ratelimit.Service { return m.rateLimiter }

// Flags returns the feature flag service.
func (m *Manager) Flags() *features.Service { return m.flags }

// HealthStatus reports connectivity, breaker state, and service flags.
func (m *Manager) HealthStatus(ctx context.Context) HealthStatus {
	connected := m.client.Ping(ctx) == nil
	return HealthStatus{
		RedisConnected: connected,
		BreakerState:   m.envelope.State().String(),
		Services: ServiceStatus{
			Cache:        m.cfg.Cache.Enabled,
			RateLimiting: m.cfg.RateLimit.Enabled,
			FeatureFlags: true,
		},
		Store: m.envelope.Snapshot(),
	}
}
