// Package resilience wraps the store client with a circuit breaker and an
// in-process fallback cache so that store outages degrade service instead of
// cascading into callers.
package resilience

import (
	"context"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	apperrors "github.com/drmweyers/FitnessMealPlanner-sub016/internal/errors"
	"github.com/drmweyers/FitnessMealPlanner-sub016/internal/store"
)

// Config controls breaker and fallback behavior.
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens the
	// breaker.
	FailureThreshold uint32
	// Cooldown is how long the breaker stays open before allowing a
	// half-open probe.
	Cooldown time.Duration
	// OpTimeout bounds every store call; a call exceeding it counts as a
	// breaker failure rather than being awaited indefinitely.
	OpTimeout time.Duration
	// FallbackMaxEntries bounds the in-process fallback LRU.
	FallbackMaxEntries int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:   5,
		Cooldown:           30 * time.Second,
		OpTimeout:          250 * time.Millisecond,
		FallbackMaxEntries: 10_000,
	}
}

// Envelope decorates a store.Client with circuit breaking, a bounded
// fallback cache for reads during outages, and operation accounting. It
// implements store.Client so the services above it are unaware of the
// wrapping.
//
// Writes that succeed against the store are mirrored into the fallback
// (best-effort) so a subsequent outage can still serve recently written
// values. While the breaker is open, reads are answered from the fallback
// and writes land in the fallback only; both paths return typed errors so
// the caller can report degraded success, never a raw driver error.
type Envelope struct {
	inner   store.Client
	cfg     Config
	logger  *zap.Logger
	breaker *gobreaker.CircuitBreaker

	fallback *lru.Cache[string, fallbackEntry]

	opCount      atomic.Int64
	errCount     atomic.Int64
	fallbackHits atomic.Int64
	metrics      *PromMetrics
}

type fallbackEntry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

var _ store.Client = (*Envelope)(nil)

// New builds an envelope around inner. Pass NewPromMetrics(nil) to keep the
// collectors unregistered.
func New(inner store.Client, cfg Config, logger *zap.Logger, metrics *PromMetrics) (*Envelope, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("resilience")

	fallback, err := lru.New[string, fallbackEntry](cfg.FallbackMaxEntries)
	if err != nil {
		return nil, err
	}

	e := &Envelope{
		inner:    inner,
		cfg:      cfg,
		logger:   logger,
		fallback: fallback,
		metrics:  metrics,
	}

	e.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "store",
		MaxRequests: 1, // single half-open probe
		Timeout:     cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			// A key miss is a normal outcome, not a store failure.
			return err == nil || apperrors.IsNotFound(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			if metrics != nil {
				metrics.setState(to)
			}
		},
	})

	return e, nil
}

// execute runs fn through the breaker with the per-op timeout applied.
func (e *Envelope) execute(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	e.opCount.Add(1)

	opCtx := ctx
	var cancel context.CancelFunc
	if e.cfg.OpTimeout > 0 {
		opCtx, cancel = context.WithTimeout(ctx, e.cfg.OpTimeout)
		defer cancel()
	}

	_, err := e.breaker.Execute(func() (interface{}, error) {
		return nil, fn(opCtx)
	})
	if err == nil || apperrors.IsNotFound(err) {
		if e.metrics != nil {
			outcome := outcomeSuccess
			if err != nil {
				outcome = outcomeMiss
			}
			e.metrics.observe(op, outcome)
		}
		return err
	}

	e.errCount.Add(1)
	if e.metrics != nil {
		e.metrics.observe(op, outcomeFailure)
	}
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return apperrors.ErrCircuitOpen
	}
	if apperrors.IsConnectivity(err) {
		return err
	}
	return apperrors.NewConnectivity(op, err)
}

// State returns the current breaker state.
func (e *Envelope) State() gobreaker.State { return e.breaker.State() }

// Healthy reports whether the breaker is closed.
func (e *Envelope) Healthy() bool { return e.breaker.State() == gobreaker.StateClosed }

// Metrics is a point-in-time snapshot of envelope accounting.
type Metrics struct {
	OperationCount      int64  `json:"operationCount"`
	ErrorCount          int64  `json:"errorCount"`
	ConsecutiveFailures uint32 `json:"consecutiveFailures"`
	FallbackHits        int64  `json:"fallbackHits"`
	FallbackEntries     int    `json:"fallbackEntries"`
	State               string `json:"state"`
}

// Snapshot returns current metrics.
func (e *Envelope) Snapshot() Metrics {
	return Metrics{
		OperationCount:      e.opCount.Load(),
		ErrorCount:          e.errCount.Load(),
		ConsecutiveFailures: e.breaker.Counts().ConsecutiveFailures,
		FallbackHits:        e.fallbackHits.Load(),
		FallbackEntries:     e.fallback.Len(),
		State:               e.breaker.State().String(),
	}
}

// ----------------------------------------------------------------------------
// store.Client implementation
// ----------------------------------------------------------------------------

func (e *Envelope) Connect(ctx context.Context) error { return e.inner.Connect(ctx) }
func (e *Envelope) Close() error                      { return e.inner.Close() }
func (e *Envelope) Ping(ctx context.Context) error    { return e.inner.Ping(ctx) }

func (e *Envelope) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := e.execute(ctx, "get", func(ctx context.Context) error {
		v, err := e.inner.Get(ctx, key)
		value = v
		return err
	})
	if err == nil {
		return value, nil
	}
	if apperrors.IsNotFound(err) {
		return nil, err
	}

	// Store unavailable; answer from the fallback without error.
	if entry, ok := e.fallback.Get(key); ok {
		if entry.expiresAt.IsZero() || time.Now().Before(entry.expiresAt) {
			e.fallbackHits.Add(1)
			if e.metrics != nil {
				e.metrics.fallbackHit()
			}
			e.logger.Debug("served read from fallback cache", zap.String("key", key))
			return entry.value, nil
		}
		e.fallback.Remove(key)
	}
	return nil, apperrors.ErrNotFound
}

func (e *Envelope) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	err := e.execute(ctx, "set", func(ctx context.Context) error {
		return e.inner.Set(ctx, key, value, ttl)
	})
	// Mirror the write regardless of outcome: on success so a later outage
	// can serve it, on failure so the value is at least visible in-process.
	e.mirror(key, value, ttl)
	return err
}

func (e *Envelope) mirror(key string, value []byte, ttl time.Duration) {
	entry := fallbackEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	e.fallback.Add(key, entry)
}

func (e *Envelope) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	var ok bool
	err := e.execute(ctx, "setnx", func(ctx context.Context) error {
		v, err := e.inner.SetNX(ctx, key, value, ttl)
		ok = v
		return err
	})
	return ok, err
}

func (e *Envelope) Del(ctx context.Context, keys ...string) (int64, error) {
	for _, key := range keys {
		e.fallback.Remove(key)
	}
	var n int64
	err := e.execute(ctx, "del", func(ctx context.Context) error {
		v, err := e.inner.Del(ctx, keys...)
		n = v
		return err
	})
	return n, err
}

func (e *Envelope) Incr(ctx context.Context, key string) (int64, error) {
	var n int64
	err := e.execute(ctx, "incr", func(ctx context.Context) error {
		v, err := e.inner.Incr(ctx, key)
		n = v
		return err
	})
	return n, err
}

func (e *Envelope) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return e.execute(ctx, "expire", func(ctx context.Context) error {
		return e.inner.Expire(ctx, key, ttl)
	})
}

func (e *Envelope) TTL(ctx context.Context, key string) (time.Duration, error) {
	var d time.Duration
	err := e.execute(ctx, "ttl", func(ctx context.Context) error {
		v, err := e.inner.TTL(ctx, key)
		d = v
		return err
	})
	return d, err
}

func (e *Envelope) ScanPattern(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	err := e.execute(ctx, "scan", func(ctx context.Context) error {
		v, err := e.inner.ScanPattern(ctx, pattern)
		keys = v
		return err
	})
	return keys, err
}

func (e *Envelope) SAdd(ctx context.Context, key string, members ...string) error {
	return e.execute(ctx, "sadd", func(ctx context.Context) error {
		return e.inner.SAdd(ctx, key, members...)
	})
}

func (e *Envelope) SMembers(ctx context.Context, key string) ([]string, error) {
	var members []string
	err := e.execute(ctx, "smembers", func(ctx context.Context) error {
		v, err := e.inner.SMembers(ctx, key)
		members = v
		return err
	})
	return members, err
}

func (e *Envelope) SRem(ctx context.Context, key string, members ...string) error {
	return e.execute(ctx, "srem", func(ctx context.Context) error {
		return e.inner.SRem(ctx, key, members...)
	})
}

func (e *Envelope) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return e.execute(ctx, "zadd", func(ctx context.Context) error {
		return e.inner.ZAdd(ctx, key, score, member)
	})
}

func (e *Envelope) ZRemRangeByScore(ctx context.Context, key string, min, max float64) error {
	return e.execute(ctx, "zremrangebyscore", func(ctx context.Context) error {
		return e.inner.ZRemRangeByScore(ctx, key, min, max)
	})
}

func (e *Envelope) ZCard(ctx context.Context, key string) (int64, error) {
	var n int64
	err := e.execute(ctx, "zcard", func(ctx context.Context) error {
		v, err := e.inner.ZCard(ctx, key)
		n = v
		return err
	})
	return n, err
}

func (e *Envelope) FlushAll(ctx context.Context) error {
	e.fallback.Purge()
	return e.execute(ctx, "flushall", func(ctx context.Context) error {
		return e.inner.FlushAll(ctx)
	})
}
