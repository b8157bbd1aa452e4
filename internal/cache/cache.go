// Package cache implements the general-purpose typed cache on top of the
// store client: TTL writes, tag indexing for group invalidation, transparent
// compression for large payloads, and stampede-protected compute-or-fetch.
package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	apperrors "github.com/drmweyers/FitnessMealPlanner-sub016/internal/errors"
	"github.com/drmweyers/FitnessMealPlanner-sub016/internal/store"
)

const (
	tagKeyPrefix  = "tag:"
	lockKeyPrefix = "lock:"
)

// gzip payloads always begin with this magic pair, and JSON documents never
// do, so the marker doubles as the compression flag.
var gzipMagic = []byte{0x1f, 0x8b}

// Config controls cache behavior.
type Config struct {
	// DefaultTTL applies when a Set carries no TTL. Zero means no expiry.
	DefaultTTL time.Duration
	// CompressionThreshold is the serialized size above which a payload is
	// compressed when the caller opts in.
	CompressionThreshold int
	// StampedeLockTTL bounds how long a compute lock can be held.
	StampedeLockTTL time.Duration
	// StampedeWaitMax bounds how long losing callers wait for the winner
	// before computing independently.
	StampedeWaitMax time.Duration
	// StampedePollInterval is the delay between lock-loser cache polls.
	StampedePollInterval time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		DefaultTTL:           0,
		CompressionThreshold: 1024,
		StampedeLockTTL:      10 * time.Second,
		StampedeWaitMax:      2 * time.Second,
		StampedePollInterval: 50 * time.Millisecond,
	}
}

// SetOptions modify a single Set call.
type SetOptions struct {
	TTL      time.Duration
	Tags     []string
	Compress bool
}

// Service is the typed cache facade. All store access goes through the
// resilience envelope handed in as store.Client, so no method here ever
// returns a connectivity error: degraded outcomes are reported as misses or
// a false ok.
type Service struct {
	store  store.Client
	cfg    Config
	logger *zap.Logger
	group  singleflight.Group
}

// New builds a cache service over the given (already wrapped) store client.
func New(st store.Client, cfg Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: st, cfg: cfg, logger: logger.Named("cache")}
}

// Set serializes value and stores it under key. Returns false when the store
// write did not fully succeed (the envelope may still have captured it in the
// fallback cache).
func (s *Service) Set(ctx context.Context, key string, value any, opts *SetOptions) bool {
	ttl := s.cfg.DefaultTTL
	var tags []string
	compress := false
	if opts != nil {
		if opts.TTL > 0 {
			ttl = opts.TTL
		}
		tags = opts.Tags
		compress = opts.Compress
	}

	payload, err := json.Marshal(value)
	if err != nil {
		s.logger.Warn("failed to serialize cache value", zap.String("key", key), zap.Error(err))
		return false
	}
	if compress && len(payload) > s.cfg.CompressionThreshold {
		compressed, err := gzipCompress(payload)
		if err != nil {
			s.logger.Warn("compression failed, storing raw", zap.String("key", key), zap.Error(err))
		} else {
			payload = compressed
		}
	}

	ok := true
	if err := s.store.Set(ctx, key, payload, ttl); err != nil {
		s.logger.Warn("cache set degraded", zap.String("key", key), zap.Error(err))
		ok = false
	}

	for _, tag := range tags {
		if err := s.store.SAdd(ctx, tagKeyPrefix+tag, key); err != nil {
			s.logger.Warn("tag index update failed",
				zap.String("key", key),
				zap.String("tag", tag),
				zap.Error(err),
			)
			ok = false
		}
	}
	return ok
}

// Get loads key into dest, decompressing and deserializing transparently.
// Returns false on miss, expiry, store outage with no fallback, or a corrupt
// entry (which is deleted so it cannot poison later reads).
func (s *Service) Get(ctx context.Context, key string, dest any) bool {
	payload, err := s.store.Get(ctx, key)
	if err != nil {
		return false
	}
	if err := s.decode(key, payload, dest); err != nil {
		s.logger.Warn("dropping corrupt cache entry", zap.String("key", key), zap.Error(err))
		_, _ = s.store.Del(ctx, key)
		return false
	}
	return true
}

func (s *Service) decode(key string, payload []byte, dest any) error {
	if bytes.HasPrefix(payload, gzipMagic) {
		raw, err := gzipDecompress(payload)
		if err != nil {
			return apperrors.NewSerialization(key, err)
		}
		payload = raw
	}
	if err := json.Unmarshal(payload, dest); err != nil {
		return apperrors.NewSerialization(key, err)
	}
	return nil
}

// Del removes key. Returns true when the key existed and was deleted.
func (s *Service) Del(ctx context.Context, key string) bool {
	n, err := s.store.Del(ctx, key)
	if err != nil {
		s.logger.Warn("cache delete degraded", zap.String("key", key), zap.Error(err))
		return false
	}
	return n > 0
}

// InvalidateByTag deletes every key indexed under tag and clears the index
// entry. The operation is best-effort: a failure partway through leaves the
// remaining keys in place, and the returned count reflects only what was
// actually removed. Callers needing strict completeness re-invoke until the
// tag is empty.
func (s *Service) InvalidateByTag(ctx context.Context, tag string) int {
	tagKey := tagKeyPrefix + tag
	keys, err := s.store.SMembers(ctx, tagKey)
	if err != nil {
		s.logger.Warn("tag lookup failed", zap.String("tag", tag), zap.Error(err))
		return 0
	}

	removed := make([]string, 0, len(keys))
	for _, key := range keys {
		if _, err := s.store.Del(ctx, key); err != nil {
			s.logger.Warn("tag invalidation interrupted",
				zap.String("tag", tag),
				zap.Int("removed", len(removed)),
				zap.Error(err),
			)
			// Drop what we did remove from the index before giving up.
			if len(removed) > 0 {
				_ = s.store.SRem(ctx, tagKey, removed...)
			}
			return len(removed)
		}
		removed = append(removed, key)
	}

	if _, err := s.store.Del(ctx, tagKey); err != nil {
		s.logger.Warn("tag index cleanup failed", zap.String("tag", tag), zap.Error(err))
	}
	return len(removed)
}

// InvalidatePattern deletes every key matching a Redis-style glob pattern,
// e.g. "user:123:*". Returns the count actually removed; partial completion
// is possible and reported, not hidden.
func (s *Service) InvalidatePattern(ctx context.Context, pattern string) int {
	keys, err := s.store.ScanPattern(ctx, pattern)
	if err != nil {
		s.logger.Warn("pattern scan failed", zap.String("pattern", pattern), zap.Error(err))
		return 0
	}
	count := 0
	for _, key := range keys {
		n, err := s.store.Del(ctx, key)
		if err != nil {
			s.logger.Warn("pattern invalidation interrupted",
				zap.String("pattern", pattern),
				zap.Int("removed", count),
				zap.Error(err),
			)
			return count
		}
		count += int(n)
	}
	return count
}

// GetOrSet returns the cached value for key, or computes and caches it.
//
// Stampede protection is two-layered: a singleflight group collapses
// concurrent callers within this process, and a store-level compute lock
// (SET NX with a short TTL) elects a single winner across processes. Losers
// poll the cache with a bounded wait and fall back to computing independently
// on timeout; duplicate computation is acceptable, corruption is not. The
// wait loop observes ctx cancellation.
func (s *Service) GetOrSet(ctx context.Context, key string, dest any, ttl time.Duration, compute func(ctx context.Context) (any, error)) error {
	if payload, err := s.store.Get(ctx, key); err == nil {
		if decodeErr := s.decode(key, payload, dest); decodeErr == nil {
			return nil
		}
		_, _ = s.store.Del(ctx, key)
	}

	payload, err, _ := s.group.Do(key, func() (any, error) {
		return s.computeOrAwait(ctx, key, ttl, compute)
	})
	if err != nil {
		return err
	}
	return s.decode(key, payload.([]byte), dest)
}

func (s *Service) computeOrAwait(ctx context.Context, key string, ttl time.Duration, compute func(ctx context.Context) (any, error)) ([]byte, error) {
	// Re-check under the singleflight lock; another caller may have just
	// populated the key.
	if payload, err := s.store.Get(ctx, key); err == nil {
		return payload, nil
	}

	lockKey := lockKeyPrefix + key
	won, err := s.store.SetNX(ctx, lockKey, []byte("1"), s.cfg.StampedeLockTTL)
	if err != nil {
		// Store unavailable: no coordination possible, just compute.
		return s.computeAndStore(ctx, key, ttl, compute)
	}

	if won {
		payload, err := s.computeAndStore(ctx, key, ttl, compute)
		_, _ = s.store.Del(ctx, lockKey)
		return payload, err
	}

	// Lost the lock: poll for the winner's value with a bounded wait.
	deadline := time.Now().Add(s.cfg.StampedeWaitMax)
	ticker := time.NewTicker(s.cfg.StampedePollInterval)
	defer ticker.Stop()
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
		if payload, err := s.store.Get(ctx, key); err == nil {
			return payload, nil
		}
	}

	s.logger.Debug("stampede wait timed out, computing independently", zap.String("key", key))
	return s.computeAndStore(ctx, key, ttl, compute)
}

func (s *Service) computeAndStore(ctx context.Context, key string, ttl time.Duration, compute func(ctx context.Context) (any, error)) ([]byte, error) {
	value, err := compute(ctx)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return nil, apperrors.NewSerialization(key, err)
	}
	if err := s.store.Set(ctx, key, payload, ttl); err != nil {
		// Degraded write; the computed value is still good for this caller.
		s.logger.Warn("cache fill degraded", zap.String("key", key), zap.Error(err))
	}
	return payload, nil
}

// Flush clears all cache state. Administrative and test use only.
func (s *Service) Flush(ctx context.Context) bool {
	if err := s.store.FlushAll(ctx); err != nil {
		s.logger.Warn("flush degraded", zap.Error(err))
		return false
	}
	return true
}

func gzipCompress(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(payload); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gzipDecompress(payload []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
