// Package ratelimit implements the pluggable rate-limiting engine: an
// ordered rule registry, fixed-window and sliding-window algorithms driven by
// store-level atomic counters, and allow/deny bypass lists.
package ratelimit

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/drmweyers/FitnessMealPlanner-sub016/internal/errors"
	"github.com/drmweyers/FitnessMealPlanner-sub016/internal/store"
)

// Algorithm identifies how a limit decision was made.
type Algorithm string

const (
	AlgorithmFixedWindow   Algorithm = "fixed_window"
	AlgorithmSlidingWindow Algorithm = "sliding_window"
	AlgorithmBlacklist     Algorithm = "blacklist"
	AlgorithmWhitelist     Algorithm = "whitelist"
)

const bucketKeyPrefix = "ratelimit:"

// Request carries what the rules need to scope and bucket a call.
type Request struct {
	// Identifier names the caller, e.g. "ip:203.0.113.9" or "user:42".
	Identifier string
	Path       string
	Method     string
}

// Rule describes one rate limit. Rules are evaluated in ascending Priority
// order; the first enabled rule whose scope matches wins.
type Rule struct {
	ID          string    `validate:"required"`
	Name        string    `validate:"required"`
	Algorithm   Algorithm `validate:"required,oneof=fixed_window sliding_window"`
	WindowMs    int64     `validate:"gte=1"`
	MaxRequests int64     `validate:"gte=1"`
	Enabled     bool
	Priority    int

	// KeyGenerator derives the counter bucket from a request. Defaults to
	// "<rule id>:<identifier>".
	KeyGenerator func(Request) string `validate:"-"`
	// Matches scopes the rule; nil matches every request.
	Matches func(Request) bool `validate:"-"`
}

func (r Rule) window() time.Duration { return time.Duration(r.WindowMs) * time.Millisecond }

func (r Rule) bucketKey(req Request) string {
	if r.KeyGenerator != nil {
		return bucketKeyPrefix + r.KeyGenerator(req)
	}
	return bucketKeyPrefix + r.ID + ":" + req.Identifier
}

// Result is a non-nil limit decision: the caller must reject or delay the
// request. A nil *Result from Check means "proceed".
type Result struct {
	Algorithm  Algorithm     `json:"algorithm"`
	Limit      int64         `json:"limit"`
	Remaining  int64         `json:"remaining"`
	RetryAfter time.Duration `json:"retryAfterMs"`
}

// Service evaluates rate limit rules against store-backed counters. The
// registry and bypass lists are in-process state shared across request
// goroutines; counter state lives in the store so limits hold across
// processes.
type Service struct {
	store    store.Client
	logger   *zap.Logger
	validate *validator.Validate

	mu sync.RWMutex
	// rules is replaced wholesale on every mutation, never edited in place,
	// so Check can iterate a snapshot after releasing the lock.
	rules []Rule
	allow map[string]struct{}
	deny  map[string]struct{}
}

// New builds a rate limit service over the given (already wrapped) store.
func New(st store.Client, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:    st,
		logger:   logger.Named("ratelimit"),
		validate: validator.New(),
		allow:    make(map[string]struct{}),
		deny:     make(map[string]struct{}),
	}
}

// AddRule registers or replaces a rule. Invalid rules are rejected with a
// ConfigurationError at registration time.
func (s *Service) AddRule(rule Rule) error {
	if err := s.validate.Struct(rule); err != nil {
		return apperrors.NewConfiguration("rule "+rule.ID, err.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rules := make([]Rule, 0, len(s.rules)+1)
	replaced := false
	for _, existing := range s.rules {
		if existing.ID == rule.ID {
			rules = append(rules, rule)
			replaced = true
			continue
		}
		rules = append(rules, existing)
	}
	if !replaced {
		rules = append(rules, rule)
	}
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Priority < rules[j].Priority
	})
	s.rules = rules
	return nil
}

// RemoveRule drops a rule by id.
func (s *Service) RemoveRule(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rules := make([]Rule, 0, len(s.rules))
	for _, rule := range s.rules {
		if rule.ID != id {
			rules = append(rules, rule)
		}
	}
	s.rules = rules
}

// AddToWhitelist exempts an identifier from all rules.
func (s *Service) AddToWhitelist(identifier string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allow[identifier] = struct{}{}
}

// AddToBlacklist blocks an identifier unconditionally. The blacklist is
// checked before the whitelist, so an identifier present in both is blocked.
func (s *Service) AddToBlacklist(identifier string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deny[identifier] = struct{}{}
}

// RemoveFromWhitelist undoes AddToWhitelist.
func (s *Service) RemoveFromWhitelist(identifier string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.allow, identifier)
}

// RemoveFromBlacklist undoes AddToBlacklist.
func (s *Service) RemoveFromBlacklist(identifier string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.deny, identifier)
}

// Check evaluates the request. A nil result means proceed; a non-nil result
// means reject or delay. Store failures fail open: a limited feature becomes
// unlimited rather than broken when the store is down.
func (s *Service) Check(ctx context.Context, req Request) *Result {
	s.mu.RLock()
	_, denied := s.deny[req.Identifier]
	_, allowed := s.allow[req.Identifier]
	rules := s.rules
	s.mu.RUnlock()

	if denied {
		return &Result{Algorithm: AlgorithmBlacklist, Limit: 0, Remaining: 0}
	}
	if allowed {
		return nil
	}

	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		if rule.Matches != nil && !rule.Matches(req) {
			continue
		}
		switch rule.Algorithm {
		case AlgorithmFixedWindow:
			return s.checkFixedWindow(ctx, rule, req)
		case AlgorithmSlidingWindow:
			return s.checkSlidingWindow(ctx, rule, req)
		default:
			s.logger.Warn("rule with unknown algorithm skipped",
				zap.String("rule", rule.ID),
				zap.String("algorithm", string(rule.Algorithm)),
			)
			continue
		}
	}
	return nil
}

// checkFixedWindow increments the bucket counter; the first increment in a
// window sets the TTL and later increments leave it alone, so the window
// resets at a fixed interval.
func (s *Service) checkFixedWindow(ctx context.Context, rule Rule, req Request) *Result {
	bucket := rule.bucketKey(req)

	count, err := s.store.Incr(ctx, bucket)
	if err != nil {
		s.logger.Warn("rate counter unavailable, failing open",
			zap.String("rule", rule.ID), zap.Error(err))
		return nil
	}
	if count == 1 {
		if err := s.store.Expire(ctx, bucket, rule.window()); err != nil {
			s.logger.Warn("rate counter expiry not set", zap.String("bucket", bucket), zap.Error(err))
		}
	}

	if count <= rule.MaxRequests {
		return nil
	}

	retryAfter := rule.window()
	if ttl, err := s.store.TTL(ctx, bucket); err == nil && ttl > 0 {
		retryAfter = ttl
	}
	return &Result{
		Algorithm:  AlgorithmFixedWindow,
		Limit:      rule.MaxRequests,
		Remaining:  0,
		RetryAfter: retryAfter,
	}
}

// checkSlidingWindow keeps a time-ordered log of request timestamps per
// bucket in a sorted set and counts the entries inside the trailing window.
// Blocked attempts are recorded too, so a client hammering the endpoint does
// not slip through the moment the oldest entry ages out.
func (s *Service) checkSlidingWindow(ctx context.Context, rule Rule, req Request) *Result {
	bucket := rule.bucketKey(req)
	now := time.Now().UnixMilli()
	windowStart := now - rule.WindowMs

	if err := s.store.ZRemRangeByScore(ctx, bucket, 0, float64(windowStart)); err != nil {
		s.logger.Warn("sliding window trim failed, failing open",
			zap.String("rule", rule.ID), zap.Error(err))
		return nil
	}
	member := fmt.Sprintf("%d-%s", now, uuid.NewString())
	if err := s.store.ZAdd(ctx, bucket, float64(now), member); err != nil {
		s.logger.Warn("sliding window record failed, failing open",
			zap.String("rule", rule.ID), zap.Error(err))
		return nil
	}
	// Housekeeping so abandoned buckets do not live forever.
	if err := s.store.Expire(ctx, bucket, rule.window()); err != nil {
		s.logger.Warn("sliding window expiry not set", zap.String("bucket", bucket), zap.Error(err))
	}

	count, err := s.store.ZCard(ctx, bucket)
	if err != nil {
		s.logger.Warn("sliding window count failed, failing open",
			zap.String("rule", rule.ID), zap.Error(err))
		return nil
	}
	if count <= rule.MaxRequests {
		return nil
	}
	return &Result{
		Algorithm:  AlgorithmSlidingWindow,
		Limit:      rule.MaxRequests,
		Remaining:  0,
		RetryAfter: rule.window(),
	}
}
