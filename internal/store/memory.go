package store

import (
	"context"
	"path"
	"strconv"
	"sync"
	"time"

	apperrors "github.com/drmweyers/FitnessMealPlanner-sub016/internal/errors"
)

// MemoryClient is an in-process Client implementation. It backs unit tests
// and lets embedders run without a Redis instance; it honours the same
// semantics as the Redis client (TTL expiry, SetNX, glob scans, atomic
// increments under a single lock).
type MemoryClient struct {
	mu        sync.Mutex
	connected bool
	values    map[string]memoryEntry
	sets      map[string]map[string]struct{}
	zsets     map[string]map[string]float64
	failure   error
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

var _ Client = (*MemoryClient)(nil)

// NewMemoryClient returns an empty in-memory store.
func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		values: make(map[string]memoryEntry),
		sets:   make(map[string]map[string]struct{}),
		zsets:  make(map[string]map[string]float64),
	}
}

// FailWith makes every subsequent operation return err, simulating a store
// outage. Pass nil to restore normal operation.
func (m *MemoryClient) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failure = err
}

func (m *MemoryClient) check() error {
	if m.failure != nil {
		return m.failure
	}
	return nil
}

func (m *MemoryClient) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}
	m.connected = true
	return nil
}

func (m *MemoryClient) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	return nil
}

func (m *MemoryClient) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.check()
}

func (m *MemoryClient) expired(key string, now time.Time) bool {
	entry, ok := m.values[key]
	if !ok {
		return false
	}
	if !entry.expiresAt.IsZero() && !now.Before(entry.expiresAt) {
		delete(m.values, key)
		return true
	}
	return false
}

func (m *MemoryClient) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return nil, err
	}
	if m.expired(key, time.Now()) {
		return nil, apperrors.ErrNotFound
	}
	entry, ok := m.values[key]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	out := make([]byte, len(entry.value))
	copy(out, entry.value)
	return out, nil
}

func (m *MemoryClient) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}
	m.setLocked(key, value, ttl)
	return nil
}

func (m *MemoryClient) setLocked(key string, value []byte, ttl time.Duration) {
	entry := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	m.values[key] = entry
}

func (m *MemoryClient) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return false, err
	}
	m.expired(key, time.Now())
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.setLocked(key, value, ttl)
	return true, nil
}

func (m *MemoryClient) Del(ctx context.Context, keys ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return 0, err
	}
	var n int64
	now := time.Now()
	for _, key := range keys {
		if m.expired(key, now) {
			continue
		}
		if _, ok := m.values[key]; ok {
			delete(m.values, key)
			n++
			continue
		}
		if _, ok := m.sets[key]; ok {
			delete(m.sets, key)
			n++
			continue
		}
		if _, ok := m.zsets[key]; ok {
			delete(m.zsets, key)
			n++
		}
	}
	return n, nil
}

func (m *MemoryClient) Incr(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return 0, err
	}
	m.expired(key, time.Now())
	var current int64
	if entry, ok := m.values[key]; ok {
		parsed, err := strconv.ParseInt(string(entry.value), 10, 64)
		if err != nil {
			return 0, apperrors.NewSerialization(key, err)
		}
		current = parsed
	}
	current++
	entry := m.values[key]
	entry.value = []byte(strconv.FormatInt(current, 10))
	m.values[key] = entry
	return current, nil
}

func (m *MemoryClient) Expire(ctx context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}
	if entry, ok := m.values[key]; ok {
		entry.expiresAt = time.Now().Add(ttl)
		m.values[key] = entry
	}
	return nil
}

func (m *MemoryClient) TTL(ctx context.Context, key string) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return 0, err
	}
	entry, ok := m.values[key]
	if !ok {
		return -2 * time.Second, nil
	}
	if entry.expiresAt.IsZero() {
		return -1 * time.Second, nil
	}
	return time.Until(entry.expiresAt), nil
}

func (m *MemoryClient) ScanPattern(ctx context.Context, pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return nil, err
	}
	now := time.Now()
	var keys []string
	for key := range m.values {
		if m.expired(key, now) {
			continue
		}
		if ok, _ := path.Match(pattern, key); ok {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (m *MemoryClient) SAdd(ctx context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}
	set, ok := m.sets[key]
	if !ok {
		set = make(map[string]struct{})
		m.sets[key] = set
	}
	for _, member := range members {
		set[member] = struct{}{}
	}
	return nil
}

func (m *MemoryClient) SMembers(ctx context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return nil, err
	}
	members := make([]string, 0, len(m.sets[key]))
	for member := range m.sets[key] {
		members = append(members, member)
	}
	return members, nil
}

func (m *MemoryClient) SRem(ctx context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}
	for _, member := range members {
		delete(m.sets[key], member)
	}
	return nil
}

func (m *MemoryClient) ZAdd(ctx context.Context, key string, score float64, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}
	zset, ok := m.zsets[key]
	if !ok {
		zset = make(map[string]float64)
		m.zsets[key] = zset
	}
	zset[member] = score
	return nil
}

func (m *MemoryClient) ZRemRangeByScore(ctx context.Context, key string, min, max float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}
	for member, score := range m.zsets[key] {
		if score >= min && score <= max {
			delete(m.zsets[key], member)
		}
	}
	return nil
}

func (m *MemoryClient) ZCard(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return 0, err
	}
	return int64(len(m.zsets[key])), nil
}

func (m *MemoryClient) FlushAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}
	m.values = make(map[string]memoryEntry)
	m.sets = make(map[string]map[string]struct{})
	m.zsets = make(map[string]map[string]float64)
	return nil
}

