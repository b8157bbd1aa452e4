package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/drmweyers/FitnessMealPlanner-sub016/internal/errors"
	"github.com/drmweyers/FitnessMealPlanner-sub016/internal/store"
)

func TestMemoryClientGetSet(t *testing.T) {
	ctx := context.Background()
	client := store.NewMemoryClient()
	require.NoError(t, client.Connect(ctx))

	_, err := client.Get(ctx, "missing")
	assert.True(t, apperrors.IsNotFound(err))

	require.NoError(t, client.Set(ctx, "k", []byte("v"), 0))
	val, err := client.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), val)

	n, err := client.Del(ctx, "k")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = client.Get(ctx, "k")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestMemoryClientTTLExpiry(t *testing.T) {
	ctx := context.Background()
	client := store.NewMemoryClient()

	require.NoError(t, client.Set(ctx, "short", []byte("v"), 30*time.Millisecond))

	val, err := client.Get(ctx, "short")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), val)

	time.Sleep(50 * time.Millisecond)
	_, err = client.Get(ctx, "short")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestMemoryClientSetNX(t *testing.T) {
	ctx := context.Background()
	client := store.NewMemoryClient()

	ok, err := client.SetNX(ctx, "lock", []byte("1"), 0)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = client.SetNX(ctx, "lock", []byte("2"), 0)
	require.NoError(t, err)
	assert.False(t, ok)

	// Expired keys are treated as absent.
	require.NoError(t, client.Set(ctx, "gone", []byte("1"), 10*time.Millisecond))
	time.Sleep(20 * time.Millisecond)
	ok, err = client.SetNX(ctx, "gone", []byte("2"), 0)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryClientIncrAndExpire(t *testing.T) {
	ctx := context.Background()
	client := store.NewMemoryClient()

	for want := int64(1); want <= 3; want++ {
		n, err := client.Incr(ctx, "counter")
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}

	require.NoError(t, client.Expire(ctx, "counter", 30*time.Millisecond))
	ttl, err := client.TTL(ctx, "counter")
	require.NoError(t, err)
	assert.Positive(t, ttl)

	time.Sleep(50 * time.Millisecond)
	n, err := client.Incr(ctx, "counter")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n, "expired counter restarts at 1")
}

func TestMemoryClientScanPattern(t *testing.T) {
	ctx := context.Background()
	client := store.NewMemoryClient()

	require.NoError(t, client.Set(ctx, "user:1:profile", []byte("a"), 0))
	require.NoError(t, client.Set(ctx, "user:1:prefs", []byte("b"), 0))
	require.NoError(t, client.Set(ctx, "user:2:profile", []byte("c"), 0))

	keys, err := client.ScanPattern(ctx, "user:1:*")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"user:1:profile", "user:1:prefs"}, keys)
}

func TestMemoryClientSets(t *testing.T) {
	ctx := context.Background()
	client := store.NewMemoryClient()

	require.NoError(t, client.SAdd(ctx, "tag:recipes", "r1", "r2"))
	require.NoError(t, client.SAdd(ctx, "tag:recipes", "r2", "r3"))

	members, err := client.SMembers(ctx, "tag:recipes")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"r1", "r2", "r3"}, members)

	require.NoError(t, client.SRem(ctx, "tag:recipes", "r1"))
	members, err = client.SMembers(ctx, "tag:recipes")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"r2", "r3"}, members)
}

func TestMemoryClientSortedSets(t *testing.T) {
	ctx := context.Background()
	client := store.NewMemoryClient()

	require.NoError(t, client.ZAdd(ctx, "win", 100, "a"))
	require.NoError(t, client.ZAdd(ctx, "win", 200, "b"))
	require.NoError(t, client.ZAdd(ctx, "win", 300, "c"))

	n, err := client.ZCard(ctx, "win")
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	require.NoError(t, client.ZRemRangeByScore(ctx, "win", 0, 150))
	n, err = client.ZCard(ctx, "win")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestMemoryClientFailureInjection(t *testing.T) {
	ctx := context.Background()
	client := store.NewMemoryClient()

	require.NoError(t, client.Set(ctx, "k", []byte("v"), 0))

	client.FailWith(apperrors.NewConnectivity("test", assert.AnError))
	_, err := client.Get(ctx, "k")
	assert.True(t, apperrors.IsConnectivity(err))

	client.FailWith(nil)
	val, err := client.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), val)
}

func TestMemoryClientFlushAll(t *testing.T) {
	ctx := context.Background()
	client := store.NewMemoryClient()

	require.NoError(t, client.Set(ctx, "k", []byte("v"), 0))
	require.NoError(t, client.SAdd(ctx, "s", "m"))
	require.NoError(t, client.FlushAll(ctx))

	_, err := client.Get(ctx, "k")
	assert.True(t, apperrors.IsNotFound(err))
	members, err := client.SMembers(ctx, "s")
	require.NoError(t, err)
	assert.Empty(t, members)
}
