package manager_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drmweyers/FitnessMealPlanner-sub016/internal/config"
	apperrors "github.com/drmweyers/FitnessMealPlanner-sub016/internal/errors"
	"github.com/drmweyers/FitnessMealPlanner-sub016/internal/manager"
	"github.com/drmweyers/FitnessMealPlanner-sub016/internal/store"
)

func newManager(t *testing.T, client store.Client) *manager.Manager {
	t.Helper()
	mgr, err := manager.NewWithClient(config.Default(), nil, client, nil)
	require.NoError(t, err)
	return mgr
}

func TestLifecycle(t *testing.T) {
	ctx := context.Background()
	mgr := newManager(t, store.NewMemoryClient())

	require.NoError(t, mgr.Initialize(ctx))

	assert.NotNil(t, mgr.Cache())
	assert.NotNil(t, mgr.RateLimiter())
	assert.NotNil(t, mgr.Flags())

	require.NoError(t, mgr.Shutdown(ctx))
}

func TestHealthStatusHealthy(t *testing.T) {
	ctx := context.Background()
	mgr := newManager(t, store.NewMemoryClient())
	require.NoError(t, mgr.Initialize(ctx))

	status := mgr.HealthStatus(ctx)
	assert.True(t, status.RedisConnected)
	assert.Equal(t, "closed", status.BreakerState)
	assert.True(t, status.Services.Cache)
	assert.True(t, status.Services.RateLimiting)
	assert.True(t, status.Services.FeatureFlags)
}

func TestHealthStatusDuringOutage(t *testing.T) {
	ctx := context.Background()
	client := store.NewMemoryClient()
	mgr := newManager(t, client)
	require.NoError(t, mgr.Initialize(ctx))

	client.FailWith(apperrors.NewConnectivity("test", assert.AnError))

	status := mgr.HealthStatus(ctx)
	assert.False(t, status.RedisConnected)
}

func TestInitializeToleratesDownStore(t *testing.T) {
	ctx := context.Background()
	client := store.NewMemoryClient()
	client.FailWith(apperrors.NewConnectivity("test", assert.AnError))

	mgr := newManager(t, client)
	assert.NoError(t, mgr.Initialize(ctx), "a down store degrades, it does not abort startup")
}

func TestServicesShareTheEnvelope(t *testing.T) {
	ctx := context.Background()
	client := store.NewMemoryClient()
	mgr := newManager(t, client)
	require.NoError(t, mgr.Initialize(ctx))

	// A value cached through the service survives a store outage via the
	// envelope's fallback, proving the wiring goes through the envelope.
	type payload struct {
		N int `json:"n"`
	}
	require.True(t, mgr.Cache().Set(ctx, "k", payload{N: 7}, nil))

	client.FailWith(apperrors.NewConnectivity("test", assert.AnError))

	var got payload
	require.True(t, mgr.Cache().Get(ctx, "k", &got))
	assert.Equal(t, 7, got.N)
}
