package ratelimit_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/drmweyers/FitnessMealPlanner-sub016/internal/errors"
	"github.com/drmweyers/FitnessMealPlanner-sub016/internal/ratelimit"
	"github.com/drmweyers/FitnessMealPlanner-sub016/internal/store"
)

func fixedRule(id string, priority int, max int64) ratelimit.Rule {
	return ratelimit.Rule{
		ID:          id,
		Name:        id,
		Algorithm:   ratelimit.AlgorithmFixedWindow,
		WindowMs:    60_000,
		MaxRequests: max,
		Enabled:     true,
		Priority:    priority,
	}
}

func TestFixedWindowThreshold(t *testing.T) {
	ctx := context.Background()
	svc := ratelimit.New(store.NewMemoryClient(), nil)
	require.NoError(t, svc.AddRule(fixedRule("api", 1, 2)))

	req := ratelimit.Request{Identifier: "ip:203.0.113.9"}

	assert.Nil(t, svc.Check(ctx, req))
	assert.Nil(t, svc.Check(ctx, req))

	result := svc.Check(ctx, req)
	require.NotNil(t, result)
	assert.Equal(t, ratelimit.AlgorithmFixedWindow, result.Algorithm)
	assert.EqualValues(t, 2, result.Limit)
	assert.EqualValues(t, 0, result.Remaining)
	assert.Positive(t, result.RetryAfter)
}

func TestFixedWindowBucketsAreIndependent(t *testing.T) {
	ctx := context.Background()
	svc := ratelimit.New(store.NewMemoryClient(), nil)
	require.NoError(t, svc.AddRule(fixedRule("api", 1, 1)))

	assert.Nil(t, svc.Check(ctx, ratelimit.Request{Identifier: "ip:a"}))
	assert.NotNil(t, svc.Check(ctx, ratelimit.Request{Identifier: "ip:a"}))
	assert.Nil(t, svc.Check(ctx, ratelimit.Request{Identifier: "ip:b"}))
}

func TestFixedWindowResets(t *testing.T) {
	ctx := context.Background()
	svc := ratelimit.New(store.NewMemoryClient(), nil)
	require.NoError(t, svc.AddRule(ratelimit.Rule{
		ID:          "fast",
		Name:        "fast window",
		Algorithm:   ratelimit.AlgorithmFixedWindow,
		WindowMs:    40,
		MaxRequests: 1,
		Enabled:     true,
		Priority:    1,
	}))

	req := ratelimit.Request{Identifier: "ip:a"}
	assert.Nil(t, svc.Check(ctx, req))
	assert.NotNil(t, svc.Check(ctx, req))

	time.Sleep(60 * time.Millisecond)
	assert.Nil(t, svc.Check(ctx, req), "window expired, counter restarts")
}

func TestSlidingWindowThreshold(t *testing.T) {
	ctx := context.Background()
	svc := ratelimit.New(store.NewMemoryClient(), nil)
	require.NoError(t, svc.AddRule(ratelimit.Rule{
		ID:          "sliding",
		Name:        "sliding",
		Algorithm:   ratelimit.AlgorithmSlidingWindow,
		WindowMs:    60_000,
		MaxRequests: 2,
		Enabled:     true,
		Priority:    1,
	}))

	req := ratelimit.Request{Identifier: "user:42"}
	assert.Nil(t, svc.Check(ctx, req))
	assert.Nil(t, svc.Check(ctx, req))

	result := svc.Check(ctx, req)
	require.NotNil(t, result)
	assert.Equal(t, ratelimit.AlgorithmSlidingWindow, result.Algorithm)
	assert.EqualValues(t, 0, result.Remaining)
}

func TestBlacklistPrecedence(t *testing.T) {
	ctx := context.Background()
	svc := ratelimit.New(store.NewMemoryClient(), nil)
	svc.AddToBlacklist("ip:bad")

	result := svc.Check(ctx, ratelimit.Request{Identifier: "ip:bad"})
	require.NotNil(t, result)
	assert.Equal(t, ratelimit.AlgorithmBlacklist, result.Algorithm)
	assert.EqualValues(t, 0, result.Remaining)
}

func TestWhitelistBypassesRules(t *testing.T) {
	ctx := context.Background()
	svc := ratelimit.New(store.NewMemoryClient(), nil)
	require.NoError(t, svc.AddRule(fixedRule("api", 1, 1)))
	svc.AddToWhitelist("ip:vip")

	req := ratelimit.Request{Identifier: "ip:vip"}
	for i := 0; i < 10; i++ {
		assert.Nil(t, svc.Check(ctx, req))
	}
}

func TestBlacklistWinsOverWhitelist(t *testing.T) {
	ctx := context.Background()
	svc := ratelimit.New(store.NewMemoryClient(), nil)
	svc.AddToWhitelist("ip:both")
	svc.AddToBlacklist("ip:both")

	result := svc.Check(ctx, ratelimit.Request{Identifier: "ip:both"})
	require.NotNil(t, result)
	assert.Equal(t, ratelimit.AlgorithmBlacklist, result.Algorithm)
}

func TestRulePriorityOrder(t *testing.T) {
	ctx := context.Background()
	svc := ratelimit.New(store.NewMemoryClient(), nil)

	strict := fixedRule("strict", 1, 1)
	loose := fixedRule("loose", 2, 100)
	// Register out of order; evaluation must still pick priority 1 first.
	require.NoError(t, svc.AddRule(loose))
	require.NoError(t, svc.AddRule(strict))

	req := ratelimit.Request{Identifier: "ip:a"}
	assert.Nil(t, svc.Check(ctx, req))
	result := svc.Check(ctx, req)
	require.NotNil(t, result)
	assert.EqualValues(t, 1, result.Limit, "strict rule evaluated first")
}

func TestDisabledRuleSkipped(t *testing.T) {
	ctx := context.Background()
	svc := ratelimit.New(store.NewMemoryClient(), nil)
	rule := fixedRule("off", 1, 1)
	rule.Enabled = false
	require.NoError(t, svc.AddRule(rule))

	req := ratelimit.Request{Identifier: "ip:a"}
	for i := 0; i < 5; i++ {
		assert.Nil(t, svc.Check(ctx, req))
	}
}

func TestRuleScopeMatching(t *testing.T) {
	ctx := context.Background()
	svc := ratelimit.New(store.NewMemoryClient(), nil)
	rule := fixedRule("exports", 1, 1)
	rule.Matches = func(req ratelimit.Request) bool { return req.Path == "/export" }
	require.NoError(t, svc.AddRule(rule))

	assert.Nil(t, svc.Check(ctx, ratelimit.Request{Identifier: "ip:a", Path: "/export"}))
	assert.NotNil(t, svc.Check(ctx, ratelimit.Request{Identifier: "ip:a", Path: "/export"}))
	assert.Nil(t, svc.Check(ctx, ratelimit.Request{Identifier: "ip:a", Path: "/recipes"}))
}

func TestRemoveRule(t *testing.T) {
	ctx := context.Background()
	svc := ratelimit.New(store.NewMemoryClient(), nil)
	require.NoError(t, svc.AddRule(fixedRule("api", 1, 1)))

	req := ratelimit.Request{Identifier: "ip:a"}
	assert.Nil(t, svc.Check(ctx, req))
	assert.NotNil(t, svc.Check(ctx, req))

	svc.RemoveRule("api")
	assert.Nil(t, svc.Check(ctx, req))
}

func TestInvalidRuleRejected(t *testing.T) {
	svc := ratelimit.New(store.NewMemoryClient(), nil)

	err := svc.AddRule(ratelimit.Rule{ID: "bad", Name: "bad", Algorithm: "token_bucket", WindowMs: 1000, MaxRequests: 1})
	require.Error(t, err)
	assert.True(t, apperrors.IsConfiguration(err))

	err = svc.AddRule(ratelimit.Rule{ID: "bad2", Name: "bad2", Algorithm: ratelimit.AlgorithmFixedWindow, WindowMs: 0, MaxRequests: 1})
	assert.True(t, apperrors.IsConfiguration(err))
}

func TestFailOpenOnStoreOutage(t *testing.T) {
	ctx := context.Background()
	client := store.NewMemoryClient()
	svc := ratelimit.New(client, nil)
	require.NoError(t, svc.AddRule(fixedRule("api", 1, 1)))

	client.FailWith(apperrors.NewConnectivity("test", assert.AnError))

	req := ratelimit.Request{Identifier: "ip:a"}
	for i := 0; i < 5; i++ {
		assert.Nil(t, svc.Check(ctx, req), "store outage must not block requests")
	}
}

// Registration and evaluation run from different goroutines in production;
// the registry must hold up under the race detector.
func TestConcurrentRegistrationAndCheck(t *testing.T) {
	ctx := context.Background()
	svc := ratelimit.New(store.NewMemoryClient(), nil)
	require.NoError(t, svc.AddRule(fixedRule("api", 1, 1000)))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			rule := fixedRule("api", i%5+1, 1000)
			assert.NoError(t, svc.AddRule(rule))
			assert.NoError(t, svc.AddRule(fixedRule("transient", 10, 1000)))
			svc.RemoveRule("transient")
		}
	}()

	for i := 0; i < 200; i++ {
		assert.Nil(t, svc.Check(ctx, ratelimit.Request{Identifier: "ip:a"}))
	}
	wg.Wait()
}

// Mirrors the documented scenario: windowMs 60000, maxRequests 2, three
// calls from the same IP yield [nil, nil, blocked with remaining 0].
func TestThreeCallScenario(t *testing.T) {
	ctx := context.Background()
	svc := ratelimit.New(store.NewMemoryClient(), nil)
	require.NoError(t, svc.AddRule(fixedRule("scenario", 1, 2)))

	req := ratelimit.Request{Identifier: "ip:198.51.100.7"}
	first := svc.Check(ctx, req)
	second := svc.Check(ctx, req)
	third := svc.Check(ctx, req)

	assert.Nil(t, first)
	assert.Nil(t, second)
	require.NotNil(t, third)
	assert.EqualValues(t, 0, third.Remaining)
}
