package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drmweyers/FitnessMealPlanner-sub016/internal/middleware"
	"github.com/drmweyers/FitnessMealPlanner-sub016/internal/ratelimit"
	"github.com/drmweyers/FitnessMealPlanner-sub016/internal/store"
)

func newHandler(t *testing.T, max int64) http.Handler {
	t.Helper()
	svc := ratelimit.New(store.NewMemoryClient(), nil)
	require.NoError(t, svc.AddRule(ratelimit.Rule{
		ID:          "test",
		Name:        "test",
		Algorithm:   ratelimit.AlgorithmFixedWindow,
		WindowMs:    60_000,
		MaxRequests: max,
		Enabled:     true,
		Priority:    1,
	}))

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return middleware.RateLimit(svc)(next)
}

func doRequest(handler http.Handler, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/recipes", nil)
	req.RemoteAddr = remoteAddr
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestPassesThroughUnderLimit(t *testing.T) {
	handler := newHandler(t, 2)

	rec := doRequest(handler, "203.0.113.9:51000")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Retry-After"))
}

func TestRejectsOverLimit(t *testing.T) {
	handler := newHandler(t, 2)

	doRequest(handler, "203.0.113.9:51000")
	doRequest(handler, "203.0.113.9:51000")
	rec := doRequest(handler, "203.0.113.9:51000")

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
}

func TestClientsBucketedByIP(t *testing.T) {
	handler := newHandler(t, 1)

	assert.Equal(t, http.StatusOK, doRequest(handler, "203.0.113.9:51000").Code)
	assert.Equal(t, http.StatusTooManyRequests, doRequest(handler, "203.0.113.9:51001").Code,
		"same IP on a different port shares the bucket")
	assert.Equal(t, http.StatusOK, doRequest(handler, "198.51.100.7:51000").Code)
}

func TestForwardedForTakesPrecedence(t *testing.T) {
	handler := newHandler(t, 1)

	req := httptest.NewRequest(http.MethodGet, "/recipes", nil)
	req.RemoteAddr = "10.0.0.1:51000"
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	// Second request from the proxy for the same end client is blocked.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestForwardedForUsesFirstHop(t *testing.T) {
	handler := newHandler(t, 1)

	send := func(forwarded string) int {
		req := httptest.NewRequest(http.MethodGet, "/recipes", nil)
		req.RemoteAddr = "10.0.0.1:51000"
		req.Header.Set("X-Forwarded-For", forwarded)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	// The same client seen through different proxy chains shares one bucket.
	require.Equal(t, http.StatusOK, send("203.0.113.9, 10.0.0.2"))
	assert.Equal(t, http.StatusTooManyRequests, send("203.0.113.9, 10.0.0.3, 10.0.0.4"))
	assert.Equal(t, http.StatusOK, send("198.51.100.7, 10.0.0.2"))
}
