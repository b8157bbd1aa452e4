// Package middleware adapts the caching layer's services to net/http
// handler chains.
package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/drmweyers/FitnessMealPlanner-sub016/internal/ratelimit"
)

// RateLimit rejects requests that exceed the registered limits. A nil check
// result passes through untouched; a non-nil result answers 429 with
// Retry-After and X-RateLimit headers.
func RateLimit(limiter *ratelimit.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			result := limiter.Check(r.Context(), ratelimit.Request{
				Identifier: "ip:" + clientIP(r),
				Path:       r.URL.Path,
				Method:     r.Method,
			})
			if result == nil {
				next.ServeHTTP(w, r)
				return
			}

			retryAfter := int(result.RetryAfter.Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(result.Limit, 10))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(result.Remaining, 10))
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		})
	}
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		// The header accumulates one entry per hop; the first is the client.
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
