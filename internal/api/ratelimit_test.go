package api_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"prize-ledger/internal/api"
)

func TestRateLimiter_Allow(t *testing.T) {
	limiter := api.NewRateLimiter(rate.Limit(5), 5, clockwork.NewFakeClock())

	ip := "192.168.1.1"
	for i := 0; i < 5; i++ {
		assert.True(t, limiter.Allow(ip), "request %d should be allowed", i+1)
	}
	assert.False(t, limiter.Allow(ip), "request 6 should be denied")

	// Different IP should have its own limit
	assert.True(t, limiter.Allow("192.168.1.2"), "different IP should be allowed")
}

func TestRateLimiter_Refill(t *testing.T) {
	clock := clockwork.NewFakeClock()
	limiter := api.NewRateLimiter(rate.Limit(10), 2, clock)

	ip := "192.168.1.1"
	assert.True(t, limiter.Allow(ip))
	assert.True(t, limiter.Allow(ip))

	allowed, retry := limiter.AllowWithRetry(ip)
	assert.False(t, allowed)
	assert.InDelta(t, float64(100*time.Millisecond), float64(retry), float64(time.Millisecond))

	clock.Advance(150 * time.Millisecond)
	assert.True(t, limiter.Allow(ip), "should be allowed after refill")
}

func TestRateLimiter_Sweep(t *testing.T) {
	clock := clockwork.NewFakeClock()
	limiter := api.NewRateLimiter(rate.Limit(1), 1, clock)

	limiter.Allow("a")
	clock.Advance(4 * time.Minute)
	limiter.Allow("b")
	require.Equal(t, 2, limiter.Clients())

	clock.Advance(2 * time.Minute)
	limiter.Sweep()
	assert.Equal(t, 1, limiter.Clients(), "only the idle client is forgotten")
}

func TestRateLimitMiddleware_JSONResponse(t *testing.T) {
	limiter := api.NewRateLimiter(rate.Limit(1), 1, clockwork.NewFakeClock())
	handler := api.RateLimitMiddleware(limiter)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req.RemoteAddr = "10.0.0.1:1234"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	var body api.RateLimitError
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "rate_limit_exceeded", body.Error)
	assert.Equal(t, 1, body.RetryAfter)

	// Another port on the same host shares the bucket.
	req.RemoteAddr = "10.0.0.1:9999"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestServer_RateLimitsAPIOnly(t *testing.T) {
	env := newTestEnv(t)
	srv, err := api.New(api.Options{
		Ledger:  env.l,
		Book:    env.book,
		Channel: env.channel,
		Limiter: api.NewRateLimiter(rate.Limit(1), 1, clockwork.NewFakeClock()),
	})
	require.NoError(t, err)

	get := func(path string) int {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec.Code
	}
	assert.Equal(t, http.StatusOK, get("/api/stats"))
	assert.Equal(t, http.StatusTooManyRequests, get("/api/stats"))
	assert.Equal(t, http.StatusOK, get("/healthz"))
}
