package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testConfig = RateLimitConfig{RequestsPerWindow: 10, WindowDuration: time.Minute, BurstSize: 2}

func TestRateLimiter_Allow(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	limiter := NewRateLimiter(testConfig)
	limiter.now = func() time.Time { return now }

	allowed := 0
	for i := 0; i < 20; i++ {
		ok, err := limiter.Allow(context.Background(), "ip:1.2.3.4")
		require.NoError(t, err)
		if ok {
			allowed++
		}
	}
	assert.Equal(t, 12, allowed, "rate plus burst")
	assert.Zero(t, limiter.Remaining("ip:1.2.3.4"))
	assert.Equal(t, 12, limiter.Remaining("ip:5.6.7.8"))

	// 10 per minute refills one token every 6s
	now = now.Add(6 * time.Second)
	ok, _ := limiter.Allow(context.Background(), "ip:1.2.3.4")
	assert.True(t, ok)
	ok, _ = limiter.Allow(context.Background(), "ip:1.2.3.4")
	assert.False(t, ok)
}

func TestRateLimiter_Cleanup(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	limiter := NewRateLimiter(testConfig)
	limiter.now = func() time.Time { return now }

	limiter.Allow(context.Background(), "a")
	assert.Zero(t, limiter.Cleanup())

	now = now.Add(3 * time.Minute)
	assert.Equal(t, 1, limiter.Cleanup())
	assert.Empty(t, limiter.buckets)
}

func TestIngestRateLimitConfig(t *testing.T) {
	cfg := IngestRateLimitConfig(600)
	assert.Equal(t, 600, cfg.RequestsPerWindow)
	assert.Equal(t, 60, cfg.BurstSize)
	assert.Equal(t, time.Minute, cfg.WindowDuration)
}

func TestDistributedRateLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	limiter := NewDistributedRateLimiter(client, RateLimitConfig{RequestsPerWindow: 2, WindowDuration: time.Minute}, "")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := limiter.Allow(ctx, "ip:1.2.3.4")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := limiter.Allow(ctx, "ip:1.2.3.4")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, time.Minute, mr.TTL("beacon:ratelimit:ip:1.2.3.4"))

	mr.FastForward(time.Minute + time.Second)
	ok, err = limiter.Allow(ctx, "ip:1.2.3.4")
	require.NoError(t, err)
	assert.True(t, ok, "window resets")

	require.NoError(t, limiter.Reset(ctx, "ip:1.2.3.4"))
	assert.False(t, mr.Exists("beacon:ratelimit:ip:1.2.3.4"))
}

func TestDistributedRateLimiter_FailsOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	ok, err := NewDistributedRateLimiter(client, testConfig, "").Allow(context.Background(), "k")
	assert.Error(t, err)
	assert.True(t, ok)
}

type stubLimiter struct {
	allow bool
	err   error
	keys  []string
}

func (s *stubLimiter) Allow(_ context.Context, key string) (bool, error) {
	s.keys = append(s.keys, key)
	return s.allow, s.err
}

func TestRateLimitMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })

	tests := []struct {
		name       string
		limiter    *stubLimiter
		wantStatus int
	}{
		{"allowed", &stubLimiter{allow: true}, http.StatusNoContent},
		{"limited", &stubLimiter{allow: false}, http.StatusTooManyRequests},
		{"limiter down fails open", &stubLimiter{allow: true, err: assert.AnError}, http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/api/v1/visits", nil)
			req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
			rec := httptest.NewRecorder()

			config := testConfig
			config.TrustProxyHeaders = true
			RateLimit(tt.limiter, config, nil)(ok).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			require.Len(t, tt.limiter.keys, 1)
			assert.Equal(t, "ip:203.0.113.7", tt.limiter.keys[0])
			if tt.wantStatus == http.StatusTooManyRequests {
				assert.Equal(t, "60", rec.Header().Get("Retry-After"))
				assert.JSONEq(t, `{"error":"rate limit exceeded","retry_after":60}`, rec.Body.String())
			}
		})
	}
}

func TestRateLimitMiddleware_IgnoresForwardedForByDefault(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	limiter := NewRateLimiter(RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Minute})
	handler := RateLimit(limiter, RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Minute}, nil)(ok)

	codes := make([]int, 0, 3)
	for _, hop := range []string{"203.0.113.1", "203.0.113.2", "203.0.113.3"} {
		req := httptest.NewRequest("POST", "/api/v1/visits", nil)
		req.RemoteAddr = "198.51.100.20:40000"
		req.Header.Set("X-Forwarded-For", hop)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusNoContent, http.StatusTooManyRequests, http.StatusTooManyRequests}, codes,
		"rotating the header does not reset the limit")
}
