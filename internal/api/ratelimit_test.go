// ABOUTME: Tests for the per-IP rate limiter and the enqueue middleware.
// ABOUTME: Uses package api (not api_test) to access unexported Server fields.
package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func TestIPRateLimiter_Allow(t *testing.T) {
	t.Parallel()
	rl := newIPRateLimiter(rate.Limit(100), 3, time.Minute)
	t.Cleanup(rl.stop)
	for i := 1; i <= 3; i++ {
		if !rl.Allow("127.0.0.1") {
			t.Errorf("request %d: should be allowed (within burst of 3)", i)
		}
	}
	if rl.Allow("127.0.0.1") {
		t.Error("4th request: should be denied (burst of 3 exhausted)")
	}
}

func TestIPRateLimiter_SeparateBucketsPerIP(t *testing.T) {
	t.Parallel()
	rl := newIPRateLimiter(rate.Limit(1), 1, time.Minute)
	t.Cleanup(rl.stop)
	if !rl.Allow("1.2.3.4") {
		t.Error("1.2.3.4 first request should be allowed")
	}
	if rl.Allow("1.2.3.4") {
		t.Error("1.2.3.4 second request should be denied")
	}
	if !rl.Allow("5.6.7.8") {
		t.Error("5.6.7.8 first request should be allowed (independent bucket)")
	}
}

// TestIPRateLimiter_Stop verifies the background sweeper shuts down: stop is
// idempotent and the limiter keeps serving Allow afterwards.
func TestIPRateLimiter_Stop(t *testing.T) {
	t.Parallel()
	// Short TTL so the sweeper ticks during the test window.
	rl := newIPRateLimiter(rate.Limit(100), 2, 10*time.Millisecond)

	if !rl.Allow("9.9.9.9") {
		t.Error("first request should be allowed")
	}
	rl.stop()
	rl.stop() // second call must not panic

	select {
	case <-rl.done:
	default:
		t.Error("stop did not close the sweeper's done channel")
	}
	if !rl.Allow("9.9.9.9") {
		t.Error("Allow should keep working after stop")
	}
}

func TestEnqueueRateLimit_LimitsPostsOnly(t *testing.T) {
	t.Parallel()
	srv := &Server{
		rateLimiter: newIPRateLimiter(rate.Limit(0.01), 2, time.Minute),
	}
	t.Cleanup(srv.Close)
	handler := srv.enqueueRateLimit()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	ctx := context.Background()
	do := func(method string) int {
		t.Helper()
		req, err := http.NewRequestWithContext(ctx, method, ts.URL, nil)
		if err != nil {
			t.Fatalf("new request: %v", err)
		}
		resp, err := ts.Client().Do(req)
		if err != nil {
			t.Fatalf("do: %v", err)
		}
		resp.Body.Close() //nolint:errcheck
		return resp.StatusCode
	}

	for i := 1; i <= 2; i++ {
		if got := do(http.MethodPost); got != http.StatusOK {
			t.Errorf("POST %d: status %d, want %d", i, got, http.StatusOK)
		}
	}
	if got := do(http.MethodPost); got != http.StatusTooManyRequests {
		t.Errorf("POST after burst: status %d, want %d", got, http.StatusTooManyRequests)
	}

	// Reads are never limited.
	for i := 0; i < 5; i++ {
		if got := do(http.MethodGet); got != http.StatusOK {
			t.Errorf("GET %d: status %d, want %d", i, got, http.StatusOK)
		}
	}
}
