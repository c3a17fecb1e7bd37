package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestFixedWindowLimiterEnforcesLimit(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	limiter := newFixedWindowLimiter(2, time.Minute, func() time.Time { return now })

	if !limiter.Allow("cust-1") || !limiter.Allow("cust-1") {
		t.Fatal("expected first two requests to pass")
	}
	if limiter.Allow("cust-1") {
		t.Fatal("expected third request to be rejected")
	}
	if !limiter.Allow("cust-2") {
		t.Fatal("expected independent key to pass")
	}
}

func TestFixedWindowLimiterResetsAfterWindow(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	limiter := newFixedWindowLimiter(1, time.Minute, func() time.Time { return now })

	if !limiter.Allow("cust-1") {
		t.Fatal("expected first request to pass")
	}
	if limiter.Allow("cust-1") {
		t.Fatal("expected second request to be rejected")
	}

	now = now.Add(2 * time.Minute)
	if !limiter.Allow("cust-1") {
		t.Fatal("expected request to pass after window reset")
	}
}

func TestFixedWindowLimiterRejectsInvalidConfig(t *testing.T) {
	if limiter := newFixedWindowLimiter(0, time.Minute, nil); limiter != nil {
		t.Fatal("expected nil limiter for zero limit")
	}
	if limiter := newFixedWindowLimiter(5, 0, nil); limiter != nil {
		t.Fatal("expected nil limiter for zero window")
	}
}

func TestRateLimitMiddlewareRejectsOverBudget(t *testing.T) {
	middleware := NewRateLimitMiddleware(RateLimitSettings{DefaultPerMinute: 1})
	if middleware == nil {
		t.Fatal("expected middleware to be constructed")
	}

	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	request := func() int {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
		req.RemoteAddr = "203.0.113.9:4567"
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr.Code
	}

	if code := request(); code != http.StatusNoContent {
		t.Fatalf("expected first request to pass, got %d", code)
	}
	if code := request(); code != http.StatusTooManyRequests {
		t.Fatalf("expected second request to be limited, got %d", code)
	}
}

func TestRateLimitMiddlewareUsesAuthenticatedBudget(t *testing.T) {
	middleware := NewRateLimitMiddleware(RateLimitSettings{DefaultPerMinute: 1, AuthenticatedPerMinute: 3})

	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	request := func() int {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
		req.RemoteAddr = "203.0.113.9:4567"
		req.Header.Set("Authorization", "Bearer token-123")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr.Code
	}

	for i := 0; i < 3; i++ {
		if code := request(); code != http.StatusNoContent {
			t.Fatalf("request %d: expected pass, got %d", i+1, code)
		}
	}
	if code := request(); code != http.StatusTooManyRequests {
		t.Fatalf("expected fourth request to be limited, got %d", code)
	}
}

func TestRateLimitMiddlewareDisabledWhenUnconfigured(t *testing.T) {
	if middleware := NewRateLimitMiddleware(RateLimitSettings{}); middleware != nil {
		t.Fatal("expected nil middleware when no limits are set")
	}
}

func TestClientKeyPrefersForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:9999"
	req.Header.Set("X-Forwarded-For", "198.51.100.7, 10.0.0.1")

	if key := clientKey(req); key != "198.51.100.7" {
		t.Fatalf("expected forwarded address, got %q", key)
	}

	req.Header.Del("X-Forwarded-For")
	if key := clientKey(req); key != "10.0.0.1" {
		t.Fatalf("expected remote host, got %q", key)
	}
}
