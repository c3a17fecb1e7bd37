package handlers

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/craftyard/api/internal/platform/httpx"
)

// RateLimitSettings configure the fixed-window limiter placed in front of
// the API surface. Zero limits disable the corresponding budget.
type RateLimitSettings struct {
	// DefaultPerMinute applies to callers without credentials.
	DefaultPerMinute int
	// AuthenticatedPerMinute applies when the request carries a bearer
	// token. Token validity is checked later by the auth middleware.
	AuthenticatedPerMinute int
	Clock                  func() time.Time
}

// NewRateLimitMiddleware enforces a per-client fixed-window request budget.
// Clients are keyed by IP (first X-Forwarded-For hop when present). Returns
// nil when both limits are zero so callers can skip wiring it.
func NewRateLimitMiddleware(settings RateLimitSettings) func(http.Handler) http.Handler {
	anonymous := newFixedWindowLimiter(settings.DefaultPerMinute, time.Minute, settings.Clock)
	authenticated := newFixedWindowLimiter(settings.AuthenticatedPerMinute, time.Minute, settings.Clock)
	if anonymous == nil && authenticated == nil {
		return nil
	}
	if authenticated == nil {
		authenticated = anonymous
	}
	if anonymous == nil {
		anonymous = authenticated
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			limiter := anonymous
			if hasBearerToken(r) {
				limiter = authenticated
			}
			if !limiter.Allow(clientKey(r)) {
				httpx.WriteError(r.Context(), w, httpx.NewError("rate_limited", "too many requests", http.StatusTooManyRequests))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func hasBearerToken(r *http.Request) bool {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	return len(header) > 7 && strings.EqualFold(header[:7], "Bearer ")
}

func clientKey(r *http.Request) string {
	if forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type fixedWindowLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time
	mu     sync.Mutex
	store  map[string]windowEntry
}

type windowEntry struct {
	count int
	reset time.Time
}

func newFixedWindowLimiter(limit int, window time.Duration, clock func() time.Time) *fixedWindowLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &fixedWindowLimiter{
		limit:  limit,
		window: window,
		clock:  clock,
		store:  make(map[string]windowEntry),
	}
}

// Allow records one request for the key and reports whether it fits the
// current window.
func (l *fixedWindowLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "anonymous"
	}
	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.store[key]
	if !ok || now.After(entry.reset) {
		l.store[key] = windowEntry{count: 1, reset: now.Add(l.window)}
		l.pruneExpiredLocked(now)
		return true
	}

	if entry.count >= l.limit {
		return false
	}
	entry.count++
	l.store[key] = entry
	return true
}

func (l *fixedWindowLimiter) pruneExpiredLocked(now time.Time) {
	for key, entry := range l.store {
		if now.After(entry.reset) {
			delete(l.store, key)
		}
	}
}
