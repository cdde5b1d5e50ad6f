package handlers

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/itamarnascimento/shop-dash-catalogue/internal/platform/auth"
)

// attemptLimiter bounds how many coupon codes a caller may try inside a window.
type attemptLimiter interface {
	// Allow records an attempt for key and reports whether it is within budget. When it is not,
	// the second value is the time until the window resets.
	Allow(key string) (bool, time.Duration)
}

type fixedWindowLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time

	mu      sync.Mutex
	windows map[string]attemptWindow
}

type attemptWindow struct {
	attempts int
	resetAt  time.Time
}

func newFixedWindowLimiter(limit int, window time.Duration, clock func() time.Time) attemptLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &fixedWindowLimiter{
		limit:   limit,
		window:  window,
		clock:   clock,
		windows: make(map[string]attemptWindow),
	}
}

func (l *fixedWindowLimiter) Allow(key string) (bool, time.Duration) {
	if l == nil {
		return true, 0
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "anonymous"
	}
	now := l.clock()

	l.mu.Lock()
	defer l.mu.Unlock()

	current, ok := l.windows[key]
	if !ok || !now.Before(current.resetAt) {
		l.windows[key] = attemptWindow{attempts: 1, resetAt: now.Add(l.window)}
		l.evictExpiredLocked(now)
		return true, 0
	}
	if current.attempts >= l.limit {
		return false, current.resetAt.Sub(now)
	}
	current.attempts++
	l.windows[key] = current
	return true, 0
}

func (l *fixedWindowLimiter) evictExpiredLocked(now time.Time) {
	for key, w := range l.windows {
		if !now.Before(w.resetAt) {
			delete(l.windows, key)
		}
	}
}

// limiterKey prefers the signed-in user, then the cart session, then the client address.
func limiterKey(r *http.Request) string {
	if uid := strings.TrimSpace(auth.UserID(r.Context())); uid != "" {
		return "user:" + uid
	}
	if session := strings.TrimSpace(r.Header.Get(CartSessionHeader)); session != "" {
		return "session:" + session
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		host = strings.TrimSpace(r.RemoteAddr)
	}
	return "ip:" + host
}
