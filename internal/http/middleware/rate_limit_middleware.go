package middleware

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/pkazmin/auth-rbac-service/internal/http/response"
)

// RateLimiter is a per-client fixed-window limiter held in process memory.
// Keys default to the client IP; auth endpoints use it to slow credential
// stuffing.
type RateLimiter struct {
	limit   int
	window  time.Duration
	keyFunc func(r *http.Request) string

	mu      sync.Mutex
	windows map[string]*clientWindow
	cleanup time.Time
}

type clientWindow struct {
	start time.Time
	hits  int
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:   limit,
		window:  window,
		keyFunc: clientIP,
		windows: make(map[string]*clientWindow),
		cleanup: time.Now().Add(time.Minute),
	}
}

func (l *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if l.limit <= 0 {
				next.ServeHTTP(w, r)
				return
			}
			retryAfter, allowed := l.allow(l.keyFunc(r))
			if !allowed {
				w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())+1))
				response.Error(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (l *RateLimiter) allow(key string) (time.Duration, bool) {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.After(l.cleanup) {
		for k, cw := range l.windows {
			if now.Sub(cw.start) > l.window {
				delete(l.windows, k)
			}
		}
		l.cleanup = now.Add(time.Minute)
	}

	cw, ok := l.windows[key]
	if !ok || now.Sub(cw.start) > l.window {
		l.windows[key] = &clientWindow{start: now, hits: 1}
		return 0, true
	}
	if cw.hits >= l.limit {
		return cw.start.Add(l.window).Sub(now), false
	}
	cw.hits++
	return 0, true
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
