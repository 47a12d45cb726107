package auth

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// LoginRateLimiter is a per-IP sliding window over credential endpoints.
// Rejections are recorded as RATE_LIMIT_HIT when an event log is attached.
type LoginRateLimiter struct {
	mu        sync.Mutex
	maxHits   int
	window    time.Duration
	hitByIP   map[string][]time.Time
	maxMemory int
	clock     Clock
	events    *SecurityLog
}

func NewLoginRateLimiter(maxHits int, window time.Duration, clock Clock, events *SecurityLog) *LoginRateLimiter {
	if maxHits <= 0 {
		maxHits = 5
	}
	if window <= 0 {
		window = time.Minute
	}
	if clock == nil {
		clock = SystemClock{}
	}

	return &LoginRateLimiter{
		maxHits:   maxHits,
		window:    window,
		hitByIP:   make(map[string][]time.Time),
		maxMemory: 5000,
		clock:     clock,
		events:    events,
	}
}

func (l *LoginRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)

		allowed, retryAfter := l.allow(ip, l.clock.Now())
		if !allowed {
			if l.events != nil {
				l.events.Record(EventRateLimitHit, EventDetails{IP: ip, Endpoint: r.Method + " " + r.URL.Path})
			}
			w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
			writeError(w, http.StatusTooManyRequests, "too many requests, please try again later")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (l *LoginRateLimiter) allow(ip string, now time.Time) (bool, time.Duration) {
	threshold := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	hits := l.hitByIP[ip]
	filtered := make([]time.Time, 0, len(hits)+1)
	for _, hit := range hits {
		if hit.After(threshold) {
			filtered = append(filtered, hit)
		}
	}

	if len(filtered) >= l.maxHits {
		retryAfter := filtered[0].Add(l.window).Sub(now)
		if retryAfter < time.Second {
			retryAfter = time.Second
		}
		l.hitByIP[ip] = filtered
		return false, retryAfter
	}

	filtered = append(filtered, now)
	l.hitByIP[ip] = filtered

	if len(l.hitByIP) > l.maxMemory {
		for key, value := range l.hitByIP {
			if len(value) == 0 || value[len(value)-1].Before(threshold) {
				delete(l.hitByIP, key)
			}
		}
	}

	return true, 0
}

func clientIP(r *http.Request) string {
	xForwardedFor := strings.TrimSpace(r.Header.Get("X-Forwarded-For"))
	if xForwardedFor != "" {
		parts := strings.Split(xForwardedFor, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}

	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}

	return "unknown"
}
