package server

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// RateLimitConfig bounds request volume. GlobalRPS caps the whole server;
// SignLimit/SignWindow throttle URL signing per viewer IP.
type RateLimitConfig struct {
	GlobalRPS   float64
	GlobalBurst int
	SignLimit   int
	SignWindow  time.Duration
}

type rateLimiter struct {
	global      *tokenBucket
	signLimit   int
	signWindow  time.Duration
	signMu      sync.Mutex
	signBuckets map[string]*ipLimiter
}

type ipLimiter struct {
	bucket   *tokenBucket
	lastSeen time.Time
}

func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	rl := &rateLimiter{
		signLimit:   cfg.SignLimit,
		signWindow:  cfg.SignWindow,
		signBuckets: make(map[string]*ipLimiter),
	}
	if cfg.GlobalRPS > 0 {
		burst := cfg.GlobalBurst
		if burst <= 0 {
			burst = int(cfg.GlobalRPS)
			if burst < 1 {
				burst = 1
			}
		}
		rl.global = newTokenBucket(cfg.GlobalRPS, burst)
	}
	if rl.signLimit < 0 {
		rl.signLimit = 0
	}
	if rl.signWindow <= 0 {
		rl.signWindow = time.Minute
	}
	return rl
}

func (r *rateLimiter) AllowRequest() bool {
	if r == nil || r.global == nil {
		return true
	}
	return r.global.Allow()
}

func (r *rateLimiter) AllowSign(key string) (bool, time.Duration) {
	if r == nil || r.signLimit <= 0 {
		return true, 0
	}
	if key == "" {
		key = "unknown"
	}
	r.signMu.Lock()
	limiter, exists := r.signBuckets[key]
	if !exists {
		rate := float64(r.signLimit) / r.signWindow.Seconds()
		if rate <= 0 {
			rate = 1 / r.signWindow.Seconds()
		}
		limiter = &ipLimiter{bucket: newTokenBucket(rate, r.signLimit)}
		r.signBuckets[key] = limiter
	}
	limiter.lastSeen = time.Now()
	r.cleanupLocked()
	r.signMu.Unlock()

	if limiter.bucket.Allow() {
		return true, 0
	}
	return false, time.Second
}

func (r *rateLimiter) cleanupLocked() {
	if len(r.signBuckets) == 0 {
		return
	}
	cutoff := time.Now().Add(-2 * r.signWindow)
	for key, limiter := range r.signBuckets {
		if limiter.lastSeen.Before(cutoff) {
			delete(r.signBuckets, key)
		}
	}
}

type tokenBucket struct {
	mu        sync.Mutex
	rate      float64
	capacity  float64
	tokens    float64
	lastCheck time.Time
}

func newTokenBucket(rate float64, burst int) *tokenBucket {
	if rate <= 0 {
		rate = 1
	}
	if burst <= 0 {
		burst = 1
	}
	now := time.Now()
	return &tokenBucket{
		rate:      rate,
		capacity:  float64(burst),
		tokens:    float64(burst),
		lastCheck: now,
	}
}

func (tb *tokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	now := time.Now()
	elapsed := now.Sub(tb.lastCheck).Seconds()
	tb.lastCheck = now
	tb.tokens += elapsed * tb.rate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	if tb.tokens < 1 {
		return false
	}
	tb.tokens -= 1
	return true
}

func clientIPFromRequest(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first := strings.TrimSpace(strings.Split(fwd, ",")[0])
		if first != "" {
			return first
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
