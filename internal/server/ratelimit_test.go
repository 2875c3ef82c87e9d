package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestAllowSignPerKey(t *testing.T) {
	rl := newRateLimiter(RateLimitConfig{SignLimit: 2, SignWindow: time.Minute})

	for i := 0; i < 2; i++ {
		if allowed, _ := rl.AllowSign("203.0.113.7"); !allowed {
			t.Fatalf("request %d refused below the limit", i)
		}
	}
	allowed, retryAfter := rl.AllowSign("203.0.113.7")
	if allowed {
		t.Fatal("third sign request allowed against a limit of 2")
	}
	if retryAfter <= 0 {
		t.Fatal("refusal must carry a retry hint")
	}

	// Another viewer has its own bucket.
	if allowed, _ := rl.AllowSign("198.51.100.4"); !allowed {
		t.Fatal("separate key throttled by the first key's bucket")
	}
}

func TestAllowSignDisabled(t *testing.T) {
	rl := newRateLimiter(RateLimitConfig{})
	for i := 0; i < 50; i++ {
		if allowed, _ := rl.AllowSign("203.0.113.7"); !allowed {
			t.Fatal("zero sign limit must not throttle")
		}
	}
}

func TestAllowSignEmptyKey(t *testing.T) {
	rl := newRateLimiter(RateLimitConfig{SignLimit: 1, SignWindow: time.Minute})
	if allowed, _ := rl.AllowSign(""); !allowed {
		t.Fatal("first request on the fallback key refused")
	}
	if allowed, _ := rl.AllowSign(""); allowed {
		t.Fatal("fallback key must still be limited")
	}
}

func TestAllowRequestGlobal(t *testing.T) {
	rl := newRateLimiter(RateLimitConfig{GlobalRPS: 1, GlobalBurst: 2})
	allowed := 0
	for i := 0; i < 5; i++ {
		if rl.AllowRequest() {
			allowed++
		}
	}
	if allowed != 2 {
		t.Fatalf("burst of 2 admitted %d requests", allowed)
	}
}

func TestAllowRequestUnlimited(t *testing.T) {
	rl := newRateLimiter(RateLimitConfig{})
	for i := 0; i < 50; i++ {
		if !rl.AllowRequest() {
			t.Fatal("limiter without a global rate must admit everything")
		}
	}
}

func TestSignBucketCleanup(t *testing.T) {
	rl := newRateLimiter(RateLimitConfig{SignLimit: 1, SignWindow: time.Minute})
	rl.AllowSign("203.0.113.7")

	rl.signMu.Lock()
	rl.signBuckets["203.0.113.7"].lastSeen = time.Now().Add(-3 * time.Minute)
	rl.signMu.Unlock()

	rl.AllowSign("198.51.100.4")

	rl.signMu.Lock()
	_, stale := rl.signBuckets["203.0.113.7"]
	rl.signMu.Unlock()
	if stale {
		t.Fatal("idle bucket survived cleanup")
	}
}

func TestRateLimitMiddlewareThrottlesSign(t *testing.T) {
	rl := newRateLimiter(RateLimitConfig{SignLimit: 1, SignWindow: time.Minute})
	var served int
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		served++
		w.WriteHeader(http.StatusOK)
	})
	mw := rateLimitMiddleware(rl, nil, inner)

	doSign := func() *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/v1/sign", nil)
		req.Header.Set("X-Forwarded-For", "203.0.113.7")
		mw.ServeHTTP(rec, req)
		return rec
	}

	if rec := doSign(); rec.Code != http.StatusOK {
		t.Fatalf("first sign status = %d", rec.Code)
	}
	rec := doSign()
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second sign status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("throttled response must carry Retry-After")
	}
	if served != 1 {
		t.Fatalf("inner handler served %d requests, want 1", served)
	}

	// The sign throttle leaves other endpoints alone.
	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/healthz", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7")
	mw.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d, want 200", rec.Code)
	}
}

func TestClientIPFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.10:4455"
	if got := clientIPFromRequest(req); got != "192.0.2.10" {
		t.Fatalf("clientIPFromRequest = %q, want 192.0.2.10", got)
	}

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	if got := clientIPFromRequest(req); got != "203.0.113.7" {
		t.Fatalf("clientIPFromRequest = %q, want first forwarded hop", got)
	}
}
