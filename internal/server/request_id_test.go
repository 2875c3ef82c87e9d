package server

import (
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
)

func TestRequestIDMiddlewareGenerates(t *testing.T) {
	var sawHeader string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawHeader = w.Header().Get("X-Request-Id")
	})
	mw := requestIDMiddlewareWithGenerator(nil, func() string { return "generated-id" }, inner)

	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/healthz", nil))

	if rec.Header().Get("X-Request-Id") != "generated-id" {
		t.Fatalf("X-Request-Id = %q, want generated-id", rec.Header().Get("X-Request-Id"))
	}
	if sawHeader != "generated-id" {
		t.Fatal("downstream handler must observe the generated id")
	}
}

func TestRequestIDMiddlewareEchoesInbound(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	mw := requestIDMiddleware(nil, inner)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/healthz", nil)
	req.Header.Set("X-Request-Id", "caller-supplied")
	mw.ServeHTTP(rec, req)

	if rec.Header().Get("X-Request-Id") != "caller-supplied" {
		t.Fatalf("X-Request-Id = %q, want caller-supplied", rec.Header().Get("X-Request-Id"))
	}
}

func TestNewRequestIDShape(t *testing.T) {
	pattern := regexp.MustCompile(`^[0-9a-f]{32}$`)
	id := newRequestID()
	if !pattern.MatchString(id) {
		t.Fatalf("request id %q is not 32 hex characters", id)
	}
	if newRequestID() == id {
		t.Fatal("consecutive ids must differ")
	}
}
