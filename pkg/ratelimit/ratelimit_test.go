package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAllowEnforcesBurst(t *testing.T) {
	l := NewLimiter(1, 3)

	for i := 0; i < 3; i++ {
		if !l.Allow("client") {
			t.Fatalf("request %d within burst denied", i)
		}
	}
	if l.Allow("client") {
		t.Error("request beyond burst allowed")
	}
}

func TestAllowIsolatesKeys(t *testing.T) {
	l := NewLimiter(1, 1)

	if !l.Allow("a") {
		t.Fatal("first request for key a denied")
	}
	if l.Allow("a") {
		t.Error("second request for key a allowed")
	}
	if !l.Allow("b") {
		t.Error("key b throttled by key a's bucket")
	}
}

func TestMiddleware(t *testing.T) {
	l := NewLimiter(1, 1)
	handler := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/jobs", nil)
	req.RemoteAddr = "10.0.0.1:54321"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request: status %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("second request: status %d, expected 429", rec.Code)
	}

	// A different client IP gets its own bucket.
	other := httptest.NewRequest("GET", "/jobs", nil)
	other.RemoteAddr = "10.0.0.2:54321"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, other)
	if rec.Code != http.StatusOK {
		t.Errorf("other client: status %d", rec.Code)
	}
}
