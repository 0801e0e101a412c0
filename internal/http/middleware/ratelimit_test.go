package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/wolfman30/homecare-visits/internal/actor"
)

func TestRateLimiterRefills(t *testing.T) {
	rl := NewRateLimiter(1, 2)
	defer rl.Stop()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	if !rl.Allow("a") || !rl.Allow("a") {
		t.Fatal("burst should allow two requests")
	}
	if rl.Allow("a") {
		t.Fatal("third request should be limited")
	}
	if !rl.Allow("b") {
		t.Fatal("other keys have their own bucket")
	}
	now = now.Add(1500 * time.Millisecond)
	if !rl.Allow("a") {
		t.Fatal("bucket should refill over time")
	}
}

func TestRateLimitMiddlewareKeysByActor(t *testing.T) {
	rl := NewRateLimiter(0, 1)
	defer rl.Stop()
	handler := RateLimit(rl)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(a *actor.Actor) int {
		req := httptest.NewRequest(http.MethodGet, "/visitas", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		if a != nil {
			req = req.WithContext(actor.WithActor(req.Context(), *a))
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	doctor := &actor.Actor{Role: actor.RoleDoctor, ID: 4}
	if code := send(doctor); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if code := send(doctor); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", code)
	}
	if code := send(nil); code != http.StatusOK {
		t.Fatalf("anonymous caller on same ip should use its own bucket, got %d", code)
	}
}
