package ratelimit

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"admission-gateway/middleware/ratelimit/clock"
	"admission-gateway/middleware/ratelimit/domain"
	"admission-gateway/middleware/ratelimit/infra"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func newTestLimiter(clk clock.Clock) *Limiter {
	return New(infra.NewMemoryStore(infra.WithSweepProbability(0), infra.WithStoreClock(clk)),
		WithClock(clk),
		WithIdentifierFunc(DefaultIdentifierFunc(true)),
	)
}

func TestMiddleware_AllowsThenRejectsSameKey(t *testing.T) {
	l := newTestLimiter(clock.NewManual(t0))

	calls := 0
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "ok")
	})

	h := Middleware(Options{
		Limiter:             l,
		Policy:              domain.Policy{Window: time.Minute, MaxRequests: 1},
		Namespace:           "newsletter",
		AddRateLimitHeaders: true,
	})(next)

	// 1) primeira passa
	r1 := httptest.NewRequest(http.MethodPost, "http://example/newsletter", nil)
	r1.RemoteAddr = "10.0.0.1:1234"
	w1 := httptest.NewRecorder()
	h.ServeHTTP(w1, r1)
	if w1.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w1.Code)
	}
	if got := w1.Header().Get("X-RateLimit-Limit"); got != "1" {
		t.Fatalf("expected X-RateLimit-Limit=1, got %q", got)
	}
	if got := w1.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Fatalf("expected X-RateLimit-Remaining=0, got %q", got)
	}

	// 2) segunda deve bloquear
	r2 := httptest.NewRequest(http.MethodPost, "http://example/newsletter", nil)
	r2.RemoteAddr = "10.0.0.1:1234"
	w2 := httptest.NewRecorder()
	h.ServeHTTP(w2, r2)
	if w2.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w2.Code)
	}
	if got := w2.Header().Get("Retry-After"); got != "60" {
		t.Fatalf("expected Retry-After=60, got %q", got)
	}

	if calls != 1 {
		t.Fatalf("expected next handler to be called once, got %d", calls)
	}
}

func TestMiddleware_DistinctCallersHaveOwnBuckets(t *testing.T) {
	l := newTestLimiter(clock.NewManual(t0))

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	h := Middleware(Options{
		Limiter:   l,
		Policy:    domain.Policy{Window: time.Minute, MaxRequests: 1},
		Namespace: "auth",
	})(next)

	// dois tokens diferentes => ambos devem passar (cada um tem seu próprio bucket)
	for _, token := range []string{"k1-aaaaaaaaaaaaaaaa", "k2-bbbbbbbbbbbbbbbb"} {
		r := httptest.NewRequest(http.MethodPost, "http://example/login", nil)
		r.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200 for token %s, got %d", token, w.Code)
		}
	}
}

func TestMiddleware_RecordsStats(t *testing.T) {
	l := newTestLimiter(clock.NewManual(t0))
	stats := infra.NewMemoryStatsStore(infra.WithTrackKeys(true))

	h := Middleware(Options{
		Limiter:   l,
		Policy:    domain.Policy{Window: time.Minute, MaxRequests: 1},
		Namespace: "payment",
		Stats:     stats,
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	for i := 0; i < 3; i++ {
		r := httptest.NewRequest(http.MethodPost, "http://example/checkout", nil)
		r.Header.Set("X-Forwarded-For", "198.51.100.4")
		h.ServeHTTP(httptest.NewRecorder(), r)
	}

	got := stats.ByNamespace()["payment"]
	if got.Allowed != 1 || got.Denied != 2 {
		t.Fatalf("unexpected counters %+v", got)
	}
	if _, ok := stats.ByKey()["payment:ip_198.51.100.4"]; !ok {
		t.Fatalf("expected per-key counters for the bucket, got %v", stats.ByKey())
	}
}

func TestMiddleware_DenyBodyIsJSON(t *testing.T) {
	clk := clock.NewManual(t0)
	l := newTestLimiter(clk)

	h := Middleware(Options{
		Limiter:   l,
		Policy:    domain.Policy{Window: time.Minute, MaxRequests: 1},
		Namespace: "admin",
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	r := httptest.NewRequest(http.MethodDelete, "http://example/admin/products/1", nil)
	r.Header.Set("Authorization", "Bearer admin-session-token")
	h.ServeHTTP(httptest.NewRecorder(), r)

	clk.Advance(15*time.Second + 500*time.Millisecond)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	var body DenyBody
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if body.Error != "Too many requests" || body.RetryAfter != 45 {
		t.Fatalf("unexpected body %+v", body)
	}
	if got := w.Header().Get("Retry-After"); got != strconv.Itoa(body.RetryAfter) {
		t.Fatalf("expected Retry-After header to match body, got %q", got)
	}
}

func TestMiddleware_NilLimiterPassesThrough(t *testing.T) {
	called := false
	h := Middleware(Options{Policy: domain.Standard, Namespace: "profile"})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }),
	)
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "http://example/", nil))
	if !called {
		t.Fatalf("expected next handler to be called")
	}
}

func TestMiddleware_InvalidPolicyPanicsAtSetup(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for invalid policy")
		}
	}()
	Middleware(Options{Policy: domain.Policy{Window: time.Minute}, Namespace: "payment"})
}

func TestMiddleware_EmptyNamespacePanicsAtSetup(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for empty namespace")
		}
	}()
	Middleware(Options{Policy: domain.Standard})
}
