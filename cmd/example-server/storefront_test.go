package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"admission-gateway/middleware/ratelimit"
	"admission-gateway/middleware/ratelimit/infra"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStorefront() http.Handler {
	l := ratelimit.New(infra.NewMemoryStore(infra.WithSweepProbability(0)))
	return newStorefront(l, "admin-secret")
}

func do(h http.Handler, method, path, bearer string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(method, path, nil)
	if bearer != "" {
		r.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestStorefront_PaymentVeryStrict(t *testing.T) {
	h := newTestStorefront()

	for i := 1; i <= 5; i++ {
		require.Equal(t, http.StatusOK, do(h, http.MethodPost, "/payment/checkout", "test-token-very-strict-2").Code, "request %d", i)
	}
	w := do(h, http.MethodPost, "/payment/checkout", "test-token-very-strict-2")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), `"error":"Too many requests"`)

	// outro namespace, mesmo chamador
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/profile", "test-token-very-strict-2").Code)
}

func TestStorefront_AdminRoutesShareBucket(t *testing.T) {
	h := newTestStorefront()

	for i := 0; i < 5; i++ {
		do(h, http.MethodPost, "/admin/products", "admin-session")
		do(h, http.MethodDelete, "/admin/products/7", "admin-session")
	}
	assert.Equal(t, http.StatusTooManyRequests, do(h, http.MethodPost, "/admin/products", "admin-session").Code)
}

func TestStorefront_PasswordResetKeyedByEmail(t *testing.T) {
	h := newTestStorefront()

	for i := 0; i < 5; i++ {
		require.Equal(t, http.StatusOK, do(h, http.MethodPost, "/password-reset?email=a@example.com", "").Code)
	}
	assert.Equal(t, http.StatusTooManyRequests, do(h, http.MethodPost, "/password-reset?email=a@example.com", "").Code)
	assert.Equal(t, http.StatusOK, do(h, http.MethodPost, "/password-reset?email=b@example.com", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(h, http.MethodPost, "/password-reset", "").Code)
}
