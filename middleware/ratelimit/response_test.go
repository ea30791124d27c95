package ratelimit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"admission-gateway/middleware/ratelimit/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildDenyResponse_WindowDeny(t *testing.T) {
	reset := time.UnixMilli(1767225660000)
	dec := domain.Decision{
		Allowed:    false,
		Remaining:  0,
		Limit:      5,
		ResetAt:    reset,
		RetryAfter: 42 * time.Second,
	}

	resp := BuildDenyResponse(dec)

	assert.Equal(t, http.StatusTooManyRequests, resp.Status)
	assert.Equal(t, "42", resp.Header.Get("Retry-After"))
	assert.Equal(t, "5", resp.Header.Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", resp.Header.Get("X-RateLimit-Remaining"))
	assert.Equal(t, "1767225660000", resp.Header.Get("X-RateLimit-Reset"))
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Equal(t, DenyBody{
		Error:      "Too many requests",
		Message:    "Rate limit exceeded. Try again in 42 seconds.",
		RetryAfter: 42,
	}, resp.Body)
}

func TestBuildDenyResponse_BlockedMessage(t *testing.T) {
	resp := BuildDenyResponse(domain.Decision{Limit: 5, RetryAfter: 15 * time.Minute, Blocked: true})

	assert.Equal(t, 900, resp.Body.RetryAfter)
	assert.Contains(t, resp.Body.Message, "temporarily blocked")
}

func TestBuildDenyResponse_IsDeterministic(t *testing.T) {
	dec := domain.Decision{Limit: 10, RetryAfter: 3 * time.Second, ResetAt: time.UnixMilli(1000)}
	assert.Equal(t, BuildDenyResponse(dec), BuildDenyResponse(dec))
}

func TestDenyResponse_Write(t *testing.T) {
	w := httptest.NewRecorder()
	BuildDenyResponse(domain.Decision{Limit: 5, RetryAfter: 7 * time.Second}).Write(w)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "7", w.Header().Get("Retry-After"))
	assert.True(t, strings.Contains(w.Body.String(), `"error":"Too many requests"`))

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, float64(7), body["retryAfter"])
}
