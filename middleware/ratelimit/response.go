package ratelimit

import (
	"encoding/json"
	"fmt"
	"net/http"

	"admission-gateway/middleware/ratelimit/domain"
)

const tooManyRequests = "Too many requests"

// DenyBody é o JSON devolvido junto do 429.
type DenyBody struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retryAfter"`
}

// DenyResponse é a resposta HTTP pronta para uma decisão negada.
type DenyResponse struct {
	Status int
	Header http.Header
	Body   DenyBody
}

// BuildDenyResponse monta o 429 a partir da decisão. Puro e determinístico:
// só lê a decisão.
func BuildDenyResponse(dec domain.Decision) DenyResponse {
	retry := retryAfterSeconds(dec)

	msg := fmt.Sprintf("Rate limit exceeded. Try again in %d seconds.", retry)
	if dec.Blocked {
		msg = fmt.Sprintf("Too many requests detected. Access temporarily blocked for %d seconds.", retry)
	}

	h := make(http.Header)
	h.Set("Content-Type", "application/json")
	h.Set("Retry-After", formatInt(retry))
	setRateLimitHeaders(h, dec)

	return DenyResponse{
		Status: http.StatusTooManyRequests,
		Header: h,
		Body: DenyBody{
			Error:      tooManyRequests,
			Message:    msg,
			RetryAfter: retry,
		},
	}
}

// Write escreve headers, status e corpo em w.
func (r DenyResponse) Write(w http.ResponseWriter) {
	for k, vs := range r.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(r.Status)
	_ = json.NewEncoder(w).Encode(r.Body)
}

func setRateLimitHeaders(h http.Header, dec domain.Decision) {
	h.Set("X-RateLimit-Limit", formatInt(dec.Limit))
	h.Set("X-RateLimit-Remaining", formatInt(dec.Remaining))
	if !dec.ResetAt.IsZero() {
		h.Set("X-RateLimit-Reset", formatInt64(dec.ResetAt.UnixMilli()))
	}
}

func retryAfterSeconds(dec domain.Decision) int {
	secs := int(dec.RetryAfter.Seconds())
	if secs < 1 {
		secs = 1
	}
	return secs
}
