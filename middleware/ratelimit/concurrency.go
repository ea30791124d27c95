package ratelimit

import (
	"net/http"
	"time"

	"admission-gateway/middleware/ratelimit/application"
	"admission-gateway/middleware/ratelimit/infra"
)

// ConcurrencyOptions limita quantas requests ficam em voo ao mesmo tempo,
// independente de quem as envia. Complementa o rate limit por chamador.
type ConcurrencyOptions struct {
	Max            int
	AcquireTimeout time.Duration
	// RetryAfter vira o header Retry-After do 503. 0 omite o header.
	RetryAfter time.Duration
}

// ConcurrencyLimiter guarda o estado do teto de concorrência para que o
// gateway possa expor ocupação e recusas.
type ConcurrencyLimiter struct {
	svc        *application.ConcurrencyService
	retryAfter time.Duration
}

// NewConcurrencyLimiter devolve nil quando Max <= 0 (sem teto).
func NewConcurrencyLimiter(opts ConcurrencyOptions) *ConcurrencyLimiter {
	if opts.Max <= 0 {
		return nil
	}
	return &ConcurrencyLimiter{
		svc:        application.NewConcurrencyService(infra.NewChanPool(opts.Max), opts.AcquireTimeout),
		retryAfter: opts.RetryAfter,
	}
}

// InFlight devolve (em uso, capacidade).
func (c *ConcurrencyLimiter) InFlight() (int, int) {
	if c == nil {
		return 0, 0
	}
	return c.svc.InFlight()
}

func (c *ConcurrencyLimiter) Rejected() int64 {
	if c == nil {
		return 0
	}
	return c.svc.Rejected()
}

func (c *ConcurrencyLimiter) Middleware(next http.Handler) http.Handler {
	if c == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		release, ok := c.svc.Acquire(r.Context())
		if !ok {
			if c.retryAfter > 0 {
				w.Header().Set("Retry-After", formatInt(int(c.retryAfter.Seconds())))
			}
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"error":   "Service busy",
				"message": "Too many requests in flight. Try again shortly.",
			})
			return
		}
		defer release()

		next.ServeHTTP(w, r)
	})
}

func ConcurrencyMiddleware(opts ConcurrencyOptions) func(next http.Handler) http.Handler {
	return NewConcurrencyLimiter(opts).Middleware
}
