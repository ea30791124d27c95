package ratelimit

import (
	"fmt"
	"net/http"
	"time"

	"admission-gateway/middleware/ratelimit/domain"
)

type Options struct {
	Limiter   *Limiter
	Policy    domain.Policy
	Namespace string
	Stats     domain.StatsStore
	// AddRateLimitHeaders adiciona X-RateLimit-* também nas respostas permitidas.
	AddRateLimitHeaders bool
}

// Middleware aplica a política de admissão a uma rota.
//
// Política inválida é erro de programação: panic na montagem das rotas,
// nunca na request. Limiter nil deixa tudo passar.
func Middleware(opts Options) func(next http.Handler) http.Handler {
	if err := opts.Policy.Validate(); err != nil {
		panic(fmt.Sprintf("ratelimit: namespace %q: %v", opts.Namespace, err))
	}
	if opts.Namespace == "" {
		panic("ratelimit: namespace is required")
	}

	return func(next http.Handler) http.Handler {
		if opts.Limiter == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := opts.Limiter.Identify(r)
			dec := opts.Limiter.CheckIdentifier(r.Context(), id, opts.Policy, opts.Namespace)

			if opts.Stats != nil {
				_ = opts.Stats.Record(r.Context(), domain.StatsEvent{
					Key:       domain.BucketKey(opts.Namespace, id),
					Namespace: opts.Namespace,
					Allowed:   dec.Allowed,
					Blocked:   dec.Blocked,
					Method:    r.Method,
					Path:      r.URL.Path,
					At:        time.Now(),
				})
			}

			if !dec.Allowed {
				BuildDenyResponse(dec).Write(w)
				return
			}

			if opts.AddRateLimitHeaders {
				setRateLimitHeaders(w.Header(), dec)
			}
			next.ServeHTTP(w, r)
		})
	}
}
