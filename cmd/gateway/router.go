package main

import (
	"encoding/json"
	"net/http"

	"admission-gateway/middleware/ratelimit"
	"admission-gateway/middleware/ratelimit/domain"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type routerDeps struct {
	cfg         config
	instanceID  string
	upstream    http.Handler
	limiter     *ratelimit.Limiter
	stats       domain.StatsStore
	concurrency *ratelimit.ConcurrencyLimiter
}

// buildRouter monta o gateway: rotas internas em /_ratelimit e, no resto,
// o proxy protegido pelo teto de concorrência e pela política de cada prefixo.
func buildRouter(d routerDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/_ratelimit", func(r chi.Router) {
		r.Get("/healthz", healthHandler(d))
		if d.limiter != nil {
			r.Mount("/admin", ratelimit.AdminHandler(d.limiter, d.cfg.adminToken))
			r.Mount("/stats", ratelimit.StatsHandler(d.limiter))
		}
	})

	r.Group(func(r chi.Router) {
		r.Use(d.concurrency.Middleware)

		fallback := d.upstream
		if d.cfg.rateEnabled && d.cfg.defaultPolicy != nil {
			fallback = d.limit(*d.cfg.defaultPolicy, d.cfg.defaultNamespace)(d.upstream)
		}

		for _, rt := range d.cfg.routes {
			if !d.cfg.rateEnabled {
				break
			}
			h := d.limit(rt.policy, rt.namespace)(d.upstream)
			if rt.prefix == "/" {
				fallback = h
				continue
			}
			r.Handle(rt.prefix, h)
			r.Handle(rt.prefix+"/*", h)
		}

		r.Handle("/*", fallback)
	})

	return r
}

func (d routerDeps) limit(p domain.Policy, namespace string) func(http.Handler) http.Handler {
	return ratelimit.Middleware(ratelimit.Options{
		Limiter:             d.limiter,
		Policy:              p,
		Namespace:           namespace,
		Stats:               d.stats,
		AddRateLimitHeaders: d.cfg.addHeaders,
	})
}

type health struct {
	Status              string `json:"status"`
	Instance            string `json:"instance"`
	Store               string `json:"store"`
	FailOpens           int64  `json:"failOpens"`
	InFlight            int    `json:"inFlight"`
	ConcurrencyCap      int    `json:"concurrencyCap"`
	ConcurrencyRejected int64  `json:"concurrencyRejected"`
}

func healthHandler(d routerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h := health{
			Status:              "ok",
			Instance:            d.instanceID,
			Store:               d.cfg.rateStore,
			ConcurrencyRejected: d.concurrency.Rejected(),
		}
		h.InFlight, h.ConcurrencyCap = d.concurrency.InFlight()
		if d.limiter != nil {
			h.FailOpens = d.limiter.FailOpens()
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(h)
	}
}
