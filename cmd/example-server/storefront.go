package main

import (
	"encoding/json"
	"net/http"

	"admission-gateway/middleware/ratelimit"
	"admission-gateway/middleware/ratelimit/domain"

	"github.com/go-chi/chi/v5"
)

// newStorefront monta as rotas de uma loja fictícia, cada grupo com seu tier.
func newStorefront(l *ratelimit.Limiter, adminToken string) http.Handler {
	limit := func(p domain.Policy, ns string) func(http.Handler) http.Handler {
		return ratelimit.Middleware(ratelimit.Options{
			Limiter:             l,
			Policy:              p,
			Namespace:           ns,
			AddRateLimitHeaders: true,
		})
	}

	r := chi.NewRouter()

	r.With(limit(domain.VeryStrict, "auth")).Post("/auth/login", reply("logged in"))
	r.With(limit(domain.VeryStrict, "payment")).Post("/payment/checkout", reply("payment accepted"))

	r.Route("/admin", func(r chi.Router) {
		r.Use(limit(domain.Strict, "admin"))
		r.Post("/products", reply("product created"))
		r.Delete("/products/{id}", reply("product deleted"))
	})

	r.With(limit(domain.Strict, "newsletter")).Post("/newsletter", reply("subscribed"))
	r.With(limit(domain.Standard, "profile")).Get("/profile", reply("profile"))

	// checagem direta, sem middleware: o bucket é o e-mail informado
	r.Post("/password-reset", func(w http.ResponseWriter, req *http.Request) {
		email := req.URL.Query().Get("email")
		if email == "" {
			http.Error(w, "email is required", http.StatusBadRequest)
			return
		}
		dec := l.CheckIdentifier(req.Context(), "email_"+email, domain.VeryStrict, "password_reset")
		if !dec.Allowed {
			ratelimit.BuildDenyResponse(dec).Write(w)
			return
		}
		reply("reset link sent")(w, req)
	})

	r.Mount("/rate-limit/stats", ratelimit.StatsHandler(l))
	r.Mount("/rate-limit/admin", ratelimit.AdminHandler(l, adminToken))

	return r
}

func reply(msg string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"message": msg})
	}
}
