package ratelimit

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"admission-gateway/middleware/ratelimit/application"

	"github.com/go-chi/chi/v5"
)

// AdminHandler expõe reset e manutenção para operadores e testes:
//
//	DELETE /buckets/{namespace}/{identifier}   remove um bucket
//	DELETE /buckets                            remove todos
//	POST   /maintenance/cleanup?retention=1h   limpeza por retenção
//
// Toda rota exige "Authorization: Bearer <token>". Com token vazio as rotas
// não existem (404).
func AdminHandler(l *Limiter, token string) http.Handler {
	r := chi.NewRouter()
	if token == "" || l == nil {
		return r
	}

	r.Use(requireBearer(token))

	r.Delete("/buckets/{namespace}/{identifier}", func(w http.ResponseWriter, req *http.Request) {
		ns := chi.URLParam(req, "namespace")
		id := chi.URLParam(req, "identifier")
		if err := l.Reset(req.Context(), id, ns); err != nil {
			slog.Error("rate limit reset failed", "namespace", ns, "identifier", id, "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "reset failed"})
			return
		}
		slog.Info("rate limit bucket reset", "namespace", ns, "identifier", id)
		writeJSON(w, http.StatusOK, map[string]string{"status": "reset", "namespace": ns, "identifier": id})
	})

	r.Delete("/buckets", func(w http.ResponseWriter, req *http.Request) {
		if err := l.ResetAll(req.Context()); err != nil {
			slog.Error("rate limit reset all failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "reset failed"})
			return
		}
		slog.Info("rate limit buckets reset")
		writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
	})

	r.Post("/maintenance/cleanup", func(w http.ResponseWriter, req *http.Request) {
		retention := time.Duration(0)
		if v := req.URL.Query().Get("retention"); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil || d < 0 {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid retention"})
				return
			}
			retention = d
		}

		n, err := l.Cleanup(req.Context(), retention)
		if errors.Is(err, application.ErrCleanupUnsupported) {
			writeJSON(w, http.StatusNotImplemented, map[string]string{"error": err.Error()})
			return
		}
		if err != nil {
			slog.Error("rate limit cleanup failed", "error", err, "deleted", n)
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "cleanup failed", "deleted": n})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"deleted": n, "retention": retention.String()})
	})

	return r
}

// StatsHandler responde GET /{namespace} com o bucket do próprio chamador.
// Não exige privilégio: só expõe dados derivados da própria request.
func StatsHandler(l *Limiter) http.Handler {
	r := chi.NewRouter()
	r.Get("/{namespace}", func(w http.ResponseWriter, req *http.Request) {
		snap, err := l.Stats(req, chi.URLParam(req, "namespace"))
		if err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "stats unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, snap)
	})
	return r
}

func requireBearer(token string) func(http.Handler) http.Handler {
	want := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
