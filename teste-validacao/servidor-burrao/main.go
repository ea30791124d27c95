// Upstream de validação manual do gateway: responde qualquer rota com um eco
// em JSON, para conferir o que passou pelo rate limit.
package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
)

func main() {
	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}

	r := chi.NewRouter()
	r.HandleFunc("/*", func(w http.ResponseWriter, req *http.Request) {
		slog.Info("upstream hit", "method", req.Method, "path", req.URL.Path,
			"xff", req.Header.Get("X-Forwarded-For"))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"method": req.Method,
			"path":   req.URL.Path,
			"at":     time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	slog.Info("upstream de validação rodando", "addr", addr)
	if err := http.ListenAndServe(addr, r); err != nil {
		slog.Error("erro ao subir o servidor", "error", err)
		os.Exit(1)
	}
}
