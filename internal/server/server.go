package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jotalabs/infergate/internal/config"
	"github.com/jotalabs/infergate/internal/gateway"
)

// New constructs the HTTP handler for the gateway.
func New(gw *gateway.Server, cfg config.ServerConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))

	r.Get(cfg.WSPath, gw.WSHandler())
	// Trailing-slash variant: reverse proxies commonly rewrite the mount
	// point to one.
	r.Get(cfg.WSPath+"/", gw.WSHandler())
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	if cfg.MetricsPort == cfg.Port {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}
