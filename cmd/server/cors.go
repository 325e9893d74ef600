package main

import (
	"net/http"

	"github.com/rs/cors"

	"github.com/maasdash/trafficaudit/internal/config"
)

// newCORS builds the CORS policy for the dashboard front end. It returns nil
// when CORS is disabled.
func newCORS(cfg config.CORSConfig) *cors.Cors {
	if !cfg.Enabled {
		return nil
	}
	return cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: cfg.AllowCredentials,
		MaxAge:           600,
	})
}

func corsMiddleware(cfg config.CORSConfig, next http.Handler) http.Handler {
	c := newCORS(cfg)
	if c == nil {
		return next
	}
	return c.Handler(next)
}
