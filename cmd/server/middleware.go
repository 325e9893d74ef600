package main

import (
	"net/http"

	"github.com/maasdash/trafficaudit/internal/config"
	"github.com/maasdash/trafficaudit/internal/metrics"
	"github.com/maasdash/trafficaudit/internal/observability"
)

func buildMiddlewareStack(cfg *config.Config) (func(http.Handler) http.Handler, error) {
	if cfg == nil {
		return nil, errNilConfig
	}

	return func(next http.Handler) http.Handler {
		if next == nil {
			return nil
		}
		handler := next
		handler = metrics.Middleware(handler)
		handler = observability.RequestIDMiddleware(handler)
		handler = corsMiddleware(cfg.CORS, handler)
		return handler
	}, nil
}
