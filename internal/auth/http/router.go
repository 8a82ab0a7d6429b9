// Package http serves the operational endpoints of the authorization core:
// liveness, readiness, metrics and the public signing keys. OAuth request
// handling is left to the embedding web tier.
package http

import (
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/aussiebroadwan/codegrant/internal/auth/store"
	"github.com/aussiebroadwan/codegrant/pkg/jwtx"
	"github.com/aussiebroadwan/codegrant/pkg/shutdown"
	"github.com/aussiebroadwan/codegrant/pkg/slogx"
)

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux *http.ServeMux

	keys         *jwtx.KeySet
	buildVersion string
	startTime    time.Time
	logger       *slog.Logger
	store        store.Store
	shutdown     *shutdown.Coordinator

	// Metrics is served at /metrics when set.
	Metrics http.Handler

	handler http.Handler
}

func NewRouter(
	keys *jwtx.KeySet,
	buildVersion string,
	st store.Store,
	coord *shutdown.Coordinator,
	logger *slog.Logger,
) *Router {
	return &Router{
		Mux:          http.NewServeMux(),
		keys:         keys,
		buildVersion: buildVersion,
		startTime:    time.Now(),
		logger:       logger,
		store:        st,
		shutdown:     coord,
	}
}

// ApplyRoutes registers every handler and builds the middleware chain. Call
// it once, after optional fields are set.
func (r *Router) ApplyRoutes() {
	r.Mux.HandleFunc("GET /livez", LivezHandler(r.startTime, r.buildVersion))
	r.Mux.HandleFunc("GET /readyz", ReadyzHandler(r.startTime, r.buildVersion, r.store, r.keys, r.shutdown))
	r.Mux.HandleFunc("GET /.well-known/jwks.json", JWKSHandler(r.keys))
	if r.Metrics != nil {
		r.Mux.Handle("GET /metrics", r.Metrics)
	}

	// Probes and scrapes are frequent; keep them out of the info log.
	logged := slogx.HTTPMiddleware(r.logger, "/livez", "/readyz", "/metrics")(r.Mux)
	r.handler = otelhttp.NewHandler(logged, "codegrant.ops",
		otelhttp.WithSpanNameFormatter(func(_ string, req *http.Request) string {
			return req.Method + " " + req.URL.Path
		}),
	)
}

// ServeHTTP implements http.Handler for Router and applies the global middleware chain.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.handler.ServeHTTP(w, req)
}
