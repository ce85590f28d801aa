package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gaspardpetit/genserve/internal/api"
	"github.com/gaspardpetit/genserve/internal/config"
	"github.com/gaspardpetit/genserve/internal/generate"
	"github.com/gaspardpetit/genserve/internal/inflight"
	"github.com/gaspardpetit/genserve/internal/mcpserver"
	"github.com/gaspardpetit/genserve/internal/serverstate"
)

// Deps are the runtime collaborators of the HTTP surface.
type Deps struct {
	Service  *generate.Service
	Tracker  *serverstate.Tracker
	Inflight *inflight.Counter
	Registry *prometheus.Registry
	Build    api.BuildInfo
}

// New constructs the HTTP handler for the server.
func New(cfg config.ServerConfig, d Deps) http.Handler {
	r := chi.NewRouter()
	if len(cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"*"},
			ExposedHeaders: []string{"Mcp-Session-Id"},
		}))
	}
	for _, m := range api.MiddlewareChain() {
		r.Use(m)
	}

	if d.Tracker == nil {
		d.Tracker = serverstate.NewTracker(nil)
	}
	if d.Inflight == nil {
		d.Inflight = &inflight.Counter{}
	}

	r.With(d.Inflight.Middleware).Post("/generate", api.GenerateHandler(d.Service))
	r.Get("/healthz", api.HealthHandler(d.Tracker))

	sh := &api.StateHandler{Tracker: d.Tracker, Service: d.Service, Build: d.Build, Interval: 2 * time.Second}
	r.Route("/api", func(ar chi.Router) {
		ar.Get("/state", sh.GetState)
		ar.Get("/state/stream", sh.GetStateStream)
		ar.Get("/openapi.json", api.OpenAPIHandler())
	})

	if cfg.EnableMCP {
		mcp := mcpserver.NewHandler(mcpserver.NewServer(d.Service, d.Build.Version))
		r.Handle("/mcp", mcp)
		// Only tool calls hold up a drain; the GET event stream is long-lived.
		r.With(d.Inflight.Middleware).Post("/mcp", mcp.ServeHTTP)
	}

	if d.Registry != nil && cfg.SharedMetrics() {
		r.Handle("/metrics", promhttp.HandlerFor(d.Registry, promhttp.HandlerOpts{}))
	}

	return r
}

// MetricsHandler serves /metrics on a dedicated listener.
func MetricsHandler(reg prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return mux
}
