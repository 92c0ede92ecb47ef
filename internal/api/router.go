// Package api exposes the pairing engine over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/rapidroutes/lane-engine/internal/citystore"
	"github.com/rapidroutes/lane-engine/internal/engine"
	"github.com/rapidroutes/lane-engine/internal/indicators"
	"github.com/rapidroutes/lane-engine/internal/metrics"
)

// Pinger is implemented by stores backed by a connection pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies are the services the handlers use. Engine and Store are
// required; the rest are optional.
type Dependencies struct {
	Engine     *engine.Engine
	Store      citystore.Store
	DB         Pinger
	PairCache  *engine.PairCache
	Indicators *indicators.Cache
}

// NewRouter builds the HTTP handler. An empty origins list allows any origin.
func NewRouter(deps *Dependencies, origins []string) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Run-Id"},
		MaxAge:         300,
	}))
	r.Use(metrics.Middleware)

	r.Get("/health", HealthHandler())
	r.Get("/ready", ReadyHandler(deps))
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		r.Post("/pairings", PairingsHandler(deps))
		r.Post("/exports", ExportHandler(deps))
		r.Get("/cities/{state}/{name}", CityHandler(deps))
		r.Get("/cache", CacheStatsHandler(deps))
		r.Delete("/cache", InvalidateCacheHandler(deps))
	})
	return r
}
