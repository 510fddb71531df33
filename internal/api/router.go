// Stormgrid - Tropical Cyclone Risk Forecast Store
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/stormgrid

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/stormgrid/internal/config"
	"github.com/tomtom215/stormgrid/internal/middleware"
	"github.com/tomtom215/stormgrid/internal/models"
)

// slowRequest is the latency above which a request is logged at warn.
const slowRequest = 2 * time.Second

// NewRouter builds the HTTP routes for h.
func NewRouter(h *Handler, cfg config.ServerConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "If-None-Match"},
		ExposedHeaders: []string{"ETag", "X-Request-ID"},
		MaxAge:         86400,
	}))
	r.Use(middleware.AccessLog(slowRequest))
	r.Use(middleware.PrometheusMetrics)
	r.Use(chimiddleware.Compress(5, "application/json"))

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.RateLimitReqs > 0 {
			window := cfg.RateLimitWindow
			if window <= 0 {
				window = time.Minute
			}
			r.Use(httprate.Limit(cfg.RateLimitReqs, window,
				httprate.WithKeyFuncs(httprate.KeyByIP),
				httprate.WithLimitHandler(rateLimited),
			))
		}

		r.Get("/health", h.Health)
		r.Get("/runs/latest", h.LatestRuns)
		r.Get("/intensity", h.Intensity)
		r.Get("/ensemble/{storm}", h.Ensemble)
		r.Get("/storms/{id}/track", h.StormTrack)
		r.Get("/regions/{id}/contains/{cell}", h.RegionContains)
		r.Get("/cells/{cell}/regions", h.CellRegions)
		r.Get("/batches", h.Batches)
		r.Get("/batches/{id}", h.Batch)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, r, http.StatusNotFound, codeNotFound, "Route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})
	return r
}

func rateLimited(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, r, http.StatusTooManyRequests, &models.APIResponse{
		Status:   "error",
		Metadata: models.Metadata{Timestamp: time.Now().UTC()},
		Error:    &models.APIError{Code: "RATE_LIMITED", Message: "Too many requests"},
	})
}
