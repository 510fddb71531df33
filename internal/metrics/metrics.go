// Stormgrid - Tropical Cyclone Risk Forecast Store
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/stormgrid

// Package metrics holds the Prometheus collectors for the store, the
// enrichment passes, the load pipeline and the view API.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Database Metrics
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stormgrid_duckdb_query_duration_seconds",
			Help:    "Duration of DuckDB statements in seconds",
			Buckets: []float64{0.005, 0.025, 0.1, 0.5, 1, 5, 15, 60, 300},
		},
		[]string{"operation", "table"},
	)

	DBQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stormgrid_duckdb_query_errors_total",
			Help: "Total number of failed DuckDB statements",
		},
		[]string{"operation", "table"},
	)

	// Grid & Region Join Metrics
	RegionJoinAssigned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stormgrid_region_join_assigned_total",
			Help: "Centroids claimed by a region, by join strategy",
		},
		[]string{"strategy"},
	)

	RegionJoinDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stormgrid_region_join_duration_seconds",
			Help:    "Duration of a full region join pass",
			Buckets: prometheus.ExponentialBuckets(0.1, 4, 8),
		},
		[]string{"strategy"},
	)

	// Exposure Metrics
	ExposureSamples = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stormgrid_exposure_samples_total",
			Help: "Raster samples attached to centroids, by field and result (updated, gap, unknown)",
		},
		[]string{"field", "result"},
	)

	// Hex Index Metrics
	PolyfillCells = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stormgrid_polyfill_cells_total",
			Help: "Cells produced by region polyfill, before (raw) and after (compact) compaction",
		},
		[]string{"kind"},
	)

	PolyfillFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stormgrid_polyfill_fallbacks_total",
			Help: "Regions smaller than one cell that were indexed by their centroid cell",
		},
	)

	// Pipeline Metrics
	BatchTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stormgrid_batch_transitions_total",
			Help: "Load batch state transitions, by target state",
		},
		[]string{"state"},
	)

	BatchRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stormgrid_batch_rows_total",
			Help: "Series rows handled by the pipeline, by outcome (staged, merged, skipped, offending, filtered)",
		},
		[]string{"outcome"},
	)

	BatchStepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stormgrid_batch_step_duration_seconds",
			Help:    "Duration of a pipeline step",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 9),
		},
		[]string{"step"},
	)

	// API Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stormgrid_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stormgrid_api_request_duration_seconds",
			Help:    "API request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	ViewCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stormgrid_view_cache_lookups_total",
			Help: "View cache lookups by result (hit, miss)",
		},
		[]string{"result"},
	)

	ViewCacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stormgrid_view_cache_entries",
			Help: "Responses held in the view cache",
		},
	)
)

// RecordDBQuery records one DuckDB statement.
func RecordDBQuery(operation, table string, duration time.Duration, err error) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
	if err != nil {
		DBQueryErrors.WithLabelValues(operation, table).Inc()
	}
}

// RecordRegionJoin records a completed region join pass.
func RecordRegionJoin(strategy string, assigned int64, duration time.Duration) {
	RegionJoinAssigned.WithLabelValues(strategy).Add(float64(assigned))
	RegionJoinDuration.WithLabelValues(strategy).Observe(duration.Seconds())
}

// RecordExposure records the outcome counts of one attachment pass.
func RecordExposure(field string, updated, gaps, unknown int64) {
	ExposureSamples.WithLabelValues(field, "updated").Add(float64(updated))
	ExposureSamples.WithLabelValues(field, "gap").Add(float64(gaps))
	ExposureSamples.WithLabelValues(field, "unknown").Add(float64(unknown))
}

// RecordPolyfill records the raw and compacted cell counts of one region.
func RecordPolyfill(raw, compact int, fallback bool) {
	PolyfillCells.WithLabelValues("raw").Add(float64(raw))
	PolyfillCells.WithLabelValues("compact").Add(float64(compact))
	if fallback {
		PolyfillFallbacks.Inc()
	}
}

// RecordBatchTransition counts a batch entering state.
func RecordBatchTransition(state string) {
	BatchTransitions.WithLabelValues(state).Inc()
}

// RecordBatchRows adds n rows to the given outcome.
func RecordBatchRows(outcome string, n int64) {
	if n <= 0 {
		return
	}
	BatchRows.WithLabelValues(outcome).Add(float64(n))
}

// RecordBatchStep records the duration of a pipeline step.
func RecordBatchStep(step string, duration time.Duration) {
	BatchStepDuration.WithLabelValues(step).Observe(duration.Seconds())
}

// RecordAPIRequest records an API request.
func RecordAPIRequest(method, route, status string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, route, status).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordViewCache counts one view cache lookup.
func RecordViewCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	ViewCacheLookups.WithLabelValues(result).Inc()
}
