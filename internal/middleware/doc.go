// Stormgrid - Tropical Cyclone Risk Forecast Store
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/stormgrid

/*
Package middleware provides HTTP middleware for the view API.

Key Components:

  - RequestID: UUID-based request tracking; the id doubles as the logging
    correlation id so every log line of a request can be found together
  - PrometheusMetrics: request counts and latency labelled by the chi route
    pattern rather than the raw path, which keeps label cardinality bounded
  - AccessLog: one structured log line per request, at warn level when the
    request took longer than the slow threshold

All middleware has the func(http.Handler) http.Handler shape so it can be
passed straight to chi's Use:

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.PrometheusMetrics)
	r.Use(middleware.AccessLog(500 * time.Millisecond))
*/
package middleware
