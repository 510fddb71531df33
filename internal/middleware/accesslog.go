// Stormgrid - Tropical Cyclone Risk Forecast Store
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/stormgrid

package middleware

import (
	"net/http"
	"time"

	"github.com/tomtom215/stormgrid/internal/logging"
)

// AccessLog logs every request at debug level, and at warn level when it
// took longer than slow. A zero slow threshold never warns.
func AccessLog(slow time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapper := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapper, r)

			d := time.Since(start)
			logger := logging.Ctx(r.Context())
			event := logger.Debug()
			if slow > 0 && d > slow {
				event = logger.Warn().Bool("slow", true)
			}
			event.
				Str("method", r.Method).
				Str("route", routePattern(r)).
				Int("status", wrapper.statusCode).
				Dur("duration", d).
				Msg("HTTP request")
		})
	}
}
