// Stormgrid - Tropical Cyclone Risk Forecast Store
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/stormgrid

package database

import (
	"database/sql"
	"errors"
	"io"
	"log/slog"

	"github.com/tomtom215/stormgrid/internal/logging"
)

var (
	// ErrSpatialUnavailable is returned by operations that need the spatial extension.
	ErrSpatialUnavailable = errors.New("spatial extension is not available")

	// ErrH3Unavailable is returned by operations that need the h3 extension.
	ErrH3Unavailable = errors.New("h3 extension is not available")

	// ErrDatabaseClosed is returned after Close.
	ErrDatabaseClosed = errors.New("database is closed")

	// ErrNotFound is returned when a looked-up row does not exist.
	ErrNotFound = errors.New("not found")
)

// closeWithLog closes a resource and logs any error
// Use this for cleanup operations where errors should be acknowledged but not fail the operation
func closeWithLog(closer io.Closer, logger *slog.Logger, resourceType string) {
	if closer == nil {
		return
	}
	if err := closer.Close(); err != nil {
		if logger != nil {
			logger.Error("failed to close resource",
				"type", resourceType,
				"error", err)
		} else {
			logging.Warn().Str("type", resourceType).Err(err).Msg("Failed to close resource")
		}
	}
}

// closeQuietly closes a resource and explicitly ignores any error
// Use this for cleanup operations in error paths where Close() errors are not actionable
func closeQuietly(closer io.Closer) {
	if closer != nil {
		_ = closer.Close()
	}
}

// rollbackOnError rolls tx back when *errp is set and logs a failed rollback.
// Call it deferred with the named error result of the enclosing function.
func rollbackOnError(tx *sql.Tx, errp *error) {
	if *errp == nil {
		return
	}
	if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
		logging.Error().
			Err(rbErr).
			AnErr("original_error", *errp).
			Msg("Transaction rollback failed")
	}
}
