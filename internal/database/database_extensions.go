// Stormgrid - Tropical Cyclone Risk Forecast Store
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/stormgrid

/*
database_extensions.go - DuckDB Extension Installation

Two extensions back the geometric work:
  - spatial: GEOMETRY, ST_Contains, RTREE indexes (region join)
  - h3: h3_polygon_wkt_to_cells, h3_latlng_to_cell (hex-cell index)

Installation Strategy:
With database.install_extensions=true each extension follows the fallback
pattern INSTALL, then LOAD, then FORCE INSTALL, with retries on transient
network errors. With install_extensions=false only extensions already in the
local DuckDB extension directory are loaded; nothing touches the network.

With database.extensions_optional=true a missing extension is logged and
the store opens without it. Operations that need it then return
ErrSpatialUnavailable or ErrH3Unavailable.
*/

//nolint:staticcheck // File documentation, not package doc
package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/tomtom215/stormgrid/internal/logging"
)

// extensionTimeout is the hard timeout for a single extension statement.
// CGO calls don't respect context cancellation, so the timeout is enforced
// from a goroutine.
var extensionTimeout = getExtensionTimeout()

// extensionRetryConfig controls retry behavior for extension operations
type extensionRetryConfig struct {
	MaxRetries  int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	BackoffMult float64
}

var defaultRetryConfig = extensionRetryConfig{
	MaxRetries:  3,
	BaseDelay:   2 * time.Second,
	MaxDelay:    30 * time.Second,
	BackoffMult: 2.0,
}

// getExtensionTimeout reads DUCKDB_EXTENSION_TIMEOUT (e.g. "30s", "1m").
func getExtensionTimeout() time.Duration {
	if timeoutStr := os.Getenv("DUCKDB_EXTENSION_TIMEOUT"); timeoutStr != "" {
		if d, err := time.ParseDuration(timeoutStr); err == nil && d > 0 {
			return d
		}
	}
	return 30 * time.Second
}

// duckdbVersion must match the duckdb-go-bindings version in go.mod.
const duckdbVersion = "v1.4.3"

// isExtensionInstalledLocally checks the local DuckDB extension directory:
// ~/.duckdb/extensions/{version}/{platform}/{name}.duckdb_extension
func isExtensionInstalledLocally(extensionName string) bool {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return false
	}

	platform := runtime.GOOS + "_" + runtime.GOARCH
	extPath := filepath.Join(homeDir, ".duckdb", "extensions", duckdbVersion, platform, extensionName+".duckdb_extension")

	_, err = os.Stat(extPath)
	return err == nil
}

func extensionContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), extensionTimeout)
}

type execResult struct {
	err error
}

type queryResult struct {
	value interface{}
	err   error
}

// execWithHardTimeout executes a statement with a goroutine-based hard timeout.
func (db *DB) execWithHardTimeout(query string) error {
	resultCh := make(chan execResult, 1)

	ctx, cancel := extensionContext()
	defer cancel()

	go func() {
		_, err := db.conn.ExecContext(ctx, query)
		resultCh <- execResult{err: err}
	}()

	select {
	case result := <-resultCh:
		return result.err
	case <-time.After(extensionTimeout):
		return fmt.Errorf("operation timed out after %v", extensionTimeout)
	}
}

// queryRowWithHardTimeout scans a single value with a hard timeout.
func (db *DB) queryRowWithHardTimeout(query string) (interface{}, error) {
	resultCh := make(chan queryResult, 1)

	ctx, cancel := extensionContext()
	defer cancel()

	go func() {
		var result interface{}
		err := db.conn.QueryRowContext(ctx, query).Scan(&result)
		resultCh <- queryResult{value: result, err: err}
	}()

	select {
	case result := <-resultCh:
		return result.value, result.err
	case <-time.After(extensionTimeout):
		return nil, fmt.Errorf("query timed out after %v", extensionTimeout)
	}
}

// isRetryableExtensionError matches timeouts and transient network errors.
func isRetryableExtensionError(err error) bool {
	errStr := err.Error()
	return strings.Contains(errStr, "timed out") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "temporary failure")
}

// execWithRetry executes a statement with exponential backoff on
// transient failures.
func (db *DB) execWithRetry(query string, config extensionRetryConfig) error {
	var lastErr error
	delay := config.BaseDelay

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		if attempt > 0 {
			logging.Debug().
				Int("attempt", attempt).
				Dur("delay", delay).
				Str("query", query).
				Msg("Retrying extension operation")
			time.Sleep(delay)
			delay = time.Duration(float64(delay) * config.BackoffMult)
			if delay > config.MaxDelay {
				delay = config.MaxDelay
			}
		}

		err := db.execWithHardTimeout(query)
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryableExtensionError(err) {
			return err
		}

		logging.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Int("max_attempts", config.MaxRetries+1).
			Msg("Extension operation failed, will retry")
	}

	return fmt.Errorf("extension operation failed after %d attempts: %w", config.MaxRetries+1, lastErr)
}

// extensionSpec describes one extension to install.
type extensionSpec struct {
	// Name is the extension name (e.g., "spatial", "h3")
	Name string
	// Community extensions install with "FROM community"
	Community bool
	// VerifyQuery must succeed for the extension to count as available
	VerifyQuery string
	// DependsOnSpatial skips the extension when spatial is unavailable
	DependsOnSpatial bool
	// AvailabilityField points at the DB flag tracking availability
	AvailabilityField func(*DB) *bool
	// WarningMessage is logged when an optional extension is unavailable
	WarningMessage string
}

func (db *DB) extensionSpecs() []*extensionSpec {
	return []*extensionSpec{
		{
			Name:              "spatial",
			VerifyQuery:       "SELECT ST_AsText(ST_Point(0.0, 0.0))",
			AvailabilityField: func(db *DB) *bool { return &db.spatialAvailable },
			WarningMessage:    "Spatial extension unavailable, region table created without GEOMETRY column and joins fall back to the parallel strategy",
		},
		{
			Name:              "h3",
			Community:         true,
			DependsOnSpatial:  true,
			VerifyQuery:       "SELECT h3_latlng_to_cell(0.0, 0.0, 0)",
			AvailabilityField: func(db *DB) *bool { return &db.h3Available },
			WarningMessage:    "H3 extension unavailable, hex-cell indexing is disabled",
		},
	}
}

// installExtensions installs and loads spatial and h3.
func (db *DB) installExtensions() error {
	optional := db.cfg.ExtensionsOptional

	for _, spec := range db.extensionSpecs() {
		var err error
		switch {
		case !db.cfg.InstallExtensions:
			err = db.loadLocalExtension(spec, optional)
		case spec.Community:
			err = db.installCommunityExtension(spec, optional)
		default:
			err = db.installCoreExtension(spec, optional)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// loadLocalExtension loads an extension only if it is already on disk.
func (db *DB) loadLocalExtension(spec *extensionSpec, optional bool) error {
	if spec.DependsOnSpatial && !db.spatialAvailable {
		db.setExtensionUnavailable(spec)
		return nil
	}

	if !isExtensionInstalledLocally(spec.Name) {
		if optional {
			db.setExtensionUnavailable(spec)
			return nil
		}
		return fmt.Errorf("%s extension is not installed locally and database.install_extensions is false", spec.Name)
	}

	if err := db.execWithHardTimeout(fmt.Sprintf("LOAD %s;", spec.Name)); err != nil {
		if optional {
			db.setExtensionUnavailable(spec)
			logging.Warn().Str("extension", spec.Name).Err(err).Msg("Failed to load extension")
			return nil
		}
		return fmt.Errorf("failed to load %s extension: %w", spec.Name, err)
	}
	return db.verifyExtension(spec, optional)
}

// installCoreExtension installs a core extension: INSTALL, then LOAD, then
// FORCE INSTALL.
func (db *DB) installCoreExtension(spec *extensionSpec, optional bool) error {
	if spec.DependsOnSpatial && !db.spatialAvailable {
		db.setExtensionUnavailable(spec)
		return nil
	}

	if isExtensionInstalledLocally(spec.Name) {
		logging.Debug().Str("extension", spec.Name).Msg("Extension found locally, skipping download")
	}

	if err := db.execWithRetry(fmt.Sprintf("INSTALL %s;", spec.Name), defaultRetryConfig); err != nil {
		installErr := err
		if loadErr := db.execWithHardTimeout(fmt.Sprintf("LOAD %s;", spec.Name)); loadErr == nil {
			return db.verifyExtension(spec, optional)
		} else if forceErr := db.execWithRetry(fmt.Sprintf("FORCE INSTALL %s;", spec.Name), defaultRetryConfig); forceErr != nil {
			if optional {
				db.setExtensionUnavailable(spec)
				return nil
			}
			return fmt.Errorf("failed to install %s extension after retries: install error: %w, load error: %w, force install error: %w",
				spec.Name, installErr, loadErr, forceErr)
		}
	}

	if err := db.execWithHardTimeout(fmt.Sprintf("LOAD %s;", spec.Name)); err != nil {
		if optional {
			db.setExtensionUnavailable(spec)
			logging.Warn().Str("extension", spec.Name).Err(err).Msg("Failed to load extension")
			return nil
		}
		return fmt.Errorf("failed to load %s extension: %w", spec.Name, err)
	}

	return db.verifyExtension(spec, optional)
}

// installCommunityExtension installs a community extension unless it is
// already loaded or present locally.
func (db *DB) installCommunityExtension(spec *extensionSpec, optional bool) error {
	if spec.DependsOnSpatial && !db.spatialAvailable {
		db.setExtensionUnavailable(spec)
		return nil
	}

	if db.isExtensionLoaded(spec.Name) {
		return db.verifyExtension(spec, optional)
	}

	if !isExtensionInstalledLocally(spec.Name) {
		logging.Info().Str("extension", spec.Name).Msg("Extension not found locally, downloading from repository")

		if err := db.execWithRetry(fmt.Sprintf("INSTALL %s FROM community;", spec.Name), defaultRetryConfig); err != nil {
			logging.Debug().Str("extension", spec.Name).Msg("Standard install failed, trying force install")
			if forceErr := db.execWithRetry(fmt.Sprintf("FORCE INSTALL %s FROM community;", spec.Name), defaultRetryConfig); forceErr != nil {
				if optional {
					db.setExtensionUnavailable(spec)
					return nil
				}
				return fmt.Errorf("failed to install %s extension after retries: %w. "+
					"Increase the timeout with DUCKDB_EXTENSION_TIMEOUT=60s", spec.Name, forceErr)
			}
		}
	}

	if err := db.execWithHardTimeout(fmt.Sprintf("LOAD %s;", spec.Name)); err != nil {
		if optional {
			db.setExtensionUnavailable(spec)
			logging.Warn().Str("extension", spec.Name).Err(err).Msg("Extension installed but failed to load")
			return nil
		}
		return fmt.Errorf("failed to load %s extension: %w", spec.Name, err)
	}

	return db.verifyExtension(spec, optional)
}

// verifyExtension runs the extension's verification query and records availability.
func (db *DB) verifyExtension(spec *extensionSpec, optional bool) error {
	if spec.VerifyQuery != "" {
		if _, err := db.queryRowWithHardTimeout(spec.VerifyQuery); err != nil {
			if optional {
				db.setExtensionUnavailable(spec)
				logging.Warn().Str("extension", spec.Name).Err(err).Msg("Extension functions unavailable")
				return nil
			}
			return fmt.Errorf("%s extension loaded but functions unavailable: %w", spec.Name, err)
		}
	}

	db.setExtensionAvailable(spec)
	return nil
}

func (db *DB) setExtensionUnavailable(spec *extensionSpec) {
	if field := spec.AvailabilityField; field != nil {
		*field(db) = false
	}
	if spec.WarningMessage != "" {
		logging.Warn().Str("extension", spec.Name).Msg(spec.WarningMessage)
	}
}

func (db *DB) setExtensionAvailable(spec *extensionSpec) {
	if field := spec.AvailabilityField; field != nil {
		*field(db) = true
	}
}

// isExtensionLoaded checks duckdb_extensions() for a loaded extension.
func (db *DB) isExtensionLoaded(name string) bool {
	query := fmt.Sprintf("SELECT loaded FROM duckdb_extensions() WHERE extension_name = '%s'", name)
	result, err := db.queryRowWithHardTimeout(query)
	if err != nil {
		return false
	}
	isLoaded, ok := result.(bool)
	return ok && isLoaded
}
