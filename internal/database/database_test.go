// Stormgrid - Tropical Cyclone Risk Forecast Store
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/stormgrid

package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/tomtom215/stormgrid/internal/config"
	"github.com/tomtom215/stormgrid/internal/models"
)

// testDBSemaphore serializes DuckDB-backed tests. It is held for the whole
// test so that only one test has an active DuckDB instance at a time.
var testDBSemaphore = make(chan struct{}, 1)

func testDatabaseConfig(path string) *config.DatabaseConfig {
	return &config.DatabaseConfig{
		Path:               path,
		MaxMemory:          "1GB",
		Threads:            2,
		InstallExtensions:  false,
		ExtensionsOptional: true,
	}
}

// setupTestDB creates an in-memory database with optional extensions.
// Extensions found in the local DuckDB directory are loaded; tests that need
// them call requireSpatial or requireH3.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	testDBSemaphore <- struct{}{}
	t.Cleanup(func() {
		<-testDBSemaphore
	})

	type result struct {
		db  *DB
		err error
	}
	resultCh := make(chan result, 1)
	go func() {
		db, err := New(testDatabaseConfig(":memory:"))
		resultCh <- result{db: db, err: err}
	}()

	select {
	case res := <-resultCh:
		if res.err != nil {
			t.Fatalf("Failed to create test database: %v", res.err)
		}
		t.Cleanup(func() {
			if err := res.db.Close(); err != nil && !errors.Is(err, ErrDatabaseClosed) {
				t.Errorf("Close() error = %v", err)
			}
		})
		return res.db
	case <-time.After(120 * time.Second):
		t.Fatalf("Timeout: database creation took longer than 120s")
		return nil
	}
}

func requireSpatial(t *testing.T, db *DB) {
	t.Helper()
	if !db.IsSpatialAvailable() {
		t.Skip("spatial extension not available")
	}
}

func requireH3(t *testing.T, db *DB) {
	t.Helper()
	if !db.IsH3Available() {
		t.Skip("h3 extension not available")
	}
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	t.Cleanup(cancel)
	return ctx
}

var testBasetime = time.Date(2024, 9, 26, 0, 0, 0, 0, time.UTC)

// seedCentroids inserts n centroids with ids 1..n on a line of longitude.
func seedCentroids(t *testing.T, db *DB, n int) {
	t.Helper()
	points := make([]models.GridPoint, n)
	for i := range points {
		points[i] = models.GridPoint{ID: int64(i + 1), Lon: -80 + float64(i)*0.1, Lat: 25}
	}
	_, err := db.InsertCentroids(testContext(t), points)
	checkNoError(t, err)
}

// seedStorm inserts one deterministic run and returns its id.
func seedStorm(t *testing.T, db *DB, basetime time.Time, name string, ensembleNo *int) int64 {
	t.Helper()
	ids, err := db.InsertStorms(testContext(t), []models.StormRun{{
		Basetime:   basetime,
		StormCode:  "AL09",
		StormName:  name,
		EnsembleNo: ensembleNo,
		IsEnsemble: ensembleNo != nil,
		Basin:      "North Atlantic",
		Category:   "Hurricane",
	}}, 51)
	checkNoError(t, err)
	return ids[0]
}

func TestNew_InMemory(t *testing.T) {
	db := setupTestDB(t)
	ctx := testContext(t)

	checkNoError(t, db.Ping(ctx))
	checkNoError(t, db.Checkpoint(ctx))

	var types int64
	checkNoError(t, db.Conn().QueryRowContext(ctx, `SELECT count(*) FROM series_type`).Scan(&types))
	checkInt64Equal(t, "seeded series types", types, 2)

	var kind, description string
	checkNoError(t, db.Conn().QueryRowContext(ctx,
		`SELECT kind, description FROM series_type WHERE id = ?`, models.SeriesTypeWindIntensity).Scan(&kind, &description))
	checkStringEqual(t, "type 1 kind", kind, string(models.KindHazard))
	checkStringEqual(t, "type 1 description", description, "wind intensity")

	present, err := db.SeriesIndexesPresent(ctx)
	checkNoError(t, err)
	if !present {
		t.Error("expected fact table indexes after init")
	}
}

func TestNew_FileReopen(t *testing.T) {
	testDBSemaphore <- struct{}{}
	t.Cleanup(func() { <-testDBSemaphore })

	path := filepath.Join(t.TempDir(), "nested", "store.duckdb")

	db, err := New(testDatabaseConfig(path))
	checkNoError(t, err)
	_, err = db.InsertCentroids(context.Background(), []models.GridPoint{{ID: 7, Lon: 1, Lat: 2}})
	checkNoError(t, err)
	checkNoError(t, db.Close())

	// Reopening must not re-seed or re-run migrations.
	db, err = New(testDatabaseConfig(path))
	checkNoError(t, err)
	defer closeQuietly(db)

	ctx := testContext(t)
	maxID, err := db.MaxCentroidID(ctx)
	checkNoError(t, err)
	checkInt64Equal(t, "max centroid id after reopen", maxID, 7)

	history, err := db.GetMigrationHistory(ctx)
	checkNoError(t, err)
	checkSliceLen(t, "migration history", len(history), len(db.getMigrations()))
}

func TestClose_Twice(t *testing.T) {
	db := setupTestDB(t)

	checkNoError(t, db.Close())
	if err := db.Close(); !errors.Is(err, ErrDatabaseClosed) {
		t.Errorf("second Close() error = %v, want ErrDatabaseClosed", err)
	}
	if err := db.Ping(context.Background()); !errors.Is(err, ErrDatabaseClosed) {
		t.Errorf("Ping() after close error = %v, want ErrDatabaseClosed", err)
	}
	if _, err := db.MaxCentroidID(context.Background()); !errors.Is(err, ErrDatabaseClosed) {
		t.Errorf("MaxCentroidID() after close error = %v, want ErrDatabaseClosed", err)
	}
}

func TestMigrations_Version(t *testing.T) {
	db := setupTestDB(t)
	ctx := testContext(t)

	version, err := db.GetCurrentSchemaVersion(ctx)
	checkNoError(t, err)
	migrations := db.getMigrations()
	if version != migrations[len(migrations)-1].Version {
		t.Errorf("schema version = %d, want %d", version, migrations[len(migrations)-1].Version)
	}

	// A second pass applies nothing new.
	checkNoError(t, db.runVersionedMigrations())
	history, err := db.GetMigrationHistory(ctx)
	checkNoError(t, err)
	checkSliceLen(t, "migration history", len(history), len(migrations))
	for i := 1; i < len(history); i++ {
		if history[i-1].Version >= history[i].Version {
			t.Errorf("migration history out of order at %d", i)
		}
	}
}

func TestExtensions_OptionalDisablesOperations(t *testing.T) {
	db := setupTestDB(t)
	ctx := testContext(t)

	if !db.IsSpatialAvailable() {
		if _, _, err := db.JoinRegionsSpatial(ctx); !errors.Is(err, ErrSpatialUnavailable) {
			t.Errorf("JoinRegionsSpatial() error = %v, want ErrSpatialUnavailable", err)
		}
	}
	if !db.IsH3Available() {
		if _, err := db.Polyfill(ctx, "POLYGON((0 0, 1 0, 1 1, 0 1, 0 0))", 6); !errors.Is(err, ErrH3Unavailable) {
			t.Errorf("Polyfill() error = %v, want ErrH3Unavailable", err)
		}
		if _, err := db.AssignCentroidCells(ctx, 6); !errors.Is(err, ErrH3Unavailable) {
			t.Errorf("AssignCentroidCells() error = %v, want ErrH3Unavailable", err)
		}
	}
	if db.IsH3Available() && !db.IsSpatialAvailable() {
		t.Error("h3 must not be available without spatial")
	}
}

func TestExtensions_RequiredMissingFails(t *testing.T) {
	if isExtensionInstalledLocally("spatial") {
		t.Skip("spatial is installed locally; cannot exercise the missing-extension path")
	}
	testDBSemaphore <- struct{}{}
	t.Cleanup(func() { <-testDBSemaphore })

	cfg := testDatabaseConfig(":memory:")
	cfg.ExtensionsOptional = false

	db, err := New(cfg)
	if err == nil {
		closeQuietly(db)
		t.Fatal("expected New() to fail when a required extension is missing")
	}
}

func TestIsRetryableExtensionError(t *testing.T) {
	tests := []struct {
		msg  string
		want bool
	}{
		{"operation timed out after 30s", true},
		{"HTTP 503 Service Unavailable", true},
		{"dial tcp: connection refused", true},
		{"Catalog Error: extension not found", false},
	}
	for _, tt := range tests {
		if got := isRetryableExtensionError(errors.New(tt.msg)); got != tt.want {
			t.Errorf("isRetryableExtensionError(%q) = %v, want %v", tt.msg, got, tt.want)
		}
	}
}

func TestCheckTableName(t *testing.T) {
	valid := []string{"series_staging_0123abcd", "region_claim_x1"}
	for _, name := range valid {
		checkNoError(t, checkTableName(name))
	}
	invalid := []string{"", "Series", "a; DROP TABLE centroid", "1abc", "x-y"}
	for _, name := range invalid {
		if checkTableName(name) == nil {
			t.Errorf("checkTableName(%q) accepted an unsafe name", name)
		}
	}
}
