// Stormgrid - Tropical Cyclone Risk Forecast Store
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/stormgrid

package database

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/stormgrid/internal/logging"
)

// Fact table index names. They are dropped during a merge and rebuilt after.
const (
	idxSeriesValueCentroid = "idx_series_value_centroid"
	idxSeriesValueStorm    = "idx_series_value_storm"
)

// schemaContext returns a context for DDL during initialization
func schemaContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 60*time.Second)
}

// createTables creates the core database tables
func (db *DB) createTables() error {
	ctx, cancel := schemaContext()
	defer cancel()

	for _, query := range db.getTableCreationQueries() {
		if _, err := db.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query: %s: %w", query, err)
		}
	}
	return nil
}

func (db *DB) getTableCreationQueries() []string {
	queries := []string{
		// Centroids are created once; every other column is filled by an
		// enrichment pass and stays NULL until then.
		`CREATE TABLE IF NOT EXISTS centroid (
			id BIGINT PRIMARY KEY,
			lon DOUBLE NOT NULL,
			lat DOUBLE NOT NULL,
			dist_coast DOUBLE,
			region_id BIGINT,
			exposure DOUBLE,
			h3_cell UBIGINT
		);`,
	}

	// Region geometry is only stored when spatial is loaded; WKT is always kept
	// so the parallel join and the polyfill step work without it.
	if db.spatialAvailable {
		queries = append(queries, `CREATE TABLE IF NOT EXISTS region (
			id BIGINT PRIMARY KEY,
			iso_codes TEXT NOT NULL,
			name TEXT,
			wkt TEXT NOT NULL,
			geom GEOMETRY
		);`)
	} else {
		queries = append(queries, `CREATE TABLE IF NOT EXISTS region (
			id BIGINT PRIMARY KEY,
			iso_codes TEXT NOT NULL,
			name TEXT,
			wkt TEXT NOT NULL
		);`)
	}

	queries = append(queries,
		`CREATE TABLE IF NOT EXISTS region_cell (
			region_id BIGINT NOT NULL,
			cell UBIGINT NOT NULL,
			resolution TINYINT NOT NULL
		);`,

		`CREATE SEQUENCE IF NOT EXISTS storm_id_seq START 1;`,

		`CREATE TABLE IF NOT EXISTS storm (
			id BIGINT PRIMARY KEY DEFAULT nextval('storm_id_seq'),
			basetime TIMESTAMP NOT NULL,
			storm_code TEXT NOT NULL,
			storm_name TEXT NOT NULL,
			ensemble_no INTEGER,
			is_ensemble BOOLEAN NOT NULL DEFAULT false,
			basin TEXT,
			category TEXT,
			ensemble_size INTEGER NOT NULL,
			inserted_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,

		`CREATE TABLE IF NOT EXISTS storm_track_point (
			storm_id BIGINT NOT NULL,
			seq INTEGER NOT NULL,
			"timestamp" TIMESTAMP,
			lon DOUBLE NOT NULL,
			lat DOUBLE NOT NULL,
			PRIMARY KEY (storm_id, seq)
		);`,

		`CREATE TABLE IF NOT EXISTS series_type (
			id BIGINT PRIMARY KEY,
			kind TEXT NOT NULL,
			description TEXT NOT NULL,
			UNIQUE (kind, description)
		);`,

		`INSERT INTO series_type (id, kind, description) VALUES
			(1, 'hazard', 'wind intensity'),
			(2, 'impact', 'impact')
		ON CONFLICT DO NOTHING;`,

		// The fact table carries no constraints; identity is enforced at merge.
		`CREATE TABLE IF NOT EXISTS series_value (
			centroid_id BIGINT NOT NULL,
			storm_id BIGINT NOT NULL,
			type_id BIGINT NOT NULL,
			value DOUBLE NOT NULL,
			"timestamp" TIMESTAMP NOT NULL,
			batch_id TEXT
		);`,

		// Column template for per-batch staging tables.
		`CREATE TABLE IF NOT EXISTS series_staging (
			centroid_id BIGINT,
			storm_id BIGINT,
			type_id BIGINT,
			value DOUBLE,
			"timestamp" TIMESTAMP
		);`,

		`CREATE TABLE IF NOT EXISTS load_batch (
			id TEXT PRIMARY KEY,
			batch_key TEXT NOT NULL,
			state TEXT NOT NULL,
			staging_table TEXT NOT NULL,
			staged_rows BIGINT NOT NULL DEFAULT 0,
			filtered_rows BIGINT NOT NULL DEFAULT 0,
			merged_rows BIGINT NOT NULL DEFAULT 0,
			skipped_rows BIGINT NOT NULL DEFAULT 0,
			offending_rows BIGINT NOT NULL DEFAULT 0,
			last_error TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);`,
	)

	return queries
}

// createIndexes creates secondary indexes. The RTREE index is skipped
// without spatial.
func (db *DB) createIndexes() error {
	ctx, cancel := schemaContext()
	defer cancel()

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_region_cell_cell ON region_cell(cell);`,
		`CREATE INDEX IF NOT EXISTS idx_region_cell_region ON region_cell(region_id);`,
		`CREATE INDEX IF NOT EXISTS idx_storm_basetime ON storm(basetime);`,
		`CREATE INDEX IF NOT EXISTS idx_load_batch_key ON load_batch(batch_key);`,
	}
	indexes = append(indexes, seriesIndexQueries()...)

	for _, query := range indexes {
		if _, err := db.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to create index: %s: %w", query, err)
		}
	}

	if db.spatialAvailable {
		if _, err := db.conn.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_region_geom ON region USING RTREE (geom);`); err != nil {
			logging.Warn().Err(err).Msg("Failed to create spatial index on region geometry")
		}
	}

	return nil
}

func seriesIndexQueries() []string {
	return []string{
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON series_value(centroid_id);`, idxSeriesValueCentroid),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON series_value(storm_id);`, idxSeriesValueStorm),
	}
}

func dropSeriesIndexQueries() []string {
	return []string{
		fmt.Sprintf(`DROP INDEX IF EXISTS %s;`, idxSeriesValueCentroid),
		fmt.Sprintf(`DROP INDEX IF EXISTS %s;`, idxSeriesValueStorm),
	}
}
