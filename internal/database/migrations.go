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

// Migration represents a versioned database migration.
type Migration struct {
	Version     int       // Unique version number (monotonically increasing)
	Name        string    // Human-readable migration name
	Description string    // Description of what this migration does
	SQL         string    // SQL statement to execute
	AppliedAt   time.Time // When the migration was applied (populated on query)
}

const schemaMigrationsTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT,
	applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// getMigrations returns all versioned migrations in order.
//
// The CREATE TABLE statements in database_schema.go already carry every
// column, so on a fresh database these are no-ops. They bring files created
// before the column existed up to date.
func (db *DB) getMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Name:        "storm_ensemble_size",
			Description: "Carry the ensemble density denominator on each storm run",
			SQL:         `ALTER TABLE storm ADD COLUMN IF NOT EXISTS ensemble_size INTEGER DEFAULT 51;`,
		},
		{
			Version:     2,
			Name:        "series_value_batch_lineage",
			Description: "Record the load batch that wrote each fact row",
			SQL:         `ALTER TABLE series_value ADD COLUMN IF NOT EXISTS batch_id TEXT;`,
		},
		{
			Version:     3,
			Name:        "load_batch_filtered_rows",
			Description: "Count rows dropped by the intensity threshold at stage time",
			SQL:         `ALTER TABLE load_batch ADD COLUMN IF NOT EXISTS filtered_rows BIGINT DEFAULT 0;`,
		},
		{
			Version:     4,
			Name:        "storm_track_point",
			Description: "Persist forecast track positions of each storm run",
			SQL: `CREATE TABLE IF NOT EXISTS storm_track_point (
				storm_id BIGINT NOT NULL,
				seq INTEGER NOT NULL,
				"timestamp" TIMESTAMP,
				lon DOUBLE NOT NULL,
				lat DOUBLE NOT NULL,
				PRIMARY KEY (storm_id, seq)
			);`,
		},
	}
}

func (db *DB) createMigrationsTable(ctx context.Context) error {
	_, err := db.conn.ExecContext(ctx, schemaMigrationsTable)
	return err
}

func (db *DB) getAppliedMigrations(ctx context.Context) (map[int]Migration, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT version, name, COALESCE(description, ''), applied_at FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, err
	}
	defer closeQuietly(rows)

	applied := make(map[int]Migration)
	for rows.Next() {
		var m Migration
		if err := rows.Scan(&m.Version, &m.Name, &m.Description, &m.AppliedAt); err != nil {
			return nil, err
		}
		applied[m.Version] = m
	}
	return applied, rows.Err()
}

// runVersionedMigrations applies each migration not yet recorded in
// schema_migrations, in version order.
func (db *DB) runVersionedMigrations() error {
	ctx, cancel := schemaContext()
	defer cancel()

	if err := db.createMigrationsTable(ctx); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := db.getAppliedMigrations(ctx)
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	newMigrations := 0
	for _, m := range db.getMigrations() {
		if _, exists := applied[m.Version]; exists {
			continue
		}

		if _, err := db.conn.ExecContext(ctx, m.SQL); err != nil {
			return fmt.Errorf("failed to execute migration v%d (%s): %w", m.Version, m.Name, err)
		}

		_, err := db.conn.ExecContext(ctx,
			`INSERT INTO schema_migrations (version, name, description) VALUES (?, ?, ?)`,
			m.Version, m.Name, m.Description)
		if err != nil {
			return fmt.Errorf("failed to record migration v%d: %w", m.Version, err)
		}

		newMigrations++
	}

	if newMigrations > 0 {
		logging.Info().Int("count", newMigrations).Msg("Applied database migrations")
	}

	return nil
}

// GetCurrentSchemaVersion returns the highest applied migration version, or 0.
func (db *DB) GetCurrentSchemaVersion(ctx context.Context) (int, error) {
	var version int
	err := db.conn.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}

// GetMigrationHistory returns applied migrations in version order.
func (db *DB) GetMigrationHistory(ctx context.Context) ([]Migration, error) {
	applied, err := db.getAppliedMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read migration history: %w", err)
	}

	history := make([]Migration, 0, len(applied))
	for _, m := range db.getMigrations() {
		if a, ok := applied[m.Version]; ok {
			m.AppliedAt = a.AppliedAt
			history = append(history, m)
		}
	}
	return history, nil
}
