// Stormgrid - Tropical Cyclone Risk Forecast Store
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/stormgrid

/*
staging.go - Per-batch Staging and Merge

A batch lands in its own unindexed, unconstrained table cloned from the
series_staging column layout. Validation is a set-based anti-join against
the reference tables. The merge runs in one transaction:

 1. drop the fact table indexes
 2. insert staging rows whose identity is not already present
 3. drop the staging table
 4. write the ledger row through the caller's callback

The indexes are rebuilt afterwards. When the rebuild fails,
CompensateMerge restores the staging table from the batch's rows, deletes
them from the fact table and restores the indexes, leaving the fact table
as it was before the merge.
*/

//nolint:staticcheck // File documentation, not package doc
package database

import (
	"context"
	"database/sql/driver"
	"fmt"
	"strings"
	"time"

	"github.com/tomtom215/stormgrid/internal/metrics"
	"github.com/tomtom215/stormgrid/internal/models"
)

// StagingTableName derives the staging table of a batch from its UUID.
func StagingTableName(batchID string) string {
	return "series_staging_" + strings.ReplaceAll(strings.ToLower(batchID), "-", "")
}

// CreateStagingTable creates an empty staging table with the series_staging layout.
func (db *DB) CreateStagingTable(ctx context.Context, table string) error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	if err := checkTableName(table); err != nil {
		return err
	}
	if _, err := db.conn.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE %s AS SELECT * FROM series_staging LIMIT 0`, table)); err != nil {
		return fmt.Errorf("failed to create staging table %s: %w", table, err)
	}
	return nil
}

// AppendStaging bulk loads rows into a staging table without any checks.
func (db *DB) AppendStaging(ctx context.Context, table string, rows []models.SeriesValue) (int64, error) {
	if err := db.checkOpen(); err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}

	start := time.Now()
	err := db.appendRows(ctx, table, len(rows), func(i int) []driver.Value {
		r := rows[i]
		return []driver.Value{r.CentroidID, r.StormID, r.TypeID, r.Value, r.Timestamp.UTC()}
	})
	metrics.RecordDBQuery("append", "series_staging", time.Since(start), err)
	if err != nil {
		return 0, fmt.Errorf("failed to stage rows: %w", err)
	}
	return int64(len(rows)), nil
}

// StagingCount returns the number of rows in a staging table.
func (db *DB) StagingCount(ctx context.Context, table string) (int64, error) {
	if err := db.checkOpen(); err != nil {
		return 0, err
	}
	if err := checkTableName(table); err != nil {
		return 0, err
	}
	var n int64
	if err := db.conn.QueryRowContext(ctx, fmt.Sprintf(`SELECT count(*) FROM %s`, table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count staging rows: %w", err)
	}
	return n, nil
}

// DropStagingTable drops a staging table if it exists.
func (db *DB) DropStagingTable(ctx context.Context, table string) error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	if err := checkTableName(table); err != nil {
		return err
	}
	if _, err := db.conn.ExecContext(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
		return fmt.Errorf("failed to drop staging table %s: %w", table, err)
	}
	return nil
}

// offendingRowsQuery flags each staging row whose references do not resolve
// or whose identity repeats inside the batch.
const offendingRowsQuery = `
	WITH dup AS (
		SELECT centroid_id, storm_id, type_id, "timestamp"
		FROM %[1]s
		GROUP BY centroid_id, storm_id, type_id, "timestamp"
		HAVING count(*) > 1
	),
	flagged AS (
		SELECT
			s.centroid_id, s.storm_id, s.type_id, s.value, s."timestamp",
			c.id IS NULL AS unknown_centroid,
			st.id IS NULL AS unknown_storm,
			t.id IS NULL AS unknown_type,
			d.centroid_id IS NOT NULL AS duplicate_key
		FROM %[1]s s
		LEFT JOIN centroid c ON c.id = s.centroid_id
		LEFT JOIN storm st ON st.id = s.storm_id
		LEFT JOIN series_type t ON t.id = s.type_id
		LEFT JOIN dup d
			ON d.centroid_id = s.centroid_id AND d.storm_id = s.storm_id
			AND d.type_id = s.type_id AND d."timestamp" = s."timestamp"
	)
	SELECT * FROM flagged
	WHERE unknown_centroid OR unknown_storm OR unknown_type OR duplicate_key`

// FindOffendingRows validates a staging table. It returns a report whose
// Offending count and ByReason tally cover every offending row, while Rows
// holds at most limit of them.
func (db *DB) FindOffendingRows(ctx context.Context, table string, limit int) (*models.RejectReport, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	if err := checkTableName(table); err != nil {
		return nil, err
	}

	start := time.Now()
	base := fmt.Sprintf(offendingRowsQuery, table)

	report := &models.RejectReport{ByReason: make(map[string]int)}
	var centroidN, stormN, typeN, dupN int64
	err := db.conn.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT
			count(*),
			count(*) FILTER (WHERE unknown_centroid),
			count(*) FILTER (WHERE unknown_storm),
			count(*) FILTER (WHERE unknown_type),
			count(*) FILTER (WHERE duplicate_key)
		FROM (%s)`, base)).Scan(&report.Offending, &centroidN, &stormN, &typeN, &dupN)
	if err != nil {
		metrics.RecordDBQuery("validate", "series_staging", time.Since(start), err)
		return nil, fmt.Errorf("failed to validate staging table %s: %w", table, err)
	}

	for reason, n := range map[models.RejectReason]int64{
		models.ReasonUnknownCentroid: centroidN,
		models.ReasonUnknownStorm:    stormN,
		models.ReasonUnknownType:     typeN,
		models.ReasonDuplicateKey:    dupN,
	} {
		if n > 0 {
			report.ByReason[string(reason)] = int(n)
		}
	}

	if report.Offending == 0 || limit <= 0 {
		report.Truncated = report.Offending > 0
		metrics.RecordDBQuery("validate", "series_staging", time.Since(start), nil)
		return report, nil
	}

	rows, err := db.conn.QueryContext(ctx, fmt.Sprintf(`
		SELECT * FROM (%s)
		ORDER BY centroid_id NULLS FIRST, storm_id NULLS FIRST, type_id NULLS FIRST, "timestamp"
		LIMIT ?`, base), limit)
	if err != nil {
		metrics.RecordDBQuery("validate", "series_staging", time.Since(start), err)
		return nil, fmt.Errorf("failed to list offending rows: %w", err)
	}
	defer closeQuietly(rows)

	for rows.Next() {
		var (
			r                                   models.OffendingRow
			centroidID, stormID, typeID         *int64
			value                               *float64
			ts                                  *time.Time
			badCentroid, badStorm, badType, dup bool
		)
		if err := rows.Scan(&centroidID, &stormID, &typeID, &value, &ts, &badCentroid, &badStorm, &badType, &dup); err != nil {
			return nil, fmt.Errorf("failed to scan offending row: %w", err)
		}
		if centroidID != nil {
			r.CentroidID = *centroidID
		}
		if stormID != nil {
			r.StormID = *stormID
		}
		if typeID != nil {
			r.TypeID = *typeID
		}
		if value != nil {
			r.Value = *value
		}
		if ts != nil {
			r.Timestamp = *ts
		}
		if badCentroid {
			r.Reasons = append(r.Reasons, models.ReasonUnknownCentroid)
		}
		if badStorm {
			r.Reasons = append(r.Reasons, models.ReasonUnknownStorm)
		}
		if badType {
			r.Reasons = append(r.Reasons, models.ReasonUnknownType)
		}
		if dup {
			r.Reasons = append(r.Reasons, models.ReasonDuplicateKey)
		}
		report.Rows = append(report.Rows, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list offending rows: %w", err)
	}

	report.Truncated = int64(len(report.Rows)) < report.Offending
	metrics.RecordDBQuery("validate", "series_staging", time.Since(start), nil)
	return report, nil
}

// MergeResult counts the outcome of a merge.
type MergeResult struct {
	Merged  int64 // rows inserted into series_value
	Skipped int64 // staging rows whose identity already existed
}

// MergeStaging moves the batch's staging rows into series_value in a single
// transaction. onMerged runs inside the transaction after the insert and
// must leave b in the state to persist; b is then written to the ledger
// before commit. Any error rolls everything back, the staging table included.
func (db *DB) MergeStaging(ctx context.Context, b *models.LoadBatch, onMerged func(MergeResult) error) (result MergeResult, err error) {
	if err := db.checkOpen(); err != nil {
		return result, err
	}
	if err := checkTableName(b.StagingTable); err != nil {
		return result, err
	}

	start := time.Now()
	defer func() { metrics.RecordDBQuery("merge", "series_value", time.Since(start), err) }()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollbackOnError(tx, &err)

	for _, q := range dropSeriesIndexQueries() {
		if _, err = tx.ExecContext(ctx, q); err != nil {
			return result, fmt.Errorf("failed to drop fact index: %w", err)
		}
	}

	var staged int64
	if err = tx.QueryRowContext(ctx, fmt.Sprintf(`SELECT count(*) FROM %s`, b.StagingTable)).Scan(&staged); err != nil {
		return result, fmt.Errorf("failed to count staging rows: %w", err)
	}

	res, err := tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO series_value (centroid_id, storm_id, type_id, value, "timestamp", batch_id)
		SELECT s.centroid_id, s.storm_id, s.type_id, s.value, s."timestamp", ?
		FROM %s s
		WHERE NOT EXISTS (
			SELECT 1 FROM series_value v
			WHERE v.centroid_id = s.centroid_id
				AND v.storm_id = s.storm_id
				AND v.type_id = s.type_id
				AND v."timestamp" = s."timestamp"
		)`, b.StagingTable), b.ID)
	if err != nil {
		return result, fmt.Errorf("failed to merge staging rows: %w", err)
	}
	if result.Merged, err = res.RowsAffected(); err != nil {
		return result, fmt.Errorf("failed to read merged row count: %w", err)
	}
	result.Skipped = staged - result.Merged

	if _, err = tx.ExecContext(ctx, "DROP TABLE "+b.StagingTable); err != nil {
		return result, fmt.Errorf("failed to drop staging table: %w", err)
	}

	if err = onMerged(result); err != nil {
		return result, err
	}
	if err = saveBatch(ctx, tx, b); err != nil {
		return result, err
	}

	if err = tx.Commit(); err != nil {
		return result, fmt.Errorf("failed to commit merge: %w", err)
	}
	return result, nil
}

// RebuildSeriesIndexes recreates the fact table indexes.
func (db *DB) RebuildSeriesIndexes(ctx context.Context) error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	start := time.Now()
	for _, q := range seriesIndexQueries() {
		if _, err := db.conn.ExecContext(ctx, q); err != nil {
			metrics.RecordDBQuery("index", "series_value", time.Since(start), err)
			return fmt.Errorf("failed to rebuild fact index: %w", err)
		}
	}
	metrics.RecordDBQuery("index", "series_value", time.Since(start), nil)
	return nil
}

// CompensateMerge undoes a merged batch: its rows go back into a fresh
// staging table and out of series_value, and the indexes are restored.
// Rows the merge skipped were never the batch's and stay untouched.
func (db *DB) CompensateMerge(ctx context.Context, b *models.LoadBatch) (removed int64, err error) {
	if err := db.checkOpen(); err != nil {
		return 0, err
	}
	if err := checkTableName(b.StagingTable); err != nil {
		return 0, err
	}

	// The caller's context may be the one that failed the rebuild.
	ctx = context.WithoutCancel(ctx)

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollbackOnError(tx, &err)

	if _, err = tx.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s AS
		SELECT centroid_id, storm_id, type_id, value, "timestamp"
		FROM series_value WHERE batch_id = ?`, b.StagingTable), b.ID); err != nil {
		return 0, fmt.Errorf("failed to restore staging table: %w", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM series_value WHERE batch_id = ?`, b.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete batch rows: %w", err)
	}
	if removed, err = res.RowsAffected(); err != nil {
		return 0, fmt.Errorf("failed to read deleted row count: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit compensation: %w", err)
	}

	if err = db.RebuildSeriesIndexes(ctx); err != nil {
		return removed, fmt.Errorf("batch rows removed but indexes not restored: %w", err)
	}
	return removed, nil
}

// CountSeriesValues returns the fact table row count, optionally for one batch.
func (db *DB) CountSeriesValues(ctx context.Context, batchID string) (int64, error) {
	if err := db.checkOpen(); err != nil {
		return 0, err
	}
	query := `SELECT count(*) FROM series_value`
	var args []any
	if batchID != "" {
		query += ` WHERE batch_id = ?`
		args = append(args, batchID)
	}
	var n int64
	if err := db.conn.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count series values: %w", err)
	}
	return n, nil
}

// SeriesIndexesPresent reports whether both fact table indexes exist.
func (db *DB) SeriesIndexesPresent(ctx context.Context) (bool, error) {
	if err := db.checkOpen(); err != nil {
		return false, err
	}
	var n int
	err := db.conn.QueryRowContext(ctx,
		`SELECT count(*) FROM duckdb_indexes() WHERE table_name = 'series_value' AND index_name IN (?, ?)`,
		idxSeriesValueCentroid, idxSeriesValueStorm).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to inspect fact indexes: %w", err)
	}
	return n == 2, nil
}
