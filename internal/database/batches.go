// Stormgrid - Tropical Cyclone Risk Forecast Store
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/stormgrid

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/tomtom215/stormgrid/internal/models"
)

// execer is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const batchColumns = `id, batch_key, state, staging_table, staged_rows, filtered_rows, merged_rows,
	skipped_rows, offending_rows, last_error, created_at, updated_at`

func saveBatch(ctx context.Context, ex execer, b *models.LoadBatch) error {
	var lastError any
	if b.LastError != "" {
		lastError = b.LastError
	}
	_, err := ex.ExecContext(ctx, `
		INSERT INTO load_batch (`+batchColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			staged_rows = EXCLUDED.staged_rows,
			filtered_rows = EXCLUDED.filtered_rows,
			merged_rows = EXCLUDED.merged_rows,
			skipped_rows = EXCLUDED.skipped_rows,
			offending_rows = EXCLUDED.offending_rows,
			last_error = EXCLUDED.last_error,
			updated_at = EXCLUDED.updated_at`,
		b.ID, b.Key, string(b.State), b.StagingTable, b.StagedRows, b.FilteredRows, b.MergedRows,
		b.SkippedRows, b.OffendingRows, lastError, b.CreatedAt.UTC(), b.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to save batch %s: %w", b.ID, err)
	}
	return nil
}

// SaveBatch inserts or updates a ledger row. The key, staging table and
// creation time are fixed by the first save.
func (db *DB) SaveBatch(ctx context.Context, b *models.LoadBatch) error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	return saveBatch(ctx, db.conn, b)
}

func scanBatch(row rowScanner) (*models.LoadBatch, error) {
	var (
		b         models.LoadBatch
		state     string
		lastError sql.NullString
	)
	err := row.Scan(&b.ID, &b.Key, &state, &b.StagingTable, &b.StagedRows, &b.FilteredRows, &b.MergedRows,
		&b.SkippedRows, &b.OffendingRows, &lastError, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	b.State = models.BatchState(state)
	b.LastError = lastError.String
	return &b, nil
}

// GetBatch returns a ledger row or ErrNotFound.
func (db *DB) GetBatch(ctx context.Context, id string) (*models.LoadBatch, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	b, err := scanBatch(db.conn.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM load_batch WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("batch %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get batch %s: %w", id, err)
	}
	return b, nil
}

// FindBatchByKey returns the most recently updated batch with the given
// key, preferring one that reached INDEXED, or ErrNotFound.
func (db *DB) FindBatchByKey(ctx context.Context, key string) (*models.LoadBatch, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	b, err := scanBatch(db.conn.QueryRowContext(ctx, `
		SELECT `+batchColumns+` FROM load_batch
		WHERE batch_key = ?
		ORDER BY (state = ?) DESC, updated_at DESC
		LIMIT 1`, key, string(models.BatchIndexed)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("batch key %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find batch by key %s: %w", key, err)
	}
	return b, nil
}

// ListBatches returns the newest ledger rows first.
func (db *DB) ListBatches(ctx context.Context, limit int) ([]*models.LoadBatch, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+batchColumns+` FROM load_batch ORDER BY updated_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}
	defer closeQuietly(rows)

	var batches []*models.LoadBatch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan batch: %w", err)
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}
