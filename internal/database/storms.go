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
	"time"

	"github.com/tomtom215/stormgrid/internal/metrics"
	"github.com/tomtom215/stormgrid/internal/models"
)

const stormColumns = `id, basetime, storm_code, storm_name, ensemble_no, is_ensemble, basin, category, ensemble_size, inserted_at`

// InsertStorms inserts runs and their track points in one transaction and
// returns the run ids, taken from storm_id_seq, in input order. A run
// without an ensemble size gets defaultEnsembleSize.
func (db *DB) InsertStorms(ctx context.Context, runs []models.StormRun, defaultEnsembleSize int) (ids []int64, err error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}
	if defaultEnsembleSize <= 0 {
		return nil, fmt.Errorf("default ensemble size must be positive, got %d", defaultEnsembleSize)
	}

	start := time.Now()
	defer func() { metrics.RecordDBQuery("insert", "storm", time.Since(start), err) }()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollbackOnError(tx, &err)

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO storm (basetime, storm_code, storm_name, ensemble_no, is_ensemble, basin, category, ensemble_size)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare storm insert: %w", err)
	}
	defer closeQuietly(stmt)

	pointStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO storm_track_point (storm_id, seq, "timestamp", lon, lat)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare track point insert: %w", err)
	}
	defer closeQuietly(pointStmt)

	ids = make([]int64, 0, len(runs))
	for _, r := range runs {
		size := r.EnsembleSize
		if size <= 0 {
			size = defaultEnsembleSize
		}
		var ensembleNo any
		if r.EnsembleNo != nil {
			ensembleNo = *r.EnsembleNo
		}

		var id int64
		if err = stmt.QueryRowContext(ctx,
			r.Basetime.UTC(), r.StormCode, r.StormName, ensembleNo, r.IsEnsemble, r.Basin, r.Category, size,
		).Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to insert storm %s/%s: %w", r.StormCode, r.StormName, err)
		}
		for seq, p := range r.Track {
			var ts any
			if !p.Time.IsZero() {
				ts = p.Time.UTC()
			}
			if _, err = pointStmt.ExecContext(ctx, id, seq, ts, p.Lon, p.Lat); err != nil {
				return nil, fmt.Errorf("failed to insert track point %d of storm %s/%s: %w", seq, r.StormCode, r.StormName, err)
			}
		}
		ids = append(ids, id)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit storms: %w", err)
	}
	return ids, nil
}

func scanStorm(row rowScanner) (models.Storm, error) {
	var (
		s          models.Storm
		ensembleNo sql.NullInt64
		basin      sql.NullString
		category   sql.NullString
	)
	err := row.Scan(&s.ID, &s.Basetime, &s.StormCode, &s.StormName, &ensembleNo, &s.IsEnsemble,
		&basin, &category, &s.EnsembleSize, &s.InsertedAt)
	if err != nil {
		return s, err
	}
	if ensembleNo.Valid {
		n := int(ensembleNo.Int64)
		s.EnsembleNo = &n
	}
	s.Basin = basin.String
	s.Category = category.String
	return s, nil
}

func (db *DB) queryStorms(ctx context.Context, query string, args ...any) ([]models.Storm, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer closeQuietly(rows)

	var storms []models.Storm
	for rows.Next() {
		s, err := scanStorm(rows)
		if err != nil {
			return nil, err
		}
		storms = append(storms, s)
	}
	return storms, rows.Err()
}

// GetStorm returns one storm run or ErrNotFound.
func (db *DB) GetStorm(ctx context.Context, id int64) (*models.Storm, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	s, err := scanStorm(db.conn.QueryRowContext(ctx, `SELECT `+stormColumns+` FROM storm WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("storm %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get storm %d: %w", id, err)
	}
	return &s, nil
}

// StormsByName returns every run of a named storm, newest issuance first.
func (db *DB) StormsByName(ctx context.Context, name string) ([]models.Storm, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	storms, err := db.queryStorms(ctx,
		`SELECT `+stormColumns+` FROM storm WHERE storm_name = ? ORDER BY basetime DESC, ensemble_no NULLS FIRST, id`, name)
	if err != nil {
		return nil, fmt.Errorf("failed to list storms named %s: %w", name, err)
	}
	return storms, nil
}

// StormTrack returns the track positions of a run in forecast order, or
// ErrNotFound when the run does not exist. A run stored without a track
// has an empty one.
func (db *DB) StormTrack(ctx context.Context, stormID int64) ([]models.TrackPoint, error) {
	if _, err := db.GetStorm(ctx, stormID); err != nil {
		return nil, err
	}

	rows, err := db.conn.QueryContext(ctx, `
		SELECT "timestamp", lon, lat FROM storm_track_point
		WHERE storm_id = ?
		ORDER BY seq`, stormID)
	if err != nil {
		return nil, fmt.Errorf("failed to read track of storm %d: %w", stormID, err)
	}
	defer closeQuietly(rows)

	track := []models.TrackPoint{}
	for rows.Next() {
		var (
			p  models.TrackPoint
			ts sql.NullTime
		)
		if err := rows.Scan(&ts, &p.Lon, &p.Lat); err != nil {
			return nil, fmt.Errorf("failed to scan track point: %w", err)
		}
		if ts.Valid {
			p.Time = ts.Time.UTC()
		}
		track = append(track, p)
	}
	return track, rows.Err()
}
