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

// InsertRegions stores regions in one transaction. Regions with a zero id
// get the next free id. The returned ids follow the input order.
func (db *DB) InsertRegions(ctx context.Context, regions []models.Region) (ids []int64, err error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	if len(regions) == 0 {
		return nil, nil
	}

	start := time.Now()
	defer func() { metrics.RecordDBQuery("insert", "region", time.Since(start), err) }()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollbackOnError(tx, &err)

	var nextID int64
	if err = tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) + 1 FROM region`).Scan(&nextID); err != nil {
		return nil, fmt.Errorf("failed to read next region id: %w", err)
	}

	query := `INSERT INTO region (id, iso_codes, name, wkt) VALUES (?, ?, ?, ?)`
	if db.spatialAvailable {
		query = `INSERT INTO region (id, iso_codes, name, wkt, geom) VALUES (?, ?, ?, ?, ST_GeomFromText(?))`
	}
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare region insert: %w", err)
	}
	defer closeQuietly(stmt)

	ids = make([]int64, 0, len(regions))
	for _, r := range regions {
		id := r.ID
		if id == 0 {
			id = nextID
			nextID++
		} else if id >= nextID {
			nextID = id + 1
		}

		var name any
		if r.Name != "" {
			name = r.Name
		}

		args := []any{id, r.ISOCodes, name, r.WKT}
		if db.spatialAvailable {
			args = append(args, r.WKT)
		}
		if _, err = stmt.ExecContext(ctx, args...); err != nil {
			return nil, fmt.Errorf("failed to insert region %d (%s): %w", id, r.ISOCodes, err)
		}
		ids = append(ids, id)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit regions: %w", err)
	}
	return ids, nil
}

func scanRegions(rows *sql.Rows) ([]models.Region, error) {
	var regions []models.Region
	for rows.Next() {
		var (
			r    models.Region
			name sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.ISOCodes, &name, &r.WKT); err != nil {
			return nil, err
		}
		r.Name = name.String
		regions = append(regions, r)
	}
	return regions, rows.Err()
}

// ListRegions returns every region with its WKT, ordered by id.
func (db *DB) ListRegions(ctx context.Context) ([]models.Region, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	rows, err := db.conn.QueryContext(ctx, `SELECT id, iso_codes, name, wkt FROM region ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list regions: %w", err)
	}
	defer closeQuietly(rows)

	regions, err := scanRegions(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan regions: %w", err)
	}
	return regions, nil
}

// GetRegion returns one region or ErrNotFound.
func (db *DB) GetRegion(ctx context.Context, id int64) (*models.Region, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	var (
		r    models.Region
		name sql.NullString
	)
	err := db.conn.QueryRowContext(ctx, `SELECT id, iso_codes, name, wkt FROM region WHERE id = ?`, id).
		Scan(&r.ID, &r.ISOCodes, &name, &r.WKT)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("region %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get region %d: %w", id, err)
	}
	r.Name = name.String
	return &r, nil
}

// CountRegions returns the number of stored regions.
func (db *DB) CountRegions(ctx context.Context) (int64, error) {
	if err := db.checkOpen(); err != nil {
		return 0, err
	}
	var n int64
	if err := db.conn.QueryRowContext(ctx, `SELECT count(*) FROM region`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count regions: %w", err)
	}
	return n, nil
}

// JoinRegionsSpatial assigns every unclaimed centroid to the lowest-id
// region containing it, in a single set-based UPDATE. Centroids that
// already have a region are not revisited.
func (db *DB) JoinRegionsSpatial(ctx context.Context) (candidates, assigned int64, err error) {
	if err := db.checkOpen(); err != nil {
		return 0, 0, err
	}
	if !db.spatialAvailable {
		return 0, 0, ErrSpatialUnavailable
	}

	start := time.Now()
	defer func() { metrics.RecordDBQuery("join", "centroid", time.Since(start), err) }()

	if err = db.conn.QueryRowContext(ctx, `SELECT count(*) FROM centroid WHERE region_id IS NULL`).Scan(&candidates); err != nil {
		return 0, 0, fmt.Errorf("failed to count join candidates: %w", err)
	}
	if candidates == 0 {
		return 0, 0, nil
	}

	res, err := db.conn.ExecContext(ctx, `
		UPDATE centroid SET region_id = m.region_id
		FROM (
			SELECT c.id AS centroid_id, min(r.id) AS region_id
			FROM centroid c
			JOIN region r ON ST_Contains(r.geom, ST_Point(c.lon, c.lat))
			WHERE c.region_id IS NULL
			GROUP BY c.id
		) m
		WHERE centroid.id = m.centroid_id AND centroid.region_id IS NULL`)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to join centroids to regions: %w", err)
	}
	assigned, err = res.RowsAffected()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read join result: %w", err)
	}
	return candidates, assigned, nil
}
