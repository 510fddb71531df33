// Stormgrid - Tropical Cyclone Risk Forecast Store
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/stormgrid

package database

import (
	"context"
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/tomtom215/stormgrid/internal/metrics"
	"github.com/tomtom215/stormgrid/internal/models"
)

// Polyfill returns the resolution-res cells whose centers fall inside the
// polygon. wkt must be a single POLYGON; callers split multipolygons.
func (db *DB) Polyfill(ctx context.Context, wkt string, res int) ([]uint64, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	if !db.h3Available {
		return nil, ErrH3Unavailable
	}

	rows, err := db.conn.QueryContext(ctx, `SELECT UNNEST(h3_polygon_wkt_to_cells(?, ?))`, wkt, res)
	if err != nil {
		return nil, fmt.Errorf("failed to polyfill polygon: %w", err)
	}
	defer closeQuietly(rows)

	var cells []uint64
	for rows.Next() {
		var cell uint64
		if err := rows.Scan(&cell); err != nil {
			return nil, fmt.Errorf("failed to scan polyfill cell: %w", err)
		}
		cells = append(cells, cell)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to polyfill polygon: %w", err)
	}
	return cells, nil
}

// PointCell returns the resolution-res cell containing (lat, lng).
func (db *DB) PointCell(ctx context.Context, lat, lng float64, res int) (uint64, error) {
	if err := db.checkOpen(); err != nil {
		return 0, err
	}
	if !db.h3Available {
		return 0, ErrH3Unavailable
	}

	var cell uint64
	if err := db.conn.QueryRowContext(ctx, `SELECT h3_latlng_to_cell(?, ?, ?)`, lat, lng, res).Scan(&cell); err != nil {
		return 0, fmt.Errorf("failed to index point: %w", err)
	}
	return cell, nil
}

// AssignCentroidCells sets the resolution-res h3_cell of every centroid
// that has none or holds a cell of another resolution.
func (db *DB) AssignCentroidCells(ctx context.Context, res int) (int64, error) {
	if err := db.checkOpen(); err != nil {
		return 0, err
	}
	if !db.h3Available {
		return 0, ErrH3Unavailable
	}

	start := time.Now()
	result, err := db.conn.ExecContext(ctx,
		`UPDATE centroid SET h3_cell = h3_latlng_to_cell(lat, lon, ?)
		WHERE h3_cell IS NULL OR h3_get_resolution(h3_cell) <> ?`, res, res)
	metrics.RecordDBQuery("update", "centroid", time.Since(start), err)
	if err != nil {
		return 0, fmt.Errorf("failed to assign centroid cells: %w", err)
	}
	return result.RowsAffected()
}

// ReplaceRegionCells swaps a region's compact cell set in one transaction.
func (db *DB) ReplaceRegionCells(ctx context.Context, regionID int64, cells []models.RegionCell) (err error) {
	if err := db.checkOpen(); err != nil {
		return err
	}

	start := time.Now()
	defer func() { metrics.RecordDBQuery("replace", "region_cell", time.Since(start), err) }()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollbackOnError(tx, &err)

	if _, err = tx.ExecContext(ctx, `DELETE FROM region_cell WHERE region_id = ?`, regionID); err != nil {
		return fmt.Errorf("failed to clear cells of region %d: %w", regionID, err)
	}

	if len(cells) > 0 {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO region_cell (region_id, cell, resolution) VALUES (?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare region cell insert: %w", err)
		}
		defer closeQuietly(stmt)

		for _, c := range cells {
			if _, err := stmt.ExecContext(ctx, regionID, c.Cell, c.Resolution); err != nil {
				return fmt.Errorf("failed to insert cell %x of region %d: %w", c.Cell, regionID, err)
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit cells of region %d: %w", regionID, err)
	}
	return nil
}

// RegionCells returns a region's stored compact set ordered by cell.
func (db *DB) RegionCells(ctx context.Context, regionID int64) ([]models.RegionCell, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	rows, err := db.conn.QueryContext(ctx,
		`SELECT region_id, cell, resolution FROM region_cell WHERE region_id = ? ORDER BY cell`, regionID)
	if err != nil {
		return nil, fmt.Errorf("failed to read cells of region %d: %w", regionID, err)
	}
	defer closeQuietly(rows)

	var cells []models.RegionCell
	for rows.Next() {
		var c models.RegionCell
		if err := rows.Scan(&c.RegionID, &c.Cell, &c.Resolution); err != nil {
			return nil, fmt.Errorf("failed to scan region cell: %w", err)
		}
		cells = append(cells, c)
	}
	return cells, rows.Err()
}

func uint64Args(cells []uint64) []any {
	args := make([]any, len(cells))
	for i, c := range cells {
		args[i] = c
	}
	return args
}

// RegionHoldsAny reports whether any of cells is stored in the region's set.
// Callers pass a cell and its ancestors.
func (db *DB) RegionHoldsAny(ctx context.Context, regionID int64, cells []uint64) (bool, error) {
	if err := db.checkOpen(); err != nil {
		return false, err
	}
	if len(cells) == 0 {
		return false, nil
	}

	args := append([]any{regionID}, uint64Args(cells)...)
	var n int64
	err := db.conn.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT count(*) FROM region_cell WHERE region_id = ? AND cell IN (%s)`, placeholders(len(cells))),
		args...).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to query region %d cells: %w", regionID, err)
	}
	return n > 0, nil
}

// RegionsHoldingAny returns the ids of regions whose set holds any of cells.
func (db *DB) RegionsHoldingAny(ctx context.Context, cells []uint64) ([]int64, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	if len(cells) == 0 {
		return nil, nil
	}

	rows, err := db.conn.QueryContext(ctx,
		fmt.Sprintf(`SELECT DISTINCT region_id FROM region_cell WHERE cell IN (%s) ORDER BY region_id`, placeholders(len(cells))),
		uint64Args(cells)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query regions by cell: %w", err)
	}
	defer closeQuietly(rows)

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan region id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CentroidsInCells returns the centroids whose h3_cell is one of cells,
// ordered by id.
func (db *DB) CentroidsInCells(ctx context.Context, cells []uint64) ([]models.Centroid, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	if len(cells) == 0 {
		return nil, nil
	}

	var centroids []models.Centroid
	err := db.withScratchTable(ctx, "cell_filter", "cell UBIGINT", func(table string) error {
		if err := db.appendRows(ctx, table, len(cells), func(i int) []driver.Value {
			return []driver.Value{cells[i]}
		}); err != nil {
			return err
		}

		var err error
		centroids, err = db.queryCentroids(ctx, fmt.Sprintf(`
			SELECT c.id, c.lon, c.lat, c.dist_coast, c.region_id, c.exposure, c.h3_cell
			FROM centroid c
			WHERE c.h3_cell IN (SELECT DISTINCT cell FROM %s)
			ORDER BY c.id`, table))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to select centroids by cell: %w", err)
	}
	return centroids, nil
}
