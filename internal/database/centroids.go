// Stormgrid - Tropical Cyclone Risk Forecast Store
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/stormgrid

package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/stormgrid/internal/metrics"
	"github.com/tomtom215/stormgrid/internal/models"
)

// CentroidCounts summarizes enrichment coverage of the grid.
type CentroidCounts struct {
	Total         int64 `json:"total"`
	WithRegion    int64 `json:"with_region"`
	WithExposure  int64 `json:"with_exposure"`
	WithDistCoast int64 `json:"with_dist_coast"`
	WithCell      int64 `json:"with_cell"`
}

func nullableFloat(v *float64) driver.Value {
	if v == nil {
		return nil
	}
	return *v
}

// InsertCentroids bulk loads grid points. A duplicate id, whether within
// points or against an existing centroid, fails the whole load.
func (db *DB) InsertCentroids(ctx context.Context, points []models.GridPoint) (int64, error) {
	if err := db.checkOpen(); err != nil {
		return 0, err
	}
	if len(points) == 0 {
		return 0, nil
	}

	start := time.Now()
	err := db.appendRows(ctx, "centroid", len(points), func(i int) []driver.Value {
		p := points[i]
		return []driver.Value{p.ID, p.Lon, p.Lat, nullableFloat(p.DistCoast), nil, nullableFloat(p.Exposure), nil}
	})
	metrics.RecordDBQuery("insert", "centroid", time.Since(start), err)
	if err != nil {
		return 0, fmt.Errorf("failed to insert centroids: %w", err)
	}
	return int64(len(points)), nil
}

// MaxCentroidID returns the largest centroid id, or 0 for an empty grid.
func (db *DB) MaxCentroidID(ctx context.Context) (int64, error) {
	if err := db.checkOpen(); err != nil {
		return 0, err
	}
	var maxID int64
	if err := db.conn.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM centroid`).Scan(&maxID); err != nil {
		return 0, fmt.Errorf("failed to read max centroid id: %w", err)
	}
	return maxID, nil
}

// CountCentroids reports how many centroids each enrichment pass has filled.
func (db *DB) CountCentroids(ctx context.Context) (*CentroidCounts, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	var c CentroidCounts
	err := db.conn.QueryRowContext(ctx, `
		SELECT
			count(*),
			count(region_id),
			count(exposure),
			count(dist_coast),
			count(h3_cell)
		FROM centroid`).Scan(&c.Total, &c.WithRegion, &c.WithExposure, &c.WithDistCoast, &c.WithCell)
	if err != nil {
		return nil, fmt.Errorf("failed to count centroids: %w", err)
	}
	return &c, nil
}

const centroidColumns = `id, lon, lat, dist_coast, region_id, exposure, h3_cell`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCentroid(row rowScanner) (models.Centroid, error) {
	var (
		c         models.Centroid
		distCoast sql.NullFloat64
		regionID  sql.NullInt64
		exposure  sql.NullFloat64
		cell      *uint64
	)
	if err := row.Scan(&c.ID, &c.Lon, &c.Lat, &distCoast, &regionID, &exposure, &cell); err != nil {
		return c, err
	}
	if distCoast.Valid {
		c.DistCoast = &distCoast.Float64
	}
	if regionID.Valid {
		c.RegionID = &regionID.Int64
	}
	if exposure.Valid {
		c.Exposure = &exposure.Float64
	}
	c.H3Cell = cell
	return c, nil
}

func (db *DB) queryCentroids(ctx context.Context, query string, args ...any) ([]models.Centroid, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer closeQuietly(rows)

	var centroids []models.Centroid
	for rows.Next() {
		c, err := scanCentroid(rows)
		if err != nil {
			return nil, err
		}
		centroids = append(centroids, c)
	}
	return centroids, rows.Err()
}

// GetCentroid returns one centroid or ErrNotFound.
func (db *DB) GetCentroid(ctx context.Context, id int64) (*models.Centroid, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	row := db.conn.QueryRowContext(ctx, `SELECT `+centroidColumns+` FROM centroid WHERE id = ?`, id)
	c, err := scanCentroid(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("centroid %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get centroid %d: %w", id, err)
	}
	return &c, nil
}

// ListCentroids returns every centroid ordered by id.
func (db *DB) ListCentroids(ctx context.Context) ([]models.Centroid, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	centroids, err := db.queryCentroids(ctx, `SELECT `+centroidColumns+` FROM centroid ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list centroids: %w", err)
	}
	return centroids, nil
}

// UnassignedCentroids returns the centroids with no region, ordered by id.
// These are the only candidates of a region join.
func (db *DB) UnassignedCentroids(ctx context.Context) ([]models.Centroid, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	centroids, err := db.queryCentroids(ctx, `SELECT `+centroidColumns+` FROM centroid WHERE region_id IS NULL ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list unassigned centroids: %w", err)
	}
	return centroids, nil
}

// ApplyRegionAssignments writes claims in bulk. A centroid that already has
// a region keeps it; the returned count covers only newly assigned rows.
func (db *DB) ApplyRegionAssignments(ctx context.Context, claims []models.RegionAssignment) (int64, error) {
	if err := db.checkOpen(); err != nil {
		return 0, err
	}
	if len(claims) == 0 {
		return 0, nil
	}

	start := time.Now()
	var assigned int64
	err := db.withScratchTable(ctx, "region_claim", "centroid_id BIGINT, region_id BIGINT", func(table string) error {
		if err := db.appendRows(ctx, table, len(claims), func(i int) []driver.Value {
			return []driver.Value{claims[i].CentroidID, claims[i].RegionID}
		}); err != nil {
			return err
		}

		res, err := db.conn.ExecContext(ctx, fmt.Sprintf(`
			UPDATE centroid SET region_id = m.region_id
			FROM (SELECT centroid_id, min(region_id) AS region_id FROM %s GROUP BY centroid_id) m
			WHERE centroid.id = m.centroid_id AND centroid.region_id IS NULL`, table))
		if err != nil {
			return err
		}
		assigned, err = res.RowsAffected()
		return err
	})
	metrics.RecordDBQuery("update", "centroid", time.Since(start), err)
	if err != nil {
		return 0, fmt.Errorf("failed to apply region assignments: %w", err)
	}
	return assigned, nil
}

// AttachValues writes non-null values into field keyed by centroid id.
// Ids with no centroid are counted in unknown and otherwise ignored. When
// an id repeats, its last non-null value in input order wins.
func (db *DB) AttachValues(ctx context.Context, field models.CentroidField, values []models.PointValue) (updated, unknown int64, err error) {
	if err := db.checkOpen(); err != nil {
		return 0, 0, err
	}
	if !field.Valid() {
		return 0, 0, fmt.Errorf("cannot attach to centroid field %q", field)
	}

	present := make([]models.PointValue, 0, len(values))
	for _, v := range values {
		if v.Value != nil {
			present = append(present, v)
		}
	}
	if len(present) == 0 {
		return 0, 0, nil
	}

	start := time.Now()
	err = db.withScratchTable(ctx, "attach_value", "ord BIGINT, id BIGINT, value DOUBLE", func(table string) error {
		if err := db.appendRows(ctx, table, len(present), func(i int) []driver.Value {
			return []driver.Value{int64(i), present[i].ID, *present[i].Value}
		}); err != nil {
			return err
		}

		if err := db.conn.QueryRowContext(ctx, fmt.Sprintf(`
			SELECT count(*) FROM %s s
			WHERE NOT EXISTS (SELECT 1 FROM centroid c WHERE c.id = s.id)`, table)).Scan(&unknown); err != nil {
			return err
		}

		res, err := db.conn.ExecContext(ctx, fmt.Sprintf(`
			UPDATE centroid SET %s = m.value
			FROM (SELECT id, arg_max(value, ord) AS value FROM %s GROUP BY id) m
			WHERE centroid.id = m.id`, string(field), table))
		if err != nil {
			return err
		}
		updated, err = res.RowsAffected()
		return err
	})
	metrics.RecordDBQuery("update", "centroid", time.Since(start), err)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to attach %s values: %w", field, err)
	}
	return updated, unknown, nil
}
