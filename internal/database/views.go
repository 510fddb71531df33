// Stormgrid - Tropical Cyclone Risk Forecast Store
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/stormgrid

package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/tomtom215/stormgrid/internal/metrics"
	"github.com/tomtom215/stormgrid/internal/models"
)

// The intensity view starts from the latest runs, which are few rows, and
// only then touches the fact table.
const (
	latestStormRunView = `CREATE OR REPLACE VIEW latest_storm_run AS
		SELECT * FROM storm
		WHERE basetime = (SELECT max(basetime) FROM storm);`

	intensityJoinedView = `CREATE OR REPLACE VIEW intensity_joined AS
		SELECT
			s.id AS storm_id, s.storm_code, s.storm_name, s.basetime,
			s.ensemble_no, s.is_ensemble, s.ensemble_size,
			v.centroid_id, v."timestamp", v.value,
			c.lon, c.lat, c.dist_coast, c.exposure, c.region_id,
			r.iso_codes
		FROM latest_storm_run s
		JOIN series_value v ON v.storm_id = s.id AND v.type_id = 1
		JOIN centroid c ON c.id = v.centroid_id
		LEFT JOIN region r ON r.id = c.region_id;`
)

// ensembleStatsSelect aggregates ensemble members per centroid and
// timestamp. bound caps the member number; density always divides by the
// run's own ensemble_size.
func ensembleStatsSelect(bound string) string {
	return fmt.Sprintf(`
		SELECT
			basetime, storm_name, centroid_id, "timestamp",
			avg(value) AS mean_intensity,
			avg(exposure) AS mean_exposure,
			count(DISTINCT storm_id) AS members,
			max(ensemble_size) AS ensemble_size,
			count(DISTINCT storm_id)::DOUBLE / max(ensemble_size) AS density
		FROM intensity_joined
		WHERE is_ensemble AND ensemble_no IS NOT NULL AND ensemble_no <= %s
		GROUP BY basetime, storm_name, centroid_id, "timestamp"`, bound)
}

func (db *DB) createViews() error {
	ctx, cancel := schemaContext()
	defer cancel()

	views := []string{
		latestStormRunView,
		intensityJoinedView,
		`CREATE OR REPLACE VIEW ensemble_stats AS ` + ensembleStatsSelect("ensemble_size") + `;`,
	}
	for _, query := range views {
		if _, err := db.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to create view: %w", err)
		}
	}
	return nil
}

// LatestRuns returns the runs of the most recent issuance.
func (db *DB) LatestRuns(ctx context.Context) ([]models.Storm, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	start := time.Now()
	storms, err := db.queryStorms(ctx,
		`SELECT `+stormColumns+` FROM latest_storm_run ORDER BY storm_name, ensemble_no NULLS FIRST, id`)
	metrics.RecordDBQuery("select", "latest_storm_run", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to read latest runs: %w", err)
	}
	return storms, nil
}

// JoinedIntensityFilter narrows a JoinedIntensity query. Zero values match all.
type JoinedIntensityFilter struct {
	StormName  string
	StormID    int64
	CentroidID int64
	RegionID   int64
	ISOCode    string
	MinValue   float64
	Limit      int
	Offset     int
}

// JoinedIntensity reads the intensity_joined view.
func (db *DB) JoinedIntensity(ctx context.Context, f JoinedIntensityFilter) ([]models.JoinedIntensity, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}

	var (
		where []string
		args  []any
	)
	if f.StormName != "" {
		where = append(where, "storm_name = ?")
		args = append(args, f.StormName)
	}
	if f.StormID != 0 {
		where = append(where, "storm_id = ?")
		args = append(args, f.StormID)
	}
	if f.CentroidID != 0 {
		where = append(where, "centroid_id = ?")
		args = append(args, f.CentroidID)
	}
	if f.RegionID != 0 {
		where = append(where, "region_id = ?")
		args = append(args, f.RegionID)
	}
	if f.ISOCode != "" {
		where = append(where, "iso_codes = ?")
		args = append(args, f.ISOCode)
	}
	if f.MinValue > 0 {
		where = append(where, "value >= ?")
		args = append(args, f.MinValue)
	}

	var sb strings.Builder
	sb.WriteString(`SELECT storm_id, storm_code, storm_name, basetime, ensemble_no, centroid_id, "timestamp", value,
		lon, lat, dist_coast, exposure, region_id, iso_codes
		FROM intensity_joined`)
	if len(where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(where, " AND "))
	}
	sb.WriteString(` ORDER BY storm_id, centroid_id, "timestamp"`)
	if f.Limit > 0 {
		sb.WriteString(" LIMIT ?")
		args = append(args, f.Limit)
		if f.Offset > 0 {
			sb.WriteString(" OFFSET ?")
			args = append(args, f.Offset)
		}
	}

	start := time.Now()
	rows, err := db.conn.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		metrics.RecordDBQuery("select", "intensity_joined", time.Since(start), err)
		return nil, fmt.Errorf("failed to query joined intensity: %w", err)
	}
	defer closeQuietly(rows)

	var out []models.JoinedIntensity
	for rows.Next() {
		var (
			j          models.JoinedIntensity
			ensembleNo sql.NullInt64
			distCoast  sql.NullFloat64
			exposure   sql.NullFloat64
			regionID   sql.NullInt64
			isoCodes   sql.NullString
		)
		if err := rows.Scan(&j.StormID, &j.StormCode, &j.StormName, &j.Basetime, &ensembleNo, &j.CentroidID,
			&j.Timestamp, &j.Value, &j.Lon, &j.Lat, &distCoast, &exposure, &regionID, &isoCodes); err != nil {
			return nil, fmt.Errorf("failed to scan joined intensity: %w", err)
		}
		if ensembleNo.Valid {
			n := int(ensembleNo.Int64)
			j.EnsembleNo = &n
		}
		if distCoast.Valid {
			j.DistCoast = &distCoast.Float64
		}
		if exposure.Valid {
			j.Exposure = &exposure.Float64
		}
		if regionID.Valid {
			j.RegionID = &regionID.Int64
		}
		if isoCodes.Valid {
			j.ISOCodes = &isoCodes.String
		}
		out = append(out, j)
	}
	metrics.RecordDBQuery("select", "intensity_joined", time.Since(start), rows.Err())
	return out, rows.Err()
}

// EnsembleStats returns ensemble statistics of a named storm from the
// latest issuance. With maxMembers > 0 the member bound is maxMembers
// instead of each run's ensemble_size.
func (db *DB) EnsembleStats(ctx context.Context, stormName string, maxMembers int) ([]models.EnsembleStat, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}

	var (
		query string
		args  []any
	)
	if maxMembers > 0 {
		query = `SELECT * FROM (` + ensembleStatsSelect("?") + `) WHERE storm_name = ?`
		args = []any{maxMembers, stormName}
	} else {
		query = `SELECT * FROM ensemble_stats WHERE storm_name = ?`
		args = []any{stormName}
	}
	query += ` ORDER BY centroid_id, "timestamp"`

	start := time.Now()
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		metrics.RecordDBQuery("select", "ensemble_stats", time.Since(start), err)
		return nil, fmt.Errorf("failed to query ensemble stats: %w", err)
	}
	defer closeQuietly(rows)

	var out []models.EnsembleStat
	for rows.Next() {
		var (
			s        models.EnsembleStat
			exposure sql.NullFloat64
		)
		if err := rows.Scan(&s.Basetime, &s.StormName, &s.CentroidID, &s.Timestamp, &s.MeanIntensity,
			&exposure, &s.Members, &s.EnsembleSize, &s.Density); err != nil {
			return nil, fmt.Errorf("failed to scan ensemble stat: %w", err)
		}
		if exposure.Valid {
			s.MeanExposure = &exposure.Float64
		}
		out = append(out, s)
	}
	metrics.RecordDBQuery("select", "ensemble_stats", time.Since(start), rows.Err())
	return out, rows.Err()
}

// DataGeneration returns a token that changes whenever a storm run is
// registered, a batch changes state, or centroids are added or joined to
// regions. Exposure attachment does not change it.
func (db *DB) DataGeneration(ctx context.Context) (string, error) {
	if err := db.checkOpen(); err != nil {
		return "", err
	}
	var (
		maxStorm, batches, centroids, joined int64
		lastBatch                            sql.NullTime
	)
	err := db.conn.QueryRowContext(ctx, `
		SELECT
			(SELECT COALESCE(max(id), 0) FROM storm),
			(SELECT count(*) FROM load_batch),
			(SELECT max(updated_at) FROM load_batch),
			(SELECT count(*) FROM centroid),
			(SELECT count(region_id) FROM centroid)`).
		Scan(&maxStorm, &batches, &lastBatch, &centroids, &joined)
	if err != nil {
		return "", fmt.Errorf("failed to read data generation: %w", err)
	}
	var last int64
	if lastBatch.Valid {
		last = lastBatch.Time.UnixNano()
	}
	return fmt.Sprintf("%d.%d.%d.%d.%d", maxStorm, batches, last, centroids, joined), nil
}
