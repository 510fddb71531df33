// Stormgrid - Tropical Cyclone Risk Forecast Store
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/stormgrid

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/stormgrid/internal/exposure"
	"github.com/tomtom215/stormgrid/internal/grid"
	"github.com/tomtom215/stormgrid/internal/logging"
	"github.com/tomtom215/stormgrid/internal/models"
	"github.com/tomtom215/stormgrid/internal/pipeline"
	"github.com/tomtom215/stormgrid/internal/spatialindex"
)

// writeJSON prints v as indented JSON.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// openInput opens path, or stdin for "-".
func openInput(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.Open(path) //nolint:gosec // operator supplied input file
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return f, nil
}

// singleArg parses fs and requires exactly one positional argument.
func singleArg(fs *flag.FlagSet, args []string, what string) (string, error) {
	if err := parseFlags(fs, args); err != nil {
		return "", err
	}
	if fs.NArg() != 1 {
		return "", usageErr("%s: expected one %s", fs.Name(), what)
	}
	return fs.Arg(0), nil
}

func runInit(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("init", "", a.stderr)
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 0 {
		return usageErr("init: unexpected arguments")
	}
	db, err := a.store()
	if err != nil {
		return err
	}
	version, err := db.GetCurrentSchemaVersion(ctx)
	if err != nil {
		return err
	}
	history, err := db.GetMigrationHistory(ctx)
	if err != nil {
		return err
	}
	migrations := make([]string, len(history))
	for i, m := range history {
		migrations[i] = fmt.Sprintf("v%d %s", m.Version, m.Name)
	}
	counts, err := db.CountCentroids(ctx)
	if err != nil {
		return err
	}
	regions, err := db.CountRegions(ctx)
	if err != nil {
		return err
	}
	return writeJSON(a.stdout, map[string]any{
		"schema_version":    version,
		"migrations":        migrations,
		"spatial_available": db.IsSpatialAvailable(),
		"h3_available":      db.IsH3Available(),
		"centroids":         counts,
		"regions":           regions,
	})
}

func runGrid(ctx context.Context, a *app, args []string) error {
	path, err := singleArg(newFlagSet("grid", "<points.csv|->", a.stderr), args, "points file")
	if err != nil {
		return err
	}
	db, err := a.store()
	if err != nil {
		return err
	}
	maxID, err := db.MaxCentroidID(ctx)
	if err != nil {
		return err
	}

	in, err := openInput(path)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()
	points, err := grid.ReadPoints(in, maxID+1)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	n, err := db.InsertCentroids(ctx, points)
	if err != nil {
		return err
	}
	logging.Ctx(ctx).Info().Int64("centroids", n).Str("path", path).Msg("Centroids loaded")
	return writeJSON(a.stdout, map[string]int64{"inserted": n})
}

func runRegions(ctx context.Context, a *app, args []string) error {
	path, err := singleArg(newFlagSet("regions", "<regions.geojson|regions.shp>", a.stderr), args, "regions file")
	if err != nil {
		return err
	}
	props := grid.RegionProperties{ISO: a.cfg.Grid.ISOProperties, Name: a.cfg.Grid.NameProperties}

	var shapes []grid.RegionShape
	if strings.EqualFold(filepath.Ext(path), ".shp") {
		shapes, err = grid.ReadShapefileRegions(path, props)
	} else {
		var in io.ReadCloser
		if in, err = openInput(path); err != nil {
			return err
		}
		shapes, err = grid.ReadGeoJSONRegions(in, props)
		_ = in.Close()
	}
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	db, err := a.store()
	if err != nil {
		return err
	}
	ids, err := db.InsertRegions(ctx, grid.Regions(shapes))
	if err != nil {
		return err
	}
	logging.Ctx(ctx).Info().Int("regions", len(ids)).Str("path", path).Msg("Regions loaded")
	return writeJSON(a.stdout, map[string]any{"inserted": len(ids), "ids": ids})
}

func runJoin(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("join", "[-strategy auto|sql|parallel]", a.stderr)
	strategy := fs.String("strategy", a.cfg.Grid.JoinStrategy, "join strategy")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	db, err := a.store()
	if err != nil {
		return err
	}
	j, err := grid.NewJoiner(db, *strategy, a.cfg.Grid.Workers)
	if err != nil {
		return usageErr("join: %v", err)
	}
	res, err := j.Join(ctx)
	if err != nil {
		return err
	}
	return writeJSON(a.stdout, res)
}

func runExposure(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("exposure", "-netcdf file | -csv file [-field exposure|dist_coast] [-variable name]", a.stderr)
	ncPath := fs.String("netcdf", "", "NetCDF raster sampled at each centroid")
	csvPath := fs.String("csv", "", "CSV of centroid_id,value rows")
	field := fs.String("field", string(models.FieldExposure), "centroid column to fill")
	variable := fs.String("variable", a.cfg.Exposure.Variable, "NetCDF variable name")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	f := models.CentroidField(*field)
	if !f.Valid() {
		return usageErr("exposure: unknown field %q", *field)
	}
	if (*ncPath == "") == (*csvPath == "") {
		return usageErr("exposure: give exactly one of -netcdf or -csv")
	}

	db, err := a.store()
	if err != nil {
		return err
	}

	var values []models.PointValue
	if *ncPath != "" {
		cfg := a.cfg.Exposure
		cfg.Variable = *variable
		start := time.Now()
		raster, err := exposure.OpenNetCDF(*ncPath, cfg)
		if err != nil {
			return err
		}
		centroids, err := db.ListCentroids(ctx)
		if err != nil {
			return err
		}
		values = exposure.Sample(raster, centroids)
		logging.Ctx(ctx).Info().
			Str("variable", cfg.Variable).
			Int("centroids", len(centroids)).
			Dur("duration", time.Since(start)).
			Msg("Raster sampled")
	} else {
		in, err := openInput(*csvPath)
		if err != nil {
			return err
		}
		values, err = exposure.ReadPointValues(in)
		_ = in.Close()
		if err != nil {
			return fmt.Errorf("%s: %w", *csvPath, err)
		}
	}

	stats, err := exposure.Attach(ctx, db, f, values)
	if err != nil {
		return err
	}
	return writeJSON(a.stdout, stats)
}

func runIndex(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("index", "[-resolution r] [-verify region_id]", a.stderr)
	res := fs.Int("resolution", a.cfg.Grid.H3Resolution, "H3 resolution")
	verify := fs.Int64("verify", 0, "only verify the stored cell set of this region")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	db, err := a.store()
	if err != nil {
		return err
	}
	ix, err := spatialindex.NewIndexer(db, *res, a.cfg.Grid.Workers)
	if err != nil {
		return usageErr("index: %v", err)
	}

	if *verify > 0 {
		vr, err := ix.Verify(ctx, *verify)
		if err != nil {
			return err
		}
		if err := writeJSON(a.stdout, vr); err != nil {
			return err
		}
		if !vr.OK() {
			return fmt.Errorf("region %d: stored cell set does not match its polyfill", *verify)
		}
		return nil
	}

	result, err := ix.IndexRegions(ctx)
	if err != nil {
		return err
	}
	assigned, err := ix.AssignCentroidCells(ctx)
	if err != nil {
		return err
	}
	return writeJSON(a.stdout, map[string]any{
		"resolution":         ix.Resolution(),
		"regions":            result,
		"centroids_assigned": assigned,
	})
}

// stormSummary is one registered run in the storms command output.
type stormSummary struct {
	ID              int64  `json:"id"`
	StormCode       string `json:"storm_code"`
	StormName       string `json:"storm_name"`
	CentroidsInPath *int   `json:"centroids_in_path,omitempty"`
}

func runStorms(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("storms", "[-track-subset] <runs.json|->", a.stderr)
	subset := fs.Bool("track-subset", false, "report the centroids near each run's track")
	path, err := singleArg(fs, args, "runs file")
	if err != nil {
		return err
	}

	in, err := openInput(path)
	if err != nil {
		return err
	}
	runs, err := pipeline.ReadStormRuns(in)
	_ = in.Close()
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	db, err := a.store()
	if err != nil {
		return err
	}
	ids, err := db.InsertStorms(ctx, runs, a.cfg.Pipeline.EnsembleSize)
	if err != nil {
		return err
	}

	var ix *spatialindex.Indexer
	if *subset {
		if ix, err = spatialindex.NewIndexer(db, a.cfg.Grid.H3Resolution, a.cfg.Grid.Workers); err != nil {
			return err
		}
	}
	out := make([]stormSummary, len(runs))
	for i, run := range runs {
		out[i] = stormSummary{ID: ids[i], StormCode: run.StormCode, StormName: run.StormName}
		if ix == nil || len(run.Track) == 0 {
			continue
		}
		near, err := ix.CentroidsNearTrack(ctx, run.Track, a.cfg.Pipeline.TrackBufferDegrees)
		if err != nil {
			return fmt.Errorf("run %d: %w", ids[i], err)
		}
		n := len(near)
		out[i].CentroidsInPath = &n
	}
	logging.Ctx(ctx).Info().Int("runs", len(ids)).Str("path", path).Msg("Storm runs registered")
	return writeJSON(a.stdout, out)
}
