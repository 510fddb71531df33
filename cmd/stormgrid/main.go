// Stormgrid - Tropical Cyclone Risk Forecast Store
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/stormgrid

// Package main is the stormgrid command line tool.
//
// Stormgrid stores tropical cyclone forecast intensity on a fixed grid of
// centroids. The usual order of commands for a fresh store is:
//
//	stormgrid init
//	stormgrid grid points.csv
//	stormgrid regions countries.geojson
//	stormgrid join
//	stormgrid exposure -netcdf litpop.nc
//	stormgrid index
//	stormgrid storms runs.json
//	stormgrid load hazard-*.csv
//	stormgrid serve
//
// # Configuration
//
// Settings come from built-in defaults, then an optional YAML file
// (-config, CONFIG_PATH or ./config.yaml), then environment
// variables such as DUCKDB_PATH or ENSEMBLE_SIZE.
//
// # Signal Handling
//
// SIGINT and SIGTERM cancel the running command. A load interrupted this
// way leaves its batch in the ledger, and the next load of the same file
// resumes it.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/tomtom215/stormgrid/internal/config"
	"github.com/tomtom215/stormgrid/internal/database"
	"github.com/tomtom215/stormgrid/internal/logging"
)

// errUsage marks an invocation error; main prints usage and exits 2.
var errUsage = errors.New("usage error")

// command is one subcommand. run parses its own arguments before it
// touches the store.
type command struct {
	summary string
	run     func(ctx context.Context, app *app, args []string) error
}

var commands = map[string]command{
	"init":     {"create the schema and report extension status", runInit},
	"grid":     {"load centroid points from CSV", runGrid},
	"regions":  {"load region polygons from GeoJSON or a shapefile", runRegions},
	"join":     {"assign centroids to the regions that contain them", runJoin},
	"exposure": {"attach exposure or coast distance to centroids", runExposure},
	"index":    {"build region cell sets and centroid cells", runIndex},
	"storms":   {"register forecast runs from JSON", runStorms},
	"load":     {"stage, validate and merge series files", runLoad},
	"batch":    {"show, list or resume load batches", runBatch},
	"views":    {"query the aggregation views", runViews},
	"serve":    {"run the HTTP API", runServe},
}

// app holds what every command shares. The store is opened on first use
// so argument errors never touch the database file.
type app struct {
	cfg    *config.Config
	stdout io.Writer
	stderr io.Writer
	db     *database.DB
}

func (a *app) store() (*database.DB, error) {
	if a.db != nil {
		return a.db, nil
	}
	db, err := database.New(&a.cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	a.db = db
	return db, nil
}

func (a *app) close() {
	if a.db == nil {
		return
	}
	if err := a.db.Close(); err != nil {
		logging.Error().Err(err).Msg("Failed to close database")
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()

	switch {
	case err == nil:
	case errors.Is(err, errUsage):
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	default:
		logging.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("stormgrid", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to a YAML config file")
	logLevel := fs.String("log-level", "", "override logging.level")
	fs.Usage = func() { printUsage(fs, stderr) }
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return fmt.Errorf("%w: no command given", errUsage)
	}
	name := fs.Arg(0)
	cmd, ok := commands[name]
	if !ok {
		return fmt.Errorf("%w: unknown command %q", errUsage, name)
	}

	cfg, err := config.LoadWithKoanf(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
		Output: stderr,
	})

	ctx = logging.ContextWithNewCorrelationID(ctx)
	logging.Ctx(ctx).Debug().Str("command", name).Str("db_path", cfg.Database.Path).Msg("Running command")

	a := &app{cfg: cfg, stdout: stdout, stderr: stderr}
	defer a.close()
	return cmd.run(ctx, a, fs.Args()[1:])
}

func printUsage(fs *flag.FlagSet, w io.Writer) {
	fmt.Fprintln(w, "Usage: stormgrid [-config file] [-log-level level] <command> [arguments]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %-9s %s\n", name, commands[name].summary)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fs.PrintDefaults()
}

// newFlagSet returns a flag set for a subcommand that reports errors as
// usage errors instead of exiting.
func newFlagSet(name, args string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	if stderr == nil {
		stderr = io.Discard
	}
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: stormgrid %s %s\n", name, args)
		fs.PrintDefaults()
	}
	return fs
}

func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %s: %v", errUsage, fs.Name(), err)
	}
	return nil
}

func usageErr(format string, a ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{errUsage}, a...)...)
}
