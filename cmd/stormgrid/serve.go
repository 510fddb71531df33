// Stormgrid - Tropical Cyclone Risk Forecast Store
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/stormgrid

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/tomtom215/stormgrid/internal/api"
	"github.com/tomtom215/stormgrid/internal/logging"
	"github.com/tomtom215/stormgrid/internal/spatialindex"
	"github.com/tomtom215/stormgrid/internal/supervisor"
	"github.com/tomtom215/stormgrid/internal/supervisor/services"
)

func runServe(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("serve", "[-addr host:port] [-checkpoint interval]", a.stderr)
	addr := fs.String("addr", fmt.Sprintf("%s:%d", a.cfg.Server.Host, a.cfg.Server.Port), "listen address")
	checkpoint := fs.Duration("checkpoint", 5*time.Minute, "DuckDB checkpoint interval, 0 disables")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	db, err := a.store()
	if err != nil {
		return err
	}

	var cells api.CellIndex
	if db.IsH3Available() {
		ix, err := spatialindex.NewIndexer(db, a.cfg.Grid.H3Resolution, a.cfg.Grid.Workers)
		if err != nil {
			return err
		}
		cells = ix
	} else {
		logging.Warn().Msg("H3 extension not loaded, cell routes will answer 503")
	}

	var opts []api.HandlerOption
	if a.cfg.Server.ViewCacheSize > 0 {
		opts = append(opts, api.WithViewCache(a.cfg.Server.ViewCacheSize, a.cfg.Server.ViewCacheTTL))
	}

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: a.cfg.Server.ShutdownTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create supervisor tree: %w", err)
	}

	if *checkpoint > 0 {
		tree.AddDataService(services.NewCheckpointService(db, *checkpoint))
	}
	server := &http.Server{
		Addr:              *addr,
		Handler:           api.NewRouter(api.NewHandler(db, cells, opts...), a.cfg.Server),
		ReadTimeout:       a.cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      a.cfg.Server.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}
	tree.AddAPIService(services.NewHTTPServerService(server, a.cfg.Server.ShutdownTimeout))

	logging.Info().Str("addr", *addr).Bool("h3", cells != nil).Msg("Starting supervisor tree")
	err = tree.Serve(ctx)

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("supervisor tree: %w", err)
	}
	logging.Info().Msg("Shutdown complete")
	return nil
}
