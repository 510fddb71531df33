// Stormgrid - Tropical Cyclone Risk Forecast Store
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/stormgrid

/*
Package supervisor runs the long-lived services of `stormgrid serve` under a
suture v4 supervisor tree.

	RootSupervisor ("stormgrid")
	├── DataSupervisor ("data-layer")
	│   └── CheckpointService   periodic DuckDB CHECKPOINT
	└── APISupervisor ("api-layer")
	    └── HTTPServerService   the read-only view API

A crash in one layer restarts that layer's services only. Supervisor events
are logged through sutureslog, which writes to the zerolog-backed slog
logger from internal/logging.

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfig{})
	tree.AddDataService(services.NewCheckpointService(db, 5*time.Minute))
	tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))
	err = tree.Serve(ctx)
*/
package supervisor
