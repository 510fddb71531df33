// Stormgrid - Tropical Cyclone Risk Forecast Store
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/stormgrid

package services

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/tomtom215/stormgrid/internal/logging"
)

// Checkpointer flushes the database write-ahead log into the main file.
// *database.DB implements it.
type Checkpointer interface {
	Checkpoint(ctx context.Context) error
}

// CheckpointService checkpoints the database on a fixed interval and once
// more on shutdown. Checkpoint errors are logged and do not stop the
// service; a failing database shows up in the health endpoint instead.
type CheckpointService struct {
	db       Checkpointer
	interval time.Duration
	clock    clockwork.Clock
}

// NewCheckpointService creates the service. A non-positive interval means 5m.
func NewCheckpointService(db Checkpointer, interval time.Duration) *CheckpointService {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &CheckpointService{db: db, interval: interval, clock: clockwork.NewRealClock()}
}

// WithClock replaces the clock driving the ticker.
func (s *CheckpointService) WithClock(c clockwork.Clock) *CheckpointService {
	s.clock = c
	return s
}

// Serve implements suture.Service.
func (s *CheckpointService) Serve(ctx context.Context) error {
	ctx = logging.ContextWithLogger(ctx, logging.WithComponent("checkpoint"))
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			s.checkpoint(ctx)
		case <-ctx.Done():
			s.checkpoint(context.WithoutCancel(ctx))
			return ctx.Err()
		}
	}
}

func (s *CheckpointService) checkpoint(ctx context.Context) {
	start := time.Now()
	if err := s.db.Checkpoint(ctx); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("Database checkpoint failed")
		return
	}
	logging.Ctx(ctx).Debug().Dur("duration", time.Since(start)).Msg("Database checkpoint")
}

func (s *CheckpointService) String() string {
	return "duckdb-checkpoint"
}
