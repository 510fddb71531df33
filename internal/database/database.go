// Stormgrid - Tropical Cyclone Risk Forecast Store
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/stormgrid

// Package database is the DuckDB-backed store for centroids, regions, the
// hex-cell index, storm runs, the hazard fact table, the load ledger and the
// aggregation views.
//
// A single *DB is shared by every component. Operations take a context and
// scope their connection or transaction to the call; nothing holds a
// connection across calls except the pool itself.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/tomtom215/stormgrid/internal/config"
	"github.com/tomtom215/stormgrid/internal/logging"
)

// DB wraps the DuckDB connection pool.
type DB struct {
	conn             *sql.DB
	cfg              *config.DatabaseConfig
	spatialAvailable bool // spatial extension loaded
	h3Available      bool // h3 community extension loaded
	closed           atomic.Bool
}

// New opens the database, loads extensions and brings the schema up to date.
func New(cfg *config.DatabaseConfig) (*DB, error) {
	numThreads := cfg.Threads
	if numThreads <= 0 {
		numThreads = runtime.NumCPU()
	}

	if cfg.Path != ":memory:" {
		dbDir := filepath.Dir(cfg.Path)
		if dbDir != "" && dbDir != "." {
			if err := os.MkdirAll(dbDir, 0o750); err != nil {
				return nil, fmt.Errorf("failed to create database directory %s: %w", dbDir, err)
			}
		}
	}

	preserveOrder := "true"
	if !cfg.PreserveInsertionOrder {
		preserveOrder = "false"
	}

	// Autoload stays off; installExtensions decides what gets loaded.
	connStr := fmt.Sprintf("%s?access_mode=read_write&threads=%d&max_memory=%s&preserve_insertion_order=%s&autoinstall_known_extensions=false&autoload_known_extensions=false",
		cfg.Path, numThreads, cfg.MaxMemory, preserveOrder)

	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := &DB{
		conn: conn,
		cfg:  cfg,
	}

	db.configureConnectionPool()

	if err := db.initialize(); err != nil {
		closeQuietly(conn)
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	logging.Info().
		Str("path", cfg.Path).
		Bool("spatial", db.spatialAvailable).
		Bool("h3", db.h3Available).
		Msg("Database ready")

	return db, nil
}

// configureConnectionPool sets connection pool parameters.
// Every pooled connection shares the loaded extensions of the database
// instance, so pool size does not affect extension availability.
func (db *DB) configureConnectionPool() {
	db.conn.SetMaxOpenConns(runtime.NumCPU())
	db.conn.SetMaxIdleConns(2)
	db.conn.SetConnMaxLifetime(time.Hour)
	db.conn.SetConnMaxIdleTime(5 * time.Minute)
}

// IsSpatialAvailable reports whether the spatial extension is loaded.
func (db *DB) IsSpatialAvailable() bool {
	return db.spatialAvailable
}

// IsH3Available reports whether the h3 extension is loaded.
func (db *DB) IsH3Available() bool {
	return db.h3Available
}

// Conn returns the underlying pool.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Close checkpoints the WAL and closes the pool. Calls after the first
// return ErrDatabaseClosed.
func (db *DB) Close() error {
	if !db.closed.CompareAndSwap(false, true) {
		return ErrDatabaseClosed
	}
	if db.conn == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if _, err := db.conn.ExecContext(ctx, "CHECKPOINT"); err != nil {
		logging.Warn().Err(err).Msg("Failed to checkpoint database before close")
	}
	cancel()

	return db.conn.Close()
}

// Ping checks that the database is open and reachable.
func (db *DB) Ping(ctx context.Context) error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	return db.conn.PingContext(ctx)
}

// Checkpoint forces a WAL checkpoint.
func (db *DB) Checkpoint(ctx context.Context) error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	if _, err := db.conn.ExecContext(ctx, "CHECKPOINT"); err != nil {
		return fmt.Errorf("checkpoint failed: %w", err)
	}
	return nil
}

func (db *DB) checkOpen() error {
	if db == nil || db.conn == nil || db.closed.Load() {
		return ErrDatabaseClosed
	}
	return nil
}

// ensureContext gives calls without a deadline a 30s ceiling.
func ensureContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return context.WithTimeout(context.Background(), 30*time.Second)
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		return context.WithTimeout(ctx, 30*time.Second)
	}
	return ctx, func() {}
}

// initialize loads extensions and creates the schema.
func (db *DB) initialize() error {
	if err := db.installExtensions(); err != nil {
		return err
	}

	if err := db.createTables(); err != nil {
		return err
	}

	if err := db.runVersionedMigrations(); err != nil {
		return err
	}

	if err := db.createIndexes(); err != nil {
		return err
	}

	if err := db.createViews(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := db.conn.ExecContext(ctx, "CHECKPOINT"); err != nil {
		logging.Warn().Err(err).Msg("Failed to checkpoint after schema initialization")
	}

	return nil
}
