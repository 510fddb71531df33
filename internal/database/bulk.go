// Stormgrid - Tropical Cyclone Risk Forecast Store
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/stormgrid

package database

import (
	"context"
	"database/sql/driver"
	"fmt"
	"regexp"
	"strings"

	"github.com/duckdb/duckdb-go/v2"
	"github.com/google/uuid"

	"github.com/tomtom215/stormgrid/internal/logging"
)

// tableNamePattern guards identifiers that are interpolated into SQL.
var tableNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)

func checkTableName(name string) error {
	if !tableNamePattern.MatchString(name) {
		return fmt.Errorf("invalid table name %q", name)
	}
	return nil
}

// appendRows bulk loads n rows into table through the DuckDB appender.
// The appender is flushed on Close; a constraint violation surfaces there.
func (db *DB) appendRows(ctx context.Context, table string, n int, row func(i int) []driver.Value) error {
	if err := checkTableName(table); err != nil {
		return err
	}

	conn, err := db.conn.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer closeQuietly(conn)

	return conn.Raw(func(driverConn any) error {
		dc, ok := driverConn.(driver.Conn)
		if !ok {
			return fmt.Errorf("unexpected driver connection type %T", driverConn)
		}

		app, err := duckdb.NewAppenderFromConn(dc, "", table)
		if err != nil {
			return fmt.Errorf("failed to create appender for %s: %w", table, err)
		}

		for i := 0; i < n; i++ {
			if err := ctx.Err(); err != nil {
				closeQuietly(app)
				return err
			}
			if err := app.AppendRow(row(i)...); err != nil {
				closeQuietly(app)
				return fmt.Errorf("failed to append row %d to %s: %w", i, table, err)
			}
		}

		if err := app.Close(); err != nil {
			return fmt.Errorf("failed to flush appender for %s: %w", table, err)
		}
		return nil
	})
}

// withScratchTable creates a uniquely named table, hands it to fn and drops
// it afterwards. Scratch tables feed set-based UPDATEs from Go-side results.
func (db *DB) withScratchTable(ctx context.Context, prefix, columns string, fn func(table string) error) error {
	table := prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := checkTableName(table); err != nil {
		return err
	}

	if _, err := db.conn.ExecContext(ctx, fmt.Sprintf("CREATE TABLE %s (%s)", table, columns)); err != nil {
		return fmt.Errorf("failed to create scratch table: %w", err)
	}
	defer func() {
		// The caller's context may already be done; the drop must still run.
		if _, err := db.conn.ExecContext(context.WithoutCancel(ctx), "DROP TABLE IF EXISTS "+table); err != nil {
			logDropFailure(table, err)
		}
	}()

	return fn(table)
}

// placeholders returns "?, ?, ..." with n markers.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func logDropFailure(table string, err error) {
	logging.Warn().Str("table", table).Err(err).Msg("Failed to drop table")
}
