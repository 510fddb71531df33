// Stormgrid - Tropical Cyclone Risk Forecast Store
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/stormgrid

package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	if cfg.Level != "info" {
		t.Errorf("expected default level 'info', got '%s'", cfg.Level)
	}
	if cfg.Format != "json" {
		t.Errorf("expected default format 'json', got '%s'", cfg.Format)
	}
	if !cfg.Timestamp {
		t.Error("expected default timestamp to be true")
	}
}

func TestInit(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Output: &buf})
	t.Cleanup(func() { Init(DefaultConfig()) })

	Info().Str("batch_id", "b1").Msg("batch staged")

	out := buf.String()
	if !strings.Contains(out, "batch staged") {
		t.Errorf("expected message in output, got: %s", out)
	}
	if !strings.Contains(out, `"batch_id":"b1"`) {
		t.Errorf("expected batch_id field, got: %s", out)
	}
	if !strings.Contains(out, `"level":"info"`) {
		t.Errorf("expected level field, got: %s", out)
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input    string
		expected zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"debug", zerolog.DebugLevel},
		{"INFO", zerolog.InfoLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"disabled", zerolog.Disabled},
		{"bogus", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		if got := parseLevel(tt.input); got != tt.expected {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
		}
	}
}

func TestCtx_AddsContextFields(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	ctx := ContextWithLogger(context.Background(), NewTestLogger(&buf))
	ctx = ContextWithCorrelationID(ctx, "corr1234")
	ctx = ContextWithBatchID(ctx, "batch-42")

	Ctx(ctx).Info().Msg("merged")

	out := buf.String()
	if !strings.Contains(out, `"correlation_id":"corr1234"`) {
		t.Errorf("expected correlation_id, got: %s", out)
	}
	if !strings.Contains(out, `"batch_id":"batch-42"`) {
		t.Errorf("expected batch_id, got: %s", out)
	}
}

func TestContextIDs_Absent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	if id := CorrelationIDFromContext(ctx); id != "" {
		t.Errorf("expected empty correlation id, got %q", id)
	}
	if id := BatchIDFromContext(ctx); id != "" {
		t.Errorf("expected empty batch id, got %q", id)
	}

	ctx = ContextWithNewCorrelationID(ctx)
	if id := CorrelationIDFromContext(ctx); len(id) != 8 {
		t.Errorf("expected 8 character correlation id, got %q", id)
	}
}

func TestSupervisorHandler(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(newSupervisorHandler(NewTestLogger(&buf)))
	logger.With("supervisor", "data-layer").WithGroup("evt").
		Warn("service restarted", "service", "duckdb-checkpoint", "attempt", 2)

	out := buf.String()
	if !strings.Contains(out, `"supervisor":"data-layer"`) {
		t.Errorf("expected handler attribute, got: %s", out)
	}
	if !strings.Contains(out, `"evt.service":"duckdb-checkpoint"`) || !strings.Contains(out, `"evt.attempt":2`) {
		t.Errorf("expected grouped attributes, got: %s", out)
	}
	if !strings.Contains(out, `"level":"warn"`) {
		t.Errorf("expected warn level, got: %s", out)
	}
}

func TestZerologLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   slog.Level
		want zerolog.Level
	}{
		{slog.LevelDebug, zerolog.DebugLevel},
		{slog.LevelInfo, zerolog.InfoLevel},
		{slog.LevelWarn, zerolog.WarnLevel},
		{slog.LevelError, zerolog.ErrorLevel},
		{slog.LevelError + 4, zerolog.ErrorLevel},
	}
	for _, tt := range tests {
		if got := zerologLevel(tt.in); got != tt.want {
			t.Errorf("zerologLevel(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Output: &buf})
	t.Cleanup(func() { Init(DefaultConfig()) })

	ctx := ContextWithLogger(context.Background(), WithComponent("pipeline"))
	ctx = ContextWithBatchID(ctx, "batch-7")
	Ctx(ctx).Info().Msg("staged")

	out := buf.String()
	if !strings.Contains(out, `"component":"pipeline"`) || !strings.Contains(out, `"batch_id":"batch-7"`) {
		t.Errorf("expected component and batch_id, got: %s", out)
	}
}
