// Stormgrid - Tropical Cyclone Risk Forecast Store
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/stormgrid

package logging

import (
	"context"
	"log/slog"

	"github.com/rs/zerolog"
)

// supervisorHandler writes the slog records of the sutureslog event hook
// (service restarts, backoff, stop timeouts) to a zerolog logger.
type supervisorHandler struct {
	logger zerolog.Logger
	prefix string
}

// NewSlogLogger returns the slog logger handed to the supervisor tree. Its
// records carry component=supervisor.
func NewSlogLogger() *slog.Logger {
	return slog.New(newSupervisorHandler(WithComponent("supervisor")))
}

//nolint:gocritic // zerolog.Logger is designed to be passed by value
func newSupervisorHandler(logger zerolog.Logger) *supervisorHandler {
	return &supervisorHandler{logger: logger}
}

func (h *supervisorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return h.logger.GetLevel() <= zerologLevel(level) && zerolog.GlobalLevel() <= zerologLevel(level)
}

//nolint:gocritic // slog.Record is passed by value per slog.Handler
func (h *supervisorHandler) Handle(_ context.Context, record slog.Record) error {
	event := h.logger.WithLevel(zerologLevel(record.Level))
	record.Attrs(func(a slog.Attr) bool {
		event = event.Interface(h.prefix+a.Key, a.Value.Resolve().Any())
		return true
	})
	event.Msg(record.Message)
	return nil
}

func (h *supervisorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	logCtx := h.logger.With()
	for _, a := range attrs {
		logCtx = logCtx.Interface(h.prefix+a.Key, a.Value.Resolve().Any())
	}
	return &supervisorHandler{logger: logCtx.Logger(), prefix: h.prefix}
}

func (h *supervisorHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &supervisorHandler{logger: h.logger, prefix: h.prefix + name + "."}
}

func zerologLevel(level slog.Level) zerolog.Level {
	switch {
	case level < slog.LevelInfo:
		return zerolog.DebugLevel
	case level < slog.LevelWarn:
		return zerolog.InfoLevel
	case level < slog.LevelError:
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}
