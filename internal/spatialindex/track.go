// Stormgrid - Tropical Cyclone Risk Forecast Store
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/stormgrid

package spatialindex

import (
	"context"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"

	"github.com/tomtom215/stormgrid/internal/logging"
	"github.com/tomtom215/stormgrid/internal/models"
)

// TrackEnvelope returns the track's bounding box padded by buffer degrees
// on every side and clamped to the valid lon/lat range.
func TrackEnvelope(track []models.TrackPoint, buffer float64) (orb.Bound, error) {
	if len(track) == 0 {
		return orb.Bound{}, ErrEmptyTrack
	}
	if buffer < 0 || math.IsNaN(buffer) {
		return orb.Bound{}, fmt.Errorf("track buffer %v must be non-negative", buffer)
	}

	b := orb.Bound{Min: orb.Point{track[0].Lon, track[0].Lat}, Max: orb.Point{track[0].Lon, track[0].Lat}}
	for _, p := range track[1:] {
		b = b.Extend(orb.Point{p.Lon, p.Lat})
	}
	b = b.Pad(buffer)

	b.Min[0] = math.Max(b.Min[0], -180)
	b.Min[1] = math.Max(b.Min[1], -90)
	b.Max[0] = math.Min(b.Max[0], 180)
	b.Max[1] = math.Min(b.Max[1], 90)
	return b, nil
}

// CentroidsNearTrack returns the centroids whose cell lies in the padded
// track envelope. Centroids without a cell are never returned, so
// AssignCentroidCells must run first.
func (ix *Indexer) CentroidsNearTrack(ctx context.Context, track []models.TrackPoint, buffer float64) ([]models.Centroid, error) {
	env, err := TrackEnvelope(track, buffer)
	if err != nil {
		return nil, err
	}

	cells, err := ix.store.Polyfill(ctx, wkt.MarshalString(env.ToPolygon()), ix.resolution)
	if err != nil {
		return nil, fmt.Errorf("failed to polyfill track envelope: %w", err)
	}
	if len(cells) == 0 {
		// Envelope smaller than one cell: use the cell at its center.
		center := env.Center()
		c, err := ix.store.PointCell(ctx, center.Lat(), center.Lon(), ix.resolution)
		if err != nil {
			return nil, err
		}
		cells = []uint64{c}
	}

	centroids, err := ix.store.CentroidsInCells(ctx, cells)
	if err != nil {
		return nil, err
	}
	logging.Ctx(ctx).Debug().
		Int("track_points", len(track)).
		Float64("buffer_degrees", buffer).
		Int("cells", len(cells)).
		Int("centroids", len(centroids)).
		Msg("Track centroids selected")
	return centroids, nil
}
