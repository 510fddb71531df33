// Stormgrid - Tropical Cyclone Risk Forecast Store
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/stormgrid

package exposure

import (
	"context"
	"fmt"

	"github.com/tomtom215/stormgrid/internal/logging"
	"github.com/tomtom215/stormgrid/internal/metrics"
	"github.com/tomtom215/stormgrid/internal/models"
)

// AttachStore writes sampled values onto centroids.
type AttachStore interface {
	AttachValues(ctx context.Context, field models.CentroidField, values []models.PointValue) (updated, unknown int64, err error)
}

// AttachStats counts the outcome of one attachment pass.
type AttachStats struct {
	Field   models.CentroidField `json:"field"`
	Total   int64                `json:"total"`
	Updated int64                `json:"updated"`
	Gaps    int64                `json:"gaps"`    // nil values, left untouched
	Unknown int64                `json:"unknown"` // ids with no centroid
}

// Attach merges values into field. Gaps never overwrite an existing value
// and unknown ids are counted, not raised.
func Attach(ctx context.Context, store AttachStore, field models.CentroidField, values []models.PointValue) (*AttachStats, error) {
	if !field.Valid() {
		return nil, fmt.Errorf("cannot attach to centroid field %q", field)
	}

	stats := &AttachStats{Field: field, Total: int64(len(values))}
	for _, v := range values {
		if v.Value == nil {
			stats.Gaps++
		}
	}

	updated, unknown, err := store.AttachValues(ctx, field, values)
	if err != nil {
		return nil, fmt.Errorf("attach %s: %w", field, err)
	}
	stats.Updated = updated
	stats.Unknown = unknown

	metrics.RecordExposure(string(field), stats.Updated, stats.Gaps, stats.Unknown)
	logging.Ctx(ctx).Info().
		Str("field", string(field)).
		Int64("total", stats.Total).
		Int64("updated", stats.Updated).
		Int64("gaps", stats.Gaps).
		Int64("unknown", stats.Unknown).
		Msg("Centroid values attached")
	return stats, nil
}
