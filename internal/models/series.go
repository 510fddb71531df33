// Stormgrid - Tropical Cyclone Risk Forecast Store
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/stormgrid

package models

import (
	"fmt"
	"strings"
	"time"
)

// SeriesValue is one fact row. Its identity is
// (CentroidID, StormID, TypeID, Timestamp).
type SeriesValue struct {
	CentroidID int64     `json:"centroid_id"`
	StormID    int64     `json:"storm_id"`
	TypeID     int64     `json:"type_id"`
	Value      float64   `json:"value"`
	Timestamp  time.Time `json:"timestamp"`
}

// RejectReason explains why a staged row failed validation.
type RejectReason string

const (
	ReasonUnknownCentroid RejectReason = "unknown_centroid"
	ReasonUnknownStorm    RejectReason = "unknown_storm"
	ReasonUnknownType     RejectReason = "unknown_type"
	ReasonDuplicateKey    RejectReason = "duplicate_key"
)

// OffendingRow is a staged row that blocks a batch, with every reason that applies.
type OffendingRow struct {
	SeriesValue
	Reasons []RejectReason `json:"reasons"`
}

// RejectReport is the batch-level failure report for a rejected batch.
type RejectReport struct {
	BatchID    string         `json:"batch_id"`
	StagedRows int64          `json:"staged_rows"`
	Offending  int64          `json:"offending_rows"`
	ByReason   map[string]int `json:"by_reason"`
	Rows       []OffendingRow `json:"rows"`      // capped sample
	Truncated  bool           `json:"truncated"` // Rows holds fewer than Offending
}

// Summary renders a one-line description of the report.
func (r *RejectReport) Summary() string {
	parts := make([]string, 0, len(r.ByReason))
	for _, reason := range []RejectReason{ReasonUnknownCentroid, ReasonUnknownStorm, ReasonUnknownType, ReasonDuplicateKey} {
		if n := r.ByReason[string(reason)]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", reason, n))
		}
	}
	return fmt.Sprintf("%d of %d staged rows rejected (%s)", r.Offending, r.StagedRows, strings.Join(parts, ", "))
}
