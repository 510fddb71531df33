// Stormgrid - Tropical Cyclone Risk Forecast Store
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/stormgrid

package pipeline

import "github.com/tomtom215/stormgrid/internal/models"

// transitions lists the allowed moves. The forward chain is
// ARRIVED, STAGED, VALIDATED, MERGED, INDEXED. A failed merge or a
// compensated index rebuild returns the batch to STAGED.
var transitions = map[models.BatchState][]models.BatchState{
	models.BatchArrived:   {models.BatchStaged},
	models.BatchStaged:    {models.BatchValidated},
	models.BatchValidated: {models.BatchMerged, models.BatchRejected, models.BatchStaged},
	models.BatchMerged:    {models.BatchIndexed, models.BatchStaged},
}

// CanTransition reports whether a batch may move from one state to another.
func CanTransition(from, to models.BatchState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Batch is a load batch moving through the pipeline.
type Batch struct {
	models.LoadBatch

	// Duplicate is set by Run when the key already reached INDEXED and
	// nothing was loaded.
	Duplicate bool `json:"duplicate,omitempty"`

	// Report is set when validation rejected the batch.
	Report *models.RejectReport `json:"report,omitempty"`
}
