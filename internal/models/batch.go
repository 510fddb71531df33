// Stormgrid - Tropical Cyclone Risk Forecast Store
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/stormgrid

package models

import "time"

// BatchState is a load batch lifecycle state.
type BatchState string

const (
	BatchArrived   BatchState = "ARRIVED"
	BatchStaged    BatchState = "STAGED"
	BatchValidated BatchState = "VALIDATED"
	BatchMerged    BatchState = "MERGED"
	BatchIndexed   BatchState = "INDEXED"
	BatchRejected  BatchState = "REJECTED"
)

// Terminal reports whether no further transition is possible.
func (s BatchState) Terminal() bool {
	return s == BatchIndexed || s == BatchRejected
}

// LoadBatch is a row of the load_batch ledger.
type LoadBatch struct {
	ID            string     `json:"id"`
	Key           string     `json:"batch_key"`
	State         BatchState `json:"state"`
	StagingTable  string     `json:"staging_table"`
	StagedRows    int64      `json:"staged_rows"`
	FilteredRows  int64      `json:"filtered_rows"`
	MergedRows    int64      `json:"merged_rows"`
	SkippedRows   int64      `json:"skipped_rows"`
	OffendingRows int64      `json:"offending_rows"`
	LastError     string     `json:"last_error,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}
