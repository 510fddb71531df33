// Stormgrid - Tropical Cyclone Risk Forecast Store
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/stormgrid

package pipeline

import (
	"errors"
	"fmt"

	"github.com/tomtom215/stormgrid/internal/models"
)

var (
	// ErrBatchRejected is returned when validation finds offending rows.
	// The accompanying *RejectError carries the report.
	ErrBatchRejected = errors.New("batch rejected")

	// ErrInvalidTransition is returned when a step is run from the wrong state.
	ErrInvalidTransition = errors.New("invalid batch state transition")

	// ErrNotResumable is returned for a batch whose rows are no longer held
	// anywhere the pipeline can reach.
	ErrNotResumable = errors.New("batch cannot be resumed")
)

// RejectError wraps ErrBatchRejected with the validation report.
type RejectError struct {
	Report *models.RejectReport
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("%s: %s", ErrBatchRejected, e.Report.Summary())
}

// Unwrap lets errors.Is match ErrBatchRejected.
func (e *RejectError) Unwrap() error {
	return ErrBatchRejected
}

// TransitionError describes a refused transition.
type TransitionError struct {
	BatchID string
	From    models.BatchState
	To      models.BatchState
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: batch %s %s -> %s", ErrInvalidTransition, e.BatchID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}
