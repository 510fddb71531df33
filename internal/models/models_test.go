// Stormgrid - Tropical Cyclone Risk Forecast Store
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/stormgrid

package models

import (
	"strings"
	"testing"
)

func TestBatchState_Terminal(t *testing.T) {
	t.Parallel()

	terminal := map[BatchState]bool{
		BatchArrived:   false,
		BatchStaged:    false,
		BatchValidated: false,
		BatchMerged:    false,
		BatchIndexed:   true,
		BatchRejected:  true,
	}
	for state, want := range terminal {
		if got := state.Terminal(); got != want {
			t.Errorf("%s.Terminal() = %v, want %v", state, got, want)
		}
	}
}

func TestCentroidField_Valid(t *testing.T) {
	t.Parallel()

	if !FieldExposure.Valid() || !FieldDistCoast.Valid() {
		t.Error("expected exposure and dist_coast to be valid")
	}
	if CentroidField("region_id").Valid() {
		t.Error("region_id must not be attachable")
	}
}

func TestRejectReport_Summary(t *testing.T) {
	t.Parallel()

	r := &RejectReport{
		StagedRows: 10,
		Offending:  3,
		ByReason: map[string]int{
			string(ReasonUnknownStorm):    2,
			string(ReasonUnknownCentroid): 1,
		},
	}
	got := r.Summary()
	if !strings.HasPrefix(got, "3 of 10 staged rows rejected") {
		t.Errorf("unexpected summary prefix: %q", got)
	}
	if !strings.Contains(got, "unknown_centroid=1, unknown_storm=2") {
		t.Errorf("expected reasons in fixed order, got %q", got)
	}
}
