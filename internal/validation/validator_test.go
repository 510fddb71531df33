// Stormgrid - Tropical Cyclone Risk Forecast Store
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/stormgrid

package validation

import (
	"errors"
	"strings"
	"testing"
)

type sample struct {
	Code     string  `validate:"required,stormcode"`
	Memory   string  `validate:"required,memsize"`
	Lat      float64 `validate:"latitude"`
	Lon      float64 `validate:"longitude"`
	Members  int     `validate:"min=1,max=100"`
	Strategy string  `validate:"oneof=auto sql parallel"`
}

func validSample() sample {
	return sample{Code: "09L", Memory: "4GB", Lat: 18.5, Lon: -66.1, Members: 51, Strategy: "auto"}
}

func TestValidateStruct_Valid(t *testing.T) {
	t.Parallel()

	s := validSample()
	if err := ValidateStruct(&s); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidateStruct_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*sample)
		field   string
		message string
	}{
		{"missing code", func(s *sample) { s.Code = "" }, "sample.Code", "is required"},
		{"lower-case code", func(s *sample) { s.Code = "09l" }, "sample.Code", "upper-case letters"},
		{"bad memory", func(s *sample) { s.Memory = "lots" }, "sample.Memory", "memory size"},
		{"latitude", func(s *sample) { s.Lat = 91 }, "sample.Lat", "valid latitude"},
		{"longitude", func(s *sample) { s.Lon = -181 }, "sample.Lon", "valid longitude"},
		{"members", func(s *sample) { s.Members = 0 }, "sample.Members", "at least 1"},
		{"strategy", func(s *sample) { s.Strategy = "serial" }, "sample.Strategy", "one of: auto sql parallel"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := validSample()
			tt.mutate(&s)
			err := ValidateStruct(&s)
			if err == nil {
				t.Fatal("expected validation error")
			}

			var ve *StructValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected *StructValidationError, got %T", err)
			}
			if fields := ve.Fields(); len(fields) != 1 || fields[0] != tt.field {
				t.Errorf("expected field %s, got %v", tt.field, fields)
			}
			if !strings.Contains(err.Error(), tt.message) {
				t.Errorf("expected message containing %q, got %q", tt.message, err.Error())
			}
		})
	}
}

func TestValidateStruct_MultipleErrors(t *testing.T) {
	t.Parallel()

	s := validSample()
	s.Code = ""
	s.Members = 500

	err := ValidateStruct(&s)
	var ve *StructValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected *StructValidationError, got %v", err)
	}
	if len(ve.Errors()) != 2 {
		t.Errorf("expected 2 errors, got %d", len(ve.Errors()))
	}
	if !strings.Contains(err.Error(), "; ") {
		t.Errorf("expected joined message, got %q", err.Error())
	}
}

func TestGetValidator_Singleton(t *testing.T) {
	t.Parallel()

	if GetValidator() != GetValidator() {
		t.Error("expected the same validator instance")
	}
}
