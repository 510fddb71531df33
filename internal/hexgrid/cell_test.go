// Stormgrid - Tropical Cyclone Risk Forecast Store
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/stormgrid

package hexgrid

import (
	"errors"
	"testing"
)

// sfCell is a well-known resolution 9 cell in San Francisco.
const sfCell = "8928308280fffff"

func mustParse(t *testing.T, s string) Cell {
	t.Helper()
	c, err := ParseCell(s)
	if err != nil {
		t.Fatalf("ParseCell(%q): %v", s, err)
	}
	return c
}

func TestParseCell(t *testing.T) {
	t.Parallel()

	c := mustParse(t, sfCell)
	if got := c.Resolution(); got != 9 {
		t.Errorf("resolution: expected 9, got %d", got)
	}
	if got := c.BaseCell(); got != 20 {
		t.Errorf("base cell: expected 20, got %d", got)
	}
	if got := c.String(); got != sfCell {
		t.Errorf("string: expected %s, got %s", sfCell, got)
	}
	if c.IsPentagon() {
		t.Error("expected hexagon")
	}
}

func TestParseCell_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
	}{
		{"not hex", "zzzz"},
		{"empty", ""},
		{"edge mode", "1928308280fffff"},
		{"digit below resolution", "8928308280ffff0"},
		{"high bit set", "8928308280fffff0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseCell(tt.input)
			if !errors.Is(err, ErrInvalidCell) {
				t.Errorf("ParseCell(%q): expected ErrInvalidCell, got %v", tt.input, err)
			}
		})
	}
}

func TestParent(t *testing.T) {
	t.Parallel()

	c := mustParse(t, sfCell)

	p8, err := c.Parent(8)
	if err != nil {
		t.Fatalf("Parent(8): %v", err)
	}
	if got := p8.String(); got != "8828308281fffff" {
		t.Errorf("Parent(8): expected 8828308281fffff, got %s", got)
	}

	p0, err := c.Parent(0)
	if err != nil {
		t.Fatalf("Parent(0): %v", err)
	}
	if got := p0.String(); got != "8029fffffffffff" {
		t.Errorf("Parent(0): expected 8029fffffffffff, got %s", got)
	}

	self, err := c.Parent(9)
	if err != nil || self != c {
		t.Errorf("Parent(9): expected the cell itself, got %s (%v)", self, err)
	}

	if _, err := c.Parent(10); err == nil {
		t.Error("Parent(10): expected error for finer resolution")
	}
}

func TestAncestors(t *testing.T) {
	t.Parallel()

	c := mustParse(t, sfCell)
	anc := c.Ancestors()
	if len(anc) != 9 {
		t.Fatalf("expected 9 ancestors, got %d", len(anc))
	}
	for i, a := range anc {
		wantRes := 8 - i
		if a.Resolution() != wantRes {
			t.Errorf("ancestor %d: expected resolution %d, got %d", i, wantRes, a.Resolution())
		}
		if !a.IsAncestorOf(c) {
			t.Errorf("ancestor %s does not contain %s", a, c)
		}
	}
}

func TestChildren_Hexagon(t *testing.T) {
	t.Parallel()

	p := mustParse(t, "8828308281fffff")
	children := p.Children()
	if len(children) != 7 {
		t.Fatalf("expected 7 children, got %d", len(children))
	}
	for _, ch := range children {
		if !ch.IsValid() {
			t.Errorf("child %s is not valid", ch)
		}
		parent, err := ch.Parent(8)
		if err != nil || parent != p {
			t.Errorf("child %s: parent mismatch %s (%v)", ch, parent, err)
		}
	}
}

func TestChildren_Pentagon(t *testing.T) {
	t.Parallel()

	pent, err := NewCell(4)
	if err != nil {
		t.Fatalf("NewCell: %v", err)
	}
	if got := pent.String(); got != "8009fffffffffff" {
		t.Errorf("expected 8009fffffffffff, got %s", got)
	}
	if !pent.IsPentagon() {
		t.Fatal("base cell 4 should be a pentagon")
	}

	children := pent.Children()
	if len(children) != 6 {
		t.Fatalf("expected 6 children, got %d", len(children))
	}
	for _, ch := range children {
		if ch.Digit(1) == kAxesDigit {
			t.Errorf("pentagon child %s uses the deleted K axis", ch)
		}
	}

	// Only the center child of a pentagon stays a pentagon.
	pentagons := 0
	for _, ch := range children {
		if ch.IsPentagon() {
			pentagons++
		}
	}
	if pentagons != 1 {
		t.Errorf("expected 1 pentagon child, got %d", pentagons)
	}
}

func TestNewCell_KAxisOnPentagon(t *testing.T) {
	t.Parallel()

	if _, err := NewCell(4, 1); err == nil {
		t.Error("expected error for K-axis digit under a pentagon base cell")
	}
	if _, err := NewCell(4, 0, 1); err == nil {
		t.Error("expected error for K-axis first non-zero digit under a pentagon base cell")
	}
	if _, err := NewCell(4, 2, 1); err != nil {
		t.Errorf("K-axis after a non-zero digit is valid: %v", err)
	}
	if _, err := NewCell(20, 1); err != nil {
		t.Errorf("K-axis digit under a hexagon base cell is valid: %v", err)
	}
}

func TestNewCell_OutOfRange(t *testing.T) {
	t.Parallel()

	if _, err := NewCell(NumBaseCells); err == nil {
		t.Error("expected error for base cell out of range")
	}
	digits := make([]int, MaxResolution+1)
	if _, err := NewCell(0, digits...); err == nil {
		t.Error("expected error for too many digits")
	}
}
