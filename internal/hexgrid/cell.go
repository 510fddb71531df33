// Stormgrid - Tropical Cyclone Risk Forecast Store
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/stormgrid

// Package hexgrid implements the index arithmetic of the H3 hierarchical
// hexagonal grid: resolution and digit access, parent/child traversal,
// and compaction of cell sets.
//
// It does not project geographic coordinates onto cells. Polyfill and
// point-to-cell conversion are delegated to the DuckDB h3 extension; this
// package only reasons about the 64-bit identifiers the extension returns.
//
// Cell layout (most significant bit first):
//
//	1 bit  reserved (0)
//	4 bits mode (1 for cells)
//	3 bits reserved (0)
//	4 bits resolution 0-15
//	7 bits base cell 0-121
//	15 x 3 bits digits, one per resolution; digits below the cell's
//	resolution are 7
package hexgrid

import (
	"errors"
	"fmt"
	"strconv"
)

// Cell is a 64-bit H3 cell identifier.
type Cell uint64

const (
	// MaxResolution is the finest H3 resolution.
	MaxResolution = 15

	// NumBaseCells is the number of resolution 0 cells.
	NumBaseCells = 122

	cellMode = 1

	modeOffset     = 59
	resOffset      = 52
	baseCellOffset = 45
	digitBits      = 3

	modeMask     = uint64(0xF) << modeOffset
	reservedMask = uint64(0x7) << 56
	highBitMask  = uint64(1) << 63
	resMask      = uint64(0xF) << resOffset
	baseCellMask = uint64(0x7F) << baseCellOffset
	digitMask    = uint64(0x7)

	invalidDigit = 7
	kAxesDigit   = 1
)

// ErrInvalidCell is returned when an identifier does not describe a valid H3 cell.
var ErrInvalidCell = errors.New("invalid h3 cell")

// pentagonBaseCells lists the 12 base cells that are pentagons.
var pentagonBaseCells = map[int]bool{
	4: true, 14: true, 24: true, 38: true, 49: true, 58: true,
	63: true, 72: true, 83: true, 97: true, 107: true, 117: true,
}

// NewCell builds a cell from a base cell and one digit per resolution.
// The resolution of the result is len(digits).
func NewCell(baseCell int, digits ...int) (Cell, error) {
	if baseCell < 0 || baseCell >= NumBaseCells {
		return 0, fmt.Errorf("%w: base cell %d out of range", ErrInvalidCell, baseCell)
	}
	if len(digits) > MaxResolution {
		return 0, fmt.Errorf("%w: %d digits exceed max resolution", ErrInvalidCell, len(digits))
	}

	v := uint64(cellMode)<<modeOffset | uint64(len(digits))<<resOffset | uint64(baseCell)<<baseCellOffset
	for r := 1; r <= MaxResolution; r++ {
		d := invalidDigit
		if r <= len(digits) {
			d = digits[r-1]
		}
		v |= uint64(d) << digitOffset(r)
	}

	c := Cell(v)
	if !c.IsValid() {
		return 0, fmt.Errorf("%w: %s", ErrInvalidCell, c)
	}
	return c, nil
}

// ParseCell parses the lowercase hexadecimal form used by H3 tooling.
func ParseCell(s string) (Cell, error) {
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrInvalidCell, s, err)
	}
	c := Cell(v)
	if !c.IsValid() {
		return 0, fmt.Errorf("%w: %q", ErrInvalidCell, s)
	}
	return c, nil
}

func digitOffset(res int) uint {
	return uint((MaxResolution - res) * digitBits)
}

// String returns the hexadecimal representation of the cell.
func (c Cell) String() string {
	return strconv.FormatUint(uint64(c), 16)
}

// Resolution returns the resolution of the cell.
func (c Cell) Resolution() int {
	return int((uint64(c) & resMask) >> resOffset)
}

// BaseCell returns the resolution 0 ancestor number of the cell.
func (c Cell) BaseCell() int {
	return int((uint64(c) & baseCellMask) >> baseCellOffset)
}

// Digit returns the digit of the cell at resolution res (1-15).
func (c Cell) Digit(res int) int {
	return int((uint64(c) >> digitOffset(res)) & digitMask)
}

func (c Cell) withDigit(res, digit int) Cell {
	off := digitOffset(res)
	v := uint64(c) &^ (digitMask << off)
	return Cell(v | uint64(digit)<<off)
}

func (c Cell) withResolution(res int) Cell {
	return Cell(uint64(c)&^resMask | uint64(res)<<resOffset)
}

// IsValid reports whether c is a well-formed H3 cell.
func (c Cell) IsValid() bool {
	v := uint64(c)
	if v&highBitMask != 0 || v&reservedMask != 0 {
		return false
	}
	if (v&modeMask)>>modeOffset != cellMode {
		return false
	}
	base := c.BaseCell()
	if base >= NumBaseCells {
		return false
	}

	res := c.Resolution()
	firstNonZero := 0
	for r := 1; r <= MaxResolution; r++ {
		d := c.Digit(r)
		if r <= res {
			if d == invalidDigit {
				return false
			}
			if firstNonZero == 0 && d != 0 {
				firstNonZero = d
			}
			continue
		}
		if d != invalidDigit {
			return false
		}
	}

	// A pentagon has no K-axis subsequence.
	if pentagonBaseCells[base] && firstNonZero == kAxesDigit {
		return false
	}
	return true
}

// IsPentagon reports whether c is one of the 12 pentagons at its resolution.
func (c Cell) IsPentagon() bool {
	if !pentagonBaseCells[c.BaseCell()] {
		return false
	}
	for r := 1; r <= c.Resolution(); r++ {
		if c.Digit(r) != 0 {
			return false
		}
	}
	return true
}

// Parent returns the ancestor of c at resolution res. Asking for a
// resolution finer than the cell's own is an error.
func (c Cell) Parent(res int) (Cell, error) {
	cur := c.Resolution()
	if res < 0 || res > cur {
		return 0, fmt.Errorf("%w: no parent at resolution %d for %s (resolution %d)", ErrInvalidCell, res, c, cur)
	}
	p := c.withResolution(res)
	for r := res + 1; r <= cur; r++ {
		p = p.withDigit(r, invalidDigit)
	}
	return p, nil
}

// Ancestors returns the parents of c from resolution Resolution()-1 down to 0.
func (c Cell) Ancestors() []Cell {
	res := c.Resolution()
	out := make([]Cell, 0, res)
	for r := res - 1; r >= 0; r-- {
		p, _ := c.Parent(r)
		out = append(out, p)
	}
	return out
}

// ChildCount returns the number of direct children of c: 6 for pentagons, 7 otherwise.
func (c Cell) ChildCount() int {
	if c.IsPentagon() {
		return 6
	}
	return 7
}

// Children returns the direct children of c at the next finer resolution.
// A cell at MaxResolution has no children.
func (c Cell) Children() []Cell {
	res := c.Resolution()
	if res >= MaxResolution {
		return nil
	}
	pent := c.IsPentagon()
	child := c.withResolution(res + 1)
	out := make([]Cell, 0, 7)
	for d := 0; d < 7; d++ {
		if pent && d == kAxesDigit {
			continue
		}
		out = append(out, child.withDigit(res+1, d))
	}
	return out
}

// IsAncestorOf reports whether c equals other or is one of its parents.
func (c Cell) IsAncestorOf(other Cell) bool {
	res := c.Resolution()
	if res > other.Resolution() {
		return false
	}
	p, err := other.Parent(res)
	return err == nil && p == c
}
