// Stormgrid - Tropical Cyclone Risk Forecast Store
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/stormgrid

package hexgrid

import (
	"fmt"
	"slices"
)

// Compact replaces every complete set of siblings with their parent,
// recursively, and returns the result sorted ascending. Input cells may be
// at mixed resolutions; duplicates and cells already covered by an
// ancestor in the input are dropped.
func Compact(cells []Cell) ([]Cell, error) {
	set := make(map[Cell]struct{}, len(cells))
	maxRes := 0
	for _, c := range cells {
		if !c.IsValid() {
			return nil, fmt.Errorf("compact: %w: %s", ErrInvalidCell, c)
		}
		set[c] = struct{}{}
		if r := c.Resolution(); r > maxRes {
			maxRes = r
		}
	}
	dropCovered(set)

	for res := maxRes; res > 0; res-- {
		counts := make(map[Cell]int)
		for c := range set {
			if c.Resolution() != res {
				continue
			}
			p, _ := c.Parent(res - 1)
			counts[p]++
		}
		for p, n := range counts {
			if n != p.ChildCount() {
				continue
			}
			for _, child := range p.Children() {
				delete(set, child)
			}
			set[p] = struct{}{}
		}
	}

	return sortedCells(set), nil
}

// Uncompact expands every cell to resolution res and returns the sorted,
// de-duplicated result. A cell finer than res is an error.
func Uncompact(cells []Cell, res int) ([]Cell, error) {
	if res < 0 || res > MaxResolution {
		return nil, fmt.Errorf("uncompact: resolution %d out of range", res)
	}
	set := make(map[Cell]struct{}, len(cells))
	for _, c := range cells {
		if !c.IsValid() {
			return nil, fmt.Errorf("uncompact: %w: %s", ErrInvalidCell, c)
		}
		if c.Resolution() > res {
			return nil, fmt.Errorf("uncompact: cell %s is finer than resolution %d", c, res)
		}
		expand(c, res, set)
	}
	return sortedCells(set), nil
}

func expand(c Cell, res int, into map[Cell]struct{}) {
	if c.Resolution() == res {
		into[c] = struct{}{}
		return
	}
	for _, child := range c.Children() {
		expand(child, res, into)
	}
}

// dropCovered removes cells whose ancestor is also present.
func dropCovered(set map[Cell]struct{}) {
	for c := range set {
		for _, a := range c.Ancestors() {
			if _, ok := set[a]; ok {
				delete(set, c)
				break
			}
		}
	}
}

func sortedCells(set map[Cell]struct{}) []Cell {
	out := make([]Cell, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	slices.Sort(out)
	return out
}

// CompactSet is a read-only membership structure over a compacted cell set.
type CompactSet struct {
	cells  map[Cell]struct{}
	minRes int
	maxRes int
}

// NewCompactSet indexes the given cells. The cells are expected to be the
// output of Compact but any valid set is accepted.
func NewCompactSet(cells []Cell) *CompactSet {
	s := &CompactSet{cells: make(map[Cell]struct{}, len(cells)), minRes: MaxResolution, maxRes: 0}
	for _, c := range cells {
		s.cells[c] = struct{}{}
		r := c.Resolution()
		if r < s.minRes {
			s.minRes = r
		}
		if r > s.maxRes {
			s.maxRes = r
		}
	}
	return s
}

// Len returns the number of stored cells.
func (s *CompactSet) Len() int {
	return len(s.cells)
}

// Cells returns the stored cells sorted ascending.
func (s *CompactSet) Cells() []Cell {
	return sortedCells(s.cells)
}

// Contains reports whether c or one of its ancestors is in the set.
func (s *CompactSet) Contains(c Cell) bool {
	if len(s.cells) == 0 {
		return false
	}
	top := c.Resolution()
	if top > s.maxRes {
		top = s.maxRes
	}
	for r := top; r >= s.minRes; r-- {
		p, err := c.Parent(r)
		if err != nil {
			return false
		}
		if _, ok := s.cells[p]; ok {
			return true
		}
	}
	return false
}
