// Package lod maps an octree depth onto the slice of a Morton-ordered patch
// that should be streamed at that depth.
package lod

import (
	"fmt"
	"math"
)

// Mode selects how point-index ranges grow with depth.
type Mode int

const (
	// Capped returns the first MaxPointsPerPatch points at every depth.
	Capped Mode = iota
	// Midoc grows by a factor of 4 per level; levels are disjoint.
	Midoc
	// Adaptive grows by a factor of 8 per level from level 2 on.
	Adaptive
)

func (m Mode) String() string {
	switch m {
	case Capped:
		return "capped"
	case Midoc:
		return "midoc"
	case Adaptive:
		return "adaptive"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Range is a zero-based, half-open slice [Begin, Begin+Count) of a patch.
type Range struct {
	Begin int
	Count int
}

func (r Range) End() int { return r.Begin + r.Count }

func (r Range) String() string { return fmt.Sprintf("[%d,%d)", r.Begin, r.End()) }

// Policy is resolved once per table.
type Policy struct {
	Mode              Mode
	MaxPointsPerPatch int
	// PatchSize is the mean number of points per patch.
	PatchSize int
	// MaxLOD is the deepest level served; deeper requests are clamped. 0
	// serves level 0 only.
	MaxLOD int
}

// Deepest levels whose ranges still fit in an int.
const (
	MidocLimit    = 30
	AdaptiveLimit = 20
)

// Range returns the point-index range for lod.
func (p Policy) Range(lod int) Range {
	l := p.clamp(lod)
	switch p.Mode {
	case Capped:
		return Range{Begin: 0, Count: p.MaxPointsPerPatch}
	case Adaptive:
		return Range{Begin: AdaptiveOffset(l), Count: AdaptiveBudget(l)}
	default:
		return Range{Begin: MidocBegin(l), Count: MidocEnd(l) - MidocBegin(l)}
	}
}

// LeafRange returns everything left in the patch from the lod's offset on.
// Only meaningful for Adaptive; other modes return Range(lod).
func (p Policy) LeafRange(lod int) Range {
	if p.Mode != Adaptive {
		return p.Range(lod)
	}
	r := p.Range(lod)
	left := p.PatchSize - r.Begin
	if left < r.Count {
		left = r.Count
	}
	r.Count = left
	return r
}

func (p Policy) clamp(lod int) int {
	top := p.MaxLOD
	switch p.Mode {
	case Midoc:
		top = min(top, MidocLimit)
	case Adaptive:
		top = min(top, AdaptiveLimit)
	}
	return Clamp(lod, top)
}

// Clamp bounds lod to [0, maxLOD]; a negative maxLOD reads as 0.
func Clamp(lod, maxLOD int) int {
	return max(0, min(lod, maxLOD))
}

// MidocBegin is sum(4^i, i < l), saturating at math.MaxInt.
func MidocBegin(l int) int {
	s := 0
	for i := 0; i < l; i++ {
		s = addSat(s, pow(4, i))
	}
	return s
}

// MidocEnd is sum(4^i, i <= l), saturating at math.MaxInt.
func MidocEnd(l int) int {
	return addSat(MidocBegin(l), pow(4, l))
}

// AdaptiveBudget is the number of points served at level l.
func AdaptiveBudget(l int) int {
	if l < 2 {
		return 1
	}
	return pow(8, l-1)
}

// AdaptiveOffset is the prefix sum of budgets below l, saturating at
// math.MaxInt.
func AdaptiveOffset(l int) int {
	s := 0
	for i := 0; i < l; i++ {
		s = addSat(s, AdaptiveBudget(i))
	}
	return s
}

func addSat(a, b int) int {
	if a > math.MaxInt-b {
		return math.MaxInt
	}
	return a + b
}

func pow(base, exp int) int {
	if exp <= 0 {
		return 1
	}
	r := 1
	for range exp {
		if r > math.MaxInt/base {
			return math.MaxInt
		}
		r *= base
	}
	return r
}
