// Package catalog holds per-table point cloud metadata: extent, patch
// statistics and the output formats registered for the table.
package catalog

import (
	"errors"
	"fmt"
	"math"

	"github.com/mohammed-shakir/pcstream/internal/geom"
	"github.com/mohammed-shakir/pcstream/internal/lod"
	"github.com/mohammed-shakir/pcstream/internal/patch"
)

var ErrNotFound = errors.New("catalog: table/column not registered")

// Key identifies a point cloud column.
type Key struct {
	Table  string
	Column string
}

func (k Key) String() string { return k.Table + "." + k.Column }

// OutputSchema is a point layout with its quantization. Once registered its
// scales and offsets never change; a different pair is a new OutputSchema.
type OutputSchema struct {
	PCID    int          `json:"pcid"`
	Schema  patch.Schema `json:"point_schema"`
	Scales  [3]float64   `json:"scales"`
	Offsets [3]float64   `json:"offsets"`
	// Stored marks the format patches are physically kept in.
	Stored bool `json:"stored"`
}

const quantEpsilon = 1e-9

// Matches reports whether o serves the given quantization and layout.
func (o OutputSchema) Matches(scales, offsets [3]float64, s patch.Schema) bool {
	for i := 0; i < 3; i++ {
		if !near(o.Scales[i], scales[i]) || !near(o.Offsets[i], offsets[i]) {
			return false
		}
	}
	return o.Schema.Equal(s)
}

func near(a, b float64) bool {
	return math.Abs(a-b) <= quantEpsilon*math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
}

// Entry is the catalog row of one table/column. Entries are treated as
// immutable values; updates replace the whole Entry.
type Entry struct {
	Key
	SRID               int
	SRS                string
	BBox               geom.Box
	ApproxRows         int64
	PatchSize          int
	MaxPointsPerPatch  int
	MaxPatchesPerQuery int
	Outputs            []OutputSchema
}

// Stored returns the physical output format.
func (e *Entry) Stored() (OutputSchema, error) {
	for _, o := range e.Outputs {
		if o.Stored {
			return o, nil
		}
	}
	return OutputSchema{}, fmt.Errorf("%s: no stored output schema", e.Key)
}

// Policy resolves the range policy once for the table: a max-points-per-patch
// override selects capped extraction, anything else the midoc schedule.
func (e *Entry) Policy(maxLOD int) lod.Policy {
	p := lod.Policy{Mode: lod.Midoc, PatchSize: e.PatchSize, MaxLOD: maxLOD}
	if e.MaxPointsPerPatch > 0 {
		p.Mode = lod.Capped
		p.MaxPointsPerPatch = e.MaxPointsPerPatch
	}
	return p
}

// AdaptivePolicy is the schedule used by the iTowns encoder.
func (e *Entry) AdaptivePolicy(maxLOD int) lod.Policy {
	return lod.Policy{Mode: lod.Adaptive, PatchSize: e.PatchSize, MaxLOD: maxLOD}
}

// NumPoints is an estimate: rows × mean patch size.
func (e *Entry) NumPoints() int64 { return e.ApproxRows * int64(e.PatchSize) }

// FindOutput looks up an output by quantization and layout.
func (e *Entry) FindOutput(scales, offsets [3]float64, s patch.Schema) (OutputSchema, bool) {
	for _, o := range e.Outputs {
		if o.Matches(scales, offsets, s) {
			return o, true
		}
	}
	return OutputSchema{}, false
}

// FindPCID looks up an output by format id.
func (e *Entry) FindPCID(pcid int) (OutputSchema, bool) {
	for _, o := range e.Outputs {
		if o.PCID == pcid {
			return o, true
		}
	}
	return OutputSchema{}, false
}

func (e *Entry) withOutput(o OutputSchema) *Entry {
	cp := *e
	cp.Outputs = append(append([]OutputSchema(nil), e.Outputs...), o)
	return &cp
}
