package pgpctest

import (
	"github.com/mohammed-shakir/pcstream/internal/geom"
	"github.com/mohammed-shakir/pcstream/internal/patch"
	"github.com/mohammed-shakir/pcstream/internal/pgpc"
)

// Cloud answers queries from a fixed list of points, treated as one patch.
// X, Y and Z are the first three schema dimensions and are compared to the
// query box as is (scale 1, offset 0).
type Cloud struct {
	Schema patch.Schema
	Points []patch.Record
	// ApplyRange slices the matching points by the query range, as
	// pc_range does on a single patch.
	ApplyRange bool
}

func (c Cloud) match(q pgpc.Query) []patch.Record {
	var out []patch.Record
	for _, p := range c.Points {
		if inside(q.Box, p) {
			out = append(out, p)
		}
	}
	if !c.ApplyRange {
		return out
	}
	r := q.Range()
	if r.Begin >= len(out) {
		return nil
	}
	return out[r.Begin:min(len(out), r.End())]
}

func (c Cloud) Count(q pgpc.Query) (int64, error) {
	return int64(len(c.match(q))), nil
}

// Patch returns nil when nothing matches, like the database does.
func (c Cloud) Patch(q pgpc.Query) ([]byte, error) {
	m := c.match(q)
	if len(m) == 0 {
		return nil, nil
	}
	return patch.Encode(uint32(max(q.PCID, 1)), c.Schema, m)
}

// inside is half-open on the max side.
func inside(b geom.Box, p patch.Record) bool {
	return p[0] >= b.XMin && p[0] < b.XMax &&
		p[1] >= b.YMin && p[1] < b.YMax &&
		p[2] >= b.ZMin && p[2] < b.ZMax
}
