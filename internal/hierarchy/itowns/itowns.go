// Package itowns serves the iTowns point cloud format: .cin point tiles
// and .hrc hierarchy descriptors addressed by an octree path.
package itowns

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/mohammed-shakir/pcstream/internal/cache/keys"
	"github.com/mohammed-shakir/pcstream/internal/catalog"
	"github.com/mohammed-shakir/pcstream/internal/core/observability"
	"github.com/mohammed-shakir/pcstream/internal/geom"
	"github.com/mohammed-shakir/pcstream/internal/hierarchy"
	"github.com/mohammed-shakir/pcstream/internal/patch"
	"github.com/mohammed-shakir/pcstream/internal/pgpc"
	"github.com/mohammed-shakir/pcstream/internal/wire"
)

const (
	DefaultLODMax    = 10
	DefaultHRCDepth  = 2
	DefaultSmallLeaf = 10000
)

// ErrBadPath is returned for node names that are not an octree path.
var ErrBadPath = errors.New("itowns: invalid node path")

type Service struct {
	Catalog *catalog.Catalog
	Exec    pgpc.Executor
	// Pool, when set, runs the 8 child counts of a node concurrently.
	Pool  *pgpc.Pool
	Cache hierarchy.ResultCache
	// LODMax clamps the range schedule.
	LODMax int
	// HRCDepth is how many levels below the requested node a descriptor
	// describes.
	HRCDepth int
	// SmallLeaf folds a node's children into it when their estimated
	// point total is below it; 0 disables folding.
	SmallLeaf int64
	// Shuffle randomizes point order inside a tile.
	Shuffle bool
	Logger  *slog.Logger
}

// ParsePath strips the "r" root prefix of a node name and checks the rest
// is made of child digits.
func ParsePath(name string) (string, error) {
	p := strings.TrimPrefix(name, "r")
	for i, r := range p {
		if r < '0' || r > '7' {
			return "", fmt.Errorf("%w: %q (position %d)", ErrBadPath, name, i)
		}
	}
	return p, nil
}

type node struct {
	entry *catalog.Entry
	out   catalog.OutputSchema
	path  string
	box   geom.Box
}

func (s *Service) resolve(ctx context.Context, k catalog.Key, name string) (node, error) {
	path, err := ParsePath(name)
	if err != nil {
		return node{}, err
	}
	e, out, err := s.Catalog.Stored(ctx, k.Table, k.Column)
	if err != nil {
		return node{}, err
	}
	box, err := e.BBox.Descend(path)
	if err != nil {
		return node{}, fmt.Errorf("%w: %v", ErrBadPath, err)
	}
	return node{entry: e, out: out, path: path, box: box}, nil
}

func (s *Service) target(n node) hierarchy.Target {
	t := hierarchy.NewTarget(n.entry, n.out, s.LODMax, false)
	t.Policy = n.entry.AdaptivePolicy(s.LODMax)
	t.Order = pgpc.OrderRandom
	return t
}

// Read returns the .cin tile of the named node. A leaf read takes every
// point left in each patch and lifts the patch limit.
func (s *Service) Read(ctx context.Context, k catalog.Key, name string, isLeaf bool) ([]byte, error) {
	n, err := s.resolve(ctx, k, name)
	if err != nil {
		return nil, err
	}
	t := s.target(n)
	l := len(n.path)
	r, limit := t.Policy.Range(l), t.Limit
	if isLeaf {
		r, limit = t.Policy.LeafRange(l), 0
	}

	blob, err := s.Exec.Patch(ctx, t.QueryRange(n.box, r, limit, pgpc.SelectUnion))
	if err != nil {
		return nil, err
	}
	p, err := patch.Decode(blob, n.out.Schema)
	if err != nil {
		return nil, err
	}
	if s.Shuffle {
		p.Shuffle(nil)
	}
	c, err := Tile(p, n.out, n.box)
	if err != nil {
		return nil, err
	}
	observability.AddPointsServed("itowns", p.NumPoints)
	return c.Bytes()
}

// Tile converts a decoded patch into node-local coordinates.
func Tile(p *patch.Patch, out catalog.OutputSchema, box geom.Box) (wire.Cin, error) {
	var axes [3]int
	for a, name := range []string{"X", "Y", "Z"} {
		if axes[a] = p.Schema.Index(name); axes[a] < 0 {
			return wire.Cin{}, fmt.Errorf("cin: schema has no %s dimension", name)
		}
	}
	mins := [3]float64{box.XMin, box.YMin, box.ZMin}
	pos := make([]float32, p.NumPoints*3)
	for i := 0; i < p.NumPoints; i++ {
		for a, d := range axes {
			pos[i*3+a] = float32(p.Float(i, d)*out.Scales[a] + out.Offsets[a] - mins[a])
		}
	}
	size := box.Size()
	return wire.Cin{
		Size:      [3]float32{float32(size.X), float32(size.Y), float32(size.Z)},
		Positions: pos,
		Colors:    patch.Colors(p, true),
	}, nil
}

// Hierarchy returns the .hrc descriptor of the named node and up to
// HRCDepth levels below it.
func (s *Service) Hierarchy(ctx context.Context, k catalog.Key, name string) ([]byte, error) {
	start := time.Now()
	n, err := s.resolve(ctx, k, name)
	if err != nil {
		return nil, err
	}
	l := len(n.path)
	key := keys.Hierarchy("itowns", k.Table, k.Column, l, l+s.HRCDepth, n.box)
	if b, ok := s.Cache.Get(ctx, key); ok {
		return b, nil
	}

	t := s.target(n)
	count, err := s.Exec.Count(ctx, t.Query(n.box, l, pgpc.SelectCount))
	if err != nil {
		return nil, fmt.Errorf("count %s: %w", name, err)
	}
	w := walker{
		s:    s,
		t:    t,
		c:    hierarchy.Counter{Exec: s.Exec, Pool: s.Pool, Logger: s.Logger},
		recs: map[string]wire.HrcRecord{},
	}
	w.walk(ctx, 0, n.box, l, count, "")

	names := make([]string, 0, len(w.recs))
	for nm := range w.recs {
		names = append(names, nm)
	}
	sort.Slice(names, func(i, j int) bool {
		if len(names[i]) != len(names[j]) {
			return len(names[i]) < len(names[j])
		}
		return names[i] < names[j]
	})
	recs := make([]wire.HrcRecord, len(names))
	for i, nm := range names {
		recs[i] = w.recs[nm]
	}

	observability.AddNodesBuilt("itowns", len(recs))
	s.logger().Debug("itowns hierarchy built",
		"resource", k.String(), "node", "r"+n.path,
		"records", len(recs), "duration", time.Since(start).String())

	b := wire.Hrc(recs)
	s.Cache.Set(ctx, key, b)
	return b, nil
}

type walker struct {
	s    *Service
	t    hierarchy.Target
	c    hierarchy.Counter
	recs map[string]wire.HrcRecord
}

func (w *walker) walk(ctx context.Context, depth int, box geom.Box, l int, count int64, name string) {
	boxes := make([]geom.Box, 8)
	qs := make([]pgpc.Query, 8)
	for c := range boxes {
		boxes[c] = box.ChildIndex(c)
		qs[c] = w.t.Query(boxes[c], l+1, pgpc.SelectCount)
	}
	counts := w.c.CountAll(ctx, qs)

	var present [8]bool
	if total := hierarchy.Sum(counts); w.s.SmallLeaf > 0 && w.estimate(l+1, counts) < float64(w.s.SmallLeaf) {
		count += total
	} else {
		for c, cp := range counts {
			if cp <= 0 {
				continue
			}
			present[c] = true
			if depth < w.s.HRCDepth {
				w.walk(ctx, depth+1, boxes[c], l+1, cp, name+string(rune('0'+c)))
			}
		}
	}
	w.recs[name] = wire.HrcRecord{Mask: wire.ChildMask(present), Count: clampU32(count)}
}

// estimate extrapolates the points below level l from the sampled counts:
// each count covers one budget's worth of a patch, and the rest of the
// patch from l's offset on is still to come.
func (w *walker) estimate(l int, counts []int64) float64 {
	r := w.t.Policy.Range(l)
	if r.Count <= 0 {
		return 0
	}
	left := float64(w.t.Policy.PatchSize - r.Begin)
	var sum float64
	for _, cp := range counts {
		sum += left * float64(cp) / float64(r.Count)
	}
	return sum
}

func clampU32(n int64) uint32 {
	if n < 0 {
		return 0
	}
	if n > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(n)
}

func (s *Service) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}
