package greyhound

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mohammed-shakir/pcstream/internal/cache/keys"
	"github.com/mohammed-shakir/pcstream/internal/catalog"
	"github.com/mohammed-shakir/pcstream/internal/core/observability"
	"github.com/mohammed-shakir/pcstream/internal/geom"
	"github.com/mohammed-shakir/pcstream/internal/hierarchy"
	"github.com/mohammed-shakir/pcstream/internal/lod"
	"github.com/mohammed-shakir/pcstream/internal/patch"
	"github.com/mohammed-shakir/pcstream/internal/pgpc"
	"github.com/mohammed-shakir/pcstream/internal/wire"
)

// BaseDepth is the greyhound depth of our level 0; greyhound clients start
// counting at 8.
const BaseDepth = 8

type Service struct {
	Catalog *catalog.Catalog
	Builder *Builder
	Cache   hierarchy.ResultCache
	// Depth is the number of levels served; level Depth-1 is the deepest.
	Depth     int
	Mode      Mode
	SmallLeaf int64
	Morton    bool
	Logger    *slog.Logger
}

type Info struct {
	BaseDepth        int          `json:"baseDepth"`
	Bounds           []float64    `json:"bounds"`
	BoundsConforming []float64    `json:"boundsConforming"`
	NumPoints        int64        `json:"numPoints"`
	Schema           patch.Schema `json:"schema"`
	SRS              string       `json:"srs"`
	Type             string       `json:"type"`
}

func (s *Service) Info(ctx context.Context, k catalog.Key) (Info, error) {
	e, out, err := s.Catalog.Stored(ctx, k.Table, k.Column)
	if err != nil {
		return Info{}, err
	}
	return Info{
		BaseDepth:        0,
		Bounds:           e.BBox.Slice(),
		BoundsConforming: e.BBox.Slice(),
		NumPoints:        e.NumPoints(),
		Schema:           out.Schema,
		SRS:              e.SRS,
		Type:             "octree",
	}, nil
}

type HierarchyRequest struct {
	Bounds geom.Box
	// DepthBegin and DepthEnd are greyhound depths, DepthEnd exclusive.
	DepthBegin int
	DepthEnd   int
}

// LODRange converts greyhound depths to our inclusive level range, clamped
// to the levels served.
func (s *Service) LODRange(depthBegin, depthEnd int) (int, int) {
	lo := max(depthBegin-BaseDepth, 0)
	hi := lod.Clamp(depthEnd-BaseDepth-1, s.Depth-1)
	return lo, hi
}

// Hierarchy returns the JSON tree for the request, from cache when a tree
// for the same resource, level range and box was built before.
func (s *Service) Hierarchy(ctx context.Context, k catalog.Key, req HierarchyRequest) ([]byte, error) {
	e, out, err := s.Catalog.Stored(ctx, k.Table, k.Column)
	if err != nil {
		return nil, err
	}
	lo, hi := s.LODRange(req.DepthBegin, req.DepthEnd)
	key := keys.Hierarchy("greyhound", k.Table, k.Column, lo, hi, req.Bounds)

	if b, ok := s.Cache.Get(ctx, key); ok {
		return b, nil
	}

	root, err := s.Builder.Build(ctx, Params{
		Target:    hierarchy.NewTarget(e, out, s.Depth-1, s.Morton),
		Box:       req.Bounds,
		LODMin:    lo,
		LODMax:    hi,
		Mode:      s.Mode,
		SmallLeaf: s.SmallLeaf,
	})
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(root)
	if err != nil {
		return nil, fmt.Errorf("marshal hierarchy: %w", err)
	}
	s.Cache.Set(ctx, key, b)
	return b, nil
}

type ReadRequest struct {
	Bounds geom.Box
	// Depth, or DepthEnd when set, selects the level; both are greyhound
	// depths and DepthEnd is exclusive.
	Depth      int
	DepthBegin int
	DepthEnd   int
	Scale      *float64
	Offset     *[3]float64
	Schema     patch.Schema
	// Compress is accepted and ignored: reads are always uncompressed.
	Compress bool
}

// Level returns the octree level a read addresses.
func (r ReadRequest) Level() int {
	if r.DepthEnd > 0 {
		return r.DepthEnd - BaseDepth - 1
	}
	return r.Depth - BaseDepth
}

// Read returns raw points followed by their count. Any failure yields the
// empty payload.
func (s *Service) Read(ctx context.Context, k catalog.Key, req ReadRequest) []byte {
	b, n, err := s.read(ctx, k, req)
	if err != nil {
		s.logger().Warn("greyhound read failed", "resource", k.String(), "err", err)
		return wire.GreyhoundEmpty()
	}
	observability.AddPointsServed("greyhound", n)
	return b
}

func (s *Service) read(ctx context.Context, k catalog.Key, req ReadRequest) ([]byte, int, error) {
	e, stored, err := s.Catalog.Stored(ctx, k.Table, k.Column)
	if err != nil {
		return nil, 0, err
	}
	out := stored
	if req.Scale != nil || req.Offset != nil || req.Schema != nil {
		scales, offsets, schema := stored.Scales, stored.Offsets, stored.Schema
		if req.Scale != nil {
			scales = [3]float64{*req.Scale, *req.Scale, *req.Scale}
		}
		if req.Offset != nil {
			offsets = *req.Offset
		}
		if req.Schema != nil {
			schema = req.Schema
		}
		if out, err = s.Catalog.EnsureOutput(ctx, k.Table, k.Column, scales, offsets, schema); err != nil {
			return nil, 0, err
		}
	}

	t := hierarchy.NewTarget(e, out, s.Depth-1, s.Morton)
	blob, err := s.Builder.Exec.Patch(ctx, t.Query(req.Bounds, req.Level(), pgpc.SelectUnion))
	if err != nil {
		return nil, 0, err
	}
	p, err := patch.Decode(blob, out.Schema)
	if err != nil {
		return nil, 0, err
	}
	return wire.GreyhoundRead(p.Raw(), p.NumPoints), p.NumPoints, nil
}

func (s *Service) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}
