package tileset

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mohammed-shakir/pcstream/internal/cache/keys"
	"github.com/mohammed-shakir/pcstream/internal/catalog"
	"github.com/mohammed-shakir/pcstream/internal/core/observability"
	"github.com/mohammed-shakir/pcstream/internal/geom"
	"github.com/mohammed-shakir/pcstream/internal/hierarchy"
	"github.com/mohammed-shakir/pcstream/internal/patch"
	"github.com/mohammed-shakir/pcstream/internal/pgpc"
	"github.com/mohammed-shakir/pcstream/internal/wire"
)

type Service struct {
	Catalog *catalog.Catalog
	Builder *Builder
	Cache   hierarchy.ResultCache
	LODMax  int
	BaseURL string
	Morton  bool
	Logger  *slog.Logger
}

type Info struct {
	Bounds    []float64 `json:"bounds"`
	NumPoints int64     `json:"numPoints"`
	SRS       string    `json:"srs"`
}

func (s *Service) Info(ctx context.Context, k catalog.Key) (Info, error) {
	e, err := s.Catalog.Get(ctx, k.Table, k.Column)
	if err != nil {
		return Info{}, err
	}
	return Info{Bounds: e.BBox.Slice(), NumPoints: e.NumPoints(), SRS: e.SRS}, nil
}

// Tileset returns the tileset.json document for the table.
func (s *Service) Tileset(ctx context.Context, k catalog.Key) ([]byte, error) {
	e, out, err := s.Catalog.Stored(ctx, k.Table, k.Column)
	if err != nil {
		return nil, err
	}
	key := keys.Hierarchy("3dtiles", k.Table, k.Column, 0, s.LODMax, e.BBox)
	if b, ok := s.Cache.Get(ctx, key); ok {
		return b, nil
	}

	ts, err := s.Builder.Build(ctx, Params{
		Target:  s.target(e, out),
		LODMax:  s.LODMax,
		BaseURL: s.BaseURL,
	})
	if err != nil {
		return nil, err
	}
	b, err := Marshal(ts)
	if err != nil {
		return nil, err
	}
	s.Cache.Set(ctx, key, b)
	return b, nil
}

// Marshal encodes a tileset without HTML escaping so content URLs keep
// their literal '&'.
func Marshal(ts *wire.Tileset) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(ts); err != nil {
		return nil, fmt.Errorf("marshal tileset: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Read returns the pnts tile for box at level l. Positions are the stored
// integer coordinates times the scale, relative to the stored offsets.
func (s *Service) Read(ctx context.Context, k catalog.Key, box geom.Box, l int) ([]byte, error) {
	e, out, err := s.Catalog.Stored(ctx, k.Table, k.Column)
	if err != nil {
		return nil, err
	}
	blob, err := s.Builder.Exec.Patch(ctx, s.target(e, out).Query(box, l, pgpc.SelectUnion))
	if err != nil {
		return nil, err
	}
	p, err := patch.Decode(blob, out.Schema)
	if err != nil {
		return nil, err
	}
	pn, err := Points(p, out)
	if err != nil {
		return nil, err
	}
	observability.AddPointsServed("3dtiles", pn.NumPoints())
	return pn.Bytes()
}

// Points converts a decoded patch into a pnts tile.
func Points(p *patch.Patch, out catalog.OutputSchema) (wire.Pnts, error) {
	var axes [3]int
	for a, name := range []string{"X", "Y", "Z"} {
		if axes[a] = p.Schema.Index(name); axes[a] < 0 {
			return wire.Pnts{}, fmt.Errorf("pnts: schema has no %s dimension", name)
		}
	}
	pos := make([]float32, p.NumPoints*3)
	for i := 0; i < p.NumPoints; i++ {
		for a, d := range axes {
			pos[i*3+a] = float32(p.Float(i, d) * out.Scales[a])
		}
	}
	return wire.Pnts{Positions: pos, Colors: patch.Colors(p, false), RTC: out.Offsets}, nil
}

func (s *Service) target(e *catalog.Entry, out catalog.OutputSchema) hierarchy.Target {
	return hierarchy.NewTarget(e, out, s.LODMax, s.Morton)
}
