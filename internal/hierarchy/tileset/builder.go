// Package tileset builds 3D Tiles manifests over a point cloud table and
// serves the pnts tiles they point to.
package tileset

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mohammed-shakir/pcstream/internal/core/observability"
	"github.com/mohammed-shakir/pcstream/internal/geom"
	"github.com/mohammed-shakir/pcstream/internal/hierarchy"
	"github.com/mohammed-shakir/pcstream/internal/lod"
	"github.com/mohammed-shakir/pcstream/internal/pgpc"
	"github.com/mohammed-shakir/pcstream/internal/wire"
)

const assetVersion = "0.0"

type Params struct {
	Target hierarchy.Target
	// LODMax is the deepest level emitted.
	LODMax int
	// BaseURL prefixes tile content URLs, e.g. http://host:8080.
	BaseURL string
}

type Builder struct {
	Exec   pgpc.Executor
	Pool   *pgpc.Pool
	Logger *slog.Logger
}

// Build walks the table's bounding box. The root is always emitted; below
// it a tile exists only where its level holds points.
func (b *Builder) Build(ctx context.Context, p Params) (*wire.Tileset, error) {
	start := time.Now()
	box := p.Target.Entry.BBox
	diag := box.Diagonal()
	c := hierarchy.Counter{Exec: b.Exec, Pool: b.Pool, Logger: b.Logger}

	if _, err := b.Exec.Count(ctx, p.Target.Query(box, 0, pgpc.SelectCount)); err != nil {
		return nil, fmt.Errorf("count root: %w", err)
	}
	root := &wire.Tile{
		Refine:         "add",
		BoundingVolume: wire.BoundingVolume{Box: box.TilesBox()},
		GeometricError: lod.RootError(diag),
		Content:        &wire.Content{URL: contentURL(p, box, 0)},
		Children:       b.children(ctx, c, p, box, 1, diag),
	}

	nodes := root.Count()
	observability.AddNodesBuilt("3dtiles", nodes)
	b.logger().Debug("tileset built",
		"resource", p.Target.Entry.Key.String(),
		"lod_max", p.LODMax, "tiles", nodes, "duration", time.Since(start).String())

	return &wire.Tileset{
		Asset:          wire.Asset{Version: assetVersion},
		GeometricError: lod.TilesetError(diag),
		Root:           root,
	}, nil
}

func (b *Builder) children(ctx context.Context, c hierarchy.Counter, p Params, box geom.Box, l int, diag float64) []*wire.Tile {
	if l > p.LODMax {
		return nil
	}
	boxes := geom.Split(box)
	qs := make([]pgpc.Query, len(boxes))
	for i, cb := range boxes {
		qs[i] = p.Target.Query(cb, l, pgpc.SelectCount)
	}
	counts := c.CountAll(ctx, qs)

	var out []*wire.Tile
	for i, cb := range boxes {
		if counts[i] <= 0 {
			continue
		}
		out = append(out, &wire.Tile{
			BoundingVolume: wire.BoundingVolume{Box: cb.TilesBox()},
			GeometricError: lod.NodeError(diag, l),
			Content:        &wire.Content{URL: contentURL(p, cb, l)},
			Children:       b.children(ctx, c, p, cb, l+1, diag),
		})
	}
	return out
}

func contentURL(p Params, box geom.Box, l int) string {
	return fmt.Sprintf("%s/3dtiles/%s/read.pnts?lod=%d&bounds=%s",
		p.BaseURL, p.Target.Entry.Key.String(), l, box.BoundsParam())
}

func (b *Builder) logger() *slog.Logger {
	if b.Logger == nil {
		return slog.Default()
	}
	return b.Logger
}
