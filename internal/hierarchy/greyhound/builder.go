// Package greyhound serves the greyhound streaming protocol: a JSON octree
// of per-node point counts plus raw point reads.
package greyhound

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mohammed-shakir/pcstream/internal/core/observability"
	"github.com/mohammed-shakir/pcstream/internal/geom"
	"github.com/mohammed-shakir/pcstream/internal/hierarchy"
	"github.com/mohammed-shakir/pcstream/internal/pgpc"
	"github.com/mohammed-shakir/pcstream/internal/wire"
)

// Mode selects how the 8 child counts of a node are queried.
type Mode int

const (
	// Sequential keeps one query in flight.
	Sequential Mode = iota
	// Parallel fans the 8 child queries of each node out to the pool.
	Parallel
)

type Params struct {
	Target hierarchy.Target
	Box    geom.Box
	LODMin int
	LODMax int
	Mode   Mode
	// SmallLeaf turns a node into a leaf when its children hold fewer
	// points than this in total; 0 disables it.
	SmallLeaf int64
}

type Builder struct {
	Exec   pgpc.Executor
	Pool   *pgpc.Pool
	Logger *slog.Logger
}

// Build walks the octree from p.Box at p.LODMin. Only a failure to count
// the root is returned; failed child queries prune that child.
func (b *Builder) Build(ctx context.Context, p Params) (*wire.Node, error) {
	start := time.Now()
	c := hierarchy.Counter{Exec: b.Exec, Logger: b.Logger}
	if p.Mode == Parallel {
		c.Pool = b.Pool
	}

	n, err := b.Exec.Count(ctx, p.Target.Query(p.Box, p.LODMin, pgpc.SelectCount))
	if err != nil {
		return nil, fmt.Errorf("count root: %w", err)
	}
	root := b.node(ctx, c, p, p.Box, p.LODMin, n)

	nodes := root.Count()
	observability.AddNodesBuilt("greyhound", nodes)
	b.logger().Debug("greyhound hierarchy built",
		"resource", p.Target.Entry.Key.String(),
		"lod_min", p.LODMin, "lod_max", p.LODMax,
		"nodes", nodes, "duration", time.Since(start).String())
	return root, nil
}

func (b *Builder) node(ctx context.Context, c hierarchy.Counter, p Params, box geom.Box, l int, n int64) *wire.Node {
	nd := &wire.Node{N: n}
	if l+1 > p.LODMax {
		return nd
	}

	boxes := geom.Split(box)
	qs := make([]pgpc.Query, len(boxes))
	for i, cb := range boxes {
		qs[i] = p.Target.Query(cb, l+1, pgpc.SelectCount)
	}
	counts := c.CountAll(ctx, qs)

	if total := hierarchy.Sum(counts); p.SmallLeaf > 0 && total < p.SmallLeaf {
		nd.N += total
		return nd
	}
	for i, o := range geom.Octants {
		if counts[i] > 0 {
			nd.Children[o] = b.node(ctx, c, p, boxes[i], l+1, counts[i])
		}
	}
	return nd
}

func (b *Builder) logger() *slog.Logger {
	if b.Logger == nil {
		return slog.Default()
	}
	return b.Logger
}
