// Package hierarchy holds what the three octree walkers share: resolving a
// table into a query target and counting points per node.
package hierarchy

import (
	"context"
	"log/slog"

	"github.com/mohammed-shakir/pcstream/internal/catalog"
	"github.com/mohammed-shakir/pcstream/internal/geom"
	"github.com/mohammed-shakir/pcstream/internal/lod"
	"github.com/mohammed-shakir/pcstream/internal/pgpc"
)

// Target is everything needed to query one table at a given depth. It is
// resolved once per request from the catalog entry.
type Target struct {
	Entry  *catalog.Entry
	Output catalog.OutputSchema
	Policy lod.Policy
	Order  pgpc.Order
	// Limit caps patches per query; 0 means unlimited.
	Limit int
}

// NewTarget resolves the table's range policy and ordering.
func NewTarget(e *catalog.Entry, out catalog.OutputSchema, maxLOD int, morton bool) Target {
	t := Target{
		Entry:  e,
		Output: out,
		Policy: e.Policy(maxLOD),
		Limit:  e.MaxPatchesPerQuery,
	}
	if morton {
		t.Order = pgpc.OrderMorton
	}
	return t
}

// Query builds the node query for box at level l.
func (t Target) Query(box geom.Box, l int, sel pgpc.Select) pgpc.Query {
	return t.QueryRange(box, t.Policy.Range(l), t.Limit, sel)
}

// QueryRange builds a node query with an explicit range and limit.
func (t Target) QueryRange(box geom.Box, r lod.Range, limit int, sel pgpc.Select) pgpc.Query {
	pcid := 0
	if !t.Output.Stored {
		pcid = t.Output.PCID
	}
	return pgpc.Build(pgpc.Request{
		Table:  t.Entry.Table,
		Column: t.Entry.Column,
		SRID:   t.Entry.SRID,
		Box:    box,
		PCID:   pcid,
		Range:  r,
		Limit:  limit,
		Order:  t.Order,
		Select: sel,
	})
}

// Counter counts points per node. With a Pool the counts of one call to
// CountAll run concurrently; without one they run in order.
type Counter struct {
	Exec   pgpc.Executor
	Pool   *pgpc.Pool
	Logger *slog.Logger
}

// Count runs q. A failed query counts as zero points.
func (c Counter) Count(ctx context.Context, q pgpc.Query) int64 {
	n, err := c.Exec.Count(ctx, q)
	if err != nil {
		c.logger().Debug("node query failed, counting as empty", "query", q.String(), "err", err)
		return 0
	}
	return n
}

// CountAll runs every query and returns counts in the same order.
func (c Counter) CountAll(ctx context.Context, qs []pgpc.Query) []int64 {
	out := make([]int64, len(qs))
	if c.Pool == nil {
		for i, q := range qs {
			out[i] = c.Count(ctx, q)
		}
		return out
	}
	fns := make([]func(context.Context) error, len(qs))
	for i, q := range qs {
		fns[i] = func(ctx context.Context) error {
			out[i] = c.Count(ctx, q)
			return nil
		}
	}
	// tasks never fail; a cancelled acquire leaves the slot at zero
	_ = c.Pool.Go(ctx, fns...)
	return out
}

func (c Counter) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

// Sum adds counts.
func Sum(ns []int64) int64 {
	var s int64
	for _, n := range ns {
		s += n
	}
	return s
}
