// Package pgpc builds and runs pgpointcloud queries.
//
// Query construction is pure: Build turns a Request into a Query value that
// can be asserted on directly, and only Executor implementations touch the
// database.
package pgpc

import (
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/mohammed-shakir/pcstream/internal/geom"
	"github.com/mohammed-shakir/pcstream/internal/lod"
)

// Order is the order patches are visited in before the limit applies.
type Order int

const (
	OrderNone Order = iota
	OrderMorton
	OrderRandom
)

func (o Order) String() string {
	switch o {
	case OrderMorton:
		return "morton"
	case OrderRandom:
		return "random"
	default:
		return "none"
	}
}

// Select picks what the query returns.
type Select int

const (
	// SelectUnion returns every matching point merged into one patch.
	SelectUnion Select = iota
	// SelectCount returns the number of matching points.
	SelectCount
)

type Request struct {
	// Table is "schema.table" or "table".
	Table  string
	Column string
	SRID   int
	Box    geom.Box
	// PCID is the output format; 0 keeps the stored format.
	PCID   int
	Range  lod.Range
	Limit  int
	Order  Order
	Select Select
}

// Query is a fully resolved database request.
type Query struct {
	Table   string
	Column  string
	SRID    int
	Box     geom.Box
	Polygon string
	ZMin    float64
	ZMax    float64
	PCID    int
	// Start is one-based, as pc_range expects.
	Start  int
	Count  int
	Limit  int
	Order  Order
	Select Select
}

// Build resolves r. A zero-based range [b, b+n) becomes pc_range start b+1
// with n points.
func Build(r Request) Query {
	return Query{
		Table:   r.Table,
		Column:  r.Column,
		SRID:    r.SRID,
		Box:     r.Box,
		Polygon: r.Box.Polygon(),
		ZMin:    r.Box.ZMin,
		ZMax:    r.Box.ZMax,
		PCID:    r.PCID,
		Start:   r.Range.Begin + 1,
		Count:   r.Range.Count,
		Limit:   r.Limit,
		Order:   r.Order,
		Select:  r.Select,
	}
}

// Range returns the zero-based range the query extracts.
func (q Query) Range() lod.Range { return lod.Range{Begin: q.Start - 1, Count: q.Count} }

// Kind labels the query for metrics and logs.
func (q Query) Kind() string {
	if q.Select == SelectCount {
		return "count"
	}
	return "patch"
}

// SQL renders the statement and its positional arguments. Identifiers are
// quoted; every value travels as a parameter.
func (q Query) SQL() (string, []any) {
	col := pq.QuoteIdentifier(q.Column)
	args := []any{
		"polygon((" + q.Polygon + "))",
		q.SRID,
		q.Start,
		q.Count,
		q.ZMin,
		q.ZMax,
	}

	var b strings.Builder
	b.WriteString("select ")
	switch q.Select {
	case SelectCount:
		b.WriteString("sum(pc_numpoints(points))")
	default:
		if q.PCID > 0 {
			args = append(args, q.PCID)
			fmt.Fprintf(&b, "pc_uncompress(pc_transform(pc_union(points), $%d))", len(args))
		} else {
			b.WriteString("pc_uncompress(pc_union(points))")
		}
	}
	fmt.Fprintf(&b, " from (select pc_filterbetween(pc_range(%s, $3, $4), 'Z', $5, $6) as points", col)
	fmt.Fprintf(&b, " from %s where pc_intersects(%s, st_geomfromtext($1, $2))", quoteTable(q.Table), col)
	switch q.Order {
	case OrderMorton:
		b.WriteString(" order by morton")
	case OrderRandom:
		b.WriteString(" order by random()")
	}
	if q.Limit > 0 {
		args = append(args, q.Limit)
		fmt.Fprintf(&b, " limit $%d", len(args))
	}
	b.WriteString(") _")
	return b.String(), args
}

func (q Query) String() string {
	return fmt.Sprintf("%s %s.%s poly=(%s) z=[%g,%g] pcid=%d start=%d count=%d limit=%d order=%s",
		q.Kind(), q.Table, q.Column, q.Polygon, q.ZMin, q.ZMax, q.PCID, q.Start, q.Count, q.Limit, q.Order)
}

func quoteTable(t string) string {
	parts := strings.Split(t, ".")
	for i, p := range parts {
		parts[i] = pq.QuoteIdentifier(p)
	}
	return strings.Join(parts, ".")
}
