// Package geom holds the axis-aligned bounding box used to address octree
// nodes and the deterministic 8-way split shared by every streaming protocol.
package geom

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
)

// Box is an immutable axis-aligned bounding box.
type Box struct {
	XMin, YMin, ZMin float64
	XMax, YMax, ZMax float64
}

// NewBox returns a box after checking min <= max on every axis.
func NewBox(xmin, ymin, zmin, xmax, ymax, zmax float64) (Box, error) {
	b := Box{XMin: xmin, YMin: ymin, ZMin: zmin, XMax: xmax, YMax: ymax, ZMax: zmax}
	if err := b.Validate(); err != nil {
		return Box{}, err
	}
	return b, nil
}

// BoxFromSlice builds a box from [xmin, ymin, zmin, xmax, ymax, zmax].
func BoxFromSlice(v []float64) (Box, error) {
	if len(v) != 6 {
		return Box{}, fmt.Errorf("bounds: expected 6 values, got %d", len(v))
	}
	return NewBox(v[0], v[1], v[2], v[3], v[4], v[5])
}

func (b Box) Validate() error {
	for _, f := range b.Slice() {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return errors.New("bounds: non-finite coordinate")
		}
	}
	if b.XMin > b.XMax || b.YMin > b.YMax || b.ZMin > b.ZMax {
		return fmt.Errorf("bounds: min must not exceed max (%s)", b.BoundsParam())
	}
	return nil
}

func (b Box) Slice() []float64 {
	return []float64{b.XMin, b.YMin, b.ZMin, b.XMax, b.YMax, b.ZMax}
}

func (b Box) Min() r3.Vector { return r3.Vector{X: b.XMin, Y: b.YMin, Z: b.ZMin} }
func (b Box) Max() r3.Vector { return r3.Vector{X: b.XMax, Y: b.YMax, Z: b.ZMax} }

// Size is the extent on each axis.
func (b Box) Size() r3.Vector { return b.Max().Sub(b.Min()) }

func (b Box) Center() r3.Vector { return b.Min().Add(b.Max()).Mul(0.5) }

func (b Box) HalfExtents() r3.Vector { return b.Size().Mul(0.5) }

// Diagonal is the length of the main diagonal.
func (b Box) Diagonal() float64 { return b.Size().Norm() }

// TilesBox is the 3D Tiles oriented bounding box: centre followed by the
// three half-axis vectors.
func (b Box) TilesBox() [12]float64 {
	c, h := b.Center(), b.HalfExtents()
	return [12]float64{
		c.X, c.Y, c.Z,
		h.X, 0, 0,
		0, h.Y, 0,
		0, 0, h.Z,
	}
}

// Polygon returns the closed 2D ring of the box footprint, ready to be
// wrapped in a WKT POLYGON.
func (b Box) Polygon() string {
	f := formatFloat
	return fmt.Sprintf("%s %s, %s %s, %s %s, %s %s, %s %s",
		f(b.XMin), f(b.YMin),
		f(b.XMax), f(b.YMin),
		f(b.XMax), f(b.YMax),
		f(b.XMin), f(b.YMax),
		f(b.XMin), f(b.YMin))
}

// BoundsParam renders the box the way clients send it back: [a,b,c,d,e,f].
func (b Box) BoundsParam() string {
	parts := make([]string, 0, 6)
	for _, v := range b.Slice() {
		parts = append(parts, formatFloat(v))
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func (b Box) String() string { return b.BoundsParam() }

// ParseBounds parses "[xmin,ymin,zmin,xmax,ymax,zmax]"; brackets are optional.
func ParseBounds(s string) (Box, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	if s == "" {
		return Box{}, errors.New("bounds: empty")
	}
	parts := strings.Split(s, ",")
	vals := make([]float64, 0, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return Box{}, fmt.Errorf("bounds[%d]: %w", i, err)
		}
		vals = append(vals, f)
	}
	return BoxFromSlice(vals)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
