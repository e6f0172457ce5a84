package geom

import "fmt"

// Octant names a child of a box: north/south (y), east/west (x), up/down (z).
type Octant int

const (
	NWD Octant = iota
	NWU
	NED
	NEU
	SWD
	SWU
	SED
	SEU
)

// Octants lists all children in split order.
var Octants = [8]Octant{NWD, NWU, NED, NEU, SWD, SWU, SED, SEU}

var octantNames = [8]string{"nwd", "nwu", "ned", "neu", "swd", "swu", "sed", "seu"}

func (o Octant) String() string {
	if o < 0 || int(o) >= len(octantNames) {
		return fmt.Sprintf("octant(%d)", int(o))
	}
	return octantNames[o]
}

// ParseOctant maps a name such as "swu" back to its Octant.
func ParseOctant(name string) (Octant, bool) {
	for i, n := range octantNames {
		if n == name {
			return Octant(i), true
		}
	}
	return 0, false
}

func (o Octant) north() bool { return o == NWD || o == NWU || o == NED || o == NEU }
func (o Octant) east() bool  { return o == NED || o == NEU || o == SED || o == SEU }
func (o Octant) up() bool    { return o == NWU || o == NEU || o == SWU || o == SEU }

// Child returns the octant of b. Bisection happens at the midpoint of each
// axis; the upper child reuses the parent's max so children tile b exactly.
func (b Box) Child(o Octant) Box {
	return b.half(o.east(), o.north(), o.up())
}

// Split returns the 8 children of b in Octants order.
func Split(b Box) [8]Box {
	var out [8]Box
	for i, o := range Octants {
		out[i] = b.Child(o)
	}
	return out
}

// ChildIndex addresses children by a 3-bit index: bit 2 selects the upper x
// half, bit 1 the upper y half and bit 0 the upper z half.
func (b Box) ChildIndex(i int) Box {
	return b.half(i&4 != 0, i&2 != 0, i&1 != 0)
}

// Descend follows a path of child index digits ('0'..'7') from b.
func (b Box) Descend(path string) (Box, error) {
	cur := b
	for i, r := range path {
		if r < '0' || r > '7' {
			return Box{}, fmt.Errorf("octree path %q: invalid digit at %d", path, i)
		}
		cur = cur.ChildIndex(int(r - '0'))
	}
	return cur, nil
}

func (b Box) half(upperX, upperY, upperZ bool) Box {
	mx := b.XMin + (b.XMax-b.XMin)/2
	my := b.YMin + (b.YMax-b.YMin)/2
	mz := b.ZMin + (b.ZMax-b.ZMin)/2

	c := Box{XMin: b.XMin, XMax: mx, YMin: b.YMin, YMax: my, ZMin: b.ZMin, ZMax: mz}
	if upperX {
		c.XMin, c.XMax = mx, b.XMax
	}
	if upperY {
		c.YMin, c.YMax = my, b.YMax
	}
	if upperZ {
		c.ZMin, c.ZMax = mz, b.ZMax
	}
	return c
}
