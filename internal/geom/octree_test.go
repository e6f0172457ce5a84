package geom

import (
	"math"
	"testing"
)

func volume(b Box) float64 {
	return (b.XMax - b.XMin) * (b.YMax - b.YMin) * (b.ZMax - b.ZMin)
}

func overlap(a, b Box) float64 {
	dx := math.Min(a.XMax, b.XMax) - math.Max(a.XMin, b.XMin)
	dy := math.Min(a.YMax, b.YMax) - math.Max(a.YMin, b.YMin)
	dz := math.Min(a.ZMax, b.ZMax) - math.Max(a.ZMin, b.ZMin)
	if dx <= 0 || dy <= 0 || dz <= 0 {
		return 0
	}
	return dx * dy * dz
}

func contains(outer, inner Box) bool {
	return inner.XMin >= outer.XMin && inner.XMax <= outer.XMax &&
		inner.YMin >= outer.YMin && inner.YMax <= outer.YMax &&
		inner.ZMin >= outer.ZMin && inner.ZMax <= outer.ZMax
}

func TestSplit_TilesParentWithoutGapOrOverlap(t *testing.T) {
	boxes := []Box{
		{0, 0, 0, 10, 10, 10},
		{-4, 2, -8, 12, 6, 0},
		{1000.5, 2000.25, 10, 1004.5, 2008.25, 12},
		{0, 0, 0, 0, 4, 8}, // flat on x
	}
	for _, b := range boxes {
		kids := Split(b)
		sum := 0.0
		for i, k := range kids {
			if err := k.Validate(); err != nil {
				t.Fatalf("child %d invalid: %v", i, err)
			}
			if !contains(b, k) {
				t.Fatalf("child %d %v escapes parent %v", i, k, b)
			}
			sum += volume(k)
			for j := i + 1; j < len(kids); j++ {
				if o := overlap(k, kids[j]); o != 0 {
					t.Fatalf("children %d and %d overlap by %v", i, j, o)
				}
			}
		}
		if math.Abs(sum-volume(b)) > 1e-9 {
			t.Fatalf("children volume=%v want %v", sum, volume(b))
		}
	}
}

func TestSplit_FixedOrder(t *testing.T) {
	b := Box{0, 0, 0, 10, 10, 10}
	kids := Split(b)
	want := map[Octant]Box{
		NWD: {0, 5, 0, 5, 10, 5},
		NWU: {0, 5, 5, 5, 10, 10},
		NED: {5, 5, 0, 10, 10, 5},
		NEU: {5, 5, 5, 10, 10, 10},
		SWD: {0, 0, 0, 5, 5, 5},
		SWU: {0, 0, 5, 5, 5, 10},
		SED: {5, 0, 0, 10, 5, 5},
		SEU: {5, 0, 5, 10, 5, 10},
	}
	for i, o := range Octants {
		if kids[i] != want[o] {
			t.Fatalf("%s: got %v want %v", o, kids[i], want[o])
		}
	}
	if Octants[0].String() != "nwd" || Octants[7].String() != "seu" {
		t.Fatalf("unexpected names %s..%s", Octants[0], Octants[7])
	}
}

func TestChildIndex_MatchesOctants(t *testing.T) {
	b := Box{0, 0, 0, 8, 8, 8}
	pairs := map[int]Octant{0: SWD, 1: SWU, 2: NWD, 3: NWU, 4: SED, 5: SEU, 6: NED, 7: NEU}
	for i, o := range pairs {
		if b.ChildIndex(i) != b.Child(o) {
			t.Fatalf("index %d: got %v want %v", i, b.ChildIndex(i), b.Child(o))
		}
	}
}

func TestDescend(t *testing.T) {
	root := Box{0, 0, 0, 8, 8, 8}
	got, err := root.Descend("70")
	if err != nil {
		t.Fatalf("descend: %v", err)
	}
	want := Box{4, 4, 4, 6, 6, 6}
	if got != want {
		t.Fatalf("got %v want %v", got, want)
	}
	if same, _ := root.Descend(""); same != root {
		t.Fatalf("empty path must return root")
	}
	if _, err := root.Descend("19"); err == nil {
		t.Fatal("expected error for digit 9")
	}
}

func TestPolygon(t *testing.T) {
	b := Box{1, 2, 3, 4, 5, 6}
	if got, want := b.Polygon(), "1 2, 4 2, 4 5, 1 5, 1 2"; got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestParseBounds(t *testing.T) {
	b, err := ParseBounds("[0, 0, 0, 10, 10, 10.5]")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if b != (Box{0, 0, 0, 10, 10, 10.5}) {
		t.Fatalf("got %v", b)
	}
	if b.BoundsParam() != "[0,0,0,10,10,10.5]" {
		t.Fatalf("round trip %q", b.BoundsParam())
	}
	if _, err := ParseBounds("[1,2,3]"); err == nil {
		t.Fatal("expected error for short bounds")
	}
	if _, err := ParseBounds("[5,0,0,1,1,1]"); err == nil {
		t.Fatal("expected error for inverted x")
	}
}

func TestTilesBox(t *testing.T) {
	b := Box{0, 0, 0, 10, 20, 30}
	got := b.TilesBox()
	want := [12]float64{5, 10, 15, 5, 0, 0, 0, 10, 0, 0, 0, 15}
	if got != want {
		t.Fatalf("got %v want %v", got, want)
	}
}
