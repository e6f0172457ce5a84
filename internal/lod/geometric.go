package lod

// Geometric error schedule for tiled manifests. The tileset advertises the
// bounding-box diagonal, the root node a twentieth of it, the first level of
// children a fortieth, and every further level half of its parent.

const (
	rootErrorDivisor  = 20
	childErrorDivisor = 40
)

// TilesetError is the error declared at the top of a manifest.
func TilesetError(diagonal float64) float64 { return diagonal }

func RootError(diagonal float64) float64 { return diagonal / rootErrorDivisor }

// NodeError is the error of a node at depth >= 1 (the root is depth 0).
func NodeError(diagonal float64, depth int) float64 {
	if depth <= 0 {
		return RootError(diagonal)
	}
	e := diagonal / childErrorDivisor
	for i := 1; i < depth; i++ {
		e /= 2
	}
	return e
}
