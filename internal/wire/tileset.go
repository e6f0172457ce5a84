package wire

// Tileset is a 3D Tiles manifest.
type Tileset struct {
	Asset          Asset   `json:"asset"`
	GeometricError float64 `json:"geometricError"`
	Root           *Tile   `json:"root"`
}

type Asset struct {
	Version string `json:"version"`
}

type Tile struct {
	Refine         string         `json:"refine,omitempty"`
	BoundingVolume BoundingVolume `json:"boundingVolume"`
	GeometricError float64        `json:"geometricError"`
	Content        *Content       `json:"content,omitempty"`
	Children       []*Tile        `json:"children,omitempty"`
}

type BoundingVolume struct {
	Box [12]float64 `json:"box"`
}

type Content struct {
	URL string `json:"url"`
}

// Count returns the number of tiles under and including t.
func (t *Tile) Count() int {
	if t == nil {
		return 0
	}
	n := 1
	for _, c := range t.Children {
		n += c.Count()
	}
	return n
}
