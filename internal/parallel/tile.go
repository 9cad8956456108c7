package parallel

// Tile size in pixels. A 64x64 RGBA8 tile is 16KB and fits L1 cache.
const (
	TileWidth  = 64
	TileHeight = 64
)

// Rect is a half-open pixel rectangle [X0, X1) x [Y0, Y1).
type Rect struct {
	X0, Y0, X1, Y1 int
}

// Empty reports whether r contains no pixels.
func (r Rect) Empty() bool {
	return r.X0 >= r.X1 || r.Y0 >= r.Y1
}

// Intersect returns the intersection of r and s.
func (r Rect) Intersect(s Rect) Rect {
	out := Rect{
		X0: max(r.X0, s.X0),
		Y0: max(r.Y0, s.Y0),
		X1: min(r.X1, s.X1),
		Y1: min(r.Y1, s.Y1),
	}
	if out.Empty() {
		return Rect{}
	}
	return out
}

// Tiles splits r into tiles aligned to the TileWidth x TileHeight grid.
// Edge tiles are clipped to r.
func Tiles(r Rect) []Rect {
	if r.Empty() {
		return nil
	}

	startX := r.X0 - r.X0%TileWidth
	startY := r.Y0 - r.Y0%TileHeight

	var tiles []Rect
	for y := startY; y < r.Y1; y += TileHeight {
		for x := startX; x < r.X1; x += TileWidth {
			t := r.Intersect(Rect{X0: x, Y0: y, X1: x + TileWidth, Y1: y + TileHeight})
			if !t.Empty() {
				tiles = append(tiles, t)
			}
		}
	}
	return tiles
}
