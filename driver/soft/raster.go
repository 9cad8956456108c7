package soft

import (
	"encoding/binary"
	"math"

	"github.com/gogpu/gpuflow/driver"
	"github.com/gogpu/gpuflow/internal/parallel"
)

// vertex is a vertex after the viewport transform.
type vertex struct {
	x, y, z float32
	invW    float32
	vary    [MaxVaryings][4]float32
}

type triangle struct {
	v    [3]vertex
	area float32
	bbox parallel.Rect
}

func (d *Device) draw(c *driver.Draw) error {
	p := c.Pipeline.(*pipeline)
	target := c.Target.(*image)
	res := newResources(c.Resources)

	if p.attachment.Load == driver.LoadOpClear {
		target.fill(c.ClearColor)
	}

	outs := make([]VertexOutput, c.VertexCount)
	var verts *buffer
	if c.Vertices != nil {
		verts = c.Vertices.(*buffer)
	}
	err := d.pool.ForEach(len(outs), func(i int) {
		in := VertexInput{Resources: res, VertexIndex: c.FirstVertex + uint32(i)}
		fetchAttributes(&in, verts, p.layout)
		outs[i] = p.vertex(&in)
	})
	if err != nil {
		return err
	}

	vp := p.viewport
	clip := parallel.Rect{
		X0: int(math.Floor(float64(vp.X))),
		Y0: int(math.Floor(float64(vp.Y))),
		X1: int(math.Ceil(float64(vp.X + vp.Width))),
		Y1: int(math.Ceil(float64(vp.Y + vp.Height))),
	}.Intersect(parallel.Rect{X1: int(target.width), Y1: int(target.height)})

	var tris []triangle
	for i := 0; i+2 < len(outs); i += 3 {
		if t, ok := setupTriangle(outs[i:i+3], vp, clip); ok {
			tris = append(tris, t)
		}
	}

	d.log.Debug("soft: draw", "pipeline", p.label, "vertices", c.VertexCount, "triangles", len(tris))
	if len(tris) == 0 {
		return nil
	}

	// Tiles are disjoint, and inside a tile triangles are shaded in
	// submission order, so output does not depend on scheduling.
	tiles := parallel.Tiles(clip)
	return d.pool.ForEach(len(tiles), func(i int) {
		tile := tiles[i]
		for ti := range tris {
			shadeTriangle(&tris[ti], tile, p.fragment, res, target)
		}
	})
}

func fetchAttributes(in *VertexInput, verts *buffer, layout driver.VertexLayout) {
	for loc := range in.attrs {
		in.attrs[loc] = [4]float32{0, 0, 0, 1}
	}
	if verts == nil {
		return
	}
	base := uint64(in.VertexIndex) * uint64(layout.Stride)
	for _, a := range layout.Attributes {
		off := base + uint64(a.Offset)
		if off+uint64(a.Format.Size()) > uint64(len(verts.data)) {
			continue
		}
		v := &in.attrs[a.Location]
		for k := range a.Format.Components() {
			bits := binary.LittleEndian.Uint32(verts.data[off+uint64(k)*4:])
			if a.Format == driver.VertexUint32 {
				v[k] = float32(bits)
			} else {
				v[k] = math.Float32frombits(bits)
			}
		}
	}
}

// setupTriangle projects three clip-space vertices into window space.
// Triangles touching or crossing the w <= 0 plane are dropped.
func setupTriangle(outs []VertexOutput, vp driver.Viewport, clip parallel.Rect) (triangle, bool) {
	var t triangle
	for i, o := range outs {
		w := o.Position[3]
		if !(w > 0) {
			return t, false
		}
		inv := 1 / w
		nx, ny, nz := o.Position[0]*inv, o.Position[1]*inv, o.Position[2]*inv
		t.v[i] = vertex{
			x:    vp.X + (nx+1)*0.5*vp.Width,
			y:    vp.Y + (ny+1)*0.5*vp.Height,
			z:    vp.MinDepth + nz*(vp.MaxDepth-vp.MinDepth),
			invW: inv,
			vary: o.Varyings,
		}
	}

	t.area = edge(t.v[0], t.v[1], t.v[2].x, t.v[2].y)
	if t.area == 0 || math.IsNaN(float64(t.area)) {
		return t, false
	}
	if t.area < 0 {
		t.v[1], t.v[2] = t.v[2], t.v[1]
		t.area = -t.area
	}

	minX := min(t.v[0].x, t.v[1].x, t.v[2].x)
	minY := min(t.v[0].y, t.v[1].y, t.v[2].y)
	maxX := max(t.v[0].x, t.v[1].x, t.v[2].x)
	maxY := max(t.v[0].y, t.v[1].y, t.v[2].y)
	t.bbox = parallel.Rect{
		X0: int(math.Floor(float64(minX))),
		Y0: int(math.Floor(float64(minY))),
		X1: int(math.Ceil(float64(maxX))) + 1,
		Y1: int(math.Ceil(float64(maxY))) + 1,
	}.Intersect(clip)
	return t, !t.bbox.Empty()
}

func edge(a, b vertex, px, py float32) float32 {
	return (px-a.x)*(b.y-a.y) - (py-a.y)*(b.x-a.x)
}

// owns breaks ties for pixels exactly on an edge so that two triangles
// sharing the edge never both cover the pixel.
func owns(a, b vertex) bool {
	dy := b.y - a.y
	return dy < 0 || (dy == 0 && b.x-a.x > 0)
}

func inside(w float32, a, b vertex) bool {
	return w > 0 || (w == 0 && owns(a, b))
}

func shadeTriangle(t *triangle, tile parallel.Rect, fs FragmentKernel, res *Resources, target *image) {
	r := t.bbox.Intersect(tile)
	if r.Empty() {
		return
	}

	v0, v1, v2 := t.v[0], t.v[1], t.v[2]
	bpp := target.format.BytesPerPixel()
	in := FragmentInput{Resources: res}

	for y := r.Y0; y < r.Y1; y++ {
		py := float32(y) + 0.5
		for x := r.X0; x < r.X1; x++ {
			px := float32(x) + 0.5
			w0 := edge(v1, v2, px, py)
			w1 := edge(v2, v0, px, py)
			w2 := edge(v0, v1, px, py)
			if !inside(w0, v1, v2) || !inside(w1, v2, v0) || !inside(w2, v0, v1) {
				continue
			}

			l0, l1, l2 := w0/t.area, w1/t.area, w2/t.area
			// Perspective-correct weights.
			p0, p1, p2 := l0*v0.invW, l1*v1.invW, l2*v2.invW
			sum := p0 + p1 + p2
			p0, p1, p2 = p0/sum, p1/sum, p2/sum

			in.Position = [4]float32{px, py, l0*v0.z + l1*v1.z + l2*v2.z, sum}
			for k := range in.Varyings {
				for j := range 4 {
					in.Varyings[k][j] = p0*v0.vary[k][j] + p1*v1.vary[k][j] + p2*v2.vary[k][j]
				}
			}

			c := fs(&in)
			off := (y*int(target.width) + x) * bpp
			target.format.Encode(target.data[off:off+bpp], c)
		}
	}
}
