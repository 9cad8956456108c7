package assets

import (
	"github.com/gogpu/gpuflow/driver"
	"github.com/gogpu/gpuflow/driver/soft"
)

// Soft driver counterparts of the WGSL entry points.
func init() {
	soft.RegisterCompute(Multiply, func(inv *soft.Invocation) {
		src, dst := inv.Buffer(0, 0), inv.Buffer(0, 1)
		params := inv.Buffer(0, 2)
		i := int(inv.GlobalID[0])
		if uint32(i) < params.U32(1) && i < dst.Len() {
			dst.SetU32(i, src.U32(i)*params.U32(0))
		}
	})
	soft.RegisterVertex(TriangleVertex, func(in *soft.VertexInput) soft.VertexOutput {
		p := in.Attribute(0)
		return soft.VertexOutput{Position: [4]float32{p[0], p[1], 0, 1}}
	})
	soft.RegisterFragment(TriangleFragment, func(*soft.FragmentInput) driver.Color {
		return driver.Color{R: 1, A: 1}
	})
}
