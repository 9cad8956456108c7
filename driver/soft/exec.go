package soft

import (
	"fmt"

	"github.com/gogpu/gpuflow/driver"
)

func (d *Device) exec(c driver.Command) error {
	switch c := c.(type) {
	case *driver.CopyBuffer:
		src, dst := c.Src.(*buffer), c.Dst.(*buffer)
		copy(dst.data[:c.Size], src.data[:c.Size])
		return nil

	case *driver.CopyImageToBuffer:
		src, dst := c.Src.(*image), c.Dst.(*buffer)
		copy(dst.data, src.data)
		return nil

	case *driver.ClearImage:
		c.Image.(*image).fill(c.Color)
		return nil

	case *driver.Dispatch:
		return d.dispatch(c)

	case *driver.Draw:
		return d.draw(c)

	default:
		return fmt.Errorf("%w: command %T", driver.ErrUnsupported, c)
	}
}

func (d *Device) dispatch(c *driver.Dispatch) error {
	p := c.Pipeline.(*pipeline)
	res := newResources(c.Resources)
	groups := c.Groups
	ls := p.localSize
	total := int(groups[0]) * int(groups[1]) * int(groups[2])

	d.log.Debug("soft: dispatch", "pipeline", p.label, "groups", groups, "local_size", ls)

	// Invocations inside a workgroup run sequentially; workgroups run in
	// parallel.
	return d.pool.ForEach(total, func(g int) {
		wg := [3]uint32{
			uint32(g) % groups[0],
			uint32(g) / groups[0] % groups[1],
			uint32(g) / (groups[0] * groups[1]),
		}
		inv := Invocation{Resources: res, WorkgroupID: wg, NumWorkgroups: groups}
		for z := range ls[2] {
			for y := range ls[1] {
				for x := range ls[0] {
					inv.LocalID = [3]uint32{x, y, z}
					inv.GlobalID = [3]uint32{wg[0]*ls[0] + x, wg[1]*ls[1] + y, wg[2]*ls[2] + z}
					p.compute(&inv)
				}
			}
		}
	})
}
