package soft

import (
	"fmt"
	"sync"

	"github.com/gogpu/gpuflow/driver"
)

type buffer struct {
	dev         *Device
	label       string
	data        []byte
	hostVisible bool
	destroyOnce sync.Once
}

func (b *buffer) Size() uint64 { return uint64(len(b.data)) }

func (b *buffer) Write(offset uint64, data []byte) error {
	if !b.hostVisible {
		return fmt.Errorf("%w: buffer %q is not host visible", driver.ErrUnsupported, b.label)
	}
	if offset > b.Size() || uint64(len(data)) > b.Size()-offset {
		return fmt.Errorf("%w: write of %d bytes at %d overruns %d byte buffer", driver.ErrUnsupported, len(data), offset, b.Size())
	}
	copy(b.data[offset:], data)
	return nil
}

func (b *buffer) Read(offset uint64, dst []byte) error {
	if !b.hostVisible {
		return fmt.Errorf("%w: buffer %q is not host visible", driver.ErrUnsupported, b.label)
	}
	if offset > b.Size() || uint64(len(dst)) > b.Size()-offset {
		return fmt.Errorf("%w: read of %d bytes at %d overruns %d byte buffer", driver.ErrUnsupported, len(dst), offset, b.Size())
	}
	copy(dst, b.data[offset:])
	return nil
}

func (b *buffer) Destroy() {
	b.destroyOnce.Do(func() { b.dev.unreserve(b.Size()) })
}

type image struct {
	dev           *Device
	label         string
	width, height uint32
	format        driver.Format
	data          []byte
	destroyOnce   sync.Once
}

func (i *image) Width() uint32         { return i.width }
func (i *image) Height() uint32        { return i.height }
func (i *image) Format() driver.Format { return i.format }

func (i *image) Destroy() {
	i.destroyOnce.Do(func() { i.dev.unreserve(uint64(len(i.data))) })
}

func (i *image) fill(c driver.Color) {
	bpp := i.format.BytesPerPixel()
	if len(i.data) == 0 {
		return
	}
	i.format.Encode(i.data[:bpp], c)
	// Doubling copy fills the rest from the first texel.
	for n := bpp; n < len(i.data); n *= 2 {
		copy(i.data[n:], i.data[:n])
	}
}

type shaderModule struct {
	stage     driver.ShaderStage
	entry     string
	kernel    any
	localSize [3]uint32
}

func (*shaderModule) Destroy() {}

type pipeline struct {
	label string

	compute   ComputeKernel
	localSize [3]uint32

	vertex     VertexKernel
	fragment   FragmentKernel
	layout     driver.VertexLayout
	viewport   driver.Viewport
	attachment driver.Attachment
}

func (*pipeline) Destroy() {}
