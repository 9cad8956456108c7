// Package scenario runs the end-to-end workloads of the gpuflow command:
// an offscreen triangle, a compute multiply and a buffer copy.
//
// Each run records one sequence, submits it, waits and reads the result
// back. Resources are released before returning.
package scenario

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/gogpu/gpuflow"
	"github.com/gogpu/gpuflow/internal/assets"
)

// DefaultTimeout bounds the wait on each submission.
const DefaultTimeout = 10 * time.Second

// Runner executes workloads on one DeviceContext.
type Runner struct {
	dc      *gpuflow.DeviceContext
	sub     *gpuflow.Submitter
	timeout time.Duration
}

// NewRunner returns a Runner submitting through its own Submitter.
// A non-positive timeout selects DefaultTimeout.
func NewRunner(dc *gpuflow.DeviceContext, cfg gpuflow.SubmitterConfig, timeout time.Duration) *Runner {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Runner{dc: dc, sub: gpuflow.NewSubmitter(dc, cfg), timeout: timeout}
}

// TriangleVertices are the clip-space corners of the demo triangle.
var TriangleVertices = []float32{
	-0.5, -0.5,
	0.0, 0.5,
	0.5, -0.25,
}

// TriangleOptions configures Triangle.
type TriangleOptions struct {
	Width, Height uint32
	Clear         gpuflow.Color
}

// DefaultTriangleOptions renders 1024x1024 over opaque blue.
func DefaultTriangleOptions() TriangleOptions {
	return TriangleOptions{Width: 1024, Height: 1024, Clear: gpuflow.Color{B: 1, A: 1}}
}

// Triangle renders TriangleVertices into an RGBA8 target and returns the
// pixels.
func (r *Runner) Triangle(ctx context.Context, opts TriangleOptions) (*image.RGBA, error) {
	vs, err := assets.Shader(assets.TriangleVertex)
	if err != nil {
		return nil, err
	}
	fs, err := assets.Shader(assets.TriangleFragment)
	if err != nil {
		return nil, err
	}

	p, err := gpuflow.BuildGraphicsPipeline(r.dc, gpuflow.GraphicsPipelineConfig{
		Label:    "triangle",
		Vertex:   vs,
		Fragment: fs,
		VertexLayout: gpuflow.VertexLayout{
			Stride:     8,
			Attributes: []gpuflow.VertexAttribute{{Location: 0, Format: gpuflow.VertexFloat32x2}},
		},
		Viewport: gpuflow.Viewport{Width: float32(opts.Width), Height: float32(opts.Height), MaxDepth: 1},
		Attachment: gpuflow.Attachment{
			Format: gpuflow.FormatRGBA8Unorm,
			Load:   gpuflow.LoadOpClear,
			Store:  gpuflow.StoreOpStore,
		},
	})
	if err != nil {
		return nil, err
	}
	defer p.Release()

	alloc := r.dc.Allocator()
	verts, err := alloc.CreateBufferInit(gpuflow.BufferDesc{
		Label: "triangle.vertices",
		Usage: gpuflow.BufferUsageVertex,
	}, gpuflow.Float32Bytes(TriangleVertices...))
	if err != nil {
		return nil, err
	}
	defer verts.Release()

	target, err := alloc.CreateImage(gpuflow.ImageDesc{
		Label:  "triangle.target",
		Width:  opts.Width,
		Height: opts.Height,
		Format: gpuflow.FormatRGBA8Unorm,
		Usage:  gpuflow.ImageUsageRenderTarget | gpuflow.ImageUsageTransferSrc,
	})
	if err != nil {
		return nil, err
	}
	defer target.Release()

	out, err := alloc.CreateBuffer(gpuflow.BufferDesc{
		Label:       "triangle.readback",
		Count:       target.ByteSize(),
		Usage:       gpuflow.BufferUsageTransferDst,
		HostVisible: true,
	})
	if err != nil {
		return nil, err
	}
	defer out.Release()

	s := gpuflow.NewSequencer(r.dc)
	err = s.Record(
		gpuflow.DrawPassDesc{
			Pipeline:    p,
			Target:      target,
			ClearColor:  opts.Clear,
			Vertices:    verts,
			VertexCount: uint32(len(TriangleVertices) / 2),
		},
		gpuflow.CopyImageToBufferOp{Src: target, Dst: out},
	)
	if err != nil {
		s.Discard()
		return nil, err
	}

	view, err := r.run(ctx, s, out)
	if err != nil {
		return nil, err
	}
	px, err := view.Pixels(int(opts.Width), int(opts.Height), gpuflow.FormatRGBA8Unorm)
	if err != nil {
		return nil, err
	}
	return px.RGBA(), nil
}

// Multiply computes src[i]*k for src = [0, n) on the multiply compute
// shader.
func (r *Runner) Multiply(ctx context.Context, n, k uint32) ([]uint32, error) {
	if n == 0 {
		return nil, fmt.Errorf("%w: multiply over zero elements", gpuflow.ErrInvalidOperation)
	}
	cs, err := assets.Shader(assets.Multiply)
	if err != nil {
		return nil, err
	}
	p, err := gpuflow.BuildComputePipeline(r.dc, gpuflow.ComputePipelineConfig{Label: "multiply", Compute: cs})
	if err != nil {
		return nil, err
	}
	defer p.Release()

	alloc := r.dc.Allocator()
	src, err := alloc.CreateBufferInit(gpuflow.BufferDesc{
		Label: "multiply.src", ElementSize: 4,
		Usage: gpuflow.BufferUsageStorage,
	}, gpuflow.Uint32Bytes(Iota(n)...))
	if err != nil {
		return nil, err
	}
	defer src.Release()

	dst, err := alloc.CreateBuffer(gpuflow.BufferDesc{
		Label: "multiply.dst", ElementSize: 4, Count: uint64(n),
		Usage:       gpuflow.BufferUsageStorage,
		HostVisible: true,
	})
	if err != nil {
		return nil, err
	}
	defer dst.Release()

	params, err := alloc.CreateBufferInit(gpuflow.BufferDesc{
		Label: "multiply.params", ElementSize: 4,
		Usage: gpuflow.BufferUsageUniform,
	}, gpuflow.Uint32Bytes(k, n))
	if err != nil {
		return nil, err
	}
	defer params.Release()

	bindings, err := gpuflow.NewDescriptorBinding(p, []gpuflow.BindingEntry{
		{Binding: 0, Buffer: src},
		{Binding: 1, Buffer: dst},
		{Binding: 2, Buffer: params},
	})
	if err != nil {
		return nil, err
	}
	defer bindings.Release()

	groups := (n + assets.MultiplyWorkgroupSize - 1) / assets.MultiplyWorkgroupSize
	s := gpuflow.NewSequencer(r.dc)
	if err := s.DispatchCompute(p, bindings, [3]uint32{groups, 1, 1}); err != nil {
		s.Discard()
		return nil, err
	}

	view, err := r.run(ctx, s, dst)
	if err != nil {
		return nil, err
	}
	return view.Uint32s(), nil
}

// Copy copies [0, n) between two buffers and returns the destination
// contents.
func (r *Runner) Copy(ctx context.Context, n uint32) ([]uint32, error) {
	alloc := r.dc.Allocator()
	src, err := alloc.CreateBufferInit(gpuflow.BufferDesc{
		Label: "copy.src", ElementSize: 4,
		Usage: gpuflow.BufferUsageTransferSrc,
	}, gpuflow.Uint32Bytes(Iota(n)...))
	if err != nil {
		return nil, err
	}
	defer src.Release()

	dst, err := alloc.CreateBuffer(gpuflow.BufferDesc{
		Label: "copy.dst", ElementSize: 4, Count: uint64(n),
		Usage:       gpuflow.BufferUsageTransferDst,
		HostVisible: true,
	})
	if err != nil {
		return nil, err
	}
	defer dst.Release()

	s := gpuflow.NewSequencer(r.dc)
	if err := s.CopyBuffer(src, dst); err != nil {
		s.Discard()
		return nil, err
	}

	view, err := r.run(ctx, s, dst)
	if err != nil {
		return nil, err
	}
	return view.Uint32s(), nil
}

// run builds the sequencer, submits it and reads out back after the
// fence signals.
func (r *Runner) run(ctx context.Context, s *gpuflow.Sequencer, out *gpuflow.Buffer) (gpuflow.View, error) {
	seq, err := s.Build()
	if err != nil {
		s.Discard()
		return gpuflow.View{}, err
	}
	defer seq.Release()

	fence, err := r.sub.Submit(ctx, seq)
	if err != nil {
		return gpuflow.View{}, err
	}
	if err := r.sub.Wait(fence, r.timeout); err != nil {
		return gpuflow.View{}, err
	}
	return gpuflow.Read(out, fence)
}

// Iota returns [0, n).
func Iota(n uint32) []uint32 {
	v := make([]uint32, n)
	for i := range v {
		v[i] = uint32(i)
	}
	return v
}
