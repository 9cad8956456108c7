//go:build !nogpu

package wgpu

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gpuflow/driver"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// Device is a logical device backed by a hal device and queue.
type Device struct {
	adapter *adapter
	hal     hal.Device
	halQ    hal.Queue
	limits  driver.Limits
	log     *slog.Logger

	queue *queue

	lostMu  sync.Mutex
	lostErr error
	lost    atomic.Bool

	destroyed   atomic.Bool
	destroyOnce sync.Once
}

var _ driver.Device = (*Device)(nil)

func newDevice(a *adapter, dev hal.Device, q hal.Queue, family driver.QueueFamily) *Device {
	d := &Device{
		adapter: a,
		hal:     dev,
		halQ:    q,
		limits:  a.info.Limits,
		log:     a.drv.log(),
	}
	d.queue = newQueue(d, family.Caps, a.drv.opts.FenceTimeout)
	d.log.Info("wgpu: device opened", "adapter", a.info.Name, "shared", a.shared)
	return d
}

// Limits returns the device limits.
func (d *Device) Limits() driver.Limits { return d.limits }

// FormatCaps reports the uses of an image format. Storage images are not
// bound by this driver.
func (d *Device) FormatCaps(f driver.Format) driver.FormatCaps {
	if _, err := textureFormat(f); err != nil {
		return 0
	}
	return driver.FormatCapRenderTarget | driver.FormatCapTransfer
}

// Queue returns the device queue.
func (d *Device) Queue() driver.Queue { return d.queue }

// Lose puts the device into the lost state. Work not yet executed
// completes with an error wrapping driver.ErrDeviceLost.
func (d *Device) Lose(reason error) {
	d.lostMu.Lock()
	defer d.lostMu.Unlock()
	if d.lost.Load() {
		return
	}
	if reason == nil {
		reason = errors.New("lost on request")
	}
	d.lostErr = fmt.Errorf("%w: %w", driver.ErrDeviceLost, reason)
	d.lost.Store(true)
	d.log.Error("wgpu: device lost", "adapter", d.adapter.info.Name, "reason", reason)
}

// Lost reports the loss error, or nil while the device is healthy.
func (d *Device) Lost() error {
	if !d.lost.Load() {
		return nil
	}
	d.lostMu.Lock()
	defer d.lostMu.Unlock()
	return d.lostErr
}

func (d *Device) usable() error {
	if d.destroyed.Load() {
		return driver.ErrDestroyed
	}
	return d.Lost()
}

// Destroy stops the queue, destroys the hal device unless it is shared and
// gives the adapter back. Destroy is safe to call multiple times.
func (d *Device) Destroy() {
	d.destroyOnce.Do(func() {
		d.queue.close()
		d.destroyed.Store(true)
		if !d.adapter.shared {
			d.hal.Destroy()
		}
		d.adapter.release()
		d.log.Info("wgpu: device destroyed", "adapter", d.adapter.info.Name)
	})
}

// NewBuffer creates a hal buffer. Sizes are rounded up to four bytes for
// the copy alignment rules; Size reports the requested size.
func (d *Device) NewBuffer(desc *driver.BufferDesc) (driver.Buffer, error) {
	if err := d.usable(); err != nil {
		return nil, err
	}
	if desc.Size == 0 || desc.Size > d.limits.MaxBufferSize {
		return nil, fmt.Errorf("%w: buffer size %d (max %d)", driver.ErrOutOfMemory, desc.Size, d.limits.MaxBufferSize)
	}
	if uint64(len(desc.Contents)) > desc.Size {
		return nil, fmt.Errorf("%w: %d bytes of contents for a %d byte buffer", driver.ErrUnsupported, len(desc.Contents), desc.Size)
	}

	hb, err := d.hal.CreateBuffer(&hal.BufferDescriptor{
		Label: desc.Label,
		Size:  alignUp(desc.Size, copyAlignment),
		Usage: bufferUsage(desc.Usage, desc.HostVisible),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create buffer %q: %w", driver.ErrOutOfMemory, desc.Label, err)
	}
	if len(desc.Contents) > 0 {
		d.halQ.WriteBuffer(hb, 0, desc.Contents)
	}

	d.log.Debug("wgpu: buffer created", "label", desc.Label, "size", desc.Size, "host_visible", desc.HostVisible)
	return &buffer{dev: d, hal: hb, label: desc.Label, size: desc.Size, hostVisible: desc.HostVisible}, nil
}

// NewImage creates a 2D texture and its default view.
func (d *Device) NewImage(desc *driver.ImageDesc) (driver.Image, error) {
	if err := d.usable(); err != nil {
		return nil, err
	}
	format, err := textureFormat(desc.Format)
	if err != nil {
		return nil, err
	}
	usage, err := textureUsage(desc.Usage)
	if err != nil {
		return nil, err
	}
	if desc.Width == 0 || desc.Height == 0 ||
		desc.Width > d.limits.MaxImageDimension || desc.Height > d.limits.MaxImageDimension {
		return nil, fmt.Errorf("%w: image %dx%d (max %d)", driver.ErrUnsupported, desc.Width, desc.Height, d.limits.MaxImageDimension)
	}

	tex, err := d.hal.CreateTexture(&hal.TextureDescriptor{
		Label:         desc.Label,
		Size:          hal.Extent3D{Width: desc.Width, Height: desc.Height, DepthOrArrayLayers: 1},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        format,
		Usage:         usage,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create texture %q: %w", driver.ErrOutOfMemory, desc.Label, err)
	}
	view, err := d.hal.CreateTextureView(tex, &hal.TextureViewDescriptor{Label: desc.Label + "_view"})
	if err != nil {
		d.hal.DestroyTexture(tex)
		return nil, fmt.Errorf("wgpu: create view for %q: %w", desc.Label, err)
	}

	d.log.Debug("wgpu: image created", "label", desc.Label, "width", desc.Width, "height", desc.Height, "format", desc.Format.String())
	return &image{
		dev:    d,
		tex:    tex,
		view:   view,
		label:  desc.Label,
		width:  desc.Width,
		height: desc.Height,
		format: desc.Format,
		usage:  desc.Usage,
	}, nil
}

// NewShaderModule creates a shader module from SPIR-V words.
func (d *Device) NewShaderModule(desc *driver.ShaderDesc) (driver.ShaderModule, error) {
	if err := d.usable(); err != nil {
		return nil, err
	}
	if len(desc.Code) == 0 {
		return nil, fmt.Errorf("%w: shader %q has no code", driver.ErrUnsupported, desc.Label)
	}
	m, err := d.hal.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  desc.Label,
		Source: hal.ShaderSource{SPIRV: desc.Code},
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create shader module %q: %w", desc.Label, err)
	}
	return &shaderModule{dev: d, hal: m, stage: desc.Stage, entry: desc.EntryPoint}, nil
}

// NewComputePipeline creates a compute pipeline and its layouts.
func (d *Device) NewComputePipeline(desc *driver.ComputePipelineDesc) (driver.Pipeline, error) {
	if err := d.usable(); err != nil {
		return nil, err
	}
	sm, err := d.module(desc.Compute, driver.StageCompute)
	if err != nil {
		return nil, err
	}

	p := &pipeline{dev: d, label: desc.Label}
	if err := p.createLayouts(desc.Slots, true); err != nil {
		p.Destroy()
		return nil, err
	}
	p.compute, err = d.hal.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:  desc.Label,
		Layout: p.layout,
		Compute: hal.ComputeState{
			Module:     sm.hal,
			EntryPoint: sm.entry,
		},
	})
	if err != nil {
		p.Destroy()
		return nil, fmt.Errorf("wgpu: create compute pipeline %q: %w", desc.Label, err)
	}
	return p, nil
}

// NewGraphicsPipeline creates a render pipeline with one color target.
func (d *Device) NewGraphicsPipeline(desc *driver.GraphicsPipelineDesc) (driver.Pipeline, error) {
	if err := d.usable(); err != nil {
		return nil, err
	}
	vs, err := d.module(desc.Vertex, driver.StageVertex)
	if err != nil {
		return nil, err
	}
	fs, err := d.module(desc.Fragment, driver.StageFragment)
	if err != nil {
		return nil, err
	}
	format, err := textureFormat(desc.Attachment.Format)
	if err != nil {
		return nil, err
	}

	var buffers []gputypes.VertexBufferLayout
	if len(desc.VertexLayout.Attributes) > 0 {
		attrs := make([]gputypes.VertexAttribute, 0, len(desc.VertexLayout.Attributes))
		for _, a := range desc.VertexLayout.Attributes {
			vf, err := vertexFormat(a.Format)
			if err != nil {
				return nil, err
			}
			attrs = append(attrs, gputypes.VertexAttribute{Format: vf, Offset: uint64(a.Offset), ShaderLocation: a.Location})
		}
		buffers = []gputypes.VertexBufferLayout{{
			ArrayStride: uint64(desc.VertexLayout.Stride),
			StepMode:    gputypes.VertexStepModeVertex,
			Attributes:  attrs,
		}}
	}

	p := &pipeline{dev: d, label: desc.Label, viewport: desc.Viewport, attachment: desc.Attachment}
	if err := p.createLayouts(desc.Slots, false); err != nil {
		p.Destroy()
		return nil, err
	}
	p.render, err = d.hal.CreateRenderPipeline(&hal.RenderPipelineDescriptor{
		Label:  desc.Label,
		Layout: p.layout,
		Vertex: hal.VertexState{
			Module:     vs.hal,
			EntryPoint: vs.entry,
			Buffers:    buffers,
		},
		Fragment: &hal.FragmentState{
			Module:     fs.hal,
			EntryPoint: fs.entry,
			Targets: []gputypes.ColorTargetState{{
				Format:    format,
				WriteMask: gputypes.ColorWriteMaskAll,
			}},
		},
		Primitive: gputypes.PrimitiveState{
			Topology: gputypes.PrimitiveTopologyTriangleList,
			CullMode: gputypes.CullModeNone,
		},
		Multisample: gputypes.MultisampleState{Count: 1, Mask: 0xFFFFFFFF},
	})
	if err != nil {
		p.Destroy()
		return nil, fmt.Errorf("wgpu: create render pipeline %q: %w", desc.Label, err)
	}
	return p, nil
}

func (d *Device) module(m driver.ShaderModule, stage driver.ShaderStage) (*shaderModule, error) {
	sm, ok := m.(*shaderModule)
	if !ok || sm.dev != d {
		return nil, fmt.Errorf("%w: %v shader module from another device", driver.ErrUnsupported, stage)
	}
	if sm.stage != stage {
		return nil, fmt.Errorf("%w: %v module used as %v stage", driver.ErrUnsupported, sm.stage, stage)
	}
	return sm, nil
}

const copyAlignment = 4

func alignUp(n, a uint64) uint64 {
	return (n + a - 1) &^ (a - 1)
}
