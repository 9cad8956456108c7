//go:build !nogpu

package wgpu

import (
	"fmt"
	"sync"

	"github.com/gogpu/gpuflow/driver"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

type buffer struct {
	dev         *Device
	hal         hal.Buffer
	label       string
	size        uint64
	hostVisible bool
	destroyOnce sync.Once
}

func (b *buffer) Size() uint64 { return b.size }

func (b *buffer) Write(offset uint64, data []byte) error {
	if err := b.check(offset, len(data), "write"); err != nil {
		return err
	}
	b.dev.halQ.WriteBuffer(b.hal, offset, data)
	return nil
}

func (b *buffer) Read(offset uint64, dst []byte) error {
	if err := b.check(offset, len(dst), "read"); err != nil {
		return err
	}
	if err := b.dev.halQ.ReadBuffer(b.hal, offset, dst); err != nil {
		return fmt.Errorf("wgpu: read buffer %q: %w", b.label, err)
	}
	return nil
}

func (b *buffer) check(offset uint64, n int, op string) error {
	if err := b.dev.usable(); err != nil {
		return err
	}
	if !b.hostVisible {
		return fmt.Errorf("%w: buffer %q is not host visible", driver.ErrUnsupported, b.label)
	}
	if offset > b.size || uint64(n) > b.size-offset {
		return fmt.Errorf("%w: %s of %d bytes at %d overruns %d byte buffer", driver.ErrUnsupported, op, n, offset, b.size)
	}
	return nil
}

func (b *buffer) Destroy() {
	b.destroyOnce.Do(func() {
		if !b.dev.destroyed.Load() {
			b.dev.hal.DestroyBuffer(b.hal)
		}
	})
}

type image struct {
	dev           *Device
	tex           hal.Texture
	view          hal.TextureView
	label         string
	width, height uint32
	format        driver.Format
	usage         driver.ImageUsage
	destroyOnce   sync.Once
}

func (i *image) Width() uint32         { return i.width }
func (i *image) Height() uint32        { return i.height }
func (i *image) Format() driver.Format { return i.format }

func (i *image) Destroy() {
	i.destroyOnce.Do(func() {
		if !i.dev.destroyed.Load() {
			i.dev.hal.DestroyTextureView(i.view)
			i.dev.hal.DestroyTexture(i.tex)
		}
	})
}

type shaderModule struct {
	dev         *Device
	hal         hal.ShaderModule
	stage       driver.ShaderStage
	entry       string
	destroyOnce sync.Once
}

func (m *shaderModule) Destroy() {
	m.destroyOnce.Do(func() {
		if !m.dev.destroyed.Load() {
			m.dev.hal.DestroyShaderModule(m.hal)
		}
	})
}

type pipeline struct {
	dev   *Device
	label string

	// groups holds one layout per bind group index; groups without slots
	// get an empty layout.
	groups []hal.BindGroupLayout
	slots  []driver.Slot
	layout hal.PipelineLayout

	compute hal.ComputePipeline
	render  hal.RenderPipeline

	viewport   driver.Viewport
	attachment driver.Attachment

	destroyOnce sync.Once
}

func (p *pipeline) createLayouts(slots []driver.Slot, compute bool) error {
	visibility := gputypes.ShaderStageCompute
	if !compute {
		visibility = gputypes.ShaderStageVertex | gputypes.ShaderStageFragment
	}

	var ngroups uint32
	for _, s := range slots {
		if !s.Kind.IsBuffer() {
			return fmt.Errorf("%w: %v slot (%d, %d)", driver.ErrUnsupported, s.Kind, s.Group, s.Binding)
		}
		if s.Group+1 > ngroups {
			ngroups = s.Group + 1
		}
	}
	p.slots = slots

	for g := uint32(0); g < ngroups; g++ {
		var entries []gputypes.BindGroupLayoutEntry
		for _, s := range slots {
			if s.Group != g {
				continue
			}
			e := gputypes.BindGroupLayoutEntry{
				Binding:    s.Binding,
				Visibility: visibility,
				Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage},
			}
			switch {
			case s.Kind == driver.SlotUniformBuffer:
				e.Buffer.Type = gputypes.BufferBindingTypeUniform
			case s.Access == driver.AccessRead:
				e.Buffer.Type = gputypes.BufferBindingTypeReadOnlyStorage
			}
			entries = append(entries, e)
		}
		bgl, err := p.dev.hal.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
			Label:   fmt.Sprintf("%s_bgl%d", p.label, g),
			Entries: entries,
		})
		if err != nil {
			return fmt.Errorf("wgpu: create bind group layout %d of %q: %w", g, p.label, err)
		}
		p.groups = append(p.groups, bgl)
	}

	layout, err := p.dev.hal.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            p.label + "_pl",
		BindGroupLayouts: p.groups,
	})
	if err != nil {
		return fmt.Errorf("wgpu: create pipeline layout %q: %w", p.label, err)
	}
	p.layout = layout
	return nil
}

// bindGroups creates one bind group per layout group from res. The caller
// destroys them once the submission using them completes.
func (p *pipeline) bindGroups(res []driver.Resource) ([]hal.BindGroup, error) {
	entries := make([][]gputypes.BindGroupEntry, len(p.groups))
	for _, r := range res {
		b, ok := r.Buffer.(*buffer)
		if !ok {
			return nil, fmt.Errorf("%w: slot (%d, %d) needs a buffer from this device", driver.ErrUnsupported, r.Slot.Group, r.Slot.Binding)
		}
		if int(r.Slot.Group) >= len(entries) {
			return nil, fmt.Errorf("%w: slot (%d, %d) not in layout of %q", driver.ErrUnsupported, r.Slot.Group, r.Slot.Binding, p.label)
		}
		entries[r.Slot.Group] = append(entries[r.Slot.Group], gputypes.BindGroupEntry{
			Binding: r.Slot.Binding,
			Resource: gputypes.BufferBinding{
				Buffer: b.hal.NativeHandle(),
				Offset: 0,
				Size:   0,
			},
		})
	}

	groups := make([]hal.BindGroup, 0, len(p.groups))
	for g, layout := range p.groups {
		bg, err := p.dev.hal.CreateBindGroup(&hal.BindGroupDescriptor{
			Label:   fmt.Sprintf("%s_bg%d", p.label, g),
			Layout:  layout,
			Entries: entries[g],
		})
		if err != nil {
			for _, done := range groups {
				p.dev.hal.DestroyBindGroup(done)
			}
			return nil, fmt.Errorf("wgpu: create bind group %d of %q: %w", g, p.label, err)
		}
		groups = append(groups, bg)
	}
	return groups, nil
}

func (p *pipeline) Destroy() {
	p.destroyOnce.Do(func() {
		if p.dev.destroyed.Load() {
			return
		}
		if p.compute != nil {
			p.dev.hal.DestroyComputePipeline(p.compute)
		}
		if p.render != nil {
			p.dev.hal.DestroyRenderPipeline(p.render)
		}
		if p.layout != nil {
			p.dev.hal.DestroyPipelineLayout(p.layout)
		}
		for _, bgl := range p.groups {
			p.dev.hal.DestroyBindGroupLayout(bgl)
		}
	})
}
