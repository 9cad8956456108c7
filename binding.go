package gpuflow

import (
	"fmt"

	"github.com/gogpu/gpuflow/driver"
)

// BindingEntry attaches a buffer or an image to one slot.
type BindingEntry struct {
	Group   uint32
	Binding uint32

	// Exactly one of Buffer and Image is set, matching the slot kind.
	Buffer *Buffer
	Image  *Image
}

// DescriptorBinding is a validated set of resources for every slot of a
// pipeline layout. It holds a reference to each resource until Release.
type DescriptorBinding struct {
	dc        *DeviceContext
	pipeline  *Pipeline
	resources []driver.Resource
	buffers   []*Buffer
	images    []*Image

	refs refCount
}

// NewDescriptorBinding checks entries against the layout of p. Every slot
// must be filled exactly once with a live resource of the same device whose
// usage matches the slot kind.
func NewDescriptorBinding(p *Pipeline, entries []BindingEntry) (*DescriptorBinding, error) {
	if p == nil {
		return nil, invalidf("nil pipeline")
	}
	if err := p.check(); err != nil {
		return nil, err
	}

	filled := make(map[[2]uint32]bool, len(entries))
	db := &DescriptorBinding{dc: p.dc, pipeline: p}
	for _, e := range entries {
		key := [2]uint32{e.Group, e.Binding}
		slot, ok := p.slot(e.Group, e.Binding)
		switch {
		case !ok:
			return nil, invalidf("slot (%d, %d) not in layout of pipeline %q", e.Group, e.Binding, p.label)
		case filled[key]:
			return nil, invalidf("slot (%d, %d) bound twice", e.Group, e.Binding)
		}
		filled[key] = true

		res, err := bindEntry(p.dc, slot, e)
		if err != nil {
			return nil, err
		}
		db.resources = append(db.resources, res)
		if e.Buffer != nil {
			db.buffers = append(db.buffers, e.Buffer)
		} else {
			db.images = append(db.images, e.Image)
		}
	}
	for _, s := range p.layout {
		if !filled[[2]uint32{s.Group, s.Binding}] {
			return nil, invalidf("slot (%d, %d) %v of pipeline %q left unbound", s.Group, s.Binding, s.Kind, p.label)
		}
	}

	p.Retain()
	for _, b := range db.buffers {
		b.Retain()
	}
	for _, img := range db.images {
		img.Retain()
	}
	db.refs.n.Store(1)
	return db, nil
}

func bindEntry(dc *DeviceContext, slot ResourceSlot, e BindingEntry) (driver.Resource, error) {
	if (e.Buffer == nil) == (e.Image == nil) {
		return driver.Resource{}, invalidf("slot (%d, %d) needs exactly one of Buffer and Image", e.Group, e.Binding)
	}

	if slot.Kind.IsBuffer() {
		b := e.Buffer
		if b == nil {
			return driver.Resource{}, invalidf("slot (%d, %d) is %v, got an image", e.Group, e.Binding, slot.Kind)
		}
		if err := b.check(); err != nil {
			return driver.Resource{}, err
		}
		if b.dc != dc {
			return driver.Resource{}, invalidf("buffer %q belongs to another device", b.label)
		}
		want := BufferUsageStorage
		if slot.Kind == SlotUniformBuffer {
			want = BufferUsageUniform
		}
		if !b.usage.Contains(want) {
			return driver.Resource{}, invalidf("buffer %q lacks usage for %v slot (%d, %d)", b.label, slot.Kind, e.Group, e.Binding)
		}
		return driver.Resource{Slot: slot, Buffer: b.raw}, nil
	}

	img := e.Image
	if img == nil {
		return driver.Resource{}, invalidf("slot (%d, %d) is %v, got a buffer", e.Group, e.Binding, slot.Kind)
	}
	if err := img.check(); err != nil {
		return driver.Resource{}, err
	}
	if img.dc != dc {
		return driver.Resource{}, invalidf("image %q belongs to another device", img.label)
	}
	want := ImageUsageSampled
	if slot.Kind == SlotStorageImage {
		want = ImageUsageStorage
	}
	if !img.usage.Contains(want) {
		return driver.Resource{}, invalidf("image %q lacks usage for %v slot (%d, %d)", img.label, slot.Kind, e.Group, e.Binding)
	}
	return driver.Resource{Slot: slot, Image: img.raw}, nil
}

// Pipeline returns the pipeline the binding was made for.
func (db *DescriptorBinding) Pipeline() *Pipeline { return db.pipeline }

// Retain adds a reference and returns db.
func (db *DescriptorBinding) Retain() *DescriptorBinding {
	if !db.refs.acquire() {
		Logger().Warn("gpuflow: retain of released descriptor binding", "pipeline", db.pipeline.label)
	}
	return db
}

// Release drops a reference. The last release drops the references held
// on the pipeline and the bound resources.
func (db *DescriptorBinding) Release() {
	last, ok := db.refs.drop()
	if !ok || !last {
		return
	}
	for _, b := range db.buffers {
		b.Release()
	}
	for _, img := range db.images {
		img.Release()
	}
	db.pipeline.Release()
}

func (db *DescriptorBinding) check() error {
	if !db.refs.live() {
		return fmt.Errorf("%w: descriptor binding", ErrResourceReleased)
	}
	for _, b := range db.buffers {
		if err := b.check(); err != nil {
			return err
		}
	}
	for _, img := range db.images {
		if err := img.check(); err != nil {
			return err
		}
	}
	return db.pipeline.check()
}
