package gpuflow

import (
	"fmt"
	"math/bits"
	"sync"

	"github.com/gogpu/gpuflow/driver"
)

// MemoryStats reports allocator usage.
type MemoryStats struct {
	// BudgetBytes is the total budget in bytes.
	BudgetBytes uint64

	// UsedBytes is the memory held by live resources.
	UsedBytes uint64

	// PeakBytes is the highest UsedBytes observed.
	PeakBytes uint64

	Buffers int
	Images  int

	// Allocations counts every successful allocation.
	Allocations uint64
}

// Utilization returns UsedBytes as a fraction of the budget.
func (s MemoryStats) Utilization() float64 {
	if s.BudgetBytes == 0 {
		return 0
	}
	return float64(s.UsedBytes) / float64(s.BudgetBytes)
}

// String returns a human-readable summary.
func (s MemoryStats) String() string {
	return fmt.Sprintf("Memory[%.1f%% used, %d/%d KB, peak %d KB, %d buffers, %d images]",
		s.Utilization()*100,
		s.UsedBytes/1024,
		s.BudgetBytes/1024,
		s.PeakBytes/1024,
		s.Buffers,
		s.Images)
}

// Allocator creates buffers and images against a memory budget.
// Memory returns to the budget when a resource's last reference is
// released.
//
// Allocator is safe for concurrent use.
type Allocator struct {
	dc *DeviceContext

	mu          sync.Mutex
	budget      uint64
	used        uint64
	peak        uint64
	buffers     int
	images      int
	allocations uint64
}

func newAllocator(dc *DeviceContext, budget uint64) *Allocator {
	return &Allocator{dc: dc, budget: budget}
}

// Stats returns a snapshot of the allocator usage.
func (a *Allocator) Stats() MemoryStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return MemoryStats{
		BudgetBytes: a.budget,
		UsedBytes:   a.used,
		PeakBytes:   a.peak,
		Buffers:     a.buffers,
		Images:      a.images,
		Allocations: a.allocations,
	}
}

func (a *Allocator) reserve(size uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if size > a.budget-a.used {
		return fmt.Errorf("%w: %d bytes requested, %d of %d bytes in use", ErrAllocation, size, a.used, a.budget)
	}
	a.used += size
	a.peak = max(a.peak, a.used)
	return nil
}

func (a *Allocator) commit(buffer bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.allocations++
	if buffer {
		a.buffers++
	} else {
		a.images++
	}
}

func (a *Allocator) unreserve(size uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.used -= size
}

func (a *Allocator) free(size uint64, buffer bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.used -= size
	if buffer {
		a.buffers--
	} else {
		a.images--
	}
}

// BufferDesc describes a buffer of Count elements of ElementSize bytes.
type BufferDesc struct {
	Label string

	// ElementSize is the size of one element in bytes. Zero means 1.
	ElementSize uint64

	// Count is the number of elements. CreateBufferInit derives it from
	// the initial data when zero.
	Count uint64

	Usage BufferUsage

	// HostVisible buffers can be written and read by the host.
	HostVisible bool
}

func (d BufferDesc) elementSize() uint64 {
	if d.ElementSize == 0 {
		return 1
	}
	return d.ElementSize
}

// CreateBuffer allocates a zero-initialized buffer.
func (a *Allocator) CreateBuffer(desc BufferDesc) (*Buffer, error) {
	return a.createBuffer(desc, nil)
}

// CreateBufferInit allocates a buffer holding data. Device-local buffers
// are filled by the driver at creation.
func (a *Allocator) CreateBufferInit(desc BufferDesc, data []byte) (*Buffer, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: buffer %q: no initial data", ErrAllocation, desc.Label)
	}
	es := desc.elementSize()
	if desc.Count == 0 {
		if uint64(len(data))%es != 0 {
			return nil, fmt.Errorf("%w: buffer %q: %d bytes is not a multiple of element size %d",
				ErrAllocation, desc.Label, len(data), es)
		}
		desc.Count = uint64(len(data)) / es
	}
	return a.createBuffer(desc, data)
}

func (a *Allocator) createBuffer(desc BufferDesc, data []byte) (*Buffer, error) {
	if err := a.dc.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAllocation, err)
	}

	es := desc.elementSize()
	hi, size := bits.Mul64(es, desc.Count)
	switch {
	case desc.Count == 0:
		return nil, fmt.Errorf("%w: buffer %q: zero size", ErrAllocation, desc.Label)
	case hi != 0:
		return nil, fmt.Errorf("%w: buffer %q: %d x %d bytes overflows", ErrAllocation, desc.Label, desc.Count, es)
	case desc.Usage&^bufferUsageAll != 0:
		return nil, fmt.Errorf("%w: buffer %q: unknown usage 0x%x", ErrAllocation, desc.Label, uint16(desc.Usage))
	case desc.Usage == 0 && !desc.HostVisible:
		return nil, fmt.Errorf("%w: buffer %q: device-local buffer without usage", ErrAllocation, desc.Label)
	case uint64(len(data)) > size:
		return nil, fmt.Errorf("%w: buffer %q: %d bytes of data for a %d byte buffer", ErrAllocation, desc.Label, len(data), size)
	case size > a.dc.Limits().MaxBufferSize:
		return nil, fmt.Errorf("%w: buffer %q: %d bytes exceeds device limit %d", ErrAllocation, desc.Label, size, a.dc.Limits().MaxBufferSize)
	}

	if err := a.reserve(size); err != nil {
		return nil, fmt.Errorf("buffer %q: %w", desc.Label, err)
	}
	raw, err := a.dc.dev.NewBuffer(&driver.BufferDesc{
		Label:       desc.Label,
		Size:        size,
		Usage:       desc.Usage,
		HostVisible: desc.HostVisible,
		Contents:    data,
	})
	if err != nil {
		a.unreserve(size)
		err = mapDriverErr(err, ErrAllocation)
		a.dc.noteLost(err)
		return nil, fmt.Errorf("buffer %q: %w", desc.Label, err)
	}
	a.commit(true)

	b := &Buffer{
		dc:          a.dc,
		raw:         raw,
		label:       desc.Label,
		size:        size,
		elemSize:    es,
		usage:       desc.Usage,
		hostVisible: desc.HostVisible,
	}
	b.refs.n.Store(1)
	Logger().Debug("gpuflow: buffer created", "label", desc.Label, "size", size, "usage", uint16(desc.Usage), "host_visible", desc.HostVisible)
	return b, nil
}

// ImageDesc describes a 2D image.
type ImageDesc struct {
	Label  string
	Width  uint32
	Height uint32
	Format Format
	Usage  ImageUsage
}

// CreateImage allocates an image. Its contents are undefined until
// cleared or rendered to.
func (a *Allocator) CreateImage(desc ImageDesc) (*Image, error) {
	if err := a.dc.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAllocation, err)
	}

	limits := a.dc.Limits()
	caps := a.dc.dev.FormatCaps(desc.Format)
	switch {
	case desc.Width == 0 || desc.Height == 0:
		return nil, fmt.Errorf("%w: image %q: zero size %dx%d", ErrAllocation, desc.Label, desc.Width, desc.Height)
	case desc.Width > limits.MaxImageDimension || desc.Height > limits.MaxImageDimension:
		return nil, fmt.Errorf("%w: image %q: %dx%d exceeds device limit %d", ErrAllocation, desc.Label, desc.Width, desc.Height, limits.MaxImageDimension)
	case desc.Format.BytesPerPixel() == 0:
		return nil, fmt.Errorf("%w: image %q: format %v", ErrAllocation, desc.Label, desc.Format)
	case desc.Usage == 0 || desc.Usage&^imageUsageAll != 0:
		return nil, fmt.Errorf("%w: image %q: invalid usage 0x%x", ErrAllocation, desc.Label, uint16(desc.Usage))
	case desc.Usage&ImageUsageRenderTarget != 0 && !caps.Contains(driver.FormatCapRenderTarget):
		return nil, fmt.Errorf("%w: image %q: %v cannot be a render target", ErrAllocation, desc.Label, desc.Format)
	case desc.Usage&ImageUsageStorage != 0 && !caps.Contains(driver.FormatCapStorage):
		return nil, fmt.Errorf("%w: image %q: %v cannot be a storage image", ErrAllocation, desc.Label, desc.Format)
	case desc.Usage&(ImageUsageTransferSrc|ImageUsageTransferDst) != 0 && !caps.Contains(driver.FormatCapTransfer):
		return nil, fmt.Errorf("%w: image %q: %v does not support transfers", ErrAllocation, desc.Label, desc.Format)
	}

	size := uint64(desc.Width) * uint64(desc.Height) * uint64(desc.Format.BytesPerPixel())
	if err := a.reserve(size); err != nil {
		return nil, fmt.Errorf("image %q: %w", desc.Label, err)
	}
	raw, err := a.dc.dev.NewImage(&driver.ImageDesc{
		Label:  desc.Label,
		Width:  desc.Width,
		Height: desc.Height,
		Format: desc.Format,
		Usage:  desc.Usage,
	})
	if err != nil {
		a.unreserve(size)
		err = mapDriverErr(err, ErrAllocation)
		a.dc.noteLost(err)
		return nil, fmt.Errorf("image %q: %w", desc.Label, err)
	}
	a.commit(false)

	img := &Image{
		dc:     a.dc,
		raw:    raw,
		label:  desc.Label,
		width:  desc.Width,
		height: desc.Height,
		format: desc.Format,
		usage:  desc.Usage,
		size:   size,
	}
	img.refs.n.Store(1)
	Logger().Debug("gpuflow: image created", "label", desc.Label, "width", desc.Width, "height", desc.Height, "format", desc.Format.String())
	return img, nil
}
