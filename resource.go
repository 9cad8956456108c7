package gpuflow

import (
	"fmt"
	"sync/atomic"

	"github.com/gogpu/gpuflow/driver"
)

// refCount implements Retain/Release bookkeeping. The zero value has no
// references; creators store 1.
type refCount struct {
	n atomic.Int32
}

// acquire adds a reference unless the count already dropped to zero.
func (r *refCount) acquire() bool {
	for {
		n := r.n.Load()
		if n <= 0 {
			return false
		}
		if r.n.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// drop removes a reference and reports whether it was the last one.
// Dropping a released object is a no-op returning false.
func (r *refCount) drop() (last bool, ok bool) {
	for {
		n := r.n.Load()
		if n <= 0 {
			return false, false
		}
		if r.n.CompareAndSwap(n, n-1) {
			return n == 1, true
		}
	}
}

func (r *refCount) live() bool { return r.n.Load() > 0 }

// Buffer is a contiguous block of device memory.
type Buffer struct {
	dc          *DeviceContext
	raw         driver.Buffer
	label       string
	size        uint64
	elemSize    uint64
	usage       BufferUsage
	hostVisible bool

	refs refCount

	// pending counts in-flight submissions using the buffer.
	pending atomic.Int32

	// lastUse is the fence of the latest submission using the buffer. It
	// is stored under DeviceContext.submitMu.
	lastUse atomic.Pointer[Fence]
}

// Label returns the buffer label.
func (b *Buffer) Label() string { return b.label }

// Size returns the size in bytes.
func (b *Buffer) Size() uint64 { return b.size }

// ElementSize returns the element size in bytes.
func (b *Buffer) ElementSize() uint64 { return b.elemSize }

// Count returns the number of elements.
func (b *Buffer) Count() uint64 { return b.size / b.elemSize }

// Usage returns the usage set.
func (b *Buffer) Usage() BufferUsage { return b.usage }

// HostVisible reports whether the host can write and read the buffer.
func (b *Buffer) HostVisible() bool { return b.hostVisible }

// Retain adds a reference and returns b.
func (b *Buffer) Retain() *Buffer {
	if !b.refs.acquire() {
		Logger().Warn("gpuflow: retain of released buffer", "label", b.label)
	}
	return b
}

// Release drops a reference. The memory returns to the allocator budget
// when the last reference is gone.
func (b *Buffer) Release() {
	last, ok := b.refs.drop()
	if !ok {
		Logger().Warn("gpuflow: buffer released too many times", "label", b.label)
		return
	}
	if last {
		b.raw.Destroy()
		b.dc.alloc.free(b.size, true)
		Logger().Debug("gpuflow: buffer destroyed", "label", b.label, "size", b.size)
	}
}

// Busy reports whether a pending submission uses the buffer.
func (b *Buffer) Busy() bool { return b.pending.Load() > 0 }

// Write copies data into a host-visible buffer at offset. It fails with
// ErrResourceBusy while a pending submission uses the buffer.
func (b *Buffer) Write(offset uint64, data []byte) error {
	if err := b.check(); err != nil {
		return err
	}
	switch {
	case !b.hostVisible:
		return invalidf("buffer %q is not host visible", b.label)
	case b.Busy():
		return fmt.Errorf("%w: buffer %q", ErrResourceBusy, b.label)
	case offset > b.size || uint64(len(data)) > b.size-offset:
		return invalidf("write of %d bytes at offset %d overruns buffer %q (%d bytes)", len(data), offset, b.label, b.size)
	}
	if err := b.raw.Write(offset, data); err != nil {
		err = mapDriverErr(err, ErrInvalidOperation)
		b.dc.noteLost(err)
		return err
	}
	return nil
}

// check reports whether the buffer and its context are usable.
func (b *Buffer) check() error {
	if !b.refs.live() {
		return fmt.Errorf("%w: buffer %q", ErrResourceReleased, b.label)
	}
	return b.dc.Err()
}

// Image is a 2D texel grid in device memory.
type Image struct {
	dc     *DeviceContext
	raw    driver.Image
	label  string
	width  uint32
	height uint32
	format Format
	usage  ImageUsage
	size   uint64

	refs    refCount
	pending atomic.Int32
}

// Label returns the image label.
func (i *Image) Label() string { return i.label }

// Width returns the width in pixels.
func (i *Image) Width() uint32 { return i.width }

// Height returns the height in pixels.
func (i *Image) Height() uint32 { return i.height }

// Format returns the texel format.
func (i *Image) Format() Format { return i.format }

// Usage returns the usage set.
func (i *Image) Usage() ImageUsage { return i.usage }

// ByteSize returns the size of the tightly packed texel data.
func (i *Image) ByteSize() uint64 { return i.size }

// Retain adds a reference and returns i.
func (i *Image) Retain() *Image {
	if !i.refs.acquire() {
		Logger().Warn("gpuflow: retain of released image", "label", i.label)
	}
	return i
}

// Release drops a reference.
func (i *Image) Release() {
	last, ok := i.refs.drop()
	if !ok {
		Logger().Warn("gpuflow: image released too many times", "label", i.label)
		return
	}
	if last {
		i.raw.Destroy()
		i.dc.alloc.free(i.size, false)
		Logger().Debug("gpuflow: image destroyed", "label", i.label)
	}
}

func (i *Image) check() error {
	if !i.refs.live() {
		return fmt.Errorf("%w: image %q", ErrResourceReleased, i.label)
	}
	return i.dc.Err()
}
