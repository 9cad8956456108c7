package soft

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gpuflow/driver"
	"github.com/gogpu/gpuflow/internal/parallel"
)

// Device is a software logical device.
type Device struct {
	adapter  *adapter
	features driver.Features
	limits   driver.Limits
	log      *slog.Logger

	pool  *parallel.WorkerPool
	queue *queue

	usedBytes atomic.Uint64

	lostMu  sync.Mutex
	lostErr error
	lost    atomic.Bool

	destroyOnce sync.Once
}

var _ driver.Device = (*Device)(nil)

func newDevice(a *adapter, family driver.QueueFamily, features driver.Features) *Device {
	d := &Device{
		adapter:  a,
		features: features,
		limits:   a.info.Limits,
		log:      a.drv.log(),
		pool:     parallel.NewWorkerPool(a.opts.Workers),
	}
	d.queue = newQueue(d, family.Caps)
	d.log.Info("soft: device opened",
		"adapter", a.info.Name,
		"family", family.Index,
		"caps", family.Caps.String(),
		"workers", d.pool.Workers())
	return d
}

// Limits returns the device limits.
func (d *Device) Limits() driver.Limits { return d.limits }

// FormatCaps reports the uses of an image format.
func (d *Device) FormatCaps(f driver.Format) driver.FormatCaps {
	switch f {
	case driver.FormatRGBA8Unorm, driver.FormatBGRA8Unorm, driver.FormatR8Unorm:
		return driver.FormatCapRenderTarget | driver.FormatCapStorage | driver.FormatCapTransfer
	case driver.FormatR32Float, driver.FormatRGBA32Float:
		return driver.FormatCapStorage | driver.FormatCapTransfer
	default:
		return 0
	}
}

// Queue returns the device queue.
func (d *Device) Queue() driver.Queue { return d.queue }

// Lose puts the device into the lost state, as a hardware fault would.
// Work not yet executed completes with an error wrapping driver.ErrDeviceLost.
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
	d.log.Error("soft: device lost", "adapter", d.adapter.info.Name, "reason", reason)
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

// Destroy stops the queue, releases the worker pool and gives the adapter
// back. Destroy is safe to call multiple times.
func (d *Device) Destroy() {
	d.destroyOnce.Do(func() {
		d.queue.close()
		d.pool.Close()
		d.adapter.release()
		d.log.Info("soft: device destroyed", "adapter", d.adapter.info.Name)
	})
}

func (d *Device) reserve(size uint64) error {
	for {
		used := d.usedBytes.Load()
		if size > d.limits.MemoryBytes || used > d.limits.MemoryBytes-size {
			return fmt.Errorf("%w: %d bytes requested, %d of %d in use",
				driver.ErrOutOfMemory, size, used, d.limits.MemoryBytes)
		}
		if d.usedBytes.CompareAndSwap(used, used+size) {
			return nil
		}
	}
}

func (d *Device) unreserve(size uint64) {
	d.usedBytes.Add(^(size - 1))
}

// NewBuffer allocates zeroed host memory for a buffer.
func (d *Device) NewBuffer(desc *driver.BufferDesc) (driver.Buffer, error) {
	if err := d.Lost(); err != nil {
		return nil, err
	}
	if desc.Size == 0 || desc.Size > d.limits.MaxBufferSize {
		return nil, fmt.Errorf("%w: buffer size %d (max %d)", driver.ErrOutOfMemory, desc.Size, d.limits.MaxBufferSize)
	}
	if uint64(len(desc.Contents)) > desc.Size {
		return nil, fmt.Errorf("%w: %d bytes of contents for a %d byte buffer", driver.ErrUnsupported, len(desc.Contents), desc.Size)
	}
	if err := d.reserve(desc.Size); err != nil {
		return nil, err
	}

	b := &buffer{
		dev:         d,
		label:       desc.Label,
		data:        make([]byte, desc.Size),
		hostVisible: desc.HostVisible,
	}
	copy(b.data, desc.Contents)
	d.log.Debug("soft: buffer created", "label", desc.Label, "size", desc.Size, "host_visible", desc.HostVisible)
	return b, nil
}

// NewImage allocates host memory for an image.
func (d *Device) NewImage(desc *driver.ImageDesc) (driver.Image, error) {
	if err := d.Lost(); err != nil {
		return nil, err
	}
	bpp := desc.Format.BytesPerPixel()
	if bpp == 0 {
		return nil, fmt.Errorf("%w: format %v", driver.ErrUnsupported, desc.Format)
	}
	if desc.Width == 0 || desc.Height == 0 ||
		desc.Width > d.limits.MaxImageDimension || desc.Height > d.limits.MaxImageDimension {
		return nil, fmt.Errorf("%w: image size %dx%d", driver.ErrUnsupported, desc.Width, desc.Height)
	}
	size := uint64(desc.Width) * uint64(desc.Height) * uint64(bpp)
	if err := d.reserve(size); err != nil {
		return nil, err
	}

	d.log.Debug("soft: image created", "label", desc.Label, "width", desc.Width, "height", desc.Height, "format", desc.Format.String())
	return &image{
		dev:    d,
		label:  desc.Label,
		width:  desc.Width,
		height: desc.Height,
		format: desc.Format,
		data:   make([]byte, size),
	}, nil
}

// NewShaderModule binds the entry point to its registered kernel.
func (d *Device) NewShaderModule(desc *driver.ShaderDesc) (driver.ShaderModule, error) {
	if len(desc.Code) == 0 {
		return nil, fmt.Errorf("%w: empty shader code", driver.ErrUnsupported)
	}
	k, ok := lookupKernel(desc.Stage, desc.EntryPoint)
	if !ok {
		return nil, fmt.Errorf("%w: %s %q", driver.ErrNoKernel, desc.Stage, desc.EntryPoint)
	}

	ls := desc.Workgroup
	for i := range ls {
		if ls[i] == 0 {
			ls[i] = 1
		}
	}
	return &shaderModule{stage: desc.Stage, entry: desc.EntryPoint, kernel: k, localSize: ls}, nil
}

// NewComputePipeline creates a compute pipeline from a compute module.
func (d *Device) NewComputePipeline(desc *driver.ComputePipelineDesc) (driver.Pipeline, error) {
	sm, ok := desc.Compute.(*shaderModule)
	if !ok || sm.stage != driver.StageCompute {
		return nil, fmt.Errorf("%w: compute stage required", driver.ErrUnsupported)
	}
	return &pipeline{
		label:     desc.Label,
		compute:   sm.kernel.(ComputeKernel),
		localSize: sm.localSize,
	}, nil
}

// NewGraphicsPipeline creates a graphics pipeline.
func (d *Device) NewGraphicsPipeline(desc *driver.GraphicsPipelineDesc) (driver.Pipeline, error) {
	vs, ok := desc.Vertex.(*shaderModule)
	if !ok || vs.stage != driver.StageVertex {
		return nil, fmt.Errorf("%w: vertex stage required", driver.ErrUnsupported)
	}
	fs, ok := desc.Fragment.(*shaderModule)
	if !ok || fs.stage != driver.StageFragment {
		return nil, fmt.Errorf("%w: fragment stage required", driver.ErrUnsupported)
	}
	if !d.FormatCaps(desc.Attachment.Format).Contains(driver.FormatCapRenderTarget) {
		return nil, fmt.Errorf("%w: %v is not renderable", driver.ErrUnsupported, desc.Attachment.Format)
	}
	for _, attr := range desc.VertexLayout.Attributes {
		if attr.Location >= MaxAttributes {
			return nil, fmt.Errorf("%w: vertex attribute location %d (max %d)", driver.ErrUnsupported, attr.Location, MaxAttributes-1)
		}
	}

	return &pipeline{
		label:      desc.Label,
		vertex:     vs.kernel.(VertexKernel),
		fragment:   fs.kernel.(FragmentKernel),
		layout:     desc.VertexLayout,
		viewport:   desc.Viewport,
		attachment: desc.Attachment,
	}, nil
}
