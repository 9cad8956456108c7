//go:build !nogpu

package wgpu

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gpuflow/driver"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	_ "github.com/gogpu/wgpu/hal/vulkan" // register the Vulkan backend
)

// DefaultFenceTimeout bounds how long a queue waits for one submission
// before it declares the device lost.
const DefaultFenceTimeout = 30 * time.Second

// InstanceFactory creates hal instances. hal.Backend values satisfy it.
type InstanceFactory interface {
	CreateInstance(desc *hal.InstanceDescriptor) (hal.Instance, error)
}

// Options configures a driver.
type Options struct {
	// FenceTimeout defaults to DefaultFenceTimeout.
	FenceTimeout time.Duration
}

// Driver exposes hal adapters as gpuflow adapters. The hal instance is
// created on the first call to Adapters and kept for the driver lifetime.
type Driver struct {
	name    string
	factory InstanceFactory
	opts    Options

	initOnce sync.Once
	instance hal.Instance
	adapters []driver.Adapter
	initErr  error

	mu     sync.Mutex
	logger *slog.Logger
}

// New returns a driver reporting the given name that creates its instance
// from factory. New does not register the driver.
func New(name string, factory InstanceFactory, opts Options) *Driver {
	if opts.FenceTimeout <= 0 {
		opts.FenceTimeout = DefaultFenceTimeout
	}
	return &Driver{name: name, factory: factory, opts: opts, logger: slog.New(nopHandler{})}
}

// Name returns the registry name of the driver.
func (d *Driver) Name() string { return d.name }

// Adapters enumerates the adapters of the hal instance.
func (d *Driver) Adapters() ([]driver.Adapter, error) {
	d.initOnce.Do(d.init)
	return d.adapters, d.initErr
}

func (d *Driver) init() {
	if d.factory == nil {
		d.initErr = errors.New("wgpu: vulkan backend not available")
		return
	}
	instance, err := d.factory.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		d.initErr = fmt.Errorf("wgpu: create instance: %w", err)
		return
	}
	d.instance = instance

	exposed := instance.EnumerateAdapters(nil)
	for i := range exposed {
		d.adapters = append(d.adapters, newAdapter(d, exposed[i].Adapter, adapterInfo(d.name, exposed[i].Info.Name, deviceType(&exposed[i]))))
	}
	d.log().Debug("wgpu: adapters enumerated", "count", len(d.adapters))
}

// Close destroys the hal instance. Devices opened from it must be
// destroyed first.
func (d *Driver) Close() {
	d.initOnce.Do(func() {})
	if d.instance != nil {
		d.instance.Destroy()
		d.instance = nil
	}
}

// SetLogger sets the logger used by devices opened after the call.
func (d *Driver) SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.New(nopHandler{})
	}
	d.mu.Lock()
	d.logger = l
	d.mu.Unlock()
}

func (d *Driver) log() *slog.Logger {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.logger
}

func adapterInfo(drv, name string, t driver.DeviceType) driver.AdapterInfo {
	lim := gputypes.DefaultLimits()
	return driver.AdapterInfo{
		Name:   name,
		Driver: drv,
		Type:   t,
		QueueFamilies: []driver.QueueFamily{
			{Index: 0, Caps: driver.QueueGraphics | driver.QueueCompute | driver.QueueTransfer, Count: 1},
		},
		Limits: driver.Limits{
			MaxBufferSize:      lim.MaxBufferSize,
			MaxImageDimension:  lim.MaxTextureDimension2D,
			MaxWorkgroupCount:  [3]uint32{lim.MaxComputeWorkgroupsPerDimension, lim.MaxComputeWorkgroupsPerDimension, lim.MaxComputeWorkgroupsPerDimension},
			MaxBindingsPerPass: int(lim.MaxBindingsPerBindGroup),
		},
	}
}

// halProvider is implemented by device providers backed by hal.
type halProvider interface {
	HalDevice() any
	HalQueue() any
}

// NewSharedDriver returns a driver with a single adapter wrapping the
// device of a presentation provider. Opening the adapter does not create a
// new device, and destroying the gpuflow device leaves the shared one alive.
func NewSharedDriver(name string, provider gpucontext.DeviceProvider, opts Options) (*Driver, error) {
	if provider == nil {
		return nil, fmt.Errorf("%w: nil device provider", driver.ErrUnsupported)
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, fmt.Errorf("%w: device provider %T does not expose hal objects", driver.ErrUnsupported, provider)
	}
	dev, ok := hp.HalDevice().(hal.Device)
	if !ok {
		return nil, fmt.Errorf("%w: HalDevice returned %T", driver.ErrUnsupported, hp.HalDevice())
	}
	q, ok := hp.HalQueue().(hal.Queue)
	if !ok {
		return nil, fmt.Errorf("%w: HalQueue returned %T", driver.ErrUnsupported, hp.HalQueue())
	}

	d := New(name, nil, opts)
	d.initOnce.Do(func() {
		info := adapterInfo(name, "shared device", driver.DeviceTypeOther)
		d.adapters = []driver.Adapter{newSharedAdapter(d, dev, q, info)}
	})
	return d, nil
}

func init() {
	backend, ok := hal.GetBackend(gputypes.BackendVulkan)
	var factory InstanceFactory
	if ok {
		factory = backend
	}
	drv := New(driver.NameWGPU, factory, Options{})
	driver.Register(driver.NameWGPU, func() driver.Driver { return drv })
}
