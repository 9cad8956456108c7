package soft

import (
	"fmt"
	"sync"

	"github.com/gogpu/gpuflow/driver"
)

type adapter struct {
	drv  *Driver
	info driver.AdapterInfo
	opts AdapterOptions

	mu   sync.Mutex
	open bool
}

func newAdapter(d *Driver, driverName string, opts AdapterOptions) *adapter {
	if opts.Name == "" {
		opts.Name = "gpuflow software device"
	}
	if opts.Families == nil {
		opts.Families = []driver.QueueCaps{driver.QueueGraphics | driver.QueueCompute | driver.QueueTransfer}
	}
	if opts.MemoryBytes == 0 {
		opts.MemoryBytes = DefaultMemoryBytes
	}

	families := make([]driver.QueueFamily, len(opts.Families))
	for i, caps := range opts.Families {
		families[i] = driver.QueueFamily{Index: i, Caps: caps, Count: 1}
	}

	return &adapter{
		drv:  d,
		opts: opts,
		info: driver.AdapterInfo{
			Name:          opts.Name,
			Driver:        driverName,
			Type:          driver.DeviceTypeCPU,
			QueueFamilies: families,
			Features:      opts.Features,
			Limits: driver.Limits{
				MaxBufferSize:      min(DefaultMaxBufferSize, opts.MemoryBytes),
				MaxImageDimension:  DefaultMaxImageDimension,
				MaxWorkgroupCount:  [3]uint32{DefaultMaxWorkgroupCount, DefaultMaxWorkgroupCount, DefaultMaxWorkgroupCount},
				MaxBindingsPerPass: 32,
				MemoryBytes:        opts.MemoryBytes,
			},
		},
	}
}

func (a *adapter) Info() driver.AdapterInfo { return a.info }

func (a *adapter) Open(family int, features driver.Features) (driver.Device, error) {
	if family < 0 || family >= len(a.info.QueueFamilies) {
		return nil, fmt.Errorf("%w: queue family %d out of range", driver.ErrUnsupported, family)
	}
	if !a.info.Features.Contains(features) {
		return nil, fmt.Errorf("%w: features %v (adapter has %v)", driver.ErrUnsupported, features, a.info.Features)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.open {
		return nil, fmt.Errorf("%w: %s", driver.ErrAdapterInUse, a.info.Name)
	}
	a.open = true

	return newDevice(a, a.info.QueueFamilies[family], features), nil
}

func (a *adapter) release() {
	a.mu.Lock()
	a.open = false
	a.mu.Unlock()
}
