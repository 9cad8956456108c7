//go:build !nogpu

package wgpu

import (
	"fmt"
	"sync"

	"github.com/gogpu/gpuflow/driver"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

type adapter struct {
	drv  *Driver
	hal  hal.Adapter
	info driver.AdapterInfo

	// Set for adapters wrapping a device owned by someone else.
	shared      bool
	sharedDev   hal.Device
	sharedQueue hal.Queue

	mu   sync.Mutex
	open bool
}

func newAdapter(d *Driver, a hal.Adapter, info driver.AdapterInfo) *adapter {
	return &adapter{drv: d, hal: a, info: info}
}

func newSharedAdapter(d *Driver, dev hal.Device, q hal.Queue, info driver.AdapterInfo) *adapter {
	return &adapter{drv: d, info: info, shared: true, sharedDev: dev, sharedQueue: q}
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

	var (
		dev   hal.Device
		queue hal.Queue
	)
	if a.shared {
		dev, queue = a.sharedDev, a.sharedQueue
	} else {
		openDev, err := a.hal.Open(gputypes.Features(0), gputypes.DefaultLimits())
		if err != nil {
			return nil, fmt.Errorf("wgpu: open %s: %w", a.info.Name, err)
		}
		dev, queue = openDev.Device, openDev.Queue
	}
	a.open = true

	return newDevice(a, dev, queue, a.info.QueueFamilies[family]), nil
}

func (a *adapter) release() {
	a.mu.Lock()
	a.open = false
	a.mu.Unlock()
}
