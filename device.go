package gpuflow

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gpuflow/driver"
)

// DeviceContext owns one logical device and its execution queue.
//
// Every object created from a DeviceContext belongs to it and must only be
// used with it. Once the device is lost or the context closed, operations
// fail with ErrDeviceLost or ErrDeviceClosed.
type DeviceContext struct {
	label    string
	drv      string
	info     AdapterInfo
	family   QueueFamily
	features Features

	dev   driver.Device
	queue driver.Queue
	alloc *Allocator

	mu       sync.Mutex
	closed   bool
	lostErr  error
	inflight sync.WaitGroup

	// submitMu keeps fence ids in queue order.
	submitMu sync.Mutex
	fenceSeq atomic.Uint64
}

// Initialize selects an adapter, opens a logical device on it and binds
// one queue from a family satisfying cfg.Capabilities.
//
// Adapters already owned by another DeviceContext are skipped.
func Initialize(cfg Config) (*DeviceContext, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	names := []string{cfg.Driver}
	if cfg.Driver == "" {
		names = driver.Ordered()
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: no drivers registered", ErrNoDevice)
	}

	log := Logger()
	var (
		sawAdapter, sawQueue, sawFeatures bool
		lastErr                           error
	)
	for _, name := range names {
		drv := driver.Get(name)
		if drv == nil {
			lastErr = fmt.Errorf("driver %q not registered", name)
			continue
		}
		propagateLogger(drv, log)

		adapters, err := drv.Adapters()
		if err != nil {
			log.Warn("gpuflow: driver unavailable", "driver", name, "err", err)
			lastErr = err
			continue
		}

		for _, a := range adapters {
			info := a.Info()
			if cfg.Adapter != "" && !strings.Contains(strings.ToLower(info.Name), strings.ToLower(cfg.Adapter)) {
				continue
			}
			sawAdapter = true
			for _, f := range info.QueueFamilies {
				log.Debug("gpuflow: queue family",
					"adapter", info.Name, "family", f.Index, "queues", f.Count, "caps", f.Caps.String())
			}

			family, ok := pickFamily(info.QueueFamilies, cfg.Capabilities)
			if !ok {
				continue
			}
			sawQueue = true
			if !info.Features.Contains(cfg.Features) {
				continue
			}
			sawFeatures = true

			dev, err := a.Open(family.Index, cfg.Features)
			if err != nil {
				if !errors.Is(err, driver.ErrAdapterInUse) {
					log.Warn("gpuflow: adapter open failed", "adapter", info.Name, "err", err)
				}
				lastErr = err
				continue
			}

			dc := newDeviceContext(cfg, name, info, family, dev)
			log.Info("gpuflow: device opened",
				"driver", name, "adapter", info.Name, "type", info.Type.String(),
				"family", family.Index, "caps", family.Caps.String())
			return dc, nil
		}
	}

	switch {
	case !sawAdapter:
		if lastErr != nil {
			return nil, fmt.Errorf("%w: %w", ErrNoDevice, lastErr)
		}
		return nil, fmt.Errorf("%w: no adapters found", ErrNoDevice)
	case !sawQueue:
		return nil, fmt.Errorf("%w: need %v", ErrQueueUnavailable, cfg.Capabilities)
	case !sawFeatures:
		return nil, fmt.Errorf("%w: features %v not available", ErrUnsupportedConfiguration, cfg.Features)
	default:
		return nil, fmt.Errorf("%w: every suitable adapter is unavailable: %w", ErrNoDevice, lastErr)
	}
}

func pickFamily(families []QueueFamily, need Capabilities) (QueueFamily, bool) {
	for _, f := range families {
		if f.Count > 0 && f.Caps.Contains(need) {
			return f, true
		}
	}
	return QueueFamily{}, false
}

func newDeviceContext(cfg Config, drv string, info AdapterInfo, family QueueFamily, dev driver.Device) *DeviceContext {
	budget := cfg.MemoryBudget
	if budget == 0 {
		budget = dev.Limits().MemoryBytes
	}
	if budget == 0 {
		budget = DefaultMemoryBudget
	}

	dc := &DeviceContext{
		label:    cfg.Label,
		drv:      drv,
		info:     info,
		family:   family,
		features: cfg.Features,
		dev:      dev,
		queue:    dev.Queue(),
	}
	dc.alloc = newAllocator(dc, budget)
	return dc
}

// Close waits for in-flight submissions, then destroys the device and
// gives the adapter back. Close is safe to call multiple times.
func (dc *DeviceContext) Close() {
	dc.mu.Lock()
	if dc.closed {
		dc.mu.Unlock()
		return
	}
	dc.closed = true
	dc.mu.Unlock()

	dc.inflight.Wait()
	dc.dev.Destroy()
	Logger().Info("gpuflow: device closed", "adapter", dc.info.Name, "label", dc.label)
}

// Err returns ErrDeviceClosed or an ErrDeviceLost error if the context is
// no longer usable, and nil otherwise.
func (dc *DeviceContext) Err() error {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	if dc.lostErr != nil {
		return dc.lostErr
	}
	if dc.closed {
		return ErrDeviceClosed
	}
	return nil
}

func (dc *DeviceContext) markLost(err error) {
	dc.mu.Lock()
	first := dc.lostErr == nil
	if first {
		dc.lostErr = err
	}
	dc.mu.Unlock()
	if first {
		Logger().Error("gpuflow: device lost", "adapter", dc.info.Name, "err", err)
	}
}

// Allocator returns the resource allocator of the context.
func (dc *DeviceContext) Allocator() *Allocator { return dc.alloc }

// Info describes the selected adapter.
func (dc *DeviceContext) Info() AdapterInfo { return dc.info }

// Driver returns the name of the driver the context runs on.
func (dc *DeviceContext) Driver() string { return dc.drv }

// QueueFamily returns the family the execution queue belongs to.
func (dc *DeviceContext) QueueFamily() QueueFamily { return dc.family }

// Features returns the features enabled on the device.
func (dc *DeviceContext) Features() Features { return dc.features }

// Limits returns the device limits.
func (dc *DeviceContext) Limits() driver.Limits { return dc.dev.Limits() }

// DriverDevice exposes the underlying driver device, e.g. for fault
// injection on the software driver.
func (dc *DeviceContext) DriverDevice() driver.Device { return dc.dev }

// Adapters lists the adapters of every registered driver, or of the named
// driver when name is non-empty. Drivers that fail to enumerate are
// skipped.
func Adapters(name string) []AdapterInfo {
	names := []string{name}
	if name == "" {
		names = driver.Ordered()
	}

	var out []AdapterInfo
	for _, n := range names {
		drv := driver.Get(n)
		if drv == nil {
			continue
		}
		adapters, err := drv.Adapters()
		if err != nil {
			Logger().Debug("gpuflow: driver unavailable", "driver", n, "err", err)
			continue
		}
		for _, a := range adapters {
			out = append(out, a.Info())
		}
	}
	return out
}

// noteLost records err as the loss of the device if it is an
// ErrDeviceLost error.
func (dc *DeviceContext) noteLost(err error) {
	if errors.Is(err, ErrDeviceLost) {
		dc.markLost(err)
	}
}

// beginSubmit registers an in-flight submission unless the context is
// unusable. The caller must call endSubmit once the work completes.
func (dc *DeviceContext) beginSubmit() error {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	if dc.lostErr != nil {
		return dc.lostErr
	}
	if dc.closed {
		return ErrDeviceClosed
	}
	dc.inflight.Add(1)
	return nil
}

func (dc *DeviceContext) endSubmit() { dc.inflight.Done() }
