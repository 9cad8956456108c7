// Package soft implements a software gpuflow driver.
//
// Devices own host memory, execute each queue on a dedicated goroutine in
// FIFO order, and run compute workgroups and raster tiles on a worker pool.
// Shader entry points are bound by name to Go kernels registered with
// RegisterCompute, RegisterVertex and RegisterFragment.
//
// The package registers a default driver named "soft" on import:
//
//	import _ "github.com/gogpu/gpuflow/driver/soft"
package soft

import (
	"log/slog"
	"sync"

	"github.com/gogpu/gpuflow/driver"
)

// Defaults for adapter options.
const (
	DefaultMemoryBytes       = 1 << 30
	DefaultMaxBufferSize     = 1 << 28
	DefaultMaxImageDimension = 16384
	DefaultMaxWorkgroupCount = 65535
)

// AdapterOptions configures one software adapter.
type AdapterOptions struct {
	// Name defaults to "gpuflow software device".
	Name string

	// Families lists the capabilities of each queue family. Defaults to a
	// single graphics|compute|transfer family.
	Families []driver.QueueCaps

	// Features the adapter can enable.
	Features driver.Features

	// MemoryBytes is the allocation budget. Defaults to DefaultMemoryBytes.
	MemoryBytes uint64

	// Workers is the worker pool size. 0 means GOMAXPROCS.
	Workers int
}

// Options configures a software driver.
type Options struct {
	// Adapters lists the adapters the driver exposes. nil means one
	// default adapter; an empty non-nil slice means none.
	Adapters []AdapterOptions
}

// Driver is a software driver. Its adapters are created once and shared by
// every caller, so exclusive ownership holds across Get calls.
type Driver struct {
	name     string
	adapters []driver.Adapter

	mu     sync.Mutex
	logger *slog.Logger
}

// New creates a software driver reporting the given name. New does not
// register the driver; use driver.Register to make it selectable.
func New(name string, opts Options) *Driver {
	d := &Driver{name: name, logger: slog.New(nopHandler{})}

	adapters := opts.Adapters
	if adapters == nil {
		adapters = []AdapterOptions{{}}
	}
	for _, ao := range adapters {
		d.adapters = append(d.adapters, newAdapter(d, name, ao))
	}
	return d
}

// Name returns the registry name of the driver.
func (d *Driver) Name() string { return d.name }

// Adapters returns the software adapters.
func (d *Driver) Adapters() ([]driver.Adapter, error) {
	return d.adapters, nil
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

var defaultDriver = New(driver.NameSoft, Options{})

func init() {
	driver.Register(driver.NameSoft, func() driver.Driver { return defaultDriver })
}
