package driver

import "fmt"

// Driver is a source of adapters.
type Driver interface {
	// Name returns the registry name of the driver.
	Name() string

	// Adapters enumerates the physical devices the driver can open.
	// An empty slice with a nil error means the driver works but found
	// no device.
	Adapters() ([]Adapter, error)
}

// Adapter is a physical device.
type Adapter interface {
	// Info describes the adapter, its queue families and limits.
	Info() AdapterInfo

	// Open creates the logical device with one queue from the given family.
	// Open returns ErrAdapterInUse if another device owns the adapter and
	// ErrUnsupported if features are not all available.
	Open(family int, features Features) (Device, error)
}

// Device is a logical device. All objects it creates belong to it and must
// only be used with it.
type Device interface {
	// Limits returns the device limits.
	Limits() Limits

	// FormatCaps reports what an image format can be used for.
	FormatCaps(f Format) FormatCaps

	NewBuffer(desc *BufferDesc) (Buffer, error)
	NewImage(desc *ImageDesc) (Image, error)
	NewShaderModule(desc *ShaderDesc) (ShaderModule, error)
	NewComputePipeline(desc *ComputePipelineDesc) (Pipeline, error)
	NewGraphicsPipeline(desc *GraphicsPipelineDesc) (Pipeline, error)

	// Queue returns the single execution queue of the device.
	Queue() Queue

	// Destroy releases the device and gives the adapter back.
	// Pending submissions complete with ErrDestroyed.
	Destroy()
}

// Queue executes command lists in submission order.
type Queue interface {
	// Caps returns the capabilities of the family the queue belongs to.
	Caps() QueueCaps

	// Submit enqueues cmds for asynchronous execution. Exactly one value is
	// sent on done when the work finishes: nil on success or an error
	// wrapping ErrDeviceLost or ErrDestroyed. done must have capacity for
	// that value. An error return means nothing was enqueued.
	Submit(cmds []Command, done chan<- error) error
}

// Buffer is device memory.
type Buffer interface {
	Size() uint64

	// Write copies data into the buffer at offset. Only host-visible
	// buffers accept writes.
	Write(offset uint64, data []byte) error

	// Read copies buffer contents starting at offset into dst. Only
	// host-visible buffers can be read.
	Read(offset uint64, dst []byte) error

	Destroy()
}

// Image is a 2D texel grid.
type Image interface {
	Width() uint32
	Height() uint32
	Format() Format
	Destroy()
}

// ShaderModule is a single-entry-point shader stage.
type ShaderModule interface {
	Destroy()
}

// Pipeline is a compiled compute or graphics pipeline.
type Pipeline interface {
	Destroy()
}

// DeviceType classifies adapters.
type DeviceType uint8

// Device types.
const (
	DeviceTypeOther DeviceType = iota
	DeviceTypeIntegrated
	DeviceTypeDiscrete
	DeviceTypeVirtual
	DeviceTypeCPU
)

func (t DeviceType) String() string {
	switch t {
	case DeviceTypeIntegrated:
		return "integrated"
	case DeviceTypeDiscrete:
		return "discrete"
	case DeviceTypeVirtual:
		return "virtual"
	case DeviceTypeCPU:
		return "cpu"
	default:
		return "other"
	}
}

// QueueCaps is a set of queue capabilities.
type QueueCaps uint8

// Queue capabilities.
const (
	QueueGraphics QueueCaps = 1 << iota
	QueueCompute
	QueueTransfer
)

// Contains reports whether c includes every capability in other.
func (c QueueCaps) Contains(other QueueCaps) bool {
	return c&other == other
}

func (c QueueCaps) String() string {
	if c == 0 {
		return "none"
	}
	s := ""
	for _, e := range []struct {
		bit  QueueCaps
		name string
	}{
		{QueueGraphics, "graphics"},
		{QueueCompute, "compute"},
		{QueueTransfer, "transfer"},
	} {
		if c&e.bit != 0 {
			if s != "" {
				s += "|"
			}
			s += e.name
		}
	}
	return s
}

// QueueFamily describes a group of queues with identical capabilities.
type QueueFamily struct {
	Index int
	Caps  QueueCaps
	Count int
}

// Features is a set of optional device features.
type Features uint32

// Optional features.
const (
	FeatureShaderFloat64 Features = 1 << iota
	FeatureStorageImageWrite
	FeatureTimestampQuery
	FeatureIndirectDispatch
)

// Contains reports whether f includes every feature in other.
func (f Features) Contains(other Features) bool {
	return f&other == other
}

func (f Features) String() string {
	if f == 0 {
		return "none"
	}
	s := ""
	for _, e := range []struct {
		bit  Features
		name string
	}{
		{FeatureShaderFloat64, "shader-f64"},
		{FeatureStorageImageWrite, "storage-image-write"},
		{FeatureTimestampQuery, "timestamp-query"},
		{FeatureIndirectDispatch, "indirect-dispatch"},
	} {
		if f&e.bit != 0 {
			if s != "" {
				s += "|"
			}
			s += e.name
		}
	}
	if rest := f &^ (FeatureShaderFloat64 | FeatureStorageImageWrite | FeatureTimestampQuery | FeatureIndirectDispatch); rest != 0 {
		if s != "" {
			s += "|"
		}
		s += fmt.Sprintf("0x%x", uint32(rest))
	}
	return s
}

// Limits are device limits.
type Limits struct {
	MaxBufferSize      uint64
	MaxImageDimension  uint32
	MaxWorkgroupCount  [3]uint32
	MaxBindingsPerPass int

	// MemoryBytes is the total memory the device reports; zero if unknown.
	MemoryBytes uint64
}

// AdapterInfo describes an adapter.
type AdapterInfo struct {
	Name          string
	Driver        string
	Type          DeviceType
	QueueFamilies []QueueFamily
	Features      Features
	Limits        Limits
}
