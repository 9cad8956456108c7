package driver

import "errors"

// Driver errors. The core maps these onto its own error taxonomy.
var (
	// ErrAdapterInUse is returned by Adapter.Open when another device
	// already owns the adapter.
	ErrAdapterInUse = errors.New("driver: adapter already in use")

	// ErrDeviceLost is returned once a device has stopped executing work.
	ErrDeviceLost = errors.New("driver: device lost")

	// ErrOutOfMemory is returned when a device cannot satisfy an allocation.
	ErrOutOfMemory = errors.New("driver: out of memory")

	// ErrUnsupported is returned for features, formats or usages the device
	// cannot provide.
	ErrUnsupported = errors.New("driver: unsupported")

	// ErrNoKernel is returned when a shader entry point has no executable
	// implementation on the device.
	ErrNoKernel = errors.New("driver: no kernel for entry point")

	// ErrDestroyed is returned when using a destroyed device or queue.
	ErrDestroyed = errors.New("driver: device destroyed")
)
