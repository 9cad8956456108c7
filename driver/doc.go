// Package driver defines the backend-neutral device interface that gpuflow
// executes on, plus a name-keyed registry of driver implementations.
//
// A driver exposes adapters (physical devices). Opening an adapter yields a
// Device with exactly one execution Queue bound to the requested queue
// family. The core package validates everything it records, so drivers may
// assume well-formed commands.
//
// # Driver Registration
//
// Drivers register themselves from init() functions:
//
//	import _ "github.com/gogpu/gpuflow/driver/soft"
//
// Use Get to request a driver by name, or Ordered to walk the registered
// drivers in priority order:
//
//	for _, name := range driver.Ordered() {
//		d := driver.Get(name)
//		...
//	}
//
// # Available Drivers
//
//   - "wgpu": hardware execution through gogpu/wgpu/hal (Vulkan)
//   - "soft": software execution on host memory with Go kernels
package driver
