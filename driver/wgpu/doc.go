// Package wgpu implements a gpuflow driver on top of the gogpu/wgpu
// hardware abstraction layer.
//
// The driver enumerates Vulkan adapters through hal and exposes each one
// with a single graphics|compute|transfer queue family. Shader modules are
// created from SPIR-V words, resource slots map onto one bind group layout
// per group, and every queue submission is encoded into one command buffer
// that is signaled through its own fence.
//
// Only buffer slots are bound; pipelines with sampled or storage image
// slots are rejected with driver.ErrUnsupported.
//
// Importing the package registers the driver under driver.NameWGPU:
//
//	import _ "github.com/gogpu/gpuflow/driver/wgpu"
//
// Builds with the nogpu tag compile the package without any hal code and
// without registering a driver.
package wgpu
