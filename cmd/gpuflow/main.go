// Command gpuflow runs the bundled GPU workloads: an offscreen triangle,
// a compute multiply, a buffer copy and an adapter listing.
package main

import (
	"os"

	_ "github.com/gogpu/gpuflow/driver/wgpu"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
