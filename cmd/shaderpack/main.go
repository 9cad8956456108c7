// Command shaderpack compiles WGSL files into SPIR-V blobs and reflection
// manifests loadable with gpuflow.LoadShaderFS.
//
// Every entry point of every input produces <entry>.spv and <entry>.json
// in the output directory.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
