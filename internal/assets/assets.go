// Package assets bundles the demo shaders used by cmd/gpuflow.
//
// The WGSL sources are compiled with shadergen on first use. The software
// driver gets matching Go kernels registered under the same entry point
// names, so every driver runs the same pipelines.
package assets

import (
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"sync"

	"github.com/gogpu/gpuflow"
	"github.com/gogpu/gpuflow/internal/shadergen"
)

// Entry points of the bundled shaders.
const (
	Multiply         = "multiply"
	TriangleVertex   = "vs_main"
	TriangleFragment = "fs_main"
)

// MultiplyWorkgroupSize matches @workgroup_size in multiply.wgsl.
const MultiplyWorkgroupSize = 64

//go:embed shaders/*.wgsl
var sources embed.FS

var entrySources = map[string]string{
	Multiply:         "shaders/multiply.wgsl",
	TriangleVertex:   "shaders/triangle.wgsl",
	TriangleFragment: "shaders/triangle.wgsl",
}

var (
	mu       sync.Mutex
	compiled = map[string][]*shadergen.Artifact{}
)

// Entries returns the bundled entry point names, sorted.
func Entries() []string {
	names := make([]string, 0, len(entrySources))
	for name := range entrySources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Source returns the WGSL source that defines entry.
func Source(entry string) (string, error) {
	path, ok := entrySources[entry]
	if !ok {
		return "", fmt.Errorf("assets: unknown entry point %q", entry)
	}
	data, err := fs.ReadFile(sources, path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Artifact returns the compiled artifact for entry.
func Artifact(entry string) (*shadergen.Artifact, error) {
	path, ok := entrySources[entry]
	if !ok {
		return nil, fmt.Errorf("assets: unknown entry point %q", entry)
	}

	mu.Lock()
	defer mu.Unlock()

	arts, ok := compiled[path]
	if !ok {
		src, err := Source(entry)
		if err != nil {
			return nil, err
		}
		arts, err = shadergen.Compile(src, shadergen.Options{})
		if err != nil {
			return nil, fmt.Errorf("assets: %s: %w", path, err)
		}
		compiled[path] = arts
	}
	for _, a := range arts {
		if a.Name == entry {
			return a, nil
		}
	}
	return nil, fmt.Errorf("assets: %s does not define %q", path, entry)
}

// Shader compiles and loads the shader stage for entry.
func Shader(entry string) (*gpuflow.Shader, error) {
	a, err := Artifact(entry)
	if err != nil {
		return nil, err
	}
	s, err := a.Load()
	if err != nil {
		return nil, err
	}
	s.Label = entry
	return s, nil
}
