package gpuflow_test

import (
	"errors"
	"math"
	"testing"

	"github.com/gogpu/gpuflow"
	"github.com/gogpu/gpuflow/driver/soft"
	"github.com/gogpu/gpuflow/internal/spirv"
)

func graphicsConfig(t *testing.T) gpuflow.GraphicsPipelineConfig {
	t.Helper()
	vs, fs := triangleShaders(t)
	return gpuflow.GraphicsPipelineConfig{
		Label:    "test",
		Vertex:   vs,
		Fragment: fs,
		VertexLayout: gpuflow.VertexLayout{
			Stride:     8,
			Attributes: []gpuflow.VertexAttribute{{Location: 0, Format: gpuflow.VertexFloat32x2}},
		},
		Viewport:   gpuflow.Viewport{Width: 64, Height: 64, MaxDepth: 1},
		Attachment: gpuflow.Attachment{Format: gpuflow.FormatRGBA8Unorm},
	}
}

func TestBuildGraphicsPipeline_Invalid(t *testing.T) {
	dc := newContext(t, soft.AdapterOptions{})

	tests := []struct {
		name   string
		mutate func(*gpuflow.GraphicsPipelineConfig)
		field  string
		want   error
	}{
		{"missing vertex", func(c *gpuflow.GraphicsPipelineConfig) { c.Vertex = nil }, "Vertex", gpuflow.ErrPipelineCompilation},
		{"swapped stages", func(c *gpuflow.GraphicsPipelineConfig) { c.Vertex, c.Fragment = c.Fragment, c.Vertex }, "Vertex", gpuflow.ErrPipelineCompilation},
		{"input without attribute", func(c *gpuflow.GraphicsPipelineConfig) { c.VertexLayout.Attributes = nil }, "VertexLayout", gpuflow.ErrPipelineCompilation},
		{"attribute overruns stride", func(c *gpuflow.GraphicsPipelineConfig) { c.VertexLayout.Stride = 4 }, "VertexLayout.Attributes[0]", gpuflow.ErrPipelineCompilation},
		{"empty viewport", func(c *gpuflow.GraphicsPipelineConfig) { c.Viewport.Width = 0 }, "Viewport", gpuflow.ErrPipelineCompilation},
		{"nan viewport", func(c *gpuflow.GraphicsPipelineConfig) { c.Viewport.X = float32(math.NaN()) }, "Viewport", gpuflow.ErrPipelineCompilation},
		{"viewport over limit", func(c *gpuflow.GraphicsPipelineConfig) {
			c.Viewport.Width, c.Viewport.Height = 1<<24, 1<<24
		}, "Viewport", gpuflow.ErrUnsupportedConfiguration},
		{"viewport offset over limit", func(c *gpuflow.GraphicsPipelineConfig) {
			c.Viewport.X = soft.DefaultMaxImageDimension - 32
		}, "Viewport", gpuflow.ErrUnsupportedConfiguration},
		{"negative viewport origin", func(c *gpuflow.GraphicsPipelineConfig) { c.Viewport.Y = -1 }, "Viewport", gpuflow.ErrUnsupportedConfiguration},
		{"depth outside unit range", func(c *gpuflow.GraphicsPipelineConfig) {
			c.Viewport.MinDepth, c.Viewport.MaxDepth = -5, 7
		}, "Viewport", gpuflow.ErrUnsupportedConfiguration},
		{"inverted depth range", func(c *gpuflow.GraphicsPipelineConfig) {
			c.Viewport.MinDepth, c.Viewport.MaxDepth = 0.75, 0.25
		}, "Viewport", gpuflow.ErrUnsupportedConfiguration},
		{"unrenderable format", func(c *gpuflow.GraphicsPipelineConfig) { c.Attachment.Format = gpuflow.FormatR32Float }, "Attachment.Format", gpuflow.ErrUnsupportedConfiguration},
		{"feature not enabled", func(c *gpuflow.GraphicsPipelineConfig) { c.RequiredFeatures = gpuflow.FeatureShaderFloat64 }, "RequiredFeatures", gpuflow.ErrUnsupportedConfiguration},
		{"undeclared slot", func(c *gpuflow.GraphicsPipelineConfig) {
			c.Layout = []gpuflow.ResourceSlot{{Group: 0, Binding: 0, Kind: gpuflow.SlotUniformBuffer, Access: gpuflow.AccessRead}}
		}, "Layout", gpuflow.ErrPipelineCompilation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := graphicsConfig(t)
			tt.mutate(&cfg)
			p, err := gpuflow.BuildGraphicsPipeline(dc, cfg)
			if err == nil {
				p.Release()
				t.Fatal("BuildGraphicsPipeline() error = nil")
			}
			var cerr *gpuflow.ConfigError
			if !errors.As(err, &cerr) {
				t.Fatalf("BuildGraphicsPipeline() error = %T, want *ConfigError", err)
			}
			if cerr.Field != tt.field {
				t.Errorf("ConfigError.Field = %q, want %q", cerr.Field, tt.field)
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("BuildGraphicsPipeline() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestBuildGraphicsPipeline_Layout(t *testing.T) {
	dc := newContext(t, soft.AdapterOptions{})
	p, err := gpuflow.BuildGraphicsPipeline(dc, graphicsConfig(t))
	if err != nil {
		t.Fatalf("BuildGraphicsPipeline() error = %v", err)
	}
	defer p.Release()

	if p.Kind() != gpuflow.PipelineGraphics {
		t.Errorf("Kind() = %v, want graphics", p.Kind())
	}
	if got := len(p.Layout()); got != 0 {
		t.Errorf("len(Layout()) = %d, want 0", got)
	}
	if p.TargetFormat() != gpuflow.FormatRGBA8Unorm {
		t.Errorf("TargetFormat() = %v, want rgba8unorm", p.TargetFormat())
	}
}

func TestBuildComputePipeline_Layout(t *testing.T) {
	dc := newContext(t, soft.AdapterOptions{})
	s := multiplyShader(t)

	derived := computePipeline(t, dc, s)
	if got := derived.Layout(); len(got) != 3 || got[2].Kind != gpuflow.SlotUniformBuffer {
		t.Errorf("derived Layout() = %+v", got)
	}
	if got := derived.Workgroup(); got != [3]uint32{64, 1, 1} {
		t.Errorf("Workgroup() = %v, want [64 1 1]", got)
	}

	// Declaring broader access than the shader needs is allowed.
	wide := []gpuflow.ResourceSlot{
		{Group: 0, Binding: 0, Kind: gpuflow.SlotStorageBuffer, Access: gpuflow.AccessReadWrite},
		{Group: 0, Binding: 1, Kind: gpuflow.SlotStorageBuffer, Access: gpuflow.AccessReadWrite},
		{Group: 0, Binding: 2, Kind: gpuflow.SlotUniformBuffer, Access: gpuflow.AccessRead},
	}
	p, err := gpuflow.BuildComputePipeline(dc, gpuflow.ComputePipelineConfig{Compute: s, Layout: wide})
	if err != nil {
		t.Fatalf("BuildComputePipeline(wide) error = %v", err)
	}
	p.Release()

	tests := []struct {
		name   string
		layout []gpuflow.ResourceSlot
	}{
		{"missing slot", wide[:2]},
		{"narrower access", []gpuflow.ResourceSlot{
			wide[0],
			{Group: 0, Binding: 1, Kind: gpuflow.SlotStorageBuffer, Access: gpuflow.AccessRead},
			wide[2],
		}},
		{"wrong kind", []gpuflow.ResourceSlot{
			wide[0], wide[1],
			{Group: 0, Binding: 2, Kind: gpuflow.SlotStorageBuffer, Access: gpuflow.AccessRead},
		}},
		{"duplicate", append(append([]gpuflow.ResourceSlot(nil), wide...), wide[0])},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := gpuflow.BuildComputePipeline(dc, gpuflow.ComputePipelineConfig{Compute: s, Layout: tt.layout})
			var cerr *gpuflow.ConfigError
			if !errors.As(err, &cerr) || cerr.Field != "Layout" || !errors.Is(err, gpuflow.ErrPipelineCompilation) {
				t.Errorf("BuildComputePipeline() error = %v, want Layout ConfigError", err)
			}
		})
	}
}

func TestBuildComputePipeline_NoKernel(t *testing.T) {
	dc := newContext(t, soft.AdapterOptions{})
	s := slotlessCompute(t, "flow_missing_kernel")

	_, err := gpuflow.BuildComputePipeline(dc, gpuflow.ComputePipelineConfig{Compute: s})
	if !errors.Is(err, gpuflow.ErrPipelineCompilation) {
		t.Errorf("BuildComputePipeline() error = %v, want ErrPipelineCompilation", err)
	}
	if err := dc.Err(); err != nil {
		t.Errorf("Err() = %v, want nil", err)
	}
}

func TestBuildComputePipeline_StorageImageFeature(t *testing.T) {
	a := spirv.NewAssembler()
	fn := a.EntryPoint(spirv.ExecutionModelGLCompute, "flow_multiply")
	a.LocalSize(fn, 1, 1, 1)
	a.Image(0, 0, true)
	s := loadShader(t, a, `{"entry_point": "flow_multiply", "stage": "compute", "slots": [
		{"group": 0, "binding": 0, "kind": "storage_image", "access": "write"}]}`)

	dc := newContext(t, soft.AdapterOptions{})
	_, err := gpuflow.BuildComputePipeline(dc, gpuflow.ComputePipelineConfig{Compute: s})
	if !errors.Is(err, gpuflow.ErrUnsupportedConfiguration) {
		t.Errorf("BuildComputePipeline() error = %v, want ErrUnsupportedConfiguration", err)
	}
}

func TestDescriptorBinding_Invalid(t *testing.T) {
	dc := newContext(t, soft.AdapterOptions{})
	p := computePipeline(t, dc, multiplyShader(t))
	storage := hostBuffer(t, dc, "storage", 16, gpuflow.BufferUsageStorage)
	uniform := hostBuffer(t, dc, "uniform", 16, gpuflow.BufferUsageUniform)

	tests := []struct {
		name    string
		entries []gpuflow.BindingEntry
	}{
		{"unbound slot", []gpuflow.BindingEntry{{Binding: 0, Buffer: storage}, {Binding: 1, Buffer: storage}}},
		{"unknown slot", []gpuflow.BindingEntry{
			{Binding: 0, Buffer: storage}, {Binding: 1, Buffer: storage}, {Binding: 2, Buffer: uniform},
			{Group: 3, Buffer: storage},
		}},
		{"wrong usage", []gpuflow.BindingEntry{{Binding: 0, Buffer: uniform}, {Binding: 1, Buffer: storage}, {Binding: 2, Buffer: uniform}}},
		{"bound twice", []gpuflow.BindingEntry{
			{Binding: 0, Buffer: storage}, {Binding: 0, Buffer: storage}, {Binding: 1, Buffer: storage}, {Binding: 2, Buffer: uniform},
		}},
		{"empty entry", []gpuflow.BindingEntry{{Binding: 0}, {Binding: 1, Buffer: storage}, {Binding: 2, Buffer: uniform}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := gpuflow.NewDescriptorBinding(p, tt.entries); !errors.Is(err, gpuflow.ErrInvalidOperation) {
				t.Errorf("NewDescriptorBinding() error = %v, want ErrInvalidOperation", err)
			}
		})
	}
}
