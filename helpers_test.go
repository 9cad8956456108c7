package gpuflow_test

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gogpu/gpuflow"
	"github.com/gogpu/gpuflow/driver"
	"github.com/gogpu/gpuflow/driver/soft"
	"github.com/gogpu/gpuflow/internal/spirv"
)

const waitTimeout = 10 * time.Second

func init() {
	// dst[i] = src[i] * params[0]
	soft.RegisterCompute("flow_multiply", func(inv *soft.Invocation) {
		src, dst := inv.Buffer(0, 0), inv.Buffer(0, 1)
		k := inv.Buffer(0, 2).U32(0)
		i := int(inv.GlobalID[0])
		if i < dst.Len() {
			dst.SetU32(i, src.U32(i)*k)
		}
	})
	soft.RegisterVertex("flow_vs", func(in *soft.VertexInput) soft.VertexOutput {
		p := in.Attribute(0)
		return soft.VertexOutput{Position: [4]float32{p[0], p[1], 0, 1}}
	})
	soft.RegisterFragment("flow_fs", func(*soft.FragmentInput) driver.Color {
		return driver.Color{R: 1, A: 1}
	})
	soft.RegisterCompute("flow_panic", func(*soft.Invocation) {
		panic("out of bounds")
	})
}

var driverSeq atomic.Int32

func registerDriver(t *testing.T, name string, drv driver.Driver) {
	t.Helper()
	driver.Register(name, func() driver.Driver { return drv })
	t.Cleanup(func() { driver.Unregister(name) })
}

// newContext opens a DeviceContext on a private software driver.
func newContext(t *testing.T, opts soft.AdapterOptions) *gpuflow.DeviceContext {
	t.Helper()
	name := fmt.Sprintf("soft-%s-%d", t.Name(), driverSeq.Add(1))
	registerDriver(t, name, soft.New(name, soft.Options{Adapters: []soft.AdapterOptions{opts}}))

	cfg := gpuflow.DefaultConfig()
	cfg.Driver = name
	dc, err := gpuflow.Initialize(cfg)
	if err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	t.Cleanup(dc.Close)
	return dc
}

// newGate registers a compute kernel that blocks until the returned
// function is called. The gate opens on cleanup at the latest.
func newGate(t *testing.T, entry string) (open func()) {
	t.Helper()
	ch := make(chan struct{})
	var once sync.Once
	open = func() { once.Do(func() { close(ch) }) }
	soft.RegisterCompute(entry, func(*soft.Invocation) { <-ch })
	t.Cleanup(func() {
		open()
		soft.UnregisterKernel(driver.StageCompute, entry)
	})
	return open
}

func loadShader(t *testing.T, a *spirv.Assembler, manifest string) *gpuflow.Shader {
	t.Helper()
	s, err := gpuflow.LoadShader(spirv.Bytes(a.Words()), []byte(manifest))
	if err != nil {
		t.Fatalf("LoadShader() error = %v", err)
	}
	return s
}

func multiplyShader(t *testing.T) *gpuflow.Shader {
	t.Helper()
	a := spirv.NewAssembler()
	fn := a.EntryPoint(spirv.ExecutionModelGLCompute, "flow_multiply")
	a.LocalSize(fn, 64, 1, 1)
	a.StorageBuffer(0, 0, true)
	a.StorageBuffer(0, 1, false)
	a.UniformBuffer(0, 2)
	return loadShader(t, a, `{
		"entry_point": "flow_multiply",
		"stage": "compute",
		"slots": [
			{"group": 0, "binding": 0, "kind": "storage", "access": "read"},
			{"group": 0, "binding": 1, "kind": "storage", "access": "write"},
			{"group": 0, "binding": 2, "kind": "uniform", "access": "read"}
		]
	}`)
}

// slotlessCompute loads a compute shader without resources for entry.
func slotlessCompute(t *testing.T, entry string) *gpuflow.Shader {
	t.Helper()
	a := spirv.NewAssembler()
	fn := a.EntryPoint(spirv.ExecutionModelGLCompute, entry)
	a.LocalSize(fn, 1, 1, 1)
	return loadShader(t, a, `{"entry_point": "`+entry+`", "stage": "compute", "slots": []}`)
}

func computePipeline(t *testing.T, dc *gpuflow.DeviceContext, s *gpuflow.Shader) *gpuflow.Pipeline {
	t.Helper()
	p, err := gpuflow.BuildComputePipeline(dc, gpuflow.ComputePipelineConfig{Label: s.EntryPoint, Compute: s})
	if err != nil {
		t.Fatalf("BuildComputePipeline() error = %v", err)
	}
	t.Cleanup(p.Release)
	return p
}

func triangleShaders(t *testing.T) (vs, fs *gpuflow.Shader) {
	t.Helper()
	a := spirv.NewAssembler()
	a.EntryPoint(spirv.ExecutionModelVertex, "flow_vs")
	a.Input(0)
	vs = loadShader(t, a, `{"entry_point": "flow_vs", "stage": "vertex", "slots": [], "inputs": [0]}`)

	a = spirv.NewAssembler()
	a.EntryPoint(spirv.ExecutionModelFragment, "flow_fs")
	fs = loadShader(t, a, `{"entry_point": "flow_fs", "stage": "fragment", "slots": []}`)
	return vs, fs
}

func hostBuffer(t *testing.T, dc *gpuflow.DeviceContext, label string, size uint64, usage gpuflow.BufferUsage) *gpuflow.Buffer {
	t.Helper()
	b, err := dc.Allocator().CreateBuffer(gpuflow.BufferDesc{Label: label, Count: size, Usage: usage, HostVisible: true})
	if err != nil {
		t.Fatalf("CreateBuffer(%s) error = %v", label, err)
	}
	t.Cleanup(b.Release)
	return b
}

func initBuffer(t *testing.T, dc *gpuflow.DeviceContext, label string, usage gpuflow.BufferUsage, data []byte) *gpuflow.Buffer {
	t.Helper()
	b, err := dc.Allocator().CreateBufferInit(gpuflow.BufferDesc{Label: label, Usage: usage}, data)
	if err != nil {
		t.Fatalf("CreateBufferInit(%s) error = %v", label, err)
	}
	t.Cleanup(b.Release)
	return b
}

func build(t *testing.T, s *gpuflow.Sequencer) *gpuflow.CommandSequence {
	t.Helper()
	seq, err := s.Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	t.Cleanup(seq.Release)
	return seq
}

// run submits seq, waits for it and returns the contents of out.
func run(t *testing.T, sub *gpuflow.Submitter, seq *gpuflow.CommandSequence, out *gpuflow.Buffer) gpuflow.View {
	t.Helper()
	fence, err := sub.Submit(t.Context(), seq)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if err := sub.Wait(fence, waitTimeout); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	v, err := gpuflow.Read(out, fence)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	return v
}

func iota32(n int) []uint32 {
	v := make([]uint32, n)
	for i := range v {
		v[i] = uint32(i)
	}
	return v
}
