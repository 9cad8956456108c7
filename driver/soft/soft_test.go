package soft

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/gogpu/gpuflow/driver"
)

var stubCode = []uint32{0x07230203}

func openTestDevice(t *testing.T, opts AdapterOptions) *Device {
	t.Helper()
	d := New("soft-test", Options{Adapters: []AdapterOptions{opts}})
	adapters, err := d.Adapters()
	if err != nil || len(adapters) != 1 {
		t.Fatalf("Adapters() = %d, %v", len(adapters), err)
	}
	dev, err := adapters[0].Open(0, 0)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(dev.Destroy)
	return dev.(*Device)
}

func submitAndWait(t *testing.T, dev *Device, cmds ...driver.Command) error {
	t.Helper()
	done := make(chan error, 1)
	if err := dev.Queue().Submit(cmds, done); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-time.After(10 * time.Second):
		t.Fatal("submission did not complete")
		return nil
	}
}

func hostBuffer(t *testing.T, dev *Device, size uint64, contents []byte) driver.Buffer {
	t.Helper()
	b, err := dev.NewBuffer(&driver.BufferDesc{Size: size, HostVisible: true, Contents: contents})
	if err != nil {
		t.Fatalf("NewBuffer() error = %v", err)
	}
	return b
}

func readAll(t *testing.T, b driver.Buffer) []byte {
	t.Helper()
	out := make([]byte, b.Size())
	if err := b.Read(0, out); err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	return out
}

// =============================================================================
// Adapter Tests
// =============================================================================

func TestAdapter_Exclusive(t *testing.T) {
	d := New("soft-test", Options{})
	adapters, _ := d.Adapters()

	dev, err := adapters[0].Open(0, 0)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if _, err := adapters[0].Open(0, 0); !errors.Is(err, driver.ErrAdapterInUse) {
		t.Errorf("second Open() error = %v, want ErrAdapterInUse", err)
	}

	dev.Destroy()
	dev2, err := adapters[0].Open(0, 0)
	if err != nil {
		t.Fatalf("Open() after Destroy error = %v", err)
	}
	dev2.Destroy()
}

func TestAdapter_Features(t *testing.T) {
	d := New("soft-test", Options{Adapters: []AdapterOptions{{Features: driver.FeatureTimestampQuery}}})
	adapters, _ := d.Adapters()

	if _, err := adapters[0].Open(0, driver.FeatureShaderFloat64); !errors.Is(err, driver.ErrUnsupported) {
		t.Errorf("Open(f64) error = %v, want ErrUnsupported", err)
	}
	dev, err := adapters[0].Open(0, driver.FeatureTimestampQuery)
	if err != nil {
		t.Fatalf("Open(timestamp) error = %v", err)
	}
	dev.Destroy()
}

func TestAdapter_NoAdapters(t *testing.T) {
	d := New("soft-empty", Options{Adapters: []AdapterOptions{}})
	adapters, err := d.Adapters()
	if err != nil || len(adapters) != 0 {
		t.Errorf("Adapters() = %d, %v, want 0, nil", len(adapters), err)
	}
}

func TestAdapter_Info(t *testing.T) {
	d := New("soft-test", Options{Adapters: []AdapterOptions{{
		Name:     "dual",
		Families: []driver.QueueCaps{driver.QueueTransfer, driver.QueueCompute | driver.QueueTransfer},
	}}})
	adapters, _ := d.Adapters()
	info := adapters[0].Info()

	if info.Name != "dual" || info.Driver != "soft-test" || info.Type != driver.DeviceTypeCPU {
		t.Errorf("Info() = %+v", info)
	}
	if len(info.QueueFamilies) != 2 || info.QueueFamilies[1].Caps != driver.QueueCompute|driver.QueueTransfer {
		t.Errorf("QueueFamilies = %+v", info.QueueFamilies)
	}
}

// =============================================================================
// Resource Tests
// =============================================================================

func TestBuffer_HostAccess(t *testing.T) {
	dev := openTestDevice(t, AdapterOptions{})

	b := hostBuffer(t, dev, 16, []byte{1, 2, 3})
	if got := readAll(t, b); got[0] != 1 || got[2] != 3 || got[3] != 0 {
		t.Errorf("initial contents = %v", got)
	}
	if err := b.Write(12, []byte{9, 9, 9, 9, 9}); !errors.Is(err, driver.ErrUnsupported) {
		t.Errorf("overrunning Write() error = %v, want ErrUnsupported", err)
	}

	local, err := dev.NewBuffer(&driver.BufferDesc{Size: 16})
	if err != nil {
		t.Fatalf("NewBuffer() error = %v", err)
	}
	if err := local.Write(0, []byte{1}); !errors.Is(err, driver.ErrUnsupported) {
		t.Errorf("device-local Write() error = %v, want ErrUnsupported", err)
	}
}

func TestDevice_MemoryBudget(t *testing.T) {
	dev := openTestDevice(t, AdapterOptions{MemoryBytes: 1024})

	a, err := dev.NewBuffer(&driver.BufferDesc{Size: 768})
	if err != nil {
		t.Fatalf("NewBuffer(768) error = %v", err)
	}
	if _, err := dev.NewBuffer(&driver.BufferDesc{Size: 512}); !errors.Is(err, driver.ErrOutOfMemory) {
		t.Errorf("NewBuffer(512) error = %v, want ErrOutOfMemory", err)
	}

	a.Destroy()
	a.Destroy()
	if _, err := dev.NewBuffer(&driver.BufferDesc{Size: 1024}); err != nil {
		t.Errorf("NewBuffer(1024) after release error = %v", err)
	}
}

func TestDevice_ShaderWithoutKernel(t *testing.T) {
	dev := openTestDevice(t, AdapterOptions{})
	_, err := dev.NewShaderModule(&driver.ShaderDesc{Stage: driver.StageCompute, EntryPoint: "no_such_kernel", Code: stubCode})
	if !errors.Is(err, driver.ErrNoKernel) {
		t.Errorf("NewShaderModule() error = %v, want ErrNoKernel", err)
	}
}

// =============================================================================
// Execution Tests
// =============================================================================

func TestExec_CopyBuffer(t *testing.T) {
	dev := openTestDevice(t, AdapterOptions{})

	src := make([]byte, 64)
	for i := range src {
		src[i] = byte(i)
	}
	a := hostBuffer(t, dev, 64, src)
	b := hostBuffer(t, dev, 64, nil)

	if err := submitAndWait(t, dev, &driver.CopyBuffer{Src: a, Dst: b, Size: 64}); err != nil {
		t.Fatalf("submit error = %v", err)
	}
	got := readAll(t, b)
	for i := range got {
		if got[i] != byte(i) {
			t.Fatalf("dst[%d] = %d, want %d", i, got[i], i)
		}
	}
}

func TestExec_ClearAndCopyImage(t *testing.T) {
	dev := openTestDevice(t, AdapterOptions{})

	img, err := dev.NewImage(&driver.ImageDesc{Width: 7, Height: 5, Format: driver.FormatBGRA8Unorm})
	if err != nil {
		t.Fatalf("NewImage() error = %v", err)
	}
	out := hostBuffer(t, dev, 7*5*4, nil)

	err = submitAndWait(t, dev,
		&driver.ClearImage{Image: img, Color: driver.Color{R: 1, B: 0.2, A: 1}},
		&driver.CopyImageToBuffer{Src: img, Dst: out},
	)
	if err != nil {
		t.Fatalf("submit error = %v", err)
	}
	got := readAll(t, out)
	for i := 0; i < len(got); i += 4 {
		if got[i] != 51 || got[i+1] != 0 || got[i+2] != 255 || got[i+3] != 255 {
			t.Fatalf("texel %d = %v, want [51 0 255 255]", i/4, got[i:i+4])
		}
	}
}

func TestExec_Dispatch(t *testing.T) {
	RegisterCompute("test_scale", func(inv *Invocation) {
		data := inv.Buffer(0, 0)
		i := int(inv.GlobalID[0])
		data.SetU32(i, data.U32(i)*inv.Buffer(0, 1).U32(0))
	})
	defer UnregisterKernel(driver.StageCompute, "test_scale")

	dev := openTestDevice(t, AdapterOptions{Workers: 3})

	const n = 64
	init := make([]byte, n*4)
	for i := range n {
		binary.LittleEndian.PutUint32(init[i*4:], uint32(i))
	}
	data := hostBuffer(t, dev, n*4, init)
	k := hostBuffer(t, dev, 4, []byte{12, 0, 0, 0})

	sm, err := dev.NewShaderModule(&driver.ShaderDesc{Stage: driver.StageCompute, EntryPoint: "test_scale", Code: stubCode, Workgroup: [3]uint32{8, 1, 1}})
	if err != nil {
		t.Fatalf("NewShaderModule() error = %v", err)
	}
	p, err := dev.NewComputePipeline(&driver.ComputePipelineDesc{Compute: sm})
	if err != nil {
		t.Fatalf("NewComputePipeline() error = %v", err)
	}

	err = submitAndWait(t, dev, &driver.Dispatch{
		Pipeline: p,
		Resources: []driver.Resource{
			{Slot: driver.Slot{Binding: 0, Kind: driver.SlotStorageBuffer}, Buffer: data},
			{Slot: driver.Slot{Binding: 1, Kind: driver.SlotUniformBuffer}, Buffer: k},
		},
		Groups: [3]uint32{n / 8, 1, 1},
	})
	if err != nil {
		t.Fatalf("submit error = %v", err)
	}

	got := readAll(t, data)
	for i := range n {
		if v := binary.LittleEndian.Uint32(got[i*4:]); v != uint32(i*12) {
			t.Fatalf("data[%d] = %d, want %d", i, v, i*12)
		}
	}
}

func registerTriangleKernels(t *testing.T) {
	t.Helper()
	RegisterVertex("test_vs", func(in *VertexInput) VertexOutput {
		p := in.Attribute(0)
		return VertexOutput{Position: [4]float32{p[0], p[1], 0, 1}}
	})
	RegisterFragment("test_fs", func(*FragmentInput) driver.Color {
		return driver.Color{R: 1, A: 1}
	})
	t.Cleanup(func() {
		UnregisterKernel(driver.StageVertex, "test_vs")
		UnregisterKernel(driver.StageFragment, "test_fs")
	})
}

func TestExec_DrawTriangle(t *testing.T) {
	registerTriangleKernels(t)
	dev := openTestDevice(t, AdapterOptions{})

	const size = 256
	verts := make([]byte, 0, 24)
	for _, f := range []float32{-0.5, -0.5, 0, 0.5, 0.5, -0.25} {
		verts = binary.LittleEndian.AppendUint32(verts, math.Float32bits(f))
	}
	vb, err := dev.NewBuffer(&driver.BufferDesc{Size: 24, Usage: driver.BufferUsageVertex, Contents: verts})
	if err != nil {
		t.Fatalf("NewBuffer() error = %v", err)
	}
	target, err := dev.NewImage(&driver.ImageDesc{Width: size, Height: size, Format: driver.FormatRGBA8Unorm})
	if err != nil {
		t.Fatalf("NewImage() error = %v", err)
	}
	out := hostBuffer(t, dev, size*size*4, nil)

	vs, _ := dev.NewShaderModule(&driver.ShaderDesc{Stage: driver.StageVertex, EntryPoint: "test_vs", Code: stubCode})
	fs, _ := dev.NewShaderModule(&driver.ShaderDesc{Stage: driver.StageFragment, EntryPoint: "test_fs", Code: stubCode})
	p, err := dev.NewGraphicsPipeline(&driver.GraphicsPipelineDesc{
		Vertex:   vs,
		Fragment: fs,
		VertexLayout: driver.VertexLayout{
			Stride:     8,
			Attributes: []driver.VertexAttribute{{Location: 0, Format: driver.VertexFloat32x2}},
		},
		Viewport:   driver.Viewport{Width: size, Height: size, MaxDepth: 1},
		Attachment: driver.Attachment{Format: driver.FormatRGBA8Unorm, Load: driver.LoadOpClear},
	})
	if err != nil {
		t.Fatalf("NewGraphicsPipeline() error = %v", err)
	}

	err = submitAndWait(t, dev,
		&driver.Draw{Pipeline: p, Target: target, ClearColor: driver.Color{B: 1, A: 1}, Vertices: vb, VertexCount: 3},
		&driver.CopyImageToBuffer{Src: target, Dst: out},
	)
	if err != nil {
		t.Fatalf("submit error = %v", err)
	}

	px := readAll(t, out)
	at := func(x, y int) []byte { o := (y*size + x) * 4; return px[o : o+4] }
	for _, c := range [][2]int{{0, 0}, {size - 1, 0}, {0, size - 1}, {size - 1, size - 1}} {
		if got := at(c[0], c[1]); got[0] != 0 || got[2] != 255 {
			t.Errorf("corner %v = %v, want blue clear color", c, got)
		}
	}
	// Centroid of the triangle in window space.
	if got := at(size/2, size*11/24); got[0] != 255 || got[2] != 0 {
		t.Errorf("interior pixel = %v, want red", got)
	}
}

func TestQueue_FIFO(t *testing.T) {
	dev := openTestDevice(t, AdapterOptions{})
	a := hostBuffer(t, dev, 4, []byte{1, 1, 1, 1})
	b := hostBuffer(t, dev, 4, []byte{2, 2, 2, 2})
	c := hostBuffer(t, dev, 4, nil)

	d1, d2 := make(chan error, 1), make(chan error, 1)
	if err := dev.Queue().Submit([]driver.Command{&driver.CopyBuffer{Src: a, Dst: c, Size: 4}}, d1); err != nil {
		t.Fatal(err)
	}
	if err := dev.Queue().Submit([]driver.Command{&driver.CopyBuffer{Src: b, Dst: c, Size: 4}}, d2); err != nil {
		t.Fatal(err)
	}
	if err := <-d1; err != nil {
		t.Fatal(err)
	}
	if err := <-d2; err != nil {
		t.Fatal(err)
	}
	if got := readAll(t, c); got[0] != 2 {
		t.Errorf("dst = %v, want the second copy to land last", got)
	}
}

func TestQueue_CapsChecked(t *testing.T) {
	dev := openTestDevice(t, AdapterOptions{Families: []driver.QueueCaps{driver.QueueTransfer}})
	img, _ := dev.NewImage(&driver.ImageDesc{Width: 1, Height: 1, Format: driver.FormatR8Unorm})

	err := dev.Queue().Submit([]driver.Command{&driver.Dispatch{Groups: [3]uint32{1, 1, 1}}}, make(chan error, 1))
	if !errors.Is(err, driver.ErrUnsupported) {
		t.Errorf("Submit(dispatch) on transfer queue error = %v, want ErrUnsupported", err)
	}
	if err := submitAndWait(t, dev, &driver.ClearImage{Image: img}); err != nil {
		t.Errorf("Submit(clear) on transfer queue error = %v", err)
	}
}

func TestDevice_KernelPanicLosesDevice(t *testing.T) {
	RegisterCompute("test_panic", func(*Invocation) { panic("bad access") })
	defer UnregisterKernel(driver.StageCompute, "test_panic")

	dev := openTestDevice(t, AdapterOptions{})
	sm, _ := dev.NewShaderModule(&driver.ShaderDesc{Stage: driver.StageCompute, EntryPoint: "test_panic", Code: stubCode})
	p, _ := dev.NewComputePipeline(&driver.ComputePipelineDesc{Compute: sm})

	err := submitAndWait(t, dev, &driver.Dispatch{Pipeline: p, Groups: [3]uint32{1, 1, 1}})
	if !errors.Is(err, driver.ErrDeviceLost) {
		t.Fatalf("submit error = %v, want ErrDeviceLost", err)
	}
	if dev.Lost() == nil {
		t.Error("Lost() = nil after kernel panic")
	}
}

func TestDevice_Lose(t *testing.T) {
	dev := openTestDevice(t, AdapterOptions{})
	dev.Lose(errors.New("injected"))

	err := dev.Queue().Submit(nil, make(chan error, 1))
	if !errors.Is(err, driver.ErrDeviceLost) {
		t.Errorf("Submit() after Lose error = %v, want ErrDeviceLost", err)
	}
	if _, err := dev.NewBuffer(&driver.BufferDesc{Size: 4}); !errors.Is(err, driver.ErrDeviceLost) {
		t.Errorf("NewBuffer() after Lose error = %v, want ErrDeviceLost", err)
	}
}

func TestDevice_DestroyFailsPending(t *testing.T) {
	started, release := make(chan struct{}, 1), make(chan struct{})
	RegisterCompute("test_block", func(*Invocation) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
	})
	defer UnregisterKernel(driver.StageCompute, "test_block")

	d := New("soft-test", Options{})
	adapters, _ := d.Adapters()
	raw, err := adapters[0].Open(0, 0)
	if err != nil {
		t.Fatal(err)
	}
	dev := raw.(*Device)

	sm, _ := dev.NewShaderModule(&driver.ShaderDesc{Stage: driver.StageCompute, EntryPoint: "test_block", Code: stubCode})
	p, _ := dev.NewComputePipeline(&driver.ComputePipelineDesc{Compute: sm})

	first, second := make(chan error, 1), make(chan error, 1)
	if err := dev.Queue().Submit([]driver.Command{&driver.Dispatch{Pipeline: p, Groups: [3]uint32{1, 1, 1}}}, first); err != nil {
		t.Fatal(err)
	}
	if err := dev.Queue().Submit([]driver.Command{&driver.Dispatch{Pipeline: p, Groups: [3]uint32{1, 1, 1}}}, second); err != nil {
		t.Fatal(err)
	}

	<-started
	destroyed := make(chan struct{})
	go func() {
		dev.Destroy()
		close(destroyed)
	}()

	if err := <-second; !errors.Is(err, driver.ErrDestroyed) {
		t.Errorf("queued submission error = %v, want ErrDestroyed", err)
	}
	close(release)
	if err := <-first; err != nil {
		t.Errorf("running submission error = %v, want nil", err)
	}
	<-destroyed
}
