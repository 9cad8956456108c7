//go:build !nogpu

package wgpu

import (
	"errors"
	"testing"
	"time"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gpuflow/driver"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"
)

// spirvHeader is enough for the noop backend to accept a module.
var spirvHeader = []uint32{0x07230203, 0x00010000, 0, 1, 0}

func newNoopDriver(t *testing.T) *Driver {
	t.Helper()
	d := New("wgpu-test", &noop.API{}, Options{FenceTimeout: time.Second})
	t.Cleanup(d.Close)
	return d
}

// openNoopDevice opens the first adapter of a noop-backed driver.
func openNoopDevice(t *testing.T) *Device {
	t.Helper()
	adapters, err := newNoopDriver(t).Adapters()
	if err != nil {
		t.Fatalf("Adapters() error = %v", err)
	}
	if len(adapters) == 0 {
		t.Fatal("Adapters() returned no adapters")
	}
	dev, err := adapters[0].Open(0, 0)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(dev.Destroy)
	return dev.(*Device)
}

func TestAdapters(t *testing.T) {
	adapters, err := newNoopDriver(t).Adapters()
	if err != nil {
		t.Fatalf("Adapters() error = %v", err)
	}
	if len(adapters) == 0 {
		t.Fatal("Adapters() returned no adapters")
	}
	info := adapters[0].Info()
	if info.Driver != "wgpu-test" {
		t.Errorf("Driver = %q, want %q", info.Driver, "wgpu-test")
	}
	if len(info.QueueFamilies) != 1 {
		t.Fatalf("QueueFamilies = %d, want 1", len(info.QueueFamilies))
	}
	want := driver.QueueGraphics | driver.QueueCompute | driver.QueueTransfer
	if got := info.QueueFamilies[0].Caps; got != want {
		t.Errorf("family caps = %v, want %v", got, want)
	}
	if info.Limits.MaxBufferSize == 0 || info.Limits.MaxImageDimension == 0 {
		t.Errorf("Limits = %+v, want non-zero buffer and image limits", info.Limits)
	}
}

func TestAdapters_NoBackend(t *testing.T) {
	d := New("wgpu-test", nil, Options{})
	adapters, err := d.Adapters()
	if err == nil {
		t.Fatal("Adapters() error = nil, want error")
	}
	if len(adapters) != 0 {
		t.Errorf("Adapters() = %d adapters, want 0", len(adapters))
	}
}

func TestOpen(t *testing.T) {
	adapters, err := newNoopDriver(t).Adapters()
	if err != nil || len(adapters) == 0 {
		t.Fatalf("Adapters() = %d, %v", len(adapters), err)
	}
	a := adapters[0]

	if _, err := a.Open(1, 0); !errors.Is(err, driver.ErrUnsupported) {
		t.Errorf("Open(family 1) error = %v, want ErrUnsupported", err)
	}
	if _, err := a.Open(0, driver.FeatureTimestampQuery); !errors.Is(err, driver.ErrUnsupported) {
		t.Errorf("Open(timestamp-query) error = %v, want ErrUnsupported", err)
	}

	dev, err := a.Open(0, 0)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if _, err := a.Open(0, 0); !errors.Is(err, driver.ErrAdapterInUse) {
		t.Errorf("second Open() error = %v, want ErrAdapterInUse", err)
	}
	dev.Destroy()
	dev.Destroy()

	dev, err = a.Open(0, 0)
	if err != nil {
		t.Fatalf("Open() after Destroy error = %v", err)
	}
	dev.Destroy()
}

func TestFormatCaps(t *testing.T) {
	dev := openNoopDevice(t)
	want := driver.FormatCapRenderTarget | driver.FormatCapTransfer
	for _, f := range []driver.Format{
		driver.FormatRGBA8Unorm,
		driver.FormatBGRA8Unorm,
		driver.FormatR8Unorm,
		driver.FormatR32Float,
		driver.FormatRGBA32Float,
	} {
		if got := dev.FormatCaps(f); got != want {
			t.Errorf("FormatCaps(%v) = %v, want %v", f, got, want)
		}
	}
	if got := dev.FormatCaps(driver.FormatUndefined); got != 0 {
		t.Errorf("FormatCaps(undefined) = %v, want 0", got)
	}
}

func TestNewBuffer(t *testing.T) {
	dev := openNoopDevice(t)

	tests := []struct {
		name string
		desc driver.BufferDesc
		want error
	}{
		{"zero size", driver.BufferDesc{Size: 0, Usage: driver.BufferUsageStorage}, driver.ErrOutOfMemory},
		{"too large", driver.BufferDesc{Size: dev.Limits().MaxBufferSize + 1}, driver.ErrOutOfMemory},
		{"contents overrun", driver.BufferDesc{Size: 4, Contents: make([]byte, 8)}, driver.ErrUnsupported},
		{"unaligned", driver.BufferDesc{Size: 3, Usage: driver.BufferUsageTransferSrc}, nil},
		{"initialized", driver.BufferDesc{Size: 16, Usage: driver.BufferUsageVertex, Contents: make([]byte, 16)}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := dev.NewBuffer(&tt.desc)
			if !errors.Is(err, tt.want) {
				t.Fatalf("NewBuffer() error = %v, want %v", err, tt.want)
			}
			if err != nil {
				return
			}
			defer b.Destroy()
			if b.Size() != tt.desc.Size {
				t.Errorf("Size() = %d, want %d", b.Size(), tt.desc.Size)
			}
		})
	}
}

func TestBufferAccess(t *testing.T) {
	dev := openNoopDevice(t)

	local, err := dev.NewBuffer(&driver.BufferDesc{Label: "local", Size: 16, Usage: driver.BufferUsageStorage})
	if err != nil {
		t.Fatalf("NewBuffer() error = %v", err)
	}
	defer local.Destroy()
	if err := local.Write(0, make([]byte, 4)); !errors.Is(err, driver.ErrUnsupported) {
		t.Errorf("Write(device local) error = %v, want ErrUnsupported", err)
	}
	if err := local.Read(0, make([]byte, 4)); !errors.Is(err, driver.ErrUnsupported) {
		t.Errorf("Read(device local) error = %v, want ErrUnsupported", err)
	}

	host, err := dev.NewBuffer(&driver.BufferDesc{Label: "host", Size: 16, HostVisible: true})
	if err != nil {
		t.Fatalf("NewBuffer() error = %v", err)
	}
	defer host.Destroy()
	if err := host.Write(8, make([]byte, 8)); err != nil {
		t.Errorf("Write() error = %v", err)
	}
	if err := host.Write(12, make([]byte, 8)); !errors.Is(err, driver.ErrUnsupported) {
		t.Errorf("Write(overrun) error = %v, want ErrUnsupported", err)
	}
	if err := host.Read(0, make([]byte, 16)); err != nil {
		t.Errorf("Read() error = %v", err)
	}
}

func TestNewImage(t *testing.T) {
	dev := openNoopDevice(t)

	tests := []struct {
		name string
		desc driver.ImageDesc
		want error
	}{
		{"render target", driver.ImageDesc{Width: 64, Height: 32, Format: driver.FormatRGBA8Unorm, Usage: driver.ImageUsageRenderTarget | driver.ImageUsageTransferSrc}, nil},
		{"clear target", driver.ImageDesc{Width: 8, Height: 8, Format: driver.FormatR32Float, Usage: driver.ImageUsageTransferDst}, nil},
		{"storage", driver.ImageDesc{Width: 8, Height: 8, Format: driver.FormatRGBA8Unorm, Usage: driver.ImageUsageStorage}, driver.ErrUnsupported},
		{"undefined format", driver.ImageDesc{Width: 8, Height: 8, Usage: driver.ImageUsageRenderTarget}, driver.ErrUnsupported},
		{"empty", driver.ImageDesc{Width: 0, Height: 8, Format: driver.FormatRGBA8Unorm, Usage: driver.ImageUsageRenderTarget}, driver.ErrUnsupported},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, err := dev.NewImage(&tt.desc)
			if !errors.Is(err, tt.want) {
				t.Fatalf("NewImage() error = %v, want %v", err, tt.want)
			}
			if err != nil {
				return
			}
			defer img.Destroy()
			if img.Width() != tt.desc.Width || img.Height() != tt.desc.Height || img.Format() != tt.desc.Format {
				t.Errorf("image = %dx%d %v, want %dx%d %v",
					img.Width(), img.Height(), img.Format(), tt.desc.Width, tt.desc.Height, tt.desc.Format)
			}
		})
	}
}

func newModule(t *testing.T, dev *Device, stage driver.ShaderStage, entry string) driver.ShaderModule {
	t.Helper()
	m, err := dev.NewShaderModule(&driver.ShaderDesc{Label: entry, Stage: stage, EntryPoint: entry, Code: spirvHeader})
	if err != nil {
		t.Fatalf("NewShaderModule(%s) error = %v", entry, err)
	}
	t.Cleanup(m.Destroy)
	return m
}

func TestNewShaderModule_Empty(t *testing.T) {
	dev := openNoopDevice(t)
	_, err := dev.NewShaderModule(&driver.ShaderDesc{Stage: driver.StageCompute, EntryPoint: "main"})
	if !errors.Is(err, driver.ErrUnsupported) {
		t.Errorf("NewShaderModule(no code) error = %v, want ErrUnsupported", err)
	}
}

func TestNewComputePipeline(t *testing.T) {
	dev := openNoopDevice(t)
	cs := newModule(t, dev, driver.StageCompute, "main")

	p, err := dev.NewComputePipeline(&driver.ComputePipelineDesc{
		Label:   "multiply",
		Compute: cs,
		Slots: []driver.Slot{
			{Group: 0, Binding: 0, Kind: driver.SlotStorageBuffer, Access: driver.AccessRead},
			{Group: 0, Binding: 1, Kind: driver.SlotStorageBuffer, Access: driver.AccessReadWrite},
			{Group: 2, Binding: 0, Kind: driver.SlotUniformBuffer, Access: driver.AccessRead},
		},
	})
	if err != nil {
		t.Fatalf("NewComputePipeline() error = %v", err)
	}
	defer p.Destroy()
	if got := len(p.(*pipeline).groups); got != 3 {
		t.Errorf("bind group layouts = %d, want 3", got)
	}

	_, err = dev.NewComputePipeline(&driver.ComputePipelineDesc{
		Compute: cs,
		Slots:   []driver.Slot{{Kind: driver.SlotSampledImage, Access: driver.AccessRead}},
	})
	if !errors.Is(err, driver.ErrUnsupported) {
		t.Errorf("NewComputePipeline(image slot) error = %v, want ErrUnsupported", err)
	}

	vs := newModule(t, dev, driver.StageVertex, "vs_main")
	if _, err := dev.NewComputePipeline(&driver.ComputePipelineDesc{Compute: vs}); !errors.Is(err, driver.ErrUnsupported) {
		t.Errorf("NewComputePipeline(vertex module) error = %v, want ErrUnsupported", err)
	}
}

func newTrianglePipeline(t *testing.T, dev *Device) driver.Pipeline {
	t.Helper()
	p, err := dev.NewGraphicsPipeline(&driver.GraphicsPipelineDesc{
		Label:    "triangle",
		Vertex:   newModule(t, dev, driver.StageVertex, "vs_main"),
		Fragment: newModule(t, dev, driver.StageFragment, "fs_main"),
		VertexLayout: driver.VertexLayout{
			Stride:     8,
			Attributes: []driver.VertexAttribute{{Location: 0, Format: driver.VertexFloat32x2}},
		},
		Viewport:   driver.Viewport{Width: 16, Height: 16, MaxDepth: 1},
		Attachment: driver.Attachment{Format: driver.FormatRGBA8Unorm},
	})
	if err != nil {
		t.Fatalf("NewGraphicsPipeline() error = %v", err)
	}
	t.Cleanup(p.Destroy)
	return p
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
	case <-time.After(5 * time.Second):
		t.Fatal("submission did not complete")
		return nil
	}
}

func TestSubmit_Draw(t *testing.T) {
	dev := openNoopDevice(t)
	p := newTrianglePipeline(t, dev)

	verts, err := dev.NewBuffer(&driver.BufferDesc{Size: 24, Usage: driver.BufferUsageVertex, Contents: make([]byte, 24)})
	if err != nil {
		t.Fatalf("NewBuffer() error = %v", err)
	}
	defer verts.Destroy()
	target, err := dev.NewImage(&driver.ImageDesc{
		Width: 16, Height: 16, Format: driver.FormatRGBA8Unorm,
		Usage: driver.ImageUsageRenderTarget | driver.ImageUsageTransferSrc,
	})
	if err != nil {
		t.Fatalf("NewImage() error = %v", err)
	}
	defer target.Destroy()
	out, err := dev.NewBuffer(&driver.BufferDesc{Size: 16 * 16 * 4, Usage: driver.BufferUsageTransferDst, HostVisible: true})
	if err != nil {
		t.Fatalf("NewBuffer() error = %v", err)
	}
	defer out.Destroy()

	err = submitAndWait(t, dev,
		&driver.Draw{Pipeline: p, Target: target, Vertices: verts, VertexCount: 3, ClearColor: driver.Color{B: 1, A: 1}},
		&driver.CopyImageToBuffer{Src: target, Dst: out},
	)
	if err != nil {
		t.Fatalf("submission error = %v", err)
	}
}

func TestSubmit_ComputeAndCopy(t *testing.T) {
	dev := openNoopDevice(t)
	cs := newModule(t, dev, driver.StageCompute, "main")
	slots := []driver.Slot{
		{Group: 0, Binding: 0, Kind: driver.SlotStorageBuffer, Access: driver.AccessRead},
		{Group: 0, Binding: 1, Kind: driver.SlotStorageBuffer, Access: driver.AccessReadWrite},
	}
	p, err := dev.NewComputePipeline(&driver.ComputePipelineDesc{Label: "copy", Compute: cs, Slots: slots})
	if err != nil {
		t.Fatalf("NewComputePipeline() error = %v", err)
	}
	defer p.Destroy()

	var bufs []driver.Buffer
	for i := 0; i < 3; i++ {
		b, err := dev.NewBuffer(&driver.BufferDesc{
			Size:        256,
			Usage:       driver.BufferUsageStorage | driver.BufferUsageTransferSrc | driver.BufferUsageTransferDst,
			HostVisible: i == 2,
		})
		if err != nil {
			t.Fatalf("NewBuffer() error = %v", err)
		}
		defer b.Destroy()
		bufs = append(bufs, b)
	}

	err = submitAndWait(t, dev,
		&driver.Dispatch{
			Pipeline:  p,
			Resources: []driver.Resource{{Slot: slots[0], Buffer: bufs[0]}, {Slot: slots[1], Buffer: bufs[1]}},
			Groups:    [3]uint32{1, 1, 1},
		},
		&driver.CopyBuffer{Src: bufs[1], Dst: bufs[2], Size: 256},
	)
	if err != nil {
		t.Fatalf("submission error = %v", err)
	}
}

func TestSubmit_UnalignedRows(t *testing.T) {
	dev := openNoopDevice(t)
	img, err := dev.NewImage(&driver.ImageDesc{
		Width: 3, Height: 2, Format: driver.FormatR8Unorm,
		Usage: driver.ImageUsageTransferDst | driver.ImageUsageTransferSrc,
	})
	if err != nil {
		t.Fatalf("NewImage() error = %v", err)
	}
	defer img.Destroy()
	out, err := dev.NewBuffer(&driver.BufferDesc{Size: 6, HostVisible: true})
	if err != nil {
		t.Fatalf("NewBuffer() error = %v", err)
	}
	defer out.Destroy()

	err = submitAndWait(t, dev, &driver.ClearImage{Image: img}, &driver.CopyImageToBuffer{Src: img, Dst: out})
	if !errors.Is(err, driver.ErrDeviceLost) {
		t.Fatalf("submission error = %v, want ErrDeviceLost", err)
	}
	if err := dev.Lost(); err == nil {
		t.Error("Lost() = nil after failed encode")
	}
}

func TestSubmit_Lost(t *testing.T) {
	dev := openNoopDevice(t)
	dev.Lose(nil)

	done := make(chan error, 1)
	err := dev.Queue().Submit([]driver.Command{&driver.ClearImage{}}, done)
	if !errors.Is(err, driver.ErrDeviceLost) {
		t.Errorf("Submit() after Lose error = %v, want ErrDeviceLost", err)
	}
	if _, err := dev.NewBuffer(&driver.BufferDesc{Size: 4}); !errors.Is(err, driver.ErrDeviceLost) {
		t.Errorf("NewBuffer() after Lose error = %v, want ErrDeviceLost", err)
	}
}

func TestSubmit_Destroyed(t *testing.T) {
	dev := openNoopDevice(t)
	q := dev.Queue()
	dev.Destroy()

	done := make(chan error, 1)
	if err := q.Submit(nil, done); !errors.Is(err, driver.ErrDestroyed) {
		t.Errorf("Submit() after Destroy error = %v, want ErrDestroyed", err)
	}
}

// mockDevice implements gpucontext.Device for testing.
type mockDevice struct{}

func (m *mockDevice) Poll(wait bool) {}
func (m *mockDevice) Destroy()       {}

type mockQueue struct{}

type mockAdapter struct{}

// mockProvider implements gpucontext.DeviceProvider without hal access.
type mockProvider struct{}

func (m *mockProvider) Device() gpucontext.Device             { return &mockDevice{} }
func (m *mockProvider) Queue() gpucontext.Queue               { return &mockQueue{} }
func (m *mockProvider) Adapter() gpucontext.Adapter           { return &mockAdapter{} }
func (m *mockProvider) SurfaceFormat() gputypes.TextureFormat { return gputypes.TextureFormatBGRA8Unorm }

// halMockProvider also exposes a noop hal device and queue.
type halMockProvider struct {
	mockProvider
	device hal.Device
	queue  hal.Queue
}

func (m *halMockProvider) HalDevice() any { return m.device }
func (m *halMockProvider) HalQueue() any  { return m.queue }

func TestNewSharedDriver(t *testing.T) {
	if _, err := NewSharedDriver("shared", nil, Options{}); !errors.Is(err, driver.ErrUnsupported) {
		t.Errorf("NewSharedDriver(nil) error = %v, want ErrUnsupported", err)
	}
	if _, err := NewSharedDriver("shared", &mockProvider{}, Options{}); !errors.Is(err, driver.ErrUnsupported) {
		t.Errorf("NewSharedDriver(no hal) error = %v, want ErrUnsupported", err)
	}

	api := noop.API{}
	instance, err := api.CreateInstance(nil)
	if err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}
	defer instance.Destroy()
	openDev, err := instance.EnumerateAdapters(nil)[0].Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer openDev.Device.Destroy()

	d, err := NewSharedDriver("shared", &halMockProvider{device: openDev.Device, queue: openDev.Queue}, Options{})
	if err != nil {
		t.Fatalf("NewSharedDriver() error = %v", err)
	}
	adapters, err := d.Adapters()
	if err != nil || len(adapters) != 1 {
		t.Fatalf("Adapters() = %d, %v; want 1 adapter", len(adapters), err)
	}

	// The shared hal device survives Destroy, so the adapter reopens.
	for i := 0; i < 2; i++ {
		dev, err := adapters[0].Open(0, 0)
		if err != nil {
			t.Fatalf("Open() #%d error = %v", i, err)
		}
		b, err := dev.NewBuffer(&driver.BufferDesc{Size: 64, HostVisible: true})
		if err != nil {
			t.Fatalf("NewBuffer() error = %v", err)
		}
		b.Destroy()
		dev.Destroy()
	}
}

func TestRegistered(t *testing.T) {
	if !driver.IsRegistered(driver.NameWGPU) {
		t.Errorf("IsRegistered(%q) = false, want true", driver.NameWGPU)
	}
}
