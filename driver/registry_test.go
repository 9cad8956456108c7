package driver

import (
	"math"
	"slices"
	"testing"
)

type stubDriver struct{ name string }

func (d stubDriver) Name() string                 { return d.name }
func (d stubDriver) Adapters() ([]Adapter, error) { return nil, nil }

func TestRegistry_RegisterGet(t *testing.T) {
	Register("stub-a", func() Driver { return stubDriver{"stub-a"} })
	defer Unregister("stub-a")

	if !IsRegistered("stub-a") {
		t.Fatal("IsRegistered(stub-a) = false, want true")
	}
	d := Get("stub-a")
	if d == nil || d.Name() != "stub-a" {
		t.Errorf("Get(stub-a) = %v, want stub-a driver", d)
	}
	if Get("missing") != nil {
		t.Error("Get(missing) should return nil")
	}
}

func TestRegistry_Unregister(t *testing.T) {
	Register("stub-b", func() Driver { return stubDriver{"stub-b"} })
	Unregister("stub-b")

	if IsRegistered("stub-b") {
		t.Error("stub-b still registered after Unregister")
	}
	if slices.Contains(Available(), "stub-b") {
		t.Error("Available() still lists stub-b")
	}
}

func TestRegistry_OrderedPriorityFirst(t *testing.T) {
	for _, name := range []string{"zz-extra", NameSoft, "aa-extra"} {
		Register(name, func() Driver { return stubDriver{name} })
	}
	defer func() {
		Unregister("zz-extra")
		Unregister("aa-extra")
	}()

	got := Ordered()
	soft := slices.Index(got, NameSoft)
	aa := slices.Index(got, "aa-extra")
	zz := slices.Index(got, "zz-extra")
	if soft < 0 || aa < 0 || zz < 0 {
		t.Fatalf("Ordered() = %v, missing entries", got)
	}
	if soft > aa || aa > zz {
		t.Errorf("Ordered() = %v, want priority names before the rest in lexical order", got)
	}
}

func TestQueueCaps(t *testing.T) {
	all := QueueGraphics | QueueCompute | QueueTransfer
	tests := []struct {
		caps  QueueCaps
		need  QueueCaps
		want  bool
		label string
	}{
		{all, QueueCompute, true, "graphics|compute|transfer"},
		{QueueCompute | QueueTransfer, QueueGraphics, false, "compute|transfer"},
		{QueueTransfer, QueueTransfer, true, "transfer"},
		{0, 0, true, "none"},
	}
	for _, tt := range tests {
		if got := tt.caps.Contains(tt.need); got != tt.want {
			t.Errorf("%v.Contains(%v) = %v, want %v", tt.caps, tt.need, got, tt.want)
		}
		if tt.caps.String() != tt.label {
			t.Errorf("String() = %q, want %q", tt.caps.String(), tt.label)
		}
	}
}

func TestFormatEncodeDecode(t *testing.T) {
	c := Color{R: 1, G: 0.5, B: 0, A: 1}
	tests := []struct {
		format Format
		want   []byte
	}{
		{FormatRGBA8Unorm, []byte{255, 128, 0, 255}},
		{FormatBGRA8Unorm, []byte{0, 128, 255, 255}},
		{FormatR8Unorm, []byte{255}},
	}
	for _, tt := range tests {
		dst := make([]byte, tt.format.BytesPerPixel())
		tt.format.Encode(dst, c)
		if !slices.Equal(dst, tt.want) {
			t.Errorf("%v.Encode() = %v, want %v", tt.format, dst, tt.want)
		}
	}

	dst := make([]byte, FormatRGBA32Float.BytesPerPixel())
	FormatRGBA32Float.Encode(dst, c)
	if got := FormatRGBA32Float.Decode(dst); got != c {
		t.Errorf("RGBA32Float round trip = %v, want %v", got, c)
	}
}

func TestViewportEmpty(t *testing.T) {
	tests := []struct {
		vp   Viewport
		want bool
	}{
		{Viewport{Width: 1024, Height: 1024, MaxDepth: 1}, false},
		{Viewport{Width: 0, Height: 10}, true},
		{Viewport{Width: 10, Height: -1}, true},
		{Viewport{Width: float32(math.NaN()), Height: 10}, true},
	}
	for _, tt := range tests {
		if got := tt.vp.Empty(); got != tt.want {
			t.Errorf("%+v.Empty() = %v, want %v", tt.vp, got, tt.want)
		}
	}
}
