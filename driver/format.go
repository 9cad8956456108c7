package driver

// Format is an image texel format.
type Format uint8

// Image formats.
const (
	FormatUndefined Format = iota
	FormatRGBA8Unorm
	FormatBGRA8Unorm
	FormatR8Unorm
	FormatR32Float
	FormatRGBA32Float
)

// BytesPerPixel returns the texel size in bytes, or 0 for FormatUndefined.
func (f Format) BytesPerPixel() int {
	switch f {
	case FormatRGBA8Unorm, FormatBGRA8Unorm, FormatR32Float:
		return 4
	case FormatR8Unorm:
		return 1
	case FormatRGBA32Float:
		return 16
	default:
		return 0
	}
}

// Channels returns the number of color channels.
func (f Format) Channels() int {
	switch f {
	case FormatRGBA8Unorm, FormatBGRA8Unorm, FormatRGBA32Float:
		return 4
	case FormatR8Unorm, FormatR32Float:
		return 1
	default:
		return 0
	}
}

func (f Format) String() string {
	switch f {
	case FormatRGBA8Unorm:
		return "rgba8unorm"
	case FormatBGRA8Unorm:
		return "bgra8unorm"
	case FormatR8Unorm:
		return "r8unorm"
	case FormatR32Float:
		return "r32float"
	case FormatRGBA32Float:
		return "rgba32float"
	default:
		return "undefined"
	}
}

// FormatCaps is a set of supported uses for a format.
type FormatCaps uint8

// Format capabilities.
const (
	FormatCapRenderTarget FormatCaps = 1 << iota
	FormatCapStorage
	FormatCapTransfer
)

// Contains reports whether c includes every capability in other.
func (c FormatCaps) Contains(other FormatCaps) bool {
	return c&other == other
}

// Color is a linear RGBA color with components in [0, 1].
type Color struct {
	R, G, B, A float64
}

// Encode writes c into dst using the texel layout of f.
// dst must hold at least f.BytesPerPixel() bytes.
func (f Format) Encode(dst []byte, c Color) {
	switch f {
	case FormatRGBA8Unorm:
		dst[0], dst[1], dst[2], dst[3] = unorm8(c.R), unorm8(c.G), unorm8(c.B), unorm8(c.A)
	case FormatBGRA8Unorm:
		dst[0], dst[1], dst[2], dst[3] = unorm8(c.B), unorm8(c.G), unorm8(c.R), unorm8(c.A)
	case FormatR8Unorm:
		dst[0] = unorm8(c.R)
	case FormatR32Float:
		putFloat32(dst, float32(c.R))
	case FormatRGBA32Float:
		putFloat32(dst[0:], float32(c.R))
		putFloat32(dst[4:], float32(c.G))
		putFloat32(dst[8:], float32(c.B))
		putFloat32(dst[12:], float32(c.A))
	}
}

// Decode reads one texel of format f from src.
func (f Format) Decode(src []byte) Color {
	switch f {
	case FormatRGBA8Unorm:
		return Color{R: float64(src[0]) / 255, G: float64(src[1]) / 255, B: float64(src[2]) / 255, A: float64(src[3]) / 255}
	case FormatBGRA8Unorm:
		return Color{R: float64(src[2]) / 255, G: float64(src[1]) / 255, B: float64(src[0]) / 255, A: float64(src[3]) / 255}
	case FormatR8Unorm:
		return Color{R: float64(src[0]) / 255, A: 1}
	case FormatR32Float:
		return Color{R: float64(getFloat32(src)), A: 1}
	case FormatRGBA32Float:
		return Color{
			R: float64(getFloat32(src[0:])),
			G: float64(getFloat32(src[4:])),
			B: float64(getFloat32(src[8:])),
			A: float64(getFloat32(src[12:])),
		}
	default:
		return Color{}
	}
}

func unorm8(v float64) byte {
	if !(v > 0) {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return byte(v*255 + 0.5)
}
