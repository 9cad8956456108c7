//go:build !nogpu

package wgpu

import (
	"fmt"

	"github.com/gogpu/gpuflow/driver"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

func deviceType(a *hal.ExposedAdapter) driver.DeviceType {
	switch a.Info.DeviceType {
	case gputypes.DeviceTypeDiscreteGPU:
		return driver.DeviceTypeDiscrete
	case gputypes.DeviceTypeIntegratedGPU:
		return driver.DeviceTypeIntegrated
	default:
		return driver.DeviceTypeOther
	}
}

func textureFormat(f driver.Format) (gputypes.TextureFormat, error) {
	switch f {
	case driver.FormatRGBA8Unorm:
		return gputypes.TextureFormatRGBA8Unorm, nil
	case driver.FormatBGRA8Unorm:
		return gputypes.TextureFormatBGRA8Unorm, nil
	case driver.FormatR8Unorm:
		return gputypes.TextureFormatR8Unorm, nil
	case driver.FormatR32Float:
		return gputypes.TextureFormatR32Float, nil
	case driver.FormatRGBA32Float:
		return gputypes.TextureFormatRGBA32Float, nil
	default:
		return 0, fmt.Errorf("%w: format %v", driver.ErrUnsupported, f)
	}
}

// bufferUsage maps usages onto hal usages. Every buffer can be a copy
// source and destination so that creation contents and readback staging
// need no extra allocation.
func bufferUsage(u driver.BufferUsage, hostVisible bool) gputypes.BufferUsage {
	usage := gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst
	if u.Contains(driver.BufferUsageStorage) {
		usage |= gputypes.BufferUsageStorage
	}
	if u.Contains(driver.BufferUsageVertex) {
		usage |= gputypes.BufferUsageVertex
	}
	if u.Contains(driver.BufferUsageUniform) {
		usage |= gputypes.BufferUsageUniform
	}
	if hostVisible {
		usage |= gputypes.BufferUsageMapRead | gputypes.BufferUsageMapWrite
	}
	return usage
}

// textureUsage maps usages onto hal usages. Transfer destinations are
// cleared with a render pass and so also need the attachment usage.
func textureUsage(u driver.ImageUsage) (gputypes.TextureUsage, error) {
	if u.Contains(driver.ImageUsageStorage) {
		return 0, fmt.Errorf("%w: storage images", driver.ErrUnsupported)
	}
	var usage gputypes.TextureUsage
	if u.Contains(driver.ImageUsageRenderTarget) || u.Contains(driver.ImageUsageTransferDst) {
		usage |= gputypes.TextureUsageRenderAttachment
	}
	if u.Contains(driver.ImageUsageTransferSrc) {
		usage |= gputypes.TextureUsageCopySrc
	}
	if u.Contains(driver.ImageUsageTransferDst) {
		usage |= gputypes.TextureUsageCopyDst
	}
	if u.Contains(driver.ImageUsageSampled) {
		usage |= gputypes.TextureUsageTextureBinding
	}
	return usage, nil
}

func vertexFormat(f driver.VertexFormat) (gputypes.VertexFormat, error) {
	switch f {
	case driver.VertexFloat32:
		return gputypes.VertexFormatFloat32, nil
	case driver.VertexFloat32x2:
		return gputypes.VertexFormatFloat32x2, nil
	case driver.VertexFloat32x3:
		return gputypes.VertexFormatFloat32x3, nil
	case driver.VertexFloat32x4:
		return gputypes.VertexFormatFloat32x4, nil
	case driver.VertexUint32:
		return gputypes.VertexFormatUint32, nil
	default:
		return 0, fmt.Errorf("%w: vertex format %d", driver.ErrUnsupported, f)
	}
}

func loadOp(op driver.LoadOp) gputypes.LoadOp {
	if op == driver.LoadOpLoad {
		return gputypes.LoadOpLoad
	}
	return gputypes.LoadOpClear
}

func storeOp(op driver.StoreOp) gputypes.StoreOp {
	if op == driver.StoreOpDiscard {
		return gputypes.StoreOpDiscard
	}
	return gputypes.StoreOpStore
}

func color(c driver.Color) gputypes.Color {
	return gputypes.Color{R: float64(c.R), G: float64(c.G), B: float64(c.B), A: float64(c.A)}
}
