package gpuflow

import "github.com/gogpu/gpuflow/driver"

// Format is an image texel format.
type Format = driver.Format

// Image formats.
const (
	FormatUndefined   = driver.FormatUndefined
	FormatRGBA8Unorm  = driver.FormatRGBA8Unorm
	FormatBGRA8Unorm  = driver.FormatBGRA8Unorm
	FormatR8Unorm     = driver.FormatR8Unorm
	FormatR32Float    = driver.FormatR32Float
	FormatRGBA32Float = driver.FormatRGBA32Float
)

// Color is a linear RGBA color with components in [0, 1].
type Color = driver.Color

// BufferUsage is a set of buffer usages.
type BufferUsage = driver.BufferUsage

// Buffer usages.
const (
	BufferUsageTransferSrc = driver.BufferUsageTransferSrc
	BufferUsageTransferDst = driver.BufferUsageTransferDst
	BufferUsageStorage     = driver.BufferUsageStorage
	BufferUsageVertex      = driver.BufferUsageVertex
	BufferUsageUniform     = driver.BufferUsageUniform

	bufferUsageAll = BufferUsageTransferSrc | BufferUsageTransferDst | BufferUsageStorage |
		BufferUsageVertex | BufferUsageUniform
)

// ImageUsage is a set of image usages.
type ImageUsage = driver.ImageUsage

// Image usages.
const (
	ImageUsageRenderTarget = driver.ImageUsageRenderTarget
	ImageUsageTransferSrc  = driver.ImageUsageTransferSrc
	ImageUsageTransferDst  = driver.ImageUsageTransferDst
	ImageUsageStorage      = driver.ImageUsageStorage
	ImageUsageSampled      = driver.ImageUsageSampled

	imageUsageAll = ImageUsageRenderTarget | ImageUsageTransferSrc | ImageUsageTransferDst |
		ImageUsageStorage | ImageUsageSampled
)

// Capabilities is a set of queue capabilities.
type Capabilities = driver.QueueCaps

// Queue capabilities.
const (
	CapGraphics = driver.QueueGraphics
	CapCompute  = driver.QueueCompute
	CapTransfer = driver.QueueTransfer

	capsAll = CapGraphics | CapCompute | CapTransfer
)

// Features is a set of optional device features.
type Features = driver.Features

// Optional device features.
const (
	FeatureShaderFloat64     = driver.FeatureShaderFloat64
	FeatureStorageImageWrite = driver.FeatureStorageImageWrite
	FeatureTimestampQuery    = driver.FeatureTimestampQuery
	FeatureIndirectDispatch  = driver.FeatureIndirectDispatch

	featuresAll = FeatureShaderFloat64 | FeatureStorageImageWrite | FeatureTimestampQuery | FeatureIndirectDispatch
)

// ShaderStage identifies a pipeline stage.
type ShaderStage = driver.ShaderStage

// Shader stages.
const (
	StageVertex   = driver.StageVertex
	StageFragment = driver.StageFragment
	StageCompute  = driver.StageCompute
)

// ResourceSlot is a (group, binding) slot of a pipeline layout.
type ResourceSlot = driver.Slot

// SlotKind is the kind of resource a slot accepts.
type SlotKind = driver.SlotKind

// Slot kinds.
const (
	SlotUniformBuffer = driver.SlotUniformBuffer
	SlotStorageBuffer = driver.SlotStorageBuffer
	SlotSampledImage  = driver.SlotSampledImage
	SlotStorageImage  = driver.SlotStorageImage
)

// Access is how a shader uses a resource.
type Access = driver.Access

// Accesses.
const (
	AccessRead      = driver.AccessRead
	AccessWrite     = driver.AccessWrite
	AccessReadWrite = driver.AccessReadWrite
)

// VertexFormat is the format of a vertex attribute.
type VertexFormat = driver.VertexFormat

// Vertex formats.
const (
	VertexFloat32   = driver.VertexFloat32
	VertexFloat32x2 = driver.VertexFloat32x2
	VertexFloat32x3 = driver.VertexFloat32x3
	VertexFloat32x4 = driver.VertexFloat32x4
	VertexUint32    = driver.VertexUint32
)

// VertexAttribute places one vertex shader input inside a vertex.
type VertexAttribute = driver.VertexAttribute

// VertexLayout describes one interleaved vertex buffer.
type VertexLayout = driver.VertexLayout

// Viewport maps normalized device coordinates to pixels.
type Viewport = driver.Viewport

// LoadOp is what happens to attachment contents when a pass starts.
type LoadOp = driver.LoadOp

// Load operations.
const (
	LoadOpClear    = driver.LoadOpClear
	LoadOpLoad     = driver.LoadOpLoad
	LoadOpDontCare = driver.LoadOpDontCare
)

// StoreOp is what happens to attachment contents when a pass ends.
type StoreOp = driver.StoreOp

// Store operations.
const (
	StoreOpStore   = driver.StoreOpStore
	StoreOpDiscard = driver.StoreOpDiscard
)

// Attachment describes the color attachment of a graphics pipeline.
type Attachment = driver.Attachment

// AdapterInfo describes a physical device.
type AdapterInfo = driver.AdapterInfo

// QueueFamily describes a group of queues with identical capabilities.
type QueueFamily = driver.QueueFamily
