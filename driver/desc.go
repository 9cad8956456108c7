package driver

import "math"

// BufferUsage is a set of buffer usages.
type BufferUsage uint16

// Buffer usages.
const (
	BufferUsageTransferSrc BufferUsage = 1 << iota
	BufferUsageTransferDst
	BufferUsageStorage
	BufferUsageVertex
	BufferUsageUniform
)

// Contains reports whether u includes every usage in other.
func (u BufferUsage) Contains(other BufferUsage) bool {
	return u&other == other
}

// ImageUsage is a set of image usages.
type ImageUsage uint16

// Image usages.
const (
	ImageUsageRenderTarget ImageUsage = 1 << iota
	ImageUsageTransferSrc
	ImageUsageTransferDst
	ImageUsageStorage
	ImageUsageSampled
)

// Contains reports whether u includes every usage in other.
func (u ImageUsage) Contains(other ImageUsage) bool {
	return u&other == other
}

// BufferDesc describes a buffer allocation.
type BufferDesc struct {
	Label       string
	Size        uint64
	Usage       BufferUsage
	HostVisible bool

	// Contents, if non-nil, is copied into the buffer at creation. This is
	// the only way to fill a device-local buffer from the host.
	Contents []byte
}

// ImageDesc describes an image allocation.
type ImageDesc struct {
	Label  string
	Width  uint32
	Height uint32
	Format Format
	Usage  ImageUsage
}

// ShaderStage identifies a pipeline stage.
type ShaderStage uint8

// Shader stages.
const (
	StageVertex ShaderStage = iota + 1
	StageFragment
	StageCompute
)

func (s ShaderStage) String() string {
	switch s {
	case StageVertex:
		return "vertex"
	case StageFragment:
		return "fragment"
	case StageCompute:
		return "compute"
	default:
		return "unknown"
	}
}

// ShaderDesc describes a shader module with a single entry point.
type ShaderDesc struct {
	Label      string
	Stage      ShaderStage
	EntryPoint string

	// Code is SPIR-V, one word per element.
	Code []uint32

	// Workgroup is the compute local size; zero for graphics stages.
	Workgroup [3]uint32
}

// SlotKind is the kind of resource a binding slot accepts.
type SlotKind uint8

// Slot kinds.
const (
	SlotUniformBuffer SlotKind = iota + 1
	SlotStorageBuffer
	SlotSampledImage
	SlotStorageImage
)

// IsBuffer reports whether the slot binds a buffer.
func (k SlotKind) IsBuffer() bool {
	return k == SlotUniformBuffer || k == SlotStorageBuffer
}

func (k SlotKind) String() string {
	switch k {
	case SlotUniformBuffer:
		return "uniform"
	case SlotStorageBuffer:
		return "storage"
	case SlotSampledImage:
		return "sampled_image"
	case SlotStorageImage:
		return "storage_image"
	default:
		return "unknown"
	}
}

// Access is how a shader uses a resource.
type Access uint8

// Accesses.
const (
	AccessRead Access = 1 << iota
	AccessWrite

	AccessReadWrite = AccessRead | AccessWrite
)

func (a Access) String() string {
	switch a {
	case AccessRead:
		return "read"
	case AccessWrite:
		return "write"
	case AccessReadWrite:
		return "read_write"
	default:
		return "none"
	}
}

// Slot is a (group, binding) resource slot of a pipeline layout.
type Slot struct {
	Group   uint32
	Binding uint32
	Kind    SlotKind
	Access  Access
}

// VertexFormat is the format of a vertex attribute.
type VertexFormat uint8

// Vertex formats.
const (
	VertexFloat32 VertexFormat = iota + 1
	VertexFloat32x2
	VertexFloat32x3
	VertexFloat32x4
	VertexUint32
)

// Size returns the attribute size in bytes.
func (f VertexFormat) Size() uint32 {
	switch f {
	case VertexFloat32, VertexUint32:
		return 4
	case VertexFloat32x2:
		return 8
	case VertexFloat32x3:
		return 12
	case VertexFloat32x4:
		return 16
	default:
		return 0
	}
}

// Components returns the number of scalar components.
func (f VertexFormat) Components() int {
	switch f {
	case VertexFloat32, VertexUint32:
		return 1
	default:
		return int(f.Size() / 4)
	}
}

// VertexAttribute places one shader input inside a vertex.
type VertexAttribute struct {
	Location uint32
	Format   VertexFormat
	Offset   uint32
}

// VertexLayout describes one interleaved vertex buffer.
type VertexLayout struct {
	Stride     uint32
	Attributes []VertexAttribute
}

// Viewport maps normalized device coordinates to pixels.
type Viewport struct {
	X, Y, Width, Height float32
	MinDepth, MaxDepth  float32
}

// Empty reports whether the viewport covers no pixels or holds
// non-finite values.
func (v Viewport) Empty() bool {
	for _, f := range []float32{v.X, v.Y, v.Width, v.Height, v.MinDepth, v.MaxDepth} {
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			return true
		}
	}
	return !(v.Width > 0) || !(v.Height > 0)
}

// LoadOp is what happens to attachment contents at the start of a pass.
type LoadOp uint8

// Load operations.
const (
	LoadOpClear LoadOp = iota
	LoadOpLoad
	LoadOpDontCare
)

// StoreOp is what happens to attachment contents at the end of a pass.
type StoreOp uint8

// Store operations.
const (
	StoreOpStore StoreOp = iota
	StoreOpDiscard
)

// Attachment describes the single color attachment of a graphics pipeline.
type Attachment struct {
	Format Format
	Load   LoadOp
	Store  StoreOp
}

// ComputePipelineDesc describes a compute pipeline.
type ComputePipelineDesc struct {
	Label   string
	Compute ShaderModule
	Slots   []Slot
}

// GraphicsPipelineDesc describes a graphics pipeline.
type GraphicsPipelineDesc struct {
	Label        string
	Vertex       ShaderModule
	Fragment     ShaderModule
	Slots        []Slot
	VertexLayout VertexLayout
	Viewport     Viewport
	Attachment   Attachment
}
