package soft

import (
	"encoding/binary"
	"math"
	"sync"

	"github.com/gogpu/gpuflow/driver"
)

// Kernel limits.
const (
	// MaxAttributes is the number of vertex input locations.
	MaxAttributes = 16

	// MaxVaryings is the number of vec4 values passed from the vertex to
	// the fragment stage.
	MaxVaryings = 8
)

// ComputeKernel executes one compute invocation.
type ComputeKernel func(inv *Invocation)

// VertexKernel transforms one vertex.
type VertexKernel func(in *VertexInput) VertexOutput

// FragmentKernel shades one covered pixel.
type FragmentKernel func(in *FragmentInput) driver.Color

type kernelKey struct {
	stage driver.ShaderStage
	entry string
}

var (
	kernelsMu sync.RWMutex
	kernels   = make(map[kernelKey]any)
)

// RegisterCompute binds a compute entry point name to a kernel.
// Shader modules whose entry point has no kernel fail to load with
// driver.ErrNoKernel.
func RegisterCompute(entry string, k ComputeKernel) {
	registerKernel(driver.StageCompute, entry, k)
}

// RegisterVertex binds a vertex entry point name to a kernel.
func RegisterVertex(entry string, k VertexKernel) {
	registerKernel(driver.StageVertex, entry, k)
}

// RegisterFragment binds a fragment entry point name to a kernel.
func RegisterFragment(entry string, k FragmentKernel) {
	registerKernel(driver.StageFragment, entry, k)
}

// UnregisterKernel removes a kernel. This is useful for testing.
func UnregisterKernel(stage driver.ShaderStage, entry string) {
	kernelsMu.Lock()
	defer kernelsMu.Unlock()
	delete(kernels, kernelKey{stage, entry})
}

func registerKernel(stage driver.ShaderStage, entry string, k any) {
	kernelsMu.Lock()
	defer kernelsMu.Unlock()
	kernels[kernelKey{stage, entry}] = k
}

func lookupKernel(stage driver.ShaderStage, entry string) (any, bool) {
	kernelsMu.RLock()
	defer kernelsMu.RUnlock()
	k, ok := kernels[kernelKey{stage, entry}]
	return k, ok
}

// Resources gives kernels access to the resources bound for a command.
type Resources struct {
	buffers map[[2]uint32]*buffer
	images  map[[2]uint32]*image
}

func newResources(bound []driver.Resource) *Resources {
	r := &Resources{
		buffers: make(map[[2]uint32]*buffer),
		images:  make(map[[2]uint32]*image),
	}
	for _, b := range bound {
		key := [2]uint32{b.Slot.Group, b.Slot.Binding}
		if b.Buffer != nil {
			r.buffers[key] = b.Buffer.(*buffer)
		}
		if b.Image != nil {
			r.images[key] = b.Image.(*image)
		}
	}
	return r
}

// Buffer returns the buffer bound at (group, binding). An unbound slot
// yields an empty BufferRef.
func (r *Resources) Buffer(group, binding uint32) BufferRef {
	if b := r.buffers[[2]uint32{group, binding}]; b != nil {
		return BufferRef{data: b.data}
	}
	return BufferRef{}
}

// Image returns the image bound at (group, binding).
func (r *Resources) Image(group, binding uint32) ImageRef {
	if img := r.images[[2]uint32{group, binding}]; img != nil {
		return ImageRef{img: img}
	}
	return ImageRef{}
}

// BufferRef accesses a buffer as 32-bit little-endian elements.
// Out-of-bounds loads return zero and out-of-bounds stores are dropped,
// matching robust buffer access on hardware.
type BufferRef struct {
	data []byte
}

// Len returns the number of 32-bit elements.
func (b BufferRef) Len() int { return len(b.data) / 4 }

// U32 loads element i as a uint32.
func (b BufferRef) U32(i int) uint32 {
	if i < 0 || i >= b.Len() {
		return 0
	}
	return binary.LittleEndian.Uint32(b.data[i*4:])
}

// SetU32 stores v at element i.
func (b BufferRef) SetU32(i int, v uint32) {
	if i < 0 || i >= b.Len() {
		return
	}
	binary.LittleEndian.PutUint32(b.data[i*4:], v)
}

// F32 loads element i as a float32.
func (b BufferRef) F32(i int) float32 {
	return math.Float32frombits(b.U32(i))
}

// SetF32 stores v at element i.
func (b BufferRef) SetF32(i int, v float32) {
	b.SetU32(i, math.Float32bits(v))
}

// ImageRef accesses an image texel by texel. Out-of-bounds access is
// ignored.
type ImageRef struct {
	img *image
}

// Size returns the image dimensions.
func (r ImageRef) Size() (width, height int) {
	if r.img == nil {
		return 0, 0
	}
	return int(r.img.width), int(r.img.height)
}

// Load reads the texel at (x, y).
func (r ImageRef) Load(x, y int) driver.Color {
	off, ok := r.offset(x, y)
	if !ok {
		return driver.Color{}
	}
	return r.img.format.Decode(r.img.data[off:])
}

// Store writes the texel at (x, y).
func (r ImageRef) Store(x, y int, c driver.Color) {
	if off, ok := r.offset(x, y); ok {
		r.img.format.Encode(r.img.data[off:], c)
	}
}

func (r ImageRef) offset(x, y int) (int, bool) {
	w, h := r.Size()
	if x < 0 || y < 0 || x >= w || y >= h {
		return 0, false
	}
	return (y*w + x) * r.img.format.BytesPerPixel(), true
}

// Invocation is one compute shader invocation.
type Invocation struct {
	*Resources
	GlobalID      [3]uint32
	LocalID       [3]uint32
	WorkgroupID   [3]uint32
	NumWorkgroups [3]uint32
}

// VertexInput is the input of one vertex shader invocation.
type VertexInput struct {
	*Resources
	VertexIndex uint32
	attrs       [MaxAttributes][4]float32
}

// Attribute returns the vertex attribute at location. Missing components
// default to (0, 0, 0, 1).
func (in *VertexInput) Attribute(location uint32) [4]float32 {
	if location >= MaxAttributes {
		return [4]float32{0, 0, 0, 1}
	}
	return in.attrs[location]
}

// VertexOutput is the result of a vertex shader invocation.
type VertexOutput struct {
	// Position is the clip-space position.
	Position [4]float32
	Varyings [MaxVaryings][4]float32
}

// FragmentInput is the input of one fragment shader invocation.
type FragmentInput struct {
	*Resources

	// Position is the window-space pixel center (x, y), depth and 1/w.
	Position [4]float32
	Varyings [MaxVaryings][4]float32
}
