package spirv

// Assembler emits minimal SPIR-V modules holding only the declarations that
// Reflect reads. Drivers that bind entry points by name (the software
// driver) accept them; hardware drivers need real shader bodies.
type Assembler struct {
	next    uint32
	version uint32

	entries []entry
	modes   []uint32
	decos   []uint32
	types   []uint32
}

type entry struct {
	model ExecutionModel
	fn    uint32
	name  string
	iface []uint32
}

// NewAssembler returns an assembler producing SPIR-V 1.3.
func NewAssembler() *Assembler {
	return &Assembler{next: 1, version: 0x00010300}
}

// ID allocates a result id.
func (a *Assembler) ID() uint32 {
	id := a.next
	a.next++
	return id
}

func instr(op uint32, args ...uint32) []uint32 {
	return append([]uint32{uint32(len(args)+1)<<16 | op}, args...)
}

func encodeString(s string) []uint32 {
	b := append([]byte(s), 0)
	for len(b)%4 != 0 {
		b = append(b, 0)
	}
	words := make([]uint32, len(b)/4)
	for i := range words {
		words[i] = uint32(b[i*4]) | uint32(b[i*4+1])<<8 | uint32(b[i*4+2])<<16 | uint32(b[i*4+3])<<24
	}
	return words
}

// EntryPoint declares an entry point and returns its function id.
func (a *Assembler) EntryPoint(model ExecutionModel, name string) uint32 {
	fn := a.ID()
	a.entries = append(a.entries, entry{model: model, fn: fn, name: name})
	return fn
}

// LocalSize sets the compute workgroup size of an entry point.
func (a *Assembler) LocalSize(fn, x, y, z uint32) {
	a.modes = append(a.modes, instr(OpExecutionMode, fn, executionLocalSize, x, y, z)...)
}

func (a *Assembler) variable(class StorageClass, pointee uint32) uint32 {
	ptr, v := a.ID(), a.ID()
	a.types = append(a.types, instr(OpTypePointer, ptr, uint32(class), pointee)...)
	a.types = append(a.types, instr(OpVariable, ptr, v, uint32(class))...)
	return v
}

func (a *Assembler) bind(v, set, binding uint32) {
	a.decos = append(a.decos, instr(OpDecorate, v, DecorationDescriptorSet, set)...)
	a.decos = append(a.decos, instr(OpDecorate, v, DecorationBinding, binding)...)
}

func (a *Assembler) block() uint32 {
	st := a.ID()
	a.types = append(a.types, instr(OpTypeStruct, st)...)
	a.decos = append(a.decos, instr(OpDecorate, st, DecorationBlock)...)
	return st
}

// StorageBuffer declares a storage buffer variable at (set, binding).
func (a *Assembler) StorageBuffer(set, binding uint32, readOnly bool) uint32 {
	v := a.variable(StorageClassStorageBuffer, a.block())
	a.bind(v, set, binding)
	if readOnly {
		a.decos = append(a.decos, instr(OpDecorate, v, DecorationNonWritable)...)
	}
	return v
}

// UniformBuffer declares a uniform buffer variable at (set, binding).
func (a *Assembler) UniformBuffer(set, binding uint32) uint32 {
	v := a.variable(StorageClassUniform, a.block())
	a.bind(v, set, binding)
	return v
}

// Image declares a 2D image variable at (set, binding); storage selects a
// storage image instead of a sampled one.
func (a *Assembler) Image(set, binding uint32, storage bool) uint32 {
	img := a.ID()
	sampled := uint32(1)
	if storage {
		sampled = imageSampledStorage
	}
	// sampled type 0 stands in for a float type; Reflect does not resolve it.
	a.types = append(a.types, instr(OpTypeImage, img, 0, 1, 0, 0, 0, sampled, 0)...)
	v := a.variable(StorageClassUniformConstant, img)
	a.bind(v, set, binding)
	return v
}

// Input declares an input at location in the interface of the most
// recently declared entry point.
func (a *Assembler) Input(location uint32) uint32 {
	v := a.variable(StorageClassInput, 0)
	a.decos = append(a.decos, instr(OpDecorate, v, DecorationLocation, location)...)
	if n := len(a.entries); n > 0 {
		a.entries[n-1].iface = append(a.entries[n-1].iface, v)
	}
	return v
}

// Words returns the assembled module.
func (a *Assembler) Words() []uint32 {
	words := []uint32{MagicNumber, a.version, 0, a.next, 0}
	for _, e := range a.entries {
		args := append([]uint32{uint32(e.model), e.fn}, encodeString(e.name)...)
		words = append(words, instr(OpEntryPoint, append(args, e.iface...)...)...)
	}
	words = append(words, a.modes...)
	words = append(words, a.decos...)
	return append(words, a.types...)
}
