package spirv

import (
	"fmt"
	"slices"
)

// BindingKind is the kind of a descriptor binding.
type BindingKind uint8

// Binding kinds.
const (
	KindUnknown BindingKind = iota
	KindUniformBuffer
	KindStorageBuffer
	KindSampledImage
	KindStorageImage
	KindSampler
	KindCombinedImageSampler
)

func (k BindingKind) String() string {
	switch k {
	case KindUniformBuffer:
		return "uniform"
	case KindStorageBuffer:
		return "storage"
	case KindSampledImage:
		return "sampled_image"
	case KindStorageImage:
		return "storage_image"
	case KindSampler:
		return "sampler"
	case KindCombinedImageSampler:
		return "combined_image_sampler"
	default:
		return "unknown"
	}
}

// Binding is a descriptor variable.
type Binding struct {
	Name        string
	Set         uint32
	Binding     uint32
	Kind        BindingKind
	NonWritable bool
	NonReadable bool
}

// EntryPoint is an OpEntryPoint with its execution modes.
type EntryPoint struct {
	Name      string
	Model     ExecutionModel
	LocalSize [3]uint32

	// Inputs are the Location decorations of the non-builtin Input
	// variables in the entry point interface, sorted ascending.
	Inputs []uint32

	iface []uint32
}

// Module is the reflected interface of a SPIR-V module. Bindings and
// Inputs are module-wide.
type Module struct {
	Version     uint32
	EntryPoints []EntryPoint
	Bindings    []Binding

	// Inputs are the Location decorations of non-builtin Input variables,
	// sorted ascending.
	Inputs []uint32
}

// EntryPoint returns the entry point with the given name.
func (m *Module) EntryPoint(name string) (EntryPoint, bool) {
	for _, ep := range m.EntryPoints {
		if ep.Name == name {
			return ep, true
		}
	}
	return EntryPoint{}, false
}

// VersionString returns the module version as "major.minor".
func (m *Module) VersionString() string {
	return fmt.Sprintf("%d.%d", m.Version>>16&0xff, m.Version>>8&0xff)
}

type typeInfo struct {
	op      uint32
	sampled uint32 // OpTypeImage: 1 sampled, 2 storage
	elem    uint32 // arrays, pointers, sampled images
	class   StorageClass
}

type varInfo struct {
	id    uint32
	ptr   uint32
	class StorageClass
}

type decorations struct {
	set, binding, location   *uint32
	builtin                  bool
	nonWritable, nonReadable bool
	block, bufferBlock       bool
}

// Reflect decodes the reflection-relevant instructions of a module.
func Reflect(words []uint32) (*Module, error) {
	if len(words) < headerWords {
		return nil, fmt.Errorf("%w: %d words is shorter than the header", ErrInvalid, len(words))
	}
	if words[0] != MagicNumber {
		return nil, fmt.Errorf("%w: bad magic 0x%08x", ErrInvalid, words[0])
	}

	m := &Module{Version: words[1]}
	var (
		entryIDs = make(map[uint32]int)
		names    = make(map[uint32]string)
		decos    = make(map[uint32]*decorations)
		types    = make(map[uint32]typeInfo)
		vars     []varInfo
	)
	deco := func(id uint32) *decorations {
		d := decos[id]
		if d == nil {
			d = &decorations{}
			decos[id] = d
		}
		return d
	}

	for pc := headerWords; pc < len(words); {
		count := int(words[pc] >> 16)
		op := words[pc] & 0xffff
		if count == 0 || pc+count > len(words) {
			return nil, fmt.Errorf("%w: instruction at word %d overruns the module", ErrInvalid, pc)
		}
		args := words[pc+1 : pc+count]
		pc += count

		if op == opFunction {
			// Reflection needs nothing from function bodies.
			break
		}

		switch op {
		case OpName:
			if len(args) >= 2 {
				s, _ := decodeString(args[1:])
				names[args[0]] = s
			}
		case OpEntryPoint:
			if len(args) < 3 {
				return nil, fmt.Errorf("%w: short OpEntryPoint", ErrInvalid)
			}
			name, n := decodeString(args[2:])
			entryIDs[args[1]] = len(m.EntryPoints)
			m.EntryPoints = append(m.EntryPoints, EntryPoint{
				Name:  name,
				Model: ExecutionModel(args[0]),
				iface: slices.Clone(args[2+n:]),
			})
		case OpExecutionMode:
			if len(args) >= 5 && args[1] == executionLocalSize {
				if i, ok := entryIDs[args[0]]; ok {
					m.EntryPoints[i].LocalSize = [3]uint32{args[2], args[3], args[4]}
				}
			}
		case OpDecorate:
			if len(args) < 2 {
				return nil, fmt.Errorf("%w: short OpDecorate", ErrInvalid)
			}
			d := deco(args[0])
			lit := func() *uint32 {
				if len(args) < 3 {
					return nil
				}
				v := args[2]
				return &v
			}
			switch args[1] {
			case DecorationDescriptorSet:
				d.set = lit()
			case DecorationBinding:
				d.binding = lit()
			case DecorationLocation:
				d.location = lit()
			case DecorationBuiltIn:
				d.builtin = true
			case DecorationNonWritable:
				d.nonWritable = true
			case DecorationNonReadable:
				d.nonReadable = true
			case DecorationBlock:
				d.block = true
			case DecorationBufferBlock:
				d.bufferBlock = true
			}
		case OpMemberDecorate:
			if len(args) >= 3 && args[2] == DecorationBuiltIn {
				deco(args[0]).builtin = true
			}
		case OpTypeImage:
			if len(args) < 7 {
				return nil, fmt.Errorf("%w: short OpTypeImage", ErrInvalid)
			}
			types[args[0]] = typeInfo{op: op, sampled: args[6]}
		case OpTypeSampler, OpTypeStruct:
			if len(args) < 1 {
				return nil, fmt.Errorf("%w: short type declaration", ErrInvalid)
			}
			types[args[0]] = typeInfo{op: op}
		case OpTypeSampledImage, OpTypeArray, OpTypeRuntimeArray:
			if len(args) < 2 {
				return nil, fmt.Errorf("%w: short type declaration", ErrInvalid)
			}
			types[args[0]] = typeInfo{op: op, elem: args[1]}
		case OpTypePointer:
			if len(args) < 3 {
				return nil, fmt.Errorf("%w: short OpTypePointer", ErrInvalid)
			}
			types[args[0]] = typeInfo{op: op, class: StorageClass(args[1]), elem: args[2]}
		case OpVariable:
			if len(args) < 3 {
				return nil, fmt.Errorf("%w: short OpVariable", ErrInvalid)
			}
			vars = append(vars, varInfo{ptr: args[0], id: args[1], class: StorageClass(args[2])})
		}
	}

	inputs := make(map[uint32]uint32)
	for _, v := range vars {
		d := decos[v.id]
		if d == nil {
			continue
		}
		switch {
		case v.class == StorageClassInput && d.location != nil && !d.builtin:
			m.Inputs = append(m.Inputs, *d.location)
			inputs[v.id] = *d.location
		case d.set != nil && d.binding != nil:
			b := Binding{
				Name:        names[v.id],
				Set:         *d.set,
				Binding:     *d.binding,
				NonWritable: d.nonWritable,
				NonReadable: d.nonReadable,
			}
			b.Kind = bindingKind(v, types, decos)
			m.Bindings = append(m.Bindings, b)
		}
	}

	slices.Sort(m.Inputs)
	m.Inputs = slices.Compact(m.Inputs)
	for i := range m.EntryPoints {
		ep := &m.EntryPoints[i]
		for _, id := range ep.iface {
			if loc, ok := inputs[id]; ok {
				ep.Inputs = append(ep.Inputs, loc)
			}
		}
		slices.Sort(ep.Inputs)
		ep.Inputs = slices.Compact(ep.Inputs)
		ep.iface = nil
	}
	slices.SortFunc(m.Bindings, func(a, b Binding) int {
		if a.Set != b.Set {
			return int(a.Set) - int(b.Set)
		}
		return int(a.Binding) - int(b.Binding)
	})
	return m, nil
}

func bindingKind(v varInfo, types map[uint32]typeInfo, decos map[uint32]*decorations) BindingKind {
	ptr, ok := types[v.ptr]
	if !ok || ptr.op != OpTypePointer {
		return KindUnknown
	}

	// Unwrap binding arrays down to the element type.
	id := ptr.elem
	t := types[id]
	for t.op == OpTypeArray || t.op == OpTypeRuntimeArray {
		id = t.elem
		t = types[id]
	}

	switch v.class {
	case StorageClassStorageBuffer:
		return KindStorageBuffer
	case StorageClassUniform:
		if d := decos[id]; d != nil && d.bufferBlock {
			return KindStorageBuffer
		}
		return KindUniformBuffer
	case StorageClassUniformConstant:
		switch t.op {
		case OpTypeImage:
			if t.sampled == imageSampledStorage {
				return KindStorageImage
			}
			return KindSampledImage
		case OpTypeSampler:
			return KindSampler
		case OpTypeSampledImage:
			return KindCombinedImageSampler
		}
	}
	return KindUnknown
}

// decodeString reads a nul-terminated literal string packed little-endian
// into words. It returns the string and the number of words consumed.
func decodeString(words []uint32) (string, int) {
	buf := make([]byte, 0, len(words)*4)
	for i, w := range words {
		for shift := 0; shift < 32; shift += 8 {
			c := byte(w >> shift)
			if c == 0 {
				return string(buf), i + 1
			}
			buf = append(buf, c)
		}
	}
	return string(buf), len(words)
}
