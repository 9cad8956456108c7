package gpuflow

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"slices"

	"github.com/gogpu/gpuflow/internal/spirv"
)

// Manifest is the reflection record shipped next to a SPIR-V blob. It
// names the entry point and every resource slot the stage uses.
type Manifest struct {
	EntryPoint string         `json:"entry_point"`
	Stage      string         `json:"stage"`
	Slots      []ManifestSlot `json:"slots"`

	// Inputs lists vertex input locations. Optional; checked against the
	// bytecode when present.
	Inputs []uint32 `json:"inputs,omitempty"`
}

// ManifestSlot is one resource slot of a Manifest.
type ManifestSlot struct {
	Group   uint32 `json:"group"`
	Binding uint32 `json:"binding"`

	// Kind is one of "uniform", "storage", "sampled_image", "storage_image".
	Kind string `json:"kind"`

	// Access is one of "read", "write", "read_write".
	Access string `json:"access"`
}

// Shader is a loaded shader stage: SPIR-V code with its verified
// interface.
type Shader struct {
	Label      string
	Stage      ShaderStage
	EntryPoint string

	// Slots are sorted by group, then binding.
	Slots []ResourceSlot

	// Inputs are the vertex input locations, sorted.
	Inputs []uint32

	// Workgroup is the compute local size.
	Workgroup [3]uint32

	code []uint32
}

// Code returns the SPIR-V words.
func (s *Shader) Code() []uint32 { return s.code }

func parseStage(s string) (ShaderStage, bool) {
	switch s {
	case "vertex":
		return StageVertex, true
	case "fragment":
		return StageFragment, true
	case "compute":
		return StageCompute, true
	default:
		return 0, false
	}
}

// ParseSlotKind parses a manifest slot kind.
func ParseSlotKind(s string) (SlotKind, bool) {
	for _, k := range []SlotKind{SlotUniformBuffer, SlotStorageBuffer, SlotSampledImage, SlotStorageImage} {
		if k.String() == s {
			return k, true
		}
	}
	return 0, false
}

// ParseAccess parses a manifest access mode.
func ParseAccess(s string) (Access, bool) {
	for _, a := range []Access{AccessRead, AccessWrite, AccessReadWrite} {
		if a.String() == s {
			return a, true
		}
	}
	return 0, false
}

var stageModels = map[ShaderStage]spirv.ExecutionModel{
	StageVertex:   spirv.ExecutionModelVertex,
	StageFragment: spirv.ExecutionModelFragment,
	StageCompute:  spirv.ExecutionModelGLCompute,
}

var slotKinds = map[SlotKind]spirv.BindingKind{
	SlotUniformBuffer: spirv.KindUniformBuffer,
	SlotStorageBuffer: spirv.KindStorageBuffer,
	SlotSampledImage:  spirv.KindSampledImage,
	SlotStorageImage:  spirv.KindStorageImage,
}

func shaderErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrPipelineCompilation, fmt.Sprintf(format, args...))
}

// LoadShader parses a SPIR-V blob and its JSON manifest and verifies that
// they describe the same interface. Any disagreement is an
// ErrPipelineCompilation error.
func LoadShader(bytecode, manifest []byte) (*Shader, error) {
	var m Manifest
	if err := json.Unmarshal(manifest, &m); err != nil {
		return nil, shaderErr("manifest: %v", err)
	}

	words, err := spirv.Words(bytecode)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPipelineCompilation, err)
	}
	mod, err := spirv.Reflect(words)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPipelineCompilation, err)
	}

	stage, ok := parseStage(m.Stage)
	if !ok {
		return nil, shaderErr("manifest: unknown stage %q", m.Stage)
	}
	if m.EntryPoint == "" {
		return nil, shaderErr("manifest: missing entry point")
	}
	ep, ok := mod.EntryPoint(m.EntryPoint)
	if !ok {
		return nil, shaderErr("entry point %q not in bytecode", m.EntryPoint)
	}
	if ep.Model != stageModels[stage] {
		return nil, shaderErr("entry point %q is a %v shader, manifest says %s", m.EntryPoint, ep.Model, m.Stage)
	}

	s := &Shader{
		Label:      m.EntryPoint,
		Stage:      stage,
		EntryPoint: m.EntryPoint,
		code:       words,
	}
	if err := s.bindSlots(m.Slots, mod.Bindings); err != nil {
		return nil, err
	}

	if stage == StageVertex {
		if m.Inputs != nil && !slices.Equal(sortedUnique(m.Inputs), ep.Inputs) {
			return nil, shaderErr("vertex inputs %v, bytecode declares %v", m.Inputs, ep.Inputs)
		}
		s.Inputs = ep.Inputs
	}
	if stage == StageCompute {
		s.Workgroup = ep.LocalSize
		for i := range s.Workgroup {
			if s.Workgroup[i] == 0 {
				s.Workgroup[i] = 1
			}
		}
	}

	Logger().Debug("gpuflow: shader loaded",
		"entry_point", s.EntryPoint, "stage", s.Stage.String(), "slots", len(s.Slots), "spirv", mod.VersionString())
	return s, nil
}

func (s *Shader) bindSlots(slots []ManifestSlot, bindings []spirv.Binding) error {
	byKey := make(map[[2]uint32]spirv.Binding, len(bindings))
	for _, b := range bindings {
		byKey[[2]uint32{b.Set, b.Binding}] = b
	}

	seen := make(map[[2]uint32]bool, len(slots))
	for _, ms := range slots {
		key := [2]uint32{ms.Group, ms.Binding}
		if seen[key] {
			return shaderErr("slot (%d, %d) listed twice", ms.Group, ms.Binding)
		}
		seen[key] = true

		kind, ok := ParseSlotKind(ms.Kind)
		if !ok {
			return shaderErr("slot (%d, %d): unknown kind %q", ms.Group, ms.Binding, ms.Kind)
		}
		access, ok := ParseAccess(ms.Access)
		if !ok {
			return shaderErr("slot (%d, %d): unknown access %q", ms.Group, ms.Binding, ms.Access)
		}

		b, ok := byKey[key]
		switch {
		case !ok:
			return shaderErr("slot (%d, %d) not in bytecode", ms.Group, ms.Binding)
		case slotKinds[kind] != b.Kind:
			return shaderErr("slot (%d, %d) is %s, bytecode declares %v", ms.Group, ms.Binding, ms.Kind, b.Kind)
		case kind == SlotUniformBuffer && access&AccessWrite != 0:
			return shaderErr("slot (%d, %d): uniform buffers are read-only", ms.Group, ms.Binding)
		case kind == SlotSampledImage && access&AccessWrite != 0:
			return shaderErr("slot (%d, %d): sampled images are read-only", ms.Group, ms.Binding)
		case b.NonWritable && access&AccessWrite != 0:
			return shaderErr("slot (%d, %d) is read-only in bytecode", ms.Group, ms.Binding)
		case b.NonReadable && access&AccessRead != 0:
			return shaderErr("slot (%d, %d) is write-only in bytecode", ms.Group, ms.Binding)
		}

		s.Slots = append(s.Slots, ResourceSlot{Group: ms.Group, Binding: ms.Binding, Kind: kind, Access: access})
	}

	for _, b := range bindings {
		if !seen[[2]uint32{b.Set, b.Binding}] {
			return shaderErr("bytecode slot (%d, %d) %v missing from manifest", b.Set, b.Binding, b.Kind)
		}
	}

	sortSlots(s.Slots)
	return nil
}

// LoadShaderFS loads name+".spv" and name+".json" from fsys.
func LoadShaderFS(fsys fs.FS, name string) (*Shader, error) {
	code, err := fs.ReadFile(fsys, name+".spv")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPipelineCompilation, err)
	}
	manifest, err := fs.ReadFile(fsys, name+".json")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPipelineCompilation, err)
	}
	s, err := LoadShader(code, manifest)
	if err != nil {
		return nil, fmt.Errorf("shader %s: %w", name, err)
	}
	s.Label = name
	return s, nil
}

func sortSlots(slots []ResourceSlot) {
	slices.SortFunc(slots, func(a, b ResourceSlot) int {
		if a.Group != b.Group {
			return cmpUint32(a.Group, b.Group)
		}
		return cmpUint32(a.Binding, b.Binding)
	})
}

func cmpUint32(a, b uint32) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func sortedUnique(v []uint32) []uint32 {
	out := slices.Clone(v)
	slices.Sort(out)
	return slices.Compact(out)
}
