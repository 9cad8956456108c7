// Package shadergen compiles WGSL into SPIR-V blobs with matching
// reflection manifests for gpuflow.LoadShader.
package shadergen

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"

	"github.com/gogpu/naga"
	"github.com/gogpu/naga/ir"
	"github.com/gogpu/naga/spirv"
	"github.com/gogpu/naga/wgsl"

	"github.com/gogpu/gpuflow"
)

// ErrUnsupported is returned for WGSL resources gpuflow cannot bind.
var ErrUnsupported = errors.New("shadergen: unsupported resource")

// Options configures compilation.
type Options struct {
	// Debug emits OpName and line information.
	Debug bool
}

// Artifact is one entry point of a compiled module.
type Artifact struct {
	// Name is the entry point name.
	Name string

	// SPIRV is the whole module, little-endian.
	SPIRV []byte

	Manifest gpuflow.Manifest
}

// ManifestJSON encodes the manifest the way LoadShaderFS expects it.
func (a *Artifact) ManifestJSON() ([]byte, error) {
	return json.MarshalIndent(a.Manifest, "", "  ")
}

// Load parses the artifact into a gpuflow.Shader.
func (a *Artifact) Load() (*gpuflow.Shader, error) {
	manifest, err := a.ManifestJSON()
	if err != nil {
		return nil, err
	}
	return gpuflow.LoadShader(a.SPIRV, manifest)
}

// Compile compiles WGSL source and returns one artifact per entry point,
// in declaration order. All artifacts share the same SPIR-V module.
func Compile(source string, opts Options) ([]*Artifact, error) {
	ast, err := naga.Parse(source)
	if err != nil {
		return nil, err
	}
	mod, err := naga.LowerWithSource(ast, source)
	if err != nil {
		return nil, fmt.Errorf("lowering error: %w", err)
	}
	verrs, err := naga.Validate(mod)
	if err != nil {
		return nil, fmt.Errorf("validation error: %w", err)
	}
	if len(verrs) > 0 {
		return nil, fmt.Errorf("validation failed: %w", &verrs[0])
	}
	code, err := naga.GenerateSPIRV(mod, spirv.Options{Version: spirv.Version1_3, Debug: opts.Debug})
	if err != nil {
		return nil, err
	}

	slots, err := moduleSlots(ast, mod)
	if err != nil {
		return nil, err
	}

	out := make([]*Artifact, 0, len(mod.EntryPoints))
	for _, ep := range mod.EntryPoints {
		m := gpuflow.Manifest{
			EntryPoint: ep.Name,
			Stage:      stageName(ep.Stage),
			Slots:      slots,
		}
		if ep.Stage == ir.StageVertex {
			m.Inputs = vertexInputs(mod, ep)
		}
		out = append(out, &Artifact{Name: ep.Name, SPIRV: code, Manifest: m})
	}
	return out, nil
}

func stageName(s ir.ShaderStage) string {
	switch s {
	case ir.StageVertex:
		return "vertex"
	case ir.StageFragment:
		return "fragment"
	case ir.StageCompute:
		return "compute"
	default:
		return "stage(" + strconv.Itoa(int(s)) + ")"
	}
}

// moduleSlots lists every bound global of the module. Access modes come
// from the WGSL declarations since the IR does not keep them.
func moduleSlots(ast *wgsl.Module, mod *ir.Module) ([]gpuflow.ManifestSlot, error) {
	decls := make(map[string]*wgsl.VarDecl, len(ast.GlobalVars))
	for _, v := range ast.GlobalVars {
		decls[v.Name] = v
	}

	slots := []gpuflow.ManifestSlot{}
	for _, gv := range mod.GlobalVariables {
		if gv.Binding == nil {
			continue
		}
		slot := gpuflow.ManifestSlot{Group: gv.Binding.Group, Binding: gv.Binding.Binding}
		decl := decls[gv.Name]

		switch gv.Space {
		case ir.SpaceUniform:
			slot.Kind, slot.Access = gpuflow.SlotUniformBuffer.String(), "read"
		case ir.SpaceStorage:
			slot.Kind, slot.Access = gpuflow.SlotStorageBuffer.String(), "read"
			if decl != nil && decl.AccessMode != "" {
				slot.Access = decl.AccessMode
			}
		case ir.SpaceHandle:
			switch inner := mod.Types[gv.Type].Inner.(type) {
			case ir.ImageType:
				if inner.Class == ir.ImageClassStorage {
					slot.Kind, slot.Access = gpuflow.SlotStorageImage.String(), storageTextureAccess(decl)
				} else {
					slot.Kind, slot.Access = gpuflow.SlotSampledImage.String(), "read"
				}
			default:
				return nil, fmt.Errorf("%w: %s at (%d, %d)", ErrUnsupported, gv.Name, slot.Group, slot.Binding)
			}
		default:
			return nil, fmt.Errorf("%w: %s in address space %d", ErrUnsupported, gv.Name, gv.Space)
		}
		slots = append(slots, slot)
	}

	slices.SortFunc(slots, func(a, b gpuflow.ManifestSlot) int {
		if a.Group != b.Group {
			return int(a.Group) - int(b.Group)
		}
		return int(a.Binding) - int(b.Binding)
	})
	return slots, nil
}

// storageTextureAccess reads the access parameter of a
// texture_storage_* declaration. WGSL requires it; write is assumed when
// it cannot be found.
func storageTextureAccess(decl *wgsl.VarDecl) string {
	if decl == nil {
		return "write"
	}
	nt, ok := decl.Type.(*wgsl.NamedType)
	if !ok || len(nt.TypeParams) == 0 {
		return "write"
	}
	if p, ok := nt.TypeParams[len(nt.TypeParams)-1].(*wgsl.NamedType); ok {
		switch p.Name {
		case "read", "write", "read_write":
			return p.Name
		}
	}
	return "write"
}

// vertexInputs collects the @location arguments of a vertex entry point,
// including locations on members of struct arguments.
func vertexInputs(mod *ir.Module, ep ir.EntryPoint) []uint32 {
	fn := mod.Functions[ep.Function]
	var locs []uint32
	for _, arg := range fn.Arguments {
		if arg.Binding != nil {
			if lb, ok := (*arg.Binding).(ir.LocationBinding); ok {
				locs = append(locs, lb.Location)
			}
			continue
		}
		st, ok := mod.Types[arg.Type].Inner.(ir.StructType)
		if !ok {
			continue
		}
		for _, m := range st.Members {
			if m.Binding == nil {
				continue
			}
			if lb, ok := (*m.Binding).(ir.LocationBinding); ok {
				locs = append(locs, lb.Location)
			}
		}
	}
	slices.Sort(locs)
	return slices.Compact(locs)
}
