package gpuflow

import (
	"fmt"

	"github.com/gogpu/gpuflow/driver"
)

// PipelineKind distinguishes graphics and compute pipelines.
type PipelineKind uint8

// Pipeline kinds.
const (
	PipelineGraphics PipelineKind = iota + 1
	PipelineCompute
)

func (k PipelineKind) String() string {
	switch k {
	case PipelineGraphics:
		return "graphics"
	case PipelineCompute:
		return "compute"
	default:
		return fmt.Sprintf("PipelineKind(%d)", uint8(k))
	}
}

// GraphicsPipelineConfig describes a graphics pipeline. It is validated as
// a whole by BuildGraphicsPipeline.
type GraphicsPipelineConfig struct {
	Label    string
	Vertex   *Shader
	Fragment *Shader

	// VertexLayout must provide an attribute for every vertex input of
	// the vertex stage.
	VertexLayout VertexLayout

	Viewport   Viewport
	Attachment Attachment

	// Layout lists the resource slots of the pipeline. Nil derives it
	// from the stages; otherwise it must name exactly the slots the
	// stages use.
	Layout []ResourceSlot

	// RequiredFeatures must have been enabled on the DeviceContext.
	RequiredFeatures Features
}

// ComputePipelineConfig describes a compute pipeline.
type ComputePipelineConfig struct {
	Label   string
	Compute *Shader

	// Layout works as in GraphicsPipelineConfig.
	Layout []ResourceSlot

	RequiredFeatures Features
}

// Pipeline is an immutable, device-specific pipeline object.
type Pipeline struct {
	dc        *DeviceContext
	raw       driver.Pipeline
	label     string
	kind      PipelineKind
	layout    []ResourceSlot
	workgroup [3]uint32
	vertices  VertexLayout
	target    Format

	refs refCount
}

// Label returns the pipeline label.
func (p *Pipeline) Label() string { return p.label }

// Kind returns whether p is a graphics or compute pipeline.
func (p *Pipeline) Kind() PipelineKind { return p.kind }

// Layout returns a copy of the resource slots, sorted by group and binding.
func (p *Pipeline) Layout() []ResourceSlot {
	return append([]ResourceSlot(nil), p.layout...)
}

// Workgroup returns the compute local size. Zero for graphics pipelines.
func (p *Pipeline) Workgroup() [3]uint32 { return p.workgroup }

// TargetFormat returns the attachment format of a graphics pipeline.
func (p *Pipeline) TargetFormat() Format { return p.target }

// Retain adds a reference and returns p.
func (p *Pipeline) Retain() *Pipeline {
	if !p.refs.acquire() {
		Logger().Warn("gpuflow: retain of released pipeline", "label", p.label)
	}
	return p
}

// Release drops a reference.
func (p *Pipeline) Release() {
	last, ok := p.refs.drop()
	if !ok {
		Logger().Warn("gpuflow: pipeline released too many times", "label", p.label)
		return
	}
	if last {
		p.raw.Destroy()
	}
}

func (p *Pipeline) check() error {
	if !p.refs.live() {
		return fmt.Errorf("%w: pipeline %q", ErrResourceReleased, p.label)
	}
	return p.dc.Err()
}

func (p *Pipeline) slot(group, binding uint32) (ResourceSlot, bool) {
	for _, s := range p.layout {
		if s.Group == group && s.Binding == binding {
			return s, true
		}
	}
	return ResourceSlot{}, false
}

type pipelineCheck struct {
	object string
	dc     *DeviceContext
}

func (c pipelineCheck) fail(field string, err error, format string, args ...any) *ConfigError {
	return &ConfigError{Object: c.object, Field: field, Reason: fmt.Sprintf(format, args...), Err: err}
}

func (c pipelineCheck) features(required Features) *ConfigError {
	if required&^featuresAll != 0 {
		return c.fail("RequiredFeatures", ErrUnsupportedConfiguration, "unknown features 0x%x", uint32(required))
	}
	if !c.dc.features.Contains(required) {
		return c.fail("RequiredFeatures", ErrUnsupportedConfiguration,
			"%v not enabled on the device (enabled: %v)", required, c.dc.features)
	}
	return nil
}

func (c pipelineCheck) stage(field string, s *Shader, want ShaderStage) *ConfigError {
	switch {
	case s == nil:
		return c.fail(field, ErrPipelineCompilation, "missing %v shader", want)
	case s.Stage != want:
		return c.fail(field, ErrPipelineCompilation, "%q is a %v shader, want %v", s.EntryPoint, s.Stage, want)
	}
	return nil
}

// layout merges the slots of the stages and checks them against the
// declared layout, if any.
func (c pipelineCheck) layout(declared []ResourceSlot, stages ...*Shader) ([]ResourceSlot, *ConfigError) {
	union := map[[2]uint32]ResourceSlot{}
	for _, s := range stages {
		for _, slot := range s.Slots {
			key := [2]uint32{slot.Group, slot.Binding}
			prev, ok := union[key]
			if ok && prev.Kind != slot.Kind {
				return nil, c.fail("Layout", ErrPipelineCompilation,
					"slot (%d, %d) is %v in one stage and %v in another", slot.Group, slot.Binding, prev.Kind, slot.Kind)
			}
			prev.Group, prev.Binding, prev.Kind = slot.Group, slot.Binding, slot.Kind
			prev.Access |= slot.Access
			union[key] = prev
		}
	}

	if declared == nil {
		out := make([]ResourceSlot, 0, len(union))
		for _, s := range union {
			out = append(out, s)
		}
		sortSlots(out)
		return out, c.bindingLimit(out)
	}

	out := make([]ResourceSlot, 0, len(declared))
	seen := map[[2]uint32]bool{}
	for _, d := range declared {
		key := [2]uint32{d.Group, d.Binding}
		if seen[key] {
			return nil, c.fail("Layout", ErrPipelineCompilation, "slot (%d, %d) declared twice", d.Group, d.Binding)
		}
		seen[key] = true

		used, ok := union[key]
		switch {
		case !ok:
			return nil, c.fail("Layout", ErrPipelineCompilation, "slot (%d, %d) not used by any stage", d.Group, d.Binding)
		case used.Kind != d.Kind:
			return nil, c.fail("Layout", ErrPipelineCompilation,
				"slot (%d, %d) declared %v, shaders use %v", d.Group, d.Binding, d.Kind, used.Kind)
		case d.Access&^AccessReadWrite != 0 || d.Access&used.Access != used.Access:
			return nil, c.fail("Layout", ErrPipelineCompilation,
				"slot (%d, %d) declared %v, shaders need %v", d.Group, d.Binding, d.Access, used.Access)
		}
		out = append(out, d)
	}
	for key, used := range union {
		if !seen[key] {
			return nil, c.fail("Layout", ErrPipelineCompilation,
				"slot (%d, %d) %v used by shaders but not declared", key[0], key[1], used.Kind)
		}
	}
	sortSlots(out)
	return out, c.bindingLimit(out)
}

func (c pipelineCheck) bindingLimit(slots []ResourceSlot) *ConfigError {
	if limit := c.dc.Limits().MaxBindingsPerPass; limit > 0 && len(slots) > limit {
		return c.fail("Layout", ErrUnsupportedConfiguration, "%d slots exceeds device limit %d", len(slots), limit)
	}
	return nil
}

func (c pipelineCheck) vertexLayout(vl VertexLayout, inputs []uint32) *ConfigError {
	locs := map[uint32]bool{}
	for i, a := range vl.Attributes {
		field := fmt.Sprintf("VertexLayout.Attributes[%d]", i)
		size := a.Format.Size()
		switch {
		case size == 0:
			return c.fail(field, ErrPipelineCompilation, "unknown vertex format %d", a.Format)
		case locs[a.Location]:
			return c.fail(field, ErrPipelineCompilation, "location %d used twice", a.Location)
		case uint64(a.Offset)+uint64(size) > uint64(vl.Stride):
			return c.fail(field, ErrPipelineCompilation,
				"%d bytes at offset %d overrun stride %d", size, a.Offset, vl.Stride)
		}
		locs[a.Location] = true
	}
	for _, in := range inputs {
		if !locs[in] {
			return c.fail("VertexLayout", ErrPipelineCompilation, "no attribute for vertex input location %d", in)
		}
	}
	return nil
}

// viewport rejects empty viewports as malformed and viewports the device
// cannot rasterize as unsupported. The rectangle must lie within
// [0, MaxImageDimension] on both axes and the depth range within [0, 1].
func (c pipelineCheck) viewport(vp Viewport) *ConfigError {
	if vp.Empty() {
		return c.fail("Viewport", ErrPipelineCompilation, "empty or non-finite viewport %+v", vp)
	}
	limit := float64(c.dc.Limits().MaxImageDimension)
	x, y := float64(vp.X), float64(vp.Y)
	w, h := float64(vp.Width), float64(vp.Height)
	switch {
	case x < 0 || y < 0:
		return c.fail("Viewport", ErrUnsupportedConfiguration, "negative origin (%v, %v)", vp.X, vp.Y)
	case x+w > limit || y+h > limit:
		return c.fail("Viewport", ErrUnsupportedConfiguration,
			"%vx%v at (%v, %v) exceeds device limit %v", vp.Width, vp.Height, vp.X, vp.Y, limit)
	case vp.MinDepth < 0 || vp.MaxDepth > 1 || vp.MinDepth > vp.MaxDepth:
		return c.fail("Viewport", ErrUnsupportedConfiguration,
			"depth range [%v, %v] outside [0, 1]", vp.MinDepth, vp.MaxDepth)
	}
	return nil
}

// BuildGraphicsPipeline validates cfg and creates a graphics pipeline.
// Failures are *ConfigError values wrapping the taxonomy error.
func BuildGraphicsPipeline(dc *DeviceContext, cfg GraphicsPipelineConfig) (*Pipeline, error) {
	c := pipelineCheck{object: "graphics pipeline " + fmt.Sprintf("%q", cfg.Label), dc: dc}
	if err := dc.Err(); err != nil {
		return nil, c.fail("Device", err, "device unusable")
	}
	if err := c.features(cfg.RequiredFeatures); err != nil {
		return nil, err
	}
	if err := c.stage("Vertex", cfg.Vertex, StageVertex); err != nil {
		return nil, err
	}
	if err := c.stage("Fragment", cfg.Fragment, StageFragment); err != nil {
		return nil, err
	}
	layout, cerr := c.layout(cfg.Layout, cfg.Vertex, cfg.Fragment)
	if cerr != nil {
		return nil, cerr
	}
	if err := c.vertexLayout(cfg.VertexLayout, cfg.Vertex.Inputs); err != nil {
		return nil, err
	}
	if err := c.viewport(cfg.Viewport); err != nil {
		return nil, err
	}
	switch {
	case cfg.Attachment.Format.BytesPerPixel() == 0:
		return nil, c.fail("Attachment.Format", ErrUnsupportedConfiguration, "unknown format %v", cfg.Attachment.Format)
	case !dc.dev.FormatCaps(cfg.Attachment.Format).Contains(driver.FormatCapRenderTarget):
		return nil, c.fail("Attachment.Format", ErrUnsupportedConfiguration, "%v is not renderable", cfg.Attachment.Format)
	case cfg.Attachment.Load > LoadOpDontCare:
		return nil, c.fail("Attachment.Load", ErrPipelineCompilation, "unknown load op %d", cfg.Attachment.Load)
	case cfg.Attachment.Store > StoreOpDiscard:
		return nil, c.fail("Attachment.Store", ErrPipelineCompilation, "unknown store op %d", cfg.Attachment.Store)
	}

	vs, err := newModule(dc, cfg.Vertex)
	if err != nil {
		return nil, c.fail("Vertex", err, "%q rejected by device", cfg.Vertex.EntryPoint)
	}
	defer vs.Destroy()
	fs, err := newModule(dc, cfg.Fragment)
	if err != nil {
		return nil, c.fail("Fragment", err, "%q rejected by device", cfg.Fragment.EntryPoint)
	}
	defer fs.Destroy()

	raw, err := dc.dev.NewGraphicsPipeline(&driver.GraphicsPipelineDesc{
		Label:        cfg.Label,
		Vertex:       vs,
		Fragment:     fs,
		Slots:        layout,
		VertexLayout: cfg.VertexLayout,
		Viewport:     cfg.Viewport,
		Attachment:   cfg.Attachment,
	})
	if err != nil {
		err = mapDriverErr(err, ErrPipelineCompilation)
		dc.noteLost(err)
		return nil, c.fail("Device", err, "rejected by device")
	}

	p := &Pipeline{
		dc:       dc,
		raw:      raw,
		label:    cfg.Label,
		kind:     PipelineGraphics,
		layout:   layout,
		vertices: cfg.VertexLayout,
		target:   cfg.Attachment.Format,
	}
	p.refs.n.Store(1)
	Logger().Debug("gpuflow: graphics pipeline built",
		"label", cfg.Label, "vertex", cfg.Vertex.EntryPoint, "fragment", cfg.Fragment.EntryPoint,
		"slots", len(layout), "format", cfg.Attachment.Format.String())
	return p, nil
}

// BuildComputePipeline validates cfg and creates a compute pipeline.
func BuildComputePipeline(dc *DeviceContext, cfg ComputePipelineConfig) (*Pipeline, error) {
	c := pipelineCheck{object: "compute pipeline " + fmt.Sprintf("%q", cfg.Label), dc: dc}
	if err := dc.Err(); err != nil {
		return nil, c.fail("Device", err, "device unusable")
	}
	if err := c.features(cfg.RequiredFeatures); err != nil {
		return nil, err
	}
	if err := c.stage("Compute", cfg.Compute, StageCompute); err != nil {
		return nil, err
	}
	layout, cerr := c.layout(cfg.Layout, cfg.Compute)
	if cerr != nil {
		return nil, cerr
	}
	for _, s := range layout {
		if s.Kind == SlotStorageImage && s.Access&AccessWrite != 0 && !dc.features.Contains(FeatureStorageImageWrite) {
			return nil, c.fail("Layout", ErrUnsupportedConfiguration,
				"slot (%d, %d) writes a storage image without %v", s.Group, s.Binding, FeatureStorageImageWrite)
		}
	}

	cs, err := newModule(dc, cfg.Compute)
	if err != nil {
		return nil, c.fail("Compute", err, "%q rejected by device", cfg.Compute.EntryPoint)
	}
	defer cs.Destroy()

	raw, err := dc.dev.NewComputePipeline(&driver.ComputePipelineDesc{
		Label:   cfg.Label,
		Compute: cs,
		Slots:   layout,
	})
	if err != nil {
		err = mapDriverErr(err, ErrPipelineCompilation)
		dc.noteLost(err)
		return nil, c.fail("Device", err, "rejected by device")
	}

	p := &Pipeline{
		dc:        dc,
		raw:       raw,
		label:     cfg.Label,
		kind:      PipelineCompute,
		layout:    layout,
		workgroup: cfg.Compute.Workgroup,
	}
	p.refs.n.Store(1)
	Logger().Debug("gpuflow: compute pipeline built",
		"label", cfg.Label, "entry_point", cfg.Compute.EntryPoint, "workgroup", cfg.Compute.Workgroup, "slots", len(layout))
	return p, nil
}

func newModule(dc *DeviceContext, s *Shader) (driver.ShaderModule, error) {
	m, err := dc.dev.NewShaderModule(&driver.ShaderDesc{
		Label:      s.Label,
		Stage:      s.Stage,
		EntryPoint: s.EntryPoint,
		Code:       s.code,
		Workgroup:  s.Workgroup,
	})
	if err != nil {
		err = mapDriverErr(err, ErrPipelineCompilation)
		dc.noteLost(err)
		return nil, err
	}
	return m, nil
}
