package gpuflow

import (
	"errors"
	"fmt"
	"math"

	"github.com/gogpu/gpuflow/driver"
)

// Op is one operation accepted by Sequencer.Record. It is implemented by
// CopyBufferOp, CopyImageToBufferOp, ClearImageOp, DispatchOp and
// DrawPassDesc.
type Op interface {
	opName() string
	validate(dc *DeviceContext) (*recorded, error)
}

// CopyBufferOp copies all of Src into Dst. Both buffers must have the same
// size.
type CopyBufferOp struct {
	Src, Dst *Buffer
}

// CopyImageToBufferOp copies every texel of Src into Dst, tightly packed
// row by row. Dst must be exactly Src.ByteSize() bytes.
type CopyImageToBufferOp struct {
	Src *Image
	Dst *Buffer
}

// ClearImageOp fills Image with Color.
type ClearImageOp struct {
	Image *Image
	Color Color
}

// DispatchOp runs a compute pipeline over Groups workgroups.
type DispatchOp struct {
	Pipeline *Pipeline

	// Bindings may be nil for pipelines without resource slots.
	Bindings *DescriptorBinding

	Groups [3]uint32
}

// DrawPassDesc describes one render pass drawing non-indexed triangles
// into Target.
type DrawPassDesc struct {
	Pipeline *Pipeline
	Bindings *DescriptorBinding
	Target   *Image

	// ClearColor is used when the pipeline attachment loads with
	// LoadOpClear.
	ClearColor Color

	// Vertices may be nil when the pipeline has no vertex attributes.
	Vertices    *Buffer
	FirstVertex uint32
	VertexCount uint32
}

// recorded is a validated operation with the objects it references.
type recorded struct {
	cmd       driver.Command
	buffers   []*Buffer
	images    []*Image
	bindings  []*DescriptorBinding
	pipelines []*Pipeline
}

func (r *recorded) retain() {
	for _, b := range r.buffers {
		b.Retain()
	}
	for _, img := range r.images {
		img.Retain()
	}
	for _, db := range r.bindings {
		db.Retain()
	}
	for _, p := range r.pipelines {
		p.Retain()
	}
}

func (r *recorded) release() {
	for _, b := range r.buffers {
		b.Release()
	}
	for _, img := range r.images {
		img.Release()
	}
	for _, db := range r.bindings {
		db.Release()
	}
	for _, p := range r.pipelines {
		p.Release()
	}
}

func checkBuffer(dc *DeviceContext, b *Buffer, role string, usage BufferUsage) error {
	if b == nil {
		return invalidf("nil %s buffer", role)
	}
	if err := b.check(); err != nil {
		return err
	}
	if b.dc != dc {
		return invalidf("%s buffer %q belongs to another device", role, b.label)
	}
	if !b.usage.Contains(usage) {
		return invalidf("%s buffer %q lacks usage 0x%x", role, b.label, uint16(usage))
	}
	return nil
}

func checkImage(dc *DeviceContext, img *Image, role string) error {
	if img == nil {
		return invalidf("nil %s image", role)
	}
	if err := img.check(); err != nil {
		return err
	}
	if img.dc != dc {
		return invalidf("%s image %q belongs to another device", role, img.label)
	}
	return nil
}

func checkPipeline(dc *DeviceContext, p *Pipeline, kind PipelineKind) error {
	if p == nil {
		return invalidf("nil pipeline")
	}
	if err := p.check(); err != nil {
		return err
	}
	if p.dc != dc {
		return invalidf("pipeline %q belongs to another device", p.label)
	}
	if p.kind != kind {
		return invalidf("pipeline %q is a %v pipeline, want %v", p.label, p.kind, kind)
	}
	return nil
}

// checkBindings returns the driver resources for p, and the binding
// itself when one is used.
func checkBindings(p *Pipeline, db *DescriptorBinding) ([]driver.Resource, []*DescriptorBinding, error) {
	if db == nil {
		if len(p.layout) > 0 {
			return nil, nil, invalidf("pipeline %q has %d slots and no bindings", p.label, len(p.layout))
		}
		return nil, nil, nil
	}
	if err := db.check(); err != nil {
		return nil, nil, err
	}
	if db.pipeline != p {
		return nil, nil, invalidf("bindings made for pipeline %q used with %q", db.pipeline.label, p.label)
	}
	return db.resources, []*DescriptorBinding{db}, nil
}

func finiteColor(c Color) bool {
	for _, v := range []float64{c.R, c.G, c.B, c.A} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func (CopyBufferOp) opName() string { return "CopyBuffer" }

func (op CopyBufferOp) validate(dc *DeviceContext) (*recorded, error) {
	if err := checkBuffer(dc, op.Src, "source", BufferUsageTransferSrc); err != nil {
		return nil, err
	}
	if err := checkBuffer(dc, op.Dst, "destination", BufferUsageTransferDst); err != nil {
		return nil, err
	}
	switch {
	case op.Src == op.Dst:
		return nil, invalidf("copy of buffer %q onto itself", op.Src.label)
	case op.Src.size != op.Dst.size:
		return nil, invalidf("copy of %d bytes into %d byte buffer %q", op.Src.size, op.Dst.size, op.Dst.label)
	}
	return &recorded{
		cmd:     &driver.CopyBuffer{Src: op.Src.raw, Dst: op.Dst.raw, Size: op.Src.size},
		buffers: []*Buffer{op.Src, op.Dst},
	}, nil
}

func (CopyImageToBufferOp) opName() string { return "CopyImageToBuffer" }

func (op CopyImageToBufferOp) validate(dc *DeviceContext) (*recorded, error) {
	if err := checkImage(dc, op.Src, "source"); err != nil {
		return nil, err
	}
	if !op.Src.usage.Contains(ImageUsageTransferSrc) {
		return nil, invalidf("source image %q lacks transfer-src usage", op.Src.label)
	}
	if err := checkBuffer(dc, op.Dst, "destination", BufferUsageTransferDst); err != nil {
		return nil, err
	}
	if op.Dst.size != op.Src.size {
		return nil, invalidf("copy of %dx%d %v image (%d bytes) into %d byte buffer %q",
			op.Src.width, op.Src.height, op.Src.format, op.Src.size, op.Dst.size, op.Dst.label)
	}
	return &recorded{
		cmd:     &driver.CopyImageToBuffer{Src: op.Src.raw, Dst: op.Dst.raw},
		buffers: []*Buffer{op.Dst},
		images:  []*Image{op.Src},
	}, nil
}

func (ClearImageOp) opName() string { return "ClearImage" }

func (op ClearImageOp) validate(dc *DeviceContext) (*recorded, error) {
	if err := checkImage(dc, op.Image, "target"); err != nil {
		return nil, err
	}
	if op.Image.usage&(ImageUsageTransferDst|ImageUsageRenderTarget) == 0 {
		return nil, invalidf("image %q needs transfer-dst or render-target usage to be cleared", op.Image.label)
	}
	if !finiteColor(op.Color) {
		return nil, invalidf("non-finite clear color %+v", op.Color)
	}
	return &recorded{
		cmd:    &driver.ClearImage{Image: op.Image.raw, Color: op.Color},
		images: []*Image{op.Image},
	}, nil
}

func (DispatchOp) opName() string { return "DispatchCompute" }

func (op DispatchOp) validate(dc *DeviceContext) (*recorded, error) {
	if err := checkPipeline(dc, op.Pipeline, PipelineCompute); err != nil {
		return nil, err
	}
	res, dbs, err := checkBindings(op.Pipeline, op.Bindings)
	if err != nil {
		return nil, err
	}
	limits := dc.Limits().MaxWorkgroupCount
	for i, g := range op.Groups {
		if g == 0 {
			return nil, invalidf("zero workgroup count %v", op.Groups)
		}
		if limits[i] > 0 && g > limits[i] {
			return nil, invalidf("workgroup count %v exceeds device limit %v", op.Groups, limits)
		}
	}
	return &recorded{
		cmd:       &driver.Dispatch{Pipeline: op.Pipeline.raw, Resources: res, Groups: op.Groups},
		bindings:  dbs,
		pipelines: []*Pipeline{op.Pipeline},
	}, nil
}

func (DrawPassDesc) opName() string { return "DrawPass" }

func (op DrawPassDesc) validate(dc *DeviceContext) (*recorded, error) {
	p := op.Pipeline
	if err := checkPipeline(dc, p, PipelineGraphics); err != nil {
		return nil, err
	}
	res, dbs, err := checkBindings(p, op.Bindings)
	if err != nil {
		return nil, err
	}
	if err := checkImage(dc, op.Target, "target"); err != nil {
		return nil, err
	}
	switch {
	case !op.Target.usage.Contains(ImageUsageRenderTarget):
		return nil, invalidf("target image %q lacks render-target usage", op.Target.label)
	case op.Target.format != p.target:
		return nil, invalidf("target image %q is %v, pipeline %q renders %v", op.Target.label, op.Target.format, p.label, p.target)
	case op.VertexCount == 0:
		return nil, invalidf("draw of zero vertices")
	case !finiteColor(op.ClearColor):
		return nil, invalidf("non-finite clear color %+v", op.ClearColor)
	}

	r := &recorded{
		images:    []*Image{op.Target},
		bindings:  dbs,
		pipelines: []*Pipeline{p},
	}
	cmd := &driver.Draw{
		Pipeline:    p.raw,
		Resources:   res,
		Target:      op.Target.raw,
		ClearColor:  op.ClearColor,
		FirstVertex: op.FirstVertex,
		VertexCount: op.VertexCount,
	}
	if len(p.vertices.Attributes) > 0 {
		if err := checkBuffer(dc, op.Vertices, "vertex", BufferUsageVertex); err != nil {
			return nil, err
		}
		end := (uint64(op.FirstVertex) + uint64(op.VertexCount)) * uint64(p.vertices.Stride)
		if end > op.Vertices.size {
			return nil, invalidf("vertices [%d, %d) overrun vertex buffer %q (%d bytes, stride %d)",
				op.FirstVertex, uint64(op.FirstVertex)+uint64(op.VertexCount), op.Vertices.label, op.Vertices.size, p.vertices.Stride)
		}
		cmd.Vertices = op.Vertices.raw
		r.buffers = []*Buffer{op.Vertices}
	}
	r.cmd = cmd
	return r, nil
}

// Sequencer records operations into a CommandSequence. Every call is
// validated immediately; a rejected call leaves the sequence unchanged.
//
// A Sequencer is used from one goroutine.
type Sequencer struct {
	dc    *DeviceContext
	ops   []*recorded
	built bool
}

// NewSequencer returns an empty sequencer for dc.
func NewSequencer(dc *DeviceContext) *Sequencer {
	return &Sequencer{dc: dc}
}

// Len returns the number of recorded operations.
func (s *Sequencer) Len() int { return len(s.ops) }

// CopyBuffer records a copy of all of src into dst.
func (s *Sequencer) CopyBuffer(src, dst *Buffer) error {
	return s.Record(CopyBufferOp{Src: src, Dst: dst})
}

// CopyImageToBuffer records a copy of every texel of src into dst.
func (s *Sequencer) CopyImageToBuffer(src *Image, dst *Buffer) error {
	return s.Record(CopyImageToBufferOp{Src: src, Dst: dst})
}

// ClearImage records a fill of img with c.
func (s *Sequencer) ClearImage(img *Image, c Color) error {
	return s.Record(ClearImageOp{Image: img, Color: c})
}

// DispatchCompute records a compute dispatch of groups workgroups.
func (s *Sequencer) DispatchCompute(p *Pipeline, bindings *DescriptorBinding, groups [3]uint32) error {
	return s.Record(DispatchOp{Pipeline: p, Bindings: bindings, Groups: groups})
}

// DrawPass records a render pass.
func (s *Sequencer) DrawPass(desc DrawPassDesc) error {
	return s.Record(desc)
}

// Record validates every op and appends them all, or none. A rejection is
// an *OperationError naming the first failing op.
func (s *Sequencer) Record(ops ...Op) error {
	if s.built {
		return invalidf("sequence already built")
	}
	if err := s.dc.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidOperation, err)
	}

	batch := make([]*recorded, 0, len(ops))
	for i, op := range ops {
		if op == nil {
			return &OperationError{Op: "nil", Index: i, Err: invalidf("nil operation")}
		}
		r, err := op.validate(s.dc)
		if err != nil {
			if !errors.Is(err, ErrInvalidOperation) {
				err = fmt.Errorf("%w: %w", ErrInvalidOperation, err)
			}
			return &OperationError{Op: op.opName(), Index: i, Err: err}
		}
		batch = append(batch, r)
	}

	for i, r := range batch {
		r.retain()
		Logger().Debug("gpuflow: recorded", "op", ops[i].opName(), "index", len(s.ops))
		s.ops = append(s.ops, r)
	}
	return nil
}

// Build finalizes the recorded operations into an immutable
// CommandSequence. Recording fails afterwards.
func (s *Sequencer) Build() (*CommandSequence, error) {
	if s.built {
		return nil, invalidf("sequence already built")
	}
	if len(s.ops) == 0 {
		return nil, invalidf("empty sequence")
	}
	if err := s.dc.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidOperation, err)
	}
	s.built = true

	seq := &CommandSequence{dc: s.dc, ops: s.ops}
	for _, r := range s.ops {
		seq.cmds = append(seq.cmds, r.cmd)
		seq.caps |= driver.RequiredCaps(r.cmd)
	}
	s.ops = nil
	seq.refs.n.Store(1)
	return seq, nil
}

// Discard drops everything recorded so far. The sequencer can be used
// again unless it was built.
func (s *Sequencer) Discard() {
	for _, r := range s.ops {
		r.release()
	}
	s.ops = nil
}

// CommandSequence is an immutable list of operations ready for
// submission. It may be submitted any number of times.
type CommandSequence struct {
	dc   *DeviceContext
	ops  []*recorded
	cmds []driver.Command
	caps Capabilities

	refs refCount
}

// Len returns the number of operations.
func (cs *CommandSequence) Len() int { return len(cs.cmds) }

// Capabilities returns the queue capabilities the sequence needs.
func (cs *CommandSequence) Capabilities() Capabilities { return cs.caps }

// Retain adds a reference and returns cs.
func (cs *CommandSequence) Retain() *CommandSequence {
	if !cs.refs.acquire() {
		Logger().Warn("gpuflow: retain of released command sequence")
	}
	return cs
}

// Release drops a reference. The last release drops the references the
// sequence holds on its resources.
func (cs *CommandSequence) Release() {
	last, ok := cs.refs.drop()
	if !ok || !last {
		return
	}
	for _, r := range cs.ops {
		r.release()
	}
}

func (cs *CommandSequence) forEachBuffer(fn func(*Buffer)) {
	for _, r := range cs.ops {
		for _, b := range r.buffers {
			fn(b)
		}
		for _, db := range r.bindings {
			for _, b := range db.buffers {
				fn(b)
			}
		}
	}
}

func (cs *CommandSequence) forEachImage(fn func(*Image)) {
	for _, r := range cs.ops {
		for _, img := range r.images {
			fn(img)
		}
		for _, db := range r.bindings {
			for _, img := range db.images {
				fn(img)
			}
		}
	}
}
