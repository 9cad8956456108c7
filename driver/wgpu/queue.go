//go:build !nogpu

package wgpu

import (
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/gpuflow/driver"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// Texture copies need rows aligned to this many bytes.
const copyPitchAlignment = 256

type submission struct {
	cmds []driver.Command
	done chan<- error
}

// queue encodes each submission into one command buffer and waits for its
// fence on a dedicated goroutine, so submissions complete in FIFO order.
type queue struct {
	dev     *Device
	caps    driver.QueueCaps
	timeout time.Duration

	mu      sync.Mutex
	pending []submission
	closed  bool

	wake    chan struct{}
	stopped chan struct{}
}

func newQueue(d *Device, caps driver.QueueCaps, timeout time.Duration) *queue {
	q := &queue{
		dev:     d,
		caps:    caps,
		timeout: timeout,
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *queue) Caps() driver.QueueCaps { return q.caps }

func (q *queue) Submit(cmds []driver.Command, done chan<- error) error {
	if err := q.dev.Lost(); err != nil {
		return err
	}
	for _, c := range cmds {
		if need := driver.RequiredCaps(c); !q.caps.Contains(need) {
			return fmt.Errorf("%w: %T needs %v, queue has %v", driver.ErrUnsupported, c, need, q.caps)
		}
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return driver.ErrDestroyed
	}
	q.pending = append(q.pending, submission{cmds: cmds, done: done})
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

func (q *queue) run() {
	defer close(q.stopped)
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			closed := q.closed
			q.mu.Unlock()
			if closed {
				return
			}
			<-q.wake
			continue
		}
		s := q.pending[0]
		q.pending[0] = submission{}
		q.pending = q.pending[1:]
		q.mu.Unlock()

		s.done <- q.execute(s.cmds)
	}
}

// transients are hal objects that live until a submission's fence signals.
type transients struct {
	bindGroups []hal.BindGroup
	buffers    []hal.Buffer
}

func (t *transients) release(dev hal.Device) {
	for _, bg := range t.bindGroups {
		dev.DestroyBindGroup(bg)
	}
	for _, b := range t.buffers {
		dev.DestroyBuffer(b)
	}
}

func (q *queue) execute(cmds []driver.Command) error {
	if err := q.dev.Lost(); err != nil {
		return err
	}
	dev := q.dev.hal

	var tmp transients
	defer tmp.release(dev)

	encoder, err := dev.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "gpuflow_submit"})
	if err != nil {
		return q.lose(fmt.Errorf("create command encoder: %w", err))
	}
	if err := encoder.BeginEncoding("gpuflow_submit"); err != nil {
		return q.lose(fmt.Errorf("begin encoding: %w", err))
	}
	for i, c := range cmds {
		if err := q.encode(encoder, c, &tmp); err != nil {
			encoder.DiscardEncoding()
			return q.lose(fmt.Errorf("command %d (%T): %w", i, c, err))
		}
	}
	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		return q.lose(fmt.Errorf("end encoding: %w", err))
	}
	defer dev.FreeCommandBuffer(cmdBuf)

	fence, err := dev.CreateFence()
	if err != nil {
		return q.lose(fmt.Errorf("create fence: %w", err))
	}
	defer dev.DestroyFence(fence)

	if err := q.dev.halQ.Submit([]hal.CommandBuffer{cmdBuf}, fence, 1); err != nil {
		return q.lose(fmt.Errorf("submit: %w", err))
	}
	ok, err := dev.Wait(fence, 1, q.timeout)
	if err != nil {
		return q.lose(fmt.Errorf("wait for fence: %w", err))
	}
	if !ok {
		return q.lose(fmt.Errorf("fence not signaled after %v", q.timeout))
	}
	return nil
}

func (q *queue) lose(err error) error {
	q.dev.Lose(err)
	return q.dev.Lost()
}

// encode appends one command to enc. Commands are encoded in recorded order
// with no buffer barriers between them; hazards such as a dispatch writing a
// buffer that a later copy reads are left to the hal backend's barrier
// tracking.
func (q *queue) encode(enc hal.CommandEncoder, c driver.Command, tmp *transients) error {
	switch c := c.(type) {
	case *driver.CopyBuffer:
		src, dst, err := buffers(c.Src, c.Dst)
		if err != nil {
			return err
		}
		enc.CopyBufferToBuffer(src.hal, dst.hal, []hal.BufferCopy{{Size: alignUp(c.Size, copyAlignment)}})
		return nil

	case *driver.ClearImage:
		img, ok := c.Image.(*image)
		if !ok {
			return fmt.Errorf("%w: image from another driver", driver.ErrUnsupported)
		}
		rp := enc.BeginRenderPass(&hal.RenderPassDescriptor{
			Label: "gpuflow_clear",
			ColorAttachments: []hal.RenderPassColorAttachment{{
				View:       img.view,
				LoadOp:     gputypes.LoadOpClear,
				StoreOp:    gputypes.StoreOpStore,
				ClearValue: color(c.Color),
			}},
		})
		rp.End()
		return nil

	case *driver.CopyImageToBuffer:
		return q.encodeReadback(enc, c, tmp)

	case *driver.Dispatch:
		p, ok := c.Pipeline.(*pipeline)
		if !ok || p.compute == nil {
			return fmt.Errorf("%w: dispatch needs a compute pipeline", driver.ErrUnsupported)
		}
		groups, err := p.bindGroups(c.Resources)
		if err != nil {
			return err
		}
		tmp.bindGroups = append(tmp.bindGroups, groups...)

		pass := enc.BeginComputePass(&hal.ComputePassDescriptor{Label: p.label})
		pass.SetPipeline(p.compute)
		for i, bg := range groups {
			pass.SetBindGroup(uint32(i), bg, nil)
		}
		pass.Dispatch(c.Groups[0], c.Groups[1], c.Groups[2])
		pass.End()
		return nil

	case *driver.Draw:
		return q.encodeDraw(enc, c, tmp)

	default:
		return fmt.Errorf("%w: command %T", driver.ErrUnsupported, c)
	}
}

func (q *queue) encodeDraw(enc hal.CommandEncoder, c *driver.Draw, tmp *transients) error {
	p, ok := c.Pipeline.(*pipeline)
	if !ok || p.render == nil {
		return fmt.Errorf("%w: draw needs a graphics pipeline", driver.ErrUnsupported)
	}
	target, ok := c.Target.(*image)
	if !ok {
		return fmt.Errorf("%w: render target from another driver", driver.ErrUnsupported)
	}
	groups, err := p.bindGroups(c.Resources)
	if err != nil {
		return err
	}
	tmp.bindGroups = append(tmp.bindGroups, groups...)

	rp := enc.BeginRenderPass(&hal.RenderPassDescriptor{
		Label: p.label,
		ColorAttachments: []hal.RenderPassColorAttachment{{
			View:       target.view,
			LoadOp:     loadOp(p.attachment.Load),
			StoreOp:    storeOp(p.attachment.Store),
			ClearValue: color(c.ClearColor),
		}},
	})
	rp.SetPipeline(p.render)
	vp := p.viewport
	rp.SetViewport(vp.X, vp.Y, vp.Width, vp.Height, vp.MinDepth, vp.MaxDepth)
	for i, bg := range groups {
		rp.SetBindGroup(uint32(i), bg, nil)
	}
	if c.Vertices != nil {
		vb, ok := c.Vertices.(*buffer)
		if !ok {
			rp.End()
			return fmt.Errorf("%w: vertex buffer from another driver", driver.ErrUnsupported)
		}
		rp.SetVertexBuffer(0, vb.hal, 0)
	}
	rp.Draw(c.VertexCount, 1, c.FirstVertex, 0)
	rp.End()
	return nil
}

// encodeReadback copies an image into a tightly packed buffer. Rows that
// already meet the pitch alignment are copied directly; otherwise the image
// lands in a padded staging buffer first and each row is copied out.
func (q *queue) encodeReadback(enc hal.CommandEncoder, c *driver.CopyImageToBuffer, tmp *transients) error {
	img, ok := c.Src.(*image)
	if !ok {
		return fmt.Errorf("%w: image from another driver", driver.ErrUnsupported)
	}
	dst, ok := c.Dst.(*buffer)
	if !ok {
		return fmt.Errorf("%w: buffer from another driver", driver.ErrUnsupported)
	}
	w, h := img.width, img.height
	rowBytes := w * uint32(img.format.BytesPerPixel())
	if rowBytes%copyAlignment != 0 {
		return fmt.Errorf("%w: %d byte rows are not a multiple of %d", driver.ErrUnsupported, rowBytes, copyAlignment)
	}

	rendered := img.usage.Contains(driver.ImageUsageRenderTarget) || img.usage.Contains(driver.ImageUsageTransferDst)
	if rendered {
		enc.TransitionTextures([]hal.TextureBarrier{{
			Texture: img.tex,
			Usage: hal.TextureUsageTransition{
				OldUsage: gputypes.TextureUsageRenderAttachment,
				NewUsage: gputypes.TextureUsageCopySrc,
			},
		}})
	}

	pitch := (rowBytes + copyPitchAlignment - 1) &^ (copyPitchAlignment - 1)
	target := dst.hal
	if pitch != rowBytes {
		staging, err := q.dev.hal.CreateBuffer(&hal.BufferDescriptor{
			Label: "gpuflow_readback_staging",
			Size:  uint64(pitch) * uint64(h),
			Usage: gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst,
		})
		if err != nil {
			return fmt.Errorf("%w: staging buffer: %w", driver.ErrOutOfMemory, err)
		}
		tmp.buffers = append(tmp.buffers, staging)
		target = staging
	}

	enc.CopyTextureToBuffer(img.tex, target, []hal.BufferTextureCopy{{
		BufferLayout: hal.ImageDataLayout{Offset: 0, BytesPerRow: pitch, RowsPerImage: h},
		TextureBase:  hal.ImageCopyTexture{Texture: img.tex, MipLevel: 0},
		Size:         hal.Extent3D{Width: w, Height: h, DepthOrArrayLayers: 1},
	}})

	if pitch != rowBytes {
		rows := make([]hal.BufferCopy, h)
		for y := uint32(0); y < h; y++ {
			rows[y] = hal.BufferCopy{
				SrcOffset: uint64(y) * uint64(pitch),
				DstOffset: uint64(y) * uint64(rowBytes),
				Size:      uint64(rowBytes),
			}
		}
		enc.CopyBufferToBuffer(target, dst.hal, rows)
	}

	if rendered {
		enc.TransitionTextures([]hal.TextureBarrier{{
			Texture: img.tex,
			Usage: hal.TextureUsageTransition{
				OldUsage: gputypes.TextureUsageCopySrc,
				NewUsage: gputypes.TextureUsageRenderAttachment,
			},
		}})
	}
	return nil
}

func buffers(a, b driver.Buffer) (*buffer, *buffer, error) {
	src, ok := a.(*buffer)
	if !ok {
		return nil, nil, fmt.Errorf("%w: buffer from another driver", driver.ErrUnsupported)
	}
	dst, ok := b.(*buffer)
	if !ok {
		return nil, nil, fmt.Errorf("%w: buffer from another driver", driver.ErrUnsupported)
	}
	return src, dst, nil
}

// close fails queued submissions with driver.ErrDestroyed and waits for
// the one in progress.
func (q *queue) close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.stopped
		return
	}
	q.closed = true
	pending := q.pending
	q.pending = nil
	q.mu.Unlock()

	for _, s := range pending {
		s.done <- driver.ErrDestroyed
	}
	select {
	case q.wake <- struct{}{}:
	default:
	}
	<-q.stopped
}
