package gpuflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"
)

// DefaultMaxInFlight is the default bound on pending submissions.
const DefaultMaxInFlight = 16

// SubmitterConfig configures a Submitter.
type SubmitterConfig struct {
	// MaxInFlight bounds the number of pending submissions. Submit blocks
	// while the bound is reached. Zero means DefaultMaxInFlight.
	MaxInFlight int

	Label string
}

// Submitter hands command sequences to the device queue.
type Submitter struct {
	dc    *DeviceContext
	label string
	max   int64
	sem   *semaphore.Weighted
}

// NewSubmitter returns a submitter for the queue of dc.
func NewSubmitter(dc *DeviceContext, cfg SubmitterConfig) *Submitter {
	n := int64(cfg.MaxInFlight)
	if n <= 0 {
		n = DefaultMaxInFlight
	}
	return &Submitter{dc: dc, label: cfg.Label, max: n, sem: semaphore.NewWeighted(n)}
}

// MaxInFlight returns the bound on pending submissions.
func (s *Submitter) MaxInFlight() int { return int(s.max) }

// Submit enqueues seq and returns a pending Fence. Execution is
// asynchronous; submissions run in FIFO order. Submit blocks while
// MaxInFlight submissions are pending, honouring ctx.
func (s *Submitter) Submit(ctx context.Context, seq *CommandSequence) (*Fence, error) {
	switch {
	case seq == nil:
		return nil, fmt.Errorf("%w: nil sequence", ErrSubmission)
	case seq.dc != s.dc:
		return nil, fmt.Errorf("%w: sequence built for another device", ErrSubmission)
	case !seq.refs.live():
		return nil, fmt.Errorf("%w: %w: command sequence", ErrSubmission, ErrResourceReleased)
	case !s.dc.family.Caps.Contains(seq.caps):
		return nil, fmt.Errorf("%w: sequence needs %v, queue family %d has %v",
			ErrSubmission, seq.caps, s.dc.family.Index, s.dc.family.Caps)
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSubmission, err)
	}
	if err := s.dc.beginSubmit(); err != nil {
		s.sem.Release(1)
		return nil, fmt.Errorf("%w: %w", ErrSubmission, err)
	}

	seq.Retain()
	seq.forEachBuffer(func(b *Buffer) { b.pending.Add(1) })
	seq.forEachImage(func(img *Image) { img.pending.Add(1) })

	done := make(chan error, 1)
	s.dc.submitMu.Lock()
	fence := newFence(s.dc)
	if err := s.dc.queue.Submit(seq.cmds, done); err != nil {
		s.dc.submitMu.Unlock()
		s.finish(seq)
		err = mapDriverErr(err, ErrSubmission)
		s.dc.noteLost(err)
		if !errors.Is(err, ErrSubmission) {
			err = fmt.Errorf("%w: %w", ErrSubmission, err)
		}
		return nil, err
	}
	seq.forEachBuffer(func(b *Buffer) { b.lastUse.Store(fence) })
	s.dc.submitMu.Unlock()

	Logger().Debug("gpuflow: submitted", "submitter", s.label, "fence", fence.id, "ops", len(seq.cmds))
	go func() {
		err := <-done
		if err != nil {
			err = mapDriverErr(err, ErrDeviceLost)
			s.dc.noteLost(err)
		}
		s.finish(seq)
		fence.complete(err)
	}()
	return fence, nil
}

func (s *Submitter) finish(seq *CommandSequence) {
	seq.forEachBuffer(func(b *Buffer) { b.pending.Add(-1) })
	seq.forEachImage(func(img *Image) { img.pending.Add(-1) })
	seq.Release()
	s.sem.Release(1)
	s.dc.endSubmit()
}

// Wait is shorthand for fence.Wait(timeout).
func (s *Submitter) Wait(fence *Fence, timeout time.Duration) error {
	if fence == nil {
		return invalidf("nil fence")
	}
	return fence.Wait(timeout)
}
