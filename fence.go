package gpuflow

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// FenceState is the state of a Fence.
type FenceState uint8

// Fence states. A fence leaves FencePending exactly once.
const (
	FencePending FenceState = iota
	FenceSignaled
	FenceLost
)

func (s FenceState) String() string {
	switch s {
	case FencePending:
		return "pending"
	case FenceSignaled:
		return "signaled"
	case FenceLost:
		return "lost"
	default:
		return fmt.Sprintf("FenceState(%d)", uint8(s))
	}
}

// Fence tracks the completion of one submission.
type Fence struct {
	dc *DeviceContext
	id uint64

	done chan struct{}
	once sync.Once

	// state and err are written before done is closed.
	state FenceState
	err   error

	// observed is set once a Wait returned nil.
	observed atomic.Bool
}

func newFence(dc *DeviceContext) *Fence {
	return &Fence{dc: dc, id: dc.fenceSeq.Add(1), done: make(chan struct{})}
}

func (f *Fence) complete(err error) {
	f.once.Do(func() {
		if err != nil {
			f.state, f.err = FenceLost, err
		} else {
			f.state = FenceSignaled
		}
		close(f.done)
	})
}

// ID returns the submission number, starting at 1 for each DeviceContext.
func (f *Fence) ID() uint64 { return f.id }

// State returns the current state without blocking.
func (f *Fence) State() FenceState {
	select {
	case <-f.done:
		return f.state
	default:
		return FencePending
	}
}

// Done returns a channel closed when the fence leaves FencePending.
func (f *Fence) Done() <-chan struct{} { return f.done }

// Observed reports whether a Wait on the fence has returned nil.
func (f *Fence) Observed() bool { return f.observed.Load() }

// Wait blocks until the fence leaves FencePending or timeout elapses. It
// returns nil when signaled, an ErrDeviceLost error when lost and
// ErrTimeout on elapse, after which the fence may be waited on again. A
// negative timeout waits forever; zero polls.
func (f *Fence) Wait(timeout time.Duration) error {
	switch {
	case timeout < 0:
		<-f.done
	case timeout == 0:
		select {
		case <-f.done:
		default:
			return fmt.Errorf("%w: fence %d pending", ErrTimeout, f.id)
		}
	default:
		t := time.NewTimer(timeout)
		defer t.Stop()
		select {
		case <-f.done:
		case <-t.C:
			Logger().Warn("gpuflow: wait timed out", "fence", f.id, "timeout", timeout)
			return fmt.Errorf("%w: fence %d after %v", ErrTimeout, f.id, timeout)
		}
	}

	if f.state == FenceLost {
		return f.err
	}
	f.observed.Store(true)
	return nil
}
