package soft

import (
	"fmt"
	"sync"

	"github.com/gogpu/gpuflow/driver"
)

type submission struct {
	cmds []driver.Command
	done chan<- error
}

// queue executes submissions in FIFO order on its own goroutine.
type queue struct {
	dev  *Device
	caps driver.QueueCaps

	mu      sync.Mutex
	pending []submission
	closed  bool

	wake    chan struct{}
	stopped chan struct{}
}

func newQueue(d *Device, caps driver.QueueCaps) *queue {
	q := &queue{
		dev:     d,
		caps:    caps,
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

func (q *queue) execute(cmds []driver.Command) (err error) {
	if err := q.dev.Lost(); err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			q.dev.Lose(fmt.Errorf("queue fault: %v", r))
			err = q.dev.Lost()
		}
	}()

	for i, c := range cmds {
		if err := q.dev.exec(c); err != nil {
			q.dev.Lose(fmt.Errorf("command %d (%T): %w", i, c, err))
			return q.dev.Lost()
		}
	}
	return nil
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
