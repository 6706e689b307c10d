package hdspe

import "sync"

// workQueue is a single-goroutine deferred-work context. Scheduling from
// the interrupt path never blocks: a task scheduled while another is
// already pending is coalesced, matching the semantics the interrupt
// handler relies on for status refresh and MIDI draining.
type workQueue struct {
	mu     sync.Mutex
	ch     chan func()
	wg     sync.WaitGroup
	closed bool
}

func newWorkQueue() *workQueue {
	q := &workQueue{ch: make(chan func(), 1)}

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		for fn := range q.ch {
			fn()
		}
	}()

	return q
}

// schedule hands fn to the work context. It reports false if the queue is
// drained, or if a task was already pending and fn was coalesced away.
func (q *workQueue) schedule(fn func()) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	select {
	case q.ch <- fn:
		return true
	default:
		return false
	}
}

// drain stops the context and waits for any running task to finish.
// Safe to call more than once; scheduling after drain is a no-op.
func (q *workQueue) drain() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	q.mu.Unlock()

	q.wg.Wait()
}
