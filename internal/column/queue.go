package column

import (
	"container/list"
	"sync"
)

// pending is one record held back while its spliced column(s) travel
// through the child process (spec.md §4.B: "Holds the remaining columns
// ... on an internal unbounded FIFO").
type pending struct {
	// fields is the full original row, with the extracted columns still
	// in place; reassemble overwrites them once the child's output for
	// this row arrives.
	fields []string
	// cols are the positions within fields that the child's output line
	// should be written back into, in order.
	cols []int
}

// fifo is an unbounded, concurrency-safe queue of pending records. It is
// a small purpose-built queue rather than a buffered channel because the
// spec calls for an unbounded FIFO and a buffered channel's capacity is
// fixed at creation.
type fifo struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  *list.List
	closed bool
}

func newFIFO() *fifo {
	f := &fifo{items: list.New()}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// push appends a record. Safe to call after close only if the caller
// coordinates externally; push never blocks.
func (f *fifo) push(p pending) {
	f.mu.Lock()
	f.items.PushBack(p)
	f.cond.Signal()
	f.mu.Unlock()
}

// pop removes and returns the oldest record, blocking until one is
// available or the queue is closed+drained (ok=false).
func (f *fifo) pop() (p pending, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for f.items.Len() == 0 && !f.closed {
		f.cond.Wait()
	}
	if f.items.Len() == 0 {
		return pending{}, false
	}
	front := f.items.Front()
	f.items.Remove(front)
	return front.Value.(pending), true
}

// len reports the current queue depth, used to detect UnderProduction
// when the child closes its output while records remain.
func (f *fifo) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.items.Len()
}

// close marks the queue closed, waking any blocked pop.
func (f *fifo) close() {
	f.mu.Lock()
	f.closed = true
	f.cond.Broadcast()
	f.mu.Unlock()
}
