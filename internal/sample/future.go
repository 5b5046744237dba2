package sample

import "context"

// WorkResult is the materialised output of a cache entry's background
// work: either a sampler invocation (entry 0) or a filter step execution
// (entry i>0) — spec.md §3 SampleCacheEntry.work.
type WorkResult struct {
	ReturnCode int
	Stdout     []byte
	Stderr     []byte
	// ColumnOrder holds the language-code order of the columns in Stdout
	// when a producer sets it. NewSampler and NewStepRunner do not set it;
	// it is nil in every result they return.
	ColumnOrder []string
}

// Future is a cancellable promise for one cache entry's WorkResult.
// Consumers normally use WaitShielded (spec.md §4.E / §9 "shielded
// wait"): detaching a listener never cancels the underlying work, only
// Cancel does.
type Future struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	result WorkResult
	err    error
}

func newFuture(parent context.Context, fn func(ctx context.Context) (WorkResult, error)) *Future {
	ctx, cancel := context.WithCancel(parent)
	f := &Future{ctx: ctx, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(f.done)
		f.result, f.err = fn(ctx)
	}()
	return f
}

// Cancel detaches and cancels the background work. Safe to call more
// than once.
func (f *Future) Cancel() { f.cancel() }

// Wait blocks until the future resolves, regardless of the caller's own
// context — used internally by one cache entry waiting on the entry
// before it, where there is no separate "caller" to shield.
func (f *Future) Wait() (WorkResult, error) {
	<-f.done
	return f.result, f.err
}

// WaitShielded blocks until the future resolves or callerCtx is done,
// whichever comes first. If callerCtx is cancelled first, the caller is
// released but the future's background work keeps running untouched
// (spec.md §4.E/§9: "cancelling the long filter run would waste the
// work. Shielding decouples the subscription from the task").
func (f *Future) WaitShielded(callerCtx context.Context) (WorkResult, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-callerCtx.Done():
		return WorkResult{}, callerCtx.Err()
	}
}
