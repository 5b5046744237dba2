package procpipe

import (
	"errors"
	"fmt"
)

// ErrPipelineFailed is the sentinel behind every PipelineFailedError, so
// callers can errors.Is without inspecting fields (spec.md §7).
var ErrPipelineFailed = errors.New("pipeline failed")

// PipelineFailedError reports the first child to exit with a non-success
// status within a Scope (spec.md §4.C exit contract, step 5).
type PipelineFailedError struct {
	ChildIndex int
	Name       string
	ReturnCode int
	StderrTail string
}

func (e *PipelineFailedError) Error() string {
	return fmt.Sprintf("pipeline: child %d (%s) exited with code %d: %s", e.ChildIndex, e.Name, e.ReturnCode, e.StderrTail)
}

func (e *PipelineFailedError) Unwrap() error { return ErrPipelineFailed }

// ErrCancelled is the sentinel for the CancelledError kind (spec.md §7).
// Nothing in this package returns it: a Scope has no context, and after
// Abort, Wait reports a signalled child as a PipelineFailedError.
var ErrCancelled = errors.New("pipeline cancelled")
