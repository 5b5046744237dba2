// Package procpipe implements the process-pipeline scope of spec.md
// §4.C: a lifetime-bound context that owns a set of sibling child
// processes wired by pipes, guarantees their cleanup on every exit path,
// and turns the first non-success child exit into a single consolidated
// PipelineFailedError.
package procpipe

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"golang.org/x/sync/errgroup"
)

const stderrTailBytes = 4096

// Scope owns a set of sibling children started with Start and guarantees
// that Wait reaps every one of them before returning (spec.md §4.C,
// §8 "no zombies").
type Scope struct {
	stderr   io.Writer
	stderrMu sync.Mutex

	eg       *errgroup.Group
	abortOne sync.Once

	mu       sync.Mutex
	children []*child
	failure  *PipelineFailedError
}

// New creates a Scope whose children's stderr lines are prefixed and
// serialised to stderr (spec.md §4.C "Stderr multiplexing").
func New(stderr io.Writer) *Scope {
	s := &Scope{
		stderr: stderr,
		eg:     &errgroup.Group{},
	}
	return s
}

// Start spawns a child under this scope (spec.md §4.C "start" operation).
// cwd and env may be empty/nil; env, when non-nil, overlays (not
// replaces) the process environment.
func (s *Scope) Start(name string, cmd Cmd, stdin io.Reader, stdout io.Writer, cwd string, env map[string]string) (*ChildHandle, error) {
	ec := cmd.build()
	ec.Dir = cwd
	ec.Stdin = stdin
	ec.Stdout = stdout
	ec.Env = mergeEnv(env)

	stderrPipe, err := ec.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("procpipe: stderr pipe for %s: %w", name, err)
	}

	if err := ec.Start(); err != nil {
		return nil, fmt.Errorf("procpipe: start %s (%s): %w", name, cmd.describe(), err)
	}

	s.mu.Lock()
	idx := len(s.children)
	c := &child{name: name, index: idx, cmd: ec, stderrTail: newTailBuffer(stderrTailBytes), done: make(chan struct{})}
	s.children = append(s.children, c)
	s.mu.Unlock()

	s.eg.Go(func() error {
		pumpStderr(name, stderrPipe, c.stderrTail, s.writeStderrLine)

		waitErr := c.cmd.Wait()
		close(c.done)

		success := waitErr == nil || brokenPipeExit(waitErr)
		code := 0
		if waitErr != nil {
			if exitErr, ok := waitErr.(*exec.ExitError); ok {
				code = exitErr.ExitCode()
			} else {
				code = -1
			}
		}

		c.result = childResult{success: success, returnCode: code, waitErr: waitErr}

		if !success {
			s.recordFailure(&PipelineFailedError{
				ChildIndex: idx,
				Name:       name,
				ReturnCode: code,
				StderrTail: c.stderrTail.String(),
			})
			// The first failing child does NOT kill its siblings (spec.md
			// line 110: "remaining children are left to finish (they will
			// typically see their input close and exit)"), matching
			// original_source/opuscleaner/clean.py's ProcessPipeline.__exit__,
			// which on early failure only breaks its polling loop and then
			// unconditionally, blockingly .wait()s every child. Abort is
			// reserved for explicit scope cancellation, not this path.
		}
		// Babysitter goroutines never themselves fail the errgroup; a
		// child's non-zero exit is reported via PipelineFailedError, not
		// as a Go error from the supervising goroutine, so every sibling
		// is still waited on (step 4 of the exit contract).
		return nil
	})

	return &ChildHandle{Name: name, Index: idx, PID: ec.Process.Pid}, nil
}

// recordFailure keeps only the first failure (spec.md §4.C step 3:
// "subsequent failures are recorded but do not overwrite the primary
// error").
func (s *Scope) recordFailure(f *PipelineFailedError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure == nil {
		s.failure = f
	}
}

// Abort sends every still-living child a terminate signal (SIGTERM). This
// is explicit scope cancellation (spec.md §5 "Cancellation": a caller
// giving up on a whole pipeline) — NOT what happens when one child
// merely exits non-zero;
// that case lets siblings finish naturally (see Start). It is idempotent
// and safe to call concurrently or more than once.
func (s *Scope) Abort() {
	s.abortOne.Do(func() {
		s.mu.Lock()
		children := append([]*child(nil), s.children...)
		s.mu.Unlock()
		for _, c := range children {
			select {
			case <-c.done:
				continue
			default:
			}
			if c.cmd.Process != nil {
				_ = c.cmd.Process.Signal(syscall.SIGTERM)
			}
		}
	})
}

// Wait blocks until every spawned child has been reaped, then reports
// the scope's outcome (spec.md §4.C exit contract, steps 2-5). Every
// child is waited on regardless of failure; Wait never returns while a
// child of this scope is still alive.
func (s *Scope) Wait() error {
	_ = s.eg.Wait()

	s.mu.Lock()
	failure := s.failure
	s.mu.Unlock()

	if failure != nil {
		return failure
	}
	return nil
}

// writeStderrLine serialises one already-prefixed line to the scope's
// stderr sink so sibling children's output never interleaves mid-line.
func (s *Scope) writeStderrLine(line string) {
	s.stderrMu.Lock()
	defer s.stderrMu.Unlock()
	fmt.Fprintln(s.stderr, line)
}

func mergeEnv(overlay map[string]string) []string {
	base := os.Environ()
	if len(overlay) == 0 {
		return base
	}
	out := make([]string, 0, len(base)+len(overlay))
	out = append(out, base...)
	for k, v := range overlay {
		out = append(out, k+"="+v)
	}
	return out
}
