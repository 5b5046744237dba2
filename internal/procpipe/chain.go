package procpipe

import (
	"fmt"
	"io"
	"os"
)

// Stage describes one step of a chain built by RunChain.
type Stage struct {
	Name string
	Cmd  Cmd
	Cwd  string
	Env  map[string]string
	// Tee, if non-nil, receives a copy of this stage's stdout in
	// addition to it being piped to the next stage (SPEC_FULL §[ADD]
	// "--tee per-step output", grounded on the teacher's tee.go).
	Tee io.Writer
}

// RunChain wires stages[0].Stdin from in, stages[i].Stdout to
// stages[i+1].Stdin via os.Pipe (so adjacent children are connected by a
// real OS pipe, not routed through this process), and the last stage's
// stdout to out. Per spec.md §4.C, the parent closes its own reference
// to each pipe endpoint immediately after the owning child starts, so
// only the two children hold it open and EOF propagates correctly when
// the upstream child exits.
func RunChain(scope *Scope, stages []Stage, in io.Reader, out io.Writer) error {
	if len(stages) == 0 {
		return nil
	}

	var curIn io.Reader = in

	for i, st := range stages {
		var curOut io.Writer
		var nextIn *os.File
		var pw *os.File

		if i == len(stages)-1 {
			curOut = out
		} else {
			pr, w, err := os.Pipe()
			if err != nil {
				return fmt.Errorf("procpipe: pipe stage %d->%d: %w", i, i+1, err)
			}
			nextIn = pr
			pw = w
			curOut = w
		}

		if st.Tee != nil && curOut != nil {
			curOut = io.MultiWriter(curOut, st.Tee)
		}

		if _, err := scope.Start(st.Name, st.Cmd, curIn, curOut, st.Cwd, st.Env); err != nil {
			if nextIn != nil {
				nextIn.Close()
			}
			if pw != nil {
				pw.Close()
			}
			return err
		}

		// The previous stage's read end (if it was an *os.File we opened)
		// is now owned solely by the child we just started; this process
		// doesn't need its reference anymore.
		if rc, ok := curIn.(io.Closer); ok && curIn != in {
			rc.Close()
		}
		if pw != nil {
			pw.Close()
		}

		curIn = nextIn
	}

	return scope.Wait()
}
