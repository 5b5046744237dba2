package procpipe

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestRunChain_Identity(t *testing.T) {
	input := "line one\nline two\nline three\n"
	var out bytes.Buffer
	var stderr bytes.Buffer

	scope := New(&stderr)
	err := RunChain(scope, []Stage{{Name: "cat", Cmd: ArgvCmd("cat")}}, strings.NewReader(input), &out)
	require.NoError(t, err)
	require.Equal(t, input, out.String())
}

func TestRunChain_MultiStage(t *testing.T) {
	input := "a\nb\nc\n"
	var out bytes.Buffer
	var stderr bytes.Buffer

	scope := New(&stderr)
	stages := []Stage{
		{Name: "cat", Cmd: ArgvCmd("cat")},
		{Name: "upper", Cmd: ShellCmd("tr a-z A-Z")},
	}
	err := RunChain(scope, stages, strings.NewReader(input), &out)
	require.NoError(t, err)
	require.Equal(t, "A\nB\nC\n", out.String())
}

func TestRunChain_BrokenPipeIsSuccess(t *testing.T) {
	// head closes its stdin once it has its 10 lines; the upstream
	// producer legitimately sees a broken pipe and must not fail the
	// scope (spec.md §4.C "broken-pipe is treated as success").
	var sb strings.Builder
	for i := 0; i < 1_000_000; i++ {
		sb.WriteString("x\n")
	}
	var out bytes.Buffer
	var stderr bytes.Buffer

	scope := New(&stderr)
	stages := []Stage{
		{Name: "producer", Cmd: ArgvCmd("cat")},
		{Name: "head", Cmd: ArgvCmd("head", "-n", "10")},
	}
	err := RunChain(scope, stages, strings.NewReader(sb.String()), &out)
	require.NoError(t, err)
	require.Equal(t, 10, strings.Count(out.String(), "\n"))
}

func TestRunChain_FailurePropagates(t *testing.T) {
	var out bytes.Buffer
	var stderr bytes.Buffer

	scope := New(&stderr)
	stages := []Stage{
		{Name: "boom", Cmd: ArgvCmd("false")},
	}
	err := RunChain(scope, stages, strings.NewReader("x\n"), &out)
	require.Error(t, err)

	var failure *PipelineFailedError
	require.ErrorAs(t, err, &failure)
	require.Equal(t, "boom", failure.Name)
	require.NotEqual(t, 0, failure.ReturnCode)
}

func TestRunChain_EmptyInput(t *testing.T) {
	var out bytes.Buffer
	var stderr bytes.Buffer

	scope := New(&stderr)
	err := RunChain(scope, []Stage{{Name: "cat", Cmd: ArgvCmd("cat")}}, strings.NewReader(""), &out)
	require.NoError(t, err)
	require.Empty(t, out.String())
}

// TestScope_FirstFailureDoesNotKillSiblings pins down spec.md line 110:
// the first child to exit non-success must not Kill() the rest of the
// scope's children. A sibling that is still working when "boom" fails
// must be allowed to finish on its own and produce its full output.
func TestScope_FirstFailureDoesNotKillSiblings(t *testing.T) {
	var stderr bytes.Buffer
	scope := New(&stderr)

	_, err := scope.Start("boom", ArgvCmd("false"), strings.NewReader(""), io.Discard, "", nil)
	require.NoError(t, err)

	var slowOut bytes.Buffer
	_, err = scope.Start("slow", ShellCmd("sleep 0.2 && echo done"), strings.NewReader(""), &slowOut, "", nil)
	require.NoError(t, err)

	err = scope.Wait()
	require.Error(t, err)

	var failure *PipelineFailedError
	require.ErrorAs(t, err, &failure)
	require.Equal(t, "boom", failure.Name)

	require.Equal(t, "done\n", slowOut.String(), "sibling must run to completion, not be killed by the first failure")
}
