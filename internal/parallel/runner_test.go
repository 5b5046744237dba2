package parallel

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/hplt-project/opuscleaner-engine/internal/procpipe"
	"github.com/stretchr/testify/require"
)

func identityFactory() []procpipe.Stage {
	return []procpipe.Stage{{Name: "cat", Cmd: procpipe.ArgvCmd("cat")}}
}

// TestRun_PreservesOrder mirrors spec.md §8 scenario 5: 10,000 numbered
// lines through a bilingual identity step with --parallel 4
// --batch-size 512 reproduces the input exactly.
func TestRun_PreservesOrder(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 10_000; i++ {
		fmt.Fprintf(&sb, "%d\t%d\n", i, i)
	}
	input := sb.String()

	var out bytes.Buffer
	var stderr bytes.Buffer
	err := Run(4, 512, identityFactory, &stderr, strings.NewReader(input), &out)
	require.NoError(t, err)
	require.Equal(t, input, out.String())
}

func TestRun_BatchLargerThanInputActsLikeSingleWorker(t *testing.T) {
	input := "a\tb\nc\td\ne\tf\n"
	var out bytes.Buffer
	var stderr bytes.Buffer
	err := Run(4, 1_000_000, identityFactory, &stderr, strings.NewReader(input), &out)
	require.NoError(t, err)
	require.Equal(t, input, out.String())
}

func TestRun_EmptyInput(t *testing.T) {
	var out bytes.Buffer
	var stderr bytes.Buffer
	err := Run(2, 100, identityFactory, &stderr, strings.NewReader(""), &out)
	require.NoError(t, err)
	require.Empty(t, out.String())
}

// TestRun_FailurePropagatesAndCleansUpTempFiles checks that a failing
// worker's error surfaces and that no opuscleaner-batch-*/opuscleaner-out-*
// temp files are left behind (spec.md §8 "every temporary file created by
// the Parallel Runner is deleted by the time clean returns, on every exit
// path").
func TestRun_FailurePropagatesAndCleansUpTempFiles(t *testing.T) {
	before := countTempArtifacts(t)

	failingFactory := func() []procpipe.Stage {
		return []procpipe.Stage{{Name: "boom", Cmd: procpipe.ArgvCmd("false")}}
	}

	input := strings.Repeat("x\ty\n", 100)
	var out bytes.Buffer
	var stderr bytes.Buffer
	err := Run(3, 10, failingFactory, &stderr, strings.NewReader(input), &out)
	require.Error(t, err)

	after := countTempArtifacts(t)
	require.Equal(t, before, after, "parallel runner must remove every temp file it creates, even on failure")
}

func countTempArtifacts(t *testing.T) int {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(os.TempDir(), "opuscleaner-*"))
	require.NoError(t, err)
	return len(matches)
}

func TestRun_SingleWorkerSingleBatch(t *testing.T) {
	input := strconv.Itoa(1) + "\n"
	var out bytes.Buffer
	var stderr bytes.Buffer
	err := Run(1, 1, identityFactory, &stderr, strings.NewReader(input), &out)
	require.NoError(t, err)
	require.Equal(t, input, out.String())
}
