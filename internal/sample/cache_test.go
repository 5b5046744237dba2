package sample

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func files() []ColumnFile {
	return []ColumnFile{{Language: "en", Path: "/data/a.en", ModTime: 1}, {Language: "de", Path: "/data/a.de", ModTime: 1}}
}

func countingSampler(calls *int32) Sampler {
	return func(ctx context.Context, dataset string, fs []ColumnFile) (WorkResult, error) {
		atomic.AddInt32(calls, 1)
		return WorkResult{Stdout: []byte("raw\n")}, nil
	}
}

func countingRunner(calls []int32) StepRunner {
	return func(ctx context.Context, stepIndex int, prev []byte) (WorkResult, error) {
		atomic.AddInt32(&calls[stepIndex], 1)
		return WorkResult{Stdout: append(append([]byte{}, prev...), byte('A'+stepIndex))}, nil
	}
}

func step(name string) StepDescriptor {
	return StepDescriptor{StepBytes: []byte(name), FilterDefBytes: []byte(name + "-def")}
}

// TestGetSample_SuffixInvalidation mirrors spec.md §8 scenario 6: steps
// [A,B,C], fetch, then replace step C with C', fetch again. Entries 0-2
// must be the identical *Entry pointers (so their Futures are never
// recomputed); only entry 3 is replaced.
func TestGetSample_SuffixInvalidation(t *testing.T) {
	c := NewCache()
	var sampleCalls int32
	stepCalls := make([]int32, 3)

	steps := []StepDescriptor{step("A"), step("B"), step("C")}
	first := c.GetSample(context.Background(), "ds", files(), steps, countingSampler(&sampleCalls), countingRunner(stepCalls))
	require.Len(t, first, 4)
	for _, e := range first {
		_, err := e.Work.Wait()
		require.NoError(t, err)
	}

	steps2 := []StepDescriptor{step("A"), step("B"), step("C-prime")}
	second := c.GetSample(context.Background(), "ds", files(), steps2, countingSampler(&sampleCalls), countingRunner(stepCalls))
	require.Len(t, second, 4)

	require.Same(t, first[0], second[0])
	require.Same(t, first[1], second[1])
	require.Same(t, first[2], second[2])
	require.NotSame(t, first[3], second[3])

	for _, e := range second {
		_, err := e.Work.Wait()
		require.NoError(t, err)
	}

	require.EqualValues(t, 1, atomic.LoadInt32(&sampleCalls))
	require.EqualValues(t, 1, atomic.LoadInt32(&stepCalls[0]))
	require.EqualValues(t, 1, atomic.LoadInt32(&stepCalls[1]))
	require.EqualValues(t, 2, atomic.LoadInt32(&stepCalls[2]))
}

func TestGetSample_RawFileChangeInvalidatesEverything(t *testing.T) {
	c := NewCache()
	var sampleCalls int32
	stepCalls := make([]int32, 1)
	steps := []StepDescriptor{step("A")}

	f1 := files()
	first := c.GetSample(context.Background(), "ds", f1, steps, countingSampler(&sampleCalls), countingRunner(stepCalls))
	for _, e := range first {
		e.Work.Wait()
	}

	f2 := files()
	f2[0].ModTime = 2
	second := c.GetSample(context.Background(), "ds", f2, steps, countingSampler(&sampleCalls), countingRunner(stepCalls))
	for _, e := range second {
		e.Work.Wait()
	}

	require.NotSame(t, first[0], second[0])
	require.NotSame(t, first[1], second[1])
	require.EqualValues(t, 2, atomic.LoadInt32(&sampleCalls))
	require.EqualValues(t, 2, atomic.LoadInt32(&stepCalls[0]))
}

func TestGetSample_ShorterStepListCancelsExtraEntries(t *testing.T) {
	c := NewCache()
	var sampleCalls int32
	stepCalls := make([]int32, 2)
	full := []StepDescriptor{step("A"), step("B")}

	first := c.GetSample(context.Background(), "ds", files(), full, countingSampler(&sampleCalls), countingRunner(stepCalls))
	for _, e := range first {
		e.Work.Wait()
	}
	require.Len(t, first, 3)

	shorter := full[:1]
	second := c.GetSample(context.Background(), "ds", files(), shorter, countingSampler(&sampleCalls), countingRunner(stepCalls))
	require.Len(t, second, 2)
	require.Same(t, first[0], second[0])
	require.Same(t, first[1], second[1])
}
