// Package sample implements spec.md §4.E: a per-dataset cache of sample
// pipeline runs keyed by a chained fingerprint, so that editing step k of
// a pipeline in the UI only recomputes steps k..n instead of the whole
// chain from scratch.
package sample

import (
	"context"
	"sync"

	"github.com/hplt-project/opuscleaner-engine/internal/fingerprint"
)

// ColumnFile describes one dataset column file participating in entry 0's
// fingerprint (the raw, unfiltered sample source).
type ColumnFile struct {
	Language string
	Path     string
	ModTime  int64 // unix nanoseconds; part of the fingerprint so a file edited in place invalidates the cache
}

// StepDescriptor carries the two fingerprint inputs spec.md §3 assigns to
// each pipeline step: the step's own declaration (filter name + bound
// parameters + column selection) and the resolved filter definition it
// names (so editing a filter's command also invalidates downstream
// entries).
type StepDescriptor struct {
	StepBytes      []byte
	FilterDefBytes []byte
}

// Sampler runs the dataset sampler over the raw columns (spec.md §4.E
// runSampler) and produces entry 0's WorkResult.
type Sampler func(ctx context.Context, dataset string, files []ColumnFile) (WorkResult, error)

// StepRunner executes step index `i` (0-based into steps) against the
// previous entry's stdout and produces entry i+1's WorkResult.
type StepRunner func(ctx context.Context, stepIndex int, prevStdout []byte) (WorkResult, error)

// Entry is one position in a dataset's cached pipeline: entries[0] is the
// raw sample, entries[i] for i>0 is the output of steps[i-1].
type Entry struct {
	Fingerprint fingerprint.Digest
	Work        *Future
}

type datasetState struct {
	mu      sync.Mutex
	entries []*Entry
}

// Cache holds one datasetState per dataset name.
type Cache struct {
	mu       sync.Mutex
	datasets map[string]*datasetState
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{datasets: map[string]*datasetState{}}
}

func (c *Cache) dataset(name string) *datasetState {
	c.mu.Lock()
	defer c.mu.Unlock()
	ds, ok := c.datasets[name]
	if !ok {
		ds = &datasetState{}
		c.datasets[name] = ds
	}
	return ds
}

// GetSample returns the cache entries for dataset's raw sample (index 0)
// through the output of the last of steps (index len(steps)), reusing any
// existing entry whose chained fingerprint is unchanged and recomputing
// (from the first point of divergence onward) any that aren't — the
// "suffix invalidation" behaviour of spec.md §4.E and its Testable
// Properties §8 scenario 6.
//
// The returned slice's Future values may still be running; callers should
// consume them with Future.WaitShielded so that releasing interest in a
// result (e.g. an HTTP client disconnecting) never kills work another
// caller might still be waiting on.
func (c *Cache) GetSample(ctx context.Context, dataset string, files []ColumnFile, steps []StepDescriptor, sampler Sampler, run StepRunner) []*Entry {
	ds := c.dataset(dataset)
	ds.mu.Lock()
	defer ds.mu.Unlock()

	fp0 := columnsFingerprint(files)
	if len(ds.entries) == 0 || ds.entries[0].Fingerprint != fp0 {
		cancelFrom(ds, 0)
		ds.entries = []*Entry{{
			Fingerprint: fp0,
			Work: newFuture(ctx, func(fctx context.Context) (WorkResult, error) {
				return sampler(fctx, dataset, files)
			}),
		}}
	}

	for i := 1; i <= len(steps); i++ {
		prevEntry := ds.entries[i-1]
		step := steps[i-1]
		fp := fingerprint.ChainParts(prevEntry.Fingerprint, fingerprint.Of(step.StepBytes), fingerprint.Of(step.FilterDefBytes))

		if i < len(ds.entries) && ds.entries[i].Fingerprint == fp {
			continue
		}
		cancelFrom(ds, i)

		prevFuture := prevEntry.Work
		stepIdx := i - 1
		entry := &Entry{
			Fingerprint: fp,
			Work: newFuture(ctx, func(fctx context.Context) (WorkResult, error) {
				prevResult, err := prevFuture.Wait()
				if err != nil {
					return WorkResult{}, err
				}
				return run(fctx, stepIdx, prevResult.Stdout)
			}),
		}
		ds.entries = append(ds.entries[:i], entry)
	}

	cancelFrom(ds, len(steps)+1)

	out := make([]*Entry, len(steps)+1)
	copy(out, ds.entries)
	return out
}

// cancelFrom cancels the background work of every entry at index >= from
// and truncates the dataset's entry slice to length from, preserving the
// contiguous-prefix invariant (spec.md §3).
func cancelFrom(ds *datasetState, from int) {
	if from >= len(ds.entries) {
		return
	}
	for _, e := range ds.entries[from:] {
		e.Work.Cancel()
	}
	ds.entries = ds.entries[:from]
}

func columnsFingerprint(files []ColumnFile) fingerprint.Digest {
	var buf []byte
	for _, f := range files {
		buf = append(buf, []byte(f.Language+"\x00"+f.Path+"\x00"+itoa(f.ModTime)+"\x01")...)
	}
	return fingerprint.Of(buf)
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
