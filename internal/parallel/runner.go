// Package parallel implements spec.md §4.D: split a single logical input
// stream into fixed-line batches, run each batch through its own copy of
// a filter pipeline, and merge the outputs back in batch order.
package parallel

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/hplt-project/opuscleaner-engine/internal/procpipe"
)

// PipelineFactory builds the stage list for one fresh worker pipeline. It
// is called once per batch (spec.md §4.D step 2: "a freshly constructed
// Process Pipeline"); most callers return the same stage definitions each
// time since filter commands are stateless shell lines.
type PipelineFactory func() []procpipe.Stage

// Run reads in, splits it into consecutive runs of batchLines lines,
// processes each batch through workers copies of the pipeline built by
// factory, and writes the merged, order-preserving result to out. Each
// child pipeline's stderr is sent to stderr, prefixed per spec.md §4.C
// semantics by the Scope it runs in.
//
// Run returns the first worker (or splitter) failure encountered, after
// every worker and the splitter have been drained and every temporary
// file it created has been removed (spec.md §4.D, §8).
func Run(workers, batchLines int, factory PipelineFactory, stderr io.Writer, in io.Reader, out io.Writer) error {
	if workers < 1 {
		workers = 1
	}
	if batchLines < 1 {
		batchLines = 1
	}

	type batchFile struct {
		idx  int
		path string
	}
	type batchOutput struct {
		idx  int
		path string
		err  error
	}

	batchQueue := make(chan batchFile, 2*workers)
	mergeQueue := make(chan batchOutput, 2*workers)

	var splitErr error
	var splitWG sync.WaitGroup
	splitWG.Add(1)
	go func() {
		defer splitWG.Done()
		defer close(batchQueue)

		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 64*1024), 64*1024*1024)

		idx := 0
		var lines []string
		flush := func() error {
			if len(lines) == 0 {
				return nil
			}
			f, err := os.CreateTemp("", fmt.Sprintf("opuscleaner-batch-%d-*.tsv", idx))
			if err != nil {
				return fmt.Errorf("parallel: create batch file: %w", err)
			}
			for _, l := range lines {
				if _, err := io.WriteString(f, l+"\n"); err != nil {
					f.Close()
					os.Remove(f.Name())
					return fmt.Errorf("parallel: write batch file: %w", err)
				}
			}
			path := f.Name()
			f.Close()
			batchQueue <- batchFile{idx: idx, path: path}
			idx++
			lines = lines[:0]
			return nil
		}

		for scanner.Scan() {
			lines = append(lines, scanner.Text())
			if len(lines) >= batchLines {
				if err := flush(); err != nil {
					splitErr = err
					return
				}
			}
		}
		if err := scanner.Err(); err != nil {
			splitErr = fmt.Errorf("parallel: read input: %w", err)
			return
		}
		if err := flush(); err != nil {
			splitErr = err
		}
	}()

	var workerWG sync.WaitGroup
	for w := 0; w < workers; w++ {
		workerWG.Add(1)
		go func() {
			defer workerWG.Done()
			for batch := range batchQueue {
				outPath, err := runBatch(factory(), stderr, batch.path, batch.idx)
				os.Remove(batch.path)
				mergeQueue <- batchOutput{idx: batch.idx, path: outPath, err: err}
			}
		}()
	}

	go func() {
		workerWG.Wait()
		close(mergeQueue)
	}()

	pending := map[int]string{}
	next := 0
	var firstErr error
	for item := range mergeQueue {
		if item.err != nil {
			if firstErr == nil {
				firstErr = item.err
			}
			if item.path != "" {
				os.Remove(item.path)
			}
			continue
		}
		pending[item.idx] = item.path
		for {
			path, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)
			if firstErr == nil {
				if err := copyAndRemove(path, out); err != nil {
					firstErr = err
				}
			} else {
				os.Remove(path)
			}
			next++
		}
	}

	splitWG.Wait()
	// Any batch files left pending (e.g. the merge never reached their
	// index because an earlier one failed) must still be unlinked.
	for _, path := range pending {
		os.Remove(path)
	}

	if firstErr != nil {
		return firstErr
	}
	return splitErr
}

// runBatch opens path as the pipeline's stdin, runs factory's stages in
// a fresh Scope, and returns the path of a new temp file holding the
// pipeline's stdout.
func runBatch(stages []procpipe.Stage, stderr io.Writer, path string, idx int) (string, error) {
	in, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("parallel: open batch %d: %w", idx, err)
	}
	defer in.Close()

	outFile, err := os.CreateTemp("", fmt.Sprintf("opuscleaner-out-%d-*.tsv", idx))
	if err != nil {
		return "", fmt.Errorf("parallel: create output batch %d: %w", idx, err)
	}
	outPath := outFile.Name()

	scope := procpipe.New(stderr)
	err = procpipe.RunChain(scope, stages, in, outFile)
	closeErr := outFile.Close()
	if err != nil {
		os.Remove(outPath)
		return "", err
	}
	if closeErr != nil {
		os.Remove(outPath)
		return "", fmt.Errorf("parallel: close output batch %d: %w", idx, closeErr)
	}
	return outPath, nil
}

func copyAndRemove(path string, out io.Writer) error {
	defer os.Remove(path)
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("parallel: reopen merged batch: %w", err)
	}
	defer f.Close()
	_, err = io.Copy(out, f)
	return err
}
