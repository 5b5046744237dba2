// Command clean implements the `clean` CLI of spec.md §6: run a
// pipeline document against a dataset's gzipped per-language column
// files (or a pre-pasted TSV stream), producing a single filtered TSV.
package main

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/hplt-project/opuscleaner-engine/internal/clitree"
	"github.com/hplt-project/opuscleaner-engine/internal/config"
	"github.com/hplt-project/opuscleaner-engine/internal/filters"
	"github.com/hplt-project/opuscleaner-engine/internal/parallel"
	"github.com/hplt-project/opuscleaner-engine/internal/pipelinedoc"
	"github.com/hplt-project/opuscleaner-engine/internal/procpipe"
	"github.com/hplt-project/opuscleaner-engine/internal/sample"
	"github.com/urfave/cli/v2"
)

func main() {
	log.SetOutput(os.Stderr)
	log.SetFlags(0)

	app := &cli.App{
		Name:      "clean",
		Usage:     "run a filter pipeline over a parallel-text dataset",
		ArgsUsage: "PIPELINE.json [LANG...]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "filters", Usage: "glob for filter descriptors (default from config, else filters/**/*.json and filters/**/*.yaml)"},
			&cli.StringFlag{Name: "input", Usage: "TSV input file, or - for stdin; if absent, files are read from the pipeline document"},
			&cli.StringFlag{Name: "output", Usage: "output path (default stdout)"},
			&cli.StringFlag{Name: "basedir", Usage: "base directory for resolving dataset files"},
			&cli.IntFlag{Name: "parallel", Value: 0, Usage: "number of parallel workers (default from config, else 1)"},
			&cli.IntFlag{Name: "batch-size", Value: 0, Usage: "lines per parallel batch (default from config, else 1000000)"},
			&cli.IntFlag{Name: "first", Value: 0, Usage: "cap input to the first N lines"},
			&cli.BoolFlag{Name: "tee", Usage: "write each step's intermediate output to BASENAME.step-i.tsv"},
			&cli.BoolFlag{Name: "describe", Usage: "print the resolved pipeline plan and exit, without running it"},
			&cli.StringFlag{Name: "config", Usage: "path to an opuscleaner.toml config file"},
			&cli.IntFlag{Name: "sample", Value: 0, Usage: "materialise a cached N-line sample of the pipeline's output instead of running it in full, for UI preview"},
			&cli.BoolFlag{Name: "watch-filters", Usage: "reload the filter registry whenever its descriptor directory changes"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		if code, ok := err.(cli.ExitCoder); ok {
			fmt.Fprintf(os.Stderr, "clean: %v\n", err)
			os.Exit(code.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "clean: %v\n", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	if c.Args().Len() < 1 {
		return cli.Exit("missing PIPELINE document argument", 2)
	}
	pipelinePath := c.Args().First()
	langArgs := c.Args().Tail()

	cfgPath := c.String("config")
	if cfgPath == "" {
		cfgPath = "opuscleaner.toml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return cli.Exit(err, 2)
	}
	if c.IsSet("filters") {
		cfg.FilterPatterns = []string{c.String("filters")}
	}
	if c.IsSet("basedir") {
		cfg.BaseDir = c.String("basedir")
	}
	if c.IsSet("parallel") {
		cfg.Parallel = c.Int("parallel")
	} else if cfg.Parallel == 0 {
		cfg.Parallel = 1
	}
	if c.IsSet("batch-size") {
		cfg.BatchSize = c.Int("batch-size")
	} else if cfg.BatchSize == 0 {
		cfg.BatchSize = 1_000_000
	}

	doc, err := pipelinedoc.Load(pipelinePath)
	if err != nil {
		return cli.Exit(err, 2)
	}

	reg, warnings, err := filters.Load(cfg.FilterPatterns...)
	if err != nil {
		return cli.Exit(err, 2)
	}
	for _, w := range warnings {
		log.Printf("[filters] warning: %s", w)
	}
	filters.SetActive(reg)

	if c.Bool("watch-filters") {
		dir := globBaseDir(cfg.FilterPatterns)
		watcher, err := filters.Watch(dir, cfg.FilterPatterns, func(_ *filters.Registry, warnings []string) {
			for _, w := range warnings {
				log.Printf("[filters] reload warning: %s", w)
			}
			log.Printf("[filters] reloaded from %s", dir)
		})
		if err != nil {
			return cli.Exit(err, 1)
		}
		defer watcher.Close()
	}

	bound, stepWarnings, err := pipelinedoc.Validate(doc, filters.Active())
	if err != nil {
		return cli.Exit(err, 2)
	}
	for _, w := range stepWarnings {
		log.Printf("[pipeline] warning: %s", w)
	}

	if c.String("input") != "" && len(langArgs) == 0 {
		return cli.Exit("language codes are required when --input is used", 2)
	}
	languages := doc.Languages()
	if c.String("input") != "" && len(langArgs) > 0 {
		languages = langArgs
	}

	if c.Bool("describe") {
		fmt.Fprint(c.App.Writer, clitree.Describe(doc, bound))
		return nil
	}

	splicerPath, err := findSplicer()
	if err != nil {
		return cli.Exit(err, 2)
	}

	if n := c.Int("sample"); n > 0 {
		return runSample(c, doc, filters.Active(), languages, splicerPath, n, cfg)
	}

	reg = filters.Active()
	var stages []procpipe.Stage
	for i, step := range doc.Filters {
		body, err := reg.Synthesize(step, languages, splicerPath)
		if err != nil {
			return cli.Exit(err, 2)
		}
		stage := procpipe.Stage{Name: fmt.Sprintf("step-%d-%s", i, step.Filter), Cmd: procpipe.ShellCmd(body)}
		if c.Bool("tee") {
			teePath := fmt.Sprintf("%s.step-%d.tsv", stepBasename(pipelinePath), i)
			f, err := os.Create(teePath)
			if err != nil {
				return cli.Exit(fmt.Errorf("tee: %w", err), 1)
			}
			defer f.Close()
			stage.Tee = f
		}
		stages = append(stages, stage)
	}

	in, closeIn, err := openInput(c, doc, cfg.BaseDir)
	if err != nil {
		return cli.Exit(err, 1)
	}
	defer closeIn()

	if n := c.Int("first"); n > 0 {
		in = firstNLines(in, n)
	}

	out, closeOut, err := openOutput(c)
	if err != nil {
		return cli.Exit(err, 1)
	}
	defer closeOut()

	if cfg.Parallel <= 1 {
		scope := procpipe.New(os.Stderr)
		err = procpipe.RunChain(scope, stages, in, out)
	} else {
		factory := func() []procpipe.Stage { return stages }
		err = parallel.Run(cfg.Parallel, cfg.BatchSize, factory, os.Stderr, in, out)
	}
	if err != nil {
		return cli.Exit(err, 1)
	}
	return nil
}

// openInput resolves the TSV byte stream clean runs the pipeline over:
// either the explicit --input file/stdin, or the column-paste of the
// pipeline document's declared (gzip-compressed) files.
func openInput(c *cli.Context, doc pipelinedoc.Pipeline, basedir string) (io.Reader, func(), error) {
	if path := c.String("input"); path != "" {
		if path == "-" {
			return os.Stdin, func() {}, nil
		}
		f, err := os.Open(path)
		if err != nil {
			return nil, nil, fmt.Errorf("open input: %w", err)
		}
		return f, func() { f.Close() }, nil
	}

	readers := make([]io.Reader, 0, len(doc.Files))
	closers := make([]io.Closer, 0, len(doc.Files))
	for _, rel := range doc.Files {
		path := rel
		if basedir != "" && !filepath.IsAbs(path) {
			path = filepath.Join(basedir, path)
		}
		f, err := os.Open(path)
		if err != nil {
			closeAll(closers)
			return nil, nil, fmt.Errorf("open dataset file %s: %w", path, err)
		}
		closers = append(closers, f)
		if strings.HasSuffix(path, ".gz") {
			gz, err := gzip.NewReader(f)
			if err != nil {
				closeAll(closers)
				return nil, nil, fmt.Errorf("gunzip %s: %w", path, err)
			}
			closers = append(closers, gz)
			readers = append(readers, gz)
		} else {
			readers = append(readers, f)
		}
	}

	pr, pw := io.Pipe()
	go func() {
		err := pasteColumns(readers, pw)
		closeAll(closers)
		pw.CloseWithError(err)
	}()
	return pr, func() {}, nil
}

func closeAll(closers []io.Closer) {
	for i := len(closers) - 1; i >= 0; i-- {
		closers[i].Close()
	}
}

// pasteColumns reads one line from each of readers in lockstep and
// writes them tab-joined, matching `paste file1 file2 ...` (spec.md §8
// "byte-equal to paste <(gunzip files…)" for the empty-filters case).
func pasteColumns(readers []io.Reader, out io.Writer) error {
	scanners := make([]*bufio.Scanner, len(readers))
	for i, r := range readers {
		s := bufio.NewScanner(r)
		s.Buffer(make([]byte, 64*1024), 64*1024*1024)
		scanners[i] = s
	}

	for {
		fields := make([]string, len(scanners))
		any := false
		for i, s := range scanners {
			if s.Scan() {
				fields[i] = s.Text()
				any = true
			}
		}
		if !any {
			break
		}
		if _, err := io.WriteString(out, strings.Join(fields, "\t")+"\n"); err != nil {
			return err
		}
	}
	for _, s := range scanners {
		if err := s.Err(); err != nil {
			return err
		}
	}
	return nil
}

func firstNLines(in io.Reader, n int) io.Reader {
	pr, pw := io.Pipe()
	go func() {
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 64*1024), 64*1024*1024)
		count := 0
		var err error
		for count < n && scanner.Scan() {
			if _, werr := io.WriteString(pw, scanner.Text()+"\n"); werr != nil {
				err = werr
				break
			}
			count++
		}
		if err == nil {
			err = scanner.Err()
		}
		pw.CloseWithError(err)
	}()
	return pr
}

func openOutput(c *cli.Context) (io.Writer, func(), error) {
	path := c.String("output")
	if path == "" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("create output: %w", err)
	}
	return f, func() { f.Close() }, nil
}

func stepBasename(pipelinePath string) string {
	base := filepath.Base(pipelinePath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// findSplicer locates the splicer binary next to this one, falling back
// to $PATH.
func findSplicer() (string, error) {
	exe, err := os.Executable()
	if err == nil {
		candidate := filepath.Join(filepath.Dir(exe), "splicer")
		if _, statErr := os.Stat(candidate); statErr == nil {
			return candidate, nil
		}
	}
	return "splicer", nil
}

// findSampler locates the sampler binary next to this one, falling back
// to $PATH, mirroring findSplicer above.
func findSampler() (string, error) {
	exe, err := os.Executable()
	if err == nil {
		candidate := filepath.Join(filepath.Dir(exe), "sampler")
		if _, statErr := os.Stat(candidate); statErr == nil {
			return candidate, nil
		}
	}
	return "sampler", nil
}

// runSample serves --sample N: it resolves the dataset's column files
// and ordered filter steps into the sample cache's inputs (spec.md §4.E)
// and writes the last entry's materialised stdout to the configured
// output, without running the full pipeline over the whole dataset.
func runSample(c *cli.Context, doc pipelinedoc.Pipeline, reg *filters.Registry, languages []string, splicerPath string, n int, cfg config.Config) error {
	samplerPath, err := findSampler()
	if err != nil {
		return cli.Exit(err, 2)
	}

	columnFiles := make([]sample.ColumnFile, 0, len(doc.Files))
	for i, rel := range doc.Files {
		path := rel
		if cfg.BaseDir != "" && !filepath.IsAbs(path) {
			path = filepath.Join(cfg.BaseDir, path)
		}
		info, err := os.Stat(path)
		if err != nil {
			return cli.Exit(fmt.Errorf("sample: stat dataset file %s: %w", path, err), 1)
		}
		columnFiles = append(columnFiles, sample.ColumnFile{
			Language: languages[i],
			Path:     path,
			ModTime:  info.ModTime().UnixNano(),
		})
	}

	steps := make([]sample.StepDescriptor, 0, len(doc.Filters))
	for _, step := range doc.Filters {
		def, err := reg.Get(step.Filter)
		if err != nil {
			return cli.Exit(err, 2)
		}
		sd, err := sample.StepDescriptorFor(step, def)
		if err != nil {
			return cli.Exit(err, 1)
		}
		steps = append(steps, sd)
	}

	cache := sample.NewCache()
	sampler := sample.NewSampler(samplerPath, n, cfg.BaseDir)
	stepRunner := sample.NewStepRunner(reg, languages, splicerPath, doc.Filters)

	entries := cache.GetSample(c.Context, datasetName(c.Args().First()), columnFiles, steps, sampler, stepRunner)
	last := entries[len(entries)-1]
	result, err := last.Work.WaitShielded(c.Context)
	if err != nil {
		return cli.Exit(fmt.Errorf("sample: %w", err), 1)
	}

	out, closeOut, err := openOutput(c)
	if err != nil {
		return cli.Exit(err, 1)
	}
	defer closeOut()

	if _, err := out.Write(result.Stdout); err != nil {
		return cli.Exit(err, 1)
	}
	return nil
}

// globBaseDir derives a concrete directory to pass to fsnotify's Add from
// the first of patterns, by taking everything before its first glob
// meta-character ('*', '?', '[').
func globBaseDir(patterns []string) string {
	if len(patterns) == 0 {
		return "."
	}
	pattern := patterns[0]
	parts := strings.Split(filepath.ToSlash(pattern), "/")
	dir := "."
	for _, p := range parts {
		if strings.ContainsAny(p, "*?[") {
			break
		}
		if dir == "." {
			dir = p
		} else {
			dir = dir + "/" + p
		}
	}
	if dir == "" {
		dir = "."
	}
	return dir
}

// datasetName derives the sample cache's dataset key from the pipeline
// document's path, stripping both the ".json" and the conventional
// ".filters" suffixes (e.g. "news.filters.json" -> "news").
func datasetName(pipelinePath string) string {
	base := filepath.Base(pipelinePath)
	base = strings.TrimSuffix(base, ".json")
	base = strings.TrimSuffix(base, ".filters")
	return base
}
