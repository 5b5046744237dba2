// Package pipelinedoc implements spec.md §3/§4.F: the on-disk pipeline
// document (files + ordered filter steps) and its validation against a
// loaded filter registry.
package pipelinedoc

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/hplt-project/opuscleaner-engine/internal/filters"
)

// CurrentVersion is the only pipeline document schema version this
// engine understands (spec.md §3 Pipeline.version).
const CurrentVersion = 1

// Pipeline is the JSON document describing a dataset's filter chain.
type Pipeline struct {
	Version int            `json:"version"`
	Files   []string       `json:"files"`
	Filters []filters.Step `json:"filters"`
}

// Load reads and JSON-decodes a pipeline document from path.
func Load(path string) (Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Pipeline{}, fmt.Errorf("pipelinedoc: read %s: %w", path, err)
	}
	var p Pipeline
	if err := json.Unmarshal(data, &p); err != nil {
		return Pipeline{}, fmt.Errorf("pipelinedoc: parse %s: %w", path, err)
	}
	return p, nil
}

// Save writes p to path as indented JSON, matching the format a human
// editing the file by hand (or the original web UI) would produce.
func Save(path string, p Pipeline) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("pipelinedoc: marshal: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("pipelinedoc: write %s: %w", path, err)
	}
	return nil
}

// LanguageOf derives a column file's language code from its name: the
// second-to-last dot-separated component, or the last one when the name
// has a single dot, e.g. "corpus.en.gz" -> "en",
// "corpus.de" -> "de" (spec.md §3 "Language derivation").
func LanguageOf(path string) string {
	base := path
	if i := strings.LastIndexByte(base, '/'); i >= 0 {
		base = base[i+1:]
	}
	parts := strings.Split(base, ".")
	if len(parts) < 2 {
		return ""
	}
	if len(parts) == 2 {
		return parts[1]
	}
	return parts[len(parts)-2]
}

// Validate checks p against reg: the version must be CurrentVersion,
// Files must be non-empty, and every step must reference a known filter
// with parameters and language selection that satisfy the filter's
// schema (spec.md §4.F).
func Validate(p Pipeline, reg *filters.Registry) ([]filters.BoundStep, []string, error) {
	if p.Version != CurrentVersion {
		return nil, nil, fmt.Errorf("pipelinedoc: unsupported version %d (want %d)", p.Version, CurrentVersion)
	}
	if len(p.Files) == 0 {
		return nil, nil, fmt.Errorf("pipelinedoc: no files declared")
	}

	var warnings []string
	bound := make([]filters.BoundStep, 0, len(p.Filters))
	for i, step := range p.Filters {
		def, err := reg.Get(step.Filter)
		if err != nil {
			return nil, warnings, fmt.Errorf("pipelinedoc: step %d: %w", i, err)
		}
		b, err := filters.BindStep(step, def)
		if err != nil {
			return nil, warnings, fmt.Errorf("pipelinedoc: step %d (%s): %w", i, step.Filter, err)
		}
		for _, w := range b.Warnings {
			warnings = append(warnings, fmt.Sprintf("step %d (%s): %s", i, step.Filter, w))
		}
		bound = append(bound, b)
	}

	return bound, warnings, nil
}

// Languages returns LanguageOf applied to every file in p.Files, in
// order, for wiring each column against its monolingual filter steps.
func (p Pipeline) Languages() []string {
	out := make([]string, len(p.Files))
	for i, f := range p.Files {
		out[i] = LanguageOf(f)
	}
	return out
}
