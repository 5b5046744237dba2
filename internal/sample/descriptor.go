package sample

import (
	"encoding/json"
	"fmt"

	"github.com/hplt-project/opuscleaner-engine/internal/filters"
)

// reducedDefinition carries only the parts of a filters.Definition that
// should invalidate a sample cache entry when they change: its kind,
// command template and parameter schema. A filter's name, description, or
// basedir churning on disk must not by itself bust the cache.
type reducedDefinition struct {
	Kind       filters.FilterKind        `json:"kind"`
	Command    string                    `json:"command"`
	Parameters map[string]filters.Schema `json:"parameters"`
}

// StepDescriptorFor builds the two fingerprint inputs spec.md §3 assigns
// to a pipeline step (the step's own declaration, and the resolved
// filter definition it names) as the deterministic JSON encodings
// Cache.GetSample hashes to decide whether the entry survives an edit.
func StepDescriptorFor(step filters.Step, def filters.Definition) (StepDescriptor, error) {
	stepBytes, err := json.Marshal(step)
	if err != nil {
		return StepDescriptor{}, fmt.Errorf("encode step descriptor: %w", err)
	}
	defBytes, err := json.Marshal(reducedDefinition{
		Kind:       def.Kind,
		Command:    def.Command,
		Parameters: def.Parameters,
	})
	if err != nil {
		return StepDescriptor{}, fmt.Errorf("encode filter definition descriptor: %w", err)
	}
	return StepDescriptor{StepBytes: stepBytes, FilterDefBytes: defBytes}, nil
}
