package filters

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// FilterKind distinguishes bilingual from monolingual filters (spec.md §3).
type FilterKind string

const (
	Bilingual   FilterKind = "bilingual"
	Monolingual FilterKind = "monolingual"
)

// Definition is an immutable record describing one reusable filter
// program (spec.md §3 FilterDefinition).
type Definition struct {
	Name        string
	Kind        FilterKind
	Description string
	Command     string
	BaseDir     string
	Parameters  map[string]Schema
	// ParamOrder is the parameter names in sorted order, used to produce
	// a deterministic `name=value; ...` prefix during synthesis.
	ParamOrder []string
}

// rawDescriptor mirrors the on-disk descriptor document (spec.md §6).
type rawDescriptor struct {
	Type        string                 `json:"type" yaml:"type"`
	Name        string                 `json:"name" yaml:"name"`
	Description string                 `json:"description" yaml:"description"`
	Command     string                 `json:"command" yaml:"command"`
	Parameters  map[string]interface{} `json:"parameters" yaml:"parameters"`
}

// ParseDescriptor decodes a descriptor file's bytes (JSON or YAML,
// selected by the caller from the file extension) into a Definition.
// nameFallback and dir are the filename stem and containing directory,
// used per spec.md §4.A ("name from filename stem if absent, basedir
// from the file's directory").
func ParseDescriptor(data []byte, isYAML bool, nameFallback, dir string) (Definition, error) {
	var raw rawDescriptor
	if isYAML {
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return Definition{}, fmt.Errorf("parse descriptor: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, &raw); err != nil {
			return Definition{}, fmt.Errorf("parse descriptor: %w", err)
		}
	}

	def := Definition{
		Name:        raw.Name,
		Description: raw.Description,
		Command:     raw.Command,
		BaseDir:     dir,
		Parameters:  map[string]Schema{},
	}
	if def.Name == "" {
		def.Name = nameFallback
	}

	switch FilterKind(raw.Type) {
	case Bilingual, Monolingual:
		def.Kind = FilterKind(raw.Type)
	default:
		return Definition{}, fmt.Errorf("descriptor %q: invalid or missing type %q", def.Name, raw.Type)
	}
	if def.Command == "" {
		return Definition{}, fmt.Errorf("descriptor %q: command is required", def.Name)
	}

	for pname, pval := range raw.Parameters {
		if !ValidIdentifier(pname) {
			return Definition{}, fmt.Errorf("descriptor %q: invalid parameter name %q", def.Name, pname)
		}
		schema, err := parseSchema(pval)
		if err != nil {
			return Definition{}, fmt.Errorf("descriptor %q: parameter %q: %w", def.Name, pname, err)
		}
		def.Parameters[pname] = schema
	}
	def.ParamOrder = sortedParamNames(toValueMap(def.Parameters))

	return def, nil
}

func toValueMap(params map[string]Schema) map[string]Value {
	m := make(map[string]Value, len(params))
	for k := range params {
		m[k] = Value{}
	}
	return m
}

// parseSchema builds a Schema from a decoded parameter entry, which
// itself decodes from either JSON or YAML into the same generic shape:
// map[string]interface{} with "type", "min", "max", "choices", "elem",
// "elems", "default", "description".
func parseSchema(raw interface{}) (Schema, error) {
	m, ok := raw.(map[string]interface{})
	if !ok {
		if m2, ok2 := raw.(map[interface{}]interface{}); ok2 {
			m = make(map[string]interface{}, len(m2))
			for k, v := range m2 {
				m[fmt.Sprint(k)] = v
			}
		} else {
			return Schema{}, fmt.Errorf("expected a mapping, got %T", raw)
		}
	}

	kind, _ := m["type"].(string)
	s := Schema{Kind: Kind(kind)}
	switch s.Kind {
	case KindFloat, KindInt, KindBool, KindStr, KindList, KindTuple:
	default:
		return Schema{}, fmt.Errorf("invalid parameter kind %q", kind)
	}

	if v, ok := m["min"]; ok {
		if f, ok := asFloat(v); ok {
			s.Min = &f
		}
	}
	if v, ok := m["max"]; ok {
		if f, ok := asFloat(v); ok {
			s.Max = &f
		}
	}
	if v, ok := m["choices"]; ok {
		if items, ok := v.([]interface{}); ok {
			for _, it := range items {
				s.Choices = append(s.Choices, fmt.Sprint(it))
			}
		}
	}
	if v, ok := m["elem"].(string); ok {
		s.Elem = Kind(v)
	}
	if v, ok := m["elems"]; ok {
		if items, ok := v.([]interface{}); ok {
			for _, it := range items {
				s.Elems = append(s.Elems, Kind(fmt.Sprint(it)))
			}
		}
	}
	if v, ok := m["description"].(string); ok {
		s.Description = v
	}
	if v, hasDefault := m["default"]; hasDefault {
		s.DefaultRaw = v
		s.HasDefault = true
	}

	return s, nil
}
