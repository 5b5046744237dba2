package filters

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
)

// Kind enumerates the closed set of parameter schema variants (spec.md
// §3's ParameterSchema, expanded per SPEC_FULL's "Dynamic parameter
// typing" note).
type Kind string

const (
	KindFloat Kind = "float"
	KindInt   Kind = "int"
	KindBool  Kind = "bool"
	KindStr   Kind = "str"
	KindList  Kind = "list"
	KindTuple Kind = "tuple"
)

var identifierRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdentifier reports whether name matches the parameter-name
// grammar required by spec.md §3: [A-Za-z_][A-Za-z0-9_]*.
func ValidIdentifier(name string) bool {
	return identifierRE.MatchString(name)
}

// Schema is a single parameter's type, bounds/choices, and default. It is
// the closed sum type called for by spec.md §9: each Kind uses only the
// fields relevant to it, and Bind, DefaultFactory and Value.Export are the
// variant-specific behaviour the rest of the engine uses.
type Schema struct {
	Kind Kind `yaml:"type" json:"type"`

	// float/int bounds, inclusive; nil means unbounded on that side.
	Min *float64 `yaml:"min,omitempty" json:"min,omitempty"`
	Max *float64 `yaml:"max,omitempty" json:"max,omitempty"`

	// str/list allowed-value set (a list checks each element); empty means
	// unconstrained. Tuple elements are not checked against it.
	Choices []string `yaml:"choices,omitempty" json:"choices,omitempty"`

	// list/tuple element kind(s). List uses Elem for every element;
	// Tuple uses Elems positionally and its length fixes the tuple arity.
	Elem  Kind   `yaml:"elem,omitempty" json:"elem,omitempty"`
	Elems []Kind `yaml:"elems,omitempty" json:"elems,omitempty"`

	DefaultRaw  interface{} `yaml:"-" json:"-"`
	HasDefault  bool        `yaml:"-" json:"-"`
	Description string      `yaml:"description,omitempty" json:"description,omitempty"`
}

// Value is a validated, bound parameter value ready for export to a
// shell environment variable.
type Value struct {
	Kind  Kind
	Num   float64
	Bool  bool
	Str   string
	List  []Value
	Tuple []Value
}

// DefaultFactory returns the schema's default value, or an error if the
// schema has no default (the caller must then treat the parameter as
// missing-and-unfillable).
func (s Schema) DefaultFactory() (Value, error) {
	if !s.HasDefault {
		return Value{}, fmt.Errorf("parameter has no default")
	}
	return s.fromRawUnchecked(s.DefaultRaw)
}

// fromRawUnchecked converts a raw decoded value (from JSON/YAML) into a
// Value of this schema's kind without re-validating bounds/choices; used
// only for trusted descriptor-authored defaults. Untrusted pipeline-step
// values must go through Bind instead.
func (s Schema) fromRawUnchecked(raw interface{}) (Value, error) {
	switch s.Kind {
	case KindFloat:
		f, ok := asFloat(raw)
		if !ok {
			return Value{}, fmt.Errorf("expected float, got %T", raw)
		}
		return Value{Kind: KindFloat, Num: f}, nil
	case KindInt:
		f, ok := asFloat(raw)
		if !ok {
			return Value{}, fmt.Errorf("expected int, got %T", raw)
		}
		return Value{Kind: KindInt, Num: f}, nil
	case KindBool:
		b, ok := raw.(bool)
		if !ok {
			return Value{}, fmt.Errorf("expected bool, got %T", raw)
		}
		return Value{Kind: KindBool, Bool: b}, nil
	case KindStr:
		str, ok := raw.(string)
		if !ok {
			return Value{}, fmt.Errorf("expected string, got %T", raw)
		}
		return Value{Kind: KindStr, Str: str}, nil
	case KindList:
		items, ok := raw.([]interface{})
		if !ok {
			return Value{}, fmt.Errorf("expected list, got %T", raw)
		}
		elemSchema := Schema{Kind: s.Elem}
		out := make([]Value, 0, len(items))
		for i, it := range items {
			v, err := elemSchema.fromRawUnchecked(it)
			if err != nil {
				return Value{}, fmt.Errorf("list element %d: %w", i, err)
			}
			out = append(out, v)
		}
		return Value{Kind: KindList, List: out}, nil
	case KindTuple:
		items, ok := raw.([]interface{})
		if !ok {
			return Value{}, fmt.Errorf("expected tuple, got %T", raw)
		}
		if len(items) != len(s.Elems) {
			return Value{}, fmt.Errorf("tuple expects %d elements, got %d", len(s.Elems), len(items))
		}
		out := make([]Value, len(items))
		for i, it := range items {
			es := Schema{Kind: s.Elems[i]}
			v, err := es.fromRawUnchecked(it)
			if err != nil {
				return Value{}, fmt.Errorf("tuple element %d: %w", i, err)
			}
			out[i] = v
		}
		return Value{Kind: KindTuple, Tuple: out}, nil
	default:
		return Value{}, fmt.Errorf("unknown parameter kind %q", s.Kind)
	}
}

// Bind validates a raw, loosely-typed value (as decoded from a pipeline
// document's JSON/YAML parameters map) against the schema, returning the
// checked Value.
func (s Schema) Bind(raw interface{}) (Value, error) {
	switch s.Kind {
	case KindFloat:
		f, ok := asFloat(raw)
		if !ok {
			return Value{}, fmt.Errorf("expected float, got %T", raw)
		}
		if s.Min != nil && f < *s.Min {
			return Value{}, fmt.Errorf("value %g below minimum %g", f, *s.Min)
		}
		if s.Max != nil && f > *s.Max {
			return Value{}, fmt.Errorf("value %g above maximum %g", f, *s.Max)
		}
		return Value{Kind: KindFloat, Num: f}, nil

	case KindInt:
		f, ok := asFloat(raw)
		if !ok || f != float64(int64(f)) {
			return Value{}, fmt.Errorf("expected int, got %v", raw)
		}
		if s.Min != nil && f < *s.Min {
			return Value{}, fmt.Errorf("value %g below minimum %g", f, *s.Min)
		}
		if s.Max != nil && f > *s.Max {
			return Value{}, fmt.Errorf("value %g above maximum %g", f, *s.Max)
		}
		return Value{Kind: KindInt, Num: f}, nil

	case KindBool:
		b, ok := raw.(bool)
		if !ok {
			return Value{}, fmt.Errorf("expected bool, got %T", raw)
		}
		return Value{Kind: KindBool, Bool: b}, nil

	case KindStr:
		str, ok := raw.(string)
		if !ok {
			return Value{}, fmt.Errorf("expected string, got %T", raw)
		}
		if len(s.Choices) > 0 && !contains(s.Choices, str) {
			return Value{}, fmt.Errorf("value %q not among allowed choices %v", str, s.Choices)
		}
		return Value{Kind: KindStr, Str: str}, nil

	case KindList:
		items, ok := raw.([]interface{})
		if !ok {
			return Value{}, fmt.Errorf("expected list, got %T", raw)
		}
		elemSchema := Schema{Kind: s.Elem, Choices: s.Choices}
		out := make([]Value, 0, len(items))
		for i, it := range items {
			v, err := elemSchema.Bind(it)
			if err != nil {
				return Value{}, fmt.Errorf("list element %d: %w", i, err)
			}
			out = append(out, v)
		}
		return Value{Kind: KindList, List: out}, nil

	case KindTuple:
		items, ok := raw.([]interface{})
		if !ok {
			return Value{}, fmt.Errorf("expected tuple, got %T", raw)
		}
		if len(items) != len(s.Elems) {
			return Value{}, fmt.Errorf("tuple expects %d elements, got %d", len(s.Elems), len(items))
		}
		out := make([]Value, len(items))
		for i, it := range items {
			es := Schema{Kind: s.Elems[i]}
			v, err := es.Bind(it)
			if err != nil {
				return Value{}, fmt.Errorf("tuple element %d: %w", i, err)
			}
			out[i] = v
		}
		return Value{Kind: KindTuple, Tuple: out}, nil

	default:
		return Value{}, fmt.Errorf("unknown parameter kind %q", s.Kind)
	}
}

// Export renders the value as its shell string form per spec.md §3:
// bool -> "1" or "", list/tuple has no plain shell form (callers needing
// list/tuple must use the PARAMETERS_AS_YAML path instead).
func (v Value) Export() (string, error) {
	switch v.Kind {
	case KindFloat:
		return strconv.FormatFloat(v.Num, 'g', -1, 64), nil
	case KindInt:
		return strconv.FormatInt(int64(v.Num), 10), nil
	case KindBool:
		if v.Bool {
			return "1", nil
		}
		return "", nil
	case KindStr:
		return v.Str, nil
	default:
		return "", fmt.Errorf("%s has no plain shell export; use PARAMETERS_AS_YAML", v.Kind)
	}
}

// YAMLValue converts the value back into a plain Go value suitable for
// yaml.Marshal, used to build the PARAMETERS_AS_YAML blob.
func (v Value) YAMLValue() interface{} {
	switch v.Kind {
	case KindFloat:
		return v.Num
	case KindInt:
		return int64(v.Num)
	case KindBool:
		return v.Bool
	case KindStr:
		return v.Str
	case KindList:
		out := make([]interface{}, len(v.List))
		for i, e := range v.List {
			out[i] = e.YAMLValue()
		}
		return out
	case KindTuple:
		out := make([]interface{}, len(v.Tuple))
		for i, e := range v.Tuple {
			out[i] = e.YAMLValue()
		}
		return out
	default:
		return nil
	}
}

func asFloat(raw interface{}) (float64, bool) {
	switch n := raw.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

// sortedParamNames is a small helper used by command synthesis (synth.go)
// to produce deterministic `name=value; ...` ordering.
func sortedParamNames(m map[string]Value) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
