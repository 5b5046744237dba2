package filters

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// parametersPlaceholder is the literal token a filter's command template
// uses to request the YAML-encoded-parameters environment variable
// (spec.md §4.A).
const parametersPlaceholder = "PARAMETERS_AS_YAML"

// Synthesize returns a single shell command line that, run under `sh -c`,
// realises step (spec.md §4.A). languages is the pipeline's ordered
// column language list; splicerPath is the path to the column-splicer
// executable used to wrap monolingual filters.
func (r *Registry) Synthesize(step Step, languages []string, splicerPath string) (string, error) {
	def, err := r.Get(step.Filter)
	if err != nil {
		return "", err
	}

	body, err := r.SynthesizeBody(step, def)
	if err != nil {
		return "", err
	}

	switch def.Kind {
	case Bilingual:
		return body, nil
	case Monolingual:
		cols, err := ColumnIndexes(step.Languages(), languages)
		if err != nil {
			return "", err
		}
		colArg := joinInts(cols)
		return fmt.Sprintf("%s %s sh -c %s", shellQuote(splicerPath), colArg, shellQuote(body)), nil
	default:
		return "", configErr("synthesize", fmt.Errorf("filter %q has unknown kind %q", def.Name, def.Kind))
	}
}

// SynthesizeBody returns just the bound filter command body for step,
// without the splicer wrapping a monolingual filter would otherwise get.
// Used by the sample cache's in-process splice fast path (SPEC_FULL §4.E),
// which performs the column splice itself instead of shelling out to the
// splicer binary a second time.
func (r *Registry) SynthesizeBody(step Step, def Definition) (string, error) {
	bound, err := BindStep(step, def)
	if err != nil {
		return "", err
	}
	return synthesizeBody(def, bound)
}

// synthesizeBody builds the "name=value; ... <command>" shell text for a
// bound step, without any splicer wrapping.
func synthesizeBody(def Definition, bound BoundStep) (string, error) {
	var sb strings.Builder

	needsYAML := strings.Contains(def.Command, parametersPlaceholder)
	hasStructured := false

	for _, name := range def.ParamOrder {
		v := bound.Values[name]
		switch v.Kind {
		case KindList, KindTuple:
			hasStructured = true
			continue
		default:
			exported, err := v.Export()
			if err != nil {
				return "", configErr("synthesize", err)
			}
			fmt.Fprintf(&sb, "%s=%s; ", name, shellQuote(exported))
		}
	}

	if hasStructured && !needsYAML {
		return "", configErr("synthesize", fmt.Errorf("filter %q has list/tuple parameters but its command template does not reference %s", def.Name, parametersPlaceholder))
	}

	if needsYAML {
		yamlBlob, err := marshalParametersYAML(bound)
		if err != nil {
			return "", configErr("synthesize", err)
		}
		fmt.Fprintf(&sb, "%s=%s; ", parametersPlaceholder, shellQuote(yamlBlob))
	}

	sb.WriteString(def.Command)
	return sb.String(), nil
}

func marshalParametersYAML(bound BoundStep) (string, error) {
	m := make(map[string]interface{}, len(bound.Values)+len(bound.Unknown))
	for name, v := range bound.Values {
		m[name] = v.YAMLValue()
	}
	for name, raw := range bound.Unknown {
		m[name] = raw
	}
	out, err := yaml.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode parameters as YAML: %w", err)
	}
	return string(out), nil
}

// ColumnIndexes looks up each requested language token in the ordered
// column list, failing with a ConfigError if any token is absent
// (spec.md §4.A error conditions: "missing language token in the column
// list").
func ColumnIndexes(tokens, languages []string) ([]int, error) {
	idx := make(map[string]int, len(languages))
	for i, lang := range languages {
		idx[lang] = i
	}
	out := make([]int, 0, len(tokens))
	for _, t := range tokens {
		i, ok := idx[t]
		if !ok {
			return nil, configErr("synthesize", fmt.Errorf("language %q not found among columns %v", t, languages))
		}
		out = append(out, i)
	}
	return out, nil
}

func joinInts(xs []int) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = strconv.Itoa(x)
	}
	return strings.Join(parts, ",")
}

// shellQuote wraps s in single quotes for POSIX shells, escaping any
// embedded single quote as '\'' (close quote, escaped quote, reopen
// quote) — the standard idiom; no library in the reference corpus
// supplies this, and it is two lines of stdlib string manipulation.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
