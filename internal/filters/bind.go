package filters

import "fmt"

// BoundStep is a Step whose parameters have all been validated against
// its Definition: missing parameters filled with defaults, unknown
// parameters preserved, both classes reported as warnings (spec.md §3:
// "Missing parameters are filled with defaults and a warning; unknown
// parameters are preserved but warned about").
type BoundStep struct {
	Def        Definition
	Values     map[string]Value
	Unknown    map[string]interface{}
	Warnings   []string
}

// BindStep validates step.Parameters against def, the filter definition
// step.Filter resolves to.
func BindStep(step Step, def Definition) (BoundStep, error) {
	bound := BoundStep{
		Def:     def,
		Values:  map[string]Value{},
		Unknown: map[string]interface{}{},
	}

	if err := validateLanguageInvariant(step, def); err != nil {
		return BoundStep{}, err
	}

	for name, schema := range def.Parameters {
		raw, present := step.Parameters[name]
		if !present {
			def, err := schema.DefaultFactory()
			if err != nil {
				return BoundStep{}, configErr("bind", fmt.Errorf("parameter %q has no value and no default", name))
			}
			bound.Values[name] = def
			bound.Warnings = append(bound.Warnings, fmt.Sprintf("parameter %q missing, using default", name))
			continue
		}
		v, err := schema.Bind(raw)
		if err != nil {
			return BoundStep{}, configErr("bind", fmt.Errorf("parameter %q: %w", name, err))
		}
		bound.Values[name] = v
	}

	for name, raw := range step.Parameters {
		if _, known := def.Parameters[name]; !known {
			bound.Unknown[name] = raw
			bound.Warnings = append(bound.Warnings, fmt.Sprintf("parameter %q is not recognised by filter %q, passing through", name, def.Name))
		}
	}

	return bound, nil
}

// validateLanguageInvariant enforces spec.md §3's invariant:
// kind=bilingual ⇒ language is absent; kind=monolingual ⇒ language is
// present and non-empty.
func validateLanguageInvariant(step Step, def Definition) error {
	switch def.Kind {
	case Bilingual:
		if step.Language != "" {
			return configErr("validate", fmt.Errorf("filter %q is bilingual but step specifies language %q", def.Name, step.Language))
		}
	case Monolingual:
		if step.Language == "" {
			return configErr("validate", fmt.Errorf("filter %q is monolingual but step has no language", def.Name))
		}
	default:
		return configErr("validate", fmt.Errorf("filter %q has unknown kind %q", def.Name, def.Kind))
	}
	return nil
}
