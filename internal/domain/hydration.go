package domain

import (
	"errors"
	"fmt"
	"sort"
)

// Hydration strategies. A placeholder rule carries exactly one strategy in
// its metadata under the "hydration" key; hydration expands it into one or
// more concrete rules.
type HydrationStrategy string

const (
	StrategyEnumMultiplier HydrationStrategy = "enum_multiplier"
	StrategyFormula        HydrationStrategy = "formula"
	StrategyFixedValue     HydrationStrategy = "fixed_value"
)

// ErrNotPlaceholder is returned when a rule's metadata carries no
// hydration spec.
var ErrNotPlaceholder = errors.New("rule is not a placeholder")

// HydrationSpec is the closed, typed form of a placeholder's metadata.
// Exactly one variant is populated depending on Strategy; the spec is
// validated once at the parse boundary so the hydration service never
// works on raw metadata maps.
type HydrationSpec struct {
	Strategy HydrationStrategy

	// enum_multiplier
	Field   string
	Buckets []Bucket

	// formula
	Formula string

	// fixed_value
	Value float64
}

// Bucket is one enumerated value with its price multiplier. A multiplier
// of 1.0 means no adjustment; such buckets still produce a rule unless
// Excluded is set.
type Bucket struct {
	Value      string
	Multiplier float64
	Excluded   bool
}

// ParseHydrationSpec extracts and validates the hydration spec from a
// rule's metadata bag. Returns ErrNotPlaceholder when the bag carries no
// "hydration" key.
func ParseHydrationSpec(meta map[string]any) (*HydrationSpec, error) {
	raw, ok := meta["hydration"]
	if !ok {
		return nil, ErrNotPlaceholder
	}

	m, ok := toStringMap(raw)
	if !ok {
		return nil, fmt.Errorf("hydration metadata must be a map, got %T", raw)
	}

	strategy, _ := m["strategy"].(string)
	spec := &HydrationSpec{Strategy: HydrationStrategy(strategy)}

	switch spec.Strategy {
	case StrategyEnumMultiplier:
		field, _ := m["field"].(string)
		if field == "" {
			return nil, fmt.Errorf("enum_multiplier: field is required")
		}
		spec.Field = field

		buckets, ok := toStringMap(m["buckets"])
		if !ok || len(buckets) == 0 {
			return nil, fmt.Errorf("enum_multiplier: buckets map is required")
		}
		excluded := toStringSet(m["excluded"])
		for value, rawMult := range buckets {
			mult, ok := toFloat(rawMult)
			if !ok {
				return nil, fmt.Errorf("enum_multiplier: bucket %q multiplier must be numeric, got %T", value, rawMult)
			}
			spec.Buckets = append(spec.Buckets, Bucket{
				Value:      value,
				Multiplier: mult,
				Excluded:   excluded[value],
			})
		}
		// Map iteration order is random; keep expansion deterministic.
		sort.Slice(spec.Buckets, func(i, j int) bool {
			return spec.Buckets[i].Value < spec.Buckets[j].Value
		})

	case StrategyFormula:
		formula, _ := m["formula"].(string)
		if formula == "" {
			return nil, fmt.Errorf("formula: formula text is required")
		}
		spec.Formula = formula

	case StrategyFixedValue:
		// Value defaults to 0.0 when absent.
		if raw, ok := m["value"]; ok {
			v, ok := toFloat(raw)
			if !ok {
				return nil, fmt.Errorf("fixed_value: value must be numeric, got %T", raw)
			}
			spec.Value = v
		}

	default:
		return nil, fmt.Errorf("unknown hydration strategy %q", strategy)
	}

	return spec, nil
}

// toStringMap normalizes map[string]any and map[any]any (yaml.v3 decodes
// nested maps as map[string]any, but older documents may differ).
func toStringMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			key, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[key] = val
		}
		return out, true
	default:
		return nil, false
	}
}

func toStringSet(v any) map[string]bool {
	out := make(map[string]bool)
	list, ok := v.([]any)
	if !ok {
		return out
	}
	for _, item := range list {
		if s, ok := item.(string); ok {
			out[s] = true
		}
	}
	return out
}

func toFloat(v any) (float64, bool) {
	switch v.(type) {
	case string:
		// Multipliers and values must be numeric in the document, not
		// quoted strings.
		return 0, false
	default:
		return CoerceFloat(v)
	}
}
