// Package rules provides the valuation rule evaluation engine: condition
// matching, the action multiplier stack and per-rule evaluation.
package rules

import (
	"strconv"
	"strings"

	"github.com/openresale/harrier/internal/domain"
)

// Matches evaluates a condition tree against a listing's attribute bag.
// A nil condition always matches (always-applies rules). A leaf whose
// referenced field is absent evaluates to non-match rather than erroring,
// unless the operator is an explicit null check. Deterministic: identical
// inputs always yield identical output.
func Matches(cond *domain.Condition, attrs map[string]any) bool {
	if cond == nil {
		return true
	}

	// AND: short-circuit on first non-match.
	if len(cond.All) > 0 {
		for _, child := range cond.All {
			if !Matches(child, attrs) {
				return false
			}
		}
		return true
	}

	// OR: short-circuit on first match.
	if len(cond.Any) > 0 {
		for _, child := range cond.Any {
			if Matches(child, attrs) {
				return true
			}
		}
		return false
	}

	return matchLeaf(cond, attrs)
}

func matchLeaf(cond *domain.Condition, attrs map[string]any) bool {
	value, present := domain.LookupPath(attrs, cond.Field)

	switch cond.Op {
	case domain.OpIsNull:
		return !present
	case domain.OpNotNull:
		return present
	}

	if !present {
		return false
	}

	switch cond.Op {
	case domain.OpEq:
		return equal(value, cond.Value)
	case domain.OpNeq:
		return !equal(value, cond.Value)
	case domain.OpGt:
		return compareNumeric(value, cond.Value, func(a, b float64) bool { return a > b })
	case domain.OpGte:
		return compareNumeric(value, cond.Value, func(a, b float64) bool { return a >= b })
	case domain.OpLt:
		return compareNumeric(value, cond.Value, func(a, b float64) bool { return a < b })
	case domain.OpLte:
		return compareNumeric(value, cond.Value, func(a, b float64) bool { return a <= b })
	case domain.OpIn:
		return matchIn(value, cond.Value)
	case domain.OpContains:
		return matchContains(value, cond.Value)
	default:
		return false
	}
}

// equal compares with numeric coercion first, falling back to string
// comparison so "DDR5" == "DDR5" and 16 == "16" both hold. Non-scalar
// operands (maps, slices) never compare equal.
func equal(a, b any) bool {
	af, aok := domain.CoerceFloat(a)
	bf, bok := domain.CoerceFloat(b)
	if aok && bok {
		return af == bf
	}

	as, aok := stringify(a)
	bs, bok := stringify(b)
	if !aok || !bok {
		return false
	}
	return as == bs
}

func compareNumeric(a, b any, cmp func(a, b float64) bool) bool {
	af, aok := domain.CoerceFloat(a)
	bf, bok := domain.CoerceFloat(b)
	if !aok || !bok {
		return false
	}
	return cmp(af, bf)
}

// matchIn supports both array-provided and comma-delimited membership
// lists.
func matchIn(value any, list any) bool {
	switch items := list.(type) {
	case []any:
		for _, item := range items {
			if equal(value, item) {
				return true
			}
		}
	case []string:
		for _, item := range items {
			if equal(value, item) {
				return true
			}
		}
	case string:
		for _, item := range strings.Split(items, ",") {
			if equal(value, strings.TrimSpace(item)) {
				return true
			}
		}
	}
	return false
}

func matchContains(value any, needle any) bool {
	vs, ok := value.(string)
	if !ok {
		return false
	}
	ns, ok := stringify(needle)
	if !ok {
		return false
	}
	return strings.Contains(strings.ToLower(vs), strings.ToLower(ns))
}

// stringify renders scalars for comparison; non-scalar values report
// not-ok.
func stringify(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case bool:
		if s {
			return "true", true
		}
		return "false", true
	default:
		if f, ok := domain.CoerceFloat(v); ok {
			return strconv.FormatFloat(f, 'f', -1, 64), true
		}
		return "", false
	}
}
