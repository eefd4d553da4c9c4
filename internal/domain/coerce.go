package domain

import "strconv"

// CoerceFloat converts compatible numeric types (and numeric strings) to
// float64. Condition comparisons and formula bindings share this so a
// rule authored against "16" still matches an attribute stored as 16.
func CoerceFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
