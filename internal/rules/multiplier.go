package rules

import (
	"github.com/openresale/harrier/internal/domain"
)

// ApplyModifiers runs the multiplier stack over a base adjustment and
// returns the final delta plus the combined factor.
//
// Stage order is fixed: field -> condition -> age -> brand. Multipliers
// compose multiplicatively; each stage defaults to 1.0 when its key is
// absent from the listing or the modifiers bag. The result is clamped to
// the configured min/max bounds last.
func ApplyModifiers(base float64, mods *domain.Modifiers, attrs map[string]any) (delta float64, factor float64) {
	factor = 1.0
	if mods == nil {
		return base, factor
	}

	factor *= fieldFactor(mods.Field, attrs)
	factor *= conditionFactor(mods.Condition, attrs)
	factor *= ageFactor(mods.Age, attrs)
	factor *= brandFactor(mods.Brand, attrs)

	delta = base * factor

	if mods.Min != nil && delta < *mods.Min {
		delta = *mods.Min
	}
	if mods.Max != nil && delta > *mods.Max {
		delta = *mods.Max
	}

	return delta, factor
}

func fieldFactor(m *domain.FieldMultiplier, attrs map[string]any) float64 {
	if m == nil || m.Field == "" {
		return 1.0
	}
	value, ok := domain.LookupPath(attrs, m.Field)
	if !ok {
		return 1.0
	}
	key, ok := stringify(value)
	if !ok {
		return 1.0
	}
	if f, ok := m.Factors[key]; ok {
		return f
	}
	return 1.0
}

func conditionFactor(m *domain.ConditionMultiplier, attrs map[string]any) float64 {
	if m == nil || m.When == nil {
		return 1.0
	}
	if Matches(m.When, attrs) {
		return m.Factor
	}
	return 1.0
}

func ageFactor(m *domain.AgeMultiplier, attrs map[string]any) float64 {
	if m == nil || m.Field == "" || len(m.Bands) == 0 {
		return 1.0
	}
	raw, ok := domain.LookupPath(attrs, m.Field)
	if !ok {
		return 1.0
	}
	age, ok := domain.CoerceFloat(raw)
	if !ok {
		return 1.0
	}
	for _, band := range m.Bands {
		if band.MaxAge == nil || age <= *band.MaxAge {
			return band.Factor
		}
	}
	// Older than every bounded band: the last band's factor applies.
	return m.Bands[len(m.Bands)-1].Factor
}

func brandFactor(m *domain.BrandMultiplier, attrs map[string]any) float64 {
	if m == nil {
		return 1.0
	}
	field := m.Field
	if field == "" {
		field = "manufacturer"
	}
	value, ok := domain.LookupPath(attrs, field)
	if !ok {
		return 1.0
	}
	key, ok := stringify(value)
	if !ok {
		return 1.0
	}
	if f, ok := m.Factors[key]; ok {
		return f
	}
	return 1.0
}
