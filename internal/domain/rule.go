package domain

import "time"

// Layer labels assigned to rule-sets by priority threshold.
const (
	LayerBaseline = "baseline"
	LayerBasic    = "basic"
	LayerAdvanced = "advanced"
)

// RuleSet is a named, versioned container of rule groups.
// Lower priority evaluates earlier. Rule-sets are never mutated once rules
// have been evaluated against production data; corrections create a new
// version and deactivate the prior one.
type RuleSet struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Version  string `json:"version"`
	Priority int    `json:"priority"`
	Active   bool   `json:"active"`

	// SystemBaseline marks the rule-set as the system baseline regardless
	// of its priority.
	SystemBaseline bool `json:"systemBaseline"`

	// SourceHash is the SHA-256 of the declarative document this rule-set
	// was ingested from, used to make repeated ingestion idempotent.
	SourceHash string `json:"sourceHash,omitempty"`

	Groups []*RuleGroup `json:"groups,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Layer classifies the rule-set given the configured thresholds.
func (rs *RuleSet) Layer(t LayerThresholds) string {
	if rs.SystemBaseline || rs.Priority <= t.BaselineMaxPriority {
		return LayerBaseline
	}
	if rs.Priority <= t.BasicMaxPriority {
		return LayerBasic
	}
	return LayerAdvanced
}

// RuleGroup groups rules by target entity within one rule-set.
type RuleGroup struct {
	ID        string `json:"id"`
	RuleSetID string `json:"ruleSetId"`
	Name      string `json:"name"`

	// Entity is the target entity key: "listing", "cpu", "gpu", "ram",
	// "storage", "ports".
	Entity string `json:"entity"`

	// BasicManaged groups reject direct rule edits through the user write
	// path; only system code paths (hydration, adoption) may write.
	BasicManaged bool `json:"basicManaged"`

	Metadata map[string]any `json:"metadata,omitempty"`

	Rules []*Rule `json:"rules,omitempty"`
}

// Rule is a single valuation rule: a condition tree plus one or more
// price-adjustment actions.
type Rule struct {
	ID          string `json:"id"`
	GroupID     string `json:"groupId"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Active      bool   `json:"active"`

	// Condition is nil for always-applies rules (e.g. formula rules
	// produced by hydration).
	Condition *Condition `json:"condition,omitempty"`

	Actions []Action `json:"actions"`

	// Metadata carries the hydration spec for placeholder rules.
	Metadata map[string]any `json:"metadata,omitempty"`

	// SourceRuleID links a hydration-expanded rule back to its placeholder.
	// Weak reference: the placeholder may be deactivated while expanded
	// rules persist independently.
	SourceRuleID string `json:"sourceRuleId,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Operator is a condition leaf comparison operator.
type Operator string

const (
	OpEq       Operator = "eq"
	OpNeq      Operator = "neq"
	OpGt       Operator = "gt"
	OpGte      Operator = "gte"
	OpLt       Operator = "lt"
	OpLte      Operator = "lte"
	OpIn       Operator = "in"
	OpContains Operator = "contains"
	OpIsNull   Operator = "is_null"
	OpNotNull  Operator = "not_null"
)

// Condition is a node in a rule's condition tree. Internal nodes set
// exactly one of All (AND) or Any (OR); leaf nodes set Field/Op/Value.
type Condition struct {
	All []*Condition `json:"all,omitempty" yaml:"all,omitempty"`
	Any []*Condition `json:"any,omitempty" yaml:"any,omitempty"`

	Field string   `json:"field,omitempty" yaml:"field,omitempty"`
	Op    Operator `json:"op,omitempty" yaml:"op,omitempty"`
	Value any      `json:"value,omitempty" yaml:"value,omitempty"`
}

// IsLeaf reports whether the node is a comparison leaf.
func (c *Condition) IsLeaf() bool {
	return len(c.All) == 0 && len(c.Any) == 0
}

// ActionKind selects how an action's base adjustment is derived.
type ActionKind string

const (
	// ActionFixed adds a fixed dollar amount.
	ActionFixed ActionKind = "fixed_value"

	// ActionPercent adds Value percent of the listing's base price.
	ActionPercent ActionKind = "percent"

	// ActionFormula evaluates Formula against the attribute bag.
	ActionFormula ActionKind = "formula"
)

// Action produces a signed dollar delta on its target output.
type Action struct {
	// Target output; "price_adjustment" is the only target currently used.
	Target string `json:"target,omitempty" yaml:"target,omitempty"`

	Kind    ActionKind `json:"kind" yaml:"kind"`
	Value   float64    `json:"value,omitempty" yaml:"value,omitempty"`
	Formula string     `json:"formula,omitempty" yaml:"formula,omitempty"`

	Modifiers *Modifiers `json:"modifiers,omitempty" yaml:"modifiers,omitempty"`
}

// TargetPriceAdjustment is the default action target.
const TargetPriceAdjustment = "price_adjustment"

// Modifiers is the ordered multiplier chain applied to an action's base
// adjustment. The stage order field -> condition -> age -> brand is a
// load-bearing invariant: changing it changes valuation outcomes
// system-wide.
type Modifiers struct {
	Field     *FieldMultiplier     `json:"field,omitempty" yaml:"field,omitempty"`
	Condition *ConditionMultiplier `json:"condition,omitempty" yaml:"condition,omitempty"`
	Age       *AgeMultiplier       `json:"age,omitempty" yaml:"age,omitempty"`
	Brand     *BrandMultiplier     `json:"brand,omitempty" yaml:"brand,omitempty"`

	// Clamp bounds on the final delta, applied after all stages.
	Min *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max *float64 `json:"max,omitempty" yaml:"max,omitempty"`
}

// FieldMultiplier scales by a factor keyed on the value of a listing field
// (e.g. RAM generation). Missing field or unkeyed value means factor 1.0.
type FieldMultiplier struct {
	Field   string             `json:"field" yaml:"field"`
	Factors map[string]float64 `json:"factors" yaml:"factors"`
}

// ConditionMultiplier scales by Factor when the sub-condition matches.
type ConditionMultiplier struct {
	When   *Condition `json:"when" yaml:"when"`
	Factor float64    `json:"factor" yaml:"factor"`
}

// AgeMultiplier scales by a banded factor on an age attribute (e.g.
// "cpu.age_years"). Age is read from the attribute bag, never from the
// wall clock, so evaluation stays deterministic.
type AgeMultiplier struct {
	Field string    `json:"field" yaml:"field"`
	Bands []AgeBand `json:"bands" yaml:"bands"`
}

// AgeBand maps an age range to a factor. Bands are evaluated in order;
// the first band whose MaxAge is nil or >= the age wins.
type AgeBand struct {
	MaxAge *float64 `json:"maxAge,omitempty" yaml:"max_age,omitempty"`
	Factor float64  `json:"factor" yaml:"factor"`
}

// BrandMultiplier scales by a factor keyed on a manufacturer field.
type BrandMultiplier struct {
	Field   string             `json:"field" yaml:"field"`
	Factors map[string]float64 `json:"factors" yaml:"factors"`
}
