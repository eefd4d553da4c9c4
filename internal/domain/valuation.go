package domain

import (
	"time"
)

// Valuation is the complete evaluation result for one listing against one
// rule-set snapshot. The layered breakdown shape (layer -> rule-set ->
// rules[]) is a stable contract consumed by the valuation UI; reshaping it
// is a breaking change.
type Valuation struct {
	ID        string    `json:"id"`
	ListingID string    `json:"listingId"`
	Timestamp time.Time `json:"timestamp"`

	BasePrice     float64 `json:"basePrice"`
	AdjustedPrice float64 `json:"adjustedPrice"`

	// Layers preserves rule-set evaluation order (ascending priority).
	Layers []LayerResult `json:"layers"`

	// TopContributors is the flattened view of all matched rules across
	// layers, sorted by descending absolute adjustment, ties broken by
	// rule name ascending.
	TopContributors []RuleResult `json:"topContributors,omitempty"`

	// RulesApplied counts matched rules, including zero-contribution
	// matches. RulesFailed counts rules excluded due to evaluation errors.
	RulesApplied int `json:"rulesApplied"`
	RulesFailed  int `json:"rulesFailed"`

	Metadata ValuationMetadata `json:"metadata"`
}

// LayerResult is one rule-set's contribution to the breakdown.
type LayerResult struct {
	Layer       string `json:"layer"` // baseline, basic, advanced
	RuleSetID   string `json:"ruleSetId"`
	RuleSetName string `json:"ruleSetName"`
	Priority    int    `json:"priority"`

	// Rules lists every active rule in evaluation order, matched or not.
	Rules []RuleResult `json:"rules"`

	// Failed lists rules excluded from the breakdown due to evaluation
	// errors (malformed formula, unresolved variable).
	Failed []RuleFailure `json:"failed,omitempty"`
}

// RuleResult is the per-rule outcome. A rule that matched but contributed
// zero still appears with Matched=true and Adjustment=0.
type RuleResult struct {
	RuleID     string         `json:"ruleId"`
	RuleName   string         `json:"ruleName"`
	Matched    bool           `json:"matched"`
	Adjustment float64        `json:"adjustment"`
	Actions    []ActionResult `json:"actions,omitempty"`
}

// ActionResult records how one action arrived at its delta.
type ActionResult struct {
	Target string     `json:"target"`
	Kind   ActionKind `json:"kind"`

	// Base is the pre-multiplier adjustment; Factor the combined
	// multiplier; Delta the final clamped contribution.
	Base   float64 `json:"base"`
	Factor float64 `json:"factor"`
	Delta  float64 `json:"delta"`
}

// RuleFailure flags a rule whose evaluation errored.
type RuleFailure struct {
	RuleID   string `json:"ruleId"`
	RuleName string `json:"ruleName"`
	Reason   string `json:"reason"`
}

// ValuationMetadata contains processing information.
type ValuationMetadata struct {
	TraceID           string `json:"traceId,omitempty"`
	RuleSetsEvaluated int    `json:"ruleSetsEvaluated"`
	RulesEvaluated    int    `json:"rulesEvaluated"`
	ProcessMs         int64  `json:"processMs"`
	EngineVersion     string `json:"engineVersion"`
}

// MatchedRules returns all matched rule results across layers in
// evaluation order.
func (v *Valuation) MatchedRules() []RuleResult {
	var matched []RuleResult
	for _, layer := range v.Layers {
		for _, r := range layer.Rules {
			if r.Matched {
				matched = append(matched, r)
			}
		}
	}
	return matched
}
