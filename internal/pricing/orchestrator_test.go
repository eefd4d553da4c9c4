package pricing

import (
	"context"
	"testing"

	"github.com/openresale/harrier/internal/domain"
	"github.com/openresale/harrier/internal/formula"
	"github.com/openresale/harrier/internal/rules"
)

func newOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	formulas, err := formula.NewEvaluator()
	if err != nil {
		t.Fatalf("failed to create formula evaluator: %v", err)
	}
	return NewOrchestrator(rules.NewEvaluator(formulas))
}

func fixedRule(id, name string, value float64) *domain.Rule {
	return &domain.Rule{
		ID:     id,
		Name:   name,
		Active: true,
		Actions: []domain.Action{
			{Kind: domain.ActionFixed, Value: value},
		},
	}
}

func ruleSet(name string, priority int, baseline bool, rules ...*domain.Rule) *domain.RuleSet {
	return &domain.RuleSet{
		ID:             "rs-" + name,
		Name:           name,
		Priority:       priority,
		Active:         true,
		SystemBaseline: baseline,
		Groups: []*domain.RuleGroup{
			{ID: "g-" + name, Name: name + "-group", Rules: rules},
		},
	}
}

func listing(basePrice float64, attrs map[string]any) *domain.Listing {
	if attrs == nil {
		attrs = map[string]any{}
	}
	attrs["base_price"] = basePrice
	return &domain.Listing{
		ID:         "listing-001",
		Title:      "Test Desktop",
		BasePrice:  basePrice,
		Attributes: attrs,
	}
}

func TestEvaluateListingAdjustedPrice(t *testing.T) {
	o := newOrchestrator(t)

	snap := NewSnapshot([]*domain.RuleSet{
		ruleSet("baseline", 5, true,
			fixedRule("r1", "ram bonus", 75),
			fixedRule("r2", "age deduction", -30),
		),
	}, domain.DefaultLayerThresholds())

	val := o.EvaluateListing(context.Background(), snap, listing(500, nil))

	if val.BasePrice != 500 {
		t.Errorf("base price = %v, want 500", val.BasePrice)
	}
	if val.AdjustedPrice != 545 {
		t.Errorf("adjusted price = %v, want 545", val.AdjustedPrice)
	}
	if val.RulesApplied != 2 {
		t.Errorf("rules applied = %d, want 2", val.RulesApplied)
	}
}

func TestEvaluateListingLayerClassification(t *testing.T) {
	o := newOrchestrator(t)

	snap := NewSnapshot([]*domain.RuleSet{
		ruleSet("advanced", 20, false, fixedRule("r3", "niche", 5)),
		ruleSet("stock", 5, true, fixedRule("r1", "stock", 10)),
		ruleSet("shop", 8, false, fixedRule("r2", "shop", -5)),
	}, domain.DefaultLayerThresholds())

	val := o.EvaluateListing(context.Background(), snap, listing(100, nil))

	if len(val.Layers) != 3 {
		t.Fatalf("expected 3 layers, got %d", len(val.Layers))
	}

	// Evaluation order follows ascending priority.
	wantOrder := []struct {
		name  string
		layer string
	}{
		{"stock", domain.LayerBaseline},
		{"shop", domain.LayerBasic},
		{"advanced", domain.LayerAdvanced},
	}
	for i, want := range wantOrder {
		if val.Layers[i].RuleSetName != want.name {
			t.Errorf("layer %d = %q, want %q", i, val.Layers[i].RuleSetName, want.name)
		}
		if val.Layers[i].Layer != want.layer {
			t.Errorf("layer %d classified %q, want %q", i, val.Layers[i].Layer, want.layer)
		}
	}

	if val.AdjustedPrice != 110 {
		t.Errorf("adjusted price = %v, want 110", val.AdjustedPrice)
	}
}

func TestEvaluateListingMatchedZeroCounts(t *testing.T) {
	o := newOrchestrator(t)

	zero := &domain.Rule{
		ID:     "rz",
		Name:   "net zero",
		Active: true,
		Actions: []domain.Action{
			{Kind: domain.ActionFixed, Value: 10},
			{Kind: domain.ActionFixed, Value: -10},
		},
	}
	snap := NewSnapshot([]*domain.RuleSet{
		ruleSet("baseline", 5, true, zero),
	}, domain.DefaultLayerThresholds())

	val := o.EvaluateListing(context.Background(), snap, listing(100, nil))

	if val.RulesApplied != 1 {
		t.Errorf("rules applied = %d, want 1 (matched-zero counts)", val.RulesApplied)
	}
	if val.AdjustedPrice != 100 {
		t.Errorf("adjusted price = %v, want 100", val.AdjustedPrice)
	}
}

func TestEvaluateListingInactiveRulesExcluded(t *testing.T) {
	o := newOrchestrator(t)

	inactive := fixedRule("ri", "disabled", 1000)
	inactive.Active = false

	snap := NewSnapshot([]*domain.RuleSet{
		ruleSet("baseline", 5, true, inactive, fixedRule("r1", "live", 10)),
	}, domain.DefaultLayerThresholds())

	val := o.EvaluateListing(context.Background(), snap, listing(100, nil))

	if val.AdjustedPrice != 110 {
		t.Errorf("adjusted price = %v, want 110", val.AdjustedPrice)
	}
	if val.Metadata.RulesEvaluated != 1 {
		t.Errorf("rules evaluated = %d, want 1", val.Metadata.RulesEvaluated)
	}
}

func TestEvaluateListingFailedRuleRecorded(t *testing.T) {
	o := newOrchestrator(t)

	broken := &domain.Rule{
		ID:     "rb",
		Name:   "broken",
		Active: true,
		Actions: []domain.Action{
			{Kind: domain.ActionFormula, Formula: "base_price / 0.0"},
		},
	}
	snap := NewSnapshot([]*domain.RuleSet{
		ruleSet("baseline", 5, true, broken, fixedRule("r1", "fine", 20)),
	}, domain.DefaultLayerThresholds())

	val := o.EvaluateListing(context.Background(), snap, listing(100, nil))

	// The broken rule is recorded and excluded; the rest still apply.
	if val.RulesFailed != 1 {
		t.Errorf("rules failed = %d, want 1", val.RulesFailed)
	}
	if len(val.Layers[0].Failed) != 1 || val.Layers[0].Failed[0].RuleID != "rb" {
		t.Error("expected failure record for the broken rule")
	}
	if val.AdjustedPrice != 120 {
		t.Errorf("adjusted price = %v, want 120", val.AdjustedPrice)
	}
}

func TestEvaluateListingIdempotent(t *testing.T) {
	o := newOrchestrator(t)

	snap := NewSnapshot([]*domain.RuleSet{
		ruleSet("baseline", 5, true, fixedRule("r1", "bonus", 33.33)),
	}, domain.DefaultLayerThresholds())

	l := listing(499.99, map[string]any{"condition": "good"})
	first := o.EvaluateListing(context.Background(), snap, l)
	second := o.EvaluateListing(context.Background(), snap, l)

	if first.AdjustedPrice != second.AdjustedPrice {
		t.Errorf("re-evaluation drifted: %v vs %v", first.AdjustedPrice, second.AdjustedPrice)
	}
}

func TestEvaluateListingTopContributors(t *testing.T) {
	o := newOrchestrator(t)

	snap := NewSnapshot([]*domain.RuleSet{
		ruleSet("baseline", 5, true,
			fixedRule("r1", "small", 5),
			fixedRule("r2", "big deduction", -80),
			fixedRule("r3", "medium", 40),
		),
	}, domain.DefaultLayerThresholds())

	val := o.EvaluateListing(context.Background(), snap, listing(300, nil))

	if len(val.TopContributors) != 3 {
		t.Fatalf("expected 3 contributors, got %d", len(val.TopContributors))
	}
	wantOrder := []string{"r2", "r3", "r1"}
	for i, want := range wantOrder {
		if val.TopContributors[i].RuleID != want {
			t.Errorf("contributor %d = %s, want %s", i, val.TopContributors[i].RuleID, want)
		}
	}
}

func TestRoundCent(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		// 0.125 and 0.375 are exact binary fractions: true half-cent
		// inputs, rounding to the even cent on each side.
		{0.125, 0.12},
		{0.375, 0.38},
		{100.004, 100.0},
		{100.006, 100.01},
		{99.999, 100.0},
		{-0.125, -0.12},
	}
	for _, tt := range tests {
		if got := RoundCent(tt.in); got != tt.want {
			t.Errorf("RoundCent(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewSnapshotFiltersInactive(t *testing.T) {
	inactive := ruleSet("off", 3, false, fixedRule("r1", "x", 1))
	inactive.Active = false

	snap := NewSnapshot([]*domain.RuleSet{
		inactive,
		ruleSet("on", 7, false, fixedRule("r2", "y", 2)),
		nil,
	}, domain.DefaultLayerThresholds())

	if len(snap.RuleSets()) != 1 {
		t.Fatalf("expected 1 rule-set, got %d", len(snap.RuleSets()))
	}
	if snap.RuleSets()[0].Name != "on" {
		t.Errorf("kept %q, want \"on\"", snap.RuleSets()[0].Name)
	}
	if snap.ActiveRules() != 1 {
		t.Errorf("active rules = %d, want 1", snap.ActiveRules())
	}
}

func TestNewSnapshotStableOrder(t *testing.T) {
	snap := NewSnapshot([]*domain.RuleSet{
		ruleSet("beta", 8, false),
		ruleSet("alpha", 8, false),
		ruleSet("stock", 5, true),
	}, domain.DefaultLayerThresholds())

	got := make([]string, 0, 3)
	for _, rs := range snap.RuleSets() {
		got = append(got, rs.Name)
	}
	want := []string{"stock", "alpha", "beta"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}
