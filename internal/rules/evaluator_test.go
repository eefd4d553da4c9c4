package rules

import (
	"testing"

	"github.com/openresale/harrier/internal/domain"
	"github.com/openresale/harrier/internal/formula"
)

func newTestEvaluator(t *testing.T) *Evaluator {
	t.Helper()
	formulas, err := formula.NewEvaluator()
	if err != nil {
		t.Fatalf("failed to create formula evaluator: %v", err)
	}
	return NewEvaluator(formulas)
}

func testListing() *domain.Listing {
	return &domain.Listing{
		ID:        "listing-001",
		Title:     "Office Desktop",
		BasePrice: 500,
		Attributes: map[string]any{
			"base_price": 500.0,
			"condition":  "good",
			"ram": map[string]any{
				"type":        "ddr5",
				"capacity_gb": 32.0,
			},
		},
	}
}

func TestEvaluateFixedAction(t *testing.T) {
	e := newTestEvaluator(t)

	rule := &domain.Rule{
		ID:   "r1",
		Name: "DDR5 premium",
		Condition: &domain.Condition{
			Field: "ram.type", Op: domain.OpEq, Value: "ddr5",
		},
		Actions: []domain.Action{
			{Kind: domain.ActionFixed, Value: 75},
		},
	}

	result, err := e.Evaluate(rule, testListing())
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if !result.Matched {
		t.Fatal("expected rule to match")
	}
	if result.Adjustment != 75 {
		t.Errorf("adjustment = %v, want 75", result.Adjustment)
	}
	if len(result.Actions) != 1 {
		t.Fatalf("expected 1 action result, got %d", len(result.Actions))
	}
	if result.Actions[0].Target != domain.TargetPriceAdjustment {
		t.Errorf("target = %q, want default", result.Actions[0].Target)
	}
}

func TestEvaluatePercentAction(t *testing.T) {
	e := newTestEvaluator(t)

	rule := &domain.Rule{
		ID:   "r2",
		Name: "Condition deduction",
		Actions: []domain.Action{
			{Kind: domain.ActionPercent, Value: -10},
		},
	}

	result, err := e.Evaluate(rule, testListing())
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if result.Adjustment != -50 {
		t.Errorf("adjustment = %v, want -50 (10%% of 500)", result.Adjustment)
	}
}

func TestEvaluateFormulaAction(t *testing.T) {
	e := newTestEvaluator(t)

	rule := &domain.Rule{
		ID:   "r3",
		Name: "Capacity bonus",
		Actions: []domain.Action{
			{Kind: domain.ActionFormula, Formula: "clamp(ram.capacity_gb * 1.5, 0.0, 40.0)"},
		},
	}

	result, err := e.Evaluate(rule, testListing())
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if result.Adjustment != 40 {
		t.Errorf("adjustment = %v, want 40 (48 clamped)", result.Adjustment)
	}
}

func TestEvaluateNonMatchSkipsActions(t *testing.T) {
	e := newTestEvaluator(t)

	rule := &domain.Rule{
		ID:   "r4",
		Name: "Never fires",
		Condition: &domain.Condition{
			Field: "condition", Op: domain.OpEq, Value: "poor",
		},
		Actions: []domain.Action{
			{Kind: domain.ActionFixed, Value: -100},
		},
	}

	result, err := e.Evaluate(rule, testListing())
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if result.Matched {
		t.Error("expected no match")
	}
	if result.Adjustment != 0 || len(result.Actions) != 0 {
		t.Error("non-matched rule must contribute nothing")
	}
}

func TestEvaluateMatchedZeroAdjustment(t *testing.T) {
	e := newTestEvaluator(t)

	// Matched with net-zero adjustment still reports Matched=true.
	rule := &domain.Rule{
		ID:   "r5",
		Name: "Zero sum",
		Actions: []domain.Action{
			{Kind: domain.ActionFixed, Value: 10},
			{Kind: domain.ActionFixed, Value: -10},
		},
	}

	result, err := e.Evaluate(rule, testListing())
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if !result.Matched {
		t.Error("expected match")
	}
	if result.Adjustment != 0 {
		t.Errorf("adjustment = %v, want 0", result.Adjustment)
	}
}

func TestEvaluateMultipleActionsSum(t *testing.T) {
	e := newTestEvaluator(t)

	rule := &domain.Rule{
		ID:   "r6",
		Name: "Stacked",
		Actions: []domain.Action{
			{Kind: domain.ActionFixed, Value: 30},
			{Kind: domain.ActionPercent, Value: 2},
		},
	}

	result, err := e.Evaluate(rule, testListing())
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if result.Adjustment != 40 {
		t.Errorf("adjustment = %v, want 40 (30 + 2%% of 500)", result.Adjustment)
	}
}

func TestEvaluateFormulaErrorFailsRule(t *testing.T) {
	e := newTestEvaluator(t)

	rule := &domain.Rule{
		ID:   "r7",
		Name: "Broken formula",
		Actions: []domain.Action{
			{Kind: domain.ActionFixed, Value: 10},
			{Kind: domain.ActionFormula, Formula: "base_price / 0.0"},
		},
	}

	result, err := e.Evaluate(rule, testListing())
	if err == nil {
		t.Fatal("expected error from non-finite formula result")
	}
	// The whole rule fails: no partial contribution from the fixed action.
	if result.Matched || result.Adjustment != 0 {
		t.Error("failed rule must not contribute")
	}
}

func TestEvaluateUnknownActionKind(t *testing.T) {
	e := newTestEvaluator(t)

	rule := &domain.Rule{
		ID:      "r8",
		Name:    "Bad kind",
		Actions: []domain.Action{{Kind: "exponential", Value: 2}},
	}

	if _, err := e.Evaluate(rule, testListing()); err == nil {
		t.Fatal("expected error for unknown action kind")
	}
}

func TestEvaluateActionWithModifiers(t *testing.T) {
	e := newTestEvaluator(t)

	rule := &domain.Rule{
		ID:   "r9",
		Name: "Modified deduction",
		Actions: []domain.Action{
			{
				Kind:  domain.ActionFixed,
				Value: -20,
				Modifiers: &domain.Modifiers{
					Condition: &domain.ConditionMultiplier{
						When:   &domain.Condition{Field: "condition", Op: domain.OpEq, Value: "good"},
						Factor: 0.9,
					},
				},
			},
		},
	}

	result, err := e.Evaluate(rule, testListing())
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if result.Adjustment != -18 {
		t.Errorf("adjustment = %v, want -18", result.Adjustment)
	}
	if result.Actions[0].Base != -20 || result.Actions[0].Factor != 0.9 {
		t.Errorf("action result base/factor = %v/%v, want -20/0.9", result.Actions[0].Base, result.Actions[0].Factor)
	}
}
