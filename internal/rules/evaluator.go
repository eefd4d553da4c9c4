package rules

import (
	"fmt"

	"github.com/openresale/harrier/internal/domain"
	"github.com/openresale/harrier/internal/formula"
)

// Evaluator evaluates single rules against listings. Safe for concurrent
// use: it holds no per-evaluation state beyond the shared compiled-formula
// cache.
type Evaluator struct {
	formulas *formula.Evaluator
}

// NewEvaluator creates a rule evaluator sharing one formula cache.
func NewEvaluator(formulas *formula.Evaluator) *Evaluator {
	return &Evaluator{formulas: formulas}
}

// Evaluate matches the rule's condition and, on match, runs every action
// through the multiplier stack, summing contributions.
//
// A rule that matches but nets to zero still reports Matched=true with a
// zero adjustment; the "rules applied" count must equal the matched count,
// not the non-zero count. Action evaluation errors fail the whole rule:
// the caller excludes it from the breakdown and continues.
func (e *Evaluator) Evaluate(rule *domain.Rule, listing *domain.Listing) (domain.RuleResult, error) {
	result := domain.RuleResult{
		RuleID:   rule.ID,
		RuleName: rule.Name,
	}

	if !Matches(rule.Condition, listing.Attributes) {
		return result, nil
	}
	result.Matched = true

	for _, action := range rule.Actions {
		ar, err := e.evaluateAction(action, listing)
		if err != nil {
			return domain.RuleResult{RuleID: rule.ID, RuleName: rule.Name}, err
		}
		result.Actions = append(result.Actions, ar)
		result.Adjustment += ar.Delta
	}

	return result, nil
}

func (e *Evaluator) evaluateAction(action domain.Action, listing *domain.Listing) (domain.ActionResult, error) {
	target := action.Target
	if target == "" {
		target = domain.TargetPriceAdjustment
	}

	var base float64
	switch action.Kind {
	case domain.ActionFixed:
		base = action.Value
	case domain.ActionPercent:
		base = listing.BasePrice * action.Value / 100.0
	case domain.ActionFormula:
		v, err := e.formulas.Evaluate(action.Formula, listing.Attributes)
		if err != nil {
			return domain.ActionResult{}, err
		}
		base = v
	default:
		return domain.ActionResult{}, fmt.Errorf("unknown action kind %q", action.Kind)
	}

	delta, factor := ApplyModifiers(base, action.Modifiers, listing.Attributes)

	return domain.ActionResult{
		Target: target,
		Kind:   action.Kind,
		Base:   base,
		Factor: factor,
		Delta:  delta,
	}, nil
}
