package baseline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/openresale/harrier/internal/domain"
)

// HydrationSummary reports a rule-set hydration run. Individual rule
// failures never abort the batch; they are counted and logged.
type HydrationSummary struct {
	RuleSetID string `json:"ruleSetId"`
	Hydrated  int    `json:"hydrated"`
	Skipped   int    `json:"skipped"`
	Failed    int    `json:"failed"`
}

// HydrateRuleSet expands every placeholder rule in the rule-set into
// concrete, independently editable rules, deactivating each placeholder.
//
// Idempotent: a placeholder whose expansion already exists (detected via
// the source-rule provenance reference) is skipped, never duplicated.
func (s *Service) HydrateRuleSet(ctx context.Context, rulesetID string) (*HydrationSummary, error) {
	lock := s.lockFor(rulesetID)
	lock.Lock()
	defer lock.Unlock()

	rs, err := s.repo.GetRuleSet(ctx, rulesetID)
	if err != nil {
		return nil, err
	}

	summary := &HydrationSummary{RuleSetID: rulesetID}

	for _, group := range rs.Groups {
		for _, rule := range group.Rules {
			spec, err := domain.ParseHydrationSpec(rule.Metadata)
			if errors.Is(err, domain.ErrNotPlaceholder) {
				continue
			}
			if err != nil {
				summary.Failed++
				slog.Warn("placeholder has malformed hydration metadata",
					"rule_id", rule.ID,
					"rule_name", rule.Name,
					"error", err,
				)
				continue
			}

			expanded, err := s.repo.RulesBySource(ctx, rule.ID)
			if err != nil {
				return nil, err
			}
			if len(expanded) > 0 {
				summary.Skipped++
				continue
			}

			if err := s.hydrateRule(ctx, rule, spec); err != nil {
				summary.Failed++
				slog.Warn("hydration failed",
					"rule_id", rule.ID,
					"rule_name", rule.Name,
					"strategy", spec.Strategy,
					"error", err,
				)
				continue
			}
			summary.Hydrated++
		}
	}

	slog.Info("rule-set hydrated",
		"ruleset_id", rulesetID,
		"hydrated", summary.Hydrated,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
	)

	return summary, nil
}

// hydrateRule expands one placeholder and deactivates it.
func (s *Service) hydrateRule(ctx context.Context, placeholder *domain.Rule, spec *domain.HydrationSpec) error {
	rules, err := s.expand(placeholder, spec)
	if err != nil {
		return err
	}

	for _, rule := range rules {
		if err := s.repo.SaveRuleSystem(ctx, rule); err != nil {
			return err
		}
	}

	return s.repo.DeactivateRule(ctx, placeholder.ID)
}

// expand builds the concrete rules for a placeholder's strategy.
func (s *Service) expand(placeholder *domain.Rule, spec *domain.HydrationSpec) ([]*domain.Rule, error) {
	now := time.Now().UTC()

	newRule := func(name string) *domain.Rule {
		return &domain.Rule{
			ID:           uuid.New().String(),
			GroupID:      placeholder.GroupID,
			Name:         name,
			Active:       true,
			SourceRuleID: placeholder.ID,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
	}

	switch spec.Strategy {
	case domain.StrategyEnumMultiplier:
		// One rule per bucket. A 1.0 multiplier still produces a rule
		// (it matches with a zero contribution) unless explicitly
		// excluded.
		var rules []*domain.Rule
		for _, bucket := range spec.Buckets {
			if bucket.Excluded {
				continue
			}
			rule := newRule(fmt.Sprintf("%s: %s", placeholder.Name, bucket.Value))
			rule.Condition = &domain.Condition{
				Field: spec.Field,
				Op:    domain.OpEq,
				Value: bucket.Value,
			}
			rule.Actions = []domain.Action{{
				Target: domain.TargetPriceAdjustment,
				Kind:   domain.ActionPercent,
				Value:  (bucket.Multiplier - 1.0) * 100.0,
			}}
			rules = append(rules, rule)
		}
		if len(rules) == 0 {
			return nil, fmt.Errorf("enum_multiplier: every bucket excluded")
		}
		return rules, nil

	case domain.StrategyFormula:
		if err := s.formulas.Validate(spec.Formula); err != nil {
			return nil, err
		}
		rule := newRule(placeholder.Name)
		// No condition: the formula rule always applies.
		rule.Actions = []domain.Action{{
			Target:  domain.TargetPriceAdjustment,
			Kind:    domain.ActionFormula,
			Formula: spec.Formula,
		}}
		return []*domain.Rule{rule}, nil

	case domain.StrategyFixedValue:
		rule := newRule(placeholder.Name)
		rule.Actions = []domain.Action{{
			Target: domain.TargetPriceAdjustment,
			Kind:   domain.ActionFixed,
			Value:  spec.Value,
		}}
		return []*domain.Rule{rule}, nil

	default:
		return nil, fmt.Errorf("unknown hydration strategy %q", spec.Strategy)
	}
}
