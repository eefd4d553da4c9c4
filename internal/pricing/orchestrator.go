package pricing

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/openresale/harrier/internal/domain"
	"github.com/openresale/harrier/internal/rules"
)

// EngineVersion is recorded in every valuation's metadata.
const EngineVersion = "harrier-1.0"

// Orchestrator evaluates listings through every layer of a rule-set
// snapshot. Evaluation is synchronous, single-threaded and side-effect
// free: it reads the snapshot and the listing, returns a valuation, and
// persists nothing.
type Orchestrator struct {
	evaluator *rules.Evaluator
}

// NewOrchestrator creates a valuation orchestrator.
func NewOrchestrator(evaluator *rules.Evaluator) *Orchestrator {
	return &Orchestrator{evaluator: evaluator}
}

// EvaluateListing runs the listing through every active rule-set in
// priority order and returns the adjusted price with the layered
// breakdown.
//
// adjusted_price = base_price + sum of every matched rule's adjustment,
// rounded half-even to the cent. Evaluation order is preserved in the
// breakdown for audit; the numeric total is order-independent.
func (o *Orchestrator) EvaluateListing(ctx context.Context, snap *Snapshot, listing *domain.Listing) *domain.Valuation {
	start := time.Now()

	val := &domain.Valuation{
		ID:        uuid.New().String(),
		ListingID: listing.ID,
		Timestamp: time.Now().UTC(),
		BasePrice: listing.BasePrice,
	}

	var total float64
	rulesEvaluated := 0

	for _, rs := range snap.RuleSets() {
		layer := domain.LayerResult{
			Layer:       rs.Layer(snap.Thresholds()),
			RuleSetID:   rs.ID,
			RuleSetName: rs.Name,
			Priority:    rs.Priority,
			Rules:       []domain.RuleResult{},
		}

		for _, group := range rs.Groups {
			for _, rule := range group.Rules {
				// Inactive rules are excluded entirely, not zeroed.
				if !rule.Active {
					continue
				}
				rulesEvaluated++

				result, err := o.evaluator.Evaluate(rule, listing)
				if err != nil {
					layer.Failed = append(layer.Failed, domain.RuleFailure{
						RuleID:   rule.ID,
						RuleName: rule.Name,
						Reason:   err.Error(),
					})
					val.RulesFailed++
					slog.Debug("rule evaluation failed",
						"rule_id", rule.ID,
						"listing_id", listing.ID,
						"error", err,
					)
					continue
				}

				layer.Rules = append(layer.Rules, result)
				if result.Matched {
					val.RulesApplied++
					total += result.Adjustment
				}
			}
		}

		val.Layers = append(val.Layers, layer)
	}

	val.AdjustedPrice = RoundCent(listing.BasePrice + total)
	val.TopContributors = topContributors(val)

	val.Metadata = domain.ValuationMetadata{
		RuleSetsEvaluated: len(snap.RuleSets()),
		RulesEvaluated:    rulesEvaluated,
		ProcessMs:         time.Since(start).Milliseconds(),
		EngineVersion:     EngineVersion,
	}

	return val
}

// topContributors flattens matched rules across layers, sorted by
// descending absolute adjustment, ties broken by rule name ascending.
func topContributors(val *domain.Valuation) []domain.RuleResult {
	matched := val.MatchedRules()
	sort.SliceStable(matched, func(i, j int) bool {
		ai, aj := math.Abs(matched[i].Adjustment), math.Abs(matched[j].Adjustment)
		if ai != aj {
			return ai > aj
		}
		return matched[i].RuleName < matched[j].RuleName
	})
	return matched
}

// RoundCent rounds to the cent using round-half-even, so fractional
// adjustments summed across many rules don't drift with rule count.
func RoundCent(x float64) float64 {
	return math.RoundToEven(x*100) / 100
}
