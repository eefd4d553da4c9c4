// Package pricing implements the multi-layer valuation orchestrator.
// It evaluates a listing against an immutable snapshot of active rule-sets
// and produces the adjusted price plus the layered breakdown.
package pricing

import (
	"sort"

	"github.com/openresale/harrier/internal/domain"
)

// Snapshot is an immutable view of the active rule-sets, captured once
// per evaluation or batch. Passing the snapshot explicitly (instead of
// reading "whatever is active in storage") keeps concurrent evaluations
// against different rule populations deterministic.
type Snapshot struct {
	ruleSets   []*domain.RuleSet
	thresholds domain.LayerThresholds
}

// NewSnapshot captures the given rule-sets sorted by ascending priority.
// Ties are broken by name so evaluation order is stable.
func NewSnapshot(ruleSets []*domain.RuleSet, thresholds domain.LayerThresholds) *Snapshot {
	sorted := make([]*domain.RuleSet, 0, len(ruleSets))
	for _, rs := range ruleSets {
		if rs != nil && rs.Active {
			sorted = append(sorted, rs)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Priority != sorted[j].Priority {
			return sorted[i].Priority < sorted[j].Priority
		}
		return sorted[i].Name < sorted[j].Name
	})
	return &Snapshot{ruleSets: sorted, thresholds: thresholds}
}

// RuleSets returns the snapshot's rule-sets in evaluation order.
func (s *Snapshot) RuleSets() []*domain.RuleSet {
	return s.ruleSets
}

// Thresholds returns the layer classification boundaries.
func (s *Snapshot) Thresholds() domain.LayerThresholds {
	return s.thresholds
}

// ActiveRules counts active rules across the snapshot.
func (s *Snapshot) ActiveRules() int {
	n := 0
	for _, rs := range s.ruleSets {
		for _, g := range rs.Groups {
			for _, r := range g.Rules {
				if r.Active {
					n++
				}
			}
		}
	}
	return n
}
