package baseline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openresale/harrier/internal/domain"
	"github.com/openresale/harrier/internal/formula"
)

var (
	// ErrInvalidDocument flags a malformed declarative document.
	ErrInvalidDocument = errors.New("invalid baseline document")

	// ErrInvalidPriority flags a baseline document declaring a priority
	// above the baseline threshold.
	ErrInvalidPriority = errors.New("baseline priority above threshold")

	// ErrNoBaseline is returned when no active baseline exists.
	ErrNoBaseline = errors.New("no active baseline")
)

// Service manages the baseline lifecycle: ingestion, hydration and
// diff/adopt. Mutating operations are serialized per rule-set.
type Service struct {
	repo       domain.Repository
	formulas   *formula.Evaluator
	thresholds domain.LayerThresholds

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewService creates a baseline service.
func NewService(repo domain.Repository, formulas *formula.Evaluator, thresholds domain.LayerThresholds) *Service {
	return &Service{
		repo:       repo,
		formulas:   formulas,
		thresholds: thresholds,
		locks:      make(map[string]*sync.Mutex),
	}
}

// lockFor returns the per-rule-set mutex, creating it on first use.
// Concurrent hydration or adoption on the same rule-set must be mutually
// exclusive to avoid double-expansion.
func (s *Service) lockFor(rulesetID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[rulesetID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[rulesetID] = lock
	}
	return lock
}

// ActiveBaseline returns the currently active system baseline rule-set.
func (s *Service) ActiveBaseline(ctx context.Context) (*domain.RuleSet, error) {
	rs, err := s.repo.ActiveBaseline(ctx, s.thresholds.BaselineMaxPriority)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, ErrNoBaseline
	}
	if err != nil {
		return nil, err
	}
	return rs, nil
}

// Instantiate ingests a declarative baseline document, creating a new
// versioned baseline rule-set of placeholder rules. Idempotent: an
// identical-hash document returns the existing rule-set with created
// false and never creates a second version.
func (s *Service) Instantiate(ctx context.Context, raw []byte) (*domain.RuleSet, bool, error) {
	doc, err := ParseDocument(raw)
	if err != nil {
		return nil, false, err
	}

	if doc.Priority > s.thresholds.BaselineMaxPriority {
		return nil, false, fmt.Errorf("%w: priority %d > %d", ErrInvalidPriority, doc.Priority, s.thresholds.BaselineMaxPriority)
	}

	hash := Hash(raw)
	if existing, err := s.repo.FindRuleSetByHash(ctx, hash); err == nil {
		slog.Info("baseline document already ingested",
			"ruleset_id", existing.ID,
			"version", existing.Version,
			"hash", hash[:12],
		)
		return existing, false, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, false, err
	}

	rs := s.buildRuleSet(doc, hash)

	var priorID string
	if prior, err := s.repo.ActiveBaseline(ctx, s.thresholds.BaselineMaxPriority); err == nil {
		priorID = prior.ID
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, false, err
	}

	// Activating the new baseline deactivates the prior one atomically:
	// at most one active system baseline exists at any time.
	if err := s.repo.AdoptRuleSet(ctx, rs, priorID); err != nil {
		return nil, false, err
	}

	slog.Info("baseline instantiated",
		"ruleset_id", rs.ID,
		"version", rs.Version,
		"entities", len(doc.Entities),
		"prior_id", priorID,
	)

	return rs, true, nil
}

// buildRuleSet expands a document into a rule-set of placeholder rules,
// one basic-managed group per entity.
func (s *Service) buildRuleSet(doc *Document, hash string) *domain.RuleSet {
	now := time.Now().UTC()

	rs := &domain.RuleSet{
		ID:             uuid.New().String(),
		Name:           doc.Name,
		Version:        doc.VersionToken(),
		Priority:       doc.Priority,
		Active:         true,
		SystemBaseline: true,
		SourceHash:     hash,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	for _, entity := range doc.Entities {
		group := &domain.RuleGroup{
			ID:           uuid.New().String(),
			RuleSetID:    rs.ID,
			Name:         entity.Entity + " baseline",
			Entity:       entity.Entity,
			BasicManaged: true,
			Metadata:     map[string]any{"entity_key": entity.Entity},
		}

		for _, field := range entity.Fields {
			rule := &domain.Rule{
				ID:        uuid.New().String(),
				GroupID:   group.ID,
				Name:      placeholderName(field),
				Active:    true,
				Metadata:  hydrationMetadata(field),
				CreatedAt: now,
				UpdatedAt: now,
			}
			// Formula and fixed-value specs don't carry the field path;
			// record it so dehydration can rebuild the compact form.
			rule.Metadata["field_key"] = field.Field
			group.Rules = append(group.Rules, rule)
		}

		rs.Groups = append(rs.Groups, group)
	}

	return rs
}

func placeholderName(field FieldDef) string {
	if field.Name != "" {
		return field.Name
	}
	return field.Field
}
