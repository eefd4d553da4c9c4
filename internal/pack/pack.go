// Package pack serializes rule-sets to and from portable YAML documents.
// Exports are used to move pricing configurations between deployments;
// imports either mint a brand-new rule-set version or re-ingest a system
// baseline through the same idempotency gate the baseline service uses.
package pack

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/openresale/harrier/internal/baseline"
	"github.com/openresale/harrier/internal/domain"
)

const SchemaVersion = 1

// Import modes. "version" always creates a fresh rule-set; "replace" is
// reserved for baseline re-ingestion and runs the content-hash check so
// importing the same document twice is a no-op.
const (
	ModeVersion = "version"
	ModeReplace = "replace"
)

var (
	ErrInvalidDocument  = errors.New("invalid rule-set document")
	ErrInvalidMode      = errors.New("invalid import mode")
	ErrBaselineExcluded = errors.New("baseline rule-set excluded from export")
)

// Document is the portable representation of one or more rule-sets.
type Document struct {
	SchemaVersion int          `yaml:"schema_version" json:"schema_version"`
	ExportedAt    time.Time    `yaml:"exported_at,omitempty" json:"exported_at,omitempty"`
	RuleSets      []RuleSetDoc `yaml:"rule_sets" json:"rule_sets"`
}

type RuleSetDoc struct {
	Name           string     `yaml:"name" json:"name"`
	Version        string     `yaml:"version,omitempty" json:"version,omitempty"`
	Priority       int        `yaml:"priority" json:"priority"`
	SystemBaseline bool       `yaml:"system_baseline,omitempty" json:"system_baseline,omitempty"`
	Groups         []GroupDoc `yaml:"groups" json:"groups"`
}

type GroupDoc struct {
	Name         string         `yaml:"name" json:"name"`
	Entity       string         `yaml:"entity,omitempty" json:"entity,omitempty"`
	BasicManaged bool           `yaml:"basic_managed,omitempty" json:"basic_managed,omitempty"`
	Metadata     map[string]any `yaml:"metadata,omitempty" json:"metadata,omitempty"`
	Rules        []RuleDoc      `yaml:"rules" json:"rules"`
}

type RuleDoc struct {
	Name        string            `yaml:"name" json:"name"`
	Description string            `yaml:"description,omitempty" json:"description,omitempty"`
	Disabled    bool              `yaml:"disabled,omitempty" json:"disabled,omitempty"`
	Condition   *domain.Condition `yaml:"condition,omitempty" json:"condition,omitempty"`
	Actions     []domain.Action   `yaml:"actions" json:"actions"`
	Metadata    map[string]any    `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// ImportResult reports what an import produced. Created is false when the
// replace mode matched an already-ingested document by hash.
type ImportResult struct {
	RuleSetID string `json:"ruleset_id"`
	Name      string `json:"name"`
	Version   string `json:"version"`
	Created   bool   `json:"created"`
}

// Service implements export and import of rule-set documents.
type Service struct {
	repo       domain.Repository
	thresholds domain.LayerThresholds
}

func NewService(repo domain.Repository, thresholds domain.LayerThresholds) *Service {
	return &Service{repo: repo, thresholds: thresholds}
}

// Export serializes a single rule-set. Baseline-owned rule-sets are only
// exported when includeBaseline is set.
func (s *Service) Export(ctx context.Context, rulesetID string, includeBaseline bool) ([]byte, error) {
	rs, err := s.repo.GetRuleSet(ctx, rulesetID)
	if err != nil {
		return nil, err
	}
	if rs.SystemBaseline && !includeBaseline {
		return nil, fmt.Errorf("%w: %s", ErrBaselineExcluded, rs.Name)
	}
	doc := &Document{
		SchemaVersion: SchemaVersion,
		ExportedAt:    time.Now().UTC(),
		RuleSets:      []RuleSetDoc{ruleSetDoc(rs)},
	}
	return yaml.Marshal(doc)
}

// ExportAll serializes every active rule-set, skipping baseline-owned ones
// unless includeBaseline is set.
func (s *Service) ExportAll(ctx context.Context, includeBaseline bool) ([]byte, error) {
	sets, err := s.repo.ListActiveRuleSets(ctx)
	if err != nil {
		return nil, err
	}
	doc := &Document{SchemaVersion: SchemaVersion, ExportedAt: time.Now().UTC()}
	for _, rs := range sets {
		if rs.SystemBaseline && !includeBaseline {
			continue
		}
		doc.RuleSets = append(doc.RuleSets, ruleSetDoc(rs))
	}
	return yaml.Marshal(doc)
}

// Import ingests a rule-set document. Mode "version" creates a new
// rule-set per document entry, never touching existing ones. Mode
// "replace" accepts only baseline content and activates it in place of
// the current baseline, skipping ingestion when the document hash matches
// an already-stored rule-set.
func (s *Service) Import(ctx context.Context, raw []byte, mode string) ([]ImportResult, error) {
	if mode != ModeVersion && mode != ModeReplace {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}

	var doc Document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if len(doc.RuleSets) == 0 {
		return nil, fmt.Errorf("%w: no rule_sets", ErrInvalidDocument)
	}
	for i := range doc.RuleSets {
		if err := s.validate(&doc.RuleSets[i], mode); err != nil {
			return nil, err
		}
	}

	if mode == ModeReplace {
		return s.importReplace(ctx, raw, &doc)
	}
	return s.importVersion(ctx, &doc)
}

func (s *Service) validate(rd *RuleSetDoc, mode string) error {
	if rd.Name == "" {
		return fmt.Errorf("%w: rule-set name is required", ErrInvalidDocument)
	}
	if rd.Priority < 1 {
		return fmt.Errorf("%w: rule-set %q priority must be >= 1", ErrInvalidDocument, rd.Name)
	}
	if rd.SystemBaseline && rd.Priority > s.thresholds.BaselineMaxPriority {
		return fmt.Errorf("%w: baseline rule-set %q priority %d exceeds %d",
			baseline.ErrInvalidPriority, rd.Name, rd.Priority, s.thresholds.BaselineMaxPriority)
	}
	if mode == ModeReplace && !rd.SystemBaseline {
		return fmt.Errorf("%w: replace mode only accepts baseline rule-sets", ErrInvalidDocument)
	}
	for gi := range rd.Groups {
		g := &rd.Groups[gi]
		if g.Name == "" {
			return fmt.Errorf("%w: rule-set %q has a group without a name", ErrInvalidDocument, rd.Name)
		}
		for ri := range g.Rules {
			r := &g.Rules[ri]
			if r.Name == "" {
				return fmt.Errorf("%w: group %q has a rule without a name", ErrInvalidDocument, g.Name)
			}
			if len(r.Actions) == 0 {
				return fmt.Errorf("%w: rule %q has no actions", ErrInvalidDocument, r.Name)
			}
		}
	}
	return nil
}

func (s *Service) importVersion(ctx context.Context, doc *Document) ([]ImportResult, error) {
	results := make([]ImportResult, 0, len(doc.RuleSets))
	for i := range doc.RuleSets {
		rs := buildRuleSet(&doc.RuleSets[i], "")
		if err := s.repo.SaveRuleSet(ctx, rs); err != nil {
			return nil, fmt.Errorf("saving rule-set %q: %w", rs.Name, err)
		}
		results = append(results, ImportResult{
			RuleSetID: rs.ID,
			Name:      rs.Name,
			Version:   rs.Version,
			Created:   true,
		})
	}
	return results, nil
}

func (s *Service) importReplace(ctx context.Context, raw []byte, doc *Document) ([]ImportResult, error) {
	if len(doc.RuleSets) != 1 {
		return nil, fmt.Errorf("%w: replace mode accepts exactly one rule-set", ErrInvalidDocument)
	}

	hash := baseline.Hash(raw)
	if existing, err := s.repo.FindRuleSetByHash(ctx, hash); err == nil {
		return []ImportResult{{
			RuleSetID: existing.ID,
			Name:      existing.Name,
			Version:   existing.Version,
			Created:   false,
		}}, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	rs := buildRuleSet(&doc.RuleSets[0], hash)

	priorID := ""
	if current, err := s.repo.ActiveBaseline(ctx, s.thresholds.BaselineMaxPriority); err == nil {
		priorID = current.ID
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	if err := s.repo.AdoptRuleSet(ctx, rs, priorID); err != nil {
		return nil, fmt.Errorf("activating imported baseline: %w", err)
	}
	return []ImportResult{{
		RuleSetID: rs.ID,
		Name:      rs.Name,
		Version:   rs.Version,
		Created:   true,
	}}, nil
}

func buildRuleSet(rd *RuleSetDoc, sourceHash string) *domain.RuleSet {
	now := time.Now().UTC()
	version := rd.Version
	if version == "" {
		version = now.Format("2006.01.02")
	}
	rs := &domain.RuleSet{
		ID:             uuid.New().String(),
		Name:           rd.Name,
		Version:        version,
		Priority:       rd.Priority,
		Active:         true,
		SystemBaseline: rd.SystemBaseline,
		SourceHash:     sourceHash,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	for gi := range rd.Groups {
		gd := &rd.Groups[gi]
		group := &domain.RuleGroup{
			ID:           uuid.New().String(),
			RuleSetID:    rs.ID,
			Name:         gd.Name,
			Entity:       gd.Entity,
			BasicManaged: gd.BasicManaged,
			Metadata:     gd.Metadata,
		}
		for ri := range gd.Rules {
			rdoc := &gd.Rules[ri]
			group.Rules = append(group.Rules, &domain.Rule{
				ID:          uuid.New().String(),
				GroupID:     group.ID,
				Name:        rdoc.Name,
				Description: rdoc.Description,
				Active:      !rdoc.Disabled,
				Condition:   rdoc.Condition,
				Actions:     rdoc.Actions,
				Metadata:    rdoc.Metadata,
				CreatedAt:   now,
				UpdatedAt:   now,
			})
		}
		rs.Groups = append(rs.Groups, group)
	}
	return rs
}

func ruleSetDoc(rs *domain.RuleSet) RuleSetDoc {
	rd := RuleSetDoc{
		Name:           rs.Name,
		Version:        rs.Version,
		Priority:       rs.Priority,
		SystemBaseline: rs.SystemBaseline,
	}
	for _, g := range rs.Groups {
		gd := GroupDoc{
			Name:         g.Name,
			Entity:       g.Entity,
			BasicManaged: g.BasicManaged,
			Metadata:     g.Metadata,
		}
		for _, r := range g.Rules {
			gd.Rules = append(gd.Rules, RuleDoc{
				Name:        r.Name,
				Description: r.Description,
				Disabled:    !r.Active,
				Condition:   r.Condition,
				Actions:     r.Actions,
				Metadata:    r.Metadata,
			})
		}
		rd.Groups = append(rd.Groups, gd)
	}
	return rd
}
