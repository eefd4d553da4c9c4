// Package baseline manages the system baseline rule-set: ingestion of the
// declarative baseline document, hydration of placeholder rules into
// concrete editable rules, and field-level diff/adopt between baseline
// versions.
package baseline

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/openresale/harrier/internal/domain"
)

// Document is the declarative baseline form: entities with field
// definitions, each carrying one of a bucket map, a formula, or a fixed
// value. This document is the sole mechanism for seeding or updating the
// system baseline.
type Document struct {
	SchemaVersion int       `yaml:"schema_version" json:"schemaVersion"`
	GeneratedAt   time.Time `yaml:"generated_at" json:"generatedAt"`
	Name          string    `yaml:"name" json:"name"`
	Priority      int       `yaml:"priority" json:"priority"`

	Entities []EntityDef `yaml:"entities" json:"entities"`
}

// EntityDef declares the baseline fields for one catalog entity.
type EntityDef struct {
	Entity string     `yaml:"entity" json:"entity"`
	Fields []FieldDef `yaml:"fields" json:"fields"`
}

// FieldDef carries exactly one of Buckets, Formula, or Value.
type FieldDef struct {
	Field string `yaml:"field" json:"field"`
	Name  string `yaml:"name,omitempty" json:"name,omitempty"`

	Buckets  map[string]float64 `yaml:"buckets,omitempty" json:"buckets,omitempty"`
	Excluded []string           `yaml:"excluded,omitempty" json:"excluded,omitempty"`
	Formula  string             `yaml:"formula,omitempty" json:"formula,omitempty"`
	Value    *float64           `yaml:"value,omitempty" json:"value,omitempty"`
}

// ParseDocument decodes and validates a declarative baseline document.
func ParseDocument(raw []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: malformed baseline document: %v", ErrInvalidDocument, err)
	}

	if doc.Name == "" {
		doc.Name = "system-baseline"
	}
	if doc.Priority == 0 {
		doc.Priority = 5
	}
	if len(doc.Entities) == 0 {
		return nil, fmt.Errorf("%w: document declares no entities", ErrInvalidDocument)
	}

	for _, entity := range doc.Entities {
		if entity.Entity == "" {
			return nil, fmt.Errorf("%w: entity key is required", ErrInvalidDocument)
		}
		for _, field := range entity.Fields {
			if field.Field == "" {
				return nil, fmt.Errorf("%w: entity %s: field path is required", ErrInvalidDocument, entity.Entity)
			}
			if err := validateFieldDef(field); err != nil {
				return nil, err
			}
		}
	}

	return &doc, nil
}

func validateFieldDef(field FieldDef) error {
	n := 0
	if len(field.Buckets) > 0 {
		n++
	}
	if field.Formula != "" {
		n++
	}
	if field.Value != nil {
		n++
	}
	if n != 1 {
		return fmt.Errorf("%w: field %s must carry exactly one of buckets, formula, or value", ErrInvalidDocument, field.Field)
	}
	return nil
}

// Hash returns the hex SHA-256 of the raw document, used to make repeated
// ingestion of an identical document a no-op.
func Hash(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// VersionToken derives the rule-set version from the document's declared
// generation timestamp.
func (d *Document) VersionToken() string {
	ts := d.GeneratedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return ts.UTC().Format("2006.01.02")
}

// hydrationMetadata builds the placeholder rule metadata for a field
// definition. The compact declarative form lives in the metadata bag until
// hydration expands it.
func hydrationMetadata(field FieldDef) map[string]any {
	h := map[string]any{}
	switch {
	case len(field.Buckets) > 0:
		buckets := make(map[string]any, len(field.Buckets))
		for k, v := range field.Buckets {
			buckets[k] = v
		}
		h["strategy"] = string(domain.StrategyEnumMultiplier)
		h["field"] = field.Field
		h["buckets"] = buckets
		if len(field.Excluded) > 0 {
			excluded := make([]any, 0, len(field.Excluded))
			for _, e := range field.Excluded {
				excluded = append(excluded, e)
			}
			h["excluded"] = excluded
		}
	case field.Formula != "":
		h["strategy"] = string(domain.StrategyFormula)
		h["formula"] = field.Formula
	default:
		h["strategy"] = string(domain.StrategyFixedValue)
		if field.Value != nil {
			h["value"] = *field.Value
		}
	}
	return map[string]any{"hydration": h}
}

// fieldDefFromRule dehydrates a placeholder rule back into its compact
// declarative form. Inverse of hydrationMetadata; used by diff.
func fieldDefFromRule(rule *domain.Rule) (FieldDef, error) {
	spec, err := domain.ParseHydrationSpec(rule.Metadata)
	if err != nil {
		return FieldDef{}, err
	}

	def := FieldDef{Name: rule.Name}
	switch spec.Strategy {
	case domain.StrategyEnumMultiplier:
		def.Field = spec.Field
		def.Buckets = make(map[string]float64, len(spec.Buckets))
		for _, b := range spec.Buckets {
			def.Buckets[b.Value] = b.Multiplier
			if b.Excluded {
				def.Excluded = append(def.Excluded, b.Value)
			}
		}
	case domain.StrategyFormula:
		def.Field = fieldKeyFromMetadata(rule.Metadata)
		def.Formula = spec.Formula
	case domain.StrategyFixedValue:
		def.Field = fieldKeyFromMetadata(rule.Metadata)
		v := spec.Value
		def.Value = &v
	}
	return def, nil
}

// fieldKeyFromMetadata reads the declarative field path recorded alongside
// the hydration spec for formula and fixed-value placeholders.
func fieldKeyFromMetadata(meta map[string]any) string {
	if key, ok := meta["field_key"].(string); ok {
		return key
	}
	return ""
}
