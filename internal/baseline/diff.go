package baseline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/openresale/harrier/internal/domain"
)

// DiffResult is a field-level, three-way comparison between the active
// baseline configuration and a candidate document. Pure data, no side
// effects.
type DiffResult struct {
	BaselineID      string        `json:"baselineId"`
	BaselineVersion string        `json:"baselineVersion"`
	CandidateHash   string        `json:"candidateHash"`
	Added           []FieldChange `json:"added"`
	Changed         []FieldChange `json:"changed"`
	Removed         []FieldChange `json:"removed"`
}

// FieldChange identifies one difference. Entity+Field name the rule;
// Property names the field within the rule ("name", "formula", "value",
// "buckets.<key>", "excluded"). Added/Removed entries carry the whole
// definition with an empty Property.
type FieldChange struct {
	Entity   string `json:"entity"`
	Field    string `json:"field"`
	Property string `json:"property,omitempty"`
	Old      any    `json:"old,omitempty"`
	New      any    `json:"new,omitempty"`
}

// ChangeSelector picks changes to adopt. An empty Property selects every
// change for that entity/field.
type ChangeSelector struct {
	Entity   string `json:"entity"`
	Field    string `json:"field"`
	Property string `json:"property,omitempty"`
}

func (s ChangeSelector) matches(c FieldChange) bool {
	if s.Entity != c.Entity || s.Field != c.Field {
		return false
	}
	return s.Property == "" || s.Property == c.Property
}

// Diff compares the candidate document against the active baseline.
func (s *Service) Diff(ctx context.Context, candidateRaw []byte) (*DiffResult, error) {
	doc, err := ParseDocument(candidateRaw)
	if err != nil {
		return nil, err
	}

	current, err := s.ActiveBaseline(ctx)
	if err != nil {
		return nil, err
	}

	currentDefs, err := dehydrate(current)
	if err != nil {
		return nil, err
	}
	candidateDefs := documentDefs(doc)

	result := &DiffResult{
		BaselineID:      current.ID,
		BaselineVersion: current.Version,
		CandidateHash:   Hash(candidateRaw),
	}

	for _, key := range sortedKeys(candidateDefs) {
		cand := candidateDefs[key]
		cur, exists := currentDefs[key]
		if !exists {
			result.Added = append(result.Added, FieldChange{
				Entity: key.entity,
				Field:  key.field,
				New:    cand,
			})
			continue
		}
		result.Changed = append(result.Changed, diffDefs(key, cur, cand)...)
	}

	for _, key := range sortedKeys(currentDefs) {
		if _, exists := candidateDefs[key]; !exists {
			result.Removed = append(result.Removed, FieldChange{
				Entity: key.entity,
				Field:  key.field,
				Old:    currentDefs[key],
			})
		}
	}

	return result, nil
}

// Adopt applies a selected subset of the candidate's diff, producing a
// new, immutable baseline version. The prior rule-set is never mutated:
// it is deactivated atomically with the new version's activation and
// remains retrievable.
func (s *Service) Adopt(ctx context.Context, candidateRaw []byte, selected []ChangeSelector) (*domain.RuleSet, error) {
	current, err := s.ActiveBaseline(ctx)
	if err != nil {
		return nil, err
	}

	lock := s.lockFor(current.ID)
	lock.Lock()
	defer lock.Unlock()

	diff, err := s.Diff(ctx, candidateRaw)
	if err != nil {
		return nil, err
	}

	doc, err := ParseDocument(candidateRaw)
	if err != nil {
		return nil, err
	}
	candidateDefs := documentDefs(doc)

	currentDefs, err := dehydrate(current)
	if err != nil {
		return nil, err
	}

	merged := applySelection(currentDefs, candidateDefs, diff, selected)

	mergedDoc := defsToDocument(merged, current.Name, current.Priority)
	mergedDoc.GeneratedAt = doc.GeneratedAt

	raw, err := yaml.Marshal(mergedDoc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}

	rs := s.buildRuleSet(mergedDoc, Hash(raw))
	rs.Version = bumpVersion(current.Version)

	if err := s.repo.AdoptRuleSet(ctx, rs, current.ID); err != nil {
		return nil, err
	}

	slog.Info("baseline adopted",
		"ruleset_id", rs.ID,
		"version", rs.Version,
		"prior_id", current.ID,
		"prior_version", current.Version,
		"changes_selected", len(selected),
	)

	return rs, nil
}

type defKey struct {
	entity string
	field  string
}

// dehydrate rebuilds the compact declarative form from a baseline
// rule-set's placeholder rules. Deactivated placeholders still carry
// their spec and are included.
func dehydrate(rs *domain.RuleSet) (map[defKey]FieldDef, error) {
	defs := make(map[defKey]FieldDef)
	for _, group := range rs.Groups {
		for _, rule := range group.Rules {
			def, err := fieldDefFromRule(rule)
			if err != nil {
				if errors.Is(err, domain.ErrNotPlaceholder) {
					continue
				}
				return nil, fmt.Errorf("rule %s: %w", rule.ID, err)
			}
			if def.Field == "" {
				def.Field = fieldKeyFromMetadata(rule.Metadata)
			}
			defs[defKey{entity: group.Entity, field: def.Field}] = def
		}
	}
	return defs, nil
}

func documentDefs(doc *Document) map[defKey]FieldDef {
	defs := make(map[defKey]FieldDef)
	for _, entity := range doc.Entities {
		for _, field := range entity.Fields {
			defs[defKey{entity: entity.Entity, field: field.Field}] = field
		}
	}
	return defs
}

// diffDefs compares two definitions of the same rule field by field.
func diffDefs(key defKey, cur, cand FieldDef) []FieldChange {
	var changes []FieldChange
	change := func(property string, old, new any) {
		changes = append(changes, FieldChange{
			Entity:   key.entity,
			Field:    key.field,
			Property: property,
			Old:      old,
			New:      new,
		})
	}

	if cur.Name != cand.Name && cand.Name != "" {
		change("name", cur.Name, cand.Name)
	}
	if cur.Formula != cand.Formula {
		change("formula", cur.Formula, cand.Formula)
	}
	if (cur.Value == nil) != (cand.Value == nil) ||
		(cur.Value != nil && cand.Value != nil && *cur.Value != *cand.Value) {
		change("value", deref(cur.Value), deref(cand.Value))
	}

	bucketKeys := map[string]bool{}
	for k := range cur.Buckets {
		bucketKeys[k] = true
	}
	for k := range cand.Buckets {
		bucketKeys[k] = true
	}
	sorted := make([]string, 0, len(bucketKeys))
	for k := range bucketKeys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)
	for _, k := range sorted {
		curV, curOK := cur.Buckets[k]
		candV, candOK := cand.Buckets[k]
		switch {
		case curOK && !candOK:
			change("buckets."+k, curV, nil)
		case !curOK && candOK:
			change("buckets."+k, nil, candV)
		case curV != candV:
			change("buckets."+k, curV, candV)
		}
	}

	if !sameStrings(cur.Excluded, cand.Excluded) {
		change("excluded", cur.Excluded, cand.Excluded)
	}

	return changes
}

// applySelection merges the selected subset of the diff onto the current
// definitions.
func applySelection(current, candidate map[defKey]FieldDef, diff *DiffResult, selected []ChangeSelector) map[defKey]FieldDef {
	merged := make(map[defKey]FieldDef, len(current))
	for k, v := range current {
		merged[k] = v
	}

	isSelected := func(c FieldChange) bool {
		for _, sel := range selected {
			if sel.matches(c) {
				return true
			}
		}
		return false
	}

	for _, add := range diff.Added {
		if isSelected(add) {
			key := defKey{entity: add.Entity, field: add.Field}
			merged[key] = candidate[key]
		}
	}

	for _, rem := range diff.Removed {
		if isSelected(rem) {
			delete(merged, defKey{entity: rem.Entity, field: rem.Field})
		}
	}

	for _, ch := range diff.Changed {
		if !isSelected(ch) {
			continue
		}
		key := defKey{entity: ch.Entity, field: ch.Field}
		def := merged[key]
		cand := candidate[key]
		switch {
		case ch.Property == "name":
			def.Name = cand.Name
		case ch.Property == "formula":
			def.Formula = cand.Formula
		case ch.Property == "value":
			def.Value = cand.Value
		case ch.Property == "excluded":
			def.Excluded = cand.Excluded
		case strings.HasPrefix(ch.Property, "buckets."):
			bucket := strings.TrimPrefix(ch.Property, "buckets.")
			if def.Buckets == nil {
				def.Buckets = map[string]float64{}
			} else {
				def.Buckets = copyBuckets(def.Buckets)
			}
			if v, ok := cand.Buckets[bucket]; ok {
				def.Buckets[bucket] = v
			} else {
				delete(def.Buckets, bucket)
			}
		}
		merged[key] = def
	}

	return merged
}

// defsToDocument rebuilds a declarative document from merged definitions.
func defsToDocument(defs map[defKey]FieldDef, name string, priority int) *Document {
	byEntity := make(map[string][]FieldDef)
	for key, def := range defs {
		byEntity[key.entity] = append(byEntity[key.entity], def)
	}

	doc := &Document{
		SchemaVersion: 1,
		Name:          name,
		Priority:      priority,
	}

	entities := make([]string, 0, len(byEntity))
	for e := range byEntity {
		entities = append(entities, e)
	}
	sort.Strings(entities)

	for _, entity := range entities {
		fields := byEntity[entity]
		sort.Slice(fields, func(i, j int) bool { return fields[i].Field < fields[j].Field })
		doc.Entities = append(doc.Entities, EntityDef{Entity: entity, Fields: fields})
	}

	return doc
}

// bumpVersion appends or increments a revision segment on the prior
// version token: "2026.08.01" -> "2026.08.01.1" -> "2026.08.01.2".
func bumpVersion(version string) string {
	parts := strings.Split(version, ".")
	if len(parts) > 3 {
		if rev, err := strconv.Atoi(parts[len(parts)-1]); err == nil {
			parts[len(parts)-1] = strconv.Itoa(rev + 1)
			return strings.Join(parts, ".")
		}
	}
	return version + ".1"
}

func sortedKeys(defs map[defKey]FieldDef) []defKey {
	keys := make([]defKey, 0, len(defs))
	for k := range defs {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].entity != keys[j].entity {
			return keys[i].entity < keys[j].entity
		}
		return keys[i].field < keys[j].field
	})
	return keys
}

func sameStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

func copyBuckets(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func deref(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
