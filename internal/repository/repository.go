// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/openresale/harrier/internal/domain"
)

var (
	ErrNotFound     = domain.ErrNotFound
	ErrInvalidInput = domain.ErrInvalidInput

	// ErrGroupManaged is returned when a user write path targets a rule in
	// a basic-managed group. Only the system write path may touch those.
	ErrGroupManaged = errors.New("group is basic-managed")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// execer covers both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SaveListing stores or updates a listing.
func (r *SQLRepository) SaveListing(ctx context.Context, listing *domain.Listing) error {
	if listing.ID == "" {
		return fmt.Errorf("%w: listing ID is required", ErrInvalidInput)
	}

	attrs, _ := json.Marshal(listing.Attributes)

	query := `
		INSERT INTO listings (
			id, title, base_price, adjusted_price, attributes, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			base_price = excluded.base_price,
			adjusted_price = excluded.adjusted_price,
			attributes = excluded.attributes,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		listing.ID, listing.Title, listing.BasePrice, listing.AdjustedPrice,
		string(attrs), listing.CreatedAt, listing.UpdatedAt,
	)
	return err
}

// GetListing retrieves a listing by ID.
func (r *SQLRepository) GetListing(ctx context.Context, listingID string) (*domain.Listing, error) {
	query := `
		SELECT id, title, base_price, adjusted_price, attributes, created_at, updated_at
		FROM listings
		WHERE id = ?
	`

	var l domain.Listing
	var attrs string

	err := r.db.QueryRowContext(ctx, r.rebind(query), listingID).Scan(
		&l.ID, &l.Title, &l.BasePrice, &l.AdjustedPrice,
		&attrs, &l.CreatedAt, &l.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if attrs != "" {
		json.Unmarshal([]byte(attrs), &l.Attributes)
	}

	return &l, nil
}

// ListListings retrieves all listings ordered by creation time.
func (r *SQLRepository) ListListings(ctx context.Context) ([]*domain.Listing, error) {
	query := `
		SELECT id, title, base_price, adjusted_price, attributes, created_at, updated_at
		FROM listings
		ORDER BY created_at
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var listings []*domain.Listing
	for rows.Next() {
		var l domain.Listing
		var attrs string

		if err := rows.Scan(
			&l.ID, &l.Title, &l.BasePrice, &l.AdjustedPrice,
			&attrs, &l.CreatedAt, &l.UpdatedAt,
		); err != nil {
			return nil, err
		}

		if attrs != "" {
			json.Unmarshal([]byte(attrs), &l.Attributes)
		}
		listings = append(listings, &l)
	}

	return listings, rows.Err()
}

// SaveValuation stores the latest valuation breakdown for a listing.
// One row per listing; re-evaluation overwrites.
func (r *SQLRepository) SaveValuation(ctx context.Context, val *domain.Valuation) error {
	if val.ListingID == "" {
		return fmt.Errorf("%w: listing ID is required", ErrInvalidInput)
	}

	data, err := json.Marshal(val)
	if err != nil {
		return fmt.Errorf("failed to encode valuation: %w", err)
	}

	query := `
		INSERT INTO valuations (listing_id, id, timestamp, data)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(listing_id) DO UPDATE SET
			id = excluded.id,
			timestamp = excluded.timestamp,
			data = excluded.data
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		val.ListingID, val.ID, val.Timestamp, string(data),
	)
	return err
}

// GetValuation retrieves the stored valuation breakdown for a listing.
func (r *SQLRepository) GetValuation(ctx context.Context, listingID string) (*domain.Valuation, error) {
	query := `SELECT data FROM valuations WHERE listing_id = ?`

	var data string
	err := r.db.QueryRowContext(ctx, r.rebind(query), listingID).Scan(&data)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var val domain.Valuation
	if err := json.Unmarshal([]byte(data), &val); err != nil {
		return nil, fmt.Errorf("failed to parse valuation: %w", err)
	}

	return &val, nil
}

// SaveRuleSet stores a rule-set with its groups and rules in one transaction.
func (r *SQLRepository) SaveRuleSet(ctx context.Context, rs *domain.RuleSet) error {
	if rs.ID == "" || rs.Name == "" {
		return fmt.Errorf("%w: rule-set ID and name are required", ErrInvalidInput)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := r.insertRuleSet(ctx, tx, rs); err != nil {
		return err
	}

	return tx.Commit()
}

func (r *SQLRepository) insertRuleSet(ctx context.Context, tx execer, rs *domain.RuleSet) error {
	query := `
		INSERT INTO rule_sets (
			id, name, version, priority, active, system_baseline,
			source_hash, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			version = excluded.version,
			priority = excluded.priority,
			active = excluded.active,
			system_baseline = excluded.system_baseline,
			source_hash = excluded.source_hash,
			updated_at = excluded.updated_at
	`

	_, err := tx.ExecContext(ctx, r.rebind(query),
		rs.ID, rs.Name, rs.Version, rs.Priority,
		boolInt(rs.Active), boolInt(rs.SystemBaseline),
		rs.SourceHash, rs.CreatedAt, rs.UpdatedAt,
	)
	if err != nil {
		return err
	}

	for _, group := range rs.Groups {
		if err := r.insertGroup(ctx, tx, group); err != nil {
			return err
		}
		for _, rule := range group.Rules {
			if err := r.insertRule(ctx, tx, rule); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *SQLRepository) insertGroup(ctx context.Context, tx execer, group *domain.RuleGroup) error {
	metadata, _ := json.Marshal(group.Metadata)

	query := `
		INSERT INTO rule_groups (id, ruleset_id, name, entity, basic_managed, metadata)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			entity = excluded.entity,
			basic_managed = excluded.basic_managed,
			metadata = excluded.metadata
	`

	_, err := tx.ExecContext(ctx, r.rebind(query),
		group.ID, group.RuleSetID, group.Name, group.Entity,
		boolInt(group.BasicManaged), string(metadata),
	)
	return err
}

func (r *SQLRepository) insertRule(ctx context.Context, tx execer, rule *domain.Rule) error {
	condition, _ := json.Marshal(rule.Condition)
	actions, _ := json.Marshal(rule.Actions)
	metadata, _ := json.Marshal(rule.Metadata)

	query := `
		INSERT INTO rules (
			id, group_id, name, description, active,
			condition, actions, metadata, source_rule_id,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			active = excluded.active,
			condition = excluded.condition,
			actions = excluded.actions,
			metadata = excluded.metadata,
			source_rule_id = excluded.source_rule_id,
			updated_at = excluded.updated_at
	`

	_, err := tx.ExecContext(ctx, r.rebind(query),
		rule.ID, rule.GroupID, rule.Name, rule.Description,
		boolInt(rule.Active), string(condition), string(actions),
		string(metadata), rule.SourceRuleID,
		rule.CreatedAt, rule.UpdatedAt,
	)
	return err
}

// GetRuleSet retrieves a rule-set with its groups and rules.
func (r *SQLRepository) GetRuleSet(ctx context.Context, rulesetID string) (*domain.RuleSet, error) {
	query := `
		SELECT id, name, version, priority, active, system_baseline,
			   source_hash, created_at, updated_at
		FROM rule_sets
		WHERE id = ?
	`

	rs, err := r.scanRuleSet(r.db.QueryRowContext(ctx, r.rebind(query), rulesetID))
	if err != nil {
		return nil, err
	}

	if err := r.loadGroups(ctx, rs); err != nil {
		return nil, err
	}
	return rs, nil
}

// ListRuleSets retrieves all rule-sets ordered by priority, without rules.
func (r *SQLRepository) ListRuleSets(ctx context.Context) ([]*domain.RuleSet, error) {
	query := `
		SELECT id, name, version, priority, active, system_baseline,
			   source_hash, created_at, updated_at
		FROM rule_sets
		ORDER BY priority, name
	`
	return r.queryRuleSets(ctx, query, false)
}

// ListActiveRuleSets retrieves all active rule-sets with groups and rules
// loaded, ordered by priority. This is the evaluation snapshot source.
func (r *SQLRepository) ListActiveRuleSets(ctx context.Context) ([]*domain.RuleSet, error) {
	query := `
		SELECT id, name, version, priority, active, system_baseline,
			   source_hash, created_at, updated_at
		FROM rule_sets
		WHERE active = 1
		ORDER BY priority, name
	`
	return r.queryRuleSets(ctx, query, true)
}

func (r *SQLRepository) queryRuleSets(ctx context.Context, query string, withRules bool) ([]*domain.RuleSet, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sets []*domain.RuleSet
	for rows.Next() {
		rs, err := r.scanRuleSet(rows)
		if err != nil {
			return nil, err
		}
		sets = append(sets, rs)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if withRules {
		for _, rs := range sets {
			if err := r.loadGroups(ctx, rs); err != nil {
				return nil, err
			}
		}
	}
	return sets, nil
}

// FindRuleSetByHash retrieves the rule-set ingested from a document with
// the given content hash, if any.
func (r *SQLRepository) FindRuleSetByHash(ctx context.Context, hash string) (*domain.RuleSet, error) {
	if hash == "" {
		return nil, fmt.Errorf("%w: hash is required", ErrInvalidInput)
	}

	query := `
		SELECT id, name, version, priority, active, system_baseline,
			   source_hash, created_at, updated_at
		FROM rule_sets
		WHERE source_hash = ?
		ORDER BY created_at DESC
		LIMIT 1
	`

	rs, err := r.scanRuleSet(r.db.QueryRowContext(ctx, r.rebind(query), hash))
	if err != nil {
		return nil, err
	}
	if err := r.loadGroups(ctx, rs); err != nil {
		return nil, err
	}
	return rs, nil
}

// ActiveBaseline retrieves the currently active system-baseline rule-set
// at or below the given priority.
func (r *SQLRepository) ActiveBaseline(ctx context.Context, maxPriority int) (*domain.RuleSet, error) {
	query := `
		SELECT id, name, version, priority, active, system_baseline,
			   source_hash, created_at, updated_at
		FROM rule_sets
		WHERE active = 1 AND system_baseline = 1 AND priority <= ?
		ORDER BY priority, created_at DESC
		LIMIT 1
	`

	rs, err := r.scanRuleSet(r.db.QueryRowContext(ctx, r.rebind(query), maxPriority))
	if err != nil {
		return nil, err
	}
	if err := r.loadGroups(ctx, rs); err != nil {
		return nil, err
	}
	return rs, nil
}

// AdoptRuleSet activates newSet and deactivates the prior version in one
// transaction, so there is never a moment with two active baselines.
func (r *SQLRepository) AdoptRuleSet(ctx context.Context, newSet *domain.RuleSet, priorID string) error {
	if newSet == nil || newSet.ID == "" {
		return fmt.Errorf("%w: rule-set is required", ErrInvalidInput)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if priorID != "" {
		query := `UPDATE rule_sets SET active = 0, updated_at = ? WHERE id = ?`
		if _, err := tx.ExecContext(ctx, r.rebind(query), time.Now().UTC(), priorID); err != nil {
			return err
		}
	}

	newSet.Active = true
	if err := r.insertRuleSet(ctx, tx, newSet); err != nil {
		return err
	}

	return tx.Commit()
}

// SaveRule stores a rule through the user write path. Writes into
// basic-managed groups are rejected.
func (r *SQLRepository) SaveRule(ctx context.Context, rule *domain.Rule) error {
	if rule.ID == "" || rule.GroupID == "" {
		return fmt.Errorf("%w: rule ID and group ID are required", ErrInvalidInput)
	}

	managed, err := r.groupManaged(ctx, rule.GroupID)
	if err != nil {
		return err
	}
	if managed {
		return fmt.Errorf("%w: %s", ErrGroupManaged, rule.GroupID)
	}

	return r.insertRule(ctx, r.db, rule)
}

// SaveRuleSystem stores a rule through the engine-owned write path, used
// by hydration and baseline adoption. Skips the basic-managed check.
func (r *SQLRepository) SaveRuleSystem(ctx context.Context, rule *domain.Rule) error {
	if rule.ID == "" || rule.GroupID == "" {
		return fmt.Errorf("%w: rule ID and group ID are required", ErrInvalidInput)
	}
	return r.insertRule(ctx, r.db, rule)
}

func (r *SQLRepository) groupManaged(ctx context.Context, groupID string) (bool, error) {
	query := `SELECT basic_managed FROM rule_groups WHERE id = ?`

	var managed int
	err := r.db.QueryRowContext(ctx, r.rebind(query), groupID).Scan(&managed)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, err
	}
	return managed == 1, nil
}

// DeactivateRule marks a rule inactive without deleting it.
func (r *SQLRepository) DeactivateRule(ctx context.Context, ruleID string) error {
	query := `UPDATE rules SET active = 0, updated_at = ? WHERE id = ?`

	result, err := r.db.ExecContext(ctx, r.rebind(query), time.Now().UTC(), ruleID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// RulesBySource retrieves the rules expanded from a placeholder rule.
func (r *SQLRepository) RulesBySource(ctx context.Context, sourceRuleID string) ([]*domain.Rule, error) {
	if sourceRuleID == "" {
		return nil, fmt.Errorf("%w: source rule ID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, group_id, name, description, active,
			   condition, actions, metadata, source_rule_id,
			   created_at, updated_at
		FROM rules
		WHERE source_rule_id = ?
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), sourceRuleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRules(rows)
}

// SavePriceTarget stores or updates a computed price target.
func (r *SQLRepository) SavePriceTarget(ctx context.Context, pt *domain.PriceTarget) error {
	query := `
		INSERT INTO price_targets (
			entity_type, entity_id, mean, std_dev, low, high, target,
			sample_size, confidence, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(entity_type, entity_id) DO UPDATE SET
			mean = excluded.mean,
			std_dev = excluded.std_dev,
			low = excluded.low,
			high = excluded.high,
			target = excluded.target,
			sample_size = excluded.sample_size,
			confidence = excluded.confidence,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		pt.EntityType, pt.EntityID, pt.Mean, pt.StdDev, pt.Low, pt.High,
		pt.Target, pt.SampleSize, pt.Confidence, pt.UpdatedAt,
	)
	return err
}

// GetPriceTarget retrieves the price target for a catalog entity.
func (r *SQLRepository) GetPriceTarget(ctx context.Context, entityType, entityID string) (*domain.PriceTarget, error) {
	query := `
		SELECT entity_type, entity_id, mean, std_dev, low, high, target,
			   sample_size, confidence, updated_at
		FROM price_targets
		WHERE entity_type = ? AND entity_id = ?
	`

	var pt domain.PriceTarget

	err := r.db.QueryRowContext(ctx, r.rebind(query), entityType, entityID).Scan(
		&pt.EntityType, &pt.EntityID, &pt.Mean, &pt.StdDev, &pt.Low, &pt.High,
		&pt.Target, &pt.SampleSize, &pt.Confidence, &pt.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return &pt, nil
}

// SavePerformanceValue stores or updates a performance-per-price ranking.
func (r *SQLRepository) SavePerformanceValue(ctx context.Context, pv *domain.PerformanceValue) error {
	query := `
		INSERT INTO performance_values (
			entity_type, entity_id, perf_per_price, percentile, rating,
			sample_size, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(entity_type, entity_id) DO UPDATE SET
			perf_per_price = excluded.perf_per_price,
			percentile = excluded.percentile,
			rating = excluded.rating,
			sample_size = excluded.sample_size,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		pv.EntityType, pv.EntityID, pv.PerfPerPrice, pv.Percentile,
		pv.Rating, pv.SampleSize, pv.UpdatedAt,
	)
	return err
}

// ListPerformanceValues retrieves rankings for an entity type, best first.
func (r *SQLRepository) ListPerformanceValues(ctx context.Context, entityType string) ([]*domain.PerformanceValue, error) {
	query := `
		SELECT entity_type, entity_id, perf_per_price, percentile, rating,
			   sample_size, updated_at
		FROM performance_values
		WHERE entity_type = ?
		ORDER BY percentile DESC, entity_id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), entityType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var values []*domain.PerformanceValue
	for rows.Next() {
		var pv domain.PerformanceValue

		if err := rows.Scan(
			&pv.EntityType, &pv.EntityID, &pv.PerfPerPrice, &pv.Percentile,
			&pv.Rating, &pv.SampleSize, &pv.UpdatedAt,
		); err != nil {
			return nil, err
		}

		values = append(values, &pv)
	}

	return values, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *SQLRepository) scanRuleSet(row rowScanner) (*domain.RuleSet, error) {
	var rs domain.RuleSet
	var active, baseline int
	var hash sql.NullString

	err := row.Scan(
		&rs.ID, &rs.Name, &rs.Version, &rs.Priority,
		&active, &baseline, &hash,
		&rs.CreatedAt, &rs.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rs.Active = active == 1
	rs.SystemBaseline = baseline == 1
	rs.SourceHash = hash.String
	return &rs, nil
}

// loadGroups populates a rule-set's groups and their rules.
func (r *SQLRepository) loadGroups(ctx context.Context, rs *domain.RuleSet) error {
	groupQuery := `
		SELECT id, ruleset_id, name, entity, basic_managed, metadata
		FROM rule_groups
		WHERE ruleset_id = ?
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(groupQuery), rs.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	byID := make(map[string]*domain.RuleGroup)
	for rows.Next() {
		var g domain.RuleGroup
		var managed int
		var entity, metadata sql.NullString

		if err := rows.Scan(&g.ID, &g.RuleSetID, &g.Name, &entity, &managed, &metadata); err != nil {
			return err
		}

		g.Entity = entity.String
		g.BasicManaged = managed == 1
		if metadata.String != "" {
			json.Unmarshal([]byte(metadata.String), &g.Metadata)
		}

		rs.Groups = append(rs.Groups, &g)
		byID[g.ID] = &g
	}
	if err := rows.Err(); err != nil {
		return err
	}

	ruleQuery := `
		SELECT r.id, r.group_id, r.name, r.description, r.active,
			   r.condition, r.actions, r.metadata, r.source_rule_id,
			   r.created_at, r.updated_at
		FROM rules r
		JOIN rule_groups g ON r.group_id = g.id
		WHERE g.ruleset_id = ?
		ORDER BY r.name
	`

	ruleRows, err := r.db.QueryContext(ctx, r.rebind(ruleQuery), rs.ID)
	if err != nil {
		return err
	}
	defer ruleRows.Close()

	rules, err := scanRules(ruleRows)
	if err != nil {
		return err
	}
	for _, rule := range rules {
		if group, ok := byID[rule.GroupID]; ok {
			group.Rules = append(group.Rules, rule)
		}
	}
	return nil
}

func scanRules(rows *sql.Rows) ([]*domain.Rule, error) {
	var rules []*domain.Rule
	for rows.Next() {
		var rule domain.Rule
		var active int
		var description, condition, actions, metadata, source sql.NullString

		if err := rows.Scan(
			&rule.ID, &rule.GroupID, &rule.Name, &description, &active,
			&condition, &actions, &metadata, &source,
			&rule.CreatedAt, &rule.UpdatedAt,
		); err != nil {
			return nil, err
		}

		rule.Description = description.String
		rule.Active = active == 1
		rule.SourceRuleID = source.String
		if condition.String != "" && condition.String != "null" {
			json.Unmarshal([]byte(condition.String), &rule.Condition)
		}
		if actions.String != "" {
			json.Unmarshal([]byte(actions.String), &rule.Actions)
		}
		if metadata.String != "" && metadata.String != "null" {
			json.Unmarshal([]byte(metadata.String), &rule.Metadata)
		}

		rules = append(rules, &rule)
	}
	return rules, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
