package repository

// Schema definitions for the Harrier database.
// Compatible with both SQLite and PostgreSQL.

const schemaListings = `
CREATE TABLE IF NOT EXISTS listings (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    base_price REAL NOT NULL,
    adjusted_price REAL NOT NULL DEFAULT 0,
    attributes TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_listings_updated ON listings(updated_at);
`

// Valuations are a denormalized redisplay cache keyed by listing, not the
// source of truth. Re-evaluation overwrites the row.
const schemaValuations = `
CREATE TABLE IF NOT EXISTS valuations (
    listing_id TEXT PRIMARY KEY,
    id TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    data TEXT NOT NULL
);
`

const schemaRuleSets = `
CREATE TABLE IF NOT EXISTS rule_sets (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    version TEXT NOT NULL,
    priority INTEGER NOT NULL,
    active INTEGER NOT NULL DEFAULT 1,
    system_baseline INTEGER NOT NULL DEFAULT 0,
    source_hash TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rule_sets_active ON rule_sets(active, priority);
CREATE INDEX IF NOT EXISTS idx_rule_sets_hash ON rule_sets(source_hash);
`

const schemaRuleGroups = `
CREATE TABLE IF NOT EXISTS rule_groups (
    id TEXT PRIMARY KEY,
    ruleset_id TEXT NOT NULL,
    name TEXT NOT NULL,
    entity TEXT,
    basic_managed INTEGER NOT NULL DEFAULT 0,
    metadata TEXT
);

CREATE INDEX IF NOT EXISTS idx_rule_groups_ruleset ON rule_groups(ruleset_id);
`

const schemaRules = `
CREATE TABLE IF NOT EXISTS rules (
    id TEXT PRIMARY KEY,
    group_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    active INTEGER NOT NULL DEFAULT 1,
    condition TEXT,
    actions TEXT NOT NULL,
    metadata TEXT,
    source_rule_id TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rules_group ON rules(group_id);
CREATE INDEX IF NOT EXISTS idx_rules_source ON rules(source_rule_id);
`

const schemaPriceTargets = `
CREATE TABLE IF NOT EXISTS price_targets (
    entity_type TEXT NOT NULL,
    entity_id TEXT NOT NULL,
    mean REAL NOT NULL,
    std_dev REAL NOT NULL,
    low REAL NOT NULL,
    high REAL NOT NULL,
    target REAL NOT NULL,
    sample_size INTEGER NOT NULL,
    confidence TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (entity_type, entity_id)
);
`

const schemaPerformanceValues = `
CREATE TABLE IF NOT EXISTS performance_values (
    entity_type TEXT NOT NULL,
    entity_id TEXT NOT NULL,
    perf_per_price REAL NOT NULL,
    percentile REAL NOT NULL,
    rating TEXT NOT NULL,
    sample_size INTEGER NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (entity_type, entity_id)
);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaListings,
		schemaValuations,
		schemaRuleSets,
		schemaRuleGroups,
		schemaRules,
		schemaPriceTargets,
		schemaPerformanceValues,
	}
}
