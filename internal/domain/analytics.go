package domain

import "time"

// Confidence tiers for price targets, derived from sample size.
const (
	ConfidenceHigh         = "high"
	ConfidenceMedium       = "medium"
	ConfidenceLow          = "low"
	ConfidenceInsufficient = "insufficient"
)

// Performance-per-price ratings, derived from percentile rank.
const (
	RatingExcellent = "excellent"
	RatingGood      = "good"
	RatingFair      = "fair"
	RatingPoor      = "poor"
)

// PriceTarget holds mean/stddev-derived price bands for a catalog entity.
// Produced by the batch analytics job; read-mostly, consumed by the UI
// layer, never by the rule engine.
type PriceTarget struct {
	EntityType string `json:"entityType"` // "cpu", "gpu"
	EntityID   string `json:"entityId"`

	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stdDev"`

	// Low/High are the mean -/+ one standard deviation band; Target is
	// the recommended listing price (the mean).
	Low    float64 `json:"low"`
	High   float64 `json:"high"`
	Target float64 `json:"target"`

	SampleSize int    `json:"sampleSize"`
	Confidence string `json:"confidence"`

	UpdatedAt time.Time `json:"updatedAt"`
}

// PerformanceValue ranks a catalog entity by performance per price.
type PerformanceValue struct {
	EntityType string `json:"entityType"`
	EntityID   string `json:"entityId"`

	PerfPerPrice float64 `json:"perfPerPrice"`
	Percentile   float64 `json:"percentile"` // 0-100
	Rating       string  `json:"rating"`

	SampleSize int       `json:"sampleSize"`
	UpdatedAt  time.Time `json:"updatedAt"`
}
