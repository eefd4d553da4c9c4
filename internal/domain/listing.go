package domain

import (
	"strings"
	"time"
)

// Listing represents a resale computer listing to be valued.
// Attributes is the resolved attribute bag: top-level listing fields plus
// nested component maps under "cpu", "gpu", "ram" and "storage", so rule
// conditions can reach fields like "cpu.manufacturer" with a dotted path.
type Listing struct {
	ID    string `json:"id"`
	Title string `json:"title"`

	// BasePrice is the seller-asked price before rule adjustments.
	BasePrice float64 `json:"basePrice"`

	// AdjustedPrice is the last computed adjusted price (denormalized,
	// recomputed whenever rules or attributes change).
	AdjustedPrice float64 `json:"adjustedPrice"`

	Attributes map[string]any `json:"attributes"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Attribute resolves a dotted field path against the attribute bag.
// Returns nil, false when any segment is absent or not traversable.
func (l *Listing) Attribute(path string) (any, bool) {
	return LookupPath(l.Attributes, path)
}

// LookupPath resolves a dotted path like "cpu.manufacturer" through nested
// map[string]any values.
func LookupPath(attrs map[string]any, path string) (any, bool) {
	if attrs == nil || path == "" {
		return nil, false
	}

	segments := strings.Split(path, ".")
	var current any = attrs

	for _, seg := range segments {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[seg]
		if !ok {
			return nil, false
		}
	}

	if current == nil {
		return nil, false
	}
	return current, true
}

// ListingRequest is the API request payload for creating a listing.
type ListingRequest struct {
	Title      string         `json:"title"`
	BasePrice  float64        `json:"basePrice"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// ToListing converts a request to a Listing domain object.
func (r *ListingRequest) ToListing() *Listing {
	now := time.Now().UTC()
	attrs := r.Attributes
	if attrs == nil {
		attrs = make(map[string]any)
	}
	// The base price is always reachable from conditions and formulas.
	attrs["base_price"] = r.BasePrice
	if _, ok := attrs["price"]; !ok {
		attrs["price"] = r.BasePrice
	}
	return &Listing{
		Title:      r.Title,
		BasePrice:  r.BasePrice,
		Attributes: attrs,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}
