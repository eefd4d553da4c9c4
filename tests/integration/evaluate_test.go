//go:build integration
// +build integration

// Package integration provides end-to-end tests for the Harrier valuation
// engine against a running server.
//
// The tests drive the complete pipeline over HTTP:
//
//	Baseline document → Hydration → Shop rule-sets → Listing → Valuation
//
// Run with: go test -tags=integration -v ./tests/integration/...
//
// The server must be reachable at HARRIER_TEST_URL (default
// http://localhost:8080) with an empty or disposable database. Each test
// creates the rule population it needs through the API.
package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"
)

func baseURL() string {
	if url := os.Getenv("HARRIER_TEST_URL"); url != "" {
		return url
	}
	return "http://localhost:8080"
}

// ============================================================================
// API Request/Response Types (matching Harrier's API contract)
// ============================================================================

type ListingRequest struct {
	Title      string         `json:"title"`
	BasePrice  float64        `json:"basePrice"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

type Listing struct {
	ID            string  `json:"id"`
	Title         string  `json:"title"`
	BasePrice     float64 `json:"basePrice"`
	AdjustedPrice float64 `json:"adjustedPrice"`
}

type Valuation struct {
	ID            string  `json:"id"`
	ListingID     string  `json:"listingId"`
	BasePrice     float64 `json:"basePrice"`
	AdjustedPrice float64 `json:"adjustedPrice"`
	RulesApplied  int     `json:"rulesApplied"`
	RulesFailed   int     `json:"rulesFailed"`
}

type ValuationResponse struct {
	Listing   Listing   `json:"listing"`
	Valuation Valuation `json:"valuation"`
}

type BaselineResponse struct {
	RuleSetID string `json:"rulesetId"`
	Version   string `json:"version"`
	Created   bool   `json:"created"`
}

const integrationBaseline = `schema_version: 1
generated_at: 2026-02-01T00:00:00Z
name: system-baseline
priority: 5
entities:
  - entity: ram
    fields:
      - field: ram.type
        name: Memory generation adjustment
        buckets:
          ddr4: 1.0
          ddr5: 1.15
`

const integrationRules = `schema_version: 1
rule_sets:
  - name: integration-overrides
    priority: 8
    groups:
      - name: chassis
        entity: listing
        rules:
          - name: Refurbished deduction
            condition:
              field: condition
              op: eq
              value: refurbished
            actions:
              - kind: percent
                value: -10
`

// ============================================================================
// Test Helper Functions
// ============================================================================

var client = &http.Client{Timeout: 10 * time.Second}

func post(t *testing.T, path, contentType string, body []byte) (*http.Response, []byte) {
	t.Helper()

	req, err := http.NewRequest(http.MethodPost, baseURL()+path, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("request to %s failed: %v", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response: %v", err)
	}
	return resp, raw
}

func get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()

	resp, err := client.Get(baseURL() + path)
	if err != nil {
		t.Fatalf("request to %s failed: %v", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response: %v", err)
	}
	return resp, raw
}

func createListing(t *testing.T, req ListingRequest) ValuationResponse {
	t.Helper()

	body, _ := json.Marshal(req)
	resp, raw := post(t, "/listings", "application/json", body)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create listing returned %d: %s", resp.StatusCode, raw)
	}

	var result ValuationResponse
	if err := json.Unmarshal(raw, &result); err != nil {
		t.Fatalf("failed to unmarshal response: %v (body: %s)", err, raw)
	}
	return result
}

// ensureBaseline ingests and hydrates the test baseline. Idempotent on the
// document hash, so every test can call it.
func ensureBaseline(t *testing.T) BaselineResponse {
	t.Helper()

	resp, raw := post(t, "/baseline", "application/yaml", []byte(integrationBaseline))
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		t.Fatalf("baseline instantiation returned %d: %s", resp.StatusCode, raw)
	}

	var baseline BaselineResponse
	if err := json.Unmarshal(raw, &baseline); err != nil {
		t.Fatalf("failed to unmarshal baseline response: %v", err)
	}

	resp, raw = post(t, fmt.Sprintf("/rulesets/%s/hydrate", baseline.RuleSetID), "application/json", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("hydration returned %d: %s", resp.StatusCode, raw)
	}
	return baseline
}

// ============================================================================
// SCENARIO 1: Baseline-driven valuation
// ============================================================================

func TestBaselineValuation(t *testing.T) {
	ensureBaseline(t)

	// A DDR5 machine earns the generation premium: 500 * (1.15 - 1) = 75.
	result := createListing(t, ListingRequest{
		Title:     "DDR5 workstation",
		BasePrice: 500,
		Attributes: map[string]any{
			"ram": map[string]any{"type": "ddr5"},
		},
	})

	if result.Valuation.AdjustedPrice != 575 {
		t.Errorf("adjusted price = %v, want 575", result.Valuation.AdjustedPrice)
	}
	if result.Valuation.RulesApplied < 1 {
		t.Errorf("rules applied = %d, want >= 1", result.Valuation.RulesApplied)
	}

	t.Logf("✓ baseline valuation: base=%.2f adjusted=%.2f rules=%d",
		result.Valuation.BasePrice, result.Valuation.AdjustedPrice, result.Valuation.RulesApplied)
}

func TestBaselineNeutralBucket(t *testing.T) {
	ensureBaseline(t)

	// DDR4 maps to multiplier 1.0, so the price is unchanged.
	result := createListing(t, ListingRequest{
		Title:     "DDR4 desktop",
		BasePrice: 400,
		Attributes: map[string]any{
			"ram": map[string]any{"type": "ddr4"},
		},
	})

	if result.Valuation.AdjustedPrice != 400 {
		t.Errorf("adjusted price = %v, want 400", result.Valuation.AdjustedPrice)
	}
}

// ============================================================================
// SCENARIO 2: Shop rule-sets layered over the baseline
// ============================================================================

func TestLayeredValuation(t *testing.T) {
	ensureBaseline(t)

	resp, raw := post(t, "/import", "application/yaml", []byte(integrationRules))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("import returned %d: %s", resp.StatusCode, raw)
	}

	// Baseline premium and shop deduction both contribute:
	// 1000 + 150 (ddr5) - 100 (refurbished 10%) = 1050.
	result := createListing(t, ListingRequest{
		Title:     "Refurbished DDR5 tower",
		BasePrice: 1000,
		Attributes: map[string]any{
			"condition": "refurbished",
			"ram":       map[string]any{"type": "ddr5"},
		},
	})

	if result.Valuation.AdjustedPrice != 1050 {
		t.Errorf("adjusted price = %v, want 1050", result.Valuation.AdjustedPrice)
	}

	t.Logf("✓ layered valuation: adjusted=%.2f", result.Valuation.AdjustedPrice)
}

// ============================================================================
// SCENARIO 3: Retrieval and re-evaluation
// ============================================================================

func TestRetrieveAndReevaluate(t *testing.T) {
	ensureBaseline(t)

	created := createListing(t, ListingRequest{
		Title:     "plain box",
		BasePrice: 250,
	})

	resp, raw := get(t, "/listings/"+created.Listing.ID)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get listing returned %d", resp.StatusCode)
	}
	var listing Listing
	if err := json.Unmarshal(raw, &listing); err != nil {
		t.Fatalf("failed to unmarshal listing: %v", err)
	}
	if listing.ID != created.Listing.ID {
		t.Errorf("listing id = %s, want %s", listing.ID, created.Listing.ID)
	}

	resp, raw = get(t, "/listings/"+created.Listing.ID+"/valuation")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get valuation returned %d: %s", resp.StatusCode, raw)
	}

	// Re-evaluation of an unchanged listing is stable.
	resp, raw = post(t, "/listings/"+created.Listing.ID+"/evaluate", "application/json", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("evaluate returned %d: %s", resp.StatusCode, raw)
	}
	var reval ValuationResponse
	if err := json.Unmarshal(raw, &reval); err != nil {
		t.Fatalf("failed to unmarshal evaluation: %v", err)
	}
	if reval.Valuation.AdjustedPrice != created.Valuation.AdjustedPrice {
		t.Errorf("re-evaluation changed price: %v -> %v",
			created.Valuation.AdjustedPrice, reval.Valuation.AdjustedPrice)
	}
}

// ============================================================================
// SCENARIO 4: Batch recalculation over the bus
// ============================================================================

func TestBatchRecalculation(t *testing.T) {
	ensureBaseline(t)

	created := createListing(t, ListingRequest{
		Title:     "DDR5 batch target",
		BasePrice: 600,
		Attributes: map[string]any{
			"ram": map[string]any{"type": "ddr5"},
		},
	})

	body, _ := json.Marshal(map[string]any{
		"listingIds": []string{created.Listing.ID},
		"reason":     "integration test",
	})
	resp, raw := post(t, "/recalculate", "application/json", body)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("recalculate returned %d: %s", resp.StatusCode, raw)
	}

	// The batch runs async; poll until the adjusted price is present.
	deadline := time.Now().Add(10 * time.Second)
	for {
		resp, raw = get(t, "/listings/"+created.Listing.ID)
		var listing Listing
		if resp.StatusCode == http.StatusOK && json.Unmarshal(raw, &listing) == nil {
			if listing.AdjustedPrice == 690 {
				t.Logf("✓ batch recalculation: adjusted=%.2f", listing.AdjustedPrice)
				return
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("listing not recalculated; last body: %s", raw)
		}
		time.Sleep(200 * time.Millisecond)
	}
}

// ============================================================================
// SCENARIO 5: Export / import round trip
// ============================================================================

func TestExportImportRoundTrip(t *testing.T) {
	ensureBaseline(t)

	resp, raw := post(t, "/import", "application/yaml", []byte(integrationRules))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("import returned %d: %s", resp.StatusCode, raw)
	}

	resp, exported := get(t, "/export")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("export returned %d", resp.StatusCode)
	}
	if strings.Contains(string(exported), "system_baseline: true") {
		t.Error("export must omit the baseline without include_baseline")
	}
	if !strings.Contains(string(exported), "integration-overrides") {
		t.Errorf("export missing shop rule-set: %s", exported)
	}

	// The exported document imports cleanly as a new version.
	resp, raw = post(t, "/import", "application/yaml", exported)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("re-import returned %d: %s", resp.StatusCode, raw)
	}

	t.Logf("✓ export/import round trip complete")
}

// ============================================================================
// SCENARIO 6: Input validation
// ============================================================================

func TestCreateListingValidation(t *testing.T) {
	tests := []struct {
		name string
		req  ListingRequest
	}{
		{"missing title", ListingRequest{BasePrice: 100}},
		{"zero price", ListingRequest{Title: "box"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, _ := json.Marshal(tt.req)
			resp, _ := post(t, "/listings", "application/json", body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestUnknownListing(t *testing.T) {
	resp, _ := get(t, "/listings/00000000-0000-0000-0000-000000000000")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

// ============================================================================
// SCENARIO 7: Health
// ============================================================================

func TestHealth(t *testing.T) {
	resp, raw := get(t, "/health")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health returned %d", resp.StatusCode)
	}

	var health map[string]string
	if err := json.Unmarshal(raw, &health); err != nil {
		t.Fatalf("failed to unmarshal health: %v", err)
	}
	if health["status"] != "healthy" {
		t.Errorf("status = %q, want healthy", health["status"])
	}
}
