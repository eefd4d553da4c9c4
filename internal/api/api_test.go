package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/openresale/harrier/internal/analytics"
	"github.com/openresale/harrier/internal/baseline"
	"github.com/openresale/harrier/internal/bus"
	"github.com/openresale/harrier/internal/cache"
	"github.com/openresale/harrier/internal/domain"
	"github.com/openresale/harrier/internal/formula"
	"github.com/openresale/harrier/internal/pack"
	"github.com/openresale/harrier/internal/pricing"
	"github.com/openresale/harrier/internal/repository"
	"github.com/openresale/harrier/internal/rules"
	"github.com/openresale/harrier/internal/worker"
)

const testRulesDoc = `schema_version: 1
rule_sets:
  - name: shop-overrides
    priority: 8
    groups:
      - name: memory
        entity: ram
        rules:
          - name: DDR5 premium
            condition:
              field: ram.type
              op: eq
              value: ddr5
            actions:
              - kind: fixed_value
                value: 50
`

const testBaselineDoc = `schema_version: 1
generated_at: 2026-02-01T00:00:00Z
name: system-baseline
priority: 5
entities:
  - entity: ram
    fields:
      - field: ram.type
        buckets:
          ddr4: 1.0
          ddr5: 1.15
`

func newTestServer(t *testing.T) (*Server, domain.Repository) {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "harrier-api-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	c := cache.NewLRUCache(100)
	t.Cleanup(func() { c.Close() })

	b := bus.NewChannelBus(100)
	t.Cleanup(func() { b.Close() })

	formulas, err := formula.NewEvaluator()
	if err != nil {
		t.Fatalf("failed to create formula evaluator: %v", err)
	}

	thresholds := domain.DefaultLayerThresholds()
	orchestrator := pricing.NewOrchestrator(rules.NewEvaluator(formulas))
	revaluer := worker.NewWorker(b, repo, c, orchestrator, thresholds, 2)

	srv := NewServer(
		domain.ServerConfig{Host: "localhost", Port: 0},
		repo, c, b, revaluer,
		baseline.NewService(repo, formulas, thresholds),
		pack.NewService(repo, thresholds),
		analytics.NewService(repo, nil),
		"test",
	)
	return srv, repo
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	return w
}

func doYAML(t *testing.T, srv *Server, method, path, doc string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(doc))
	req.Header.Set("Content-Type", "application/yaml")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(out); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}

func TestCreateListingAndValuation(t *testing.T) {
	srv, _ := newTestServer(t)

	if w := doYAML(t, srv, http.MethodPost, "/import", testRulesDoc); w.Code != http.StatusCreated {
		t.Fatalf("import returned %d: %s", w.Code, w.Body.String())
	}

	w := doJSON(t, srv, http.MethodPost, "/listings", domain.ListingRequest{
		Title:     "DDR5 workstation",
		BasePrice: 500,
		Attributes: map[string]any{
			"ram": map[string]any{"type": "ddr5"},
		},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create listing returned %d: %s", w.Code, w.Body.String())
	}

	var resp ValuationResponse
	decode(t, w, &resp)
	if resp.Listing.ID == "" {
		t.Fatal("listing id not assigned")
	}
	if resp.Valuation.AdjustedPrice != 550 {
		t.Errorf("adjusted price = %v, want 550", resp.Valuation.AdjustedPrice)
	}

	// The listing and its valuation are retrievable afterward.
	w = doJSON(t, srv, http.MethodGet, "/listings/"+resp.Listing.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get listing returned %d", w.Code)
	}
	var got domain.Listing
	decode(t, w, &got)
	if got.AdjustedPrice != 550 {
		t.Errorf("persisted adjusted price = %v, want 550", got.AdjustedPrice)
	}

	w = doJSON(t, srv, http.MethodGet, "/listings/"+resp.Listing.ID+"/valuation", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get valuation returned %d", w.Code)
	}
	var val domain.Valuation
	decode(t, w, &val)
	if val.ID != resp.Valuation.ID {
		t.Errorf("valuation id = %s, want %s", val.ID, resp.Valuation.ID)
	}
}

func TestCreateListingValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	tests := []struct {
		name string
		req  domain.ListingRequest
	}{
		{"missing title", domain.ListingRequest{BasePrice: 100}},
		{"zero price", domain.ListingRequest{Title: "box"}},
		{"negative price", domain.ListingRequest{Title: "box", BasePrice: -5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := doJSON(t, srv, http.MethodPost, "/listings", tt.req); w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}

	w := doYAML(t, srv, http.MethodPost, "/listings", "not json")
	if w.Code != http.StatusBadRequest {
		t.Errorf("malformed body: status = %d, want 400", w.Code)
	}
}

func TestGetListingNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	if w := doJSON(t, srv, http.MethodGet, "/listings/no-such-id", nil); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
	if w := doJSON(t, srv, http.MethodGet, "/listings/no-such-id/valuation", nil); w.Code != http.StatusNotFound {
		t.Errorf("valuation status = %d, want 404", w.Code)
	}
}

func TestEvaluateListing(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/listings", domain.ListingRequest{
		Title:     "bare box",
		BasePrice: 300,
	})
	var created ValuationResponse
	decode(t, w, &created)

	// A rule-set imported after creation changes the next evaluation.
	doYAML(t, srv, http.MethodPost, "/import", strings.ReplaceAll(testRulesDoc, "ddr5", "absent"))

	w = doJSON(t, srv, http.MethodPost, "/listings/"+created.Listing.ID+"/evaluate", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("evaluate returned %d: %s", w.Code, w.Body.String())
	}
	var resp ValuationResponse
	decode(t, w, &resp)
	if resp.Valuation.AdjustedPrice != 300 {
		t.Errorf("adjusted price = %v, want 300", resp.Valuation.AdjustedPrice)
	}
}

func TestRecalculateAccepted(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/recalculate", RecalculateRequest{Reason: "test"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", w.Code)
	}
	var resp map[string]any
	decode(t, w, &resp)
	if resp["enqueued"] != true {
		t.Errorf("response = %v", resp)
	}
}

func TestBaselineLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)

	// No baseline yet.
	if w := doJSON(t, srv, http.MethodGet, "/baseline", nil); w.Code != http.StatusNotFound {
		t.Fatalf("empty baseline: status = %d, want 404", w.Code)
	}

	w := doYAML(t, srv, http.MethodPost, "/baseline", testBaselineDoc)
	if w.Code != http.StatusCreated {
		t.Fatalf("instantiate returned %d: %s", w.Code, w.Body.String())
	}
	var first map[string]any
	decode(t, w, &first)
	if first["created"] != true || first["version"] != "2026.02.01" {
		t.Errorf("instantiate response = %v", first)
	}

	// Re-posting the identical document is idempotent.
	w = doYAML(t, srv, http.MethodPost, "/baseline", testBaselineDoc)
	if w.Code != http.StatusOK {
		t.Fatalf("repeat instantiate returned %d", w.Code)
	}
	var second map[string]any
	decode(t, w, &second)
	if second["created"] != false || second["rulesetId"] != first["rulesetId"] {
		t.Errorf("repeat response = %v, first = %v", second, first)
	}

	w = doJSON(t, srv, http.MethodGet, "/baseline", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get baseline returned %d", w.Code)
	}
	var meta map[string]any
	decode(t, w, &meta)
	if meta["version"] != "2026.02.01" {
		t.Errorf("baseline metadata = %v", meta)
	}

	// Hydrate the placeholder rules.
	w = doJSON(t, srv, http.MethodPost, fmt.Sprintf("/rulesets/%s/hydrate", first["rulesetId"]), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("hydrate returned %d: %s", w.Code, w.Body.String())
	}

	// Diff against a changed candidate.
	candidate := strings.Replace(testBaselineDoc, "ddr5: 1.15", "ddr5: 1.25", 1)
	w = doYAML(t, srv, http.MethodPost, "/baseline/diff", candidate)
	if w.Code != http.StatusOK {
		t.Fatalf("diff returned %d: %s", w.Code, w.Body.String())
	}
	var diff baseline.DiffResult
	decode(t, w, &diff)
	if len(diff.Changed) != 1 {
		t.Fatalf("diff changed = %d, want 1", len(diff.Changed))
	}

	// Adopt everything from the candidate.
	w = doJSON(t, srv, http.MethodPost, "/baseline/adopt", AdoptRequest{Document: candidate})
	if w.Code != http.StatusCreated {
		t.Fatalf("adopt returned %d: %s", w.Code, w.Body.String())
	}
	var adopted map[string]any
	decode(t, w, &adopted)
	if adopted["rulesetId"] == first["rulesetId"] {
		t.Error("adoption must create a new rule-set version")
	}
}

func TestBaselineRejectsInvalidDocument(t *testing.T) {
	srv, _ := newTestServer(t)

	if w := doYAML(t, srv, http.MethodPost, "/baseline", "schema_version: 1\nentities: []\n"); w.Code != http.StatusBadRequest {
		t.Errorf("empty entities: status = %d, want 400", w.Code)
	}

	high := strings.Replace(testBaselineDoc, "priority: 5", "priority: 9", 1)
	if w := doYAML(t, srv, http.MethodPost, "/baseline", high); w.Code != http.StatusBadRequest {
		t.Errorf("high priority: status = %d, want 400", w.Code)
	}
}

func TestSaveRuleRejectsManagedGroup(t *testing.T) {
	srv, repo := newTestServer(t)

	w := doYAML(t, srv, http.MethodPost, "/baseline", testBaselineDoc)
	if w.Code != http.StatusCreated {
		t.Fatalf("instantiate returned %d", w.Code)
	}

	rs, err := repo.ActiveBaseline(context.Background(), 5)
	if err != nil {
		t.Fatalf("ActiveBaseline failed: %v", err)
	}

	w = doJSON(t, srv, http.MethodPost, "/rules", SaveRuleRequest{
		GroupID: rs.Groups[0].ID,
		Name:    "sneaky override",
		Actions: []domain.Action{{Kind: domain.ActionFixed, Value: 999}},
	})
	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403: %s", w.Code, w.Body.String())
	}
}

func TestSaveRuleUserGroup(t *testing.T) {
	srv, _ := newTestServer(t)

	if w := doYAML(t, srv, http.MethodPost, "/import", testRulesDoc); w.Code != http.StatusCreated {
		t.Fatalf("import returned %d", w.Code)
	}

	w := doJSON(t, srv, http.MethodGet, "/rulesets", nil)
	var list struct {
		RuleSets []*domain.RuleSet `json:"rulesets"`
	}
	decode(t, w, &list)
	if len(list.RuleSets) != 1 {
		t.Fatalf("rulesets = %d, want 1", len(list.RuleSets))
	}

	w = doJSON(t, srv, http.MethodGet, "/rulesets/"+list.RuleSets[0].ID, nil)
	var rs domain.RuleSet
	decode(t, w, &rs)

	w = doJSON(t, srv, http.MethodPost, "/rules", SaveRuleRequest{
		GroupID: rs.Groups[0].ID,
		Name:    "refurb discount",
		Actions: []domain.Action{{Kind: domain.ActionPercent, Value: -10}},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("save rule returned %d: %s", w.Code, w.Body.String())
	}
	var rule domain.Rule
	decode(t, w, &rule)
	if rule.ID == "" || !rule.Active {
		t.Errorf("saved rule = %+v", rule)
	}
}

func TestExportExcludesBaseline(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doYAML(t, srv, http.MethodPost, "/baseline", testBaselineDoc)
	if w.Code != http.StatusCreated {
		t.Fatalf("instantiate returned %d", w.Code)
	}
	var resp map[string]any
	decode(t, w, &resp)
	id := resp["rulesetId"].(string)

	if w := doJSON(t, srv, http.MethodGet, "/rulesets/"+id+"/export", nil); w.Code != http.StatusForbidden {
		t.Errorf("baseline export without flag: status = %d, want 403", w.Code)
	}

	w = doJSON(t, srv, http.MethodGet, "/rulesets/"+id+"/export?include_baseline=true", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("baseline export with flag: status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/yaml" {
		t.Errorf("content type = %q", ct)
	}
	if !strings.Contains(w.Body.String(), "system_baseline: true") {
		t.Error("exported document must mark the baseline ownership")
	}
}

func TestImportModes(t *testing.T) {
	srv, _ := newTestServer(t)

	if w := doYAML(t, srv, http.MethodPost, "/import?mode=merge", testRulesDoc); w.Code != http.StatusBadRequest {
		t.Errorf("unknown mode: status = %d, want 400", w.Code)
	}

	// Version mode always creates a fresh rule-set.
	for i := 0; i < 2; i++ {
		if w := doYAML(t, srv, http.MethodPost, "/import", testRulesDoc); w.Code != http.StatusCreated {
			t.Fatalf("import %d returned %d", i, w.Code)
		}
	}
	w := doJSON(t, srv, http.MethodGet, "/rulesets", nil)
	var list struct {
		Count int `json:"count"`
	}
	decode(t, w, &list)
	if list.Count != 2 {
		t.Errorf("rulesets = %d, want 2", list.Count)
	}
}

func TestHealthAndReady(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doJSON(t, srv, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("health returned %d", w.Code)
	}
	var health map[string]string
	decode(t, w, &health)
	if health["status"] != "healthy" || health["version"] != "test" {
		t.Errorf("health = %v", health)
	}

	if w := doJSON(t, srv, http.MethodGet, "/ready", nil); w.Code != http.StatusOK {
		t.Errorf("ready returned %d", w.Code)
	}
}

func TestPriceTargetNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	if w := doJSON(t, srv, http.MethodGet, "/pricetargets/unknown-cpu", nil); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}
