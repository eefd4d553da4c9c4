package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/openresale/harrier/internal/analytics"
	"github.com/openresale/harrier/internal/baseline"
	"github.com/openresale/harrier/internal/domain"
	"github.com/openresale/harrier/internal/pack"
	"github.com/openresale/harrier/internal/repository"
	"github.com/openresale/harrier/internal/worker"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	revaluer  *worker.Worker
	baselines *baseline.Service
	packer    *pack.Service
	stats     *analytics.Service
	version   string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, revaluer *worker.Worker, baselines *baseline.Service, packer *pack.Service, stats *analytics.Service, version string) *Handler {
	return &Handler{
		repo:      repo,
		cache:     cache,
		bus:       bus,
		revaluer:  revaluer,
		baselines: baselines,
		packer:    packer,
		stats:     stats,
		version:   version,
	}
}

// ============================================================================
// LISTING + EVALUATION HANDLERS
// ============================================================================

// ValuationResponse is the response for listing creation and evaluation.
type ValuationResponse struct {
	Listing   *domain.Listing   `json:"listing"`
	Valuation *domain.Valuation `json:"valuation"`
}

// CreateListing handles POST /listings: persists the listing and values it
// against the active rule-sets in one round trip.
func (h *Handler) CreateListing(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req domain.ListingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.Title == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "title is required",
		})
		return
	}
	if req.BasePrice <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "basePrice must be positive",
		})
		return
	}

	listing := req.ToListing()
	listing.ID = uuid.New().String()

	snap, err := h.revaluer.Snapshot(ctx)
	if err != nil {
		h.writeError(w, err)
		return
	}

	val, err := h.revaluer.Revalue(ctx, snap, listing)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, ValuationResponse{
		Listing:   listing,
		Valuation: val,
	})
}

// GetListing handles GET /listings/{id}.
func (h *Handler) GetListing(w http.ResponseWriter, r *http.Request) {
	listing, err := h.repo.GetListing(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

// GetValuation handles GET /listings/{id}/valuation, serving the cached
// breakdown when present and falling back to the persisted copy.
func (h *Handler) GetValuation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	listingID := chi.URLParam(r, "id")

	if h.cache != nil {
		if val, err := h.cache.GetValuation(ctx, listingID); err == nil && val != nil {
			writeJSON(w, http.StatusOK, val)
			return
		}
	}

	val, err := h.repo.GetValuation(ctx, listingID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, val)
}

// EvaluateListing handles POST /listings/{id}/evaluate: re-values one
// listing synchronously against a fresh snapshot.
func (h *Handler) EvaluateListing(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	listing, err := h.repo.GetListing(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	snap, err := h.revaluer.Snapshot(ctx)
	if err != nil {
		h.writeError(w, err)
		return
	}

	val, err := h.revaluer.Revalue(ctx, snap, listing)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ValuationResponse{
		Listing:   listing,
		Valuation: val,
	})
}

// RecalculateRequest is the optional body for POST /recalculate.
type RecalculateRequest struct {
	ListingIDs []string `json:"listingIds,omitempty"`
	Reason     string   `json:"reason,omitempty"`
}

// Recalculate handles POST /recalculate: enqueues a batch revaluation on
// the event bus and returns immediately.
func (h *Handler) Recalculate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req RecalculateRequest
	if r.Body != nil {
		// Empty body means everything.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	payload, _ := json.Marshal(worker.RecalcMessage{
		ListingIDs: req.ListingIDs,
		TraceID:    GetTraceID(ctx),
		Reason:     req.Reason,
	})

	if err := h.bus.Publish(ctx, domain.TopicRecalcRequested, payload); err != nil {
		slog.Error("failed to enqueue recalculation", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to enqueue recalculation",
		})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"enqueued": true,
		"listings": len(req.ListingIDs),
	})
}

// ============================================================================
// RULE-SET HANDLERS
// ============================================================================

// ListRuleSets handles GET /rulesets.
func (h *Handler) ListRuleSets(w http.ResponseWriter, r *http.Request) {
	sets, err := h.repo.ListRuleSets(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"rulesets": sets,
		"count":    len(sets),
	})
}

// GetRuleSet handles GET /rulesets/{id}.
func (h *Handler) GetRuleSet(w http.ResponseWriter, r *http.Request) {
	rs, err := h.repo.GetRuleSet(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rs)
}

// HydrateRuleSet handles POST /rulesets/{id}/hydrate: expands every
// placeholder rule in the set and reports {hydrated, skipped, failed}.
func (h *Handler) HydrateRuleSet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rulesetID := chi.URLParam(r, "id")

	summary, err := h.baselines.HydrateRuleSet(ctx, rulesetID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.publishEvent(ctx, domain.TopicRuleSetHydrated, summary)
	h.invalidate(ctx)

	writeJSON(w, http.StatusOK, summary)
}

// SaveRuleRequest is the request body for POST /rules.
type SaveRuleRequest struct {
	ID          string            `json:"id,omitempty"`
	GroupID     string            `json:"groupId"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Active      *bool             `json:"active,omitempty"`
	Condition   *domain.Condition `json:"condition,omitempty"`
	Actions     []domain.Action   `json:"actions"`
	Metadata    map[string]any    `json:"metadata,omitempty"`
}

// SaveRule handles POST /rules: creates or updates a rule through the
// user write path. Rules in basic-managed groups are rejected.
func (h *Handler) SaveRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req SaveRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.GroupID == "" || req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "groupId and name are required",
		})
		return
	}
	if len(req.Actions) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "at least one action is required",
		})
		return
	}

	now := time.Now().UTC()
	created := req.ID == ""
	if created {
		req.ID = uuid.New().String()
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	rule := &domain.Rule{
		ID:          req.ID,
		GroupID:     req.GroupID,
		Name:        req.Name,
		Description: req.Description,
		Active:      active,
		Condition:   req.Condition,
		Actions:     req.Actions,
		Metadata:    req.Metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := h.repo.SaveRule(ctx, rule); err != nil {
		h.writeError(w, err)
		return
	}

	h.invalidate(ctx)

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	slog.Info("rule saved", "id", rule.ID, "name", rule.Name, "group_id", rule.GroupID)
	writeJSON(w, status, rule)
}

// ============================================================================
// BASELINE HANDLERS
// ============================================================================

// GetBaseline handles GET /baseline: metadata of the active baseline.
func (h *Handler) GetBaseline(w http.ResponseWriter, r *http.Request) {
	rs, err := h.baselines.ActiveBaseline(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	rules := 0
	for _, g := range rs.Groups {
		rules += len(g.Rules)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"rulesetId":  rs.ID,
		"name":       rs.Name,
		"version":    rs.Version,
		"priority":   rs.Priority,
		"sourceHash": rs.SourceHash,
		"groups":     len(rs.Groups),
		"rules":      rules,
		"createdAt":  rs.CreatedAt,
	})
}

// InstantiateBaseline handles POST /baseline: ingests a declarative
// baseline document (YAML body). Idempotent on document hash: re-posting
// an identical document returns 200 with created false.
func (h *Handler) InstantiateBaseline(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	raw, err := io.ReadAll(r.Body)
	if err != nil || len(raw) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "document body is required",
		})
		return
	}

	rs, created, err := h.baselines.Instantiate(ctx, raw)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if created {
		h.publishEvent(ctx, domain.TopicBaselineAdopted, map[string]string{
			"rulesetId": rs.ID,
			"version":   rs.Version,
		})
		h.invalidate(ctx)
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{
		"rulesetId": rs.ID,
		"version":   rs.Version,
		"created":   created,
	})
}

// DiffBaseline handles POST /baseline/diff: compares a candidate document
// (YAML body) against the active baseline without changing anything.
func (h *Handler) DiffBaseline(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil || len(raw) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "document body is required",
		})
		return
	}

	diff, err := h.baselines.Diff(r.Context(), raw)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, diff)
}

// AdoptRequest is the request body for POST /baseline/adopt. Document is
// the candidate YAML; Selected picks the changes to apply (empty means
// all).
type AdoptRequest struct {
	Document string                    `json:"document"`
	Selected []baseline.ChangeSelector `json:"selected,omitempty"`
}

// AdoptBaseline handles POST /baseline/adopt: applies selected changes
// from a candidate document as a new baseline version.
func (h *Handler) AdoptBaseline(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req AdoptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.Document == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "document is required",
		})
		return
	}

	rs, err := h.baselines.Adopt(ctx, []byte(req.Document), req.Selected)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.publishEvent(ctx, domain.TopicBaselineAdopted, map[string]string{
		"rulesetId": rs.ID,
		"version":   rs.Version,
	})
	h.invalidate(ctx)

	writeJSON(w, http.StatusCreated, map[string]any{
		"rulesetId": rs.ID,
		"version":   rs.Version,
	})
}

// ============================================================================
// PACKAGING HANDLERS
// ============================================================================

// ExportRuleSet handles GET /rulesets/{id}/export.
func (h *Handler) ExportRuleSet(w http.ResponseWriter, r *http.Request) {
	includeBaseline := r.URL.Query().Get("include_baseline") == "true"

	doc, err := h.packer.Export(r.Context(), chi.URLParam(r, "id"), includeBaseline)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeYAML(w, doc)
}

// ExportAll handles GET /export. Baseline-owned rule-sets are omitted
// unless include_baseline=true.
func (h *Handler) ExportAll(w http.ResponseWriter, r *http.Request) {
	includeBaseline := r.URL.Query().Get("include_baseline") == "true"

	doc, err := h.packer.ExportAll(r.Context(), includeBaseline)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeYAML(w, doc)
}

// Import handles POST /import?mode=version|replace with a YAML body.
func (h *Handler) Import(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	mode := r.URL.Query().Get("mode")
	if mode == "" {
		mode = pack.ModeVersion
	}

	raw, err := io.ReadAll(r.Body)
	if err != nil || len(raw) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "document body is required",
		})
		return
	}

	results, err := h.packer.Import(ctx, raw, mode)
	if err != nil {
		h.writeError(w, err)
		return
	}

	created := false
	for _, res := range results {
		if res.Created {
			created = true
		}
	}
	if created {
		h.publishEvent(ctx, domain.TopicRuleSetImported, results)
		h.invalidate(ctx)
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{
		"imported": results,
		"created":  created,
	})
}

// ============================================================================
// ANALYTICS HANDLERS
// ============================================================================

// GetPriceTarget handles GET /pricetargets/{cpu}.
func (h *Handler) GetPriceTarget(w http.ResponseWriter, r *http.Request) {
	pt, err := h.repo.GetPriceTarget(r.Context(), "cpu", chi.URLParam(r, "cpu"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pt)
}

// ListPerformanceValues handles GET /performance.
func (h *Handler) ListPerformanceValues(w http.ResponseWriter, r *http.Request) {
	values, err := h.repo.ListPerformanceValues(r.Context(), "cpu")
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"values": values,
		"count":  len(values),
	})
}

// RefreshAnalytics handles POST /analytics/refresh.
func (h *Handler) RefreshAnalytics(w http.ResponseWriter, r *http.Request) {
	summary, err := h.stats.Refresh(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// ============================================================================
// HEALTH HANDLERS
// ============================================================================

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// ============================================================================
// HELPERS
// ============================================================================

// writeError maps service errors to HTTP statuses.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, baseline.ErrNoBaseline):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, repository.ErrGroupManaged):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": err.Error()})
	case errors.Is(err, pack.ErrBaselineExcluded):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, baseline.ErrInvalidDocument),
		errors.Is(err, baseline.ErrInvalidPriority),
		errors.Is(err, pack.ErrInvalidDocument),
		errors.Is(err, pack.ErrInvalidMode):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	default:
		slog.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
}

// publishEvent publishes a JSON payload, logging failures without
// surfacing them to the client.
func (h *Handler) publishEvent(ctx context.Context, topic string, payload any) {
	if h.bus == nil {
		return
	}
	data, _ := json.Marshal(payload)
	if err := h.bus.Publish(ctx, topic, data); err != nil {
		slog.Warn("failed to publish event", "topic", topic, "error", err)
	}
}

// invalidate drops cached valuations after any rule population change.
func (h *Handler) invalidate(ctx context.Context) {
	if h.cache == nil {
		return
	}
	if err := h.cache.InvalidateValuations(ctx); err != nil {
		slog.Warn("failed to invalidate valuation cache", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeYAML(w http.ResponseWriter, doc []byte) {
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	w.Write(doc)
}
