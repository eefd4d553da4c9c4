// Package worker provides batch revaluation of listings.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/openresale/harrier/internal/domain"
	"github.com/openresale/harrier/internal/pricing"
)

// Worker revalues listings against the active rule-sets. It serves both
// the synchronous recalculation endpoint and the async bus pipeline.
// Each batch loads one immutable snapshot of the active rule-sets and
// fans listings out over a bounded pool.
type Worker struct {
	bus          domain.EventBus
	repo         domain.Repository
	cache        domain.Cache
	orchestrator *pricing.Orchestrator
	thresholds   domain.LayerThresholds
	workers      int

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewWorker creates a revaluation worker.
func NewWorker(bus domain.EventBus, repo domain.Repository, cache domain.Cache, orchestrator *pricing.Orchestrator, thresholds domain.LayerThresholds, workers int) *Worker {
	if workers <= 0 {
		workers = 8
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:          bus,
		repo:         repo,
		cache:        cache,
		orchestrator: orchestrator,
		thresholds:   thresholds,
		workers:      workers,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start subscribes to the recalculation topic.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicRecalcRequested, w.handleRecalc)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("revaluation worker started",
		"topic", domain.TopicRecalcRequested,
		"workers", w.workers,
	)
	return nil
}

// RecalcMessage is the payload on the recalculation topic. An empty
// ListingIDs slice means every listing.
type RecalcMessage struct {
	ListingIDs []string `json:"listingIds,omitempty"`
	TraceID    string   `json:"traceId,omitempty"`
	Reason     string   `json:"reason,omitempty"`
}

// RevaluedMessage is published per listing after revaluation.
type RevaluedMessage struct {
	ListingID     string  `json:"listingId"`
	ValuationID   string  `json:"valuationId"`
	BasePrice     float64 `json:"basePrice"`
	AdjustedPrice float64 `json:"adjustedPrice"`
	RulesApplied  int     `json:"rulesApplied"`
}

// Summary reports the outcome of a batch recalculation.
type Summary struct {
	Total      int   `json:"total"`
	Revalued   int   `json:"revalued"`
	Failed     int   `json:"failed"`
	DurationMs int64 `json:"durationMs"`
}

func (w *Worker) handleRecalc(ctx context.Context, msg *domain.Message) error {
	var req RecalcMessage
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		slog.Error("failed to parse recalc message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	summary, err := w.Recalculate(ctx, req.ListingIDs)
	if err != nil {
		slog.Error("batch recalculation failed",
			"message_id", msg.ID,
			"trace_id", req.TraceID,
			"error", err,
		)
		return err
	}

	slog.Info("batch recalculation complete",
		"trace_id", req.TraceID,
		"reason", req.Reason,
		"total", summary.Total,
		"revalued", summary.Revalued,
		"failed", summary.Failed,
		"duration_ms", summary.DurationMs,
	)
	return nil
}

// Recalculate revalues the given listings, or every listing when ids is
// empty. One rule-set snapshot is shared by the whole batch, so listings
// evaluated concurrently all see the same rule population. Cancellation
// is checked between listings, never mid-listing.
func (w *Worker) Recalculate(ctx context.Context, ids []string) (*Summary, error) {
	start := time.Now()

	snap, err := w.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	listings, err := w.loadListings(ctx, ids)
	if err != nil {
		return nil, err
	}

	summary := &Summary{Total: len(listings)}

	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, w.workers)

	for _, listing := range listings {
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(l *domain.Listing) {
			defer wg.Done()
			defer func() { <-sem }()

			_, err := w.Revalue(ctx, snap, l)

			mu.Lock()
			if err != nil {
				summary.Failed++
			} else {
				summary.Revalued++
			}
			mu.Unlock()

			if err != nil {
				slog.Error("listing revaluation failed",
					"listing_id", l.ID,
					"error", err,
				)
			}
		}(listing)
	}

	wg.Wait()

	summary.DurationMs = time.Since(start).Milliseconds()
	if err := ctx.Err(); err != nil {
		return summary, err
	}
	return summary, nil
}

// Snapshot loads the active rule-sets into an immutable snapshot.
func (w *Worker) Snapshot(ctx context.Context) (*pricing.Snapshot, error) {
	sets, err := w.repo.ListActiveRuleSets(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading active rule-sets: %w", err)
	}
	return pricing.NewSnapshot(sets, w.thresholds), nil
}

// Revalue evaluates one listing against a snapshot, persists the result
// and publishes the revalued event. The listing's adjusted price is
// updated in place.
func (w *Worker) Revalue(ctx context.Context, snap *pricing.Snapshot, listing *domain.Listing) (*domain.Valuation, error) {
	val := w.orchestrator.EvaluateListing(ctx, snap, listing)

	listing.AdjustedPrice = val.AdjustedPrice
	listing.UpdatedAt = time.Now().UTC()

	if err := w.repo.SaveListing(ctx, listing); err != nil {
		return nil, fmt.Errorf("saving listing: %w", err)
	}
	if err := w.repo.SaveValuation(ctx, val); err != nil {
		return nil, fmt.Errorf("saving valuation: %w", err)
	}

	if w.cache != nil {
		if err := w.cache.SetValuation(ctx, listing.ID, val, 15*time.Minute); err != nil {
			slog.Warn("failed to cache valuation",
				"listing_id", listing.ID,
				"error", err,
			)
		}
	}

	if w.bus != nil {
		payload, _ := json.Marshal(RevaluedMessage{
			ListingID:     listing.ID,
			ValuationID:   val.ID,
			BasePrice:     val.BasePrice,
			AdjustedPrice: val.AdjustedPrice,
			RulesApplied:  val.RulesApplied,
		})
		if err := w.bus.Publish(ctx, domain.TopicListingRevalued, payload); err != nil {
			slog.Warn("failed to publish revalued event",
				"listing_id", listing.ID,
				"error", err,
			)
		}
	}

	return val, nil
}

func (w *Worker) loadListings(ctx context.Context, ids []string) ([]*domain.Listing, error) {
	if len(ids) == 0 {
		return w.repo.ListListings(ctx)
	}

	listings := make([]*domain.Listing, 0, len(ids))
	for _, id := range ids {
		listing, err := w.repo.GetListing(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("loading listing %s: %w", id, err)
		}
		listings = append(listings, listing)
	}
	return listings, nil
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("revaluation worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	PoolSize          int      `json:"poolSize"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		PoolSize:          w.workers,
	}
}
