// Package analytics computes derived pricing statistics from valued
// listings: per-CPU price targets (mean/stddev bands with a confidence
// tier) and performance-per-price rankings. These feed the read-side UI;
// the rule engine never consumes them.
package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/montanaflynn/stats"

	"github.com/openresale/harrier/internal/domain"
	"github.com/openresale/harrier/internal/pricing"
)

// Sample-size thresholds for the confidence tiers.
const (
	highSamples   = 30
	mediumSamples = 10
	lowSamples    = 3
)

// Service computes price targets and performance values across listings.
type Service struct {
	repo   domain.Repository
	logger *slog.Logger
}

func NewService(repo domain.Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger}
}

// RefreshSummary reports what a refresh run produced.
type RefreshSummary struct {
	Listings          int `json:"listings"`
	PriceTargets      int `json:"price_targets"`
	PerformanceValues int `json:"performance_values"`
}

type cpuSample struct {
	prices []float64
	scores []float64
}

// Refresh recomputes all price targets and performance values from the
// current listing population and persists them. Listings without a CPU
// model attribute are skipped.
func (s *Service) Refresh(ctx context.Context) (*RefreshSummary, error) {
	listings, err := s.repo.ListListings(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading listings: %w", err)
	}

	samples := make(map[string]*cpuSample)
	for _, l := range listings {
		model, ok := stringAttr(l.Attributes, "cpu.model")
		if !ok {
			continue
		}
		cs := samples[model]
		if cs == nil {
			cs = &cpuSample{}
			samples[model] = cs
		}
		price := l.AdjustedPrice
		if price <= 0 {
			price = l.BasePrice
		}
		cs.prices = append(cs.prices, price)
		if score, ok := numericAttr(l.Attributes, "cpu.score"); ok && price > 0 {
			cs.scores = append(cs.scores, score/price)
		}
	}

	summary := &RefreshSummary{Listings: len(listings)}
	now := time.Now().UTC()

	perf := make(map[string]float64, len(samples))
	for model, cs := range samples {
		target, err := priceTarget(model, cs.prices, now)
		if err != nil {
			s.logger.Warn("price target computation failed", "cpu", model, "error", err)
			continue
		}
		if err := s.repo.SavePriceTarget(ctx, target); err != nil {
			return nil, fmt.Errorf("saving price target for %s: %w", model, err)
		}
		summary.PriceTargets++

		if len(cs.scores) > 0 {
			mean, err := stats.Mean(cs.scores)
			if err != nil {
				continue
			}
			perf[model] = mean
		}
	}

	for model, value := range perf {
		pv := &domain.PerformanceValue{
			EntityType:   "cpu",
			EntityID:     model,
			PerfPerPrice: pricing.RoundCent(value),
			Percentile:   percentileOf(perf, value),
			SampleSize:   len(samples[model].scores),
			UpdatedAt:    now,
		}
		pv.Rating = ratingFor(pv.Percentile)
		if err := s.repo.SavePerformanceValue(ctx, pv); err != nil {
			return nil, fmt.Errorf("saving performance value for %s: %w", model, err)
		}
		summary.PerformanceValues++
	}

	s.logger.Info("analytics refresh complete",
		"listings", summary.Listings,
		"price_targets", summary.PriceTargets,
		"performance_values", summary.PerformanceValues)
	return summary, nil
}

func priceTarget(model string, prices []float64, now time.Time) (*domain.PriceTarget, error) {
	mean, err := stats.Mean(prices)
	if err != nil {
		return nil, err
	}
	stddev := 0.0
	if len(prices) > 1 {
		stddev, err = stats.StandardDeviationSample(prices)
		if err != nil {
			return nil, err
		}
	}
	return &domain.PriceTarget{
		EntityType: "cpu",
		EntityID:   model,
		Mean:       pricing.RoundCent(mean),
		StdDev:     pricing.RoundCent(stddev),
		Low:        pricing.RoundCent(mean - stddev),
		High:       pricing.RoundCent(mean + stddev),
		Target:     pricing.RoundCent(mean),
		SampleSize: len(prices),
		Confidence: confidenceFor(len(prices)),
		UpdatedAt:  now,
	}, nil
}

func confidenceFor(n int) string {
	switch {
	case n >= highSamples:
		return domain.ConfidenceHigh
	case n >= mediumSamples:
		return domain.ConfidenceMedium
	case n >= lowSamples:
		return domain.ConfidenceLow
	default:
		return domain.ConfidenceInsufficient
	}
}

func ratingFor(percentile float64) string {
	switch {
	case percentile >= 75:
		return domain.RatingExcellent
	case percentile >= 50:
		return domain.RatingGood
	case percentile >= 25:
		return domain.RatingFair
	default:
		return domain.RatingPoor
	}
}

// percentileOf ranks value within the population of per-CPU means.
// A population of one ranks at 100.
func percentileOf(population map[string]float64, value float64) float64 {
	if len(population) == 0 {
		return 0
	}
	values := make([]float64, 0, len(population))
	for _, v := range population {
		values = append(values, v)
	}
	sort.Float64s(values)

	below := 0
	for _, v := range values {
		if v <= value {
			below++
		}
	}
	return pricing.RoundCent(float64(below) / float64(len(values)) * 100)
}

func stringAttr(attrs map[string]any, path string) (string, bool) {
	v, ok := domain.LookupPath(attrs, path)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

func numericAttr(attrs map[string]any, path string) (float64, bool) {
	v, ok := domain.LookupPath(attrs, path)
	if !ok {
		return 0, false
	}
	return domain.CoerceFloat(v)
}
