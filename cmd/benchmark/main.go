// Benchmark tool for load-testing Harrier with synthetic listings.
//
// Usage:
//
//	go run cmd/benchmark/main.go -url http://localhost:8080 -count 10000
//
// This tool:
//  1. Generates synthetic computer listings across CPU/RAM/GPU/storage tiers
//  2. Posts each listing to Harrier for valuation
//  3. Reports latency percentiles, throughput, and adjustment distribution
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/montanaflynn/stats"
)

// ListingRequest matches Harrier's POST /listings body.
type ListingRequest struct {
	Title      string         `json:"title"`
	BasePrice  float64        `json:"basePrice"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// ValuationResponse is the subset of the response the benchmark reads.
type ValuationResponse struct {
	Listing struct {
		ID            string  `json:"id"`
		BasePrice     float64 `json:"basePrice"`
		AdjustedPrice float64 `json:"adjustedPrice"`
	} `json:"listing"`
	Valuation struct {
		ID           string `json:"id"`
		RulesApplied int    `json:"rulesApplied"`
	} `json:"valuation"`
}

// Metrics tracks benchmark results.
type Metrics struct {
	TotalProcessed int64
	TotalErrors    int64
	RulesApplied   int64

	mu         sync.Mutex
	latencies  []float64
	deltas     []float64
	adjustedUp int64
	adjustedDn int64
}

var (
	cpuTiers     = []string{"entry", "mainstream", "performance", "enthusiast"}
	ramTypes     = []string{"ddr3", "ddr4", "ddr5"}
	gpuTiers     = []string{"integrated", "midrange", "highend"}
	storageTypes = []string{"hdd", "sata_ssd", "nvme"}
	conditions   = []string{"new", "like_new", "good", "fair", "poor"}
	cpuModels    = []string{"i5-12400", "i7-13700", "ryzen-5-5600", "ryzen-7-7700", "i3-10100"}
)

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "Harrier base URL")
	count := flag.Int("count", 1000, "Number of listings to generate")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	seed := flag.Int64("seed", 42, "PRNG seed for reproducible listings")
	verbose := flag.Bool("verbose", false, "Print each valuation result")
	flag.Parse()

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║          HARRIER BENCHMARK - Synthetic Listing Load           ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nHarrier URL: %s\n", *baseURL)
	fmt.Printf("Listings:    %d\n", *count)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Seed:        %d\n", *seed)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Harrier not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Harrier is running:")
		fmt.Println("  go run cmd/harrier/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Harrier is healthy")

	rng := rand.New(rand.NewSource(*seed))
	listings := make([]ListingRequest, *count)
	for i := range listings {
		listings[i] = syntheticListing(rng, i)
	}
	fmt.Printf("✓ Generated %d synthetic listings\n", len(listings))

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(listings, *baseURL, *workers, *verbose)
	duration := time.Since(startTime)

	printResults(metrics, duration)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func syntheticListing(rng *rand.Rand, i int) ListingRequest {
	model := cpuModels[rng.Intn(len(cpuModels))]
	basePrice := 150 + rng.Float64()*1850 // $150 - $2000
	return ListingRequest{
		Title:     fmt.Sprintf("Desktop %s #%d", model, i),
		BasePrice: float64(int(basePrice*100)) / 100,
		Attributes: map[string]any{
			"condition": conditions[rng.Intn(len(conditions))],
			"age_years": float64(rng.Intn(8)),
			"cpu": map[string]any{
				"model":     model,
				"tier":      cpuTiers[rng.Intn(len(cpuTiers))],
				"age_years": float64(rng.Intn(8)),
				"score":     5000 + rng.Float64()*25000,
			},
			"ram": map[string]any{
				"type":        ramTypes[rng.Intn(len(ramTypes))],
				"capacity_gb": float64([]int{8, 16, 32, 64}[rng.Intn(4)]),
			},
			"gpu": map[string]any{
				"tier": gpuTiers[rng.Intn(len(gpuTiers))],
			},
			"storage": map[string]any{
				"type": storageTypes[rng.Intn(len(storageTypes))],
			},
		},
	}
}

func runBenchmark(listings []ListingRequest, baseURL string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	work := make(chan ListingRequest, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for req := range work {
				start := time.Now()
				result, err := valueListing(client, baseURL, req)
				elapsed := float64(time.Since(start).Microseconds()) / 1000

				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", req.Title, err)
					}
					continue
				}

				delta := result.Listing.AdjustedPrice - result.Listing.BasePrice
				if delta > 0 {
					atomic.AddInt64(&metrics.adjustedUp, 1)
				} else if delta < 0 {
					atomic.AddInt64(&metrics.adjustedDn, 1)
				}
				atomic.AddInt64(&metrics.RulesApplied, int64(result.Valuation.RulesApplied))

				metrics.mu.Lock()
				metrics.latencies = append(metrics.latencies, elapsed)
				metrics.deltas = append(metrics.deltas, delta)
				metrics.mu.Unlock()

				if verbose {
					fmt.Printf("✓ %-28s | Base: $%8.2f | Adjusted: $%8.2f | Rules: %2d | %6.2fms\n",
						req.Title,
						result.Listing.BasePrice,
						result.Listing.AdjustedPrice,
						result.Valuation.RulesApplied,
						elapsed,
					)
				}
			}
		}()
	}

	for _, req := range listings {
		work <- req
	}
	close(work)

	wg.Wait()

	return metrics
}

func valueListing(client *http.Client, baseURL string, req ListingRequest) (*ValuationResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/listings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result ValuationResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 THROUGHPUT\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		fmt.Printf("   Throughput:       %.2f listings/sec\n", float64(m.TotalProcessed)/duration.Seconds())
	}

	if len(m.latencies) > 0 {
		mean, _ := stats.Mean(m.latencies)
		p50, _ := stats.Percentile(m.latencies, 50)
		p95, _ := stats.Percentile(m.latencies, 95)
		p99, _ := stats.Percentile(m.latencies, 99)
		max, _ := stats.Max(m.latencies)

		fmt.Printf("\n⏱️  LATENCY (ms)\n")
		fmt.Printf("   Mean:  %8.2f\n", mean)
		fmt.Printf("   p50:   %8.2f\n", p50)
		fmt.Printf("   p95:   %8.2f\n", p95)
		fmt.Printf("   p99:   %8.2f\n", p99)
		fmt.Printf("   Max:   %8.2f\n", max)
	}

	if len(m.deltas) > 0 {
		meanDelta, _ := stats.Mean(m.deltas)
		minDelta, _ := stats.Min(m.deltas)
		maxDelta, _ := stats.Max(m.deltas)
		ok := int64(len(m.deltas))

		fmt.Printf("\n💰 ADJUSTMENT DISTRIBUTION\n")
		fmt.Printf("   Mean Delta:    $%10.2f\n", meanDelta)
		fmt.Printf("   Min Delta:     $%10.2f\n", minDelta)
		fmt.Printf("   Max Delta:     $%10.2f\n", maxDelta)
		fmt.Printf("   Adjusted Up:   %d / %d (%.1f%%)\n", m.adjustedUp, ok, 100*float64(m.adjustedUp)/float64(ok))
		fmt.Printf("   Adjusted Down: %d / %d (%.1f%%)\n", m.adjustedDn, ok, 100*float64(m.adjustedDn)/float64(ok))
		fmt.Printf("   Avg Rules Hit: %.1f\n", float64(m.RulesApplied)/float64(ok))
	}

	fmt.Println()
}
