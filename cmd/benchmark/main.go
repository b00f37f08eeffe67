// Benchmark tool for measuring Harrier pipeline latency over HTTP.
//
// Usage:
//   go run cmd/benchmark/main.go -url http://localhost:8080 -requests 2000
//
// This tool:
//   1. Reads the filter domain from GET /options
//   2. Sends randomized filter criteria to GET /insights and GET /aggregates
//   3. Tracks latency percentiles, cache hits and finding counts
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"gonum.org/v1/gonum/stat"
)

// FilterOptions mirrors the GET /options response.
type FilterOptions struct {
	Departments []string `json:"departments"`
	Genders     []string `json:"genders"`
	YearMin     int      `json:"yearMin"`
	YearMax     int      `json:"yearMax"`
}

// InsightReport is the subset of the GET /insights response the benchmark reads.
type InsightReport struct {
	Findings []struct {
		Severity string `json:"severity"`
	} `json:"findings"`
	Metadata struct {
		ViewSize int   `json:"viewSize"`
		TotalMs  int64 `json:"totalMs"`
		Cached   bool  `json:"cached"`
	} `json:"metadata"`
}

// Metrics tracks benchmark results
type Metrics struct {
	TotalProcessed int64
	TotalErrors    int64
	CacheHits      int64
	EmptyViews     int64
	Findings       int64
	HighFindings   int64

	mu        sync.Mutex
	latencies []float64 // ms
}

func (m *Metrics) record(latency time.Duration) {
	m.mu.Lock()
	m.latencies = append(m.latencies, float64(latency.Microseconds())/1000)
	m.mu.Unlock()
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "Harrier base URL")
	requests := flag.Int("requests", 1000, "Number of requests to send")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	seed := flag.Uint64("seed", 42, "Seed for randomized criteria")
	aggregateRatio := flag.Float64("aggregates", 0.3, "Share of requests sent to /aggregates (0.0-1.0)")
	verbose := flag.Bool("verbose", false, "Print each request result")
	flag.Parse()

	fmt.Println("HARRIER BENCHMARK - insight pipeline latency")
	fmt.Printf("\nHarrier URL: %s\n", *baseURL)
	fmt.Printf("Requests:    %d\n", *requests)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Seed:        %d\n", *seed)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Harrier not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Harrier is running:")
		fmt.Println("  go run ./cmd/harrier serve")
		os.Exit(1)
	}
	fmt.Println("Harrier is healthy")

	opts, err := fetchOptions(*baseURL)
	if err != nil {
		fmt.Printf("ERROR: Failed to read options: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Filter domain: %d departments, years %d-%d\n", len(opts.Departments), opts.YearMin, opts.YearMax)

	targets := buildTargets(*baseURL, opts, *requests, *aggregateRatio, *seed)

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(targets, *workers, *verbose)
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

func fetchOptions(baseURL string) (*FilterOptions, error) {
	resp, err := http.Get(baseURL + "/options")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	var opts FilterOptions
	if err := json.NewDecoder(resp.Body).Decode(&opts); err != nil {
		return nil, err
	}
	return &opts, nil
}

// buildTargets draws random criteria from the filter domain. Each dimension
// is left open about half the time so cache hits occur naturally.
func buildTargets(baseURL string, opts *FilterOptions, n int, aggregateRatio float64, seed uint64) []string {
	rng := rand.New(rand.NewPCG(seed, seed))
	groupings := []string{"department", "reason", "gender", "year", "department,gender", "age_band"}

	targets := make([]string, 0, n)
	for i := 0; i < n; i++ {
		q := url.Values{}
		if len(opts.Departments) > 0 && rng.IntN(2) == 0 {
			q.Set("department", opts.Departments[rng.IntN(len(opts.Departments))])
		}
		if len(opts.Genders) > 0 && rng.IntN(2) == 0 {
			q.Set("gender", opts.Genders[rng.IntN(len(opts.Genders))])
		}
		if span := opts.YearMax - opts.YearMin; span > 0 && rng.IntN(2) == 0 {
			from := opts.YearMin + rng.IntN(span+1)
			q.Set("year_from", strconv.Itoa(from))
			q.Set("year_to", strconv.Itoa(from+rng.IntN(opts.YearMax-from+1)))
		}

		path := "/insights"
		if rng.Float64() < aggregateRatio {
			path = "/aggregates"
			q.Set("group_by", groupings[rng.IntN(len(groupings))])
		}
		targets = append(targets, baseURL+path+"?"+q.Encode())
	}
	return targets
}

func runBenchmark(targets []string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{latencies: make([]float64, 0, len(targets))}

	work := make(chan string, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for target := range work {
				start := time.Now()
				rep, err := fetch(client, target)
				elapsed := time.Since(start)

				metrics.record(elapsed)
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", target, err)
					}
					continue
				}
				if rep == nil {
					continue
				}

				if rep.Metadata.Cached {
					atomic.AddInt64(&metrics.CacheHits, 1)
				}
				if rep.Metadata.ViewSize == 0 {
					atomic.AddInt64(&metrics.EmptyViews, 1)
				}
				atomic.AddInt64(&metrics.Findings, int64(len(rep.Findings)))
				for _, f := range rep.Findings {
					if f.Severity == "high" {
						atomic.AddInt64(&metrics.HighFindings, 1)
					}
				}

				if verbose {
					fmt.Printf("%-6s %7.2f ms | view %5d | findings %2d | %s\n",
						cacheLabel(rep.Metadata.Cached),
						float64(elapsed.Microseconds())/1000,
						rep.Metadata.ViewSize,
						len(rep.Findings),
						target,
					)
				}
			}
		}()
	}

	for _, t := range targets {
		work <- t
	}
	close(work)

	wg.Wait()

	return metrics
}

// fetch issues one request. Only /insights responses are decoded.
func fetch(client *http.Client, target string) (*InsightReport, error) {
	resp, err := client.Get(target)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	u, err := url.Parse(target)
	if err != nil || u.Path != "/insights" {
		return nil, nil
	}

	var rep InsightReport
	if err := json.NewDecoder(resp.Body).Decode(&rep); err != nil {
		return nil, err
	}
	return &rep, nil
}

func cacheLabel(cached bool) string {
	if cached {
		return "HIT"
	}
	return "MISS"
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\nBENCHMARK RESULTS")

	fmt.Printf("\nREQUESTS\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)
	fmt.Printf("   Cache Hits:       %d\n", m.CacheHits)
	fmt.Printf("   Empty Views:      %d\n", m.EmptyViews)

	fmt.Printf("\nINSIGHTS\n")
	fmt.Printf("   Findings:         %d\n", m.Findings)
	fmt.Printf("   High Severity:    %d\n", m.HighFindings)

	fmt.Printf("\nPERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if len(m.latencies) > 0 {
		sort.Float64s(m.latencies)
		fmt.Printf("   Mean Latency:     %.2f ms\n", stat.Mean(m.latencies, nil))
		fmt.Printf("   p50 Latency:      %.2f ms\n", stat.Quantile(0.50, stat.Empirical, m.latencies, nil))
		fmt.Printf("   p95 Latency:      %.2f ms\n", stat.Quantile(0.95, stat.Empirical, m.latencies, nil))
		fmt.Printf("   p99 Latency:      %.2f ms\n", stat.Quantile(0.99, stat.Empirical, m.latencies, nil))
		fmt.Printf("   Throughput:       %.2f req/sec\n", float64(m.TotalProcessed)/duration.Seconds())
	}

	fmt.Println()
}
