// Benchmark tool for testing FraudGuard against a labeled transaction CSV.
//
// Usage:
//
//	go run ./cmd/benchmark -csv data/synthetic_transactions.csv -url http://localhost:8080
//
// This tool:
//  1. Reads labeled transactions (the generator CSV format)
//  2. Sends each transaction to POST /api/v1/predict
//  3. Treats a block action as a fraud prediction and compares with the label
//  4. Reports the confusion matrix, precision, recall, F1 and latency
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"slices"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/opensource-finance/fraudguard/internal/dataset"
	"github.com/opensource-finance/fraudguard/internal/domain"
)

// Metrics tracks benchmark results.
type Metrics struct {
	mu sync.Mutex

	TruePositives  int // Fraud blocked
	FalsePositives int // Legitimate blocked
	TrueNegatives  int // Legitimate not blocked
	FalseNegatives int // Fraud not blocked (missed fraud!)

	Actions   map[domain.Action]int
	Errors    int
	Latencies []float64 // milliseconds
}

func newMetrics() *Metrics {
	return &Metrics{Actions: make(map[domain.Action]int)}
}

// Record adds one assessed transaction.
func (m *Metrics) Record(actual bool, action domain.Action, latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Actions[action]++
	m.Latencies = append(m.Latencies, float64(latency.Microseconds())/1000)

	predicted := action == domain.ActionBlock
	switch {
	case predicted && actual:
		m.TruePositives++
	case predicted && !actual:
		m.FalsePositives++
	case !predicted && !actual:
		m.TrueNegatives++
	default:
		m.FalseNegatives++
	}
}

// RecordError counts a failed request.
func (m *Metrics) RecordError() {
	m.mu.Lock()
	m.Errors++
	m.mu.Unlock()
}

// Total is the number of assessed transactions.
func (m *Metrics) Total() int {
	return m.TruePositives + m.FalsePositives + m.TrueNegatives + m.FalseNegatives
}

// Precision is the share of blocks that were fraud.
func (m *Metrics) Precision() float64 {
	return ratio(m.TruePositives, m.TruePositives+m.FalsePositives)
}

// Recall is the share of fraud that was blocked.
func (m *Metrics) Recall() float64 {
	return ratio(m.TruePositives, m.TruePositives+m.FalseNegatives)
}

// F1 is the harmonic mean of precision and recall.
func (m *Metrics) F1() float64 {
	p, r := m.Precision(), m.Recall()
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

// Accuracy is the share of correct predictions.
func (m *Metrics) Accuracy() float64 {
	return ratio(m.TruePositives+m.TrueNegatives, m.Total())
}

// LatencyQuantile returns the q-quantile of request latency in milliseconds.
func (m *Metrics) LatencyQuantile(q float64) float64 {
	if len(m.Latencies) == 0 {
		return 0
	}
	sorted := slices.Clone(m.Latencies)
	slices.Sort(sorted)
	return stat.Quantile(q, stat.Empirical, sorted, nil)
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

func main() {
	// Parse flags
	csvPath := flag.String("csv", "", "Path to labeled transaction CSV")
	baseURL := flag.String("url", "http://localhost:8080", "FraudGuard base URL")
	tenantID := flag.String("tenant", "benchmark-test", "Tenant ID for requests")
	limit := flag.Int("limit", 10000, "Maximum transactions to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	prefix := flag.String("prefix", "", "Prefix added to tx_id so repeated runs are not served from cache")
	verbose := flag.Bool("verbose", false, "Print each transaction result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/transactions.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("FRAUDGUARD BENCHMARK")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	fmt.Printf("URL:         %s\n", *baseURL)
	fmt.Printf("Tenant ID:   %s\n", *tenantID)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Limit:       %d\n", *limit)
	fmt.Println()

	if err := checkReady(*baseURL); err != nil {
		fmt.Printf("ERROR: FraudGuard not ready at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure FraudGuard is running with a trained model:")
		fmt.Println("  go run ./cmd/fraudguard")
		os.Exit(1)
	}
	fmt.Println("FraudGuard is ready")

	rows, err := dataset.LoadFile(*csvPath)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	if *limit > 0 && len(rows) > *limit {
		rows = rows[:*limit]
	}

	s := dataset.Summarize(rows)
	fmt.Printf("Loaded %d transactions\n", s.Samples)
	fmt.Printf("  - Fraud:     %d (%.2f%%)\n", s.FraudSamples, 100*s.FraudRate())
	fmt.Printf("  - Non-fraud: %d\n", s.Samples-s.FraudSamples)

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	m := runBenchmark(rows, *baseURL, *tenantID, *prefix, *workers, *verbose)
	duration := time.Since(startTime)

	printResults(m, duration)
}

func checkReady(baseURL string) error {
	resp, err := http.Get(baseURL + "/ready")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("not ready: status %d", resp.StatusCode)
	}
	return nil
}

func runBenchmark(rows []domain.LabeledTransaction, baseURL, tenantID, prefix string, numWorkers int, verbose bool) *Metrics {
	m := newMetrics()

	work := make(chan domain.LabeledTransaction, 100)
	var wg sync.WaitGroup

	for range numWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for row := range work {
				tx := row.Transaction
				tx.TxID = prefix + tx.TxID

				start := time.Now()
				result, err := predict(client, baseURL, tenantID, tx)
				elapsed := time.Since(start)

				if err != nil {
					m.RecordError()
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", tx.TxID, err)
					}
					continue
				}
				m.Record(row.IsFraud, result.Action, elapsed)

				if verbose {
					mark := "ok "
					if (result.Action == domain.ActionBlock) != row.IsFraud {
						mark = "ERR"
					}
					fmt.Printf("%s %-14s | %-6s | %12.2f | fraud: %-5v | %-12s (%.3f)\n",
						mark, tx.TxID, tx.TxType, tx.Amount, row.IsFraud, result.Action, result.RiskScore)
				}
			}
		}()
	}

	for _, row := range rows {
		work <- row
	}
	close(work)

	wg.Wait()
	return m
}

func predict(client *http.Client, baseURL, tenantID string, tx domain.Transaction) (*domain.RiskAssessment, error) {
	body, err := json.Marshal(tx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost, baseURL+"/api/v1/predict", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result domain.RiskAssessment
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\nBENCHMARK RESULTS")

	fmt.Printf("\nDATASET\n")
	fmt.Printf("   Assessed:  %d\n", m.Total())
	fmt.Printf("   Errors:    %d\n", m.Errors)
	fmt.Printf("   Allow:     %d\n", m.Actions[domain.ActionAllow])
	fmt.Printf("   Hold:      %d\n", m.Actions[domain.ActionHold])
	fmt.Printf("   Block:     %d\n", m.Actions[domain.ActionBlock])

	fmt.Printf("\nCONFUSION MATRIX (block = fraud)\n")
	fmt.Println("                    block     other")
	fmt.Printf("   Actual  F   %9d %9d  (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Printf("          NF   %9d %9d  (FP, TN)\n", m.FalsePositives, m.TrueNegatives)

	fmt.Printf("\nDETECTION METRICS\n")
	fmt.Printf("   Precision:  %.4f\n", m.Precision())
	fmt.Printf("   Recall:     %.4f\n", m.Recall())
	fmt.Printf("   F1-Score:   %.4f\n", m.F1())
	fmt.Printf("   Accuracy:   %.4f\n", m.Accuracy())

	fmt.Printf("\nPERFORMANCE\n")
	fmt.Printf("   Total Duration:  %v\n", duration.Round(time.Millisecond))
	if n := m.Total(); n > 0 {
		fmt.Printf("   p50 Latency:     %.2f ms\n", m.LatencyQuantile(0.5))
		fmt.Printf("   p99 Latency:     %.2f ms\n", m.LatencyQuantile(0.99))
		fmt.Printf("   Throughput:      %.2f tx/sec\n", float64(n)/duration.Seconds())
	}
	fmt.Println()
}
