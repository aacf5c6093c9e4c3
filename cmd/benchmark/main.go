// Benchmark tool for measuring Kestrel against labeled transaction data.
//
// Usage:
//
//	go run ./cmd/benchmark -csv /path/to/labeled.csv -url http://localhost:8080
//
// The CSV needs a header with the columns
// id,amount,merchant,location,card_present,category,is_fraud and may add an
// optional history column of semicolon-separated past amounts. Every row is
// posted to /score/transaction and the verdict is compared with the label.
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// LabeledTransaction is one CSV row.
type LabeledTransaction struct {
	Request domain.TransactionRequest
	IsFraud bool
}

// ScoreResponse is the subset of the /score/transaction response we read.
type ScoreResponse struct {
	EnsembleScore float64        `json:"ensembleScore"`
	Verdict       domain.Verdict `json:"verdict"`
}

// Results accumulates benchmark outcomes. All fields are guarded by mu.
type Results struct {
	mu sync.Mutex

	TruePositives  int
	FalsePositives int
	TrueNegatives  int
	FalseNegatives int
	Errors         int

	Verdicts  map[domain.Verdict]int
	Latencies []time.Duration
}

func (r *Results) record(actual, predicted bool, verdict domain.Verdict, latency time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Latencies = append(r.Latencies, latency)
	r.Verdicts[verdict]++
	switch {
	case predicted && actual:
		r.TruePositives++
	case predicted && !actual:
		r.FalsePositives++
	case !predicted && !actual:
		r.TrueNegatives++
	default:
		r.FalseNegatives++
	}
}

func (r *Results) fail() {
	r.mu.Lock()
	r.Errors++
	r.mu.Unlock()
}

func main() {
	csvPath := flag.String("csv", "", "Path to the labeled CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	tenantID := flag.String("tenant", "benchmark", "Tenant ID for requests")
	limit := flag.Int("limit", 10000, "Maximum transactions to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	strict := flag.Bool("strict", false, "Count only fraudulent verdicts as positive (default also counts suspicious)")
	verbose := flag.Bool("verbose", false, "Print each transaction result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/labeled.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("KESTREL BENCHMARK")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	fmt.Printf("Kestrel URL: %s\n", *baseURL)
	fmt.Printf("Tenant ID:   %s\n", *tenantID)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Limit:       %d\n", *limit)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  go run ./cmd/kestrel")
		os.Exit(1)
	}

	file, err := os.Open(*csvPath)
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
	transactions, skipped, err := readLabeledCSV(file, *limit)
	file.Close()
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	if len(transactions) == 0 {
		fmt.Println("ERROR: no usable rows")
		os.Exit(1)
	}

	fraudCount := 0
	for _, tx := range transactions {
		if tx.IsFraud {
			fraudCount++
		}
	}
	fmt.Printf("Loaded %d transactions (%d skipped)\n", len(transactions), skipped)
	fmt.Printf("  - Fraud:     %d (%.2f%%)\n", fraudCount, pct(fraudCount, len(transactions)))
	fmt.Printf("  - Non-fraud: %d\n", len(transactions)-fraudCount)

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	start := time.Now()
	results := runBenchmark(transactions, *baseURL, *tenantID, *workers, *strict, *verbose)
	printResults(results, time.Since(start))
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

var requiredColumns = []string{"id", "amount", "merchant", "location", "card_present", "category", "is_fraud"}

// readLabeledCSV parses rows until limit. Malformed rows are skipped and counted.
func readLabeledCSV(r io.Reader, limit int) ([]LabeledTransaction, int, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read header: %w", err)
	}
	col := make(map[string]int)
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range requiredColumns {
		if _, ok := col[name]; !ok {
			return nil, 0, fmt.Errorf("missing column %q", name)
		}
	}
	historyCol, hasHistory := col["history"]

	var out []LabeledTransaction
	skipped := 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil || len(record) < len(header) {
			skipped++
			continue
		}

		amount, err := decimal.NewFromString(strings.TrimSpace(record[col["amount"]]))
		if err != nil {
			skipped++
			continue
		}
		req := domain.TransactionRequest{
			ID:          record[col["id"]],
			Amount:      amount,
			Merchant:    record[col["merchant"]],
			Location:    record[col["location"]],
			CardPresent: parseFlag(record[col["card_present"]]),
			Category:    record[col["category"]],
		}
		if hasHistory {
			for _, h := range strings.Split(record[historyCol], ";") {
				if v, err := decimal.NewFromString(strings.TrimSpace(h)); err == nil {
					req.History = append(req.History, v)
				}
			}
		}

		out = append(out, LabeledTransaction{Request: req, IsFraud: parseFlag(record[col["is_fraud"]])})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, skipped, nil
}

func parseFlag(v string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	return err == nil && b
}

// positive reports whether a verdict counts as a fraud prediction.
func positive(v domain.Verdict, strict bool) bool {
	if strict {
		return v == domain.VerdictFraudulent
	}
	return v != domain.VerdictLegitimate
}

func runBenchmark(transactions []LabeledTransaction, baseURL, tenantID string, numWorkers int, strict, verbose bool) *Results {
	results := &Results{Verdicts: make(map[domain.Verdict]int)}

	work := make(chan LabeledTransaction, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for tx := range work {
				start := time.Now()
				resp, err := scoreTransaction(client, baseURL, tenantID, &tx.Request)
				elapsed := time.Since(start)
				if err != nil {
					results.fail()
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", tx.Request.ID, err)
					}
					continue
				}

				predicted := positive(resp.Verdict, strict)
				results.record(tx.IsFraud, predicted, resp.Verdict, elapsed)

				if verbose {
					mark := "ok "
					if predicted != tx.IsFraud {
						mark = "MISS"
					}
					fmt.Printf("%-4s %-12s | Amount: %12s | Fraud: %-5v | %-10s (%.3f) | %v\n",
						mark, tx.Request.ID, tx.Request.Amount.StringFixed(2), tx.IsFraud, resp.Verdict, resp.EnsembleScore, elapsed.Round(time.Microsecond))
				}
			}
		}()
	}

	for _, tx := range transactions {
		work <- tx
	}
	close(work)
	wg.Wait()

	return results
}

func scoreTransaction(client *http.Client, baseURL, tenantID string, req *domain.TransactionRequest) (*ScoreResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/score/transaction", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result ScoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Scores derived from a confusion matrix.
type Scores struct {
	Precision, Recall, F1, Accuracy float64
}

func (r *Results) scores() Scores {
	var s Scores
	tp, fp, tn, fn := float64(r.TruePositives), float64(r.FalsePositives), float64(r.TrueNegatives), float64(r.FalseNegatives)
	if tp+fp > 0 {
		s.Precision = tp / (tp + fp)
	}
	if tp+fn > 0 {
		s.Recall = tp / (tp + fn)
	}
	if s.Precision+s.Recall > 0 {
		s.F1 = 2 * s.Precision * s.Recall / (s.Precision + s.Recall)
	}
	if total := tp + fp + tn + fn; total > 0 {
		s.Accuracy = (tp + tn) / total
	}
	return s
}

// percentile expects sorted input.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}

func pct(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return 100 * float64(n) / float64(total)
}

func printResults(r *Results, duration time.Duration) {
	fmt.Println("\nBENCHMARK RESULTS")

	scored := r.TruePositives + r.FalsePositives + r.TrueNegatives + r.FalseNegatives
	fmt.Printf("\nScored: %d   Errors: %d\n", scored, r.Errors)
	for _, v := range []domain.Verdict{domain.VerdictLegitimate, domain.VerdictSuspicious, domain.VerdictFraudulent} {
		fmt.Printf("  %-11s %d\n", v, r.Verdicts[v])
	}

	fmt.Println("\nCONFUSION MATRIX")
	fmt.Println("                     Predicted")
	fmt.Println("                 fraud      legit")
	fmt.Printf("   Actual fraud %8d   %8d   (TP, FN)\n", r.TruePositives, r.FalseNegatives)
	fmt.Printf("          legit %8d   %8d   (FP, TN)\n", r.FalsePositives, r.TrueNegatives)

	s := r.scores()
	fmt.Println("\nDETECTION METRICS")
	fmt.Printf("   Precision:  %.4f\n", s.Precision)
	fmt.Printf("   Recall:     %.4f\n", s.Recall)
	fmt.Printf("   F1-Score:   %.4f\n", s.F1)
	fmt.Printf("   Accuracy:   %.4f\n", s.Accuracy)

	latencies := append([]time.Duration(nil), r.Latencies...)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	fmt.Println("\nPERFORMANCE")
	fmt.Printf("   Total Duration:  %v\n", duration.Round(time.Millisecond))
	if len(latencies) > 0 {
		fmt.Printf("   Latency p50:     %v\n", percentile(latencies, 0.50).Round(time.Microsecond))
		fmt.Printf("   Latency p95:     %v\n", percentile(latencies, 0.95).Round(time.Microsecond))
		fmt.Printf("   Latency p99:     %v\n", percentile(latencies, 0.99).Round(time.Microsecond))
		fmt.Printf("   Throughput:      %.2f tx/sec\n", float64(len(latencies))/duration.Seconds())
	}
	fmt.Println()
}
