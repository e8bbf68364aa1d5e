// Benchmark tool for scoring a running ThreatLens server against a labelled
// incident file.
//
// Usage:
//
//	go run ./cmd/benchmark -csv Global_Cybersecurity_Threats_2015-2024.csv -url http://localhost:8080
//
// This tool:
//  1. Reads the raw incident CSV
//  2. Derives the expected severity of each row from the served model's
//     affected-users thresholds
//  3. Sends the rows to POST /predict/batch in chunks
//  4. Prints the classification report, confusion matrix and throughput
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/threatlens/internal/dataset"
	"github.com/opensource-finance/threatlens/internal/domain"
	"github.com/opensource-finance/threatlens/internal/training"
)

// ModelResponse is the subset of GET /model the benchmark needs.
type ModelResponse struct {
	Metadata domain.ModelMetadata `json:"metadata"`
}

// BatchResult is one element of the POST /predict/batch response.
type BatchResult struct {
	Label string `json:"label"`
	Error string `json:"error"`
}

// BatchResponse is the POST /predict/batch response.
type BatchResponse struct {
	Results []BatchResult `json:"results"`
}

// Metrics tracks benchmark results.
type Metrics struct {
	Expected  []int
	Predicted []int

	TotalSent   int64
	TotalErrors int64
	Skipped     int

	RequestTimeMs int64
	Requests      int64
}

type chunk struct {
	offset  int
	records []domain.RawIncident
}

func main() {
	csvPath := flag.String("csv", "", "Path to the raw incident CSV")
	baseURL := flag.String("url", "http://localhost:8080", "ThreatLens base URL")
	limit := flag.Int("limit", 0, "Maximum incidents to send (0 = all)")
	batchSize := flag.Int("batch", 100, "Records per /predict/batch request")
	workers := flag.Int("workers", 4, "Number of concurrent requests")
	verbose := flag.Bool("verbose", false, "Print each misclassified incident")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/incidents.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}
	if *batchSize <= 0 {
		*batchSize = 100
	}

	fmt.Println("THREATLENS BENCHMARK - severity classifier")
	fmt.Printf("\nCSV File:   %s\n", *csvPath)
	fmt.Printf("Server URL: %s\n", *baseURL)
	fmt.Printf("Workers:    %d\n", *workers)
	fmt.Printf("Batch Size: %d\n", *batchSize)
	fmt.Println()

	client := &http.Client{Timeout: 30 * time.Second}
	if err := checkHealth(client, *baseURL); err != nil {
		fmt.Printf("ERROR: ThreatLens not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure the server is running:")
		fmt.Println("  go run ./cmd/threatlens serve")
		os.Exit(1)
	}

	model, err := fetchModel(client, *baseURL)
	if err != nil {
		fmt.Printf("ERROR: failed to read model: %v\n", err)
		os.Exit(1)
	}
	vocab := model.Metadata.SeverityVocabulary()
	fmt.Printf("Model run %s, thresholds q33=%.1f q66=%.1f\n",
		model.Metadata.RunID, model.Metadata.Thresholds.Q33, model.Metadata.Thresholds.Q66)

	records, err := dataset.ReadRaw(*csvPath)
	if err != nil {
		fmt.Printf("ERROR: failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	if *limit > 0 && len(records) > *limit {
		records = records[:*limit]
	}

	// Rows without an affected-users count have no expected label
	metrics := &Metrics{}
	var labelled []domain.RawIncident
	for _, r := range records {
		if !r.AffectedUsers.Valid {
			metrics.Skipped++
			continue
		}
		labelled = append(labelled, r)
	}
	fmt.Printf("Loaded %d incidents (%d skipped without affected users)\n", len(labelled), metrics.Skipped)

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	start := time.Now()
	predicted := run(client, *baseURL, labelled, *batchSize, *workers, metrics)
	duration := time.Since(start)

	for i, r := range labelled {
		if predicted[i] == "" {
			continue
		}
		want, _ := vocab.Index(string(training.Label(r.AffectedUsers.Value, model.Metadata.Thresholds)))
		got, ok := vocab.Index(predicted[i])
		if !ok {
			atomic.AddInt64(&metrics.TotalErrors, 1)
			continue
		}
		metrics.Expected = append(metrics.Expected, want)
		metrics.Predicted = append(metrics.Predicted, got)
		if *verbose && want != got {
			fmt.Printf("x %-12s %-18s users=%-9s want=%-6s got=%s\n",
				r.Country, r.AttackType, r.AffectedUsers, vocab[want], vocab[got])
		}
	}

	printResults(metrics, vocab, duration)
}

func checkHealth(client *http.Client, baseURL string) error {
	resp, err := client.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func fetchModel(client *http.Client, baseURL string) (*ModelResponse, error) {
	resp, err := client.Get(baseURL + "/model")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d (has a model been trained?)", resp.StatusCode)
	}

	var m ModelResponse
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return nil, err
	}
	return &m, nil
}

// run sends the records in chunks and returns the predicted label per record,
// empty where the request or the row failed.
func run(client *http.Client, baseURL string, records []domain.RawIncident, batchSize, numWorkers int, m *Metrics) []string {
	predicted := make([]string, len(records))

	work := make(chan chunk, numWorkers)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for c := range work {
				start := time.Now()
				results, err := predictBatch(client, baseURL, c.records)
				atomic.AddInt64(&m.RequestTimeMs, time.Since(start).Milliseconds())
				atomic.AddInt64(&m.Requests, 1)
				atomic.AddInt64(&m.TotalSent, int64(len(c.records)))

				if err != nil || len(results) != len(c.records) {
					atomic.AddInt64(&m.TotalErrors, int64(len(c.records)))
					fmt.Printf("ERROR: batch at %d: %v\n", c.offset, err)
					continue
				}
				for j, res := range results {
					if res.Error != "" {
						atomic.AddInt64(&m.TotalErrors, 1)
						continue
					}
					predicted[c.offset+j] = res.Label
				}
			}
		}()
	}

	for off := 0; off < len(records); off += batchSize {
		work <- chunk{offset: off, records: records[off:min(off+batchSize, len(records))]}
	}
	close(work)

	wg.Wait()
	return predicted
}

func predictBatch(client *http.Client, baseURL string, records []domain.RawIncident) ([]BatchResult, error) {
	body, err := json.Marshal(records)
	if err != nil {
		return nil, err
	}

	resp, err := client.Post(baseURL+"/predict/batch", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var out BatchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

func printResults(m *Metrics, vocab domain.Vocabulary, duration time.Duration) {
	fmt.Println("\nBENCHMARK RESULTS")

	fmt.Printf("\nDATASET\n")
	fmt.Printf("   Sent:     %d\n", m.TotalSent)
	fmt.Printf("   Scored:   %d\n", len(m.Expected))
	fmt.Printf("   Skipped:  %d\n", m.Skipped)
	fmt.Printf("   Errors:   %d\n", m.TotalErrors)

	if len(m.Expected) > 0 {
		fmt.Printf("\nCONFUSION MATRIX (rows = expected, columns = predicted)\n")
		matrix := make([][]int, len(vocab))
		for i := range matrix {
			matrix[i] = make([]int, len(vocab))
		}
		for i := range m.Expected {
			matrix[m.Expected[i]][m.Predicted[i]]++
		}
		fmt.Printf("   %-8s", "")
		for _, label := range vocab {
			fmt.Printf("%10s", label)
		}
		fmt.Println()
		for i, row := range matrix {
			fmt.Printf("   %-8s", vocab[i])
			for _, n := range row {
				fmt.Printf("%10d", n)
			}
			fmt.Println()
		}

		fmt.Printf("\nCLASSIFICATION REPORT\n")
		fmt.Println(training.FormatReport(training.ClassificationReport(m.Expected, m.Predicted, vocab)))
	}

	fmt.Printf("\nPERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.Requests > 0 {
		fmt.Printf("   Avg Batch Latency: %.2f ms\n", float64(m.RequestTimeMs)/float64(m.Requests))
		fmt.Printf("   Throughput:        %.2f incidents/sec\n", float64(m.TotalSent)/duration.Seconds())
	}
	fmt.Println()
}
