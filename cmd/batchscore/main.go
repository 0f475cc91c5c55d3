// Batch scoring client for Kestrel.
//
// Usage:
//
//	go run ./cmd/batchscore -file applicants.csv -url http://localhost:8080
//
// This tool:
//  1. Reads applicants from a CSV file with a header row
//  2. Posts them in chunks to /api/v1/scores/batch
//  3. Prints successes, failures and a processing status breakdown
package main

import (
	"bytes"
	"context"
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

	"golang.org/x/sync/errgroup"
)

// Applicant is the API request format for one applicant.
type Applicant struct {
	CompanyName      string  `json:"companyName"`
	TaxID            string  `json:"inn"`
	BusinessType     string  `json:"businessType,omitempty"`
	YearsInBusiness  int     `json:"yearsInBusiness"`
	AnnualRevenue    float64 `json:"annualRevenue"`
	EmployeeCount    int     `json:"employeeCount"`
	RequestedAmount  float64 `json:"requestedAmount"`
	HasExistingLoans *bool   `json:"hasExistingLoans,omitempty"`
	Industry         *string `json:"industry,omitempty"`
	CreditHistory    *int    `json:"creditHistory,omitempty"`
}

// Result is the subset of a decision view the summary needs.
type Result struct {
	ID               string  `json:"id"`
	CompanyName      string  `json:"companyName"`
	Score            float64 `json:"score"`
	RiskLevel        string  `json:"riskLevel"`
	Provenance       string  `json:"provenance"`
	ProcessingStatus string  `json:"processingStatus"`
}

// Failure is one applicant the server could not score.
type Failure struct {
	Index       int    `json:"index"`
	CompanyName string `json:"companyName"`
	TaxID       string `json:"inn"`
	Error       string `json:"error"`
}

// Report is the batch endpoint response format.
type Report struct {
	BatchID   string    `json:"batchId"`
	Status    string    `json:"status"`
	Total     int       `json:"totalProcessed"`
	Successes []Result  `json:"successfulResults"`
	Failures  []Failure `json:"failedResults"`
}

// Summary aggregates the reports of every chunk.
type Summary struct {
	mu        sync.Mutex
	Processed int
	Successes int
	Failures  []Failure
	ByStatus  map[string]int
	ByLevel   map[string]int
	Fallback  int
}

func (s *Summary) add(offset int, r *Report) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Processed += r.Total
	s.Successes += len(r.Successes)
	for _, res := range r.Successes {
		s.ByStatus[res.ProcessingStatus]++
		s.ByLevel[res.RiskLevel]++
		if res.Provenance == "fallback" {
			s.Fallback++
		}
	}
	for _, f := range r.Failures {
		f.Index += offset
		s.Failures = append(s.Failures, f)
	}
}

func main() {
	file := flag.String("file", "", "Path to applicant CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	chunk := flag.Int("chunk", 50, "Applicants per batch request")
	parallel := flag.Int("parallel", 2, "Concurrent batch requests")
	timeout := flag.Duration("timeout", 2*time.Minute, "Per-request timeout")
	verbose := flag.Bool("verbose", false, "Print every failure")
	flag.Parse()

	if *file == "" {
		fmt.Println("Usage: batchscore -file applicants.csv [-url http://localhost:8080] [-chunk 50]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	f, err := os.Open(*file)
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
	applicants, err := readApplicants(f)
	f.Close()
	if err != nil {
		fmt.Printf("ERROR: failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Loaded %d applicants from %s\n", len(applicants), *file)

	client := &http.Client{Timeout: *timeout}
	if err := checkHealth(client, *baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		os.Exit(1)
	}

	start := time.Now()
	summary, err := run(context.Background(), client, *baseURL, applicants, *chunk, *parallel)
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
	printSummary(summary, time.Since(start), *verbose)

	if len(summary.Failures) > 0 {
		os.Exit(2)
	}
}

// readApplicants maps CSV columns by header name. Header matching ignores
// case, spaces and underscores, so "company_name" and "Company Name" both work.
func readApplicants(r io.Reader) ([]Applicant, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[normalizeHeader(h)] = i
	}
	for _, required := range []string{"companyname", "inn"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("missing required column %q", required)
		}
	}

	var out []Applicant
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		get := func(name string) string {
			i, ok := cols[name]
			if !ok || i >= len(record) {
				return ""
			}
			return strings.TrimSpace(record[i])
		}

		a := Applicant{
			CompanyName:  get("companyname"),
			TaxID:        get("inn"),
			BusinessType: get("businesstype"),
		}
		if a.YearsInBusiness, err = atoi(get("yearsinbusiness")); err != nil {
			return nil, fmt.Errorf("line %d: yearsInBusiness: %w", line, err)
		}
		if a.EmployeeCount, err = atoi(get("employeecount")); err != nil {
			return nil, fmt.Errorf("line %d: employeeCount: %w", line, err)
		}
		if a.AnnualRevenue, err = atof(get("annualrevenue")); err != nil {
			return nil, fmt.Errorf("line %d: annualRevenue: %w", line, err)
		}
		if a.RequestedAmount, err = atof(get("requestedamount")); err != nil {
			return nil, fmt.Errorf("line %d: requestedAmount: %w", line, err)
		}
		if v := get("hasexistingloans"); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return nil, fmt.Errorf("line %d: hasExistingLoans: %w", line, err)
			}
			a.HasExistingLoans = &b
		}
		if v := get("industry"); v != "" {
			a.Industry = &v
		}
		if v := get("credithistory"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("line %d: creditHistory: %w", line, err)
			}
			a.CreditHistory = &n
		}
		out = append(out, a)
	}
	return out, nil
}

func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.ReplaceAll(h, "_", "")
	return strings.ReplaceAll(h, " ", "")
}

func atoi(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

func atof(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}

// chunks splits applicants into slices of at most size items.
func chunks(applicants []Applicant, size int) [][]Applicant {
	if size <= 0 {
		size = len(applicants)
	}
	var out [][]Applicant
	for start := 0; start < len(applicants); start += size {
		end := min(start+size, len(applicants))
		out = append(out, applicants[start:end])
	}
	return out
}

func run(ctx context.Context, client *http.Client, baseURL string, applicants []Applicant, size, parallel int) (*Summary, error) {
	summary := &Summary{
		ByStatus: make(map[string]int),
		ByLevel:  make(map[string]int),
	}
	if parallel <= 0 {
		parallel = 1
	}
	if size <= 0 {
		size = len(applicants)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)

	for i, part := range chunks(applicants, size) {
		offset := i * size
		g.Go(func() error {
			report, err := postBatch(ctx, client, baseURL, part)
			if err != nil {
				return fmt.Errorf("chunk %d: %w", i, err)
			}
			summary.add(offset, report)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return summary, nil
}

func postBatch(ctx context.Context, client *http.Client, baseURL string, applicants []Applicant) (*Report, error) {
	body, err := json.Marshal(map[string]any{"applicants": applicants})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(baseURL, "/")+"/api/v1/scores/batch", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Client-ID", "batchscore")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var report Report
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &report, nil
}

func checkHealth(client *http.Client, baseURL string) error {
	resp, err := client.Get(strings.TrimRight(baseURL, "/") + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned %d", resp.StatusCode)
	}
	return nil
}

func printSummary(s *Summary, elapsed time.Duration, verbose bool) {
	fmt.Println()
	fmt.Println("Batch scoring summary")
	fmt.Println("---------------------")
	fmt.Printf("Processed:  %d\n", s.Processed)
	fmt.Printf("Scored:     %d\n", s.Successes)
	fmt.Printf("Failed:     %d\n", len(s.Failures))
	fmt.Printf("Fallback:   %d\n", s.Fallback)
	fmt.Printf("Elapsed:    %s\n", elapsed.Round(time.Millisecond))

	printCounts("Processing status", s.ByStatus)
	printCounts("Risk level", s.ByLevel)

	if len(s.Failures) == 0 {
		return
	}
	sort.Slice(s.Failures, func(i, j int) bool { return s.Failures[i].Index < s.Failures[j].Index })
	fmt.Println("\nFailures:")
	for i, f := range s.Failures {
		if !verbose && i == 10 {
			fmt.Printf("  ... %d more (use -verbose)\n", len(s.Failures)-i)
			break
		}
		fmt.Printf("  #%d %s (%s): %s\n", f.Index, f.CompanyName, f.TaxID, f.Error)
	}
}

func printCounts(title string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Printf("\n%s:\n", title)
	for _, k := range keys {
		fmt.Printf("  %-16s %d\n", k, counts[k])
	}
}
