// Bulk loader for seeding commissiond from a CRM export.
//
// Usage:
//   go run cmd/dealimport/main.go -csv /path/to/deals.csv -url http://localhost:8080
//
// This tool:
//   1. Reads deals from a CSV file with a header row
//   2. Creates each deal through POST /deals as the given actor
//   3. Reports created deals by status and failures by error kind
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

// DealRow is one CSV row, shaped like the POST /deals body.
type DealRow struct {
	Line              int             `json:"-"`
	DealName          string          `json:"dealName"`
	OrganizationName  string          `json:"organizationName,omitempty"`
	ClientName        string          `json:"clientName,omitempty"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency,omitempty"`
	DealType          string          `json:"dealType"`
	Priority          string          `json:"priority,omitempty"`
	AssignedUserID    string          `json:"assignedUserId,omitempty"`
	PolicyID          string          `json:"policyId,omitempty"`
	ExpectedCloseDate *time.Time      `json:"expectedCloseDate,omitempty"`
}

// createdDeal is the subset of the response the report needs.
type createdDeal struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	RiskLevel string `json:"riskLevel"`
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
	Field string `json:"field"`
}

// Report tracks import results.
type Report struct {
	mu          sync.Mutex
	ByStatus    map[string]int
	ByRisk      map[string]int
	FailedKinds map[string]int
	Skipped     []string
	TotalAmount decimal.Decimal

	Processed        atomic.Int64
	Failed           atomic.Int64
	ProcessingTimeMs atomic.Int64
}

func newReport() *Report {
	return &Report{
		ByStatus:    make(map[string]int),
		ByRisk:      make(map[string]int),
		FailedKinds: make(map[string]int),
		TotalAmount: decimal.Zero,
	}
}

func (r *Report) created(row DealRow, d *createdDeal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ByStatus[d.Status]++
	r.ByRisk[d.RiskLevel]++
	r.TotalAmount = r.TotalAmount.Add(row.Amount)
}

func (r *Report) failed(kind string) {
	r.Failed.Add(1)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.FailedKinds[kind]++
}

func main() {
	csvPath := flag.String("csv", "", "Path to deals CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "commissiond base URL")
	actorID := flag.String("actor", "import-bot", "Actor ID sent as X-Actor-ID")
	role := flag.String("role", "ADMIN", "Actor role sent as X-Actor-Role")
	limit := flag.Int("limit", 0, "Maximum deals to import (0 = all)")
	workers := flag.Int("workers", 4, "Number of concurrent workers")
	verbose := flag.Bool("verbose", false, "Print each deal result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: dealimport -csv /path/to/deals.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("DEAL IMPORT")
	fmt.Printf("\nCSV File:  %s\n", *csvPath)
	fmt.Printf("URL:       %s\n", *baseURL)
	fmt.Printf("Actor:     %s (%s)\n", *actorID, *role)
	fmt.Printf("Workers:   %d\n", *workers)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: commissiond not reachable at %s: %v\n", *baseURL, err)
		os.Exit(1)
	}
	fmt.Println("commissiond is healthy")

	file, err := os.Open(*csvPath)
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
	rows, skipped, err := readDeals(file, *limit)
	file.Close()
	if err != nil {
		fmt.Printf("ERROR: failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Loaded %d deals (%d rows skipped)\n", len(rows), len(skipped))

	report := newReport()
	report.Skipped = skipped

	start := time.Now()
	runImport(rows, *baseURL, *actorID, *role, *workers, *verbose, report)
	printReport(report, time.Since(start))

	if report.Failed.Load() > 0 {
		os.Exit(2)
	}
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

// readDeals parses the CSV. Column names are matched case-insensitively;
// dealName, amount and dealType are required. Rows that cannot be parsed
// are reported in skipped rather than failing the whole file.
func readDeals(r io.Reader, limit int) (rows []DealRow, skipped []string, err error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read header: %w", err)
	}
	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}
	for _, required := range []string{"dealname", "amount", "dealtype"} {
		if _, ok := colIndex[required]; !ok {
			return nil, nil, fmt.Errorf("missing required column %q", required)
		}
	}

	get := func(record []string, col string) string {
		i, ok := colIndex[col]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	line := 1
	for {
		record, err := reader.Read()
		line++
		if err == io.EOF {
			break
		}
		if err != nil {
			skipped = append(skipped, fmt.Sprintf("line %d: %v", line, err))
			continue
		}

		amount, err := decimal.NewFromString(get(record, "amount"))
		if err != nil {
			skipped = append(skipped, fmt.Sprintf("line %d: invalid amount %q", line, get(record, "amount")))
			continue
		}

		row := DealRow{
			Line:             line,
			DealName:         get(record, "dealname"),
			OrganizationName: get(record, "organizationname"),
			ClientName:       get(record, "clientname"),
			Amount:           amount,
			Currency:         get(record, "currency"),
			DealType:         get(record, "dealtype"),
			Priority:         get(record, "priority"),
			AssignedUserID:   get(record, "assigneduserid"),
			PolicyID:         get(record, "policyid"),
		}
		if s := get(record, "expectedclosedate"); s != "" {
			t, err := time.Parse("2006-01-02", s)
			if err != nil {
				skipped = append(skipped, fmt.Sprintf("line %d: invalid expectedCloseDate %q", line, s))
				continue
			}
			row.ExpectedCloseDate = &t
		}

		rows = append(rows, row)
		if limit > 0 && len(rows) >= limit {
			break
		}
	}

	return rows, skipped, nil
}

func runImport(rows []DealRow, baseURL, actorID, role string, numWorkers int, verbose bool, report *Report) {
	work := make(chan DealRow, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for row := range work {
				start := time.Now()
				deal, errBody, err := createDeal(client, baseURL, actorID, role, row)
				report.ProcessingTimeMs.Add(time.Since(start).Milliseconds())
				report.Processed.Add(1)

				switch {
				case err != nil:
					report.failed("Transport")
					if verbose {
						fmt.Printf("ERROR line %d: %v\n", row.Line, err)
					}
				case errBody != nil:
					report.failed(errBody.Kind)
					if verbose {
						fmt.Printf("REJECTED line %d: %s (%s)\n", row.Line, errBody.Error, errBody.Kind)
					}
				default:
					report.created(row, deal)
					if verbose {
						fmt.Printf("OK line %-5d | %-30s | %14s | %-8s | risk %s\n",
							row.Line, truncate(row.DealName, 30), row.Amount.StringFixed(2), deal.Status, deal.RiskLevel)
					}
				}
			}
		}()
	}

	for _, row := range rows {
		work <- row
	}
	close(work)
	wg.Wait()
}

func createDeal(client *http.Client, baseURL, actorID, role string, row DealRow) (*createdDeal, *errorBody, error) {
	body, err := json.Marshal(row)
	if err != nil {
		return nil, nil, err
	}

	req, err := http.NewRequest(http.MethodPost, baseURL+"/deals", bytes.NewReader(body))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor-ID", actorID)
	req.Header.Set("X-Actor-Role", role)

	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		var eb errorBody
		if err := json.NewDecoder(resp.Body).Decode(&eb); err != nil || eb.Kind == "" {
			eb.Kind = fmt.Sprintf("HTTP %d", resp.StatusCode)
		}
		return nil, &eb, nil
	}

	var d createdDeal
	if err := json.NewDecoder(resp.Body).Decode(&d); err != nil {
		return nil, nil, err
	}
	return &d, nil, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func printReport(r *Report, duration time.Duration) {
	fmt.Println("\nIMPORT RESULTS")

	processed := r.Processed.Load()
	failed := r.Failed.Load()
	fmt.Printf("\n   Processed:     %d\n", processed)
	fmt.Printf("   Created:       %d\n", processed-failed)
	fmt.Printf("   Failed:        %d\n", failed)
	fmt.Printf("   Skipped rows:  %d\n", len(r.Skipped))
	fmt.Printf("   Total amount:  %s\n", r.TotalAmount.StringFixed(2))

	if len(r.ByStatus) > 0 {
		fmt.Println("\n   By status:")
		for _, k := range sortedKeys(r.ByStatus) {
			fmt.Printf("     %-12s %d\n", k, r.ByStatus[k])
		}
	}
	if len(r.ByRisk) > 0 {
		fmt.Println("\n   By risk level:")
		for _, k := range sortedKeys(r.ByRisk) {
			fmt.Printf("     %-12s %d\n", k, r.ByRisk[k])
		}
	}
	if len(r.FailedKinds) > 0 {
		fmt.Println("\n   Failures by kind:")
		for _, k := range sortedKeys(r.FailedKinds) {
			fmt.Printf("     %-18s %d\n", k, r.FailedKinds[k])
		}
	}
	for _, s := range r.Skipped {
		fmt.Printf("   skipped %s\n", s)
	}

	fmt.Printf("\n   Duration:      %v\n", duration.Round(time.Millisecond))
	if processed > 0 {
		fmt.Printf("   Avg latency:   %.2f ms\n", float64(r.ProcessingTimeMs.Load())/float64(processed))
		fmt.Printf("   Throughput:    %.2f deals/sec\n", float64(processed)/duration.Seconds())
	}
	fmt.Println()
}
