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

	"github.com/shopspring/decimal"
)

// screenResponse is the subset of the screening result the tally needs.
type screenResponse struct {
	ApplicationID string  `json:"applicationId"`
	FinalAction   *string `json:"finalAction"`
	Topic         string  `json:"topic"`
}

// tally counts outcomes across workers.
type tally struct {
	mu       sync.Mutex
	outcomes map[string]int
	errors   int
	total    time.Duration
}

func (t *tally) add(outcome string, elapsed time.Duration, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.total += elapsed
	if err != nil {
		t.errors++
		return
	}
	t.outcomes[outcome]++
}

func runReplay(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("replay", flag.ContinueOnError)
	csvPath := fs.String("csv", "", "Path to a CSV file with a header row")
	baseURL := fs.String("url", defaultURL, "Fraudgate base URL")
	workers := fs.Int("workers", 10, "Number of concurrent workers")
	limit := fs.Int("limit", 0, "Maximum rows to replay (0 = all)")
	verbose := fs.Bool("verbose", false, "Print each outcome")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *csvPath == "" {
		return errors.New("usage: fraudctl replay -csv file [-url http://localhost:8081]")
	}
	if *workers < 1 {
		*workers = 1
	}

	file, err := os.Open(*csvPath)
	if err != nil {
		return err
	}
	defer file.Close()

	records, err := readRecords(file, *limit)
	if err != nil {
		return err
	}
	fmt.Printf("Loaded %d applications from %s\n", len(records), *csvPath)

	url := strings.TrimRight(*baseURL, "/") + "/api/applications"
	result := &tally{outcomes: make(map[string]int)}

	work := make(chan map[string]any, 100)
	var wg sync.WaitGroup
	for i := 0; i < *workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}
			for record := range work {
				start := time.Now()
				resp, err := screen(ctx, client, url, record)
				outcome := "CLEAN"
				if err == nil && resp.FinalAction != nil {
					outcome = *resp.FinalAction
				}
				result.add(outcome, time.Since(start), err)

				if *verbose {
					if err != nil {
						fmt.Printf("ERROR: %v\n", err)
					} else {
						fmt.Printf("%-36s %-6s %s\n", resp.ApplicationID, outcome, resp.Topic)
					}
				}
			}
		}()
	}

	started := time.Now()
send:
	for _, record := range records {
		select {
		case work <- record:
		case <-ctx.Done():
			break send
		}
	}
	close(work)
	wg.Wait()

	printTally(result, time.Since(started))
	return nil
}

// readRecords turns each CSV row into an application record keyed by the
// header. Numeric cells become JSON numbers, true/false become booleans.
func readRecords(r io.Reader, limit int) ([]map[string]any, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	var records []map[string]any
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}

		record := make(map[string]any, len(header))
		for i, col := range header {
			if i >= len(row) || col == "" {
				continue
			}
			record[col] = cellValue(row[i])
		}
		records = append(records, record)

		if limit > 0 && len(records) >= limit {
			break
		}
	}
	return records, nil
}

func cellValue(cell string) any {
	cell = strings.TrimSpace(cell)
	if cell == "" {
		return nil
	}
	// Leading zeros mark identifiers such as postal codes.
	leadingZero := len(cell) > 1 && cell[0] == '0' && cell[1] != '.'
	if d, err := decimal.NewFromString(cell); err == nil && !leadingZero {
		return json.Number(d.String())
	}
	if cell == "true" || cell == "false" {
		b, _ := strconv.ParseBool(cell)
		return b
	}
	return cell
}

func screen(ctx context.Context, client *http.Client, url string, record map[string]any) (*screenResponse, error) {
	body, err := json.Marshal(record)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var out screenResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

func printTally(t *tally, elapsed time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	processed := t.errors
	outcomes := make([]string, 0, len(t.outcomes))
	for k, n := range t.outcomes {
		outcomes = append(outcomes, k)
		processed += n
	}
	sort.Strings(outcomes)

	fmt.Println("\nREPLAY RESULTS")
	for _, k := range outcomes {
		n := t.outcomes[k]
		fmt.Printf("   %-8s %6d (%.2f%%)\n", k, n, 100*float64(n)/float64(max(processed, 1)))
	}
	fmt.Printf("   %-8s %6d\n", "ERRORS", t.errors)
	fmt.Printf("\n   Duration:    %s\n", elapsed.Round(time.Millisecond))
	if processed > 0 {
		fmt.Printf("   Avg latency: %s\n", (t.total / time.Duration(processed)).Round(time.Microsecond))
	}
}
