package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"
)

// CLI flags
var (
	apiURL       = flag.String("api-url", "http://localhost:8080", "labelscan API base URL")
	apiKey       = flag.String("api-key", "", "API key for authenticated requests")
	urls         = flag.String("urls", "", "comma-separated product URLs (default: the loaded tab only)")
	modes        = flag.String("modes", "fetch,screenshot", "comma-separated acquisition modes to compare")
	runs         = flag.Int("runs", 3, "number of runs per URL and mode")
	skipAnalysis = flag.Bool("skip-analysis", true, "harvest only, without Gemini calls")
	output       = flag.String("output", "benchmark-results.json", "JSON output file path")
)

// --- Request / Response types (mirrors models package) ---

type scanRequest struct {
	URL          string `json:"url,omitempty"`
	Mode         string `json:"mode"`
	SkipAnalysis bool   `json:"skip_analysis"`
}

type scanResponse struct {
	Success bool         `json:"success"`
	Harvest harvest      `json:"harvest"`
	Timing  timingInfo   `json:"timing"`
	Error   *errorDetail `json:"error,omitempty"`
}

type harvest struct {
	ScrollSteps int    `json:"scroll_steps"`
	PageHeight  int    `json:"page_height"`
	ScrollStop  string `json:"scroll_stop"`
	Candidates  int    `json:"candidates"`
	Acquired    int    `json:"acquired"`
	Duplicates  int    `json:"duplicates"`
	Images      []struct {
		Index int `json:"index"`
	} `json:"images"`
	Failures []struct {
		Index int `json:"index"`
	} `json:"failures"`
}

type timingInfo struct {
	TotalMs    int64 `json:"total_ms"`
	HarvestMs  int64 `json:"harvest_ms"`
	AnalysisMs int64 `json:"analysis_ms"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// --- Benchmark result types ---

type runResult struct {
	Run         int    `json:"run"`
	TotalMs     int64  `json:"total_ms"`
	HarvestMs   int64  `json:"harvest_ms"`
	AnalysisMs  int64  `json:"analysis_ms"`
	ScrollSteps int    `json:"scroll_steps"`
	Candidates  int    `json:"candidates"`
	Acquired    int    `json:"acquired"`
	Failed      int    `json:"failed"`
	Duplicates  int    `json:"duplicates"`
	Analysed    int    `json:"analysed"`
	Success     bool   `json:"success"`
	Error       string `json:"error,omitempty"`
}

type averages struct {
	TotalMs     float64 `json:"total_ms"`
	HarvestMs   float64 `json:"harvest_ms"`
	ScrollSteps float64 `json:"scroll_steps"`
	Acquired    float64 `json:"acquired"`
	FailureRate float64 `json:"failure_rate"`
}

type caseResult struct {
	URL      string      `json:"url"`
	Mode     string      `json:"mode"`
	Runs     []runResult `json:"runs"`
	Averages *averages   `json:"averages,omitempty"`
}

type benchmarkReport struct {
	Timestamp  string       `json:"timestamp"`
	APIURL     string       `json:"api_url"`
	RunsPerURL int          `json:"runs_per_case"`
	Results    []caseResult `json:"results"`
}

func main() {
	flag.Parse()

	fmt.Println("=== labelscan harvest benchmark ===")
	fmt.Printf("API URL:   %s\n", *apiURL)
	fmt.Printf("Modes:     %s\n", *modes)
	fmt.Printf("Runs:      %d\n", *runs)
	fmt.Printf("Output:    %s\n", *output)
	fmt.Println()

	if err := checkAPI(*apiURL); err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot reach API at %s: %v\n", *apiURL, err)
		fmt.Fprintf(os.Stderr, "Make sure `labelscan serve` is running\n")
		os.Exit(1)
	}

	targets := splitList(*urls)
	if len(targets) == 0 {
		targets = []string{""}
	}

	report := benchmarkReport{
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		APIURL:     *apiURL,
		RunsPerURL: *runs,
	}

	for _, target := range targets {
		for _, mode := range splitList(*modes) {
			fmt.Printf("Benchmarking [%s] %s ...\n", mode, label(target))
			cr := caseResult{URL: target, Mode: mode}

			for i := 1; i <= *runs; i++ {
				fmt.Printf("  Run %d/%d ... ", i, *runs)
				rr := runScan(target, mode, i)
				if rr.Success {
					fmt.Printf("OK  %dms  %d/%d acquired\n", rr.TotalMs, rr.Acquired, rr.Candidates)
				} else {
					fmt.Printf("FAILED: %s\n", rr.Error)
				}
				cr.Runs = append(cr.Runs, rr)
			}

			cr.Averages = computeAverages(cr.Runs)
			report.Results = append(report.Results, cr)
			fmt.Println()
		}
	}

	printTable(report.Results)

	if err := writeJSON(*output, report); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing JSON output: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("\nDetailed results written to %s\n", *output)
}

func checkAPI(baseURL string) error {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(baseURL + "/api/v1/health")
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func runScan(target, mode string, run int) runResult {
	rr := runResult{Run: run}

	bodyBytes, err := json.Marshal(scanRequest{URL: target, Mode: mode, SkipAnalysis: *skipAnalysis})
	if err != nil {
		rr.Error = fmt.Sprintf("marshal error: %v", err)
		return rr
	}

	req, err := http.NewRequest(http.MethodPost, *apiURL+"/api/v1/scan", bytes.NewReader(bodyBytes))
	if err != nil {
		rr.Error = fmt.Sprintf("request error: %v", err)
		return rr
	}
	req.Header.Set("Content-Type", "application/json")
	if *apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+*apiKey)
	}

	client := &http.Client{Timeout: 6 * time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		rr.Error = fmt.Sprintf("request failed: %v", err)
		return rr
	}
	defer resp.Body.Close()

	var sr scanResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		rr.Error = fmt.Sprintf("decode error: %v", err)
		return rr
	}

	h := sr.Harvest
	rr.Success = sr.Success
	rr.TotalMs = sr.Timing.TotalMs
	rr.HarvestMs = sr.Timing.HarvestMs
	rr.AnalysisMs = sr.Timing.AnalysisMs
	rr.ScrollSteps = h.ScrollSteps
	rr.Candidates = h.Candidates
	rr.Acquired = h.Acquired
	rr.Failed = len(h.Failures)
	rr.Duplicates = h.Duplicates
	rr.Analysed = len(h.Images)
	if sr.Error != nil {
		rr.Error = fmt.Sprintf("[%s] %s", sr.Error.Code, sr.Error.Message)
	}
	return rr
}

func computeAverages(runs []runResult) *averages {
	var successCount, candidates, failed int
	var avg averages

	for _, r := range runs {
		if !r.Success {
			continue
		}
		successCount++
		avg.TotalMs += float64(r.TotalMs)
		avg.HarvestMs += float64(r.HarvestMs)
		avg.ScrollSteps += float64(r.ScrollSteps)
		avg.Acquired += float64(r.Acquired)
		candidates += r.Candidates
		failed += r.Failed
	}

	if successCount == 0 {
		return nil
	}

	n := float64(successCount)
	avg.TotalMs /= n
	avg.HarvestMs /= n
	avg.ScrollSteps /= n
	avg.Acquired /= n
	if candidates > 0 {
		avg.FailureRate = float64(failed) / float64(candidates) * 100
	}
	return &avg
}

func printTable(results []caseResult) {
	fmt.Println(strings.Repeat("─", 85))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Page\tMode\tAvg Latency\tScroll Steps\tAcquired\tFailures\n")
	fmt.Fprintf(w, "────\t────\t───────────\t────────────\t────────\t────────\n")

	for _, r := range results {
		if r.Averages == nil {
			fmt.Fprintf(w, "%s\t%s\tFAILED\t-\t-\t-\n", truncate(label(r.URL), 40), r.Mode)
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%dms\t%.1f\t%.1f\t%.1f%%\n",
			truncate(label(r.URL), 40),
			r.Mode,
			int64(r.Averages.TotalMs),
			r.Averages.ScrollSteps,
			r.Averages.Acquired,
			r.Averages.FailureRate,
		)
	}

	w.Flush()
	fmt.Println(strings.Repeat("─", 85))
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func label(u string) string {
	if u == "" {
		return "(loaded tab)"
	}
	return u
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

func writeJSON(path string, report benchmarkReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
