package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	flag "github.com/spf13/pflag"
)

// CLI flags
var (
	apiURL = flag.String("api-url", "http://localhost:8080", "pageshot API base URL")
	runs   = flag.Int("runs", 3, "Number of runs per URL")
	format = flag.String("format", "jpeg", "Image format to request (jpeg or png)")
	size   = flag.String("size", "800x640", "Viewport size as WIDTHxHEIGHT")
	output = flag.String("output", "benchmark-results.json", "JSON output file path")
)

// Test URLs covering light, heavy and slow-loading pages.
var testURLs = []struct {
	Label string
	URL   string
}{
	{"Static", "https://example.com"},
	{"Docs", "https://go.dev/doc/effective_go"},
	{"News", "https://www.bbc.com/news"},
	{"Complex", "https://github.com/go-rod/rod"},
	{"Slow", "https://httpbin.org/delay/10"},
}

// --- Request / Response types (mirrors models package) ---

type screenshotRequest struct {
	URL    string `json:"url"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
	Format string `json:"format,omitempty"`
}

type screenshotResponse struct {
	Success  bool         `json:"success"`
	Image    string       `json:"image"`
	MIMEType string       `json:"mime_type"`
	Partial  bool         `json:"partial"`
	Timing   timingInfo   `json:"timing"`
	Error    *errorDetail `json:"error,omitempty"`
}

type timingInfo struct {
	TotalMs   int64 `json:"total_ms"`
	CaptureMs int64 `json:"capture_ms"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// --- Benchmark result types ---

type runResult struct {
	Run        int    `json:"run"`
	LatencyMs  int64  `json:"latency_ms"`
	CaptureMs  int64  `json:"capture_ms"`
	ImageBytes int    `json:"image_bytes"`
	Partial    bool   `json:"partial"`
	HTTPStatus int    `json:"http_status"`
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
}

type urlSummary struct {
	AvgLatencyMs float64 `json:"avg_latency_ms"`
	MaxLatencyMs int64   `json:"max_latency_ms"`
	AvgBytes     float64 `json:"avg_bytes"`
	Partials     int     `json:"partials"`
	Failures     int     `json:"failures"`
}

type urlResult struct {
	URL     string      `json:"url"`
	Label   string      `json:"label"`
	Runs    []runResult `json:"runs"`
	Summary *urlSummary `json:"summary,omitempty"`
}

type benchmarkReport struct {
	Timestamp  string      `json:"timestamp"`
	APIURL     string      `json:"api_url"`
	Format     string      `json:"format"`
	Size       string      `json:"size"`
	RunsPerURL int         `json:"runs_per_url"`
	Results    []urlResult `json:"results"`
}

func main() {
	flag.Parse()

	var width, height int
	if _, err := fmt.Sscanf(strings.ToLower(*size), "%dx%d", &width, &height); err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid --size %q\n", *size)
		os.Exit(2)
	}

	fmt.Println("=== pageshot Benchmark Suite ===")
	fmt.Printf("API URL:   %s\n", *apiURL)
	fmt.Printf("Request:   %s %dx%d\n", *format, width, height)
	fmt.Printf("Runs/URL:  %d\n", *runs)
	fmt.Printf("Output:    %s\n", *output)
	fmt.Println()

	// Quick connectivity check.
	if err := checkAPI(*apiURL); err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot reach API at %s: %v\n", *apiURL, err)
		fmt.Fprintf(os.Stderr, "Make sure pageshot is running (e.g. go run ./cmd/pageshot)\n")
		os.Exit(1)
	}

	report := benchmarkReport{
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		APIURL:     *apiURL,
		Format:     *format,
		Size:       *size,
		RunsPerURL: *runs,
	}

	client := &http.Client{Timeout: 30 * time.Second}
	for _, t := range testURLs {
		fmt.Printf("Benchmarking [%s] %s ...\n", t.Label, t.URL)
		ur := urlResult{URL: t.URL, Label: t.Label}

		for i := 1; i <= *runs; i++ {
			fmt.Printf("  Run %d/%d ... ", i, *runs)
			rr := benchmarkURL(client, screenshotRequest{URL: t.URL, Width: width, Height: height, Format: *format}, i)
			switch {
			case !rr.Success:
				fmt.Printf("FAILED (%d): %s\n", rr.HTTPStatus, rr.Error)
			case rr.Partial:
				fmt.Printf("PARTIAL  %dms  %s\n", rr.LatencyMs, formatBytes(rr.ImageBytes))
			default:
				fmt.Printf("OK  %dms  %s\n", rr.LatencyMs, formatBytes(rr.ImageBytes))
			}
			ur.Runs = append(ur.Runs, rr)
		}

		ur.Summary = summarize(ur.Runs)
		report.Results = append(report.Results, ur)
		fmt.Println()
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

func benchmarkURL(client *http.Client, sr screenshotRequest, run int) runResult {
	rr := runResult{Run: run}

	bodyBytes, err := json.Marshal(sr)
	if err != nil {
		rr.Error = fmt.Sprintf("marshal error: %v", err)
		return rr
	}

	start := time.Now()
	resp, err := client.Post(*apiURL+"/api/v1/screenshot", "application/json", bytes.NewReader(bodyBytes))
	if err != nil {
		rr.Error = fmt.Sprintf("request failed: %v", err)
		return rr
	}
	defer resp.Body.Close()

	var shot screenshotResponse
	if err := json.NewDecoder(resp.Body).Decode(&shot); err != nil {
		rr.Error = fmt.Sprintf("decode error: %v", err)
		return rr
	}
	rr.LatencyMs = time.Since(start).Milliseconds()
	rr.HTTPStatus = resp.StatusCode
	rr.Success = shot.Success
	rr.Partial = shot.Partial
	rr.CaptureMs = shot.Timing.CaptureMs
	rr.ImageBytes = base64.StdEncoding.DecodedLen(len(shot.Image))

	if shot.Error != nil {
		rr.Error = fmt.Sprintf("[%s] %s", shot.Error.Code, shot.Error.Message)
	}
	return rr
}

func summarize(runs []runResult) *urlSummary {
	var s urlSummary
	var ok int
	for _, r := range runs {
		if !r.Success {
			s.Failures++
			continue
		}
		ok++
		s.AvgLatencyMs += float64(r.LatencyMs)
		s.AvgBytes += float64(r.ImageBytes)
		s.MaxLatencyMs = max(s.MaxLatencyMs, r.LatencyMs)
		if r.Partial {
			s.Partials++
		}
	}
	if ok == 0 {
		return nil
	}
	s.AvgLatencyMs /= float64(ok)
	s.AvgBytes /= float64(ok)
	return &s
}

func printTable(results []urlResult) {
	sorted := append([]urlResult(nil), results...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Summary == nil || sorted[j].Summary == nil {
			return sorted[j].Summary == nil && sorted[i].Summary != nil
		}
		return sorted[i].Summary.AvgLatencyMs < sorted[j].Summary.AvgLatencyMs
	})

	fmt.Println(strings.Repeat("─", 85))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "URL\tAvg Latency\tMax Latency\tAvg Size\tPartial\tFailed\n")
	fmt.Fprintf(w, "───\t───────────\t───────────\t────────\t───────\t──────\n")

	for _, r := range sorted {
		if r.Summary == nil {
			fmt.Fprintf(w, "%s\tFAILED\t-\t-\t-\t%d\n", truncateURL(r.URL, 40), len(r.Runs))
			continue
		}
		fmt.Fprintf(w, "%s\t%dms\t%dms\t%s\t%d\t%d\n",
			truncateURL(r.URL, 40),
			int64(r.Summary.AvgLatencyMs),
			r.Summary.MaxLatencyMs,
			formatBytes(int(r.Summary.AvgBytes)),
			r.Summary.Partials,
			r.Summary.Failures,
		)
	}

	w.Flush()
	fmt.Println(strings.Repeat("─", 85))
}

func truncateURL(u string, max int) string {
	if len(u) <= max {
		return u
	}
	return u[:max-3] + "..."
}

func formatBytes(n int) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}

func writeJSON(path string, report benchmarkReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
