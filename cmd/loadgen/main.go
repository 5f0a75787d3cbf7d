// Command loadgen drives a coverage server with a Zipf-skewed mix of
// coverage, summary, intersect and contains requests and writes per-request
// samples (CSV) plus a run summary (JSON).
package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

type Config struct {
	BaseURL         string
	Datasets        []string
	Mix             map[string]int
	Concurrency     int
	Duration        time.Duration
	ZipfS           float64
	ZipfV           float64
	PointsPerReq    int
	OutputPrefix    string
	RequestTimeout  time.Duration
	AppendTimestamp bool
}

func loadConfig(args []string) (Config, error) {
	var (
		cfg      Config
		datasets string
		mix      string
	)
	fs := flag.NewFlagSet("loadgen", flag.ContinueOnError)
	fs.StringVar(&cfg.BaseURL, "target", "http://localhost:8090", "Coverage server base URL")
	fs.StringVar(&datasets, "datasets", "2mass,sdss,gaia", "Comma-separated dataset names, most popular first")
	fs.StringVar(&mix, "mix", "coverage=6,summary=2,intersect=1,contains=1", "Request mix weights")
	fs.IntVar(&cfg.Concurrency, "concurrency", 32, "Concurrent workers")
	fs.DurationVar(&cfg.Duration, "duration", 60*time.Second, "Test duration")
	fs.Float64Var(&cfg.ZipfS, "zipf-s", 1.3, "Zipf parameter s (>1)")
	fs.Float64Var(&cfg.ZipfV, "zipf-v", 1.0, "Zipf parameter v (>=1)")
	fs.IntVar(&cfg.PointsPerReq, "points", 100, "Points per contains request")
	fs.StringVar(&cfg.OutputPrefix, "out", "results/loadgen", "Output file prefix (JSON/CSV)")
	fs.DurationVar(&cfg.RequestTimeout, "timeout", 10*time.Second, "Per-request timeout")
	fs.BoolVar(&cfg.AppendTimestamp, "append-ts", true, "Append timestamp to output prefix")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	for _, d := range strings.Split(datasets, ",") {
		if d = strings.TrimSpace(d); d != "" {
			cfg.Datasets = append(cfg.Datasets, d)
		}
	}
	if len(cfg.Datasets) == 0 {
		return cfg, fmt.Errorf("no datasets")
	}
	m, err := parseMix(mix)
	if err != nil {
		return cfg, err
	}
	cfg.Mix = m
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return cfg, nil
}

var kinds = []string{"coverage", "summary", "intersect", "contains"}

func parseMix(s string) (map[string]int, error) {
	out := map[string]int{}
	total := 0
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("mix entry %q: want kind=weight", part)
		}
		k = strings.TrimSpace(k)
		known := false
		for _, kk := range kinds {
			known = known || kk == k
		}
		if !known {
			return nil, fmt.Errorf("mix entry %q: unknown kind", part)
		}
		w, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || w < 0 {
			return nil, fmt.Errorf("mix entry %q: bad weight", part)
		}
		out[k] = w
		total += w
	}
	if total == 0 {
		return nil, fmt.Errorf("mix %q has no positive weight", s)
	}
	return out, nil
}

// workload turns random draws into requests. It is not safe for concurrent
// use; each worker owns one.
type workload struct {
	cfg   Config
	r     *rand.Rand
	zipf  *rand.Zipf
	kinds []string // one entry per unit of weight
}

func newWorkload(cfg Config, seed int64) *workload {
	r := rand.New(rand.NewSource(seed))
	w := &workload{cfg: cfg, r: r}
	if len(cfg.Datasets) > 1 {
		w.zipf = rand.NewZipf(r, cfg.ZipfS, cfg.ZipfV, uint64(len(cfg.Datasets)-1))
	}
	for _, k := range kinds {
		for range cfg.Mix[k] {
			w.kinds = append(w.kinds, k)
		}
	}
	return w
}

func (w *workload) dataset() string {
	if w.zipf == nil {
		return w.cfg.Datasets[0]
	}
	return w.cfg.Datasets[int(w.zipf.Uint64())]
}

// next builds one request; kind and dataset are returned for the sample.
func (w *workload) next(ctx context.Context) (*http.Request, string, string, error) {
	base := strings.TrimRight(w.cfg.BaseURL, "/")
	kind := w.kinds[w.r.Intn(len(w.kinds))]
	ds := w.dataset()

	var (
		target string
		body   []byte
		method = http.MethodGet
	)
	switch kind {
	case "coverage":
		q := url.Values{}
		if w.r.Intn(2) == 0 {
			q.Set("order", strconv.Itoa(3+w.r.Intn(6)))
		}
		if w.r.Intn(4) == 0 {
			q.Set("format", "ascii")
		}
		target = base + "/coverage/" + url.PathEscape(ds)
		if len(q) > 0 {
			target += "?" + q.Encode()
		}
	case "summary":
		target = base + "/coverage/" + url.PathEscape(ds) + "/summary"
	case "intersect":
		other := w.dataset()
		q := url.Values{"a": {ds}, "b": {other}, "order": {strconv.Itoa(3 + w.r.Intn(4))}}
		target = base + "/intersect?" + q.Encode()
		ds += "&" + other
	case "contains":
		method = http.MethodPost
		target = base + "/contains/" + url.PathEscape(ds)
		pts := make([][2]float64, w.cfg.PointsPerReq)
		for i := range pts {
			// uniform on the sphere
			pts[i] = [2]float64{w.r.Float64() * 360, math.Asin(2*w.r.Float64()-1) * 180 / math.Pi}
		}
		var err error
		if body, err = json.Marshal(map[string]any{"points": pts}); err != nil {
			return nil, "", "", err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
	if err != nil {
		return nil, "", "", err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, kind, ds, nil
}

// request result (one sample per request)
type sample struct {
	Timestamp time.Time
	Latency   time.Duration
	Status    int
	ErrorMsg  string
	Kind      string
	Dataset   string
}

type kindStats struct {
	Total  int64   `json:"total"`
	Errors int64   `json:"errors"`
	P50Ms  float64 `json:"p50_ms"`
	P95Ms  float64 `json:"p95_ms"`
}

type summary struct {
	StartTime     time.Time            `json:"start"`
	EndTime       time.Time            `json:"end"`
	DurationSec   float64              `json:"duration_sec"`
	TotalRequests int64                `json:"total"`
	SuccessCount  int64                `json:"success"`
	ErrorCount    int64                `json:"errors"`
	ThroughputRPS float64              `json:"throughput_rps"`
	P50Ms         float64              `json:"p50_ms"`
	P95Ms         float64              `json:"p95_ms"`
	P99Ms         float64              `json:"p99_ms"`
	ByKind        map[string]kindStats `json:"by_kind"`
	Concurrency   int                  `json:"concurrency"`
	ZipfS         float64              `json:"zipf_s"`
	ZipfV         float64              `json:"zipf_v"`
	Datasets      []string             `json:"datasets"`
	TargetURL     string               `json:"target"`
}

// aggregator folds samples into totals and latency lists.
type aggregator struct {
	total, success, errors int64
	latMs                  []float64
	byKind                 map[string][]float64
	kindTotal, kindErrors  map[string]int64
}

func newAggregator() *aggregator {
	return &aggregator{byKind: map[string][]float64{}, kindTotal: map[string]int64{}, kindErrors: map[string]int64{}}
}

func (a *aggregator) add(s sample) {
	a.total++
	a.kindTotal[s.Kind]++
	if s.ErrorMsg == "" && (s.Status >= 200 && s.Status < 300 || s.Status == http.StatusNotModified) {
		a.success++
		ms := float64(s.Latency.Microseconds()) / 1000.0
		a.latMs = append(a.latMs, ms)
		a.byKind[s.Kind] = append(a.byKind[s.Kind], ms)
		return
	}
	a.errors++
	a.kindErrors[s.Kind]++
}

func (a *aggregator) summarize(cfg Config, start, end time.Time) summary {
	elapsed := end.Sub(start).Seconds()
	sort.Float64s(a.latMs)
	s := summary{
		StartTime:     start.UTC(),
		EndTime:       end.UTC(),
		DurationSec:   elapsed,
		TotalRequests: a.total,
		SuccessCount:  a.success,
		ErrorCount:    a.errors,
		P50Ms:         percentile(a.latMs, 50),
		P95Ms:         percentile(a.latMs, 95),
		P99Ms:         percentile(a.latMs, 99),
		ByKind:        map[string]kindStats{},
		Concurrency:   cfg.Concurrency,
		ZipfS:         cfg.ZipfS,
		ZipfV:         cfg.ZipfV,
		Datasets:      cfg.Datasets,
		TargetURL:     cfg.BaseURL,
	}
	if elapsed > 0 {
		s.ThroughputRPS = float64(a.total) / elapsed
	}
	for k, n := range a.kindTotal {
		lat := a.byKind[k]
		sort.Float64s(lat)
		s.ByKind[k] = kindStats{Total: n, Errors: a.kindErrors[k], P50Ms: percentile(lat, 50), P95Ms: percentile(lat, 95)}
	}
	return s
}

func main() {
	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.OutputPrefix), 0o750); err != nil {
		log.Fatalf("mkdir results: %v", err)
	}
	prefix := cfg.OutputPrefix
	if cfg.AppendTimestamp {
		prefix = fmt.Sprintf("%s_%s", prefix, time.Now().UTC().Format("20060102_150405Z"))
	}

	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: 4 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
			MaxIdleConns:          1024,
			MaxIdleConnsPerHost:   256,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   4 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
		Timeout: cfg.RequestTimeout,
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	csvPath := prefix + "_samples.csv"
	jsonPath := prefix + "_summary.json"
	csvFile, err := os.Create(filepath.Clean(csvPath))
	if err != nil {
		log.Fatalf("open csv: %v", err)
	}
	defer func() { _ = csvFile.Close() }()
	csvWriter := csv.NewWriter(csvFile)

	// collects results asynchronously
	samplesChan := make(chan sample, 4096)
	resultsChan := make(chan *aggregator, 1)
	go func() {
		_ = csvWriter.Write([]string{"timestamp", "latency_ms", "status", "error", "kind", "dataset"})
		agg := newAggregator()
		for s := range samplesChan {
			agg.add(s)
			_ = csvWriter.Write([]string{
				s.Timestamp.UTC().Format(time.RFC3339Nano),
				fmt.Sprintf("%.3f", float64(s.Latency.Microseconds())/1000.0),
				strconv.Itoa(s.Status),
				s.ErrorMsg,
				s.Kind,
				s.Dataset,
			})
		}
		csvWriter.Flush()
		if err := csvWriter.Error(); err != nil {
			log.Printf("csv flush error: %v", err)
		}
		resultsChan <- agg
	}()

	seed := time.Now().UnixNano()
	startTime := time.Now()
	log.Printf("loadgen start target=%s dur=%s conc=%d zipf(s=%.2f,v=%.2f) datasets=%v mix=%v",
		cfg.BaseURL, cfg.Duration, cfg.Concurrency, cfg.ZipfS, cfg.ZipfV, cfg.Datasets, cfg.Mix)

	var wg sync.WaitGroup
	wg.Add(cfg.Concurrency)
	for workerID := range cfg.Concurrency {
		go func(id int) {
			defer wg.Done()
			w := newWorkload(cfg, seed+int64(id)+1)
			for ctx.Err() == nil {
				req, kind, ds, err := w.next(ctx)
				if err != nil {
					log.Printf("build request: %v", err)
					return
				}
				startReq := time.Now()
				resp, err := httpClient.Do(req)
				result := sample{Timestamp: startReq, Latency: time.Since(startReq), Kind: kind, Dataset: ds}
				if err != nil {
					result.ErrorMsg = err.Error()
				} else {
					result.Status = resp.StatusCode
					_, _ = io.Copy(io.Discard, resp.Body)
					_ = resp.Body.Close()
					if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotModified {
						result.ErrorMsg = fmt.Sprintf("status=%d", resp.StatusCode)
					}
				}

				select {
				case samplesChan <- result:
				case <-ctx.Done():
					return
				}
			}
		}(workerID)
	}

	go func() {
		<-ctx.Done()
		wg.Wait()
		close(samplesChan)
	}()

	agg := <-resultsChan
	runSummary := agg.summarize(cfg, startTime, time.Now())

	jsonFile, err := os.Create(filepath.Clean(jsonPath))
	if err == nil {
		enc := json.NewEncoder(jsonFile)
		enc.SetIndent("", "  ")
		_ = enc.Encode(runSummary)
		_ = jsonFile.Close()
	}

	log.Printf("done: total=%d succ=%d err=%d thr=%.2f rps p50=%.1fms p95=%.1fms p99=%.1fms",
		runSummary.TotalRequests, runSummary.SuccessCount, runSummary.ErrorCount, runSummary.ThroughputRPS,
		runSummary.P50Ms, runSummary.P95Ms, runSummary.P99Ms)
	log.Printf("wrote %s and %s", jsonPath, csvPath)
}

func percentile(sortedValues []float64, p float64) float64 {
	if len(sortedValues) == 0 {
		return math.NaN()
	}
	if p <= 0 {
		return sortedValues[0]
	}
	if p >= 100 {
		return sortedValues[len(sortedValues)-1]
	}
	k := (p / 100.0) * float64(len(sortedValues)-1)
	f := math.Floor(k)
	i := int(f)
	if i >= len(sortedValues)-1 {
		return sortedValues[len(sortedValues)-1]
	}
	d := k - f
	return sortedValues[i]*(1-d) + sortedValues[i+1]*d
}
