package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

type runConfig struct {
	BaseURL     string
	CourseID    string
	Concurrency int
	Duration    time.Duration
	RPS         float64
	Limit       int
	Hydrate     bool
	Queries     []string
}

// retrieveBody is the part of the retrieval response the report counts.
type retrieveBody struct {
	Chunks        []json.RawMessage `json:"chunks"`
	LowConfidence bool              `json:"lowConfidence"`
	Partial       bool              `json:"partial"`
	FailedKinds   []string          `json:"failedKinds"`
}

type report struct {
	mu            sync.Mutex
	elapsed       time.Duration
	total         int
	transportErrs int
	statuses      map[int]int
	latencies     []time.Duration
	partial       int
	lowConfidence int
	empty         int
	cacheHits     int
	failedKinds   map[string]int
}

func newReport() *report {
	return &report{statuses: make(map[int]int), failedKinds: make(map[string]int)}
}

func (r *report) record(d time.Duration, status int, cacheHit bool, body *retrieveBody, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.total++
	if err != nil {
		r.transportErrs++
		return
	}
	r.statuses[status]++
	r.latencies = append(r.latencies, d)
	if cacheHit {
		r.cacheHits++
	}
	if body == nil {
		return
	}
	if body.Partial {
		r.partial++
	}
	if body.LowConfidence {
		r.lowConfidence++
	}
	if len(body.Chunks) == 0 {
		r.empty++
	}
	for _, k := range body.FailedKinds {
		r.failedKinds[k]++
	}
}

// run sends queries round-robin from cfg.Concurrency workers until
// cfg.Duration passes or ctx ends. A nil client gets a pooled default.
func run(ctx context.Context, cfg runConfig, client *http.Client) (*report, error) {
	if len(cfg.Queries) == 0 {
		return nil, fmt.Errorf("no queries to send")
	}
	workers := max(cfg.Concurrency, 1)
	if client == nil {
		client = &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        workers * 2,
				MaxIdleConnsPerHost: workers * 2,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), max(1, int(cfg.RPS/10)))
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()
	rep := newReport()
	start := time.Now()

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for i := w; ; i++ {
				if err := limiter.Wait(ctx); err != nil {
					return nil
				}
				q := cfg.Queries[i%len(cfg.Queries)]
				t0 := time.Now()
				status, hit, body, err := retrieve(ctx, client, cfg, q)
				if ctx.Err() != nil {
					return nil
				}
				rep.record(time.Since(t0), status, hit, body, err)
			}
		})
	}
	g.Wait()
	rep.elapsed = time.Since(start)
	return rep, nil
}

func retrieve(ctx context.Context, client *http.Client, cfg runConfig, query string) (int, bool, *retrieveBody, error) {
	params := url.Values{"q": {query}, "limit": {fmt.Sprint(cfg.Limit)}}
	if cfg.Hydrate {
		params.Set("hydrate", "true")
	}
	u := fmt.Sprintf("%s/api/v1/courses/%s/retrieve?%s", cfg.BaseURL, url.PathEscape(cfg.CourseID), params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, false, nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, false, nil, err
	}
	defer resp.Body.Close()
	hit := resp.Header.Get("X-Cache") == "HIT"
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, hit, nil, nil
	}
	var body retrieveBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return resp.StatusCode, hit, nil, fmt.Errorf("decoding response: %w", err)
	}
	return resp.StatusCode, hit, &body, nil
}

func (r *report) print(w io.Writer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ok := r.statuses[http.StatusOK]
	fmt.Fprintf(w, "requests      %d (%.1f/s)\n", r.total, float64(r.total)/max(r.elapsed.Seconds(), 1e-9))
	fmt.Fprintf(w, "ok            %d\n", ok)
	fmt.Fprintf(w, "transport err %d\n", r.transportErrs)
	if ok > 0 {
		pct := func(n int) float64 { return float64(n) / float64(ok) * 100 }
		fmt.Fprintf(w, "partial       %d (%.1f%%)\n", r.partial, pct(r.partial))
		fmt.Fprintf(w, "low conf      %d (%.1f%%)\n", r.lowConfidence, pct(r.lowConfidence))
		fmt.Fprintf(w, "empty         %d (%.1f%%)\n", r.empty, pct(r.empty))
		fmt.Fprintf(w, "cache hits    %d (%.1f%%)\n", r.cacheHits, pct(r.cacheHits))
	}

	if len(r.latencies) > 0 {
		sorted := slices.Clone(r.latencies)
		slices.Sort(sorted)
		fmt.Fprintln(w, "\nlatency")
		for _, p := range []float64{50, 90, 95, 99} {
			fmt.Fprintf(w, "  p%-3g %s\n", p, percentile(sorted, p))
		}
		fmt.Fprintf(w, "  max  %s\n", sorted[len(sorted)-1])
	}

	if len(r.statuses) > 0 {
		fmt.Fprintln(w, "\nstatus codes")
		codes := make([]int, 0, len(r.statuses))
		for c := range r.statuses {
			codes = append(codes, c)
		}
		slices.Sort(codes)
		for _, c := range codes {
			fmt.Fprintf(w, "  %d  %d\n", c, r.statuses[c])
		}
	}
	if len(r.failedKinds) > 0 {
		fmt.Fprintln(w, "\nfailed kinds")
		kinds := make([]string, 0, len(r.failedKinds))
		for k := range r.failedKinds {
			kinds = append(kinds, k)
		}
		slices.Sort(kinds)
		for _, k := range kinds {
			fmt.Fprintf(w, "  %-10s %d\n", k, r.failedKinds[k])
		}
	}
}

// percentile uses the nearest-rank method on an ascending slice.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	return sorted[min(max(idx, 0), len(sorted)-1)]
}
