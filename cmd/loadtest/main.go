package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/content-relatedness-engine/internal/ingest"
	"github.com/Adithya-Monish-Kumar-K/content-relatedness-engine/internal/post"
)

type Config struct {
	BaseURL     string
	Concurrency int
	Duration    time.Duration
	Posts       int
	BatchSize   int
}

// opStats tracks one request kind (related, digest, score).
type opStats struct {
	total     atomic.Int64
	failed    atomic.Int64
	mu        sync.Mutex
	latencies []time.Duration
	codes     map[int]int64
}

func newOpStats() *opStats {
	return &opStats{
		latencies: make([]time.Duration, 0, 50000),
		codes:     make(map[int]int64),
	}
}

func (s *opStats) record(d time.Duration, status int, err error) {
	s.total.Add(1)
	if err != nil || status < 200 || status >= 300 {
		s.failed.Add(1)
	}
	if err != nil {
		return
	}
	s.mu.Lock()
	s.latencies = append(s.latencies, d)
	s.codes[status]++
	s.mu.Unlock()
}

var (
	seedTags  = []string{"react", "nextjs", "go", "kafka", "postgres", "redis", "css", "testing", "docker", "graphql"}
	seedNouns = []string{"Google Analytics", "Vercel", "GitHub", "Prometheus", "Tailwind", "Stripe"}
)

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "base URL of the engine")
	concurrency := flag.Int("concurrency", 10, "number of concurrent workers")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	posts := flag.Int("posts", 1000, "number of posts to seed before querying (0 skips seeding)")
	batchSize := flag.Int("batch", 200, "posts per seeding request")
	flag.Parse()

	cfg := Config{
		BaseURL:     *baseURL,
		Concurrency: *concurrency,
		Duration:    *duration,
		Posts:       *posts,
		BatchSize:   *batchSize,
	}

	fmt.Println("=== Relatedness Engine Load Test ===")
	fmt.Printf("Target:      %s\n", cfg.BaseURL)
	fmt.Printf("Concurrency: %d\n", cfg.Concurrency)
	fmt.Printf("Duration:    %s\n", cfg.Duration)
	fmt.Printf("Posts:       %d\n", cfg.Posts)
	fmt.Println()

	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        cfg.Concurrency * 2,
			MaxIdleConnsPerHost: cfg.Concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	if cfg.Posts > 0 {
		if err := seed(client, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "seeding failed: %v\n", err)
			os.Exit(1)
		}
	}

	stats := run(client, cfg)
	if !report(stats, cfg.Duration) {
		fmt.Println()
		fmt.Println("WARNING: No requests completed. Is the engine running?")
		os.Exit(1)
	}
}

func seedPost(i int) post.Record {
	return post.Record{
		ID:          fmt.Sprintf("load-%06d", i),
		Title:       fmt.Sprintf("Load post %d", i),
		Tags:        []string{seedTags[i%len(seedTags)], seedTags[(i/4)%len(seedTags)]},
		Nouns:       []string{seedNouns[(i/2)%len(seedNouns)]},
		Recap:       i%5 == 0,
		PublishedAt: time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Hour),
	}
}

func seed(client *http.Client, cfg Config) error {
	start := time.Now()
	for from := 0; from < cfg.Posts; from += cfg.BatchSize {
		to := min(from+cfg.BatchSize, cfg.Posts)
		req := ingest.BatchRequest{Posts: make([]post.Record, 0, to-from)}
		for i := from; i < to; i++ {
			req.Posts = append(req.Posts, seedPost(i))
		}
		body, err := json.Marshal(req)
		if err != nil {
			return err
		}
		resp, err := client.Post(cfg.BaseURL+"/api/v1/posts/batch", "application/json", bytes.NewReader(body))
		if err != nil {
			return err
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("batch %d-%d: status %d", from, to, resp.StatusCode)
		}
	}
	fmt.Printf("Seeded %d posts in %s\n\n", cfg.Posts, time.Since(start).Round(time.Millisecond))
	return nil
}

// nextURL picks the request for a worker's n-th iteration: eight related
// queries, then a digest and a score.
func nextURL(cfg Config, n int) (string, string) {
	postCount := max(cfg.Posts, 1)
	id := fmt.Sprintf("load-%06d", n%postCount)
	switch n % 10 {
	case 8:
		start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(n%postCount) * time.Hour)
		return "digest", fmt.Sprintf("%s/api/v1/digest?start=%s&end=%s", cfg.BaseURL,
			start.Format(time.RFC3339), start.Add(7*24*time.Hour).Format(time.RFC3339))
	case 9:
		other := fmt.Sprintf("load-%06d", (n+1)%postCount)
		return "score", fmt.Sprintf("%s/api/v1/score?a=%s&b=%s", cfg.BaseURL, id, other)
	default:
		return "related", fmt.Sprintf("%s/api/v1/posts/%s/related?limit=5", cfg.BaseURL, id)
	}
}

func run(client *http.Client, cfg Config) map[string]*opStats {
	stats := map[string]*opStats{
		"related": newOpStats(),
		"digest":  newOpStats(),
		"score":   newOpStats(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	var wg sync.WaitGroup
	fmt.Print("Running")
	for w := 0; w < cfg.Concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for n := worker * 7919; ctx.Err() == nil; n++ {
				kind, target := nextURL(cfg, n)
				req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
				if err != nil {
					panic(fmt.Sprintf("creating request: %v", err))
				}
				start := time.Now()
				resp, err := client.Do(req)
				elapsed := time.Since(start)
				if err != nil {
					if ctx.Err() == nil {
						stats[kind].record(elapsed, 0, err)
					}
					continue
				}
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
				stats[kind].record(elapsed, resp.StatusCode, nil)
			}
		}(w)
	}

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fmt.Print(".")
			}
		}
	}()

	wg.Wait()
	fmt.Println(" done!")
	fmt.Println()
	return stats
}

// report prints per-kind results and returns false when nothing completed.
func report(stats map[string]*opStats, duration time.Duration) bool {
	var total int64
	for _, kind := range []string{"related", "digest", "score"} {
		s := stats[kind]
		n, failed := s.total.Load(), s.failed.Load()
		total += n
		fmt.Printf("=== %s ===\n", kind)
		fmt.Printf("Requests:     %d\n", n)
		if n == 0 {
			fmt.Println()
			continue
		}
		fmt.Printf("Failed:       %d (%.2f%%)\n", failed, float64(failed)/float64(n)*100)
		fmt.Printf("Requests/sec: %.2f\n", float64(n)/duration.Seconds())

		s.mu.Lock()
		latencies := append([]time.Duration(nil), s.latencies...)
		codes := make([]int, 0, len(s.codes))
		for code := range s.codes {
			codes = append(codes, code)
		}
		sort.Ints(codes)
		counts := make([]int64, len(codes))
		for i, code := range codes {
			counts[i] = s.codes[code]
		}
		s.mu.Unlock()

		if len(latencies) > 0 {
			sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
			fmt.Printf("Latency:      min=%s p50=%s p90=%s p99=%s max=%s\n",
				latencies[0],
				percentile(latencies, 50),
				percentile(latencies, 90),
				percentile(latencies, 99),
				latencies[len(latencies)-1],
			)
		}
		for i, code := range codes {
			fmt.Printf("  %d: %d\n", code, counts[i])
		}
		fmt.Println()
	}
	return total > 0
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	return sorted[max(0, min(idx, len(sorted)-1))]
}
