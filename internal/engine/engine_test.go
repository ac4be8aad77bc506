package engine

import (
	"context"
	"fmt"
	"path"
	"sync"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/content-relatedness-engine/internal/cache"
	"github.com/Adithya-Monish-Kumar-K/content-relatedness-engine/internal/index"
	"github.com/Adithya-Monish-Kumar-K/content-relatedness-engine/internal/post"
	"github.com/Adithya-Monish-Kumar-K/content-relatedness-engine/internal/relatedness"
	apperrors "github.com/Adithya-Monish-Kumar-K/content-relatedness-engine/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/content-relatedness-engine/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

var t0 = time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

func scenarioPosts() []post.Record {
	return []post.Record{
		{ID: "p1", Title: "Analytics in Next.js", Tags: []string{"react", "nextjs"}, Nouns: []string{"Google Analytics"}, Recap: true, PublishedAt: t0.Add(time.Hour)},
		{ID: "p2", Title: "React hooks", Tags: []string{"react"}, PublishedAt: t0.Add(2 * time.Hour)},
	}
}

func newEngine(t *testing.T, opts Options) *Engine {
	t.Helper()
	if opts.Weights == (relatedness.Weights{}) {
		opts.Weights = relatedness.DefaultWeights()
	}
	e, err := New(opts)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return e
}

func TestEngineScenarios(t *testing.T) {
	e := newEngine(t, Options{})
	ctx := context.Background()
	if _, err := e.UpsertBatch(ctx, scenarioPosts()); err != nil {
		t.Fatalf("seeding: %v", err)
	}

	exp, err := e.Score(ctx, "p1", "p2")
	if err != nil || exp.Score != 0.35 {
		t.Fatalf("score(p1,p2): expected 0.35, got %v (err=%v)", exp.Score, err)
	}
	if _, err := e.Score(ctx, "p1", "p1"); !apperrors.IsInvalidArgument(err) {
		t.Errorf("self score: expected InvalidArgument, got %v", err)
	}
	if _, err := e.Score(ctx, "p1", "nope"); !apperrors.IsNotFound(err) {
		t.Errorf("unknown post: expected NotFound, got %v", err)
	}

	recs, err := e.Related(ctx, "p1", 1)
	if err != nil {
		t.Fatalf("related: %v", err)
	}
	if len(recs) != 1 || recs[0].PostID != "p2" || recs[0].Score != 0.35 {
		t.Errorf("related(p1, 1): expected [(p2, 0.35)], got %+v", recs)
	}

	ids, err := e.Digest(ctx, t0, t0.Add(24*time.Hour))
	if err != nil || fmt.Sprint(ids) != "[p1]" {
		t.Errorf("digest: expected [p1], got %v (err=%v)", ids, err)
	}
	if _, err := e.Digest(ctx, t0.Add(time.Hour), t0); !apperrors.IsInvalidArgument(err) {
		t.Errorf("inverted window: expected InvalidArgument, got %v", err)
	}

	if _, err := e.Upsert(ctx, post.Record{ID: "empty", PublishedAt: t0}); err != nil {
		t.Fatal(err)
	}
	recs, err = e.Related(ctx, "empty", 5)
	if err != nil || len(recs) != 0 {
		t.Errorf("isolated post: expected [], got %v (err=%v)", recs, err)
	}
}

func TestEngineSynchronousRebuildIsVisible(t *testing.T) {
	e := newEngine(t, Options{})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := e.Upsert(ctx, post.Record{ID: fmt.Sprintf("p%d", i), Tags: []string{"go"}}); err != nil {
			t.Fatal(err)
		}
		stats := e.Stats()
		if stats.Pending || stats.Index.Generation != stats.StoreGeneration {
			t.Fatalf("after upsert %d the snapshot lags the store: %+v", i, stats)
		}
	}
	removed, err := e.Remove(ctx, "p0")
	if err != nil || !removed {
		t.Fatalf("remove: removed=%v err=%v", removed, err)
	}
	if _, err := e.Related(ctx, "p0", 0); !apperrors.IsNotFound(err) {
		t.Errorf("removed post should be NotFound, got %v", err)
	}
	gen := e.Stats().StoreGeneration
	if removed, _ := e.Remove(ctx, "p0"); removed || e.Stats().StoreGeneration != gen {
		t.Error("removing an absent post must not bump the generation")
	}
}

func TestEngineValidation(t *testing.T) {
	e := newEngine(t, Options{})
	ctx := context.Background()
	if _, err := e.Upsert(ctx, post.Record{ID: ""}); !apperrors.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := e.UpsertBatch(ctx, []post.Record{{ID: "ok"}, {ID: "bad", Tags: []string{""}}}); !apperrors.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if e.Stats().StorePosts != 0 {
		t.Error("invalid input must not enter the store")
	}
	if _, err := e.Get("ok"); !apperrors.IsNotFound(err) {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestEngineRejectsBadWeights(t *testing.T) {
	if _, err := New(Options{Weights: relatedness.Weights{Tag: 0.9, Noun: 0.9}}); err == nil {
		t.Fatal("expected weights error")
	}
}

func TestEngineDebouncedRebuild(t *testing.T) {
	var mu sync.Mutex
	var published []uint64
	e := newEngine(t, Options{
		RebuildDebounce: 20 * time.Millisecond,
		OnPublish: func(s *index.Snapshot) {
			mu.Lock()
			published = append(published, s.Generation())
			mu.Unlock()
		},
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	for _, r := range scenarioPosts() {
		if _, err := e.Upsert(ctx, r); err != nil {
			t.Fatal(err)
		}
	}
	if e.Snapshot().Generation() != 0 {
		t.Fatal("debounced mode must not publish inside the mutation")
	}

	deadline := time.Now().Add(2 * time.Second)
	for e.Stats().Pending {
		if time.Now().After(deadline) {
			t.Fatal("debounced rebuild never published")
		}
		time.Sleep(5 * time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(published) == 0 || published[len(published)-1] != 2 {
		t.Errorf("expected generation 2 to be published last, got %v", published)
	}
}

func TestEngineConcurrentReadersAndWriters(t *testing.T) {
	e := newEngine(t, Options{})
	ctx := context.Background()
	if _, err := e.UpsertBatch(ctx, scenarioPosts()); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				recs, err := e.Related(ctx, "p1", 0)
				if err != nil {
					t.Errorf("related: %v", err)
					return
				}
				for _, rec := range recs {
					if rec.PostID == "p1" || rec.Score <= 0 || rec.Score > 1 {
						t.Errorf("bad recommendation %+v", rec)
						return
					}
				}
			}
		}()
	}
	for i := 0; i < 50; i++ {
		id := fmt.Sprintf("w%d", i)
		if _, err := e.Upsert(ctx, post.Record{ID: id, Tags: []string{"react"}, PublishedAt: t0}); err != nil {
			t.Fatal(err)
		}
		if i%3 == 0 {
			e.Remove(ctx, id)
		}
	}
	close(stop)
	wg.Wait()

	stats := e.Stats()
	if stats.Pending {
		t.Errorf("store and snapshot should converge, got %+v", stats)
	}
}

type memBackend struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (m *memBackend) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, cache.ErrMiss
	}
	return v, nil
}

func (m *memBackend) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memBackend) FlushByPattern(_ context.Context, pattern string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k := range m.data {
		if ok, _ := path.Match(pattern, k); ok {
			delete(m.data, k)
			n++
		}
	}
	return n, nil
}

func (m *memBackend) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

func TestEngineCachesPerGeneration(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	backend := &memBackend{data: make(map[string][]byte)}
	rc := cache.New(backend, cache.Options{TTL: time.Minute, Metrics: m})
	e := newEngine(t, Options{Cache: rc, Metrics: m})
	ctx := context.Background()
	if _, err := e.UpsertBatch(ctx, scenarioPosts()); err != nil {
		t.Fatal(err)
	}

	first, err := e.Related(ctx, "p1", 5)
	if err != nil {
		t.Fatal(err)
	}
	second, err := e.Related(ctx, "p1", 5)
	if err != nil {
		t.Fatal(err)
	}
	if fmt.Sprint(first) != fmt.Sprint(second) {
		t.Errorf("cached result differs: %v vs %v", first, second)
	}
	if hits, _ := rc.Stats(); hits != 1 {
		t.Errorf("expected 1 cache hit, got %d", hits)
	}

	// a new generation must see the new post, not the cached answer
	if _, err := e.Upsert(ctx, post.Record{ID: "p3", Tags: []string{"react", "nextjs"}, PublishedAt: t0}); err != nil {
		t.Fatal(err)
	}
	third, err := e.Related(ctx, "p1", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(third) != 2 || third[0].PostID != "p3" {
		t.Errorf("expected p3 first after upsert, got %+v", third)
	}

	deadline := time.Now().Add(2 * time.Second)
	for backend.len() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("old generation entries were not invalidated, %d keys remain", backend.len())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEnginesSharingCacheBackendStayIsolated(t *testing.T) {
	backend := &memBackend{data: make(map[string][]byte)}
	ctx := context.Background()

	previous := newEngine(t, Options{Cache: cache.New(backend, cache.Options{TTL: time.Minute})})
	if _, err := previous.UpsertBatch(ctx, scenarioPosts()); err != nil {
		t.Fatal(err)
	}
	if _, err := previous.Related(ctx, "p1", 5); err != nil {
		t.Fatal(err)
	}

	// same generation number, different post set
	restarted := newEngine(t, Options{Cache: cache.New(backend, cache.Options{TTL: time.Minute})})
	if _, err := restarted.UpsertBatch(ctx, []post.Record{
		scenarioPosts()[0],
		{ID: "p9", Tags: []string{"react", "nextjs"}, PublishedAt: t0},
	}); err != nil {
		t.Fatal(err)
	}
	if previous.Snapshot().Generation() != restarted.Snapshot().Generation() {
		t.Fatalf("setup: expected equal generations, got %d and %d",
			previous.Snapshot().Generation(), restarted.Snapshot().Generation())
	}

	recs, err := restarted.Related(ctx, "p1", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].PostID != "p9" || recs[0].Score != 0.7 {
		t.Errorf("expected [p9 0.7] computed from this engine's posts, got %+v", recs)
	}
}
