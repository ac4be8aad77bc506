// Package engine ties the post store, the index rebuilder and the query
// services into the single object the transports talk to.
package engine

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/content-relatedness-engine/internal/cache"
	"github.com/Adithya-Monish-Kumar-K/content-relatedness-engine/internal/index"
	"github.com/Adithya-Monish-Kumar-K/content-relatedness-engine/internal/post"
	"github.com/Adithya-Monish-Kumar-K/content-relatedness-engine/internal/recap"
	"github.com/Adithya-Monish-Kumar-K/content-relatedness-engine/internal/recommend"
	"github.com/Adithya-Monish-Kumar-K/content-relatedness-engine/internal/relatedness"
	apperrors "github.com/Adithya-Monish-Kumar-K/content-relatedness-engine/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/content-relatedness-engine/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/content-relatedness-engine/pkg/tracing"
)

const (
	kindRelated = "related"
	kindDigest  = "digest"
	kindScore   = "score"

	invalidateTimeout = 10 * time.Second
)

type Options struct {
	Weights relatedness.Weights
	// RebuildDebounce of zero rebuilds synchronously inside each mutation.
	// A positive value defers to the background loop started by Run.
	RebuildDebounce time.Duration
	Metrics         *metrics.Metrics
	// Cache may be nil.
	Cache *cache.ResultCache
	// OnPublish runs after each snapshot becomes live.
	OnPublish func(*index.Snapshot)
}

type Engine struct {
	store     *post.Store
	holder    *index.Holder
	rebuilder *index.Rebuilder
	scorer    *relatedness.Scorer
	related   *recommend.Service
	recap     *recap.Aggregator
	cache     *cache.ResultCache
	metrics   *metrics.Metrics
	debounce  time.Duration
	onPublish func(*index.Snapshot)
	logger    *slog.Logger
}

func New(opts Options) (*Engine, error) {
	scorer, err := relatedness.NewScorer(opts.Weights)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		store:     post.NewStore(),
		holder:    index.NewHolder(),
		scorer:    scorer,
		cache:     opts.Cache,
		metrics:   opts.Metrics,
		debounce:  opts.RebuildDebounce,
		onPublish: opts.OnPublish,
		logger:    slog.Default().With("component", "engine"),
	}
	e.rebuilder = index.NewRebuilder(e.store, e.holder, index.Options{
		Debounce:  opts.RebuildDebounce,
		Metrics:   opts.Metrics,
		OnPublish: e.published,
	})
	e.related = recommend.NewService(e.holder, scorer)
	e.recap = recap.NewAggregator(e.holder)
	return e, nil
}

// Run serves background rebuilds until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	return e.rebuilder.Run(ctx)
}

func (e *Engine) Upsert(ctx context.Context, r post.Record) (post.Post, error) {
	p, _, err := e.store.Upsert(r)
	e.recordMutation("upsert", err)
	if err != nil {
		return post.Post{}, err
	}
	e.afterMutation(ctx)
	return p, nil
}

// UpsertBatch stores every record or none of them.
func (e *Engine) UpsertBatch(ctx context.Context, rs []post.Record) ([]post.Post, error) {
	posts, _, err := e.store.UpsertBatch(rs)
	e.recordMutation("upsert_batch", err)
	if err != nil {
		return nil, err
	}
	if len(posts) > 0 {
		e.afterMutation(ctx)
	}
	return posts, nil
}

// Remove deletes id and reports whether it was present.
func (e *Engine) Remove(ctx context.Context, id string) (bool, error) {
	removed, _ := e.store.Remove(id)
	e.recordMutation("remove", nil)
	if removed {
		e.afterMutation(ctx)
	}
	return removed, nil
}

// Get returns the stored post, which may be newer than the live snapshot.
func (e *Engine) Get(id string) (post.Post, error) {
	p, ok := e.store.Get(id)
	if !ok {
		return post.Post{}, apperrors.NotFound(id)
	}
	return p, nil
}

// Related returns up to limit posts related to id. limit <= 0 means all.
func (e *Engine) Related(ctx context.Context, id string, limit int) ([]recommend.Recommendation, error) {
	ctx, span := tracing.StartChildSpan(ctx, "engine.related")
	defer span.End()
	start := time.Now()

	snap := e.holder.Current()
	span.SetAttr("generation", snap.Generation())
	key := cache.Key{Generation: snap.Generation(), Kind: kindRelated, Parts: []string{id, strconv.Itoa(limit)}}
	recs, hit, err := cache.GetOrCompute(ctx, e.cache, key, func() ([]recommend.Recommendation, error) {
		return e.related.RelatedAt(ctx, snap, id, limit)
	})
	e.recordQuery(kindRelated, start, hit, err)
	if err != nil {
		return nil, err
	}
	if e.metrics != nil {
		e.metrics.RelatedResultsCount.Observe(float64(len(recs)))
	}
	span.SetAttr("results", len(recs))
	return recs, nil
}

// Digest returns recap post IDs published in [start, end).
func (e *Engine) Digest(ctx context.Context, start, end time.Time) ([]string, error) {
	ctx, span := tracing.StartChildSpan(ctx, "engine.digest")
	defer span.End()
	began := time.Now()

	snap := e.holder.Current()
	key := cache.Key{Generation: snap.Generation(), Kind: kindDigest, Parts: windowParts(start, end)}
	ids, hit, err := cache.GetOrCompute(ctx, e.cache, key, func() ([]string, error) {
		return recap.DigestAt(ctx, snap, start, end)
	})
	e.recordQuery(kindDigest, began, hit, err)
	return ids, err
}

// DigestEntries is Digest with titles and content references.
func (e *Engine) DigestEntries(ctx context.Context, start, end time.Time) ([]recap.Entry, error) {
	ctx, span := tracing.StartChildSpan(ctx, "engine.digest_entries")
	defer span.End()
	began := time.Now()

	snap := e.holder.Current()
	key := cache.Key{Generation: snap.Generation(), Kind: kindDigest + "_entries", Parts: windowParts(start, end)}
	entries, hit, err := cache.GetOrCompute(ctx, e.cache, key, func() ([]recap.Entry, error) {
		return recap.EntriesAt(ctx, snap, start, end)
	})
	e.recordQuery(kindDigest, began, hit, err)
	return entries, err
}

// Score explains the relatedness of two posts in the live snapshot.
func (e *Engine) Score(ctx context.Context, a, b string) (relatedness.Explanation, error) {
	_, span := tracing.StartChildSpan(ctx, "engine.score")
	defer span.End()
	start := time.Now()

	exp, err := e.score(a, b)
	e.recordQuery(kindScore, start, false, err)
	return exp, err
}

func (e *Engine) score(a, b string) (relatedness.Explanation, error) {
	if a == b {
		return relatedness.Explanation{}, apperrors.InvalidArgument("cannot score post %q against itself", a)
	}
	posts := e.holder.Current().Posts()
	pa, ok := posts.Get(a)
	if !ok {
		return relatedness.Explanation{}, apperrors.NotFound(a)
	}
	pb, ok := posts.Get(b)
	if !ok {
		return relatedness.Explanation{}, apperrors.NotFound(b)
	}
	return e.scorer.Explain(pa, pb)
}

// Stats describes the live snapshot and how far the store is ahead of it.
type Stats struct {
	Index           index.Stats         `json:"index"`
	StoreGeneration uint64              `json:"store_generation"`
	StorePosts      int                 `json:"store_posts"`
	Pending         bool                `json:"pending"`
	Weights         relatedness.Weights `json:"weights"`
}

func (e *Engine) Stats() Stats {
	idx := e.holder.Current().Stats()
	gen := e.store.Generation()
	return Stats{
		Index:           idx,
		StoreGeneration: gen,
		StorePosts:      e.store.Len(),
		Pending:         gen > idx.Generation,
		Weights:         e.scorer.Weights(),
	}
}

// Snapshot returns the live index snapshot.
func (e *Engine) Snapshot() *index.Snapshot {
	return e.holder.Current()
}

// Rebuild forces a synchronous rebuild of the current store generation.
func (e *Engine) Rebuild(ctx context.Context) (index.Status, error) {
	return e.rebuilder.RebuildNow(ctx)
}

// Ready reports whether at least one snapshot has been published or the
// store is still empty.
func (e *Engine) Ready(context.Context) error {
	if e.store.Generation() > 0 && e.holder.Current().Generation() == 0 {
		return apperrors.New(apperrors.ErrUnavailable, http.StatusServiceUnavailable, "no index snapshot published yet")
	}
	return nil
}

func (e *Engine) afterMutation(ctx context.Context) {
	if e.debounce > 0 {
		e.rebuilder.Trigger()
		return
	}
	if _, err := e.rebuilder.RebuildNow(ctx); err != nil {
		e.logger.Warn("synchronous rebuild failed, deferring to background loop", "error", err)
		e.rebuilder.Trigger()
	}
}

func (e *Engine) published(snap *index.Snapshot) {
	if e.cache != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), invalidateTimeout)
			defer cancel()
			if _, err := e.cache.Invalidate(ctx, snap.Generation()); err != nil {
				e.logger.Warn("cache invalidation failed", "generation", snap.Generation(), "error", err)
			}
		}()
	}
	if e.onPublish != nil {
		e.onPublish(snap)
	}
}

func (e *Engine) recordMutation(op string, err error) {
	if e.metrics == nil {
		return
	}
	outcome := "ok"
	switch {
	case apperrors.IsValidation(err):
		outcome = "invalid"
	case err != nil:
		outcome = "error"
	}
	e.metrics.PostMutationsTotal.WithLabelValues(op, outcome).Inc()
}

func (e *Engine) recordQuery(kind string, start time.Time, hit bool, err error) {
	if e.metrics == nil {
		return
	}
	resultType := "computed"
	switch {
	case err != nil:
		resultType = "error"
	case hit:
		resultType = "cache_hit"
	}
	e.metrics.QueriesTotal.WithLabelValues(kind, resultType).Inc()
	e.metrics.QueryLatency.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}

func windowParts(start, end time.Time) []string {
	return []string{start.UTC().Format(time.RFC3339Nano), end.UTC().Format(time.RFC3339Nano)}
}
