package index

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/content-relatedness-engine/internal/post"
	"github.com/Adithya-Monish-Kumar-K/content-relatedness-engine/pkg/metrics"
)

// Source is the store the rebuilder indexes.
type Source interface {
	Snapshot() *post.Snapshot
	Generation() uint64
}

type Status string

const (
	StatusPublished Status = "published"
	StatusStale     Status = "stale"
	StatusUnchanged Status = "unchanged"
	StatusFailed    Status = "failed"
)

type Options struct {
	// Debounce delays triggered rebuilds so bursts of mutations share one
	// build. Zero rebuilds as soon as the loop sees a trigger.
	Debounce time.Duration
	Metrics  *metrics.Metrics
	// OnPublish runs after a snapshot becomes live, outside the build lock.
	OnPublish func(*Snapshot)
}

// Rebuilder turns store generations into published snapshots. Builds are
// serialized; a build whose generation is no longer the store's by the time
// it finishes is discarded.
type Rebuilder struct {
	source  Source
	holder  *Holder
	opts    Options
	mu      sync.Mutex
	trigger chan struct{}
	logger  *slog.Logger
}

func NewRebuilder(source Source, holder *Holder, opts Options) *Rebuilder {
	return &Rebuilder{
		source:  source,
		holder:  holder,
		opts:    opts,
		trigger: make(chan struct{}, 1),
		logger:  slog.Default().With("component", "index-rebuilder"),
	}
}

// RebuildNow builds and publishes the store's current generation. On
// failure the previous snapshot stays live.
func (r *Rebuilder) RebuildNow(ctx context.Context) (Status, error) {
	r.mu.Lock()
	published, status, err := r.rebuildLocked(ctx)
	r.mu.Unlock()

	if r.opts.Metrics != nil {
		r.opts.Metrics.IndexRebuildsTotal.WithLabelValues(string(status)).Inc()
	}
	if published != nil && r.opts.OnPublish != nil {
		r.opts.OnPublish(published)
	}
	return status, err
}

func (r *Rebuilder) rebuildLocked(ctx context.Context) (*Snapshot, Status, error) {
	ps := r.source.Snapshot()
	if ps.Generation() <= r.holder.Current().Generation() {
		return nil, StatusUnchanged, nil
	}

	start := time.Now()
	snap, err := Build(ctx, ps)
	if err != nil {
		r.logger.Error("index build failed, keeping previous snapshot",
			"generation", ps.Generation(),
			"live_generation", r.holder.Current().Generation(),
			"error", err,
		)
		return nil, StatusFailed, err
	}
	elapsed := time.Since(start)
	if r.opts.Metrics != nil {
		r.opts.Metrics.IndexRebuildDuration.Observe(elapsed.Seconds())
	}

	if latest := r.source.Generation(); latest != snap.Generation() {
		r.logger.Debug("discarding stale index build",
			"generation", snap.Generation(),
			"store_generation", latest,
		)
		return nil, StatusStale, nil
	}
	if !r.holder.Publish(snap) {
		return nil, StatusStale, nil
	}

	stats := snap.Stats()
	if r.opts.Metrics != nil {
		r.opts.Metrics.IndexGeneration.Set(float64(stats.Generation))
		r.opts.Metrics.IndexedPosts.Set(float64(stats.Posts))
	}
	r.logger.Info("index snapshot published",
		"generation", stats.Generation,
		"posts", stats.Posts,
		"tags", stats.Tags,
		"nouns", stats.Nouns,
		"recap_posts", stats.RecapPosts,
		"duration", elapsed,
	)
	return snap, StatusPublished, nil
}

// Trigger requests a background rebuild. Triggers coalesce while one is
// pending.
func (r *Rebuilder) Trigger() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// Run serves triggers until ctx is cancelled, waiting Debounce after the
// most recent trigger before building.
func (r *Rebuilder) Run(ctx context.Context) error {
	r.logger.Info("rebuild loop started", "debounce", r.opts.Debounce)
	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			r.logger.Info("rebuild loop stopping")
			return nil
		case <-r.trigger:
			if r.opts.Debounce <= 0 {
				r.runOnce(ctx)
				continue
			}
			if timer == nil {
				timer = time.NewTimer(r.opts.Debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(r.opts.Debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			r.runOnce(ctx)
		}
	}
}

func (r *Rebuilder) runOnce(ctx context.Context) {
	status, err := r.RebuildNow(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		// retry on the next trigger rather than spinning
		r.logger.Warn("background rebuild failed", "status", status, "error", err)
	}
	if status == StatusStale {
		r.Trigger()
	}
}
