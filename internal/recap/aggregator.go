// Package recap assembles digests of recap-flagged posts over a time window.
package recap

import (
	"context"
	"time"

	"github.com/Adithya-Monish-Kumar-K/content-relatedness-engine/internal/index"
	apperrors "github.com/Adithya-Monish-Kumar-K/content-relatedness-engine/pkg/errors"
)

// SnapshotSource hands out the index snapshot a digest should read.
type SnapshotSource interface {
	Current() *index.Snapshot
}

// Entry is a digest item with the fields a digest page renders.
type Entry struct {
	PostID      string    `json:"post_id"`
	Title       string    `json:"title,omitempty"`
	PublishedAt time.Time `json:"published_at"`
	ContentRef  string    `json:"content_ref,omitempty"`
}

type Aggregator struct {
	source SnapshotSource
}

func NewAggregator(source SnapshotSource) *Aggregator {
	return &Aggregator{source: source}
}

// Digest returns IDs of recap posts published in [start, end), newest first
// and ties by ascending ID. An empty window yields an empty digest.
func (a *Aggregator) Digest(ctx context.Context, start, end time.Time) ([]string, error) {
	return DigestAt(ctx, a.source.Current(), start, end)
}

// Entries is Digest with each post's title, time and content reference.
func (a *Aggregator) Entries(ctx context.Context, start, end time.Time) ([]Entry, error) {
	return EntriesAt(ctx, a.source.Current(), start, end)
}

func DigestAt(ctx context.Context, snap *index.Snapshot, start, end time.Time) ([]string, error) {
	if err := checkWindow(ctx, start, end); err != nil {
		return nil, err
	}
	return snap.RecapBetween(start, end), nil
}

func EntriesAt(ctx context.Context, snap *index.Snapshot, start, end time.Time) ([]Entry, error) {
	ids, err := DigestAt(ctx, snap, start, end)
	if err != nil {
		return nil, err
	}
	posts := snap.Posts()
	entries := make([]Entry, 0, len(ids))
	for _, id := range ids {
		p, ok := posts.Get(id)
		if !ok {
			continue
		}
		entries = append(entries, Entry{
			PostID:      p.ID,
			Title:       p.Title,
			PublishedAt: p.PublishedAt,
			ContentRef:  p.ContentRef,
		})
	}
	return entries, nil
}

func checkWindow(ctx context.Context, start, end time.Time) error {
	if start.After(end) {
		return apperrors.InvalidArgument("window start %s is after end %s",
			start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	return ctx.Err()
}
