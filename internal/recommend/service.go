// Package recommend answers "which posts are related to this one" against
// an index snapshot.
package recommend

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/Adithya-Monish-Kumar-K/content-relatedness-engine/internal/index"
	"github.com/Adithya-Monish-Kumar-K/content-relatedness-engine/internal/post"
	"github.com/Adithya-Monish-Kumar-K/content-relatedness-engine/internal/relatedness"
	apperrors "github.com/Adithya-Monish-Kumar-K/content-relatedness-engine/pkg/errors"
)

// checkEvery is how many candidates are scored between context checks.
const checkEvery = 256

// scoreEpsilon absorbs float error between weighted sums that are equal in
// exact arithmetic.
const scoreEpsilon = 1e-12

// Recommendation is one related post and its score against the target.
type Recommendation struct {
	PostID      string    `json:"post_id"`
	Score       float64   `json:"score"`
	Title       string    `json:"title,omitempty"`
	PublishedAt time.Time `json:"published_at"`

	exact float64
}

// SnapshotSource hands out the index snapshot a query should read.
type SnapshotSource interface {
	Current() *index.Snapshot
}

type Service struct {
	source SnapshotSource
	scorer *relatedness.Scorer
}

func NewService(source SnapshotSource, scorer *relatedness.Scorer) *Service {
	return &Service{source: source, scorer: scorer}
}

// Related ranks posts sharing at least one tag or noun with id against the
// current snapshot. limit <= 0 returns every scored candidate.
func (s *Service) Related(ctx context.Context, id string, limit int) ([]Recommendation, error) {
	return s.RelatedAt(ctx, s.source.Current(), id, limit)
}

// RelatedAt is Related against an explicit snapshot, so a caller can run
// several queries against one generation.
func (s *Service) RelatedAt(ctx context.Context, snap *index.Snapshot, id string, limit int) ([]Recommendation, error) {
	posts := snap.Posts()
	target, ok := posts.Get(id)
	if !ok {
		return nil, apperrors.NotFound(id)
	}

	candidates := Candidates(snap, target)
	top := newTopK(limit)
	for i, cid := range candidates {
		if i%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		other, ok := posts.Get(cid)
		if !ok {
			continue
		}
		exact, err := s.scorer.Exact(target, other)
		if err != nil {
			return nil, err
		}
		if exact <= 0 {
			continue
		}
		top.offer(Recommendation{
			PostID:      other.ID,
			Score:       relatedness.Round(exact),
			exact:       exact,
			Title:       other.Title,
			PublishedAt: other.PublishedAt,
		})
	}
	return top.results(), nil
}

// Candidates returns the IDs of every post sharing a tag or noun with p,
// excluding p, in ascending order.
func Candidates(snap *index.Snapshot, p post.Post) []string {
	seen := make(map[string]struct{})
	add := func(ids []string) {
		for _, id := range ids {
			if id != p.ID {
				seen[id] = struct{}{}
			}
		}
	}
	for _, tag := range p.Tags {
		add(snap.Tag(tag))
	}
	for _, noun := range p.Nouns {
		add(snap.Noun(noun))
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ranksBefore is the result order: exact score desc, then newer first, then
// ID asc.
func ranksBefore(a, b Recommendation) bool {
	if math.Abs(a.exact-b.exact) > scoreEpsilon {
		return a.exact > b.exact
	}
	if !a.PublishedAt.Equal(b.PublishedAt) {
		return a.PublishedAt.After(b.PublishedAt)
	}
	return a.PostID < b.PostID
}
