// Package relatedness scores how related two posts are from the weighted
// Jaccard overlap of their tags and nouns.
package relatedness

import (
	"math"

	"github.com/Adithya-Monish-Kumar-K/content-relatedness-engine/internal/post"
	apperrors "github.com/Adithya-Monish-Kumar-K/content-relatedness-engine/pkg/errors"
)

// Weights splits the score between curated tags and incidental nouns.
type Weights struct {
	Tag  float64 `json:"tag"`
	Noun float64 `json:"noun"`
}

func DefaultWeights() Weights {
	return Weights{Tag: 0.7, Noun: 0.3}
}

// Validate requires non-negative weights that sum to 1, which keeps every
// score inside [0, 1].
func (w Weights) Validate() error {
	if w.Tag < 0 || w.Noun < 0 || math.IsNaN(w.Tag) || math.IsNaN(w.Noun) {
		return apperrors.InvalidArgument("weights must be non-negative (tag=%v, noun=%v)", w.Tag, w.Noun)
	}
	if math.Abs(w.Tag+w.Noun-1) > 1e-9 {
		return apperrors.InvalidArgument("weights must sum to 1, got %v", w.Tag+w.Noun)
	}
	return nil
}

type Scorer struct {
	weights Weights
}

func NewScorer(w Weights) (*Scorer, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return &Scorer{weights: w}, nil
}

func (s *Scorer) Weights() Weights {
	return s.weights
}

// Score returns the relatedness of a and b in [0, 1], rounded to four
// decimal places. Comparing a post with itself is an InvalidArgument.
func (s *Scorer) Score(a, b post.Post) (float64, error) {
	exact, err := s.Exact(a, b)
	if err != nil {
		return 0, err
	}
	return Round(exact), nil
}

// Exact is Score without rounding. Rankings compare exact values so that
// rounding never merges two different scores or zeroes a positive one.
func (s *Scorer) Exact(a, b post.Post) (float64, error) {
	if a.ID == b.ID {
		return 0, apperrors.InvalidArgument("cannot score post %q against itself", a.ID)
	}
	tagShared := intersectCount(a.Tags, b.Tags)
	nounShared := intersectCount(a.Nouns, b.Nouns)
	return s.combine(
		overlap(tagShared, len(a.Tags), len(b.Tags)),
		overlap(nounShared, len(a.Nouns), len(b.Nouns)),
	), nil
}

// Explanation breaks a score down into its shared terms.
type Explanation struct {
	A           string   `json:"a"`
	B           string   `json:"b"`
	Score       float64  `json:"score"`
	TagOverlap  float64  `json:"tag_overlap"`
	NounOverlap float64  `json:"noun_overlap"`
	SharedTags  []string `json:"shared_tags"`
	SharedNouns []string `json:"shared_nouns"`
}

func (s *Scorer) Explain(a, b post.Post) (Explanation, error) {
	if a.ID == b.ID {
		return Explanation{}, apperrors.InvalidArgument("cannot score post %q against itself", a.ID)
	}
	sharedTags := intersect(a.Tags, b.Tags)
	sharedNouns := intersect(a.Nouns, b.Nouns)
	tagOverlap := overlap(len(sharedTags), len(a.Tags), len(b.Tags))
	nounOverlap := overlap(len(sharedNouns), len(a.Nouns), len(b.Nouns))
	return Explanation{
		A:           a.ID,
		B:           b.ID,
		Score:       Round(s.combine(tagOverlap, nounOverlap)),
		TagOverlap:  Round(tagOverlap),
		NounOverlap: Round(nounOverlap),
		SharedTags:  sharedTags,
		SharedNouns: sharedNouns,
	}, nil
}

func (s *Scorer) combine(tagOverlap, nounOverlap float64) float64 {
	score := s.weights.Tag*tagOverlap + s.weights.Noun*nounOverlap
	return math.Min(1, math.Max(0, score))
}

// Jaccard returns |a ∩ b| / |a ∪ b| for sorted, duplicate-free sets, and 0
// when both are empty.
func Jaccard(a, b []string) float64 {
	return overlap(intersectCount(a, b), len(a), len(b))
}

func overlap(shared, lenA, lenB int) float64 {
	union := lenA + lenB - shared
	if union == 0 {
		return 0
	}
	return float64(shared) / float64(union)
}

func intersectCount(a, b []string) int {
	n := 0
	for i, j := 0, 0; i < len(a) && j < len(b); {
		switch {
		case a[i] == b[j]:
			n++
			i++
			j++
		case a[i] < b[j]:
			i++
		default:
			j++
		}
	}
	return n
}

func intersect(a, b []string) []string {
	out := make([]string, 0)
	for i, j := 0, 0; i < len(a) && j < len(b); {
		switch {
		case a[i] == b[j]:
			out = append(out, a[i])
			i++
			j++
		case a[i] < b[j]:
			i++
		default:
			j++
		}
	}
	return out
}

// Round rounds a score to the four decimal places callers see.
func Round(v float64) float64 {
	return math.Round(v*10000) / 10000
}
