package relatedness

import (
	"fmt"
	"math/rand"
	"reflect"
	"sort"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/content-relatedness-engine/internal/post"
	apperrors "github.com/Adithya-Monish-Kumar-K/content-relatedness-engine/pkg/errors"
)

func mustPost(t *testing.T, r post.Record) post.Post {
	t.Helper()
	p, err := post.Normalize(r)
	if err != nil {
		t.Fatalf("normalizing %s: %v", r.ID, err)
	}
	return p
}

func defaultScorer(t *testing.T) *Scorer {
	t.Helper()
	s, err := NewScorer(DefaultWeights())
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestScoreScenarios(t *testing.T) {
	s := defaultScorer(t)
	p1 := mustPost(t, post.Record{ID: "p1", Tags: []string{"react", "nextjs"}, Nouns: []string{"Google Analytics"}, Recap: true})
	p2 := mustPost(t, post.Record{ID: "p2", Tags: []string{"react"}})

	tests := []struct {
		name string
		a, b post.Post
		want float64
	}{
		{"half tag overlap, no nouns", p1, p2, 0.35},
		{
			"identical sets",
			p1,
			mustPost(t, post.Record{ID: "p1-copy", Tags: []string{"NextJS", "react"}, Nouns: []string{"Google  Analytics"}}),
			1.0,
		},
		{
			"disjoint",
			p1,
			mustPost(t, post.Record{ID: "p3", Tags: []string{"go"}, Nouns: []string{"Kafka"}}),
			0.0,
		},
		{
			"both empty",
			mustPost(t, post.Record{ID: "e1"}),
			mustPost(t, post.Record{ID: "e2"}),
			0.0,
		},
		{
			"nouns only",
			mustPost(t, post.Record{ID: "n1", Nouns: []string{"Vercel", "Google Analytics"}}),
			mustPost(t, post.Record{ID: "n2", Nouns: []string{"Vercel"}}),
			0.15,
		},
		{
			"noun case is significant",
			mustPost(t, post.Record{ID: "c1", Nouns: []string{"Go"}}),
			mustPost(t, post.Record{ID: "c2", Nouns: []string{"go"}}),
			0.0,
		},
		{
			"thirds round to four places",
			mustPost(t, post.Record{ID: "r1", Tags: []string{"a", "b"}}),
			mustPost(t, post.Record{ID: "r2", Tags: []string{"b", "c"}}),
			0.2333,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Score(tt.a, tt.b)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestScoreRejectsSelfComparison(t *testing.T) {
	s := defaultScorer(t)
	p := mustPost(t, post.Record{ID: "p1", Tags: []string{"react"}})
	if _, err := s.Score(p, p); !apperrors.IsInvalidArgument(err) {
		t.Errorf("expected InvalidArgument, got %v", err)
	}
	if _, err := s.Explain(p, p); !apperrors.IsInvalidArgument(err) {
		t.Errorf("expected InvalidArgument from Explain, got %v", err)
	}
}

func TestScoreIsSymmetricAndBounded(t *testing.T) {
	s := defaultScorer(t)
	vocab := []string{"go", "react", "kafka", "redis", "nextjs", "postgres", "css"}
	rng := rand.New(rand.NewSource(42))
	pick := func() []string {
		var out []string
		for _, v := range vocab {
			if rng.Intn(3) == 0 {
				out = append(out, v)
			}
		}
		return out
	}
	posts := make([]post.Post, 40)
	for i := range posts {
		posts[i] = mustPost(t, post.Record{ID: fmt.Sprintf("p%02d", i), Tags: pick(), Nouns: pick()})
	}
	for i := range posts {
		for j := range posts {
			if i == j {
				continue
			}
			ab, _ := s.Score(posts[i], posts[j])
			ba, _ := s.Score(posts[j], posts[i])
			if ab != ba {
				t.Fatalf("asymmetric score for %s/%s: %v vs %v", posts[i].ID, posts[j].ID, ab, ba)
			}
			if ab < 0 || ab > 1 {
				t.Fatalf("score out of range for %s/%s: %v", posts[i].ID, posts[j].ID, ab)
			}
		}
	}
}

func TestExplain(t *testing.T) {
	s := defaultScorer(t)
	a := mustPost(t, post.Record{ID: "a", Tags: []string{"react", "nextjs"}, Nouns: []string{"Vercel", "Google Analytics"}})
	b := mustPost(t, post.Record{ID: "b", Tags: []string{"react"}, Nouns: []string{"Vercel"}})
	exp, err := s.Explain(a, b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(exp.SharedTags, []string{"react"}) || !reflect.DeepEqual(exp.SharedNouns, []string{"Vercel"}) {
		t.Errorf("unexpected shared terms %v / %v", exp.SharedTags, exp.SharedNouns)
	}
	score, _ := s.Score(a, b)
	if exp.Score != score || score != 0.5 {
		t.Errorf("expected score 0.5 matching Score, got explain=%v score=%v", exp.Score, score)
	}
}

func TestWeights(t *testing.T) {
	tests := []struct {
		w       Weights
		wantErr bool
	}{
		{DefaultWeights(), false},
		{Weights{Tag: 1, Noun: 0}, false},
		{Weights{Tag: 0.5, Noun: 0.6}, true},
		{Weights{Tag: -0.5, Noun: 1.5}, true},
	}
	for _, tt := range tests {
		_, err := NewScorer(tt.w)
		if (err != nil) != tt.wantErr {
			t.Errorf("weights %+v: expected error=%v, got %v", tt.w, tt.wantErr, err)
		}
	}

	tagsOnly, _ := NewScorer(Weights{Tag: 1})
	a := mustPost(t, post.Record{ID: "a", Tags: []string{"react"}, Nouns: []string{"Vercel"}})
	b := mustPost(t, post.Record{ID: "b", Nouns: []string{"Vercel"}})
	if got, _ := tagsOnly.Score(a, b); got != 0 {
		t.Errorf("noun overlap must not count with zero noun weight, got %v", got)
	}
}

func TestJaccard(t *testing.T) {
	a := []string{"a", "b", "c"}
	b := []string{"b", "c", "d", "e"}
	sort.Strings(a)
	if got := Jaccard(a, b); got != 2.0/5.0 {
		t.Errorf("expected 0.4, got %v", got)
	}
	if got := Jaccard(nil, nil); got != 0 {
		t.Errorf("expected 0 for empty sets, got %v", got)
	}
}
