// Package index derives immutable inverted indices (tag → posts,
// noun → posts, recap timeline) from post store snapshots and publishes them
// to readers through an atomic swap.
package index

import (
	"sort"
	"time"

	"github.com/Adithya-Monish-Kumar-K/content-relatedness-engine/internal/post"
)

type recapEntry struct {
	id string
	at time.Time
}

// Snapshot is one generation of the inverted index. It holds post IDs only;
// records are reached through Posts, which the store owns.
type Snapshot struct {
	generation uint64
	posts      *post.Snapshot
	tags       map[string][]string
	nouns      map[string][]string
	recap      []recapEntry
	builtAt    time.Time
}

// Empty returns the generation-zero snapshot over an empty store.
func Empty() *Snapshot {
	return &Snapshot{
		posts: post.EmptySnapshot(),
		tags:  map[string][]string{},
		nouns: map[string][]string{},
	}
}

func (s *Snapshot) Generation() uint64 {
	return s.generation
}

func (s *Snapshot) Posts() *post.Snapshot {
	return s.posts
}

func (s *Snapshot) BuiltAt() time.Time {
	return s.builtAt
}

// Tag returns the IDs of posts carrying the normalized tag, ascending.
// The slice is shared and must not be modified.
func (s *Snapshot) Tag(tag string) []string {
	return s.tags[tag]
}

// Noun returns the IDs of posts mentioning the normalized noun, ascending.
// The slice is shared and must not be modified.
func (s *Snapshot) Noun(noun string) []string {
	return s.nouns[noun]
}

// LookupTag normalizes a raw tag before looking it up.
func (s *Snapshot) LookupTag(raw string) []string {
	return append([]string(nil), s.tags[post.NormalizeTag(raw)]...)
}

// LookupNoun normalizes a raw noun before looking it up.
func (s *Snapshot) LookupNoun(raw string) []string {
	return append([]string(nil), s.nouns[post.NormalizeNoun(raw)]...)
}

// Tags returns every indexed tag, ascending.
func (s *Snapshot) Tags() []string {
	return sortedKeys(s.tags)
}

// Nouns returns every indexed noun, ascending.
func (s *Snapshot) Nouns() []string {
	return sortedKeys(s.nouns)
}

// RecapTimeline returns recap-flagged post IDs, newest first with ties
// broken by ascending ID.
func (s *Snapshot) RecapTimeline() []string {
	ids := make([]string, len(s.recap))
	for i, e := range s.recap {
		ids[i] = e.id
	}
	return ids
}

// RecapBetween returns recap post IDs published in [start, end), in timeline
// order.
func (s *Snapshot) RecapBetween(start, end time.Time) []string {
	// timeline is descending, so entries with at < end form a suffix
	first := sort.Search(len(s.recap), func(i int) bool {
		return s.recap[i].at.Before(end)
	})
	ids := make([]string, 0)
	for _, e := range s.recap[first:] {
		if e.at.Before(start) {
			break
		}
		ids = append(ids, e.id)
	}
	return ids
}

// Stats summarizes the snapshot for diagnostics.
type Stats struct {
	Generation uint64    `json:"generation"`
	Posts      int       `json:"posts"`
	Tags       int       `json:"tags"`
	Nouns      int       `json:"nouns"`
	RecapPosts int       `json:"recap_posts"`
	BuiltAt    time.Time `json:"built_at"`
}

func (s *Snapshot) Stats() Stats {
	return Stats{
		Generation: s.generation,
		Posts:      s.posts.Len(),
		Tags:       len(s.tags),
		Nouns:      len(s.nouns),
		RecapPosts: len(s.recap),
		BuiltAt:    s.builtAt,
	}
}

// Equal reports whether two snapshots index the same generation with the
// same entries. Build time is ignored.
func (s *Snapshot) Equal(o *Snapshot) bool {
	if s.generation != o.generation || len(s.recap) != len(o.recap) {
		return false
	}
	for i := range s.recap {
		if s.recap[i].id != o.recap[i].id || !s.recap[i].at.Equal(o.recap[i].at) {
			return false
		}
	}
	return equalPostings(s.tags, o.tags) && equalPostings(s.nouns, o.nouns)
}

func equalPostings(a, b map[string][]string) bool {
	if len(a) != len(b) {
		return false
	}
	for key, ids := range a {
		other, ok := b[key]
		if !ok || len(other) != len(ids) {
			return false
		}
		for i := range ids {
			if ids[i] != other[i] {
				return false
			}
		}
	}
	return true
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
