// Package post holds validated post records and the store that owns them.
// Every mutation bumps a generation counter; Snapshot hands index builders
// an immutable view tagged with that generation.
package post

import (
	"time"
)

// Record is a post as delivered by the front-matter parser, before
// normalization.
type Record struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Tags        []string  `json:"tags"`
	Nouns       []string  `json:"nouns"`
	Recap       bool      `json:"recap"`
	PublishedAt time.Time `json:"published_at"`
	ContentRef  string    `json:"content_ref,omitempty"`
}

// Post is a normalized record. Tags and Nouns are sorted and free of
// duplicates; they are shared with snapshots and must not be modified.
type Post struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Tags        []string  `json:"tags"`
	Nouns       []string  `json:"nouns"`
	Recap       bool      `json:"recap"`
	PublishedAt time.Time `json:"published_at"`
	ContentRef  string    `json:"content_ref,omitempty"`
}

// Record converts p back into its input form.
func (p Post) Record() Record {
	return Record{
		ID:          p.ID,
		Title:       p.Title,
		Tags:        append([]string(nil), p.Tags...),
		Nouns:       append([]string(nil), p.Nouns...),
		Recap:       p.Recap,
		PublishedAt: p.PublishedAt,
		ContentRef:  p.ContentRef,
	}
}

// Isolated reports whether p has neither tags nor nouns and therefore can
// never be reached through an index lookup.
func (p Post) Isolated() bool {
	return len(p.Tags) == 0 && len(p.Nouns) == 0
}
