package post

import (
	"fmt"
	"sort"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/content-relatedness-engine/pkg/errors"
)

const (
	maxIDLength    = 512
	maxTitleLength = 1024
	maxTermLength  = 256
)

// ValidationError holds per-field validation failure messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for field := range e.Fields {
		names = append(names, field)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, field := range names {
		parts = append(parts, fmt.Sprintf("%s: %s", field, e.Fields[field]))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error {
	return apperrors.ErrValidation
}

// NormalizeTag lowercases a tag and collapses internal whitespace.
func NormalizeTag(tag string) string {
	return strings.ToLower(collapseSpace(tag))
}

// NormalizeNoun trims and collapses whitespace, preserving case, so
// "Google  Analytics" and "Google Analytics" are one noun.
func NormalizeNoun(noun string) string {
	return collapseSpace(noun)
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Normalize validates r and returns its normalized form. Empty IDs and tags
// or nouns that are empty after normalization are rejected.
func Normalize(r Record) (Post, error) {
	errs := make(map[string]string)

	id := strings.TrimSpace(r.ID)
	if id == "" {
		errs["id"] = "id is required"
	} else if len(id) > maxIDLength {
		errs["id"] = fmt.Sprintf("id must be at most %d characters", maxIDLength)
	}
	title := strings.TrimSpace(r.Title)
	if len(title) > maxTitleLength {
		errs["title"] = fmt.Sprintf("title must be at most %d characters", maxTitleLength)
	}
	tags, msg := normalizeSet(r.Tags, NormalizeTag)
	if msg != "" {
		errs["tags"] = msg
	}
	nouns, msg := normalizeSet(r.Nouns, NormalizeNoun)
	if msg != "" {
		errs["nouns"] = msg
	}
	if len(errs) > 0 {
		return Post{}, &ValidationError{Fields: errs}
	}

	return Post{
		ID:          id,
		Title:       title,
		Tags:        tags,
		Nouns:       nouns,
		Recap:       r.Recap,
		PublishedAt: r.PublishedAt.UTC(),
		ContentRef:  r.ContentRef,
	}, nil
}

// normalizeSet maps values through fn, then sorts and deduplicates them. It
// returns a message naming the first offending position on failure.
func normalizeSet(values []string, fn func(string) string) ([]string, string) {
	if len(values) == 0 {
		return []string{}, ""
	}
	out := make([]string, 0, len(values))
	for i, v := range values {
		n := fn(v)
		if n == "" {
			return nil, fmt.Sprintf("entry %d is empty after normalization", i)
		}
		if len(n) > maxTermLength {
			return nil, fmt.Sprintf("entry %d must be at most %d characters", i, maxTermLength)
		}
		out = append(out, n)
	}
	sort.Strings(out)
	uniq := out[:1]
	for _, v := range out[1:] {
		if v != uniq[len(uniq)-1] {
			uniq = append(uniq, v)
		}
	}
	return uniq, ""
}
