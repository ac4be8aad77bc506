package index

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/Adithya-Monish-Kumar-K/content-relatedness-engine/internal/post"
)

// cancelCheckInterval is how many posts are indexed between context checks.
const cancelCheckInterval = 256

// Build indexes every post of ps in a single pass. Posts are visited in ID
// order, so each posting list comes out sorted and two builds over the same
// snapshot are Equal.
func Build(ctx context.Context, ps *post.Snapshot) (*Snapshot, error) {
	s := &Snapshot{
		generation: ps.Generation(),
		posts:      ps,
		tags:       make(map[string][]string),
		nouns:      make(map[string][]string),
		recap:      make([]recapEntry, 0),
	}

	var err error
	visited := 0
	ps.Each(func(p post.Post) bool {
		visited++
		if visited%cancelCheckInterval == 0 {
			if err = ctx.Err(); err != nil {
				return false
			}
		}
		for _, tag := range p.Tags {
			s.tags[tag] = append(s.tags[tag], p.ID)
		}
		for _, noun := range p.Nouns {
			s.nouns[noun] = append(s.nouns[noun], p.ID)
		}
		if p.Recap {
			s.recap = append(s.recap, recapEntry{id: p.ID, at: p.PublishedAt})
		}
		return true
	})
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		return nil, fmt.Errorf("building index for generation %d: %w", ps.Generation(), err)
	}

	sort.SliceStable(s.recap, func(i, j int) bool {
		if !s.recap[i].at.Equal(s.recap[j].at) {
			return s.recap[i].at.After(s.recap[j].at)
		}
		return s.recap[i].id < s.recap[j].id
	})
	s.builtAt = time.Now().UTC()
	return s, nil
}
