package post

import (
	"errors"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
)

// Store is the single owner of post records. Mutations are serialized;
// Generation and Snapshot may be called concurrently with them.
type Store struct {
	mu         sync.Mutex
	posts      map[string]Post
	generation atomic.Uint64
	snap       *Snapshot
	logger     *slog.Logger
}

func NewStore() *Store {
	return &Store{
		posts:  make(map[string]Post),
		logger: slog.Default().With("component", "post-store"),
	}
}

// Upsert normalizes r and replaces any record with the same ID.
func (s *Store) Upsert(r Record) (Post, uint64, error) {
	p, err := Normalize(r)
	if err != nil {
		return Post{}, s.Generation(), err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, replaced := s.posts[p.ID]
	s.posts[p.ID] = p
	gen := s.bump()
	s.logger.Debug("post upserted", "post_id", p.ID, "replaced", replaced, "generation", gen)
	return p, gen, nil
}

// UpsertBatch validates every record before applying any of them, so a
// single invalid record leaves the store untouched. A successful batch
// advances the generation once.
func (s *Store) UpsertBatch(records []Record) ([]Post, uint64, error) {
	posts := make([]Post, 0, len(records))
	for i, r := range records {
		p, err := Normalize(r)
		if err != nil {
			var verr *ValidationError
			if errors.As(err, &verr) {
				fields := make(map[string]string, len(verr.Fields))
				for field, msg := range verr.Fields {
					fields[BatchField(i, field)] = msg
				}
				return nil, s.Generation(), &ValidationError{Fields: fields}
			}
			return nil, s.Generation(), err
		}
		posts = append(posts, p)
	}
	if len(posts) == 0 {
		return posts, s.Generation(), nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range posts {
		s.posts[p.ID] = p
	}
	gen := s.bump()
	s.logger.Debug("post batch upserted", "count", len(posts), "generation", gen)
	return posts, gen, nil
}

// Remove deletes id if present. Removing an absent ID is a no-op and does
// not advance the generation.
func (s *Store) Remove(id string) (bool, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.posts[id]; !ok {
		return false, s.generation.Load()
	}
	delete(s.posts, id)
	gen := s.bump()
	s.logger.Debug("post removed", "post_id", id, "generation", gen)
	return true, gen
}

// RemoveBatch deletes every present ID and reports how many were removed.
func (s *Store) RemoveBatch(ids []string) (int, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for _, id := range ids {
		if _, ok := s.posts[id]; ok {
			delete(s.posts, id)
			removed++
		}
	}
	if removed == 0 {
		return 0, s.generation.Load()
	}
	return removed, s.bump()
}

func (s *Store) Get(id string) (Post, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[id]
	return p, ok
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.posts)
}

func (s *Store) Generation() uint64 {
	return s.generation.Load()
}

// Snapshot returns an immutable view of the current records. The view is
// cached until the next mutation.
func (s *Store) Snapshot() *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap != nil {
		return s.snap
	}
	posts := make(map[string]Post, len(s.posts))
	ids := make([]string, 0, len(s.posts))
	for id, p := range s.posts {
		posts[id] = p
		ids = append(ids, id)
	}
	sort.Strings(ids)
	s.snap = &Snapshot{
		generation: s.generation.Load(),
		posts:      posts,
		ids:        ids,
	}
	return s.snap
}

// bump must be called with mu held.
func (s *Store) bump() uint64 {
	s.snap = nil
	return s.generation.Add(1)
}

// BatchField names field of the i-th post in a batch, as reported in
// validation errors.
func BatchField(i int, field string) string {
	return "posts[" + strconv.Itoa(i) + "]." + field
}

// Snapshot is an immutable view of the store at one generation.
type Snapshot struct {
	generation uint64
	posts      map[string]Post
	ids        []string
}

// EmptySnapshot is the generation-zero view of an empty store.
func EmptySnapshot() *Snapshot {
	return &Snapshot{posts: map[string]Post{}, ids: []string{}}
}

func (s *Snapshot) Generation() uint64 {
	return s.generation
}

func (s *Snapshot) Get(id string) (Post, bool) {
	p, ok := s.posts[id]
	return p, ok
}

func (s *Snapshot) Len() int {
	return len(s.ids)
}

// IDs returns all post IDs in ascending order.
func (s *Snapshot) IDs() []string {
	return append([]string(nil), s.ids...)
}

// Each calls fn for every post in ascending ID order until fn returns false.
func (s *Snapshot) Each(fn func(Post) bool) {
	for _, id := range s.ids {
		if !fn(s.posts[id]) {
			return
		}
	}
}
