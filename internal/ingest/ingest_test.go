package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/content-relatedness-engine/internal/post"
	apperrors "github.com/Adithya-Monish-Kumar-K/content-relatedness-engine/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/content-relatedness-engine/pkg/resilience"
)

// storeApplier applies mutations straight to a post.Store.
type storeApplier struct {
	store *post.Store
}

func (a *storeApplier) Upsert(_ context.Context, r post.Record) (post.Post, error) {
	p, _, err := a.store.Upsert(r)
	return p, err
}

func (a *storeApplier) UpsertBatch(_ context.Context, rs []post.Record) ([]post.Post, error) {
	ps, _, err := a.store.UpsertBatch(rs)
	return ps, err
}

func (a *storeApplier) Remove(_ context.Context, id string) (bool, error) {
	removed, _ := a.store.Remove(id)
	return removed, nil
}

type fakeRepo struct {
	mu      sync.Mutex
	saved   map[string]post.Post
	deleted []string
	err     error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{saved: make(map[string]post.Post)}
}

func (r *fakeRepo) Save(_ context.Context, p post.Post) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.saved[p.ID] = p
	return nil
}

func (r *fakeRepo) SaveBatch(ctx context.Context, ps []post.Post) error {
	for _, p := range ps {
		if err := r.Save(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func (r *fakeRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	delete(r.saved, id)
	r.deleted = append(r.deleted, id)
	return nil
}

func newIngestor() (*Ingestor, *post.Store, *fakeRepo) {
	store := post.NewStore()
	repo := newFakeRepo()
	return NewIngestor(&storeApplier{store: store}, repo), store, repo
}

func TestIngestorUpsert(t *testing.T) {
	ing, store, repo := newIngestor()
	ctx := context.Background()

	p, err := ing.Upsert(ctx, post.Record{ID: "p1", Tags: []string{"React", "react "}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(p.Tags) != 1 || p.Tags[0] != "react" {
		t.Errorf("expected normalized tags, got %v", p.Tags)
	}
	if _, ok := store.Get("p1"); !ok {
		t.Error("post not applied to store")
	}
	if _, ok := repo.saved["p1"]; !ok {
		t.Error("post not persisted")
	}

	if _, err := ing.Upsert(ctx, post.Record{ID: "  "}); !apperrors.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if store.Len() != 1 || len(repo.saved) != 1 {
		t.Error("invalid record must not reach the store or repository")
	}
}

func TestIngestorPersistenceFailureLeavesStoreUntouched(t *testing.T) {
	ing, store, repo := newIngestor()
	repo.err = errors.New("connection reset")
	if _, err := ing.Upsert(context.Background(), post.Record{ID: "p1"}); err == nil {
		t.Fatal("expected persistence error")
	}
	if store.Len() != 0 {
		t.Error("store must not change when persistence fails")
	}
}

func TestIngestorUpsertBatchIsAllOrNothing(t *testing.T) {
	ing, store, repo := newIngestor()
	_, err := ing.UpsertBatch(context.Background(), []post.Record{
		{ID: "ok", Tags: []string{"go"}},
		{ID: "bad", Tags: []string{"   "}},
	})
	var ve *post.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if _, ok := ve.Fields["posts[1].tags"]; !ok {
		t.Errorf("expected indexed field name, got %v", ve.Fields)
	}
	if store.Len() != 0 || len(repo.saved) != 0 {
		t.Error("no record of a failed batch may be stored")
	}

	posts, err := ing.UpsertBatch(context.Background(), []post.Record{{ID: "a"}, {ID: "b"}})
	if err != nil || len(posts) != 2 || store.Len() != 2 {
		t.Fatalf("expected 2 posts stored, got %d (err=%v)", store.Len(), err)
	}
}

func TestIngestorRemove(t *testing.T) {
	ing, store, repo := newIngestor()
	ctx := context.Background()
	ing.Upsert(ctx, post.Record{ID: "p1"})

	removed, err := ing.Remove(ctx, "p1")
	if err != nil || !removed {
		t.Fatalf("expected removal, got removed=%v err=%v", removed, err)
	}
	removed, err = ing.Remove(ctx, "p1")
	if err != nil || removed {
		t.Fatalf("second remove should be a no-op, got removed=%v err=%v", removed, err)
	}
	if store.Len() != 0 || len(repo.deleted) != 2 {
		t.Errorf("unexpected state: store=%d deletes=%v", store.Len(), repo.deleted)
	}
}

func TestIngestorWithoutRepository(t *testing.T) {
	store := post.NewStore()
	ing := NewIngestor(&storeApplier{store: store}, nil)
	if _, err := ing.Upsert(context.Background(), post.Record{ID: "p1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.Len() != 1 {
		t.Error("expected in-memory upsert")
	}
}

func TestHandleMessage(t *testing.T) {
	ing, store, repo := newIngestor()
	handler := HandleMessage(ing)
	ctx := context.Background()

	encode := func(e PostEvent) []byte {
		data, err := json.Marshal(e)
		if err != nil {
			t.Fatal(err)
		}
		return data
	}

	tests := []struct {
		name    string
		value   []byte
		wantErr bool
		wantLen int
	}{
		{"upsert", encode(PostEvent{Op: OpUpsert, Post: &post.Record{ID: "p1", Tags: []string{"go"}}}), false, 1},
		{"garbage is skipped", []byte("{not json"), false, 1},
		{"invalid post is skipped", encode(PostEvent{Op: OpUpsert, Post: &post.Record{ID: ""}}), false, 1},
		{"missing post is skipped", encode(PostEvent{Op: OpUpsert}), false, 1},
		{"unknown op is skipped", encode(PostEvent{Op: "rename", ID: "p1"}), false, 1},
		{"delete", encode(PostEvent{Op: OpDelete, ID: "p1"}), false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := handler(ctx, []byte("key"), tt.value)
			if (err != nil) != tt.wantErr {
				t.Fatalf("expected error=%v, got %v", tt.wantErr, err)
			}
			if store.Len() != tt.wantLen {
				t.Errorf("expected %d posts, got %d", tt.wantLen, store.Len())
			}
		})
	}

	repo.err = errors.New("db down")
	err := handler(ctx, nil, encode(PostEvent{Op: OpUpsert, Post: &post.Record{ID: "p2"}}))
	if err == nil {
		t.Fatal("persistence errors must be returned so the message is redelivered")
	}
}

type flakyLoader struct {
	failures int
	calls    int
	records  []post.Record
}

func (l *flakyLoader) LoadAll(_ context.Context) ([]post.Record, error) {
	l.calls++
	if l.calls <= l.failures {
		return nil, errors.New("database starting up")
	}
	return l.records, nil
}

func TestBootstrap(t *testing.T) {
	retry := resilience.RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

	t.Run("retries and skips invalid rows", func(t *testing.T) {
		store := post.NewStore()
		loader := &flakyLoader{failures: 2, records: []post.Record{
			{ID: "p1", Tags: []string{"go"}},
			{ID: "p2", Nouns: []string{""}},
			{ID: "p3"},
		}}
		n, err := Bootstrap(context.Background(), loader, &storeApplier{store: store}, time.Second, retry)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if n != 2 || store.Len() != 2 {
			t.Errorf("expected 2 posts loaded, got n=%d store=%d", n, store.Len())
		}
		if loader.calls != 3 {
			t.Errorf("expected 3 load attempts, got %d", loader.calls)
		}
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		loader := &flakyLoader{failures: 10}
		_, err := Bootstrap(context.Background(), loader, &storeApplier{store: post.NewStore()}, time.Second, retry)
		if err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("empty catalogue", func(t *testing.T) {
		store := post.NewStore()
		n, err := Bootstrap(context.Background(), &flakyLoader{}, &storeApplier{store: store}, time.Second, retry)
		if err != nil || n != 0 || store.Generation() != 0 {
			t.Errorf("expected no-op, got n=%d gen=%d err=%v", n, store.Generation(), err)
		}
	})
}

func TestConcurrentWritesKeepRepositoryAndStoreInStep(t *testing.T) {
	ing, store, repo := newIngestor()
	ctx := context.Background()

	var wg sync.WaitGroup
	for n := 0; n < 64; n++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if n%3 == 0 {
				if _, err := ing.Remove(ctx, "p1"); err != nil {
					t.Errorf("remove: %v", err)
				}
				return
			}
			rec := post.Record{ID: "p1", Title: fmt.Sprintf("rev %d", n), Tags: []string{"go"}}
			if _, err := ing.Upsert(ctx, rec); err != nil {
				t.Errorf("upsert: %v", err)
			}
		}(n)
	}
	wg.Wait()

	inStore, stored := store.Get("p1")
	repo.mu.Lock()
	inRepo, persisted := repo.saved["p1"]
	repo.mu.Unlock()
	if stored != persisted {
		t.Fatalf("store has p1=%v but repository has p1=%v", stored, persisted)
	}
	if stored && inStore.Title != inRepo.Title {
		t.Errorf("store holds %q but repository holds %q", inStore.Title, inRepo.Title)
	}
}
