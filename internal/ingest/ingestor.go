package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/content-relatedness-engine/internal/post"
)

// Applier mutates the in-memory engine.
type Applier interface {
	Upsert(ctx context.Context, r post.Record) (post.Post, error)
	UpsertBatch(ctx context.Context, rs []post.Record) ([]post.Post, error)
	Remove(ctx context.Context, id string) (bool, error)
}

// Repository persists posts.
type Repository interface {
	Save(ctx context.Context, p post.Post) error
	SaveBatch(ctx context.Context, ps []post.Post) error
	Delete(ctx context.Context, id string) error
}

// Ingestor is the single write path. writeMu spans persist and apply so the
// repository and the engine see writes in the same order.
type Ingestor struct {
	applier Applier
	repo    Repository
	logger  *slog.Logger
	writeMu sync.Mutex
}

// NewIngestor builds an Ingestor. repo may be nil, in which case posts live
// only in memory.
func NewIngestor(applier Applier, repo Repository) *Ingestor {
	return &Ingestor{
		applier: applier,
		repo:    repo,
		logger:  slog.Default().With("component", "ingestor"),
	}
}

// Upsert validates r, persists it and applies it. Nothing is stored when
// validation fails.
func (i *Ingestor) Upsert(ctx context.Context, r post.Record) (post.Post, error) {
	p, err := post.Normalize(r)
	if err != nil {
		return post.Post{}, err
	}
	i.writeMu.Lock()
	defer i.writeMu.Unlock()
	if i.repo != nil {
		if err := i.repo.Save(ctx, p); err != nil {
			return post.Post{}, fmt.Errorf("persisting post %s: %w", p.ID, err)
		}
	}
	return i.applier.Upsert(ctx, p.Record())
}

// UpsertBatch validates every record before persisting or applying any.
func (i *Ingestor) UpsertBatch(ctx context.Context, rs []post.Record) ([]post.Post, error) {
	normalized := make([]post.Post, 0, len(rs))
	fields := make(map[string]string)
	for idx, r := range rs {
		p, err := post.Normalize(r)
		if err != nil {
			mergeValidation(fields, idx, err)
			continue
		}
		normalized = append(normalized, p)
	}
	if len(fields) > 0 {
		return nil, &post.ValidationError{Fields: fields}
	}
	i.writeMu.Lock()
	defer i.writeMu.Unlock()
	if i.repo != nil {
		if err := i.repo.SaveBatch(ctx, normalized); err != nil {
			return nil, fmt.Errorf("persisting batch of %d posts: %w", len(normalized), err)
		}
	}
	records := make([]post.Record, len(normalized))
	for idx, p := range normalized {
		records[idx] = p.Record()
	}
	return i.applier.UpsertBatch(ctx, records)
}

// Remove deletes id from the repository and the engine. Removing an unknown
// post is not an error.
func (i *Ingestor) Remove(ctx context.Context, id string) (bool, error) {
	i.writeMu.Lock()
	defer i.writeMu.Unlock()
	if i.repo != nil {
		if err := i.repo.Delete(ctx, id); err != nil {
			return false, fmt.Errorf("deleting post %s: %w", id, err)
		}
	}
	return i.applier.Remove(ctx, id)
}

// Apply dispatches a post-ingest event.
func (i *Ingestor) Apply(ctx context.Context, event PostEvent) error {
	switch event.Op {
	case OpUpsert:
		if event.Post == nil {
			return &post.ValidationError{Fields: map[string]string{"post": "upsert event has no post"}}
		}
		_, err := i.Upsert(ctx, *event.Post)
		return err
	case OpDelete:
		if event.ID == "" {
			return &post.ValidationError{Fields: map[string]string{"id": "delete event has no id"}}
		}
		_, err := i.Remove(ctx, event.ID)
		return err
	default:
		return &post.ValidationError{Fields: map[string]string{"op": fmt.Sprintf("unknown op %q", event.Op)}}
	}
}

func mergeValidation(fields map[string]string, idx int, err error) {
	var ve *post.ValidationError
	if !errors.As(err, &ve) {
		fields[post.BatchField(idx, "post")] = err.Error()
		return
	}
	for field, msg := range ve.Fields {
		fields[post.BatchField(idx, field)] = msg
	}
}
