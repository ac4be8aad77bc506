package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/content-relatedness-engine/internal/post"
	"github.com/Adithya-Monish-Kumar-K/content-relatedness-engine/pkg/resilience"
)

// Loader reads the persisted catalogue.
type Loader interface {
	LoadAll(ctx context.Context) ([]post.Record, error)
}

// Bootstrap loads every persisted post into applier, retrying the load and
// bounding the whole attempt by timeout. Stored records that no longer
// validate are skipped with a warning. It returns the number applied.
func Bootstrap(ctx context.Context, loader Loader, applier Applier, timeout time.Duration, retry resilience.RetryConfig) (int, error) {
	logger := slog.Default().With("component", "bootstrap")
	var records []post.Record
	err := resilience.WithTimeout(ctx, timeout, "post bootstrap", func(ctx context.Context) error {
		return resilience.Retry(ctx, "load posts", retry, func(ctx context.Context) error {
			loaded, err := loader.LoadAll(ctx)
			if err != nil {
				return err
			}
			records = loaded
			return nil
		})
	})
	if err != nil {
		return 0, fmt.Errorf("loading persisted posts: %w", err)
	}

	valid := make([]post.Record, 0, len(records))
	for _, r := range records {
		if _, err := post.Normalize(r); err != nil {
			logger.Warn("skipping invalid stored post", "post_id", r.ID, "error", err)
			continue
		}
		valid = append(valid, r)
	}
	if len(valid) == 0 {
		logger.Info("no persisted posts to load")
		return 0, nil
	}
	applied, err := applier.UpsertBatch(ctx, valid)
	if err != nil {
		return 0, fmt.Errorf("applying persisted posts: %w", err)
	}
	logger.Info("persisted posts loaded", "count", len(applied), "skipped", len(records)-len(valid))
	return len(applied), nil
}
