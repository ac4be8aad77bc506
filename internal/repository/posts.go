// Package repository persists posts in PostgreSQL so the engine can rebuild
// its store after a restart.
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/content-relatedness-engine/internal/post"
	"github.com/Adithya-Monish-Kumar-K/content-relatedness-engine/pkg/postgres"
	"github.com/lib/pq"
)

const schema = `
CREATE TABLE IF NOT EXISTS posts (
	id           TEXT PRIMARY KEY,
	title        TEXT NOT NULL DEFAULT '',
	tags         TEXT[] NOT NULL DEFAULT '{}',
	nouns        TEXT[] NOT NULL DEFAULT '{}',
	recap        BOOLEAN NOT NULL DEFAULT FALSE,
	published_at TIMESTAMPTZ NOT NULL,
	content_ref  TEXT NOT NULL DEFAULT '',
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS posts_recap_published_idx ON posts (published_at DESC) WHERE recap;
`

const upsertSQL = `
INSERT INTO posts (id, title, tags, nouns, recap, published_at, content_ref, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
ON CONFLICT (id) DO UPDATE SET
	title = EXCLUDED.title,
	tags = EXCLUDED.tags,
	nouns = EXCLUDED.nouns,
	recap = EXCLUDED.recap,
	published_at = EXCLUDED.published_at,
	content_ref = EXCLUDED.content_ref,
	updated_at = NOW()`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type Posts struct {
	client *postgres.Client
	logger *slog.Logger
}

func NewPosts(client *postgres.Client) *Posts {
	return &Posts{
		client: client,
		logger: slog.Default().With("component", "post-repository"),
	}
}

func (r *Posts) EnsureSchema(ctx context.Context) error {
	if _, err := r.client.DB.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating posts schema: %w", err)
	}
	return nil
}

// Save upserts one normalized post.
func (r *Posts) Save(ctx context.Context, p post.Post) error {
	if err := save(ctx, r.client.DB, p); err != nil {
		return err
	}
	r.logger.Debug("post saved", "post_id", p.ID)
	return nil
}

// SaveBatch upserts every post in one transaction.
func (r *Posts) SaveBatch(ctx context.Context, posts []post.Post) error {
	if len(posts) == 0 {
		return nil
	}
	err := r.client.InTx(ctx, func(tx *sql.Tx) error {
		for _, p := range posts {
			if err := save(ctx, tx, p); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	r.logger.Debug("post batch saved", "count", len(posts))
	return nil
}

// Delete removes a post. Deleting an absent post is not an error.
func (r *Posts) Delete(ctx context.Context, id string) error {
	if _, err := r.client.DB.ExecContext(ctx, `DELETE FROM posts WHERE id = $1`, id); err != nil {
		return fmt.Errorf("deleting post %s: %w", id, err)
	}
	return nil
}

// LoadAll returns every stored post as a record ready for normalization.
func (r *Posts) LoadAll(ctx context.Context) ([]post.Record, error) {
	rows, err := r.client.DB.QueryContext(ctx, `
		SELECT id, title, tags, nouns, recap, published_at, content_ref
		FROM posts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying posts: %w", err)
	}
	defer rows.Close()

	records := make([]post.Record, 0)
	for rows.Next() {
		var rec post.Record
		if err := rows.Scan(
			&rec.ID,
			&rec.Title,
			pq.Array(&rec.Tags),
			pq.Array(&rec.Nouns),
			&rec.Recap,
			&rec.PublishedAt,
			&rec.ContentRef,
		); err != nil {
			return nil, fmt.Errorf("scanning post row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating posts: %w", err)
	}
	r.logger.Info("posts loaded", "count", len(records))
	return records, nil
}

func save(ctx context.Context, db execer, p post.Post) error {
	_, err := db.ExecContext(ctx, upsertSQL,
		p.ID,
		p.Title,
		pq.Array(nonNil(p.Tags)),
		pq.Array(nonNil(p.Nouns)),
		p.Recap,
		p.PublishedAt,
		p.ContentRef,
	)
	if err != nil {
		return fmt.Errorf("saving post %s: %w", p.ID, err)
	}
	return nil
}

// nonNil keeps empty sets from being written as NULL.
func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
