// Package ingest is the write path into the engine: it validates incoming
// posts, persists them when a repository is configured and applies them to
// the in-memory store. Posts arrive over HTTP or from the post-ingest topic.
package ingest

import "github.com/Adithya-Monish-Kumar-K/content-relatedness-engine/internal/post"

type Op string

const (
	OpUpsert Op = "upsert"
	OpDelete Op = "delete"
)

// PostEvent is the payload on the post-ingest topic. Upserts carry Post,
// deletes carry ID.
type PostEvent struct {
	Op   Op           `json:"op"`
	Post *post.Record `json:"post,omitempty"`
	ID   string       `json:"id,omitempty"`
}

// BatchRequest is the body of a batch upsert.
type BatchRequest struct {
	Posts []post.Record `json:"posts"`
}

// BatchResponse reports what a batch upsert stored.
type BatchResponse struct {
	Upserted int      `json:"upserted"`
	IDs      []string `json:"ids"`
}
