// Package handler exposes the engine over HTTP/JSON.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/content-relatedness-engine/internal/engine"
	"github.com/Adithya-Monish-Kumar-K/content-relatedness-engine/internal/ingest"
	"github.com/Adithya-Monish-Kumar-K/content-relatedness-engine/internal/post"
	"github.com/Adithya-Monish-Kumar-K/content-relatedness-engine/internal/recap"
	"github.com/Adithya-Monish-Kumar-K/content-relatedness-engine/internal/recommend"
	"github.com/Adithya-Monish-Kumar-K/content-relatedness-engine/internal/relatedness"
	apperrors "github.com/Adithya-Monish-Kumar-K/content-relatedness-engine/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/content-relatedness-engine/pkg/logger"
)

const (
	maxPostBody  = 1 << 20
	maxBatchBody = 16 << 20
)

// Reader is the query side of the engine.
type Reader interface {
	Get(id string) (post.Post, error)
	Related(ctx context.Context, id string, limit int) ([]recommend.Recommendation, error)
	Digest(ctx context.Context, start, end time.Time) ([]string, error)
	DigestEntries(ctx context.Context, start, end time.Time) ([]recap.Entry, error)
	Score(ctx context.Context, a, b string) (relatedness.Explanation, error)
	Stats() engine.Stats
}

// Writer is the mutation side, normally an ingest.Ingestor.
type Writer interface {
	Upsert(ctx context.Context, r post.Record) (post.Post, error)
	UpsertBatch(ctx context.Context, rs []post.Record) ([]post.Post, error)
	Remove(ctx context.Context, id string) (bool, error)
}

type Handler struct {
	reader       Reader
	writer       Writer
	defaultLimit int
	maxLimit     int
	logger       *slog.Logger
}

func New(reader Reader, writer Writer, defaultLimit, maxLimit int) *Handler {
	return &Handler{
		reader:       reader,
		writer:       writer,
		defaultLimit: defaultLimit,
		maxLimit:     maxLimit,
		logger:       slog.Default().With("component", "api-handler"),
	}
}

// Register adds the API routes to mux.
//
//	PUT    /api/v1/posts/{id}          upsert one post
//	POST   /api/v1/posts/batch         upsert a batch, all or nothing
//	GET    /api/v1/posts/{id}          fetch a stored post
//	DELETE /api/v1/posts/{id}          remove a post
//	GET    /api/v1/posts/{id}/related  related posts (?limit=N, 0 for all)
//	GET    /api/v1/score               score two posts (?a=ID&b=ID)
//	GET    /api/v1/digest              recap digest (?start=&end=, RFC3339, &expand=true)
//	GET    /api/v1/index/stats         index and store statistics
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("PUT /api/v1/posts/{id}", h.UpsertPost)
	mux.HandleFunc("POST /api/v1/posts/batch", h.UpsertBatch)
	mux.HandleFunc("GET /api/v1/posts/{id}", h.GetPost)
	mux.HandleFunc("DELETE /api/v1/posts/{id}", h.DeletePost)
	mux.HandleFunc("GET /api/v1/posts/{id}/related", h.Related)
	mux.HandleFunc("GET /api/v1/score", h.Score)
	mux.HandleFunc("GET /api/v1/digest", h.Digest)
	mux.HandleFunc("GET /api/v1/index/stats", h.Stats)
}

func (h *Handler) UpsertPost(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var rec post.Record
	if err := decodeBody(w, r, maxPostBody, &rec); err != nil {
		h.writeError(w, r, err)
		return
	}
	// compare the way Normalize will store it
	rec.ID = strings.TrimSpace(rec.ID)
	if rec.ID == "" {
		rec.ID = id
	}
	if rec.ID != id {
		h.writeError(w, r, apperrors.InvalidArgument("body id %q does not match path id %q", rec.ID, id))
		return
	}
	p, err := h.writer.Upsert(r.Context(), rec)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	logger.FromContext(r.Context()).Info("post upserted",
		"post_id", p.ID,
		"tags", len(p.Tags),
		"nouns", len(p.Nouns),
		"recap", p.Recap,
	)
	h.writeJSON(w, http.StatusOK, p)
}

func (h *Handler) UpsertBatch(w http.ResponseWriter, r *http.Request) {
	var req ingest.BatchRequest
	if err := decodeBody(w, r, maxBatchBody, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	posts, err := h.writer.UpsertBatch(r.Context(), req.Posts)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	ids := make([]string, len(posts))
	for i, p := range posts {
		ids[i] = p.ID
	}
	logger.FromContext(r.Context()).Info("post batch upserted", "count", len(posts))
	h.writeJSON(w, http.StatusOK, ingest.BatchResponse{Upserted: len(posts), IDs: ids})
}

func (h *Handler) GetPost(w http.ResponseWriter, r *http.Request) {
	p, err := h.reader.Get(r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, p)
}

func (h *Handler) DeletePost(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	removed, err := h.writer.Remove(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	logger.FromContext(r.Context()).Info("post removed", "post_id", id, "existed", removed)
	w.WriteHeader(http.StatusNoContent)
}

type RelatedResponse struct {
	PostID  string                     `json:"post_id"`
	Limit   int                        `json:"limit"`
	Related []recommend.Recommendation `json:"related"`
}

func (h *Handler) Related(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	id := r.PathValue("id")
	limit, err := h.parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	recs, err := h.reader.Related(r.Context(), id, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	logger.FromContext(r.Context()).Debug("related computed",
		"post_id", id,
		"limit", limit,
		"returned", len(recs),
		"latency_ms", time.Since(start).Milliseconds(),
	)
	h.writeJSON(w, http.StatusOK, RelatedResponse{PostID: id, Limit: limit, Related: recs})
}

func (h *Handler) Score(w http.ResponseWriter, r *http.Request) {
	a, b := r.URL.Query().Get("a"), r.URL.Query().Get("b")
	if a == "" || b == "" {
		h.writeError(w, r, apperrors.InvalidArgument("query parameters 'a' and 'b' are required"))
		return
	}
	exp, err := h.reader.Score(r.Context(), a, b)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, exp)
}

type DigestResponse struct {
	Start   time.Time     `json:"start"`
	End     time.Time     `json:"end"`
	Posts   []string      `json:"posts"`
	Entries []recap.Entry `json:"entries,omitempty"`
}

func (h *Handler) Digest(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, err := parseTime("start", q.Get("start"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	end, err := parseTime("end", q.Get("end"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := DigestResponse{Start: start, End: end}
	if expand, _ := strconv.ParseBool(q.Get("expand")); expand {
		entries, err := h.reader.DigestEntries(r.Context(), start, end)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		resp.Entries = entries
		resp.Posts = make([]string, len(entries))
		for i, e := range entries {
			resp.Posts[i] = e.PostID
		}
	} else {
		ids, err := h.reader.Digest(r.Context(), start, end)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		resp.Posts = ids
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.reader.Stats())
}

// parseLimit applies the default when raw is empty, treats values <= 0 as
// "all" and caps positive values at the configured maximum.
func (h *Handler) parseLimit(raw string) (int, error) {
	if raw == "" {
		return h.defaultLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperrors.InvalidArgument("limit must be an integer, got %q", raw)
	}
	if limit <= 0 {
		return 0, nil
	}
	if h.maxLimit > 0 && limit > h.maxLimit {
		limit = h.maxLimit
	}
	return limit, nil
}

func parseTime(name, raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, apperrors.InvalidArgument("query parameter '%s' is required", name)
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, apperrors.InvalidArgument("%s must be an RFC3339 timestamp, got %q", name, raw)
	}
	return t, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, limit int64, dst any) error {
	body := http.MaxBytesReader(w, r.Body, limit)
	defer body.Close()
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperrors.Newf(apperrors.ErrInvalidArgument, http.StatusRequestEntityTooLarge,
				"request body exceeds %d bytes", tooLarge.Limit)
		}
		return apperrors.InvalidArgument("invalid JSON body: %v", err)
	}
	return nil
}

type errorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	resp := errorResponse{Error: err.Error()}
	var verr *post.ValidationError
	switch {
	case errors.As(err, &verr):
		resp.Error = "validation failed"
		resp.Fields = verr.Fields
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
		resp.Error = "request aborted"
	case status == http.StatusInternalServerError:
		logger.FromContext(r.Context()).Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		resp.Error = "internal error"
	}
	h.writeJSON(w, status, resp)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}
