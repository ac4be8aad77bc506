// Package notify announces newly published index generations on Kafka so
// downstream renderers know when related-post and digest answers changed.
package notify

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/content-relatedness-engine/internal/index"
	"github.com/Adithya-Monish-Kumar-K/content-relatedness-engine/pkg/kafka"
)

const maxBatch = 64

// IndexPublishedEvent is the payload written to the index-published topic.
type IndexPublishedEvent struct {
	Generation  uint64    `json:"generation"`
	Posts       int       `json:"posts"`
	Tags        int       `json:"tags"`
	Nouns       int       `json:"nouns"`
	RecapPosts  int       `json:"recap_posts"`
	PublishedAt time.Time `json:"published_at"`
}

func EventFromStats(s index.Stats) IndexPublishedEvent {
	return IndexPublishedEvent{
		Generation:  s.Generation,
		Posts:       s.Posts,
		Tags:        s.Tags,
		Nouns:       s.Nouns,
		RecapPosts:  s.RecapPosts,
		PublishedAt: s.BuiltAt,
	}
}

type Publisher interface {
	PublishBatch(ctx context.Context, events []kafka.Event) error
}

// Notifier queues publication events and writes them in batches from a
// single goroutine. A full queue drops the event rather than block the
// rebuild path.
type Notifier struct {
	publisher Publisher
	eventCh   chan IndexPublishedEvent
	logger    *slog.Logger
	done      chan struct{}
	closeOnce sync.Once
}

func New(publisher Publisher, bufferSize int) *Notifier {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	return &Notifier{
		publisher: publisher,
		eventCh:   make(chan IndexPublishedEvent, bufferSize),
		logger:    slog.Default().With("component", "index-notifier"),
		done:      make(chan struct{}),
	}
}

func (n *Notifier) Start(ctx context.Context) {
	go func() {
		defer close(n.done)
		for {
			select {
			case event, ok := <-n.eventCh:
				if !ok {
					return
				}
				n.publish(ctx, n.collect(event))
			case <-ctx.Done():
				n.drainRemaining()
				return
			}
		}
	}()
	n.logger.Info("index notifier started", "buffer_size", cap(n.eventCh))
}

// Published queues an announcement for snap. It has the signature of the
// rebuilder's OnPublish hook.
func (n *Notifier) Published(snap *index.Snapshot) {
	n.Track(EventFromStats(snap.Stats()))
}

func (n *Notifier) Track(event IndexPublishedEvent) {
	select {
	case n.eventCh <- event:
	default:
		n.logger.Warn("index published event dropped (buffer full)", "generation", event.Generation)
	}
}

// Close stops accepting events, flushes what is queued and waits for the
// publishing goroutine to exit.
func (n *Notifier) Close() {
	n.closeOnce.Do(func() { close(n.eventCh) })
	<-n.done
}

// collect gathers first plus whatever else is already queued, up to maxBatch.
func (n *Notifier) collect(first IndexPublishedEvent) []kafka.Event {
	batch := []kafka.Event{toKafka(first)}
	for len(batch) < maxBatch {
		select {
		case event, ok := <-n.eventCh:
			if !ok {
				return batch
			}
			batch = append(batch, toKafka(event))
		default:
			return batch
		}
	}
	return batch
}

func (n *Notifier) publish(ctx context.Context, batch []kafka.Event) {
	if err := n.publisher.PublishBatch(ctx, batch); err != nil {
		n.logger.Error("failed to publish index events", "count", len(batch), "error", err)
		return
	}
	n.logger.Debug("index events published", "count", len(batch))
}

func (n *Notifier) drainRemaining() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case event, ok := <-n.eventCh:
			if !ok {
				return
			}
			n.publish(ctx, n.collect(event))
		default:
			return
		}
	}
}

func toKafka(e IndexPublishedEvent) kafka.Event {
	return kafka.Event{
		Key:   strconv.FormatUint(e.Generation, 10),
		Value: e,
	}
}
