package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/content-relatedness-engine/internal/index"
	"github.com/Adithya-Monish-Kumar-K/content-relatedness-engine/internal/post"
	"github.com/Adithya-Monish-Kumar-K/content-relatedness-engine/pkg/kafka"
)

type recordingPublisher struct {
	mu      sync.Mutex
	batches [][]kafka.Event
	err     error
}

func (p *recordingPublisher) PublishBatch(_ context.Context, events []kafka.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batches = append(p.batches, append([]kafka.Event(nil), events...))
	return p.err
}

func (p *recordingPublisher) events() []IndexPublishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []IndexPublishedEvent
	for _, b := range p.batches {
		for _, e := range b {
			out = append(out, e.Value.(IndexPublishedEvent))
		}
	}
	return out
}

func TestNotifierPublishesSnapshots(t *testing.T) {
	pub := &recordingPublisher{}
	n := New(pub, 16)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	n.Start(ctx)

	store := post.NewStore()
	store.Upsert(post.Record{ID: "p1", Tags: []string{"react"}, Recap: true})
	snap, err := index.Build(ctx, store.Snapshot())
	if err != nil {
		t.Fatal(err)
	}
	n.Published(snap)
	n.Close()

	events := pub.events()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	got := events[0]
	if got.Generation != 1 || got.Posts != 1 || got.Tags != 1 || got.RecapPosts != 1 {
		t.Errorf("unexpected event %+v", got)
	}
	pub.mu.Lock()
	key := pub.batches[0][0].Key
	pub.mu.Unlock()
	if key != "1" {
		t.Errorf("expected generation as key, got %q", key)
	}
}

func TestNotifierBatchesQueuedEvents(t *testing.T) {
	pub := &recordingPublisher{}
	n := New(pub, 16)
	for gen := uint64(1); gen <= 10; gen++ {
		n.Track(IndexPublishedEvent{Generation: gen})
	}
	n.Start(context.Background())
	n.Close()

	events := pub.events()
	if len(events) != 10 {
		t.Fatalf("expected 10 events, got %d", len(events))
	}
	for i, e := range events {
		if e.Generation != uint64(i+1) {
			t.Fatalf("events out of order: %+v", events)
		}
	}
	pub.mu.Lock()
	batches := len(pub.batches)
	pub.mu.Unlock()
	if batches != 1 {
		t.Errorf("expected queued events in one batch, got %d batches", batches)
	}
}

func TestNotifierDropsWhenFull(t *testing.T) {
	pub := &recordingPublisher{}
	n := New(pub, 2)
	for gen := uint64(1); gen <= 5; gen++ {
		n.Track(IndexPublishedEvent{Generation: gen})
	}
	n.Start(context.Background())
	n.Close()
	if got := len(pub.events()); got != 2 {
		t.Errorf("expected 2 events kept, got %d", got)
	}
}

func TestNotifierSurvivesPublishErrors(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	n := New(pub, 4)
	ctx, cancel := context.WithCancel(context.Background())
	n.Start(ctx)
	n.Track(IndexPublishedEvent{Generation: 1})
	time.Sleep(10 * time.Millisecond)
	n.Track(IndexPublishedEvent{Generation: 2})
	cancel()
	n.Close()
	if got := len(pub.events()); got < 1 {
		t.Errorf("expected publish attempts to continue after errors, got %d", got)
	}
}
