package kafka

import (
	"testing"
)

type sample struct {
	Op string `json:"op"`
	ID string `json:"id"`
}

func TestDecodeJSON(t *testing.T) {
	got, err := DecodeJSON[sample]([]byte(`{"op":"delete","id":"p1"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Op != "delete" || got.ID != "p1" {
		t.Errorf("unexpected decode result %+v", got)
	}
	if _, err := DecodeJSON[sample]([]byte(`{`)); err == nil {
		t.Error("expected error for malformed JSON")
	}
}

func TestEncodeEvents(t *testing.T) {
	msgs, err := encodeEvents([]Event{
		{Key: "7", Value: map[string]int{"generation": 7}},
		{Key: "8", Value: map[string]int{"generation": 8}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if string(msgs[0].Key) != "7" || string(msgs[0].Value) != `{"generation":7}` {
		t.Errorf("unexpected first message key=%s value=%s", msgs[0].Key, msgs[0].Value)
	}
	if _, err := encodeEvents([]Event{{Key: "bad", Value: make(chan int)}}); err == nil {
		t.Error("expected marshal error for channel value")
	}
}
