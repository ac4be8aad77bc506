package index

import (
	"sync/atomic"
)

// Holder publishes snapshots to lock-free readers. A reader that calls
// Current keeps a consistent snapshot for as long as it holds the pointer.
type Holder struct {
	current atomic.Pointer[Snapshot]
}

func NewHolder() *Holder {
	h := &Holder{}
	h.current.Store(Empty())
	return h
}

func (h *Holder) Current() *Snapshot {
	return h.current.Load()
}

// Publish installs s if it is newer than the live snapshot and reports
// whether it did. Older or equal generations are discarded.
func (h *Holder) Publish(s *Snapshot) bool {
	for {
		cur := h.current.Load()
		if s.Generation() <= cur.Generation() {
			return false
		}
		if h.current.CompareAndSwap(cur, s) {
			return true
		}
	}
}
