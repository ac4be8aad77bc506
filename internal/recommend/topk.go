package recommend

import (
	"container/heap"
	"sort"
)

// topK keeps the best limit recommendations seen so far. With limit <= 0
// it keeps everything and sorts once at the end.
type topK struct {
	limit int
	h     recHeap
}

func newTopK(limit int) *topK {
	return &topK{limit: limit}
}

func (t *topK) offer(r Recommendation) {
	if t.limit <= 0 {
		t.h = append(t.h, r)
		return
	}
	if t.h.Len() < t.limit {
		heap.Push(&t.h, r)
		return
	}
	if ranksBefore(r, t.h[0]) {
		t.h[0] = r
		heap.Fix(&t.h, 0)
	}
}

func (t *topK) results() []Recommendation {
	out := make([]Recommendation, len(t.h))
	if t.limit <= 0 {
		copy(out, t.h)
		sort.Slice(out, func(i, j int) bool { return ranksBefore(out[i], out[j]) })
		return out
	}
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(&t.h).(Recommendation)
	}
	return out
}

// recHeap is a min-heap on result order: the root is the weakest kept entry.
type recHeap []Recommendation

func (h recHeap) Len() int { return len(h) }

func (h recHeap) Less(i, j int) bool { return ranksBefore(h[j], h[i]) }

func (h recHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *recHeap) Push(x interface{}) {
	*h = append(*h, x.(Recommendation))
}

func (h *recHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
