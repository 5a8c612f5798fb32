package iterator

import "container/heap"

// HeapSource is one contributor to a HeapIterator: a child iterator tagged
// with a source priority (§4.6). Idx encodes source priority — more
// recent sources get smaller idx; for L0, SST idx is negated so the
// newest SST wins key ties against other L0 SSTs.
type HeapSource struct {
	It    Iterator
	Idx   int
	Level int
}

type heapItem struct {
	key, value []byte
	trancID    uint64
	idx        int
	level      int
	source     Iterator
}

// pq implements container/heap.Interface with the engine's tie-break
// ordering: (key ASC, tranc_id DESC, level ASC, idx ASC).
type pq []*heapItem

func (q pq) Len() int { return len(q) }

func (q pq) Less(i, j int) bool {
	a, b := q[i], q[j]
	if c := compareBytes(a.key, b.key); c != 0 {
		return c < 0
	}
	if a.trancID != b.trancID {
		return a.trancID > b.trancID
	}
	if a.level != b.level {
		return a.level < b.level
	}
	return a.idx < b.idx
}

func (q pq) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *pq) Push(x any) { *q = append(*q, x.(*heapItem)) }

func (q *pq) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

func compareBytes(a, b []byte) int {
	la, lb := len(a), len(b)
	n := la
	if lb < n {
		n = lb
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case la < lb:
		return -1
	case la > lb:
		return 1
	default:
		return 0
	}
}

// HeapIterator is the n-way fusion over tagged sources with MVCC and
// tombstone normalization (§4.6).
type HeapIterator struct {
	h          pq
	maxTrancID MaxTrancID
	current    *heapItem
}

// NewHeapIterator builds a heap iterator over sources, normalizing before
// the first KeyValue() the way the source's constructor does (§4.6).
func NewHeapIterator(sources []HeapSource, maxTrancID MaxTrancID) *HeapIterator {
	it := &HeapIterator{maxTrancID: maxTrancID}
	for _, s := range sources {
		if s.It.Valid() {
			k, v := s.It.KeyValue()
			heap.Push(&it.h, &heapItem{
				key: k, value: v, trancID: s.It.TrancID(),
				idx: s.Idx, level: s.Level, source: s.It,
			})
		}
	}
	it.normalize()
	return it
}

func (it *HeapIterator) visible(item *heapItem) bool {
	return it.maxTrancID == 0 || item.trancID <= it.maxTrancID
}

// normalize drains one key-group at a time. Within a group, items pop in
// tranc_id-descending order (heap ordering ties key ASC with tranc_id
// DESC), so the first visible item in pop order is the correct MVCC
// winner for that key. Every item in the group is popped and its source
// advanced regardless, so no source is left pointing at a stale record;
// only the winner (if any, and if live) is surfaced. Groups with no
// visible version, or whose winner is a tombstone, are skipped entirely.
func (it *HeapIterator) normalize() {
	for {
		if it.h.Len() == 0 {
			it.current = nil
			return
		}

		first := heap.Pop(&it.h).(*heapItem)
		it.advanceSource(first)

		var winner *heapItem
		if it.visible(first) {
			winner = first
		}

		for it.h.Len() > 0 && compareBytes(it.h[0].key, first.key) == 0 {
			dup := heap.Pop(&it.h).(*heapItem)
			it.advanceSource(dup)
			if winner == nil && it.visible(dup) {
				winner = dup
			}
		}

		if winner != nil && len(winner.value) > 0 {
			it.current = winner
			return
		}
		// no visible version in this group, or its winner is a tombstone:
		// keep normalizing past it.
	}
}

// advanceSource pushes the source's next item back onto the heap, if any.
func (it *HeapIterator) advanceSource(item *heapItem) {
	item.source.Next()
	if item.source.Valid() {
		k, v := item.source.KeyValue()
		heap.Push(&it.h, &heapItem{
			key: k, value: v, trancID: item.source.TrancID(),
			idx: item.idx, level: item.level, source: item.source,
		})
	}
}

func (it *HeapIterator) End() bool { return it.current == nil }

func (it *HeapIterator) Valid() bool { return it.current != nil }

func (it *HeapIterator) Next() {
	if it.current == nil {
		return
	}
	it.normalize()
}

func (it *HeapIterator) KeyValue() ([]byte, []byte) {
	if it.current == nil {
		return nil, nil
	}
	return it.current.key, it.current.value
}

func (it *HeapIterator) TrancID() uint64 {
	if it.current == nil {
		return 0
	}
	return it.current.trancID
}

func (it *HeapIterator) Type() string { return "heap" }
