// Package memtable implements the engine's in-memory write buffer (§3,
// §4.4): one active mutable skip list plus a FIFO queue of frozen,
// immutable skip lists awaiting flush to an SST. Generalizes the
// teacher's single-version, generic-key memtable interface to the
// MVCC, byte-string-keyed active+frozen design this engine needs.
package memtable

import (
	"sync"

	"github.com/lsmkv/lsmkv/iterator"
	"github.com/lsmkv/lsmkv/kv"
	"github.com/lsmkv/lsmkv/skiplist"
)

// Builder is the narrow capability FlushLast needs from an SST builder:
// structurally satisfied by *sst.Builder without importing the sst
// package here (memtable has no business knowing about on-disk layout).
type Builder interface {
	Add(key, value []byte, trancID uint64) error
}

// Memtable holds the active skip list and the frozen queue behind two
// independent locks. Lock acquisition order is always frozen before
// active, to avoid deadlock against a concurrent freeze (§4.4, §5).
type Memtable struct {
	activeLock sync.RWMutex
	frozenLock sync.RWMutex

	active     *skiplist.List
	activeSize int

	// frozen[0] is the most recently frozen list (front of the FIFO);
	// frozen[len-1] is the oldest, flushed first.
	frozen      []*skiplist.List
	frozenSizes []int

	maxLevel int
}

// New creates an empty memtable.
func New(maxLevel int) *Memtable {
	return &Memtable{
		active:   skiplist.New(maxLevel),
		maxLevel: maxLevel,
	}
}

// Put writes (key, value, trancID) under activeLock. A Remove is a Put
// with an empty value (a tombstone).
func (m *Memtable) Put(key, value []byte, trancID uint64) {
	m.activeLock.Lock()
	defer m.activeLock.Unlock()
	delta := m.active.Put(key, value, trancID)
	m.activeSize += delta
}

// Remove inserts a tombstone for key at trancID.
func (m *Memtable) Remove(key []byte, trancID uint64) {
	m.Put(key, nil, trancID)
}

// PutBatchEntry is one write in a PutBatch call.
type PutBatchEntry struct {
	Key, Value []byte
	TrancID    uint64
}

// PutBatch writes every entry while holding activeLock only once.
func (m *Memtable) PutBatch(entries []PutBatchEntry) {
	m.activeLock.Lock()
	defer m.activeLock.Unlock()
	for _, e := range entries {
		delta := m.active.Put(e.Key, e.Value, e.TrancID)
		m.activeSize += delta
	}
}

// Get reads under both locks (shared), consulting the active list then each
// frozen list newest-first, returning the first MVCC-visible record
// (possibly a tombstone) (§4.4).
func (m *Memtable) Get(key []byte, trancID uint64) (kv.Record, bool) {
	m.frozenLock.RLock()
	defer m.frozenLock.RUnlock()
	m.activeLock.RLock()
	defer m.activeLock.RUnlock()

	if rec, ok := m.active.Get(key, trancID); ok {
		return rec, true
	}
	for _, fl := range m.frozen {
		if rec, ok := fl.Get(key, trancID); ok {
			return rec, true
		}
	}
	return kv.Record{}, false
}

// Freeze pushes the active list to the front of the frozen queue and
// installs a fresh active list, atomically from the caller's perspective
// (§4.4).
func (m *Memtable) Freeze() {
	m.frozenLock.Lock()
	defer m.frozenLock.Unlock()
	m.activeLock.Lock()
	defer m.activeLock.Unlock()

	m.frozen = append([]*skiplist.List{m.active}, m.frozen...)
	m.frozenSizes = append([]int{m.activeSize}, m.frozenSizes...)

	m.active = skiplist.New(m.maxLevel)
	m.activeSize = 0
}

// FlushLast freezes the active list first if the frozen queue is empty,
// pops the oldest frozen list, and feeds its ordered triples into builder
// (§4.4).
func (m *Memtable) FlushLast(builder Builder) error {
	m.frozenLock.Lock()

	if len(m.frozen) == 0 {
		m.frozenLock.Unlock()
		m.Freeze()
		m.frozenLock.Lock()
	}
	defer m.frozenLock.Unlock()

	n := len(m.frozen)
	if n == 0 {
		return nil
	}

	oldest := m.frozen[n-1]
	m.frozen = m.frozen[:n-1]
	m.frozenSizes = m.frozenSizes[:n-1]

	for _, rec := range oldest.Flush() {
		if err := builder.Add(rec.Key, rec.Value, rec.TrancID); err != nil {
			return err
		}
	}

	return nil
}

// Size returns the total byte accounting: active size plus every frozen
// list's size (§4.4).
func (m *Memtable) Size() int {
	m.frozenLock.RLock()
	defer m.frozenLock.RUnlock()
	m.activeLock.RLock()
	defer m.activeLock.RUnlock()

	total := m.activeSize
	for _, s := range m.frozenSizes {
		total += s
	}
	return total
}

// FrozenCount reports how many frozen lists are queued.
func (m *Memtable) FrozenCount() int {
	m.frozenLock.RLock()
	defer m.frozenLock.RUnlock()
	return len(m.frozen)
}

// IterPredicate merges matching ranges from every list (active, then each
// frozen list newest-first) into a single heap iterator, tagging each
// source with its table index: 0 is active, 1.. is frozen rank (§4.4).
func (m *Memtable) IterPredicate(trancID uint64, predicate kv.Predicate) *iterator.HeapIterator {
	m.frozenLock.RLock()
	defer m.frozenLock.RUnlock()
	m.activeLock.RLock()
	defer m.activeLock.RUnlock()

	sources := make([]iterator.HeapSource, 0, 1+len(m.frozen))
	sources = append(sources, iterator.HeapSource{
		It: m.active.IterPredicate(predicate), Idx: 0, Level: 0,
	})
	for i, fl := range m.frozen {
		sources = append(sources, iterator.HeapSource{
			It: fl.IterPredicate(predicate), Idx: i + 1, Level: 0,
		})
	}

	return iterator.NewHeapIterator(sources, trancID)
}
