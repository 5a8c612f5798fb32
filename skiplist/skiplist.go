// Package skiplist implements the probabilistic ordered index behind the
// memtable (§4.3): a classic skip list generalized to MVCC duplicate keys,
// ordered (key ASC, tranc_id DESC). Modifications are externally
// serialized by the memtable; this package does no locking of its own.
package skiplist

import (
	"bytes"
	"math/rand"

	"github.com/lsmkv/lsmkv/kv"
)

// DefaultMaxLevel and branching factor match §4.3 (50% per level).
const DefaultMaxLevel = 16

// node's backward pointers are non-owning: they exist purely to let an
// iterator extend left over an equal-key or predicate-matching run, and
// never keep a predecessor alive on their own (§9's design note on weak
// back-references). Go's GC makes the "non-owning" distinction moot for
// memory safety, but the invariant still holds: nothing walks backward[]
// to decide ownership or lifetime, only to move a cursor.
type node struct {
	key     []byte
	value   []byte
	trancID uint64
	forward []*node
	backward []*node
}

// List is a skip list with MVCC-ordered duplicate keys.
type List struct {
	head     *node
	maxLevel int
	level    int // highest level currently in use
}

// New creates an empty skip list with the given maximum level (0 uses
// DefaultMaxLevel).
func New(maxLevel int) *List {
	if maxLevel <= 0 {
		maxLevel = DefaultMaxLevel
	}
	return &List{
		head:     &node{forward: make([]*node, maxLevel+1), backward: make([]*node, maxLevel+1)},
		maxLevel: maxLevel,
		level:    0,
	}
}

func randomLevel(maxLevel int) int {
	level := 0
	for rand.Int31()&1 == 0 && level < maxLevel {
		level++
	}
	return level
}

// less orders nodes (key ASC, tranc_id DESC), matching kv.Less.
func less(key []byte, trancID uint64, n *node) bool {
	c := bytes.Compare(key, n.key)
	if c != 0 {
		return c < 0
	}
	return trancID > n.trancID
}

func lessNode(a *node, bKey []byte, bTrancID uint64) bool {
	c := bytes.Compare(a.key, bKey)
	if c != 0 {
		return c < 0
	}
	return a.trancID > bTrancID
}

// Put inserts (key, value, trancID). When trancID is 0, an equal-key put
// overwrites in place (MVCC disabled); otherwise a new version is inserted
// in its correct (key ASC, tranc_id DESC) slot, unless that exact
// (key, trancID) pair already exists, which is overwritten in place.
// Returns the byte delta the
// memtable should add to its size accounting: len(key)+len(value) for a
// fresh record, or len(value)-len(oldValue) for an in-place overwrite.
func (l *List) Put(key, value []byte, trancID uint64) int {
	update := make([]*node, l.maxLevel+1)
	x := l.head

	for lvl := l.level; lvl >= 0; lvl-- {
		for x.forward[lvl] != nil && lessNode(x.forward[lvl], key, trancID) {
			x = x.forward[lvl]
		}
		update[lvl] = x
	}

	next := x.forward[0]

	if trancID == 0 && next != nil && bytes.Equal(next.key, key) {
		delta := len(value) - len(next.value)
		next.value = value
		return delta
	}

	if next != nil && bytes.Equal(next.key, key) && next.trancID == trancID {
		delta := len(value) - len(next.value)
		next.value = value
		return delta
	}

	newLevel := randomLevel(l.maxLevel)
	if newLevel > l.level {
		for lvl := l.level + 1; lvl <= newLevel; lvl++ {
			update[lvl] = l.head
		}
		l.level = newLevel
	}

	n := &node{
		key:      append([]byte(nil), key...),
		value:    append([]byte(nil), value...),
		trancID:  trancID,
		forward:  make([]*node, newLevel+1),
		backward: make([]*node, newLevel+1),
	}

	for lvl := 0; lvl <= newLevel; lvl++ {
		n.forward[lvl] = update[lvl].forward[lvl]
		if n.forward[lvl] != nil {
			n.forward[lvl].backward[lvl] = n
		}
		update[lvl].forward[lvl] = n
		n.backward[lvl] = update[lvl]
	}

	return len(key) + len(value)
}

// Get locates the first node with matching key; if trancID is 0 it returns
// that node directly (most recent version). Otherwise it advances over
// equal-key successors whose tranc_id exceeds the visible bound, stopping
// at the first visible one (§4.3).
func (l *List) Get(key []byte, trancID uint64) (kv.Record, bool) {
	x := l.head
	for lvl := l.level; lvl >= 0; lvl-- {
		for x.forward[lvl] != nil && bytes.Compare(x.forward[lvl].key, key) < 0 {
			x = x.forward[lvl]
		}
	}
	x = x.forward[0]

	for x != nil && bytes.Equal(x.key, key) {
		if trancID == 0 || x.trancID <= trancID {
			return kv.Record{Key: x.key, Value: x.value, TrancID: x.trancID}, true
		}
		x = x.forward[0]
	}
	return kv.Record{}, false
}

// Len returns the number of nodes (distinct (key, tranc_id) versions).
func (l *List) Len() int {
	n := 0
	for x := l.head.forward[0]; x != nil; x = x.forward[0] {
		n++
	}
	return n
}

// Flush produces the in-order sequence of records for SST construction.
func (l *List) Flush() []kv.Record {
	out := make([]kv.Record, 0, l.Len())
	for x := l.head.forward[0]; x != nil; x = x.forward[0] {
		out = append(out, kv.Record{Key: x.key, Value: x.value, TrancID: x.trancID})
	}
	return out
}

// Iterator walks a contiguous run of nodes produced by IterPredicate, or
// the full list when constructed via All.
type Iterator struct {
	cur *node
	end *node // exclusive sentinel; nil means "walk to the end of the list"
}

// All returns an iterator over every record in the list.
func (l *List) All() *Iterator {
	return &Iterator{cur: l.head.forward[0]}
}

// IterPredicate returns a half-open iterator over the contiguous run of
// keys for which predicate returns 0 (§4.3): forward pointers at high
// levels locate the first match, backward pointers extend left over the
// matching run, forward pointers extend right to find the exclusive end.
func (l *List) IterPredicate(predicate kv.Predicate) *Iterator {
	x := l.head
	for lvl := l.level; lvl >= 0; lvl-- {
		for x.forward[lvl] != nil && predicate(x.forward[lvl].key) < 0 {
			x = x.forward[lvl]
		}
	}
	first := x.forward[0]
	if first == nil || predicate(first.key) != 0 {
		// no match in this direction; fall through to scanning forward in
		// case the landing spot skipped past a match on a low level only.
		for first != nil && predicate(first.key) < 0 {
			first = first.forward[0]
		}
		if first == nil || predicate(first.key) != 0 {
			return &Iterator{cur: nil, end: nil}
		}
	}

	start := first
	for start.backward[0] != nil && start.backward[0] != l.head && predicate(start.backward[0].key) == 0 {
		start = start.backward[0]
	}

	end := first
	for end != nil && predicate(end.key) == 0 {
		end = end.forward[0]
	}

	return &Iterator{cur: start, end: end}
}

// Valid reports whether the iterator currently points at a record.
func (it *Iterator) Valid() bool { return it.cur != nil && it.cur != it.end }

// End reports whether the iterator is exhausted.
func (it *Iterator) End() bool { return !it.Valid() }

// Next advances the iterator.
func (it *Iterator) Next() {
	if it.cur != nil {
		it.cur = it.cur.forward[0]
	}
}

// KeyValue returns the current record's key and value.
func (it *Iterator) KeyValue() ([]byte, []byte) {
	if !it.Valid() {
		return nil, nil
	}
	return it.cur.key, it.cur.value
}

// TrancID returns the current record's transaction id.
func (it *Iterator) TrancID() uint64 {
	if !it.Valid() {
		return 0
	}
	return it.cur.trancID
}

// Type identifies this iterator's concrete kind for the iterator stack's
// tagged dispatch (§9's "sum type over a finite variant set").
func (it *Iterator) Type() string { return "skiplist" }
