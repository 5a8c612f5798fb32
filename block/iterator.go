package block

// Iterator walks a Block's records in order. Construction accepts either a
// start index or a seek key (§4.6).
type Iterator struct {
	b   *Block
	idx int
}

// NewIteratorAt constructs an iterator starting at offset-vector index idx.
func NewIteratorAt(b *Block, idx int) *Iterator {
	return &Iterator{b: b, idx: idx}
}

// NewIteratorSeek constructs an iterator positioned at the first record
// whose key is >= key (or at End() if none exists).
func NewIteratorSeek(b *Block, key []byte) *Iterator {
	n := b.Count()
	lo, hi := 0, n
	for lo < hi {
		mid := (lo + hi) / 2
		rec, err := b.At(mid)
		if err != nil {
			return &Iterator{b: b, idx: n}
		}
		if compareBytes(rec.Key, key) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return &Iterator{b: b, idx: lo}
}

// Valid reports whether the iterator currently points at a record.
func (it *Iterator) Valid() bool { return it.idx >= 0 && it.idx < it.b.Count() }

// End reports whether the iterator has advanced past the last record.
func (it *Iterator) End() bool { return !it.Valid() }

// Next advances the iterator by one record.
func (it *Iterator) Next() { it.idx++ }

// KeyValue returns the current record's key and value.
func (it *Iterator) KeyValue() ([]byte, []byte) {
	if !it.Valid() {
		return nil, nil
	}
	rec, err := it.b.At(it.idx)
	if err != nil {
		return nil, nil
	}
	return rec.Key, rec.Value
}

// TrancID returns the current record's transaction id.
func (it *Iterator) TrancID() uint64 {
	if !it.Valid() {
		return 0
	}
	rec, err := it.b.At(it.idx)
	if err != nil {
		return 0
	}
	return rec.TrancID
}

// Type identifies this iterator's concrete kind.
func (it *Iterator) Type() string { return "block" }

// Index returns the current offset-vector index (used by SST iterators to
// resume across block boundaries).
func (it *Iterator) Index() int { return it.idx }
