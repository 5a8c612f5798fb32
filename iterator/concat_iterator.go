package iterator

// ConcatIterator chains an ordered sequence of child iterators whose key
// ranges do not overlap (used for levels >= 1, §4.6). Advance rolls over
// to the next child on exhaustion.
type ConcatIterator struct {
	children []Iterator
	idx      int
}

// NewConcatIterator builds a concat iterator over children in order.
func NewConcatIterator(children []Iterator) *ConcatIterator {
	it := &ConcatIterator{children: children}
	it.skipExhausted()
	return it
}

func (it *ConcatIterator) skipExhausted() {
	for it.idx < len(it.children) && it.children[it.idx].End() {
		it.idx++
	}
}

func (it *ConcatIterator) End() bool { return it.idx >= len(it.children) }

func (it *ConcatIterator) Valid() bool { return !it.End() }

func (it *ConcatIterator) Next() {
	if it.End() {
		return
	}
	it.children[it.idx].Next()
	it.skipExhausted()
}

func (it *ConcatIterator) KeyValue() ([]byte, []byte) {
	if it.End() {
		return nil, nil
	}
	return it.children[it.idx].KeyValue()
}

func (it *ConcatIterator) TrancID() uint64 {
	if it.End() {
		return 0
	}
	return it.children[it.idx].TrancID()
}

func (it *ConcatIterator) Type() string { return "concat" }
