package iterator

// TwoMergeIterator fuses exactly two children, A at higher priority than
// B (§4.6). Used to fuse memtable output with SST output. When both are
// live and their keys are equal, B is advanced past A's key; A wins ties.
type TwoMergeIterator struct {
	a, b Iterator
}

// NewTwoMergeIterator builds a two-merge iterator and skips B past any key
// it shares with A before the first read, matching the "fuse on
// construction" behavior used elsewhere in the stack.
func NewTwoMergeIterator(a, b Iterator) *TwoMergeIterator {
	it := &TwoMergeIterator{a: a, b: b}
	it.skipBPastA()
	return it
}

func (it *TwoMergeIterator) skipBPastA() {
	for it.a.Valid() && it.b.Valid() {
		ak, _ := it.a.KeyValue()
		bk, _ := it.b.KeyValue()
		if compareBytes(ak, bk) == 0 {
			it.b.Next()
			continue
		}
		return
	}
}

// chooseA reports whether A is the current winner: true when A is live and
// either B is done or A.key < B.key.
func (it *TwoMergeIterator) chooseA() bool {
	if !it.a.Valid() {
		return false
	}
	if !it.b.Valid() {
		return true
	}
	ak, _ := it.a.KeyValue()
	bk, _ := it.b.KeyValue()
	return compareBytes(ak, bk) < 0
}

func (it *TwoMergeIterator) End() bool { return !it.a.Valid() && !it.b.Valid() }

func (it *TwoMergeIterator) Valid() bool { return !it.End() }

func (it *TwoMergeIterator) Next() {
	if it.chooseA() {
		it.a.Next()
	} else if it.b.Valid() {
		it.b.Next()
	}
	it.skipBPastA()
}

func (it *TwoMergeIterator) KeyValue() ([]byte, []byte) {
	if it.chooseA() {
		return it.a.KeyValue()
	}
	if it.b.Valid() {
		return it.b.KeyValue()
	}
	return nil, nil
}

func (it *TwoMergeIterator) TrancID() uint64 {
	if it.chooseA() {
		return it.a.TrancID()
	}
	if it.b.Valid() {
		return it.b.TrancID()
	}
	return 0
}

func (it *TwoMergeIterator) Type() string { return "two_merge" }
