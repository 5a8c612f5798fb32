package iterator

import (
	"github.com/lsmkv/lsmkv/block"
	"github.com/lsmkv/lsmkv/kv"
	"github.com/lsmkv/lsmkv/sst"
)

// SSTIterator walks an SST's records in order by advancing a current
// block iterator and rolling over to the next block on exhaustion (§4.6).
type SSTIterator struct {
	s          *sst.SST
	blockIdx   int
	blockIter  *block.Iterator
	maxTrancID MaxTrancID
	predicate  kv.Predicate
}

// NewSSTIterator constructs an iterator starting at the first block.
func NewSSTIterator(s *sst.SST, maxTrancID MaxTrancID) (*SSTIterator, error) {
	it := &SSTIterator{s: s, maxTrancID: maxTrancID}
	if s.NumBlocks() == 0 {
		return it, nil
	}
	blk, err := s.ReadBlock(0)
	if err != nil {
		return nil, err
	}
	it.blockIter = block.NewIteratorAt(blk, 0)
	it.advanceToVisible()
	return it, nil
}

// NewSSTIteratorSeek constructs an iterator positioned at the first
// record whose key is >= key, using find_block_idx then a block-level seek.
func NewSSTIteratorSeek(s *sst.SST, key []byte, maxTrancID MaxTrancID) (*SSTIterator, error) {
	it := &SSTIterator{s: s, maxTrancID: maxTrancID}
	idx := s.FindBlockIdx(key)
	if idx < 0 {
		it.blockIdx = s.NumBlocks()
		return it, nil
	}
	blk, err := s.ReadBlock(idx)
	if err != nil {
		return nil, err
	}
	it.blockIdx = idx
	it.blockIter = block.NewIteratorSeek(blk, key)
	it.rollToNextNonEmptyBlock()
	it.advanceToVisible()
	return it, nil
}

// NewSSTIteratorPredicate positions an iterator at the first record
// whose key satisfies predicate(key) >= 0, bounded so that End() becomes
// true once the predicate range is exhausted rather than continuing
// into the rest of the SST (§4.6, §8 property 11).
func NewSSTIteratorPredicate(s *sst.SST, predicate kv.Predicate, maxTrancID MaxTrancID) (*SSTIterator, error) {
	it := &SSTIterator{s: s, maxTrancID: maxTrancID, predicate: predicate}

	n := s.NumBlocks()
	start := 0
	for start < n && predicate(s.BlockLastKey(start)) < 0 {
		start++
	}
	if start >= n {
		it.blockIdx = n
		return it, nil
	}

	blk, err := s.ReadBlock(start)
	if err != nil {
		return nil, err
	}
	it.blockIdx = start

	bstart, _ := blk.PredicateRange(predicate)
	if bstart < 0 {
		bstart = 0
	}
	it.blockIter = block.NewIteratorAt(blk, bstart)
	it.rollToNextNonEmptyBlock()
	it.advanceToVisible()
	return it, nil
}

func (it *SSTIterator) rollToNextNonEmptyBlock() {
	for it.blockIter != nil && it.blockIter.End() {
		it.blockIdx++
		if it.blockIdx >= it.s.NumBlocks() {
			it.blockIter = nil
			return
		}
		blk, err := it.s.ReadBlock(it.blockIdx)
		if err != nil {
			it.blockIter = nil
			return
		}
		it.blockIter = block.NewIteratorAt(blk, 0)
	}
}

func (it *SSTIterator) advanceToVisible() {
	for it.blockIter != nil {
		it.rollToNextNonEmptyBlock()
		if it.blockIter == nil {
			return
		}
		if it.maxTrancID == 0 || it.blockIter.TrancID() <= it.maxTrancID {
			return
		}
		it.blockIter.Next()
	}
}

// End is "block iterator absent OR past the last block" — §9 flags the
// source's inverted predicate here; this is the corrected form. When a
// predicate bound is set, End also becomes true once the current key
// falls outside the matching range.
func (it *SSTIterator) End() bool {
	if it.blockIter == nil || it.blockIter.End() {
		return true
	}
	if it.predicate != nil {
		k, _ := it.blockIter.KeyValue()
		if it.predicate(k) > 0 {
			return true
		}
	}
	return false
}

func (it *SSTIterator) Valid() bool { return !it.End() }

func (it *SSTIterator) Next() {
	if it.blockIter == nil {
		return
	}
	it.blockIter.Next()
	it.advanceToVisible()
}

func (it *SSTIterator) KeyValue() ([]byte, []byte) {
	if it.End() {
		return nil, nil
	}
	return it.blockIter.KeyValue()
}

func (it *SSTIterator) TrancID() uint64 {
	if it.End() {
		return 0
	}
	return it.blockIter.TrancID()
}

func (it *SSTIterator) Type() string { return "sst" }
