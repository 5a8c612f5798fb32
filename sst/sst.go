package sst

import (
	"bytes"

	"github.com/lsmkv/lsmkv/block"
	"github.com/lsmkv/lsmkv/bloomfilter"
	"github.com/lsmkv/lsmkv/cache"
	"github.com/lsmkv/lsmkv/errs"
	"github.com/lsmkv/lsmkv/fs"
	"github.com/lsmkv/lsmkv/kv"
)

// SST is an open handle to an immutable on-disk sorted-string table.
type SST struct {
	ID uint32

	file  *fs.File
	cache *cache.Cache

	meta  []metaEntry
	bloom *bloomfilter.Filter

	dataEnd    uint32
	minTrancID uint64
	maxTrancID uint64
}

// Open reads the trailer, loads and validates the meta region, and loads
// the bloom filter when present (§4.5).
func Open(id uint32, path string, blockCache *cache.Cache) (*SST, error) {
	const op = "sst.Open"

	f, err := fs.OpenExisting(path)
	if err != nil {
		return nil, err
	}

	size, err := f.Size()
	if err != nil {
		f.Close()
		return nil, err
	}
	if size < trailerSize {
		f.Close()
		return nil, errs.New(op, errs.KindCorruption)
	}

	trailerBuf := make([]byte, trailerSize)
	if err := f.ReadAt(trailerBuf, size-trailerSize); err != nil {
		f.Close()
		return nil, err
	}
	tr, err := decodeTrailer(trailerBuf)
	if err != nil {
		f.Close()
		return nil, err
	}

	metaEnd := size - trailerSize
	if tr.bloomOffset != noBloomSentinel && hasBloomSection(tr.bloomOffset, size) {
		metaEnd = int64(tr.bloomOffset)
	}
	if int64(tr.metaOffset) > metaEnd {
		f.Close()
		return nil, errs.New(op, errs.KindCorruption)
	}
	metaBuf := make([]byte, metaEnd-int64(tr.metaOffset))
	if err := f.ReadAt(metaBuf, int64(tr.metaOffset)); err != nil {
		f.Close()
		return nil, err
	}
	meta, err := decodeMeta(metaBuf)
	if err != nil {
		f.Close()
		return nil, err
	}

	var bf *bloomfilter.Filter
	if hasBloomSection(tr.bloomOffset, size) {
		bloomEnd := size - trailerSize
		bloomBuf := make([]byte, bloomEnd-int64(tr.bloomOffset))
		if err := f.ReadAt(bloomBuf, int64(tr.bloomOffset)); err != nil {
			f.Close()
			return nil, err
		}
		bf, err = bloomfilter.Decode(bloomBuf)
		if err != nil {
			f.Close()
			return nil, err
		}
	}

	return &SST{
		ID:         id,
		file:       f,
		cache:      blockCache,
		meta:       meta,
		bloom:      bf,
		dataEnd:    tr.metaOffset,
		minTrancID: tr.minTrancID,
		maxTrancID: tr.maxTrancID,
	}, nil
}

// Close releases the underlying file handle.
func (s *SST) Close() error { return s.file.Close() }

// Path returns the SST's backing file path.
func (s *SST) Path() string { return s.file.Path() }

// FirstKey and LastKey return the SST's overall key range.
func (s *SST) FirstKey() []byte {
	if len(s.meta) == 0 {
		return nil
	}
	return s.meta[0].firstKey
}

func (s *SST) LastKey() []byte {
	if len(s.meta) == 0 {
		return nil
	}
	return s.meta[len(s.meta)-1].lastKey
}

// MinTrancID and MaxTrancID bracket every version this SST contains.
func (s *SST) MinTrancID() uint64 { return s.minTrancID }
func (s *SST) MaxTrancID() uint64 { return s.maxTrancID }

// NumBlocks returns the number of data blocks in this SST.
func (s *SST) NumBlocks() int { return len(s.meta) }

// BlockFirstKey and BlockLastKey return block i's key range without
// reading the block itself, from the meta section loaded at Open time.
func (s *SST) BlockFirstKey(i int) []byte { return s.meta[i].firstKey }
func (s *SST) BlockLastKey(i int) []byte  { return s.meta[i].lastKey }

// FindBlockIdx binary-searches the meta entries for the first block whose
// last_key >= key. Returns -1 only when key is greater than every block's
// last_key; a key in a gap between blocks yields the following block.
func (s *SST) FindBlockIdx(key []byte) int {
	lo, hi := 0, len(s.meta)
	for lo < hi {
		mid := (lo + hi) / 2
		if bytes.Compare(s.meta[mid].lastKey, key) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo >= len(s.meta) {
		return -1
	}
	// lo is the first block whose last_key >= key; it is the only
	// candidate that could bracket key, whether or not key actually falls
	// in a gap between blocks. Callers must still verify first_key <= key.
	return lo
}

// ReadBlock loads block i, through the shared block cache, without holding
// any other lock while it may block on the cache mutex (§5).
func (s *SST) ReadBlock(i int) (*block.Block, error) {
	const op = "sst.ReadBlock"
	if i < 0 || i >= len(s.meta) {
		return nil, errs.New(op, errs.KindOutOfRange)
	}

	if s.cache != nil {
		if v, ok := s.cache.Get(cache.Key{SSTID: s.ID, BlockIdx: i}); ok {
			return v.(*block.Block), nil
		}
	}

	start := int64(s.meta[i].offset)
	var end int64
	if i+1 < len(s.meta) {
		end = int64(s.meta[i+1].offset)
	} else {
		end = int64(s.dataEnd)
	}

	raw := make([]byte, end-start)
	if err := s.file.ReadAt(raw, start); err != nil {
		return nil, err
	}

	blk, err := block.Decode(raw, true)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.Put(cache.Key{SSTID: s.ID, BlockIdx: i}, blk)
	}

	return blk, nil
}

// Get performs a point lookup: quick-reject via bloom, binary search the
// meta entries for the bracketing block, then delegate to the block's
// own MVCC binary search (§4.5).
func (s *SST) Get(key []byte, trancID uint64) (kv.Record, bool, error) {
	if s.bloom != nil && !s.bloom.MayContain(key) {
		return kv.Record{}, false, nil
	}

	idx := s.FindBlockIdx(key)
	if idx < 0 {
		return kv.Record{}, false, nil
	}
	if bytes.Compare(key, s.meta[idx].firstKey) < 0 || bytes.Compare(key, s.meta[idx].lastKey) > 0 {
		return kv.Record{}, false, nil
	}

	blk, err := s.ReadBlock(idx)
	if err != nil {
		return kv.Record{}, false, err
	}

	pos, ok := blk.BinarySearch(key, trancID)
	if !ok {
		return kv.Record{}, false, nil
	}
	rec, err := blk.At(pos)
	if err != nil {
		return kv.Record{}, false, err
	}
	return rec, true, nil
}
