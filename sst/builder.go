package sst

import (
	"bytes"
	"hash/crc32"

	"github.com/google/uuid"

	"github.com/lsmkv/lsmkv/block"
	"github.com/lsmkv/lsmkv/bloomfilter"
	"github.com/lsmkv/lsmkv/cache"
	"github.com/lsmkv/lsmkv/errs"
	"github.com/lsmkv/lsmkv/fs"
)

// BuilderOptions configures a Builder's block capacity and bloom sizing.
type BuilderOptions struct {
	BlockCapacity           int
	BloomEnabled            bool
	BloomExpectedElements   uint64
	BloomFalsePositiveRate  float64
}

// DefaultBuilderOptions matches the tunables in §6.
func DefaultBuilderOptions() BuilderOptions {
	return BuilderOptions{
		BlockCapacity:          block.DefaultCapacity,
		BloomEnabled:           true,
		BloomExpectedElements:  4096,
		BloomFalsePositiveRate: 0.01,
	}
}

// Builder accumulates records into sealed blocks, a meta index, an
// optional bloom filter, and a running (min, max) tranc_id, then emits an
// SST file (§4.5).
type Builder struct {
	opts BuilderOptions

	pending *block.Block
	blob    []byte
	meta    []metaEntry
	bloom   *bloomfilter.Filter

	haveRange  bool
	minTrancID uint64
	maxTrancID uint64

	lastKey    []byte
	haveLastKey bool
}

// NewBuilder creates an empty builder.
func NewBuilder(opts BuilderOptions) *Builder {
	b := &Builder{opts: opts, pending: block.New(opts.BlockCapacity)}
	if opts.BloomEnabled {
		b.bloom = bloomfilter.New(opts.BloomExpectedElements, opts.BloomFalsePositiveRate)
	}
	return b
}

// Add appends (key, value, trancID). Same-key versions are forced into the
// current block so they never split across blocks (§4.1, §4.5). Otherwise
// a normal append is attempted; on refusal the current block is sealed and
// a new one started.
func (b *Builder) Add(key, value []byte, trancID uint64) error {
	sameKey := b.haveLastKey && bytes.Equal(b.lastKey, key)

	if sameKey {
		b.pending.Append(key, value, trancID, true)
	} else if !b.pending.Append(key, value, trancID, false) {
		b.finishBlock()
		b.pending = block.New(b.opts.BlockCapacity)
		b.pending.Append(key, value, trancID, true)
	}

	b.lastKey = append(b.lastKey[:0], key...)
	b.haveLastKey = true

	if b.bloom != nil {
		b.bloom.Add(key)
	}

	if !b.haveRange || trancID < b.minTrancID {
		b.minTrancID = trancID
	}
	if !b.haveRange || trancID > b.maxTrancID {
		b.maxTrancID = trancID
	}
	b.haveRange = true

	return nil
}

// finishBlock encodes the pending block, appends its CRC32 hash, records
// its meta entry, and advances the running blob size.
func (b *Builder) finishBlock() {
	if b.pending.Empty() {
		return
	}

	offset := uint32(len(b.blob))
	encoded := b.pending.Encode()
	hash := crc32.ChecksumIEEE(encoded)

	b.meta = append(b.meta, metaEntry{
		offset:   offset,
		firstKey: append([]byte(nil), b.pending.FirstKey()...),
		lastKey:  append([]byte(nil), b.pending.LastKey()...),
	})

	b.blob = append(b.blob, encoded...)
	var hb [4]byte
	putU32(hb[:], hash)
	b.blob = append(b.blob, hb[:]...)
}

func putU32(dst []byte, v uint32) {
	dst[0] = byte(v)
	dst[1] = byte(v >> 8)
	dst[2] = byte(v >> 16)
	dst[3] = byte(v >> 24)
}

// EstimatedSize returns the approximate size the resulting SST file would
// occupy if built right now, used by the compaction/flush roll-over logic.
func (b *Builder) EstimatedSize() int {
	return len(b.blob) + b.pending.EstimatedEncodedSize()
}

// Empty reports whether the builder has never had a record added.
func (b *Builder) Empty() bool {
	return len(b.blob) == 0 && b.pending.Empty()
}

// Build finishes any pending block, writes the meta section, the optional
// bloom filter, and the trailer, then atomically writes and fsyncs the
// whole blob, returning an opened SST handle.
func (b *Builder) Build(id uint32, path string, blockCache *cache.Cache) (*SST, error) {
	const op = "sst.Builder.Build"

	b.finishBlock()
	if len(b.meta) == 0 {
		return nil, errs.New(op, errs.KindEmptySst)
	}

	out := append([]byte(nil), b.blob...)

	metaOffset := uint32(len(out))
	out = append(out, encodeMeta(b.meta)...)

	bloomOffset := noBloomSentinel
	if b.bloom != nil {
		bloomOffset = uint32(len(out))
		out = append(out, b.bloom.Encode()...)
	}

	trailerBytes := encodeTrailer(trailer{
		metaOffset:  metaOffset,
		bloomOffset: bloomOffset,
		minTrancID:  b.minTrancID,
		maxTrancID:  b.maxTrancID,
	})
	out = append(out, trailerBytes...)

	if err := fs.WriteFileAtomic(path, out, uuid.NewString()); err != nil {
		return nil, errs.Wrap(op, errs.KindIO, err)
	}

	return Open(id, path, blockCache)
}
