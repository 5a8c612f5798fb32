// Package block implements the smallest read unit of an SST: a contiguous,
// sorted run of records with a trailing offset index (§3, §4.1, §6).
package block

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/lsmkv/lsmkv/errs"
	"github.com/lsmkv/lsmkv/kv"
)

// DefaultCapacity is the soft target size (§6) for a sealed block.
const DefaultCapacity = 4 * 1024

// entryOverhead is the fixed per-entry framing cost: key_len(2) +
// value_len(2) + tranc_id(8).
const entryOverhead = 2 + 2 + 8

// Block is a sorted, length-prefixed run of records plus its offset vector.
// Immutable once sealed by Encode; Append builds it up to that point.
type Block struct {
	capacity int
	data     []byte
	offsets  []uint16
	records  []kv.Record // retained for in-memory callers (builder cohesion checks)
}

// New creates an empty block with the given soft capacity.
func New(capacity int) *Block {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Block{capacity: capacity}
}

// Size returns the current encoded data size (payload only, no offsets/count).
func (b *Block) Size() int { return len(b.data) }

// EstimatedEncodedSize returns the size Encode() would currently produce.
func (b *Block) EstimatedEncodedSize() int {
	return len(b.data) + len(b.offsets)*2 + 2
}

// Empty reports whether the block has no entries.
func (b *Block) Empty() bool { return len(b.offsets) == 0 }

// NumEntries returns the number of records appended so far.
func (b *Block) NumEntries() int { return len(b.offsets) }

func entrySize(key, value []byte) int {
	return len(key) + len(value) + entryOverhead
}

// Append encodes (key, value, trancID) at the tail of the block. When
// force is false, Append refuses (returning false, no mutation) if the
// addition would exceed capacity, except that an empty block always
// accepts its first entry. When force is true, the entry is always
// accepted — used to keep all versions of one key co-resident (§4.1, §4.5).
func (b *Block) Append(key, value []byte, trancID uint64, force bool) bool {
	size := entrySize(key, value)
	if !force && len(b.offsets) > 0 && len(b.data)+size > b.capacity {
		return false
	}

	b.offsets = append(b.offsets, uint16(len(b.data)))

	var hdr [4]byte
	binary.LittleEndian.PutUint16(hdr[0:2], uint16(len(key)))
	binary.LittleEndian.PutUint16(hdr[2:4], uint16(len(value)))
	b.data = append(b.data, hdr[0:2]...)
	b.data = append(b.data, key...)
	b.data = append(b.data, hdr[2:4]...)
	b.data = append(b.data, value...)

	var tid [8]byte
	binary.LittleEndian.PutUint64(tid[:], trancID)
	b.data = append(b.data, tid[:]...)

	b.records = append(b.records, kv.Record{Key: key, Value: value, TrancID: trancID})

	return true
}

// FirstKey returns the key of the first appended record, or nil if empty.
func (b *Block) FirstKey() []byte {
	if len(b.records) == 0 {
		return nil
	}
	return b.records[0].Key
}

// LastKey returns the key of the last appended record, or nil if empty.
func (b *Block) LastKey() []byte {
	if len(b.records) == 0 {
		return nil
	}
	return b.records[len(b.records)-1].Key
}

// Encode concatenates the data bytes, the offset vector (16-bit LE words),
// and the 16-bit entry count (§4.1, §6).
func (b *Block) Encode() []byte {
	out := make([]byte, 0, len(b.data)+len(b.offsets)*2+2)
	out = append(out, b.data...)
	for _, off := range b.offsets {
		var w [2]byte
		binary.LittleEndian.PutUint16(w[:], off)
		out = append(out, w[:]...)
	}
	var cnt [2]byte
	binary.LittleEndian.PutUint16(cnt[:], uint16(len(b.offsets)))
	out = append(out, cnt[:]...)
	return out
}

// Decode is the inverse of Encode. When withHash is true, the final 4 bytes
// of raw are a CRC32 checksum over the rest which must validate.
func Decode(raw []byte, withHash bool) (*Block, error) {
	const op = "block.Decode"

	payload := raw
	if withHash {
		if len(raw) < 4 {
			return nil, errs.New(op, errs.KindCorruption)
		}
		payload, raw = raw[:len(raw)-4], raw
		want := binary.LittleEndian.Uint32(raw[len(raw)-4:])
		got := crc32.ChecksumIEEE(payload)
		if got != want {
			return nil, errs.New(op, errs.KindCorruption)
		}
	}

	if len(payload) < 2 {
		return nil, errs.New(op, errs.KindCorruption)
	}

	count := int(binary.LittleEndian.Uint16(payload[len(payload)-2:]))
	if count == 0 {
		return &Block{data: nil, offsets: nil}, nil
	}

	offsetsStart := len(payload) - 2 - count*2
	if offsetsStart < 0 {
		return nil, errs.New(op, errs.KindCorruption)
	}

	offsets := make([]uint16, count)
	for i := 0; i < count; i++ {
		offsets[i] = binary.LittleEndian.Uint16(payload[offsetsStart+i*2:])
	}

	data := payload[:offsetsStart]

	blk := &Block{data: data, offsets: offsets}
	records := make([]kv.Record, 0, count)
	for i := 0; i < count; i++ {
		rec, _, err := blk.decodeEntryAt(int(offsets[i]))
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	blk.records = records

	return blk, nil
}

// decodeEntryAt decodes a single entry starting at byte offset off within
// b.data, returning the record and the offset just past it.
func (b *Block) decodeEntryAt(off int) (kv.Record, int, error) {
	const op = "block.decodeEntryAt"
	data := b.data
	if off+2 > len(data) {
		return kv.Record{}, 0, errs.New(op, errs.KindCorruption)
	}
	keyLen := int(binary.LittleEndian.Uint16(data[off:]))
	pos := off + 2
	if pos+keyLen+2 > len(data) {
		return kv.Record{}, 0, errs.New(op, errs.KindCorruption)
	}
	key := data[pos : pos+keyLen]
	pos += keyLen
	valLen := int(binary.LittleEndian.Uint16(data[pos:]))
	pos += 2
	if pos+valLen+8 > len(data) {
		return kv.Record{}, 0, errs.New(op, errs.KindCorruption)
	}
	value := data[pos : pos+valLen]
	pos += valLen
	trancID := binary.LittleEndian.Uint64(data[pos : pos+8])
	pos += 8

	return kv.Record{Key: key, Value: value, TrancID: trancID}, pos, nil
}

// At decodes and returns the record at offset-vector index i.
func (b *Block) At(i int) (kv.Record, error) {
	if i < 0 || i >= len(b.offsets) {
		return kv.Record{}, errs.New("block.At", errs.KindOutOfRange)
	}
	if b.records != nil {
		return b.records[i], nil
	}
	rec, _, err := b.decodeEntryAt(int(b.offsets[i]))
	return rec, err
}

// Count returns the number of records in the block.
func (b *Block) Count() int { return len(b.offsets) }

// BinarySearch locates the first record whose key equals key and whose
// tranc_id is the largest value <= trancID (or the largest available when
// trancID == 0). Returns (-1, false) when no visible version exists (§4.1).
func (b *Block) BinarySearch(key []byte, trancID uint64) (int, bool) {
	n := len(b.offsets)
	if n == 0 {
		return -1, false
	}

	lo, hi := 0, n
	for lo < hi {
		mid := (lo + hi) / 2
		rec, err := b.At(mid)
		if err != nil {
			return -1, false
		}
		cmp := compareBytes(rec.Key, key)
		if cmp < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo >= n {
		return -1, false
	}
	rec, err := b.At(lo)
	if err != nil || !bytesEqual(rec.Key, key) {
		return -1, false
	}

	// lo now lands on the first occurrence of key, the newest (largest)
	// tranc_id for that key (entries are key ASC, tranc_id DESC). Walk
	// forward past versions newer than trancID; the first visible one is
	// the answer, so no backward walk is needed.
	idx := lo
	for idx < n {
		rec, err := b.At(idx)
		if err != nil || !bytesEqual(rec.Key, key) {
			break
		}
		if rec.Visible(trancID) {
			return idx, true
		}
		idx++
	}
	return -1, false
}

// PredicateRange returns the half-open [start, end) index range of records
// whose key satisfies predicate (§4.1). Two binary searches locate the
// first and last matching index.
func (b *Block) PredicateRange(predicate func(key []byte) int) (start, end int) {
	n := len(b.offsets)
	lo, hi := 0, n
	for lo < hi {
		mid := (lo + hi) / 2
		rec, err := b.At(mid)
		if err != nil {
			return 0, 0
		}
		if predicate(rec.Key) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	start = lo

	lo, hi = start, n
	for lo < hi {
		mid := (lo + hi) / 2
		rec, err := b.At(mid)
		if err != nil {
			return start, start
		}
		if predicate(rec.Key) <= 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	end = lo

	return start, end
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

func bytesEqual(a, b []byte) bool { return compareBytes(a, b) == 0 }
