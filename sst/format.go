// Package sst implements the persistent sorted-string-table format (§3,
// §4.5, §6): an immutable, on-disk, sorted run of blocks with a meta
// index, an optional bloom filter, and a fixed trailer.
package sst

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/lsmkv/lsmkv/errs"
)

// trailerSize is meta_offset(4) + bloom_offset(4) + min_tranc_id(8) +
// max_tranc_id(8).
const trailerSize = 4 + 4 + 8 + 8

// noBloomSentinel marks "this SST has no bloom section" in the trailer's
// bloom_offset field. A real offset always points well before the trailer,
// so bloomOffset+8 < file_size is true for it and false for the sentinel
// (§6's "detected via offsets").
const noBloomSentinel uint32 = 0xFFFFFFFF

func hasBloomSection(bloomOffset uint32, fileSize int64) bool {
	return uint64(bloomOffset)+8 < uint64(fileSize)
}

// metaEntry is one block's index record: its offset in the file, and the
// first/last key of the records it contains (§3, §6).
type metaEntry struct {
	offset   uint32
	firstKey []byte
	lastKey  []byte
}

func encodeMeta(entries []metaEntry) []byte {
	var buf []byte
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(entries)))
	buf = append(buf, hdr[:]...)

	for _, e := range entries {
		var off [4]byte
		binary.LittleEndian.PutUint32(off[:], e.offset)
		buf = append(buf, off[:]...)

		var fkl [2]byte
		binary.LittleEndian.PutUint16(fkl[:], uint16(len(e.firstKey)))
		buf = append(buf, fkl[:]...)
		buf = append(buf, e.firstKey...)

		var lkl [2]byte
		binary.LittleEndian.PutUint16(lkl[:], uint16(len(e.lastKey)))
		buf = append(buf, lkl[:]...)
		buf = append(buf, e.lastKey...)
	}

	hash := crc32.ChecksumIEEE(buf)
	var hb [4]byte
	binary.LittleEndian.PutUint32(hb[:], hash)
	buf = append(buf, hb[:]...)

	return buf
}

func decodeMeta(raw []byte) ([]metaEntry, error) {
	const op = "sst.decodeMeta"
	if len(raw) < 8 {
		return nil, errs.New(op, errs.KindCorruption)
	}

	payload := raw[:len(raw)-4]
	wantHash := binary.LittleEndian.Uint32(raw[len(raw)-4:])
	if crc32.ChecksumIEEE(payload) != wantHash {
		return nil, errs.New(op, errs.KindCorruption)
	}

	if len(payload) < 4 {
		return nil, errs.New(op, errs.KindCorruption)
	}
	numEntries := int(binary.LittleEndian.Uint32(payload[:4]))
	pos := 4

	entries := make([]metaEntry, 0, numEntries)
	for i := 0; i < numEntries; i++ {
		if pos+4+2 > len(payload) {
			return nil, errs.New(op, errs.KindCorruption)
		}
		offset := binary.LittleEndian.Uint32(payload[pos:])
		pos += 4
		fkLen := int(binary.LittleEndian.Uint16(payload[pos:]))
		pos += 2
		if pos+fkLen+2 > len(payload) {
			return nil, errs.New(op, errs.KindCorruption)
		}
		firstKey := payload[pos : pos+fkLen]
		pos += fkLen

		lkLen := int(binary.LittleEndian.Uint16(payload[pos:]))
		pos += 2
		if pos+lkLen > len(payload) {
			return nil, errs.New(op, errs.KindCorruption)
		}
		lastKey := payload[pos : pos+lkLen]
		pos += lkLen

		entries = append(entries, metaEntry{offset: offset, firstKey: firstKey, lastKey: lastKey})
	}

	return entries, nil
}

type trailer struct {
	metaOffset  uint32
	bloomOffset uint32
	minTrancID  uint64
	maxTrancID  uint64
}

func encodeTrailer(t trailer) []byte {
	buf := make([]byte, trailerSize)
	binary.LittleEndian.PutUint32(buf[0:4], t.metaOffset)
	binary.LittleEndian.PutUint32(buf[4:8], t.bloomOffset)
	binary.LittleEndian.PutUint64(buf[8:16], t.minTrancID)
	binary.LittleEndian.PutUint64(buf[16:24], t.maxTrancID)
	return buf
}

func decodeTrailer(raw []byte) (trailer, error) {
	const op = "sst.decodeTrailer"
	if len(raw) != trailerSize {
		return trailer{}, errs.New(op, errs.KindCorruption)
	}
	return trailer{
		metaOffset:  binary.LittleEndian.Uint32(raw[0:4]),
		bloomOffset: binary.LittleEndian.Uint32(raw[4:8]),
		minTrancID:  binary.LittleEndian.Uint64(raw[8:16]),
		maxTrancID:  binary.LittleEndian.Uint64(raw[16:24]),
	}, nil
}
