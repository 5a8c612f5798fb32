// Package wal implements the write-ahead log and crash recovery (§3,
// §4.9, §6): an append-only directory of numbered segments recording
// every transactional operation so a crash can be replayed.
package wal

import (
	"encoding/binary"
	"io"

	"github.com/lsmkv/lsmkv/errs"
)

// OpType tags a WAL record the way §3's WAL segment entity describes.
type OpType byte

const (
	OpCreate OpType = iota
	OpPut
	OpDelete
	OpCommit
	OpRollback
)

func (t OpType) String() string {
	switch t {
	case OpCreate:
		return "create"
	case OpPut:
		return "put"
	case OpDelete:
		return "delete"
	case OpCommit:
		return "commit"
	case OpRollback:
		return "rollback"
	default:
		return "unknown"
	}
}

// Record is one length-prefixed WAL entry (§4.9): key fields are present
// only for Put/Delete, value only for Put.
type Record struct {
	TrancID uint64
	Op      OpType
	Key     []byte
	Value   []byte
}

// Encode writes record_len(u16) | tranc_id(u64) | op_type(u8) |
// [key_len(u16) key] | [value_len(u16) value] to w.
func (r Record) Encode(w io.Writer) error {
	const op = "wal.Record.Encode"

	payload := make([]byte, 0, 9+2+len(r.Key)+2+len(r.Value))

	var tid [8]byte
	binary.LittleEndian.PutUint64(tid[:], r.TrancID)
	payload = append(payload, tid[:]...)
	payload = append(payload, byte(r.Op))

	if r.Op == OpPut || r.Op == OpDelete {
		var kl [2]byte
		binary.LittleEndian.PutUint16(kl[:], uint16(len(r.Key)))
		payload = append(payload, kl[:]...)
		payload = append(payload, r.Key...)
	}
	if r.Op == OpPut {
		var vl [2]byte
		binary.LittleEndian.PutUint16(vl[:], uint16(len(r.Value)))
		payload = append(payload, vl[:]...)
		payload = append(payload, r.Value...)
	}

	var hdr [2]byte
	binary.LittleEndian.PutUint16(hdr[:], uint16(len(payload)))

	if _, err := w.Write(hdr[:]); err != nil {
		return errs.Wrap(op, errs.KindIO, err)
	}
	if _, err := w.Write(payload); err != nil {
		return errs.Wrap(op, errs.KindIO, err)
	}
	return nil
}

func cleanEOF(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return io.EOF
	}
	return err
}

// Decode reads one record from r. Returns io.EOF exactly when r is
// exhausted at a record boundary; any other truncation is a Corruption
// error (§7).
func Decode(r io.Reader) (*Record, error) {
	const op = "wal.Decode"

	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, errs.New(op, errs.KindCorruption)
		}
		return nil, cleanEOF(err)
	}
	recLen := binary.LittleEndian.Uint16(hdr[:])
	if recLen < 9 {
		return nil, errs.New(op, errs.KindCorruption)
	}

	payload := make([]byte, recLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, errs.New(op, errs.KindCorruption)
		}
		return nil, errs.Wrap(op, errs.KindIO, err)
	}

	var rec Record
	rec.TrancID = binary.LittleEndian.Uint64(payload[0:8])
	rec.Op = OpType(payload[8])
	pos := 9

	if rec.Op == OpPut || rec.Op == OpDelete {
		if pos+2 > len(payload) {
			return nil, errs.New(op, errs.KindCorruption)
		}
		keyLen := int(binary.LittleEndian.Uint16(payload[pos:]))
		pos += 2
		if pos+keyLen > len(payload) {
			return nil, errs.New(op, errs.KindCorruption)
		}
		rec.Key = append([]byte(nil), payload[pos:pos+keyLen]...)
		pos += keyLen
	}

	if rec.Op == OpPut {
		if pos+2 > len(payload) {
			return nil, errs.New(op, errs.KindCorruption)
		}
		valLen := int(binary.LittleEndian.Uint16(payload[pos:]))
		pos += 2
		if pos+valLen > len(payload) {
			return nil, errs.New(op, errs.KindCorruption)
		}
		rec.Value = append([]byte(nil), payload[pos:pos+valLen]...)
		pos += valLen
	}

	return &rec, nil
}
