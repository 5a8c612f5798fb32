// Package lsmkv is the embedded MVCC LSM key-value engine's public
// entry point: open a data directory, then begin transactions against
// it at whichever isolation level a caller needs (§6).
package lsmkv

import (
	"io"
	"sort"

	"github.com/lsmkv/lsmkv/logging"
	"github.com/lsmkv/lsmkv/lsm"
	"github.com/lsmkv/lsmkv/txn"
	"github.com/lsmkv/lsmkv/wal"
)

var log = logging.WithComponent("lsmkv")

// Lsm is the open handle returned by Open: the leveled engine, the WAL,
// and the transaction manager wired together (§6 public API surface).
type Lsm struct {
	engine *lsm.Engine
	wal    *wal.WAL
	txns   *txn.Manager
}

// Open opens (or creates) dir as an lsmkv data directory: it replays any
// committed-but-not-yet-flushed WAL records left from a prior crash,
// then resets the WAL so recovery never replays twice (§4.9).
func Open(dir string, opts ...Option) (*Lsm, error) {
	o := DefaultOptions().apply(opts...)

	logging.Init(logging.Config{Level: o.LogLevel, JSONOutput: o.LogJSON, Output: o.LogOutput})

	engine, err := lsm.Open(dir, o.Engine)
	if err != nil {
		return nil, err
	}

	w, err := wal.Open(dir, o.WALBufferSize, o.WALSegmentLimit)
	if err != nil {
		return nil, err
	}

	txns, err := txn.Open(dir, engine, w)
	if err != nil {
		return nil, err
	}
	engine.SetFlushHook(func(maxTrancID uint64) {
		if err := txns.AdvanceFlushed(maxTrancID); err != nil {
			log.Error().Err(err).Msg("failed to advance max flushed tranc id")
		}
	})

	if err := recoverWAL(dir, engine, txns, w); err != nil {
		return nil, err
	}

	return &Lsm{engine: engine, wal: w, txns: txns}, nil
}

// recoverWAL replays every committed transaction whose writes never made
// it into a flushed SST, in tranc_id order, then resets the WAL (§4.9).
func recoverWAL(dir string, engine *lsm.Engine, txns *txn.Manager, w *wal.WAL) error {
	buckets, err := wal.Recover(dir, txns.MaxFlushedTrancID())
	if err != nil {
		return err
	}
	committed := wal.CommittedTransactions(buckets)

	ids := make([]uint64, 0, len(committed))
	for id := range committed {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		entries := make([]lsm.PutBatchEntry, 0, len(committed[id]))
		for _, rec := range committed[id] {
			switch rec.Op {
			case wal.OpPut:
				entries = append(entries, lsm.PutBatchEntry{Key: rec.Key, Value: rec.Value, TrancID: rec.TrancID})
			case wal.OpDelete:
				entries = append(entries, lsm.PutBatchEntry{Key: rec.Key, TrancID: rec.TrancID})
			}
		}
		if len(entries) == 0 {
			continue
		}
		if err := engine.PutBatch(entries); err != nil {
			return err
		}
	}

	return w.Reset()
}

// BeginTransaction starts a new transaction at the given isolation level
// (§4.8).
func (l *Lsm) BeginTransaction(level txn.IsolationLevel) (*txn.Context, error) {
	return l.txns.NewTransaction(level)
}

// Put writes key=value outside of any transaction, at tranc_id 0 (always
// visible, never subject to MVCC filtering).
func (l *Lsm) Put(key, value []byte) error {
	return l.engine.Put(key, value, 0)
}

// Remove tombstones key outside of any transaction.
func (l *Lsm) Remove(key []byte) error {
	return l.engine.Remove(key, 0)
}

// Get reads the latest visible value for key outside of any transaction.
func (l *Lsm) Get(key []byte) ([]byte, bool, error) {
	rec, ok, err := l.engine.Get(key, 0)
	if err != nil || !ok {
		return nil, false, err
	}
	return rec.Value, true, nil
}

// Clear discards every key in the engine.
func (l *Lsm) Clear() error {
	return l.engine.Clear()
}

// Close flushes the memtable, closes every SST, and closes the WAL.
func (l *Lsm) Close() error {
	if err := l.engine.Close(); err != nil {
		return err
	}
	return l.wal.Close()
}

var _ io.Closer = (*Lsm)(nil)
