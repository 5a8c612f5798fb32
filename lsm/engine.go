package lsm

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"

	"github.com/lsmkv/lsmkv/cache"
	"github.com/lsmkv/lsmkv/errs"
	"github.com/lsmkv/lsmkv/fs"
	"github.com/lsmkv/lsmkv/iterator"
	"github.com/lsmkv/lsmkv/kv"
	"github.com/lsmkv/lsmkv/logging"
	"github.com/lsmkv/lsmkv/memtable"
	"github.com/lsmkv/lsmkv/skiplist"
	"github.com/lsmkv/lsmkv/sst"
)

var log = logging.WithComponent("lsm")

var sstFilePattern = regexp.MustCompile(`^sst_(\d{4,})$`)

// Engine is the core LSM store (§4.7): one memtable plus a leveled set
// of immutable SSTs, behind a single reader-writer lock over the SST
// map and level index (§5).
type Engine struct {
	mu sync.RWMutex

	dir  string
	opts Options

	memtable *memtable.Memtable
	cache    *cache.Cache

	ssts   map[uint32]*sstHandle
	levels *levels

	nextID uint32

	flushHook func(maxTrancID uint64)
}

// SetFlushHook installs a callback invoked with the highest tranc_id
// present in each SST Flush produces, so a caller tracking a separate
// max_flushed_tranc_id watermark (the transaction manager) can advance
// it once those writes are durable on disk (§4.8, §4.9).
func (e *Engine) SetFlushHook(fn func(maxTrancID uint64)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.flushHook = fn
}

func sstPath(dir string, id uint32) string {
	return filepath.Join(dir, fmt.Sprintf("sst_%04d", id))
}

// Open ensures dir exists, enumerates every "sst_<id>" file, opens it,
// and registers it at the level recorded in the levels manifest (§4.7).
func Open(dir string, opts Options) (*Engine, error) {
	const op = "lsm.Open"

	if err := fs.EnsureDir(dir); err != nil {
		return nil, err
	}

	e := &Engine{
		dir:      dir,
		opts:     opts,
		memtable: memtable.New(skiplist.DefaultMaxLevel),
		cache:    cache.New(opts.CacheCapacity, opts.CacheK),
		ssts:     make(map[uint32]*sstHandle),
		levels:   newLevels(),
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errs.Wrap(op, errs.KindIO, err)
	}

	levelOf, err := readLevelsManifest(dir)
	if err != nil {
		return nil, err
	}
	assigned := make(map[uint32]int)
	for level, ids := range levelOf {
		for _, id := range ids {
			assigned[id] = level
		}
	}

	var maxID uint32
	var haveAny bool
	for _, ent := range entries {
		if !ent.Type().IsRegular() {
			continue
		}
		m := sstFilePattern.FindStringSubmatch(ent.Name())
		if len(m) != 2 {
			continue
		}
		var id uint32
		if _, err := fmt.Sscanf(m[1], "%d", &id); err != nil {
			continue
		}

		s, err := sst.Open(id, filepath.Join(dir, ent.Name()), e.cache)
		if err != nil {
			return nil, err
		}

		level, ok := assigned[id]
		if !ok {
			level = 0
		}
		e.ssts[id] = &sstHandle{level: level, sst: s}
		e.levels.set(level, append(e.levels.get(level), id))

		if !haveAny || id > maxID {
			maxID = id
			haveAny = true
		}
	}

	for level, ids := range e.levels.ids {
		ids := append([]uint32(nil), ids...)
		if level == 0 {
			sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })
		} else {
			sort.Slice(ids, func(i, j int) bool {
				return bytes.Compare(e.ssts[ids[i]].sst.FirstKey(), e.ssts[ids[j]].sst.FirstKey()) < 0
			})
		}
		e.levels.set(level, ids)
	}

	if haveAny {
		e.nextID = maxID + 1
	}

	log.Info().Str("dir", dir).Int("ssts", len(e.ssts)).Msg("lsm engine opened")
	return e, nil
}

// Put delegates to the memtable and triggers a flush once its size
// reaches MemLimit (§4.7).
func (e *Engine) Put(key, value []byte, trancID uint64) error {
	e.memtable.Put(key, value, trancID)
	if e.memtable.Size() >= e.opts.MemLimit {
		return e.Flush()
	}
	return nil
}

// Remove inserts a tombstone.
func (e *Engine) Remove(key []byte, trancID uint64) error {
	return e.Put(key, nil, trancID)
}

// PutBatchEntry is one write in a PutBatch/RemoveBatch call.
type PutBatchEntry struct {
	Key, Value []byte
	TrancID    uint64
}

// PutBatch writes every entry under a single memtable lock acquisition,
// then checks the flush threshold once.
func (e *Engine) PutBatch(entries []PutBatchEntry) error {
	batch := make([]memtable.PutBatchEntry, len(entries))
	for i, en := range entries {
		batch[i] = memtable.PutBatchEntry{Key: en.Key, Value: en.Value, TrancID: en.TrancID}
	}
	e.memtable.PutBatch(batch)
	if e.memtable.Size() >= e.opts.MemLimit {
		return e.Flush()
	}
	return nil
}

// RemoveBatch tombstones every key in keys at trancID.
func (e *Engine) RemoveBatch(keys [][]byte, trancID uint64) error {
	entries := make([]PutBatchEntry, len(keys))
	for i, k := range keys {
		entries[i] = PutBatchEntry{Key: k, TrancID: trancID}
	}
	return e.PutBatch(entries)
}

// Get resolves a point lookup: memtable, then L0 newest-first, then
// L1+ via binary search over each level's disjoint SSTs (§4.7).
func (e *Engine) Get(key []byte, trancID uint64) (kv.Record, bool, error) {
	if rec, ok := e.memtable.Get(key, trancID); ok {
		return visibleOrNotFound(rec)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	rec, ok, err := e.getFromSSTsLocked(key, trancID)
	if err != nil || !ok {
		return kv.Record{}, false, err
	}
	return visibleOrNotFound(rec)
}

// getFromSSTsLocked searches L0 newest-first then L1+ by binary search,
// assuming the caller already holds at least a read lock on e.mu.
func (e *Engine) getFromSSTsLocked(key []byte, trancID uint64) (kv.Record, bool, error) {
	for _, id := range e.levels.get(0) {
		h := e.ssts[id]
		rec, ok, err := h.sst.Get(key, trancID)
		if err != nil {
			return kv.Record{}, false, err
		}
		if ok {
			return rec, true, nil
		}
	}

	maxLevel := e.levels.maxLevel()
	for level := 1; level <= maxLevel; level++ {
		ids := e.levels.get(level)
		idx := sort.Search(len(ids), func(i int) bool {
			return bytes.Compare(e.ssts[ids[i]].sst.LastKey(), key) >= 0
		})
		if idx >= len(ids) {
			continue
		}
		h := e.ssts[ids[idx]]
		if bytes.Compare(key, h.sst.FirstKey()) < 0 {
			continue
		}
		rec, ok, err := h.sst.Get(key, trancID)
		if err != nil {
			return kv.Record{}, false, err
		}
		if ok {
			return rec, true, nil
		}
	}

	return kv.Record{}, false, nil
}

// LatestVersion returns the newest record for key with tranc_id <= T
// (T=0 meaning unlimited), without collapsing tombstones to "not found".
// The transaction manager's commit-time conflict check does not call it;
// that check runs inside CommitWrites.
func (e *Engine) LatestVersion(key []byte, trancID uint64) (kv.Record, bool, error) {
	if rec, ok := e.memtable.Get(key, trancID); ok {
		return rec, true, nil
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.getFromSSTsLocked(key, trancID)
}

// CommitWrites performs a transaction's commit-time conflict check and,
// if clear, applies its staged writes, both under one exclusive lock so
// no other commit can land between the check and the apply (§4.8, §5).
// conflictKeys is checked against the absolute latest version of each
// key (memtable first, then SSTs); a version with tranc_id >
// conflictAfter for any of them is a conflict.
func (e *Engine) CommitWrites(writes []PutBatchEntry, conflictKeys [][]byte, conflictAfter uint64) (conflict bool, err error) {
	e.mu.Lock()

	for _, key := range conflictKeys {
		if rec, ok := e.memtable.Get(key, 0); ok {
			if rec.TrancID > conflictAfter {
				e.mu.Unlock()
				return true, nil
			}
			continue
		}
		rec, ok, err := e.getFromSSTsLocked(key, 0)
		if err != nil {
			e.mu.Unlock()
			return false, err
		}
		if ok && rec.TrancID > conflictAfter {
			e.mu.Unlock()
			return true, nil
		}
	}

	for _, w := range writes {
		e.memtable.Put(w.Key, w.Value, w.TrancID)
	}
	needsFlush := e.memtable.Size() >= e.opts.MemLimit
	e.mu.Unlock()

	if needsFlush {
		if err := e.Flush(); err != nil {
			return false, err
		}
	}
	return false, nil
}

func visibleOrNotFound(rec kv.Record) (kv.Record, bool, error) {
	if rec.IsTombstone() {
		return kv.Record{}, false, nil
	}
	return rec, true, nil
}

// Clear discards the active memtable and every registered SST, resetting
// the engine to an empty data directory. Not specified further than its
// signature in §6; implemented as a full truncate since that is the only
// sense of "clear" consistent with put/remove/get's key-value semantics.
func (e *Engine) Clear() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, h := range e.ssts {
		path := h.sst.Path()
		if err := h.sst.Close(); err != nil {
			return err
		}
		if err := fs.Delete(path); err != nil {
			return err
		}
	}
	e.ssts = make(map[uint32]*sstHandle)
	e.levels = newLevels()
	e.memtable = memtable.New(skiplist.DefaultMaxLevel)

	return writeLevelsManifest(e.dir, e.levels)
}

// IterPredicate unions the memtable's matching range with the matching
// range of every SST across every level, fused via a two-merge iterator
// (§4.6, §4.7).
func (e *Engine) IterPredicate(trancID uint64, predicate kv.Predicate) (iterator.Iterator, error) {
	memIter := e.memtable.IterPredicate(trancID, predicate)

	e.mu.RLock()
	defer e.mu.RUnlock()

	var sources []iterator.HeapSource
	for level := 0; level <= e.levels.maxLevel(); level++ {
		for _, id := range e.levels.get(level) {
			h := e.ssts[id]
			it, err := iterator.NewSSTIteratorPredicate(h.sst, predicate, trancID)
			if err != nil {
				return nil, err
			}
			idx := int(id)
			if level == 0 {
				idx = -idx
			}
			sources = append(sources, iterator.HeapSource{It: it, Idx: idx, Level: level + 1})
		}
	}

	sstIter := iterator.NewHeapIterator(sources, trancID)
	return iterator.NewTwoMergeIterator(memIter, sstIter), nil
}

// Close flushes the memtable until it is empty and closes every SST.
func (e *Engine) Close() error {
	for e.memtable.Size() > 0 || e.memtable.FrozenCount() > 0 {
		if err := e.Flush(); err != nil {
			return err
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, h := range e.ssts {
		if err := h.sst.Close(); err != nil {
			return err
		}
	}
	return nil
}
