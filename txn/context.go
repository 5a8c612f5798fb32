package txn

import (
	"github.com/lsmkv/lsmkv/errs"
	"github.com/lsmkv/lsmkv/kv"
	"github.com/lsmkv/lsmkv/lsm"
	"github.com/lsmkv/lsmkv/wal"
)

// writeEntry is one staged write under ReadCommitted/RepeatableRead/
// Serializable, held in write_map until commit.
type writeEntry struct {
	value    []byte
	isDelete bool
}

// readEntry caches one read under RepeatableRead/Serializable so a
// second read of the same key within the transaction sees the same
// snapshot, including the absence of a key.
type readEntry struct {
	rec   kv.Record
	found bool
}

// rollbackEntry is ReadUncommitted's pre-image of a key, captured the
// first time the transaction touches it, so abort can restore it (§9:
// the source never populates this for Put, an explicit bug this fixes).
type rollbackEntry struct {
	hadPrev     bool
	prevValue   []byte
	prevTrancID uint64
}

// Context is one transaction's in-flight state: its operation log (for
// the WAL), and whichever of write_map/read_map/rollback_map its
// isolation level uses (§4.8).
type Context struct {
	trancID   uint64
	isolation IsolationLevel
	engine    *lsm.Engine
	manager   *Manager

	operations []wal.Record

	writeMap map[string]writeEntry
	readMap  map[string]readEntry
	rollback map[string]rollbackEntry

	done bool
}

// TrancID returns the transaction's assigned id.
func (c *Context) TrancID() uint64 { return c.trancID }

func (c *Context) captureRollback(key []byte) error {
	k := string(key)
	if _, touched := c.rollback[k]; touched {
		return nil
	}
	rec, ok, err := c.engine.Get(key, 0)
	if err != nil {
		return err
	}
	if ok {
		c.rollback[k] = rollbackEntry{hadPrev: true, prevValue: rec.Value, prevTrancID: rec.TrancID}
	} else {
		c.rollback[k] = rollbackEntry{hadPrev: false}
	}
	return nil
}

// Put writes key=value. Under ReadUncommitted it is written through to
// the engine immediately; otherwise it is staged into write_map until
// commit (§4.8).
func (c *Context) Put(key, value []byte) error {
	if c.isolation == ReadUncommitted {
		if err := c.captureRollback(key); err != nil {
			return err
		}
		if err := c.engine.Put(key, value, c.trancID); err != nil {
			return err
		}
	} else {
		c.writeMap[string(key)] = writeEntry{value: append([]byte(nil), value...)}
	}
	c.operations = append(c.operations, wal.Record{TrancID: c.trancID, Op: wal.OpPut, Key: key, Value: value})
	return nil
}

// Remove stages (or write-throughs) a tombstone for key.
func (c *Context) Remove(key []byte) error {
	if c.isolation == ReadUncommitted {
		if err := c.captureRollback(key); err != nil {
			return err
		}
		if err := c.engine.Remove(key, c.trancID); err != nil {
			return err
		}
	} else {
		c.writeMap[string(key)] = writeEntry{isDelete: true}
	}
	c.operations = append(c.operations, wal.Record{TrancID: c.trancID, Op: wal.OpDelete, Key: key})
	return nil
}

// Get reads key under this context's isolation semantics (§4.8).
func (c *Context) Get(key []byte) ([]byte, bool, error) {
	switch c.isolation {
	case ReadUncommitted:
		rec, ok, err := c.engine.Get(key, 0)
		if err != nil || !ok {
			return nil, false, err
		}
		return rec.Value, true, nil

	case ReadCommitted:
		if w, ok := c.writeMap[string(key)]; ok {
			return w.value, !w.isDelete, nil
		}
		rec, ok, err := c.engine.Get(key, c.trancID)
		if err != nil || !ok {
			return nil, false, err
		}
		return rec.Value, true, nil

	default: // RepeatableRead, Serializable
		if w, ok := c.writeMap[string(key)]; ok {
			return w.value, !w.isDelete, nil
		}
		k := string(key)
		if r, ok := c.readMap[k]; ok {
			if !r.found {
				return nil, false, nil
			}
			return r.rec.Value, true, nil
		}
		rec, ok, err := c.engine.Get(key, c.trancID)
		if err != nil {
			return nil, false, err
		}
		c.readMap[k] = readEntry{rec: rec, found: ok}
		if !ok {
			return nil, false, nil
		}
		return rec.Value, true, nil
	}
}

// Commit appends a Commit record, runs the conflict check for every
// isolation other than ReadUncommitted, and on success writes the whole
// operation list to the WAL and applies any staged writes (§4.8).
// Returns false on conflict; the caller may retry with a fresh context.
func (c *Context) Commit() (bool, error) {
	if c.done {
		return false, errs.New("txn.Commit", errs.KindOther)
	}
	c.done = true

	c.operations = append(c.operations, wal.Record{TrancID: c.trancID, Op: wal.OpCommit})

	if c.isolation == ReadUncommitted {
		if err := c.manager.logRecords(c.operations); err != nil {
			return false, err
		}
		if err := c.manager.advanceFinished(c.trancID); err != nil {
			return false, err
		}
		return true, nil
	}

	keys := make([][]byte, 0, len(c.writeMap))
	writes := make([]lsm.PutBatchEntry, 0, len(c.writeMap))
	for k, w := range c.writeMap {
		key := []byte(k)
		keys = append(keys, key)
		if w.isDelete {
			writes = append(writes, lsm.PutBatchEntry{Key: key, TrancID: c.trancID})
		} else {
			writes = append(writes, lsm.PutBatchEntry{Key: key, Value: w.value, TrancID: c.trancID})
		}
	}

	conflict, err := c.engine.CommitWrites(writes, keys, c.trancID)
	if err != nil {
		return false, err
	}
	if conflict {
		c.operations = append(c.operations, wal.Record{TrancID: c.trancID, Op: wal.OpRollback})
		if err := c.manager.logRecords(c.operations); err != nil {
			return false, err
		}
		log.Debug().Uint64("tranc_id", c.trancID).Msg("commit conflict, rolled back")
		return false, nil
	}

	if err := c.manager.logRecords(c.operations); err != nil {
		return false, err
	}
	if err := c.manager.advanceFinished(c.trancID); err != nil {
		return false, err
	}
	return true, nil
}

// Abort discards staged state (or, for ReadUncommitted, undoes every
// write-through using the captured pre-images) and emits a Rollback
// record to the WAL (§4.8).
func (c *Context) Abort() error {
	if c.done {
		return errs.New("txn.Abort", errs.KindOther)
	}
	c.done = true

	if c.isolation == ReadUncommitted {
		for k, r := range c.rollback {
			key := []byte(k)
			if r.hadPrev {
				if err := c.engine.Put(key, r.prevValue, c.trancID); err != nil {
					return err
				}
			} else {
				if err := c.engine.Remove(key, c.trancID); err != nil {
					return err
				}
			}
		}
	}

	c.operations = append(c.operations, wal.Record{TrancID: c.trancID, Op: wal.OpRollback})
	return c.manager.logRecords(c.operations)
}
