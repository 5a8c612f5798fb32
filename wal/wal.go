package wal

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/lsmkv/lsmkv/errs"
	"github.com/lsmkv/lsmkv/logging"
)

var log = logging.WithComponent("wal")

const (
	// DefaultBufferSize is BUFFER_SIZE (§4.9): records buffered in memory
	// before an automatic flush to disk.
	DefaultBufferSize = 128
	// DefaultFileSizeLimit is FILE_SIZE_LIMIT (§4.9): a segment rolls once
	// it exceeds this size.
	DefaultFileSizeLimit int64 = 4 * 1024 * 1024
)

// WAL is a directory of numbered segments ("wal.<seq>") recording every
// transactional operation (§3, §4.9). Writes are buffered and flushed in
// batches; reads happen only once, at startup, via Recover.
type WAL struct {
	mu sync.Mutex

	segments *segmentManager
	buffer   []Record

	bufferSize int
}

// Open opens (or creates) the WAL directory at dir. bufferSize and
// fileSizeLimit of 0 take the package defaults.
func Open(dir string, bufferSize int, fileSizeLimit int64) (*WAL, error) {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if fileSizeLimit <= 0 {
		fileSizeLimit = DefaultFileSizeLimit
	}

	sm, err := newSegmentManager(dir, fileSizeLimit)
	if err != nil {
		return nil, err
	}

	return &WAL{
		segments:   sm,
		bufferSize: bufferSize,
	}, nil
}

// Log buffers records under the WAL mutex; once the buffer reaches
// bufferSize, or force is set, every buffered record is encoded,
// appended to the active segment, and fsynced (§4.9).
func (w *WAL) Log(records []Record, force bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buffer = append(w.buffer, records...)
	if len(w.buffer) < w.bufferSize && !force {
		return nil
	}
	return w.flushLocked()
}

func (w *WAL) flushLocked() error {
	if len(w.buffer) == 0 {
		return nil
	}

	var buf bytes.Buffer
	for _, rec := range w.buffer {
		if err := rec.Encode(&buf); err != nil {
			return err
		}
	}
	w.buffer = w.buffer[:0]

	return w.segments.appendAndMaybeRotate(buf.Bytes())
}

// Flush forces any buffered records to disk without requiring a
// buffer-size threshold.
func (w *WAL) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked()
}

// Close flushes any buffered records and closes the active segment.
func (w *WAL) Close() error {
	if err := w.Flush(); err != nil {
		return err
	}
	return w.segments.close()
}

// Reset deletes every existing segment and installs a fresh wal.0,
// called once startup recovery has replayed everything it needs (§4.9).
func (w *WAL) Reset() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.segments.close(); err != nil {
		return err
	}
	if err := resetSegments(w.segments.dir); err != nil {
		return err
	}
	sm, err := newSegmentManager(w.segments.dir, w.segments.maxSegmentSize)
	if err != nil {
		return err
	}
	w.segments = sm
	return nil
}

// Recover enumerates every "wal.<seq>" segment in dir in ascending seq
// order, decodes every record, and buckets those with TrancID >
// maxFlushedTrancID into an ordered-by-arrival list keyed by tranc_id
// (§4.9). Segments are read, never mutated.
func Recover(dir string, maxFlushedTrancID uint64) (map[uint64][]Record, error) {
	const op = "wal.Recover"

	seqs, err := listSegmentSeqs(dir)
	if err != nil {
		return nil, err
	}
	sort.Ints(seqs)

	buckets := make(map[uint64][]Record)

	for _, seq := range seqs {
		path := segmentPath(dir, seq)
		f, err := os.Open(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, errs.Wrap(op, errs.KindIO, err)
		}

		count := 0
		for {
			rec, err := Decode(f)
			if err == io.EOF {
				break
			}
			if err != nil {
				f.Close()
				return nil, errs.Wrap(op, errs.KindCorruption, err)
			}
			count++
			if rec.TrancID > maxFlushedTrancID {
				buckets[rec.TrancID] = append(buckets[rec.TrancID], *rec)
			}
		}
		f.Close()
		log.Debug().Str("segment", filepath.Base(path)).Int("records", count).Msg("replayed wal segment")
	}

	return buckets, nil
}

// CommittedTransactions filters buckets down to those whose record list
// ends in a commit. Map iteration order is undefined, so callers needing
// deterministic replay order should sort the returned tranc IDs
// themselves.
func CommittedTransactions(buckets map[uint64][]Record) map[uint64][]Record {
	out := make(map[uint64][]Record, len(buckets))
	for tid, recs := range buckets {
		if len(recs) == 0 {
			continue
		}
		if recs[len(recs)-1].Op == OpCommit {
			out[tid] = recs
		}
	}
	return out
}
