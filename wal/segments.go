package wal

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"

	"github.com/lsmkv/lsmkv/errs"
)

// segmentFilePattern matches "wal.<seq>" segment file names (§6).
var segmentFilePattern = regexp.MustCompile(`^wal\.(\d+)$`)

// segmentManager owns the active WAL segment file and rotates to a new
// one once it exceeds the configured size limit. Adapted from the
// teacher's diskSegmentManager, generalized from a fixed "segment-%04d.log"
// naming scheme to the WAL's "wal.<seq>" scheme and from a single hard-coded
// size limit to a configurable one.
type segmentManager struct {
	mu             sync.Mutex
	dir            string
	active         *os.File
	activeSeq      int
	maxSegmentSize int64
}

func segmentPath(dir string, seq int) string {
	return filepath.Join(dir, fmt.Sprintf("wal.%d", seq))
}

// listSegmentSeqs returns every "wal.<seq>" file's seq, sorted ascending.
func listSegmentSeqs(dir string) ([]int, error) {
	const op = "wal.listSegmentSeqs"
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errs.Wrap(op, errs.KindIO, err)
	}

	var seqs []int
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		m := segmentFilePattern.FindStringSubmatch(e.Name())
		if len(m) != 2 {
			continue
		}
		seq, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		seqs = append(seqs, seq)
	}
	sort.Ints(seqs)
	return seqs, nil
}

func newSegmentManager(dir string, maxSegmentSize int64) (*segmentManager, error) {
	const op = "wal.newSegmentManager"

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.Wrap(op, errs.KindIO, err)
	}

	sm := &segmentManager{dir: dir, maxSegmentSize: maxSegmentSize}

	seqs, err := listSegmentSeqs(dir)
	if err != nil {
		return nil, err
	}

	if len(seqs) == 0 {
		return sm, sm.rotateLocked(0)
	}

	latest := seqs[len(seqs)-1]
	f, err := os.OpenFile(segmentPath(dir, latest), os.O_RDWR|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errs.Wrap(op, errs.KindIO, err)
	}
	sm.active = f
	sm.activeSeq = latest
	return sm, nil
}

// rotateLocked closes the current segment (if any) and opens the next.
func (sm *segmentManager) rotateLocked(seq int) error {
	const op = "wal.segmentManager.rotate"
	if sm.active != nil {
		if err := sm.active.Close(); err != nil {
			return errs.Wrap(op, errs.KindIO, err)
		}
	}
	f, err := os.Create(segmentPath(sm.dir, seq))
	if err != nil {
		return errs.Wrap(op, errs.KindIO, err)
	}
	sm.active = f
	sm.activeSeq = seq
	return nil
}

// appendAndMaybeRotate appends buf to the active segment, fsyncs, and
// rolls to the next segment if the segment now exceeds the size limit
// (§4.9).
func (sm *segmentManager) appendAndMaybeRotate(buf []byte) error {
	const op = "wal.segmentManager.append"

	sm.mu.Lock()
	defer sm.mu.Unlock()

	if _, err := sm.active.Write(buf); err != nil {
		return errs.Wrap(op, errs.KindIO, err)
	}
	if err := sm.active.Sync(); err != nil {
		return errs.Wrap(op, errs.KindIO, err)
	}

	info, err := sm.active.Stat()
	if err != nil {
		return errs.Wrap(op, errs.KindIO, err)
	}
	if info.Size() > sm.maxSegmentSize {
		return sm.rotateLocked(sm.activeSeq + 1)
	}
	return nil
}

func (sm *segmentManager) close() error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.active == nil {
		return nil
	}
	return sm.active.Close()
}

// resetSegments deletes every existing "wal.<seq>" segment and installs a fresh
// wal.0, used after recovery replay completes (§4.9).
func resetSegments(dir string) error {
	const op = "wal.resetSegments"
	seqs, err := listSegmentSeqs(dir)
	if err != nil {
		return err
	}
	for _, seq := range seqs {
		if err := os.Remove(segmentPath(dir, seq)); err != nil && !os.IsNotExist(err) {
			return errs.Wrap(op, errs.KindIO, err)
		}
	}
	f, err := os.Create(segmentPath(dir, 0))
	if err != nil {
		return errs.Wrap(op, errs.KindIO, err)
	}
	return f.Close()
}
