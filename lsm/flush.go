package lsm

import (
	"github.com/lsmkv/lsmkv/fs"
	"github.com/lsmkv/lsmkv/iterator"
	"github.com/lsmkv/lsmkv/sst"
)

// Flush compacts L0 first if it has reached the threshold, allocates the
// next SST id, flushes the oldest frozen memtable into a fresh builder,
// and installs the result at the front of L0 (§4.7).
func (e *Engine) Flush() error {
	if len(e.levels.get(0)) >= e.opts.L0Threshold {
		if err := e.FullCompact(0); err != nil {
			return err
		}
	}

	e.mu.Lock()
	id := e.nextID
	e.nextID++
	path := sstPath(e.dir, id)
	e.mu.Unlock()

	builder := sst.NewBuilder(e.builderOptions())
	if err := e.memtable.FlushLast(builder); err != nil {
		return err
	}
	if builder.Empty() {
		return nil
	}

	s, err := builder.Build(id, path, e.cache)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.ssts[id] = &sstHandle{level: 0, sst: s}
	e.levels.set(0, append([]uint32{id}, e.levels.get(0)...))
	lv := e.levels
	hook := e.flushHook
	e.mu.Unlock()

	if err := writeLevelsManifest(e.dir, lv); err != nil {
		return err
	}

	if hook != nil {
		hook(s.MaxTrancID())
	}

	log.Debug().Uint32("sst_id", id).Msg("flushed memtable")
	return nil
}

func (e *Engine) builderOptions() sst.BuilderOptions {
	return sst.BuilderOptions{
		BlockCapacity:           e.opts.BlockCapacity,
		BloomEnabled:            e.opts.BloomEnabled,
		BloomExpectedElements:   e.opts.BloomExpectedElements,
		BloomFalsePositiveRate:  e.opts.BloomFalsePositiveRate,
	}
}

// FullCompact recursively compacts deeper levels first when they
// themselves exceed the ratio, then merges srcLevel into srcLevel+1
// (§4.7).
func (e *Engine) FullCompact(srcLevel int) error {
	dstLevel := srcLevel + 1

	if len(e.levels.get(dstLevel)) >= e.levelCapacity(dstLevel) {
		if err := e.FullCompact(dstLevel); err != nil {
			return err
		}
	}

	e.mu.RLock()
	srcIDs := append([]uint32(nil), e.levels.get(srcLevel)...)
	dstIDs := append([]uint32(nil), e.levels.get(dstLevel)...)
	srcHandles := make([]*sstHandle, len(srcIDs))
	for i, id := range srcIDs {
		srcHandles[i] = e.ssts[id]
	}
	dstHandles := make([]*sstHandle, len(dstIDs))
	for i, id := range dstIDs {
		dstHandles[i] = e.ssts[id]
	}
	e.mu.RUnlock()

	if len(srcHandles) == 0 {
		return nil
	}

	srcIter, err := e.mergedSourceIterator(srcLevel, srcHandles)
	if err != nil {
		return err
	}
	dstIter := concatOf(dstHandles)

	merged := iterator.NewTwoMergeIterator(srcIter, dstIter)

	target := targetSSTSize(e.opts.MemLimit, e.opts.LevelRatio, dstLevel)
	newSSTs, err := e.genSSTsFromIter(merged, target)
	if err != nil {
		return err
	}

	e.mu.Lock()
	for _, id := range srcIDs {
		h := e.ssts[id]
		delete(e.ssts, id)
		if err := h.sst.Close(); err != nil {
			e.mu.Unlock()
			return err
		}
		if err := removeSSTFile(h.sst.Path()); err != nil {
			e.mu.Unlock()
			return err
		}
	}
	for _, id := range dstIDs {
		h := e.ssts[id]
		delete(e.ssts, id)
		if err := h.sst.Close(); err != nil {
			e.mu.Unlock()
			return err
		}
		if err := removeSSTFile(h.sst.Path()); err != nil {
			e.mu.Unlock()
			return err
		}
	}

	newIDs := make([]uint32, len(newSSTs))
	for i, s := range newSSTs {
		e.ssts[s.ID] = &sstHandle{level: dstLevel, sst: s}
		newIDs[i] = s.ID
	}
	e.levels.set(srcLevel, nil)
	e.levels.set(dstLevel, newIDs)
	lv := e.levels
	e.mu.Unlock()

	log.Info().Int("src_level", srcLevel).Int("dst_level", dstLevel).
		Int("output_ssts", len(newIDs)).Msg("compacted level")

	return writeLevelsManifest(e.dir, lv)
}

// levelCapacity is the SST count at which a level triggers compaction
// into the next: L0Threshold for L0, scaled by LevelRatio per level
// above that (so each deeper level tolerates LevelRatio times as many
// SSTs as the level above it before compacting further).
func (e *Engine) levelCapacity(level int) int {
	if level == 0 {
		return e.opts.L0Threshold
	}
	capacity := e.opts.L0Threshold
	for i := 0; i < level; i++ {
		capacity *= e.opts.LevelRatio
	}
	return capacity
}

// mergedSourceIterator builds the src side of a compaction: a heap merge
// of L0 SSTs (each may overlap any other) for srcLevel 0, or a concat
// iterator over Lx's disjoint SSTs otherwise (§4.7).
func (e *Engine) mergedSourceIterator(srcLevel int, handles []*sstHandle) (iterator.Iterator, error) {
	if srcLevel != 0 {
		return concatOf(handles), nil
	}

	sources := make([]iterator.HeapSource, len(handles))
	for i, h := range handles {
		it, err := iterator.NewSSTIterator(h.sst, 0)
		if err != nil {
			return nil, err
		}
		sources[i] = iterator.HeapSource{It: it, Idx: -int(h.sst.ID), Level: 0}
	}
	return iterator.NewHeapIterator(sources, 0), nil
}

func concatOf(handles []*sstHandle) iterator.Iterator {
	children := make([]iterator.Iterator, 0, len(handles))
	for _, h := range handles {
		it, err := iterator.NewSSTIterator(h.sst, 0)
		if err != nil {
			continue
		}
		children = append(children, it)
	}
	return iterator.NewConcatIterator(children)
}

// genSSTsFromIter drains it into a sequence of SSTs, sealing and rolling
// to a new one each time the builder's estimated size reaches
// targetSize. Tombstones are preserved so deeper-level reads still see
// them (§4.7).
func (e *Engine) genSSTsFromIter(it iterator.Iterator, targetSize int) ([]*sst.SST, error) {
	var out []*sst.SST
	builder := sst.NewBuilder(e.builderOptions())

	seal := func() error {
		if builder.Empty() {
			return nil
		}
		e.mu.Lock()
		id := e.nextID
		e.nextID++
		e.mu.Unlock()

		s, err := builder.Build(id, sstPath(e.dir, id), e.cache)
		if err != nil {
			return err
		}
		out = append(out, s)
		return nil
	}

	for it.Valid() {
		k, v := it.KeyValue()
		if err := builder.Add(k, v, it.TrancID()); err != nil {
			return nil, err
		}
		if builder.EstimatedSize() >= targetSize {
			if err := seal(); err != nil {
				return nil, err
			}
			builder = sst.NewBuilder(e.builderOptions())
		}
		it.Next()
	}
	if err := seal(); err != nil {
		return nil, err
	}

	return out, nil
}

func removeSSTFile(path string) error {
	return fs.Delete(path)
}
