// Package lsm implements the core LSM engine (§4.7): memtable, leveled
// SSTs, flush, and compaction, behind one reader-writer lock over the
// SST map and level index (§5).
package lsm

import "github.com/lsmkv/lsmkv/sst"

// levels is the engine's level index, generalized per the design notes
// into a single ordered structure: level id -> ordered SST ids. L0 is
// ordered newest first, by descending id (§4.7); L1+ are ordered by
// ascending first_key (§8 property 7).
type levels struct {
	ids map[int][]uint32
}

func newLevels() *levels {
	return &levels{ids: make(map[int][]uint32)}
}

func (lv *levels) get(level int) []uint32 {
	return lv.ids[level]
}

func (lv *levels) set(level int, ids []uint32) {
	if len(ids) == 0 {
		delete(lv.ids, level)
		return
	}
	lv.ids[level] = ids
}

func (lv *levels) maxLevel() int {
	max := 0
	for l := range lv.ids {
		if l > max {
			max = l
		}
	}
	return max
}

type sstHandle struct {
	level int
	sst   *sst.SST
}
