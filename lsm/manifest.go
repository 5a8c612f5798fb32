package lsm

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/lsmkv/lsmkv/errs"
	"github.com/lsmkv/lsmkv/fs"
)

// levelsManifestName is the sidecar file recording each SST's level
// assignment across restarts. The SST trailer format (§6) has no level
// field, so rather than inventing one (which would break the documented
// binary layout), level assignment is persisted separately and rewritten
// atomically whenever the level index changes (flush, compaction).
const levelsManifestName = "levels.manifest"

func levelsManifestPath(dir string) string {
	return filepath.Join(dir, levelsManifestName)
}

// writeLevelsManifest serializes "<level> <sst_id>" lines, one per SST,
// and writes them atomically.
func writeLevelsManifest(dir string, lv *levels) error {
	var sb strings.Builder
	for level, ids := range lv.ids {
		for _, id := range ids {
			fmt.Fprintf(&sb, "%d %d\n", level, id)
		}
	}
	return fs.WriteFileAtomic(levelsManifestPath(dir), []byte(sb.String()), "tmp")
}

// readLevelsManifest returns level -> ordered SST ids as last written. A
// missing manifest (fresh data directory) is not an error.
func readLevelsManifest(dir string) (map[int][]uint32, error) {
	const op = "lsm.readLevelsManifest"

	f, err := os.Open(levelsManifestPath(dir))
	if os.IsNotExist(err) {
		return map[int][]uint32{}, nil
	}
	if err != nil {
		return nil, errs.Wrap(op, errs.KindIO, err)
	}
	defer f.Close()

	out := make(map[int][]uint32)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, errs.New(op, errs.KindCorruption)
		}
		level, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, errs.Wrap(op, errs.KindCorruption, err)
		}
		id, err := strconv.ParseUint(fields[1], 10, 32)
		if err != nil {
			return nil, errs.Wrap(op, errs.KindCorruption, err)
		}
		out[level] = append(out[level], uint32(id))
	}
	if err := sc.Err(); err != nil {
		return nil, errs.Wrap(op, errs.KindIO, err)
	}
	return out, nil
}
