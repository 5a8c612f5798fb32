package txn

import (
	"encoding/binary"
	"os"
	"path/filepath"

	"github.com/lsmkv/lsmkv/errs"
	"github.com/lsmkv/lsmkv/fs"
)

// manifestSize is the 24-byte "tranc_id" manifest: three little-endian
// u64s (§6).
const manifestSize = 24

const manifestName = "tranc_id"

// manifestPath is a pure function of dataDir, replacing the source's
// self-mutating path getter flagged in §9.
func manifestPath(dataDir string) string {
	return filepath.Join(dataDir, manifestName)
}

type manifestState struct {
	nextTrancID       uint64
	maxFlushedTrancID uint64
	maxFinishedTrancID uint64
}

func readManifest(dataDir string) (manifestState, error) {
	const op = "txn.readManifest"

	buf, err := os.ReadFile(manifestPath(dataDir))
	if os.IsNotExist(err) {
		return manifestState{nextTrancID: 1}, nil
	}
	if err != nil {
		return manifestState{}, errs.Wrap(op, errs.KindIO, err)
	}
	if len(buf) != manifestSize {
		return manifestState{}, errs.New(op, errs.KindCorruption)
	}

	return manifestState{
		nextTrancID:        binary.LittleEndian.Uint64(buf[0:8]),
		maxFlushedTrancID:  binary.LittleEndian.Uint64(buf[8:16]),
		maxFinishedTrancID: binary.LittleEndian.Uint64(buf[16:24]),
	}, nil
}

func writeManifest(dataDir string, st manifestState) error {
	buf := make([]byte, manifestSize)
	binary.LittleEndian.PutUint64(buf[0:8], st.nextTrancID)
	binary.LittleEndian.PutUint64(buf[8:16], st.maxFlushedTrancID)
	binary.LittleEndian.PutUint64(buf[16:24], st.maxFinishedTrancID)
	return fs.WriteFileAtomic(manifestPath(dataDir), buf, "tmp")
}
