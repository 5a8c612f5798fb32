package txn

import (
	"sync"

	"github.com/lsmkv/lsmkv/lsm"
	"github.com/lsmkv/lsmkv/logging"
	"github.com/lsmkv/lsmkv/wal"
)

var log = logging.WithComponent("txn")

// Manager holds the monotonic id counters and the engine/WAL references
// every transaction context needs, all behind one mutex (§4.8, §5).
type Manager struct {
	mu sync.Mutex

	dataDir string
	engine  *lsm.Engine
	wal     *wal.WAL

	state manifestState
}

// Open loads (or initializes) the manifest at dataDir.
func Open(dataDir string, engine *lsm.Engine, w *wal.WAL) (*Manager, error) {
	st, err := readManifest(dataDir)
	if err != nil {
		return nil, err
	}
	return &Manager{dataDir: dataDir, engine: engine, wal: w, state: st}, nil
}

// MaxFlushedTrancID reports the manifest's persisted flush watermark,
// the boundary Recover uses to decide which WAL records still matter.
func (m *Manager) MaxFlushedTrancID() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.maxFlushedTrancID
}

// AdvanceFlushed persists a new max_flushed_tranc_id, called by the
// façade after a flush completes.
func (m *Manager) AdvanceFlushed(trancID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if trancID > m.state.maxFlushedTrancID {
		m.state.maxFlushedTrancID = trancID
	}
	return writeManifest(m.dataDir, m.state)
}

// NewTransaction allocates the next tranc_id and returns a fresh context
// whose first operation record is a synthetic Create (§4.8).
func (m *Manager) NewTransaction(isolation IsolationLevel) (*Context, error) {
	m.mu.Lock()
	id := m.state.nextTrancID
	m.state.nextTrancID++
	err := writeManifest(m.dataDir, m.state)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	ctx := &Context{
		trancID:   id,
		isolation: isolation,
		engine:    m.engine,
		manager:   m,
		writeMap:  make(map[string]writeEntry),
		readMap:   make(map[string]readEntry),
		rollback:  make(map[string]rollbackEntry),
	}
	ctx.operations = append(ctx.operations, wal.Record{TrancID: id, Op: wal.OpCreate})

	log.Debug().Uint64("tranc_id", id).Str("isolation", isolation.String()).Msg("began transaction")
	return ctx, nil
}

func (m *Manager) advanceFinished(trancID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if trancID > m.state.maxFinishedTrancID {
		m.state.maxFinishedTrancID = trancID
	}
	return writeManifest(m.dataDir, m.state)
}

func (m *Manager) logRecords(records []wal.Record) error {
	return m.wal.Log(records, true)
}
