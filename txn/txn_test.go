package txn

import (
	"testing"

	"github.com/lsmkv/lsmkv/lsm"
	"github.com/lsmkv/lsmkv/wal"
	"github.com/stretchr/testify/require"
)

func newTestSetup(t *testing.T) (*Manager, *lsm.Engine, *wal.WAL) {
	t.Helper()
	dir := t.TempDir()

	engine, err := lsm.Open(dir, lsm.DefaultOptions())
	require.NoError(t, err)

	w, err := wal.Open(dir, wal.DefaultBufferSize, wal.DefaultFileSizeLimit)
	require.NoError(t, err)

	mgr, err := Open(dir, engine, w)
	require.NoError(t, err)

	return mgr, engine, w
}

func TestPutGetRemoveBasics(t *testing.T) {
	mgr, _, _ := newTestSetup(t)

	ctx, err := mgr.NewTransaction(ReadCommitted)
	require.NoError(t, err)

	require.NoError(t, ctx.Put([]byte("a"), []byte("1")))
	v, ok, err := ctx.Get([]byte("a"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("1"), v)

	committed, err := ctx.Commit()
	require.NoError(t, err)
	require.True(t, committed)

	ctx2, err := mgr.NewTransaction(ReadCommitted)
	require.NoError(t, err)
	v2, ok2, err := ctx2.Get([]byte("a"))
	require.NoError(t, err)
	require.True(t, ok2)
	require.Equal(t, []byte("1"), v2)

	require.NoError(t, ctx2.Remove([]byte("a")))
	committed2, err := ctx2.Commit()
	require.NoError(t, err)
	require.True(t, committed2)

	ctx3, err := mgr.NewTransaction(ReadCommitted)
	require.NoError(t, err)
	_, ok3, err := ctx3.Get([]byte("a"))
	require.NoError(t, err)
	require.False(t, ok3)
}

// TestReadCommittedSeesOnlyCommittedSnapshot covers the scenario where one
// transaction's uncommitted write must stay invisible to a concurrent
// ReadCommitted reader until commit (§8 scenario 2).
func TestReadCommittedSeesOnlyCommittedSnapshot(t *testing.T) {
	mgr, _, _ := newTestSetup(t)

	writer, err := mgr.NewTransaction(ReadCommitted)
	require.NoError(t, err)
	require.NoError(t, writer.Put([]byte("x"), []byte("v1")))

	reader, err := mgr.NewTransaction(ReadCommitted)
	require.NoError(t, err)
	_, ok, err := reader.Get([]byte("x"))
	require.NoError(t, err)
	require.False(t, ok, "uncommitted write must not be visible")

	committed, err := writer.Commit()
	require.NoError(t, err)
	require.True(t, committed)

	reader2, err := mgr.NewTransaction(ReadCommitted)
	require.NoError(t, err)
	v, ok2, err := reader2.Get([]byte("x"))
	require.NoError(t, err)
	require.True(t, ok2)
	require.Equal(t, []byte("v1"), v)
}

// TestRepeatableReadSnapshotIsStable covers the snapshot stability promise:
// a RepeatableRead transaction must see the same value on a re-read even
// after another transaction commits a newer version of the same key.
func TestRepeatableReadSnapshotIsStable(t *testing.T) {
	mgr, _, _ := newTestSetup(t)

	setup, err := mgr.NewTransaction(ReadCommitted)
	require.NoError(t, err)
	require.NoError(t, setup.Put([]byte("x"), []byte("v1")))
	ok, err := setup.Commit()
	require.NoError(t, err)
	require.True(t, ok)

	rr, err := mgr.NewTransaction(RepeatableRead)
	require.NoError(t, err)
	v, found, err := rr.Get([]byte("x"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("v1"), v)

	other, err := mgr.NewTransaction(ReadCommitted)
	require.NoError(t, err)
	require.NoError(t, other.Put([]byte("x"), []byte("v2")))
	committed, err := other.Commit()
	require.NoError(t, err)
	require.True(t, committed)

	v2, found2, err := rr.Get([]byte("x"))
	require.NoError(t, err)
	require.True(t, found2)
	require.Equal(t, []byte("v1"), v2, "repeatable read must not observe the later commit")
}

// TestCommitConflictRollsBack covers §8 scenario 5: two RepeatableRead
// transactions race to write the same key; the later-committing one that
// observes a newer version than its own snapshot must fail to commit.
func TestCommitConflictRollsBack(t *testing.T) {
	mgr, _, _ := newTestSetup(t)

	t1, err := mgr.NewTransaction(RepeatableRead)
	require.NoError(t, err)
	require.NoError(t, t1.Put([]byte("x"), []byte("a")))

	t2, err := mgr.NewTransaction(RepeatableRead)
	require.NoError(t, err)
	require.NoError(t, t2.Put([]byte("x"), []byte("b")))
	committed2, err := t2.Commit()
	require.NoError(t, err)
	require.True(t, committed2)

	committed1, err := t1.Commit()
	require.NoError(t, err)
	require.False(t, committed1, "t1 must detect t2's newer commit and roll back")

	t3, err := mgr.NewTransaction(ReadCommitted)
	require.NoError(t, err)
	v, ok, err := t3.Get([]byte("x"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("b"), v)
}

// TestReadUncommittedWriteThroughAndAbort covers ReadUncommitted's
// write-through semantics and the rollback_map-based undo on abort.
func TestReadUncommittedWriteThroughAndAbort(t *testing.T) {
	mgr, engine, _ := newTestSetup(t)

	seed, err := mgr.NewTransaction(ReadCommitted)
	require.NoError(t, err)
	require.NoError(t, seed.Put([]byte("k"), []byte("orig")))
	ok, err := seed.Commit()
	require.NoError(t, err)
	require.True(t, ok)

	ru, err := mgr.NewTransaction(ReadUncommitted)
	require.NoError(t, err)
	require.NoError(t, ru.Put([]byte("k"), []byte("dirty")))

	rec, found, err := engine.Get([]byte("k"), 0)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("dirty"), rec.Value, "read uncommitted writes through immediately")

	require.NoError(t, ru.Abort())

	rec2, found2, err := engine.Get([]byte("k"), 0)
	require.NoError(t, err)
	require.True(t, found2)
	require.Equal(t, []byte("orig"), rec2.Value, "abort must restore the pre-image")
}

func TestReadUncommittedAbortRemovesNewKey(t *testing.T) {
	mgr, engine, _ := newTestSetup(t)

	ru, err := mgr.NewTransaction(ReadUncommitted)
	require.NoError(t, err)
	require.NoError(t, ru.Put([]byte("new"), []byte("val")))

	_, found, err := engine.Get([]byte("new"), 0)
	require.NoError(t, err)
	require.True(t, found)

	require.NoError(t, ru.Abort())

	_, found2, err := engine.Get([]byte("new"), 0)
	require.NoError(t, err)
	require.False(t, found2, "abort must undo a write-through to a previously-absent key")
}
