package memtable

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeBuilder struct {
	added []struct {
		key, value []byte
		trancID    uint64
	}
}

func (f *fakeBuilder) Add(key, value []byte, trancID uint64) error {
	f.added = append(f.added, struct {
		key, value []byte
		trancID    uint64
	}{key, value, trancID})
	return nil
}

func TestMemtablePutGetRemove(t *testing.T) {
	m := New(0)
	m.Put([]byte("k"), []byte("v1"), 0)
	rec, ok := m.Get([]byte("k"), 0)
	require.True(t, ok)
	require.Equal(t, "v1", string(rec.Value))

	m.Put([]byte("k"), []byte("v2"), 0)
	rec, ok = m.Get([]byte("k"), 0)
	require.True(t, ok)
	require.Equal(t, "v2", string(rec.Value))

	m.Remove([]byte("k"), 0)
	rec, ok = m.Get([]byte("k"), 0)
	require.True(t, ok)
	require.True(t, rec.IsTombstone())
}

func TestMemtableFrozenReadOrder(t *testing.T) {
	m := New(0)
	m.Put([]byte("k"), []byte("v1"), 0)
	m.Freeze()
	m.Put([]byte("k"), []byte("v2"), 0)
	m.Freeze()
	m.Put([]byte("k"), []byte("v3"), 0)

	rec, ok := m.Get([]byte("k"), 0)
	require.True(t, ok)
	require.Equal(t, "v3", string(rec.Value))

	fb := &fakeBuilder{}
	require.NoError(t, m.FlushLast(fb))
	require.NoError(t, m.FlushLast(fb))
	require.NoError(t, m.FlushLast(fb))

	rec, ok = m.Get([]byte("k"), 0)
	require.False(t, ok)
}

func TestMemtableSizeAccounting(t *testing.T) {
	m := New(0)
	require.Equal(t, 0, m.Size())
	m.Put([]byte("ab"), []byte("cd"), 0)
	require.Equal(t, 4, m.Size())
	m.Freeze()
	require.Equal(t, 4, m.Size())
	m.Put([]byte("e"), []byte("f"), 0)
	require.Equal(t, 6, m.Size())
}

func TestMemtableIterPredicate(t *testing.T) {
	m := New(0)
	for _, k := range []string{"a", "b", "c", "d"} {
		m.Put([]byte(k), []byte(k), 0)
	}
	m.Freeze()
	m.Put([]byte("bb"), []byte("bb"), 0)

	pred := func(key []byte) int {
		k := string(key)
		switch {
		case k < "b":
			return -1
		case k > "c":
			return 1
		default:
			return 0
		}
	}

	it := m.IterPredicate(0, pred)
	var keys []string
	for it.Valid() {
		k, _ := it.KeyValue()
		keys = append(keys, string(k))
		it.Next()
	}
	require.Equal(t, []string{"b", "bb", "c"}, keys)
}
