package iterator

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lsmkv/lsmkv/cache"
	"github.com/lsmkv/lsmkv/skiplist"
	"github.com/lsmkv/lsmkv/sst"
)

func buildSST(t *testing.T, dir string, id uint32, kvs map[string]string, trancID uint64) *sst.SST {
	t.Helper()
	b := sst.NewBuilder(sst.DefaultBuilderOptions())
	keys := make([]string, 0, len(kvs))
	for k := range kvs {
		keys = append(keys, k)
	}
	// simple insertion sort since keys are short in tests
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j] < keys[j-1]; j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
	for _, k := range keys {
		require.NoError(t, b.Add([]byte(k), []byte(kvs[k]), trancID))
	}
	path := filepath.Join(dir, fmt.Sprintf("sst_%04d", id))
	s, err := b.Build(id, path, cache.New(64, 2))
	require.NoError(t, err)
	return s
}

func TestSSTIteratorOrdering(t *testing.T) {
	dir := t.TempDir()
	s := buildSST(t, dir, 1, map[string]string{"a": "1", "b": "2", "c": "3"}, 0)
	defer s.Close()

	it, err := NewSSTIterator(s, 0)
	require.NoError(t, err)

	var keys []string
	for it.Valid() {
		k, _ := it.KeyValue()
		keys = append(keys, string(k))
		it.Next()
	}
	require.Equal(t, []string{"a", "b", "c"}, keys)
}

func TestConcatIteratorChains(t *testing.T) {
	dir := t.TempDir()
	s1 := buildSST(t, dir, 1, map[string]string{"a": "1", "b": "2"}, 0)
	s2 := buildSST(t, dir, 2, map[string]string{"c": "3", "d": "4"}, 0)
	defer s1.Close()
	defer s2.Close()

	it1, err := NewSSTIterator(s1, 0)
	require.NoError(t, err)
	it2, err := NewSSTIterator(s2, 0)
	require.NoError(t, err)

	concat := NewConcatIterator([]Iterator{it1, it2})
	var keys []string
	for concat.Valid() {
		k, _ := concat.KeyValue()
		keys = append(keys, string(k))
		concat.Next()
	}
	require.Equal(t, []string{"a", "b", "c", "d"}, keys)
}

func TestHeapIteratorUniquenessAndRecency(t *testing.T) {
	l1 := skiplist.New(0)
	l1.Put([]byte("k"), []byte("old"), 1)
	l2 := skiplist.New(0)
	l2.Put([]byte("k"), []byte("new"), 5)
	l2.Put([]byte("z"), []byte("zval"), 5)

	sources := []HeapSource{
		{It: l2.All(), Idx: 0, Level: 0},
		{It: l1.All(), Idx: 1, Level: 0},
	}

	h := NewHeapIterator(sources, 0)
	require.True(t, h.Valid())
	k, v := h.KeyValue()
	require.Equal(t, "k", string(k))
	require.Equal(t, "new", string(v))

	h.Next()
	require.True(t, h.Valid())
	k, v = h.KeyValue()
	require.Equal(t, "z", string(k))
	require.Equal(t, "zval", string(v))

	h.Next()
	require.False(t, h.Valid())
}

func TestHeapIteratorSkipsTombstones(t *testing.T) {
	l := skiplist.New(0)
	l.Put([]byte("k"), []byte(""), 1) // tombstone
	l.Put([]byte("j"), []byte("v"), 1)

	h := NewHeapIterator([]HeapSource{{It: l.All(), Idx: 0, Level: 0}}, 0)
	var keys []string
	for h.Valid() {
		k, _ := h.KeyValue()
		keys = append(keys, string(k))
		h.Next()
	}
	require.Equal(t, []string{"j"}, keys)
}

func TestHeapIteratorMVCCVisibility(t *testing.T) {
	l := skiplist.New(0)
	l.Put([]byte("k"), []byte("v10"), 10)
	l.Put([]byte("k"), []byte("v5"), 5)

	h := NewHeapIterator([]HeapSource{{It: l.All(), Idx: 0, Level: 0}}, 7)
	require.True(t, h.Valid())
	_, v := h.KeyValue()
	require.Equal(t, "v5", string(v))
}

func TestTwoMergeIteratorAPrecedence(t *testing.T) {
	la := skiplist.New(0)
	la.Put([]byte("k"), []byte("from-a"), 0)
	lb := skiplist.New(0)
	lb.Put([]byte("k"), []byte("from-b"), 0)
	lb.Put([]byte("m"), []byte("only-b"), 0)

	tm := NewTwoMergeIterator(la.All(), lb.All())
	k, v := tm.KeyValue()
	require.Equal(t, "k", string(k))
	require.Equal(t, "from-a", string(v))

	tm.Next()
	k, v = tm.KeyValue()
	require.Equal(t, "m", string(k))
	require.Equal(t, "only-b", string(v))

	tm.Next()
	require.False(t, tm.Valid())
}
