package cache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCachePutGetConsistency(t *testing.T) {
	c := New(4, 2)
	k := Key{SSTID: 1, BlockIdx: 0}
	c.Put(k, []byte("block-bytes"))

	got, ok := c.Get(k)
	require.True(t, ok)
	require.Equal(t, []byte("block-bytes"), got)
}

func TestCacheMissOnUnknownKey(t *testing.T) {
	c := New(4, 2)
	_, ok := c.Get(Key{SSTID: 9, BlockIdx: 9})
	require.False(t, ok)
}

func TestCacheEvictsLessKBeforeGeK(t *testing.T) {
	c := New(2, 2)

	kA := Key{SSTID: 1, BlockIdx: 0}
	kB := Key{SSTID: 1, BlockIdx: 1}
	kC := Key{SSTID: 1, BlockIdx: 2}

	c.Put(kA, "a")
	c.Put(kB, "b")

	// Promote kB to ge_k by accessing it k times.
	c.Get(kB)
	c.Get(kB)

	// kA is still in less_k; inserting kC should evict kA, not kB.
	c.Put(kC, "c")

	_, ok := c.Get(kA)
	require.False(t, ok)

	v, ok := c.Get(kB)
	require.True(t, ok)
	require.Equal(t, "b", v)
}

func TestCacheHitRate(t *testing.T) {
	c := New(4, 2)
	require.Equal(t, 0.0, c.HitRate())

	k := Key{SSTID: 1, BlockIdx: 0}
	c.Put(k, "v")
	c.Get(k)
	c.Get(Key{SSTID: 2, BlockIdx: 0})

	require.InDelta(t, 0.5, c.HitRate(), 1e-9)
}
