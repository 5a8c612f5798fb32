package sst

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lsmkv/lsmkv/cache"
)

func buildTestSST(t *testing.T, dir string, id uint32, opts BuilderOptions, n int) *SST {
	t.Helper()
	b := NewBuilder(opts)
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("k%05d", i))
		val := []byte(fmt.Sprintf("v%05d", i))
		require.NoError(t, b.Add(key, val, 0))
	}
	path := filepath.Join(dir, fmt.Sprintf("sst_%04d", id))
	s, err := b.Build(id, path, cache.New(64, 2))
	require.NoError(t, err)
	return s
}

func TestBuilderEmptyRefused(t *testing.T) {
	dir := t.TempDir()
	b := NewBuilder(DefaultBuilderOptions())
	_, err := b.Build(1, filepath.Join(dir, "sst_0001"), nil)
	require.Error(t, err)
}

func TestSSTGetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	opts := DefaultBuilderOptions()
	opts.BlockCapacity = 64 // force multiple blocks
	s := buildTestSST(t, dir, 1, opts, 200)
	defer s.Close()

	for i := 0; i < 200; i += 17 {
		key := []byte(fmt.Sprintf("k%05d", i))
		rec, ok, err := s.Get(key, 0)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, fmt.Sprintf("v%05d", i), string(rec.Value))
	}

	_, ok, err := s.Get([]byte("zzzzz"), 0)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSSTBloomSoundness(t *testing.T) {
	dir := t.TempDir()
	opts := DefaultBuilderOptions()
	s := buildTestSST(t, dir, 1, opts, 50)
	defer s.Close()

	for i := 0; i < 50; i++ {
		key := []byte(fmt.Sprintf("k%05d", i))
		require.True(t, s.bloom.MayContain(key))
	}
}

func TestSSTBlockCohesionAcrossVersions(t *testing.T) {
	dir := t.TempDir()
	opts := DefaultBuilderOptions()
	opts.BlockCapacity = 32
	b := NewBuilder(opts)

	require.NoError(t, b.Add([]byte("k"), []byte("v1"), 3))
	require.NoError(t, b.Add([]byte("k"), []byte("v2"), 2))
	require.NoError(t, b.Add([]byte("k"), []byte("v3longvaluepadding"), 1))
	require.NoError(t, b.Add([]byte("z"), []byte("zval"), 0))

	s, err := b.Build(1, filepath.Join(dir, "sst_0001"), cache.New(8, 2))
	require.NoError(t, err)
	defer s.Close()

	blk, err := s.ReadBlock(0)
	require.NoError(t, err)
	require.GreaterOrEqual(t, blk.Count(), 3)
}

func TestSSTMinMaxTrancID(t *testing.T) {
	dir := t.TempDir()
	b := NewBuilder(DefaultBuilderOptions())
	require.NoError(t, b.Add([]byte("a"), []byte("1"), 5))
	require.NoError(t, b.Add([]byte("b"), []byte("2"), 9))
	require.NoError(t, b.Add([]byte("c"), []byte("3"), 1))

	s, err := b.Build(1, filepath.Join(dir, "sst_0001"), cache.New(8, 2))
	require.NoError(t, err)
	defer s.Close()

	require.Equal(t, uint64(1), s.MinTrancID())
	require.Equal(t, uint64(9), s.MaxTrancID())
}
