package lsm

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func smallOptions() Options {
	o := DefaultOptions()
	o.MemLimit = 512
	o.L0Threshold = 2
	o.LevelRatio = 2
	o.CacheCapacity = 64
	return o
}

func TestEnginePutGetRemove(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(dir, DefaultOptions())
	require.NoError(t, err)
	defer e.Close()

	require.NoError(t, e.Put([]byte("k"), []byte("v1"), 0))
	rec, ok, err := e.Get([]byte("k"), 0)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v1", string(rec.Value))

	require.NoError(t, e.Put([]byte("k"), []byte("v2"), 0))
	rec, ok, err = e.Get([]byte("k"), 0)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v2", string(rec.Value))

	require.NoError(t, e.Remove([]byte("k"), 0))
	_, ok, err = e.Get([]byte("k"), 0)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestEngineFlushAndReadFromSST(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(dir, smallOptions())
	require.NoError(t, err)
	defer e.Close()

	for i := 0; i < 50; i++ {
		require.NoError(t, e.Put([]byte(fmt.Sprintf("key-%03d", i)), []byte(fmt.Sprintf("val-%03d", i)), 0))
	}

	rec, ok, err := e.Get([]byte("key-005"), 0)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "val-005", string(rec.Value))
}

func TestEngineReadAfterCompaction(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(dir, smallOptions())
	require.NoError(t, err)
	defer e.Close()

	for i := 0; i < 400; i++ {
		require.NoError(t, e.Put([]byte(fmt.Sprintf("k%04d", i)), []byte(fmt.Sprintf("v%04d", i)), 0))
	}

	rec, ok, err := e.Get([]byte("k0200"), 0)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v0200", string(rec.Value))
}

func TestEngineReopenRecoversSSTs(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(dir, smallOptions())
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		require.NoError(t, e.Put([]byte(fmt.Sprintf("key-%03d", i)), []byte(fmt.Sprintf("val-%03d", i)), 0))
	}
	require.NoError(t, e.Close())

	e2, err := Open(dir, smallOptions())
	require.NoError(t, err)
	defer e2.Close()

	rec, ok, err := e2.Get([]byte("key-010"), 0)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "val-010", string(rec.Value))
}

func TestEngineIterPredicate(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(dir, smallOptions())
	require.NoError(t, err)
	defer e.Close()

	for i := 0; i < 60; i++ {
		require.NoError(t, e.Put([]byte(fmt.Sprintf("k%03d", i)), []byte(fmt.Sprintf("v%03d", i)), 0))
	}

	pred := func(key []byte) int {
		k := string(key)
		switch {
		case k < "k010":
			return -1
		case k > "k015":
			return 1
		default:
			return 0
		}
	}

	it, err := e.IterPredicate(0, pred)
	require.NoError(t, err)

	var keys []string
	for it.Valid() {
		k, _ := it.KeyValue()
		keys = append(keys, string(k))
		it.Next()
	}
	require.Equal(t, []string{"k010", "k011", "k012", "k013", "k014", "k015"}, keys)
}
