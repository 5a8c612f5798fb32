package wal

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWALLogAndRecover(t *testing.T) {
	dir := t.TempDir()

	w, err := Open(dir, 2, DefaultFileSizeLimit)
	require.NoError(t, err)

	require.NoError(t, w.Log([]Record{{TrancID: 1, Op: OpCreate}}, false))
	require.NoError(t, w.Log([]Record{
		{TrancID: 1, Op: OpPut, Key: []byte("a"), Value: []byte("1")},
		{TrancID: 1, Op: OpCommit},
	}, true))
	require.NoError(t, w.Log([]Record{{TrancID: 2, Op: OpCreate}}, false))
	require.NoError(t, w.Log([]Record{
		{TrancID: 2, Op: OpPut, Key: []byte("b"), Value: []byte("2")},
	}, true))
	require.NoError(t, w.Close())

	buckets, err := Recover(dir, 0)
	require.NoError(t, err)
	require.Len(t, buckets, 2)
	require.Len(t, buckets[1], 3)
	require.Len(t, buckets[2], 2)

	committed := CommittedTransactions(buckets)
	require.Len(t, committed, 1)
	require.Contains(t, committed, uint64(1))
}

func TestWALRecoverIgnoresFlushedTrancIDs(t *testing.T) {
	dir := t.TempDir()

	w, err := Open(dir, 1, DefaultFileSizeLimit)
	require.NoError(t, err)
	require.NoError(t, w.Log([]Record{{TrancID: 1, Op: OpCreate}}, true))
	require.NoError(t, w.Log([]Record{{TrancID: 2, Op: OpCreate}}, true))
	require.NoError(t, w.Close())

	buckets, err := Recover(dir, 1)
	require.NoError(t, err)
	require.NotContains(t, buckets, uint64(1))
	require.Contains(t, buckets, uint64(2))
}

func TestWALSegmentRotation(t *testing.T) {
	dir := t.TempDir()

	w, err := Open(dir, 1, 16)
	require.NoError(t, err)

	for i := uint64(0); i < 5; i++ {
		require.NoError(t, w.Log([]Record{{TrancID: i, Op: OpCreate}}, true))
	}
	require.NoError(t, w.Close())

	seqs, err := listSegmentSeqs(dir)
	require.NoError(t, err)
	require.Greater(t, len(seqs), 1)

	// The record with tranc_id 0 is not above the watermark of 0, so only
	// tranc_ids 1..4 are bucketed.
	buckets, err := Recover(dir, 0)
	require.NoError(t, err)
	require.Len(t, buckets, 4)
}

func TestWALResetClearsSegments(t *testing.T) {
	dir := t.TempDir()

	w, err := Open(dir, 1, DefaultFileSizeLimit)
	require.NoError(t, err)
	require.NoError(t, w.Log([]Record{{TrancID: 1, Op: OpCreate}}, true))
	require.NoError(t, w.Reset())
	require.NoError(t, w.Close())

	buckets, err := Recover(dir, 0)
	require.NoError(t, err)
	require.Empty(t, buckets)

	seqs, err := listSegmentSeqs(dir)
	require.NoError(t, err)
	require.Equal(t, []int{0}, seqs)
}
