package block

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lsmkv/lsmkv/kv"
)

func TestBlockAppendAndEncodeDecodeRoundTrip(t *testing.T) {
	b := New(DefaultCapacity)

	require.True(t, b.Append([]byte("a"), []byte("1"), 5, false))
	require.True(t, b.Append([]byte("b"), []byte("2"), 3, false))
	require.True(t, b.Append([]byte("c"), []byte(""), 1, false))

	encoded := b.Encode()

	decoded, err := Decode(encoded, false)
	require.NoError(t, err)
	require.Equal(t, b.Count(), decoded.Count())

	for i := 0; i < b.Count(); i++ {
		want, err := b.At(i)
		require.NoError(t, err)
		got, err := decoded.At(i)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestBlockDecodeWithHashDetectsCorruption(t *testing.T) {
	b := New(DefaultCapacity)
	require.True(t, b.Append([]byte("k"), []byte("v"), 1, false))

	encoded := b.Encode()
	var hashed []byte
	hashed = append(hashed, encoded...)
	hashed = append(hashed, 0, 0, 0, 0) // wrong checksum

	_, err := Decode(hashed, true)
	require.Error(t, err)
}

func TestBlockAppendRejectsOverCapacityUnlessForced(t *testing.T) {
	b := New(16)
	require.True(t, b.Append([]byte("key1"), []byte("value1"), 1, false))
	require.False(t, b.Append([]byte("key2"), []byte("value2value2"), 1, false))
	require.True(t, b.Append([]byte("key2"), []byte("value2value2"), 1, true))
}

func TestBlockBinarySearchMVCCVisibility(t *testing.T) {
	b := New(DefaultCapacity)
	require.True(t, b.Append([]byte("k"), []byte("v10"), 10, false))
	require.True(t, b.Append([]byte("k"), []byte("v5"), 5, false))
	require.True(t, b.Append([]byte("k"), []byte("v1"), 1, false))

	idx, ok := b.BinarySearch([]byte("k"), 0)
	require.True(t, ok)
	rec, _ := b.At(idx)
	require.Equal(t, kv.Record{Key: []byte("k"), Value: []byte("v10"), TrancID: 10}, rec)

	idx, ok = b.BinarySearch([]byte("k"), 7)
	require.True(t, ok)
	rec, _ = b.At(idx)
	require.Equal(t, uint64(5), rec.TrancID)

	idx, ok = b.BinarySearch([]byte("k"), 1)
	require.True(t, ok)
	rec, _ = b.At(idx)
	require.Equal(t, uint64(1), rec.TrancID)

	_, ok = b.BinarySearch([]byte("missing"), 0)
	require.False(t, ok)
}

func TestBlockPredicateRange(t *testing.T) {
	b := New(DefaultCapacity)
	for _, k := range []string{"a", "b", "c", "d", "e"} {
		require.True(t, b.Append([]byte(k), []byte(k), 0, false))
	}

	// match b..d inclusive
	pred := func(key []byte) int {
		k := string(key)
		switch {
		case k < "b":
			return -1
		case k > "d":
			return 1
		default:
			return 0
		}
	}

	start, end := b.PredicateRange(pred)
	require.Equal(t, 1, start)
	require.Equal(t, 4, end)
}
