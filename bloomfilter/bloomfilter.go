// Package bloomfilter implements a probabilistic membership test over SST
// keys. The on-disk layout is part of the SST format (§6): expected
// elements, false-positive rate, bit count, hash count, then the bit array
// itself, LSB-first within each byte.
//
// Bit storage is a github.com/bits-and-blooms/bitset.BitSet; the
// double-hashing scheme and the byte-exact wire layout are hand-rolled
// because the wire format (h1 + i*h2, explicit num_bits/num_hashes) must
// round-trip byte for byte (see DESIGN.md for why
// github.com/bits-and-blooms/bloom/v3 itself could not be wired here).
package bloomfilter

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/bits-and-blooms/bitset"
	"github.com/cespare/xxhash/v2"

	"github.com/lsmkv/lsmkv/errs"
)

// Filter is a Bloom filter with a fixed bit count and hash count, sized for
// an expected element count and target false-positive rate.
type Filter struct {
	expectedElements uint64
	fpr              float64
	numBits          uint64
	numHashes        uint64
	bits             *bitset.BitSet
}

// New sizes a filter for expectedElements items at the given false-positive
// rate, following the standard optimal-size formulas.
func New(expectedElements uint64, fpr float64) *Filter {
	if expectedElements == 0 {
		expectedElements = 1
	}
	if fpr <= 0 || fpr >= 1 {
		fpr = 0.01
	}

	m := optimalNumBits(expectedElements, fpr)
	k := optimalNumHashes(m, expectedElements)

	return &Filter{
		expectedElements: expectedElements,
		fpr:              fpr,
		numBits:          m,
		numHashes:        k,
		bits:             bitset.New(uint(m)),
	}
}

func optimalNumBits(n uint64, fpr float64) uint64 {
	m := -float64(n) * math.Log(fpr) / (math.Ln2 * math.Ln2)
	if m < 1 {
		m = 1
	}
	return uint64(math.Ceil(m))
}

func optimalNumHashes(m, n uint64) uint64 {
	k := float64(m) / float64(n) * math.Ln2
	if k < 1 {
		k = 1
	}
	return uint64(math.Round(k))
}

func h1(key []byte) uint64 {
	return xxhash.Sum64(key)
}

func h2(key []byte) uint64 {
	buf := make([]byte, 0, len(key)+5)
	buf = append(buf, key...)
	buf = append(buf, "salt"...)
	return xxhash.Sum64(buf)
}

func (f *Filter) bitIndex(key []byte, i uint64) uint64 {
	if f.numBits == 0 {
		return 0
	}
	return (h1(key) + i*h2(key)) % f.numBits
}

// Add inserts key into the filter.
func (f *Filter) Add(key []byte) {
	for i := uint64(0); i < f.numHashes; i++ {
		f.bits.Set(uint(f.bitIndex(key, i)))
	}
}

// MayContain reports whether key is possibly present. A false result proves
// absence; a true result is only probabilistic.
func (f *Filter) MayContain(key []byte) bool {
	for i := uint64(0); i < f.numHashes; i++ {
		if !f.bits.Test(uint(f.bitIndex(key, i))) {
			return false
		}
	}
	return true
}

// Encode serializes the filter per §6: expected_elements u64 | fpr f64 |
// num_bits u64 | num_hashes u64 | bits (ceil(num_bits/8) bytes, LSB-first).
func (f *Filter) Encode() []byte {
	numBytes := (f.numBits + 7) / 8
	buf := make([]byte, 8+8+8+8+numBytes)

	binary.LittleEndian.PutUint64(buf[0:8], f.expectedElements)
	binary.LittleEndian.PutUint64(buf[8:16], math.Float64bits(f.fpr))
	binary.LittleEndian.PutUint64(buf[16:24], f.numBits)
	binary.LittleEndian.PutUint64(buf[24:32], f.numHashes)

	bitBytes := buf[32:]
	for i := uint(0); i < uint(f.numBits); i++ {
		if f.bits.Test(i) {
			bitBytes[i/8] |= 1 << (i % 8)
		}
	}

	return buf
}

// Decode parses the wire format produced by Encode.
func Decode(data []byte) (*Filter, error) {
	const op = "bloomfilter.Decode"
	if len(data) < 32 {
		return nil, errs.New(op, errs.KindCorruption)
	}

	expectedElements := binary.LittleEndian.Uint64(data[0:8])
	fpr := math.Float64frombits(binary.LittleEndian.Uint64(data[8:16]))
	numBits := binary.LittleEndian.Uint64(data[16:24])
	numHashes := binary.LittleEndian.Uint64(data[24:32])

	numBytes := (numBits + 7) / 8
	bitBytes := data[32:]
	if uint64(len(bitBytes)) < numBytes {
		return nil, errs.New(op, errs.KindCorruption)
	}

	bits := bitset.New(uint(numBits))
	for i := uint(0); i < uint(numBits); i++ {
		if bitBytes[i/8]&(1<<(i%8)) != 0 {
			bits.Set(i)
		}
	}

	return &Filter{
		expectedElements: expectedElements,
		fpr:              fpr,
		numBits:          numBits,
		numHashes:        numHashes,
		bits:             bits,
	}, nil
}

// Equal reports whether two filters encode to the same bytes.
func (f *Filter) Equal(other *Filter) bool {
	return bytes.Equal(f.Encode(), other.Encode())
}
