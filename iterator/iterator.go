// Package iterator implements the iterator stack (§4.6): a uniform
// interface over block, SST, concat, heap-merge, and two-merge cursors
// that fuses memtable and on-disk reads into one ordered stream.
//
// Per §9's design note, the "dynamic-dispatch iterator base" in the
// source maps to a closed set of concrete Go types structurally
// satisfying one interface — not virtual inheritance.
package iterator

// Iterator is the capability set every cursor in the stack implements.
type Iterator interface {
	Next()
	Valid() bool
	End() bool
	KeyValue() ([]byte, []byte)
	TrancID() uint64
	Type() string
}

// MaxTrancID carries the visibility bound every iterator in the stack
// filters against (§4.6). 0 means "no MVCC filtering, read latest".
type MaxTrancID = uint64
