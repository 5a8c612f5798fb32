// Package errs defines the error kinds shared across every storage-engine
// component, in place of per-package sentinel errors.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a failure the way §7 of the engine design groups them:
// by semantics, not by call site.
type Kind int

const (
	// KindOther is the zero value for errors that do not fit a named kind.
	KindOther Kind = iota
	// KindCorruption covers hash mismatches and truncated/malformed on-disk data.
	KindCorruption
	// KindIO covers underlying file read/write/fsync failures.
	KindIO
	// KindNotFound covers a get() with no visible live version. Callers
	// generally treat this as a normal absence, not a propagated error.
	KindNotFound
	// KindConflict covers a transaction commit whose version check failed.
	KindConflict
	// KindEmptySst covers building an SST with no buffered entries.
	KindEmptySst
	// KindOutOfRange covers dereferencing an iterator past its end.
	KindOutOfRange
)

func (k Kind) String() string {
	switch k {
	case KindCorruption:
		return "corruption"
	case KindIO:
		return "io"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindEmptySst:
		return "empty_sst"
	case KindOutOfRange:
		return "out_of_range"
	default:
		return "other"
	}
}

// Error wraps an underlying failure with the component operation that
// produced it and the Kind a caller should branch on.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error for op/kind with no wrapped cause.
func New(op string, kind Kind) error {
	return &Error{Op: op, Kind: kind}
}

// Wrap builds an *Error for op/kind wrapping err. Returns nil if err is nil.
func Wrap(op string, kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Kind: kind, Err: err}
}

// Is reports whether err (or anything it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
