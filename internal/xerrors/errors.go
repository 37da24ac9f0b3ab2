// Package xerrors collects the sentinel errors shared by the cache core
// and the certifier, plus a wrapping type that keeps an operation name
// alongside the underlying cause.
package xerrors

import (
	"github.com/pkg/errors"
)

var (
	// Block-level errors.
	ErrBlockNotFound  = errors.New("block not found in cache")
	ErrBlockPinned    = errors.New("block is pinned")
	ErrBlockCorrupted = errors.New("block content failed validation")
	ErrInvalidLength  = errors.New("invalid block length")

	// Controller-level errors.
	ErrCacheFull     = errors.New("cache has no free blocks")
	ErrInvalidConfig = errors.New("invalid cache configuration")
	ErrIOError       = errors.New("storage I/O error")
	ErrFlushFailed   = errors.New("failed to flush dirty block")
	ErrResizeInFlush = errors.New("cache is being resized")
	ErrShuttingDown  = errors.New("cache is shutting down")

	// Lock-lattice errors (page cache).
	ErrLockIncompatible = errors.New("requested lock mode incompatible with held lock")
	ErrNotPinned        = errors.New("block is not pinned by caller")

	// Concurrency errors.
	ErrDeadlock = errors.New("deadlock detected")
	ErrTimeout  = errors.New("operation timed out")

	// Certifier errors.
	ErrTransactionConflict = errors.New("transaction conflicts with a certified write set")
	ErrUnknownView         = errors.New("unknown view identifier")
	ErrPacketTooLarge      = errors.New("recovery packet exceeds maximum compressed size")
	ErrGTIDExhausted       = errors.New("GTID assignment block exhausted")
)

// OpError wraps an error with the name of the operation that produced it,
// preserving the original cause for errors.Is/errors.As and keeping the
// stack trace github.com/pkg/errors attaches at the point of Wrap.
type OpError struct {
	Op  string
	Err error
}

func (e *OpError) Error() string {
	if e.Err == nil {
		return e.Op
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// Wrap builds an OpError, attaching a stack trace at the point of the
// call (errors.WithStack adds one even if err already carries one).
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Op: op, Err: errors.WithStack(err)}
}

func Is(err, target error) bool {
	return errors.Is(err, target)
}

func IsNotFound(err error) bool      { return errors.Is(err, ErrBlockNotFound) }
func IsPinned(err error) bool        { return errors.Is(err, ErrBlockPinned) }
func IsCorrupted(err error) bool     { return errors.Is(err, ErrBlockCorrupted) }
func IsCacheFull(err error) bool     { return errors.Is(err, ErrCacheFull) }
func IsIOError(err error) bool       { return errors.Is(err, ErrIOError) }
func IsDeadlock(err error) bool      { return errors.Is(err, ErrDeadlock) }
func IsTimeout(err error) bool       { return errors.Is(err, ErrTimeout) }
func IsConflict(err error) bool      { return errors.Is(err, ErrTransactionConflict) }
func IsResizeInFlush(err error) bool { return errors.Is(err, ErrResizeInFlush) }
