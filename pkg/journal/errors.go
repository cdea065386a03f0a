package journal

import (
	"errors"
	"fmt"
)

// Common journal errors. File I/O failures are wrapped with the offending
// path; precondition violations use the sentinels below so callers can match
// with errors.Is.
var (
	// ErrInvalidCount is returned when a step count does not satisfy an
	// operation's precondition (e.g. removing more entries than exist, or
	// squashing fewer than two).
	ErrInvalidCount = errors.New("journal: invalid transaction count")

	// ErrInvalidUndo is returned when undo is requested at genesis or for
	// more steps than have been applied.
	ErrInvalidUndo = errors.New("journal: invalid undo step count")

	// ErrInvalidRedo is returned when redo is requested for more steps than
	// the undo journal holds.
	ErrInvalidRedo = errors.New("journal: invalid redo step count")

	// ErrEmptyUndoLog is returned when redo is requested but nothing has
	// been undone.
	ErrEmptyUndoLog = errors.New("journal: undo journal is empty")

	// ErrInvalidSquash is returned when the squash count exceeds the number
	// of applied transactions.
	ErrInvalidSquash = errors.New("journal: squash count exceeds history")

	// ErrLogInconsistency is returned when the journal holds fewer trailing
	// entries than the database claims should exist.
	ErrLogInconsistency = errors.New("journal: log shorter than requested range")

	// ErrLogDBMismatch is returned when journal and database disagree on a
	// transaction hash for a shared id. Squash refuses to merge divergent
	// history.
	ErrLogDBMismatch = errors.New("journal: log and database hashes diverge")

	// ErrVersionMismatch is returned when redo would replay onto a version
	// that is no longer the one the undo was taken from.
	ErrVersionMismatch = errors.New("journal: workspace version changed since undo")
)

// ParseError reports a malformed JSON line. Forward scans tag it with the
// 1-based line number so verification can pinpoint it; backward scans, which
// do not know line numbers, tag the byte offset instead (Line is 0).
type ParseError struct {
	Path   string
	Line   int
	Offset int64
	Err    error
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("journal: parse error at %s:%d: %v", e.Path, e.Line, e.Err)
	}
	return fmt.Sprintf("journal: parse error at %s offset %d: %v", e.Path, e.Offset, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ChainError reports broken hash-chain linkage: the transaction at ID carries
// a previous hash that does not match its predecessor's hash.
type ChainError struct {
	ID       int64
	Expected string
	Actual   string
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("journal: chain broken at transaction %d: previous %s, expected %s",
		e.ID, e.Actual, e.Expected)
}

// HashMismatchError reports that a transaction's stored hash disagrees with
// the hash recomputed from its canonical serialization.
type HashMismatchError struct {
	ID       int64
	Stored   string
	Computed string
}

func (e *HashMismatchError) Error() string {
	return fmt.Sprintf("journal: hash mismatch at transaction %d: stored %s, computed %s",
		e.ID, e.Stored, e.Computed)
}
