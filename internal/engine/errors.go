package engine

import (
	"errors"

	"github.com/nainya/emberkv/internal/blockmgr"
	"github.com/nainya/emberkv/internal/evict"
	"github.com/nainya/emberkv/internal/mvcc"
)

// Kind classifies an error the way a caller across a process boundary
// needs to, independent of the Go error chain that produced it.
type Kind int

const (
	KindOK Kind = iota
	KindNotFound
	KindWriteConflict
	KindCacheOverflow
	KindOldestForEviction
	KindPrepareConflict
	KindBusy
	KindCorruption
	KindIO
	KindInvalidArgument
	KindPanic
)

func (k Kind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindNotFound:
		return "not_found"
	case KindWriteConflict:
		return "write_conflict"
	case KindCacheOverflow:
		return "cache_overflow"
	case KindOldestForEviction:
		return "oldest_for_eviction"
	case KindPrepareConflict:
		return "prepare_conflict"
	case KindBusy:
		return "busy"
	case KindCorruption:
		return "corruption"
	case KindIO:
		return "io"
	case KindInvalidArgument:
		return "invalid_argument"
	case KindPanic:
		return "panic"
	default:
		return "unknown"
	}
}

// ExitCode maps Kind to the process exit code cmd/emberkv reports: 0
// for success and a non-zero code for every failure kind, with
// OldestForEviction and CacheOverflow sharing one code.
func (k Kind) ExitCode() int {
	switch k {
	case KindOK:
		return 0
	case KindBusy:
		return 16 // EBUSY
	case KindNotFound:
		return 2 // ENOENT
	case KindInvalidArgument:
		return 22 // EINVAL
	case KindWriteConflict:
		return 64
	case KindOldestForEviction, KindCacheOverflow:
		// callers see these as the same family of forced rollback;
		// cmd/emberkv doesn't distinguish them in its exit code.
		return 65
	case KindPrepareConflict:
		return 66
	case KindCorruption:
		return 70
	case KindIO:
		return 74
	case KindPanic:
		return 255
	default:
		return 1
	}
}

// ClassifyError maps an error returned from Session/Engine calls to
// its Kind, by walking the same sentinel/typed errors the underlying
// packages already define rather than inventing a parallel error type
// those packages would need to know about.
func ClassifyError(err error) Kind {
	if err == nil {
		return KindOK
	}

	switch {
	case errors.Is(err, mvcc.ErrWriteConflict):
		return KindWriteConflict
	case errors.Is(err, mvcc.ErrPrepareConflict):
		return KindPrepareConflict
	}

	var rollback *mvcc.ErrRollback
	if errors.As(err, &rollback) {
		switch rollback.Reason {
		case mvcc.RollbackWriteConflict:
			return KindWriteConflict
		case mvcc.RollbackCacheOverflow:
			return KindCacheOverflow
		default:
			return KindInvalidArgument
		}
	}

	var assist *evict.ErrRollbackRequired
	if errors.As(err, &assist) {
		return KindCacheOverflow
	}

	var corrupt *blockmgr.Corruption
	if errors.As(err, &corrupt) {
		return KindCorruption
	}

	return KindIO
}

// LastError is the (Kind, error) pair a Session remembers after an API
// call fails, the numeric-code-plus-message side channel spec.md §7
// describes as get_last_error.
type LastError struct {
	Kind Kind
	Err  error
}

func (e LastError) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Err.Error()
}

// recordErr classifies err, stashes it as the session's last error,
// and returns err unchanged so call sites can still `return s.recordErr(err)`.
func (s *Session) recordErr(err error) error {
	if err == nil {
		s.lastErr = LastError{}
		return nil
	}
	s.lastErr = LastError{Kind: ClassifyError(err), Err: err}
	return err
}

// LastError returns the most recent error this session recorded, the
// zero value if every call so far has succeeded.
func (s *Session) LastError() LastError {
	return s.lastErr
}

// Poisoned reports whether this session's last error is any Kind other
// than NotFound. No other Session method consults it: later calls on
// the session are not refused after such an error, and run as usual.
func (s *Session) Poisoned() bool {
	return s.lastErr.Err != nil && s.lastErr.Kind != KindNotFound
}
