package walog

import "errors"

var (
	// ErrCorrupted is returned for an entry whose trailing CRC32 does
	// not match its bytes.
	ErrCorrupted = errors.New("walog: corrupted entry")

	// ErrTruncated is returned for an entry cut short by a crash
	// mid-write.
	ErrTruncated = errors.New("walog: truncated entry")

	// ErrClosed is returned for any operation on a closed Log.
	ErrClosed = errors.New("walog: log closed")

	// ErrNoSegments is returned by Recover when no log segments exist
	// yet; callers should treat it as a fresh store, not a failure.
	ErrNoSegments = errors.New("walog: no log segments")
)
