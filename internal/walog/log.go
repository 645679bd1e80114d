package walog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
)

const (
	// DefaultMaxSegmentSize rotates to a fresh segment once the active
	// one crosses this size.
	DefaultMaxSegmentSize = 64 << 20

	// DefaultKeepSegments is how many segment files a rotation leaves
	// behind once nothing older is needed.
	DefaultKeepSegments = 3

	segmentPrefix = "walog"
)

// Log is an append-only, segmented, CRC-checked redo log. A single
// Log instance owns one base directory and a monotonically increasing
// LSN counter recovered from existing segments at Open time.
type Log struct {
	dir string

	mu      sync.Mutex
	fd      *os.File
	segment int
	size    int64
	closed  bool

	lsn atomic.Uint64

	MaxSegmentSize int64
	KeepSegments   int
}

// Open opens or creates the log rooted at dir, recovering the highest
// LSN seen across any existing segments so NextLSN continues where a
// prior process left off.
func Open(dir string) (*Log, error) {
	l := &Log{
		dir:            dir,
		MaxSegmentSize: DefaultMaxSegmentSize,
		KeepSegments:   DefaultKeepSegments,
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("walog: mkdir: %w", err)
	}

	segments, err := l.segmentFiles()
	if err != nil {
		return nil, err
	}

	if len(segments) == 0 {
		if err := l.createSegment(0); err != nil {
			return nil, err
		}
		return l, nil
	}

	last := segments[len(segments)-1]
	fd, err := os.OpenFile(last, os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("walog: open segment: %w", err)
	}
	stat, err := fd.Stat()
	if err != nil {
		fd.Close()
		return nil, err
	}

	l.fd = fd
	l.size = stat.Size()
	fmt.Sscanf(filepath.Base(last), segmentPrefix+".%d", &l.segment)

	maxLSN, err := l.scanHighestLSN(segments)
	if err != nil {
		fd.Close()
		return nil, err
	}
	l.lsn.Store(maxLSN)

	return l, nil
}

// NextLSN reserves and returns the next log sequence number.
func (l *Log) NextLSN() uint64 { return l.lsn.Add(1) }

// Append writes entry to the active segment, rotating first if the
// write would cross MaxSegmentSize.
func (l *Log) Append(e *Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}

	data := e.Encode()
	if l.size+int64(len(data)) > l.MaxSegmentSize {
		if err := l.rotateLocked(); err != nil {
			return err
		}
	}

	n, err := l.fd.Write(data)
	if err != nil {
		return fmt.Errorf("walog: write: %w", err)
	}
	l.size += int64(n)
	return nil
}

// Sync fsyncs the active segment.
func (l *Log) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	return l.fd.Sync()
}

// Close closes the active segment. Further Append/Sync calls fail.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.fd.Close()
}

func (l *Log) rotateLocked() error {
	if err := l.fd.Sync(); err != nil {
		return fmt.Errorf("walog: sync before rotate: %w", err)
	}
	if err := l.fd.Close(); err != nil {
		return fmt.Errorf("walog: close before rotate: %w", err)
	}
	l.segment++
	if err := l.createSegment(l.segment); err != nil {
		return err
	}
	return l.pruneLocked()
}

func (l *Log) createSegment(index int) error {
	path := l.segmentPath(index)
	fd, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("walog: create segment: %w", err)
	}
	l.fd = fd
	l.size = 0
	l.segment = index
	return nil
}

// pruneLocked removes segments older than the KeepSegments most
// recent ones. Safe to call only once the replay up to a checkpoint
// no longer needs them; callers that checkpoint call Prune explicitly
// instead of relying on rotation alone.
func (l *Log) pruneLocked() error {
	segments, err := l.segmentFiles()
	if err != nil {
		return err
	}
	if len(segments) <= l.KeepSegments {
		return nil
	}
	for _, f := range segments[:len(segments)-l.KeepSegments] {
		os.Remove(f)
	}
	return nil
}

// Prune removes all but the KeepSegments most recent segment files.
// Callers invoke this after a checkpoint has made the older segments'
// entries irrelevant to recovery.
func (l *Log) Prune() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pruneLocked()
}

func (l *Log) segmentPath(index int) string {
	return filepath.Join(l.dir, fmt.Sprintf("%s.%06d", segmentPrefix, index))
}

func (l *Log) segmentFiles() ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("walog: read dir: %w", err)
	}

	var files []string
	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		var idx int
		if _, err := fmt.Sscanf(ent.Name(), segmentPrefix+".%d", &idx); err == nil {
			files = append(files, filepath.Join(l.dir, ent.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

func (l *Log) scanHighestLSN(segments []string) (uint64, error) {
	var max uint64
	for _, path := range segments {
		fd, err := os.Open(path)
		if err != nil {
			return 0, err
		}
		r := &segmentReader{fd: fd}
		for {
			e, err := r.next()
			if err == io.EOF {
				break
			}
			if err != nil {
				// A torn write at the tail of the last segment is
				// expected after an unclean shutdown; stop scanning
				// this file rather than treating it as fatal.
				break
			}
			if e.LSN > max {
				max = e.LSN
			}
		}
		fd.Close()
	}
	return max, nil
}
