// Package fileio is the file handle + OS layer: positional read/write,
// fsync, mmap and advisory locking for a single database object file.
package fileio

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// Kind classifies an I/O failure so callers can tell retriable
// conditions (EINTR) from the rest, per the error taxonomy.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindExists
	KindInterrupted
	KindNoSpace
	KindPermission
)

// Error wraps an underlying OS error with a Kind.
type Error struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("fileio: %s: %v", e.Op, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	k := KindUnknown
	switch {
	case os.IsNotExist(err):
		k = KindNotFound
	case os.IsExist(err):
		k = KindExists
	case os.IsPermission(err):
		k = KindPermission
	case err == unix.EINTR:
		k = KindInterrupted
	case err == unix.ENOSPC:
		k = KindNoSpace
	}
	return &Error{Op: op, Kind: k, Err: err}
}

// File is a positional-I/O handle over one database object file, plus
// an optional read-only memory mapping of its current contents.
type File struct {
	Path     string
	AllocUnit int

	fd *os.File

	bytesSinceSync atomic.Int64

	mapped []byte
}

// Open creates the file if absent and fsyncs its parent directory so
// the directory entry is durable before any data is written, mirroring
// the create-then-fsync-dir idiom used for crash-safe file creation.
func Open(path string, allocUnit int) (*File, error) {
	fd, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, classify("open", err)
	}

	dir, err := os.Open(filepath.Dir(path))
	if err != nil {
		fd.Close()
		return nil, classify("opendir", err)
	}
	defer dir.Close()
	if err := dir.Sync(); err != nil {
		fd.Close()
		return nil, classify("fsyncdir", err)
	}

	return &File{Path: path, AllocUnit: allocUnit, fd: fd}, nil
}

// Size returns the current file length.
func (f *File) Size() (int64, error) {
	fi, err := f.fd.Stat()
	if err != nil {
		return 0, classify("stat", err)
	}
	return fi.Size(), nil
}

// ReadAt reads exactly len(buf) bytes at the given offset.
func (f *File) ReadAt(buf []byte, off int64) error {
	n, err := f.fd.ReadAt(buf, off)
	if err != nil {
		return classify("readat", err)
	}
	if n != len(buf) {
		return &Error{Op: "readat", Kind: KindUnknown, Err: fmt.Errorf("short read: %d of %d", n, len(buf))}
	}
	return nil
}

// WriteAt writes buf at the given offset, retrying on EINTR.
func (f *File) WriteAt(buf []byte, off int64) error {
	for {
		n, err := f.fd.WriteAt(buf, off)
		if err == nil {
			f.bytesSinceSync.Add(int64(n))
			return nil
		}
		if err == unix.EINTR {
			continue
		}
		return classify("writeat", err)
	}
}

// Extend grows the file to newSize, zero-filling the new region via
// fallocate when the platform supports it, falling back to Truncate.
func (f *File) Extend(newSize int64) error {
	if err := unix.Fallocate(int(f.fd.Fd()), 0, 0, newSize); err != nil {
		if err := f.fd.Truncate(newSize); err != nil {
			return classify("extend", err)
		}
	}
	return nil
}

// Truncate shrinks (or grows) the file to exactly newSize bytes.
func (f *File) Truncate(newSize int64) error {
	if err := f.fd.Truncate(newSize); err != nil {
		return classify("truncate", err)
	}
	return nil
}

// Sync flushes outstanding writes. dataOnly requests fdatasync-style
// semantics where the platform distinguishes it.
func (f *File) Sync(dataOnly bool) error {
	var err error
	if dataOnly {
		err = unix.Fdatasync(int(f.fd.Fd()))
	} else {
		err = f.fd.Sync()
	}
	if err != nil {
		return classify("sync", err)
	}
	f.bytesSinceSync.Store(0)
	return nil
}

// BytesWrittenSinceSync reports how many bytes have been written since
// the last successful Sync, letting higher layers decide when to flush.
func (f *File) BytesWrittenSinceSync() int64 {
	return f.bytesSinceSync.Load()
}

// Advise gives the kernel a usage hint for the byte range [off, off+n).
func (f *File) Advise(off, n int64, willNeed bool) error {
	advice := unix.FADV_DONTNEED
	if willNeed {
		advice = unix.FADV_WILLNEED
	}
	if err := unix.Fadvise(int(f.fd.Fd()), off, n, advice); err != nil {
		return classify("fadvise", err)
	}
	return nil
}

// Map establishes (or re-establishes, growing it) a read-only mapping
// of the first n bytes of the file. Safe to call again with a larger n.
func (f *File) Map(n int) ([]byte, error) {
	if f.mapped != nil {
		if err := unix.Munmap(f.mapped); err != nil {
			return nil, classify("munmap", err)
		}
		f.mapped = nil
	}
	m, err := unix.Mmap(int(f.fd.Fd()), 0, n, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, classify("mmap", err)
	}
	f.mapped = m
	return m, nil
}

// Unmap releases the current mapping, if any.
func (f *File) Unmap() error {
	if f.mapped == nil {
		return nil
	}
	err := unix.Munmap(f.mapped)
	f.mapped = nil
	if err != nil {
		return classify("munmap", err)
	}
	return nil
}

// Lock takes a non-blocking advisory exclusive lock on the whole file.
// Opening a file does not take it; nothing in this module calls Lock.
func (f *File) Lock() error {
	if err := unix.Flock(int(f.fd.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		return classify("flock", err)
	}
	return nil
}

// Unlock releases a lock taken by Lock.
func (f *File) Unlock() error {
	if err := unix.Flock(int(f.fd.Fd()), unix.LOCK_UN); err != nil {
		return classify("funlock", err)
	}
	return nil
}

// Close unmaps and closes the underlying descriptor.
func (f *File) Close() error {
	if err := f.Unmap(); err != nil {
		return err
	}
	if err := f.fd.Close(); err != nil {
		return classify("close", err)
	}
	return nil
}
