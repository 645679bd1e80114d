package walog

import (
	"testing"
)

func TestAppendAssignsIncreasingLSNsAndPersists(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	var lsns []uint64
	for i := 0; i < 3; i++ {
		lsn := l.NextLSN()
		lsns = append(lsns, lsn)
		e := &Entry{LSN: lsn, TxnID: 1, Op: OpPut, Key: []byte("k"), Value: []byte("v")}
		if err := l.Append(e); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := l.Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	for i := 1; i < len(lsns); i++ {
		if lsns[i] <= lsns[i-1] {
			t.Fatalf("expected strictly increasing LSNs, got %v", lsns)
		}
	}

	entries, err := ReadAll(dir)
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
}

func TestReopenContinuesLSNSequence(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	lsn := l.NextLSN()
	if err := l.Append(&Entry{LSN: lsn, Op: OpPut, Key: []byte("a"), Value: []byte("b")}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	l2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer l2.Close()

	next := l2.NextLSN()
	if next <= lsn {
		t.Fatalf("expected the reopened log to continue past LSN %d, got %d", lsn, next)
	}
}

func TestAppendAfterCloseFails(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	err = l.Append(&Entry{LSN: l.NextLSN(), Op: OpPut})
	if err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestRotationCreatesAdditionalSegments(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer l.Close()

	l.MaxSegmentSize = 64 // force a rotation almost immediately
	l.KeepSegments = 100  // keep everything so ReadAll sees it all

	for i := 0; i < 10; i++ {
		e := &Entry{LSN: l.NextLSN(), Op: OpPut, Key: []byte("key"), Value: []byte("value-bytes")}
		if err := l.Append(e); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	segments, err := l.segmentFiles()
	if err != nil {
		t.Fatalf("segment files: %v", err)
	}
	if len(segments) < 2 {
		t.Fatalf("expected more than one segment after forced rotation, got %d", len(segments))
	}

	entries, err := ReadAll(dir)
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	if len(entries) != 10 {
		t.Fatalf("expected 10 entries across segments, got %d", len(entries))
	}
}
