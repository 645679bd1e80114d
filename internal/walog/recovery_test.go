package walog

import "testing"

func appendEntry(t *testing.T, l *Log, e *Entry) {
	t.Helper()
	e.LSN = l.NextLSN()
	if err := l.Append(e); err != nil {
		t.Fatalf("append: %v", err)
	}
}

func TestRecoverReplaysOnlyCommittedTransactions(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	appendEntry(t, l, &Entry{TxnID: 1, Op: OpPut, Key: []byte("committed-key"), Value: []byte("v1")})
	appendEntry(t, l, &Entry{TxnID: 1, Op: OpCommit, CommitTS: 10})

	appendEntry(t, l, &Entry{TxnID: 2, Op: OpPut, Key: []byte("uncommitted-key"), Value: []byte("v2")})
	// txn 2 never commits: simulates a crash mid-transaction.

	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	muts, maxCommitTS, err := Recover(dir)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if len(muts) != 1 {
		t.Fatalf("expected exactly one replayed mutation, got %d: %+v", len(muts), muts)
	}
	if string(muts[0].Key) != "committed-key" {
		t.Fatalf("expected the committed transaction's key, got %q", muts[0].Key)
	}
	if maxCommitTS != 10 {
		t.Fatalf("expected max commit ts 10, got %d", maxCommitTS)
	}
}

func TestRecoverSkipsTransactionsBeforeLastCheckpoint(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	appendEntry(t, l, &Entry{TxnID: 1, Op: OpPut, Key: []byte("before"), Value: []byte("v1")})
	appendEntry(t, l, &Entry{TxnID: 1, Op: OpCommit, CommitTS: 5})
	appendEntry(t, l, &Entry{Op: OpCheckpoint})
	appendEntry(t, l, &Entry{TxnID: 2, Op: OpPut, Key: []byte("after"), Value: []byte("v2")})
	appendEntry(t, l, &Entry{TxnID: 2, Op: OpCommit, CommitTS: 9})

	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	muts, maxCommitTS, err := Recover(dir)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if len(muts) != 1 || string(muts[0].Key) != "after" {
		t.Fatalf("expected only the post-checkpoint transaction to replay, got %+v", muts)
	}
	if maxCommitTS != 9 {
		t.Fatalf("expected max commit ts 9, got %d", maxCommitTS)
	}
}

func TestRecoverOnEmptyDirReturnsNoMutations(t *testing.T) {
	dir := t.TempDir()
	muts, maxCommitTS, err := Recover(dir)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if len(muts) != 0 || maxCommitTS != 0 {
		t.Fatalf("expected no mutations on a fresh directory, got %+v ts=%d", muts, maxCommitTS)
	}
}
