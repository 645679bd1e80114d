package reconcile

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/nainya/emberkv/internal/blockmgr"
	"github.com/nainya/emberkv/internal/mvcc"
	"github.com/nainya/emberkv/internal/page"
)

type fakeWriter struct {
	writes [][]byte
}

func (w *fakeWriter) Write(payload []byte, compressed bool) (blockmgr.Addr, error) {
	w.writes = append(w.writes, append([]byte(nil), payload...))
	return blockmgr.Addr{ObjectID: 1, Offset: uint64(len(w.writes)), Size: uint32(len(payload)), Checksum: 1}, nil
}

type spillRecord struct {
	key     []byte
	startTS uint64
	value   []byte
}

type fakeHistory struct {
	spills []spillRecord
}

func (h *fakeHistory) Spill(btreeID uint64, key []byte, startTS uint64, value []byte) error {
	h.spills = append(h.spills, spillRecord{key: append([]byte(nil), key...), startTS: startTS, value: append([]byte(nil), value...)})
	return nil
}

func less(a, b []byte) bool { return bytes.Compare(a, b) < 0 }

func newLeaf() *page.Page {
	return &page.Page{Type: page.TypeRowLeaf, Inserts: page.NewInsertSkipList(less, 7)}
}

func TestReconcileLeafSingleVisibleUpdate(t *testing.T) {
	leaf := newLeaf()
	chain := leaf.Inserts.Upsert([]byte("alpha"))
	upd := &page.Update{TxnID: 1, StartTS: 1, Kind: page.UpdateStandard, Value: []byte("v1")}
	chain.CASPrepend(nil, upd)

	clock := mvcc.NewClock()
	clock.SetOldest(10) // everything at ts<=10 is visible to every reader
	txns := mvcc.NewManager(clock)

	w := &fakeWriter{}
	h := &fakeHistory{}
	r := &Reconciler{Writer: w, History: h, Txns: txns, LeafPageMax: 4096, SplitPct: 100}

	res, err := r.ReconcileLeaf(leaf, clock.Oldest(), nil)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !res.SingleChunk || res.Empty {
		t.Fatalf("expected a single non-empty chunk, got %+v", res)
	}
	if len(w.writes) != 1 {
		t.Fatalf("expected exactly one block write, got %d", len(w.writes))
	}
	if len(h.spills) != 0 {
		t.Fatalf("expected no history spills, got %d", len(h.spills))
	}
}

func TestReconcileLeafSpillsSupersededVersion(t *testing.T) {
	clock := mvcc.NewClock()
	txns := mvcc.NewManager(clock)

	txn1 := txns.Begin(mvcc.IsolationSnapshot)
	must(t, txns.Commit(txn1, 0))
	// ckpt's snapshot is taken before txn2 even begins, so it can see
	// txn1's committed write but not txn2's later one.
	ckpt := txns.Begin(mvcc.IsolationSnapshot)
	txn2 := txns.Begin(mvcc.IsolationSnapshot)
	must(t, txns.Commit(txn2, 0))

	leaf := newLeaf()
	chain := leaf.Inserts.Upsert([]byte("doc"))
	older := &page.Update{TxnID: txn1.ID, StartTS: 1, Kind: page.UpdateStandard, Value: []byte("old")}
	chain.CASPrepend(nil, older)
	newer := &page.Update{TxnID: txn2.ID, StartTS: 100, Kind: page.UpdateStandard, Value: []byte("new")}
	chain.CASPrepend(older, newer)

	clock.SetOldest(5) // older (ts=1) is visible_all; newer (ts=100) is not

	w := &fakeWriter{}
	h := &fakeHistory{}
	r := &Reconciler{Writer: w, History: h, Txns: txns, LeafPageMax: 4096, SplitPct: 100}

	res, err := r.ReconcileLeaf(leaf, clock.Oldest(), ckpt)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !res.SingleChunk {
		t.Fatalf("expected single chunk, got %+v", res)
	}
	if len(h.spills) != 1 {
		t.Fatalf("expected exactly one spilled version, got %d", len(h.spills))
	}
	if string(h.spills[0].value) != "old" {
		t.Fatalf("expected the superseded value to spill, got %q", h.spills[0].value)
	}
}

func TestReconcileLeafRemovesVisibleTombstone(t *testing.T) {
	leaf := newLeaf()
	chain := leaf.Inserts.Upsert([]byte("gone"))
	upd := &page.Update{TxnID: 1, StartTS: 1, Kind: page.UpdateTombstone}
	chain.CASPrepend(nil, upd)

	clock := mvcc.NewClock()
	clock.SetOldest(10)
	txns := mvcc.NewManager(clock)

	w := &fakeWriter{}
	h := &fakeHistory{}
	r := &Reconciler{Writer: w, History: h, Txns: txns, LeafPageMax: 4096, SplitPct: 100}

	res, err := r.ReconcileLeaf(leaf, clock.Oldest(), nil)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if res.Removed != 1 {
		t.Fatalf("expected the tombstoned key to be removed, got Removed=%d", res.Removed)
	}
	if !res.Empty {
		t.Fatalf("expected the page to reconcile to empty, got %+v", res)
	}
}

func TestReconcileLeafPreparedUpdateAborts(t *testing.T) {
	leaf := newLeaf()
	chain := leaf.Inserts.Upsert([]byte("k"))
	upd := &page.Update{TxnID: 1, StartTS: 1, Kind: page.UpdateStandard, Value: []byte("v"), Prepare: page.PrepareInProgress}
	chain.CASPrepend(nil, upd)

	clock := mvcc.NewClock()
	txns := mvcc.NewManager(clock)
	r := &Reconciler{Writer: &fakeWriter{}, History: &fakeHistory{}, Txns: txns, LeafPageMax: 4096, SplitPct: 100}

	_, err := r.ReconcileLeaf(leaf, clock.Oldest(), nil)
	if err != ErrPrepareConflict {
		t.Fatalf("expected ErrPrepareConflict, got %v", err)
	}
}

func TestReconcileLeafSplitsIntoMultipleChunks(t *testing.T) {
	leaf := newLeaf()
	for i := 0; i < 20; i++ {
		key := []byte(fmt.Sprintf("key-%02d", i))
		chain := leaf.Inserts.Upsert(key)
		chain.CASPrepend(nil, &page.Update{TxnID: 1, StartTS: 1, Kind: page.UpdateStandard, Value: []byte("some reasonably sized value")})
	}

	clock := mvcc.NewClock()
	clock.SetOldest(10)
	txns := mvcc.NewManager(clock)

	w := &fakeWriter{}
	h := &fakeHistory{}
	// A tiny chunk threshold forces several chunks out of 20 rows.
	r := &Reconciler{Writer: w, History: h, Txns: txns, LeafPageMax: 100, SplitPct: 100}

	res, err := r.ReconcileLeaf(leaf, clock.Oldest(), nil)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if res.SingleChunk {
		t.Fatalf("expected reconciliation to split into multiple chunks")
	}
	if len(res.Chunks) < 2 {
		t.Fatalf("expected at least 2 chunks, got %d", len(res.Chunks))
	}
	if len(w.writes) != len(res.Chunks) {
		t.Fatalf("expected one block write per chunk, got %d writes for %d chunks", len(w.writes), len(res.Chunks))
	}
}

func TestReconcileLeafOverflowValue(t *testing.T) {
	leaf := newLeaf()
	chain := leaf.Inserts.Upsert([]byte("big"))
	big := bytes.Repeat([]byte("x"), 100)
	chain.CASPrepend(nil, &page.Update{TxnID: 1, StartTS: 1, Kind: page.UpdateStandard, Value: big})

	clock := mvcc.NewClock()
	clock.SetOldest(10)
	txns := mvcc.NewManager(clock)
	w := &fakeWriter{}
	r := &Reconciler{Writer: w, History: &fakeHistory{}, Txns: txns, LeafPageMax: 4096, SplitPct: 100, LeafValueMax: 16}

	res, err := r.ReconcileLeaf(leaf, clock.Oldest(), nil)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !res.SingleChunk || res.Empty {
		t.Fatalf("expected a single non-empty chunk, got %+v", res)
	}
	// One write for the overflow block, one for the chunk itself.
	if len(w.writes) != 2 {
		t.Fatalf("expected an overflow write plus the chunk write, got %d writes", len(w.writes))
	}
}

func TestReconcileInternalComposesAddressCells(t *testing.T) {
	child1 := page.NewRef(page.RefDisk)
	child1.Addr = blockmgr.EncodeAddr(blockmgr.Addr{ObjectID: 1, Offset: 1, Size: 1})
	child1.CachedKey = []byte("a")
	child2 := page.NewRef(page.RefDisk)
	child2.Addr = blockmgr.EncodeAddr(blockmgr.Addr{ObjectID: 1, Offset: 2, Size: 1})
	child2.CachedKey = []byte("m")

	internal := &page.Page{Type: page.TypeRowInternal}
	internal.SetIndex(&page.PageIndex{Refs: []*page.Ref{child1, child2}})

	w := &fakeWriter{}
	r := &Reconciler{Writer: w, LeafPageMax: 4096, SplitPct: 100}

	res, err := r.ReconcileInternal(internal)
	if err != nil {
		t.Fatalf("reconcile internal: %v", err)
	}
	if !res.SingleChunk || res.Empty {
		t.Fatalf("expected a single non-empty chunk, got %+v", res)
	}
	if len(w.writes) != 1 {
		t.Fatalf("expected one block write, got %d", len(w.writes))
	}
}

func TestReconcileInternalRejectsUnreconciledChild(t *testing.T) {
	child := page.NewRef(page.RefMem) // still in memory, no on-disk address yet
	internal := &page.Page{Type: page.TypeRowInternal}
	internal.SetIndex(&page.PageIndex{Refs: []*page.Ref{child}})

	r := &Reconciler{Writer: &fakeWriter{}, LeafPageMax: 4096, SplitPct: 100}
	if _, err := r.ReconcileInternal(internal); err == nil {
		t.Fatalf("expected an error reconciling an internal page whose child is not yet on disk")
	}
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
