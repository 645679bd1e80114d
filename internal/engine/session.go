package engine

import (
	"time"

	"github.com/nainya/emberkv/internal/btree"
	"github.com/nainya/emberkv/internal/mvcc"
	"github.com/nainya/emberkv/internal/page"
	"github.com/nainya/emberkv/internal/walog"
)

// Session is one transaction's view of an Engine: every read is
// filtered through its snapshot, every write is conflict-checked
// against the same snapshot before it lands on the tree.
type Session struct {
	e       *Engine
	txn     *mvcc.Txn
	cursor  *btree.Cursor
	lastErr LastError
}

// Get returns the value visible to this session for key, per
// snapshot-isolation rules: a concurrently committed write that this
// session's snapshot did not include stays invisible.
func (s *Session) Get(key []byte) ([]byte, bool, error) {
	start := time.Now()
	value, found, err := s.get(key)
	status := "ok"
	if err != nil {
		status = "error"
	}
	s.e.metrics.RecordOp("get", status, time.Since(start))
	return value, found, s.recordErr(err)
}

func (s *Session) get(key []byte) ([]byte, bool, error) {
	leaf, err := s.e.tree.DescendToLeaf(key)
	if err != nil {
		return nil, false, err
	}

	head, base := findRow(leaf, key)
	if head == nil && base == nil {
		return nil, false, nil
	}
	value, found := s.resolveVisible(head, base)
	if !found {
		return nil, false, nil
	}
	if addr, ok := isOverflowMarker(value); ok {
		raw, err := s.e.ldr.readOverflow(addr)
		if err != nil {
			return nil, false, err
		}
		return raw, true, nil
	}
	return value, true, nil
}

func findRow(leaf *page.Page, key []byte) (head *page.Update, base []byte) {
	leaf.Inserts.Each(func(k []byte, chain *page.Chain) {
		if head == nil && equalBytesEngine(k, key) {
			head = chain.Head()
		}
	})
	if head != nil {
		return head, nil
	}
	leaf.RLock()
	defer leaf.RUnlock()
	for i := range leaf.Rows {
		if equalBytesEngine(leaf.Rows[i].Key, key) {
			return leaf.Rows[i].Chain.Head(), leaf.Rows[i].Value
		}
	}
	return nil, nil
}

func equalBytesEngine(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// resolveVisible walks head newest-first the same way page.Resolve
// does, but additionally skips any update this session's snapshot
// cannot see yet, so a concurrent writer's uncommitted or
// not-yet-visible update never leaks into this read. Modify-cell
// edits are replayed oldest-first over whichever standard value (or
// on-disk base) resolution bottoms out at, mirroring page.Resolve's
// own replay rule but restricted to the visible subsequence.
func (s *Session) resolveVisible(head *page.Update, base []byte) (value []byte, found bool) {
	var pending []*page.Update
	for u := head; u != nil; u = u.Next() {
		if u.IsAborted() {
			continue
		}
		if !s.e.txns.VisibleByID(s.txn, u.TxnID) {
			continue
		}
		switch u.Kind {
		case page.UpdateStandard:
			return replayVisible(append([]byte(nil), u.Value...), pending), true
		case page.UpdateTombstone:
			return nil, false
		case page.UpdateModify:
			pending = append(pending, u)
		case page.UpdateReserve:
		}
	}
	if base == nil {
		return nil, false
	}
	return replayVisible(append([]byte(nil), base...), pending), true
}

// replayVisible applies pending (collected newest-first) oldest-first
// onto val, the same splice semantics page.Update.Edits carries.
func replayVisible(val []byte, pending []*page.Update) []byte {
	for i := len(pending) - 1; i >= 0; i-- {
		for _, e := range pending[i].Edits {
			if e.Offset+e.Len > len(val) {
				continue
			}
			spliced := make([]byte, 0, len(val)-e.Len+len(e.Data))
			spliced = append(spliced, val[:e.Offset]...)
			spliced = append(spliced, e.Data...)
			spliced = append(spliced, val[e.Offset+e.Len:]...)
			val = spliced
		}
	}
	return val
}

// Put writes value for key inside this session's transaction, after
// checking the key's current head for a write-write conflict.
func (s *Session) Put(key, value []byte) error {
	start := time.Now()
	err := s.put(key, value)
	status := "ok"
	if err != nil {
		status = "error"
	}
	s.e.metrics.RecordOp("put", status, time.Since(start))
	return s.recordErr(err)
}

func (s *Session) put(key, value []byte) error {
	if err := s.checkConflict(key); err != nil {
		return err
	}
	if s.e.cache.Full() {
		if err := s.e.scanner.Assist(); err != nil {
			return err
		}
		s.e.metrics.RecordEviction()
	}
	if err := s.logMutation(walog.OpPut, key, value); err != nil {
		return err
	}
	return s.cursor.Insert(key, value, s.txn.ID, s.txn.ReadTS)
}

// Delete tombstones key inside this session's transaction.
func (s *Session) Delete(key []byte) error {
	start := time.Now()
	err := s.delete(key)
	status := "ok"
	if err != nil {
		status = "error"
	}
	s.e.metrics.RecordOp("delete", status, time.Since(start))
	return s.recordErr(err)
}

func (s *Session) delete(key []byte) error {
	if err := s.checkConflict(key); err != nil {
		return err
	}
	if s.e.cache.Full() {
		if err := s.e.scanner.Assist(); err != nil {
			return err
		}
		s.e.metrics.RecordEviction()
	}
	if err := s.logMutation(walog.OpDelete, key, nil); err != nil {
		return err
	}
	return s.cursor.Remove(key, s.txn.ID, s.txn.ReadTS)
}

// logMutation appends a redo entry for key/value ahead of applying it
// to the tree. A nil engine log (compression-only test engines, for
// instance) makes this a no-op rather than a required dependency.
func (s *Session) logMutation(op walog.Op, key, value []byte) error {
	if s.e.wal == nil {
		return nil
	}
	e := &walog.Entry{
		LSN:     s.e.wal.NextLSN(),
		TxnID:   s.txn.ID,
		BTreeID: s.e.recon.BTreeID,
		Op:      op,
		Key:     key,
		Value:   value,
	}
	if err := s.e.wal.Append(e); err != nil {
		return err
	}
	s.e.metrics.RecordWALAppend()
	return nil
}

func (s *Session) checkConflict(key []byte) error {
	leaf, err := s.e.tree.DescendToLeaf(key)
	if err != nil {
		return err
	}
	head, _ := findRow(leaf, key)
	if err := s.e.txns.CheckConflict(s.txn, head); err != nil {
		s.e.metrics.RecordConflict()
		return err
	}
	return nil
}

// Commit finalizes the session's writes at commitTS (0 if the store
// is not using explicit timestamps).
func (s *Session) Commit(commitTS uint64) error {
	if err := s.e.txns.Commit(s.txn, commitTS); err != nil {
		return s.recordErr(err)
	}
	if s.e.wal == nil {
		return nil
	}
	e := &walog.Entry{
		LSN:      s.e.wal.NextLSN(),
		TxnID:    s.txn.ID,
		BTreeID:  s.e.recon.BTreeID,
		Op:       walog.OpCommit,
		CommitTS: commitTS,
	}
	return s.recordErr(s.e.wal.Append(e))
}

// Rollback aborts every update this session made.
func (s *Session) Rollback() error {
	s.e.metrics.RecordRollback("requested")
	err := s.e.txns.Rollback(s.txn, mvcc.RollbackRequested)
	s.lastErr = LastError{}
	return err
}
