package mvcc

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/nainya/emberkv/internal/page"
)

// Isolation selects how much of the rest of the transaction table a
// new transaction's snapshot should hide. Snapshot is the engine
// default; the weaker levels exist for callers that explicitly ask
// for looser guarantees.
type Isolation int

const (
	IsolationSnapshot Isolation = iota
	IsolationReadCommitted
	IsolationReadUncommitted
)

// TxnState is a transaction's lifecycle stage.
type TxnState int32

const (
	TxnRunning TxnState = iota
	TxnPrepared
	TxnCommitted
	TxnAborted
)

func (s TxnState) String() string {
	switch s {
	case TxnRunning:
		return "running"
	case TxnPrepared:
		return "prepared"
	case TxnCommitted:
		return "committed"
	case TxnAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Snapshot is the set of transaction IDs a reader must treat as not
// yet committed, captured once at Begin and never updated afterward.
type Snapshot struct {
	Min    uint64          // smallest ID that was running at snapshot time
	Max    uint64          // this transaction's own ID; anything >= is invisible
	Active map[uint64]bool // IDs in [Min, Max) that were running at snapshot time
}

// modEntry records one update this transaction produced, so Rollback
// can find and abort exactly the updates it owns without walking every
// chain in the tree.
type modEntry struct {
	upd *page.Update
}

// Txn is one transaction's visibility and commit state. Cursors
// consult it to decide visibility and conflict; engine.Session owns
// the Txn for the operation currently in flight.
type Txn struct {
	ID        uint64
	Isolation Isolation
	ReadTS    uint64 // 0 means timestamps are not in use for this txn
	CommitTS  uint64
	DurableTS uint64

	snapshot Snapshot
	state    atomic.Int32

	mu      sync.Mutex
	modList []modEntry
	prepare page.PrepareState
}

func (t *Txn) State() TxnState { return TxnState(t.state.Load()) }

// Track records an update this transaction just installed, so it can
// be aborted on Rollback.
func (t *Txn) Track(upd *page.Update) {
	t.mu.Lock()
	t.modList = append(t.modList, modEntry{upd: upd})
	t.mu.Unlock()
}

// Prepare marks the transaction prepared (phase one of two-phase
// commit); updates it owns report PrepareInProgress to readers until
// Commit or Rollback resolves it.
func (t *Txn) Prepare() {
	t.mu.Lock()
	t.prepare = page.PrepareInProgress
	for _, m := range t.modList {
		m.upd.Prepare = page.PrepareInProgress
	}
	t.mu.Unlock()
	t.state.Store(int32(TxnPrepared))
}

// Manager is the transaction table: it allocates transaction IDs,
// tracks which ones are currently running for snapshot construction,
// and records commit order so later-begun snapshots can decide
// visibility of already-committed transactions. Grounded on the
// teacher's pkg/wal/wal.go atomic-counter-plus-mutex-guarded-state
// idiom (there guarding an LSN and file handle; here guarding the
// active-transaction set).
type Manager struct {
	clock *Clock

	nextID atomic.Uint64

	mu        sync.Mutex
	active    map[uint64]*Txn
	committed map[uint64]uint64 // txnID -> commit sequence, for ordering
	commitSeq uint64
}

// NewManager creates an empty transaction table bound to clock.
func NewManager(clock *Clock) *Manager {
	return &Manager{
		clock:     clock,
		active:    make(map[uint64]*Txn),
		committed: make(map[uint64]uint64),
	}
}

// Begin allocates a new transaction ID and captures a snapshot of
// every transaction currently running, so the new transaction can
// tell them apart from ones that committed before it started.
func (m *Manager) Begin(isolation Isolation) *Txn {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID.Add(1)

	snap := Snapshot{Max: id, Active: make(map[uint64]bool, len(m.active))}
	min := id
	for activeID := range m.active {
		snap.Active[activeID] = true
		if activeID < min {
			min = activeID
		}
	}
	snap.Min = min

	txn := &Txn{ID: id, Isolation: isolation, snapshot: snap}
	m.active[id] = txn
	return txn
}

// Commit marks txn committed at commitTS (0 if the caller is not using
// explicit timestamps) and removes it from the active set, making its
// updates visible to transactions whose snapshot starts afterward.
func (m *Manager) Commit(txn *Txn, commitTS uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if txn.State() != TxnRunning && txn.State() != TxnPrepared {
		return fmt.Errorf("mvcc: commit called on transaction in state %v", txn.State())
	}

	if txn.State() == TxnPrepared {
		txn.mu.Lock()
		txn.prepare = page.PrepareNone
		for _, e := range txn.modList {
			e.upd.Prepare = page.PrepareNone
		}
		txn.mu.Unlock()
	}

	m.commitSeq++
	m.committed[txn.ID] = m.commitSeq
	txn.CommitTS = commitTS
	txn.DurableTS = commitTS
	txn.state.Store(int32(TxnCommitted))
	delete(m.active, txn.ID)

	if commitTS != 0 {
		m.clock.SetAllDurable(commitTS)
	}
	return nil
}

// Rollback aborts every update txn produced and removes it from the
// active set. Callers that forced the rollback (write conflict, cache
// overflow) should pass the matching reason; RollbackRequested is for
// a caller-initiated abort.
func (m *Manager) Rollback(txn *Txn, reason RollbackReason) error {
	txn.mu.Lock()
	for _, e := range txn.modList {
		e.upd.Abort()
	}
	txn.mu.Unlock()

	m.mu.Lock()
	delete(m.active, txn.ID)
	m.mu.Unlock()

	txn.state.Store(int32(TxnAborted))
	return &ErrRollback{Reason: reason}
}

// VisibleByID reports whether the transaction that produced id should
// be visible to txn's snapshot, per the standard WiredTiger-style
// snap_min/snap_max rule: a transaction's own writes are always
// visible; anything still running (or started after) txn's snapshot
// was taken is not; anything committed strictly before is.
func (m *Manager) VisibleByID(txn *Txn, id uint64) bool {
	if id == page.AbortTxnID {
		return false
	}
	if id == txn.ID {
		return true
	}
	if txn.Isolation == IsolationReadUncommitted {
		return true
	}
	if id >= txn.snapshot.Max {
		return false
	}
	if txn.snapshot.Active[id] {
		return false
	}
	if id < txn.snapshot.Min {
		return true
	}
	if txn.Isolation == IsolationReadCommitted {
		m.mu.Lock()
		_, ok := m.committed[id]
		m.mu.Unlock()
		return ok
	}
	m.mu.Lock()
	_, ok := m.committed[id]
	m.mu.Unlock()
	return ok
}

// VisibleByTS reports whether ts should be visible to txn under
// timestamp-based (rather than transaction-ID-based) visibility. A
// zero ReadTS means the caller is not using timestamps and everything
// passes.
func (m *Manager) VisibleByTS(txn *Txn, ts uint64) bool {
	if txn.ReadTS == 0 {
		return true
	}
	return ts <= txn.ReadTS
}

// VisibleAll reports whether every possible reader's snapshot would
// already see data as of ts, meaning content at or below ts can be
// discarded by reconciliation without violating any live snapshot.
func (m *Manager) VisibleAll(ts uint64) bool {
	return ts <= m.clock.Oldest()
}

// CheckConflict inspects the current chain head before a cursor
// prepends a new update: if head belongs to a transaction not visible
// to txn (still running concurrently, or committed after txn's
// snapshot was taken), txn must not overwrite it.
func (m *Manager) CheckConflict(txn *Txn, head *page.Update) error {
	if head == nil {
		return nil
	}
	if head.IsAborted() {
		return nil
	}
	if head.TxnID == txn.ID {
		return nil
	}
	if !m.VisibleByID(txn, head.TxnID) {
		return ErrWriteConflict
	}
	return nil
}

// OldestForEviction returns the lowest active transaction ID, the
// watermark below which the history store and reconciliation may
// safely discard obsolete versions. If no transaction is active, it
// returns the next ID to be allocated (nothing is pinned).
func (m *Manager) OldestForEviction() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.active) == 0 {
		return m.nextID.Load() + 1
	}
	ids := make([]uint64, 0, len(m.active))
	for id := range m.active {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids[0]
}
