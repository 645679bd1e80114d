package page

import (
	"sync/atomic"
)

// UpdateKind distinguishes a full replacement from a modify-cell edit,
// a tombstone, or a placeholder reserved by a not-yet-committed insert.
type UpdateKind uint8

const (
	UpdateStandard UpdateKind = iota
	UpdateModify
	UpdateTombstone
	UpdateReserve
)

// PrepareState tracks a transaction's two-phase commit status for an
// update still visible only to its own transaction.
type PrepareState uint8

const (
	PrepareNone PrepareState = iota
	PrepareInProgress
	PrepareLocked
)

// AbortTxnID marks an update whose owning transaction rolled back; such
// updates are skipped by every visibility check but are not unlinked
// immediately, since a concurrent reader may already hold a pointer to
// them.
const AbortTxnID uint64 = ^uint64(0)

// Update is one node in a key's update chain: newest-first, singly
// linked, appended to with a CAS so concurrent writers never lose an
// update.
type Update struct {
	TxnID     uint64
	StartTS   uint64
	DurableTS uint64
	Kind      UpdateKind
	Value     []byte       // full value for UpdateStandard
	Edits     []ModifyEdit // splice list for UpdateModify, applied over the next visible value
	Prepare   PrepareState
	next      atomic.Pointer[Update]
}

// Next returns the update chained beneath this one, or nil at the
// chain's base (the on-disk value, if any, takes over from there).
func (u *Update) Next() *Update { return u.next.Load() }

// Chain is the mutable head of one key's update list. CASPrepend is
// the only way callers add to it, giving every concurrent writer a
// consistent serialization point without a lock.
type Chain struct {
	head atomic.Pointer[Update]
}

// Head returns the newest update, or nil if the key has no in-memory
// updates (its value, if any, lives only in the on-disk cell).
func (c *Chain) Head() *Update { return c.head.Load() }

// CASPrepend attempts to make upd the new head, chained in front of
// the current head seen by the caller (expected). Returns false if
// another writer prepended first, in which case the caller must
// re-read Head and retry — this is the write-write race point that
// higher layers turn into a WriteConflict decision.
func (c *Chain) CASPrepend(expected *Update, upd *Update) bool {
	upd.next.Store(expected)
	return c.head.CompareAndSwap(expected, upd)
}

// Walk calls fn for every update in the chain, newest first, stopping
// early if fn returns false.
func (c *Chain) Walk(fn func(*Update) bool) {
	for u := c.Head(); u != nil; u = u.Next() {
		if !fn(u) {
			return
		}
	}
}

// Abort marks upd as belonging to a rolled-back transaction. It is not
// unlinked: a hazard-protected reader may still be walking past it.
func (u *Update) Abort() {
	u.TxnID = AbortTxnID
}

// IsAborted reports whether this update's owning transaction rolled
// back.
func (u *Update) IsAborted() bool { return u.TxnID == AbortTxnID }

// Resolve starts at head and walks newest-first, skipping aborted
// updates, collecting UpdateModify edits until it reaches an
// UpdateStandard (full value) or UpdateTombstone, then replays the
// collected edits oldest-first on top of that base. base is the
// on-disk value to fall back to if the chain runs out without
// finding a standard update (nil if the key has no on-disk value).
// Returns (value, found); found is false if the resolved state is a
// tombstone or there is no value anywhere in the chain or on disk.
func Resolve(head *Update, base []byte) (value []byte, found bool) {
	var pending []*Update // newest-first modify updates seen so far
	for u := head; u != nil; u = u.Next() {
		if u.IsAborted() {
			continue
		}
		switch u.Kind {
		case UpdateStandard:
			return replay(append([]byte(nil), u.Value...), pending), true
		case UpdateTombstone:
			return nil, false
		case UpdateModify:
			pending = append(pending, u)
		case UpdateReserve:
			// a reservation with nothing committed yet behaves like no
			// update at this position; keep walking past it
		}
	}
	if base == nil {
		return nil, false
	}
	return replay(append([]byte(nil), base...), pending), true
}

// replay applies pending (newest-first) edits oldest-first onto val.
func replay(val []byte, pending []*Update) []byte {
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
