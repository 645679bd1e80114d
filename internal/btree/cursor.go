package btree

import (
	"github.com/nainya/emberkv/internal/page"
)

// Cursor is a positioned handle for search/insert/update/remove/modify
// operations against one tree. It carries no transaction state of its
// own; callers supply txnID/startTS per call, matching how MVCC
// bookkeeping will layer on top in internal/mvcc.
type Cursor struct {
	tree *Tree
}

func (t *Tree) NewCursor() *Cursor { return &Cursor{tree: t} }

func (c *Cursor) chainFor(key []byte) ([]pathEntry, *page.Page, *page.Chain, error) {
	path, leaf, err := c.tree.descendWithPath(key)
	if err != nil {
		return nil, nil, nil, err
	}
	return path, leaf, leaf.Inserts.Upsert(key), nil
}

func (c *Cursor) prepend(chain *page.Chain, upd *page.Update) {
	for {
		head := chain.Head()
		if chain.CASPrepend(head, upd) {
			return
		}
	}
}

// Insert adds upd as the newest update for key (a standard value, a
// tombstone, or a reservation); conflict detection against a
// concurrently-committed update is the caller's (mvcc layer's)
// responsibility, performed by inspecting Chain.Head() before calling.
func (c *Cursor) Insert(key []byte, value []byte, txnID, startTS uint64) error {
	path, leaf, chain, err := c.chainFor(key)
	if err != nil {
		return err
	}
	c.prepend(chain, &page.Update{TxnID: txnID, StartTS: startTS, Kind: page.UpdateStandard, Value: value})
	c.tree.maybeSplit(path, leaf)
	return nil
}

// Update is an alias for Insert: the chain model makes update and
// insert the same operation (prepend a new standard value).
func (c *Cursor) Update(key []byte, value []byte, txnID, startTS uint64) error {
	return c.Insert(key, value, txnID, startTS)
}

// Remove prepends a tombstone update for key.
func (c *Cursor) Remove(key []byte, txnID, startTS uint64) error {
	_, _, chain, err := c.chainFor(key)
	if err != nil {
		return err
	}
	c.prepend(chain, &page.Update{TxnID: txnID, StartTS: startTS, Kind: page.UpdateTombstone})
	return nil
}

// Modify prepends a modify-cell: a splice list applied over whatever
// value is visible beneath it, cheaper than Insert when only a small
// part of a large value changes.
func (c *Cursor) Modify(key []byte, edits []page.ModifyEdit, txnID, startTS uint64) error {
	_, _, chain, err := c.chainFor(key)
	if err != nil {
		return err
	}
	c.prepend(chain, &page.Update{TxnID: txnID, StartTS: startTS, Kind: page.UpdateModify, Edits: edits})
	return nil
}

// Reserve stakes a placeholder claim on key without supplying a value
// yet, used by cursor.reserve() callers that want to detect
// write-write conflicts before they have a value to write.
func (c *Cursor) Reserve(key []byte, txnID, startTS uint64) error {
	_, _, chain, err := c.chainFor(key)
	if err != nil {
		return err
	}
	c.prepend(chain, &page.Update{TxnID: txnID, StartTS: startTS, Kind: page.UpdateReserve})
	return nil
}

// Search resolves the currently-visible value for key, walking the
// update chain then falling back to the leaf's on-disk row, if any.
// This performs no MVCC visibility filtering; it returns the newest
// non-aborted update exactly as internal/mvcc's by-id/by-ts predicates
// will want to filter it.
func (c *Cursor) Search(key []byte) (value []byte, found bool, err error) {
	leaf, err := c.tree.DescendToLeaf(key)
	if err != nil {
		return nil, false, err
	}

	var head *page.Update
	var base []byte
	leaf.Inserts.Each(func(k []byte, chain *page.Chain) {
		if head == nil && equalKey(k, key) {
			head = chain.Head()
		}
	})
	if head == nil {
		leaf.RLock()
		for _, row := range leaf.Rows {
			if equalKey(row.Key, key) {
				base = row.Value
				head = row.Chain.Head()
				break
			}
		}
		leaf.RUnlock()
	}
	if head == nil && base == nil {
		return nil, false, nil
	}
	v, ok := page.Resolve(head, base)
	return v, ok, nil
}

func equalKey(a, b []byte) bool {
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

// RemoveRange tombstones every live key in [lo, hi), walking the range
// key by key. It does not mark covering Refs RefDeleted, and nothing
// in this module does so for a range removal (page.Ref.FastTruncate is
// never set); the cost is linear in the number of keys in the tree.
func (c *Cursor) RemoveRange(lo, hi []byte, txnID, startTS uint64) error {
	it, err := c.tree.NewIterator()
	if err != nil {
		return err
	}
	for it.Next() {
		k := it.Key()
		if bytesLess(k, lo) || !bytesLess(k, hi) {
			continue
		}
		if err := c.Remove(k, txnID, startTS); err != nil {
			return err
		}
	}
	return nil
}

// BulkCursor appends keys in strictly ascending order without
// per-insert descent, used for bulk-loading a freshly created tree.
type BulkCursor struct {
	tree *Tree
	leaf *page.Page
}

func (t *Tree) NewBulkCursor() *BulkCursor {
	leaf := t.newLeaf()
	r := page.NewRef(page.RefLocked)
	r.SetChild(leaf)
	t.SetRoot(r)
	return &BulkCursor{tree: t, leaf: leaf}
}

// Append adds key/value to the bulk-load leaf; callers must supply
// keys in ascending order (not enforced here, matching the cheap,
// trusted bulk-load contract).
func (bc *BulkCursor) Append(key, value []byte, txnID, startTS uint64) error {
	chain := bc.leaf.Inserts.Upsert(key)
	chain.CASPrepend(nil, &page.Update{TxnID: txnID, StartTS: startTS, Kind: page.UpdateStandard, Value: value})
	bc.tree.maybeSplit(nil, bc.leaf)
	return nil
}
