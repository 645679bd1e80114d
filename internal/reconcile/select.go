package reconcile

import (
	"github.com/nainya/emberkv/internal/mvcc"
	"github.com/nainya/emberkv/internal/page"
)

// selection is the outcome of update_select for one key: the update
// chosen for the new page image (nil if nothing is visible, meaning
// the on-disk value should be left untouched), plus every newer
// update that was walked past because it failed visible_all but must
// still be retained for a live snapshot's benefit.
type selection struct {
	chosen *page.Update
	spill  []*page.Update // newest-first, all skipped before chosen
}

// updateSelect walks chain newest-first and picks the newest update
// that is visible to every reader (visible_all) or at least to the
// checkpoint transaction taking this snapshot, per spec §4.8 step 2.
// Updates skipped along the way are returned as spill candidates: the
// new page image will no longer carry them, so any live reader still
// needing one must find it in the history store instead.
//
// Prepared updates are never selected; meeting one anywhere in the
// chain aborts the whole reconciliation for this page (the caller
// leaves the page dirty and retries later).
func updateSelect(chain *page.Chain, oldestTS uint64, checkpointTxn *mvcc.Txn, txns *mvcc.Manager) (selection, error) {
	var sel selection
	for u := chain.Head(); u != nil; u = u.Next() {
		if u.IsAborted() {
			continue
		}
		if u.Prepare != page.PrepareNone {
			return selection{}, ErrPrepareConflict
		}

		visibleAll := txns.VisibleAll(u.StartTS)
		visibleCkpt := checkpointTxn == nil || txns.VisibleByID(checkpointTxn, u.TxnID)
		if visibleAll || visibleCkpt {
			sel.chosen = u
			return sel, nil
		}
		sel.spill = append(sel.spill, u)
	}
	return sel, nil
}
