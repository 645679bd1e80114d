package evict

import (
	"sort"
	"sync/atomic"

	"github.com/nainya/emberkv/internal/blockmgr"
	"github.com/nainya/emberkv/internal/mvcc"
	"github.com/nainya/emberkv/internal/page"
	"github.com/nainya/emberkv/internal/reconcile"
)

// dirtyBias is subtracted from a dirty candidate's read generation when
// scoring, so it ranks ahead of a clean one with the same or a slightly
// lower read generation: dirty pages hold onto more
// reclaimable memory once reconciled, so the scanner prefers them when
// read generations are close.
const dirtyBias = 4

// readGenClock hands out monotonically increasing generation stamps;
// callers bump a page's page.Page.ReadGen through this on every access
// so Policy can tell recently touched pages from stale ones.
var readGenClock atomic.Uint64

// NextReadGen returns the next generation stamp. Engine code calls
// this on every page touch (descent, cursor read) to keep ReadGen
// current.
func NextReadGen() uint64 { return readGenClock.Add(1) }

// Policy decides which candidates to evict first and carries them
// through reconciliation.
type Policy struct {
	Reconciler *reconcile.Reconciler
	Clock      *mvcc.Clock
	// CheckpointTxn, when non-nil, is passed to reconciliation so a
	// concurrent checkpoint's view of the tree is respected; nil means
	// only visible_all determines what survives.
	CheckpointTxn *mvcc.Txn
}

// score returns a candidate's eviction priority: lower read
// generations (staler pages) evict first, and dirty pages are boosted
// ahead of equally stale clean ones.
func score(c Candidate) uint64 {
	gen := c.Page.ReadGen
	if c.Page.Dirty {
		if gen < dirtyBias {
			return 0
		}
		return gen - dirtyBias
	}
	return gen
}

// Rank orders candidates worst-first (lowest score, i.e. most
// eligible for eviction, first).
func (p *Policy) Rank(candidates []Candidate) []Candidate {
	ordered := make([]Candidate, len(candidates))
	copy(ordered, candidates)
	sort.Slice(ordered, func(i, j int) bool { return score(ordered[i]) < score(ordered[j]) })
	return ordered
}

// Evict attempts to reclaim one candidate: clean pages are released
// immediately; dirty pages are reconciled first and only released if
// reconciliation produced a single chunk (or nothing). A multi-chunk
// result means the page needs to split, which requires parent-path
// access Policy does not have, so such pages are left dirty for the
// btree's own split path to pick up on next write; Evict reports false
// for them rather than erroring.
func (p *Policy) Evict(c Candidate, cache *Cache) (bool, error) {
	if !c.Ref.CASState(page.RefMem, page.RefLocked) {
		// Someone else is already paging this child in or out.
		return false, nil
	}

	if !c.Page.Dirty {
		cache.TrackEvict(c.Page.MemorySize, false)
		c.Ref.Evict(c.Ref.Addr)
		return true, nil
	}

	var oldest uint64
	if p.Clock != nil {
		oldest = p.Clock.Oldest()
	}

	var res reconcile.Result
	var err error
	switch c.Page.Type {
	case page.TypeRowInternal, page.TypeRowInternalRoot:
		res, err = p.Reconciler.ReconcileInternal(c.Page)
	default:
		res, err = p.Reconciler.ReconcileLeaf(c.Page, oldest, p.CheckpointTxn)
	}
	if err != nil {
		if err == reconcile.ErrPrepareConflict {
			// A prepared transaction still owns this page; leave it
			// dirty and try again on a later sweep.
			c.Ref.CASState(page.RefLocked, page.RefMem)
			return false, nil
		}
		c.Ref.CASState(page.RefLocked, page.RefMem)
		return false, err
	}

	if !res.SingleChunk {
		// Needs a structural split; defer to the btree's own
		// reconciliation path, which has the parent pointers this
		// policy does not.
		c.Ref.CASState(page.RefLocked, page.RefMem)
		return false, nil
	}

	if res.Empty {
		cache.TrackEvict(c.Page.MemorySize, true)
		c.Ref.CASState(page.RefLocked, page.RefDeleted)
		return true, nil
	}

	addr := blockmgr.EncodeAddr(res.Addr)
	cache.TrackEvict(c.Page.MemorySize, true)
	c.Ref.Evict(addr)
	return true, nil
}
