package btree

import "github.com/nainya/emberkv/internal/page"

// maybeSplit checks whether leaf's pending insert count has crossed
// the split threshold and, if so, divides it into two leaves and
// installs them in leaf's parent (or creates a new root if leaf had
// none), recursively splitting ancestors that overflow in turn.
//
// The coarse item-count threshold stands in for the byte-accurate
// leaf_page_max*split_pct/100 chunk sizing that reconciliation
// performs when it actually writes pages to disk; the btree's own
// split trigger only needs to keep any single in-memory leaf from
// growing unboundedly between reconciliations.
func (t *Tree) maybeSplit(path []pathEntry, leaf *page.Page) {
	if leaf.Inserts.Count() <= t.maxLeafItems() {
		return
	}
	left, right := t.splitLeaf(leaf)
	t.installSplit(path, left, right)
}

func (t *Tree) maxLeafItems() int {
	n := t.splitThresholdItems
	if n <= 0 {
		n = 64
	}
	return n
}

func (t *Tree) splitLeaf(leaf *page.Page) (leftRef, rightRef *page.Ref) {
	leftKeys, rightKeys := leaf.Inserts.Split()

	left := t.newLeaf()
	right := t.newLeaf()
	for _, kc := range leftKeys {
		c := left.Inserts.Upsert(kc.Key())
		c.CASPrepend(nil, kc.Chain().Head())
	}
	for _, kc := range rightKeys {
		c := right.Inserts.Upsert(kc.Key())
		c.CASPrepend(nil, kc.Chain().Head())
	}

	leftRef = page.NewRef(page.RefLocked)
	leftRef.SetChild(left)
	if len(leftKeys) > 0 {
		leftRef.CachedKey = leftKeys[0].Key()
	}

	rightRef = page.NewRef(page.RefLocked)
	rightRef.SetChild(right)
	if len(rightKeys) > 0 {
		rightRef.CachedKey = rightKeys[0].Key()
	}

	return leftRef, rightRef
}

// installSplit replaces leaf's single parent Ref with [leftRef,
// rightRef] in its immediate parent's PageIndex, walking back up path
// and recursively splitting any ancestor whose index has grown past
// its own fan-out threshold.
func (t *Tree) installSplit(path []pathEntry, leftRef, rightRef *page.Ref) {
	if len(path) == 0 {
		// Splitting the root: build a fresh internal root over the two
		// new leaves.
		root := &page.Page{Type: page.TypeRowInternal}
		root.SetIndex(&page.PageIndex{Refs: []*page.Ref{leftRef, rightRef}})
		newRootRef := page.NewRef(page.RefLocked)
		newRootRef.SetChild(root)
		t.SetRoot(newRootRef)
		return
	}

	parentEntry := path[len(path)-1]
	parent := parentEntry.p
	target := parentEntry.ref

	parent.Split(func(old *page.PageIndex) *page.PageIndex {
		idx := -1
		for i, r := range old.Refs {
			if r == target {
				idx = i
				break
			}
		}
		if idx < 0 {
			// target was already replaced by a concurrent split; nothing
			// further for this goroutine to do.
			return old
		}
		next := make([]*page.Ref, 0, len(old.Refs)+1)
		next = append(next, old.Refs[:idx]...)
		next = append(next, leftRef, rightRef)
		next = append(next, old.Refs[idx+1:]...)
		return &page.PageIndex{Refs: next}
	})

	if len(parent.Index().Refs) <= t.maxFanout() {
		return
	}
	// Parent itself overflowed: split it too.
	t.splitInternal(path[:len(path)-1], parent)
}

func (t *Tree) maxFanout() int {
	n := t.maxInternalFanout
	if n <= 0 {
		n = 128
	}
	return n
}

// splitInternal divides an overflowing internal page's Refs in half
// and installs the two halves into its parent, same as splitLeaf does
// for leaves.
func (t *Tree) splitInternal(path []pathEntry, p *page.Page) {
	refs := p.Index().Refs
	mid := len(refs) / 2

	left := &page.Page{Type: page.TypeRowInternal}
	left.SetIndex(&page.PageIndex{Refs: append([]*page.Ref(nil), refs[:mid]...)})
	right := &page.Page{Type: page.TypeRowInternal}
	right.SetIndex(&page.PageIndex{Refs: append([]*page.Ref(nil), refs[mid:]...)})

	leftRef := page.NewRef(page.RefLocked)
	leftRef.SetChild(left)
	leftRef.CachedKey = refs[0].CachedKey

	rightRef := page.NewRef(page.RefLocked)
	rightRef.SetChild(right)
	rightRef.CachedKey = refs[mid].CachedKey

	t.installSplit(path, leftRef, rightRef)
}
