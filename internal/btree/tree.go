// Package btree implements the tree descent and cursor operations that
// sit on top of internal/page's in-memory page structures: search,
// insert, update, remove, modify, and fast-truncate, with splits
// applied via PageIndex pointer swap and concurrent descenders
// restarting when they meet a SPLIT state.
package btree

import (
	"bytes"
	"fmt"
	"sync/atomic"

	"github.com/nainya/emberkv/internal/page"
)

// errRestart is returned internally by descend when it meets a page
// mid-split; callers retry from the root.
var errRestart = fmt.Errorf("btree: descend hit a split, restart")

// Loader pages a child in from the block manager given its encoded
// address; the concrete implementation lives in the engine package,
// which owns both the block manager and the page codec.
type Loader interface {
	Load(addr []byte) (*page.Page, error)
}

// Less compares two keys in the tree's sort order.
type Less func(a, b []byte) bool

func bytesLess(a, b []byte) bool { return bytes.Compare(a, b) < 0 }

// Tree is one B-tree: a root Ref, owned exclusively by the tree (not
// by any parent page's index), plus the sizing knobs that decide when
// a leaf must split.
type Tree struct {
	root atomic.Pointer[page.Ref]

	leafPageMax int
	splitPct    int // recorded for leafPageMax*splitPct/100; leaf splits go by splitThresholdItems

	splitThresholdItems int
	maxInternalFanout   int

	loader Loader
	less   Less

	skiplistSeed int64
}

// New creates an empty tree. leafPageMax and splitPct are recorded,
// but the tree's own leaf splits are triggered by item count
// (splitThresholdItems, 64 by default), not by leafPageMax*splitPct/100;
// byte-size chunking happens in reconciliation.
func New(leafPageMax, splitPct int, loader Loader) *Tree {
	t := &Tree{
		leafPageMax:         leafPageMax,
		splitPct:            splitPct,
		loader:              loader,
		less:                bytesLess,
		splitThresholdItems: 64,
		maxInternalFanout:   128,
	}
	return t
}

// SetSplitThresholdItems overrides the coarse per-leaf item count that
// triggers a split; tests use small values to exercise splitting
// without inserting thousands of keys.
func (t *Tree) SetSplitThresholdItems(n int) { t.splitThresholdItems = n }

func (t *Tree) splitThreshold() int64 {
	return int64(t.leafPageMax) * int64(t.splitPct) / 100
}

func (t *Tree) newLeaf() *page.Page {
	return &page.Page{
		Type:    page.TypeRowLeaf,
		Inserts: page.NewInsertSkipList(t.less, t.nextSeed()),
	}
}

func (t *Tree) nextSeed() int64 {
	t.skiplistSeed++
	return t.skiplistSeed
}

// Root returns the tree's root Ref, creating an empty leaf the first
// time it's needed.
func (t *Tree) Root() *page.Ref {
	if r := t.root.Load(); r != nil {
		return r
	}
	leaf := t.newLeaf()
	r := page.NewRef(page.RefLocked) // transient; SetChild below publishes RefMem
	r.SetChild(leaf)
	if t.root.CompareAndSwap(nil, r) {
		return r
	}
	return t.root.Load()
}

// SetRoot installs an already-built Ref as the tree's root, used after
// a root split creates a fresh internal page, or when reopening a tree
// whose root lives on disk.
func (t *Tree) SetRoot(r *page.Ref) { t.root.Store(r) }

// pathEntry records one internal page visited during descent and
// the child Ref chosen there, so a leaf split can walk back up and
// install the new sibling into its immediate parent.
type pathEntry struct {
	p   *page.Page
	ref *page.Ref
}

// descendWithPath behaves like DescendToLeaf but also returns the
// chain of internal pages walked through, root first.
func (t *Tree) descendWithPath(key []byte) (path []pathEntry, leaf *page.Page, err error) {
	for {
		path = path[:0]
		ref := t.Root()
		p, err := t.resolve(ref)
		if err == errRestart {
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		for p.Type != page.TypeRowLeaf {
			idx := p.Index()
			if idx == nil || len(idx.Refs) == 0 {
				return nil, nil, fmt.Errorf("btree: internal page has no children")
			}
			i := searchRefs(idx.Refs, key, t.less)
			path = append(path, pathEntry{p: p, ref: idx.Refs[i]})
			child, err := t.resolve(idx.Refs[i])
			if err == errRestart {
				break
			}
			if err != nil {
				return nil, nil, err
			}
			p = child
		}
		if p.Type == page.TypeRowLeaf {
			return path, p, nil
		}
		// fell through a split race; retry from the root
	}
}

// resolve pages ref's child in if needed and returns it, transitioning
// DISK -> LOCKED -> MEM.
func (t *Tree) resolve(ref *page.Ref) (*page.Page, error) {
	for {
		switch ref.State() {
		case page.RefMem:
			return ref.Child(), nil
		case page.RefDisk:
			if !ref.CASState(page.RefDisk, page.RefLocked) {
				continue
			}
			p, err := t.loader.Load(ref.Addr)
			if err != nil {
				return nil, err
			}
			ref.SetChild(p)
			return p, nil
		case page.RefLocked:
			continue
		case page.RefDeleted:
			return nil, errRangeDeleted
		case page.RefSplit:
			return nil, errRestart
		default:
			return nil, fmt.Errorf("btree: unknown ref state %d", ref.State())
		}
	}
}

var errRangeDeleted = fmt.Errorf("btree: range fast-truncated")

// searchRefs returns the index of the last Ref whose CachedKey is <=
// key (the child whose range contains key), assuming Refs is sorted
// ascending by CachedKey and Refs[0].CachedKey is the (possibly empty)
// low sentinel.
func searchRefs(refs []*page.Ref, key []byte, less Less) int {
	lo, hi := 0, len(refs)-1
	best := 0
	for lo <= hi {
		mid := (lo + hi) / 2
		if !less(key, refs[mid].CachedKey) {
			best = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	return best
}

// DescendToLeaf walks from the root to the leaf that should hold key.
func (t *Tree) DescendToLeaf(key []byte) (*page.Page, error) {
	_, leaf, err := t.descendWithPath(key)
	return leaf, err
}
