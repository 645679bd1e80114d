package page

import (
	"math/rand"
	"sync"
	"sync/atomic"
)

// RowSlot is one on-disk key/value pair as decoded from a leaf page,
// paired with the in-memory update chain layered on top of it.
type RowSlot struct {
	Key   []byte
	Value []byte // on-disk value, nil if this slot holds only inserts
	Chain Chain
}

// FixedColLeaf holds one fixed-length column-store leaf's decoded
// values, indexed by record number offset from the page's starting
// recno.
type FixedColLeaf struct {
	StartRecno uint64
	ItemLen    int
	Data       []byte // ItemLen-byte records back to back
	Chains     []Chain
}

func (f *FixedColLeaf) Count() int { return len(f.Data) / f.ItemLen }

func (f *FixedColLeaf) Item(i int) []byte {
	return f.Data[i*f.ItemLen : (i+1)*f.ItemLen]
}

// insertMaxLevel caps the leaf insert skiplist's random level, same
// bound as the extent-list skiplists.
const insertMaxLevel = 10

type insertNode struct {
	key     []byte
	chain   Chain
	forward []*insertNode
}

// InsertSkipList holds keys inserted into a leaf since its last
// reconciliation, keeping them in sorted order without rewriting the
// page's on-disk slot array on every insert.
type InsertSkipList struct {
	mu    sync.Mutex
	head  *insertNode
	level int
	less  func(a, b []byte) bool
	rng   *rand.Rand
	count int
}

func NewInsertSkipList(less func(a, b []byte) bool, seed int64) *InsertSkipList {
	return &InsertSkipList{
		head:  &insertNode{forward: make([]*insertNode, insertMaxLevel+1)},
		less:  less,
		rng:   rand.New(rand.NewSource(seed)),
	}
}

func (s *InsertSkipList) randomLevel() int {
	lvl := 0
	for lvl < insertMaxLevel && s.rng.Int31n(4) == 0 {
		lvl++
	}
	return lvl
}

// Upsert finds or creates the node for key and returns its Chain,
// ready for the caller to CASPrepend an update onto.
func (s *InsertSkipList) Upsert(key []byte) *Chain {
	s.mu.Lock()
	defer s.mu.Unlock()

	update := make([]*insertNode, insertMaxLevel+1)
	x := s.head
	for i := s.level; i >= 0; i-- {
		for x.forward[i] != nil && s.less(x.forward[i].key, key) {
			x = x.forward[i]
		}
		update[i] = x
	}
	cand := x.forward[0]
	if cand != nil && equalBytes(cand.key, key) {
		return &cand.chain
	}

	lvl := s.randomLevel()
	if lvl > s.level {
		for i := s.level + 1; i <= lvl; i++ {
			update[i] = s.head
		}
		s.level = lvl
	}
	n := &insertNode{key: append([]byte(nil), key...), forward: make([]*insertNode, lvl+1)}
	for i := 0; i <= lvl; i++ {
		n.forward[i] = update[i].forward[i]
		update[i].forward[i] = n
	}
	s.count++
	return &n.chain
}

// Count returns the number of distinct keys currently held.
func (s *InsertSkipList) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Split divides the skiplist's keys at their midpoint (by key order),
// returning the left half's keys/chains and the right half's,
// preserving each chain pointer unchanged. Used when a leaf's insert
// list grows past the split threshold.
func (s *InsertSkipList) Split() (left, right []keyChain) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []keyChain
	for x := s.head.forward[0]; x != nil; x = x.forward[0] {
		all = append(all, keyChain{key: x.key, chain: &x.chain})
	}
	mid := len(all) / 2
	return all[:mid], all[mid:]
}

type keyChain struct {
	key   []byte
	chain *Chain
}

func (kc keyChain) Key() []byte    { return kc.key }
func (kc keyChain) Chain() *Chain  { return kc.chain }

// Each walks every inserted key in ascending order.
func (s *InsertSkipList) Each(fn func(key []byte, chain *Chain)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for x := s.head.forward[0]; x != nil; x = x.forward[0] {
		fn(x.key, &x.chain)
	}
}

func equalBytes(a, b []byte) bool {
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

// RefState is the lifecycle state of a parent's index entry for one
// child page.
type RefState int32

const (
	RefDisk RefState = iota
	RefLocked
	RefMem
	RefDeleted // child reconciled to no rows; descent reports it as a deleted range
	RefSplit   // parent must restart descent against a new PageIndex
)

// Ref is a parent page's index entry for one child: the on-disk
// address, a cached key or record number for descent comparisons, and
// (once the child is paged in) a pointer to its in-memory Page. Ref is
// owned exclusively by its parent's child index; there is no child
// back-pointer, only an optional weak Home for diagnostics.
type Ref struct {
	state atomic.Int32

	Addr []byte // encoded blockmgr.Addr, valid when State() == RefDisk

	CachedKey   []byte
	CachedRecno uint64

	child atomic.Pointer[Page] // valid when State() == RefMem

	// FastTruncate marks a Ref as a fast-truncated range. Nothing in
	// this module sets or reads it: range removal tombstones keys one
	// by one, and no per-key tombstones are instantiated from a Ref.
	FastTruncate bool

	Home *Page // weak, diagnostics only; never dereferenced for correctness
}

// NewRef creates a Ref in the given initial state.
func NewRef(state RefState) *Ref {
	r := &Ref{}
	r.state.Store(int32(state))
	return r
}

func (r *Ref) State() RefState { return RefState(r.state.Load()) }

// CASState attempts the state transition from -> to, used by descent
// to claim a RefDisk entry (swapping to RefLocked) before paging its
// child in, and by split to retire a stale Ref (swapping to RefSplit).
func (r *Ref) CASState(from, to RefState) bool {
	return r.state.CompareAndSwap(int32(from), int32(to))
}

func (r *Ref) Child() *Page { return r.child.Load() }

// Evict releases ref's in-memory child and republishes it as an
// on-disk reference at addr, freeing the child page for garbage
// collection. Callers must have already claimed RefLocked via
// CASState so no concurrent reader is paging this child in at the
// same time.
func (r *Ref) Evict(addr []byte) {
	r.Addr = addr
	r.child.Store(nil)
	r.state.Store(int32(RefDisk))
}

// SetChild installs p as this Ref's in-memory child and publishes the
// RefMem state; callers must have already claimed RefLocked via
// CASState so no other goroutine is paging the same child in
// concurrently.
func (r *Ref) SetChild(p *Page) {
	r.child.Store(p)
	r.state.Store(int32(RefMem))
}

// PageIndex is a parent's ordered array of Refs to its children.
// Splits replace the whole array with a new, larger one via a single
// pointer swap so concurrent readers either see the old or the new
// index, never a partial one.
type PageIndex struct {
	Refs []*Ref
}

// Page is one in-memory btree page: either an internal page (a
// PageIndex over child Refs) or a leaf page (row slots, column data,
// and/or an insert skiplist), plus the bookkeeping eviction and
// reconciliation need.
type Page struct {
	Type Type

	mu sync.RWMutex

	// Lock/RLock guard structural changes to Rows/FixedCol (slot count,
	// not the update chains hanging off each slot, which are already
	// lock-free).
	//
	// internal pages
	index atomic.Pointer[PageIndex]

	// leaf pages
	Rows     []RowSlot
	FixedCol *FixedColLeaf
	Inserts  *InsertSkipList

	Dirty      bool
	MemorySize int64 // approximate in-memory footprint, drives eviction scoring

	ReadGen uint64 // LRU-ish generation stamp, bumped on access
}

// Index returns the page's current child index. Safe to call
// concurrently with Split.
func (p *Page) Index() *PageIndex { return p.index.Load() }

// Lock/Unlock/RLock/RUnlock guard structural row mutation (slot
// insertion that isn't handled by the insert skiplist, e.g.
// reconciliation rewriting Rows in place).
func (p *Page) Lock()    { p.mu.Lock() }
func (p *Page) Unlock()  { p.mu.Unlock() }
func (p *Page) RLock()   { p.mu.RLock() }
func (p *Page) RUnlock() { p.mu.RUnlock() }

// SetIndex installs idx as the page's child index.
func (p *Page) SetIndex(idx *PageIndex) { p.index.Store(idx) }

// Split atomically swaps in a new child index built by fn from the
// current one, so concurrent descenders either see the whole old index
// or the whole new one. Any Ref mid-descent against the old index
// simply restarts — it observes RefSplit on a stale Ref and re-reads
// Index().
func (p *Page) Split(fn func(old *PageIndex) *PageIndex) {
	for {
		old := p.index.Load()
		next := fn(old)
		if p.index.CompareAndSwap(old, next) {
			return
		}
	}
}
