// Package extentlist implements free-space bookkeeping for the block
// manager: disjoint, size-aligned byte ranges tracked in two parallel
// skiplists, one keyed by offset and one keyed by size, so both
// sequential-append allocation and best-fit allocation are efficient.
package extentlist

import (
	"fmt"
	"math/rand"
	"sync"
)

// Role tags why an extent is on a list: free space available for
// reuse, allocated and live, or pending discard until the next
// checkpoint folds it back into the free list.
type Role int

const (
	RoleFree Role = iota
	RoleAlloc
	RoleDiscard
)

// Extent is a half-open byte range [Off, Off+Size) tagged by Role.
type Extent struct {
	Off  uint64
	Size uint64
	Role Role
}

func (e Extent) End() uint64 { return e.Off + e.Size }

// ErrNoSpace is returned by Alloc when no extent satisfies the request;
// callers convert this into a file-extend decision.
var ErrNoSpace = fmt.Errorf("extentlist: no space")

// List is an ordered set of disjoint, size-aligned extents exposed
// through two skiplists (by offset, by size) plus a cached tail
// pointer for O(1) append and running byte/entry counters.
type List struct {
	Name string

	mu        sync.Mutex
	byOffset  *skiplist
	bySize    *skiplist
	last      *Extent // cached append tail, the highest-offset extent
	bytes     uint64
	entries   int
	alignment uint64
}

// New creates an empty extent list. alignment is the allocation unit;
// every inserted extent's Off and Size must be a multiple of it.
func New(name string, alignment uint64, seed int64) *List {
	rng := rand.New(rand.NewSource(seed))
	return &List{
		Name:      name,
		byOffset:  newSkiplist(func(a, b Extent) bool { return a.Off < b.Off }, rng),
		bySize:    newSkiplist(sizeLess, rng),
		alignment: alignment,
	}
}

// sizeLess orders by size first, then by offset so that equal-size
// extents still have a total order for skiplist search/removal.
func sizeLess(a, b Extent) bool {
	if a.Size != b.Size {
		return a.Size < b.Size
	}
	return a.Off < b.Off
}

func (l *List) Bytes() uint64 { return l.bytes }
func (l *List) Entries() int  { return l.entries }

func (l *List) checkAligned(off, size uint64) error {
	if size == 0 {
		return fmt.Errorf("extentlist: zero-size extent")
	}
	if l.alignment > 1 && (off%l.alignment != 0 || size%l.alignment != 0) {
		return fmt.Errorf("extentlist: unaligned extent off=%d size=%d (unit %d)", off, size, l.alignment)
	}
	return nil
}

// Insert adds a new extent without attempting to merge it with
// neighbors.
func (l *List) Insert(off, size uint64, role Role) error {
	if err := l.checkAligned(off, size); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.insertLocked(Extent{Off: off, Size: size, Role: role})
	return nil
}

func (l *List) insertLocked(ext Extent) {
	l.byOffset.insert(ext)
	l.bySize.insert(ext)
	l.bytes += ext.Size
	l.entries++
	if l.last == nil || ext.Off >= l.last.Off {
		cp := ext
		l.last = &cp
	}
}

// SearchPair locates the extent strictly before off and the extent at
// or after off, in offset order.
func (l *List) SearchPair(off uint64) (before, after *Extent) {
	l.mu.Lock()
	defer l.mu.Unlock()

	update := make([]*node, maxLevel+1)
	after0 := l.byOffset.search(Extent{Off: off}, update)
	b := update[0]
	if b != l.byOffset.head {
		ext := b.ext
		before = &ext
	}
	if after0 != nil {
		ext := after0.ext
		after = &ext
	}
	return before, after
}

// Merge inserts (off, size) and coalesces it with any directly
// touching extent(s) already on the list, of the same role.
func (l *List) Merge(off, size uint64, role Role) error {
	if err := l.checkAligned(off, size); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	before, after := l.searchPairLocked(off)

	ext := Extent{Off: off, Size: size, Role: role}

	if before != nil && before.Role == role && before.Off+before.Size == off {
		l.removeLocked(*before)
		ext.Off = before.Off
		ext.Size += before.Size
	}
	if after != nil && after.Role == role && after.Off == ext.Off+ext.Size {
		l.removeLocked(*after)
		ext.Size += after.Size
	}

	l.insertLocked(ext)
	return nil
}

func (l *List) searchPairLocked(off uint64) (before, after *Extent) {
	update := make([]*node, maxLevel+1)
	after0 := l.byOffset.search(Extent{Off: off}, update)
	b := update[0]
	if b != l.byOffset.head {
		ext := b.ext
		before = &ext
	}
	if after0 != nil {
		ext := after0.ext
		after = &ext
	}
	return before, after
}

func (l *List) removeLocked(ext Extent) {
	l.byOffset.removeExact(ext)
	l.bySize.removeExact(ext)
	l.bytes -= ext.Size
	l.entries--
	if l.last != nil && l.last.Off == ext.Off {
		l.last = nil
		if tail := l.byOffset.firstMatching(func(Extent) bool { return true }); tail != nil {
			for n := tail; n != nil; n = n.forward[0] {
				tail = n
			}
			cp := tail.ext
			l.last = &cp
		}
	}
}

// RemoveAt removes and returns the extent beginning exactly at off.
func (l *List) RemoveAt(off uint64) (Extent, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	update := make([]*node, maxLevel+1)
	l.byOffset.search(Extent{Off: off}, update)
	cand := update[0].forward[0]
	if cand == nil || cand.ext.Off != off {
		return Extent{}, false
	}
	ext := cand.ext
	l.removeLocked(ext)
	return ext, true
}

// Match reports whether some extent in the list overlaps [off, off+size).
func (l *List) Match(off, size uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	end := off + size
	found := false
	l.byOffset.each(func(e Extent) {
		if found {
			return
		}
		if e.Off < end && off < e.End() {
			found = true
		}
	})
	return found
}

// AllocBestFit removes and returns the offset of the smallest extent
// whose size is >= n, shrinking it in place (by moving its start
// forward) when it is larger than required.
func (l *List) AllocBestFit(n uint64) (uint64, error) {
	if n == 0 {
		return 0, fmt.Errorf("extentlist: zero-size request")
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	cand := l.bySize.firstMatching(func(e Extent) bool { return e.Size >= n })
	if cand == nil {
		return 0, ErrNoSpace
	}
	ext := cand.ext
	l.removeLocked(ext)

	if ext.Size == n {
		return ext.Off, nil
	}
	remainder := Extent{Off: ext.Off + n, Size: ext.Size - n, Role: ext.Role}
	l.insertLocked(remainder)
	return ext.Off, nil
}

// AllocFirstFit removes and returns the offset of the first
// (lowest-offset) extent whose size is >= n.
func (l *List) AllocFirstFit(n uint64) (uint64, error) {
	if n == 0 {
		return 0, fmt.Errorf("extentlist: zero-size request")
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	cand := l.byOffset.firstMatching(func(e Extent) bool { return e.Size >= n })
	if cand == nil {
		return 0, ErrNoSpace
	}
	ext := cand.ext
	l.removeLocked(ext)

	if ext.Size == n {
		return ext.Off, nil
	}
	remainder := Extent{Off: ext.Off + n, Size: ext.Size - n, Role: ext.Role}
	l.insertLocked(remainder)
	return ext.Off, nil
}

// Append adds an extent at the tail, taking the O(1) path when it
// directly abuts the cached last extent; falls back to Insert
// otherwise.
func (l *List) Append(off, size uint64, role Role) error {
	if err := l.checkAligned(off, size); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.last != nil && l.last.Role == role && l.last.Off+l.last.Size == off {
		old := *l.last
		l.removeLocked(old)
		merged := Extent{Off: old.Off, Size: old.Size + size, Role: role}
		l.insertLocked(merged)
		return nil
	}
	l.insertLocked(Extent{Off: off, Size: size, Role: role})
	return nil
}

// Snapshot returns a sorted-by-offset copy of every extent on the list.
func (l *List) Snapshot() []Extent {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Extent, 0, l.entries)
	l.byOffset.each(func(e Extent) { out = append(out, e) })
	return out
}

// DebugVerify re-derives bytes/entries from a full walk and compares
// them against the maintained counters; used only by tests.
func (l *List) DebugVerify() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var bytes uint64
	var entries int
	var prevEnd uint64
	var havePrev bool
	var err error
	l.byOffset.each(func(e Extent) {
		bytes += e.Size
		entries++
		if havePrev && e.Off < prevEnd {
			err = fmt.Errorf("extentlist: overlapping extents at %d (prev end %d)", e.Off, prevEnd)
		}
		prevEnd = e.End()
		havePrev = true
	})
	if err != nil {
		return err
	}
	if bytes != l.bytes {
		return fmt.Errorf("extentlist: bytes counter %d != actual %d", l.bytes, bytes)
	}
	if entries != l.entries {
		return fmt.Errorf("extentlist: entries counter %d != actual %d", l.entries, entries)
	}
	return nil
}
