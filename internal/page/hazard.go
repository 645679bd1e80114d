package page

import (
	"sync"
	"sync/atomic"
)

// HazardTable protects in-memory pages from being freed by eviction
// while another goroutine holds a bare pointer to them. Go has no
// per-thread storage, so each goroutine that wants to pin a page
// checks out a slot from a pool instead of indexing a fixed per-thread
// array; the pool is the idiomatic Go substitute for the per-thread
// hazard-pointer table the component description calls for.
type HazardTable struct {
	mu    sync.Mutex
	slots []*hazardSlot
	pool  sync.Pool
}

type hazardSlot struct {
	ptr atomic.Pointer[Page]
}

// NewHazardTable creates an empty table.
func NewHazardTable() *HazardTable {
	h := &HazardTable{}
	h.pool.New = func() any { return &hazardSlot{} }
	return h
}

// Hazard is a single checked-out pin, released by calling Drop.
type Hazard struct {
	table *HazardTable
	slot  *hazardSlot
}

// Acquire pins p so a concurrent evictor will not reclaim it until the
// returned Hazard is dropped. The store is followed by a load (the
// acquire fence referenced in the block/page design) so the evictor's
// own scan of live slots is guaranteed to observe this pin before it
// can decide p is unreferenced.
func (h *HazardTable) Acquire(p *Page) *Hazard {
	slot := h.pool.Get().(*hazardSlot)
	slot.ptr.Store(p)
	_ = slot.ptr.Load() // re-read enforces the acquire-fence ordering

	h.mu.Lock()
	h.slots = append(h.slots, slot)
	h.mu.Unlock()

	return &Hazard{table: h, slot: slot}
}

// Drop releases the pin and returns the slot to the pool.
func (hz *Hazard) Drop() {
	hz.slot.ptr.Store(nil)
	t := hz.table
	t.mu.Lock()
	for i, s := range t.slots {
		if s == hz.slot {
			t.slots[i] = t.slots[len(t.slots)-1]
			t.slots = t.slots[:len(t.slots)-1]
			break
		}
	}
	t.mu.Unlock()
	t.pool.Put(hz.slot)
}

// IsHazardous reports whether any live slot currently pins p; the
// evictor calls this before reclaiming a page's memory.
func (h *HazardTable) IsHazardous(p *Page) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.slots {
		if s.ptr.Load() == p {
			return true
		}
	}
	return false
}
