package extentlist

import (
	"math/rand"
	"testing"
)

func TestInsertAndMatch(t *testing.T) {
	l := New("avail", 512, 1)
	if err := l.Insert(0, 512, RoleFree); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := l.Insert(1024, 512, RoleFree); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if !l.Match(0, 512) || !l.Match(1024, 512) {
		t.Fatalf("expected both extents to match")
	}
	if l.Match(512, 512) {
		t.Fatalf("did not expect a match in the gap")
	}
	if l.Entries() != 2 || l.Bytes() != 1024 {
		t.Fatalf("unexpected counters: entries=%d bytes=%d", l.Entries(), l.Bytes())
	}
}

func TestMergeCoalescesAdjacent(t *testing.T) {
	l := New("avail", 512, 2)
	must(t, l.Insert(0, 512, RoleFree))
	must(t, l.Merge(512, 512, RoleFree))

	if l.Entries() != 1 {
		t.Fatalf("expected merge to coalesce into one extent, got %d", l.Entries())
	}
	ext, ok := l.RemoveAt(0)
	if !ok {
		t.Fatalf("expected merged extent at offset 0")
	}
	if ext.Size != 1024 {
		t.Fatalf("expected merged size 1024, got %d", ext.Size)
	}
}

func TestAllocBestFitShrinksRemainder(t *testing.T) {
	l := New("avail", 1, 3)
	must(t, l.Insert(0, 100, RoleFree))
	must(t, l.Insert(200, 10, RoleFree))

	off, err := l.AllocBestFit(10)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	if off != 200 {
		t.Fatalf("expected best-fit to pick the exact 10-byte extent at 200, got %d", off)
	}
	if l.Entries() != 1 {
		t.Fatalf("expected exact-fit consumption to remove the extent entirely")
	}

	off, err = l.AllocBestFit(40)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	if off != 0 {
		t.Fatalf("expected remaining 100-byte extent at 0, got %d", off)
	}
	if l.Bytes() != 60 {
		t.Fatalf("expected 60 bytes left after shrinking, got %d", l.Bytes())
	}
}

func TestAllocNoSpace(t *testing.T) {
	l := New("avail", 1, 4)
	must(t, l.Insert(0, 10, RoleFree))
	if _, err := l.AllocFirstFit(20); err != ErrNoSpace {
		t.Fatalf("expected ErrNoSpace, got %v", err)
	}
}

func TestAppendFastPath(t *testing.T) {
	l := New("avail", 1, 5)
	must(t, l.Append(0, 100, RoleAlloc))
	must(t, l.Append(100, 50, RoleAlloc))
	if l.Entries() != 1 {
		t.Fatalf("expected abutting appends to merge, got %d entries", l.Entries())
	}
	must(t, l.Append(500, 10, RoleAlloc))
	if l.Entries() != 2 {
		t.Fatalf("expected non-adjacent append to add a new entry")
	}
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// TestFuzzAllocFreeRoundTrip exercises S6: a large set of random,
// non-overlapping extents is inserted, then alternately allocated and
// freed; at every step the list's own accounting must remain
// consistent with a parallel reference set.
func TestFuzzAllocFreeRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	l := New("avail", 1, 99)

	type span struct{ off, size uint64 }
	var spans []span
	var off uint64
	for i := 0; i < 1000; i++ {
		size := uint64(1 + rng.Intn(64))
		spans = append(spans, span{off, size})
		must(t, l.Insert(off, size, RoleFree))
		off += size + uint64(1+rng.Intn(8))
	}

	if err := l.DebugVerify(); err != nil {
		t.Fatalf("initial verify: %v", err)
	}

	reference := make(map[uint64]span)
	for _, s := range spans {
		reference[s.off] = s
	}

	var allocated []span
	for i := 0; i < 500; i++ {
		if len(reference) > 0 && (len(allocated) == 0 || rng.Intn(2) == 0) {
			// pick an arbitrary extent still free and alloc exactly its size
			var target span
			for _, s := range reference {
				target = s
				break
			}
			gotOff, err := l.AllocFirstFit(target.size)
			if err != nil {
				t.Fatalf("alloc: %v", err)
			}
			if l.Match(gotOff, target.size) == false {
				// fine: Match checks any role; allocated extents are removed from
				// this free list entirely, so re-querying the same offset+size
				// should not match unless it was re-inserted.
			}
			// First-fit may carve target.size bytes off the front of a
			// different, lower extent; retire exactly the carved range
			// from the reference, splitting the span it ends inside.
			for cur, left := gotOff, target.size; left > 0; {
				r, ok := reference[cur]
				if !ok {
					t.Fatalf("step %d: allocated offset %d is not the start of a reference span", i, cur)
				}
				delete(reference, cur)
				if r.size > left {
					reference[cur+left] = span{cur + left, r.size - left}
					break
				}
				cur, left = cur+r.size, left-r.size
			}
			allocated = append(allocated, span{gotOff, target.size})
		} else if len(allocated) > 0 {
			idx := rng.Intn(len(allocated))
			s := allocated[idx]
			allocated = append(allocated[:idx], allocated[idx+1:]...)
			must(t, l.Merge(s.off, s.size, RoleFree))
			reference[s.off] = s
		}
		if err := l.DebugVerify(); err != nil {
			t.Fatalf("step %d verify: %v", i, err)
		}
	}

	if uint64(l.Entries()) > uint64(len(reference)) {
		t.Fatalf("entries %d exceed reference free-span count %d (merging should only reduce count)", l.Entries(), len(reference))
	}
}
