package btree

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/nainya/emberkv/internal/page"
)

// newTestTree builds a tree with no Loader; every test tree here stays
// entirely in memory, so Load should never be called.
func newTestTree() *Tree {
	return New(4096, 75, nil)
}

func TestInsertAndSearch(t *testing.T) {
	tr := newTestTree()
	c := tr.NewCursor()

	if err := c.Insert([]byte("alpha"), []byte("1"), 1, 1); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := c.Insert([]byte("beta"), []byte("2"), 1, 1); err != nil {
		t.Fatalf("insert: %v", err)
	}

	v, ok, err := c.Search([]byte("alpha"))
	if err != nil || !ok {
		t.Fatalf("search alpha: ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(v, []byte("1")) {
		t.Fatalf("unexpected value %q", v)
	}

	if _, ok, _ := c.Search([]byte("missing")); ok {
		t.Fatalf("did not expect to find a missing key")
	}
}

func TestUpdateOverwritesValue(t *testing.T) {
	tr := newTestTree()
	c := tr.NewCursor()

	must(t, c.Insert([]byte("k"), []byte("v1"), 1, 1))
	must(t, c.Update([]byte("k"), []byte("v2"), 2, 2))

	v, ok, err := c.Search([]byte("k"))
	if err != nil || !ok {
		t.Fatalf("search: ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(v, []byte("v2")) {
		t.Fatalf("expected newest value v2, got %q", v)
	}
}

func TestRemoveTombstones(t *testing.T) {
	tr := newTestTree()
	c := tr.NewCursor()

	must(t, c.Insert([]byte("k"), []byte("v"), 1, 1))
	must(t, c.Remove([]byte("k"), 2, 2))

	if _, ok, _ := c.Search([]byte("k")); ok {
		t.Fatalf("expected key to read as absent after tombstone")
	}
}

func TestModifyReplaysOverInsertedValue(t *testing.T) {
	tr := newTestTree()
	c := tr.NewCursor()

	must(t, c.Insert([]byte("doc"), []byte("hello world"), 1, 1))
	edits := []page.ModifyEdit{{Offset: 0, Len: 5, Data: []byte("howdy")}}
	must(t, c.Modify([]byte("doc"), edits, 2, 2))

	v, ok, err := c.Search([]byte("doc"))
	if err != nil || !ok {
		t.Fatalf("search: ok=%v err=%v", ok, err)
	}
	if string(v) != "howdy world" {
		t.Fatalf("expected modify edit to replay over the inserted value, got %q", v)
	}
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// TestSplitProducesMultipleLeaves drives enough inserts past a small
// threshold to force leaf splits, then confirms every key remains
// reachable afterward.
func TestSplitProducesMultipleLeaves(t *testing.T) {
	tr := newTestTree()
	tr.SetSplitThresholdItems(4)
	c := tr.NewCursor()

	const n = 200
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%04d", i))
		must(t, c.Insert(key, []byte(fmt.Sprintf("val-%d", i)), 1, 1))
	}

	it, err := tr.NewIterator()
	if err != nil {
		t.Fatalf("iterator: %v", err)
	}
	if it.Count() != n {
		t.Fatalf("expected %d live entries after splitting, got %d", n, it.Count())
	}

	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%04d", i))
		v, ok, err := c.Search(key)
		if err != nil || !ok {
			t.Fatalf("search %s: ok=%v err=%v", key, ok, err)
		}
		want := fmt.Sprintf("val-%d", i)
		if string(v) != want {
			t.Fatalf("key %s: got %q want %q", key, v, want)
		}
	}
}

// TestRemoveRangeTruncatesAndScanCounts is scenario S4: truncate a key
// range and confirm the post-truncate scan count matches expectations.
func TestRemoveRangeTruncatesAndScanCounts(t *testing.T) {
	tr := newTestTree()
	tr.SetSplitThresholdItems(8)
	c := tr.NewCursor()

	const n = 100
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%04d", i))
		must(t, c.Insert(key, []byte("v"), 1, 1))
	}

	lo := []byte(fmt.Sprintf("key-%04d", 20))
	hi := []byte(fmt.Sprintf("key-%04d", 50))
	must(t, c.RemoveRange(lo, hi, 2, 2))

	it, err := tr.NewIterator()
	if err != nil {
		t.Fatalf("iterator: %v", err)
	}
	want := n - (50 - 20)
	if it.Count() != want {
		t.Fatalf("expected %d entries after truncating [%s,%s), got %d", want, lo, hi, it.Count())
	}
}
