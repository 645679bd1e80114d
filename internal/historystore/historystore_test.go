package historystore

import "testing"

func TestSpillAndLookupReturnsNewestAtOrBeforeAsOf(t *testing.T) {
	s := New()
	must(t, s.Spill(1, []byte("k"), 5, []byte("v5")))
	must(t, s.Spill(1, []byte("k"), 10, []byte("v10")))
	must(t, s.Spill(1, []byte("k"), 20, []byte("v20")))

	v, ts, ok := s.Lookup(1, []byte("k"), 12)
	if !ok {
		t.Fatalf("expected a version visible as of ts=12")
	}
	if string(v) != "v10" || ts != 10 {
		t.Fatalf("expected v10@10, got %q@%d", v, ts)
	}
}

func TestLookupMissesBeforeEarliestVersion(t *testing.T) {
	s := New()
	must(t, s.Spill(1, []byte("k"), 5, []byte("v5")))

	if _, _, ok := s.Lookup(1, []byte("k"), 2); ok {
		t.Fatalf("expected no version visible before the earliest spill")
	}
}

func TestLookupDistinguishesKeysWithSharedPrefix(t *testing.T) {
	s := New()
	must(t, s.Spill(1, []byte("ab"), 5, []byte("short")))
	must(t, s.Spill(1, []byte("abc"), 5, []byte("long")))

	v, _, ok := s.Lookup(1, []byte("ab"), 10)
	if !ok || string(v) != "short" {
		t.Fatalf("expected the exact key's own version, got %q ok=%v", v, ok)
	}
}

func TestLookupDistinguishesBTreeIDs(t *testing.T) {
	s := New()
	must(t, s.Spill(1, []byte("k"), 5, []byte("tree1")))
	must(t, s.Spill(2, []byte("k"), 5, []byte("tree2")))

	v, _, ok := s.Lookup(1, []byte("k"), 10)
	if !ok || string(v) != "tree1" {
		t.Fatalf("expected tree1's version, got %q ok=%v", v, ok)
	}
}

func TestPruneRemovesVersionsOlderThanWatermark(t *testing.T) {
	s := New()
	must(t, s.Spill(1, []byte("k"), 5, []byte("old")))
	must(t, s.Spill(1, []byte("k"), 50, []byte("new")))

	removed := s.Prune(10)
	if removed != 1 {
		t.Fatalf("expected exactly one version pruned, got %d", removed)
	}
	if _, _, ok := s.Lookup(1, []byte("k"), 100); !ok {
		t.Fatalf("expected the newer version to survive pruning")
	}
	if _, _, ok := s.Lookup(1, []byte("k"), 6); ok {
		t.Fatalf("expected the pruned version to no longer be visible")
	}
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
