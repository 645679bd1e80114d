package meta

import (
	"path/filepath"
	"testing"
	"time"
)

func TestPutGetRoundTrip(t *testing.T) {
	tbl := NewTable()
	now := time.Unix(100, 0)
	tbl.Put("file:data.wt", "leaf_page_max=32k", CheckpointRecord{RootAddr: "a1"}, now)

	e, ok := tbl.Get("file:data.wt")
	if !ok {
		t.Fatalf("expected the row to be present")
	}
	if e.Config != "leaf_page_max=32k" || e.Checkpoint.RootAddr != "a1" || !e.UpdatedAt.Equal(now) {
		t.Fatalf("unexpected row: %+v", e)
	}
}

func TestRemoveDeletesRow(t *testing.T) {
	tbl := NewTable()
	tbl.Put("file:data.wt", "cfg", CheckpointRecord{}, time.Unix(1, 0))
	tbl.Remove("file:data.wt")
	if _, ok := tbl.Get("file:data.wt"); ok {
		t.Fatalf("expected the row to be gone after Remove")
	}
}

func TestLoadMissingFileReturnsEmptyTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.turtle")
	tbl, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(tbl.List()) != 0 {
		t.Fatalf("expected an empty table for a missing turtle file")
	}
}

func TestSaveThenLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.turtle")

	tbl := NewTable()
	tbl.Put("file:a.wt", "cfg-a", CheckpointRecord{RootAddr: "ra", WriteGen: 3}, time.Unix(5, 0))
	tbl.Put("file:b.wt", "cfg-b", CheckpointRecord{RootAddr: "rb", WriteGen: 7}, time.Unix(9, 0))

	if err := Save(path, tbl); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	a, ok := loaded.Get("file:a.wt")
	if !ok || a.Config != "cfg-a" || a.Checkpoint.RootAddr != "ra" || a.Checkpoint.WriteGen != 3 {
		t.Fatalf("unexpected entry a: %+v", a)
	}
	b, ok := loaded.Get("file:b.wt")
	if !ok || b.Config != "cfg-b" || b.Checkpoint.WriteGen != 7 {
		t.Fatalf("unexpected entry b: %+v", b)
	}
}

func TestSaveOverwritesExistingFileAtomically(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.turtle")

	tbl := NewTable()
	tbl.Put("file:a.wt", "v1", CheckpointRecord{}, time.Unix(1, 0))
	if err := Save(path, tbl); err != nil {
		t.Fatalf("save 1: %v", err)
	}

	tbl.Put("file:a.wt", "v2", CheckpointRecord{}, time.Unix(2, 0))
	if err := Save(path, tbl); err != nil {
		t.Fatalf("save 2: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	e, ok := loaded.Get("file:a.wt")
	if !ok || e.Config != "v2" {
		t.Fatalf("expected the second save to win, got %+v", e)
	}
}
