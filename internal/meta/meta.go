// Package meta is the metadata table and turtle file a process
// consults on open to find a store's config string and its last
// checkpoint, before the block manager itself has been asked to
// open anything. Adapted from the teacher's pkg/metadata package:
// the same entity-keyed table idiom, repurposed from arbitrary
// entity attributes to exactly two fields per URI.
package meta

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// CheckpointRecord is the durable summary blockmgr's checkpoint logic
// produces: enough to reopen a store at the state a checkpoint left
// it in, per spec.md §4.3's recovery algorithm.
type CheckpointRecord struct {
	RootAddr  string `json:"root_addr"`
	AllocAddr string `json:"alloc_addr"`
	AvailAddr string `json:"avail_addr"`
	FileSize  int64  `json:"file_size"`
	WriteGen  uint64 `json:"write_gen"`
}

// Entry is one URI's row in the metadata table: its config string
// plus the last checkpoint record written for it.
type Entry struct {
	URI        string           `json:"uri"`
	Config     string           `json:"config"`
	Checkpoint CheckpointRecord `json:"checkpoint"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// Table is the in-memory metadata table, one row per URI. Put changes
// only memory; Save persists the whole table to a turtle file so a
// reopen can find it without touching the store itself.
type Table struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewTable returns an empty metadata table.
func NewTable() *Table {
	return &Table{entries: make(map[string]Entry)}
}

// Put inserts or replaces uri's row, stamping UpdatedAt with now.
func (t *Table) Put(uri, config string, cp CheckpointRecord, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[uri] = Entry{URI: uri, Config: config, Checkpoint: cp, UpdatedAt: now}
}

// Get returns uri's row, if any.
func (t *Table) Get(uri string) (Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[uri]
	return e, ok
}

// Remove deletes uri's row.
func (t *Table) Remove(uri string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, uri)
}

// List returns every row, in no particular order.
func (t *Table) List() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Entry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e)
	}
	return out
}

// snapshot is the on-disk turtle file's shape: a JSON object whose
// "entries" field holds the array of rows.
// ("Turtle file" names the role — the one file a fresh process reads
// before it can open anything else — not the RDF serialization.)
type snapshot struct {
	Entries []Entry `json:"entries"`
}

// Load reads path's turtle file into a fresh Table. A missing file is
// not an error: it means no store has ever checkpointed at this path,
// which is the normal state for a brand new database directory.
func Load(path string) (*Table, error) {
	t := NewTable()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return t, nil
	}
	if err != nil {
		return nil, fmt.Errorf("meta: read turtle file: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("meta: decode turtle file: %w", err)
	}
	for _, e := range snap.Entries {
		t.entries[e.URI] = e
	}
	return t, nil
}

// Save writes t's entries to path as a turtle file, via a
// temp-file-then-rename so a crash mid-write never leaves path holding
// a half-written file; the rename is what makes the new file visible
// atomically to the next Load. Extends the create-then-fsync-dir
// crash-safety idiom internal/fileio.Open already applies to data
// files, to this small control file.
func Save(path string, t *Table) error {
	snap := snapshot{Entries: t.List()}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("meta: encode turtle file: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("meta: create temp turtle file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("meta: write temp turtle file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("meta: sync temp turtle file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("meta: close temp turtle file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("meta: rename turtle file: %w", err)
	}

	dirFd, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("meta: open dir for fsync: %w", err)
	}
	defer dirFd.Close()
	return dirFd.Sync()
}
