// Package reconcile turns a dirty in-memory page into the on-disk
// image the block manager stores: it decides, per key, which update
// survives onto the page (update_select), spills superseded-but-
// still-visible versions into the history store, chunks the result at
// leaf_page_max*split_pct/100, and writes each chunk through the block
// manager. This has no direct analogue in the teacher, whose KV.Set
// unconditionally rewrites a whole node on every change; reconciliation
// here is a real MVCC-aware compaction pass run lazily by eviction or a
// checkpoint, not on every write.
package reconcile

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/nainya/emberkv/internal/blockmgr"
	"github.com/nainya/emberkv/internal/mvcc"
	"github.com/nainya/emberkv/internal/page"
)

// BlockWriter is the subset of *blockmgr.Manager reconciliation needs:
// turning one finished chunk's bytes into a checksummed, addressed
// block.
type BlockWriter interface {
	Write(payload []byte, compressed bool) (blockmgr.Addr, error)
}

// HistoryStore receives values reconciliation decided not to keep on
// the live page but that some reader's snapshot may still need, keyed
// by (btreeID, key, startTS) per spec §4.8 step 2.
type HistoryStore interface {
	Spill(btreeID uint64, key []byte, startTS uint64, value []byte) error
}

// Compressor transforms a finished chunk's bytes before they reach the
// block manager. A nil Compressor on Reconciler disables compression.
type Compressor interface {
	TransformOut(in []byte) (out []byte, compressed bool)
}

// Reconciler turns a dirty leaf or internal page into one or more
// on-disk chunks.
type Reconciler struct {
	BTreeID      uint64
	Writer       BlockWriter
	History      HistoryStore
	Txns         *mvcc.Manager
	Compressor   Compressor
	LeafPageMax  int
	SplitPct     int
	LeafValueMax int
}

func (r *Reconciler) chunkThreshold() int {
	n := r.LeafPageMax * r.SplitPct / 100
	if n <= 0 {
		n = 4096
	}
	return n
}

// Result is the outcome of reconciling one page.
type Result struct {
	// SingleChunk is true when the whole page fit in one chunk (or
	// produced none): the caller swaps the Ref's address cookie in
	// place and clears dirty, publishing no structural change.
	SingleChunk bool
	Addr        blockmgr.Addr // valid when SingleChunk and len(Chunks)==0 && Removed<rows

	// Chunks holds one entry per produced chunk when the page split
	// into more than one; the caller publishes a new PageIndex over
	// these at the parent and marks the original Ref SPLIT.
	Chunks []ChunkResult

	// MergeCandidate flags that this page produced exactly one small
	// chunk, per spec §4.8 step 6; the merge pass itself belongs to
	// eviction policy, not to reconciliation.
	MergeCandidate bool

	// Removed counts keys dropped entirely: a visible_all tombstone
	// with no live predecessor.
	Removed int

	// Empty reports that every key reconciled away, leaving nothing to
	// write; the caller should remove the page's Ref from its parent
	// rather than install an (invalid) address.
	Empty bool
}

// ChunkResult is one reconciled chunk's stored address plus the first
// key (row-leaf) it covers, the two things a parent PageIndex entry
// needs.
type ChunkResult struct {
	Addr     blockmgr.Addr
	FirstKey []byte
}

// rowEntry is one key reconciliation must decide about: its update
// chain plus whatever on-disk base value the old page had for it, if
// any.
type rowEntry struct {
	key   []byte
	chain *page.Chain
	base  []byte
}

func gatherLeafRows(leaf *page.Page) []rowEntry {
	seen := make(map[string]bool)
	var rows []rowEntry
	leaf.Inserts.Each(func(key []byte, chain *page.Chain) {
		seen[string(key)] = true
		rows = append(rows, rowEntry{key: append([]byte(nil), key...), chain: chain})
	})

	leaf.RLock()
	for i := range leaf.Rows {
		row := &leaf.Rows[i]
		if seen[string(row.Key)] {
			continue
		}
		rows = append(rows, rowEntry{key: row.Key, chain: &row.Chain, base: row.Value})
	}
	leaf.RUnlock()

	sort.Slice(rows, func(i, j int) bool { return bytes.Compare(rows[i].key, rows[j].key) < 0 })
	return rows
}

// ReconcileLeaf runs update_select over every key in leaf, spills
// superseded-but-live values to the history store, composes key/value
// cells into one or more chunks bounded by leaf_page_max*split_pct/100,
// writes each chunk through the block manager, and reports the result
// the caller needs to publish back into the tree.
func (r *Reconciler) ReconcileLeaf(leaf *page.Page, oldestTS uint64, checkpointTxn *mvcc.Txn) (Result, error) {
	rows := gatherLeafRows(leaf)

	var chunk []byte
	var chunks []ChunkResult
	var firstKeyInChunk []byte
	var prevKey []byte
	removed := 0
	kept := 0
	lastChunkLen := 0

	threshold := r.chunkThreshold()

	flush := func() error {
		if len(chunk) == 0 {
			return nil
		}
		payload := append([]byte{byte(page.TypeRowLeaf)}, chunk...)
		compressed := false
		if r.Compressor != nil {
			payload, compressed = r.Compressor.TransformOut(payload)
		}
		addr, err := r.Writer.Write(payload, compressed)
		if err != nil {
			return &ErrWriteFailed{Err: err}
		}
		chunks = append(chunks, ChunkResult{Addr: addr, FirstKey: firstKeyInChunk})
		lastChunkLen = len(chunk)
		chunk = nil
		firstKeyInChunk = nil
		prevKey = nil
		return nil
	}

	for _, row := range rows {
		sel, err := updateSelect(row.chain, oldestTS, checkpointTxn, r.Txns)
		if err != nil {
			return Result{}, err
		}

		for _, spilled := range sel.spill {
			v, ok := page.Resolve(spilled, row.base)
			if !ok {
				continue
			}
			if err := r.History.Spill(r.BTreeID, row.key, spilled.StartTS, v); err != nil {
				return Result{}, err
			}
		}

		var value []byte
		var found bool
		if sel.chosen == nil {
			// No update is visible to anyone yet; the on-disk value, if
			// any, stays untouched.
			value, found = row.base, row.base != nil
		} else {
			value, found = page.Resolve(sel.chosen, row.base)
		}
		if !found {
			// A tombstone visible_all with no live successor: drop the
			// key entirely rather than emit a cell for it.
			removed++
			continue
		}
		kept++

		keyCell := emitKeyCell(row.key, prevKey)
		valueCell, _, err := r.emitValueCell(value)
		if err != nil {
			return Result{}, err
		}

		if firstKeyInChunk == nil {
			firstKeyInChunk = row.key
		}
		chunk = append(chunk, keyCell...)
		chunk = append(chunk, valueCell...)
		prevKey = row.key

		if len(chunk) >= threshold {
			if err := flush(); err != nil {
				return Result{}, err
			}
		}
	}
	if err := flush(); err != nil {
		return Result{}, err
	}

	res := Result{Removed: removed}
	switch len(chunks) {
	case 0:
		res.SingleChunk = true
		res.Empty = kept == 0
	case 1:
		res.SingleChunk = true
		res.Addr = chunks[0].Addr
		res.MergeCandidate = lastChunkLen < threshold/2
	default:
		res.Chunks = chunks
	}
	return res, nil
}

func emitKeyCell(key, prevKey []byte) []byte {
	prefixLen := 0
	if prevKey != nil {
		prefixLen = page.CommonPrefixLen(prevKey, key)
	}
	return page.EncodeKeyCell(nil, prefixLen, key[prefixLen:])
}

// emitValueCell encodes value as a plain value cell, or, if it exceeds
// LeafValueMax, writes it as a separate overflow block and emits a
// pointer cell instead.
func (r *Reconciler) emitValueCell(value []byte) (cell []byte, overflowed bool, err error) {
	if r.LeafValueMax > 0 && len(value) > r.LeafValueMax {
		addr, werr := r.Writer.Write(value, false)
		if werr != nil {
			return nil, false, &ErrWriteFailed{Err: werr}
		}
		return page.EncodeOverflowValueCell(nil, blockmgr.EncodeAddr(addr)), true, nil
	}
	return page.EncodeValueCell(nil, value), false, nil
}

// ReconcileInternal composes address cells for every child Ref of an
// internal page, chunked the same way ReconcileLeaf chunks row cells.
// Every child must already have been reconciled to an on-disk address
// (RefDisk) before this runs; reconciliation always proceeds bottom-up.
func (r *Reconciler) ReconcileInternal(p *page.Page) (Result, error) {
	idx := p.Index()
	if idx == nil || len(idx.Refs) == 0 {
		return Result{SingleChunk: true, Empty: true}, nil
	}

	var chunk []byte
	var chunks []ChunkResult
	var firstKeyInChunk []byte
	threshold := r.chunkThreshold()

	flush := func() error {
		if len(chunk) == 0 {
			return nil
		}
		payload := append([]byte{byte(page.TypeRowInternal)}, chunk...)
		compressed := false
		if r.Compressor != nil {
			payload, compressed = r.Compressor.TransformOut(payload)
		}
		addr, err := r.Writer.Write(payload, compressed)
		if err != nil {
			return &ErrWriteFailed{Err: err}
		}
		chunks = append(chunks, ChunkResult{Addr: addr, FirstKey: firstKeyInChunk})
		chunk = nil
		firstKeyInChunk = nil
		return nil
	}

	for _, ref := range idx.Refs {
		if ref.State() != page.RefDisk {
			return Result{}, fmt.Errorf("reconcile: internal page child for key %q is not yet reconciled to disk", ref.CachedKey)
		}
		cell := page.EncodeAddressCell(nil, ref.Addr, ref.CachedKey)
		if firstKeyInChunk == nil {
			firstKeyInChunk = ref.CachedKey
		}
		chunk = append(chunk, cell...)
		if len(chunk) >= threshold {
			if err := flush(); err != nil {
				return Result{}, err
			}
		}
	}
	if err := flush(); err != nil {
		return Result{}, err
	}

	res := Result{}
	switch len(chunks) {
	case 0:
		res.SingleChunk = true
		res.Empty = true
	case 1:
		res.SingleChunk = true
		res.Addr = chunks[0].Addr
	default:
		res.Chunks = chunks
	}
	return res, nil
}
