// Package engine wires the block manager, btree, mvcc, reconciler,
// and evictor packages together behind a Session/Cursor surface: the
// one entry point that actually opens a store, begins and commits
// transactions, and serves reads and writes against it.
package engine

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/nainya/emberkv/internal/blockmgr"
	"github.com/nainya/emberkv/internal/btree"
	"github.com/nainya/emberkv/internal/evict"
	"github.com/nainya/emberkv/internal/historystore"
	"github.com/nainya/emberkv/internal/meta"
	"github.com/nainya/emberkv/internal/metrics"
	"github.com/nainya/emberkv/internal/mvcc"
	"github.com/nainya/emberkv/internal/page"
	"github.com/nainya/emberkv/internal/reconcile"
	"github.com/nainya/emberkv/internal/transform"
	"github.com/nainya/emberkv/internal/walog"
)

// Config controls the sizing knobs reconciliation and splitting read
// from spec §4.8/§4.6.
type Config struct {
	LeafPageMax   int
	SplitPct      int
	LeafValueMax  int
	CacheMaxBytes int64
	ScanInterval  time.Duration // 0 uses evict.DefaultScanInterval
	Compress      bool

	// CheckpointInterval is how often the background checkpointer
	// fires. 0 uses walog.DefaultCheckpointInterval. Negative disables
	// the redo log and background checkpointing entirely (used by
	// tests that only care about the tree/mvcc/evict wiring).
	CheckpointInterval time.Duration

	// MetricsRegistry is where this store's Prometheus collectors are
	// registered. A caller serving /metrics for several stores passes
	// its own registry here; nil gets a private one, so opening more
	// than one Engine in a process (as tests do) never double-registers
	// against prometheus.DefaultRegisterer.
	MetricsRegistry *prometheus.Registry
}

func (c Config) withDefaults() Config {
	if c.LeafPageMax <= 0 {
		c.LeafPageMax = 32 * 1024
	}
	if c.SplitPct <= 0 {
		c.SplitPct = 75
	}
	if c.LeafValueMax <= 0 {
		c.LeafValueMax = 4 * 1024
	}
	return c
}

// Engine is one open store: a block manager backing a single tree,
// its MVCC transaction table, a reconciler, and a background evictor.
type Engine struct {
	mgr  *blockmgr.Manager
	tree *btree.Tree
	ldr  *loader

	clock *mvcc.Clock
	txns  *mvcc.Manager
	hs    *historystore.Store

	recon *reconcile.Reconciler

	cache   *evict.Cache
	scanner *evict.Scanner

	metrics *metrics.Metrics

	wal          *walog.Log
	checkpointer *walog.Checkpointer

	metaPath string
	metaURI  string
	metaCfg  string

	// ckptAvailAddr/ckptAllocAddr/ckptWriteGen are the last checkpoint's
	// own bookkeeping blocks and generation number, as last persisted
	// to (or restored from) the turtle file. flushCheckpoint advances
	// them only after durably recording their replacements.
	ckptAvailAddr blockmgr.Addr
	ckptAllocAddr blockmgr.Addr
	ckptWriteGen  uint64

	log zerolog.Logger
}

// Open creates an Engine backed by the block manager store at path,
// creating it if it does not already exist.
func Open(path string, cfg Config, log zerolog.Logger) (*Engine, error) {
	cfg = cfg.withDefaults()

	mgr, err := blockmgr.Open(path, 1)
	if err != nil {
		return nil, fmt.Errorf("engine: open block manager: %w", err)
	}

	metaPath := path + ".turtle"
	metaURI := "file:" + path

	ckpt, err := loadCheckpoint(mgr, metaPath, metaURI)
	if err != nil {
		mgr.Close()
		return nil, fmt.Errorf("engine: load checkpoint: %w", err)
	}

	ldr := &loader{mgr: mgr}
	tree := btree.New(cfg.LeafPageMax, cfg.SplitPct, ldr)
	if ckpt.Root != nil {
		tree.SetRoot(ckpt.Root)
	}

	clock := mvcc.NewClock()
	txns := mvcc.NewManager(clock)
	hs := historystore.New()

	var compressor reconcile.Compressor = transform.Identity{}
	if cfg.Compress {
		compressor = transform.NewSnappyCompressor()
	}

	recon := &reconcile.Reconciler{
		BTreeID:      1,
		Writer:       &blockWriter{mgr: mgr},
		History:      hs,
		Txns:         txns,
		Compressor:   compressor,
		LeafPageMax:  cfg.LeafPageMax,
		SplitPct:     cfg.SplitPct,
		LeafValueMax: cfg.LeafValueMax,
	}

	reg := cfg.MetricsRegistry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	e := &Engine{
		mgr:      mgr,
		tree:     tree,
		ldr:      ldr,
		clock:    clock,
		txns:     txns,
		hs:       hs,
		recon:    recon,
		cache:    evict.NewCache(cfg.CacheMaxBytes),
		metrics:  metrics.New(reg),
		metaPath: metaPath,
		metaURI:  metaURI,
		metaCfg: fmt.Sprintf(
			"leaf_page_max=%d,split_pct=%d,leaf_value_max=%d,compress=%v",
			cfg.LeafPageMax, cfg.SplitPct, cfg.LeafValueMax, cfg.Compress,
		),
		ckptAvailAddr: ckpt.Avail,
		ckptAllocAddr: ckpt.Alloc,
		ckptWriteGen:  ckpt.WriteGen,
		log:           log,
	}

	if err := e.saveMeta(); err != nil {
		mgr.Close()
		return nil, fmt.Errorf("engine: write turtle file: %w", err)
	}

	policy := &evict.Policy{Reconciler: recon, Clock: clock}
	e.scanner = evict.NewScanner(e.cache, treeSource{tree: tree}, policy, log)
	if cfg.ScanInterval > 0 {
		e.scanner.SetInterval(cfg.ScanInterval)
	}
	e.scanner.Start()

	if cfg.CheckpointInterval >= 0 {
		walDir := path + "-wal"
		muts, maxCommitTS, err := walog.Recover(walDir)
		if err != nil {
			e.scanner.Stop()
			mgr.Close()
			return nil, fmt.Errorf("engine: recover redo log: %w", err)
		}
		for _, m := range muts {
			if err := e.replayMutation(m); err != nil {
				e.scanner.Stop()
				mgr.Close()
				return nil, fmt.Errorf("engine: replay redo log: %w", err)
			}
		}
		if maxCommitTS != 0 {
			clock.SetStable(maxCommitTS)
			clock.SetAllDurable(maxCommitTS)
		}

		wal, err := walog.Open(walDir)
		if err != nil {
			e.scanner.Stop()
			mgr.Close()
			return nil, fmt.Errorf("engine: open redo log: %w", err)
		}
		e.wal = wal

		e.checkpointer = walog.NewCheckpointer(wal, e.flushCheckpoint, log)
		if cfg.CheckpointInterval > 0 {
			e.checkpointer.SetInterval(cfg.CheckpointInterval)
		}
		e.checkpointer.Start()
	}

	return e, nil
}

// replayMutation applies one recovered redo-log mutation directly
// against the tree at its original commit timestamp, bypassing
// Session's own redo logging (this mutation is already durable in the
// log being replayed).
func (e *Engine) replayMutation(m walog.Mutation) error {
	txn := e.txns.Begin(mvcc.IsolationSnapshot)
	cursor := e.tree.NewCursor()

	var err error
	switch m.Op {
	case walog.OpPut:
		err = cursor.Insert(m.Key, m.Value, txn.ID, txn.ReadTS)
	case walog.OpDelete:
		err = cursor.Remove(m.Key, txn.ID, txn.ReadTS)
	}
	if err != nil {
		e.txns.Rollback(txn, mvcc.RollbackRequested)
		return err
	}
	return e.txns.Commit(txn, m.CommitTS)
}

// flushCheckpoint is the Checkpointer's flush callback, implementing
// spec.md §4.3's checkpoint algorithm end to end: fold discard into
// avail and serialize avail/alloc as blocks of their own
// (CheckpointResolve), sync the data file, prune history no live
// snapshot can still reach, durably record the new checkpoint pointer
// in the turtle file (saveMeta, itself a temp-then-rename swap), and
// only then free the superseded checkpoint's own bookkeeping blocks
// (CheckpointUnload) now that nothing points to them any more.
func (e *Engine) flushCheckpoint() error {
	start := time.Now()

	e.mgr.CheckpointStart()
	ckpt, err := e.mgr.CheckpointResolve(e.ckptAvailAddr, e.ckptAllocAddr)
	if err != nil {
		return err
	}
	if err := e.mgr.Sync(); err != nil {
		return err
	}
	e.PruneHistory()

	prevAvail, prevAlloc := e.ckptAvailAddr, e.ckptAllocAddr
	e.ckptAvailAddr, e.ckptAllocAddr, e.ckptWriteGen = ckpt.AvailAddr, ckpt.AllocAddr, e.ckptWriteGen+1
	if err := e.saveMeta(); err != nil {
		e.ckptAvailAddr, e.ckptAllocAddr, e.ckptWriteGen = prevAvail, prevAlloc, e.ckptWriteGen-1
		return err
	}
	if err := e.mgr.CheckpointUnload(prevAvail, prevAlloc); err != nil {
		return err
	}

	e.metrics.RecordCheckpoint(time.Since(start))
	e.metrics.UpdateStoreStats(e.mgr.Size(), int64(e.hs.Len()))
	e.metrics.UpdateCacheStats(e.cache.BytesInMem(), e.cache.BytesDirty(), e.cache.PagesClean(), e.cache.PagesDirty())
	return nil
}

// Metrics returns this store's Prometheus collectors, for a caller
// that wants to serve them on its own /metrics endpoint.
func (e *Engine) Metrics() *metrics.Metrics { return e.metrics }

// Checkpoint runs one checkpoint synchronously, the operation
// cmd/emberkv's `checkpoint` subcommand drives directly instead of
// waiting for the background checkpointer's next tick.
func (e *Engine) Checkpoint() error {
	if e.checkpointer != nil {
		return e.checkpointer.Checkpoint()
	}
	return e.flushCheckpoint()
}

// Verify walks every page reachable from the tree root, resolving each
// one through the block manager so a checksum or cell-format failure
// surfaces as a *blockmgr.Corruption error instead of staying latent
// until some later read stumbles onto it.
func (e *Engine) Verify() error {
	_, err := e.tree.NewIterator()
	return err
}

// saveMeta writes this store's row (config string plus a checkpoint
// record summarizing the tree root's current address, this
// checkpoint's own avail/alloc bookkeeping blocks, the file size, and
// the write generation) to its turtle file, creating the file on
// first call. The temp-then-rename inside meta.Save is the atomic
// pointer swap spec.md §4.3 step 5 calls for.
func (e *Engine) saveMeta() error {
	tbl, err := meta.Load(e.metaPath)
	if err != nil {
		return err
	}

	root := e.tree.Root()
	var rootAddr string
	if root.State() == page.RefDisk {
		rootAddr = hex.EncodeToString(root.Addr)
	}

	tbl.Put(e.metaURI, e.metaCfg, meta.CheckpointRecord{
		RootAddr:  rootAddr,
		AllocAddr: e.ckptAllocAddr.Hex(),
		AvailAddr: e.ckptAvailAddr.Hex(),
		FileSize:  e.mgr.Size(),
		WriteGen:  e.ckptWriteGen,
	}, time.Now())

	return meta.Save(e.metaPath, tbl)
}

// loadedCheckpoint is what Open recovers from the turtle file before
// the tree and block manager are handed to the rest of Open: the
// root Ref to install (nil for a brand new store), and the previous
// checkpoint's own bookkeeping addresses plus write generation, which
// the Engine remembers so the next flushCheckpoint knows what to free
// once it durably records a replacement.
type loadedCheckpoint struct {
	Root     *page.Ref
	Avail    blockmgr.Addr
	Alloc    blockmgr.Addr
	WriteGen uint64
}

// loadCheckpoint reads metaPath's turtle file for metaURI's row, if
// any, and restores the block manager's avail list and file size from
// it via Bootstrap. A missing row (a brand new store) is not an
// error: mgr is left with the empty lists Open already gave it, and
// the zero loadedCheckpoint is returned.
func loadCheckpoint(mgr *blockmgr.Manager, metaPath, metaURI string) (loadedCheckpoint, error) {
	tbl, err := meta.Load(metaPath)
	if err != nil {
		return loadedCheckpoint{}, err
	}

	entry, ok := tbl.Get(metaURI)
	if !ok {
		return loadedCheckpoint{}, nil
	}
	rec := entry.Checkpoint

	availAddr, err := blockmgr.AddrFromHex(rec.AvailAddr)
	if err != nil {
		return loadedCheckpoint{}, fmt.Errorf("decode avail address: %w", err)
	}
	allocAddr, err := blockmgr.AddrFromHex(rec.AllocAddr)
	if err != nil {
		return loadedCheckpoint{}, fmt.Errorf("decode alloc address: %w", err)
	}

	if err := mgr.Bootstrap(blockmgr.CheckpointMeta{AvailAddr: availAddr, AllocAddr: allocAddr, FileSize: rec.FileSize}); err != nil {
		return loadedCheckpoint{}, fmt.Errorf("restore avail list: %w", err)
	}

	var rootRef *page.Ref
	if rec.RootAddr != "" {
		addrBytes, err := hex.DecodeString(rec.RootAddr)
		if err != nil {
			return loadedCheckpoint{}, fmt.Errorf("decode root address: %w", err)
		}
		rootRef = page.NewRef(page.RefDisk)
		rootRef.Addr = addrBytes
	}

	return loadedCheckpoint{Root: rootRef, Avail: availAddr, Alloc: allocAddr, WriteGen: rec.WriteGen}, nil
}

// Close stops the background evictor and checkpointer, and closes the
// block manager and redo log.
func (e *Engine) Close() error {
	e.scanner.Stop()
	if e.checkpointer != nil {
		e.checkpointer.Stop()
	}
	if e.wal != nil {
		if err := e.wal.Close(); err != nil {
			return err
		}
	}
	return e.mgr.Close()
}

// PruneHistory discards history-store versions no running
// transaction's snapshot can still reach, advancing the clock's
// oldest watermark to match.
func (e *Engine) PruneHistory() int {
	oldest := e.txns.OldestForEviction()
	e.clock.SetOldest(oldest)
	return e.hs.Prune(oldest)
}

// Begin starts a new transaction against this engine.
func (e *Engine) Begin(isolation mvcc.Isolation) *Session {
	return &Session{
		e:      e,
		txn:    e.txns.Begin(isolation),
		cursor: e.tree.NewCursor(),
	}
}

// treeSource adapts *btree.Tree's resident root into evict.PageSource
// by walking whatever internal pages are currently paged into memory.
// It never pages anything in itself: a Ref still on disk is simply not
// a candidate this sweep.
type treeSource struct {
	tree *btree.Tree
}

func (s treeSource) EvictionCandidates() []evict.Candidate {
	var out []evict.Candidate
	root := s.tree.Root()
	s.walk(root, &out)
	return out
}

func (s treeSource) walk(ref *page.Ref, out *[]evict.Candidate) {
	if ref.State() != page.RefMem {
		return
	}
	p := ref.Child()
	if p == nil {
		return
	}
	*out = append(*out, evict.Candidate{Ref: ref, Page: p})

	if p.Type == page.TypeRowLeaf {
		return
	}
	idx := p.Index()
	if idx == nil {
		return
	}
	for _, child := range idx.Refs {
		s.walk(child, out)
	}
}
