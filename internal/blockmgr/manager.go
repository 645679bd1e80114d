// Package blockmgr turns a raw file handle and an extent list into a
// checksummed, addressable block store: the unit the page codec and
// B-tree build on instead of touching files directly.
package blockmgr

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/nainya/emberkv/internal/extentlist"
	"github.com/nainya/emberkv/internal/fileio"
)

// allocUnit is the granularity blocks are aligned and sized to, per
// the file description's allocation_unit field.
const allocUnit = 512

// Manager owns one data file plus its avail (free) and discard extent
// lists, and turns Write/Read calls into addressed, checksummed I/O.
type Manager struct {
	ObjectID uint32

	file  *fileio.File
	avail *extentlist.List
	discard *extentlist.List

	mu sync.Mutex

	fileSize int64

	writeSize atomic.Int64 // bytes written this checkpoint interval
}

// Open opens (or creates) the backing file at path and prepares empty
// avail/discard extent lists; callers restore avail's contents from a
// checkpoint record via Bootstrap before first use on an existing file.
func Open(path string, objectID uint32) (*Manager, error) {
	f, err := fileio.Open(path, allocUnit)
	if err != nil {
		return nil, err
	}
	size, err := f.Size()
	if err != nil {
		f.Close()
		return nil, err
	}
	if size == 0 {
		if err := f.Extend(allocUnit); err != nil {
			f.Close()
			return nil, err
		}
		size = allocUnit
	}

	return &Manager{
		ObjectID: objectID,
		file:     f,
		avail:    extentlist.New("avail", allocUnit, int64(objectID)+1),
		discard:  extentlist.New("discard", allocUnit, int64(objectID)+2),
		fileSize: size,
	}, nil
}

func (m *Manager) Close() error { return m.file.Close() }

func units(n int64) uint32 {
	u := n / allocUnit
	if n%allocUnit != 0 {
		u++
	}
	return uint32(u)
}

// Write encodes payload as a block, allocates space for it (reusing
// avail-list space if possible, else extending the file), and returns
// the address cookie. compressed records the transform flag, which
// Read returns with the payload so the caller knows whether to
// decompress it.
func (m *Manager) Write(payload []byte, compressed bool) (Addr, error) {
	block := encodeBlock(payload, compressed)
	need := units(int64(len(block))) * allocUnit

	m.mu.Lock()
	defer m.mu.Unlock()

	off, err := m.avail.AllocBestFit(uint64(need))
	if err == extentlist.ErrNoSpace {
		off = uint64(m.fileSize)
		newSize := m.fileSize + int64(need)
		if err := m.file.Extend(newSize); err != nil {
			return Addr{}, err
		}
		m.fileSize = newSize
	} else if err != nil {
		return Addr{}, err
	}

	if err := m.file.WriteAt(block, int64(off)); err != nil {
		return Addr{}, err
	}
	m.writeSize.Add(int64(len(block)))

	return Addr{
		ObjectID: m.ObjectID,
		Offset:   off / allocUnit,
		Size:     units(int64(len(block))),
		Checksum: binary.LittleEndian.Uint32(block[4:8]),
	}, nil
}

// Read fetches and validates the block at addr, returning its
// payload and whether it is stored compressed.
func (m *Manager) Read(addr Addr) (payload []byte, compressed bool, err error) {
	if addr.Invalid() {
		return nil, false, fmt.Errorf("blockmgr: read of invalid address")
	}
	raw := make([]byte, int64(addr.Size)*allocUnit)
	if err := m.file.ReadAt(raw, int64(addr.Offset)*allocUnit); err != nil {
		return nil, false, err
	}

	diskSize := int(binary.LittleEndian.Uint32(raw[0:4]))
	full := raw[:headerSize+diskSize]
	return decodeBlock(full, addr)
}

// Free returns addr's space to the avail list, merging with
// neighbors, making it eligible for reuse by future Write calls.
func (m *Manager) Free(addr Addr) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.avail.Merge(addr.Offset*allocUnit, uint64(addr.Size)*allocUnit, extentlist.RoleFree)
}

// Discard marks addr's space as pending reclaim: used for blocks still
// referenced by an in-flight checkpoint, folded into avail once the
// checkpoint that might still read them completes.
func (m *Manager) Discard(addr Addr) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.discard.Insert(addr.Offset*allocUnit, uint64(addr.Size)*allocUnit, extentlist.RoleDiscard)
}

// CheckpointStart begins a checkpoint: a live snapshot marker exists
// only to mark which blocks predate it. Returned write size should be
// reported to the caller's checkpoint record.
func (m *Manager) CheckpointStart() int64 {
	return m.writeSize.Swap(0)
}

// CheckpointMeta is the block-manager-level portion of a checkpoint
// record: where this checkpoint's own avail/alloc bookkeeping blocks
// live, and the file size at checkpoint time. The caller (the engine)
// adds the tree's root address and a write generation to build the
// full metadata-table checkpoint record it persists to the turtle
// file.
type CheckpointMeta struct {
	AvailAddr Addr
	AllocAddr Addr
	FileSize  int64
}

// CheckpointResolve folds the discard list into avail now that the
// checkpoint referencing those blocks has completed, then serializes
// avail and an alloc-list block through the normal write path, per
// spec.md §4.3 steps 2-4. prevAvail/prevAlloc are the caller's
// last-persisted checkpoint's own bookkeeping block addresses (the
// zero Addr for a store's first checkpoint); the alloc list records
// them, since identifying a checkpoint's own blocks is the only
// runtime use spec.md gives the alloc list. They are not freed here:
// a crash between this call returning and the caller durably
// recording its result must still find them reachable from the prior
// checkpoint pointer, so CheckpointUnload frees them only once the
// caller confirms that.
func (m *Manager) CheckpointResolve(prevAvail, prevAlloc Addr) (CheckpointMeta, error) {
	m.mu.Lock()
	for _, e := range m.discard.Snapshot() {
		if _, ok := m.discard.RemoveAt(e.Off); !ok {
			continue
		}
		if err := m.avail.Merge(e.Off, e.Size, extentlist.RoleFree); err != nil {
			m.mu.Unlock()
			return CheckpointMeta{}, err
		}
	}
	availSnapshot := m.avail.Snapshot()
	m.mu.Unlock()

	var allocEntries []extentlist.Extent
	if !prevAvail.Invalid() {
		allocEntries = append(allocEntries, addrExtent(prevAvail))
	}
	if !prevAlloc.Invalid() {
		allocEntries = append(allocEntries, addrExtent(prevAlloc))
	}

	allocAddr, err := m.Write(extentlist.Encode("alloc", allocEntries), false)
	if err != nil {
		return CheckpointMeta{}, err
	}
	availAddr, err := m.Write(extentlist.Encode("avail", availSnapshot), false)
	if err != nil {
		return CheckpointMeta{}, err
	}

	return CheckpointMeta{AvailAddr: availAddr, AllocAddr: allocAddr, FileSize: m.Size()}, nil
}

// addrExtent renders addr as the extent occupying its own on-disk
// space: the shape an alloc-list entry takes.
func addrExtent(a Addr) extentlist.Extent {
	return extentlist.Extent{Off: a.Offset * allocUnit, Size: uint64(a.Size) * allocUnit, Role: extentlist.RoleAlloc}
}

// CheckpointUnload frees a superseded checkpoint's own avail/alloc
// bookkeeping blocks, once the caller has durably recorded the new
// checkpoint that replaces them. Per spec.md §4.3 step 5, the pointer
// swap only happens after a successful sync, so this is only safe to
// call afterward.
func (m *Manager) CheckpointUnload(prevAvail, prevAlloc Addr) error {
	if !prevAvail.Invalid() {
		if err := m.Discard(prevAvail); err != nil {
			return err
		}
	}
	if !prevAlloc.Invalid() {
		if err := m.Discard(prevAlloc); err != nil {
			return err
		}
	}
	return nil
}

// Bootstrap restores avail-list state from a previously durable
// checkpoint, replacing whatever empty list Open created, and
// truncates away any bytes written after that checkpoint but never
// confirmed reachable from it, per spec.md §4.3's crash-recovery rule.
// alloc is not replayed: alloc exists only to let a checkpoint
// identify and free its predecessor's own bookkeeping blocks, a job
// CheckpointUnload already does from the caller's own record of that
// address.
func (m *Manager) Bootstrap(ckpt CheckpointMeta) error {
	if ckpt.AvailAddr.Invalid() {
		return nil
	}
	payload, _, err := m.Read(ckpt.AvailAddr)
	if err != nil {
		return err
	}
	_, avail, err := extentlist.Decode(payload, extentlist.RoleFree)
	if err != nil {
		return err
	}
	m.LoadLists(avail, nil)

	m.mu.Lock()
	defer m.mu.Unlock()
	if ckpt.FileSize > 0 && ckpt.FileSize < m.fileSize {
		if err := m.file.Truncate(ckpt.FileSize); err != nil {
			return err
		}
		m.fileSize = ckpt.FileSize
	}
	return nil
}

// Size returns the current file size in bytes.
func (m *Manager) Size() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fileSize
}

// WriteSize reports bytes written since the last CheckpointStart.
func (m *Manager) WriteSize() int64 { return m.writeSize.Load() }

// AddrInvalid reports whether addr is the sentinel "no address".
func (m *Manager) AddrInvalid(addr Addr) bool { return addr.Invalid() }

// AddrString renders addr for logging/diagnostics.
func (m *Manager) AddrString(addr Addr) string { return addr.String() }

// Sync flushes all pending writes to stable storage.
func (m *Manager) Sync() error { return m.file.Sync(false) }

// LoadLists restores avail/discard extent lists from a checkpoint
// record, replacing whatever empty lists Open created.
func (m *Manager) LoadLists(avail, discard []extentlist.Extent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range avail {
		m.avail.Insert(e.Off, e.Size, e.Role)
	}
	for _, e := range discard {
		m.discard.Insert(e.Off, e.Size, e.Role)
	}
}
