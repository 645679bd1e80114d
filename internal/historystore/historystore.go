// Package historystore holds update versions reconciliation walked
// past but that some reader's snapshot may still need: spec §4.8 step
// 2's spill target, keyed by (btreeID, key, startTS) so a lookup can
// find the newest version no later than a reader's snapshot.
package historystore

import (
	"bytes"
	"encoding/binary"
	"sort"
	"sync"
)

// Store is an in-memory, MVCC-ordered spill table. Composite keys are
// built the way pkg/prompt's PromptStore composes its conversation/
// message keys (concatenated, length-prefixed components), here so
// that natural byte ordering sorts entries by btreeID, then key length
// (the key's 4-byte big-endian length prefix), then key bytes, then
// startTS ascending.
type Store struct {
	mu      sync.RWMutex
	entries map[string][]byte // composite key -> value
	keys    []string          // kept sorted for range lookups
}

// New creates an empty history store.
func New() *Store {
	return &Store{entries: make(map[string][]byte)}
}

func compositeKey(btreeID uint64, key []byte, startTS uint64) string {
	buf := make([]byte, 0, 8+4+len(key)+8)
	var idBuf [8]byte
	binary.BigEndian.PutUint64(idBuf[:], btreeID)
	buf = append(buf, idBuf[:]...)

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(key)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, key...)

	var tsBuf [8]byte
	binary.BigEndian.PutUint64(tsBuf[:], startTS)
	buf = append(buf, tsBuf[:]...)
	return string(buf)
}

// Spill records value as the version of key that existed starting at
// startTS, satisfying reconcile.HistoryStore.
func (s *Store) Spill(btreeID uint64, key []byte, startTS uint64, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ck := compositeKey(btreeID, key, startTS)
	if _, exists := s.entries[ck]; !exists {
		i := sort.SearchStrings(s.keys, ck)
		s.keys = append(s.keys, "")
		copy(s.keys[i+1:], s.keys[i:])
		s.keys[i] = ck
	}
	s.entries[ck] = append([]byte(nil), value...)
	return nil
}

// Lookup returns the newest recorded version of key whose startTS is
// <= asOf, the version a reader whose snapshot predates the live
// page's current value should see instead.
func (s *Store) Lookup(btreeID uint64, key []byte, asOf uint64) (value []byte, startTS uint64, found bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prefix := compositeKeyPrefix(btreeID, key)
	upper := compositeKey(btreeID, key, asOf+1)

	lo := sort.SearchStrings(s.keys, prefix)
	best := ""
	for i := lo; i < len(s.keys); i++ {
		k := s.keys[i]
		if !bytesHasPrefix(k, prefix) {
			break
		}
		if k >= upper {
			break
		}
		best = k
	}
	if best == "" {
		return nil, 0, false
	}
	ts := binary.BigEndian.Uint64([]byte(best)[len(best)-8:])
	return s.entries[best], ts, true
}

func compositeKeyPrefix(btreeID uint64, key []byte) string {
	buf := make([]byte, 0, 8+4+len(key))
	var idBuf [8]byte
	binary.BigEndian.PutUint64(idBuf[:], btreeID)
	buf = append(buf, idBuf[:]...)
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(key)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, key...)
	return string(buf)
}

func bytesHasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && bytes.Equal([]byte(s[:len(prefix)]), []byte(prefix))
}

// Prune discards every recorded version of every key older than
// oldestTS, the watermark below which no reader's snapshot can still
// need them (mvcc.Manager.OldestForEviction's timestamp analogue).
func (s *Store) Prune(oldestTS uint64) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	kept := s.keys[:0]
	for _, k := range s.keys {
		ts := binary.BigEndian.Uint64([]byte(k)[len(k)-8:])
		if ts < oldestTS {
			delete(s.entries, k)
			removed++
			continue
		}
		kept = append(kept, k)
	}
	s.keys = kept
	return removed
}

// Len returns the current number of recorded versions, for metrics.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}
