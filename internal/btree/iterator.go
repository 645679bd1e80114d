package btree

import (
	"sort"

	"github.com/nainya/emberkv/internal/page"
)

// Iterator walks every leaf reachable from the tree's root in key
// order, resolving each key's currently-visible value. It is built
// fresh per scan rather than held open across structural changes,
// matching the copy-on-write discipline the rest of the tree follows.
type Iterator struct {
	entries []kvEntry
	pos     int
}

type kvEntry struct {
	key   []byte
	value []byte
}

// NewIterator collects every live (non-tombstoned) key visible right
// now, across every leaf, in ascending order.
func (t *Tree) NewIterator() (*Iterator, error) {
	var entries []kvEntry
	if err := t.walkLeaves(t.Root(), func(leaf *page.Page) error {
		seen := map[string]bool{}
		leaf.Inserts.Each(func(key []byte, chain *page.Chain) {
			if seen[string(key)] {
				return
			}
			seen[string(key)] = true
			if v, ok := page.Resolve(chain.Head(), nil); ok {
				entries = append(entries, kvEntry{key: append([]byte(nil), key...), value: v})
			}
		})
		leaf.RLock()
		for _, row := range leaf.Rows {
			if seen[string(row.Key)] {
				continue
			}
			if v, ok := page.Resolve(row.Chain.Head(), row.Value); ok {
				entries = append(entries, kvEntry{key: append([]byte(nil), row.Key...), value: v})
			}
		}
		leaf.RUnlock()
		return nil
	}); err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool { return bytesLess(entries[i].key, entries[j].key) })
	return &Iterator{entries: entries}, nil
}

func (t *Tree) walkLeaves(ref *page.Ref, fn func(leaf *page.Page) error) error {
	p, err := t.resolve(ref)
	if err != nil {
		return err
	}
	if p.Type == page.TypeRowLeaf {
		return fn(p)
	}
	idx := p.Index()
	if idx == nil {
		return nil
	}
	for _, child := range idx.Refs {
		if err := t.walkLeaves(child, fn); err != nil {
			return err
		}
	}
	return nil
}

// Next advances the iterator and reports whether an entry is available.
func (it *Iterator) Next() bool {
	if it.pos >= len(it.entries) {
		return false
	}
	it.pos++
	return true
}

// Key/Value return the entry Next just advanced to.
func (it *Iterator) Key() []byte   { return it.entries[it.pos-1].key }
func (it *Iterator) Value() []byte { return it.entries[it.pos-1].value }

// Count reports the total number of live entries this iterator holds.
func (it *Iterator) Count() int { return len(it.entries) }
