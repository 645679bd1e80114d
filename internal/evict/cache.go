// Package evict tracks the in-memory page cache's size and runs the
// background scanner that reclaims space by handing dirty pages to
// reconciliation and releasing clean ones, per spec §4.9.
package evict

import "sync/atomic"

// Cache holds the four running counters spec §4.9 names. Every
// counter is updated by whichever code path changes a page's
// residency or dirty state; Scanner only reads them to decide whether
// it has work to do.
type Cache struct {
	bytesInMem atomic.Int64
	bytesDirty atomic.Int64
	pagesClean atomic.Int64
	pagesDirty atomic.Int64

	maxBytes int64 // 0 means unbounded
}

// NewCache creates a cache tracker with the given byte budget (0 for
// unbounded, useful in tests that never want CACHE_OVERFLOW).
func NewCache(maxBytes int64) *Cache {
	return &Cache{maxBytes: maxBytes}
}

func (c *Cache) BytesInMem() int64 { return c.bytesInMem.Load() }
func (c *Cache) BytesDirty() int64 { return c.bytesDirty.Load() }
func (c *Cache) PagesClean() int64 { return c.pagesClean.Load() }
func (c *Cache) PagesDirty() int64 { return c.pagesDirty.Load() }

// TrackLoad records a page entering memory clean, sized bytes large.
func (c *Cache) TrackLoad(bytes int64) {
	c.bytesInMem.Add(bytes)
	c.pagesClean.Add(1)
}

// TrackDirty moves a page from the clean count to the dirty count and
// records the byte delta a modification added.
func (c *Cache) TrackDirty(deltaBytes int64) {
	c.bytesInMem.Add(deltaBytes)
	c.bytesDirty.Add(deltaBytes)
	c.pagesClean.Add(-1)
	c.pagesDirty.Add(1)
}

// TrackEvict removes a page from the cache entirely, clean or dirty.
func (c *Cache) TrackEvict(bytes int64, wasDirty bool) {
	c.bytesInMem.Add(-bytes)
	if wasDirty {
		c.bytesDirty.Add(-bytes)
		c.pagesDirty.Add(-1)
	} else {
		c.pagesClean.Add(-1)
	}
}

// TrackReconciled moves a page from dirty back to clean after a
// successful reconciliation that did not release it from memory.
func (c *Cache) TrackReconciled(bytes int64) {
	c.bytesDirty.Add(-bytes)
	c.pagesDirty.Add(-1)
	c.pagesClean.Add(1)
}

// Full reports whether the cache has crossed its configured byte
// budget; Scanner and cursor-assist both consult this to decide
// whether to keep evicting or to surface CACHE_OVERFLOW.
func (c *Cache) Full() bool {
	if c.maxBytes <= 0 {
		return false
	}
	return c.bytesInMem.Load() >= c.maxBytes
}
