package cowdb

import "container/list"

// defaultCacheSize is max_cache from spec.md §4.3.
const defaultCacheSize = 1024

// memPage is the in-memory cache entry for one page: its deserialized
// bytes, its position in the tree discovered during the current
// descent, its effective prefix, and a reference count that pins the
// entry against pruning while positive — spec.md §3's "In-memory page".
// Nothing in this package increments ref: cursors and returned values
// do not pin the pages they read from.
type memPage struct {
	pg *page

	parent    *memPage
	parentIdx int
	prefix    []byte

	ref   int32
	dirty bool
}

func (m *memPage) pageNo() pgno { return m.pg.pageNo() }

// pageCache is an ordered map from pgno to memPage plus an LRU list over
// the same entries, per spec.md §4.3.
type pageCache struct {
	entries map[pgno]*list.Element // element.Value is *memPage
	lru     *list.List             // MRU at Back, LRU at Front
	max     int
}

func newPageCache(max int) *pageCache {
	if max <= 0 {
		max = defaultCacheSize
	}
	return &pageCache{
		entries: make(map[pgno]*list.Element),
		lru:     list.New(),
		max:     max,
	}
}

// get looks up pn, bumping it to MRU on a hit.
func (c *pageCache) get(pn pgno) (*memPage, bool) {
	el, ok := c.entries[pn]
	if !ok {
		return nil, false
	}
	c.lru.MoveToBack(el)
	return el.Value.(*memPage), true
}

// put inserts or replaces the cache entry for pn, placing it at MRU.
func (c *pageCache) put(mp *memPage) {
	pn := mp.pageNo()
	if el, ok := c.entries[pn]; ok {
		el.Value = mp
		c.lru.MoveToBack(el)
		return
	}
	el := c.lru.PushBack(mp)
	c.entries[pn] = el
}

// remove evicts pn unconditionally (used to drop stale entries after a
// page is reallocated under a new pgno, or on abort).
func (c *pageCache) remove(pn pgno) {
	if el, ok := c.entries[pn]; ok {
		c.lru.Remove(el)
		delete(c.entries, pn)
	}
}

// setMax adjusts the cache's capacity (Env.SetCacheSize, spec.md §6).
func (c *pageCache) setMax(n int) {
	if n <= 0 {
		n = defaultCacheSize
	}
	c.max = n
	c.prune()
}

// prune evicts from the LRU head while over capacity, skipping any
// referenced or dirty entry (spec.md §4.3: the cache may legitimately
// exceed its bound when everything over the line is pinned).
func (c *pageCache) prune() {
	for c.lru.Len() > c.max {
		el := c.lru.Front()
		mp := el.Value.(*memPage)
		if mp.dirty || mp.ref > 0 {
			// Not evictable; nothing further back is any more stale, so
			// walk forward looking for a victim instead of spinning.
			evicted := false
			for e := el.Next(); e != nil; e = e.Next() {
				cand := e.Value.(*memPage)
				if !cand.dirty && cand.ref <= 0 {
					c.lru.Remove(e)
					delete(c.entries, cand.pageNo())
					evicted = true
					break
				}
			}
			if !evicted {
				return
			}
			continue
		}
		c.lru.Remove(el)
		delete(c.entries, mp.pageNo())
	}
}

// len reports the number of entries currently cached.
func (c *pageCache) len() int { return c.lru.Len() }
