package cowdb

import "testing"

func newTestMemPage(pn pgno) *memPage {
	buf := make([]byte, 256)
	p := &page{Data: buf}
	initPage(p, pn, pageLeaf, 256)
	return &memPage{pg: p}
}

func TestPageCacheGetPutMoveToMRU(t *testing.T) {
	c := newPageCache(4)
	for i := pgno(1); i <= 4; i++ {
		c.put(newTestMemPage(i))
	}
	if c.len() != 4 {
		t.Fatalf("len = %d, want 4", c.len())
	}
	if _, ok := c.get(1); !ok {
		t.Fatal("expected page 1 to be cached")
	}
	// Adding a 5th entry should evict the least-recently-used page (2,
	// since 1 was just bumped to MRU by the get above).
	c.put(newTestMemPage(5))
	c.setMax(4)
	if _, ok := c.get(2); ok {
		t.Fatal("expected page 2 to have been evicted")
	}
	if _, ok := c.get(1); !ok {
		t.Fatal("expected page 1 to survive (recently used)")
	}
}

func TestPageCacheSkipsDirtyAndReferenced(t *testing.T) {
	c := newPageCache(2)
	a := newTestMemPage(1)
	a.dirty = true
	b := newTestMemPage(2)
	b.ref = 1
	clean := newTestMemPage(3)

	c.put(a)
	c.put(b)
	c.put(clean)
	c.setMax(2)

	if _, ok := c.get(1); !ok {
		t.Fatal("dirty page should not be evicted")
	}
	if _, ok := c.get(2); !ok {
		t.Fatal("referenced page should not be evicted")
	}
	if _, ok := c.get(3); ok {
		t.Fatal("clean unreferenced page should have been evicted")
	}
}

func TestPageCacheRemove(t *testing.T) {
	c := newPageCache(4)
	c.put(newTestMemPage(1))
	c.remove(1)
	if _, ok := c.get(1); ok {
		t.Fatal("expected page 1 to be removed")
	}
}
