package cowdb

import "bytes"

// searchPage implements spec.md §4.6's binary search within a page: it
// returns the smallest slot index whose full key is ≥ query, or
// numSlots if none is. On branch pages slot 0 (the implicit "-infinity"
// key) is never considered a candidate, matching a call with a
// non-empty query.
//
// exact reports whether the slot returned compares equal to query.
func searchPage(mp *memPage, query []byte) (idx int, exact bool) {
	p := mp.pg
	n := p.numSlots()
	lo, hi := 0, n
	if p.isBranch() {
		lo = 1
	}
	stripped := query
	if len(mp.prefix) > 0 {
		// Per spec.md §4.6: strip the page's prefix from the query
		// before comparing, since stored keys are already stripped.
		// Queries shorter than the prefix cannot appear on this page;
		// fall back to comparing against the full key.
		if len(query) >= len(mp.prefix) && bytes.Equal(query[:len(mp.prefix)], mp.prefix) {
			stripped = query[len(mp.prefix):]
		}
	}

	for lo < hi {
		mid := (lo + hi) / 2
		c := bytes.Compare(stripped, p.nodeAt(mid).storedKey())
		switch {
		case c == 0:
			return mid, true
		case c < 0:
			hi = mid
		default:
			lo = mid + 1
		}
	}
	return lo, false
}

// chooseChild applies spec.md §4.6's descent rule given a searchPage
// result on a branch page: take the exact slot if found; otherwise take
// the slot immediately before the first key ≥ query (or the last child
// if no such key exists).
func chooseChild(idx int, exact bool, n int) int {
	if exact {
		return idx
	}
	if idx == 0 {
		// searchPage never returns 0 as inexact on a branch page since
		// slot 0 is skipped and has no real key below it; guard anyway.
		return 0
	}
	if idx >= n {
		return n - 1
	}
	return idx - 1
}

// frame is one level of the root-to-leaf parent stack used by both
// direct descent and cursors.
type frame struct {
	mp  *memPage
	idx int // index of the child/entry this frame is positioned at
}
