package cowdb

import (
	"bytes"
	"time"
)

// maxKeySize is spec.md §3's Key bound: up to 255 bytes.
const maxKeySize = 255

// fillThresholdPermille is spec.md §4.8's rebalance trigger: below 250‰
// fill, a page becomes a rebalance candidate.
const fillThresholdPermille = 250

// minKeysDivisor yields the overflow threshold psize/minkeys (minkeys=4)
// from spec.md §3/§4.4.
const minKeysDivisor = 4

// Txn is a read or write transaction over one committed (or
// in-progress) revision of the tree — spec.md §3's Transaction.
type Txn struct {
	env      *Env
	writable bool

	root pgno

	// Writer-only state.
	nextPgno pgno
	dirty    []*memPage
	poisoned bool
	locked   bool

	// Counters, copied from the snapshotted meta at begin and mutated
	// in place as the writer proceeds; committed into the new meta page.
	branchPages   uint64
	leafPages     uint64
	overflowPages uint64
	depth         uint32
	entries       uint64
	revisions     uint64

	done bool
}

// poison marks the write transaction as failed; per spec.md §7 every
// subsequent operation and the eventual commit must fail fast.
func (t *Txn) poison() { t.poisoned = true }

func (t *Txn) checkWritable() error {
	if !t.writable {
		return ErrReadOnlyTxn
	}
	if t.poisoned {
		return ErrPoisonedTxn
	}
	if t.done {
		return wrapErr(ErrInvalid, errString("transaction already closed"))
	}
	return nil
}

// fetch returns the in-memory page for pn, reading through the shared
// cache to the pager on a miss. Cache entries outlive transactions
// (spec.md §3), so a writer's own dirty pages and a reader's pinned
// pages for an older root coexist safely: COW never reuses a pgno.
func (t *Txn) fetch(pn pgno) (*memPage, error) {
	if mp, ok := t.env.cache.get(pn); ok {
		return mp, nil
	}
	p, err := t.env.pager.readPage(pn)
	if err != nil {
		return nil, err
	}
	if err := p.validate(t.env.pageSize); err != nil {
		return nil, err
	}
	mp := &memPage{pg: p}
	t.env.cache.put(mp)
	return mp, nil
}

// allocPage draws a fresh pgno from this writer's monotonic counter and
// returns a new, initialized, dirty page enqueued for commit — spec.md
// §9's COW allocation.
func (t *Txn) allocPage(flags pageFlags) *memPage {
	pn := t.nextPgno
	t.nextPgno++
	buf := make([]byte, t.env.pageSize)
	p := &page{Data: buf}
	initPage(p, pn, flags, t.env.pageSize)
	mp := &memPage{pg: p, dirty: true}
	t.env.cache.put(mp)
	t.dirty = append(t.dirty, mp)
	return mp
}

// touch implements spec.md §4.10's COW "touch": the first mutation of a
// clean page allocates it a fresh pgno and copies its bytes, leaving the
// original entry (and pgno) untouched for any reader still pinning the
// old root. Touching an already-dirty page (one this txn already owns)
// is a no-op.
func (t *Txn) touch(mp *memPage) *memPage {
	if mp.dirty {
		return mp
	}
	nm := t.allocPage(mp.pg.flags())
	pn := nm.pg.pageNo()
	copy(nm.pg.Data, mp.pg.Data)
	nm.pg.header().Pgno = pn
	nm.prefix = mp.prefix
	nm.parent = mp.parent
	nm.parentIdx = mp.parentIdx
	return nm
}

// writeOverflow stores value on a freshly allocated overflow chain and
// returns its head pgno, updating this txn's overflow-page counter.
func (t *Txn) writeOverflow(value []byte) pgno {
	head := writeOverflowChain(value, t.env.pageSize, func() (*page, pgno) {
		mp := t.allocPage(pageOverflow)
		t.overflowPages++
		return mp.pg, mp.pg.pageNo()
	})
	return head
}

func (t *Txn) readOverflow(head pgno) ([]byte, error) {
	return readOverflowChain(head, t.env.pageSize, func(pn pgno) (*page, error) {
		mp, err := t.fetch(pn)
		if err != nil {
			return nil, err
		}
		return mp.pg, nil
	})
}

// validateKey enforces spec.md §3/§6's key-size bound.
func validateKey(key []byte) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}
	if len(key) > maxKeySize {
		return ErrKeyTooLarge
	}
	return nil
}

// descend walks from the transaction's current root to the leaf that
// would contain key, returning the full root-to-leaf parent stack
// (spec.md §4.6). When modify is true, every page along the path is
// touched (COW-allocated) and the new child pgno is propagated into the
// already-touched parent's slot, per spec.md §4.6's "Search with
// modify=true".
func (t *Txn) descend(key []byte, modify bool) ([]frame, error) {
	if t.root == invalidPgno {
		return nil, nil
	}
	mp, err := t.fetch(t.root)
	if err != nil {
		return nil, err
	}
	if modify {
		mp = t.touch(mp)
		if mp.pageNo() != t.root {
			// The root moved under COW; the transaction's own root
			// pointer is its only parent, so this must be updated here
			// rather than via setBranchChild.
			t.root = mp.pageNo()
		}
	}
	mp.prefix = nil // root has no ancestor bounds
	var stack []frame

	for {
		if mp.pg.isLeaf() {
			idx, _ := searchPage(mp, key)
			stack = append(stack, frame{mp: mp, idx: idx})
			return stack, nil
		}

		idx, exact := searchPage(mp, key)
		childIdx := chooseChild(idx, exact, mp.pg.numSlots())
		stack = append(stack, frame{mp: mp, idx: childIdx})

		childPn := mp.pg.nodeAt(childIdx).childPgno()
		child, err := t.fetch(childPn)
		if err != nil {
			return nil, err
		}
		if modify {
			child = t.touch(child)
			if child.pageNo() != childPn {
				// The child moved under COW; rewrite the parent's slot to
				// point at its new home (spec.md §4.6).
				setBranchChild(mp, childIdx, child.pageNo())
			}
		}
		child.parent = mp
		child.parentIdx = childIdx
		child.prefix = childPrefix(mp, childIdx)
		mp = child
	}
}

// setBranchChild overwrites a branch slot's child pgno in place; the
// slot's size never changes, so this is always a same-size replace.
func setBranchChild(mp *memPage, idx int, child pgno) {
	nv := mp.pg.nodeAt(idx)
	nv.hdr.DSize = uint32(child)
}

// childPrefix computes childIdx's effective prefix from its parent's
// bounding separators, per spec.md §4.5. The left bound is the nearest
// separator at or before childIdx that is not the implicit slot 0 key;
// the right bound is the separator immediately after childIdx, if any.
func childPrefix(parent *memPage, childIdx int) []byte {
	var left, right []byte
	hasLeft, hasRight := false, false

	if childIdx > 0 {
		left = fullKey(parent.prefix, parent.pg.nodeAt(childIdx).storedKey())
		hasLeft = true
	}
	if childIdx+1 < parent.pg.numSlots() {
		right = fullKey(parent.prefix, parent.pg.nodeAt(childIdx+1).storedKey())
		hasRight = true
	}
	return computePrefix(left, right, hasLeft, hasRight, parent.prefix)
}

// Get implements spec.md §6's get: point lookup with full-key equality.
func (t *Txn) Get(key []byte) ([]byte, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	if t.done {
		return nil, wrapErr(ErrInvalid, errString("transaction already closed"))
	}
	stack, err := t.descend(key, false)
	if err != nil {
		return nil, err
	}
	if stack == nil {
		return nil, ErrKeyNotFound
	}
	leaf := stack[len(stack)-1]
	idx := leaf.idx
	if idx >= leaf.mp.pg.numSlots() {
		return nil, ErrKeyNotFound
	}
	nv := leaf.mp.pg.nodeAt(idx)
	if !bytes.Equal(nv.storedKey(), stripPrefix(leaf.mp.prefix, key)) {
		return nil, ErrKeyNotFound
	}
	if nv.isBig() {
		return t.readOverflow(nv.overflowHead())
	}
	val := nv.value()
	out := make([]byte, len(val))
	copy(out, val)
	return out, nil
}

// Cursor opens a new ordered-traversal cursor over this transaction.
func (t *Txn) Cursor() (*Cursor, error) {
	if t.done {
		return nil, wrapErr(ErrInvalid, errString("transaction already closed"))
	}
	return &Cursor{txn: t}, nil
}

// Commit implements spec.md §4.10: write dirty pages in batches, fsync,
// write a new meta page, fsync again, prune the cache, release the
// writer lock.
func (t *Txn) Commit() error {
	if !t.writable {
		return ErrReadOnlyTxn
	}
	if t.done {
		return wrapErr(ErrInvalid, errString("transaction already closed"))
	}
	if t.poisoned {
		t.Abort()
		return ErrPoisonedTxn
	}
	defer t.release()

	if len(t.dirty) > 0 {
		if err := t.env.pager.fixPadding(); err != nil {
			return err
		}
		for len(t.dirty) > 0 {
			n := len(t.dirty)
			if n > writeBatchSize {
				n = writeBatchSize
			}
			batch := t.dirty[:n]
			pages := make([]*page, n)
			for i, mp := range batch {
				pages[i] = mp.pg
				mp.dirty = false
			}
			if err := t.env.pager.writeBatch(pages); err != nil {
				return err
			}
			t.dirty = t.dirty[n:]
		}
		if !t.env.noSync {
			if err := t.env.pager.sync(); err != nil {
				return err
			}
		}
	}

	if err := t.writeMeta(false); err != nil {
		return err
	}
	if !t.env.noSync {
		if err := t.env.pager.sync(); err != nil {
			return err
		}
	}

	t.env.cache.prune()
	t.env.commitRoot(t.root, t.branchPages, t.leafPages, t.overflowPages, t.depth, t.entries, t.revisions, t.env.metaPgno)
	t.done = true
	return nil
}

// writeMeta implements spec.md §4.2's meta write: allocate a fresh meta
// page, stamp counters and the SHA-256 hash, and append it.
func (t *Txn) writeMeta(tombstone bool) error {
	mp := t.allocPage(pageMeta)
	mb := metaBodyAt(mp.pg)
	*mb = metaBody{
		Root:          t.root,
		PrevMeta:      t.env.metaPgno,
		BranchPages:   t.branchPages,
		LeafPages:     t.leafPages,
		OverflowPages: t.overflowPages,
		Revisions:     t.revisions + 1,
		Depth:         t.depth,
		Entries:       t.entries,
	}
	if tombstone {
		mb.Flags |= metaTombstone
	}
	mb.Created = time.Now().UnixNano()
	stampMetaHash(mp.pg)

	pages := []*page{mp.pg}
	mp.dirty = false
	t.env.metaPgno = mp.pageNo()
	t.revisions = mb.Revisions
	return t.env.pager.writeBatch(pages)
}

// Abort implements spec.md §4.10: discard dirty pages and release any
// writer lock; both readers and writers simply drop the transaction
// otherwise.
func (t *Txn) Abort() {
	if t.done {
		return
	}
	for _, mp := range t.dirty {
		t.env.cache.remove(mp.pageNo())
	}
	t.dirty = nil
	t.done = true
	t.release()
}

func (t *Txn) release() {
	if t.locked {
		t.env.releaseWriter()
		t.locked = false
	}
}
