package cowdb

// leafEntriesSize returns the on-page footprint of entries if packed
// into one leaf page.
func leafEntriesSize(entries []leafEntry, prefix []byte) int {
	total := 0
	for _, e := range entries {
		stored := stripPrefix(prefix, e.key)
		if e.big {
			total += 2 + leafNodeSize(len(stored), 0, true)
		} else {
			total += 2 + leafNodeSize(len(stored), len(e.value), false)
		}
	}
	return total
}

func branchEntriesSize(entries []branchEntry, prefix []byte) int {
	total := 0
	for i, e := range entries {
		ksize := 0
		if i > 0 {
			ksize = len(stripPrefix(prefix, e.key))
		}
		total += 2 + branchNodeSize(ksize)
	}
	return total
}

// fillFraction returns the fraction (in permille) of a page's capacity
// currently occupied by the page header, slot pointers and node data.
func fillFraction(mp *memPage, pageSize int) int {
	used := pageSize - mp.pg.freeSpace()
	return used * 1000 / pageSize
}

func needsRebalance(mp *memPage, pageSize int) bool {
	if mp.pg.numSlots() == 0 {
		return true
	}
	return fillFraction(mp, pageSize) < fillThresholdPermille
}

// Delete implements spec.md §6's delete, followed by §4.8's rebalance:
// merge an underflowing page into a sibling when the combination still
// fits one page, or otherwise move a single boundary entry across and
// update the parent's separator in place. It returns the value the key
// held immediately before removal.
func (t *Txn) Delete(key []byte) ([]byte, error) {
	if err := t.checkWritable(); err != nil {
		return nil, err
	}
	if err := validateKey(key); err != nil {
		return nil, err
	}
	if t.root == invalidPgno {
		return nil, ErrKeyNotFound
	}

	stack, err := t.descend(key, true)
	if err != nil {
		t.poison()
		return nil, err
	}
	leafFrame := stack[len(stack)-1]
	leaf := leafFrame.mp
	idx, exact := searchPage(leaf, key)
	if !exact {
		return nil, ErrKeyNotFound
	}

	nv := leaf.pg.nodeAt(idx)
	var old []byte
	if nv.isBig() {
		old, err = t.readOverflow(nv.overflowHead())
		if err != nil {
			t.poison()
			return nil, err
		}
	} else {
		v := nv.value()
		old = make([]byte, len(v))
		copy(old, v)
	}

	oldSize := leaf.pg.nodeSizeAt(idx)
	leaf.pg.removeSlot(idx, oldSize)
	t.entries--

	if err := t.rebalanceAfterDelete(stack); err != nil {
		t.poison()
		return nil, err
	}
	return old, nil
}

// rebalanceAfterDelete walks the parent stack bottom-up, merging or
// borrowing at each underflowing level. A merge removes a child from its
// parent, which may itself underflow the parent — in that case the loop
// continues upward. A borrow only touches two sibling pages and the
// separator between them, so it stops propagation immediately.
func (t *Txn) rebalanceAfterDelete(stack []frame) error {
	for level := len(stack) - 1; level >= 0; level-- {
		mp := stack[level].mp

		if level == 0 {
			if mp.pg.isBranch() && mp.pg.numSlots() == 1 {
				t.root = mp.pg.nodeAt(0).childPgno()
				t.branchPages--
				t.depth--
			} else if mp.pg.isLeaf() && mp.pg.numSlots() == 0 {
				// The last entry in the tree was just deleted; collapse
				// back to the empty-tree state from initializeFile.
				t.root = invalidPgno
				t.leafPages--
				t.depth = 0
			}
			return nil
		}

		if !needsRebalance(mp, t.env.pageSize) {
			return nil
		}

		merged, err := t.rebalancePage(stack, level)
		if err != nil {
			return err
		}
		if !merged {
			return nil
		}
	}
	return nil
}

// rebalancePage resolves one underflowing page at stack[level] against a
// sibling reachable from its parent at stack[level-1].
func (t *Txn) rebalancePage(stack []frame, level int) (merged bool, err error) {
	parentFrame := stack[level-1]
	parent := parentFrame.mp
	pIdx := parentFrame.idx
	n := parent.pg.numSlots()

	var siblingIdx int
	var isRight bool
	switch {
	case pIdx+1 < n:
		siblingIdx, isRight = pIdx+1, true
	case pIdx > 0:
		siblingIdx, isRight = pIdx-1, false
	default:
		return false, nil
	}

	siblingPn := parent.pg.nodeAt(siblingIdx).childPgno()
	sibling, err := t.fetch(siblingPn)
	if err != nil {
		return false, err
	}
	sibling = t.touch(sibling)
	if sibling.pageNo() != siblingPn {
		setBranchChild(parent, siblingIdx, sibling.pageNo())
	}
	sibling.prefix = childPrefix(parent, siblingIdx)
	sibling.parent, sibling.parentIdx = parent, siblingIdx

	mp := stack[level].mp
	leftMp, rightMp, leftIdx, rightIdx := mp, sibling, pIdx, siblingIdx
	if !isRight {
		leftMp, rightMp, leftIdx, rightIdx = sibling, mp, siblingIdx, pIdx
	}

	if mp.pg.isLeaf() {
		return t.rebalanceLeaves(stack, level, leftMp, rightMp, leftIdx, rightIdx)
	}
	return t.rebalanceBranches(stack, level, leftMp, rightMp, leftIdx, rightIdx)
}

func (t *Txn) rebalanceLeaves(stack []frame, level int, leftMp, rightMp *memPage, leftIdx, rightIdx int) (bool, error) {
	parent := stack[level-1].mp
	leftEntries := decodeLeafEntries(leftMp)
	rightEntries := decodeLeafEntries(rightMp)

	sepIdx := rightIdx
	oldSepSize := parent.pg.nodeSizeAt(sepIdx)

	combined := append(append([]leafEntry{}, leftEntries...), rightEntries...)
	parentPrefix := parent.prefix

	leftBound, hasLeft := boundAt(parent, leftIdx, parentPrefix)
	rightBound, hasRight := boundAt(parent, rightIdx+1, parentPrefix)

	if leafEntriesSize(combined, nil) <= t.env.pageSize-pageHeaderSize {
		mergedPrefix := computePrefix(leftBound, rightBound, hasLeft, hasRight, parentPrefix)
		fillLeafPage(leftMp, combined, mergedPrefix)
		t.leafPages--
		parent.pg.removeSlot(sepIdx, oldSepSize)
		return true, nil
	}

	if len(rightEntries) > len(leftEntries) {
		moved := rightEntries[0]
		newLeft := append(append([]leafEntry{}, leftEntries...), moved)
		newRight := rightEntries[1:]
		newSep := reduceSeparator(moved.key, newRight[0].key)
		t.applyLeafBorrow(parent, sepIdx, leftMp, rightMp, newLeft, newRight, newSep, leftBound, rightBound, hasLeft, hasRight, parentPrefix)
	} else {
		moved := leftEntries[len(leftEntries)-1]
		newLeft := leftEntries[:len(leftEntries)-1]
		newRight := append([]leafEntry{moved}, rightEntries...)
		newSep := reduceSeparator(newLeft[len(newLeft)-1].key, moved.key)
		t.applyLeafBorrow(parent, sepIdx, leftMp, rightMp, newLeft, newRight, newSep, leftBound, rightBound, hasLeft, hasRight, parentPrefix)
	}
	return false, nil
}

func (t *Txn) applyLeafBorrow(parent *memPage, sepIdx int, leftMp, rightMp *memPage, newLeft, newRight []leafEntry, newSep []byte, leftBound, rightBound []byte, hasLeft, hasRight bool, parentPrefix []byte) {
	leftPrefix := computePrefix(leftBound, newSep, hasLeft, true, parentPrefix)
	rightPrefix := computePrefix(newSep, rightBound, true, hasRight, parentPrefix)
	fillLeafPage(leftMp, newLeft, leftPrefix)
	fillLeafPage(rightMp, newRight, rightPrefix)

	stored := stripPrefix(parentPrefix, newSep)
	data := make([]byte, branchNodeSize(len(stored)))
	encodeBranchNode(data, stored, parent.pg.nodeAt(sepIdx).childPgno())
	oldSize := parent.pg.nodeSizeAt(sepIdx)
	// A borrowed separator is never longer than a key already stored in
	// the subtree it bounds, so this always fits; ignore the result.
	parent.pg.replaceSlot(sepIdx, oldSize, data)
}

// boundAt returns the ancestor bound contributed by the parent's own
// slot at idx: branch slot 0 carries no real key, since it is the
// implicit -infinity entry.
func boundAt(parent *memPage, idx int, parentPrefix []byte) ([]byte, bool) {
	if idx == 0 {
		return nil, false
	}
	if idx >= parent.pg.numSlots() {
		return nil, false
	}
	return fullKey(parentPrefix, parent.pg.nodeAt(idx).storedKey()), true
}

func (t *Txn) rebalanceBranches(stack []frame, level int, leftMp, rightMp *memPage, leftIdx, rightIdx int) (bool, error) {
	parent := stack[level-1].mp
	leftEntries := decodeBranchEntries(leftMp)
	rightEntries := decodeBranchEntries(rightMp)

	sepIdx := rightIdx
	oldSep := fullKey(parent.prefix, parent.pg.nodeAt(sepIdx).storedKey())
	oldSepSize := parent.pg.nodeSizeAt(sepIdx)

	parentPrefix := parent.prefix
	leftBound, hasLeft := boundAt(parent, leftIdx, parentPrefix)
	rightBound, hasRight := boundAt(parent, rightIdx+1, parentPrefix)

	combined := mergeBranchEntries(leftEntries, oldSep, rightEntries)
	if branchEntriesSize(combined, nil) <= t.env.pageSize-pageHeaderSize {
		mergedPrefix := computePrefix(leftBound, rightBound, hasLeft, hasRight, parentPrefix)
		fillBranchPage(leftMp, combined, mergedPrefix)
		t.branchPages--
		parent.pg.removeSlot(sepIdx, oldSepSize)
		return true, nil
	}

	if len(rightEntries) > len(leftEntries) {
		moved := rightEntries[0]
		newLeft := append(append([]branchEntry{}, leftEntries...), branchEntry{key: oldSep, child: moved.child})
		newRight := append([]branchEntry{{child: rightEntries[1].child}}, rightEntries[2:]...)
		newSep := rightEntries[1].key
		t.applyBranchBorrow(parent, sepIdx, leftMp, rightMp, newLeft, newRight, newSep, leftBound, rightBound, hasLeft, hasRight, parentPrefix)
	} else {
		moved := leftEntries[len(leftEntries)-1]
		newLeft := leftEntries[:len(leftEntries)-1]
		newRight := append([]branchEntry{{child: moved.child}}, append([]branchEntry{{key: oldSep, child: rightEntries[0].child}}, rightEntries[1:]...)...)
		newSep := moved.key
		t.applyBranchBorrow(parent, sepIdx, leftMp, rightMp, newLeft, newRight, newSep, leftBound, rightBound, hasLeft, hasRight, parentPrefix)
	}
	return false, nil
}

func (t *Txn) applyBranchBorrow(parent *memPage, sepIdx int, leftMp, rightMp *memPage, newLeft, newRight []branchEntry, newSep []byte, leftBound, rightBound []byte, hasLeft, hasRight bool, parentPrefix []byte) {
	leftPrefix := computePrefix(leftBound, newSep, hasLeft, true, parentPrefix)
	rightPrefix := computePrefix(newSep, rightBound, true, hasRight, parentPrefix)
	fillBranchPage(leftMp, newLeft, leftPrefix)
	fillBranchPage(rightMp, newRight, rightPrefix)

	stored := stripPrefix(parentPrefix, newSep)
	data := make([]byte, branchNodeSize(len(stored)))
	encodeBranchNode(data, stored, parent.pg.nodeAt(sepIdx).childPgno())
	oldSize := parent.pg.nodeSizeAt(sepIdx)
	parent.pg.replaceSlot(sepIdx, oldSize, data)
}

// mergeBranchEntries combines a left page's entries, the separator that
// used to sit between the two pages in their parent, and a right page's
// entries into one sequence: the right page's implicit slot-0 child
// gains sepKey as its real key.
func mergeBranchEntries(left []branchEntry, sepKey []byte, right []branchEntry) []branchEntry {
	out := make([]branchEntry, 0, len(left)+len(right))
	out = append(out, left...)
	out = append(out, branchEntry{key: sepKey, child: right[0].child})
	out = append(out, right[1:]...)
	return out
}
