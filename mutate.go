package cowdb

// leafEntry is the decoded, prefix-independent form of one leaf node,
// used to rebuild pages across a split without carrying stale stored
// keys from the old prefix forward.
type leafEntry struct {
	key   []byte
	big   bool
	value []byte
	head  pgno
}

// branchEntry is the decoded form of one branch node. Slot 0 on every
// branch page is the implicit "-infinity" entry and carries key == nil.
type branchEntry struct {
	key   []byte
	child pgno
}

func decodeLeafEntries(mp *memPage) []leafEntry {
	n := mp.pg.numSlots()
	out := make([]leafEntry, n)
	for i := 0; i < n; i++ {
		nv := mp.pg.nodeAt(i)
		out[i] = leafEntry{key: fullKey(mp.prefix, nv.storedKey())}
		if nv.isBig() {
			out[i].big = true
			out[i].head = nv.overflowHead()
		} else {
			v := nv.value()
			val := make([]byte, len(v))
			copy(val, v)
			out[i].value = val
		}
	}
	return out
}

func decodeBranchEntries(mp *memPage) []branchEntry {
	n := mp.pg.numSlots()
	out := make([]branchEntry, n)
	for i := 0; i < n; i++ {
		nv := mp.pg.nodeAt(i)
		out[i].child = nv.childPgno()
		if i > 0 {
			out[i].key = fullKey(mp.prefix, nv.storedKey())
		}
	}
	return out
}

func insertLeafEntry(entries []leafEntry, idx int, e leafEntry) []leafEntry {
	out := make([]leafEntry, 0, len(entries)+1)
	out = append(out, entries[:idx]...)
	out = append(out, e)
	out = append(out, entries[idx:]...)
	return out
}

func insertBranchEntry(entries []branchEntry, idx int, e branchEntry) []branchEntry {
	out := make([]branchEntry, 0, len(entries)+1)
	out = append(out, entries[:idx]...)
	out = append(out, e)
	out = append(out, entries[idx:]...)
	return out
}

// fillLeafPage resets mp to an empty leaf and encodes entries relative
// to prefix. Entries must already fit (callers size the split so they
// do); it panics on overflow since that would indicate a split-sizing
// bug rather than a runtime condition.
func fillLeafPage(mp *memPage, entries []leafEntry, prefix []byte) {
	initPage(mp.pg, mp.pageNo(), pageLeaf, len(mp.pg.Data))
	mp.prefix = prefix
	for i, e := range entries {
		stored := stripPrefix(prefix, e.key)
		var data []byte
		if e.big {
			data = make([]byte, leafNodeSize(len(stored), 0, true))
			encodeLeafNode(data, stored, nil, true, e.head)
		} else {
			data = make([]byte, leafNodeSize(len(stored), len(e.value), false))
			encodeLeafNode(data, stored, e.value, false, 0)
		}
		if !mp.pg.insertSlot(i, data) {
			panic("cowdb: split produced a leaf half that still overflows")
		}
	}
}

func fillBranchPage(mp *memPage, entries []branchEntry, prefix []byte) {
	initPage(mp.pg, mp.pageNo(), pageBranch, len(mp.pg.Data))
	mp.prefix = prefix
	for i, e := range entries {
		var stored []byte
		if i > 0 {
			stored = stripPrefix(prefix, e.key)
		}
		data := make([]byte, branchNodeSize(len(stored)))
		encodeBranchNode(data, stored, e.child)
		if !mp.pg.insertSlot(i, data) {
			panic("cowdb: split produced a branch half that still overflows")
		}
	}
}

// ensureRoot allocates an empty leaf root the first time a writer
// touches an empty tree.
func (t *Txn) ensureRoot() {
	if t.root != invalidPgno {
		return
	}
	mp := t.allocPage(pageLeaf)
	t.root = mp.pageNo()
	t.leafPages++
	t.depth = 1
}

// Put implements spec.md §6's put: insert key verbatim, or overwrite its
// current value if key is already present. Large values (over psize/4)
// are spilled to an overflow chain; the node retains only the head pgno.
func (t *Txn) Put(key, value []byte) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	if err := validateKey(key); err != nil {
		return err
	}
	t.ensureRoot()

	stack, err := t.descend(key, true)
	if err != nil {
		t.poison()
		return err
	}
	leafFrame := stack[len(stack)-1]
	leaf := leafFrame.mp
	idx, exact := searchPage(leaf, key)

	big := isOverflowValue(len(value), t.env.pageSize)
	var head pgno
	if big {
		head = t.writeOverflow(value)
	}
	storedKey := stripPrefix(leaf.prefix, key)
	var nodeData []byte
	if big {
		nodeData = make([]byte, leafNodeSize(len(storedKey), 0, true))
		encodeLeafNode(nodeData, storedKey, nil, true, head)
	} else {
		nodeData = make([]byte, leafNodeSize(len(storedKey), len(value), false))
		encodeLeafNode(nodeData, storedKey, value, false, 0)
	}

	if exact {
		oldSize := leaf.pg.nodeSizeAt(idx)
		if leaf.pg.replaceSlot(idx, oldSize, nodeData) {
			return nil
		}
		leaf.pg.removeSlot(idx, oldSize)
		if err := t.splitLeafAndInsert(stack, idx, leafEntryFromEncoded(key, value, big, head)); err != nil {
			t.poison()
			return err
		}
		return nil
	}

	if leaf.pg.insertSlot(idx, nodeData) {
		t.entries++
		return nil
	}
	if err := t.splitLeafAndInsert(stack, idx, leafEntryFromEncoded(key, value, big, head)); err != nil {
		t.poison()
		return err
	}
	t.entries++
	return nil
}

func leafEntryFromEncoded(key, value []byte, big bool, head pgno) leafEntry {
	e := leafEntry{key: key, big: big, head: head}
	if !big {
		e.value = value
	}
	return e
}

// splitLeafAndInsert implements spec.md §4.6/§4.7's leaf split: the leaf
// at the bottom of stack overflowed, so its entries (plus the one being
// inserted at idx) are redistributed across the original page and a
// freshly allocated sibling, and a new separator is propagated into the
// parent (or a new root is created if the leaf was the root).
func (t *Txn) splitLeafAndInsert(stack []frame, idx int, newEntry leafEntry) error {
	level := len(stack) - 1
	leaf := stack[level].mp

	entries := insertLeafEntry(decodeLeafEntries(leaf), idx, newEntry)
	mid := len(entries) / 2
	leftEntries, rightEntries := entries[:mid], entries[mid:]

	rightMp := t.allocPage(pageLeaf)
	t.leafPages++

	leftBound, rightBound, hasLeft, hasRight, parentPrefix := boundingSeparators(stack, level)
	sepKey := reduceSeparator(leftEntries[len(leftEntries)-1].key, rightEntries[0].key)

	leftPrefix := computePrefix(leftBound, sepKey, hasLeft, true, parentPrefix)
	rightPrefix := computePrefix(sepKey, rightBound, true, hasRight, parentPrefix)

	fillLeafPage(leaf, leftEntries, leftPrefix)
	fillLeafPage(rightMp, rightEntries, rightPrefix)

	return t.propagateSplit(stack[:level], leaf.pageNo(), sepKey, rightMp.pageNo())
}

// boundingSeparators reads the ancestor separators bounding the page at
// stack[level] from its parent frame, if any.
func boundingSeparators(stack []frame, level int) (left, right []byte, hasLeft, hasRight bool, parentPrefix []byte) {
	if level == 0 {
		return nil, nil, false, false, nil
	}
	parent := stack[level-1]
	parentPrefix = parent.mp.prefix
	if parent.idx > 0 {
		left = fullKey(parentPrefix, parent.mp.pg.nodeAt(parent.idx).storedKey())
		hasLeft = true
	}
	if parent.idx+1 < parent.mp.pg.numSlots() {
		right = fullKey(parentPrefix, parent.mp.pg.nodeAt(parent.idx+1).storedKey())
		hasRight = true
	}
	return
}

// propagateSplit inserts (sepKey -> rightChild) into the branch page at
// the top of stack (leftChild is already that page's existing slot and
// needs no rewrite beyond what COW's touch already did). If stack is
// empty, the page that split was the root, so a fresh two-child root is
// created instead.
func (t *Txn) propagateSplit(stack []frame, leftChild pgno, sepKey []byte, rightChild pgno) error {
	if len(stack) == 0 {
		newRoot := t.allocPage(pageBranch)
		fillBranchPage(newRoot, []branchEntry{
			{child: leftChild},
			{key: sepKey, child: rightChild},
		}, nil)
		t.root = newRoot.pageNo()
		t.branchPages++
		t.depth++
		return nil
	}

	level := len(stack) - 1
	parent := stack[level].mp
	insertIdx := stack[level].idx + 1
	stored := stripPrefix(parent.prefix, sepKey)
	data := make([]byte, branchNodeSize(len(stored)))
	encodeBranchNode(data, stored, rightChild)

	if parent.pg.insertSlot(insertIdx, data) {
		return nil
	}
	return t.splitBranchAndInsert(stack, insertIdx, branchEntry{key: sepKey, child: rightChild})
}

// splitBranchAndInsert mirrors splitLeafAndInsert for branch pages: the
// median entry is promoted to the grandparent (or a new root) rather
// than copied, per the classic B+tree branch split.
func (t *Txn) splitBranchAndInsert(stack []frame, idx int, newEntry branchEntry) error {
	level := len(stack) - 1
	branch := stack[level].mp

	entries := insertBranchEntry(decodeBranchEntries(branch), idx, newEntry)
	mid := len(entries) / 2
	if mid == 0 {
		mid = 1
	}
	median := entries[mid]
	leftEntries := entries[:mid]
	rightEntries := append([]branchEntry{{child: median.child}}, entries[mid+1:]...)

	rightMp := t.allocPage(pageBranch)
	t.branchPages++

	leftBound, rightBound, hasLeft, hasRight, parentPrefix := boundingSeparators(stack, level)
	leftPrefix := computePrefix(leftBound, median.key, hasLeft, true, parentPrefix)
	rightPrefix := computePrefix(median.key, rightBound, true, hasRight, parentPrefix)

	fillBranchPage(branch, leftEntries, leftPrefix)
	fillBranchPage(rightMp, rightEntries, rightPrefix)

	return t.propagateSplit(stack[:level], branch.pageNo(), median.key, rightMp.pageNo())
}
