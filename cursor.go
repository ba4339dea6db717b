package cowdb

// CursorOp selects how Cursor.Seek positions the cursor, per spec.md
// §4.9/§6.
type CursorOp int

const (
	CursorFirst CursorOp = iota
	CursorNext
	CursorSet
	CursorSetExact
)

// Cursor provides ordered forward traversal over one transaction's
// committed (or in-progress) keyspace, per spec.md §4.9. A Cursor is
// only valid for the lifetime of the Txn that created it.
type Cursor struct {
	txn   *Txn
	stack []frame
	valid bool
}

// Close releases the cursor's position. It does not affect the
// transaction it was opened from.
func (c *Cursor) Close() {
	c.stack = nil
	c.valid = false
}

// Seek positions the cursor according to op and key (key is ignored for
// CursorFirst/CursorNext).
func (c *Cursor) Seek(op CursorOp, key []byte) (bool, error) {
	switch op {
	case CursorFirst:
		return c.first()
	case CursorNext:
		return c.next()
	case CursorSet:
		return c.set(key, false)
	case CursorSetExact:
		return c.set(key, true)
	default:
		return false, wrapErr(ErrInvalid, errString("unknown cursor operation"))
	}
}

func (c *Cursor) first() (bool, error) {
	if c.txn.root == invalidPgno {
		c.valid = false
		return false, nil
	}
	stack, err := walkLeftmost(c.txn, nil, 0, c.txn.root)
	if err != nil {
		return false, err
	}
	c.stack = stack
	c.valid = stack[len(stack)-1].mp.pg.numSlots() > 0
	return c.valid, nil
}

func (c *Cursor) set(key []byte, exactOnly bool) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	if c.txn.root == invalidPgno {
		c.valid = false
		return false, nil
	}
	stack, err := c.txn.descend(key, false)
	if err != nil {
		return false, err
	}
	c.stack = stack
	leaf := stack[len(stack)-1]
	idx, exact := searchPage(leaf.mp, key)
	stack[len(stack)-1].idx = idx
	c.stack = stack

	if exactOnly && !exact {
		c.valid = false
		return false, nil
	}
	c.valid = idx < leaf.mp.pg.numSlots()
	if !c.valid && !exactOnly {
		// key sorts after every entry of this leaf; its successor, if
		// any, is the first entry of the next leaf.
		stack[len(stack)-1].idx = idx - 1
		c.valid = true
		return c.next()
	}
	return c.valid, nil
}

func (c *Cursor) next() (bool, error) {
	if !c.valid {
		return c.first()
	}
	level := len(c.stack) - 1
	c.stack[level].idx++
	if c.stack[level].idx < c.stack[level].mp.pg.numSlots() {
		return true, nil
	}

	for level > 0 {
		level--
		c.stack[level].idx++
		parent := c.stack[level]
		if parent.idx < parent.mp.pg.numSlots() {
			childPn := parent.mp.pg.nodeAt(parent.idx).childPgno()
			rest, err := walkLeftmost(c.txn, parent.mp, parent.idx, childPn)
			if err != nil {
				return false, err
			}
			c.stack = append(c.stack[:level+1], rest...)
			c.valid = true
			return true, nil
		}
	}
	c.valid = false
	c.stack = nil
	return false, nil
}

// walkLeftmost fetches startPgno and descends via child 0 down to a
// leaf, building the frame stack for that path. parentMp/parentIdx seed
// the first hop's prefix computation (both zero-valued for the root).
func walkLeftmost(t *Txn, parentMp *memPage, parentIdx int, startPgno pgno) ([]frame, error) {
	var stack []frame
	pn := startPgno
	first := true
	for {
		mp, err := t.fetch(pn)
		if err != nil {
			return nil, err
		}
		if first && parentMp != nil {
			mp.prefix = childPrefix(parentMp, parentIdx)
		} else if first {
			mp.prefix = nil
		} else {
			prev := stack[len(stack)-1]
			mp.prefix = childPrefix(prev.mp, prev.idx)
		}
		first = false

		stack = append(stack, frame{mp: mp, idx: 0})
		if mp.pg.isLeaf() {
			return stack, nil
		}
		pn = mp.pg.nodeAt(0).childPgno()
	}
}

// Get returns the key and value the cursor is currently positioned at.
func (c *Cursor) Get() ([]byte, []byte, error) {
	if !c.valid {
		return nil, nil, ErrKeyNotFound
	}
	leaf := c.stack[len(c.stack)-1]
	nv := leaf.mp.pg.nodeAt(leaf.idx)
	key := fullKey(leaf.mp.prefix, nv.storedKey())

	if nv.isBig() {
		val, err := c.txn.readOverflow(nv.overflowHead())
		if err != nil {
			return nil, nil, err
		}
		return key, val, nil
	}
	v := nv.value()
	val := make([]byte, len(v))
	copy(val, v)
	return key, val, nil
}

// Valid reports whether the cursor is currently positioned at an entry.
func (c *Cursor) Valid() bool { return c.valid }
