package cowdb

import (
	"encoding/binary"
	"unsafe"
)

// pgno is a 32-bit page number; a page's offset in the file is pgno*psize.
type pgno uint32

// invalidPgno marks an empty tree or an absent overflow chain.
const invalidPgno pgno = 0xFFFFFFFF

// maxPgno is the largest page number this format can address.
const maxPgno pgno = 0x7FFFFFFF

// pageFlags identifies the type of a page, per spec.md §6.
type pageFlags uint16

const (
	pageBranch   pageFlags = 0x01
	pageLeaf     pageFlags = 0x02
	pageOverflow pageFlags = 0x04
	pageMeta     pageFlags = 0x08
	pageHead     pageFlags = 0x10

	pageTypeMask = pageBranch | pageLeaf | pageOverflow | pageMeta | pageHead
)

// pageHeaderSize is the fixed header every page carries ahead of its
// variable-length content (slot array + node payloads, or overflow bytes).
const pageHeaderSize = 20

// pageHeader is the on-disk layout of a page's first 20 bytes, matched
// field-for-field against raw bytes via unsafe.Pointer (the teacher's
// idiom in gdbx/page.go for its MDBX-compatible pageHeader).
//
//	Offset  Size  Field
//	0       4     pgno
//	4       2     flags
//	6       2     lower   (branch/leaf: free-space low bound)
//	8       2     upper   (branch/leaf: free-space high bound)
//	10      2     (alignment padding)
//	12      4     next    (overflow: next page in chain; else reserved)
//	16      4     extra   (overflow head page only: total value length)
type pageHeader struct {
	Pgno  pgno
	Flags pageFlags
	Lower uint16
	Upper uint16
	Next  pgno
	Extra uint32
}

// page is an in-memory view over one page's raw bytes.
type page struct {
	Data []byte
}

func (p *page) header() *pageHeader {
	return (*pageHeader)(unsafe.Pointer(&p.Data[0]))
}

func (p *page) pageNo() pgno           { return p.header().Pgno }
func (p *page) flags() pageFlags       { return p.header().Flags & pageTypeMask }
func (p *page) isBranch() bool         { return p.flags()&pageBranch != 0 }
func (p *page) isLeaf() bool           { return p.flags()&pageLeaf != 0 }
func (p *page) isOverflow() bool       { return p.flags()&pageOverflow != 0 }
func (p *page) isMeta() bool           { return p.flags()&pageMeta != 0 }
func (p *page) nextOverflow() pgno     { return p.header().Next }
func (p *page) setNextOverflow(n pgno) { p.header().Next = n }

// numSlots returns the number of node slots on a branch/leaf page.
// lower grows by 2 bytes per slot, so slot count = (lower-hdr)/2.
func (p *page) numSlots() int {
	h := p.header()
	return int(h.Lower-pageHeaderSize) / 2
}

// freeSpace returns the number of bytes available for a new slot+node.
func (p *page) freeSpace() int {
	h := p.header()
	return int(h.Upper) - int(h.Lower)
}

// slotOffset returns the absolute byte offset of node i's payload.
func (p *page) slotOffset(i int) uint16 {
	pos := pageHeaderSize + i*2
	return binary.LittleEndian.Uint16(p.Data[pos:])
}

func (p *page) setSlotOffset(i int, off uint16) {
	pos := pageHeaderSize + i*2
	binary.LittleEndian.PutUint16(p.Data[pos:], off)
}

// initPage resets a page's header in place to an empty branch/leaf page.
func initPage(p *page, pn pgno, flags pageFlags, pageSize int) {
	h := p.header()
	h.Pgno = pn
	h.Flags = flags
	h.Lower = pageHeaderSize
	h.Upper = uint16(pageSize)
	h.Next = 0
}

// validate sanity-checks the page-bounds invariant from spec.md §8.4.
func (p *page) validate(pageSize int) error {
	if len(p.Data) < pageHeaderSize {
		return wrapErr(ErrInvalid, errPageTooSmall)
	}
	h := p.header()
	if h.Flags&^(pageTypeMask) != 0 {
		return wrapErr(ErrInvalid, errPageBadFlags)
	}
	if h.Flags&pageOverflow != 0 {
		return nil
	}
	if !(pageHeaderSize <= h.Lower && h.Lower <= h.Upper && int(h.Upper) <= pageSize) {
		return wrapErr(ErrInvalid, errPageBadBounds)
	}
	if int(h.Lower-pageHeaderSize)%2 != 0 {
		return wrapErr(ErrInvalid, errPageBadBounds)
	}
	return nil
}

var (
	errPageTooSmall  = errString("page too small")
	errPageBadFlags  = errString("invalid page flags")
	errPageBadBounds = errString("lower/upper out of bounds")
)

type errString string

func (e errString) Error() string { return string(e) }

// insertSlot inserts nodeData as a new node at slot index idx, shifting
// later slot pointers up by one. Returns false if there is not enough
// free space (caller must split).
func (p *page) insertSlot(idx int, nodeData []byte) bool {
	h := p.header()
	n := p.numSlots()
	if idx < 0 || idx > n {
		return false
	}
	need := 2 + len(nodeData)
	if p.freeSpace() < need {
		return false
	}

	newUpper := int(h.Upper) - len(nodeData)
	copy(p.Data[newUpper:], nodeData)
	h.Upper = uint16(newUpper)

	// Shift slot pointers [idx, n) up by one slot (2 bytes).
	src := pageHeaderSize + idx*2
	if idx < n {
		dst := src + 2
		move := (n - idx) * 2
		copy(p.Data[dst:dst+move], p.Data[src:src+move])
	}
	binary.LittleEndian.PutUint16(p.Data[src:], uint16(newUpper))
	h.Lower += 2
	return true
}

// removeSlot deletes the node at slot index idx and reclaims its bytes by
// shifting every node stored below it up in memory (spec.md §4.4
// delete-node).
func (p *page) removeSlot(idx int, nodeSize int) {
	h := p.header()
	n := p.numSlots()
	off := p.slotOffset(idx)

	// Shift payload bytes [upper, off) up by nodeSize to close the hole
	// left at [off, off+nodeSize).
	copy(p.Data[int(h.Upper)+nodeSize:int(off)+nodeSize], p.Data[h.Upper:off])
	h.Upper += uint16(nodeSize)

	// Adjust every surviving slot pointing below the removed node.
	for i := 0; i < n; i++ {
		if i == idx {
			continue
		}
		so := p.slotOffset(i)
		if so < off {
			p.setSlotOffset(i, so+uint16(nodeSize))
		}
	}

	// Remove the slot pointer itself.
	src := pageHeaderSize + (idx+1)*2
	dst := pageHeaderSize + idx*2
	if idx < n-1 {
		move := (n - 1 - idx) * 2
		copy(p.Data[dst:dst+move], p.Data[src:src+move])
	}
	h.Lower -= 2
}

// replaceSlot implements spec.md §4.4's update-key: it replaces the node
// at idx with newData, reclaiming or opening space as the size differs.
// Returns false if there isn't room (caller must split/rebalance).
func (p *page) replaceSlot(idx int, oldSize int, newData []byte) bool {
	if len(newData) == oldSize {
		off := p.slotOffset(idx)
		copy(p.Data[off:], newData)
		return true
	}
	if len(newData) < oldSize {
		off := p.slotOffset(idx)
		copy(p.Data[off:], newData)
		p.shrinkNodeAt(idx, off, oldSize, len(newData))
		return true
	}
	if p.freeSpace() < len(newData)-oldSize {
		return false
	}
	// Reclaim the old node's bytes, then insert the larger replacement in
	// the freed space at the same slot index.
	p.removeSlot(idx, oldSize)
	return p.insertSlot(idx, newData)
}

// shrinkNodeAt reclaims the tail (oldSize-newSize) bytes of the node at
// idx after its content has already been overwritten to newSize bytes,
// keeping the slot array and slot count unchanged.
func (p *page) shrinkNodeAt(idx int, off uint16, oldSize, newSize int) {
	h := p.header()
	delta := oldSize - newSize
	if delta == 0 {
		return
	}
	n := p.numSlots()
	// Shift everything below off up by delta to close the freed tail.
	copy(p.Data[int(h.Upper)+delta:int(off)+newSize+delta], p.Data[h.Upper:off+uint16(newSize)])
	h.Upper += uint16(delta)
	for i := 0; i < n; i++ {
		if i == idx {
			continue
		}
		so := p.slotOffset(i)
		if so < off {
			p.setSlotOffset(i, so+uint16(delta))
		}
	}
	p.setSlotOffset(idx, off+uint16(delta))
}
