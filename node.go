package cowdb

import (
	"unsafe"
)

// nodeHeaderSize is the fixed 8-byte header preceding a node's key (and,
// for leaves, its inline value) — spec.md §3's Node.
const nodeHeaderSize = 8

// nodeFlags is the 8-bit per-node flag field.
type nodeFlags uint8

// nodeBig marks a leaf node whose value lives on an overflow chain; the
// node's DSize field then holds the chain's head pgno instead of a byte
// count, and no value bytes follow the key.
const nodeBig nodeFlags = 0x01

// nodeHeader is the 8-byte structure preceding every node's key bytes.
//
//	Offset  Size  Field
//	0       4     DSize  (branch: child pgno · leaf: data size, or overflow head pgno if Big)
//	4       1     Flags
//	5       1     reserved
//	6       2     KeySize
type nodeHeader struct {
	DSize    uint32
	Flags    nodeFlags
	reserved uint8
	KeySize  uint16
}

func nodeHeaderAt(data []byte) *nodeHeader {
	return (*nodeHeader)(unsafe.Pointer(&data[0]))
}

// leafNodeSize computes the on-page size of a leaf node holding a key of
// ksize bytes and either dsize inline value bytes, or (if big) just the
// overflow head pgno folded into the header — spec.md §4.4.
func leafNodeSize(ksize, dsize int, big bool) int {
	if big {
		return nodeHeaderSize + ksize
	}
	return nodeHeaderSize + ksize + dsize
}

// branchNodeSize computes the on-page size of a branch separator node.
func branchNodeSize(ksize int) int {
	return nodeHeaderSize + ksize
}

// encodeLeafNode serializes a leaf node (key, value) into dst, which must
// be exactly leafNodeSize(len(key), len(value), big) bytes.
func encodeLeafNode(dst, key, value []byte, big bool, overflowHead pgno) {
	h := nodeHeaderAt(dst)
	h.KeySize = uint16(len(key))
	if big {
		h.Flags = nodeBig
		h.DSize = uint32(overflowHead)
	} else {
		h.Flags = 0
		h.DSize = uint32(len(value))
	}
	copy(dst[nodeHeaderSize:], key)
	if !big {
		copy(dst[nodeHeaderSize+len(key):], value)
	}
}

// encodeBranchNode serializes a branch separator (key, childPgno).
func encodeBranchNode(dst, key []byte, child pgno) {
	h := nodeHeaderAt(dst)
	h.KeySize = uint16(len(key))
	h.Flags = 0
	h.DSize = uint32(child)
	copy(dst[nodeHeaderSize:], key)
}

// nodeAt returns a view of the node stored at the page's slot idx.
type nodeView struct {
	hdr *nodeHeader
	raw []byte // full node bytes (header + key [+ value])
}

func (p *page) nodeAt(idx int) nodeView {
	off := p.slotOffset(idx)
	return nodeView{hdr: nodeHeaderAt(p.Data[off:]), raw: p.Data[off:]}
}

func (nv nodeView) keySize() int { return int(nv.hdr.KeySize) }
func (nv nodeView) isBig() bool  { return nv.hdr.Flags&nodeBig != 0 }

// storedKey returns the key bytes as stored on the page, i.e. with the
// page's prefix already stripped. Callers needing the full key must
// prepend the page's effective prefix (see prefix.go).
func (nv nodeView) storedKey() []byte {
	return nv.raw[nodeHeaderSize : nodeHeaderSize+int(nv.hdr.KeySize)]
}

// value returns the inline value bytes. It is only valid when !isBig().
func (nv nodeView) value() []byte {
	ks := int(nv.hdr.KeySize)
	start := nodeHeaderSize + ks
	end := start + int(nv.hdr.DSize)
	return nv.raw[start:end]
}

// childPgno returns the branch child pgno (valid on branch pages only).
func (nv nodeView) childPgno() pgno { return pgno(nv.hdr.DSize) }

// overflowHead returns the overflow chain head pgno (valid when isBig()).
func (nv nodeView) overflowHead() pgno { return pgno(nv.hdr.DSize) }

// totalSize returns this node's footprint in bytes, matching
// leafNodeSize/branchNodeSize for the same (ksize, dsize, big) triple.
func (nv nodeView) totalSize(isBranchPage bool) int {
	ks := int(nv.hdr.KeySize)
	if isBranchPage {
		return nodeHeaderSize + ks
	}
	if nv.isBig() {
		return nodeHeaderSize + ks
	}
	return nodeHeaderSize + ks + int(nv.hdr.DSize)
}

// nodeSizeAt is a convenience wrapper used by page compaction helpers.
func (p *page) nodeSizeAt(idx int) int {
	return p.nodeAt(idx).totalSize(p.isBranch())
}

// --- overflow chains (spec.md §4.4.1) ---

// overflowPayloadCap is the number of value bytes an overflow page can
// hold given a page size; it is pageSize minus this module's page
// header (the chain pointer lives in the header's Next field).
func overflowPayloadCap(pageSize int) int { return pageSize - pageHeaderSize }

// isOverflowValue reports whether a value of the given length must be
// stored on an overflow chain rather than inline, per spec.md §4.4's
// psize/4 threshold.
func isOverflowValue(valueLen, pageSize int) bool {
	return valueLen > pageSize/minKeysDivisor
}

// writeOverflowChain writes value across a chain of freshly allocated
// overflow pages, returning the head pgno. The head page's Extra header
// field stores the total value length, since a BIGDATA leaf node folds
// the overflow head pgno into its own data-size field and so has
// nowhere else to keep it. alloc must return a pgno and register the
// returned dirty page for eventual commit.
func writeOverflowChain(value []byte, pageSize int, alloc func() (*page, pgno)) pgno {
	capacity := overflowPayloadCap(pageSize)
	var head pgno = invalidPgno
	var prev *page

	remaining := value
	for {
		p, pn := alloc()
		h := p.header()
		h.Pgno = pn
		h.Flags = pageOverflow
		h.Next = invalidPgno

		n := len(remaining)
		if n > capacity {
			n = capacity
		}
		copy(p.Data[pageHeaderSize:], remaining[:n])
		remaining = remaining[n:]

		if head == invalidPgno {
			head = pn
			h.Extra = uint32(len(value))
		}
		if prev != nil {
			prev.header().Next = pn
		}
		prev = p

		if len(remaining) == 0 {
			break
		}
	}
	return head
}

// readOverflowChain reconstructs a value by walking the overflow chain
// starting at head via fetch, reading the total length from the head
// page's Extra field.
func readOverflowChain(head pgno, pageSize int, fetch func(pgno) (*page, error)) ([]byte, error) {
	headPage, err := fetch(head)
	if err != nil {
		return nil, err
	}
	totalLen := int(headPage.header().Extra)
	out := make([]byte, 0, totalLen)
	capacity := overflowPayloadCap(pageSize)

	cur := head
	p := headPage
	for len(out) < totalLen {
		n := totalLen - len(out)
		if n > capacity {
			n = capacity
		}
		out = append(out, p.Data[pageHeaderSize:pageHeaderSize+n]...)
		cur = p.header().Next
		if len(out) == totalLen {
			break
		}
		if cur == invalidPgno {
			return nil, wrapErr(ErrInvalid, errString("truncated overflow chain"))
		}
		p, err = fetch(cur)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}
