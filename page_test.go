package cowdb

import "testing"

func TestPageInsertRemoveSlot(t *testing.T) {
	buf := make([]byte, 256)
	p := &page{Data: buf}
	initPage(p, 1, pageLeaf, 256)

	data1 := make([]byte, leafNodeSize(3, 2, false))
	encodeLeafNode(data1, []byte("abc"), []byte("v1"), false, 0)
	if !p.insertSlot(0, data1) {
		t.Fatal("insertSlot(0) failed")
	}

	data2 := make([]byte, leafNodeSize(3, 2, false))
	encodeLeafNode(data2, []byte("xyz"), []byte("v2"), false, 0)
	if !p.insertSlot(1, data2) {
		t.Fatal("insertSlot(1) failed")
	}

	if p.numSlots() != 2 {
		t.Fatalf("numSlots = %d, want 2", p.numSlots())
	}
	if got := string(p.nodeAt(0).storedKey()); got != "abc" {
		t.Fatalf("slot 0 key = %q, want abc", got)
	}
	if got := string(p.nodeAt(1).storedKey()); got != "xyz" {
		t.Fatalf("slot 1 key = %q, want xyz", got)
	}

	oldSize := p.nodeSizeAt(0)
	p.removeSlot(0, oldSize)
	if p.numSlots() != 1 {
		t.Fatalf("numSlots after remove = %d, want 1", p.numSlots())
	}
	if got := string(p.nodeAt(0).storedKey()); got != "xyz" {
		t.Fatalf("remaining slot key = %q, want xyz", got)
	}
}

func TestPageReplaceSlotGrowShrinkSame(t *testing.T) {
	buf := make([]byte, 512)
	p := &page{Data: buf}
	initPage(p, 1, pageLeaf, 512)

	data := make([]byte, leafNodeSize(3, 2, false))
	encodeLeafNode(data, []byte("key"), []byte("v1"), false, 0)
	if !p.insertSlot(0, data) {
		t.Fatal("insertSlot failed")
	}

	// Same size.
	same := make([]byte, leafNodeSize(3, 2, false))
	encodeLeafNode(same, []byte("key"), []byte("v2"), false, 0)
	if !p.replaceSlot(0, p.nodeSizeAt(0), same) {
		t.Fatal("replaceSlot (same size) failed")
	}
	if got := string(p.nodeAt(0).value()); got != "v2" {
		t.Fatalf("value after same-size replace = %q, want v2", got)
	}

	// Shrink.
	oldSize := p.nodeSizeAt(0)
	small := make([]byte, leafNodeSize(3, 1, false))
	encodeLeafNode(small, []byte("key"), []byte("x"), false, 0)
	if !p.replaceSlot(0, oldSize, small) {
		t.Fatal("replaceSlot (shrink) failed")
	}
	if got := string(p.nodeAt(0).value()); got != "x" {
		t.Fatalf("value after shrink = %q, want x", got)
	}

	// Grow.
	oldSize = p.nodeSizeAt(0)
	big := make([]byte, leafNodeSize(3, 10, false))
	encodeLeafNode(big, []byte("key"), []byte("0123456789"), false, 0)
	if !p.replaceSlot(0, oldSize, big) {
		t.Fatal("replaceSlot (grow) failed")
	}
	if got := string(p.nodeAt(0).value()); got != "0123456789" {
		t.Fatalf("value after grow = %q, want 0123456789", got)
	}
}

func TestPageValidateRejectsBadFlags(t *testing.T) {
	buf := make([]byte, 256)
	p := &page{Data: buf}
	initPage(p, 1, pageLeaf, 256)
	p.header().Flags = 0xFF00
	if err := p.validate(256); err == nil {
		t.Fatal("expected validate to reject unknown flag bits")
	}
}

func TestPageValidateRejectsBadBounds(t *testing.T) {
	buf := make([]byte, 256)
	p := &page{Data: buf}
	initPage(p, 1, pageLeaf, 256)
	p.header().Upper = 10 // upper < lower
	if err := p.validate(256); err == nil {
		t.Fatal("expected validate to reject upper < lower")
	}
}

func TestOverflowChainRoundTrip(t *testing.T) {
	pageSize := 256
	var pages []*page
	var nextPgno pgno = 10
	alloc := func() (*page, pgno) {
		buf := make([]byte, pageSize)
		p := &page{Data: buf}
		pn := nextPgno
		nextPgno++
		pages = append(pages, p)
		return p, pn
	}
	fetch := func(pn pgno) (*page, error) {
		for _, p := range pages {
			if p.pageNo() == pn {
				return p, nil
			}
		}
		return nil, ErrKeyNotFound
	}

	value := make([]byte, 1000)
	for i := range value {
		value[i] = byte(i)
	}

	head := writeOverflowChain(value, pageSize, alloc)
	if len(pages) < 2 {
		t.Fatalf("expected a multi-page chain for a %d-byte value on a %d-byte page, got %d pages", len(value), pageSize, len(pages))
	}

	got, err := readOverflowChain(head, pageSize, fetch)
	if err != nil {
		t.Fatalf("readOverflowChain: %v", err)
	}
	if len(got) != len(value) {
		t.Fatalf("round-tripped length = %d, want %d", len(got), len(value))
	}
	for i := range value {
		if got[i] != value[i] {
			t.Fatalf("byte %d mismatch: got %d want %d", i, got[i], value[i])
		}
	}
}
