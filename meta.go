package cowdb

import (
	"crypto/sha256"
	"time"
	"unsafe"
)

// headerMagic identifies a cowdb data file — spec.md §3/§6.
const headerMagic uint32 = 0xB3DBB3DB

// headerVersion is the on-disk format version written by this package.
const headerVersion uint32 = 4

// fileHeader is page 0's payload: written once at creation, never
// modified again (spec.md §3's Header page).
type fileHeader struct {
	Magic   uint32
	Version uint32
	Flags   uint32
	Psize   uint32
}

func fileHeaderAt(data []byte) *fileHeader {
	return (*fileHeader)(unsafe.Pointer(&data[0]))
}

func (h *fileHeader) validate() error {
	if h.Magic != headerMagic {
		return wrapErr(ErrInvalid, errString("bad file magic"))
	}
	if h.Version != headerVersion {
		return wrapErr(ErrInvalid, errString("unsupported format version"))
	}
	if h.Psize < minPageSize || h.Psize > maxPageSize {
		return wrapErr(ErrInvalid, errString("invalid page size in header"))
	}
	return nil
}

const (
	minPageSize = 256
	maxPageSize = 32768
)

// metaFlags marks meta-page state.
type metaFlags uint32

const metaTombstone metaFlags = 0x01

// metaHashSize is the width of the SHA-256 digest trailing every meta
// page, per spec.md §3/§4.2.
const metaHashSize = 32

// metaBody is the fixed-size payload of a meta page, stored right after
// the generic pageHeader (flags=pageMeta). Every field up to Hash is
// covered by the hash; Hash itself is excluded, per spec.md §4.2.
type metaBody struct {
	Flags         metaFlags
	Root          pgno
	PrevMeta      pgno
	Created       int64
	BranchPages   uint64
	LeafPages     uint64
	OverflowPages uint64
	Revisions     uint64
	Depth         uint32
	Entries       uint64
	Hash          [metaHashSize]byte
}

// metaBodyOffset is the offset of metaBody within a meta page, right
// after the shared page header.
const metaBodyOffset = pageHeaderSize

// metaBodyHashedSize is the number of bytes preceding metaBody.Hash that
// the hash is computed over.
const metaBodyHashedSize = int(unsafe.Sizeof(metaBody{})) - metaHashSize

func metaBodyAt(p *page) *metaBody {
	return (*metaBody)(unsafe.Pointer(&p.Data[metaBodyOffset]))
}

// computeMetaHash returns SHA-256 over the meta page's hashed region.
func computeMetaHash(p *page) [metaHashSize]byte {
	start := metaBodyOffset
	end := start + metaBodyHashedSize
	return sha256.Sum256(p.Data[start:end])
}

// stampMetaHash recomputes and writes the meta page's integrity hash.
func stampMetaHash(p *page) {
	h := computeMetaHash(p)
	metaBodyAt(p).Hash = h
}

// metaHashValid reports whether a meta page's stored hash matches its
// content.
func metaHashValid(p *page) bool {
	want := metaBodyAt(p).Hash
	got := computeMetaHash(p)
	return want == got
}

// initMetaPage stamps pn as a fresh, empty-tree meta page with the
// given previous-meta link. The caller still must stampMetaHash after
// any further field writes.
func initMetaPage(p *page, pn pgno, prevMeta pgno, pageSize int) {
	initPage(p, pn, pageMeta, pageSize)
	mb := metaBodyAt(p)
	*mb = metaBody{
		Root:     invalidPgno,
		PrevMeta: prevMeta,
		Created:  time.Now().UnixNano(),
	}
	stampMetaHash(p)
}

// validateMeta checks §8 invariant 5 (hash match) plus the root<pgno
// integrity rule from spec.md §3.
func validateMeta(p *page) error {
	if !p.isMeta() {
		return wrapErr(ErrInvalid, errString("not a meta page"))
	}
	if !metaHashValid(p) {
		return wrapErr(ErrInvalid, errString("meta hash mismatch"))
	}
	mb := metaBodyAt(p)
	if mb.Root != invalidPgno && mb.Root >= p.pageNo() {
		return wrapErr(ErrInvalid, errString("meta root points forward"))
	}
	return nil
}

// scanForLatestMeta performs spec.md §4.2's read-open backward scan: it
// walks pgnos from last down to (and including) 1, skipping the fixed
// header page, returning the first page whose flags contain META and
// whose hash validates. readPage must return the raw page at pn.
func scanForLatestMeta(lastPgno pgno, readPage func(pgno) (*page, error)) (*page, error) {
	for pn := lastPgno; pn >= 1; pn-- {
		p, err := readPage(pn)
		if err != nil {
			continue
		}
		if !p.isMeta() {
			continue
		}
		if err := validateMeta(p); err != nil {
			continue
		}
		if metaBodyAt(p).Flags&metaTombstone != 0 {
			return nil, ErrStaleFile
		}
		return p, nil
	}
	return nil, wrapErr(ErrInvalid, errString("no valid meta page found"))
}
