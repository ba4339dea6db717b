package cowdb

import (
	"io"
	"os"
)

// pager performs the page-aligned positioned reads and appending
// gathered writes described by spec.md §4.1. It owns the file handle
// but nothing about the B+tree living on top of it.
type pager struct {
	f       *os.File
	pageSz  int
	padFix  bool // set when the file length wasn't psize-aligned at open
}

func newPager(f *os.File, pageSize int) (*pager, error) {
	pg := &pager{f: f, pageSz: pageSize}
	fi, err := f.Stat()
	if err != nil {
		return nil, wrapErr(ErrIO, err)
	}
	if fi.Size()%int64(pageSize) != 0 {
		pg.padFix = true
	}
	return pg, nil
}

// fileSizePages returns the current file length in whole pages, which is
// also the next pgno a writer transaction should allocate from.
func (pg *pager) fileSizePages() (pgno, error) {
	fi, err := pg.f.Stat()
	if err != nil {
		return 0, wrapErr(ErrIO, err)
	}
	size := fi.Size()
	if pg.padFix {
		size -= size % int64(pg.pageSz)
	}
	return pgno(size / int64(pg.pageSz)), nil
}

// fixPadding truncates a torn-commit tail left by a prior crash back
// down to the last whole page, per spec.md §4.1. Called lazily, before
// the first write of a writer transaction.
func (pg *pager) fixPadding() error {
	if !pg.padFix {
		return nil
	}
	fi, err := pg.f.Stat()
	if err != nil {
		return wrapErr(ErrIO, err)
	}
	aligned := fi.Size() - fi.Size()%int64(pg.pageSz)
	if err := pg.f.Truncate(aligned); err != nil {
		return wrapErr(ErrIO, err)
	}
	pg.padFix = false
	return nil
}

// readPage reads one page at its aligned offset and checks its
// self-stored pgno against what the caller expects.
func (pg *pager) readPage(pn pgno) (*page, error) {
	buf := make([]byte, pg.pageSz)
	off := int64(pn) * int64(pg.pageSz)
	n, err := pg.f.ReadAt(buf, off)
	if err != nil && !(err == io.EOF && n == pg.pageSz) {
		return nil, wrapErr(ErrIO, err)
	}
	if n != pg.pageSz {
		return nil, wrapErr(ErrIO, errString("short read"))
	}
	p := &page{Data: buf}
	if p.pageNo() != pn {
		return nil, wrapErr(ErrIO, errString("page number mismatch on read"))
	}
	return p, nil
}

// readRaw reads one page-sized block without interpreting it as a
// pageHeader-shaped page; used only for page 0, whose layout is the
// fixed fileHeader rather than the generic page format.
func (pg *pager) readRaw(pn pgno) ([]byte, error) {
	buf := make([]byte, pg.pageSz)
	off := int64(pn) * int64(pg.pageSz)
	n, err := pg.f.ReadAt(buf, off)
	if err != nil && !(err == io.EOF && n == pg.pageSz) {
		return nil, wrapErr(ErrIO, err)
	}
	if n != pg.pageSz {
		return nil, wrapErr(ErrIO, errString("short read"))
	}
	return buf, nil
}

// writeBatch appends a contiguous run of whole pages, pre-numbered
// pgno(fileSize/psize)...+i, via a single gathered write — spec.md
// §4.1/§4.10 commit's "batches of up to 64".
func (pg *pager) writeBatch(pages []*page) error {
	if len(pages) == 0 {
		return nil
	}
	bufs := make([][]byte, len(pages))
	for i, p := range pages {
		bufs[i] = p.Data
	}
	return pg.gatheredWrite(bufs)
}

func (pg *pager) sync() error {
	if err := pg.f.Sync(); err != nil {
		return wrapErr(ErrIO, err)
	}
	return nil
}

const writeBatchSize = 64
