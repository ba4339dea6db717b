package cowdb

import "os"

// Compact implements spec.md §4.11: rewrite the live keyspace into a
// fresh file with no free pages or overflow fragmentation, then replace
// the original. The Env that ran Compact is itself superseded by the
// rename — its next Begin returns ErrStale — and must be reopened by
// path to see the compacted file. Other Env handles already open on the
// file are not notified: an Env reads meta pages only in Open, so they
// keep serving the tree their fd points at and never read the
// tombstone meta this method appends.
func (e *Env) Compact() error {
	if e.readOnly {
		return ErrReadOnlyTxn
	}
	e.writerMu.Lock()
	defer e.writerMu.Unlock()
	if err := tryLockExclusive(e.f.Fd()); err != nil {
		return err
	}
	defer unlockExclusive(e.f.Fd())

	tmpPath := e.path + ".compact.tmp"
	tmpFile, err := os.OpenFile(tmpPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return wrapErr(ErrIO, err)
	}
	cleanup := func() {
		tmpFile.Close()
		os.Remove(tmpPath)
	}

	dst := &Env{path: tmpPath, f: tmpFile, pageSize: e.pageSize, cache: newPageCache(defaultCacheSize), refs: 1}
	dstPager, err := newPager(tmpFile, e.pageSize)
	if err != nil {
		cleanup()
		return err
	}
	dst.pager = dstPager
	if err := dst.initializeFile(); err != nil {
		cleanup()
		return err
	}

	srcTxn, err := e.Begin(false)
	if err != nil {
		cleanup()
		return err
	}
	defer srcTxn.Abort()

	dstTxn := &Txn{env: dst, writable: true, root: invalidPgno}
	dstTxn.nextPgno, err = dst.pager.fileSizePages()
	if err != nil {
		cleanup()
		return err
	}

	c, err := srcTxn.Cursor()
	if err != nil {
		cleanup()
		return err
	}
	ok, err := c.Seek(CursorFirst, nil)
	if err != nil {
		cleanup()
		return err
	}
	for ok {
		k, v, err := c.Get()
		if err != nil {
			cleanup()
			return err
		}
		if err := dstTxn.Put(k, v); err != nil {
			cleanup()
			return err
		}
		ok, err = c.Seek(CursorNext, nil)
		if err != nil {
			cleanup()
			return err
		}
	}

	if err := dstTxn.Commit(); err != nil {
		cleanup()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return wrapErr(ErrIO, err)
	}

	if err := e.writeTombstone(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, e.path); err != nil {
		return wrapErr(ErrIO, err)
	}
	// This handle's fd now refers to a file superseded by the rename;
	// any subsequent transaction must go through a fresh Open instead.
	e.stale = true
	return nil
}

// writeTombstone appends one final meta page marking this file
// superseded; Open on a file whose newest valid meta page is this one
// fails with ErrStale.
func (e *Env) writeTombstone() error {
	last, err := e.pager.fileSizePages()
	if err != nil {
		return err
	}
	buf := make([]byte, e.pageSize)
	p := &page{Data: buf}
	initMetaPage(p, last, e.metaPgno, e.pageSize)
	mb := metaBodyAt(p)
	mb.Flags |= metaTombstone
	mb.Root = e.root
	stampMetaHash(p)
	if err := e.pager.writeBatch([]*page{p}); err != nil {
		return err
	}
	return e.pager.sync()
}
