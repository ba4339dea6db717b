package cowdb

import (
	"os"
	"sync"
	"sync/atomic"
)

// Options configures Open, per spec.md §6.
type Options struct {
	// PageSize is only honored when creating a new file; an existing
	// file's page size always comes from its header. Defaults to 4096.
	PageSize int

	// CacheSize bounds the shared page cache (spec.md §4.3). Defaults to
	// 1024 pages.
	CacheSize int

	// NoSync skips the fsync calls around commit, trading durability for
	// throughput; intended for tests and bulk loads.
	NoSync bool

	// ReadOnly opens the file without acquiring writer capability; Begin
	// with writable=true, Update, and Compact all fail.
	ReadOnly bool
}

// Env is a single open database file, shared by any number of
// concurrent readers and at most one writer — spec.md §3's Database.
type Env struct {
	path     string
	f        *os.File
	pager    *pager
	cache    *pageCache
	pageSize int
	noSync   bool
	readOnly bool
	stale    bool // set once Compact has superseded this handle's file

	mu            sync.RWMutex
	metaPgno      pgno
	root          pgno
	branchPages   uint64
	leafPages     uint64
	overflowPages uint64
	depth         uint32
	entries       uint64
	revisions     uint64

	writerMu sync.Mutex
	refs     int32
}

// Open opens (or creates) a database file at path, per spec.md §4.2: a
// zero-length file is initialized with a header page and an empty-tree
// meta page, otherwise the newest valid meta page is located by scanning
// backward from the end of the file. If that meta page is tombstoned,
// Open fails with ErrStale.
func Open(path string, opts Options) (*Env, error) {
	pageSize := opts.PageSize
	if pageSize == 0 {
		pageSize = 4096
	}
	if pageSize < minPageSize || pageSize > maxPageSize {
		return nil, wrapErr(ErrInvalid, errString("page size out of range"))
	}

	flag := os.O_RDWR | os.O_CREATE
	if opts.ReadOnly {
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		return nil, wrapErr(ErrIO, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, wrapErr(ErrIO, err)
	}

	env := &Env{
		path:     path,
		f:        f,
		pageSize: pageSize,
		noSync:   opts.NoSync,
		readOnly: opts.ReadOnly,
		cache:    newPageCache(opts.CacheSize),
		refs:     1,
	}

	pg, err := newPager(f, pageSize)
	if err != nil {
		f.Close()
		return nil, err
	}
	env.pager = pg

	if fi.Size() == 0 {
		if opts.ReadOnly {
			f.Close()
			return nil, wrapErr(ErrInvalid, errString("cannot create a new database read-only"))
		}
		if err := env.initializeFile(); err != nil {
			f.Close()
			return nil, err
		}
	} else if err := env.openExisting(); err != nil {
		f.Close()
		return nil, err
	}

	return env, nil
}

func (e *Env) initializeFile() error {
	buf0 := make([]byte, e.pageSize)
	h := fileHeaderAt(buf0)
	h.Magic = headerMagic
	h.Version = headerVersion
	h.Psize = uint32(e.pageSize)
	p0 := &page{Data: buf0}

	buf1 := make([]byte, e.pageSize)
	p1 := &page{Data: buf1}
	initMetaPage(p1, 1, invalidPgno, e.pageSize)

	if err := e.pager.writeBatch([]*page{p0, p1}); err != nil {
		return err
	}
	if !e.noSync {
		if err := e.pager.sync(); err != nil {
			return err
		}
	}
	e.metaPgno = 1
	e.root = invalidPgno
	return nil
}

func (e *Env) openExisting() error {
	raw, err := e.pager.readRaw(0)
	if err != nil {
		return err
	}
	h := fileHeaderAt(raw)
	if err := h.validate(); err != nil {
		return err
	}
	if int(h.Psize) != e.pageSize {
		e.pageSize = int(h.Psize)
		pg, err := newPager(e.f, e.pageSize)
		if err != nil {
			return err
		}
		e.pager = pg
	}

	last, err := e.pager.fileSizePages()
	if err != nil {
		return err
	}
	metaPage, err := scanForLatestMeta(last-1, e.pager.readPage)
	if err != nil {
		return err
	}
	mb := metaBodyAt(metaPage)
	e.metaPgno = metaPage.pageNo()
	e.root = mb.Root
	e.branchPages = mb.BranchPages
	e.leafPages = mb.LeafPages
	e.overflowPages = mb.OverflowPages
	e.depth = mb.Depth
	e.entries = mb.Entries
	e.revisions = mb.Revisions
	return nil
}

// Close decrements this handle's reference count and, when it reaches
// zero, syncs (unless opened ReadOnly) and closes the file. Each Open
// returns a separate Env whose count starts at 1 and is not incremented
// elsewhere, so the first Close of an Env closes its file.
func (e *Env) Close() error {
	if atomic.AddInt32(&e.refs, -1) > 0 {
		return nil
	}
	if !e.readOnly {
		if err := e.pager.sync(); err != nil {
			return err
		}
	}
	if err := e.f.Close(); err != nil {
		return wrapErr(ErrIO, err)
	}
	return nil
}

// SetCacheSize adjusts the shared page cache's capacity.
func (e *Env) SetCacheSize(n int) { e.cache.setMax(n) }

// Sync flushes any writes not yet fsynced (a no-op unless the
// environment was opened with NoSync).
func (e *Env) Sync() error { return e.pager.sync() }

// Begin starts a new transaction. A writable transaction fails with
// ErrBusy if another writer is already active on this Env, or if another
// process or handle already holds the file's exclusive lock.
func (e *Env) Begin(writable bool) (*Txn, error) {
	if e.stale {
		return nil, ErrStaleFile
	}
	if writable && e.readOnly {
		return nil, ErrReadOnlyTxn
	}

	t := &Txn{env: e, writable: writable}
	e.mu.RLock()
	t.root = e.root
	t.branchPages = e.branchPages
	t.leafPages = e.leafPages
	t.overflowPages = e.overflowPages
	t.depth = e.depth
	t.entries = e.entries
	t.revisions = e.revisions
	e.mu.RUnlock()

	if !writable {
		return t, nil
	}

	if !e.writerMu.TryLock() {
		return nil, ErrWriterBusy
	}
	if err := tryLockExclusive(e.f.Fd()); err != nil {
		e.writerMu.Unlock()
		return nil, err
	}
	t.locked = true

	last, err := e.pager.fileSizePages()
	if err != nil {
		e.releaseWriter()
		return nil, err
	}
	t.nextPgno = last
	return t, nil
}

// releaseWriter drops both the cross-process file lock and the
// in-process writer mutex acquired by Begin(true).
func (e *Env) releaseWriter() {
	unlockExclusive(e.f.Fd())
	e.writerMu.Unlock()
}

// commitRoot publishes a writer's new tree snapshot for subsequent
// Begin calls to observe.
func (e *Env) commitRoot(root pgno, branchPages, leafPages, overflowPages uint64, depth uint32, entries, revisions uint64, metaPgno pgno) {
	e.mu.Lock()
	e.root = root
	e.branchPages = branchPages
	e.leafPages = leafPages
	e.overflowPages = overflowPages
	e.depth = depth
	e.entries = entries
	e.revisions = revisions
	e.metaPgno = metaPgno
	e.mu.Unlock()
}

// View runs fn in a read-only transaction, aborting it on return.
func (e *Env) View(fn func(*Txn) error) error {
	t, err := e.Begin(false)
	if err != nil {
		return err
	}
	defer t.Abort()
	return fn(t)
}

// Update runs fn in a write transaction, committing on success and
// aborting (leaving the database unchanged) if fn returns an error.
func (e *Env) Update(fn func(*Txn) error) error {
	t, err := e.Begin(true)
	if err != nil {
		return err
	}
	if err := fn(t); err != nil {
		t.Abort()
		return err
	}
	return t.Commit()
}

// Revert implements spec.md §9's previously-open "revert to previous
// meta" operation: it republishes the meta page chained through the
// current one's PrevMeta link as a new, forward-appended meta page, so
// the tree observes the prior commit's root and counters without
// rewinding history in place. Revisions keeps counting forward — a
// revert is itself a new commit, not an undo of the append log — so
// replaying the file from page 1 still sees a strictly increasing
// sequence of meta pages.
func (e *Env) Revert() error {
	if e.readOnly {
		return ErrReadOnlyTxn
	}
	e.writerMu.Lock()
	defer e.writerMu.Unlock()
	if err := tryLockExclusive(e.f.Fd()); err != nil {
		return err
	}
	defer unlockExclusive(e.f.Fd())

	cur, err := e.pager.readPage(e.metaPgno)
	if err != nil {
		return err
	}
	prevPgno := metaBodyAt(cur).PrevMeta
	if prevPgno == invalidPgno {
		return wrapErr(ErrInvalid, errString("no previous meta to revert to"))
	}
	prev, err := e.pager.readPage(prevPgno)
	if err != nil {
		return err
	}
	if err := validateMeta(prev); err != nil {
		return err
	}
	prevBody := metaBodyAt(prev)

	last, err := e.pager.fileSizePages()
	if err != nil {
		return err
	}
	buf := make([]byte, e.pageSize)
	p := &page{Data: buf}
	initPage(p, last, pageMeta, e.pageSize)
	mb := metaBodyAt(p)
	*mb = metaBody{
		Root:          prevBody.Root,
		PrevMeta:      e.metaPgno,
		BranchPages:   prevBody.BranchPages,
		LeafPages:     prevBody.LeafPages,
		OverflowPages: prevBody.OverflowPages,
		Revisions:     e.revisions + 1,
		Depth:         prevBody.Depth,
		Entries:       prevBody.Entries,
	}
	stampMetaHash(p)
	if err := e.pager.writeBatch([]*page{p}); err != nil {
		return err
	}
	if !e.noSync {
		if err := e.pager.sync(); err != nil {
			return err
		}
	}

	e.commitRoot(prevBody.Root, prevBody.BranchPages, prevBody.LeafPages, prevBody.OverflowPages, prevBody.Depth, prevBody.Entries, mb.Revisions, p.pageNo())
	e.cache.prune()
	return nil
}
