// Package cowdb implements a single-file, embeddable, ordered key-value
// store backed by an append-only, copy-on-write B+tree.
//
// A database is a single file opened with Open. Clients begin read or
// write transactions with Env.Begin (or the View/Update helpers), perform
// point lookups and mutations through Txn, and traverse keys in order
// through Cursor. A write transaction publishes its changes by writing a
// fresh, SHA-256-hashed meta page and committing; readers that began
// before that meta page reached disk keep observing the prior root.
//
// Only one writer may be active per process at a time, enforced by an
// exclusive advisory lock on the database file; any number of readers may
// run concurrently with it and with each other.
package cowdb
