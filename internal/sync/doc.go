// Package sync provides the synchronization engine between the local record
// store and the remote property service.
//
// # Overview
//
// The engine reconciles two stores that disagree by design: the device's
// local store accepts writes at any time, network or not, while the remote
// service eventually becomes authoritative for the fields it knows about.
// A sync cycle has two independent phases:
//
//	Local Store (pending/error records)
//	     │  push: create or update per record
//	     ▼
//	Remote Service ──► server-issued identity, timestamps
//	     │  pull: full remote list
//	     ▼
//	Local Store (merged rows, confirmed identifiers)
//
// # Push phase
//
// Every record whose sync status is pending or error is transferred
// outbound. Records with a remote id (or a confirmed-shaped id) are
// updated; records still under a provisional id are created, after which
// the server's response is reconciled back into the store: the row moves to
// the server id and the provisional row is removed.
//
// Failures are isolated per record — one record's transfer failure marks
// that record error and the loop continues. The record is retried on the
// next cycle, not within the same one.
//
// # Pull phase
//
// The full remote list is fetched once, each entry is merged against the
// local store (remote wins for shared fields, local-only fields are carried
// forward), and the whole batch is written in one store transaction. Rows
// holding an unpushed local change keep their data and only have their
// identity confirmed; entries that cannot produce a valid row are skipped
// and counted, never allowed to poison the batch. A pull that cannot reach
// the service leaves the store exactly as it was.
//
// # Known limitation
//
// A create that succeeds on the server but whose response is lost to a
// client-side timeout is retried as a second create on the next cycle and
// produces a duplicate remote entity. There is no automatic de-duplication.
//
// # Concurrency
//
// A Syncer is not a scheduler: cycles must not run concurrently with
// themselves. The daemon package owns the timer and the single-flight
// guard around FullSync.
//
// Cycles do run concurrently with local writes from the UI. Every
// reconciliation write therefore re-reads the row inside its store
// transaction and rebases on what it finds: an edit that landed while a
// transfer was in flight survives the reconciliation and goes out on the
// next cycle instead of being overwritten by the stale server echo.
package sync
