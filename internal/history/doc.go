// Package history keeps the viewer's seen ledger and resumable session
// checkpoint.
//
// The ledger is a rolling set of video ids with last-seen timestamps,
// bounded two ways at once: at most LedgerCap entries (least recently seen
// evicted first) and no entry older than LedgerMaxAge. The checkpoint is a
// grid position plus a snapshot of thread ids; it reads as absent once it is
// older than ResumeWindow and is cleared when found stale.
//
// Persistence goes through the KV interface. Read and write failures are
// logged and treated as "no data"; they never reach the caller.
package history
