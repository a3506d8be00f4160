// Package store provides SQLite-backed key-value persistence for the feed.
//
// It is the concrete implementation of the opaque get/set/remove store the
// view history consumes: the seen ledger, the session checkpoint and the
// thread-id snapshot each live under their own key.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - Single open connection: SQLite allows one writer
//
// Values are opaque bytes. Callers choose the encoding.
package store
