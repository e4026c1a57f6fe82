// Package queue persists media jobs and their processing schedule in SQLite
// and exposes helpers for driving their lifecycle.
//
// The Store manages database connections, schema initialization, lease-based
// entry claiming, retry scheduling, guest session records, claim
// transactions, and the stats queries behind the operator API. Every state
// transition that matters for correctness (claiming an entry, approving a
// job, migrating guest ownership) is a conditional UPDATE whose affected-row
// count decides the winner, so concurrent callers never observe a double
// transition.
//
// Treat this package as the single source of truth for queue semantics; when
// you add new entry states or job fields, update schema.sql and bump
// schemaVersion.
package queue
