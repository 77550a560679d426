// Package ledger tracks refresh-token families. Each family has a strictly
// increasing sequence number; rotating with anything but the current sequence
// is treated as token replay and revokes the whole family.
//
// Three backends share the Store contract: MemoryStore for tests and single
// process deployments, RedisStore (Lua compare-and-set) and SQLStore
// (conditional UPDATE on PostgreSQL or SQLite).
package ledger
