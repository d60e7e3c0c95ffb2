// Package stores provides the persistence layer for boot audit events,
// registry snapshots, and boot sessions. It is SQLite-based with WAL mode,
// connection pooling, and embedded schema migrations. The database is a
// replay and inspection record, never the live source of truth.
package stores
