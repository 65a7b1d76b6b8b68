// Package database provides the PostgreSQL connection pool used by the
// message sink.
//
// Inbound messages are stored append-only in a single table:
//   - messages: one row per delivered text frame, keyed by (conn_id, seq)
package database
