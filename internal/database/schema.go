package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Schema creates the tables written by the message sink.
const Schema = `
CREATE TABLE IF NOT EXISTS messages (
	conn_id     TEXT        NOT NULL,
	endpoint    TEXT        NOT NULL,
	seq         BIGINT      NOT NULL,
	payload     TEXT        NOT NULL,
	received_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (conn_id, seq)
);
CREATE INDEX IF NOT EXISTS messages_received_at_idx ON messages (received_at);
`

// Execer is satisfied by *pgxpool.Pool and *pgx.Conn.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// EnsureSchema creates the messages table if it does not exist.
func EnsureSchema(ctx context.Context, db Execer) error {
	if _, err := db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
