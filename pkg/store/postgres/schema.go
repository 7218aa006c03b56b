// Package postgres provides the PostgreSQL-backed implementation of the
// gateway persistence surface: the connections table and the conversations
// log.
//
// A single [pgxpool.Pool] backs both tables. [Migrate] is idempotent and runs
// on every start, so a fresh database needs no out-of-band provisioning.
//
// Usage:
//
//	st, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer st.Close()
//
//	_ = st.PutConnection(ctx, conn)
//	_ = st.AppendItem(ctx, item)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// item_timestamp uses COLLATE "C" so ORDER BY compares bytes, not locale
// rules: the prefix-then-time sort contract depends on byte-wise ordering of
// '#' against digits and letters.
const ddlConnections = `
CREATE TABLE IF NOT EXISTS connections (
    connection_id  TEXT         PRIMARY KEY,
    status         TEXT         NOT NULL,
    client_ip      TEXT         NOT NULL DEFAULT '',
    user_agent     TEXT         NOT NULL DEFAULT '',
    connected_at   TIMESTAMPTZ  NOT NULL,
    last_activity  TIMESTAMPTZ  NOT NULL,
    expires_at     TIMESTAMPTZ  NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_connections_status_connected_at
    ON connections (status, connected_at);

CREATE INDEX IF NOT EXISTS idx_connections_expires_at
    ON connections (expires_at);
`

const ddlConversations = `
CREATE TABLE IF NOT EXISTS conversations (
    conversation_id TEXT              NOT NULL,
    item_timestamp  TEXT COLLATE "C"  NOT NULL,
    item_type       TEXT              NOT NULL,
    connection_id   TEXT              NOT NULL,
    payload         JSONB             NOT NULL DEFAULT '{}',
    created_at      TIMESTAMPTZ       NOT NULL DEFAULT now(),
    expires_at      TIMESTAMPTZ       NOT NULL,
    PRIMARY KEY (conversation_id, item_timestamp)
);

CREATE INDEX IF NOT EXISTS idx_conversations_connection_id
    ON conversations (connection_id);

CREATE INDEX IF NOT EXISTS idx_conversations_expires_at
    ON conversations (expires_at);
`

// Migrate creates or ensures all required tables and indexes exist. It is
// idempotent (CREATE TABLE IF NOT EXISTS / CREATE INDEX IF NOT EXISTS) and
// safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	statements := []string{
		ddlConnections,
		ddlConversations,
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
