package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/umigoe/umigoe/pkg/store"
	"github.com/umigoe/umigoe/pkg/types"
)

// Compile-time interface checks.
var (
	_ store.ConnectionStore   = (*Store)(nil)
	_ store.ConversationStore = (*Store)(nil)
	_ store.Sweeper           = (*Store)(nil)
)

// defaultListLimit bounds list queries when the caller passes limit ≤ 0.
const defaultListLimit = 200

// Store is the PostgreSQL-backed persistence adapter. It implements
// [store.ConnectionStore], [store.ConversationStore] and [store.Sweeper] on a
// single connection pool.
//
// All operations are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore establishes a connection pool to the database at dsn, verifies
// connectivity, and runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Ping verifies database connectivity. Used by the readiness checker.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all connections held by the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

// ─────────────────────────────────────────────────────────────────────────────
// Connection records
// ─────────────────────────────────────────────────────────────────────────────

// PutConnection implements [store.ConnectionStore]. Re-registering an id
// overwrites the record, matching a reconnect that reuses a transport id.
func (s *Store) PutConnection(ctx context.Context, conn store.Connection) error {
	const q = `
		INSERT INTO connections
		    (connection_id, status, client_ip, user_agent, connected_at, last_activity, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (connection_id) DO UPDATE SET
		    status        = EXCLUDED.status,
		    client_ip     = EXCLUDED.client_ip,
		    user_agent    = EXCLUDED.user_agent,
		    connected_at  = EXCLUDED.connected_at,
		    last_activity = EXCLUDED.last_activity,
		    expires_at    = EXCLUDED.expires_at`

	_, err := s.pool.Exec(ctx, q,
		conn.ConnectionID,
		string(conn.Status),
		conn.ClientIP,
		conn.UserAgent,
		conn.ConnectedAt,
		conn.LastActivity,
		conn.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("connection store: put: %w", err)
	}
	return nil
}

// GetConnection implements [store.ConnectionStore].
// Returns (nil, nil) when no record exists.
func (s *Store) GetConnection(ctx context.Context, connectionID string) (*store.Connection, error) {
	const q = `
		SELECT connection_id, status, client_ip, user_agent, connected_at, last_activity, expires_at
		FROM   connections
		WHERE  connection_id = $1`

	rows, err := s.pool.Query(ctx, q, connectionID)
	if err != nil {
		return nil, fmt.Errorf("connection store: get: %w", err)
	}
	conn, err := pgx.CollectOneRow(rows, scanConnection)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("connection store: get: %w", err)
	}
	return &conn, nil
}

// DeleteConnection implements [store.ConnectionStore]. Deleting an absent
// record is not an error.
func (s *Store) DeleteConnection(ctx context.Context, connectionID string) error {
	const q = `DELETE FROM connections WHERE connection_id = $1`
	if _, err := s.pool.Exec(ctx, q, connectionID); err != nil {
		return fmt.Errorf("connection store: delete: %w", err)
	}
	return nil
}

// TouchConnection implements [store.ConnectionStore]. Touching an absent
// record is a no-op; the record has expired and the sweep already owns it.
func (s *Store) TouchConnection(ctx context.Context, connectionID string, lastActivity, expiresAt time.Time) error {
	const q = `
		UPDATE connections
		SET    last_activity = $2, expires_at = $3
		WHERE  connection_id = $1`

	if _, err := s.pool.Exec(ctx, q, connectionID, lastActivity, expiresAt); err != nil {
		return fmt.Errorf("connection store: touch: %w", err)
	}
	return nil
}

// ListConnections implements [store.ConnectionStore].
func (s *Store) ListConnections(ctx context.Context, status store.ConnectionStatus, since time.Time, limit int) ([]store.Connection, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	const q = `
		SELECT connection_id, status, client_ip, user_agent, connected_at, last_activity, expires_at
		FROM   connections
		WHERE  status = $1 AND connected_at >= $2
		ORDER  BY connected_at
		LIMIT  $3`

	rows, err := s.pool.Query(ctx, q, string(status), since, limit)
	if err != nil {
		return nil, fmt.Errorf("connection store: list: %w", err)
	}
	conns, err := pgx.CollectRows(rows, scanConnection)
	if err != nil {
		return nil, fmt.Errorf("connection store: list: scan: %w", err)
	}
	if conns == nil {
		conns = []store.Connection{}
	}
	return conns, nil
}

func scanConnection(row pgx.CollectableRow) (store.Connection, error) {
	var (
		c      store.Connection
		status string
	)
	if err := row.Scan(
		&c.ConnectionID,
		&status,
		&c.ClientIP,
		&c.UserAgent,
		&c.ConnectedAt,
		&c.LastActivity,
		&c.ExpiresAt,
	); err != nil {
		return store.Connection{}, err
	}
	c.Status = store.ConnectionStatus(status)
	return c, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Conversation log
// ─────────────────────────────────────────────────────────────────────────────

// AppendItem implements [store.ConversationStore].
func (s *Store) AppendItem(ctx context.Context, item store.ConversationItem) error {
	const q = `
		INSERT INTO conversations
		    (conversation_id, item_timestamp, item_type, connection_id, payload, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.pool.Exec(ctx, q,
		item.ConversationID,
		item.ItemTimestamp,
		string(item.ItemType),
		item.ConnectionID,
		item.Payload,
		item.CreatedAt,
		item.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("conversation store: append: %w", err)
	}
	return nil
}

// GetItem implements [store.ConversationStore].
// Returns (nil, nil) when no item exists under the composite key.
func (s *Store) GetItem(ctx context.Context, conversationID, itemTimestamp string) (*store.ConversationItem, error) {
	const q = `
		SELECT conversation_id, item_timestamp, item_type, connection_id, payload, created_at, expires_at
		FROM   conversations
		WHERE  conversation_id = $1 AND item_timestamp = $2`

	rows, err := s.pool.Query(ctx, q, conversationID, itemTimestamp)
	if err != nil {
		return nil, fmt.Errorf("conversation store: get: %w", err)
	}
	item, err := pgx.CollectOneRow(rows, scanItem)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("conversation store: get: %w", err)
	}
	return &item, nil
}

// ListItems implements [store.ConversationStore]. Items arrive in byte-wise
// ascending sort-key order: all AI# items, then MSG#, SESSION#, TRANS#,
// each kind ordered by its embedded timestamp.
func (s *Store) ListItems(ctx context.Context, conversationID string, limit int) ([]store.ConversationItem, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	const q = `
		SELECT conversation_id, item_timestamp, item_type, connection_id, payload, created_at, expires_at
		FROM   conversations
		WHERE  conversation_id = $1
		ORDER  BY item_timestamp
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("conversation store: list: %w", err)
	}
	items, err := pgx.CollectRows(rows, scanItem)
	if err != nil {
		return nil, fmt.Errorf("conversation store: list: scan: %w", err)
	}
	if items == nil {
		items = []store.ConversationItem{}
	}
	return items, nil
}

// CloseSession implements [store.ConversationStore]. The WHERE clause guards
// the ACTIVE→STOPPED transition so it commits at most once regardless of how
// many stop paths race (explicit stop, disconnect, upstream error).
func (s *Store) CloseSession(ctx context.Context, conversationID, itemTimestamp string, stoppedAt time.Time, chunksProcessed int64) (bool, error) {
	const q = `
		UPDATE conversations
		SET    payload = payload || jsonb_build_object(
		           'status', 'STOPPED',
		           'stoppedAt', $3::text,
		           'chunksProcessed', $4::bigint)
		WHERE  conversation_id = $1
		  AND  item_timestamp  = $2
		  AND  payload->>'status' = 'ACTIVE'`

	tag, err := s.pool.Exec(ctx, q, conversationID, itemTimestamp, types.FormatTimestamp(stoppedAt), chunksProcessed)
	if err != nil {
		return false, fmt.Errorf("conversation store: close session: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func scanItem(row pgx.CollectableRow) (store.ConversationItem, error) {
	var (
		item     store.ConversationItem
		itemType string
	)
	if err := row.Scan(
		&item.ConversationID,
		&item.ItemTimestamp,
		&itemType,
		&item.ConnectionID,
		&item.Payload,
		&item.CreatedAt,
		&item.ExpiresAt,
	); err != nil {
		return store.ConversationItem{}, err
	}
	item.ItemType = store.ItemType(itemType)
	return item, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// TTL sweep
// ─────────────────────────────────────────────────────────────────────────────

// isNoRows reports whether err is the pgx "no rows" sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// SweepExpired implements [store.Sweeper].
func (s *Store) SweepExpired(ctx context.Context, now time.Time) (store.SweepResult, error) {
	var result store.SweepResult

	tag, err := s.pool.Exec(ctx, `DELETE FROM connections WHERE expires_at <= $1`, now)
	if err != nil {
		return result, fmt.Errorf("sweep: connections: %w", err)
	}
	result.Connections = tag.RowsAffected()

	tag, err = s.pool.Exec(ctx, `DELETE FROM conversations WHERE expires_at <= $1`, now)
	if err != nil {
		return result, fmt.Errorf("sweep: conversations: %w", err)
	}
	result.Items = tag.RowsAffected()

	return result, nil
}
