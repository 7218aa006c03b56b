// Package store defines the persistence surface of the gateway: connection
// records and the append-only conversation log.
//
// The conversation log follows a composite-key layout inherited from the
// deployed data: each item is keyed by (conversationId, itemTimestamp) where
// the sort key embeds an item-kind prefix ahead of an ISO-8601 UTC timestamp,
// e.g. "TRANS#2025-08-14T10:30:15.120Z". Byte-wise comparison of sort keys
// therefore groups a conversation's items by kind first and orders them by
// time within a kind. That prefix-then-time order is part of the contract with
// every reader of the log, history API included, and must be preserved by any
// backend.
//
// The store is the sole writer of persisted state; every other component
// appends through these interfaces. All implementations must be safe for
// concurrent use.
package store

import (
	"context"
	"time"
)

// ConnectionStatus is the lifecycle state of a connection record.
type ConnectionStatus string

const (
	// StatusConnected marks a live connection. It is the only status a stored
	// record carries in practice — disconnection deletes the record.
	StatusConnected ConnectionStatus = "CONNECTED"

	// StatusDisconnected exists for readers of historical exports; the gateway
	// itself never writes it.
	StatusDisconnected ConnectionStatus = "DISCONNECTED"
)

// Connection is one operator connection's stored record.
type Connection struct {
	// ConnectionID is the transport-assigned identifier, unique per record.
	ConnectionID string

	// Status is [StatusConnected] for every record the gateway writes.
	Status ConnectionStatus

	// ClientIP and UserAgent capture the connecting console for audit.
	ClientIP  string
	UserAgent string

	// ConnectedAt is when the connection was registered.
	ConnectedAt time.Time

	// LastActivity is refreshed on every inbound frame. Always ≥ ConnectedAt.
	LastActivity time.Time

	// ExpiresAt is the absolute record expiry, 24 h after the last update.
	// The sweeper removes the record once this passes, so a record never
	// outlives a vanished connection even when the disconnect delete is lost.
	ExpiresAt time.Time
}

// ConnectionStore persists connection records. The Connection Manager is its
// only writer.
type ConnectionStore interface {
	// PutConnection writes conn, overwriting any record with the same id.
	PutConnection(ctx context.Context, conn Connection) error

	// GetConnection retrieves a record by id. Returns (nil, nil) when absent.
	GetConnection(ctx context.Context, connectionID string) (*Connection, error)

	// DeleteConnection removes a record. Deleting an absent record is not an
	// error.
	DeleteConnection(ctx context.Context, connectionID string) error

	// TouchConnection refreshes LastActivity and ExpiresAt. Touching an
	// absent record is not an error; the record has simply expired already.
	TouchConnection(ctx context.Context, connectionID string, lastActivity, expiresAt time.Time) error

	// ListConnections returns records with the given status connected at or
	// after since, oldest first. limit ≤ 0 applies the implementation default.
	ListConnections(ctx context.Context, status ConnectionStatus, since time.Time, limit int) ([]Connection, error)
}

// ConversationStore persists the append-only conversation log.
type ConversationStore interface {
	// AppendItem writes one log item. Items are immutable after write except
	// for the session-marker status transition handled by CloseSession.
	AppendItem(ctx context.Context, item ConversationItem) error

	// GetItem retrieves one item by its composite key.
	// Returns (nil, nil) when absent.
	GetItem(ctx context.Context, conversationID, itemTimestamp string) (*ConversationItem, error)

	// ListItems returns a conversation's items in ascending sort-key order
	// (prefix-then-time, see the package doc). limit ≤ 0 applies the
	// implementation default.
	ListItems(ctx context.Context, conversationID string, limit int) ([]ConversationItem, error)

	// CloseSession transitions a TRANSCRIPTION_SESSION item from ACTIVE to
	// STOPPED, recording the stop time and final chunk count. The transition
	// is conditional and happens at most once: the first call returns true,
	// later calls return false with no error, keeping stopTranscription
	// idempotent.
	CloseSession(ctx context.Context, conversationID, itemTimestamp string, stoppedAt time.Time, chunksProcessed int64) (bool, error)
}

// SweepResult counts the records removed by one TTL sweep.
type SweepResult struct {
	Connections int64
	Items       int64
}

// Sweeper removes expired connection records and conversation items. The
// backing database has no native item TTL, so the Connection Manager drives
// expiry through this interface on a fixed interval.
type Sweeper interface {
	SweepExpired(ctx context.Context, now time.Time) (SweepResult, error)
}
