// Package connmgr tracks live operator connections. The manager keeps the
// authoritative in-memory set and mirrors every record to durable storage,
// where the TTL sweeper eventually reclaims anything a crashed gateway left
// behind.
package connmgr

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/umigoe/umigoe/internal/observe"
	"github.com/umigoe/umigoe/pkg/store"
)

const (
	// DefaultHealthWindow is the maximum inactivity before IsHealthy reports
	// a connection as stale.
	DefaultHealthWindow = 5 * time.Minute

	// DefaultTTL is the storage record lifetime granted on register and
	// renewed on every touch.
	DefaultTTL = 24 * time.Hour
)

// Metadata describes the connecting operator console, captured once at
// registration for audit.
type Metadata struct {
	ClientIP  string
	UserAgent string
}

// Config tunes a Manager. Zero values fall back to the defaults above.
type Config struct {
	// HealthWindow is the inactivity bound for IsHealthy.
	HealthWindow time.Duration

	// TTL is the storage record lifetime set on register and touch.
	TTL time.Duration

	// Metrics receives the active-connection gauge and store-failure
	// counters. Defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Manager is the single writer of connection records. Registration must
// reach storage or the connection is refused; touch and removal treat
// storage as best-effort, so a flaky backend never terminates a healthy
// session.
type Manager struct {
	store   store.ConnectionStore
	metrics *observe.Metrics

	healthWindow time.Duration
	ttl          time.Duration

	mu    sync.RWMutex
	conns map[string]store.Connection
}

// New creates a Manager writing through cs.
func New(cs store.ConnectionStore, cfg Config) *Manager {
	if cfg.HealthWindow <= 0 {
		cfg.HealthWindow = DefaultHealthWindow
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Manager{
		store:        cs,
		metrics:      cfg.Metrics,
		healthWindow: cfg.HealthWindow,
		ttl:          cfg.TTL,
		conns:        make(map[string]store.Connection),
	}
}

// Register records a new connection. The record must reach storage: on
// failure nothing is tracked and the caller should refuse the handshake.
// Registering an already-known ID overwrites the previous record.
func (m *Manager) Register(ctx context.Context, connectionID string, meta Metadata) (store.Connection, error) {
	now := time.Now().UTC()
	conn := store.Connection{
		ConnectionID: connectionID,
		Status:       store.StatusConnected,
		ClientIP:     meta.ClientIP,
		UserAgent:    meta.UserAgent,
		ConnectedAt:  now,
		LastActivity: now,
		ExpiresAt:    now.Add(m.ttl),
	}
	if err := m.store.PutConnection(ctx, conn); err != nil {
		return store.Connection{}, fmt.Errorf("register connection %s: %w", connectionID, err)
	}

	m.mu.Lock()
	_, existed := m.conns[connectionID]
	m.conns[connectionID] = conn
	m.mu.Unlock()

	if !existed {
		m.metrics.ActiveConnections.Add(ctx, 1)
	}
	slog.Info("connection registered",
		"connection_id", connectionID,
		"client_ip", meta.ClientIP)
	return conn, nil
}

// Touch refreshes the activity timestamp and extends the record TTL. Called
// on every inbound frame. Storage failures are logged and swallowed; the
// in-memory record is always refreshed first, so health checks keep seeing
// the connection as active. Touching an untracked ID is a no-op.
func (m *Manager) Touch(ctx context.Context, connectionID string) {
	now := time.Now().UTC()
	expires := now.Add(m.ttl)

	m.mu.Lock()
	conn, ok := m.conns[connectionID]
	if ok {
		conn.LastActivity = now
		conn.ExpiresAt = expires
		m.conns[connectionID] = conn
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	if err := m.store.TouchConnection(ctx, connectionID, now, expires); err != nil {
		slog.Warn("failed to persist connection activity",
			"connection_id", connectionID,
			"error", err)
		m.metrics.RecordStoreWriteFailure(ctx, "connection")
	}
}

// Remove forgets a connection. The storage delete is attempted even for IDs
// the manager does not track, clearing records a previous process left
// behind. Delete failures are logged and swallowed: the TTL sweep reclaims
// the record within a day regardless.
func (m *Manager) Remove(ctx context.Context, connectionID string) {
	m.mu.Lock()
	_, existed := m.conns[connectionID]
	delete(m.conns, connectionID)
	m.mu.Unlock()

	if existed {
		m.metrics.ActiveConnections.Add(ctx, -1)
	}

	if err := m.store.DeleteConnection(ctx, connectionID); err != nil {
		slog.Warn("failed to delete connection record",
			"connection_id", connectionID,
			"error", err)
		m.metrics.RecordStoreWriteFailure(ctx, "connection")
	}
	if existed {
		slog.Info("connection removed", "connection_id", connectionID)
	}
}

// Get returns a copy of the tracked record, or nil for unknown connections.
func (m *Manager) Get(connectionID string) *store.Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conn, ok := m.conns[connectionID]
	if !ok {
		return nil
	}
	return &conn
}

// IsHealthy reports whether the connection is tracked and has shown activity
// within the health window.
func (m *Manager) IsHealthy(connectionID string) bool {
	m.mu.RLock()
	conn, ok := m.conns[connectionID]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	return time.Since(conn.LastActivity) < m.healthWindow
}

// Count returns the number of tracked connections.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}
