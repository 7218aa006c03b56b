// Package mock provides an in-memory test double for the store interfaces.
//
// The mock is functional — records written through it can be read back, sorted
// the way the real backend sorts — and it records every method call for
// assertion in tests. Error fields control failure injection per method.
// Safe for concurrent use via an internal [sync.Mutex].
//
// Typical usage:
//
//	st := mock.NewStore()
//	// inject st into the system under test …
//
//	if got := st.CallCount("AppendItem"); got != 2 {
//	    t.Errorf("expected 2 AppendItem calls, got %d", got)
//	}
package mock

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/umigoe/umigoe/pkg/store"
)

// Call records the name and arguments of a single method invocation.
type Call struct {
	// Method is the name of the interface method that was called.
	Method string

	// Args holds the non-context arguments passed to the method, in order.
	Args []any
}

// Compile-time interface checks.
var (
	_ store.ConnectionStore   = (*Store)(nil)
	_ store.ConversationStore = (*Store)(nil)
	_ store.Sweeper           = (*Store)(nil)
)

// Store is a configurable in-memory double for the full persistence surface.
// All exported *Err fields default to nil (success).
type Store struct {
	mu          sync.Mutex
	calls       []Call
	connections map[string]store.Connection
	items       map[string]store.ConversationItem // keyed conversationID + "\x00" + itemTimestamp

	// PutConnectionErr is returned by PutConnection when non-nil.
	PutConnectionErr error

	// GetConnectionErr is returned by GetConnection when non-nil.
	GetConnectionErr error

	// DeleteConnectionErr is returned by DeleteConnection when non-nil.
	DeleteConnectionErr error

	// TouchConnectionErr is returned by TouchConnection when non-nil.
	TouchConnectionErr error

	// ListConnectionsErr is returned by ListConnections when non-nil.
	ListConnectionsErr error

	// AppendItemErr is returned by AppendItem when non-nil.
	AppendItemErr error

	// GetItemErr is returned by GetItem when non-nil.
	GetItemErr error

	// ListItemsErr is returned by ListItems when non-nil.
	ListItemsErr error

	// CloseSessionErr is returned by CloseSession when non-nil.
	CloseSessionErr error

	// SweepErr is returned by SweepExpired when non-nil.
	SweepErr error

	// PingErr is returned by Ping when non-nil.
	PingErr error
}

// NewStore returns an empty mock store.
func NewStore() *Store {
	return &Store{
		connections: make(map[string]store.Connection),
		items:       make(map[string]store.ConversationItem),
	}
}

// Calls returns a copy of all recorded method invocations.
func (m *Store) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times the named method was invoked.
func (m *Store) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Reset clears recorded calls and stored data without altering error injection.
func (m *Store) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.connections = make(map[string]store.Connection)
	m.items = make(map[string]store.ConversationItem)
}

func (m *Store) record(method string, args ...any) {
	m.calls = append(m.calls, Call{Method: method, Args: args})
}

// ─────────────────────────────────────────────────────────────────────────────
// ConnectionStore
// ─────────────────────────────────────────────────────────────────────────────

// PutConnection implements [store.ConnectionStore].
func (m *Store) PutConnection(_ context.Context, conn store.Connection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("PutConnection", conn)
	if m.PutConnectionErr != nil {
		return m.PutConnectionErr
	}
	m.connections[conn.ConnectionID] = conn
	return nil
}

// GetConnection implements [store.ConnectionStore].
func (m *Store) GetConnection(_ context.Context, connectionID string) (*store.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("GetConnection", connectionID)
	if m.GetConnectionErr != nil {
		return nil, m.GetConnectionErr
	}
	conn, ok := m.connections[connectionID]
	if !ok {
		return nil, nil
	}
	return &conn, nil
}

// DeleteConnection implements [store.ConnectionStore].
func (m *Store) DeleteConnection(_ context.Context, connectionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("DeleteConnection", connectionID)
	if m.DeleteConnectionErr != nil {
		return m.DeleteConnectionErr
	}
	delete(m.connections, connectionID)
	return nil
}

// TouchConnection implements [store.ConnectionStore].
func (m *Store) TouchConnection(_ context.Context, connectionID string, lastActivity, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("TouchConnection", connectionID, lastActivity, expiresAt)
	if m.TouchConnectionErr != nil {
		return m.TouchConnectionErr
	}
	if conn, ok := m.connections[connectionID]; ok {
		conn.LastActivity = lastActivity
		conn.ExpiresAt = expiresAt
		m.connections[connectionID] = conn
	}
	return nil
}

// ListConnections implements [store.ConnectionStore].
func (m *Store) ListConnections(_ context.Context, status store.ConnectionStatus, since time.Time, limit int) ([]store.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("ListConnections", status, since, limit)
	if m.ListConnectionsErr != nil {
		return nil, m.ListConnectionsErr
	}
	out := []store.Connection{}
	for _, conn := range m.connections {
		if conn.Status == status && !conn.ConnectedAt.Before(since) {
			out = append(out, conn)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConnectedAt.Before(out[j].ConnectedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// ConversationStore
// ─────────────────────────────────────────────────────────────────────────────

func itemKey(conversationID, itemTimestamp string) string {
	return conversationID + "\x00" + itemTimestamp
}

// AppendItem implements [store.ConversationStore].
func (m *Store) AppendItem(_ context.Context, item store.ConversationItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("AppendItem", item)
	if m.AppendItemErr != nil {
		return m.AppendItemErr
	}
	m.items[itemKey(item.ConversationID, item.ItemTimestamp)] = item
	return nil
}

// GetItem implements [store.ConversationStore].
func (m *Store) GetItem(_ context.Context, conversationID, itemTimestamp string) (*store.ConversationItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("GetItem", conversationID, itemTimestamp)
	if m.GetItemErr != nil {
		return nil, m.GetItemErr
	}
	item, ok := m.items[itemKey(conversationID, itemTimestamp)]
	if !ok {
		return nil, nil
	}
	return &item, nil
}

// ListItems implements [store.ConversationStore]. Items are returned in
// byte-wise ascending sort-key order, matching the real backend.
func (m *Store) ListItems(_ context.Context, conversationID string, limit int) ([]store.ConversationItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("ListItems", conversationID, limit)
	if m.ListItemsErr != nil {
		return nil, m.ListItemsErr
	}
	out := []store.ConversationItem{}
	for _, item := range m.items {
		if item.ConversationID == conversationID {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemTimestamp < out[j].ItemTimestamp })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CloseSession implements [store.ConversationStore].
func (m *Store) CloseSession(_ context.Context, conversationID, itemTimestamp string, stoppedAt time.Time, chunksProcessed int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("CloseSession", conversationID, itemTimestamp, stoppedAt, chunksProcessed)
	if m.CloseSessionErr != nil {
		return false, m.CloseSessionErr
	}
	key := itemKey(conversationID, itemTimestamp)
	item, ok := m.items[key]
	if !ok || item.Payload["status"] != string(store.SessionActive) {
		return false, nil
	}
	payload := make(map[string]any, len(item.Payload)+2)
	for k, v := range item.Payload {
		payload[k] = v
	}
	payload["status"] = string(store.SessionStopped)
	payload["stoppedAt"] = stoppedAt
	payload["chunksProcessed"] = chunksProcessed
	item.Payload = payload
	m.items[key] = item
	return true, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Sweeper + test accessors
// ─────────────────────────────────────────────────────────────────────────────

// SweepExpired implements [store.Sweeper].
func (m *Store) SweepExpired(_ context.Context, now time.Time) (store.SweepResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("SweepExpired", now)
	if m.SweepErr != nil {
		return store.SweepResult{}, m.SweepErr
	}
	var result store.SweepResult
	for id, conn := range m.connections {
		if !conn.ExpiresAt.After(now) {
			delete(m.connections, id)
			result.Connections++
		}
	}
	for key, item := range m.items {
		if !item.ExpiresAt.After(now) {
			delete(m.items, key)
			result.Items++
		}
	}
	return result, nil
}

// Ping mirrors the real backend's connectivity probe. Returns PingErr.
func (m *Store) Ping(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("Ping")
	return m.PingErr
}

// Connections returns a snapshot of all stored connection records.
func (m *Store) Connections() []store.Connection {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.Connection, 0, len(m.connections))
	for _, conn := range m.connections {
		out = append(out, conn)
	}
	return out
}

// Items returns a snapshot of all stored items in sort-key order.
func (m *Store) Items() []store.ConversationItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.ConversationItem, 0, len(m.items))
	for _, item := range m.items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ConversationID != out[j].ConversationID {
			return out[i].ConversationID < out[j].ConversationID
		}
		return out[i].ItemTimestamp < out[j].ItemTimestamp
	})
	return out
}

// ItemsOfType returns the stored items with the given type, in sort-key order.
func (m *Store) ItemsOfType(t store.ItemType) []store.ConversationItem {
	all := m.Items()
	out := []store.ConversationItem{}
	for _, item := range all {
		if item.ItemType == t {
			out = append(out, item)
		}
	}
	return out
}
