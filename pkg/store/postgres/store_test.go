package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/umigoe/umigoe/pkg/store"
	"github.com/umigoe/umigoe/pkg/store/postgres"
	"github.com/umigoe/umigoe/pkg/types"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if UMIGOE_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("UMIGOE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("UMIGOE_TEST_POSTGRES_DSN not set — skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a fresh [postgres.Store] with a clean schema.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	cleanPool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	t.Cleanup(cleanPool.Close)
	for _, stmt := range []string{
		"DROP TABLE IF EXISTS conversations CASCADE",
		"DROP TABLE IF EXISTS connections CASCADE",
	} {
		if _, err := cleanPool.Exec(ctx, stmt); err != nil {
			t.Fatalf("drop schema: %v", err)
		}
	}

	st, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(st.Close)
	return st
}

func TestConnectionLifecycle(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	conn := store.Connection{
		ConnectionID: "conn-1",
		Status:       store.StatusConnected,
		ClientIP:     "192.0.2.10",
		UserAgent:    "console/1.0",
		ConnectedAt:  now,
		LastActivity: now,
		ExpiresAt:    now.Add(24 * time.Hour),
	}
	if err := st.PutConnection(ctx, conn); err != nil {
		t.Fatalf("PutConnection: %v", err)
	}

	got, err := st.GetConnection(ctx, "conn-1")
	if err != nil {
		t.Fatalf("GetConnection: %v", err)
	}
	if got == nil {
		t.Fatal("GetConnection returned nil for existing record")
	}
	if got.ClientIP != "192.0.2.10" || got.Status != store.StatusConnected {
		t.Errorf("unexpected record: %+v", got)
	}

	// Touch moves last_activity and expires_at forward.
	later := now.Add(time.Minute)
	if err := st.TouchConnection(ctx, "conn-1", later, later.Add(24*time.Hour)); err != nil {
		t.Fatalf("TouchConnection: %v", err)
	}
	got, err = st.GetConnection(ctx, "conn-1")
	if err != nil {
		t.Fatalf("GetConnection after touch: %v", err)
	}
	if !got.LastActivity.After(got.ConnectedAt) {
		t.Errorf("lastActivity %v should be after connectedAt %v", got.LastActivity, got.ConnectedAt)
	}

	if err := st.DeleteConnection(ctx, "conn-1"); err != nil {
		t.Fatalf("DeleteConnection: %v", err)
	}
	got, err = st.GetConnection(ctx, "conn-1")
	if err != nil {
		t.Fatalf("GetConnection after delete: %v", err)
	}
	if got != nil {
		t.Error("record should be gone after delete")
	}

	// Absent deletes and touches are not errors.
	if err := st.DeleteConnection(ctx, "conn-1"); err != nil {
		t.Errorf("deleting absent record: %v", err)
	}
	if err := st.TouchConnection(ctx, "conn-1", later, later); err != nil {
		t.Errorf("touching absent record: %v", err)
	}
}

func TestPutConnectionOverwrites(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	first := store.Connection{ConnectionID: "conn-1", Status: store.StatusConnected, ClientIP: "192.0.2.1", ConnectedAt: now, LastActivity: now, ExpiresAt: now.Add(time.Hour)}
	second := first
	second.ClientIP = "192.0.2.2"

	if err := st.PutConnection(ctx, first); err != nil {
		t.Fatalf("put first: %v", err)
	}
	if err := st.PutConnection(ctx, second); err != nil {
		t.Fatalf("put second: %v", err)
	}
	got, err := st.GetConnection(ctx, "conn-1")
	if err != nil || got == nil {
		t.Fatalf("get: %v, %v", got, err)
	}
	if got.ClientIP != "192.0.2.2" {
		t.Errorf("re-register should overwrite, got ip %q", got.ClientIP)
	}
}

func TestListItemsSortedPrefixThenTime(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 8, 14, 10, 30, 0, 0, time.UTC)
	ttl := 30 * 24 * time.Hour

	// Appended deliberately out of order.
	items := []store.ConversationItem{
		store.NewTranscriptItem("c1", types.TranscriptEvent{Text: "第二", Confidence: 0.9}, base.Add(2*time.Second), ttl),
		store.NewAnalysisItem("c1", "第一", types.AnalysisResult{Classification: types.ClassGreen, SuggestedResponse: "了解"}, base.Add(3*time.Second), ttl),
		store.NewTranscriptItem("c1", types.TranscriptEvent{Text: "第一", Confidence: 0.9}, base.Add(time.Second), ttl),
		store.NewMessageItem("c1", "m1", "こんにちは", "", base, ttl),
	}
	for _, item := range items {
		if err := st.AppendItem(ctx, item); err != nil {
			t.Fatalf("AppendItem: %v", err)
		}
	}

	got, err := st.ListItems(ctx, store.ConversationID("c1"), 0)
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("got %d items, want 4", len(got))
	}
	// Byte-wise sort groups by prefix (AI# < MSG# < TRANS#), then by time.
	wantOrder := []store.ItemType{
		store.ItemAIResponse,
		store.ItemMessage,
		store.ItemTranscription,
		store.ItemTranscription,
	}
	for i, want := range wantOrder {
		if got[i].ItemType != want {
			t.Errorf("position %d: got %s, want %s (key %s)", i, got[i].ItemType, want, got[i].ItemTimestamp)
		}
	}
	if got[2].ItemTimestamp >= got[3].ItemTimestamp {
		t.Errorf("TRANS items out of time order: %s then %s", got[2].ItemTimestamp, got[3].ItemTimestamp)
	}
}

func TestCloseSessionTransitionsOnce(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	started := time.Date(2025, 8, 14, 10, 30, 0, 0, time.UTC)

	meta := store.SessionMeta{
		SessionID:    "sess-1",
		LanguageCode: "ja-JP",
		SampleRateHz: 16000,
	}
	item := store.NewSessionItem("c1", meta, started, 30*24*time.Hour)
	if err := st.AppendItem(ctx, item); err != nil {
		t.Fatalf("AppendItem: %v", err)
	}

	updated, err := st.CloseSession(ctx, item.ConversationID, item.ItemTimestamp, started.Add(time.Minute), 42)
	if err != nil {
		t.Fatalf("CloseSession: %v", err)
	}
	if !updated {
		t.Fatal("first CloseSession should report a transition")
	}

	// Second close is a no-op, not an error.
	updated, err = st.CloseSession(ctx, item.ConversationID, item.ItemTimestamp, started.Add(2*time.Minute), 99)
	if err != nil {
		t.Fatalf("second CloseSession: %v", err)
	}
	if updated {
		t.Error("second CloseSession should not transition again")
	}

	got, err := st.GetItem(ctx, item.ConversationID, item.ItemTimestamp)
	if err != nil || got == nil {
		t.Fatalf("GetItem: %v, %v", got, err)
	}
	if got.Payload["status"] != string(store.SessionStopped) {
		t.Errorf("status = %v, want STOPPED", got.Payload["status"])
	}
	if got.Payload["chunksProcessed"] != float64(42) {
		t.Errorf("chunksProcessed = %v, want 42 from the first close", got.Payload["chunksProcessed"])
	}
}

func TestSweepExpired(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	expired := store.Connection{ConnectionID: "old", Status: store.StatusConnected, ConnectedAt: now.Add(-48 * time.Hour), LastActivity: now.Add(-48 * time.Hour), ExpiresAt: now.Add(-24 * time.Hour)}
	live := store.Connection{ConnectionID: "new", Status: store.StatusConnected, ConnectedAt: now, LastActivity: now, ExpiresAt: now.Add(24 * time.Hour)}
	for _, c := range []store.Connection{expired, live} {
		if err := st.PutConnection(ctx, c); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	oldItem := store.NewMessageItem("old", "m1", "古い", "", now.Add(-31*24*time.Hour), 30*24*time.Hour)
	if err := st.AppendItem(ctx, oldItem); err != nil {
		t.Fatalf("append: %v", err)
	}

	result, err := st.SweepExpired(ctx, now)
	if err != nil {
		t.Fatalf("SweepExpired: %v", err)
	}
	if result.Connections != 1 {
		t.Errorf("swept %d connections, want 1", result.Connections)
	}
	if result.Items != 1 {
		t.Errorf("swept %d items, want 1", result.Items)
	}
	if got, _ := st.GetConnection(ctx, "new"); got == nil {
		t.Error("live connection should survive the sweep")
	}
}
