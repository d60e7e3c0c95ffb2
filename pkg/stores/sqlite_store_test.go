package stores

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

// setupTestStore creates a file-backed SQLite store for testing.
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path: filepath.Join(t.TempDir(), "bastion.db"),
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	t.Cleanup(func() { _ = store.Close() })
	return store
}

func strPtr(s string) *string { return &s }

// TestStoreLifecycle tests database initialization and closure.
func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{
		Path: filepath.Join(t.TempDir(), "bastion.db"),
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

func TestStoreRequiresPath(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Fatal("expected error for empty path")
	}
}

// TestAuditRecords tests append and ordered retrieval of audit records.
func TestAuditRecords(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	records := []*AuditRecord{
		{EventID: "e1", Timestamp: base, EventType: "profile_changed", Action: "set_profile", Context: `{"profile":"normal"}`},
		{EventID: "e2", Timestamp: base.Add(time.Second), EventType: "emergency_mode", SubsystemID: strPtr("tactical_edge_ai"), Action: "activate", Context: `{}`},
		{EventID: "e3", Timestamp: base.Add(2 * time.Second), EventType: "approval", SubsystemID: strPtr("supply_chain"), Action: "request_approval", Context: `{}`, Result: strPtr("approved")},
	}
	for _, rec := range records {
		if err := store.InsertAuditRecord(ctx, rec); err != nil {
			t.Fatalf("InsertAuditRecord: %v", err)
		}
	}

	got, err := store.ListAuditRecords(ctx, AuditFilter{}, 100, 0)
	if err != nil {
		t.Fatalf("ListAuditRecords: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("records = %d, want 3", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Seq <= got[i-1].Seq {
			t.Error("records must come back in insertion order")
		}
	}
	if got[0].EventID != "e1" || got[2].EventID != "e3" {
		t.Errorf("order = %s..%s", got[0].EventID, got[2].EventID)
	}

	count, err := store.CountAuditRecords(ctx)
	if err != nil {
		t.Fatalf("CountAuditRecords: %v", err)
	}
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}
}

func TestAuditRecordFilters(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	seed := []*AuditRecord{
		{EventID: "e1", Timestamp: base, EventType: "profile_changed", Action: "set_profile", Context: `{}`},
		{EventID: "e2", Timestamp: base.Add(time.Minute), EventType: "approval", SubsystemID: strPtr("a"), Action: "request_approval", Context: `{}`},
		{EventID: "e3", Timestamp: base.Add(2 * time.Minute), EventType: "approval", SubsystemID: strPtr("b"), Action: "request_approval", Context: `{}`},
	}
	for _, rec := range seed {
		if err := store.InsertAuditRecord(ctx, rec); err != nil {
			t.Fatalf("InsertAuditRecord: %v", err)
		}
	}

	got, err := store.ListAuditRecords(ctx, AuditFilter{EventType: "approval"}, 100, 0)
	if err != nil {
		t.Fatalf("ListAuditRecords: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("type-filtered = %d, want 2", len(got))
	}

	got, err = store.ListAuditRecords(ctx, AuditFilter{SubsystemID: "b"}, 100, 0)
	if err != nil {
		t.Fatalf("ListAuditRecords: %v", err)
	}
	if len(got) != 1 || got[0].EventID != "e3" {
		t.Errorf("subsystem-filtered = %v", got)
	}

	got, err = store.ListAuditRecords(ctx, AuditFilter{Since: base.Add(30 * time.Second)}, 100, 0)
	if err != nil {
		t.Fatalf("ListAuditRecords: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("since-filtered = %d, want 2", len(got))
	}

	got, err = store.ListAuditRecords(ctx, AuditFilter{}, 1, 1)
	if err != nil {
		t.Fatalf("ListAuditRecords: %v", err)
	}
	if len(got) != 1 || got[0].EventID != "e2" {
		t.Errorf("paginated = %v", got)
	}
}

// TestRegistrySnapshots tests snapshot persistence.
func TestRegistrySnapshots(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	first := &RegistrySnapshot{
		Label:   "pre_boot",
		TakenAt: time.Now().UTC(),
		State:   `{"active":0}`,
	}
	if err := store.SaveRegistrySnapshot(ctx, first); err != nil {
		t.Fatalf("SaveRegistrySnapshot: %v", err)
	}
	second := &RegistrySnapshot{
		Label:   "pre_boot",
		TakenAt: time.Now().UTC(),
		State:   `{"active":4}`,
	}
	if err := store.SaveRegistrySnapshot(ctx, second); err != nil {
		t.Fatalf("SaveRegistrySnapshot: %v", err)
	}

	// Same label resolves to the most recent snapshot.
	got, err := store.GetRegistrySnapshot(ctx, "pre_boot")
	if err != nil {
		t.Fatalf("GetRegistrySnapshot: %v", err)
	}
	if got.State != `{"active":4}` {
		t.Errorf("state = %s", got.State)
	}

	if _, err := store.GetRegistrySnapshot(ctx, "missing"); err == nil {
		t.Error("expected error for missing snapshot")
	}

	snaps, err := store.ListRegistrySnapshots(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListRegistrySnapshots: %v", err)
	}
	if len(snaps) != 2 {
		t.Errorf("snapshots = %d, want 2", len(snaps))
	}
}

// TestBootSessions tests boot session lifecycle.
func TestBootSessions(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	session := &BootSession{
		ID:        "session-1",
		Profile:   "ethics_first",
		Status:    SessionStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	if err := store.CreateBootSession(ctx, session); err != nil {
		t.Fatalf("CreateBootSession: %v", err)
	}

	if err := store.CompleteBootSession(ctx, "session-1", SessionStatusCompleted, 5, 2, nil); err != nil {
		t.Fatalf("CompleteBootSession: %v", err)
	}

	got, err := store.GetBootSession(ctx, "session-1")
	if err != nil {
		t.Fatalf("GetBootSession: %v", err)
	}
	if got.Status != SessionStatusCompleted {
		t.Errorf("status = %s", got.Status)
	}
	if got.Initialized != 5 || got.Skipped != 2 {
		t.Errorf("counts = %d/%d, want 5/2", got.Initialized, got.Skipped)
	}
	if got.CompletedAt == nil {
		t.Error("completed_at not set")
	}

	if err := store.CompleteBootSession(ctx, "missing", SessionStatusFailed, 0, 0, strPtr("boom")); err == nil {
		t.Error("expected error for unknown session")
	}

	sessions, err := store.ListBootSessions(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListBootSessions: %v", err)
	}
	if len(sessions) != 1 {
		t.Errorf("sessions = %d, want 1", len(sessions))
	}
}
