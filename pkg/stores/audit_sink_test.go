package stores

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/bastion-runtime/bastion/pkg/boot"
)

func TestAuditSinkRoundTrip(t *testing.T) {
	store := setupTestStore(t)
	sink := NewAuditSink(store)

	events := []boot.AuditEvent{
		{
			EventID:   "e1",
			Timestamp: time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC),
			EventType: boot.AuditProfileChanged,
			Action:    "set_profile",
			Context:   map[string]interface{}{"profile": "normal"},
			Result:    "success",
		},
		{
			EventID:     "e2",
			Timestamp:   time.Date(2026, 2, 1, 10, 0, 1, 0, time.UTC),
			EventType:   boot.AuditApproval,
			SubsystemID: "supply_chain",
			Action:      "request_approval",
			Context:     map[string]interface{}{"priority": "MEDIUM"},
			Result:      "approved",
		},
		{
			EventID:       "e3",
			Timestamp:     time.Date(2026, 2, 1, 10, 0, 2, 0, time.UTC),
			EventType:     boot.AuditStateSnapshot,
			Action:        "save",
			Context:       map[string]interface{}{"snapshot_id": "end"},
			Result:        "saved",
			StateSnapshot: map[string]interface{}{"emergency_mode": false},
		},
	}
	for _, ev := range events {
		if err := sink.AppendAuditEvent(ev); err != nil {
			t.Fatalf("AppendAuditEvent: %v", err)
		}
	}

	loaded, err := sink.LoadAuditEvents(context.Background(), AuditFilter{}, 100, 0)
	if err != nil {
		t.Fatalf("LoadAuditEvents: %v", err)
	}
	if len(loaded) != 3 {
		t.Fatalf("loaded %d events, want 3", len(loaded))
	}

	for i := range events {
		if loaded[i].EventID != events[i].EventID ||
			loaded[i].EventType != events[i].EventType ||
			loaded[i].SubsystemID != events[i].SubsystemID ||
			loaded[i].Result != events[i].Result {
			t.Errorf("event %d round-trip mismatch: %+v vs %+v", i, loaded[i], events[i])
		}
	}
	if loaded[1].Context["priority"] != "MEDIUM" {
		t.Errorf("context round-trip failed: %v", loaded[1].Context)
	}
	if loaded[2].StateSnapshot["emergency_mode"] != false {
		t.Errorf("snapshot round-trip failed: %v", loaded[2].StateSnapshot)
	}
}

func TestReplayFromPersistedLog(t *testing.T) {
	store := setupTestStore(t)
	sink := NewAuditSink(store)

	base := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	seed := []boot.AuditEvent{
		{EventID: "e1", Timestamp: base, EventType: boot.AuditProfileChanged, Action: "set_profile"},
		{EventID: "e2", Timestamp: base.Add(time.Second), EventType: boot.AuditEmergencyMode, Action: "activate"},
		{EventID: "e3", Timestamp: base.Add(2 * time.Second), EventType: boot.AuditApproval, Action: "request_approval", SubsystemID: "x"},
		{EventID: "e4", Timestamp: base.Add(3 * time.Second), EventType: boot.AuditStateSnapshot, Action: "save", StateSnapshot: map[string]interface{}{}},
	}
	for _, ev := range seed {
		if err := sink.AppendAuditEvent(ev); err != nil {
			t.Fatalf("AppendAuditEvent: %v", err)
		}
	}

	loaded, err := sink.LoadAuditEvents(context.Background(), AuditFilter{}, 100, 0)
	if err != nil {
		t.Fatalf("LoadAuditEvents: %v", err)
	}

	first := boot.Replay(loaded, boot.ReplayFilters{})
	second := boot.Replay(loaded, boot.ReplayFilters{})
	if !reflect.DeepEqual(first.Summary, second.Summary) {
		t.Errorf("replay of persisted log not deterministic: %+v vs %+v", first.Summary, second.Summary)
	}

	want := boot.ReplaySummary{
		TotalEvents:          4,
		FilteredEvents:       4,
		ProfileChanges:       1,
		EmergencyActivations: 1,
		Approvals:            1,
		Snapshots:            1,
	}
	if first.Summary != want {
		t.Errorf("summary = %+v, want %+v", first.Summary, want)
	}
}
