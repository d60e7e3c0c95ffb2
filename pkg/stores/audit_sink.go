package stores

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bastion-runtime/bastion/pkg/boot"
)

// AuditSink adapts a Store to the boot controller's audit interface. Each
// controller event becomes one append-only row.
type AuditSink struct {
	store   Store
	timeout time.Duration
}

// NewAuditSink wraps a store for use as a boot.AuditSink.
func NewAuditSink(store Store) *AuditSink {
	return &AuditSink{store: store, timeout: 5 * time.Second}
}

// AppendAuditEvent persists one controller audit event.
func (a *AuditSink) AppendAuditEvent(ev boot.AuditEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	rec, err := recordFromAuditEvent(ev)
	if err != nil {
		return err
	}
	return a.store.InsertAuditRecord(ctx, rec)
}

// LoadAuditEvents reads persisted audit rows back into controller events,
// in insertion order, for replay.
func (a *AuditSink) LoadAuditEvents(ctx context.Context, filter AuditFilter, limit, offset int) ([]boot.AuditEvent, error) {
	records, err := a.store.ListAuditRecords(ctx, filter, limit, offset)
	if err != nil {
		return nil, err
	}

	events := make([]boot.AuditEvent, 0, len(records))
	for _, rec := range records {
		ev, err := auditEventFromRecord(rec)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

func recordFromAuditEvent(ev boot.AuditEvent) (*AuditRecord, error) {
	contextJSON, err := json.Marshal(ev.Context)
	if err != nil {
		return nil, fmt.Errorf("failed to encode audit context: %w", err)
	}

	rec := &AuditRecord{
		EventID:   ev.EventID,
		Timestamp: ev.Timestamp,
		EventType: ev.EventType,
		Action:    ev.Action,
		Context:   string(contextJSON),
	}
	if ev.SubsystemID != "" {
		id := ev.SubsystemID
		rec.SubsystemID = &id
	}
	if ev.Result != "" {
		r := ev.Result
		rec.Result = &r
	}
	if ev.Error != "" {
		e := ev.Error
		rec.Error = &e
	}
	if ev.StateSnapshot != nil {
		snapJSON, err := json.Marshal(ev.StateSnapshot)
		if err != nil {
			return nil, fmt.Errorf("failed to encode state snapshot: %w", err)
		}
		s := string(snapJSON)
		rec.StateSnapshot = &s
	}
	return rec, nil
}

func auditEventFromRecord(rec *AuditRecord) (boot.AuditEvent, error) {
	ev := boot.AuditEvent{
		EventID:   rec.EventID,
		Timestamp: rec.Timestamp,
		EventType: rec.EventType,
		Action:    rec.Action,
	}
	if rec.SubsystemID != nil {
		ev.SubsystemID = *rec.SubsystemID
	}
	if rec.Result != nil {
		ev.Result = *rec.Result
	}
	if rec.Error != nil {
		ev.Error = *rec.Error
	}
	if rec.Context != "" {
		if err := json.Unmarshal([]byte(rec.Context), &ev.Context); err != nil {
			return boot.AuditEvent{}, fmt.Errorf("failed to decode audit context: %w", err)
		}
	}
	if rec.StateSnapshot != nil {
		if err := json.Unmarshal([]byte(*rec.StateSnapshot), &ev.StateSnapshot); err != nil {
			return boot.AuditEvent{}, fmt.Errorf("failed to decode state snapshot: %w", err)
		}
	}
	return ev, nil
}
