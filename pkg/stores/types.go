package stores

import (
	"context"
	"database/sql"
	"time"
)

// SessionStatus represents the status of a boot session.
type SessionStatus string

const (
	SessionStatusRunning   SessionStatus = "running"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusFailed    SessionStatus = "failed"
	SessionStatusAborted   SessionStatus = "aborted"
)

// AuditRecord is a persisted boot audit event. Rows are append-only; there
// is no update or delete path.
type AuditRecord struct {
	Seq           int64     `json:"seq"`
	EventID       string    `json:"event_id"`
	Timestamp     time.Time `json:"timestamp"`
	EventType     string    `json:"event_type"`
	SubsystemID   *string   `json:"subsystem_id,omitempty"`
	Action        string    `json:"action"`
	Context       string    `json:"context"` // JSON blob
	Result        *string   `json:"result,omitempty"`
	Error         *string   `json:"error,omitempty"`
	StateSnapshot *string   `json:"state_snapshot,omitempty"` // JSON blob
}

// RegistrySnapshot is a persisted point-in-time view of the lifecycle
// registry.
type RegistrySnapshot struct {
	ID      int64     `json:"id"`
	Label   string    `json:"label"`
	TakenAt time.Time `json:"taken_at"`
	State   string    `json:"state"` // JSON blob
}

// BootSession records one orchestrated boot run.
type BootSession struct {
	ID          string        `json:"id"`
	Profile     string        `json:"profile"`
	Status      SessionStatus `json:"status"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	Initialized int           `json:"initialized"`
	Skipped     int           `json:"skipped"`
	Error       *string       `json:"error,omitempty"`
}

// AuditFilter narrows audit queries. Zero values mean "no filter".
type AuditFilter struct {
	EventType   string
	SubsystemID string
	Since       time.Time
	Until       time.Time
}

// Store defines the persistence layer interface.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Transaction support
	BeginTx(ctx context.Context) (*sql.Tx, error)
	CommitTx(tx *sql.Tx) error
	RollbackTx(tx *sql.Tx) error

	// Audit operations (append-only)
	InsertAuditRecord(ctx context.Context, rec *AuditRecord) error
	ListAuditRecords(ctx context.Context, filter AuditFilter, limit, offset int) ([]*AuditRecord, error)
	CountAuditRecords(ctx context.Context) (int64, error)

	// Registry snapshot operations
	SaveRegistrySnapshot(ctx context.Context, snap *RegistrySnapshot) error
	GetRegistrySnapshot(ctx context.Context, label string) (*RegistrySnapshot, error)
	ListRegistrySnapshots(ctx context.Context, limit, offset int) ([]*RegistrySnapshot, error)

	// Boot session operations
	CreateBootSession(ctx context.Context, session *BootSession) error
	CompleteBootSession(ctx context.Context, id string, status SessionStatus, initialized, skipped int, errMsg *string) error
	GetBootSession(ctx context.Context, id string) (*BootSession, error)
	ListBootSessions(ctx context.Context, limit, offset int) ([]*BootSession, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
