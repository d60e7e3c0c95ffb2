package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db   *sql.DB
	path string
	cfg  Config
}

// Config holds SQLite store configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	return &SQLiteStore{
		path: cfg.Path,
		cfg:  cfg,
	}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// Foreign keys are a connection-level setting.
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations from the embedded filesystem.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// BeginTx starts a new transaction.
func (s *SQLiteStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
}

// CommitTx commits a transaction.
func (s *SQLiteStore) CommitTx(tx *sql.Tx) error {
	return tx.Commit()
}

// RollbackTx rolls back a transaction.
func (s *SQLiteStore) RollbackTx(tx *sql.Tx) error {
	return tx.Rollback()
}

// InsertAuditRecord appends an audit record. The audit table is append-only:
// no update or delete statements exist for it.
func (s *SQLiteStore) InsertAuditRecord(ctx context.Context, rec *AuditRecord) error {
	query := `
		INSERT INTO audit_events (event_id, timestamp, event_type, subsystem_id, action, context, result, error, state_snapshot)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		rec.EventID,
		rec.Timestamp,
		rec.EventType,
		rec.SubsystemID,
		rec.Action,
		rec.Context,
		rec.Result,
		rec.Error,
		rec.StateSnapshot,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit record: %w", err)
	}

	if seq, err := result.LastInsertId(); err == nil {
		rec.Seq = seq
	}
	return nil
}

// ListAuditRecords returns audit records in insertion order.
func (s *SQLiteStore) ListAuditRecords(ctx context.Context, filter AuditFilter, limit, offset int) ([]*AuditRecord, error) {
	var conditions []string
	var args []interface{}

	if filter.EventType != "" {
		conditions = append(conditions, "event_type = ?")
		args = append(args, filter.EventType)
	}
	if filter.SubsystemID != "" {
		conditions = append(conditions, "subsystem_id = ?")
		args = append(args, filter.SubsystemID)
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, filter.Since)
	}
	if !filter.Until.IsZero() {
		conditions = append(conditions, "timestamp <= ?")
		args = append(args, filter.Until)
	}

	query := `
		SELECT seq, event_id, timestamp, event_type, subsystem_id, action, context, result, error, state_snapshot
		FROM audit_events
	`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY seq ASC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit records: %w", err)
	}
	defer rows.Close()

	records := []*AuditRecord{}
	for rows.Next() {
		rec := &AuditRecord{}
		err := rows.Scan(
			&rec.Seq,
			&rec.EventID,
			&rec.Timestamp,
			&rec.EventType,
			&rec.SubsystemID,
			&rec.Action,
			&rec.Context,
			&rec.Result,
			&rec.Error,
			&rec.StateSnapshot,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit records: %w", err)
	}
	return records, nil
}

// CountAuditRecords returns the total number of audit records.
func (s *SQLiteStore) CountAuditRecords(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_events").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count audit records: %w", err)
	}
	return count, nil
}

// SaveRegistrySnapshot stores a point-in-time registry state.
func (s *SQLiteStore) SaveRegistrySnapshot(ctx context.Context, snap *RegistrySnapshot) error {
	query := `
		INSERT INTO registry_snapshots (label, taken_at, state)
		VALUES (?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query, snap.Label, snap.TakenAt, snap.State)
	if err != nil {
		return fmt.Errorf("failed to save registry snapshot: %w", err)
	}

	if id, err := result.LastInsertId(); err == nil {
		snap.ID = id
	}
	return nil
}

// GetRegistrySnapshot returns the most recent snapshot with the given label.
func (s *SQLiteStore) GetRegistrySnapshot(ctx context.Context, label string) (*RegistrySnapshot, error) {
	query := `
		SELECT id, label, taken_at, state
		FROM registry_snapshots
		WHERE label = ?
		ORDER BY id DESC
		LIMIT 1
	`

	snap := &RegistrySnapshot{}
	err := s.db.QueryRowContext(ctx, query, label).Scan(
		&snap.ID,
		&snap.Label,
		&snap.TakenAt,
		&snap.State,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("registry snapshot not found: %s", label)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get registry snapshot: %w", err)
	}

	return snap, nil
}

// ListRegistrySnapshots lists snapshots, newest first.
func (s *SQLiteStore) ListRegistrySnapshots(ctx context.Context, limit, offset int) ([]*RegistrySnapshot, error) {
	query := `
		SELECT id, label, taken_at, state
		FROM registry_snapshots
		ORDER BY id DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list registry snapshots: %w", err)
	}
	defer rows.Close()

	snaps := []*RegistrySnapshot{}
	for rows.Next() {
		snap := &RegistrySnapshot{}
		if err := rows.Scan(&snap.ID, &snap.Label, &snap.TakenAt, &snap.State); err != nil {
			return nil, fmt.Errorf("failed to scan registry snapshot: %w", err)
		}
		snaps = append(snaps, snap)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate registry snapshots: %w", err)
	}
	return snaps, nil
}

// CreateBootSession records the start of a boot session.
func (s *SQLiteStore) CreateBootSession(ctx context.Context, session *BootSession) error {
	query := `
		INSERT INTO boot_sessions (id, profile, status, started_at, completed_at, initialized, skipped, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		session.ID,
		session.Profile,
		session.Status,
		session.StartedAt,
		session.CompletedAt,
		session.Initialized,
		session.Skipped,
		session.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to create boot session: %w", err)
	}
	return nil
}

// CompleteBootSession finalizes a boot session with its outcome.
func (s *SQLiteStore) CompleteBootSession(ctx context.Context, id string, status SessionStatus, initialized, skipped int, errMsg *string) error {
	query := `
		UPDATE boot_sessions
		SET status = ?, completed_at = ?, initialized = ?, skipped = ?, error = ?
		WHERE id = ?
	`

	now := time.Now()
	result, err := s.db.ExecContext(ctx, query, status, &now, initialized, skipped, errMsg, id)
	if err != nil {
		return fmt.Errorf("failed to complete boot session: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("boot session not found: %s", id)
	}
	return nil
}

// GetBootSession retrieves a boot session by ID.
func (s *SQLiteStore) GetBootSession(ctx context.Context, id string) (*BootSession, error) {
	query := `
		SELECT id, profile, status, started_at, completed_at, initialized, skipped, error
		FROM boot_sessions
		WHERE id = ?
	`

	session := &BootSession{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&session.ID,
		&session.Profile,
		&session.Status,
		&session.StartedAt,
		&session.CompletedAt,
		&session.Initialized,
		&session.Skipped,
		&session.Error,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("boot session not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get boot session: %w", err)
	}

	return session, nil
}

// ListBootSessions lists boot sessions, newest first.
func (s *SQLiteStore) ListBootSessions(ctx context.Context, limit, offset int) ([]*BootSession, error) {
	query := `
		SELECT id, profile, status, started_at, completed_at, initialized, skipped, error
		FROM boot_sessions
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list boot sessions: %w", err)
	}
	defer rows.Close()

	sessions := []*BootSession{}
	for rows.Next() {
		session := &BootSession{}
		err := rows.Scan(
			&session.ID,
			&session.Profile,
			&session.Status,
			&session.StartedAt,
			&session.CompletedAt,
			&session.Initialized,
			&session.Skipped,
			&session.Error,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan boot session: %w", err)
		}
		sessions = append(sessions, session)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate boot sessions: %w", err)
	}
	return sessions, nil
}

// HealthCheck verifies the database connection is alive.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}
