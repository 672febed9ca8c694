package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db    *sql.DB
	path  string
	runID string
}

// Config holds SQLite store configuration.
type Config struct {
	// Path is the database file, or ":memory:".
	Path string

	// RunID tags rows written by this process.
	RunID string
}

// NewSQLiteStore creates a new SQLite store instance.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	return &SQLiteStore{
		path:  cfg.Path,
		runID: cfg.RunID,
	}, nil
}

// Init opens the database with WAL journaling and full synchronous commits.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection keeps ":memory:" databases coherent and serializes
	// record writes.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
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

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// IsUpdated reports whether the partition is in the Partition Record.
func (s *SQLiteStore) IsUpdated(ctx context.Context, partition string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM partition_record WHERE name = ?`, partition).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to query partition record: %w", err)
	}
	return count > 0, nil
}

// MarkUpdated adds the partition to the Partition Record. The write is
// committed before MarkUpdated returns.
func (s *SQLiteStore) MarkUpdated(ctx context.Context, partition string) error {
	if partition == "" {
		return fmt.Errorf("partition name is required")
	}

	query := `
		INSERT INTO partition_record (name, run_id, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET run_id = excluded.run_id, updated_at = excluded.updated_at
	`
	if _, err := s.db.ExecContext(ctx, query, partition, s.runID, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("failed to mark partition updated: %w", err)
	}
	return nil
}

// ListUpdated returns the Partition Record ordered by update time.
func (s *SQLiteStore) ListUpdated(ctx context.Context) ([]*PartitionEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, run_id, updated_at FROM partition_record ORDER BY updated_at, name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list partition record: %w", err)
	}
	defer rows.Close()

	var entries []*PartitionEntry
	for rows.Next() {
		var entry PartitionEntry
		var updatedAt int64
		if err := rows.Scan(&entry.Partition, &entry.RunID, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan partition record: %w", err)
		}
		entry.UpdatedAt = time.UnixMilli(updatedAt)
		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}

// ClearRecord empties the Partition Record.
func (s *SQLiteStore) ClearRecord(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM partition_record`); err != nil {
		return fmt.Errorf("failed to clear partition record: %w", err)
	}
	return nil
}

// RecordFailure appends a failure to the failure log.
func (s *SQLiteStore) RecordFailure(ctx context.Context, failure *Failure) error {
	if failure.CreatedAt.IsZero() {
		failure.CreatedAt = time.Now()
	}
	if failure.RunID == "" {
		failure.RunID = s.runID
	}

	query := `
		INSERT INTO failures (run_id, instruction, partition_name, stage, status, message, codec_error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query,
		failure.RunID,
		failure.Instruction,
		failure.Partition,
		failure.Stage,
		failure.Status,
		failure.Message,
		failure.CodecError,
		failure.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to record failure: %w", err)
	}

	id, err := result.LastInsertId()
	if err == nil {
		failure.ID = id
	}
	return nil
}

// ListFailures returns the most recent failures first. A non-positive limit
// returns every failure.
func (s *SQLiteStore) ListFailures(ctx context.Context, limit int) ([]*Failure, error) {
	if limit <= 0 {
		limit = -1
	}

	query := `
		SELECT id, run_id, instruction, partition_name, stage, status, message, codec_error, created_at
		FROM failures
		ORDER BY id DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list failures: %w", err)
	}
	defer rows.Close()

	var failures []*Failure
	for rows.Next() {
		var f Failure
		var createdAt int64
		err := rows.Scan(&f.ID, &f.RunID, &f.Instruction, &f.Partition, &f.Stage,
			&f.Status, &f.Message, &f.CodecError, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan failure: %w", err)
		}
		f.CreatedAt = time.UnixMilli(createdAt)
		failures = append(failures, &f)
	}

	return failures, rows.Err()
}

// HealthCheck verifies the database connection.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}

// Open creates, initializes and migrates a SQLite store.
func Open(ctx context.Context, cfg Config) (*SQLiteStore, error) {
	store, err := NewSQLiteStore(cfg)
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}
