package stores

import (
	"context"
	"time"
)

// PartitionEntry is one row of the Partition Record.
type PartitionEntry struct {
	Partition string    `json:"partition"`
	RunID     string    `json:"run_id,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Failure is a diagnostic record of a failed partition operation.
type Failure struct {
	ID          int64     `json:"id"`
	RunID       string    `json:"run_id,omitempty"`
	Instruction string    `json:"instruction"`
	Partition   string    `json:"partition"`
	Stage       string    `json:"stage"`
	Status      string    `json:"status"`
	Message     string    `json:"message"`
	CodecError  string    `json:"codec_error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// PartitionRecord marks partitions as updated. MarkUpdated must be durable
// when it returns.
type PartitionRecord interface {
	IsUpdated(ctx context.Context, partition string) (bool, error)
	MarkUpdated(ctx context.Context, partition string) error
}

// FailureLog durably records failure context.
type FailureLog interface {
	RecordFailure(ctx context.Context, failure *Failure) error
}

// Store is the full persistence interface of the updater.
type Store interface {
	PartitionRecord
	FailureLog

	// Init opens the store.
	Init(ctx context.Context) error

	// Migrate brings the schema up to date.
	Migrate(ctx context.Context) error

	// ListUpdated returns the Partition Record ordered by update time.
	ListUpdated(ctx context.Context) ([]*PartitionEntry, error)

	// ClearRecord empties the Partition Record.
	ClearRecord(ctx context.Context) error

	// ListFailures returns the most recent failures first.
	ListFailures(ctx context.Context, limit int) ([]*Failure, error)

	// HealthCheck verifies the store is usable.
	HealthCheck(ctx context.Context) error

	// Close releases the store.
	Close() error
}
