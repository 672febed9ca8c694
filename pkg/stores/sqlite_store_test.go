package stores

import (
	"context"
	"path/filepath"
	"testing"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := Open(context.Background(), Config{
		Path:  ":memory:",
		RunID: "run-test",
	})
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	return store
}

// TestStoreLifecycle tests database initialization and closure
func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{Path: ":memory:"})
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
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("second migrate should be a no-op: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}

	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Error("expected error for empty path")
	}
}

func TestPartitionRecord(t *testing.T) {
	for name, store := range map[string]Store{
		"sqlite": setupTestStore(t),
		"memory": NewMemoryStore(),
	} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			updated, err := store.IsUpdated(ctx, "system")
			if err != nil {
				t.Fatalf("IsUpdated failed: %v", err)
			}
			if updated {
				t.Fatal("new record must be empty")
			}

			if err := store.MarkUpdated(ctx, "system"); err != nil {
				t.Fatalf("MarkUpdated failed: %v", err)
			}
			if err := store.MarkUpdated(ctx, "system"); err != nil {
				t.Fatalf("repeated MarkUpdated failed: %v", err)
			}
			if err := store.MarkUpdated(ctx, "vendor"); err != nil {
				t.Fatalf("MarkUpdated failed: %v", err)
			}
			if err := store.MarkUpdated(ctx, ""); err == nil {
				t.Error("expected error for empty partition")
			}

			updated, _ = store.IsUpdated(ctx, "system")
			if !updated {
				t.Error("system should be marked")
			}
			updated, _ = store.IsUpdated(ctx, "boot")
			if updated {
				t.Error("boot should not be marked")
			}

			entries, err := store.ListUpdated(ctx)
			if err != nil {
				t.Fatalf("ListUpdated failed: %v", err)
			}
			if len(entries) != 2 {
				t.Fatalf("expected 2 entries, got %d", len(entries))
			}

			if err := store.ClearRecord(ctx); err != nil {
				t.Fatalf("ClearRecord failed: %v", err)
			}
			entries, _ = store.ListUpdated(ctx)
			if len(entries) != 0 {
				t.Errorf("expected empty record, got %d entries", len(entries))
			}
		})
	}
}

func TestPartitionRecordSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "record.db")

	store, err := Open(ctx, Config{Path: path})
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	if err := store.MarkUpdated(ctx, "system"); err != nil {
		t.Fatalf("MarkUpdated failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := Open(ctx, Config{Path: path})
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer reopened.Close()

	updated, err := reopened.IsUpdated(ctx, "system")
	if err != nil {
		t.Fatalf("IsUpdated failed: %v", err)
	}
	if !updated {
		t.Error("mark must survive a reopen")
	}
}

func TestFailureLog(t *testing.T) {
	for name, store := range map[string]Store{
		"sqlite": setupTestStore(t),
		"memory": NewMemoryStore(),
	} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			first := &Failure{
				Instruction: "image_patch",
				Partition:   "system",
				Stage:       "apply",
				Status:      "ExecutionFailed",
				Message:     "patch apply failed",
				CodecError:  "corrupt patch",
			}
			second := &Failure{
				Instruction: "image_patch",
				Partition:   "vendor",
				Stage:       "verify",
				Status:      "IntegrityMismatch",
				Message:     "content hash mismatch",
			}
			for _, f := range []*Failure{first, second} {
				if err := store.RecordFailure(ctx, f); err != nil {
					t.Fatalf("RecordFailure failed: %v", err)
				}
				if f.ID == 0 {
					t.Error("expected failure id to be set")
				}
			}

			failures, err := store.ListFailures(ctx, 0)
			if err != nil {
				t.Fatalf("ListFailures failed: %v", err)
			}
			if len(failures) != 2 {
				t.Fatalf("expected 2 failures, got %d", len(failures))
			}
			if failures[0].Partition != "vendor" || failures[1].CodecError != "corrupt patch" {
				t.Errorf("unexpected failure order or content: %+v %+v", failures[0], failures[1])
			}

			limited, _ := store.ListFailures(ctx, 1)
			if len(limited) != 1 {
				t.Errorf("expected 1 failure with limit, got %d", len(limited))
			}
		})
	}
}
