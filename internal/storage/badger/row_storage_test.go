package badger

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/Felyppe1/certmill/internal/common"
	"github.com/Felyppe1/certmill/internal/models"
)

func newTestRowStorage(t *testing.T) *rowStorage {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "badger-test")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	options := badgerhold.DefaultOptions
	options.Dir = tmpDir
	options.ValueDir = tmpDir
	options.Logger = nil

	store, err := badgerhold.Open(options)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	db := &BadgerDB{store: store}
	return NewRowStorage(db, arbor.NewLogger()).(*rowStorage)
}

func seedRows(t *testing.T, storage *rowStorage, emissionID string, statuses []models.ProcessingStatus) []string {
	t.Helper()

	rows := make([]*models.DataSourceRow, len(statuses))
	ids := make([]string, len(statuses))
	for i, status := range statuses {
		rows[i] = &models.DataSourceRow{
			ID:         common.NewRowID(),
			EmissionID: emissionID,
			Data:       map[string]string{"name": "Row"},
			Status:     status,
			CreatedAt:  time.Now(),
		}
		ids[i] = rows[i].ID
	}
	if err := storage.ReplaceRows(context.Background(), emissionID, rows); err != nil {
		t.Fatalf("Failed to seed rows: %v", err)
	}
	return ids
}

func TestTransitionAllMovesOnlyMatchingStatus(t *testing.T) {
	storage := newTestRowStorage(t)
	ctx := context.Background()

	ids := seedRows(t, storage, "em_test", []models.ProcessingStatus{
		models.StatusPending,
		models.StatusPending,
		models.StatusCompleted,
		models.StatusFailed,
	})

	moved, err := storage.TransitionAll(ctx, "em_test", models.StatusPending, models.StatusRunning)
	if err != nil {
		t.Fatalf("TransitionAll failed: %v", err)
	}
	if len(moved) != 2 {
		t.Errorf("Expected 2 transitioned rows, got %d", len(moved))
	}

	counts, err := storage.CountByStatus(ctx, "em_test")
	if err != nil {
		t.Fatalf("CountByStatus failed: %v", err)
	}
	if counts[models.StatusRunning] != 2 || counts[models.StatusCompleted] != 1 ||
		counts[models.StatusFailed] != 1 || counts[models.StatusPending] != 0 {
		t.Errorf("Unexpected counts after transition: %+v", counts)
	}

	// The completed and failed rows must be untouched.
	row, err := storage.GetRow(ctx, ids[2])
	if err != nil {
		t.Fatalf("GetRow failed: %v", err)
	}
	if row.Status != models.StatusCompleted {
		t.Errorf("Expected completed row to stay completed, got %s", row.Status)
	}
}

func TestTransitionRowIsConditional(t *testing.T) {
	storage := newTestRowStorage(t)
	ctx := context.Background()

	ids := seedRows(t, storage, "em_cond", []models.ProcessingStatus{models.StatusRunning})
	size := int64(2048)

	applied, err := storage.TransitionRow(ctx, ids[0],
		[]models.ProcessingStatus{models.StatusRunning, models.StatusRetrying},
		models.StatusCompleted, &size)
	if err != nil {
		t.Fatalf("TransitionRow failed: %v", err)
	}
	if !applied {
		t.Fatal("Expected first transition to apply")
	}

	// A second identical call must be a no-op: the row is already terminal.
	applied, err = storage.TransitionRow(ctx, ids[0],
		[]models.ProcessingStatus{models.StatusRunning, models.StatusRetrying},
		models.StatusCompleted, &size)
	if err != nil {
		t.Fatalf("TransitionRow failed: %v", err)
	}
	if applied {
		t.Error("Expected duplicate transition to be rejected")
	}

	row, err := storage.GetRow(ctx, ids[0])
	if err != nil {
		t.Fatalf("GetRow failed: %v", err)
	}
	if row.Status != models.StatusCompleted {
		t.Errorf("Expected status COMPLETED, got %s", row.Status)
	}
	if row.OutputByteSize == nil || *row.OutputByteSize != 2048 {
		t.Errorf("Expected output byte size 2048, got %v", row.OutputByteSize)
	}
}

func TestTransitionRowsRevertsBatch(t *testing.T) {
	storage := newTestRowStorage(t)
	ctx := context.Background()

	ids := seedRows(t, storage, "em_revert", []models.ProcessingStatus{
		models.StatusRunning,
		models.StatusRunning,
		models.StatusCompleted,
	})

	// Compensating revert after a failed dispatch: only the rows we flipped
	// to RUNNING go back to PENDING.
	if err := storage.TransitionRows(ctx, ids[:2], models.StatusRunning, models.StatusPending); err != nil {
		t.Fatalf("TransitionRows failed: %v", err)
	}

	counts, err := storage.CountByStatus(ctx, "em_revert")
	if err != nil {
		t.Fatalf("CountByStatus failed: %v", err)
	}
	if counts[models.StatusPending] != 2 || counts[models.StatusCompleted] != 1 {
		t.Errorf("Unexpected counts after revert: %+v", counts)
	}
}

func TestResetRowsClearsOutput(t *testing.T) {
	storage := newTestRowStorage(t)
	ctx := context.Background()

	ids := seedRows(t, storage, "em_reset", []models.ProcessingStatus{models.StatusRunning})
	size := int64(100)
	if _, err := storage.TransitionRow(ctx, ids[0],
		[]models.ProcessingStatus{models.StatusRunning}, models.StatusCompleted, &size); err != nil {
		t.Fatalf("TransitionRow failed: %v", err)
	}

	if err := storage.ResetRows(ctx, "em_reset"); err != nil {
		t.Fatalf("ResetRows failed: %v", err)
	}

	row, err := storage.GetRow(ctx, ids[0])
	if err != nil {
		t.Fatalf("GetRow failed: %v", err)
	}
	if row.Status != models.StatusPending {
		t.Errorf("Expected status PENDING after reset, got %s", row.Status)
	}
	if row.OutputByteSize != nil {
		t.Errorf("Expected output byte size cleared, got %v", row.OutputByteSize)
	}
}

func TestReplaceRowsSwapsRowSet(t *testing.T) {
	storage := newTestRowStorage(t)
	ctx := context.Background()

	seedRows(t, storage, "em_swap", []models.ProcessingStatus{
		models.StatusCompleted,
		models.StatusFailed,
	})
	seedRows(t, storage, "em_swap", []models.ProcessingStatus{
		models.StatusPending,
		models.StatusPending,
		models.StatusPending,
	})

	rows, err := storage.GetRowsByEmission(ctx, "em_swap")
	if err != nil {
		t.Fatalf("GetRowsByEmission failed: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("Expected 3 rows after replace, got %d", len(rows))
	}
	for _, row := range rows {
		if row.Status != models.StatusPending {
			t.Errorf("Expected replaced row to be PENDING, got %s", row.Status)
		}
	}
}
