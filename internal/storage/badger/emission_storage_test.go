package badger

import (
	"context"
	"os"
	"testing"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/Felyppe1/certmill/internal/common"
	"github.com/Felyppe1/certmill/internal/models"
)

func newTestEmissionStorage(t *testing.T) *emissionStorage {
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
	return NewEmissionStorage(db, arbor.NewLogger()).(*emissionStorage)
}

func seedEmissions(t *testing.T, storage *emissionStorage, userID string, n int) []string {
	t.Helper()

	ids := make([]string, n)
	for i := 0; i < n; i++ {
		emission := &models.CertificateEmission{
			ID:     common.NewEmissionID(),
			Name:   "Emission",
			UserID: userID,
		}
		if err := storage.SaveEmission(context.Background(), emission); err != nil {
			t.Fatalf("Failed to seed emission: %v", err)
		}
		ids[i] = emission.ID
	}
	return ids
}

func TestCountEmissionsPerUser(t *testing.T) {
	storage := newTestEmissionStorage(t)
	ctx := context.Background()

	seedEmissions(t, storage, "user-a", 3)
	seedEmissions(t, storage, "user-b", 1)

	count, err := storage.CountEmissions(ctx, "user-a")
	if err != nil {
		t.Fatalf("CountEmissions failed: %v", err)
	}
	if count != 3 {
		t.Errorf("Expected 3 emissions for user-a, got %d", count)
	}

	count, err = storage.CountEmissions(ctx, "user-nobody")
	if err != nil {
		t.Fatalf("CountEmissions failed: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected 0 emissions for unknown user, got %d", count)
	}
}

func TestDeleteEmissionHidesRecord(t *testing.T) {
	storage := newTestEmissionStorage(t)
	ctx := context.Background()

	ids := seedEmissions(t, storage, "user-a", 2)

	if err := storage.DeleteEmission(ctx, ids[0]); err != nil {
		t.Fatalf("DeleteEmission failed: %v", err)
	}

	if _, err := storage.GetEmission(ctx, ids[0]); err != ErrNotFound {
		t.Errorf("Expected ErrNotFound for deleted emission, got %v", err)
	}

	emissions, err := storage.ListEmissions(ctx, "user-a", 0, 0)
	if err != nil {
		t.Fatalf("ListEmissions failed: %v", err)
	}
	if len(emissions) != 1 {
		t.Errorf("Expected 1 listed emission after delete, got %d", len(emissions))
	}
}
