package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/Felyppe1/certmill/internal/interfaces"
	"github.com/Felyppe1/certmill/internal/models"
)

type emailStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewEmailStorage creates a badgerhold-backed email run store.
func NewEmailStorage(db *BadgerDB, logger arbor.ILogger) interfaces.EmailStorage {
	return &emailStorage{db: db, logger: logger}
}

func (s *emailStorage) SaveEmailRun(ctx context.Context, run *models.EmailRun) error {
	if run.ID == "" {
		return fmt.Errorf("email run ID cannot be empty")
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}
	if err := s.db.Store().Upsert(run.ID, run); err != nil {
		return fmt.Errorf("failed to save email run: %w", err)
	}
	return nil
}

func (s *emailStorage) GetEmailRun(ctx context.Context, runID string) (*models.EmailRun, error) {
	var run models.EmailRun
	err := s.db.Store().Get(runID, &run)
	if err == badgerhold.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get email run: %w", err)
	}
	return &run, nil
}

func (s *emailStorage) ListEmailRuns(ctx context.Context, emissionID string) ([]*models.EmailRun, error) {
	var runs []*models.EmailRun
	query := badgerhold.Where("EmissionID").Eq(emissionID).Index("EmissionID").
		SortBy("CreatedAt").Reverse()
	if err := s.db.Store().Find(&runs, query); err != nil {
		return nil, fmt.Errorf("failed to list email runs: %w", err)
	}
	return runs, nil
}
