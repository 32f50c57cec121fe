package badger

import (
	"context"
	"fmt"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/Felyppe1/certmill/internal/interfaces"
	"github.com/Felyppe1/certmill/internal/models"
)

type rowStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewRowStorage creates a badgerhold-backed data source row store.
func NewRowStorage(db *BadgerDB, logger arbor.ILogger) interfaces.RowStorage {
	return &rowStorage{db: db, logger: logger}
}

func (s *rowStorage) ReplaceRows(ctx context.Context, emissionID string, rows []*models.DataSourceRow) error {
	now := time.Now()
	err := s.db.Store().Badger().Update(func(tx *badgerdb.Txn) error {
		err := s.db.Store().TxDeleteMatching(tx, &models.DataSourceRow{},
			badgerhold.Where("EmissionID").Eq(emissionID).Index("EmissionID"))
		if err != nil && err != badgerhold.ErrNotFound {
			return err
		}
		for _, row := range rows {
			row.EmissionID = emissionID
			if row.CreatedAt.IsZero() {
				row.CreatedAt = now
			}
			row.UpdatedAt = now
			if err := s.db.Store().TxInsert(tx, row.ID, row); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to replace rows: %w", err)
	}
	return nil
}

func (s *rowStorage) GetRow(ctx context.Context, rowID string) (*models.DataSourceRow, error) {
	var row models.DataSourceRow
	err := s.db.Store().Get(rowID, &row)
	if err == badgerhold.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get row: %w", err)
	}
	return &row, nil
}

func (s *rowStorage) GetRowsByEmission(ctx context.Context, emissionID string) ([]*models.DataSourceRow, error) {
	var rows []*models.DataSourceRow
	query := badgerhold.Where("EmissionID").Eq(emissionID).Index("EmissionID").
		SortBy("CreatedAt")
	if err := s.db.Store().Find(&rows, query); err != nil {
		return nil, fmt.Errorf("failed to get rows: %w", err)
	}
	return rows, nil
}

func (s *rowStorage) GetRowsByStatus(ctx context.Context, emissionID string, status models.ProcessingStatus) ([]*models.DataSourceRow, error) {
	var rows []*models.DataSourceRow
	query := badgerhold.Where("EmissionID").Eq(emissionID).Index("EmissionID").
		And("Status").Eq(status).
		SortBy("CreatedAt")
	if err := s.db.Store().Find(&rows, query); err != nil {
		return nil, fmt.Errorf("failed to get rows by status: %w", err)
	}
	return rows, nil
}

func (s *rowStorage) CountByStatus(ctx context.Context, emissionID string) (models.StatusCounts, error) {
	counts := models.StatusCounts{}

	// One Count query per status; BadgerHold has no aggregation support.
	statuses := []models.ProcessingStatus{
		models.StatusPending,
		models.StatusRunning,
		models.StatusRetrying,
		models.StatusCompleted,
		models.StatusFailed,
	}

	for _, status := range statuses {
		count, err := s.db.Store().Count(&models.DataSourceRow{},
			badgerhold.Where("EmissionID").Eq(emissionID).Index("EmissionID").
				And("Status").Eq(status))
		if err != nil {
			return counts, fmt.Errorf("failed to count rows with status %s: %w", status, err)
		}
		counts[status] = int(count)
	}

	return counts, nil
}

func (s *rowStorage) TransitionAll(ctx context.Context, emissionID string, from, to models.ProcessingStatus) ([]string, error) {
	now := time.Now()
	var transitioned []string

	// UpdateMatching runs inside a single Badger transaction, so the whole
	// batch flips together or not at all.
	err := s.db.Store().UpdateMatching(&models.DataSourceRow{},
		badgerhold.Where("EmissionID").Eq(emissionID).Index("EmissionID").
			And("Status").Eq(from),
		func(record interface{}) error {
			row, ok := record.(*models.DataSourceRow)
			if !ok {
				return fmt.Errorf("unexpected record type %T", record)
			}
			row.Status = to
			row.UpdatedAt = now
			transitioned = append(transitioned, row.ID)
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("failed to transition rows: %w", err)
	}
	return transitioned, nil
}

func (s *rowStorage) TransitionRows(ctx context.Context, rowIDs []string, from, to models.ProcessingStatus) error {
	if len(rowIDs) == 0 {
		return nil
	}

	keys := make([]interface{}, len(rowIDs))
	for i, id := range rowIDs {
		keys[i] = id
	}

	now := time.Now()
	err := s.db.Store().UpdateMatching(&models.DataSourceRow{},
		badgerhold.Where(badgerhold.Key).In(keys...).
			And("Status").Eq(from),
		func(record interface{}) error {
			row, ok := record.(*models.DataSourceRow)
			if !ok {
				return fmt.Errorf("unexpected record type %T", record)
			}
			row.Status = to
			row.UpdatedAt = now
			return nil
		})
	if err != nil {
		return fmt.Errorf("failed to transition rows: %w", err)
	}
	return nil
}

func (s *rowStorage) TransitionRow(ctx context.Context, rowID string, from []models.ProcessingStatus, to models.ProcessingStatus, outputByteSize *int64) (bool, error) {
	allowed := make([]interface{}, len(from))
	for i, status := range from {
		allowed[i] = status
	}

	updated := false
	// The status check and the write share one transaction, which is what
	// makes duplicate completion callbacks a no-op instead of a double apply.
	err := s.db.Store().UpdateMatching(&models.DataSourceRow{},
		badgerhold.Where(badgerhold.Key).Eq(rowID).
			And("Status").In(allowed...),
		func(record interface{}) error {
			row, ok := record.(*models.DataSourceRow)
			if !ok {
				return fmt.Errorf("unexpected record type %T", record)
			}
			row.Status = to
			if outputByteSize != nil {
				row.OutputByteSize = outputByteSize
			}
			row.UpdatedAt = time.Now()
			updated = true
			return nil
		})
	if err != nil {
		return false, fmt.Errorf("failed to transition row: %w", err)
	}
	return updated, nil
}

func (s *rowStorage) ResetRows(ctx context.Context, emissionID string) error {
	now := time.Now()
	err := s.db.Store().UpdateMatching(&models.DataSourceRow{},
		badgerhold.Where("EmissionID").Eq(emissionID).Index("EmissionID"),
		func(record interface{}) error {
			row, ok := record.(*models.DataSourceRow)
			if !ok {
				return fmt.Errorf("unexpected record type %T", record)
			}
			row.Status = models.StatusPending
			row.OutputByteSize = nil
			row.UpdatedAt = now
			return nil
		})
	if err != nil {
		return fmt.Errorf("failed to reset rows: %w", err)
	}
	return nil
}

func (s *rowStorage) DeleteRowsByEmission(ctx context.Context, emissionID string) error {
	err := s.db.Store().DeleteMatching(&models.DataSourceRow{},
		badgerhold.Where("EmissionID").Eq(emissionID).Index("EmissionID"))
	if err != nil && err != badgerhold.ErrNotFound {
		return fmt.Errorf("failed to delete rows: %w", err)
	}
	return nil
}
