package interfaces

import (
	"context"

	"github.com/Felyppe1/certmill/internal/models"
)

// EmissionStorage persists certificate emissions.
type EmissionStorage interface {
	SaveEmission(ctx context.Context, emission *models.CertificateEmission) error
	GetEmission(ctx context.Context, emissionID string) (*models.CertificateEmission, error)
	ListEmissions(ctx context.Context, userID string, limit, offset int) ([]*models.CertificateEmission, error)
	DeleteEmission(ctx context.Context, emissionID string) error
	CountEmissions(ctx context.Context, userID string) (int, error)
	PurgeDeletedBefore(ctx context.Context, days int) (int, error)
}

// RowStorage is the job record store: durable per-row processing state.
//
// Bulk transitions happen inside a single store transaction, and single-row
// transitions are conditional on the row's current status, so concurrent
// writers of the same row cannot both apply a transition.
type RowStorage interface {
	// ReplaceRows atomically swaps the full row set of an emission.
	ReplaceRows(ctx context.Context, emissionID string, rows []*models.DataSourceRow) error

	GetRow(ctx context.Context, rowID string) (*models.DataSourceRow, error)
	GetRowsByEmission(ctx context.Context, emissionID string) ([]*models.DataSourceRow, error)
	GetRowsByStatus(ctx context.Context, emissionID string, status models.ProcessingStatus) ([]*models.DataSourceRow, error)

	// CountByStatus returns row counts keyed by status without loading rows.
	CountByStatus(ctx context.Context, emissionID string) (models.StatusCounts, error)

	// TransitionAll moves every row of the emission currently in from to to,
	// in one transaction, and returns the ids of the rows transitioned.
	TransitionAll(ctx context.Context, emissionID string, from, to models.ProcessingStatus) ([]string, error)

	// TransitionRows moves the given rows from from to to in one transaction.
	// Used for compensating reverts after a dispatch failure.
	TransitionRows(ctx context.Context, rowIDs []string, from, to models.ProcessingStatus) error

	// TransitionRow conditionally moves a single row into to if its current
	// status is one of from. Returns false without error when the
	// precondition does not hold (e.g. a duplicate completion callback).
	// outputByteSize is stored when non-nil.
	TransitionRow(ctx context.Context, rowID string, from []models.ProcessingStatus, to models.ProcessingStatus, outputByteSize *int64) (bool, error)

	// ResetRows returns every row of the emission to PENDING and clears
	// output sizes. Invoked when the template or data source is edited.
	ResetRows(ctx context.Context, emissionID string) error

	DeleteRowsByEmission(ctx context.Context, emissionID string) error
}

// EmailStorage persists email sending runs.
type EmailStorage interface {
	SaveEmailRun(ctx context.Context, run *models.EmailRun) error
	GetEmailRun(ctx context.Context, runID string) (*models.EmailRun, error)
	ListEmailRuns(ctx context.Context, emissionID string) ([]*models.EmailRun, error)
}

// StorageManager provides access to all storage interfaces
type StorageManager interface {
	EmissionStorage() EmissionStorage
	RowStorage() RowStorage
	EmailStorage() EmailStorage

	// RunValueLogGC triggers Badger value log garbage collection.
	RunValueLogGC() error

	Close() error
}
