package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/Felyppe1/certmill/internal/interfaces"
	"github.com/Felyppe1/certmill/internal/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

type emissionStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewEmissionStorage creates a badgerhold-backed emission store.
func NewEmissionStorage(db *BadgerDB, logger arbor.ILogger) interfaces.EmissionStorage {
	return &emissionStorage{db: db, logger: logger}
}

func (s *emissionStorage) SaveEmission(ctx context.Context, emission *models.CertificateEmission) error {
	if emission.ID == "" {
		return fmt.Errorf("emission ID cannot be empty")
	}

	emission.UpdatedAt = time.Now()
	if emission.CreatedAt.IsZero() {
		emission.CreatedAt = emission.UpdatedAt
	}

	if err := s.db.Store().Upsert(emission.ID, emission); err != nil {
		return fmt.Errorf("failed to save emission: %w", err)
	}
	return nil
}

func (s *emissionStorage) GetEmission(ctx context.Context, emissionID string) (*models.CertificateEmission, error) {
	var emission models.CertificateEmission
	err := s.db.Store().Get(emissionID, &emission)
	if err == badgerhold.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get emission: %w", err)
	}
	if emission.DeletedAt != nil {
		return nil, ErrNotFound
	}
	return &emission, nil
}

func (s *emissionStorage) ListEmissions(ctx context.Context, userID string, limit, offset int) ([]*models.CertificateEmission, error) {
	query := badgerhold.Where("UserID").Eq(userID).Index("UserID").
		SortBy("CreatedAt").Reverse()
	if offset > 0 {
		query = query.Skip(offset)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var emissions []*models.CertificateEmission
	if err := s.db.Store().Find(&emissions, query); err != nil {
		return nil, fmt.Errorf("failed to list emissions: %w", err)
	}

	// Soft-deleted emissions stay on disk until the purge job runs.
	active := make([]*models.CertificateEmission, 0, len(emissions))
	for _, e := range emissions {
		if e.DeletedAt == nil {
			active = append(active, e)
		}
	}
	return active, nil
}

func (s *emissionStorage) DeleteEmission(ctx context.Context, emissionID string) error {
	var emission models.CertificateEmission
	err := s.db.Store().Get(emissionID, &emission)
	if err == badgerhold.ErrNotFound {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to get emission: %w", err)
	}

	now := time.Now()
	emission.DeletedAt = &now
	emission.UpdatedAt = now

	if err := s.db.Store().Update(emissionID, &emission); err != nil {
		return fmt.Errorf("failed to delete emission: %w", err)
	}
	return nil
}

func (s *emissionStorage) CountEmissions(ctx context.Context, userID string) (int, error) {
	count, err := s.db.Store().Count(&models.CertificateEmission{},
		badgerhold.Where("UserID").Eq(userID).Index("UserID"))
	if err != nil {
		return 0, fmt.Errorf("failed to count emissions: %w", err)
	}
	return int(count), nil
}

// PurgeDeletedBefore hard-deletes emissions soft-deleted more than the given
// number of days ago. Filtering runs in Go because badgerhold cannot compare
// nullable time fields in a query.
func (s *emissionStorage) PurgeDeletedBefore(ctx context.Context, days int) (int, error) {
	var emissions []*models.CertificateEmission
	if err := s.db.Store().Find(&emissions, nil); err != nil {
		return 0, fmt.Errorf("failed to scan emissions: %w", err)
	}

	cutoff := time.Now().AddDate(0, 0, -days)
	purged := 0
	for _, e := range emissions {
		if e.DeletedAt == nil || e.DeletedAt.After(cutoff) {
			continue
		}
		if err := s.db.Store().Delete(e.ID, &models.CertificateEmission{}); err != nil {
			s.logger.Warn().Err(err).Str("emission_id", e.ID).Msg("Failed to purge emission")
			continue
		}
		purged++
	}
	return purged, nil
}
