// Package maintenance runs scheduled housekeeping: Badger value log GC and
// purging of soft-deleted emissions past retention.
package maintenance

import (
	"context"
	"fmt"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/Felyppe1/certmill/internal/common"
	"github.com/Felyppe1/certmill/internal/interfaces"
)

// Service owns the maintenance cron schedule.
type Service struct {
	config  *common.MaintenanceConfig
	storage interfaces.StorageManager
	cron    *cron.Cron
	logger  arbor.ILogger
}

// NewService wires the maintenance service. Call Start to begin scheduling.
func NewService(config *common.MaintenanceConfig, storage interfaces.StorageManager, logger arbor.ILogger) *Service {
	return &Service{
		config:  config,
		storage: storage,
		cron:    cron.New(cron.WithSeconds()),
		logger:  logger,
	}
}

// Start registers the maintenance job and starts the scheduler.
func (s *Service) Start() error {
	if !s.config.Enabled {
		s.logger.Info().Msg("Maintenance service disabled")
		return nil
	}

	_, err := s.cron.AddFunc(s.config.Schedule, s.runOnce)
	if err != nil {
		return fmt.Errorf("invalid maintenance schedule %q: %w", s.config.Schedule, err)
	}

	s.cron.Start()
	s.logger.Info().Str("schedule", s.config.Schedule).Msg("Maintenance service started")
	return nil
}

// Stop halts the scheduler and waits for a running job to finish.
func (s *Service) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Debug().Msg("Maintenance service stopped")
}

func (s *Service) runOnce() {
	s.logger.Debug().Msg("Running maintenance pass")

	if s.config.RetentionDays > 0 {
		purged, err := s.storage.EmissionStorage().PurgeDeletedBefore(context.Background(), s.config.RetentionDays)
		if err != nil {
			s.logger.Error().Err(err).Msg("Failed to purge deleted emissions")
		} else if purged > 0 {
			s.logger.Info().Int("purged", purged).Msg("Purged deleted emissions")
		}
	}

	// Loop until Badger reports nothing left to rewrite.
	for {
		err := s.storage.RunValueLogGC()
		if err == badgerdb.ErrNoRewrite {
			break
		}
		if err != nil {
			s.logger.Warn().Err(err).Msg("Value log GC failed")
			break
		}
	}
}
