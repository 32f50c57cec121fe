package badger

import (
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/Felyppe1/certmill/internal/common"
	"github.com/Felyppe1/certmill/internal/interfaces"
)

// Manager owns the Badger connection and the typed stores built on it.
type Manager struct {
	db              *BadgerDB
	logger          arbor.ILogger
	emissionStorage interfaces.EmissionStorage
	rowStorage      interfaces.RowStorage
	emailStorage    interfaces.EmailStorage
}

// NewManager opens the database and wires up the typed stores.
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (*Manager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize badger database: %w", err)
	}

	return &Manager{
		db:              db,
		logger:          logger,
		emissionStorage: NewEmissionStorage(db, logger),
		rowStorage:      NewRowStorage(db, logger),
		emailStorage:    NewEmailStorage(db, logger),
	}, nil
}

func (m *Manager) EmissionStorage() interfaces.EmissionStorage {
	return m.emissionStorage
}

func (m *Manager) RowStorage() interfaces.RowStorage {
	return m.rowStorage
}

func (m *Manager) EmailStorage() interfaces.EmailStorage {
	return m.emailStorage
}

// RunValueLogGC reclaims space in the Badger value log. Badger only
// rewrites a log file when at least half of it is stale, so a
// badger.ErrNoRewrite result is normal for callers to tolerate.
func (m *Manager) RunValueLogGC() error {
	return m.db.Store().Badger().RunValueLogGC(0.5)
}

// Close closes the underlying database connection.
func (m *Manager) Close() error {
	m.logger.Debug().Msg("Closing storage manager")
	return m.db.Close()
}
