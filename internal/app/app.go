// Package app wires configuration, storage, services and handlers together.
package app

import (
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/Felyppe1/certmill/internal/common"
	"github.com/Felyppe1/certmill/internal/handlers"
	"github.com/Felyppe1/certmill/internal/interfaces"
	"github.com/Felyppe1/certmill/internal/services/dispatch"
	"github.com/Felyppe1/certmill/internal/services/generation"
	"github.com/Felyppe1/certmill/internal/services/mailer"
	"github.com/Felyppe1/certmill/internal/services/maintenance"
	"github.com/Felyppe1/certmill/internal/services/progress"
	"github.com/Felyppe1/certmill/internal/services/serviceauth"
	"github.com/Felyppe1/certmill/internal/storage/badger"
)

// App holds all application dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	StorageManager  interfaces.StorageManager
	Broker          interfaces.ProgressBroker
	Processor       interfaces.ExternalProcessor
	Orchestrator    *generation.Orchestrator
	MailRunner      *mailer.Runner
	Maintenance     *maintenance.Service
	ServiceVerifier *serviceauth.Verifier

	APIHandler        *handlers.APIHandler
	EmissionHandler   *handlers.EmissionHandler
	GenerationHandler *handlers.GenerationHandler
	EventsHandler     *handlers.EventsHandler
	WSHandler         *handlers.WebSocketHandler
}

// New creates the application with all dependencies wired
func New(config *common.Config, logger arbor.ILogger) (*App, error) {
	a := &App{
		Config: config,
		Logger: logger,
	}

	storageManager, err := badger.NewManager(logger, &config.Storage.Badger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.StorageManager = storageManager

	a.Broker = progress.NewBroker(logger)

	tokens := dispatch.NewIdentityTokenSource(config.Dispatch.IdentityURL, config.Dispatch.TokenAudience())
	a.Processor = dispatch.NewClient(&config.Dispatch, tokens, logger)

	a.Orchestrator = generation.NewOrchestrator(
		storageManager.EmissionStorage(),
		storageManager.RowStorage(),
		a.Processor,
		a.Broker,
		logger,
	)

	smtpMailer := mailer.NewService(&config.Mailer, logger)
	a.MailRunner = mailer.NewRunner(
		storageManager.EmissionStorage(),
		storageManager.RowStorage(),
		storageManager.EmailStorage(),
		smtpMailer,
		a.Broker,
		logger,
	)

	a.ServiceVerifier, err = serviceauth.NewVerifier(&config.ServiceAuth, logger)
	if err != nil {
		storageManager.Close()
		return nil, fmt.Errorf("failed to initialize service auth: %w", err)
	}

	a.Maintenance = maintenance.NewService(&config.Maintenance, storageManager, logger)
	if err := a.Maintenance.Start(); err != nil {
		storageManager.Close()
		return nil, fmt.Errorf("failed to start maintenance service: %w", err)
	}

	a.APIHandler = handlers.NewAPIHandler(logger)
	a.EmissionHandler = handlers.NewEmissionHandler(
		storageManager.EmissionStorage(),
		storageManager.RowStorage(),
		a.MailRunner,
		logger,
	)
	a.GenerationHandler = handlers.NewGenerationHandler(a.Orchestrator, logger)
	a.EventsHandler = handlers.NewEventsHandler(a.Broker, logger)
	a.WSHandler = handlers.NewWebSocketHandler(a.Broker, logger)

	logger.Info().
		Str("environment", config.Environment).
		Str("render_url", config.Dispatch.RenderURL).
		Msg("Application initialized")

	return a, nil
}

// Close releases application resources in reverse dependency order.
func (a *App) Close() error {
	if a.Maintenance != nil {
		a.Maintenance.Stop()
	}
	if a.Broker != nil {
		a.Broker.Close()
	}
	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
	}
	return nil
}
