package generation

import (
	"context"
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/Felyppe1/certmill/internal/interfaces"
	"github.com/Felyppe1/certmill/internal/models"
	storage "github.com/Felyppe1/certmill/internal/storage/badger"
)

// Orchestrator drives the row state machine across generation, completion
// callbacks and retries. All durable state lives in the row store; the
// progress broker only mirrors transitions to live subscribers.
type Orchestrator struct {
	emissions interfaces.EmissionStorage
	rows      interfaces.RowStorage
	processor interfaces.ExternalProcessor
	broker    interfaces.ProgressBroker
	logger    arbor.ILogger
}

// NewOrchestrator wires the generation service.
func NewOrchestrator(
	emissions interfaces.EmissionStorage,
	rows interfaces.RowStorage,
	processor interfaces.ExternalProcessor,
	broker interfaces.ProgressBroker,
	logger arbor.ILogger,
) *Orchestrator {
	return &Orchestrator{
		emissions: emissions,
		rows:      rows,
		processor: processor,
		broker:    broker,
		logger:    logger,
	}
}

// CompletionResult reports what a completion callback did.
type CompletionResult struct {
	Applied bool
	Status  models.ProcessingStatus
	Counts  models.StatusCounts
	Batch   models.BatchStatus
}

// BatchState is the polled snapshot of an emission's batch.
type BatchState struct {
	EmissionID string              `json:"emissionId"`
	Counts     models.StatusCounts `json:"counts"`
	Total      int                 `json:"total"`
	Batch      models.BatchStatus  `json:"batch"`
}

// Generate starts certificate generation for every PENDING row of the
// emission. Rows flip to RUNNING before the trigger goes out; if the trigger
// fails, the same rows are reverted to PENDING so the batch stays retryable.
func (o *Orchestrator) Generate(ctx context.Context, emissionID string) error {
	emission, err := o.loadReadyEmission(ctx, emissionID)
	if err != nil {
		return err
	}

	rowIDs, err := o.rows.TransitionAll(ctx, emissionID, models.StatusPending, models.StatusRunning)
	if err != nil {
		return fmt.Errorf("failed to mark rows running: %w", err)
	}
	if len(rowIDs) == 0 {
		counts, err := o.rows.CountByStatus(ctx, emissionID)
		if err != nil {
			return fmt.Errorf("failed to count rows: %w", err)
		}
		if counts.Total() == 0 {
			return ErrNoDataSetRows
		}
		// Rows exist but none are PENDING: a repeated generate is a no-op,
		// not an error, so already-dispatched rows are never re-triggered.
		o.logger.Info().
			Str("emission_id", emissionID).
			Msg("No pending rows to generate, nothing dispatched")
		return nil
	}

	o.logger.Info().
		Str("emission_id", emissionID).
		Int("rows", len(rowIDs)).
		Msg("Starting certificate generation")

	trigger := interfaces.RenderTrigger{
		Emission: buildEmissionPayload(emission),
	}
	// Only ship the rows this call flipped; rows already in flight from an
	// earlier dispatch must not be re-triggered.
	started := make(map[string]bool, len(rowIDs))
	for _, id := range rowIDs {
		started[id] = true
	}
	rows, err := o.rows.GetRowsByStatus(ctx, emissionID, models.StatusRunning)
	if err != nil {
		o.revert(ctx, rowIDs, models.StatusRunning)
		return fmt.Errorf("failed to load running rows: %w", err)
	}
	for _, row := range rows {
		if started[row.ID] {
			trigger.Rows = append(trigger.Rows, interfaces.RowPayload{ID: row.ID, Data: row.Data})
		}
	}

	if err := o.processor.TriggerBatch(ctx, trigger); err != nil {
		o.logger.Error().Err(err).
			Str("emission_id", emissionID).
			Msg("Render trigger failed, reverting rows")
		o.revert(ctx, rowIDs, models.StatusRunning)
		return fmt.Errorf("%w: %v", ErrDispatchFailed, err)
	}

	return nil
}

// RetryFailed re-dispatches every FAILED row of the emission. Rows flip to
// RETRYING in one transaction, then each row is triggered individually so one
// poisoned row cannot take the rest of the retry batch down with it.
func (o *Orchestrator) RetryFailed(ctx context.Context, emissionID string) error {
	emission, err := o.loadReadyEmission(ctx, emissionID)
	if err != nil {
		return err
	}

	rowIDs, err := o.rows.TransitionAll(ctx, emissionID, models.StatusFailed, models.StatusRetrying)
	if err != nil {
		return fmt.Errorf("failed to mark rows retrying: %w", err)
	}
	if len(rowIDs) == 0 {
		return ErrNoFailedRows
	}

	o.logger.Info().
		Str("emission_id", emissionID).
		Int("rows", len(rowIDs)).
		Msg("Retrying failed rows")

	payload := buildEmissionPayload(emission)
	var failed int
	for _, rowID := range rowIDs {
		row, err := o.rows.GetRow(ctx, rowID)
		if err != nil {
			o.logger.Error().Err(err).Str("row_id", rowID).Msg("Failed to load row for retry")
			o.revert(ctx, []string{rowID}, models.StatusRetrying)
			failed++
			continue
		}

		if err := o.processor.TriggerRowRetry(ctx, payload, interfaces.RowPayload{ID: row.ID, Data: row.Data}); err != nil {
			o.logger.Error().Err(err).
				Str("emission_id", emissionID).
				Str("row_id", rowID).
				Msg("Retry trigger failed, reverting row")
			o.revert(ctx, []string{rowID}, models.StatusRetrying)
			failed++
		}
	}

	if failed == len(rowIDs) {
		return fmt.Errorf("%w: all %d retry triggers failed", ErrDispatchFailed, failed)
	}
	return nil
}

// OnRowCompletion applies a render service completion callback. The
// transition is conditional on the row still being in flight, so a replayed
// callback reports Applied=false and changes nothing.
func (o *Orchestrator) OnRowCompletion(ctx context.Context, rowID string, success bool, totalBytes *int64) (*CompletionResult, error) {
	row, err := o.rows.GetRow(ctx, rowID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrRowNotFound
		}
		return nil, fmt.Errorf("failed to load row: %w", err)
	}

	target := models.StatusCompleted
	if !success {
		target = models.StatusFailed
	}

	var outputByteSize *int64
	if success {
		outputByteSize = totalBytes
	}

	applied, err := o.rows.TransitionRow(ctx, rowID,
		[]models.ProcessingStatus{models.StatusRunning, models.StatusRetrying},
		target, outputByteSize)
	if err != nil {
		return nil, fmt.Errorf("failed to transition row: %w", err)
	}

	counts, err := o.rows.CountByStatus(ctx, row.EmissionID)
	if err != nil {
		return nil, fmt.Errorf("failed to count rows: %w", err)
	}
	batch := models.DeriveBatchStatus(counts)

	result := &CompletionResult{
		Applied: applied,
		Status:  target,
		Counts:  counts,
		Batch:   batch,
	}

	if !applied {
		o.logger.Debug().
			Str("row_id", rowID).
			Str("emission_id", row.EmissionID).
			Msg("Ignoring completion callback for row not in flight")
		return result, nil
	}

	o.logger.Info().
		Str("row_id", rowID).
		Str("emission_id", row.EmissionID).
		Bool("success", success).
		Str("batch", string(batch)).
		Msg("Row generation finished")

	o.broker.Publish(row.EmissionID, models.ProgressEvent{
		Type:       models.EventRowCompleted,
		ResourceID: row.EmissionID,
		Payload: models.RowCompletedPayload{
			RowID:   rowID,
			Success: success,
			Counts:  counts,
			Batch:   batch,
		},
	})

	return result, nil
}

// GetBatchState returns the current derived batch snapshot for polling.
func (o *Orchestrator) GetBatchState(ctx context.Context, emissionID string) (*BatchState, error) {
	if _, err := o.emissions.GetEmission(ctx, emissionID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrEmissionNotFound
		}
		return nil, fmt.Errorf("failed to load emission: %w", err)
	}

	counts, err := o.rows.CountByStatus(ctx, emissionID)
	if err != nil {
		return nil, fmt.Errorf("failed to count rows: %w", err)
	}

	return &BatchState{
		EmissionID: emissionID,
		Counts:     counts,
		Total:      counts.Total(),
		Batch:      models.DeriveBatchStatus(counts),
	}, nil
}

func (o *Orchestrator) loadReadyEmission(ctx context.Context, emissionID string) (*models.CertificateEmission, error) {
	emission, err := o.emissions.GetEmission(ctx, emissionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrEmissionNotFound
		}
		return nil, fmt.Errorf("failed to load emission: %w", err)
	}

	if !emission.HasTemplate() || !emission.HasDataSource() {
		return nil, ErrNotReady
	}
	if unmapped := emission.UnmappedVariables(); len(unmapped) > 0 {
		return nil, fmt.Errorf("%w: unmapped variables %v", ErrNotReady, unmapped)
	}

	return emission, nil
}

// revert is the compensating transition after a failed dispatch. A failure
// here is logged but not returned: affected rows stay in their in-flight
// status until an operator or a later completion callback resolves them.
func (o *Orchestrator) revert(ctx context.Context, rowIDs []string, from models.ProcessingStatus) {
	var to models.ProcessingStatus
	switch from {
	case models.StatusRunning:
		to = models.StatusPending
	case models.StatusRetrying:
		to = models.StatusFailed
	default:
		return
	}

	if err := o.rows.TransitionRows(ctx, rowIDs, from, to); err != nil {
		o.logger.Error().Err(err).
			Int("rows", len(rowIDs)).
			Str("from", string(from)).
			Str("to", string(to)).
			Msg("Compensating revert failed")
	}
}

func buildEmissionPayload(emission *models.CertificateEmission) interfaces.EmissionPayload {
	payload := interfaces.EmissionPayload{
		ID:                    emission.ID,
		UserID:                emission.UserID,
		VariableColumnMapping: emission.VariableColumnMapping,
	}
	if emission.Template != nil {
		payload.Template = interfaces.TemplatePayload{
			StorageFileURL: emission.Template.StorageFileURL,
			FileExtension:  emission.Template.FileExtension,
			Variables:      emission.Template.Variables,
		}
	}
	if emission.DataSource != nil {
		payload.Columns = emission.DataSource.Columns
	}
	return payload
}
