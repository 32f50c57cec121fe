package mailer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/Felyppe1/certmill/internal/common"
	"github.com/Felyppe1/certmill/internal/interfaces"
	"github.com/Felyppe1/certmill/internal/models"
	storage "github.com/Felyppe1/certmill/internal/storage/badger"
)

var (
	ErrEmissionNotFound   = errors.New("emission not found")
	ErrNoCompletedRows    = errors.New("no completed rows to email")
	ErrUnknownColumn      = errors.New("recipient column not in data source")
	ErrEmailRunNotFound   = errors.New("email run not found")
	ErrEmailRunInProgress = errors.New("an email run is already in progress")
)

// Runner sends one notification email per COMPLETED row of an emission and
// tracks the run in the email store. Subject and body may reference data
// source columns with {{column}} placeholders.
type Runner struct {
	emissions interfaces.EmissionStorage
	rows      interfaces.RowStorage
	emailRuns interfaces.EmailStorage
	mailer    interfaces.Mailer
	broker    interfaces.ProgressBroker
	logger    arbor.ILogger
}

// NewRunner wires the email campaign runner.
func NewRunner(
	emissions interfaces.EmissionStorage,
	rows interfaces.RowStorage,
	emailRuns interfaces.EmailStorage,
	mailer interfaces.Mailer,
	broker interfaces.ProgressBroker,
	logger arbor.ILogger,
) *Runner {
	return &Runner{
		emissions: emissions,
		rows:      rows,
		emailRuns: emailRuns,
		mailer:    mailer,
		broker:    broker,
		logger:    logger,
	}
}

// SendRequest describes one email run over an emission's completed rows.
type SendRequest struct {
	EmissionID      string
	RecipientColumn string
	Subject         string
	Body            string
}

// Send runs an email campaign synchronously and returns the finished run
// record. Per-recipient failures are counted, not fatal.
func (r *Runner) Send(ctx context.Context, req SendRequest) (*models.EmailRun, error) {
	emission, err := r.emissions.GetEmission(ctx, req.EmissionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrEmissionNotFound
		}
		return nil, fmt.Errorf("failed to load emission: %w", err)
	}

	if !columnExists(emission, req.RecipientColumn) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownColumn, req.RecipientColumn)
	}

	if err := r.ensureNoActiveRun(ctx, req.EmissionID); err != nil {
		return nil, err
	}

	completed, err := r.rows.GetRowsByStatus(ctx, req.EmissionID, models.StatusCompleted)
	if err != nil {
		return nil, fmt.Errorf("failed to load completed rows: %w", err)
	}
	if len(completed) == 0 {
		return nil, ErrNoCompletedRows
	}

	run := &models.EmailRun{
		ID:              common.NewEmailRunID(),
		EmissionID:      req.EmissionID,
		RecipientColumn: req.RecipientColumn,
		Subject:         req.Subject,
		Body:            req.Body,
		Status:          models.EmailRunRunning,
		CreatedAt:       time.Now(),
	}
	if err := r.emailRuns.SaveEmailRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to save email run: %w", err)
	}

	r.logger.Info().
		Str("emission_id", req.EmissionID).
		Str("run_id", run.ID).
		Int("recipients", len(completed)).
		Msg("Starting email run")

	for _, row := range completed {
		recipient := strings.TrimSpace(row.Data[req.RecipientColumn])
		success := recipient != ""
		if success {
			msg := interfaces.MailMessage{
				To:      recipient,
				Subject: renderPlaceholders(req.Subject, row.Data),
				Body:    renderPlaceholders(req.Body, row.Data),
			}
			if err := r.mailer.Send(ctx, msg); err != nil {
				r.logger.Warn().Err(err).
					Str("row_id", row.ID).
					Str("recipient", recipient).
					Msg("Failed to send email")
				success = false
			}
		} else {
			r.logger.Warn().Str("row_id", row.ID).Msg("Row has no recipient address")
		}

		if success {
			run.SentCount++
		} else {
			run.FailedCount++
		}

		r.broker.Publish(req.EmissionID, models.ProgressEvent{
			Type:       models.EventEmailSent,
			ResourceID: req.EmissionID,
			Payload: models.EmailSentPayload{
				RowID:     row.ID,
				Recipient: recipient,
				Success:   success,
			},
		})

		if ctx.Err() != nil {
			break
		}
	}

	run.Status = models.EmailRunCompleted
	if run.SentCount == 0 {
		run.Status = models.EmailRunFailed
	}
	now := time.Now()
	run.FinishedAt = &now

	if err := r.emailRuns.SaveEmailRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to finish email run: %w", err)
	}

	r.logger.Info().
		Str("run_id", run.ID).
		Int("sent", run.SentCount).
		Int("failed", run.FailedCount).
		Msg("Email run finished")

	return run, nil
}

// ListRuns returns the email runs of an emission, newest first.
func (r *Runner) ListRuns(ctx context.Context, emissionID string) ([]*models.EmailRun, error) {
	return r.emailRuns.ListEmailRuns(ctx, emissionID)
}

func (r *Runner) ensureNoActiveRun(ctx context.Context, emissionID string) error {
	runs, err := r.emailRuns.ListEmailRuns(ctx, emissionID)
	if err != nil {
		return fmt.Errorf("failed to list email runs: %w", err)
	}
	for _, run := range runs {
		if run.Status == models.EmailRunRunning {
			return ErrEmailRunInProgress
		}
	}
	return nil
}

func columnExists(emission *models.CertificateEmission, column string) bool {
	if emission.DataSource == nil {
		return false
	}
	for _, c := range emission.DataSource.Columns {
		if c.Name == column {
			return true
		}
	}
	return false
}

// renderPlaceholders substitutes {{column}} references with row values.
func renderPlaceholders(text string, data map[string]string) string {
	for _, variable := range models.ExtractTemplateVariables(text) {
		if value, ok := data[variable]; ok {
			text = strings.ReplaceAll(text, "{{"+variable+"}}", value)
			text = strings.ReplaceAll(text, "{{ "+variable+" }}", value)
		}
	}
	return text
}
