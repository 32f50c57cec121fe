package mailer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/Felyppe1/certmill/internal/interfaces"
	"github.com/Felyppe1/certmill/internal/models"
	storage "github.com/Felyppe1/certmill/internal/storage/badger"
)

type fakeEmissionStore struct {
	emission *models.CertificateEmission
}

func (f *fakeEmissionStore) SaveEmission(ctx context.Context, e *models.CertificateEmission) error {
	f.emission = e
	return nil
}
func (f *fakeEmissionStore) GetEmission(ctx context.Context, id string) (*models.CertificateEmission, error) {
	if f.emission == nil || f.emission.ID != id {
		return nil, storage.ErrNotFound
	}
	return f.emission, nil
}
func (f *fakeEmissionStore) ListEmissions(ctx context.Context, userID string, limit, offset int) ([]*models.CertificateEmission, error) {
	return nil, nil
}
func (f *fakeEmissionStore) DeleteEmission(ctx context.Context, id string) error { return nil }
func (f *fakeEmissionStore) CountEmissions(ctx context.Context, userID string) (int, error) {
	return 0, nil
}
func (f *fakeEmissionStore) PurgeDeletedBefore(ctx context.Context, days int) (int, error) {
	return 0, nil
}

type fakeRowStore struct {
	completed []*models.DataSourceRow
}

func (f *fakeRowStore) ReplaceRows(ctx context.Context, emissionID string, rows []*models.DataSourceRow) error {
	return nil
}
func (f *fakeRowStore) GetRow(ctx context.Context, rowID string) (*models.DataSourceRow, error) {
	return nil, storage.ErrNotFound
}
func (f *fakeRowStore) GetRowsByEmission(ctx context.Context, emissionID string) ([]*models.DataSourceRow, error) {
	return f.completed, nil
}
func (f *fakeRowStore) GetRowsByStatus(ctx context.Context, emissionID string, status models.ProcessingStatus) ([]*models.DataSourceRow, error) {
	if status == models.StatusCompleted {
		return f.completed, nil
	}
	return nil, nil
}
func (f *fakeRowStore) CountByStatus(ctx context.Context, emissionID string) (models.StatusCounts, error) {
	return models.StatusCounts{}, nil
}
func (f *fakeRowStore) TransitionAll(ctx context.Context, emissionID string, from, to models.ProcessingStatus) ([]string, error) {
	return nil, nil
}
func (f *fakeRowStore) TransitionRows(ctx context.Context, rowIDs []string, from, to models.ProcessingStatus) error {
	return nil
}
func (f *fakeRowStore) TransitionRow(ctx context.Context, rowID string, from []models.ProcessingStatus, to models.ProcessingStatus, outputByteSize *int64) (bool, error) {
	return false, nil
}
func (f *fakeRowStore) ResetRows(ctx context.Context, emissionID string) error        { return nil }
func (f *fakeRowStore) DeleteRowsByEmission(ctx context.Context, emissionID string) error { return nil }

type fakeEmailStore struct {
	runs map[string]*models.EmailRun
}

func (f *fakeEmailStore) SaveEmailRun(ctx context.Context, run *models.EmailRun) error {
	if f.runs == nil {
		f.runs = map[string]*models.EmailRun{}
	}
	copied := *run
	f.runs[run.ID] = &copied
	return nil
}
func (f *fakeEmailStore) GetEmailRun(ctx context.Context, runID string) (*models.EmailRun, error) {
	run, ok := f.runs[runID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return run, nil
}
func (f *fakeEmailStore) ListEmailRuns(ctx context.Context, emissionID string) ([]*models.EmailRun, error) {
	var out []*models.EmailRun
	for _, run := range f.runs {
		if run.EmissionID == emissionID {
			out = append(out, run)
		}
	}
	return out, nil
}

type fakeMailer struct {
	sent     []interfaces.MailMessage
	failAddr string
}

func (f *fakeMailer) Send(ctx context.Context, msg interfaces.MailMessage) error {
	if msg.To == f.failAddr {
		return errors.New("mailbox unavailable")
	}
	f.sent = append(f.sent, msg)
	return nil
}

type nopBroker struct {
	events []models.ProgressEvent
}

func (b *nopBroker) Subscribe(resourceID string) *interfaces.ProgressSubscription {
	return &interfaces.ProgressSubscription{}
}
func (b *nopBroker) Unsubscribe(resourceID, subscriptionID string) {}
func (b *nopBroker) Publish(resourceID string, event models.ProgressEvent) {
	b.events = append(b.events, event)
}
func (b *nopBroker) Close() {}

func testEmission() *models.CertificateEmission {
	return &models.CertificateEmission{
		ID:   "em_mail",
		Name: "Go Workshop 2026",
		DataSource: &models.DataSource{
			Columns: []models.Column{
				{Name: "fullName", Type: models.ColumnString},
				{Name: "email", Type: models.ColumnString},
			},
		},
	}
}

func completedRow(id, name, email string) *models.DataSourceRow {
	return &models.DataSourceRow{
		ID:         id,
		EmissionID: "em_mail",
		Data:       map[string]string{"fullName": name, "email": email},
		Status:     models.StatusCompleted,
		CreatedAt:  time.Now(),
	}
}

func TestSendEmailsCompletedRows(t *testing.T) {
	mailerFake := &fakeMailer{}
	broker := &nopBroker{}
	runner := NewRunner(
		&fakeEmissionStore{emission: testEmission()},
		&fakeRowStore{completed: []*models.DataSourceRow{
			completedRow("row_1", "Ada", "ada@example.com"),
			completedRow("row_2", "Grace", "grace@example.com"),
		}},
		&fakeEmailStore{},
		mailerFake,
		broker,
		arbor.NewLogger(),
	)

	run, err := runner.Send(context.Background(), SendRequest{
		EmissionID:      "em_mail",
		RecipientColumn: "email",
		Subject:         "Your certificate, {{fullName}}",
		Body:            "Hello {{fullName}}, your certificate is ready.",
	})
	require.NoError(t, err)

	assert.Equal(t, models.EmailRunCompleted, run.Status)
	assert.Equal(t, 2, run.SentCount)
	assert.Equal(t, 0, run.FailedCount)
	require.NotNil(t, run.FinishedAt)

	require.Len(t, mailerFake.sent, 2)
	assert.Equal(t, "Your certificate, Ada", mailerFake.sent[0].Subject)
	assert.Contains(t, mailerFake.sent[0].Body, "Hello Ada")
	assert.Len(t, broker.events, 2)
}

func TestSendCountsPerRecipientFailures(t *testing.T) {
	mailerFake := &fakeMailer{failAddr: "grace@example.com"}
	runner := NewRunner(
		&fakeEmissionStore{emission: testEmission()},
		&fakeRowStore{completed: []*models.DataSourceRow{
			completedRow("row_1", "Ada", "ada@example.com"),
			completedRow("row_2", "Grace", "grace@example.com"),
			completedRow("row_3", "Alan", ""),
		}},
		&fakeEmailStore{},
		mailerFake,
		&nopBroker{},
		arbor.NewLogger(),
	)

	run, err := runner.Send(context.Background(), SendRequest{
		EmissionID:      "em_mail",
		RecipientColumn: "email",
		Subject:         "Certificate",
		Body:            "Ready.",
	})
	require.NoError(t, err)

	assert.Equal(t, models.EmailRunCompleted, run.Status)
	assert.Equal(t, 1, run.SentCount)
	assert.Equal(t, 2, run.FailedCount)
}

func TestSendRejectsUnknownRecipientColumn(t *testing.T) {
	runner := NewRunner(
		&fakeEmissionStore{emission: testEmission()},
		&fakeRowStore{},
		&fakeEmailStore{},
		&fakeMailer{},
		&nopBroker{},
		arbor.NewLogger(),
	)

	_, err := runner.Send(context.Background(), SendRequest{
		EmissionID:      "em_mail",
		RecipientColumn: "phone",
	})
	require.ErrorIs(t, err, ErrUnknownColumn)
}

func TestSendRequiresCompletedRows(t *testing.T) {
	runner := NewRunner(
		&fakeEmissionStore{emission: testEmission()},
		&fakeRowStore{},
		&fakeEmailStore{},
		&fakeMailer{},
		&nopBroker{},
		arbor.NewLogger(),
	)

	_, err := runner.Send(context.Background(), SendRequest{
		EmissionID:      "em_mail",
		RecipientColumn: "email",
	})
	require.ErrorIs(t, err, ErrNoCompletedRows)
}
