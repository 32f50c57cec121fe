package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/Felyppe1/certmill/internal/interfaces"
	"github.com/Felyppe1/certmill/internal/models"
	"github.com/Felyppe1/certmill/internal/services/generation"
	"github.com/Felyppe1/certmill/internal/services/progress"
	storage "github.com/Felyppe1/certmill/internal/storage/badger"
)

type stubEmissionStore struct {
	emissions map[string]*models.CertificateEmission
}

func (s *stubEmissionStore) SaveEmission(ctx context.Context, e *models.CertificateEmission) error {
	if s.emissions == nil {
		s.emissions = map[string]*models.CertificateEmission{}
	}
	s.emissions[e.ID] = e
	return nil
}
func (s *stubEmissionStore) GetEmission(ctx context.Context, id string) (*models.CertificateEmission, error) {
	e, ok := s.emissions[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return e, nil
}
func (s *stubEmissionStore) ListEmissions(ctx context.Context, userID string, limit, offset int) ([]*models.CertificateEmission, error) {
	var out []*models.CertificateEmission
	for _, e := range s.emissions {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out, nil
}
func (s *stubEmissionStore) DeleteEmission(ctx context.Context, id string) error { return nil }
func (s *stubEmissionStore) CountEmissions(ctx context.Context, userID string) (int, error) {
	return 0, nil
}
func (s *stubEmissionStore) PurgeDeletedBefore(ctx context.Context, days int) (int, error) {
	return 0, nil
}

type stubRowStore struct {
	mu   sync.Mutex
	rows map[string]*models.DataSourceRow
}

func (s *stubRowStore) ReplaceRows(ctx context.Context, emissionID string, rows []*models.DataSourceRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rows == nil {
		s.rows = map[string]*models.DataSourceRow{}
	}
	for _, row := range rows {
		s.rows[row.ID] = row
	}
	return nil
}
func (s *stubRowStore) GetRow(ctx context.Context, rowID string) (*models.DataSourceRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[rowID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return row, nil
}
func (s *stubRowStore) GetRowsByEmission(ctx context.Context, emissionID string) ([]*models.DataSourceRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.DataSourceRow
	for _, row := range s.rows {
		if row.EmissionID == emissionID {
			out = append(out, row)
		}
	}
	return out, nil
}
func (s *stubRowStore) GetRowsByStatus(ctx context.Context, emissionID string, status models.ProcessingStatus) ([]*models.DataSourceRow, error) {
	all, _ := s.GetRowsByEmission(ctx, emissionID)
	var out []*models.DataSourceRow
	for _, row := range all {
		if row.Status == status {
			out = append(out, row)
		}
	}
	return out, nil
}
func (s *stubRowStore) CountByStatus(ctx context.Context, emissionID string) (models.StatusCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := models.StatusCounts{}
	for _, row := range s.rows {
		if row.EmissionID == emissionID {
			counts[row.Status]++
		}
	}
	return counts, nil
}
func (s *stubRowStore) TransitionAll(ctx context.Context, emissionID string, from, to models.ProcessingStatus) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for _, row := range s.rows {
		if row.EmissionID == emissionID && row.Status == from {
			row.Status = to
			ids = append(ids, row.ID)
		}
	}
	return ids, nil
}
func (s *stubRowStore) TransitionRows(ctx context.Context, rowIDs []string, from, to models.ProcessingStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range rowIDs {
		if row, ok := s.rows[id]; ok && row.Status == from {
			row.Status = to
		}
	}
	return nil
}
func (s *stubRowStore) TransitionRow(ctx context.Context, rowID string, from []models.ProcessingStatus, to models.ProcessingStatus, outputByteSize *int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[rowID]
	if !ok {
		return false, nil
	}
	for _, status := range from {
		if row.Status == status {
			row.Status = to
			if outputByteSize != nil {
				row.OutputByteSize = outputByteSize
			}
			return true, nil
		}
	}
	return false, nil
}
func (s *stubRowStore) ResetRows(ctx context.Context, emissionID string) error { return nil }
func (s *stubRowStore) DeleteRowsByEmission(ctx context.Context, emissionID string) error {
	return nil
}

type acceptAllProcessor struct{}

func (acceptAllProcessor) TriggerBatch(ctx context.Context, trigger interfaces.RenderTrigger) error {
	return nil
}
func (acceptAllProcessor) TriggerRowRetry(ctx context.Context, emission interfaces.EmissionPayload, row interfaces.RowPayload) error {
	return nil
}

func newTestGenerationHandler(t *testing.T) (*GenerationHandler, *stubEmissionStore, *stubRowStore) {
	t.Helper()
	logger := arbor.NewLogger()
	emissions := &stubEmissionStore{}
	rows := &stubRowStore{}
	broker := progress.NewBroker(logger)
	t.Cleanup(broker.Close)

	orchestrator := generation.NewOrchestrator(emissions, rows, acceptAllProcessor{}, broker, logger)
	return NewGenerationHandler(orchestrator, logger), emissions, rows
}

func readyEmission(id string) *models.CertificateEmission {
	return &models.CertificateEmission{
		ID:     id,
		Name:   "Go Workshop 2026",
		UserID: "user-1",
		Template: &models.Template{
			StorageFileURL: "gs://certmill/templates/workshop.pptx",
			FileExtension:  "pptx",
			Variables:      []string{"name"},
		},
		DataSource: &models.DataSource{
			Columns: []models.Column{{Name: "fullName", Type: models.ColumnString}},
		},
		VariableColumnMapping: map[string]string{"name": "fullName"},
	}
}

func TestGenerateHandlerReturnsNoContent(t *testing.T) {
	handler, emissions, rows := newTestGenerationHandler(t)
	emissions.SaveEmission(context.Background(), readyEmission("em_1"))
	rows.ReplaceRows(context.Background(), "em_1", []*models.DataSourceRow{
		{ID: "row_1", EmissionID: "em_1", Status: models.StatusPending, Data: map[string]string{}},
	})

	req := httptest.NewRequest(http.MethodPost, "/api/emissions/em_1/generations", nil)
	rec := httptest.NewRecorder()
	handler.GenerateHandler(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestGenerateHandlerConflictWithoutRows(t *testing.T) {
	handler, emissions, _ := newTestGenerationHandler(t)
	emissions.SaveEmission(context.Background(), readyEmission("em_1"))

	req := httptest.NewRequest(http.MethodPost, "/api/emissions/em_1/generations", nil)
	rec := httptest.NewRecorder()
	handler.GenerateHandler(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "no-data-set-rows")
}

func TestRetryHandlerConflictWithoutFailedRows(t *testing.T) {
	handler, emissions, rows := newTestGenerationHandler(t)
	emissions.SaveEmission(context.Background(), readyEmission("em_1"))
	rows.ReplaceRows(context.Background(), "em_1", []*models.DataSourceRow{
		{ID: "row_1", EmissionID: "em_1", Status: models.StatusCompleted, Data: map[string]string{}},
	})

	req := httptest.NewRequest(http.MethodPost, "/api/emissions/em_1/generations/retry", nil)
	rec := httptest.NewRecorder()
	handler.RetryHandler(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "no-failed-data-source-rows")
}

func TestGenerateHandlerUnknownEmission(t *testing.T) {
	handler, _, _ := newTestGenerationHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/emissions/em_missing/generations", nil)
	rec := httptest.NewRecorder()
	handler.GenerateHandler(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCompletionHandlerAppliesCallback(t *testing.T) {
	handler, emissions, rows := newTestGenerationHandler(t)
	emissions.SaveEmission(context.Background(), readyEmission("em_1"))
	rows.ReplaceRows(context.Background(), "em_1", []*models.DataSourceRow{
		{ID: "row_1", EmissionID: "em_1", Status: models.StatusRunning, Data: map[string]string{}},
	})

	body := strings.NewReader(`{"success": true, "totalBytes": 4096}`)
	req := httptest.NewRequest(http.MethodPatch, "/internal/data-source-rows/row_1/generations", body)
	rec := httptest.NewRecorder()
	handler.CompletionHandler(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)

	row, err := rows.GetRow(context.Background(), "row_1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, row.Status)
	require.NotNil(t, row.OutputByteSize)
	assert.Equal(t, int64(4096), *row.OutputByteSize)
}

func TestCompletionHandlerDuplicateIsAcknowledged(t *testing.T) {
	handler, emissions, rows := newTestGenerationHandler(t)
	emissions.SaveEmission(context.Background(), readyEmission("em_1"))
	rows.ReplaceRows(context.Background(), "em_1", []*models.DataSourceRow{
		{ID: "row_1", EmissionID: "em_1", Status: models.StatusCompleted, Data: map[string]string{}},
	})

	body := strings.NewReader(`{"success": false}`)
	req := httptest.NewRequest(http.MethodPatch, "/internal/data-source-rows/row_1/generations", body)
	rec := httptest.NewRecorder()
	handler.CompletionHandler(rec, req)

	// A replayed callback is acknowledged like a fresh one and changes nothing.
	require.Equal(t, http.StatusNoContent, rec.Code)

	row, _ := rows.GetRow(context.Background(), "row_1")
	assert.Equal(t, models.StatusCompleted, row.Status)
}

func TestCompletionHandlerRequiresSuccessField(t *testing.T) {
	handler, _, _ := newTestGenerationHandler(t)

	body := strings.NewReader(`{"totalBytes": 100}`)
	req := httptest.NewRequest(http.MethodPatch, "/internal/data-source-rows/row_1/generations", body)
	rec := httptest.NewRecorder()
	handler.CompletionHandler(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCompletionHandlerRequiresBytesOnSuccess(t *testing.T) {
	handler, _, _ := newTestGenerationHandler(t)

	body := strings.NewReader(`{"success": true}`)
	req := httptest.NewRequest(http.MethodPatch, "/internal/data-source-rows/row_1/generations", body)
	rec := httptest.NewRecorder()
	handler.CompletionHandler(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "FILE_BYTES_MISSING")
}

func TestCompletionHandlerAcceptsZeroBytes(t *testing.T) {
	handler, emissions, rows := newTestGenerationHandler(t)
	emissions.SaveEmission(context.Background(), readyEmission("em_1"))
	rows.ReplaceRows(context.Background(), "em_1", []*models.DataSourceRow{
		{ID: "row_1", EmissionID: "em_1", Status: models.StatusRunning, Data: map[string]string{}},
	})

	body := strings.NewReader(`{"success": true, "totalBytes": 0}`)
	req := httptest.NewRequest(http.MethodPatch, "/internal/data-source-rows/row_1/generations", body)
	rec := httptest.NewRecorder()
	handler.CompletionHandler(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestBatchStateHandlerDerivesAggregate(t *testing.T) {
	handler, emissions, rows := newTestGenerationHandler(t)
	emissions.SaveEmission(context.Background(), readyEmission("em_1"))
	rows.ReplaceRows(context.Background(), "em_1", []*models.DataSourceRow{
		{ID: "row_1", EmissionID: "em_1", Status: models.StatusRunning, Data: map[string]string{}},
		{ID: "row_2", EmissionID: "em_1", Status: models.StatusCompleted, Data: map[string]string{}},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/emissions/em_1/generations", nil)
	rec := httptest.NewRecorder()
	handler.BatchStateHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"batch":"in-progress"`)
	assert.Contains(t, rec.Body.String(), `"total":2`)
}
