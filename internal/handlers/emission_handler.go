package handlers

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/Felyppe1/certmill/internal/common"
	"github.com/Felyppe1/certmill/internal/interfaces"
	"github.com/Felyppe1/certmill/internal/models"
	"github.com/Felyppe1/certmill/internal/services/mailer"
	storage "github.com/Felyppe1/certmill/internal/storage/badger"
)

// EmissionHandler handles emission CRUD, template and data source
// attachment, variable mapping and email runs.
type EmissionHandler struct {
	emissions interfaces.EmissionStorage
	rows      interfaces.RowStorage
	mailRuns  *mailer.Runner
	validate  *validator.Validate
	logger    arbor.ILogger
}

// NewEmissionHandler creates a new emission handler
func NewEmissionHandler(emissions interfaces.EmissionStorage, rows interfaces.RowStorage, mailRuns *mailer.Runner, logger arbor.ILogger) *EmissionHandler {
	return &EmissionHandler{
		emissions: emissions,
		rows:      rows,
		mailRuns:  mailRuns,
		validate:  validator.New(),
		logger:    logger,
	}
}

type createEmissionRequest struct {
	Name   string `json:"name" validate:"required,min=1,max=200"`
	UserID string `json:"userId" validate:"required"`
}

// CreateHandler creates an emission.
// POST /api/emissions
func (h *EmissionHandler) CreateHandler(w http.ResponseWriter, r *http.Request) {
	var req createEmissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "", "Invalid request body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "", "Fields name and userId are required")
		return
	}

	emission := &models.CertificateEmission{
		ID:     common.NewEmissionID(),
		Name:   req.Name,
		UserID: req.UserID,
	}
	if err := h.emissions.SaveEmission(r.Context(), emission); err != nil {
		h.logger.Error().Err(err).Msg("Failed to create emission")
		WriteError(w, http.StatusInternalServerError, "", "Failed to create emission")
		return
	}

	h.logger.Info().Str("emission_id", emission.ID).Str("name", emission.Name).Msg("Emission created")
	WriteJSON(w, http.StatusCreated, emission)
}

// ListHandler lists a user's emissions.
// GET /api/emissions?userId=...&limit=50&offset=0
func (h *EmissionHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		WriteError(w, http.StatusBadRequest, "", "Query parameter userId is required")
		return
	}

	limit := 50
	offset := 0
	fmt.Sscanf(r.URL.Query().Get("limit"), "%d", &limit)
	fmt.Sscanf(r.URL.Query().Get("offset"), "%d", &offset)

	emissions, err := h.emissions.ListEmissions(r.Context(), userID, limit, offset)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list emissions")
		WriteError(w, http.StatusInternalServerError, "", "Failed to list emissions")
		return
	}
	if emissions == nil {
		emissions = []*models.CertificateEmission{}
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"emissions": emissions,
		"count":     len(emissions),
	})
}

// GetHandler returns one emission.
// GET /api/emissions/{id}
func (h *EmissionHandler) GetHandler(w http.ResponseWriter, r *http.Request) {
	emission, ok := h.loadEmission(w, r)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, emission)
}

type updateEmissionRequest struct {
	Name string `json:"name" validate:"required,min=1,max=200"`
}

// UpdateHandler renames an emission.
// PUT /api/emissions/{id}
func (h *EmissionHandler) UpdateHandler(w http.ResponseWriter, r *http.Request) {
	emission, ok := h.loadEmission(w, r)
	if !ok {
		return
	}

	var req updateEmissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "", "Invalid request body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "", "Field name is required")
		return
	}

	emission.Name = req.Name
	if err := h.emissions.SaveEmission(r.Context(), emission); err != nil {
		h.logger.Error().Err(err).Str("emission_id", emission.ID).Msg("Failed to update emission")
		WriteError(w, http.StatusInternalServerError, "", "Failed to update emission")
		return
	}

	WriteJSON(w, http.StatusOK, emission)
}

// DeleteHandler soft-deletes an emission and drops its rows.
// DELETE /api/emissions/{id}
func (h *EmissionHandler) DeleteHandler(w http.ResponseWriter, r *http.Request) {
	emission, ok := h.loadEmission(w, r)
	if !ok {
		return
	}

	if err := h.emissions.DeleteEmission(r.Context(), emission.ID); err != nil {
		h.logger.Error().Err(err).Str("emission_id", emission.ID).Msg("Failed to delete emission")
		WriteError(w, http.StatusInternalServerError, "", "Failed to delete emission")
		return
	}
	if err := h.rows.DeleteRowsByEmission(r.Context(), emission.ID); err != nil {
		h.logger.Warn().Err(err).Str("emission_id", emission.ID).Msg("Failed to delete emission rows")
	}

	w.WriteHeader(http.StatusNoContent)
}

type attachTemplateRequest struct {
	StorageFileURL string `json:"storageFileUrl" validate:"required,url"`
	FileExtension  string `json:"fileExtension" validate:"required"`
	// Variables may be supplied directly, or extracted from templateText.
	Variables    []string `json:"variables"`
	TemplateText string   `json:"templateText"`
}

// AttachTemplateHandler attaches or replaces the template. Replacing the
// template resets every row to PENDING because existing output no longer
// matches the document.
// PUT /api/emissions/{id}/template
func (h *EmissionHandler) AttachTemplateHandler(w http.ResponseWriter, r *http.Request) {
	emission, ok := h.loadEmission(w, r)
	if !ok {
		return
	}

	var req attachTemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "", "Invalid request body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "", "Fields storageFileUrl and fileExtension are required")
		return
	}

	variables := req.Variables
	if len(variables) == 0 && req.TemplateText != "" {
		variables = models.ExtractTemplateVariables(req.TemplateText)
	}

	emission.Template = &models.Template{
		StorageFileURL: req.StorageFileURL,
		FileExtension:  strings.TrimPrefix(strings.ToLower(req.FileExtension), "."),
		Variables:      variables,
		AddedAt:        time.Now(),
	}
	if err := h.emissions.SaveEmission(r.Context(), emission); err != nil {
		h.logger.Error().Err(err).Str("emission_id", emission.ID).Msg("Failed to attach template")
		WriteError(w, http.StatusInternalServerError, "", "Failed to attach template")
		return
	}

	if err := h.rows.ResetRows(r.Context(), emission.ID); err != nil {
		h.logger.Warn().Err(err).Str("emission_id", emission.ID).Msg("Failed to reset rows after template change")
	}

	h.logger.Info().
		Str("emission_id", emission.ID).
		Int("variables", len(variables)).
		Msg("Template attached")
	WriteJSON(w, http.StatusOK, emission)
}

type attachDataSourceRequest struct {
	Name    string          `json:"name" validate:"required"`
	Columns []models.Column `json:"columns" validate:"required,min=1,dive"`
	CSV     string          `json:"csv" validate:"required"`
}

// AttachDataSourceHandler parses a CSV payload into data source rows. The
// CSV header must match the declared columns and every cell must parse as
// its column type. Attaching replaces any previous row set.
// PUT /api/emissions/{id}/data-source
func (h *EmissionHandler) AttachDataSourceHandler(w http.ResponseWriter, r *http.Request) {
	emission, ok := h.loadEmission(w, r)
	if !ok {
		return
	}

	var req attachDataSourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "", "Invalid request body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "", "Fields name, columns and csv are required")
		return
	}

	// Swapping the row set under an active generation would orphan the
	// in-flight external jobs, so refresh is rejected until it settles.
	counts, err := h.rows.CountByStatus(r.Context(), emission.ID)
	if err != nil {
		h.logger.Error().Err(err).Str("emission_id", emission.ID).Msg("Failed to count rows")
		WriteError(w, http.StatusInternalServerError, "", "Failed to attach data source")
		return
	}
	if counts[models.StatusRunning]+counts[models.StatusRetrying] > 0 {
		WriteError(w, http.StatusConflict, "generation-in-progress",
			"Cannot replace the data source while a generation is running")
		return
	}

	rows, err := parseCSVRows(req.CSV, req.Columns)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid-data-source", err.Error())
		return
	}
	if len(rows) == 0 {
		WriteError(w, http.StatusBadRequest, "invalid-data-source", "CSV contains no data rows")
		return
	}

	records := make([]*models.DataSourceRow, len(rows))
	for i, data := range rows {
		records[i] = &models.DataSourceRow{
			ID:         common.NewRowID(),
			EmissionID: emission.ID,
			Data:       data,
			Status:     models.StatusPending,
		}
	}
	if err := h.rows.ReplaceRows(r.Context(), emission.ID, records); err != nil {
		h.logger.Error().Err(err).Str("emission_id", emission.ID).Msg("Failed to store data source rows")
		WriteError(w, http.StatusInternalServerError, "", "Failed to store data source rows")
		return
	}

	emission.DataSource = &models.DataSource{
		Name:     req.Name,
		Columns:  req.Columns,
		RowCount: len(records),
		AddedAt:  time.Now(),
	}
	if err := h.emissions.SaveEmission(r.Context(), emission); err != nil {
		h.logger.Error().Err(err).Str("emission_id", emission.ID).Msg("Failed to attach data source")
		WriteError(w, http.StatusInternalServerError, "", "Failed to attach data source")
		return
	}

	h.logger.Info().
		Str("emission_id", emission.ID).
		Str("data_source", req.Name).
		Int("rows", len(records)).
		Msg("Data source attached")
	WriteJSON(w, http.StatusOK, emission)
}

type updateMappingRequest struct {
	Mapping map[string]string `json:"mapping" validate:"required"`
}

// UpdateMappingHandler sets the template variable to column mapping. Every
// mapped column must exist in the data source.
// PUT /api/emissions/{id}/mapping
func (h *EmissionHandler) UpdateMappingHandler(w http.ResponseWriter, r *http.Request) {
	emission, ok := h.loadEmission(w, r)
	if !ok {
		return
	}
	if !emission.HasDataSource() {
		WriteError(w, http.StatusConflict, "no-data-source", "Attach a data source before mapping variables")
		return
	}

	var req updateMappingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "", "Invalid request body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "", "Field mapping is required")
		return
	}

	columns := map[string]bool{}
	for _, c := range emission.DataSource.Columns {
		columns[c.Name] = true
	}
	for variable, column := range req.Mapping {
		if !columns[column] {
			WriteError(w, http.StatusBadRequest, "invalid-mapping",
				fmt.Sprintf("Column %q mapped from variable %q does not exist", column, variable))
			return
		}
	}

	emission.VariableColumnMapping = req.Mapping
	if err := h.emissions.SaveEmission(r.Context(), emission); err != nil {
		h.logger.Error().Err(err).Str("emission_id", emission.ID).Msg("Failed to update mapping")
		WriteError(w, http.StatusInternalServerError, "", "Failed to update mapping")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"emission":          emission,
		"unmappedVariables": emission.UnmappedVariables(),
	})
}

// ListRowsHandler returns the rows of an emission.
// GET /api/emissions/{id}/rows
func (h *EmissionHandler) ListRowsHandler(w http.ResponseWriter, r *http.Request) {
	emission, ok := h.loadEmission(w, r)
	if !ok {
		return
	}

	var (
		rows []*models.DataSourceRow
		err  error
	)
	if status := r.URL.Query().Get("status"); status != "" {
		rows, err = h.rows.GetRowsByStatus(r.Context(), emission.ID, models.ProcessingStatus(status))
	} else {
		rows, err = h.rows.GetRowsByEmission(r.Context(), emission.ID)
	}
	if err != nil {
		h.logger.Error().Err(err).Str("emission_id", emission.ID).Msg("Failed to list rows")
		WriteError(w, http.StatusInternalServerError, "", "Failed to list rows")
		return
	}
	if rows == nil {
		rows = []*models.DataSourceRow{}
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"rows":  rows,
		"count": len(rows),
	})
}

type sendEmailsRequest struct {
	RecipientColumn string `json:"recipientColumn" validate:"required"`
	Subject         string `json:"subject" validate:"required"`
	Body            string `json:"body" validate:"required"`
}

// SendEmailsHandler emails certificates to the recipients of completed rows.
// POST /api/emissions/{id}/emails
func (h *EmissionHandler) SendEmailsHandler(w http.ResponseWriter, r *http.Request) {
	emissionID := PathSegment(r.URL.Path, "/api/emissions/", 0)
	if emissionID == "" {
		WriteError(w, http.StatusBadRequest, "", "Missing emission id")
		return
	}

	var req sendEmailsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "", "Invalid request body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "", "Fields recipientColumn, subject and body are required")
		return
	}

	run, err := h.mailRuns.Send(r.Context(), mailer.SendRequest{
		EmissionID:      emissionID,
		RecipientColumn: req.RecipientColumn,
		Subject:         req.Subject,
		Body:            req.Body,
	})
	if err != nil {
		switch {
		case errors.Is(err, mailer.ErrEmissionNotFound):
			WriteError(w, http.StatusNotFound, "not-found", err.Error())
		case errors.Is(err, mailer.ErrNoCompletedRows):
			WriteError(w, http.StatusConflict, "no-completed-rows", err.Error())
		case errors.Is(err, mailer.ErrUnknownColumn):
			WriteError(w, http.StatusBadRequest, "invalid-recipient-column", err.Error())
		case errors.Is(err, mailer.ErrEmailRunInProgress):
			WriteError(w, http.StatusConflict, "email-run-in-progress", err.Error())
		default:
			h.logger.Error().Err(err).Str("emission_id", emissionID).Msg("Email run failed")
			WriteError(w, http.StatusInternalServerError, "", "Email run failed")
		}
		return
	}

	WriteJSON(w, http.StatusCreated, run)
}

// ListEmailRunsHandler lists the email runs of an emission.
// GET /api/emissions/{id}/emails
func (h *EmissionHandler) ListEmailRunsHandler(w http.ResponseWriter, r *http.Request) {
	emission, ok := h.loadEmission(w, r)
	if !ok {
		return
	}

	runs, err := h.mailRuns.ListRuns(r.Context(), emission.ID)
	if err != nil {
		h.logger.Error().Err(err).Str("emission_id", emission.ID).Msg("Failed to list email runs")
		WriteError(w, http.StatusInternalServerError, "", "Failed to list email runs")
		return
	}
	if runs == nil {
		runs = []*models.EmailRun{}
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}

// MetricsHandler aggregates emission counts and row status totals.
// GET /api/emissions/metrics?userId=...
func (h *EmissionHandler) MetricsHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		WriteError(w, http.StatusBadRequest, "", "Query parameter userId is required")
		return
	}

	emissions, err := h.emissions.ListEmissions(r.Context(), userID, 0, 0)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to load emissions for metrics")
		WriteError(w, http.StatusInternalServerError, "", "Failed to compute metrics")
		return
	}

	totals := models.StatusCounts{}
	for _, emission := range emissions {
		counts, err := h.rows.CountByStatus(r.Context(), emission.ID)
		if err != nil {
			h.logger.Warn().Err(err).Str("emission_id", emission.ID).Msg("Failed to count rows for metrics")
			continue
		}
		for status, n := range counts {
			totals[status] += n
		}
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"emissions": len(emissions),
		"rowTotals": totals,
		"totalRows": totals.Total(),
	})
}

func (h *EmissionHandler) loadEmission(w http.ResponseWriter, r *http.Request) (*models.CertificateEmission, bool) {
	emissionID := PathSegment(r.URL.Path, "/api/emissions/", 0)
	if emissionID == "" {
		WriteError(w, http.StatusBadRequest, "", "Missing emission id")
		return nil, false
	}

	emission, err := h.emissions.GetEmission(r.Context(), emissionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "not-found", "Emission not found")
		} else {
			h.logger.Error().Err(err).Str("emission_id", emissionID).Msg("Failed to load emission")
			WriteError(w, http.StatusInternalServerError, "", "Failed to load emission")
		}
		return nil, false
	}
	return emission, true
}

// parseCSVRows parses CSV text whose header names the declared columns, in
// any order, and type-checks each cell.
func parseCSVRows(raw string, columns []models.Column) ([]map[string]string, error) {
	reader := csv.NewReader(strings.NewReader(raw))
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	types := map[string]models.ColumnType{}
	for _, c := range columns {
		types[c.Name] = c.Type
	}
	for name := range types {
		found := false
		for _, col := range header {
			if strings.TrimSpace(col) == name {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("declared column %q missing from CSV header", name)
		}
	}

	var rows []map[string]string
	line := 1
	for {
		record, err := reader.Read()
		if err != nil {
			break
		}
		line++

		data := map[string]string{}
		for i, col := range header {
			if i >= len(record) {
				break
			}
			name := strings.TrimSpace(col)
			value := strings.TrimSpace(record[i])
			// Undeclared extra columns still ride along for templating.
			if columnType, declared := types[name]; declared && value != "" {
				if !models.ValidateCellValue(value, columnType) {
					return nil, fmt.Errorf("line %d: value %q is not a valid %s for column %q",
						line, value, columnType, name)
				}
			}
			data[name] = value
		}
		rows = append(rows, data)
	}

	return rows, nil
}
