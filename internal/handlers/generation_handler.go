package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/Felyppe1/certmill/internal/services/generation"
)

// GenerationHandler handles generation triggers, retries, batch reads and
// the internal completion callback.
type GenerationHandler struct {
	orchestrator *generation.Orchestrator
	validate     *validator.Validate
	logger       arbor.ILogger
}

// NewGenerationHandler creates a new generation handler
func NewGenerationHandler(orchestrator *generation.Orchestrator, logger arbor.ILogger) *GenerationHandler {
	return &GenerationHandler{
		orchestrator: orchestrator,
		validate:     validator.New(),
		logger:       logger,
	}
}

// GenerateHandler starts certificate generation for an emission.
// POST /api/emissions/{id}/generations
func (h *GenerationHandler) GenerateHandler(w http.ResponseWriter, r *http.Request) {
	emissionID := PathSegment(r.URL.Path, "/api/emissions/", 0)
	if emissionID == "" {
		WriteError(w, http.StatusBadRequest, "", "Missing emission id")
		return
	}

	if err := h.orchestrator.Generate(r.Context(), emissionID); err != nil {
		h.writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RetryHandler re-dispatches failed rows of an emission.
// POST /api/emissions/{id}/generations/retry
func (h *GenerationHandler) RetryHandler(w http.ResponseWriter, r *http.Request) {
	emissionID := PathSegment(r.URL.Path, "/api/emissions/", 0)
	if emissionID == "" {
		WriteError(w, http.StatusBadRequest, "", "Missing emission id")
		return
	}

	if err := h.orchestrator.RetryFailed(r.Context(), emissionID); err != nil {
		h.writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// BatchStateHandler returns the derived batch snapshot for polling clients.
// GET /api/emissions/{id}/generations
func (h *GenerationHandler) BatchStateHandler(w http.ResponseWriter, r *http.Request) {
	emissionID := PathSegment(r.URL.Path, "/api/emissions/", 0)
	if emissionID == "" {
		WriteError(w, http.StatusBadRequest, "", "Missing emission id")
		return
	}

	state, err := h.orchestrator.GetBatchState(r.Context(), emissionID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, state)
}

// completionRequest is the body of the render service completion callback.
type completionRequest struct {
	Success    *bool  `json:"success" validate:"required"`
	TotalBytes *int64 `json:"totalBytes"`
}

// CompletionHandler applies a per-row completion callback from the render
// service. Replayed callbacks are acknowledged without effect.
// PATCH /internal/data-source-rows/{id}/generations
func (h *GenerationHandler) CompletionHandler(w http.ResponseWriter, r *http.Request) {
	rowID := PathSegment(r.URL.Path, "/internal/data-source-rows/", 0)
	if rowID == "" {
		WriteError(w, http.StatusBadRequest, "", "Missing row id")
		return
	}

	var req completionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "", "Invalid request body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "", "Field success is required")
		return
	}

	// A successful render must report the artifact size, zero included.
	if *req.Success && req.TotalBytes == nil {
		WriteError(w, http.StatusBadRequest, "FILE_BYTES_MISSING", "Field totalBytes is required when success is true")
		return
	}

	result, err := h.orchestrator.OnRowCompletion(r.Context(), rowID, *req.Success, req.TotalBytes)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	if !result.Applied {
		h.logger.Debug().Str("row_id", rowID).Msg("Acknowledged replayed completion callback")
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *GenerationHandler) writeServiceError(w http.ResponseWriter, err error) {
	token := generation.ErrorToken(err)
	switch {
	case errors.Is(err, generation.ErrEmissionNotFound), errors.Is(err, generation.ErrRowNotFound):
		WriteError(w, http.StatusNotFound, token, err.Error())
	case errors.Is(err, generation.ErrNoDataSetRows),
		errors.Is(err, generation.ErrNoFailedRows),
		errors.Is(err, generation.ErrNotReady):
		WriteError(w, http.StatusConflict, token, err.Error())
	case errors.Is(err, generation.ErrDispatchFailed):
		WriteError(w, http.StatusBadGateway, token, err.Error())
	default:
		h.logger.Error().Err(err).Msg("Generation request failed")
		WriteError(w, http.StatusInternalServerError, "", "Internal server error")
	}
}
