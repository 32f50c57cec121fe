package interfaces

import (
	"context"

	"github.com/Felyppe1/certmill/internal/models"
)

// EmissionPayload is the immutable emission snapshot shipped with a trigger.
type EmissionPayload struct {
	ID                    string            `json:"id"`
	UserID                string            `json:"userId"`
	VariableColumnMapping map[string]string `json:"variableColumnMapping"`
	Template              TemplatePayload   `json:"template"`
	Columns               []models.Column   `json:"columns"`
}

// TemplatePayload locates the template file for the render service.
type TemplatePayload struct {
	StorageFileURL string   `json:"storageFileUrl"`
	FileExtension  string   `json:"fileExtension"`
	Variables      []string `json:"variables"`
}

// RowPayload is one row to render.
type RowPayload struct {
	ID   string            `json:"id"`
	Data map[string]string `json:"data"`
}

// RenderTrigger is the body of an outbound trigger to the render service.
type RenderTrigger struct {
	Emission EmissionPayload `json:"emission"`
	Rows     []RowPayload    `json:"rows"`
}

// ExternalProcessor issues authenticated triggers to the external render
// service. Calls return once the trigger is accepted, never waiting for
// rendering to finish. The processor does not retry transport failures;
// retries operate on persisted row state via the orchestrator.
type ExternalProcessor interface {
	// TriggerBatch asks the render service to process a set of rows.
	TriggerBatch(ctx context.Context, trigger RenderTrigger) error

	// TriggerRowRetry asks the render service to reprocess a single row.
	TriggerRowRetry(ctx context.Context, emission EmissionPayload, row RowPayload) error
}
