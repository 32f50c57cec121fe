package models

// ProgressEventType identifies the kind of live progress notification.
type ProgressEventType string

const (
	EventRowCompleted ProgressEventType = "row-completed"
	EventEmailSent    ProgressEventType = "email-sent"
)

// ProgressEvent is a transport-only notification fanned out to clients
// subscribed to a resource (emission) id. Best-effort delivery: events carry
// no persistence or ordering guarantee, durable state is always re-derivable
// from the row store.
type ProgressEvent struct {
	Type       ProgressEventType `json:"type"`
	ResourceID string            `json:"resource_id"`
	Payload    interface{}       `json:"payload,omitempty"`
}

// RowCompletedPayload is the payload of a row-completed event.
type RowCompletedPayload struct {
	RowID   string       `json:"rowId"`
	Success bool         `json:"success"`
	Counts  StatusCounts `json:"counts,omitempty"`
	Batch   BatchStatus  `json:"batch,omitempty"`
}

// EmailSentPayload is the payload of an email-sent event.
type EmailSentPayload struct {
	RowID     string `json:"rowId"`
	Recipient string `json:"recipient"`
	Success   bool   `json:"success"`
}
