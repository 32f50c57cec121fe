package models

import "time"

// EmailRunStatus tracks an email sending pass over an emission's rows.
type EmailRunStatus string

const (
	EmailRunRunning   EmailRunStatus = "RUNNING"
	EmailRunCompleted EmailRunStatus = "COMPLETED"
	EmailRunFailed    EmailRunStatus = "FAILED"
)

// EmailRun records one request to email generated certificates to the
// recipients listed in a data source column.
type EmailRun struct {
	ID              string         `json:"id" badgerhold:"key"`
	EmissionID      string         `json:"emission_id" badgerhold:"index"`
	RecipientColumn string         `json:"recipient_column"`
	Subject         string         `json:"subject"`
	Body            string         `json:"body"`
	Status          EmailRunStatus `json:"status"`
	SentCount       int            `json:"sent_count"`
	FailedCount     int            `json:"failed_count"`
	CreatedAt       time.Time      `json:"created_at"`
	FinishedAt      *time.Time     `json:"finished_at,omitempty"`
}
