package models

import (
	"time"
)

// ProcessingStatus is the closed set of per-row generation states.
//
// Forward transitions only:
//
//	PENDING -> RUNNING -> {COMPLETED, FAILED}
//	FAILED  -> RETRYING -> {COMPLETED, FAILED}
//
// A row never re-enters PENDING through the generation pipeline; only a
// template or data source edit resets rows to PENDING.
type ProcessingStatus string

const (
	StatusPending   ProcessingStatus = "PENDING"
	StatusRunning   ProcessingStatus = "RUNNING"
	StatusRetrying  ProcessingStatus = "RETRYING"
	StatusCompleted ProcessingStatus = "COMPLETED"
	StatusFailed    ProcessingStatus = "FAILED"
)

// IsTerminal reports whether the status is a final generation outcome.
func (s ProcessingStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// IsActive reports whether a generation is in flight for the row.
func (s ProcessingStatus) IsActive() bool {
	return s == StatusRunning || s == StatusRetrying
}

// CanTransitionTo reports whether the state machine permits moving to next.
func (s ProcessingStatus) CanTransitionTo(next ProcessingStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusRunning
	case StatusRunning:
		return next == StatusCompleted || next == StatusFailed
	case StatusRetrying:
		return next == StatusCompleted || next == StatusFailed
	case StatusFailed:
		return next == StatusRetrying
	case StatusCompleted:
		return false
	}
	return false
}

// DataSourceRow is one data source record and its single expected output artifact.
type DataSourceRow struct {
	ID             string            `json:"id" badgerhold:"key"`
	EmissionID     string            `json:"emission_id" badgerhold:"index"`
	Data           map[string]string `json:"data"`
	Status         ProcessingStatus  `json:"status" badgerhold:"index"`
	OutputByteSize *int64            `json:"output_byte_size,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// StatusCounts maps each processing status to the number of rows holding it.
type StatusCounts map[ProcessingStatus]int

// Total returns the total row count across all statuses.
func (c StatusCounts) Total() int {
	total := 0
	for _, n := range c {
		total += n
	}
	return total
}

// BatchStatus is the derived aggregate status of an emission's row set.
// It is always recomputed from row status counts and never persisted.
type BatchStatus string

const (
	BatchNotStarted BatchStatus = "not-started"
	BatchInProgress BatchStatus = "in-progress"
	BatchDone       BatchStatus = "done"
)

// DeriveBatchStatus computes the aggregate batch status from row status counts.
//
// Rule: in-progress iff any row is RUNNING or RETRYING; done iff every row is
// terminal; otherwise not-started (covers all-PENDING and a terminal/PENDING
// mix with nothing in flight). Done does not imply success - callers inspect
// the FAILED count separately.
func DeriveBatchStatus(counts StatusCounts) BatchStatus {
	if counts[StatusRunning] > 0 || counts[StatusRetrying] > 0 {
		return BatchInProgress
	}
	if counts[StatusPending] > 0 || counts.Total() == 0 {
		return BatchNotStarted
	}
	return BatchDone
}
