package common

import (
	"github.com/google/uuid"
)

// NewEmissionID generates a unique certificate emission ID
// Format: em_<uuid>
func NewEmissionID() string {
	return "em_" + uuid.New().String()
}

// NewRowID generates a unique data source row ID
// Format: row_<uuid>
func NewRowID() string {
	return "row_" + uuid.New().String()
}

// NewEmailRunID generates a unique email run ID
// Format: mail_<uuid>
func NewEmailRunID() string {
	return "mail_" + uuid.New().String()
}

// NewSubscriberID generates a unique progress subscriber handle
// Format: sub_<uuid>
func NewSubscriberID() string {
	return "sub_" + uuid.New().String()
}
