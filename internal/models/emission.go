package models

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ColumnType is the declared type of a data source column. Row values are
// validated against it when a data source is attached.
type ColumnType string

const (
	ColumnString  ColumnType = "string"
	ColumnNumber  ColumnType = "number"
	ColumnBoolean ColumnType = "boolean"
	ColumnDate    ColumnType = "date"
)

// Column describes one named, typed data source column.
type Column struct {
	Name string     `json:"name"`
	Type ColumnType `json:"type"`
}

// Template is the document template attached to an emission. The file itself
// lives in bucket storage; only its location and placeholder variables are
// tracked here.
type Template struct {
	StorageFileURL string    `json:"storage_file_url"`
	FileExtension  string    `json:"file_extension"`
	Variables      []string  `json:"variables"`
	AddedAt        time.Time `json:"added_at"`
}

// DataSource describes the tabular source attached to an emission. Row
// contents are stored separately as DataSourceRow records.
type DataSource struct {
	Name     string    `json:"name"`
	Columns  []Column  `json:"columns"`
	RowCount int       `json:"row_count"`
	AddedAt  time.Time `json:"added_at"`
}

// CertificateEmission is one template + data source pairing and the parent of
// a batch of generated certificates.
type CertificateEmission struct {
	ID                    string            `json:"id" badgerhold:"key"`
	Name                  string            `json:"name"`
	UserID                string            `json:"user_id" badgerhold:"index"`
	Template              *Template         `json:"template,omitempty"`
	DataSource            *DataSource       `json:"data_source,omitempty"`
	VariableColumnMapping map[string]string `json:"variable_column_mapping,omitempty"`
	CreatedAt             time.Time         `json:"created_at"`
	UpdatedAt             time.Time         `json:"updated_at"`
	DeletedAt             *time.Time        `json:"deleted_at,omitempty"`
}

// HasTemplate reports whether a template is attached.
func (e *CertificateEmission) HasTemplate() bool {
	return e.Template != nil
}

// HasDataSource reports whether a data source is attached.
func (e *CertificateEmission) HasDataSource() bool {
	return e.DataSource != nil
}

// UnmappedVariables returns template variables without a column mapping to an
// existing data source column. Generation requires this to be empty.
func (e *CertificateEmission) UnmappedVariables() []string {
	if e.Template == nil {
		return nil
	}

	columns := map[string]bool{}
	if e.DataSource != nil {
		for _, c := range e.DataSource.Columns {
			columns[c.Name] = true
		}
	}

	var unmapped []string
	for _, v := range e.Template.Variables {
		mapped, ok := e.VariableColumnMapping[v]
		if !ok || !columns[mapped] {
			unmapped = append(unmapped, v)
		}
	}
	return unmapped
}

// templateVarPattern matches {{variable}} placeholders in template text.
var templateVarPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.-]+)\s*\}\}`)

// ExtractTemplateVariables returns the distinct placeholder names found in
// template text, in first-seen order.
func ExtractTemplateVariables(text string) []string {
	seen := map[string]bool{}
	var vars []string
	for _, m := range templateVarPattern.FindAllStringSubmatch(text, -1) {
		name := m[1]
		if !seen[name] {
			seen[name] = true
			vars = append(vars, name)
		}
	}
	return vars
}

// ValidateCellValue checks a raw cell value against the column's declared type.
func ValidateCellValue(value string, columnType ColumnType) bool {
	switch columnType {
	case ColumnString:
		return true
	case ColumnNumber:
		_, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		return err == nil
	case ColumnBoolean:
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "true", "false", "1", "0", "yes", "no":
			return true
		}
		return false
	case ColumnDate:
		trimmed := strings.TrimSpace(value)
		for _, layout := range []string{time.RFC3339, "2006-01-02", "02/01/2006", "01/02/2006"} {
			if _, err := time.Parse(layout, trimmed); err == nil {
				return true
			}
		}
		return false
	}
	return false
}
