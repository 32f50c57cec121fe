package generation

import "errors"

// Sentinel errors mapped to stable errorType tokens on the HTTP surface.
var (
	// ErrEmissionNotFound means the emission id does not exist.
	ErrEmissionNotFound = errors.New("emission not found")

	// ErrRowNotFound means a completion callback referenced an unknown row.
	ErrRowNotFound = errors.New("data source row not found")

	// ErrNoDataSetRows means generation was requested on a batch with no rows.
	ErrNoDataSetRows = errors.New("no data set rows")

	// ErrNoFailedRows means retry was requested with no FAILED rows.
	ErrNoFailedRows = errors.New("no failed data source rows")

	// ErrNotReady means the emission is missing a template, a data source,
	// or a complete variable mapping.
	ErrNotReady = errors.New("emission is not ready for generation")

	// ErrDispatchFailed wraps a render service trigger failure after the
	// compensating revert has run.
	ErrDispatchFailed = errors.New("failed to trigger render service")
)

// ErrorToken returns the stable machine-readable token for a service error,
// or an empty string for errors without one.
func ErrorToken(err error) string {
	switch {
	case errors.Is(err, ErrNoDataSetRows):
		return "no-data-set-rows"
	case errors.Is(err, ErrNoFailedRows):
		return "no-failed-data-source-rows"
	case errors.Is(err, ErrNotReady):
		return "emission-not-ready"
	case errors.Is(err, ErrDispatchFailed):
		return "dispatch-failed"
	case errors.Is(err, ErrEmissionNotFound), errors.Is(err, ErrRowNotFound):
		return "not-found"
	default:
		return ""
	}
}
