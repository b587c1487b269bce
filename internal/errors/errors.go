// Package errors defines stable error codes for all dorametrics failure modes.
//
// Three severities exist, matching how the pipeline reacts:
// data-quality codes are informational (processing continues), validation
// codes are fatal for a single row (row is quarantined), and integrity codes
// abort the run before anything is written.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents stable error codes for all failure modes
type ErrorCode string

const (
	// OrphanedCommit indicates a commit with no resolvable owning PR
	OrphanedCommit ErrorCode = "ORPHANED_COMMIT"
	// AmbiguousAssociation indicates a commit claimed by more than one PR
	AmbiguousAssociation ErrorCode = "AMBIGUOUS_ASSOCIATION"
	// DanglingDeployment indicates a deployment referencing an unknown commit SHA
	DanglingDeployment ErrorCode = "DANGLING_DEPLOYMENT"
	// NegativeLeadTime indicates a deployment timestamped before its earliest commit
	NegativeLeadTime ErrorCode = "NEGATIVE_LEAD_TIME"

	// MalformedRow indicates a row that could not be parsed during import
	MalformedRow ErrorCode = "MALFORMED_ROW"
	// DuplicateKey indicates a duplicate primary key in imported data
	DuplicateKey ErrorCode = "DUPLICATE_KEY"

	// WatermarkCorrupt indicates the watermark file could not be parsed
	WatermarkCorrupt ErrorCode = "WATERMARK_CORRUPT"
	// DatasetUnreadable indicates the prior master dataset could not be read or parsed
	DatasetUnreadable ErrorCode = "DATASET_UNREADABLE"
	// StorageFailure indicates the storage backend failed a read or write
	StorageFailure ErrorCode = "STORAGE_FAILURE"
	// ExtractionFailure indicates an extractor collaborator failed
	ExtractionFailure ErrorCode = "EXTRACTION_FAILURE"
	// InternalError indicates an unexpected error
	InternalError ErrorCode = "INTERNAL_ERROR"
)

// Severity classifies how the pipeline reacts to an error code
type Severity string

const (
	// SeverityWarning never aborts anything; recorded in the run report
	SeverityWarning Severity = "warning"
	// SeverityRow quarantines the offending row; the run continues
	SeverityRow Severity = "row"
	// SeverityRun aborts the whole run before output is written
	SeverityRun Severity = "run"
)

var codeSeverity = map[ErrorCode]Severity{
	OrphanedCommit:       SeverityWarning,
	AmbiguousAssociation: SeverityWarning,
	DanglingDeployment:   SeverityWarning,
	NegativeLeadTime:     SeverityWarning,
	MalformedRow:         SeverityRow,
	DuplicateKey:         SeverityRow,
	WatermarkCorrupt:     SeverityRun,
	DatasetUnreadable:    SeverityRun,
	StorageFailure:       SeverityRun,
	ExtractionFailure:    SeverityRun,
	InternalError:        SeverityRun,
}

// SeverityOf returns the pipeline reaction for an error code
func SeverityOf(code ErrorCode) Severity {
	if s, ok := codeSeverity[code]; ok {
		return s
	}
	return SeverityRun
}

// DoraError represents a dorametrics error with a stable code and message
type DoraError struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
	cause   error       // Underlying error (not exported to JSON)
}

// New creates a new DoraError
func New(code ErrorCode, message string, cause error) *DoraError {
	return &DoraError{
		Code:    code,
		Message: message,
		cause:   cause,
	}
}

// Error implements the error interface
func (e *DoraError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DoraError) Unwrap() error {
	return e.cause
}

// WithDetails adds details to the error
func (e *DoraError) WithDetails(details interface{}) *DoraError {
	e.Details = details
	return e
}

// IsRunFatal reports whether err carries a run-aborting code
func IsRunFatal(err error) bool {
	var de *DoraError
	if !stderrors.As(err, &de) {
		return true // unknown errors abort by default
	}
	return SeverityOf(de.Code) == SeverityRun
}

// CodeOf returns the stable code carried by err, or InternalError
func CodeOf(err error) ErrorCode {
	var de *DoraError
	if stderrors.As(err, &de) {
		return de.Code
	}
	return InternalError
}

// As re-exports the standard library's As so callers need only this package
func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}

// Is re-exports the standard library's Is
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}
