package models

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrRunNotFound is returned when a run id has no ledger record.
	ErrRunNotFound     = errors.New("run not found")
	ErrReadingNotFound = errors.New("reading not found")
)

// HeaderError is raised when a file header does not match ExpectedHeader.
type HeaderError struct {
	Expected     []string
	Got          []string
	Missing      []string
	Extra        []string
	OrderProblem bool
}

func (e *HeaderError) Error() string {
	if e.Got == nil {
		return "CSV header row is missing"
	}
	details := []string{
		fmt.Sprintf("expected=[%s]", strings.Join(e.Expected, ",")),
		fmt.Sprintf("got=[%s]", strings.Join(e.Got, ",")),
	}
	if len(e.Missing) > 0 {
		details = append(details, fmt.Sprintf("missing=[%s]", strings.Join(e.Missing, ",")))
	}
	if len(e.Extra) > 0 {
		details = append(details, fmt.Sprintf("extra=[%s]", strings.Join(e.Extra, ",")))
	}
	if e.OrderProblem {
		details = append(details, "order_mismatch=true")
	}
	return "CSV header mismatch: " + strings.Join(details, "; ")
}

// LoadError is raised when rows cannot be bulk loaded into staging.
type LoadError struct {
	SourceFile string
	Err        error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("staging load failed for %s: %v", e.SourceFile, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// TransformError is raised when the transform step fails and is rolled back.
type TransformError struct {
	RunID uuid.UUID
	Err   error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("transform failed for run %s: %v", e.RunID, e.Err)
}

func (e *TransformError) Unwrap() error { return e.Err }

// RoutingError is raised when a file cannot be moved after its outcome is known.
type RoutingError struct {
	Path   string
	DstDir string
	Err    error
}

func (e *RoutingError) Error() string {
	return fmt.Sprintf("failed to move %s to %s: %v", e.Path, e.DstDir, e.Err)
}

func (e *RoutingError) Unwrap() error { return e.Err }

// LedgerConsistencyError signals an illegal run transition. It always
// indicates an orchestration bug, never bad input.
type LedgerConsistencyError struct {
	RunID   uuid.UUID
	Op      string
	Current RunStatus
	Target  RunStatus
}

func (e *LedgerConsistencyError) Error() string {
	if e.Target == "" {
		return fmt.Sprintf("cannot %s run %s in status %s", e.Op, e.RunID, e.Current)
	}
	return fmt.Sprintf("illegal run transition for %s: %s -> %s", e.RunID, e.Current, e.Target)
}

// Failure-log reason codes.
const (
	FailureCSVFormat    = "csv_format_error"
	FailureStagingCopy  = "staging_copy_error"
	FailureTransform    = "transform_error"
	FailureFileIO       = "file_io_error"
	FailureDatabase     = "database_error"
	FailureLedger       = "ledger_consistency_error"
	FailureProcessing   = "processing_error"
	FailureRoutingError = "routing_error"
)

// ClassifyError maps an error onto a failure-log reason code.
func ClassifyError(err error) string {
	var (
		headerErr *HeaderError
		loadErr   *LoadError
		xformErr  *TransformError
		routeErr  *RoutingError
		ledgerErr *LedgerConsistencyError
		fileErr   *FileError
		dbErr     *DatabaseError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &headerErr):
		return FailureCSVFormat
	case errors.As(err, &loadErr):
		return FailureStagingCopy
	case errors.As(err, &xformErr):
		return FailureTransform
	case errors.As(err, &routeErr):
		return FailureRoutingError
	case errors.As(err, &ledgerErr):
		return FailureLedger
	case errors.As(err, &fileErr):
		return FailureFileIO
	case errors.As(err, &dbErr):
		return FailureDatabase
	}
	return FailureProcessing
}

// FileError wraps a filesystem failure with the path involved.
type FileError struct {
	Path string
	Op   string
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FileError) Unwrap() error { return e.Err }

// DatabaseError wraps a storage-layer failure outside staging and transform.
type DatabaseError struct {
	Op  string
	Err error
}

func (e *DatabaseError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *DatabaseError) Unwrap() error { return e.Err }
