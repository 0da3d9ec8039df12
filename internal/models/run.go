package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusSuccess RunStatus = "success"
	RunStatusFailed  RunStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSuccess || s == RunStatusFailed
}

// CanTransitionTo reports whether s -> next is a legal transition. Only
// running -> success and running -> failed exist.
func (s RunStatus) CanTransitionTo(next RunStatus) bool {
	return s == RunStatusRunning && next.IsTerminal()
}

// ParseRunStatus converts a stored status into a RunStatus.
func ParseRunStatus(s string) (RunStatus, error) {
	switch RunStatus(s) {
	case RunStatusRunning, RunStatusSuccess, RunStatusFailed:
		return RunStatus(s), nil
	}
	return "", fmt.Errorf("unknown run status %q", s)
}

// Run is one processing attempt of one file.
type Run struct {
	RunID             uuid.UUID  `json:"run_id"`
	SourceFile        string     `json:"source_file"`
	Checksum          string     `json:"file_checksum_sha256"`
	StartedAt         time.Time  `json:"started_at"`
	EndedAt           *time.Time `json:"ended_at,omitempty"`
	Status            RunStatus  `json:"status"`
	RowsInFile        int        `json:"rows_in_file"`
	RowsLoadedStaging int        `json:"rows_loaded_staging"`
	RowsValid         int        `json:"rows_valid"`
	RowsRejected      int        `json:"rows_rejected"`
	Message           *string    `json:"message,omitempty"`
}

// RunMetrics are the counters written by UpdateRunMetrics. They overwrite,
// never increment.
type RunMetrics struct {
	RowsLoadedStaging int
	RowsValid         int
	RowsRejected      int
}
