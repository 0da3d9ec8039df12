package router

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// NoRunID is written when a failure happens before a run exists.
const NoRunID = "-"

// FailureLog is an append-only text file with one line per file-level
// failure. It is never truncated or rotated.
type FailureLog struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

func NewFailureLog(path string) *FailureLog {
	return &FailureLog{path: path, now: time.Now}
}

func (l *FailureLog) Path() string {
	return l.path
}

// Append writes `[ts] file=<name> run_id=<id> reason=<reason> details=<details>`.
func (l *FailureLog) Append(fileName, runID, reason, details string) error {
	if runID == "" {
		runID = NoRunID
	}
	line := FormatLine(l.now(), fileName, runID, reason, details)

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("error creating failure log directory: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("error opening failure log: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("error writing failure log: %w", err)
	}
	return nil
}

// FormatLine renders one failure log line. Line breaks inside details are
// folded so each failure stays on a single line.
func FormatLine(ts time.Time, fileName, runID, reason, details string) string {
	details = strings.Join(strings.Fields(strings.ReplaceAll(details, "\n", " | ")), " ")
	return fmt.Sprintf("[%s] file=%s run_id=%s reason=%s details=%s\n",
		ts.UTC().Format(time.RFC3339), fileName, runID, reason, details)
}
