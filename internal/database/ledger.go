package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ThiagoRGoveia/sensor-elt/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"go.uber.org/zap"
)

const runColumns = `run_id, source_file, file_checksum_sha256, started_at, ended_at, status,
	rows_in_file, rows_loaded_staging, rows_valid, rows_rejected, message`

const defaultRunListLimit = 50

// OpenRun inserts a new run in status running and returns its id.
func (m *PostgresDBManager) OpenRun(ctx context.Context, sourceFile, checksum string, rowsInFile int) (uuid.UUID, error) {
	runID := uuid.New()
	query := `
	INSERT INTO elt_runs (run_id, source_file, file_checksum_sha256, started_at, status, rows_in_file)
	VALUES ($1, $2, $3, now(), $4, $5);`

	if _, err := m.dbpool.Exec(ctx, query, runID, sourceFile, checksum, string(models.RunStatusRunning), rowsInFile); err != nil {
		return uuid.Nil, &models.DatabaseError{Op: "open run", Err: err}
	}

	m.logger.Debug("run opened", zap.String("run_id", runID.String()), zap.String("source_file", sourceFile))
	return runID, nil
}

// UpdateRunMetrics overwrites the counters of a running run.
func (m *PostgresDBManager) UpdateRunMetrics(ctx context.Context, runID uuid.UUID, metrics models.RunMetrics) error {
	query := `
	UPDATE elt_runs
	SET rows_loaded_staging = $2,
		rows_valid = $3,
		rows_rejected = $4
	WHERE run_id = $1 AND status = 'running';`

	tag, err := m.dbpool.Exec(ctx, query, runID, metrics.RowsLoadedStaging, metrics.RowsValid, metrics.RowsRejected)
	if err != nil {
		return &models.DatabaseError{Op: "update run metrics", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return m.guardFailure(ctx, runID, "update metrics of", "")
	}
	return nil
}

// FinalizeRun moves a running run to a terminal status. Any other transition
// is a *models.LedgerConsistencyError.
func (m *PostgresDBManager) FinalizeRun(ctx context.Context, runID uuid.UUID, status models.RunStatus, message *string) error {
	if !status.IsTerminal() {
		return fmt.Errorf("finalize requires a terminal status, got %q", status)
	}

	return m.WithTx(ctx, func(tx pgx.Tx) error {
		var current string
		err := tx.QueryRow(ctx, `SELECT status FROM elt_runs WHERE run_id = $1 FOR UPDATE;`, runID).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return models.ErrRunNotFound
		}
		if err != nil {
			return &models.DatabaseError{Op: "lock run", Err: err}
		}

		currentStatus, err := models.ParseRunStatus(current)
		if err != nil {
			return &models.DatabaseError{Op: "lock run", Err: err}
		}
		if !currentStatus.CanTransitionTo(status) {
			return &models.LedgerConsistencyError{RunID: runID, Op: "finalize", Current: currentStatus, Target: status}
		}

		query := `
		UPDATE elt_runs
		SET status = $2,
			ended_at = now(),
			message = $3
		WHERE run_id = $1 AND status = 'running';`
		if _, err := tx.Exec(ctx, query, runID, string(status), message); err != nil {
			return &models.DatabaseError{Op: "finalize run", Err: err}
		}
		return nil
	})
}

// AppendRunMessage adds an informational line to a run's message. It is the
// only write allowed on a terminal run.
func (m *PostgresDBManager) AppendRunMessage(ctx context.Context, runID uuid.UUID, message string) error {
	query := `
	UPDATE elt_runs
	SET message = CASE
		WHEN message IS NULL OR message = '' THEN $2
		ELSE message || E'\n' || $2
	END
	WHERE run_id = $1;`

	tag, err := m.dbpool.Exec(ctx, query, runID, message)
	if err != nil {
		return &models.DatabaseError{Op: "append run message", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return models.ErrRunNotFound
	}
	return nil
}

func (m *PostgresDBManager) GetRun(ctx context.Context, runID uuid.UUID) (*models.Run, error) {
	query := `SELECT ` + runColumns + ` FROM elt_runs WHERE run_id = $1;`

	run, err := scanRun(m.dbpool.QueryRow(ctx, query, runID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrRunNotFound
	}
	if err != nil {
		return nil, &models.DatabaseError{Op: "get run", Err: err}
	}
	return run, nil
}

// ListRuns returns runs newest first.
func (m *PostgresDBManager) ListRuns(ctx context.Context, filter RunFilter) ([]models.Run, error) {
	query, args := buildListRunsQuery(filter)

	rows, err := m.dbpool.Query(ctx, query, args...)
	if err != nil {
		return nil, &models.DatabaseError{Op: "list runs", Err: err}
	}
	defer rows.Close()

	runs := make([]models.Run, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, &models.DatabaseError{Op: "scan run", Err: err}
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, &models.DatabaseError{Op: "list runs", Err: err}
	}
	return runs, nil
}

// IsFileAlreadyProcessed reports whether a success run exists for this file
// name and content digest.
func (m *PostgresDBManager) IsFileAlreadyProcessed(ctx context.Context, sourceFile, checksum string) (bool, error) {
	query := `
	SELECT run_id
	FROM elt_runs
	WHERE source_file = $1 AND file_checksum_sha256 = $2 AND status = 'success'
	LIMIT 1;`

	var runID uuid.UUID
	err := m.dbpool.QueryRow(ctx, query, sourceFile, checksum).Scan(&runID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, &models.DatabaseError{Op: "checksum lookup", Err: err}
	}
	return true, nil
}

// guardFailure explains why a guarded update touched no row.
func (m *PostgresDBManager) guardFailure(ctx context.Context, runID uuid.UUID, op string, target models.RunStatus) error {
	run, err := m.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	return &models.LedgerConsistencyError{RunID: runID, Op: op, Current: run.Status, Target: target}
}

func buildListRunsQuery(filter RunFilter) (string, []any) {
	var (
		conditions []string
		args       []any
	)
	if filter.SourceFile != "" {
		args = append(args, filter.SourceFile)
		conditions = append(conditions, fmt.Sprintf("source_file = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultRunListLimit
	}
	args = append(args, limit)

	var sb strings.Builder
	sb.WriteString(`SELECT ` + runColumns + ` FROM elt_runs`)
	if len(conditions) > 0 {
		sb.WriteString(" WHERE " + strings.Join(conditions, " AND "))
	}
	sb.WriteString(fmt.Sprintf(" ORDER BY started_at DESC LIMIT $%d;", len(args)))
	return sb.String(), args
}

func scanRun(row rowScanner) (*models.Run, error) {
	var (
		run     models.Run
		status  string
		endedAt pgtype.Timestamptz
		message pgtype.Text
	)

	err := row.Scan(
		&run.RunID, &run.SourceFile, &run.Checksum, &run.StartedAt, &endedAt, &status,
		&run.RowsInFile, &run.RowsLoadedStaging, &run.RowsValid, &run.RowsRejected, &message,
	)
	if err != nil {
		return nil, err
	}

	run.Status, err = models.ParseRunStatus(status)
	if err != nil {
		return nil, err
	}
	if endedAt.Valid {
		t := endedAt.Time
		run.EndedAt = &t
	}
	if message.Valid {
		msg := message.String
		run.Message = &msg
	}
	return &run, nil
}
