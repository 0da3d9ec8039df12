package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/ThiagoRGoveia/sensor-elt/internal/models"
	"github.com/ThiagoRGoveia/sensor-elt/internal/transform"
	"github.com/ThiagoRGoveia/sensor-elt/pkg/checksum"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

const (
	stagingTable  = "staging_temperature_raw"
	readingsTable = "temperature_readings"
	rejectsTable  = "temperature_rejects"
	tmpReadings   = "tmp_temperature_readings"
)

var stagingColumns = []string{
	"run_id", "source_file", "row_num", "id", "room_id_raw", "noted_date_raw", "temp_raw", "location_raw", "row_hash",
}

// CopyRowsIntoStaging bulk loads records for runID. Row numbers start at 1 and
// follow file order. Any failure is a *models.LoadError and nothing is kept.
func (m *PostgresDBManager) CopyRowsIntoStaging(ctx context.Context, runID uuid.UUID, sourceFile string, records []models.RawRecord) (int, error) {
	copySource := pgx.CopyFromSlice(len(records), func(i int) ([]any, error) {
		record := records[i]
		return []any{
			runID, sourceFile, i + 1,
			record.ID, record.RoomID, record.NotedDate, record.Temp, record.Location,
			checksum.CalculateRowHash(record.Fields()),
		}, nil
	})

	m.logger.Debug("bulk loading staging rows",
		zap.String("run_id", runID.String()),
		zap.String("source_file", sourceFile),
		zap.Int("rows", len(records)),
	)

	copied, err := m.dbpool.CopyFrom(ctx, pgx.Identifier{stagingTable}, stagingColumns, copySource)
	if err != nil {
		return 0, &models.LoadError{SourceFile: sourceFile, Err: err}
	}
	return int(copied), nil
}

// RunTransform classifies the staged rows of runID and applies the result in
// one transaction: curated upserts and reject inserts commit together or not
// at all. stagedRows is the count reported by the load; if staging holds a
// different number of rows, or the classification does not account for every
// row, nothing is written.
func (m *PostgresDBManager) RunTransform(ctx context.Context, runID uuid.UUID, stagedRows int) (models.TransformResult, error) {
	var result transform.Result

	err := m.WithTx(ctx, func(tx pgx.Tx) error {
		rows, err := m.selectStagedRows(ctx, tx, runID)
		if err != nil {
			return err
		}
		if len(rows) != stagedRows {
			return fmt.Errorf("row count mismatch: staging holds %d rows, load reported %d", len(rows), stagedRows)
		}

		result = transform.Classify(rows)
		if counts := result.Counts(); counts.RowsValid+counts.RowsRejected != len(rows) {
			return fmt.Errorf("row count mismatch: valid=%d rejected=%d staged=%d", counts.RowsValid, counts.RowsRejected, len(rows))
		}

		if err := m.upsertReadings(ctx, tx, result.Valid); err != nil {
			return err
		}
		return m.insertRejects(ctx, tx, result.Rejects)
	})
	if err != nil {
		return models.TransformResult{}, &models.TransformError{RunID: runID, Err: err}
	}

	counts := result.Counts()
	m.logger.Debug("transform applied",
		zap.String("run_id", runID.String()),
		zap.Int("rows_valid", counts.RowsValid),
		zap.Int("rows_rejected", counts.RowsRejected),
	)
	return counts, nil
}

// PurgeStaging deletes the staged rows of a finished run.
func (m *PostgresDBManager) PurgeStaging(ctx context.Context, runID uuid.UUID) (int64, error) {
	tag, err := m.dbpool.Exec(ctx, `DELETE FROM staging_temperature_raw WHERE run_id = $1;`, runID)
	if err != nil {
		return 0, &models.DatabaseError{Op: "purge staging", Err: err}
	}
	return tag.RowsAffected(), nil
}

func (m *PostgresDBManager) selectStagedRows(ctx context.Context, tx pgx.Tx, runID uuid.UUID) ([]models.StagedRow, error) {
	query := `
	SELECT run_id, source_file, row_num,
		COALESCE(id, ''), COALESCE(room_id_raw, ''), COALESCE(noted_date_raw, ''),
		COALESCE(temp_raw, ''), COALESCE(location_raw, ''), COALESCE(row_hash, ''), loaded_at
	FROM staging_temperature_raw
	WHERE run_id = $1
	ORDER BY row_num;`

	rows, err := tx.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("error selecting staged rows: %w", err)
	}
	defer rows.Close()

	var staged []models.StagedRow
	for rows.Next() {
		var row models.StagedRow
		err := rows.Scan(
			&row.RunID, &row.SourceFile, &row.RowNum,
			&row.Raw.ID, &row.Raw.RoomID, &row.Raw.NotedDate, &row.Raw.Temp, &row.Raw.Location,
			&row.RowHash, &row.LoadedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("error scanning staged row: %w", err)
		}
		staged = append(staged, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating staged rows: %w", err)
	}
	return staged, nil
}

// upsertReadings copies valid rows into a transaction-scoped temp table and
// promotes them with a single insert-or-overwrite keyed by id.
func (m *PostgresDBManager) upsertReadings(ctx context.Context, tx pgx.Tx, readings []models.Reading) error {
	if len(readings) == 0 {
		return nil
	}

	createTmp := `
	CREATE TEMP TABLE tmp_temperature_readings (
		id TEXT NOT NULL,
		room_id TEXT NOT NULL,
		reading_ts TIMESTAMPTZ NOT NULL,
		temp_c DOUBLE PRECISION NOT NULL,
		location TEXT NOT NULL,
		source_file TEXT
	) ON COMMIT DROP;`
	if _, err := tx.Exec(ctx, createTmp); err != nil {
		return fmt.Errorf("error creating temp readings table: %w", err)
	}

	copySource := pgx.CopyFromSlice(len(readings), func(i int) ([]any, error) {
		r := readings[i]
		return []any{r.ID, r.RoomID, r.ReadingTS, r.TempC, string(r.Location), r.SourceFile}, nil
	})
	_, err := tx.CopyFrom(ctx, pgx.Identifier{tmpReadings},
		[]string{"id", "room_id", "reading_ts", "temp_c", "location", "source_file"}, copySource)
	if err != nil {
		return fmt.Errorf("unable to copy readings to %s: %w", tmpReadings, err)
	}

	upsert := `
	INSERT INTO temperature_readings (id, room_id, reading_ts, temp_c, location, source_file, ingested_at)
	SELECT id, room_id, reading_ts, temp_c, location, source_file, now()
	FROM tmp_temperature_readings
	ON CONFLICT (id) DO UPDATE SET
		room_id = EXCLUDED.room_id,
		reading_ts = EXCLUDED.reading_ts,
		temp_c = EXCLUDED.temp_c,
		location = EXCLUDED.location,
		source_file = EXCLUDED.source_file,
		ingested_at = EXCLUDED.ingested_at;`
	tag, err := tx.Exec(ctx, upsert)
	if err != nil {
		return fmt.Errorf("error upserting into %s: %w", readingsTable, err)
	}
	if int(tag.RowsAffected()) != len(readings) {
		return fmt.Errorf("row count mismatch: upserted %d of %d readings", tag.RowsAffected(), len(readings))
	}
	return nil
}

func (m *PostgresDBManager) insertRejects(ctx context.Context, tx pgx.Tx, rejects []models.Reject) error {
	if len(rejects) == 0 {
		return nil
	}

	copySource := pgx.CopyFromSlice(len(rejects), func(i int) ([]any, error) {
		r := rejects[i]
		return []any{r.RunID, r.SourceFile, r.RowNum, r.Raw.Payload(), string(r.Reason)}, nil
	})
	copied, err := tx.CopyFrom(ctx, pgx.Identifier{rejectsTable},
		[]string{"run_id", "source_file", "row_num", "raw_row", "reason"}, copySource)
	if err != nil {
		return fmt.Errorf("unable to copy rejects to %s: %w", rejectsTable, err)
	}
	if int(copied) != len(rejects) {
		return fmt.Errorf("row count mismatch: copied %d of %d rejects", copied, len(rejects))
	}
	return nil
}

// GetReading returns the curated row for a natural key.
func (m *PostgresDBManager) GetReading(ctx context.Context, id string) (*models.Reading, error) {
	query := `
	SELECT id, room_id, reading_ts, temp_c, location, COALESCE(source_file, ''), ingested_at
	FROM temperature_readings
	WHERE id = $1;`

	var (
		reading  models.Reading
		location string
	)
	err := m.dbpool.QueryRow(ctx, query, id).Scan(
		&reading.ID, &reading.RoomID, &reading.ReadingTS, &reading.TempC, &location, &reading.SourceFile, &reading.IngestedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrReadingNotFound
	}
	if err != nil {
		return nil, &models.DatabaseError{Op: "get reading", Err: err}
	}
	reading.Location = models.Location(location)
	reading.ReadingTS = reading.ReadingTS.UTC()
	return &reading, nil
}
