package database

import (
	"context"

	"github.com/ThiagoRGoveia/sensor-elt/internal/models"
	"github.com/google/uuid"
)

// RunFilter narrows ListRuns. Zero values mean no filter.
type RunFilter struct {
	SourceFile string
	Status     models.RunStatus
	Limit      int
}

type DBManager interface {
	// Run ledger
	OpenRun(ctx context.Context, sourceFile, checksum string, rowsInFile int) (uuid.UUID, error)
	UpdateRunMetrics(ctx context.Context, runID uuid.UUID, metrics models.RunMetrics) error
	FinalizeRun(ctx context.Context, runID uuid.UUID, status models.RunStatus, message *string) error
	AppendRunMessage(ctx context.Context, runID uuid.UUID, message string) error
	GetRun(ctx context.Context, runID uuid.UUID) (*models.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]models.Run, error)

	// Checksum gate
	IsFileAlreadyProcessed(ctx context.Context, sourceFile, checksum string) (bool, error)

	// Staging and transform
	CopyRowsIntoStaging(ctx context.Context, runID uuid.UUID, sourceFile string, records []models.RawRecord) (int, error)
	RunTransform(ctx context.Context, runID uuid.UUID, stagedRows int) (models.TransformResult, error)
	PurgeStaging(ctx context.Context, runID uuid.UUID) (int64, error)

	// Curated reads
	GetReading(ctx context.Context, id string) (*models.Reading, error)

	Ping(ctx context.Context) error
}
