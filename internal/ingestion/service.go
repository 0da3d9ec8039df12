package ingestion

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/ThiagoRGoveia/sensor-elt/internal/database"
	"github.com/ThiagoRGoveia/sensor-elt/internal/metrics"
	"github.com/ThiagoRGoveia/sensor-elt/internal/models"
	"github.com/ThiagoRGoveia/sensor-elt/internal/parser"
	"github.com/ThiagoRGoveia/sensor-elt/internal/router"
	"github.com/ThiagoRGoveia/sensor-elt/pkg/checksum"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const conciseMessageLimit = 500

// FileRouter moves files out of landing and records failures.
type FileRouter interface {
	Route(path string, success bool) (string, error)
	LogFailure(fileName, runID, reason, details string) error
}

// Recorder receives per-file and per-scan observations.
type Recorder interface {
	FileProcessed(outcome string)
	RowsTransformed(valid, rejected int)
	Failure(reason string)
	ObserveRun(d time.Duration)
	ScanCompleted(at time.Time)
}

type Options struct {
	// Verbose keeps the full error chain (and stack for panics) in run
	// messages and failure log lines.
	Verbose      bool
	PurgeStaging bool
}

// FileOutcome is what happened to one candidate file.
type FileOutcome struct {
	File               string
	Outcome            string
	RunID              uuid.UUID
	Result             models.TransformResult
	Destination        string
	Err                error
	InvariantViolation bool
}

type IngestionService struct {
	dbManager     database.DBManager
	fileProcessor Processor
	router        FileRouter
	recorder      Recorder
	logger        *zap.Logger
	opts          Options
}

func NewIngestionService(dbManager database.DBManager, processor Processor, fileRouter FileRouter, recorder Recorder, logger *zap.Logger, opts Options) *IngestionService {
	return &IngestionService{
		dbManager:     dbManager,
		fileProcessor: processor,
		router:        fileRouter,
		recorder:      recorder,
		logger:        logger,
		opts:          opts,
	}
}

// Execute processes every eligible file in filesPath, one at a time, in name
// order. A failing file never stops the batch; only a failure to list the
// directory is returned. Cancelling ctx stops the scan between files.
func (h *IngestionService) Execute(ctx context.Context, filesPath string) (models.ScanSummary, error) {
	var summary models.ScanSummary

	files, err := h.fileProcessor.ScanForFiles(filesPath)
	if err != nil {
		h.logger.Error("failed to scan files", zap.String("dir", filesPath), zap.Error(err))
		return summary, err
	}
	h.logger.Info("scan started", zap.String("dir", filesPath), zap.Int("files", len(files)))

	for _, file := range files {
		if ctx.Err() != nil {
			h.logger.Info("scan interrupted", zap.Int("remaining", len(files)-summary.FilesSeen))
			break
		}

		outcome := h.ProcessFile(ctx, file)
		summary.FilesSeen++
		switch outcome.Outcome {
		case metrics.OutcomeSuccess:
			summary.Succeeded++
		case metrics.OutcomeFailed:
			summary.Failed++
		case metrics.OutcomeSkipped:
			summary.Skipped++
		case metrics.OutcomeSchemaRejected:
			summary.SchemaRejected++
		case metrics.OutcomeDeferred:
			summary.Deferred++
		}
		if outcome.InvariantViolation {
			summary.InvariantViolations++
		}
		summary.RowsValid += outcome.Result.RowsValid
		summary.RowsRejected += outcome.Result.RowsRejected
	}

	h.recorder.ScanCompleted(time.Now())
	h.logger.Info("scan finished",
		zap.Int("files_seen", summary.FilesSeen),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
		zap.Int("schema_rejected", summary.SchemaRejected),
		zap.Int("deferred", summary.Deferred),
		zap.Int("invariant_violations", summary.InvariantViolations),
	)
	return summary, nil
}

// ProcessFile drives one file through gate, ledger, staging, transform and
// routing. Once a run is opened it is always finalized and the file is always
// routed exactly once, even when a step panics.
func (h *IngestionService) ProcessFile(ctx context.Context, file models.FileInfo) (outcome FileOutcome) {
	// A file is never cancelled half way.
	ctx = context.WithoutCancel(ctx)
	outcome.File = file.Name
	log := h.logger.With(zap.String("source_file", file.Name))

	var finalized, routeAttempted bool
	defer func() {
		h.recorder.FileProcessed(outcome.Outcome)
	}()
	defer func() {
		if p := recover(); p != nil {
			h.recoverFile(ctx, log, file, &outcome, p, finalized, routeAttempted)
		}
	}()

	digest, err := checksum.GetFileChecksum(file.Path)
	if err != nil {
		return h.postpone(log, file, &models.FileError{Path: file.Path, Op: "checksum", Err: err})
	}

	processed, err := h.dbManager.IsFileAlreadyProcessed(ctx, file.Name, digest)
	if err != nil {
		return h.postpone(log, file, err)
	}
	if processed {
		log.Info("file already processed, skipping", zap.String("checksum", digest))
		outcome.Outcome = metrics.OutcomeSkipped
		return outcome
	}

	if err := parser.ValidateFile(file.Path); err != nil {
		var headerErr *models.HeaderError
		if !errors.As(err, &headerErr) {
			return h.postpone(log, file, err)
		}
		log.Warn("header mismatch, rejecting file", zap.Error(err))
		outcome.Outcome = metrics.OutcomeSchemaRejected
		outcome.Err = err
		h.logFailure(log, file.Name, router.NoRunID, err)
		routeAttempted = true
		outcome.Destination = h.route(ctx, log, file, uuid.Nil, false)
		return outcome
	}

	rowsInFile := parser.CountRows(file.Path)
	runID, err := h.dbManager.OpenRun(ctx, file.Name, digest, rowsInFile)
	if err != nil {
		return h.postpone(log, file, err)
	}
	outcome.RunID = runID
	log = log.With(zap.String("run_id", runID.String()))
	log.Info("run opened", zap.Int("rows_in_file", rowsInFile))

	started := time.Now()
	result, runErr := h.runPipeline(ctx, runID, file)

	if runErr == nil {
		if err := h.dbManager.FinalizeRun(ctx, runID, models.RunStatusSuccess, nil); err != nil {
			runErr = fmt.Errorf("finalize success: %w", err)
		} else {
			finalized = true
		}
	}

	if runErr == nil {
		outcome.Outcome = metrics.OutcomeSuccess
		outcome.Result = result
		h.recorder.RowsTransformed(result.RowsValid, result.RowsRejected)
		log.Info("run succeeded", zap.Int("rows_valid", result.RowsValid), zap.Int("rows_rejected", result.RowsRejected))
	} else {
		outcome.Outcome = metrics.OutcomeFailed
		outcome.Err = runErr
		outcome.InvariantViolation = h.failRun(ctx, log, file, runID, runErr)
		finalized = true
	}
	h.recorder.ObserveRun(time.Since(started))

	if h.opts.PurgeStaging {
		if n, err := h.dbManager.PurgeStaging(ctx, runID); err != nil {
			log.Warn("failed to purge staging", zap.Error(err))
		} else {
			log.Debug("staging purged", zap.Int64("rows", n))
		}
	}

	routeAttempted = true
	outcome.Destination = h.route(ctx, log, file, runID, outcome.Outcome == metrics.OutcomeSuccess)
	return outcome
}

// recoverFile turns a panic outside the run pipeline into a failed outcome.
// An open run that was not finalized yet is finalized as failed, and a file
// not yet handed to the router goes to the error location. Each cleanup step
// contains its own panics so the batch continues.
func (h *IngestionService) recoverFile(ctx context.Context, log *zap.Logger, file models.FileInfo, outcome *FileOutcome, p any, finalized, routeAttempted bool) {
	err := &panicError{value: p, stack: debug.Stack()}
	log.Error("file processing panicked", zap.Error(err))

	outcome.Outcome = metrics.OutcomeFailed
	outcome.Err = err
	outcome.Result = models.TransformResult{}

	h.contain(log, func() {
		if outcome.RunID != uuid.Nil && !finalized {
			outcome.InvariantViolation = h.failRun(ctx, log, file, outcome.RunID, err)
			return
		}
		runIDText := router.NoRunID
		if outcome.RunID != uuid.Nil {
			runIDText = outcome.RunID.String()
		}
		h.logFailure(log, file.Name, runIDText, err)
	})

	if !routeAttempted {
		h.contain(log, func() {
			outcome.Destination = h.route(ctx, log, file, outcome.RunID, false)
		})
	}
}

func (h *IngestionService) contain(log *zap.Logger, fn func()) {
	defer func() {
		if p := recover(); p != nil {
			log.Error("panic while recovering file", zap.Any("panic", p))
		}
	}()
	fn()
}

// runPipeline loads staging and runs the transform. Panics are converted into
// errors so the caller can still finalize the run.
func (h *IngestionService) runPipeline(ctx context.Context, runID uuid.UUID, file models.FileInfo) (result models.TransformResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &panicError{value: p, stack: debug.Stack()}
		}
	}()

	records, err := parser.ReadFile(file.Path)
	if err != nil {
		return result, &models.LoadError{SourceFile: file.Name, Err: err}
	}

	loaded, err := h.dbManager.CopyRowsIntoStaging(ctx, runID, file.Name, records)
	if err != nil {
		return result, err
	}
	if err := h.dbManager.UpdateRunMetrics(ctx, runID, models.RunMetrics{RowsLoadedStaging: loaded}); err != nil {
		return result, err
	}

	result, err = h.dbManager.RunTransform(ctx, runID, loaded)
	if err != nil {
		return result, err
	}

	err = h.dbManager.UpdateRunMetrics(ctx, runID, models.RunMetrics{
		RowsLoadedStaging: loaded,
		RowsValid:         result.RowsValid,
		RowsRejected:      result.RowsRejected,
	})
	return result, err
}

// failRun finalizes runID as failed and writes the failure log line. It
// reports whether a ledger invariant was violated on the way.
func (h *IngestionService) failRun(ctx context.Context, log *zap.Logger, file models.FileInfo, runID uuid.UUID, runErr error) bool {
	violation := isLedgerViolation(runErr)
	message := h.describe(runErr)
	log.Error("run failed", zap.String("reason", models.ClassifyError(runErr)), zap.Error(runErr))

	if err := h.dbManager.FinalizeRun(ctx, runID, models.RunStatusFailed, &message); err != nil {
		if isLedgerViolation(err) {
			violation = true
		}
		log.Error("failed to finalize run", zap.Error(err))
		h.logFailure(log, file.Name, runID.String(), err)
	}

	if violation {
		log.Error("ledger invariant violated", zap.Error(runErr))
	}

	h.logFailure(log, file.Name, runID.String(), runErr)
	return violation
}

// route moves the file and, when the move fails, records the routing failure
// without touching the run status.
func (h *IngestionService) route(ctx context.Context, log *zap.Logger, file models.FileInfo, runID uuid.UUID, success bool) string {
	dst, err := h.router.Route(file.Path, success)
	if err == nil {
		log.Info("file routed", zap.String("destination", dst))
		return dst
	}

	log.Error("failed to route file", zap.Error(err))
	runIDText := router.NoRunID
	if runID != uuid.Nil {
		runIDText = runID.String()
		if appendErr := h.dbManager.AppendRunMessage(ctx, runID, h.describe(err)); appendErr != nil {
			log.Error("failed to record routing failure on run", zap.Error(appendErr))
		}
	}
	h.logFailure(log, file.Name, runIDText, err)
	return ""
}

// postpone handles infrastructure failures hit before a run exists. The file
// stays in landing for the next scan.
func (h *IngestionService) postpone(log *zap.Logger, file models.FileInfo, err error) FileOutcome {
	log.Error("cannot process file now, leaving it in landing", zap.Error(err))
	h.logFailure(log, file.Name, router.NoRunID, err)
	return FileOutcome{File: file.Name, Outcome: metrics.OutcomeDeferred, Err: err}
}

func (h *IngestionService) logFailure(log *zap.Logger, fileName, runID string, err error) {
	reason := models.ClassifyError(err)
	h.recorder.Failure(reason)
	if logErr := h.router.LogFailure(fileName, runID, reason, h.describe(err)); logErr != nil {
		log.Error("failed to append failure log", zap.Error(logErr))
	}
}

// describe renders err for run messages and the failure log.
func (h *IngestionService) describe(err error) string {
	if h.opts.Verbose {
		return VerboseMessage(err)
	}
	return ConciseMessage(err)
}

// ConciseMessage is the first line of err, capped in length.
func ConciseMessage(err error) string {
	msg, _, _ := strings.Cut(err.Error(), "\n")
	if len(msg) > conciseMessageLimit {
		msg = msg[:conciseMessageLimit] + "..."
	}
	return msg
}

// VerboseMessage lists every error in the chain with its type, followed by
// the stack when err came from a panic.
func VerboseMessage(err error) string {
	var sb strings.Builder
	sb.WriteString(err.Error())
	for cause := errors.Unwrap(err); cause != nil; cause = errors.Unwrap(cause) {
		fmt.Fprintf(&sb, "\ncaused by (%T): %v", cause, cause)
	}

	var pe *panicError
	if errors.As(err, &pe) {
		sb.WriteString("\n")
		sb.Write(pe.stack)
	}
	return sb.String()
}

func isLedgerViolation(err error) bool {
	var ledgerErr *models.LedgerConsistencyError
	return errors.As(err, &ledgerErr)
}

type panicError struct {
	value any
	stack []byte
}

func (e *panicError) Error() string {
	return fmt.Sprintf("panic during processing: %v", e.value)
}
