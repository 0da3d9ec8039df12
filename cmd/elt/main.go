package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThiagoRGoveia/sensor-elt/internal/config"
	"github.com/ThiagoRGoveia/sensor-elt/internal/database"
	"github.com/ThiagoRGoveia/sensor-elt/internal/ingestion"
	"github.com/ThiagoRGoveia/sensor-elt/internal/logging"
	"github.com/ThiagoRGoveia/sensor-elt/internal/metrics"
	"github.com/ThiagoRGoveia/sensor-elt/internal/router"
	"github.com/ThiagoRGoveia/sensor-elt/internal/server"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

const (
	commandInitDB = "init_db"
	commandScan   = "scan"
	commandServe  = "serve"

	shutdownTimeout = 10 * time.Second
)

const usage = `usage: elt [command]

commands:
  scan      process every file in the landing directory once (default)
  init_db   create or migrate the database schema
  serve     run as an agent, scanning on an interval and serving the API
`

type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	dbpool    *pgxpool.Pool
	dbManager *database.PostgresDBManager
	collector *metrics.Collector
}

func setup(ctx context.Context) (*app, error) {
	envErr := godotenv.Load()

	cfg, err := config.New()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(cfg.Verbose, "elt")
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	if envErr != nil {
		logger.Debug("no .env file loaded", zap.Error(envErr))
	}

	dbpool, err := database.ConnectDB(ctx, cfg.ConnString(), cfg.DBMaxConns)
	if err != nil {
		logger.Sync()
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	return &app{
		cfg:       cfg,
		logger:    logger,
		dbpool:    dbpool,
		dbManager: database.NewPostgresDBManager(dbpool, logger),
		collector: metrics.NewCollector(),
	}, nil
}

func (a *app) cleanup() {
	a.logger.Debug("cleaning up resources")
	a.dbpool.Close()
	a.logger.Sync()
}

func (a *app) ingestionService() (*ingestion.IngestionService, error) {
	for _, dir := range []string{a.cfg.LandingDir, a.cfg.ArchiveDir, a.cfg.ErrorDir, a.cfg.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	fileRouter := router.NewRouter(a.cfg.ArchiveDir, a.cfg.ErrorDir, router.NewFailureLog(a.cfg.FailureLogFile), a.logger)
	return ingestion.NewIngestionService(
		a.dbManager,
		ingestion.NewFileProcessor(a.logger),
		fileRouter,
		a.collector,
		a.logger,
		ingestion.Options{Verbose: a.cfg.Verbose, PurgeStaging: a.cfg.PurgeStaging()},
	), nil
}

func (a *app) initDB() error {
	a.logger.Info("initializing database schema")
	if err := database.Migrate(a.dbpool, a.logger); err != nil {
		return err
	}
	a.logger.Info("database schema ready")
	return nil
}

// scan processes the landing directory once. Per-file failures are reported
// in the summary and do not make the command fail.
func (a *app) scan(ctx context.Context) error {
	service, err := a.ingestionService()
	if err != nil {
		return err
	}

	startTime := time.Now()
	a.logger.Info("starting scan", zap.String("landing_dir", a.cfg.LandingDir))

	summary, err := service.Execute(ctx, a.cfg.LandingDir)
	if err != nil {
		return fmt.Errorf("error during scan: %w", err)
	}

	a.logger.Info("batch complete",
		zap.Int("files_seen", summary.FilesSeen),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
		zap.Int("schema_rejected", summary.SchemaRejected),
		zap.Int("deferred", summary.Deferred),
		zap.Int("invariant_violations", summary.InvariantViolations),
		zap.Int("rows_valid", summary.RowsValid),
		zap.Int("rows_rejected", summary.RowsRejected),
		zap.Duration("elapsed", time.Since(startTime)),
	)
	return nil
}

// serve runs the agent and the HTTP API until ctx is cancelled.
func (a *app) serve(ctx context.Context) error {
	service, err := a.ingestionService()
	if err != nil {
		return err
	}

	agent := ingestion.NewAgent(service, ingestion.AgentConfig{
		Dir:      a.cfg.LandingDir,
		Interval: a.cfg.AgentInterval,
		Watch:    a.cfg.AgentWatch,
	}, a.logger)

	mux := server.SetupRoutes(server.NewRunService(a.dbManager, a.logger), a.collector.Handler())
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%s", a.cfg.APIPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		a.logger.Info("server starting", zap.String("port", a.cfg.APIPort))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	agentCtx, stopAgent := context.WithCancel(ctx)
	defer stopAgent()
	agentDone := make(chan error, 1)
	go func() { agentDone <- agent.Run(agentCtx) }()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			a.logger.Error("server failed", zap.Error(err))
		}
	}

	stopAgent()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("server shutdown", zap.Error(err))
	}
	return <-agentDone
}

func parseCommand(args []string, runAsAgent bool) (string, error) {
	if len(args) == 0 {
		if runAsAgent {
			return commandServe, nil
		}
		return commandScan, nil
	}
	switch args[0] {
	case commandInitDB, commandScan, commandServe:
		return args[0], nil
	}
	return "", fmt.Errorf("unknown command %q", args[0])
}

func run(ctx context.Context, args []string) error {
	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.cleanup()

	command, err := parseCommand(args, a.cfg.RunAsAgent)
	if err != nil {
		return err
	}

	switch command {
	case commandInitDB:
		return a.initDB()
	case commandServe:
		return a.serve(ctx)
	default:
		return a.scan(ctx)
	}
}

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "-h" || os.Args[1] == "--help" || os.Args[1] == "help") {
		fmt.Print(usage)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		stop()
		log.Fatal(err)
	}
}
