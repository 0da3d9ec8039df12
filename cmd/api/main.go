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
	"github.com/ThiagoRGoveia/sensor-elt/internal/logging"
	"github.com/ThiagoRGoveia/sensor-elt/internal/server"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: could not load .env file: %v", err)
	}

	cfg, err := config.New()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Verbose, "api")
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbpool, err := database.ConnectDB(ctx, cfg.ConnString(), cfg.DBMaxConns)
	if err != nil {
		logger.Fatal("failed to connect to the database", zap.Error(err))
	}
	defer dbpool.Close()

	dbManager := database.NewPostgresDBManager(dbpool, logger)
	// Pipeline metrics live in the elt process; this binary only reads the ledger.
	router := server.SetupRoutes(server.NewRunService(dbManager, logger), nil)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.APIPort),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("server starting", zap.String("port", cfg.APIPort))
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("failed to start server", zap.Error(err))
	}
}
