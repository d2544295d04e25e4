package main

import (
	"context"
	"errors"
	"os"
	"time"

	"allowance/internal/amqp"
	"allowance/internal/cli"
	"allowance/internal/config"
	applog "allowance/internal/log"
	gsheet "allowance/internal/sheets/google"
	"allowance/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"))
	logger.Info("Starting allowance-worker")

	cfg := cli.LoadAndValidateConfig(logger, (*config.Config).ValidateWorker)

	ctx, cancel := cli.SignalContext(logger)
	defer cancel()

	res := cli.InitBackend(ctx, logger, cfg)
	if res.Publisher == nil {
		logger.Error("AMQP connection is required for the worker")
		_ = res.Cleanup()
		os.Exit(1)
	}

	sheet, err := gsheet.New(ctx, gsheet.Config{
		SpreadsheetID:      cfg.GoogleSpreadsheetID,
		SheetName:          cfg.GoogleSheetName,
		ServiceAccountJSON: cfg.GoogleServiceAccountJSON,
		ServiceAccountFile: cfg.GoogleServiceAccountFile,
	})
	if err != nil {
		logger.Error("Failed to initialize Google Sheets client", applog.FieldError, err)
		_ = res.Cleanup()
		os.Exit(1)
	}
	logger.Info("Google Sheets client initialized", "spreadsheet_id", cfg.GoogleSpreadsheetID, "sheet", cfg.GoogleSheetName)

	syncWorker := worker.NewSyncWorker(res.Store, sheet, cfg.SyncBatchSize, logger)

	// Catch up on anything missed while the worker was down.
	if err := syncWorker.StartupSyncCheck(ctx); err != nil {
		logger.Error("Startup sync check failed", applog.FieldError, err)
	}

	poller := worker.NewPoller(syncWorker, worker.PollerConfig{
		Interval:  cfg.SyncInterval,
		BatchSize: cfg.SyncBatchSize,
	}, logger)
	if err := poller.Start(ctx); err != nil {
		logger.Error("Failed to start pending poller", applog.FieldError, err)
	}

	consumeDone := make(chan struct{})
	go func() {
		defer close(consumeDone)
		err := res.Publisher.Consume(ctx, amqp.Handler(syncWorker.HandleLedgerEvent))
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Message consumption failed", applog.FieldError, err)
		}
		cancel()
	}()

	<-ctx.Done()
	logger.Info("Shutting down worker...")

	cli.Shutdown(logger, 30*time.Second, func(ctx context.Context) error {
		err := poller.Stop(ctx)
		select {
		case <-consumeDone:
		case <-ctx.Done():
		}
		return errors.Join(err, res.Cleanup())
	})
}
