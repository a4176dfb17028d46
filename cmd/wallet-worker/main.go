// Command wallet-worker consumes ledger events, audits balances and exports
// yearly reports.
package main

import (
	"context"
	"errors"
	"os"
	"time"

	"wallet/internal/amqp"
	"wallet/internal/cache"
	"wallet/internal/cli"
	applog "wallet/internal/log"
	"wallet/internal/sheets"
	gsheet "wallet/internal/sheets/google"
	mem "wallet/internal/sheets/memory"
	"wallet/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"))
	logger.Info("Starting wallet-worker", applog.FieldOperation, applog.OpStartup)

	cfg := cli.LoadAndValidateConfig(logger)
	if !cfg.EventsEnabled() {
		logger.Error("AMQP_URL is required by the worker")
		os.Exit(1)
	}

	repo := cli.InitSQLite(logger, cfg)

	// Report export target: Google Sheets when configured, memory otherwise.
	var reports sheets.ReportWriter
	if cfg.GoogleSpreadsheetID != "" {
		client, err := gsheet.New(context.Background(), cfg.GoogleSpreadsheetID, cfg.GoogleSheetName, logger)
		if err != nil {
			logger.Error("Failed to initialize Google Sheets client", applog.FieldError, err)
			os.Exit(1)
		}
		reports = client
		logger.Info("Google Sheets export enabled", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	} else {
		reports = mem.New()
		logger.Info("Google Sheets disabled - no GOOGLE_SPREADSHEET_ID provided, keeping reports in memory")
	}

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", applog.FieldError, err)
		os.Exit(1)
	}

	seen := cache.NewLRUCache[time.Time](cfg.SummaryCacheSize*10, time.Hour)
	caches := cache.NewManager(logger)
	caches.Register(seen)
	caches.StartCleanup(time.Minute)

	auditWorker := worker.NewAuditWorker(repo, repo, reports, logger).WithDeduplication(seen)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(shutdownCtx context.Context) {
		if err := auditWorker.Stop(shutdownCtx); err != nil {
			logger.Warn("Audit worker stop failed", applog.FieldError, err)
		}
		caches.Stop()
		if err := amqpClient.Close(); err != nil {
			logger.Warn("AMQP close failed", applog.FieldError, err)
		}
		if err := repo.Close(); err != nil {
			logger.Warn("SQLite close failed", applog.FieldError, err)
		}
	})

	if err := auditWorker.Start(ctx, cfg.AuditInterval); err != nil {
		logger.Error("Failed to start audit sweeps", applog.FieldError, err)
		os.Exit(1)
	}

	go func() {
		if err := amqpClient.Run(ctx, auditWorker.HandleLedgerEvent); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Message consumption failed", applog.FieldError, err)
		}
	}()

	cli.WaitForShutdown(ctx, done)
}
