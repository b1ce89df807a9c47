package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fenlis/stockdb/internal/config"
	"github.com/fenlis/stockdb/internal/fetcher/yahoo"
	"github.com/fenlis/stockdb/internal/ingest"
	"github.com/fenlis/stockdb/internal/platform/sqlite"
	pricerepo "github.com/fenlis/stockdb/internal/repository/price"
	securityrepo "github.com/fenlis/stockdb/internal/repository/security"
	"github.com/fenlis/stockdb/internal/scheduler"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	// Root context: cancelled on SIGINT/SIGTERM so an in-flight run stops
	// issuing fetches and winds down at a per-ticker commit boundary.
	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	db, err := sqlite.Open(cfg.Database.SQLitePath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	securityRepo := securityrepo.NewRepository(db.DB)
	priceRepo := pricerepo.NewRepository(db.DB)

	// Bootstrap reference rows (insert-if-absent, idempotent across runs).
	if _, err := securityRepo.EnsureExchange(rootCtx, cfg.Exchange.Name, cfg.Exchange.Currency); err != nil {
		slog.Error("failed to ensure exchange", "error", err)
		os.Exit(1)
	}
	vendorID := cfg.Vendor.ID
	if vendorID <= 0 {
		vendorID, err = securityRepo.EnsureVendor(rootCtx, cfg.Vendor.Name, cfg.Vendor.WebsiteURL)
		if err != nil {
			slog.Error("failed to ensure vendor", "error", err)
			os.Exit(1)
		}
	}

	fetcher := yahoo.New(
		yahoo.WithWorkers(cfg.Fetch.Workers),
		yahoo.WithSuffix(cfg.Fetch.Suffix),
	)

	pipeline := ingest.NewPipeline(securityRepo, fetcher, priceRepo, ingest.Options{
		VendorID:       vendorID,
		Sector:         cfg.Ingest.Sector,
		ChunkSize:      cfg.Ingest.ChunkSize,
		Workers:        cfg.Fetch.Workers,
		ShortPause:     cfg.ShortPause(),
		LongPause:      cfg.LongPause(),
		EmptyThreshold: cfg.Ingest.EmptyThreshold,
		BackfillYears:  cfg.Ingest.BackfillYears,
	})

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	if cfg.Schedule.Cron == "" {
		// One-shot mode: single run, then exit.
		runDone := make(chan error, 1)
		go func() {
			_, err := pipeline.Run(rootCtx)
			runDone <- err
		}()

		select {
		case err := <-runDone:
			if err != nil {
				slog.Error("ingestion run failed", "error", err)
				os.Exit(1)
			}
		case <-done:
			rootCancel()
			<-runDone
			slog.Info("interrupted, exiting")
		}
		return
	}

	// Scheduled mode: run on the cron expression until a signal arrives.
	sched := scheduler.New(rootCtx, pipeline)
	if err := sched.Register(cfg.Schedule.Cron); err != nil {
		slog.Error("failed to register schedule", "error", err)
		os.Exit(1)
	}
	sched.Start()
	slog.Info("running on schedule", "cron", cfg.Schedule.Cron)

	<-done
	rootCancel()
	sched.Stop()
	slog.Info("stopped")
}
