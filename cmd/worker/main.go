package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"divgate/internal/pkg/logger"
	"divgate/internal/platform/config"
	"divgate/internal/platform/database"
	"divgate/internal/platform/repositories"
	"divgate/internal/workers"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	once := flag.Bool("once", false, "Run every cleanup job once and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Logging, "divgate-worker")

	db, err := database.NewGlobalDB(cfg.Database.Global)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to global DB")
	}
	defer db.Close()

	counters := repositories.NewCounterRepository(db)
	audit := repositories.NewAuditRepository(db)

	jobs := []workers.Job{{
		Name:   "usage_windows",
		Cutoff: workers.StartOfMonth,
		Prune:  counters.PruneBefore,
	}}
	jobs = append(jobs, workers.RetentionDays("audit_logs", cfg.Workers.AuditRetentionDays, audit.PruneBefore)...)
	cleaner := workers.NewCleaner(jobs...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *once {
		if _, err := cleaner.RunOnce(ctx, time.Now()); err != nil {
			log.Fatal().Err(err).Msg("cleanup failed")
		}
		return
	}

	log.Info().Dur("interval", cfg.Workers.CleanupInterval).Int("jobs", len(jobs)).Msg("starting background workers")
	cleaner.Run(ctx, cfg.Workers.CleanupInterval)
	log.Info().Msg("workers stopped")
}
