package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"os"

	"github.com/rs/zerolog/log"

	"divgate/internal/pkg/logger"
	"divgate/internal/platform/config"
	"divgate/internal/platform/database"
	"divgate/migrations"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	dir := flag.String("dir", "", "Read migrations from this directory instead of the embedded set")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Logging, "divgate-migrate")

	db, err := database.NewGlobalDB(cfg.Database.Global)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to global DB")
	}
	defer db.Close()

	var (
		fsys fs.FS = migrations.Global
		root       = "global"
	)
	if *dir != "" {
		fsys, root = os.DirFS(*dir), "."
	}

	applied, err := database.Migrate(context.Background(), db, fsys, root)
	if err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}

	for _, name := range applied {
		log.Info().Str("migration", name).Msg("applied")
	}
	log.Info().Int("applied", len(applied)).Msg("migrations complete")
}
