// Package main is the entry point for the Alexander Gateway schema tool.
// It applies the credential store schema for the configured database
// backend so the server and admin CLI can start against a ready store.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/alexander-gateway/internal/config"
	"github.com/prn-tf/alexander-gateway/internal/repository/postgres"
	"github.com/prn-tf/alexander-gateway/internal/repository/sqlite"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	timeout := flag.Duration("timeout", 30*time.Second, "migration timeout")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(zerolog.InfoLevel).With().Timestamp().Logger()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := migrate(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("migration failed")
	}
	logger.Info().Str("driver", cfg.Database.Driver).Msg("schema up to date")
}

func migrate(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	if cfg.Database.IsEmbedded() {
		db, err := sqlite.NewDB(ctx, sqlite.Config{
			Path:            cfg.Database.Path,
			MaxOpenConns:    1,
			MaxIdleConns:    1,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
			JournalMode:     cfg.Database.JournalMode,
			BusyTimeout:     cfg.Database.BusyTimeout,
			SynchronousMode: cfg.Database.SynchronousMode,
		}, logger)
		if err != nil {
			return fmt.Errorf("opening sqlite database: %w", err)
		}
		defer db.Close()
		return db.Migrate(ctx)
	}

	db, err := postgres.NewDB(ctx, cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	defer db.Close()
	return db.Migrate(ctx)
}
