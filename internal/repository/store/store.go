// Package store opens the credential mapping store named by configuration.
package store

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/prn-tf/alexander-gateway/internal/config"
	"github.com/prn-tf/alexander-gateway/internal/repository"
	"github.com/prn-tf/alexander-gateway/internal/repository/postgres"
	"github.com/prn-tf/alexander-gateway/internal/repository/sqlite"
)

// Open connects to the configured database backend, applies the schema and
// returns the mapping repository together with the connection's health
// handle.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger zerolog.Logger) (repository.CredentialMappingRepository, repository.DatabaseHealth, error) {
	if cfg.IsEmbedded() {
		db, err := sqlite.NewDB(ctx, sqlite.Config{
			Path:            cfg.Path,
			MaxOpenConns:    1,
			MaxIdleConns:    1,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
			JournalMode:     cfg.JournalMode,
			BusyTimeout:     cfg.BusyTimeout,
			SynchronousMode: cfg.SynchronousMode,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("opening sqlite store: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("migrating sqlite store: %w", err)
		}
		return sqlite.NewCredentialMappingRepository(db), db, nil
	}

	db, err := postgres.NewDB(ctx, cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("opening postgres store: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrating postgres store: %w", err)
	}
	return postgres.NewCredentialMappingRepository(db), db, nil
}
