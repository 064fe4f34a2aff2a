package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/TobiSchelling/toolscout/internal/analyzer"
	"github.com/TobiSchelling/toolscout/internal/collect"
	"github.com/TobiSchelling/toolscout/internal/database"
	"github.com/TobiSchelling/toolscout/internal/fetch"
	"github.com/TobiSchelling/toolscout/internal/logging"
	"github.com/TobiSchelling/toolscout/internal/pipeline"
	"github.com/TobiSchelling/toolscout/internal/refresh"
)

const postgresMaxConns = 4

// app holds the wired components for one command invocation.
type app struct {
	store     database.Store
	pipeline  *pipeline.Pipeline
	refresher *refresh.Refresher
}

func (a *app) Close() error {
	return a.store.Close()
}

// openStore opens the record store named in the storage config section.
func openStore(ctx context.Context) (database.Store, error) {
	switch cfg.Storage.Driver {
	case "postgres":
		dsn := os.Getenv(cfg.Storage.DSNEnv)
		if dsn == "" {
			return nil, fmt.Errorf("postgres storage selected but %s is not set", cfg.Storage.DSNEnv)
		}
		return database.OpenPostgres(ctx, dsn, postgresMaxConns)
	default:
		dataDir := cfg.GetDataDir()
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		return database.Open(filepath.Join(dataDir, "toolscout.db"))
	}
}

// openApp wires store, collectors, analyzer, pipeline and refresher. It
// fails when the analyzer provider has no credentials.
func openApp(ctx context.Context) (*app, error) {
	store, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	an, err := analyzer.FromConfig(ctx, cfg.Analyzer, nil, logger.Named("analyzer"))
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("analyzer: %w", err)
	}

	client := fetch.NewHTTPClient(30 * time.Second)
	router := collect.NewRouter(cfg, client, logger.Named("collect"))
	pipe := pipeline.New(router, an, store, cfg.Ingest, logger.Named("pipeline"))

	return &app{
		store:     store,
		pipeline:  pipe,
		refresher: refresh.New(pipe, store, cfg.Refresh, logger.Named("refresh")),
	}, nil
}

func newLogger() (*zap.Logger, error) {
	level := cfg.Logging.Level
	if verbose {
		level = "debug"
	}
	return logging.New(level)
}
