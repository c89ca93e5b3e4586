package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"ratingcast/internal/config"
	"ratingcast/internal/ledger"
	"ratingcast/internal/pipeline"
	"ratingcast/internal/warehouse"
	"ratingcast/internal/warehouse/bigquery"
	"ratingcast/internal/warehouse/postgres"
	"ratingcast/internal/warehouse/sqlite"
)

// overrides are the command-line replacements for configuration keys.
type overrides struct {
	tables   []string
	stages   []string
	cacheDir string
}

// loadConfig reads the --config file, applies the overrides and validates
// the result.
func loadConfig(o overrides) (*config.Config, error) {
	cfg, err := config.LoadFromPath(rootFlags.configPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && rootFlags.configPath == config.DefaultPath {
			return nil, fmt.Errorf("%w\n\nCreate %s or pass --config <file>", err, config.DefaultPath)
		}
		return nil, err
	}
	if len(o.tables) > 0 {
		cfg.Warehouse.TableIDs = o.tables
	}
	if len(o.stages) > 0 {
		cfg.Pipeline.Stages = o.stages
	}
	if o.cacheDir != "" {
		cfg.Fetch.CacheDir = o.cacheDir
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openGateway connects to the configured warehouse backend.
func openGateway(ctx context.Context, cfg *config.Config) (warehouse.Gateway, error) {
	w := cfg.Warehouse
	switch w.Backend {
	case config.BackendBigQuery:
		return bigquery.Open(ctx, bigquery.Options{
			Project:  w.ProjectName,
			Dataset:  w.DatasetID,
			Location: w.Location,
			Mode:     cfg.Fetch.Mode,
			Bucket:   w.BucketName,
			Workers:  cfg.Fetch.Workers,
		})
	case config.BackendPostgres:
		return postgres.Open(ctx, w.DSN)
	case config.BackendSQLite:
		return sqlite.Open(w.DSN)
	default:
		return nil, &pipeline.ConfigurationError{Section: "warehouse", Key: "backend", Reason: "unknown backend " + w.Backend}
	}
}

// openLedger opens the run ledger, or returns nil when ledger_path is empty.
// With mustExist set a missing ledger file also yields nil.
func openLedger(cfg *config.Config, mustExist bool) (*ledger.Ledger, error) {
	path := cfg.Pipeline.LedgerPath
	if path == "" {
		return nil, nil
	}
	if mustExist {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
	}
	l, err := ledger.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	return l, nil
}
