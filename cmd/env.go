package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/venturescope/enrich-cli/internal/dataset"
	"github.com/venturescope/enrich-cli/internal/pipeline"
	"github.com/venturescope/enrich-cli/internal/store"
	"github.com/venturescope/enrich-cli/pkg/oracle"
)

// initStore opens the configured store backend and runs migrations.
func initStore(ctx context.Context) (store.Store, error) {
	var st store.Store
	var err error

	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.Path
		if dsn == "" {
			dsn = "enrich.db"
		}
		st, err = store.NewSQLite(dsn)
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: int32(cfg.Store.MaxConns),
			MinConns: int32(cfg.Store.MinConns),
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// pipelineEnv bundles the store and pipeline a command needs.
type pipelineEnv struct {
	Store    store.Store
	Pipeline *pipeline.Pipeline
}

// Close releases the environment's resources.
func (e *pipelineEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initPipeline builds the enrichment pipeline. offline swaps the real
// oracle for the deterministic stub so no API key is needed.
func initPipeline(ctx context.Context, offline bool) (*pipelineEnv, error) {
	var client oracle.Client
	if offline {
		client = pipeline.NewStubOracle()
	} else {
		if cfg.Oracle.Key == "" {
			return nil, eris.New("oracle API key is required (ENRICH_ORACLE_KEY); use --offline for stub mode")
		}
		client = oracle.NewClient(cfg.Oracle.Key)
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	rules, err := pipeline.LoadRules(cfg.Pipeline.RulesPath)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	ask := pipeline.NewAsker(client, cfg.Oracle)
	return &pipelineEnv{
		Store:    st,
		Pipeline: pipeline.New(cfg, st, ask, rules),
	}, nil
}

// datasetOptions maps the dataset config section onto parse options.
func datasetOptions() dataset.Options {
	return dataset.Options{
		Encoding:  cfg.Dataset.Encoding,
		SheetName: cfg.Dataset.XLSXSheet,
		SkipRows:  cfg.Dataset.XLSXSkipRows,
	}
}
