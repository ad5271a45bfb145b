package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/intakehq/intake/internal/artifact"
	"github.com/intakehq/intake/internal/config"
	"github.com/intakehq/intake/internal/db"
	"github.com/intakehq/intake/internal/depgraph"
	"github.com/intakehq/intake/internal/extract"
	"github.com/intakehq/intake/internal/llm"
	"github.com/intakehq/intake/internal/record"
	"github.com/intakehq/intake/internal/schema"
	"github.com/intakehq/intake/internal/session"
)

// loadConfig loads and validates the config, providing a user-friendly error.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w\nRun `intake init` to create a config file", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// builtinPredicates builds the named-predicate registry the engine binary
// ships with: one "has:<field_path>" predicate per workflow field. Hosts
// embedding the engine as a library register their own.
func builtinPredicates(wf *schema.Workflow) map[string]depgraph.Predicate {
	preds := make(map[string]depgraph.Predicate, len(wf.Fields))
	for _, f := range wf.Fields {
		path := f.Path
		preds["has:"+path] = func(r *record.Record) bool {
			return r.Has(path)
		}
	}
	return preds
}

// openDatabase opens (creating if needed) the sqlite database under the
// configured data directory.
func openDatabase(cfg *config.Config) (*db.DB, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}
	return db.Open(filepath.Join(cfg.DataDir, "intake.db"))
}

// createProviderFromConfig creates the LLM provider, rate limited per the
// configured per-minute budget.
func createProviderFromConfig(cfg *config.Config) (llm.Provider, error) {
	provider, err := llm.NewProvider(string(cfg.Provider), cfg.Model)
	if err != nil {
		return nil, err
	}
	if cfg.MaxRPM > 0 {
		provider = llm.NewRateLimitedProvider(provider, cfg.MaxRPM)
	}
	return provider, nil
}

// buildManager wires the full engine: database, stores, dependency graph,
// artifact lifecycle and session manager. Shared by serve and mcp.
func buildManager(cfg *config.Config) (*session.Manager, *db.DB, error) {
	wf, err := schema.Load(cfg.WorkflowFile)
	if err != nil {
		return nil, nil, fmt.Errorf("loading workflow: %w", err)
	}

	graph, err := depgraph.New(wf, builtinPredicates(wf))
	if err != nil {
		return nil, nil, fmt.Errorf("building dependency graph: %w", err)
	}

	database, err := openDatabase(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}

	provider, err := createProviderFromConfig(cfg)
	if err != nil {
		database.Close()
		return nil, nil, fmt.Errorf("creating LLM provider: %w", err)
	}

	gen := artifact.NewLLMGenerator(provider, cfg.Model)
	artifacts := artifact.NewManager(artifact.NewStore(database), graph, gen)

	manager := session.NewManager(wf, graph,
		session.NewStore(database), record.NewStore(database), artifacts)
	if cfg.Extraction {
		manager.SetExtractor(extract.NewLLMExtractor(provider, cfg.Model))
	}
	return manager, database, nil
}
