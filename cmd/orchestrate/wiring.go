package main

import (
	"fmt"

	"cmdweaver/internal/config"
	"cmdweaver/internal/embedding"
	"cmdweaver/internal/executor"
	"cmdweaver/internal/graph"
	"cmdweaver/internal/index"
	"cmdweaver/internal/orchestrator"
	"cmdweaver/internal/plan"
	"cmdweaver/internal/reasoning"
	"cmdweaver/internal/search"
)

// services bundles everything a subcommand can need. Close releases the
// store and the plan watcher.
type services struct {
	engine   embedding.Engine
	store    *index.Store
	reasoner *reasoning.Client
	searcher *search.Searcher
	builder  *graph.Builder
	exec     *executor.Executor
	plans    *plan.Registry
	orch     *orchestrator.Orchestrator
}

func (s *services) Close() {
	if s.plans != nil {
		_ = s.plans.Close()
	}
	if s.store != nil {
		_ = s.store.Close()
	}
}

func reasoningParams(cfg config.ReasoningConfig) reasoning.Params {
	return reasoning.Params{
		Model:       cfg.Model,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
		Stop:        cfg.Stop,
	}
}

// buildServices wires the full query-time stack from configuration.
func buildServices(cfg config.Config) (*services, error) {
	engine, err := embedding.NewEngine(embedding.Config{
		Provider:       cfg.Embedding.Provider,
		OllamaEndpoint: cfg.Embedding.OllamaEndpoint,
		OllamaModel:    cfg.Embedding.OllamaModel,
		GenAIAPIKey:    cfg.Embedding.GenAIAPIKey,
		GenAIModel:     cfg.Embedding.GenAIModel,
		Dimensions:     cfg.Embedding.Dimensions,
		CacheSize:      cfg.Embedding.CacheSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build embedding engine: %w", err)
	}

	store, err := index.Open(cfg.Index.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open index at %s: %w", cfg.Index.Path, err)
	}

	reasoner := reasoning.NewClient(reasoning.Config{
		BaseURL:        cfg.Reasoning.BaseURL(),
		Model:          cfg.Reasoning.Model,
		HealthTimeout:  cfg.Reasoning.HealthTimeout.Std(),
		RequestTimeout: cfg.Reasoning.RequestTimeout.Std(),
	}, logger)
	params := reasoningParams(cfg.Reasoning)

	searcher := search.New(engine, store, reasoner, logger, search.Options{
		Limit:      cfg.Search.Limit,
		MaxLimit:   cfg.Search.MaxLimit,
		Threshold:  cfg.Search.Threshold,
		IncludeOrg: cfg.Search.IncludeOrg,
		Params:     params,
	})

	relations, args := graph.DefaultRelations(), graph.DefaultArgs()
	if cfg.Plans.RelationsPath != "" {
		relations, args, err = graph.LoadRelations(cfg.Plans.RelationsPath)
		if err != nil {
			store.Close()
			return nil, err
		}
	}
	builder := graph.NewBuilder(relations, args, reasoner, logger, params)
	exec := executor.New(reasoner, logger, params)

	plans, err := plan.NewRegistry(cfg.Plans.Dir, logger)
	if err != nil {
		store.Close()
		return nil, err
	}
	if cfg.Plans.Watch && cfg.Plans.Dir != "" {
		if err := plans.Watch(); err != nil {
			store.Close()
			return nil, err
		}
	}

	s := &services{
		engine:   engine,
		store:    store,
		reasoner: reasoner,
		searcher: searcher,
		builder:  builder,
		exec:     exec,
		plans:    plans,
	}
	s.orch = orchestrator.New(searcher, builder, exec, plans, reasoner, params, logger)
	return s, nil
}

// execOptions translates configuration and per-call flags into executor
// options.
func execOptions(cfg config.Config, dryRun, strict bool, maxParallel int, timeout config.Duration) executor.Options {
	opts := executor.Options{
		MaxParallel: cfg.Executor.EffectiveMaxParallel(),
		NodeTimeout: cfg.Executor.NodeTimeout.Std(),
		StreamCap:   cfg.Executor.StreamCap,
		Grace:       cfg.Executor.Grace.Std(),
		DryRun:      dryRun,
	}
	if cfg.Executor.Strict || strict {
		opts.Mode = executor.ModeStrict
	}
	if maxParallel > 0 {
		opts.MaxParallel = maxParallel
	}
	if timeout.Std() > 0 {
		opts.NodeTimeout = timeout.Std()
	}
	return opts
}
