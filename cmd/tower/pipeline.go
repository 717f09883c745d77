package main

import (
	"fmt"

	"controltower/internal/catalog"
	"controltower/internal/config"
	"controltower/internal/engine"
	"controltower/internal/evaluator"
	"controltower/internal/logging"
	"controltower/internal/oracle"
	"controltower/internal/orchestrator"
	"controltower/internal/resolve"
	"controltower/internal/session"
	"controltower/internal/store"
)

// pipeline bundles the per-process components behind the CLI commands.
type pipeline struct {
	store     *store.Store
	oracle    oracle.Oracle
	retriever *catalog.Retriever
	resolver  *resolve.Resolver
	session   *session.Memory
	orch      *orchestrator.Orchestrator
}

// buildPipeline assembles the request pipeline from configuration. The
// catalog is optional: without a built catalog the orchestrator falls back
// to its fixed core slice.
func buildPipeline(cfg config.Config) (*pipeline, error) {
	st, err := store.Open(cfg.Database.Path, cfg.QueryTimeout())
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	orc, err := oracle.New(cfg.Oracle)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to build oracle: %w", err)
	}

	var retriever *catalog.Retriever
	if r, err := catalog.Open(cfg.Catalog.Path, orc, cfg.Catalog.MinSimilarity); err == nil {
		retriever = r
	} else {
		logging.For(logging.CategoryCatalog).Warnw("catalog unavailable; retrieval will use the fallback slice", "err", err)
		retriever = catalog.NewRetriever(orc, nil, cfg.Catalog.MinSimilarity)
	}

	mem := session.New()
	resolver := resolve.New(mem)

	eng := engine.New(
		engine.NewOracleGenerator(orc, cfg.Engine.RowLimit),
		st,
		retriever,
	)

	orch := orchestrator.New(orchestrator.Config{
		Resolver:   resolver,
		Slices:     retriever,
		Querier:    st,
		Candidates: st,
		Engine:     eng,
		MaxSlice:   cfg.Catalog.MaxSlice,
		Evaluators: []evaluator.Evaluator{
			evaluator.NewInventoryEvaluator(cfg.Watchdog.ExpiryAlertDays),
			evaluator.NewDemandEvaluator(cfg.Watchdog.ProjectionWeeks, cfg.Watchdog.EnrollmentLookback, cfg.Watchdog.CriticalShortfallAt),
			evaluator.NewRegulatoryEvaluator(),
			evaluator.NewLogisticsEvaluator(),
			evaluator.NewTechnicalEvaluator(),
		},
	})

	return &pipeline{
		store:     st,
		oracle:    orc,
		retriever: retriever,
		resolver:  resolver,
		session:   mem,
		orch:      orch,
	}, nil
}

func (p *pipeline) Close() {
	if p.retriever != nil {
		p.retriever.Close()
	}
	if p.store != nil {
		p.store.Close()
	}
}
