package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/Harshitk-cp/reconledger/internal/cache"
	"github.com/Harshitk-cp/reconledger/internal/config"
	"github.com/Harshitk-cp/reconledger/internal/domain"
	"github.com/Harshitk-cp/reconledger/internal/metrics"
	"github.com/Harshitk-cp/reconledger/internal/prober"
	"github.com/Harshitk-cp/reconledger/internal/service"
	"github.com/Harshitk-cp/reconledger/internal/store"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

// engine is the fully wired runtime shared by every subcommand.
type engine struct {
	orch     *service.Orchestrator
	verifier *service.ReactiveVerifier
	metacog  *service.MetaCognition
	store    domain.SnapshotStore
	registry *prometheus.Registry
	ping     func(context.Context) error

	closers []func()
	logger  *zap.Logger
}

func (e *engine) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

func buildEngine(ctx context.Context, snapshotPath string, logger *zap.Logger) (*engine, error) {
	e := &engine{logger: logger, registry: prometheus.NewRegistry()}
	e.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if err := e.openStore(ctx, snapshotPath); err != nil {
		e.Close()
		return nil, err
	}
	resultCache, err := e.openCache(ctx)
	if err != nil {
		e.Close()
		return nil, err
	}

	ocfg := service.DefaultOrchestratorConfig()
	ocfg.Mode = config.ExecutionMode()
	ocfg.MaxParallel = config.MaxParallel()
	ocfg.EnableCaching = config.EnableCaching()
	ocfg.StreamDeltas = config.StreamDeltas()
	ocfg.RunBudget = config.RunBudget()
	ocfg.Ledger.PriorWeight = config.PriorWeight()
	ocfg.Ledger.UncertaintyThreshold = config.MetaCogUncertaintyThreshold()
	ocfg.Arbiter.EntropyThreshold = config.ArbiterEntropyThreshold()
	e.orch = service.NewOrchestrator(ocfg, resultCache, logger)

	recorder := metrics.New(e.registry)
	e.orch.SetMetrics(recorder)

	p := prober.NewHTTPProber(prober.Config{
		RPS:     config.ProbeRPS(),
		Timeout: config.ProbeTimeout(),
	}, logger)
	vcfg := service.DefaultVerifierConfig()
	vcfg.MaxConcurrency = config.VerifierConcurrency()
	vcfg.MaxQueueSize = config.VerifierQueueSize()
	vcfg.BatchDelay = config.VerifierBatchDelay()
	e.verifier = service.NewReactiveVerifier(e.orch.Ledger(), e.orch.ModelRegistry(), p, vcfg, logger)
	e.verifier.SetMetrics(recorder)
	e.orch.SetVerifier(e.verifier)

	mcfg := service.DefaultMetaCognitionConfig()
	mcfg.UncertaintyThreshold = config.MetaCogUncertaintyThreshold()
	mcfg.WindowSize = config.MetaCogWindow()
	mcfg.ControversyThreshold = config.MetaCogControversyThreshold()
	e.metacog = service.NewMetaCognition(e.orch.Ledger(), e.orch.Model(), e.orch.ModelRegistry(), mcfg, logger)
	e.metacog.SetMetrics(recorder)
	e.orch.SetMetaCognition(e.metacog)

	if err := e.loadSnapshot(ctx); err != nil {
		e.Close()
		return nil, err
	}
	recorder.EvidenceSize(e.orch.Evidence().Len())
	recorder.ClaimCount(e.orch.Ledger().Len())
	return e, nil
}

func (e *engine) openStore(ctx context.Context, snapshotPath string) error {
	dbURL := config.DatabaseURL()
	if dbURL == "" {
		e.store = store.NewFileSnapshotStore(snapshotPath, e.logger)
		return nil
	}

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	e.closers = append(e.closers, pool.Close)
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	pg := store.NewPostgresSnapshotStore(pool, e.logger)
	if err := pg.Migrate(ctx); err != nil {
		return err
	}
	e.logger.Info("connected to database")
	e.store = pg
	e.ping = pool.Ping
	return nil
}

func (e *engine) openCache(ctx context.Context) (domain.ResultCache, error) {
	redisURL := config.RedisURL()
	if redisURL == "" {
		return cache.NewMemoryCache(), nil
	}
	client, err := cache.DialRedis(ctx, redisURL)
	if err != nil {
		return nil, err
	}
	e.closers = append(e.closers, func() { _ = client.Close() })
	e.logger.Info("using redis result cache")
	return cache.NewRedisCache(client, "", 0, e.logger), nil
}

func (e *engine) loadSnapshot(ctx context.Context) error {
	snap, err := e.store.Load(ctx)
	if errors.Is(err, domain.ErrSnapshotNotFound) {
		e.logger.Info("no snapshot found, starting with an empty world model")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load snapshot: %w", err)
	}
	if err := e.orch.ImportState(snap); err != nil {
		return fmt.Errorf("failed to import snapshot: %w", err)
	}
	return nil
}

func (e *engine) saveSnapshot(ctx context.Context) error {
	if err := e.store.Save(ctx, e.orch.ExportState()); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}
