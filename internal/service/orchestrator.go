package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Harshitk-cp/reconledger/internal/domain"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const DefaultMaxParallel = 4

var tracer = otel.Tracer("reconledger/orchestrator")

type OrchestratorConfig struct {
	Mode          domain.ExecutionMode
	MaxParallel   int
	EnableCaching bool
	StreamDeltas  bool
	RunBudget     domain.BudgetLimits
	Ledger        LedgerConfig
	Arbiter       ArbiterConfig
}

// DefaultOrchestratorConfig runs live with four parallel agents, caching
// and delta streaming on, and no run budget.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		Mode:          domain.ModeLive,
		MaxParallel:   DefaultMaxParallel,
		EnableCaching: true,
		StreamDeltas:  true,
		Ledger:        DefaultLedgerConfig(),
		Arbiter:       DefaultArbiterConfig(),
	}
}

type OrchestratorStats struct {
	RegisteredAgents []string               `json:"registered_agents"`
	State            domain.RunState        `json:"state"`
	RunID            string                 `json:"run_id,omitempty"`
	Mode             domain.ExecutionMode   `json:"mode"`
	CacheSize        int                    `json:"cache_size"`
	ExecutionCount   int                    `json:"execution_count"`
	EffectiveLimit   int                    `json:"effective_parallelism"`
	BudgetUsage      domain.BudgetUsage     `json:"budget_usage"`
	DeltasDropped    int64                  `json:"deltas_dropped"`
	EvidenceStats    domain.EvidenceStats   `json:"evidence_stats"`
	ModelStats       domain.ModelStats      `json:"model_stats"`
	LedgerStats      domain.LedgerStats     `json:"ledger_stats"`
	RegistryStats    domain.RegistryStats   `json:"registry_stats"`
	ManifestSummary  domain.ManifestSummary `json:"manifest_summary"`
	Verifier         *VerifierStats         `json:"verifier,omitempty"`
	MetaCognition    *MetaCognitionStats    `json:"metacognition,omitempty"`
}

// Orchestrator runs registered agents in pipeline stages against one shared
// evidence graph, ledger and target model.
type Orchestrator struct {
	config   OrchestratorConfig
	graph    *EvidenceGraph
	ledger   *Ledger
	model    *TargetModel
	manifest *ArtifactManifest
	registry *ModelRegistry
	arbiter  *Arbiter
	agents   *AgentRegistry
	bus      *DeltaBus
	cache    domain.ResultCache
	metrics  domain.MetricsRecorder
	flight   singleflight.Group
	now      func() time.Time
	logger   *zap.Logger

	aborted atomic.Bool

	mu          sync.RWMutex
	verifier    *ReactiveVerifier
	metacog     *MetaCognition
	mode        domain.ExecutionMode
	state       domain.RunState
	runID       string
	budget      *BudgetManager
	parallelism int
	execLog     []domain.ExecutionLogEntry
	lastHints   []domain.Hint
}

// NewOrchestrator builds an orchestrator with fresh world-model components. A
// nil cache disables result caching regardless of config.
func NewOrchestrator(cfg OrchestratorConfig, cache domain.ResultCache, logger *zap.Logger) *Orchestrator {
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = DefaultMaxParallel
	}
	if !domain.ValidExecutionMode(string(cfg.Mode)) {
		cfg.Mode = domain.ModeLive
	}
	registry := NewModelRegistry(logger)
	return &Orchestrator{
		config:      cfg,
		graph:       NewEvidenceGraph(logger),
		ledger:      NewLedger(cfg.Ledger, logger),
		model:       NewTargetModel(logger),
		manifest:    NewArtifactManifest(logger),
		registry:    registry,
		arbiter:     NewArbiter(registry, cfg.Arbiter, logger),
		agents:      NewAgentRegistry(),
		bus:         NewDeltaBus(logger),
		cache:       cache,
		metrics:     nopMetrics{},
		now:         time.Now,
		logger:      logger,
		mode:        cfg.Mode,
		state:       domain.RunIdle,
		budget:      NewBudgetManager(cfg.RunBudget, logger),
		parallelism: cfg.MaxParallel,
	}
}

func (o *Orchestrator) Evidence() *EvidenceGraph { return o.graph }
func (o *Orchestrator) Ledger() *Ledger { return o.ledger }
func (o *Orchestrator) Model() *TargetModel { return o.model }
func (o *Orchestrator) Manifest() *ArtifactManifest { return o.manifest }
func (o *Orchestrator) ModelRegistry() *ModelRegistry { return o.registry }
func (o *Orchestrator) Arbiter() *Arbiter { return o.arbiter }
func (o *Orchestrator) Bus() *DeltaBus { return o.bus }
func (o *Orchestrator) Config() OrchestratorConfig { return o.config }
func (o *Orchestrator) Agents() *AgentRegistry { return o.agents }

// SetMetrics routes engine events to m. Call before the first run.
func (o *Orchestrator) SetMetrics(m domain.MetricsRecorder) {
	if m == nil {
		return
	}
	o.metrics = m
	o.bus.SetMetrics(m)
}

// SetVerifier attaches the verifier that receives contested and
// probe-priority claims.
func (o *Orchestrator) SetVerifier(v *ReactiveVerifier) {
	o.mu.Lock()
	o.verifier = v
	o.mu.Unlock()
}

// SetMetaCognition attaches the monitor consulted between stages.
func (o *Orchestrator) SetMetaCognition(m *MetaCognition) {
	o.mu.Lock()
	o.metacog = m
	o.mu.Unlock()
}

func (o *Orchestrator) verifierRef() *ReactiveVerifier {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.verifier
}

func (o *Orchestrator) metacogRef() *MetaCognition {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.metacog
}

// RegisterAgent makes agent available to stages by its contract name.
func (o *Orchestrator) RegisterAgent(agent domain.Agent) error {
	if err := o.agents.Register(agent); err != nil {
		return err
	}
	o.logger.Info("agent registered", zap.String("agent", agent.Contract().Name))
	return nil
}

func (o *Orchestrator) Mode() domain.ExecutionMode {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.mode
}

// State returns the lifecycle state of the current or last run.
func (o *Orchestrator) State() domain.RunState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// Budget returns the budget of the current (or last) run.
func (o *Orchestrator) Budget() *BudgetManager {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.budget
}

func (o *Orchestrator) effectiveParallelism() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.parallelism <= 0 {
		return o.config.MaxParallel
	}
	return o.parallelism
}

// Abort asks the running pipeline to stop at the next stage or agent
// boundary. Agents already executing are allowed to finish.
func (o *Orchestrator) Abort() {
	o.aborted.Store(true)
	o.logger.Info("pipeline abort requested", zap.String("run_id", o.currentRunID()))
}

func (o *Orchestrator) currentRunID() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.runID
}

func (o *Orchestrator) publish(d domain.Delta) {
	d.RunID = o.currentRunID()
	o.bus.Publish(d)
}

// IdempotencyKey hashes everything that determines an agent's result: its
// name and version, the inputs and the execution mode.
func IdempotencyKey(contract domain.AgentContract, inputs map[string]any, mode domain.ExecutionMode) (string, error) {
	return fullHash(map[string]any{
		"agent":   contract.Name,
		"version": contract.Version,
		"inputs":  inputs,
		"mode":    mode,
	})
}

// ExecuteAgent runs a single agent outside any stage. The returned result is
// never nil; the error is non-nil only when the run budget is exhausted.
func (o *Orchestrator) ExecuteAgent(ctx context.Context, name string, inputs map[string]any) (*domain.AgentResult, error) {
	return o.executeAgent(ctx, "", name, inputs)
}

func (o *Orchestrator) executeAgent(ctx context.Context, stage, name string, inputs map[string]any) (*domain.AgentResult, error) {
	start := o.now()
	agent, err := o.agents.Get(name)
	if err != nil {
		return o.failed(stage, name, "", err, start), nil
	}
	contract := agent.Contract()
	if inputs == nil {
		inputs = map[string]any{}
	}
	if err := contract.Inputs.Validate(inputs); err != nil {
		return o.failed(stage, name, "", err, start), nil
	}

	// Same agent, version, inputs and mode share a key
	mode := o.Mode()
	key, err := IdempotencyKey(contract, inputs, mode)
	if err != nil {
		return o.failed(stage, name, "", &domain.ValidationError{Field: "inputs", Reason: err.Error()}, start), nil
	}

	if res, ok := o.cached(ctx, stage, name, key); ok {
		return res, nil
	}

	// Dry runs stop after validation
	if mode == domain.ModeDryRun {
		res := &domain.AgentResult{
			Agent:          name,
			Success:        true,
			Summary:        "dry run: inputs validated",
			IdempotencyKey: key,
		}
		o.appendLog(stage, res)
		return res, nil
	}

	if err := o.Budget().Check(); err != nil {
		var be *domain.BudgetExceededError
		if errors.As(err, &be) {
			o.metrics.BudgetExceeded(be.Metric)
		}
		return o.failed(stage, name, key, err, start), err
	}

	// Concurrent calls with the same key run once
	v, err, shared := o.flight.Do(key, func() (any, error) {
		return o.runAgent(ctx, stage, agent, contract, inputs, key, mode)
	})
	res := v.(*domain.AgentResult)
	if shared {
		c := *res
		res = &c
	}
	return res, err
}

func (o *Orchestrator) cached(ctx context.Context, stage, name, key string) (*domain.AgentResult, bool) {
	if !o.config.EnableCaching || o.cache == nil {
		return nil, false
	}
	hit, ok, err := o.cache.Get(ctx, key)
	if err != nil {
		o.logger.Warn("result cache lookup failed", zap.String("agent", name), zap.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	res := *hit
	res.Cached = true
	o.appendLog(stage, &res)
	o.metrics.AgentExecuted(name, true, true, 0)
	o.publish(domain.Delta{
		Type:  domain.DeltaAgentComplete,
		Stage: stage,
		Agent: name,
		Payload: map[string]any{
			"success": true,
			"cached":  true,
			"summary": res.Summary,
		},
	})
	o.logger.Debug("agent result served from cache", zap.String("agent", name), zap.String("key", key))
	return &res, true
}

func (o *Orchestrator) runAgent(ctx context.Context, stage string, agent domain.Agent, contract domain.AgentContract, inputs map[string]any, key string, mode domain.ExecutionMode) (*domain.AgentResult, error) {
	name := contract.Name
	ctx, span := tracer.Start(ctx, "agent "+name, trace.WithAttributes(
		attribute.String("agent.name", name),
		attribute.String("agent.version", contract.Version),
		attribute.String("pipeline.stage", stage),
		attribute.String("execution.mode", string(mode)),
	))
	defer span.End()

	o.publish(domain.Delta{Type: domain.DeltaAgentStart, Stage: stage, Agent: name, Payload: map[string]any{"idempotency_key": key}})

	actx := &agentContext{
		o:      o,
		agent:  name,
		stage:  stage,
		mode:   mode,
		budget: NewBudgetManager(contract.DefaultBudget, o.logger),
		run:    o.Budget(),
	}

	execCtx := ctx
	if ms := contract.DefaultBudget.MaxTimeMs; ms > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, time.Duration(ms)*time.Millisecond)
		defer cancel()
	}

	start := o.now()
	out, execErr := invoke(execCtx, agent, actx, inputs)
	if execErr == nil {
		execErr = actx.budget.Check()
	}
	events, claims, runErr := actx.emitted()

	res := &domain.AgentResult{
		Agent:          name,
		IdempotencyKey: key,
		DurationMs:     o.now().Sub(start).Milliseconds(),
		EmittedEvents:  events,
		EmittedClaims:  claims,
	}
	if out != nil {
		res.Outputs = out.Outputs
		res.Summary = out.Summary
	}
	if execErr == nil && runErr == nil {
		execErr = contract.Outputs.Validate(res.Outputs)
	}

	cause := execErr
	if cause == nil {
		cause = runErr
	}
	if cause != nil {
		res.Err = &domain.AgentExecutionError{Agent: name, Stage: stage, Err: cause}
		res.Error = res.Err.Error()
		span.RecordError(cause)
		span.SetStatus(codes.Error, cause.Error())
		o.logger.Warn("agent failed",
			zap.String("agent", name),
			zap.String("stage", stage),
			zap.Int64("duration_ms", res.DurationMs),
			zap.Error(cause))
	} else {
		res.Success = true
		o.logger.Info("agent completed",
			zap.String("agent", name),
			zap.String("stage", stage),
			zap.Int("events", len(events)),
			zap.Int("claims", len(claims)),
			zap.Int64("duration_ms", res.DurationMs))
	}
	span.SetAttributes(attribute.Bool("agent.success", res.Success))

	if res.Success && o.config.EnableCaching && o.cache != nil {
		if err := o.cache.Set(ctx, key, res); err != nil {
			o.logger.Warn("failed to cache agent result", zap.String("agent", name), zap.Error(err))
		}
	}

	o.appendLog(stage, res)
	o.metrics.AgentExecuted(name, res.Success, false, time.Duration(res.DurationMs)*time.Millisecond)
	o.metrics.EvidenceSize(o.graph.Len())
	o.metrics.ClaimCount(o.ledger.Len())

	o.publish(domain.Delta{
		Type:  domain.DeltaAgentComplete,
		Stage: stage,
		Agent: name,
		Payload: map[string]any{
			"success":     res.Success,
			"summary":     res.Summary,
			"error":       res.Error,
			"duration_ms": res.DurationMs,
		},
	})
	if res.Success && o.config.StreamDeltas {
		o.publishEmitted(stage, name, events, claims)
	}

	if runErr != nil {
		return res, runErr
	}
	return res, nil
}

func invoke(ctx context.Context, agent domain.Agent, actx domain.AgentContext, inputs map[string]any) (out *domain.AgentOutput, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("agent panicked: %v", r)
		}
	}()
	return agent.Execute(ctx, actx, inputs)
}

func (o *Orchestrator) publishEmitted(stage, agent string, events, claims []string) {
	for _, id := range events {
		if ev, ok := o.graph.GetEvent(id); ok {
			o.publish(domain.Delta{Type: domain.DeltaEvidence, Stage: stage, Agent: agent, Payload: ev})
		}
	}
	for _, id := range claims {
		if c, ok := o.ledger.GetClaim(id); ok {
			o.publish(domain.Delta{Type: domain.DeltaClaim, Stage: stage, Agent: agent, Payload: c})
		}
	}
}

func (o *Orchestrator) failed(stage, name, key string, err error, start time.Time) *domain.AgentResult {
	res := &domain.AgentResult{
		Agent:          name,
		IdempotencyKey: key,
		DurationMs:     o.now().Sub(start).Milliseconds(),
		Err:            &domain.AgentExecutionError{Agent: name, Stage: stage, Err: err},
	}
	res.Error = res.Err.Error()
	o.appendLog(stage, res)
	o.metrics.AgentExecuted(name, false, false, 0)
	o.logger.Warn("agent not executed",
		zap.String("agent", name),
		zap.String("stage", stage),
		zap.Error(err))
	return res
}

func (o *Orchestrator) appendLog(stage string, res *domain.AgentResult) {
	entry := domain.ExecutionLogEntry{
		ID:             uuid.NewString(),
		Stage:          stage,
		Agent:          res.Agent,
		Timestamp:      o.now().UTC(),
		Success:        res.Success,
		Cached:         res.Cached,
		Summary:        res.Summary,
		Error:          res.Error,
		DurationMs:     res.DurationMs,
		IdempotencyKey: res.IdempotencyKey,
	}
	o.mu.Lock()
	entry.RunID = o.runID
	o.execLog = append(o.execLog, entry)
	o.mu.Unlock()
}

// ExecutionLog returns a copy of the per-agent execution log.
func (o *Orchestrator) ExecutionLog() []domain.ExecutionLogEntry {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return slices.Clone(o.execLog)
}

// ExecuteStage runs one stage and re-derives the target model once at the
// end. The error is non-nil only for a run budget breach.
func (o *Orchestrator) ExecuteStage(ctx context.Context, stage domain.PipelineStage, inputs map[string]any) (*domain.StageResult, error) {
	ctx, span := tracer.Start(ctx, "stage "+stage.Name, trace.WithAttributes(
		attribute.String("pipeline.stage", stage.Name),
		attribute.Bool("stage.parallel", stage.Parallel),
		attribute.Bool("stage.required", stage.Required),
	))
	defer span.End()

	start := o.now()
	o.publish(domain.Delta{Type: domain.DeltaStageStart, Stage: stage.Name, Payload: map[string]any{"agents": stage.Agents}})

	if stage.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, stage.Timeout)
		defer cancel()
	}

	result := &domain.StageResult{Name: stage.Name, Results: make(map[string]*domain.AgentResult)}
	var mu sync.Mutex
	record := func(name string, res *domain.AgentResult) {
		mu.Lock()
		defer mu.Unlock()
		result.Results[name] = res
		if !res.Success {
			result.Errors = append(result.Errors, domain.AgentFailure{Agent: name, Error: res.Error})
		}
	}
	skip := func(name string, err error) {
		record(name, &domain.AgentResult{
			Agent: name,
			Error: (&domain.AgentExecutionError{Agent: name, Stage: stage.Name, Err: err}).Error(),
			Err:   &domain.AgentExecutionError{Agent: name, Stage: stage.Name, Err: err},
		})
	}

	var fatal error
	aborted := false
	if stage.Parallel {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(o.effectiveParallelism())
		for _, name := range stage.Agents {
			if o.aborted.Load() {
				aborted = true
				break
			}
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					skip(name, err)
					return nil
				}
				res, err := o.executeAgent(gctx, stage.Name, name, inputs)
				record(name, res)
				return err
			})
		}
		fatal = g.Wait()
	} else {
		for _, name := range stage.Agents {
			if o.aborted.Load() {
				aborted = true
				break
			}
			if err := ctx.Err(); err != nil {
				skip(name, err)
				break
			}
			res, err := o.executeAgent(ctx, stage.Name, name, inputs)
			record(name, res)
			if err != nil {
				fatal = err
				break
			}
			if !res.Success && stage.Required {
				break
			}
		}
	}

	switch {
	case aborted:
		result.Status = domain.StageAborted
	case fatal == nil && len(result.Errors) == 0:
		result.Status = domain.StageCompleted
	case stage.Required:
		result.Status = domain.StageFailed
	default:
		result.Status = domain.StageFailedNonBlocking
	}
	if fatal != nil {
		result.Err = fatal
	} else if len(result.Errors) > 0 {
		result.Err = result.Results[result.Errors[0].Agent].Err
	}

	stats := o.model.DeriveFromEvidence(o.graph, o.ledger)
	o.publish(domain.Delta{Type: domain.DeltaModel, Stage: stage.Name, Payload: stats})

	elapsed := o.now().Sub(start)
	o.metrics.StageCompleted(stage.Name, result.Status, elapsed)
	o.publish(domain.Delta{
		Type:  domain.DeltaStageComplete,
		Stage: stage.Name,
		Payload: map[string]any{
			"status": result.Status,
			"errors": result.Errors,
		},
	})
	span.SetAttributes(attribute.String("stage.status", string(result.Status)))
	if !result.Success() {
		span.SetStatus(codes.Error, "stage failed")
	}

	o.logger.Info("stage finished",
		zap.String("stage", stage.Name),
		zap.String("status", string(result.Status)),
		zap.Int("agents", len(result.Results)),
		zap.Int("failures", len(result.Errors)),
		zap.Duration("elapsed", elapsed))

	return result, fatal
}

// ValidatePipeline rejects empty, duplicated or unknown stage definitions
// before anything runs.
func (o *Orchestrator) ValidatePipeline(stages []domain.PipelineStage) error {
	if err := domain.ValidateStages(stages); err != nil {
		return err
	}
	for _, s := range stages {
		for _, a := range s.Agents {
			if _, err := o.agents.Get(a); err != nil {
				return fmt.Errorf("%w: stage %q: %w", domain.ErrInvalidPipeline, s.Name, err)
			}
		}
	}
	return nil
}

// ExecutePipeline runs stages in order: idle -> running -> complete | aborted.
// Failures are reported in the result; the error is non-nil only for an
// invalid pipeline, a concurrent run, or a budget breach in a required stage.
func (o *Orchestrator) ExecutePipeline(ctx context.Context, stages []domain.PipelineStage, inputs map[string]any) (*domain.PipelineResult, error) {
	if err := o.ValidatePipeline(stages); err != nil {
		return nil, err
	}

	o.mu.Lock()
	if o.state == domain.RunRunning {
		o.mu.Unlock()
		return nil, domain.ErrRunInProgress
	}
	o.state = domain.RunRunning
	o.runID = uuid.NewString()
	o.budget = NewBudgetManager(o.config.RunBudget, o.logger)
	o.parallelism = o.config.MaxParallel
	o.lastHints = nil
	runID := o.runID
	o.mu.Unlock()
	o.aborted.Store(false)

	ctx, span := tracer.Start(ctx, "pipeline", trace.WithAttributes(
		attribute.String("pipeline.run_id", runID),
		attribute.Int("pipeline.stages", len(stages)),
	))
	defer span.End()

	names := make([]string, len(stages))
	for i, s := range stages {
		names[i] = s.Name
	}
	o.logger.Info("pipeline started", zap.String("run_id", runID), zap.Strings("stages", names))

	result := &domain.PipelineResult{RunID: runID, Success: true}
	var retErr error

	for i, stage := range stages {
		if o.aborted.Load() {
			result.Success = false
			result.Error = domain.ErrAborted.Error()
			result.Stage = stage.Name
			break
		}

		sr, err := o.ExecuteStage(ctx, stage, inputs)
		result.Stages = append(result.Stages, sr)

		if sr.Status == domain.StageAborted {
			result.Success = false
			result.Error = domain.ErrAborted.Error()
			result.Stage = stage.Name
			break
		}
		if !sr.Success() {
			result.Success = false
			result.Stage = stage.Name
			if len(sr.Errors) > 0 {
				result.Agent = sr.Errors[0].Agent
				result.Error = sr.Errors[0].Error
			}
			if err != nil {
				retErr = err
				result.Error = err.Error()
			}
			break
		}

		if i < len(stages)-1 {
			o.consultMetaCognition()
		}
	}

	if mc := o.metacogRef(); mc != nil {
		mc.Check()
		result.Hints = mc.ActiveHints(domain.SeverityInfo)
	}

	state := domain.RunComplete
	if !result.Success {
		state = domain.RunAborted
		span.SetStatus(codes.Error, result.Error)
	}
	o.mu.Lock()
	o.state = state
	o.lastHints = result.Hints
	o.mu.Unlock()

	result.State = state
	result.ModelStats = o.model.Stats()
	result.LedgerStats = o.ledger.Stats()

	o.metrics.PipelineCompleted(state)
	o.publish(domain.Delta{
		Type: domain.DeltaPipelineComplete,
		Payload: map[string]any{
			"success": result.Success,
			"state":   state,
			"stage":   result.Stage,
			"agent":   result.Agent,
			"error":   result.Error,
		},
	})

	if result.Success {
		o.logger.Info("pipeline complete", zap.String("run_id", runID))
	} else {
		o.logger.Warn("pipeline aborted",
			zap.String("run_id", runID),
			zap.String("stage", result.Stage),
			zap.String("agent", result.Agent),
			zap.String("error", result.Error))
	}
	return result, retErr
}

// consultMetaCognition applies hints between stages: throttle halves the
// parallelism of later stages and probe_priority queues the named claims for
// verification.
func (o *Orchestrator) consultMetaCognition() {
	mc := o.metacogRef()
	if mc == nil {
		return
	}
	v := o.verifierRef()
	for _, h := range mc.Check() {
		switch h.Type {
		case domain.HintThrottle:
			o.mu.Lock()
			o.parallelism = max(1, o.parallelism/2)
			p := o.parallelism
			o.mu.Unlock()
			o.logger.Info("throttling parallel stages", zap.Int("parallelism", p), zap.String("reason", h.Reason))
		case domain.HintProbePriority:
			if v == nil {
				continue
			}
			priority := PriorityNormal
			if h.Severity >= domain.SeverityWarning {
				priority = PriorityHigh
			}
			queued := 0
			for _, id := range h.AffectedSubjects {
				if v.EnqueueByID(id, priority) {
					queued++
				}
			}
			if queued > 0 {
				o.logger.Debug("claims queued for verification", zap.Int("count", queued), zap.String("reason", h.Reason))
			}
		case domain.HintEscalate:
			o.logger.Warn("metacognition escalation", zap.String("reason", h.Reason), zap.Strings("claims", h.AffectedSubjects))
		case domain.HintRecalibrate:
			o.logger.Info("predictors need recalibration", zap.Strings("predictors", h.AffectedSubjects))
		}
	}
}

// Hints returns the hints attached to the last finished run.
func (o *Orchestrator) Hints() []domain.Hint {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return cloneHints(o.lastHints)
}

// ExportState snapshots everything needed to rebuild this orchestrator.
func (o *Orchestrator) ExportState() *domain.Snapshot {
	registry := o.registry.Export()
	return &domain.Snapshot{
		Version:       domain.SnapshotVersion,
		ExportedAt:    o.now().UTC(),
		EvidenceGraph: o.graph.Export(),
		Ledger:        o.ledger.Export(),
		Manifest:      o.manifest.Export(),
		TargetModel:   o.model.Export(),
		ExecutionLog:  o.ExecutionLog(),
		ModelRegistry: &registry,
	}
}

// ImportState merges a snapshot into the current state and re-derives the
// target model. A snapshot without evidence keeps its stored projection.
func (o *Orchestrator) ImportState(s *domain.Snapshot) error {
	if s == nil {
		return &domain.ValidationError{Field: "snapshot", Reason: "is nil"}
	}
	if major, _, _ := strings.Cut(s.Version, "."); s.Version != "" && major != "1" {
		return &domain.ValidationError{Field: "version", Reason: fmt.Sprintf("unsupported snapshot version %s", s.Version)}
	}
	if o.State() == domain.RunRunning {
		return domain.ErrRunInProgress
	}

	if err := o.graph.Import(s.EvidenceGraph); err != nil {
		return fmt.Errorf("failed to import evidence graph: %w", err)
	}
	if err := o.ledger.Import(s.Ledger); err != nil {
		return fmt.Errorf("failed to import ledger: %w", err)
	}
	if err := o.manifest.Import(s.Manifest); err != nil {
		return fmt.Errorf("failed to import manifest: %w", err)
	}
	if s.ModelRegistry != nil {
		if err := o.registry.Import(*s.ModelRegistry); err != nil {
			return fmt.Errorf("failed to import model registry: %w", err)
		}
	}

	stats := o.model.DeriveFromEvidence(o.graph, o.ledger)
	if stats.TotalEntities == 0 && len(s.TargetModel.Entities) > 0 {
		if err := o.model.Import(s.TargetModel); err != nil {
			return fmt.Errorf("failed to import target model: %w", err)
		}
	}

	o.mu.Lock()
	o.execLog = append(o.execLog, s.ExecutionLog...)
	o.mu.Unlock()

	o.logger.Info("state imported",
		zap.String("version", s.Version),
		zap.Int("events", o.graph.Len()),
		zap.Int("claims", o.ledger.Len()))
	return nil
}

// Replay imports snapshot and runs stages in replay mode, where agents may
// not make live network or tool calls.
func (o *Orchestrator) Replay(ctx context.Context, snapshot *domain.Snapshot, stages []domain.PipelineStage, inputs map[string]any) (*domain.PipelineResult, error) {
	if err := o.ImportState(snapshot); err != nil {
		return nil, err
	}
	o.mu.Lock()
	prev := o.mode
	o.mode = domain.ModeReplay
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.mode = prev
		o.mu.Unlock()
	}()
	return o.ExecutePipeline(ctx, stages, inputs)
}

// Stats gathers sizes and counters from every component.
func (o *Orchestrator) Stats(ctx context.Context) OrchestratorStats {
	o.mu.RLock()
	stats := OrchestratorStats{
		State:          o.state,
		RunID:          o.runID,
		Mode:           o.mode,
		ExecutionCount: len(o.execLog),
		EffectiveLimit: o.parallelism,
	}
	budget := o.budget
	verifier := o.verifier
	metacog := o.metacog
	o.mu.RUnlock()

	stats.RegisteredAgents = o.agents.Names()
	stats.BudgetUsage = budget.Usage()
	stats.DeltasDropped = o.bus.Dropped()
	stats.EvidenceStats = o.graph.Stats()
	stats.ModelStats = o.model.Stats()
	stats.LedgerStats = o.ledger.Stats()
	stats.RegistryStats = o.registry.Stats()
	stats.ManifestSummary = o.manifest.ValidationSummary()
	if o.cache != nil {
		n, err := o.cache.Len(ctx)
		if err != nil {
			o.logger.Warn("failed to read cache size", zap.Error(err))
		}
		stats.CacheSize = n
	}
	if verifier != nil {
		vs := verifier.Stats()
		stats.Verifier = &vs
	}
	if metacog != nil {
		ms := metacog.Stats()
		stats.MetaCognition = &ms
	}
	return stats
}
