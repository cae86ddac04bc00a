package domain

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

type ExecutionMode string

const (
	ModeLive   ExecutionMode = "live"
	ModeReplay ExecutionMode = "replay"
	ModeDryRun ExecutionMode = "dry_run"
)

func ValidExecutionMode(m string) bool {
	switch ExecutionMode(m) {
	case ModeLive, ModeReplay, ModeDryRun:
		return true
	}
	return false
}

const DefaultStageTimeout = 120 * time.Second

// PipelineStage is static configuration. Construct with NewPipelineStage and
// treat as immutable afterwards.
type PipelineStage struct {
	Name     string        `json:"name"`
	Agents   []string      `json:"agents"`
	Parallel bool          `json:"parallel"`
	Required bool          `json:"required"`
	Timeout  time.Duration `json:"timeout"`
}

type StageOption func(*PipelineStage)

func Parallel() StageOption { return func(s *PipelineStage) { s.Parallel = true } }

func Optional() StageOption { return func(s *PipelineStage) { s.Required = false } }

// WithStageTimeout overrides DefaultStageTimeout for one stage.
func WithStageTimeout(d time.Duration) StageOption {
	return func(s *PipelineStage) { s.Timeout = d }
}

// NewPipelineStage defaults to a sequential, required stage with a 120s
// timeout.
func NewPipelineStage(name string, agents []string, opts ...StageOption) PipelineStage {
	s := PipelineStage{
		Name:     name,
		Agents:   slices.Clone(agents),
		Required: true,
		Timeout:  DefaultStageTimeout,
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// ValidateStages checks stage definitions on their own, without knowing
// which agents are registered.
func ValidateStages(stages []PipelineStage) error {
	if len(stages) == 0 {
		return fmt.Errorf("%w: no stages", ErrInvalidPipeline)
	}
	seen := make(map[string]bool)
	for i, s := range stages {
		if strings.TrimSpace(s.Name) == "" {
			return fmt.Errorf("%w: stage %d has no name", ErrInvalidPipeline, i)
		}
		if seen[s.Name] {
			return fmt.Errorf("%w: duplicate stage %q", ErrInvalidPipeline, s.Name)
		}
		seen[s.Name] = true
		if len(s.Agents) == 0 {
			return fmt.Errorf("%w: stage %q has no agents", ErrInvalidPipeline, s.Name)
		}
		if s.Timeout < 0 {
			return fmt.Errorf("%w: stage %q has a negative timeout", ErrInvalidPipeline, s.Name)
		}
	}
	return nil
}

type RunState string

const (
	RunIdle     RunState = "idle"
	RunRunning  RunState = "running"
	RunComplete RunState = "complete"
	RunAborted  RunState = "aborted"
)

type StageStatus string

const (
	StageCompleted         StageStatus = "completed"
	StageFailed            StageStatus = "failed"
	StageFailedNonBlocking StageStatus = "failed_non_blocking"
	StageAborted           StageStatus = "aborted"
)

type AgentResult struct {
	Agent          string         `json:"agent"`
	Success        bool           `json:"success"`
	Outputs        map[string]any `json:"outputs,omitempty"`
	Error          string         `json:"error,omitempty"`
	Summary        string         `json:"summary,omitempty"`
	Cached         bool           `json:"cached"`
	DurationMs     int64          `json:"duration_ms"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
	EmittedEvents  []string       `json:"emitted_events,omitempty"`
	EmittedClaims  []string       `json:"emitted_claims,omitempty"`

	Err error `json:"-"`
}

type AgentFailure struct {
	Agent string `json:"agent"`
	Error string `json:"error"`
}

type StageResult struct {
	Name    string                  `json:"name"`
	Status  StageStatus             `json:"status"`
	Results map[string]*AgentResult `json:"results"`
	Errors  []AgentFailure          `json:"errors,omitempty"`

	Err error `json:"-"`
}

// Success reports whether the stage lets the pipeline continue.
func (r *StageResult) Success() bool {
	return r.Status == StageCompleted || r.Status == StageFailedNonBlocking
}

type PipelineResult struct {
	RunID       string         `json:"run_id"`
	Success     bool           `json:"success"`
	State       RunState       `json:"state"`
	Stages      []*StageResult `json:"stages"`
	Error       string         `json:"error,omitempty"`
	Stage       string         `json:"stage,omitempty"`
	Agent       string         `json:"agent,omitempty"`
	ModelStats  ModelStats     `json:"model_stats"`
	LedgerStats LedgerStats    `json:"ledger_stats"`
	Hints       []Hint         `json:"hints,omitempty"`
}

type ExecutionLogEntry struct {
	ID             string    `json:"id"`
	RunID          string    `json:"run_id,omitempty"`
	Stage          string    `json:"stage,omitempty"`
	Agent          string    `json:"agent"`
	Timestamp      time.Time `json:"timestamp"`
	Success        bool      `json:"success"`
	Cached         bool      `json:"cached"`
	Summary        string    `json:"summary,omitempty"`
	Error          string    `json:"error,omitempty"`
	DurationMs     int64     `json:"duration_ms"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
}

const SnapshotVersion = "1.0.0"

// Snapshot is the world-model.json document: enough to rebuild orchestrator
// state with ImportState.
type Snapshot struct {
	Version       string              `json:"version"`
	ExportedAt    time.Time           `json:"exported_at"`
	EvidenceGraph EvidenceGraphState  `json:"evidence_graph"`
	Ledger        LedgerState         `json:"ledger"`
	Manifest      ManifestState       `json:"manifest"`
	TargetModel   TargetModelState    `json:"target_model"`
	ExecutionLog  []ExecutionLogEntry `json:"execution_log"`
	ModelRegistry *RegistryState      `json:"model_registry,omitempty"`
}

type DeltaType string

const (
	DeltaAgentStart       DeltaType = "agent:start"
	DeltaAgentComplete    DeltaType = "agent:complete"
	DeltaEvidence         DeltaType = "delta:evidence"
	DeltaClaim            DeltaType = "delta:claim"
	DeltaModel            DeltaType = "delta:model"
	DeltaStageStart       DeltaType = "stage:start"
	DeltaStageComplete    DeltaType = "stage:complete"
	DeltaPipelineComplete DeltaType = "pipeline:complete"
)

type Delta struct {
	Type      DeltaType `json:"type"`
	RunID     string    `json:"run_id,omitempty"`
	Stage     string    `json:"stage,omitempty"`
	Agent     string    `json:"agent,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}
