package domain

import (
	"context"
	"time"
)

// ResultCache stores successful agent results by idempotency key.
type ResultCache interface {
	Get(ctx context.Context, key string) (*AgentResult, bool, error)
	Set(ctx context.Context, key string, result *AgentResult) error
	Len(ctx context.Context) (int, error)
}

// SnapshotStore persists and restores world-model snapshots.
type SnapshotStore interface {
	Save(ctx context.Context, s *Snapshot) error
	Load(ctx context.Context) (*Snapshot, error)
}

type Verdict string

const (
	VerdictConfirmed    Verdict = "confirmed"
	VerdictRefuted      Verdict = "refuted"
	VerdictInconclusive Verdict = "inconclusive"
)

type ProbeResult struct {
	URL        string        `json:"url"`
	StatusCode int           `json:"status_code"`
	Verdict    Verdict       `json:"verdict"`
	Latency    time.Duration `json:"latency"`
	Detail     string        `json:"detail,omitempty"`
}

// Prober actively re-checks a target. Implementations own their transport
// and must honour ctx cancellation.
type Prober interface {
	Probe(ctx context.Context, url string) (ProbeResult, error)
}

type ArtifactStage string

const (
	ArtifactGenerated ArtifactStage = "generated"
	ArtifactValidated ArtifactStage = "validated"
	ArtifactFailed    ArtifactStage = "failed"
)

type Artifact struct {
	Path         string         `json:"path"`
	ArtifactType string         `json:"artifact_type"`
	Agent        string         `json:"agent,omitempty"`
	Stage        ArtifactStage  `json:"stage"`
	ClaimRefs    []string       `json:"claim_refs,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

type ManifestState struct {
	Artifacts []Artifact `json:"artifacts"`
}

type ManifestSummary struct {
	Total     int                   `json:"total"`
	ByStage   map[ArtifactStage]int `json:"by_stage"`
	ByType    map[string]int        `json:"by_type"`
	Validated float64               `json:"validated_ratio"`
}

// MetricsRecorder receives engine events for export. Implementations must be
// safe for concurrent use.
type MetricsRecorder interface {
	AgentExecuted(agent string, success, cached bool, d time.Duration)
	StageCompleted(stage string, status StageStatus, d time.Duration)
	PipelineCompleted(state RunState)
	BudgetExceeded(metric BudgetMetric)
	EvidenceSize(n int)
	ClaimCount(n int)
	VerificationCompleted(verdict Verdict)
	VerifierQueueDepth(n int)
	HintEmitted(t HintType, s Severity)
	DeltaDropped(n int64)
}
