package domain

import (
	"context"
	"fmt"
)

type PropertySchema struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

type Schema struct {
	Required   []string                  `json:"required,omitempty"`
	Properties map[string]PropertySchema `json:"properties,omitempty"`
}

// Validate checks that required keys are present and that declared
// properties carry values of the declared JSON type.
func (s Schema) Validate(inputs map[string]any) error {
	for _, key := range s.Required {
		if _, ok := inputs[key]; !ok {
			return &ValidationError{Field: key, Reason: "is required"}
		}
	}
	for key, prop := range s.Properties {
		v, ok := inputs[key]
		if !ok || v == nil || prop.Type == "" {
			continue
		}
		if !matchesJSONType(prop.Type, v) {
			return &ValidationError{Field: key, Reason: fmt.Sprintf("expected %s, got %T", prop.Type, v)}
		}
	}
	return nil
}

func matchesJSONType(t string, v any) bool {
	switch t {
	case "string":
		_, ok := v.(string)
		return ok
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "number", "integer":
		switch v.(type) {
		case int, int32, int64, float32, float64, uint, uint32, uint64:
			return true
		}
		return false
	case "array":
		switch v.(type) {
		case []any, []string, []int, []float64, []map[string]any:
			return true
		}
		return false
	case "object":
		_, ok := v.(map[string]any)
		return ok
	}
	return true
}

type AgentRequirements struct {
	EvidenceKinds []EventType  `json:"evidence_kinds,omitempty"`
	ModelNodes    []EntityType `json:"model_nodes,omitempty"`
}

type AgentEmissions struct {
	EvidenceEvents []EventType  `json:"evidence_events,omitempty"`
	ModelUpdates   []EntityType `json:"model_updates,omitempty"`
	Claims         []ClaimType  `json:"claims,omitempty"`
	Artifacts      []string     `json:"artifacts,omitempty"`
}

// AgentContract is the static declaration every agent carries. It is data,
// not behaviour: the orchestrator reads it to validate inputs and size the
// per-agent budget.
type AgentContract struct {
	Name          string            `json:"name"`
	Description   string            `json:"description,omitempty"`
	Version       string            `json:"version"`
	Inputs        Schema            `json:"inputs_schema"`
	Outputs       Schema            `json:"outputs_schema"`
	Requires      AgentRequirements `json:"requires"`
	Emits         AgentEmissions    `json:"emits"`
	DefaultBudget BudgetLimits      `json:"default_budget"`
}

type AgentOutput struct {
	Outputs map[string]any `json:"outputs,omitempty"`
	Summary string         `json:"summary,omitempty"`
}

// Agent is a probe, analysis or synthesis unit. Execute must be
// side-effect-idempotent for identical inputs since cached results may stand
// in for a live run.
type Agent interface {
	Contract() AgentContract
	Execute(ctx context.Context, actx AgentContext, inputs map[string]any) (*AgentOutput, error)
}

// AgentContext is everything an agent may touch while it runs. Writes go
// through the Emit/Add/Record methods; the readers are read-only views.
type AgentContext interface {
	Mode() ExecutionMode
	Stage() string

	EmitEvidence(ev EvidenceEvent) (string, error)
	EmitClaim(spec ClaimSpec) (*Claim, error)
	AddEvidence(claimID string, kind EvidenceKind, weight float64, refs ...string) error
	EmitArbitratedClaim(spec ClaimSpec, preds []Prediction) (*Claim, *ArbitrationResult, error)
	RegisterArtifact(a Artifact) error

	RecordTokens(n int64) error
	RecordNetworkRequest() error
	RecordToolInvocation() error

	Evidence() EvidenceReader
	Ledger() ClaimReader
	Model() ModelReader
}
