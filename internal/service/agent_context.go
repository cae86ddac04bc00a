package service

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/Harshitk-cp/reconledger/internal/domain"
	"go.uber.org/zap"
)

// agentContext is the domain.AgentContext handed to one agent execution. It
// records what the agent emitted so the orchestrator can publish deltas, and
// charges usage against both the agent's own budget and the run budget.
type agentContext struct {
	o      *Orchestrator
	agent  string
	stage  string
	mode   domain.ExecutionMode
	budget *BudgetManager
	run    *BudgetManager

	mu     sync.Mutex
	events []string
	claims []string
	runErr error
}

var _ domain.AgentContext = (*agentContext)(nil)

func (c *agentContext) Mode() domain.ExecutionMode { return c.mode }

func (c *agentContext) Stage() string { return c.stage }

// EmitEvidence appends ev to the evidence graph. An empty source defaults to
// the agent name.
func (c *agentContext) EmitEvidence(ev domain.EvidenceEvent) (string, error) {
	if ev.Source == "" {
		ev.Source = c.agent
	}
	id, err := c.o.graph.AddEvent(ev)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	if !slices.Contains(c.events, id) {
		c.events = append(c.events, id)
	}
	c.mu.Unlock()
	return id, nil
}

// EmitClaim upserts spec and attributes the claim to this run.
func (c *agentContext) EmitClaim(spec domain.ClaimSpec) (*domain.Claim, error) {
	claim, _, err := c.o.ledger.UpsertClaim(spec)
	if err != nil {
		return nil, err
	}
	c.noteClaim(claim.ID)
	return claim, nil
}

func (c *agentContext) AddEvidence(claimID string, kind domain.EvidenceKind, weight float64, refs ...string) error {
	if err := c.o.ledger.AddEvidence(claimID, kind, weight, c.agent, refs...); err != nil {
		return err
	}
	c.noteClaim(claimID)
	return nil
}

// EmitArbitratedClaim resolves preds with the arbiter, records the winning
// label as the claim's inference, and credits the arbitrated confidence as
// model_consensus evidence. Contested votes are routed to the verifier.
func (c *agentContext) EmitArbitratedClaim(spec domain.ClaimSpec, preds []domain.Prediction) (*domain.Claim, *domain.ArbitrationResult, error) {
	if len(preds) == 0 {
		return nil, nil, &domain.ValidationError{Field: "predictions", Reason: "at least one prediction is required"}
	}
	res := c.o.arbiter.Arbitrate(preds)

	if spec.PredictorID == "" {
		spec.PredictorID = leadingPredictor(preds, res.Label)
	}
	if spec.Predicate == nil && spec.ClaimType == domain.ClaimInference {
		spec.Predicate = domain.InferencePredicate{"label": res.Label}
	}

	claim, err := c.EmitClaim(spec)
	if err != nil {
		return nil, nil, err
	}
	if res.Confidence > 0 {
		if err := c.AddEvidence(claim.ID, domain.EvidenceModelConsensus, res.Confidence); err != nil {
			return nil, nil, err
		}
		if updated, ok := c.o.ledger.GetClaim(claim.ID); ok {
			claim = updated
		}
	}

	if c.o.arbiter.ShouldDeferToVerification(res) {
		if v := c.o.verifierRef(); v != nil && v.Enqueue(claim, PriorityHigh) {
			c.o.logger.Debug("contested claim deferred to verification",
				zap.String("claim_id", claim.ID),
				zap.Float64("entropy", res.Entropy))
		}
	}
	return claim, &res, nil
}

// leadingPredictor picks the most confident predictor that voted for label.
func leadingPredictor(preds []domain.Prediction, label string) string {
	best := ""
	bestConf := -1.0
	for _, p := range preds {
		if p.Label == label && p.Confidence > bestConf {
			best, bestConf = p.PredictorID, p.Confidence
		}
	}
	return best
}

func (c *agentContext) RegisterArtifact(a domain.Artifact) error {
	if a.Agent == "" {
		a.Agent = c.agent
	}
	return c.o.manifest.Register(a)
}

func (c *agentContext) RecordTokens(n int64) error {
	return c.track(domain.MetricTokens, n)
}

// RecordNetworkRequest fails in replay mode, where live calls are forbidden.
func (c *agentContext) RecordNetworkRequest() error {
	if c.mode == domain.ModeReplay {
		return fmt.Errorf("%w: agent %s network request", domain.ErrLiveCallInReplay, c.agent)
	}
	return c.track(domain.MetricNetworkRequests, 1)
}

func (c *agentContext) RecordToolInvocation() error {
	if c.mode == domain.ModeReplay {
		return fmt.Errorf("%w: agent %s tool invocation", domain.ErrLiveCallInReplay, c.agent)
	}
	return c.track(domain.MetricToolInvocations, 1)
}

// track charges both budgets. A breach of the run budget is remembered so the
// orchestrator can surface it even if the agent swallows the error.
func (c *agentContext) track(metric domain.BudgetMetric, n int64) error {
	agentErr := c.budget.Track(metric, n)
	var runErr error
	if c.run != nil {
		runErr = c.run.Track(metric, n)
	}
	if runErr != nil {
		c.mu.Lock()
		if c.runErr == nil {
			c.runErr = runErr
		}
		c.mu.Unlock()
		c.o.metrics.BudgetExceeded(metric)
		return runErr
	}
	if agentErr != nil {
		var be *domain.BudgetExceededError
		if errors.As(agentErr, &be) {
			c.o.metrics.BudgetExceeded(be.Metric)
		}
	}
	return agentErr
}

func (c *agentContext) Evidence() domain.EvidenceReader { return c.o.graph }

func (c *agentContext) Ledger() domain.ClaimReader { return c.o.ledger }

func (c *agentContext) Model() domain.ModelReader { return c.o.model }

func (c *agentContext) noteClaim(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !slices.Contains(c.claims, id) {
		c.claims = append(c.claims, id)
	}
}

func (c *agentContext) emitted() (events, claims []string, runErr error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.events), slices.Clone(c.claims), c.runErr
}
