package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/Harshitk-cp/reconledger/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func hintsOfType(hints []domain.Hint, t domain.HintType) []domain.Hint {
	var out []domain.Hint
	for _, h := range hints {
		if h.Type == t {
			out = append(out, h)
		}
	}
	return out
}

func TestMetaCognition_ThrottleOnUncertainWindow(t *testing.T) {
	l := newTestLedger()
	var ids []string
	for i := 0; i < 3; i++ {
		c, _, err := l.UpsertClaim(endpointSpec(fmt.Sprintf("/u%d", i)))
		require.NoError(t, err)
		ids = append(ids, c.ID)
	}
	cfg := DefaultMetaCognitionConfig()
	cfg.WindowSize = 4
	mc := NewMetaCognition(l, nil, nil, cfg, zap.NewNop())

	hints := mc.Check()

	throttle := hintsOfType(hints, domain.HintThrottle)
	require.Len(t, throttle, 1)
	assert.Equal(t, domain.SeverityWarning, throttle[0].Severity)
	assert.Len(t, throttle[0].AffectedSubjects, 3)
	assert.Contains(t, throttle[0].AffectedSubjects, "endpoint:GET:/u0")

	probe := hintsOfType(hints, domain.HintProbePriority)
	require.Len(t, probe, 1)
	assert.Equal(t, domain.SeverityInfo, probe[0].Severity)
	assert.ElementsMatch(t, ids, probe[0].AffectedSubjects)

	assert.Empty(t, hintsOfType(hints, domain.HintEscalate))
}

func TestMetaCognition_EscalatesWhenUncertainAndContested(t *testing.T) {
	l := newTestLedger()
	for i := 0; i < 2; i++ {
		_, _, err := l.UpsertClaim(endpointSpec(fmt.Sprintf("/u%d", i)))
		require.NoError(t, err)
	}
	contested, _, err := l.UpsertClaim(endpointSpec("/contested"))
	require.NoError(t, err)
	require.NoError(t, l.AddEvidence(contested.ID, domain.EvidenceToolConfirmed, 3, "a"))
	require.NoError(t, l.AddEvidence(contested.ID, domain.EvidenceToolRefuted, 3, "b"))

	cfg := DefaultMetaCognitionConfig()
	cfg.WindowSize = 3
	mc := NewMetaCognition(l, nil, nil, cfg, zap.NewNop())
	hints := mc.Check()

	escalate := hintsOfType(hints, domain.HintEscalate)
	require.Len(t, escalate, 1)
	assert.Equal(t, domain.SeverityCritical, escalate[0].Severity)
	assert.Equal(t, []string{contested.ID}, escalate[0].AffectedSubjects)

	critical := mc.ActiveHints(domain.SeverityCritical)
	require.Len(t, critical, 1)
	assert.Equal(t, domain.HintEscalate, critical[0].Type)
	assert.Len(t, mc.ActiveHints(domain.SeverityWarning), 3)

	stats := mc.Stats()
	assert.Equal(t, 1, stats.ChecksPerformed)
	assert.Equal(t, 1, stats.ContradictionsDetected)
	assert.Equal(t, len(hints), stats.ActiveHints)

	mc.ClearHints()
	assert.Empty(t, mc.ActiveHints(domain.SeverityInfo))
}

func TestMetaCognition_Recalibrate(t *testing.T) {
	reg := NewModelRegistry(zap.NewNop())
	for i := 0; i < 5; i++ {
		reg.UpdateReputation("drifting", i == 0)
		reg.UpdateReputation("solid", true)
	}
	reg.UpdateReputation("new", false)

	mc := NewMetaCognition(newTestLedger(), nil, reg, DefaultMetaCognitionConfig(), zap.NewNop())
	recal := hintsOfType(mc.Check(), domain.HintRecalibrate)
	require.Len(t, recal, 1)
	assert.Equal(t, []string{"drifting"}, recal[0].AffectedSubjects)
}

func TestMetaCognition_WeaklySupportedEntities(t *testing.T) {
	g := NewEvidenceGraph(zap.NewNop())
	l := newTestLedger()
	weak, _, err := l.UpsertClaim(endpointSpec("/doubtful"))
	require.NoError(t, err)
	require.NoError(t, l.AddEvidence(weak.ID, domain.EvidenceActiveProbeFail, 2, "p"))
	strong, _, err := l.UpsertClaim(endpointSpec("/solid"))
	require.NoError(t, err)
	require.NoError(t, l.AddEvidence(strong.ID, domain.EvidenceToolConfirmed, 4, "t"))

	m := NewTargetModel(zap.NewNop())
	m.DeriveFromEvidence(g, l)

	mc := NewMetaCognition(l, m, nil, DefaultMetaCognitionConfig(), zap.NewNop())
	probe := hintsOfType(mc.Check(), domain.HintProbePriority)
	require.Len(t, probe, 1)
	assert.Equal(t, []string{weak.ID}, probe[0].AffectedSubjects)
}

func TestMetaCognition_QuietLedger(t *testing.T) {
	mc := NewMetaCognition(newTestLedger(), nil, nil, DefaultMetaCognitionConfig(), zap.NewNop())
	assert.Empty(t, mc.Check())
	assert.Empty(t, mc.ActiveHints(domain.SeverityInfo))
}

func TestMetaCognition_CheckNovelty(t *testing.T) {
	mc := NewMetaCognition(newTestLedger(), nil, nil, DefaultMetaCognitionConfig(), zap.NewNop())
	vocab := map[string]bool{"login": true, "api": true, "user": true}

	assert.False(t, mc.CheckNovelty([]string{"login", "api", "user", "graphql", "mutation"}, vocab))
	assert.True(t, mc.CheckNovelty([]string{"login", "api", "graphql", "mutation", "subscription"}, vocab))
	assert.False(t, mc.CheckNovelty(nil, vocab))
	assert.Equal(t, 1, mc.Stats().NoveltyFlagged)
}

func TestOrchestrator_AppliesHintsBetweenStages(t *testing.T) {
	discover := newFakeAgent("discover", func(_ context.Context, actx domain.AgentContext, _ map[string]any) (*domain.AgentOutput, error) {
		for _, p := range []string{"/a", "/b"} {
			if _, err := actx.EmitClaim(endpointSpec(p)); err != nil {
				return nil, err
			}
		}
		return &domain.AgentOutput{}, nil
	})
	analyse := newFakeAgent("analyse", nil)
	o := newTestOrchestrator(t, DefaultOrchestratorConfig(), discover, analyse)

	cfg := DefaultMetaCognitionConfig()
	cfg.WindowSize = 2
	o.SetMetaCognition(NewMetaCognition(o.Ledger(), o.Model(), o.ModelRegistry(), cfg, zap.NewNop()))
	v := NewReactiveVerifier(o.Ledger(), o.ModelRegistry(), &stubProber{}, DefaultVerifierConfig(), zap.NewNop())
	o.SetVerifier(v)

	res, err := o.ExecutePipeline(context.Background(), []domain.PipelineStage{
		domain.NewPipelineStage("recon", []string{"discover"}),
		domain.NewPipelineStage("analysis", []string{"analyse"}, domain.Parallel()),
	}, nil)
	require.NoError(t, err)
	require.True(t, res.Success)

	stats := o.Stats(context.Background())
	assert.Equal(t, DefaultMaxParallel/2, stats.EffectiveLimit)
	assert.Equal(t, 2, v.QueueLength())
	assert.NotEmpty(t, hintsOfType(res.Hints, domain.HintThrottle))
	assert.Equal(t, res.Hints, o.Hints())
}
