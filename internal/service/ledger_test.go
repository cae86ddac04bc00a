package service

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/Harshitk-cp/reconledger/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestLedger() *Ledger {
	return NewLedger(DefaultLedgerConfig(), zap.NewNop())
}

func endpointSpec(path string) domain.ClaimSpec {
	return domain.ClaimSpec{
		ClaimType: domain.ClaimEndpoint,
		Subject:   "endpoint:GET:" + path,
		Predicate: domain.EndpointPredicate{Method: "GET", Path: path, BaseURL: "https://example.com"},
	}
}

func TestLedger_ScenarioOpinion(t *testing.T) {
	l := newTestLedger()
	claim, created, err := l.UpsertClaim(endpointSpec("/api/users"))
	require.NoError(t, err)
	require.True(t, created)

	require.NoError(t, l.AddEvidence(claim.ID, domain.EvidenceCrawlInferred, 1, "crawler"))
	require.NoError(t, l.AddEvidence(claim.ID, domain.EvidenceCrawlInferred, 1, "crawler"))
	require.NoError(t, l.AddEvidence(claim.ID, domain.EvidenceActiveProbeFail, 1, "prober"))

	got, ok := l.GetClaim(claim.ID)
	require.True(t, ok)
	assert.Equal(t, 2.0, got.Evidence.R)
	assert.Equal(t, 1.0, got.Evidence.S)

	o, err := l.GetOpinion(claim.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.4, o.B, eps)
	assert.InDelta(t, 0.2, o.D, eps)
	assert.InDelta(t, 0.4, o.U, eps)
	assert.InDelta(t, 0.6, ExpectedProbability(o), eps)
	assert.ElementsMatch(t, []string{"crawler", "prober"}, got.Sources)
}

func TestLedger_UpsertDeduplicates(t *testing.T) {
	l := newTestLedger()
	a, created, err := l.UpsertClaim(endpointSpec("/login"))
	require.NoError(t, err)
	assert.True(t, created)

	b, created, err := l.UpsertClaim(endpointSpec("/login"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, a.ID, b.ID)
	assert.Equal(t, 1, l.Len())

	c, _, err := l.UpsertClaim(endpointSpec("/logout"))
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, c.ID)
}

func TestLedger_DefaultBaseRate(t *testing.T) {
	l := newTestLedger()
	c, _, err := l.UpsertClaim(endpointSpec("/x"))
	require.NoError(t, err)
	assert.Equal(t, DefaultBaseRate, c.BaseRate)
	assert.Equal(t, VacuousOpinion(DefaultBaseRate), c.Opinion)
}

func TestLedger_ExplicitBaseRate(t *testing.T) {
	l := newTestLedger()

	zero := 0.0
	spec := endpointSpec("/never")
	spec.BaseRate = &zero
	c, _, err := l.UpsertClaim(spec)
	require.NoError(t, err)
	assert.Equal(t, 0.0, c.BaseRate)
	assert.Equal(t, 0.0, ExpectedProbability(c.Opinion))

	for _, bad := range []float64{-0.1, 1.5} {
		bad := bad
		spec := endpointSpec("/bad")
		spec.BaseRate = &bad
		_, _, err := l.UpsertClaim(spec)
		require.ErrorIs(t, err, domain.ErrValidation)
	}
	assert.Equal(t, 1, l.Len())
}

func TestLedger_ValidationBeforeMutation(t *testing.T) {
	l := newTestLedger()

	_, _, err := l.UpsertClaim(domain.ClaimSpec{ClaimType: "rumour", Subject: "x"})
	require.ErrorIs(t, err, domain.ErrValidation)

	_, _, err = l.UpsertClaim(domain.ClaimSpec{
		ClaimType: domain.ClaimEndpoint,
		Subject:   "x",
		Predicate: domain.FrameworkPredicate{Name: "react"},
	})
	require.ErrorIs(t, err, domain.ErrValidation)
	assert.Equal(t, 0, l.Len())

	c, _, err := l.UpsertClaim(endpointSpec("/a"))
	require.NoError(t, err)

	err = l.AddEvidence(c.ID, "gut_feeling", 1, "x")
	require.ErrorIs(t, err, domain.ErrValidation)

	for _, w := range []float64{0, -1} {
		err = l.AddEvidence(c.ID, domain.EvidenceToolConfirmed, w, "x")
		require.ErrorIs(t, err, domain.ErrValidation)
	}

	err = l.AddEvidence("missing", domain.EvidenceToolConfirmed, 1, "x")
	require.ErrorIs(t, err, domain.ErrClaimNotFound)

	got, _ := l.GetClaim(c.ID)
	assert.Equal(t, domain.EvidenceVector{}, got.Evidence)
	assert.Empty(t, got.Sources)
}

func TestLedger_PolarityTable(t *testing.T) {
	positive := []domain.EvidenceKind{
		domain.EvidenceCrawlInferred, domain.EvidenceJSASTHeuristic, domain.EvidenceTechFingerprint,
		domain.EvidenceHeaderObserved, domain.EvidenceToolConfirmed, domain.EvidenceModelConsensus,
		domain.EvidenceLLMInference, domain.EvidenceActiveProbeSuccess,
	}
	negative := []domain.EvidenceKind{
		domain.EvidenceActiveProbeFail, domain.EvidenceToolRefuted,
		domain.EvidenceContradictionObserve, domain.EvidenceHeaderAbsent,
	}
	l := newTestLedger()
	c, _, err := l.UpsertClaim(endpointSpec("/p"))
	require.NoError(t, err)

	for _, k := range positive {
		require.NoError(t, l.AddEvidence(c.ID, k, 1, "t"))
	}
	for _, k := range negative {
		require.NoError(t, l.AddEvidence(c.ID, k, 1, "t"))
	}
	got, _ := l.GetClaim(c.ID)
	assert.Equal(t, float64(len(positive)), got.Evidence.R)
	assert.Equal(t, float64(len(negative)), got.Evidence.S)
}

func TestLedger_AddEvidenceIsMonotonicUnderConcurrency(t *testing.T) {
	l := newTestLedger()
	c, _, err := l.UpsertClaim(endpointSpec("/race"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = l.AddEvidence(c.ID, domain.EvidenceToolConfirmed, 1, "a")
		}()
		go func() {
			defer wg.Done()
			_ = l.AddEvidence(c.ID, domain.EvidenceToolRefuted, 0.5, "b")
		}()
	}
	wg.Wait()

	got, _ := l.GetClaim(c.ID)
	assert.Equal(t, 50.0, got.Evidence.R)
	assert.Equal(t, 25.0, got.Evidence.S)
}

func TestLedger_ReturnsCopies(t *testing.T) {
	l := newTestLedger()
	c, _, err := l.UpsertClaim(endpointSpec("/copy"))
	require.NoError(t, err)
	require.NoError(t, l.AddEvidence(c.ID, domain.EvidenceToolConfirmed, 1, "a", "ev1"))

	got, _ := l.GetClaim(c.ID)
	got.Evidence.R = 100
	got.EvidenceRefs[0] = "tampered"

	again, _ := l.GetClaim(c.ID)
	assert.Equal(t, 1.0, again.Evidence.R)
	assert.Equal(t, []string{"ev1"}, again.EvidenceRefs)
}

func TestLedger_InferencePredicateIsNotShared(t *testing.T) {
	l := newTestLedger()
	pred := domain.InferencePredicate{"stack": map[string]any{"frontend": "react"}}
	c, _, err := l.UpsertClaim(domain.ClaimSpec{ClaimType: domain.ClaimInference, Subject: "example.com", Predicate: pred})
	require.NoError(t, err)

	pred["stack"].(map[string]any)["frontend"] = "vue"
	got, _ := l.GetClaim(c.ID)
	got.Predicate.(domain.InferencePredicate)["stack"].(map[string]any)["backend"] = "django"

	again, _ := l.GetClaim(c.ID)
	assert.Equal(t, domain.InferencePredicate{"stack": map[string]any{"frontend": "react"}}, again.Predicate)
	id, err := ClaimID(again.ClaimType, again.Subject, again.Predicate)
	require.NoError(t, err)
	assert.Equal(t, c.ID, id)
}

func TestLedger_LargeIntegerPredicateSurvivesJSON(t *testing.T) {
	src := newTestLedger()
	c, _, err := src.UpsertClaim(domain.ClaimSpec{
		ClaimType: domain.ClaimInference,
		Subject:   "example.com",
		Predicate: domain.InferencePredicate{"asn_prefix_id": int64(9007199254740993)},
	})
	require.NoError(t, err)

	data, err := json.Marshal(src.Export())
	require.NoError(t, err)
	var state domain.LedgerState
	require.NoError(t, json.Unmarshal(data, &state))

	dst := newTestLedger()
	require.NoError(t, dst.Import(state))
	_, ok := dst.GetClaim(c.ID)
	assert.True(t, ok)
}

func TestLedger_UncertainAndControversialRanking(t *testing.T) {
	l := newTestLedger()
	fresh, _, _ := l.UpsertClaim(endpointSpec("/fresh"))
	settled, _, _ := l.UpsertClaim(endpointSpec("/settled"))
	contested, _, _ := l.UpsertClaim(endpointSpec("/contested"))

	require.NoError(t, l.AddEvidence(settled.ID, domain.EvidenceToolConfirmed, 10, "t"))
	require.NoError(t, l.AddEvidence(contested.ID, domain.EvidenceToolConfirmed, 3, "t"))
	require.NoError(t, l.AddEvidence(contested.ID, domain.EvidenceToolRefuted, 3, "t"))

	uncertain := l.HighUncertaintyClaims(10)
	require.Len(t, uncertain, 1)
	assert.Equal(t, fresh.ID, uncertain[0].ID)

	controversial := l.ControversialClaims(10)
	require.Len(t, controversial, 1)
	assert.Equal(t, contested.ID, controversial[0].ID)

	require.NoError(t, l.MarkVerified(fresh.ID, true))
	assert.Empty(t, l.HighUncertaintyClaims(10))
}

func TestLedger_RecentClaims(t *testing.T) {
	l := newTestLedger()
	for i := 0; i < 5; i++ {
		_, _, err := l.UpsertClaim(endpointSpec(fmt.Sprintf("/r%d", i)))
		require.NoError(t, err)
	}
	recent := l.RecentClaims(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "endpoint:GET:/r4", recent[0].Subject)
	assert.Equal(t, "endpoint:GET:/r3", recent[1].Subject)
	assert.Len(t, l.RecentClaims(0), 5)
}

func TestLedger_Stats(t *testing.T) {
	l := newTestLedger()
	a, _, _ := l.UpsertClaim(endpointSpec("/a"))
	b, _, _ := l.UpsertClaim(domain.ClaimSpec{
		ClaimType: domain.ClaimFramework,
		Subject:   "example.com",
		Predicate: domain.FrameworkPredicate{Name: "Next.js"},
	})
	require.NoError(t, l.AddEvidence(a.ID, domain.EvidenceToolConfirmed, 2, "t"))
	require.NoError(t, l.MarkVerified(a.ID, true))
	require.NoError(t, l.MarkVerified(b.ID, false))

	s := l.Stats()
	assert.Equal(t, 2, s.TotalClaims)
	assert.Equal(t, 1, s.ByType[domain.ClaimEndpoint])
	assert.Equal(t, 1, s.ByType[domain.ClaimFramework])
	assert.Equal(t, 1, s.Verified)
	assert.Equal(t, 1, s.Refuted)
	assert.InDelta(t, 0.25, s.AverageBelief, eps)
	assert.InDelta(t, 0.75, s.AverageUncertainty, eps)
}

func TestLedger_ExportImportJSON(t *testing.T) {
	src := newTestLedger()
	c, _, err := src.UpsertClaim(endpointSpec("/json"))
	require.NoError(t, err)
	require.NoError(t, src.AddEvidence(c.ID, domain.EvidenceJSASTHeuristic, 1.5, "js"))
	inf, _, err := src.UpsertClaim(domain.ClaimSpec{
		ClaimType: domain.ClaimInference,
		Subject:   "example.com",
		Predicate: domain.InferencePredicate{"architecture": "spa"},
	})
	require.NoError(t, err)

	data, err := json.Marshal(src.Export())
	require.NoError(t, err)

	var state domain.LedgerState
	require.NoError(t, json.Unmarshal(data, &state))

	dst := newTestLedger()
	require.NoError(t, dst.Import(state))

	got, ok := dst.GetClaim(c.ID)
	require.True(t, ok)
	assert.Equal(t, domain.EndpointPredicate{Method: "GET", Path: "/json", BaseURL: "https://example.com"}, got.Predicate)
	assert.Equal(t, 1.5, got.Evidence.R)

	gotInf, ok := dst.GetClaim(inf.ID)
	require.True(t, ok)
	assert.Equal(t, domain.InferencePredicate{"architecture": "spa"}, gotInf.Predicate)

	state.Claims[0].Evidence.R = 0.5
	require.NoError(t, dst.Import(state))
	again, _ := dst.GetClaim(c.ID)
	assert.Equal(t, 1.5, again.Evidence.R, "import never lowers r")
}

func TestLedger_ImportRejectsMismatchedID(t *testing.T) {
	src := newTestLedger()
	_, _, err := src.UpsertClaim(endpointSpec("/id"))
	require.NoError(t, err)
	state := src.Export()
	state.Claims[0].Subject = "endpoint:GET:/other"

	dst := newTestLedger()
	require.ErrorIs(t, dst.Import(state), domain.ErrValidation)
	assert.Equal(t, 0, dst.Len())
}
