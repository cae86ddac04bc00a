package service

import (
	"testing"

	"github.com/Harshitk-cp/reconledger/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func reconEvents() []domain.EvidenceEvent {
	return []domain.EvidenceEvent{
		{Source: "dns", EventType: domain.EventDNSRecord, Target: "example.com",
			Payload: map[string]any{"record_type": "A", "value": "93.184.216.34"}},
		portScan("example.com", 443),
		{Source: "nmap", EventType: domain.EventPortScan, Target: "example.com",
			Payload: map[string]any{"port": 8080, "state": "filtered"}},
		{Source: "crawler", EventType: domain.EventEndpointDiscovered, Target: "https://example.com/api/users",
			Payload: map[string]any{"url": "https://example.com/api/users", "method": "post"}},
		{Source: "whatweb", EventType: domain.EventTechDetection, Target: "example.com",
			Payload: map[string]any{"name": "Nginx", "version": "1.25"}},
		{Source: "curl", EventType: domain.EventHTTPHeader, Target: "https://example.com",
			Payload: map[string]any{"name": "Server", "value": "nginx"}},
	}
}

func buildInputs(t *testing.T, events []domain.EvidenceEvent) (*EvidenceGraph, *Ledger) {
	t.Helper()
	g := NewEvidenceGraph(zap.NewNop())
	for _, ev := range events {
		_, err := g.AddEvent(ev)
		require.NoError(t, err)
	}
	return g, newTestLedger()
}

func TestTargetModel_ProjectsEvents(t *testing.T) {
	g, l := buildInputs(t, reconEvents())
	m := NewTargetModel(zap.NewNop())
	stats := m.DeriveFromEvidence(g, l)

	host, ok := m.GetEntity(HostID("example.com"))
	require.True(t, ok)
	assert.Equal(t, "93.184.216.34", host.Attributes["ip"])
	assert.Equal(t, map[string]any{"server": "nginx"}, host.Attributes["headers"])

	_, ok = m.GetEntity(ServiceID("example.com", "443"))
	assert.True(t, ok)
	_, ok = m.GetEntity(ServiceID("example.com", "8080"))
	assert.False(t, ok, "filtered ports are not services")

	endpoints := m.Endpoints()
	require.Len(t, endpoints, 1)
	assert.Equal(t, "endpoint:POST:/api/users", endpoints[0].ID)

	_, ok = m.GetEntity(TechnologyID("Nginx"))
	assert.True(t, ok)

	assert.Equal(t, 1, stats.ByRelation[domain.RelExposes])
	assert.Equal(t, 1, stats.ByRelation[domain.RelContains])
	assert.Equal(t, 1, stats.ByRelation[domain.RelUses])
}

func TestTargetModel_DerivationIsDeterministic(t *testing.T) {
	events := reconEvents()
	g1, l1 := buildInputs(t, events)

	reversed := make([]domain.EvidenceEvent, len(events))
	for i, ev := range events {
		reversed[len(events)-1-i] = ev
	}
	g2, l2 := buildInputs(t, reversed)

	for _, l := range []*Ledger{l1, l2} {
		_, _, err := l.UpsertClaim(domain.ClaimSpec{
			ClaimType: domain.ClaimDataFlow,
			Subject:   "example.com",
			Predicate: domain.DataFlowPredicate{Source: "component:login-form", Sink: "component:auth-api"},
		})
		require.NoError(t, err)
	}

	m1 := NewTargetModel(zap.NewNop())
	m2 := NewTargetModel(zap.NewNop())
	m1.DeriveFromEvidence(g1, l1)
	m2.DeriveFromEvidence(g2, l2)
	assert.Equal(t, m1.Export(), m2.Export())

	before := m1.Export()
	m1.DeriveFromEvidence(g1, l1)
	assert.Equal(t, before, m1.Export(), "re-deriving from unchanged inputs is a no-op")
}

func TestTargetModel_ProjectsClaims(t *testing.T) {
	g, l := buildInputs(t, nil)

	ep, _, err := l.UpsertClaim(endpointSpec("/api/orders"))
	require.NoError(t, err)
	fw, _, err := l.UpsertClaim(domain.ClaimSpec{
		ClaimType: domain.ClaimFramework,
		Subject:   "example.com",
		Predicate: domain.FrameworkPredicate{Name: "React", Version: "18"},
	})
	require.NoError(t, err)
	_, _, err = l.UpsertClaim(domain.ClaimSpec{
		ClaimType: domain.ClaimComponent,
		Subject:   "example.com",
		Predicate: domain.ComponentPredicate{Name: "checkout", Endpoints: []string{EndpointID("GET", "/api/orders")}},
	})
	require.NoError(t, err)
	_, _, err = l.UpsertClaim(domain.ClaimSpec{
		ClaimType: domain.ClaimMissingSecurityHeader,
		Subject:   "example.com",
		Predicate: domain.SecurityHeaderPredicate{Header: "Content-Security-Policy"},
	})
	require.NoError(t, err)

	m := NewTargetModel(zap.NewNop())
	m.DeriveFromEvidence(g, l)

	endpoint, ok := m.GetEntity(EndpointID("GET", "/api/orders"))
	require.True(t, ok)
	assert.Equal(t, []string{ep.ID}, endpoint.ClaimRefs)

	tech, ok := m.GetEntity(TechnologyID("React"))
	require.True(t, ok)
	assert.Equal(t, "framework", tech.Attributes["category"])
	assert.Equal(t, []string{fw.ID}, tech.ClaimRefs)

	host, ok := m.GetEntity(HostID("example.com"))
	require.True(t, ok)
	assert.Equal(t, []string{"content-security-policy"}, host.Attributes["missing_headers"])

	edges := m.Edges()
	i := indexOfEdge(edges, ComponentID("checkout"), domain.RelExposes)
	require.GreaterOrEqual(t, i, 0)
	assert.Equal(t, EndpointID("GET", "/api/orders"), edges[i].Target)
}

func indexOfEdge(edges []domain.Edge, source string, rel domain.Relationship) int {
	for i, e := range edges {
		if e.Source == source && e.Relationship == rel {
			return i
		}
	}
	return -1
}

func TestTargetModel_RefutedClaimsExcluded(t *testing.T) {
	g, l := buildInputs(t, nil)
	c, _, err := l.UpsertClaim(endpointSpec("/ghost"))
	require.NoError(t, err)

	m := NewTargetModel(zap.NewNop())
	m.DeriveFromEvidence(g, l)
	require.Len(t, m.Endpoints(), 1)

	require.NoError(t, l.MarkVerified(c.ID, false))
	m.DeriveFromEvidence(g, l)
	assert.Empty(t, m.Endpoints())
}

func TestTargetModel_ImportValidates(t *testing.T) {
	m := NewTargetModel(zap.NewNop())
	err := m.Import(domain.TargetModelState{Entities: []domain.Entity{{ID: "x", EntityType: "planet"}}})
	require.ErrorIs(t, err, domain.ErrValidation)

	state := domain.TargetModelState{
		Entities: []domain.Entity{{ID: HostID("a.test"), EntityType: domain.EntityHost}},
		Edges:    []domain.Edge{{Source: HostID("a.test"), Target: ServiceID("a.test", "22"), Relationship: domain.RelExposes}},
	}
	require.NoError(t, m.Import(state))
	assert.Equal(t, state, m.Export())
}

func TestTargetModel_DeriveLeavesEvidenceUntouched(t *testing.T) {
	g := NewEvidenceGraph(zap.NewNop())
	observedID, err := g.AddEvent(domain.EvidenceEvent{
		Source:    "crawler",
		EventType: domain.EventEntityObserved,
		Target:    "example.com",
		Payload: map[string]any{
			"id":          HostID("example.com"),
			"entity_type": "host",
			"attributes":  map[string]any{"headers": map[string]any{}},
		},
	})
	require.NoError(t, err)
	_, err = g.AddEvent(domain.EvidenceEvent{
		Source:    "curl",
		EventType: domain.EventHTTPHeader,
		Target:    "https://example.com",
		Payload:   map[string]any{"name": "Server", "value": "nginx"},
	})
	require.NoError(t, err)

	m := NewTargetModel(zap.NewNop())
	m.DeriveFromEvidence(g, newTestLedger())
	m.DeriveFromEvidence(g, newTestLedger())

	host, ok := m.GetEntity(HostID("example.com"))
	require.True(t, ok)
	assert.Equal(t, map[string]any{"server": "nginx"}, host.Attributes["headers"])

	observed, ok := g.GetEvent(observedID)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"headers": map[string]any{}}, observed.Payload["attributes"])
	recomputed, err := EventID(observed)
	require.NoError(t, err)
	assert.Equal(t, observedID, recomputed)

	require.NoError(t, NewEvidenceGraph(zap.NewNop()).Import(g.Export()))

	host.Attributes["headers"].(map[string]any)["server"] = "apache"
	again, _ := m.GetEntity(HostID("example.com"))
	assert.Equal(t, map[string]any{"server": "nginx"}, again.Attributes["headers"])
}
