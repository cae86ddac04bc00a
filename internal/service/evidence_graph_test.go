package service

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/Harshitk-cp/reconledger/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func portScan(host string, port int) domain.EvidenceEvent {
	return domain.EvidenceEvent{
		Source:    "nmap",
		EventType: domain.EventPortScan,
		Target:    host,
		Payload:   map[string]any{"port": port, "state": "open", "service": "http"},
	}
}

func TestEvidenceGraph_AddEventIsIdempotent(t *testing.T) {
	g := NewEvidenceGraph(zap.NewNop())

	id1, err := g.AddEvent(portScan("example.com", 443))
	require.NoError(t, err)
	assert.Len(t, id1, 16)

	dup := portScan("example.com", 443)
	dup.Source = "masscan"
	id2, err := g.AddEvent(dup)
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
	assert.Equal(t, 1, g.Len())

	ev, ok := g.GetEvent(id1)
	require.True(t, ok)
	assert.Equal(t, "nmap", ev.Source, "first writer wins")
	assert.False(t, ev.Timestamp.IsZero())
}

func TestEvidenceGraph_IDIgnoresSourceAndTimestamp(t *testing.T) {
	a := portScan("example.com", 80)
	b := portScan("example.com", 80)
	b.Source = "other"
	idA, err := EventID(a)
	require.NoError(t, err)
	idB, err := EventID(b)
	require.NoError(t, err)
	assert.Equal(t, idA, idB)

	c := portScan("example.com", 8080)
	idC, err := EventID(c)
	require.NoError(t, err)
	assert.NotEqual(t, idA, idC)
}

func TestEvidenceGraph_RejectsMalformed(t *testing.T) {
	g := NewEvidenceGraph(zap.NewNop())

	_, err := g.AddEvent(domain.EvidenceEvent{Target: "x"})
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = g.AddEvent(domain.EvidenceEvent{
		EventType: domain.EventToolError,
		Payload:   map[string]any{"score": math.NaN()},
	})
	require.ErrorIs(t, err, domain.ErrValidation)
	assert.Equal(t, 0, g.Len())
}

func TestEvidenceGraph_QueriesPreserveOrder(t *testing.T) {
	g := NewEvidenceGraph(zap.NewNop())
	for _, p := range []int{22, 80, 443} {
		_, err := g.AddEvent(portScan("example.com", p))
		require.NoError(t, err)
	}
	_, err := g.AddEvent(domain.EvidenceEvent{
		EventType: domain.EventDNSRecord,
		Target:    "api.example.com",
		Payload:   map[string]any{"record_type": "A", "value": "10.0.0.1"},
	})
	require.NoError(t, err)

	scans := g.GetEventsByType(domain.EventPortScan)
	require.Len(t, scans, 3)
	assert.Equal(t, 22, scans[0].Payload["port"])
	assert.Equal(t, 443, scans[2].Payload["port"])

	assert.Len(t, g.GetEventsByTarget("api.example.com"), 1)

	stats := g.Stats()
	assert.Equal(t, 4, stats.TotalEvents)
	assert.Equal(t, 3, stats.ByType[domain.EventPortScan])
	assert.Equal(t, 3, stats.BySource["nmap"])
}

func TestEvidenceGraph_ExportImportRoundTrip(t *testing.T) {
	src := NewEvidenceGraph(zap.NewNop())
	for _, p := range []int{443, 80} {
		_, err := src.AddEvent(portScan("example.com", p))
		require.NoError(t, err)
	}
	state := src.Export()
	require.Len(t, state.Events, 2)
	assert.Less(t, state.Events[0].ID, state.Events[1].ID)

	dst := NewEvidenceGraph(zap.NewNop())
	require.NoError(t, dst.Import(state))
	assert.Equal(t, 2, dst.Len())
	for _, ev := range state.Events {
		got, ok := dst.GetEvent(ev.ID)
		require.True(t, ok)
		assert.Equal(t, ev.Timestamp, got.Timestamp)
	}

	require.NoError(t, dst.Import(state))
	assert.Equal(t, 2, dst.Len())
}

func TestEvidenceGraph_ImportRejectsTamperedID(t *testing.T) {
	src := NewEvidenceGraph(zap.NewNop())
	_, err := src.AddEvent(portScan("example.com", 443))
	require.NoError(t, err)
	state := src.Export()
	state.Events[0].Payload = map[string]any{"port": 8443}

	dst := NewEvidenceGraph(zap.NewNop())
	err = dst.Import(state)
	require.ErrorIs(t, err, domain.ErrValidation)
	assert.Equal(t, 0, dst.Len())
}

func TestEvidenceGraph_ReadsReturnDetachedPayloads(t *testing.T) {
	g := NewEvidenceGraph(zap.NewNop())
	ev := domain.EvidenceEvent{
		Source:    "crawler",
		EventType: domain.EventEntityObserved,
		Target:    "example.com",
		Payload: map[string]any{
			"id":         "host:example.com",
			"port":       443,
			"attributes": map[string]any{"headers": map[string]any{"server": "nginx"}},
			"tags":       []any{"edge"},
		},
	}
	id, err := g.AddEvent(ev)
	require.NoError(t, err)

	// The caller's map stays theirs after the append.
	ev.Payload["attributes"].(map[string]any)["headers"].(map[string]any)["server"] = "apache"

	got, ok := g.GetEvent(id)
	require.True(t, ok)
	got.Payload["port"] = 9999
	got.Payload["attributes"].(map[string]any)["headers"].(map[string]any)["x-powered-by"] = "php"
	got.Payload["tags"].([]any)[0] = "origin"

	for _, list := range [][]domain.EvidenceEvent{g.Events(), g.GetEventsByType(domain.EventEntityObserved), g.GetEventsByTarget("example.com")} {
		require.Len(t, list, 1)
		list[0].Payload["attributes"] = nil
	}

	stored, ok := g.GetEvent(id)
	require.True(t, ok)
	assert.Equal(t, 443, stored.Payload["port"])
	assert.Equal(t, map[string]any{"headers": map[string]any{"server": "nginx"}}, stored.Payload["attributes"])
	assert.Equal(t, []any{"edge"}, stored.Payload["tags"])

	recomputed, err := EventID(stored)
	require.NoError(t, err)
	assert.Equal(t, id, recomputed)
}

func TestEvidenceGraph_LargeIntegersSurviveJSON(t *testing.T) {
	g := NewEvidenceGraph(zap.NewNop())
	id, err := g.AddEvent(domain.EvidenceEvent{
		Source:    "nmap",
		EventType: domain.EventOSDetection,
		Target:    "example.com",
		Payload:   map[string]any{"fingerprint": int64(9007199254740993), "accuracy": 0.97},
	})
	require.NoError(t, err)

	data, err := json.Marshal(g.Export())
	require.NoError(t, err)
	var state domain.EvidenceGraphState
	require.NoError(t, json.Unmarshal(data, &state))

	require.Len(t, state.Events, 1)
	assert.Equal(t, json.Number("9007199254740993"), state.Events[0].Payload["fingerprint"])

	restored := NewEvidenceGraph(zap.NewNop())
	require.NoError(t, restored.Import(state))
	_, ok := restored.GetEvent(id)
	assert.True(t, ok)
}
