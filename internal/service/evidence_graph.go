package service

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Harshitk-cp/reconledger/internal/domain"
	"go.uber.org/zap"
)

// EvidenceGraph is the append-only, content-addressed observation log.
type EvidenceGraph struct {
	mu     sync.RWMutex
	events map[string]domain.EvidenceEvent
	order  []string
	byType map[domain.EventType][]string
	now    func() time.Time
	logger *zap.Logger
}

// NewEvidenceGraph returns an empty log stamping events with the wall clock.
func NewEvidenceGraph(logger *zap.Logger) *EvidenceGraph {
	return &EvidenceGraph{
		events: make(map[string]domain.EvidenceEvent),
		byType: make(map[domain.EventType][]string),
		now:    time.Now,
		logger: logger,
	}
}

// EventID computes the content address of an event from its type, target and
// payload.
func EventID(ev domain.EvidenceEvent) (string, error) {
	return contentID(map[string]any{
		"event_type": ev.EventType,
		"target":     ev.Target,
		"payload":    ev.Payload,
	})
}

func validateEvent(ev domain.EvidenceEvent) error {
	if strings.TrimSpace(string(ev.EventType)) == "" {
		return &domain.ValidationError{Field: "event_type", Reason: "is required"}
	}
	if _, err := json.Marshal(ev.Payload); err != nil {
		return &domain.ValidationError{Field: "payload", Reason: fmt.Sprintf("not JSON-encodable: %v", err)}
	}
	return nil
}

// AddEvent appends ev and returns its content id. Re-adding an identical
// observation is a no-op that returns the existing id; the first writer's
// source and timestamp are kept.
func (g *EvidenceGraph) AddEvent(ev domain.EvidenceEvent) (string, error) {
	if err := validateEvent(ev); err != nil {
		return "", err
	}
	id, err := EventID(ev)
	if err != nil {
		return "", &domain.ValidationError{Field: "payload", Reason: err.Error()}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.events[id]; exists {
		return id, nil
	}

	ev.ID = id
	ev.Payload = domain.ClonePayload(ev.Payload)
	if ev.Timestamp.IsZero() {
		ev.Timestamp = g.now().UTC()
	}
	g.events[id] = ev
	g.order = append(g.order, id)
	g.byType[ev.EventType] = append(g.byType[ev.EventType], id)

	g.logger.Debug("evidence appended",
		zap.String("event_id", id),
		zap.String("event_type", string(ev.EventType)),
		zap.String("source", ev.Source))

	return id, nil
}

// cloneEvent detaches the payload from the log. Nested payload maps are
// part of the content hash, so no caller may hold a reference into them.
func cloneEvent(ev domain.EvidenceEvent) domain.EvidenceEvent {
	ev.Payload = domain.ClonePayload(ev.Payload)
	return ev
}

// GetEvent returns a copy of the event with the given id.
func (g *EvidenceGraph) GetEvent(id string) (domain.EvidenceEvent, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ev, ok := g.events[id]
	if !ok {
		return domain.EvidenceEvent{}, false
	}
	return cloneEvent(ev), true
}

// GetEventsByType returns events of type t in append order.
func (g *EvidenceGraph) GetEventsByType(t domain.EventType) []domain.EvidenceEvent {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ids := g.byType[t]
	out := make([]domain.EvidenceEvent, 0, len(ids))
	for _, id := range ids {
		out = append(out, cloneEvent(g.events[id]))
	}
	return out
}

// GetEventsByTarget returns events observed against target in append order.
func (g *EvidenceGraph) GetEventsByTarget(target string) []domain.EvidenceEvent {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []domain.EvidenceEvent
	for _, id := range g.order {
		if ev := g.events[id]; ev.Target == target {
			out = append(out, cloneEvent(ev))
		}
	}
	return out
}

// Events returns every event in append order.
func (g *EvidenceGraph) Events() []domain.EvidenceEvent {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]domain.EvidenceEvent, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, cloneEvent(g.events[id]))
	}
	return out
}

// Len is the number of distinct events in the log.
func (g *EvidenceGraph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.order)
}

// Stats counts events by type and by source.
func (g *EvidenceGraph) Stats() domain.EvidenceStats {
	g.mu.RLock()
	defer g.mu.RUnlock()
	stats := domain.EvidenceStats{
		TotalEvents: len(g.order),
		ByType:      make(map[domain.EventType]int),
		BySource:    make(map[string]int),
	}
	for _, ev := range g.events {
		stats.ByType[ev.EventType]++
		stats.BySource[ev.Source]++
	}
	return stats
}

// Export returns the log sorted by id so the serialized form is
// deterministic regardless of append interleaving.
func (g *EvidenceGraph) Export() domain.EvidenceGraphState {
	events := g.Events()
	sort.Slice(events, func(i, j int) bool { return events[i].ID < events[j].ID })
	return domain.EvidenceGraphState{Events: events}
}

// Import appends every event from state. Each event is re-validated and its
// id recomputed; an event whose stored id disagrees with its content is
// rejected and nothing from state is applied.
func (g *EvidenceGraph) Import(state domain.EvidenceGraphState) error {
	for _, ev := range state.Events {
		if err := validateEvent(ev); err != nil {
			return err
		}
		id, err := EventID(ev)
		if err != nil {
			return err
		}
		if ev.ID != "" && ev.ID != id {
			return &domain.ValidationError{Field: "id", Reason: fmt.Sprintf("event %s does not match its content hash %s", ev.ID, id)}
		}
	}
	for _, ev := range state.Events {
		if _, err := g.AddEvent(ev); err != nil {
			return err
		}
	}
	return nil
}
