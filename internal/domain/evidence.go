package domain

import (
	"encoding/json"
	"time"
)

type EventType string

const (
	EventPortScan             EventType = "port_scan"
	EventOSDetection          EventType = "os_detection"
	EventDNSRecord            EventType = "dns_record"
	EventEndpointDiscovered   EventType = "endpoint_discovered"
	EventTechDetection        EventType = "tech_detection"
	EventJSFetchCall          EventType = "js_fetch_call"
	EventHTTPHeader           EventType = "http_header"
	EventToolError            EventType = "tool_error"
	EventToolTimeout          EventType = "tool_timeout"
	EventEntityObserved       EventType = "entity_observed"
	EventRelationshipObserved EventType = "relationship_observed"
)

// EvidenceEvent is a single immutable observation. ID is derived from
// EventType, Target and Payload only, so the same observation reported by two
// sources collapses into one event.
type EvidenceEvent struct {
	ID        string         `json:"id"`
	Source    string         `json:"source"`
	EventType EventType      `json:"event_type"`
	Target    string         `json:"target"`
	Payload   map[string]any `json:"payload"`
	Timestamp time.Time      `json:"timestamp"`
}

// UnmarshalJSON decodes the payload with exact numbers so the event id
// recomputed after a snapshot round trip matches the stored one.
func (e *EvidenceEvent) UnmarshalJSON(data []byte) error {
	type alias EvidenceEvent
	aux := struct {
		*alias
		Payload json.RawMessage `json:"payload"`
	}{alias: (*alias)(e)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	payload, err := decodePayload(aux.Payload)
	if err != nil {
		return err
	}
	e.Payload = payload
	return nil
}

type EvidenceGraphState struct {
	Events []EvidenceEvent `json:"events"`
}

type EvidenceStats struct {
	TotalEvents int               `json:"total_events"`
	ByType      map[EventType]int `json:"by_type"`
	BySource    map[string]int    `json:"by_source"`
}

// EvidenceReader is the read-only view of the evidence log handed to agents.
type EvidenceReader interface {
	GetEvent(id string) (EvidenceEvent, bool)
	GetEventsByType(t EventType) []EvidenceEvent
	Events() []EvidenceEvent
	Len() int
}
