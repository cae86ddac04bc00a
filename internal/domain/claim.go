package domain

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"time"
)

type ClaimType string

const (
	ClaimEndpoint              ClaimType = "endpoint"
	ClaimComponent             ClaimType = "component"
	ClaimDataFlow              ClaimType = "data_flow"
	ClaimFramework             ClaimType = "framework"
	ClaimWAF                   ClaimType = "waf"
	ClaimMissingSecurityHeader ClaimType = "missing_security_header"
	ClaimInference             ClaimType = "inference"
)

func ValidClaimType(t string) bool {
	switch ClaimType(t) {
	case ClaimEndpoint, ClaimComponent, ClaimDataFlow, ClaimFramework, ClaimWAF,
		ClaimMissingSecurityHeader, ClaimInference:
		return true
	}
	return false
}

// Predicate is the typed payload of a claim. Each claim type has exactly one
// predicate type; InferencePredicate is the free-form fallback for
// LLM-derived claims.
type Predicate interface {
	ClaimType() ClaimType
}

type EndpointPredicate struct {
	Method  string `json:"method"`
	Path    string `json:"path"`
	BaseURL string `json:"base_url,omitempty"`
}

func (EndpointPredicate) ClaimType() ClaimType { return ClaimEndpoint }

type ComponentPredicate struct {
	Name      string   `json:"name"`
	Type      string   `json:"type,omitempty"`
	Endpoints []string `json:"endpoints,omitempty"`
}

func (ComponentPredicate) ClaimType() ClaimType { return ClaimComponent }

type DataFlowPredicate struct {
	Source string `json:"source"`
	Sink   string `json:"sink"`
	Data   string `json:"data,omitempty"`
}

func (DataFlowPredicate) ClaimType() ClaimType { return ClaimDataFlow }

type FrameworkPredicate struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

func (FrameworkPredicate) ClaimType() ClaimType { return ClaimFramework }

type WAFPredicate struct {
	Vendor string `json:"vendor"`
	URL    string `json:"url,omitempty"`
}

func (WAFPredicate) ClaimType() ClaimType { return ClaimWAF }

type SecurityHeaderPredicate struct {
	Header string `json:"header"`
	URL    string `json:"url,omitempty"`
}

func (SecurityHeaderPredicate) ClaimType() ClaimType { return ClaimMissingSecurityHeader }

type InferencePredicate map[string]any

func (InferencePredicate) ClaimType() ClaimType { return ClaimInference }

// DecodePredicate decodes a raw JSON predicate into the variant for claimType.
// A missing or null predicate decodes to nil.
func DecodePredicate(claimType ClaimType, raw json.RawMessage) (Predicate, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var p Predicate
	var err error
	switch claimType {
	case ClaimEndpoint:
		var v EndpointPredicate
		err = json.Unmarshal(raw, &v)
		p = v
	case ClaimComponent:
		var v ComponentPredicate
		err = json.Unmarshal(raw, &v)
		p = v
	case ClaimDataFlow:
		var v DataFlowPredicate
		err = json.Unmarshal(raw, &v)
		p = v
	case ClaimFramework:
		var v FrameworkPredicate
		err = json.Unmarshal(raw, &v)
		p = v
	case ClaimWAF:
		var v WAFPredicate
		err = json.Unmarshal(raw, &v)
		p = v
	case ClaimMissingSecurityHeader:
		var v SecurityHeaderPredicate
		err = json.Unmarshal(raw, &v)
		p = v
	case ClaimInference:
		var v map[string]any
		v, err = decodePayload(raw)
		p = InferencePredicate(v)
	default:
		return nil, &ValidationError{Field: "claim_type", Reason: fmt.Sprintf("unknown claim type %q", claimType)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s predicate: %w", claimType, err)
	}
	return p, nil
}

type EvidenceKind string

const (
	EvidenceCrawlInferred        EvidenceKind = "crawl_inferred"
	EvidenceJSASTHeuristic       EvidenceKind = "js_ast_heuristic"
	EvidenceTechFingerprint      EvidenceKind = "tech_fingerprint"
	EvidenceHeaderObserved       EvidenceKind = "header_observed"
	EvidenceToolConfirmed        EvidenceKind = "tool_confirmed"
	EvidenceModelConsensus       EvidenceKind = "model_consensus"
	EvidenceLLMInference         EvidenceKind = "llm_inference"
	EvidenceActiveProbeSuccess   EvidenceKind = "active_probe_success"
	EvidenceActiveProbeFail      EvidenceKind = "active_probe_fail"
	EvidenceToolRefuted          EvidenceKind = "tool_refuted"
	EvidenceContradictionObserve EvidenceKind = "contradiction_observed"
	EvidenceHeaderAbsent         EvidenceKind = "header_absent"
)

// evidencePolarity maps each evidence kind to the side of the evidence
// vector it accumulates into: +1 for r, -1 for s.
var evidencePolarity = map[EvidenceKind]int{
	EvidenceCrawlInferred:        1,
	EvidenceJSASTHeuristic:       1,
	EvidenceTechFingerprint:      1,
	EvidenceHeaderObserved:       1,
	EvidenceToolConfirmed:        1,
	EvidenceModelConsensus:       1,
	EvidenceLLMInference:         1,
	EvidenceActiveProbeSuccess:   1,
	EvidenceActiveProbeFail:      -1,
	EvidenceToolRefuted:          -1,
	EvidenceContradictionObserve: -1,
	EvidenceHeaderAbsent:         -1,
}

// Polarity returns +1 or -1 for a known kind and false for unknown kinds.
func (k EvidenceKind) Polarity() (int, bool) {
	p, ok := evidencePolarity[k]
	return p, ok
}

type EvidenceVector struct {
	R float64 `json:"r"`
	S float64 `json:"s"`
}

type Opinion struct {
	B float64 `json:"b"`
	D float64 `json:"d"`
	U float64 `json:"u"`
	A float64 `json:"a"`
}

// ClaimSpec is what an agent submits to create or look up a claim.
type ClaimSpec struct {
	ClaimType   ClaimType `json:"claim_type"`
	Subject     string    `json:"subject"`
	Predicate   Predicate `json:"predicate"`
	// BaseRate is the prior a in [0,1]; nil means the ledger default.
	BaseRate    *float64  `json:"base_rate,omitempty"`
	PredictorID string    `json:"predictor_id,omitempty"`
}

type Claim struct {
	ID             string                   `json:"id"`
	ClaimType      ClaimType                `json:"claim_type"`
	Subject        string                   `json:"subject"`
	Predicate      Predicate                `json:"predicate"`
	Evidence       EvidenceVector           `json:"evidence_vector"`
	EvidenceByKind map[EvidenceKind]float64 `json:"evidence_by_kind,omitempty"`
	BaseRate       float64                  `json:"base_rate"`
	Verified       *bool                    `json:"verified"`
	EvidenceRefs   []string                 `json:"evidence_refs,omitempty"`
	Sources        []string                 `json:"sources,omitempty"`
	PredictorID    string                   `json:"predictor_id,omitempty"`
	Opinion        Opinion                  `json:"opinion"`
	CreatedAt      time.Time                `json:"created_at"`
	UpdatedAt      time.Time                `json:"updated_at"`
}

func (c *Claim) UnmarshalJSON(data []byte) error {
	type alias Claim
	aux := struct {
		*alias
		Predicate json.RawMessage `json:"predicate"`
	}{alias: (*alias)(c)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	p, err := DecodePredicate(c.ClaimType, aux.Predicate)
	if err != nil {
		return err
	}
	c.Predicate = p
	return nil
}

// Clone returns a deep copy so callers outside the ledger cannot mutate it.
func (c *Claim) Clone() *Claim {
	out := *c
	out.EvidenceByKind = maps.Clone(c.EvidenceByKind)
	out.EvidenceRefs = slices.Clone(c.EvidenceRefs)
	out.Sources = slices.Clone(c.Sources)
	if c.Verified != nil {
		v := *c.Verified
		out.Verified = &v
	}
	out.Predicate = ClonePredicate(c.Predicate)
	return &out
}

// ClonePredicate deep-copies the free-form inference variant; the typed
// variants are values apart from ComponentPredicate's endpoint list.
func ClonePredicate(p Predicate) Predicate {
	switch v := p.(type) {
	case InferencePredicate:
		return InferencePredicate(ClonePayload(map[string]any(v)))
	case ComponentPredicate:
		v.Endpoints = slices.Clone(v.Endpoints)
		return v
	default:
		return p
	}
}

// IsVerified reports whether the claim has a verification outcome.
func (c *Claim) IsVerified() bool {
	return c.Verified != nil
}

type LedgerState struct {
	PriorWeight float64  `json:"prior_weight"`
	Claims      []*Claim `json:"claims"`
}

type LedgerStats struct {
	TotalClaims        int               `json:"total_claims"`
	ByType             map[ClaimType]int `json:"by_type"`
	Verified           int               `json:"verified"`
	Refuted            int               `json:"refuted"`
	AverageBelief      float64           `json:"average_belief"`
	AverageUncertainty float64           `json:"average_uncertainty"`
	AverageExpectation float64           `json:"average_expectation"`
}

// ClaimReader is the read-only view of the ledger handed to agents and
// monitors.
type ClaimReader interface {
	GetClaim(id string) (*Claim, bool)
	GetOpinion(id string) (Opinion, error)
	Claims() []*Claim
	RecentClaims(n int) []*Claim
	HighUncertaintyClaims(n int) []*Claim
	ControversialClaims(n int) []*Claim
}
