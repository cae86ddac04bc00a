package service

import (
	"fmt"
	"math"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Harshitk-cp/reconledger/internal/domain"
	"go.uber.org/zap"
)

const (
	DefaultUncertaintyThreshold = 0.6
	DefaultControversyFloor     = 0.04
)

type LedgerConfig struct {
	PriorWeight          float64
	UncertaintyThreshold float64
	ControversyFloor     float64
}

// DefaultLedgerConfig returns W=2, an uncertainty threshold of 0.6 and a
// controversy floor of 0.04.
func DefaultLedgerConfig() LedgerConfig {
	return LedgerConfig{
		PriorWeight:          DefaultPriorWeight,
		UncertaintyThreshold: DefaultUncertaintyThreshold,
		ControversyFloor:     DefaultControversyFloor,
	}
}

// Ledger is the epistemic ledger: the single owner of every Claim. Evidence
// accumulation is serialized under one lock; callers only ever receive
// copies.
type Ledger struct {
	mu     sync.RWMutex
	claims map[string]*domain.Claim
	order  []string
	config LedgerConfig
	now    func() time.Time
	logger *zap.Logger
}

// NewLedger returns an empty ledger. Non-positive config values fall back
// to DefaultLedgerConfig.
func NewLedger(cfg LedgerConfig, logger *zap.Logger) *Ledger {
	if cfg.PriorWeight <= 0 {
		cfg.PriorWeight = DefaultPriorWeight
	}
	if cfg.UncertaintyThreshold <= 0 {
		cfg.UncertaintyThreshold = DefaultUncertaintyThreshold
	}
	if cfg.ControversyFloor <= 0 {
		cfg.ControversyFloor = DefaultControversyFloor
	}
	return &Ledger{
		claims: make(map[string]*domain.Claim),
		config: cfg,
		now:    time.Now,
		logger: logger,
	}
}

func (l *Ledger) Config() LedgerConfig {
	return l.config
}

// ClaimID is the dedup key of a claim: type, subject and predicate.
func ClaimID(claimType domain.ClaimType, subject string, predicate domain.Predicate) (string, error) {
	return contentID(map[string]any{
		"claim_type": claimType,
		"subject":    subject,
		"predicate":  predicate,
	})
}

func validateClaimSpec(spec domain.ClaimSpec) error {
	if !domain.ValidClaimType(string(spec.ClaimType)) {
		return &domain.ValidationError{Field: "claim_type", Reason: fmt.Sprintf("unknown claim type %q", spec.ClaimType)}
	}
	if strings.TrimSpace(spec.Subject) == "" {
		return &domain.ValidationError{Field: "subject", Reason: "is required"}
	}
	if spec.Predicate != nil && spec.Predicate.ClaimType() != spec.ClaimType {
		return &domain.ValidationError{
			Field:  "predicate",
			Reason: fmt.Sprintf("%s predicate does not match claim type %s", spec.Predicate.ClaimType(), spec.ClaimType),
		}
	}
	if a := spec.BaseRate; a != nil && (math.IsNaN(*a) || *a < 0 || *a > 1) {
		return &domain.ValidationError{Field: "base_rate", Reason: "must be in [0,1]"}
	}
	return nil
}

// UpsertClaim returns the claim with the same dedup key or creates
// it. An unset base rate defaults to 0.5; an explicit 0 is kept.
func (l *Ledger) UpsertClaim(spec domain.ClaimSpec) (*domain.Claim, bool, error) {
	if err := validateClaimSpec(spec); err != nil {
		return nil, false, err
	}
	id, err := ClaimID(spec.ClaimType, spec.Subject, spec.Predicate)
	if err != nil {
		return nil, false, &domain.ValidationError{Field: "predicate", Reason: err.Error()}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, ok := l.claims[id]; ok {
		return l.viewLocked(existing), false, nil
	}

	baseRate := DefaultBaseRate
	if spec.BaseRate != nil {
		baseRate = *spec.BaseRate
	}

	now := l.now().UTC()
	claim := &domain.Claim{
		ID:             id,
		ClaimType:      spec.ClaimType,
		Subject:        spec.Subject,
		Predicate:      domain.ClonePredicate(spec.Predicate),
		EvidenceByKind: make(map[domain.EvidenceKind]float64),
		BaseRate:       baseRate,
		PredictorID:    spec.PredictorID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	l.claims[id] = claim
	l.order = append(l.order, id)

	l.logger.Debug("claim registered",
		zap.String("claim_id", id),
		zap.String("claim_type", string(spec.ClaimType)),
		zap.String("subject", spec.Subject))

	return l.viewLocked(claim), true, nil
}

// AddEvidence accumulates weight into the side of the evidence vector given
// by kind's polarity. r and s never decrease.
func (l *Ledger) AddEvidence(claimID string, kind domain.EvidenceKind, weight float64, source string, refs ...string) error {
	polarity, ok := kind.Polarity()
	if !ok {
		return &domain.ValidationError{Field: "evidence_kind", Reason: fmt.Sprintf("unknown evidence kind %q", kind)}
	}
	if math.IsNaN(weight) || math.IsInf(weight, 0) || weight <= 0 {
		return &domain.ValidationError{Field: "weight", Reason: "must be a positive finite number"}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	claim, ok := l.claims[claimID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrClaimNotFound, claimID)
	}

	if polarity > 0 {
		claim.Evidence.R += weight
	} else {
		claim.Evidence.S += weight
	}
	claim.EvidenceByKind[kind] += weight
	if source != "" && !slices.Contains(claim.Sources, source) {
		claim.Sources = append(claim.Sources, source)
	}
	for _, ref := range refs {
		if ref != "" && !slices.Contains(claim.EvidenceRefs, ref) {
			claim.EvidenceRefs = append(claim.EvidenceRefs, ref)
		}
	}
	claim.UpdatedAt = l.now().UTC()

	l.logger.Debug("evidence added to claim",
		zap.String("claim_id", claimID),
		zap.String("kind", string(kind)),
		zap.Float64("weight", weight),
		zap.String("source", source),
		zap.Float64("r", claim.Evidence.R),
		zap.Float64("s", claim.Evidence.S))

	return nil
}

// MarkVerified records the outcome of an active verification.
func (l *Ledger) MarkVerified(claimID string, verified bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	claim, ok := l.claims[claimID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrClaimNotFound, claimID)
	}
	claim.Verified = &verified
	claim.UpdatedAt = l.now().UTC()
	return nil
}

func (l *Ledger) opinionLocked(c *domain.Claim) domain.Opinion {
	return AggregateEvidence(c.Evidence.R, c.Evidence.S, c.BaseRate, l.config.PriorWeight)
}

func (l *Ledger) viewLocked(c *domain.Claim) *domain.Claim {
	out := c.Clone()
	out.Opinion = l.opinionLocked(c)
	return out
}

// GetClaim returns a copy of the claim with its opinion computed.
func (l *Ledger) GetClaim(id string) (*domain.Claim, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	c, ok := l.claims[id]
	if !ok {
		return nil, false
	}
	return l.viewLocked(c), true
}

// GetOpinion returns ErrClaimNotFound for unknown ids.
func (l *Ledger) GetOpinion(id string) (domain.Opinion, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	c, ok := l.claims[id]
	if !ok {
		return domain.Opinion{}, fmt.Errorf("%w: %s", domain.ErrClaimNotFound, id)
	}
	return l.opinionLocked(c), nil
}

// Claims returns every claim in creation order.
func (l *Ledger) Claims() []*domain.Claim {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*domain.Claim, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.viewLocked(l.claims[id]))
	}
	return out
}

// RecentClaims returns up to n claims, most recently created first.
func (l *Ledger) RecentClaims(n int) []*domain.Claim {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if n <= 0 || n > len(l.order) {
		n = len(l.order)
	}
	out := make([]*domain.Claim, 0, n)
	for i := len(l.order) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, l.viewLocked(l.claims[l.order[i]]))
	}
	return out
}

// HighUncertaintyClaims returns up to n unverified claims whose uncertainty
// exceeds the configured threshold, most uncertain first.
func (l *Ledger) HighUncertaintyClaims(n int) []*domain.Claim {
	return l.rank(n, func(c *domain.Claim) (float64, bool) {
		return c.Opinion.U, !c.IsVerified() && c.Opinion.U > l.config.UncertaintyThreshold
	})
}

// ControversialClaims ranks claims by b·d and returns up to n above the
// controversy floor.
func (l *Ledger) ControversialClaims(n int) []*domain.Claim {
	return l.rank(n, func(c *domain.Claim) (float64, bool) {
		score := Controversy(c.Opinion)
		return score, score > l.config.ControversyFloor
	})
}

func (l *Ledger) rank(n int, score func(*domain.Claim) (float64, bool)) []*domain.Claim {
	type scored struct {
		claim *domain.Claim
		score float64
	}
	var candidates []scored
	for _, c := range l.Claims() {
		if s, ok := score(c); ok {
			candidates = append(candidates, scored{claim: c, score: s})
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].claim.ID < candidates[j].claim.ID
	})
	if n > 0 && len(candidates) > n {
		candidates = candidates[:n]
	}
	out := make([]*domain.Claim, len(candidates))
	for i, c := range candidates {
		out[i] = c.claim
	}
	return out
}

// Len is the number of claims.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.order)
}

// Stats summarises verification counts and average opinion components.
func (l *Ledger) Stats() domain.LedgerStats {
	claims := l.Claims()
	stats := domain.LedgerStats{
		TotalClaims: len(claims),
		ByType:      make(map[domain.ClaimType]int),
	}
	if len(claims) == 0 {
		return stats
	}
	var sumB, sumU, sumE float64
	for _, c := range claims {
		stats.ByType[c.ClaimType]++
		if c.Verified != nil {
			if *c.Verified {
				stats.Verified++
			} else {
				stats.Refuted++
			}
		}
		sumB += c.Opinion.B
		sumU += c.Opinion.U
		sumE += ExpectedProbability(c.Opinion)
	}
	n := float64(len(claims))
	stats.AverageBelief = sumB / n
	stats.AverageUncertainty = sumU / n
	stats.AverageExpectation = sumE / n
	return stats
}

// Export returns every claim in creation order with the prior weight.
func (l *Ledger) Export() domain.LedgerState {
	return domain.LedgerState{
		PriorWeight: l.config.PriorWeight,
		Claims:      l.Claims(),
	}
}

// Import merges claims from state. Claims already present keep the larger of
// each evidence component so a re-import never lowers r or s. A claim whose
// id does not match its content is rejected before anything is applied.
func (l *Ledger) Import(state domain.LedgerState) error {
	for _, c := range state.Claims {
		if c == nil {
			continue
		}
		baseRate := c.BaseRate
		if err := validateClaimSpec(domain.ClaimSpec{
			ClaimType: c.ClaimType, Subject: c.Subject, Predicate: c.Predicate, BaseRate: &baseRate,
		}); err != nil {
			return err
		}
		id, err := ClaimID(c.ClaimType, c.Subject, c.Predicate)
		if err != nil {
			return err
		}
		if c.ID != id {
			return &domain.ValidationError{Field: "id", Reason: fmt.Sprintf("claim %s does not match its content hash %s", c.ID, id)}
		}
		if c.Evidence.R < 0 || c.Evidence.S < 0 {
			return &domain.ValidationError{Field: "evidence_vector", Reason: "must be non-negative"}
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, c := range state.Claims {
		if c == nil {
			continue
		}
		incoming := c.Clone()
		incoming.Opinion = domain.Opinion{}
		if incoming.EvidenceByKind == nil {
			incoming.EvidenceByKind = make(map[domain.EvidenceKind]float64)
		}
		existing, ok := l.claims[incoming.ID]
		if !ok {
			l.claims[incoming.ID] = incoming
			l.order = append(l.order, incoming.ID)
			continue
		}
		existing.Evidence.R = math.Max(existing.Evidence.R, incoming.Evidence.R)
		existing.Evidence.S = math.Max(existing.Evidence.S, incoming.Evidence.S)
		for k, w := range incoming.EvidenceByKind {
			existing.EvidenceByKind[k] = math.Max(existing.EvidenceByKind[k], w)
		}
		for _, ref := range incoming.EvidenceRefs {
			if !slices.Contains(existing.EvidenceRefs, ref) {
				existing.EvidenceRefs = append(existing.EvidenceRefs, ref)
			}
		}
		for _, src := range incoming.Sources {
			if !slices.Contains(existing.Sources, src) {
				existing.Sources = append(existing.Sources, src)
			}
		}
		if incoming.Verified != nil {
			existing.Verified = incoming.Verified
		}
	}

	l.logger.Info("ledger imported", zap.Int("claims", len(state.Claims)), zap.Int("total", len(l.order)))
	return nil
}
