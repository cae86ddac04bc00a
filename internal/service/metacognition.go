package service

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/Harshitk-cp/reconledger/internal/domain"
	"go.uber.org/zap"
)

const (
	veryUncertainThreshold = 0.7
	throttleSubjectLimit   = 10
	controversyWindow      = 20
	recalibrateMinVerified = 5
	weakEntityExpectation  = 0.5
)

type MetaCognitionConfig struct {
	UncertaintyThreshold float64
	ControversyThreshold int
	NoveltyThreshold     float64
	WindowSize           int
}

// DefaultMetaCognitionConfig returns a window of 100 claims and an
// uncertainty threshold of 0.6.
func DefaultMetaCognitionConfig() MetaCognitionConfig {
	return MetaCognitionConfig{
		UncertaintyThreshold: 0.6,
		ControversyThreshold: 0,
		NoveltyThreshold:     0.4,
		WindowSize:           100,
	}
}

type MetaCognitionStats struct {
	ChecksPerformed        int `json:"checks_performed"`
	HintsEmitted           int `json:"hints_emitted"`
	ContradictionsDetected int `json:"contradictions_detected"`
	NoveltyFlagged         int `json:"novelty_flagged"`
	ActiveHints            int `json:"active_hints"`
}

// MetaCognition watches the ledger and the target model and turns what it
// sees into advisory hints. It never mutates either.
type MetaCognition struct {
	ledger   domain.ClaimReader
	model    domain.ModelReader
	registry *ModelRegistry
	metrics  domain.MetricsRecorder
	config   MetaCognitionConfig
	now      func() time.Time
	logger   *zap.Logger

	mu     sync.Mutex
	active []domain.Hint
	stats  MetaCognitionStats
}

// NewMetaCognition only reads from its collaborators. model and registry may
// be nil.
func NewMetaCognition(ledger domain.ClaimReader, model domain.ModelReader, registry *ModelRegistry, cfg MetaCognitionConfig, logger *zap.Logger) *MetaCognition {
	def := DefaultMetaCognitionConfig()
	if cfg.UncertaintyThreshold <= 0 {
		cfg.UncertaintyThreshold = def.UncertaintyThreshold
	}
	if cfg.NoveltyThreshold <= 0 {
		cfg.NoveltyThreshold = def.NoveltyThreshold
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = def.WindowSize
	}
	if cfg.ControversyThreshold < 0 {
		cfg.ControversyThreshold = def.ControversyThreshold
	}
	return &MetaCognition{
		ledger:   ledger,
		model:    model,
		registry: registry,
		metrics:  nopMetrics{},
		config:   cfg,
		now:      time.Now,
		logger:   logger,
	}
}

func (m *MetaCognition) SetMetrics(r domain.MetricsRecorder) {
	if r != nil {
		m.metrics = r
	}
}

// Check runs every monitor and replaces the active hint set with the result.
func (m *MetaCognition) Check() []domain.Hint {
	var hints []domain.Hint
	throttled := false

	window := m.ledger.RecentClaims(m.config.WindowSize)
	var uncertain, veryUncertain []*domain.Claim
	for _, c := range window {
		if c.IsVerified() || c.Opinion.U <= m.config.UncertaintyThreshold {
			continue
		}
		uncertain = append(uncertain, c)
		if c.Opinion.U > veryUncertainThreshold {
			veryUncertain = append(veryUncertain, c)
		}
	}

	if float64(len(uncertain)) > float64(m.config.WindowSize)*0.5 {
		throttled = true
		subjects := make([]string, 0, throttleSubjectLimit)
		for _, c := range uncertain[:min(throttleSubjectLimit, len(uncertain))] {
			subjects = append(subjects, c.Subject)
		}
		hints = append(hints, m.hint(domain.HintThrottle, domain.SeverityWarning,
			fmt.Sprintf("high uncertainty: %d/%d claims", len(uncertain), m.config.WindowSize), subjects))
	}

	if len(veryUncertain) > 0 {
		hints = append(hints, m.hint(domain.HintProbePriority, domain.SeverityInfo,
			fmt.Sprintf("%d claims need verification", len(veryUncertain)), claimIDs(veryUncertain)))
	}

	controversial := m.ledger.ControversialClaims(controversyWindow)
	contested := len(controversial) > m.config.ControversyThreshold
	if contested {
		hints = append(hints, m.hint(domain.HintProbePriority, domain.SeverityWarning,
			fmt.Sprintf("%d contradictory claims detected", len(controversial)), claimIDs(controversial)))
	}

	if throttled && contested {
		hints = append(hints, m.hint(domain.HintEscalate, domain.SeverityCritical,
			"belief state is both uncertain and contradictory", claimIDs(controversial)))
	}

	if m.registry != nil {
		var weak []string
		for _, rec := range m.registry.Models() {
			verified := rec.VerifiedCorrect + rec.VerifiedIncorrect
			if verified >= recalibrateMinVerified && accuracy(&rec) < priorAccuracy {
				weak = append(weak, rec.ID)
			}
		}
		if len(weak) > 0 {
			hints = append(hints, m.hint(domain.HintRecalibrate, domain.SeverityWarning,
				fmt.Sprintf("%d predictors below %.2f accuracy", len(weak), priorAccuracy), weak))
		}
	}

	if m.model != nil {
		if weak := m.weaklySupportedEntities(); len(weak) > 0 {
			hints = append(hints, m.hint(domain.HintProbePriority, domain.SeverityInfo,
				fmt.Sprintf("%d model entities rest only on weak claims", len(weak)), weak))
		}
	}

	m.mu.Lock()
	m.active = hints
	m.stats.ChecksPerformed++
	m.stats.HintsEmitted += len(hints)
	if contested {
		m.stats.ContradictionsDetected += len(controversial)
	}
	m.mu.Unlock()

	for _, h := range hints {
		m.metrics.HintEmitted(h.Type, h.Severity)
	}
	if len(hints) > 0 {
		m.logger.Debug("metacognition hints emitted", zap.Int("count", len(hints)))
	}
	return cloneHints(hints)
}

// weaklySupportedEntities returns the claim ids behind entities whose every
// justifying claim has an expectation below 0.5.
func (m *MetaCognition) weaklySupportedEntities() []string {
	var out []string
	seen := make(map[string]bool)
	for _, e := range m.model.Entities("") {
		if len(e.ClaimRefs) == 0 {
			continue
		}
		weak := true
		for _, ref := range e.ClaimRefs {
			c, ok := m.ledger.GetClaim(ref)
			if !ok || c.IsVerified() || ExpectedProbability(c.Opinion) >= weakEntityExpectation {
				weak = false
				break
			}
		}
		if !weak {
			continue
		}
		for _, ref := range e.ClaimRefs {
			if !seen[ref] {
				seen[ref] = true
				out = append(out, ref)
			}
		}
	}
	return out
}

func (m *MetaCognition) hint(t domain.HintType, s domain.Severity, reason string, affected []string) domain.Hint {
	if affected == nil {
		affected = []string{}
	}
	return domain.Hint{
		Type:             t,
		Severity:         s,
		Reason:           reason,
		AffectedSubjects: affected,
		Timestamp:        m.now().UTC(),
	}
}

func claimIDs(claims []*domain.Claim) []string {
	out := make([]string, len(claims))
	for i, c := range claims {
		out[i] = c.ID
	}
	return out
}

// ActiveHints returns hints from the last Check at or above minSeverity.
func (m *MetaCognition) ActiveHints(minSeverity domain.Severity) []domain.Hint {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Hint
	for _, h := range m.active {
		if h.Severity >= minSeverity {
			out = append(out, h)
		}
	}
	return cloneHints(out)
}

// ClearHints drops active hints; the next Check repopulates them.
func (m *MetaCognition) ClearHints() {
	m.mu.Lock()
	m.active = nil
	m.mu.Unlock()
}

// CheckNovelty reports whether the share of tokens missing from vocab exceeds
// the novelty threshold.
func (m *MetaCognition) CheckNovelty(tokens []string, vocab map[string]bool) bool {
	if len(tokens) == 0 || vocab == nil {
		return false
	}
	unknown := 0
	for _, t := range tokens {
		if !vocab[t] {
			unknown++
		}
	}
	if float64(unknown)/float64(len(tokens)) > m.config.NoveltyThreshold {
		m.mu.Lock()
		m.stats.NoveltyFlagged++
		m.mu.Unlock()
		return true
	}
	return false
}

func (m *MetaCognition) Stats() MetaCognitionStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stats
	s.ActiveHints = len(m.active)
	return s
}

func cloneHints(hints []domain.Hint) []domain.Hint {
	if hints == nil {
		return nil
	}
	out := make([]domain.Hint, len(hints))
	for i, h := range hints {
		h.AffectedSubjects = slices.Clone(h.AffectedSubjects)
		out[i] = h
	}
	return out
}
