package service

import (
	"math"
	"sort"

	"github.com/Harshitk-cp/reconledger/internal/domain"
	"go.uber.org/zap"
)

// ArbiterModelID is reported as the model of every arbitrated result.
const ArbiterModelID = "arbiter"

type ArbiterConfig struct {
	EntropyThreshold  float64
	ConfidenceCeiling float64
	DegradedFloor     float64
}

func DefaultArbiterConfig() ArbiterConfig {
	return ArbiterConfig{
		EntropyThreshold:  0.5,
		ConfidenceCeiling: 0.95,
		DegradedFloor:     0.3,
	}
}

// Arbiter resolves competing predictions by reputation-weighted vote and
// reports how contested the outcome was as normalized entropy.
type Arbiter struct {
	registry *ModelRegistry
	config   ArbiterConfig
	logger   *zap.Logger
}

// NewArbiter weights predictions by reputation from registry.
func NewArbiter(registry *ModelRegistry, cfg ArbiterConfig, logger *zap.Logger) *Arbiter {
	def := DefaultArbiterConfig()
	if cfg.EntropyThreshold <= 0 {
		cfg.EntropyThreshold = def.EntropyThreshold
	}
	if cfg.ConfidenceCeiling <= 0 {
		cfg.ConfidenceCeiling = def.ConfidenceCeiling
	}
	if cfg.DegradedFloor <= 0 {
		cfg.DegradedFloor = def.DegradedFloor
	}
	return &Arbiter{registry: registry, config: cfg, logger: logger}
}

func (a *Arbiter) Config() ArbiterConfig {
	return a.config
}

// Arbitrate picks a label from preds. A single prediction passes through
// unchanged with zero entropy; an empty input yields no label, entropy 1 and
// confidence 0. Ties resolve to the lexicographically smallest label.
func (a *Arbiter) Arbitrate(preds []domain.Prediction) domain.ArbitrationResult {
	if len(preds) == 0 {
		return domain.ArbitrationResult{Model: ArbiterModelID, Entropy: 1, Confidence: 0}
	}
	for _, p := range preds {
		a.registry.RecordPrediction(p.PredictorID)
	}
	if len(preds) == 1 {
		p := preds[0]
		return domain.ArbitrationResult{
			Label:              p.Label,
			Confidence:         clampUnit(p.Confidence),
			Model:              ArbiterModelID,
			ContributingModels: []string{p.PredictorID},
			Entropy:            0,
			Votes:              map[string]float64{p.Label: 1},
		}
	}

	votes := make(map[string]float64)
	contributors := make([]string, 0, len(preds))
	var total float64
	for _, p := range preds {
		w := a.registry.GetAccuracy(p.PredictorID) * clampUnit(p.Confidence)
		votes[p.Label] += w
		total += w
		contributors = append(contributors, p.PredictorID)
	}

	labels := make([]string, 0, len(votes))
	for l := range votes {
		labels = append(labels, l)
	}
	sort.Strings(labels)

	winner := labels[0]
	for _, l := range labels[1:] {
		if votes[l] > votes[winner] {
			winner = l
		}
	}

	entropy := normalizedEntropy(votes, labels, total)
	confidence := math.Max(a.config.DegradedFloor, 0.5-entropy)
	if entropy < a.config.EntropyThreshold {
		confidence = math.Min(a.config.ConfidenceCeiling, votes[winner]/total)
	}

	shares := make(map[string]float64, len(votes))
	for l, w := range votes {
		if total > 0 {
			shares[l] = w / total
		}
	}

	res := domain.ArbitrationResult{
		Label:              winner,
		Confidence:         confidence,
		Model:              ArbiterModelID,
		ContributingModels: contributors,
		Entropy:            entropy,
		Votes:              shares,
	}

	a.logger.Debug("arbitration resolved",
		zap.String("label", winner),
		zap.Float64("confidence", confidence),
		zap.Float64("entropy", entropy),
		zap.Int("predictions", len(preds)))

	return res
}

// ShouldDeferToVerification reports whether the vote was too contested to
// trust without an active probe.
func (a *Arbiter) ShouldDeferToVerification(res domain.ArbitrationResult) bool {
	return res.Entropy > a.config.EntropyThreshold
}

// normalizedEntropy is the Shannon entropy of the vote distribution divided
// by log2 of the number of distinct labels.
func normalizedEntropy(votes map[string]float64, labels []string, total float64) float64 {
	if total <= 0 {
		return 1
	}
	if len(labels) < 2 {
		return 0
	}
	var h float64
	for _, l := range labels {
		p := votes[l] / total
		if p > 0 {
			h -= p * math.Log2(p)
		}
	}
	return h / math.Log2(float64(len(labels)))
}
