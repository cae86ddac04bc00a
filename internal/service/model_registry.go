package service

import (
	"sort"
	"sync"
	"time"

	"github.com/Harshitk-cp/reconledger/internal/domain"
	"go.uber.org/zap"
)

const (
	defaultPredictorType    = "unknown"
	defaultPredictorVersion = "0.0.0"
	priorAccuracy           = 0.5
)

// ModelRegistry tracks predictors and their verified track record. It is an
// explicit instance owned by the orchestrator; there is no process-wide
// registry.
type ModelRegistry struct {
	mu     sync.RWMutex
	models map[string]*domain.PredictorRecord
	now    func() time.Time
	logger *zap.Logger
}

// NewModelRegistry returns an empty registry.
func NewModelRegistry(logger *zap.Logger) *ModelRegistry {
	return &ModelRegistry{
		models: make(map[string]*domain.PredictorRecord),
		now:    time.Now,
		logger: logger,
	}
}

// Register adds a predictor. Registering an existing id updates its type and
// version and keeps its history.
func (r *ModelRegistry) Register(id, modelType, version string) domain.PredictorRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec, ok := r.models[id]; ok {
		if modelType != "" {
			rec.Type = modelType
		}
		if version != "" {
			rec.Version = version
		}
		return *rec
	}
	rec := r.registerLocked(id, modelType, version)
	r.logger.Debug("predictor registered",
		zap.String("predictor_id", id),
		zap.String("type", rec.Type),
		zap.String("version", rec.Version))
	return *rec
}

func (r *ModelRegistry) registerLocked(id, modelType, version string) *domain.PredictorRecord {
	if modelType == "" {
		modelType = defaultPredictorType
	}
	if version == "" {
		version = defaultPredictorVersion
	}
	rec := &domain.PredictorRecord{
		ID:        id,
		Type:      modelType,
		Version:   version,
		CreatedAt: r.now().UTC(),
	}
	r.models[id] = rec
	return rec
}

// Get returns the record for id.
func (r *ModelRegistry) Get(id string) (domain.PredictorRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.models[id]
	if !ok {
		return domain.PredictorRecord{}, false
	}
	return copyRecord(rec), true
}

// GetByType returns records of modelType sorted by id.
func (r *ModelRegistry) GetByType(modelType string) []domain.PredictorRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.PredictorRecord
	for _, rec := range r.models {
		if rec.Type == modelType {
			out = append(out, copyRecord(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RecordPrediction counts a prediction, registering unknown predictors on
// first use.
func (r *ModelRegistry) RecordPrediction(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.models[id]
	if !ok {
		rec = r.registerLocked(id, "", "")
	}
	rec.Predictions++
	now := r.now().UTC()
	rec.LastUsed = &now
}

// UpdateReputation records a verification outcome for one of the predictor's
// claims.
func (r *ModelRegistry) UpdateReputation(id string, correct bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.models[id]
	if !ok {
		rec = r.registerLocked(id, "", "")
	}
	if correct {
		rec.VerifiedCorrect++
	} else {
		rec.VerifiedIncorrect++
	}
	r.logger.Debug("predictor reputation updated",
		zap.String("predictor_id", id),
		zap.Bool("correct", correct),
		zap.Int("verified_correct", rec.VerifiedCorrect),
		zap.Int("verified_incorrect", rec.VerifiedIncorrect))
}

// GetAccuracy is correct/(correct+incorrect), or 0.5 with no verifications.
func (r *ModelRegistry) GetAccuracy(id string) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.models[id]
	if !ok {
		return priorAccuracy
	}
	return accuracy(rec)
}

func accuracy(rec *domain.PredictorRecord) float64 {
	total := rec.VerifiedCorrect + rec.VerifiedIncorrect
	if total == 0 {
		return priorAccuracy
	}
	return float64(rec.VerifiedCorrect) / float64(total)
}

func (r *ModelRegistry) Models() []domain.PredictorRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.PredictorRecord, 0, len(r.models))
	for _, rec := range r.models {
		out = append(out, copyRecord(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Stats aggregates predictions and verification outcomes across models.
func (r *ModelRegistry) Stats() domain.RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats := domain.RegistryStats{
		TotalModels: len(r.models),
		ByType:      make(map[string]int),
	}
	for _, rec := range r.models {
		stats.TotalPredictions += rec.Predictions
		stats.TotalVerified += rec.VerifiedCorrect + rec.VerifiedIncorrect
		stats.ByType[rec.Type]++
	}
	return stats
}

// Export returns every record sorted by id.
func (r *ModelRegistry) Export() domain.RegistryState {
	return domain.RegistryState{
		Models:     r.Models(),
		ExportedAt: r.now().UTC(),
	}
}

// Import replaces records with the same id and keeps the rest.
func (r *ModelRegistry) Import(state domain.RegistryState) error {
	for _, rec := range state.Models {
		if rec.ID == "" {
			return &domain.ValidationError{Field: "id", Reason: "predictor id is required"}
		}
		if rec.Predictions < 0 || rec.VerifiedCorrect < 0 || rec.VerifiedIncorrect < 0 {
			return &domain.ValidationError{Field: rec.ID, Reason: "counters must be non-negative"}
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range state.Models {
		c := copyRecord(&rec)
		r.models[rec.ID] = &c
	}
	return nil
}

func copyRecord(rec *domain.PredictorRecord) domain.PredictorRecord {
	out := *rec
	if rec.LastUsed != nil {
		t := *rec.LastUsed
		out.LastUsed = &t
	}
	return out
}
