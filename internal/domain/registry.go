package domain

import "time"

type Prediction struct {
	PredictorID string  `json:"predictor_id"`
	Label       string  `json:"label"`
	Confidence  float64 `json:"confidence"`
}

type ArbitrationResult struct {
	Label              string             `json:"label"`
	Confidence         float64            `json:"confidence"`
	Model              string             `json:"model"`
	ContributingModels []string           `json:"contributing_models"`
	Entropy            float64            `json:"entropy"`
	Votes              map[string]float64 `json:"votes,omitempty"`
}

type PredictorRecord struct {
	ID                string     `json:"id"`
	Type              string     `json:"type"`
	Version           string     `json:"version"`
	Predictions       int        `json:"predictions"`
	VerifiedCorrect   int        `json:"verified_correct"`
	VerifiedIncorrect int        `json:"verified_incorrect"`
	CreatedAt         time.Time  `json:"created_at"`
	LastUsed          *time.Time `json:"last_used,omitempty"`
}

type RegistryState struct {
	Models     []PredictorRecord `json:"models"`
	ExportedAt time.Time         `json:"exported_at"`
}

type RegistryStats struct {
	TotalModels      int            `json:"total_models"`
	TotalPredictions int            `json:"total_predictions"`
	TotalVerified    int            `json:"total_verified"`
	ByType           map[string]int `json:"by_type"`
}
