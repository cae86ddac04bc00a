package service

import (
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Harshitk-cp/reconledger/internal/domain"
	"go.uber.org/zap"
)

// ArtifactManifest records files produced by synthesis agents and where each
// one is in validation.
type ArtifactManifest struct {
	mu        sync.RWMutex
	artifacts map[string]*domain.Artifact
	now       func() time.Time
	logger    *zap.Logger
}

// NewArtifactManifest returns an empty manifest.
func NewArtifactManifest(logger *zap.Logger) *ArtifactManifest {
	return &ArtifactManifest{
		artifacts: make(map[string]*domain.Artifact),
		now:       time.Now,
		logger:    logger,
	}
}

// Register adds or replaces the artifact at a.Path. A new artifact starts in
// the generated stage unless one is given.
func (m *ArtifactManifest) Register(a domain.Artifact) error {
	if strings.TrimSpace(a.Path) == "" {
		return &domain.ValidationError{Field: "path", Reason: "is required"}
	}
	if a.ArtifactType == "" {
		return &domain.ValidationError{Field: "artifact_type", Reason: "is required"}
	}
	if a.Stage == "" {
		a.Stage = domain.ArtifactGenerated
	}
	if !validArtifactStage(a.Stage) {
		return &domain.ValidationError{Field: "stage", Reason: fmt.Sprintf("unknown stage %q", a.Stage)}
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = m.now().UTC()
	}
	a.ClaimRefs = slices.Clone(a.ClaimRefs)
	a.Metadata = maps.Clone(a.Metadata)

	m.mu.Lock()
	m.artifacts[a.Path] = &a
	m.mu.Unlock()

	m.logger.Debug("artifact registered",
		zap.String("path", a.Path),
		zap.String("type", a.ArtifactType),
		zap.String("agent", a.Agent))
	return nil
}

func validArtifactStage(s domain.ArtifactStage) bool {
	switch s {
	case domain.ArtifactGenerated, domain.ArtifactValidated, domain.ArtifactFailed:
		return true
	}
	return false
}

// SetStage moves an artifact through validation.
func (m *ArtifactManifest) SetStage(path string, stage domain.ArtifactStage) error {
	if !validArtifactStage(stage) {
		return &domain.ValidationError{Field: "stage", Reason: fmt.Sprintf("unknown stage %q", stage)}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.artifacts[path]
	if !ok {
		return &domain.ValidationError{Field: "path", Reason: fmt.Sprintf("no artifact at %s", path)}
	}
	a.Stage = stage
	return nil
}

func (m *ArtifactManifest) Get(path string) (domain.Artifact, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.artifacts[path]
	if !ok {
		return domain.Artifact{}, false
	}
	return copyArtifact(a), true
}

// Artifacts returns every artifact sorted by path.
func (m *ArtifactManifest) Artifacts() []domain.Artifact {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Artifact, 0, len(m.artifacts))
	for _, a := range m.artifacts {
		out = append(out, copyArtifact(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// ValidationSummary counts artifacts by stage and type.
func (m *ArtifactManifest) ValidationSummary() domain.ManifestSummary {
	arts := m.Artifacts()
	s := domain.ManifestSummary{
		Total:   len(arts),
		ByStage: make(map[domain.ArtifactStage]int),
		ByType:  make(map[string]int),
	}
	for _, a := range arts {
		s.ByStage[a.Stage]++
		s.ByType[a.ArtifactType]++
	}
	if s.Total > 0 {
		s.Validated = float64(s.ByStage[domain.ArtifactValidated]) / float64(s.Total)
	}
	return s
}

func (m *ArtifactManifest) Export() domain.ManifestState {
	return domain.ManifestState{Artifacts: m.Artifacts()}
}

// Import validates every artifact in state before registering any of them.
func (m *ArtifactManifest) Import(state domain.ManifestState) error {
	for _, a := range state.Artifacts {
		if a.Path == "" || !validArtifactStage(a.Stage) {
			return &domain.ValidationError{Field: "artifacts", Reason: fmt.Sprintf("invalid artifact %q", a.Path)}
		}
	}
	for _, a := range state.Artifacts {
		if err := m.Register(a); err != nil {
			return err
		}
	}
	return nil
}

func copyArtifact(a *domain.Artifact) domain.Artifact {
	out := *a
	out.ClaimRefs = slices.Clone(a.ClaimRefs)
	out.Metadata = maps.Clone(a.Metadata)
	return out
}
