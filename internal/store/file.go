// Package store persists world-model snapshots.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/Harshitk-cp/reconledger/internal/domain"
	"go.uber.org/zap"
)

// FileSnapshotStore keeps the snapshot as a single world-model.json document.
type FileSnapshotStore struct {
	path   string
	logger *zap.Logger
}

// NewFileSnapshotStore creates a new FileSnapshotStore writing to path.
func NewFileSnapshotStore(path string, logger *zap.Logger) *FileSnapshotStore {
	return &FileSnapshotStore{path: path, logger: logger}
}

func (s *FileSnapshotStore) Path() string { return s.path }

// Save writes to a temp file and renames it over the target, so readers
// never observe a partial document.
func (s *FileSnapshotStore) Save(ctx context.Context, snap *domain.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if snap == nil {
		return &domain.ValidationError{Field: "snapshot", Reason: "must not be nil"}
	}
	if s.path == "" {
		return &domain.ValidationError{Field: "path", Reason: "is empty"}
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	data = append(data, '\n')

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write temp snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to rename temp snapshot: %w", err)
	}

	s.logger.Info("snapshot saved",
		zap.String("path", s.path),
		zap.Int("events", len(snap.EvidenceGraph.Events)),
		zap.Int("claims", len(snap.Ledger.Claims)),
	)
	return nil
}

// Load reads the snapshot. A missing file is ErrSnapshotNotFound.
func (s *FileSnapshotStore) Load(ctx context.Context) (*domain.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, domain.ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var snap domain.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, &domain.ValidationError{Field: "snapshot", Reason: err.Error()}
	}
	return &snap, nil
}
