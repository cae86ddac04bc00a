package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Harshitk-cp/reconledger/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS world_model_snapshots (
	id          UUID PRIMARY KEY,
	version     TEXT NOT NULL,
	exported_at TIMESTAMPTZ NOT NULL,
	saved_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	body        JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS world_model_snapshots_saved_at_idx
	ON world_model_snapshots (saved_at DESC);
`

// PostgresSnapshotStore appends every saved snapshot as a row and loads the
// most recent one. Older rows are kept as history.
type PostgresSnapshotStore struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresSnapshotStore creates a new PostgresSnapshotStore. Call Migrate
// before first use.
func NewPostgresSnapshotStore(db *pgxpool.Pool, logger *zap.Logger) *PostgresSnapshotStore {
	return &PostgresSnapshotStore{db: db, logger: logger}
}

// Migrate creates the snapshot table when it does not exist.
func (s *PostgresSnapshotStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to migrate snapshot table: %w", err)
	}
	return nil
}

// Save inserts a new row; earlier snapshots are kept as history.
func (s *PostgresSnapshotStore) Save(ctx context.Context, snap *domain.Snapshot) error {
	if snap == nil {
		return &domain.ValidationError{Field: "snapshot", Reason: "must not be nil"}
	}
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	id := uuid.New()
	_, err = s.db.Exec(ctx,
		`INSERT INTO world_model_snapshots (id, version, exported_at, body)
		 VALUES ($1, $2, $3, $4)`,
		id, snap.Version, snap.ExportedAt, body,
	)
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}

	s.logger.Info("snapshot saved",
		zap.String("id", id.String()),
		zap.String("version", snap.Version),
		zap.Int("claims", len(snap.Ledger.Claims)),
	)
	return nil
}

// Load returns the most recently saved snapshot or ErrSnapshotNotFound.
func (s *PostgresSnapshotStore) Load(ctx context.Context) (*domain.Snapshot, error) {
	var body []byte
	err := s.db.QueryRow(ctx,
		`SELECT body FROM world_model_snapshots
		 ORDER BY saved_at DESC, exported_at DESC LIMIT 1`,
	).Scan(&body)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}

	var snap domain.Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return nil, &domain.ValidationError{Field: "snapshot", Reason: err.Error()}
	}
	return &snap, nil
}

// History lists saved snapshot ids, newest first.
func (s *PostgresSnapshotStore) History(ctx context.Context, limit int) ([]uuid.UUID, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(ctx,
		`SELECT id FROM world_model_snapshots ORDER BY saved_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
