package store

import (
	"context"
	"testing"
	"time"

	"github.com/Harshitk-cp/reconledger/internal/domain"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
)

func setupTestDatabase(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres container tests are skipped in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:17-alpine",
		postgres.WithDatabase("reconledger_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func TestPostgresSnapshotStore_LatestWins(t *testing.T) {
	pool := setupTestDatabase(t)
	s := NewPostgresSnapshotStore(pool, zap.NewNop())
	ctx := context.Background()
	require.NoError(t, s.Migrate(ctx))
	require.NoError(t, s.Migrate(ctx), "migrate is idempotent")

	_, err := s.Load(ctx)
	require.ErrorIs(t, err, domain.ErrSnapshotNotFound)

	first := sampleSnapshot()
	require.NoError(t, s.Save(ctx, first))
	second := sampleSnapshot()
	second.ExportedAt = first.ExportedAt.Add(time.Hour)
	second.EvidenceGraph.Events = nil
	require.NoError(t, s.Save(ctx, second))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, got.EvidenceGraph.Events)
	assert.True(t, second.ExportedAt.Equal(got.ExportedAt))

	ids, err := s.History(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, ids, 2)

	require.ErrorIs(t, s.Save(ctx, nil), domain.ErrValidation)
}
