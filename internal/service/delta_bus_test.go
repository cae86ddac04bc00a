package service

import (
	"sync"
	"testing"
	"time"

	"github.com/Harshitk-cp/reconledger/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type countingMetrics struct {
	nopMetrics
	mu      sync.Mutex
	dropped int64
}

func (m *countingMetrics) DeltaDropped(n int64) {
	m.mu.Lock()
	m.dropped += n
	m.mu.Unlock()
}

func TestDeltaBus_FansOut(t *testing.T) {
	b := NewDeltaBus(zap.NewNop())
	ch1, cancel1 := b.Subscribe(4)
	defer cancel1()
	ch2, cancel2 := b.Subscribe(4)
	defer cancel2()

	b.Publish(domain.Delta{Type: domain.DeltaStageStart, Stage: "recon"})

	for _, ch := range []<-chan domain.Delta{ch1, ch2} {
		d := <-ch
		assert.Equal(t, domain.DeltaStageStart, d.Type)
		assert.False(t, d.Timestamp.IsZero())
	}
	assert.Equal(t, int64(2), b.Delivered())
}

func TestDeltaBus_SlowSubscriberNeverBlocks(t *testing.T) {
	b := NewDeltaBus(zap.NewNop())
	m := &countingMetrics{}
	b.SetMetrics(m)
	slow, cancel := b.Subscribe(2)
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.Publish(domain.Delta{Type: domain.DeltaEvidence})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}

	assert.Len(t, slow, 2)
	assert.Equal(t, int64(8), b.Dropped())
	assert.Equal(t, int64(8), m.dropped)
}

func TestDeltaBus_CancelClosesChannel(t *testing.T) {
	b := NewDeltaBus(zap.NewNop())
	ch, cancel := b.Subscribe(1)
	require.Equal(t, 1, b.Subscribers())

	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, b.Subscribers())

	b.Publish(domain.Delta{Type: domain.DeltaModel})
	assert.Equal(t, int64(0), b.Dropped())
}

func TestArtifactManifest_Lifecycle(t *testing.T) {
	m := NewArtifactManifest(zap.NewNop())

	require.ErrorIs(t, m.Register(domain.Artifact{ArtifactType: "openapi"}), domain.ErrValidation)
	require.ErrorIs(t, m.Register(domain.Artifact{Path: "x"}), domain.ErrValidation)

	require.NoError(t, m.Register(domain.Artifact{Path: "out/openapi.yaml", ArtifactType: "openapi", ClaimRefs: []string{"c1"}}))
	require.NoError(t, m.Register(domain.Artifact{Path: "out/client.ts", ArtifactType: "sdk"}))

	a, ok := m.Get("out/openapi.yaml")
	require.True(t, ok)
	assert.Equal(t, domain.ArtifactGenerated, a.Stage)
	assert.False(t, a.CreatedAt.IsZero())

	require.NoError(t, m.SetStage("out/openapi.yaml", domain.ArtifactValidated))
	require.ErrorIs(t, m.SetStage("out/missing", domain.ArtifactValidated), domain.ErrValidation)
	require.ErrorIs(t, m.SetStage("out/client.ts", "shipped"), domain.ErrValidation)

	s := m.ValidationSummary()
	assert.Equal(t, 2, s.Total)
	assert.Equal(t, 1, s.ByStage[domain.ArtifactValidated])
	assert.InDelta(t, 0.5, s.Validated, eps)

	arts := m.Artifacts()
	require.Len(t, arts, 2)
	assert.Equal(t, "out/client.ts", arts[0].Path)

	dst := NewArtifactManifest(zap.NewNop())
	require.NoError(t, dst.Import(m.Export()))
	assert.Equal(t, m.Artifacts(), dst.Artifacts())
}
