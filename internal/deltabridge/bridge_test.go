package deltabridge

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Harshitk-cp/reconledger/internal/domain"
	"github.com/Harshitk-cp/reconledger/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(subject string, data []byte) error {
	args := m.Called(subject, data)
	return args.Error(0)
}

func TestBridge_Subject(t *testing.T) {
	b := New(&mockPublisher{}, "", zap.NewNop())
	assert.Equal(t, "recon.deltas.agent.start", b.Subject(domain.DeltaAgentStart))
	assert.Equal(t, "recon.deltas.pipeline.complete", b.Subject(domain.DeltaPipelineComplete))

	custom := New(&mockPublisher{}, "acme.run1", zap.NewNop())
	assert.Equal(t, "acme.run1.delta.claim", custom.Subject(domain.DeltaClaim))
}

func TestBridge_ForwardEncodesDelta(t *testing.T) {
	pub := &mockPublisher{}
	pub.On("Publish", "recon.deltas.stage.start", mock.MatchedBy(func(data []byte) bool {
		var d domain.Delta
		return json.Unmarshal(data, &d) == nil && d.Stage == "recon" && d.RunID == "run-1"
	})).Return(nil).Once()

	b := New(pub, "", zap.NewNop())
	require.NoError(t, b.Forward(domain.Delta{Type: domain.DeltaStageStart, RunID: "run-1", Stage: "recon"}))

	pub.AssertExpectations(t)
	assert.Equal(t, int64(1), b.Published())
}

func TestBridge_ForwardError(t *testing.T) {
	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, mock.Anything).Return(errors.New("nats: connection closed"))

	b := New(pub, "", zap.NewNop())
	require.Error(t, b.Forward(domain.Delta{Type: domain.DeltaModel}))
	assert.Equal(t, int64(1), b.Failed())
	assert.Equal(t, int64(0), b.Published())
}

func TestBridge_RunForwardsBusTraffic(t *testing.T) {
	pub := &mockPublisher{}
	pub.On("Publish", "recon.deltas.agent.start", mock.Anything).Return(nil).Once()
	pub.On("Publish", "recon.deltas.agent.complete", mock.Anything).Return(errors.New("flaky")).Once()
	pub.On("Publish", "recon.deltas.delta.evidence", mock.Anything).Return(nil).Once()

	bus := service.NewDeltaBus(zap.NewNop())
	b := New(pub, "", zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx, bus, 16)
		close(done)
	}()
	require.Eventually(t, func() bool { return bus.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	bus.Publish(domain.Delta{Type: domain.DeltaAgentStart, Agent: "scanner"})
	bus.Publish(domain.Delta{Type: domain.DeltaAgentComplete, Agent: "scanner"})
	bus.Publish(domain.Delta{Type: domain.DeltaEvidence, Agent: "scanner"})

	require.Eventually(t, func() bool { return b.Published()+b.Failed() == 3 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	pub.AssertExpectations(t)
	assert.Equal(t, int64(2), b.Published())
	assert.Equal(t, int64(1), b.Failed())
	assert.Equal(t, 0, bus.Subscribers())
}
