package service

import (
	"errors"
	"testing"
	"time"

	"github.com/Harshitk-cp/reconledger/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestBudgetManager_ToolInvocationLimit(t *testing.T) {
	b := NewBudgetManager(domain.BudgetLimits{MaxToolInvocations: 1}, zap.NewNop())

	require.NoError(t, b.Track(domain.MetricToolInvocations, 1))

	err := b.Track(domain.MetricToolInvocations, 1)
	require.ErrorIs(t, err, domain.ErrBudgetExceeded)

	var be *domain.BudgetExceededError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, domain.MetricToolInvocations, be.Metric)
	assert.Equal(t, int64(1), be.Limit)
	assert.Equal(t, int64(2), be.Current)
}

func TestBudgetManager_ZeroMeansUnlimited(t *testing.T) {
	b := NewBudgetManager(domain.BudgetLimits{}, zap.NewNop())
	require.NoError(t, b.Track(domain.MetricTokens, 1_000_000))
	require.NoError(t, b.Track(domain.MetricNetworkRequests, 500))
	require.NoError(t, b.Check())

	for _, v := range b.Remaining() {
		assert.Equal(t, Unlimited, v)
	}
}

func TestBudgetManager_TimeIsMeasured(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := newBudgetManagerWithClock(domain.BudgetLimits{MaxTimeMs: 1000, MaxTokens: 10}, clock.now, zap.NewNop())

	require.ErrorIs(t, b.Track(domain.MetricTimeMs, 5), domain.ErrValidation)

	clock.advance(999 * time.Millisecond)
	require.NoError(t, b.Check())
	assert.Equal(t, int64(1), b.Remaining()[domain.MetricTimeMs])

	clock.advance(2 * time.Millisecond)
	err := b.Track(domain.MetricTokens, 1)
	var be *domain.BudgetExceededError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, domain.MetricTimeMs, be.Metric)
	assert.Equal(t, int64(1001), be.Current)
	assert.Equal(t, int64(1001), b.Usage().ElapsedMs)
}

func TestBudgetManager_CheckOrder(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := newBudgetManagerWithClock(domain.BudgetLimits{MaxTimeMs: 10, MaxTokens: 1}, clock.now, zap.NewNop())

	err := b.Track(domain.MetricTokens, 5)
	var be *domain.BudgetExceededError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, domain.MetricTokens, be.Metric)

	clock.advance(time.Second)
	err = b.Check()
	require.True(t, errors.As(err, &be))
	assert.Equal(t, domain.MetricTimeMs, be.Metric, "time is checked first")
}

func TestBudgetManager_RejectsBadInput(t *testing.T) {
	b := NewBudgetManager(domain.BudgetLimits{}, zap.NewNop())
	require.ErrorIs(t, b.Track(domain.MetricTokens, -1), domain.ErrValidation)
	require.ErrorIs(t, b.Track("bandwidth", 1), domain.ErrValidation)
	assert.Equal(t, int64(0), b.Usage().Tokens)
}

func TestBudgetManager_RemainingNeverNegative(t *testing.T) {
	b := NewBudgetManager(domain.BudgetLimits{MaxNetworkRequests: 2}, zap.NewNop())
	_ = b.Track(domain.MetricNetworkRequests, 5)
	assert.Equal(t, int64(0), b.Remaining()[domain.MetricNetworkRequests])
	assert.Equal(t, int64(5), b.Usage().NetworkRequests)
}
