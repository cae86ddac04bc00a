package service

import (
	"fmt"
	"sync"
	"time"

	"github.com/Harshitk-cp/reconledger/internal/domain"
	"go.uber.org/zap"
)

// Unlimited is reported by Remaining for metrics without a ceiling.
const Unlimited int64 = -1

// BudgetManager accounts resource usage for one run (or one agent) against
// fixed limits. Usage only grows; a fresh manager is created per run.
type BudgetManager struct {
	mu     sync.Mutex
	limits domain.BudgetLimits
	usage  domain.BudgetUsage
	now    func() time.Time
	logger *zap.Logger
}

// NewBudgetManager starts the time_ms clock now.
func NewBudgetManager(limits domain.BudgetLimits, logger *zap.Logger) *BudgetManager {
	return newBudgetManagerWithClock(limits, time.Now, logger)
}

func newBudgetManagerWithClock(limits domain.BudgetLimits, now func() time.Time, logger *zap.Logger) *BudgetManager {
	return &BudgetManager{
		limits: limits,
		usage:  domain.BudgetUsage{StartTime: now()},
		now:    now,
		logger: logger,
	}
}

func (b *BudgetManager) Limits() domain.BudgetLimits {
	return b.limits
}

// Track adds amount to metric and then checks every limit. Elapsed time is
// measured by the clock and cannot be tracked manually.
func (b *BudgetManager) Track(metric domain.BudgetMetric, amount int64) error {
	if amount < 0 {
		return &domain.ValidationError{Field: "amount", Reason: "must be non-negative"}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch metric {
	case domain.MetricTokens:
		b.usage.Tokens += amount
	case domain.MetricNetworkRequests:
		b.usage.NetworkRequests += amount
	case domain.MetricToolInvocations:
		b.usage.ToolInvocations += amount
	case domain.MetricTimeMs:
		return &domain.ValidationError{Field: "metric", Reason: "time_ms is measured, not tracked"}
	default:
		return &domain.ValidationError{Field: "metric", Reason: fmt.Sprintf("unknown budget metric %q", metric)}
	}
	return b.checkLocked()
}

// Check returns a *domain.BudgetExceededError for the first breached limit,
// in the order time, tokens, network requests, tool invocations.
func (b *BudgetManager) Check() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.checkLocked()
}

func (b *BudgetManager) checkLocked() error {
	elapsed := b.now().Sub(b.usage.StartTime).Milliseconds()
	checks := []struct {
		metric  domain.BudgetMetric
		limit   int64
		current int64
	}{
		{domain.MetricTimeMs, b.limits.MaxTimeMs, elapsed},
		{domain.MetricTokens, b.limits.MaxTokens, b.usage.Tokens},
		{domain.MetricNetworkRequests, b.limits.MaxNetworkRequests, b.usage.NetworkRequests},
		{domain.MetricToolInvocations, b.limits.MaxToolInvocations, b.usage.ToolInvocations},
	}
	for _, c := range checks {
		if c.limit > 0 && c.current > c.limit {
			b.logger.Warn("budget exceeded",
				zap.String("metric", string(c.metric)),
				zap.Int64("limit", c.limit),
				zap.Int64("current", c.current))
			return &domain.BudgetExceededError{Metric: c.metric, Limit: c.limit, Current: c.current}
		}
	}
	return nil
}

// Usage returns current consumption, with time_ms measured up to now.
func (b *BudgetManager) Usage() domain.BudgetUsage {
	b.mu.Lock()
	defer b.mu.Unlock()
	u := b.usage
	u.ElapsedMs = b.now().Sub(u.StartTime).Milliseconds()
	return u
}

// Remaining reports headroom per metric, never below zero. Metrics without a
// limit report Unlimited.
func (b *BudgetManager) Remaining() map[domain.BudgetMetric]int64 {
	u := b.Usage()
	remaining := func(limit, used int64) int64 {
		if limit == 0 {
			return Unlimited
		}
		return max(0, limit-used)
	}
	return map[domain.BudgetMetric]int64{
		domain.MetricTimeMs:          remaining(b.limits.MaxTimeMs, u.ElapsedMs),
		domain.MetricTokens:          remaining(b.limits.MaxTokens, u.Tokens),
		domain.MetricNetworkRequests: remaining(b.limits.MaxNetworkRequests, u.NetworkRequests),
		domain.MetricToolInvocations: remaining(b.limits.MaxToolInvocations, u.ToolInvocations),
	}
}
