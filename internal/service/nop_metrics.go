package service

import (
	"time"

	"github.com/Harshitk-cp/reconledger/internal/domain"
)

// nopMetrics is used when no recorder is wired.
type nopMetrics struct{}

func (nopMetrics) AgentExecuted(string, bool, bool, time.Duration) {}
func (nopMetrics) StageCompleted(string, domain.StageStatus, time.Duration) {}
func (nopMetrics) PipelineCompleted(domain.RunState) {}
func (nopMetrics) BudgetExceeded(domain.BudgetMetric) {}
func (nopMetrics) EvidenceSize(int) {}
func (nopMetrics) ClaimCount(int) {}
func (nopMetrics) VerificationCompleted(domain.Verdict) {}
func (nopMetrics) VerifierQueueDepth(int) {}
func (nopMetrics) HintEmitted(domain.HintType, domain.Severity) {}
func (nopMetrics) DeltaDropped(int64) {}
