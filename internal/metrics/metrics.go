// Package metrics exports engine activity as Prometheus collectors.
package metrics

import (
	"strconv"
	"time"

	"github.com/Harshitk-cp/reconledger/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "reconledger"

// Recorder implements domain.MetricsRecorder.
type Recorder struct {
	agentExecutions *prometheus.CounterVec
	agentDuration   *prometheus.HistogramVec
	stageDuration   *prometheus.HistogramVec
	pipelines       *prometheus.CounterVec
	budgetBreaches  *prometheus.CounterVec
	evidenceEvents  prometheus.Gauge
	claims          prometheus.Gauge
	verifications   *prometheus.CounterVec
	verifierQueue   prometheus.Gauge
	hints           *prometheus.CounterVec
	deltasDropped   prometheus.Counter
}

// New registers all collectors against reg. Passing a fresh
// prometheus.NewRegistry() keeps tests isolated.
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		agentExecutions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_executions_total",
			Help:      "Agent executions by outcome",
		}, []string{"agent", "success", "cached"}),
		agentDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "agent_duration_seconds",
			Help:      "Duration of agent executions",
			Buckets:   prometheus.DefBuckets,
		}, []string{"agent"}),
		stageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stages",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"stage", "status"}),
		pipelines: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipelines_total",
			Help:      "Completed pipeline runs by final state",
		}, []string{"state"}),
		budgetBreaches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "budget_breaches_total",
			Help:      "Budget breaches by metric",
		}, []string{"metric"}),
		evidenceEvents: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "evidence_events",
			Help:      "Events in the evidence graph",
		}),
		claims: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ledger_claims",
			Help:      "Claims in the epistemic ledger",
		}),
		verifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verifications_total",
			Help:      "Active verifications by verdict",
		}, []string{"verdict"}),
		verifierQueue: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "verifier_queue_depth",
			Help:      "Claims waiting for verification",
		}),
		hints: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hints_total",
			Help:      "Metacognition hints by type and severity",
		}, []string{"type", "severity"}),
		deltasDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deltas_dropped_total",
			Help:      "Deltas dropped for slow subscribers",
		}),
	}
}

// AgentExecuted counts an agent run and times it unless it was served from cache.
func (r *Recorder) AgentExecuted(agent string, success, cached bool, d time.Duration) {
	r.agentExecutions.WithLabelValues(agent, strconv.FormatBool(success), strconv.FormatBool(cached)).Inc()
	if !cached {
		r.agentDuration.WithLabelValues(agent).Observe(d.Seconds())
	}
}

// StageCompleted records a stage outcome and its duration.
func (r *Recorder) StageCompleted(stage string, status domain.StageStatus, d time.Duration) {
	r.stageDuration.WithLabelValues(stage, string(status)).Observe(d.Seconds())
}

func (r *Recorder) PipelineCompleted(state domain.RunState) {
	r.pipelines.WithLabelValues(string(state)).Inc()
}

func (r *Recorder) BudgetExceeded(metric domain.BudgetMetric) {
	r.budgetBreaches.WithLabelValues(string(metric)).Inc()
}

func (r *Recorder) EvidenceSize(n int) { r.evidenceEvents.Set(float64(n)) }

func (r *Recorder) ClaimCount(n int) { r.claims.Set(float64(n)) }

// VerificationCompleted counts a verifier outcome by verdict.
func (r *Recorder) VerificationCompleted(verdict domain.Verdict) {
	r.verifications.WithLabelValues(string(verdict)).Inc()
}

func (r *Recorder) VerifierQueueDepth(n int) { r.verifierQueue.Set(float64(n)) }

func (r *Recorder) HintEmitted(t domain.HintType, s domain.Severity) {
	r.hints.WithLabelValues(string(t), s.String()).Inc()
}

func (r *Recorder) DeltaDropped(n int64) { r.deltasDropped.Add(float64(n)) }

var _ domain.MetricsRecorder = (*Recorder)(nil)
