package service

import (
	"context"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/Harshitk-cp/reconledger/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	VerifierSource       = "ReactiveVerifier"
	verificationWeight   = 1.0
	verifyUncertaintyMin = 0.5
	verifyBeliefMin      = 0.5
	probeTimeout         = 30 * time.Second
)

type Priority int

const (
	PriorityNormal Priority = iota
	PriorityHigh
)

type VerifierConfig struct {
	MaxConcurrency  int
	MaxQueueSize    int
	BatchDelay      time.Duration
	VerifiableTypes []domain.ClaimType
}

// DefaultVerifierConfig returns three concurrent probes, a queue of 100
// and 500ms between batches.
func DefaultVerifierConfig() VerifierConfig {
	return VerifierConfig{
		MaxConcurrency: 3,
		MaxQueueSize:   100,
		BatchDelay:     500 * time.Millisecond,
		VerifiableTypes: []domain.ClaimType{
			domain.ClaimEndpoint,
			domain.ClaimWAF,
			domain.ClaimMissingSecurityHeader,
			domain.ClaimFramework,
		},
	}
}

type VerifierStats struct {
	Enqueued     int `json:"enqueued"`
	Verified     int `json:"verified"`
	Confirmed    int `json:"confirmed"`
	Refuted      int `json:"refuted"`
	Inconclusive int `json:"inconclusive"`
	QueueLength  int `json:"queue_length"`
}

type verifyEntry struct {
	claimID string
	addedAt time.Time
}

// ReactiveVerifier closes the loop between uncertain claims and the target:
// it probes queued claims and feeds the outcome back into the ledger as
// active_probe_success or active_probe_fail evidence.
type ReactiveVerifier struct {
	ledger   *Ledger
	registry *ModelRegistry
	prober   domain.Prober
	metrics  domain.MetricsRecorder
	config   VerifierConfig
	limiter  *rate.Limiter
	logger   *zap.Logger

	mu    sync.Mutex
	queue []verifyEntry
	stats VerifierStats

	drainMu sync.Mutex
	notify  chan struct{}

	lifeMu  sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewReactiveVerifier fills unset config fields from DefaultVerifierConfig.
// registry may be nil when predictor reputation is not tracked.
func NewReactiveVerifier(ledger *Ledger, registry *ModelRegistry, prober domain.Prober, cfg VerifierConfig, logger *zap.Logger) *ReactiveVerifier {
	def := DefaultVerifierConfig()
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = def.MaxConcurrency
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = def.MaxQueueSize
	}
	if cfg.BatchDelay < 0 {
		cfg.BatchDelay = def.BatchDelay
	}
	if len(cfg.VerifiableTypes) == 0 {
		cfg.VerifiableTypes = def.VerifiableTypes
	}
	limit := rate.Inf
	if cfg.BatchDelay > 0 {
		limit = rate.Every(cfg.BatchDelay)
	}
	return &ReactiveVerifier{
		ledger:   ledger,
		registry: registry,
		prober:   prober,
		metrics:  nopMetrics{},
		config:   cfg,
		limiter:  rate.NewLimiter(limit, 1),
		logger:   logger,
		notify:   make(chan struct{}, 1),
	}
}

func (v *ReactiveVerifier) SetMetrics(m domain.MetricsRecorder) {
	if m != nil {
		v.metrics = m
	}
}

// ShouldVerify reports whether claim is unverified, probeable over HTTP, and
// either highly uncertain or believed without an active probe behind it.
func (v *ReactiveVerifier) ShouldVerify(claim *domain.Claim) bool {
	if claim == nil || claim.IsVerified() {
		return false
	}
	if !slices.Contains(v.config.VerifiableTypes, claim.ClaimType) && !isHTTPURL(claim.Subject) {
		return false
	}
	o := claim.Opinion
	if o == (domain.Opinion{}) {
		return true
	}
	return o.U > verifyUncertaintyMin ||
		(o.B > verifyBeliefMin && claim.EvidenceByKind[domain.EvidenceActiveProbeSuccess] == 0)
}

// Enqueue adds claim to the queue. Verified claims, claims already queued and
// anything beyond the queue capacity are rejected. High priority entries go
// to the front.
func (v *ReactiveVerifier) Enqueue(claim *domain.Claim, priority Priority) bool {
	if claim == nil || claim.ID == "" || claim.IsVerified() {
		return false
	}

	v.mu.Lock()
	if slices.ContainsFunc(v.queue, func(e verifyEntry) bool { return e.claimID == claim.ID }) ||
		len(v.queue) >= v.config.MaxQueueSize {
		v.mu.Unlock()
		return false
	}
	entry := verifyEntry{claimID: claim.ID, addedAt: time.Now()}
	if priority == PriorityHigh {
		v.queue = slices.Insert(v.queue, 0, entry)
	} else {
		v.queue = append(v.queue, entry)
	}
	v.stats.Enqueued++
	depth := len(v.queue)
	v.mu.Unlock()

	v.metrics.VerifierQueueDepth(depth)
	select {
	case v.notify <- struct{}{}:
	default:
	}
	return true
}

// EnqueueByID looks the claim up in the ledger first.
func (v *ReactiveVerifier) EnqueueByID(claimID string, priority Priority) bool {
	claim, ok := v.ledger.GetClaim(claimID)
	if !ok {
		return false
	}
	return v.Enqueue(claim, priority)
}

// QueueLength returns the number of claims waiting to be probed.
func (v *ReactiveVerifier) QueueLength() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.queue)
}

func (v *ReactiveVerifier) takeBatch() []verifyEntry {
	v.mu.Lock()
	defer v.mu.Unlock()
	n := min(v.config.MaxConcurrency, len(v.queue))
	batch := slices.Clone(v.queue[:n])
	v.queue = v.queue[n:]
	return batch
}

// Drain verifies queued claims in batches of at most MaxConcurrency until the
// queue is empty or ctx is done. Batches are paced by BatchDelay.
func (v *ReactiveVerifier) Drain(ctx context.Context) error {
	v.drainMu.Lock()
	defer v.drainMu.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch := v.takeBatch()
		if len(batch) == 0 {
			v.metrics.VerifierQueueDepth(0)
			return nil
		}
		if err := v.limiter.Wait(ctx); err != nil {
			v.requeue(batch)
			return err
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(v.config.MaxConcurrency)
		for _, entry := range batch {
			g.Go(func() error {
				v.verify(gctx, entry.claimID)
				return nil
			})
		}
		_ = g.Wait()
		v.metrics.VerifierQueueDepth(v.QueueLength())
	}
}

// requeue puts an unprocessed batch back at the front. Claims enqueued again
// while the batch was out are not duplicated, and the queue never grows past
// MaxQueueSize; overflow is dropped from the tail.
func (v *ReactiveVerifier) requeue(batch []verifyEntry) {
	v.mu.Lock()
	defer v.mu.Unlock()

	merged := make([]verifyEntry, 0, len(batch)+len(v.queue))
	seen := make(map[string]bool, len(batch)+len(v.queue))
	for _, e := range slices.Concat(batch, v.queue) {
		if seen[e.claimID] {
			continue
		}
		seen[e.claimID] = true
		merged = append(merged, e)
	}
	if over := len(merged) - v.config.MaxQueueSize; over > 0 {
		merged = merged[:v.config.MaxQueueSize]
		v.logger.Warn("verification queue full, dropped requeued claims", zap.Int("dropped", over))
	}
	v.queue = merged
}

// verify probes one claim. Probe failures and missing URLs are inconclusive
// and leave the claim untouched.
func (v *ReactiveVerifier) verify(ctx context.Context, claimID string) {
	claim, ok := v.ledger.GetClaim(claimID)
	if !ok || claim.IsVerified() {
		return
	}

	target := ExtractProbeURL(claim)
	if target == "" {
		v.record(domain.VerdictInconclusive, false)
		v.logger.Debug("claim has no probeable url", zap.String("claim_id", claimID))
		return
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	res, err := v.prober.Probe(probeCtx, target)
	if err != nil {
		v.record(domain.VerdictInconclusive, false)
		v.logger.Warn("probe failed",
			zap.String("claim_id", claimID),
			zap.String("url", target),
			zap.Error(err))
		return
	}

	switch res.Verdict {
	case domain.VerdictConfirmed:
		v.apply(claim, domain.EvidenceActiveProbeSuccess, true, target)
	case domain.VerdictRefuted:
		v.apply(claim, domain.EvidenceActiveProbeFail, false, target)
	default:
		v.record(domain.VerdictInconclusive, true)
	}

	v.logger.Debug("claim probed",
		zap.String("claim_id", claimID),
		zap.String("url", target),
		zap.String("verdict", string(res.Verdict)),
		zap.Int("status", res.StatusCode),
		zap.Duration("latency", res.Latency))
}

func (v *ReactiveVerifier) apply(claim *domain.Claim, kind domain.EvidenceKind, confirmed bool, target string) {
	if err := v.ledger.AddEvidence(claim.ID, kind, verificationWeight, VerifierSource, target); err != nil {
		v.logger.Error("failed to record probe evidence", zap.String("claim_id", claim.ID), zap.Error(err))
		v.record(domain.VerdictInconclusive, true)
		return
	}
	if err := v.ledger.MarkVerified(claim.ID, confirmed); err != nil {
		v.logger.Error("failed to mark claim verified", zap.String("claim_id", claim.ID), zap.Error(err))
	}
	if claim.PredictorID != "" && v.registry != nil {
		v.registry.UpdateReputation(claim.PredictorID, confirmed)
	}
	if confirmed {
		v.record(domain.VerdictConfirmed, true)
	} else {
		v.record(domain.VerdictRefuted, true)
	}
}

func (v *ReactiveVerifier) record(verdict domain.Verdict, probed bool) {
	v.mu.Lock()
	if probed {
		v.stats.Verified++
	}
	switch verdict {
	case domain.VerdictConfirmed:
		v.stats.Confirmed++
	case domain.VerdictRefuted:
		v.stats.Refuted++
	default:
		v.stats.Inconclusive++
	}
	v.mu.Unlock()
	v.metrics.VerificationCompleted(verdict)
}

// ExtractProbeURL derives an absolute URL from a claim. Subjects that are
// already http(s) URLs are used as is; endpoint:METHOD:PATH subjects are
// resolved against the predicate's base URL.
func ExtractProbeURL(claim *domain.Claim) string {
	subject := strings.TrimSpace(claim.Subject)
	if isHTTPURL(subject) {
		return subject
	}

	base := predicateBaseURL(claim.Predicate)
	path := ""
	if rest, ok := strings.CutPrefix(subject, "endpoint:"); ok {
		if _, p, ok := strings.Cut(rest, ":"); ok {
			path = p
		}
	} else if ep, ok := claim.Predicate.(domain.EndpointPredicate); ok {
		path = ep.Path
	}

	if base == "" {
		return ""
	}
	if path == "" {
		if isHTTPURL(base) {
			return base
		}
		return ""
	}
	baseURL, err := url.Parse(base)
	if err != nil || !isHTTPURL(base) {
		return ""
	}
	ref, err := url.Parse(path)
	if err != nil {
		return ""
	}
	return baseURL.ResolveReference(ref).String()
}

func predicateBaseURL(p domain.Predicate) string {
	switch pred := p.(type) {
	case domain.EndpointPredicate:
		return pred.BaseURL
	case domain.WAFPredicate:
		return pred.URL
	case domain.SecurityHeaderPredicate:
		return pred.URL
	case domain.InferencePredicate:
		for _, key := range []string{"base_url", "target", "url"} {
			if s, ok := pred[key].(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

func isHTTPURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// Stats returns outcome counters and the current queue length.
func (v *ReactiveVerifier) Stats() VerifierStats {
	v.mu.Lock()
	defer v.mu.Unlock()
	s := v.stats
	s.QueueLength = len(v.queue)
	return s
}

// Start drains the queue in a background goroutine whenever claims are
// enqueued. Calling Start on a running verifier is a no-op; a stopped
// verifier can be started again.
func (v *ReactiveVerifier) Start() {
	v.lifeMu.Lock()
	defer v.lifeMu.Unlock()
	if v.running {
		return
	}
	v.running = true
	stop := make(chan struct{})
	v.stopCh = stop

	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		v.logger.Info("reactive verifier started",
			zap.Int("max_concurrency", v.config.MaxConcurrency),
			zap.Duration("batch_delay", v.config.BatchDelay))

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			<-stop
			cancel()
		}()

		for {
			select {
			case <-v.notify:
				if err := v.Drain(ctx); err != nil && ctx.Err() == nil {
					v.logger.Warn("verification drain interrupted", zap.Error(err))
				}
			case <-stop:
				v.logger.Info("reactive verifier stopped")
				return
			}
		}
	}()
}

// Stop cancels in-flight probes and waits for the worker to exit. It is safe
// to call more than once and before Start.
func (v *ReactiveVerifier) Stop() {
	v.lifeMu.Lock()
	if !v.running {
		v.lifeMu.Unlock()
		return
	}
	v.running = false
	close(v.stopCh)
	v.lifeMu.Unlock()

	v.wg.Wait()
}
