// Package prober re-checks claimed endpoints over HTTP.
package prober

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/Harshitk-cp/reconledger/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	DefaultRPS       = 5
	DefaultTimeout   = 10 * time.Second
	DefaultUserAgent = "reconledger-prober/1.0"
)

type Config struct {
	RPS       float64
	Burst     int
	Timeout   time.Duration
	UserAgent string
}

// DefaultConfig returns 5 requests per second per host and a 10s timeout.
func DefaultConfig() Config {
	return Config{RPS: DefaultRPS, Burst: 1, Timeout: DefaultTimeout, UserAgent: DefaultUserAgent}
}

// HTTPProber issues HEAD and falls back to GET when the server does not
// answer HEAD usefully. Requests to one host are paced by a shared limiter.
type HTTPProber struct {
	client *http.Client
	config Config
	logger *zap.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewHTTPProber builds a client that never follows redirects so 3xx
// responses can be classified.
func NewHTTPProber(cfg Config, logger *zap.Logger) *HTTPProber {
	if cfg.RPS <= 0 {
		cfg.RPS = DefaultRPS
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	return &HTTPProber{
		client: &http.Client{
			Timeout: cfg.Timeout,
			// Redirects count as existence; do not follow them off target.
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		},
		config:   cfg,
		logger:   logger,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (p *HTTPProber) limiter(host string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.limiters[host]
	if !ok {
		l = rate.NewLimiter(rate.Limit(p.config.RPS), p.config.Burst)
		p.limiters[host] = l
	}
	return l
}

// Probe sends HEAD and falls back to GET when the server rejects HEAD.
// Transport failures are returned as errors; the caller treats them as
// inconclusive.
func (p *HTTPProber) Probe(ctx context.Context, target string) (domain.ProbeResult, error) {
	u, err := url.Parse(target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return domain.ProbeResult{}, &domain.ValidationError{Field: "url", Reason: fmt.Sprintf("not an http(s) url: %q", target)}
	}

	start := time.Now()
	status, err := p.do(ctx, http.MethodHead, u)
	if err == nil && headUnhelpful(status) {
		status, err = p.do(ctx, http.MethodGet, u)
	}
	if err != nil {
		return domain.ProbeResult{}, fmt.Errorf("failed to probe %s: %w", target, err)
	}

	res := domain.ProbeResult{
		URL:        target,
		StatusCode: status,
		Verdict:    Classify(status),
		Latency:    time.Since(start),
	}
	p.logger.Debug("probe complete",
		zap.String("url", target),
		zap.Int("status", status),
		zap.String("verdict", string(res.Verdict)),
		zap.Duration("latency", res.Latency),
	)
	return res, nil
}

func (p *HTTPProber) do(ctx context.Context, method string, u *url.URL) (int, error) {
	if err := p.limiter(u.Host).Wait(ctx); err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("User-Agent", p.config.UserAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return resp.StatusCode, nil
}

// headUnhelpful reports statuses after which GET is worth trying.
func headUnhelpful(status int) bool {
	return status == http.StatusMethodNotAllowed ||
		status == http.StatusNotImplemented ||
		status == http.StatusNotFound
}

// Classify maps an HTTP status onto a verification verdict. Auth challenges
// and method rejections still prove the route exists.
func Classify(status int) domain.Verdict {
	switch {
	case status >= 200 && status < 400:
		return domain.VerdictConfirmed
	case status == http.StatusUnauthorized, status == http.StatusForbidden, status == http.StatusMethodNotAllowed:
		return domain.VerdictConfirmed
	case status == http.StatusNotFound, status == http.StatusGone:
		return domain.VerdictRefuted
	default:
		return domain.VerdictInconclusive
	}
}
