package prober

import (
	"context"
	"sync"

	"github.com/Harshitk-cp/reconledger/internal/domain"
)

// MockProber is a configurable prober for tests and dry runs. Unknown URLs
// get Default.
type MockProber struct {
	Verdicts map[string]domain.Verdict
	Errors   map[string]error
	Default  domain.Verdict

	mu    sync.Mutex
	Calls []string
}

// NewMockProber returns a mock that answers inconclusive by default.
func NewMockProber() *MockProber {
	return &MockProber{
		Verdicts: make(map[string]domain.Verdict),
		Errors:   make(map[string]error),
		Default:  domain.VerdictInconclusive,
	}
}

// Probe records the call and returns the configured error or verdict.
func (m *MockProber) Probe(ctx context.Context, url string) (domain.ProbeResult, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, url)
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return domain.ProbeResult{}, err
	}
	if err, ok := m.Errors[url]; ok {
		return domain.ProbeResult{}, err
	}
	v, ok := m.Verdicts[url]
	if !ok {
		v = m.Default
	}
	status := 0
	switch v {
	case domain.VerdictConfirmed:
		status = 200
	case domain.VerdictRefuted:
		status = 404
	}
	return domain.ProbeResult{URL: url, StatusCode: status, Verdict: v}, nil
}

// CallCount returns the number of Probe calls.
func (m *MockProber) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}
