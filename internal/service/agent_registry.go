package service

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/Harshitk-cp/reconledger/internal/domain"
)

// AgentRegistry holds registered agents keyed by contract name.
type AgentRegistry struct {
	mu     sync.RWMutex
	agents map[string]domain.Agent
}

func NewAgentRegistry() *AgentRegistry {
	return &AgentRegistry{agents: make(map[string]domain.Agent)}
}

// Register adds agent under its contract name. Duplicate names are rejected.
func (r *AgentRegistry) Register(agent domain.Agent) error {
	c := agent.Contract()
	if strings.TrimSpace(c.Name) == "" {
		return &domain.ValidationError{Field: "name", Reason: "agent contract must have a name"}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.agents[c.Name]; exists {
		return fmt.Errorf("%w: %s", domain.ErrAgentConflict, c.Name)
	}
	r.agents[c.Name] = agent
	return nil
}

// Get returns ErrAgentNotFound for unknown names.
func (r *AgentRegistry) Get(name string) (domain.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrAgentNotFound, name)
	}
	return a, nil
}

// Names returns registered agent names in sorted order.
func (r *AgentRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.agents))
	for n := range r.agents {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Contracts returns every registered contract sorted by name.
func (r *AgentRegistry) Contracts() []domain.AgentContract {
	names := r.Names()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.AgentContract, 0, len(names))
	for _, n := range names {
		out = append(out, r.agents[n].Contract())
	}
	return out
}
