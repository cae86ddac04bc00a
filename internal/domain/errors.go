package domain

import (
	"errors"
	"fmt"
)

var (
	ErrBudgetExceeded   = errors.New("budget exceeded")
	ErrValidation       = errors.New("validation failed")
	ErrAgentExecution   = errors.New("agent execution failed")
	ErrAgentNotFound    = errors.New("agent not found")
	ErrAgentConflict    = errors.New("agent already registered")
	ErrClaimNotFound    = errors.New("claim not found")
	ErrInvalidPipeline  = errors.New("invalid pipeline definition")
	ErrAborted          = errors.New("pipeline aborted")
	ErrLiveCallInReplay = errors.New("live network or tool call attempted in replay mode")
	ErrSnapshotNotFound = errors.New("snapshot not found")
	ErrRunInProgress    = errors.New("a pipeline run is already in progress")
)

// BudgetExceededError names the first breached metric with its limit and the
// usage that crossed it.
type BudgetExceededError struct {
	Metric  BudgetMetric `json:"metric"`
	Limit   int64        `json:"limit"`
	Current int64        `json:"current"`
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("budget exceeded for %s: %d > %d", e.Metric, e.Current, e.Limit)
}

func (e *BudgetExceededError) Unwrap() error { return ErrBudgetExceeded }

// ValidationError rejects malformed input before any state is mutated.
type ValidationError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// AgentExecutionError is captured per agent and never crashes the process.
type AgentExecutionError struct {
	Agent string
	Stage string
	Err   error
}

func (e *AgentExecutionError) Error() string {
	if e.Stage == "" {
		return fmt.Sprintf("agent %s failed: %v", e.Agent, e.Err)
	}
	return fmt.Sprintf("agent %s failed in stage %s: %v", e.Agent, e.Stage, e.Err)
}

func (e *AgentExecutionError) Unwrap() []error {
	return []error{ErrAgentExecution, e.Err}
}
