package domain

import "time"

type BudgetMetric string

const (
	MetricTimeMs          BudgetMetric = "time_ms"
	MetricTokens          BudgetMetric = "tokens"
	MetricNetworkRequests BudgetMetric = "network_requests"
	MetricToolInvocations BudgetMetric = "tool_invocations"
)

func ValidBudgetMetric(m string) bool {
	switch BudgetMetric(m) {
	case MetricTimeMs, MetricTokens, MetricNetworkRequests, MetricToolInvocations:
		return true
	}
	return false
}

// BudgetLimits are resource ceilings for a run or a single agent. Zero means
// unlimited.
type BudgetLimits struct {
	MaxTimeMs          int64 `json:"max_time_ms" yaml:"max_time_ms"`
	MaxTokens          int64 `json:"max_tokens" yaml:"max_tokens"`
	MaxNetworkRequests int64 `json:"max_network_requests" yaml:"max_network_requests"`
	MaxToolInvocations int64 `json:"max_tool_invocations" yaml:"max_tool_invocations"`
}

type BudgetUsage struct {
	StartTime       time.Time `json:"start_time"`
	ElapsedMs       int64     `json:"elapsed_ms"`
	Tokens          int64     `json:"tokens"`
	NetworkRequests int64     `json:"network_requests"`
	ToolInvocations int64     `json:"tool_invocations"`
}
