package domain

import (
	"fmt"
	"time"
)

type HintType string

const (
	HintThrottle      HintType = "throttle"
	HintProbePriority HintType = "probe_priority"
	HintEscalate      HintType = "escalate"
	HintRecalibrate   HintType = "recalibrate"
)

// Severity is ordered so hints can be filtered with >=.
type Severity int

const (
	SeverityInfo Severity = iota + 1
	SeverityWarning
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityCritical:
		return "critical"
	}
	return fmt.Sprintf("severity(%d)", int(s))
}

func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(text []byte) error {
	switch string(text) {
	case "info":
		*s = SeverityInfo
	case "warning":
		*s = SeverityWarning
	case "critical":
		*s = SeverityCritical
	default:
		return fmt.Errorf("unknown severity %q", text)
	}
	return nil
}

// Hint is advisory output of the metacognition pass. Consumers decide how to
// act on it.
type Hint struct {
	Type             HintType  `json:"type"`
	Severity         Severity  `json:"severity"`
	Reason           string    `json:"reason"`
	AffectedSubjects []string  `json:"affected_subjects"`
	Timestamp        time.Time `json:"timestamp"`
}
