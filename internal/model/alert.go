package model

import "time"

// Severity is ordered: info < warning < critical.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Rank returns the ordinal of the severity; unknown values rank below info.
func (s Severity) Rank() int {
	switch s {
	case SeverityInfo:
		return 1
	case SeverityWarning:
		return 2
	case SeverityCritical:
		return 3
	default:
		return 0
	}
}

// Alert is produced by the detector for one task in one evaluation pass. It is never mutated.
type Alert struct {
	ID          string     `json:"id"`
	TaskID      uint       `json:"task_id"`
	UserID      uint       `json:"user_id"`
	TaskTitle   string     `json:"task_title"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	Severity    Severity   `json:"severity"`
	RuleID      string     `json:"rule_id"`
	Message     string     `json:"message"`
	GeneratedAt time.Time  `json:"generated_at"`
}
