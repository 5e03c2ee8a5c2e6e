package analytics

import (
	"math"
	"time"

	"taskpulse/internal/model"
)

// TaskCreated is the payload of task_created events.
type TaskCreated struct {
	Title     string         `json:"title"`
	Priority  model.Priority `json:"priority"`
	HasDue    bool           `json:"has_due_date"`
	DaysToDue *float64       `json:"days_until_due,omitempty"`
	Tags      []string       `json:"tags"`
}

// TaskSkipped is the payload of task_skipped events.
type TaskSkipped struct {
	Title            string         `json:"title"`
	Priority         model.Priority `json:"priority"`
	DueDate          *time.Time     `json:"due_date,omitempty"`
	DaysUntilDue     *float64       `json:"days_until_due,omitempty"`
	HoursUntilDue    *float64       `json:"hours_until_due,omitempty"`
	CurrentSkipCount int            `json:"current_skip_count"`
	Tags             []string       `json:"tags"`
	TimeOfDay        string         `json:"time_of_day"`
}

// TaskCompleted is the payload of task_completed events.
type TaskCompleted struct {
	Title      string `json:"title"`
	WasOverdue bool   `json:"was_overdue"`
	SkipCount  int    `json:"skip_count"`
	TimeOfDay  string `json:"time_of_day"`
}

// TaskReopened is the payload of task_reopened events.
type TaskReopened struct {
	Title     string `json:"title"`
	SkipCount int    `json:"skip_count"`
}

// AlertGenerated is the payload of alert_generated events. Correlator reads rule_id and severity back.
type AlertGenerated struct {
	AlertID       string         `json:"alert_id"`
	RuleID        string         `json:"rule_id"`
	Severity      model.Severity `json:"severity"`
	Message       string         `json:"message"`
	TaskTitle     string         `json:"task_title"`
	DueDate       *time.Time     `json:"due_date,omitempty"`
	NeedsCoaching bool           `json:"needs_coaching"`
	Signals       AlertSignals   `json:"signals"`
}

type AlertSignals struct {
	SkipCount      int      `json:"skip_count"`
	HoursToDue     *float64 `json:"hours_until_due,omitempty"`
	DaysOverdue    int      `json:"days_overdue"`
	PeerSkipRate   float64  `json:"peer_skip_rate"`
	UserAvgSkips   float64  `json:"user_avg_skips"`
	DeferralStreak int      `json:"deferral_streak"`
}

// InterventionTriggered is the payload of intervention_triggered events. Correlator reads rule_id and severity back.
type InterventionTriggered struct {
	InterventionID string              `json:"intervention_id"`
	RuleID         string              `json:"rule_id,omitempty"`
	TaskTitle      string              `json:"task_title"`
	TriggerType    string              `json:"trigger_type"`
	Prompt         string              `json:"prompt_sent"`
	Response       string              `json:"response"`
	Model          string              `json:"model_used"`
	Severity       model.Severity      `json:"severity"`
	Context        InterventionContext `json:"context"`
}

type InterventionContext struct {
	SkipCount     int      `json:"skip_count"`
	HoursUntilDue *float64 `json:"hours_until_due,omitempty"`
}

// TimeOfDay buckets t's hour into morning (5-11), afternoon (12-16), evening (17-20) or night.
func TimeOfDay(t time.Time) string {
	switch h := t.Hour(); {
	case h >= 5 && h < 12:
		return "morning"
	case h >= 12 && h < 17:
		return "afternoon"
	case h >= 17 && h < 21:
		return "evening"
	default:
		return "night"
	}
}

// UntilDue returns days and hours from now to due, rounded to two decimals. Both are nil without a due date.
func UntilDue(due *time.Time, now time.Time) (days, hours *float64) {
	if due == nil {
		return nil, nil
	}
	d := due.Sub(now)
	h := round2(d.Hours())
	dd := round2(d.Hours() / 24)
	return &dd, &h
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
