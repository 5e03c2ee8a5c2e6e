package model

import (
	"strings"
	"time"

	"gorm.io/datatypes"
)

type EventKind string

// InterventionKinds are the events that start an intervention feedback can refer to.
var InterventionKinds = []EventKind{EventAlertGenerated, EventInterventionTriggered}

const (
	EventTaskCreated      EventKind = "task_created"
	EventTaskSkipped      EventKind = "task_skipped"
	EventTaskCompleted    EventKind = "task_completed"
	EventTaskReopened     EventKind = "task_reopened"
	EventAlertGenerated   EventKind = "alert_generated"
	EventFeedbackReceived EventKind = "feedback_received"

	EventInterventionTriggered EventKind = "intervention_triggered"
)

// UserSnapshot is a point-in-time aggregate of a user's behaviour attached to every event.
type UserSnapshot struct {
	TotalTasks     int       `json:"total_tasks"`
	OpenTasks      int       `json:"open_tasks"`
	CompletedTasks int       `json:"completed_tasks"`
	CompletionRate float64   `json:"completion_rate"`
	OverdueTasks   int       `json:"overdue_tasks"`
	TotalSkips     int       `json:"total_skips"`
	ActiveStreak   int       `json:"active_streak"`
	CapturedAt     time.Time `json:"captured_at"`
}

// AnalyticsEvent is an append-only training record. Rows are never updated or deleted.
type AnalyticsEvent struct {
	ID             string                           `gorm:"primaryKey;size:36" json:"id"`
	Kind           EventKind                        `gorm:"size:40;index:idx_events_user_kind" json:"kind"`
	UserID         uint                             `gorm:"index:idx_events_user_kind" json:"user_id"`
	TaskID         uint                             `gorm:"index" json:"task_id"`
	InterventionID *string                          `gorm:"size:64;index" json:"intervention_id,omitempty"`
	SourceKey      *string                          `gorm:"size:128;uniqueIndex" json:"-"`
	Payload        datatypes.JSON                   `json:"payload"`
	Snapshot       datatypes.JSONType[UserSnapshot] `json:"user_snapshot"`
	OccurredAt     time.Time                        `gorm:"index" json:"occurred_at"`
}

func (AnalyticsEvent) TableName() string { return "analytics_events" }

type FeedbackValue string

const (
	FeedbackPositive FeedbackValue = "positive"
	FeedbackNegative FeedbackValue = "negative"
	FeedbackNeutral  FeedbackValue = "neutral"
)

func ParseFeedback(raw string) (FeedbackValue, bool) {
	switch v := FeedbackValue(strings.TrimSpace(raw)); v {
	case FeedbackPositive, FeedbackNegative, FeedbackNeutral:
		return v, true
	default:
		return "", false
	}
}

// Feedback is a user's reaction to an intervention, correlated by intervention id.
type Feedback struct {
	InterventionID        string        `json:"intervention_id"`
	TaskID                uint          `json:"task_id"`
	Value                 FeedbackValue `json:"feedback"`
	InterventionTimestamp time.Time     `json:"intervention_timestamp"`
}
