package analytics

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"taskpulse/internal/apperr"
	"taskpulse/internal/model"
)

// FeedbackInput is a user's reaction to an intervention as submitted by a client.
type FeedbackInput struct {
	InterventionID        string     `json:"interventionId"`
	TaskID                uint       `json:"taskId"`
	Feedback              string     `json:"feedback"`
	InterventionTimestamp *time.Time `json:"interventionTimestamp,omitempty"`
}

// TaskOwner confirms that a task belongs to a user.
type TaskOwner interface {
	FindByID(ctx context.Context, userID, taskID uint) (*model.Task, error)
}

type feedbackPayload struct {
	InterventionID        string              `json:"intervention_id"`
	TaskID                uint                `json:"task_id"`
	Feedback              model.FeedbackValue `json:"feedback"`
	InterventionTimestamp time.Time           `json:"intervention_timestamp"`
	SecondsToFeedback     int64               `json:"time_to_feedback_seconds"`
	RuleID                string              `json:"rule_id,omitempty"`
	Severity              model.Severity      `json:"severity,omitempty"`
	AlertGeneratedAt      *time.Time          `json:"alert_generated_at,omitempty"`
}

// Correlator attaches feedback to the intervention that prompted it.
type Correlator struct {
	rec    *Recorder
	tasks  TaskOwner
	strict bool
}

// NewCorrelator builds a correlator. With strict set, feedback for an intervention the log has never
// seen is rejected as not found.
func NewCorrelator(rec *Recorder, tasks TaskOwner, strict bool) *Correlator {
	return &Correlator{rec: rec, tasks: tasks, strict: strict}
}

// Attach validates in and appends a feedback_received event. Repeated feedback for the same
// intervention is appended, never merged.
func (c *Correlator) Attach(ctx context.Context, userID uint, in FeedbackInput) (*model.Feedback, error) {
	const op = "submit feedback"

	value, ok := model.ParseFeedback(in.Feedback)
	if !ok {
		return nil, apperr.Validation(op, "feedback must be one of positive, negative, neutral")
	}
	interventionID := strings.TrimSpace(in.InterventionID)
	if interventionID == "" {
		return nil, apperr.Validation(op, "intervention id is required")
	}
	if in.TaskID == 0 {
		return nil, apperr.Validation(op, "task id is required")
	}
	if _, err := c.tasks.FindByID(ctx, userID, in.TaskID); err != nil {
		return nil, err
	}

	now := c.rec.clock.Now()
	payload := feedbackPayload{
		InterventionID:        interventionID,
		TaskID:                in.TaskID,
		Feedback:              value,
		InterventionTimestamp: now,
	}
	if in.InterventionTimestamp != nil && !in.InterventionTimestamp.IsZero() {
		payload.InterventionTimestamp = in.InterventionTimestamp.UTC()
	}
	if d := now.Sub(payload.InterventionTimestamp); d > 0 {
		payload.SecondsToFeedback = int64(d / time.Second)
	}

	origin, err := c.rec.Store().FindIntervention(ctx, userID, interventionID)
	switch {
	case err == nil:
		enrichFromAlert(&payload, origin)
	case apperr.Is(err, apperr.KindNotFound):
		if c.strict {
			return nil, err
		}
	default:
		return nil, err
	}

	if _, _, err := c.rec.Record(ctx, model.EventFeedbackReceived, userID, in.TaskID, payload, WithIntervention(interventionID)); err != nil {
		return nil, err
	}

	return &model.Feedback{
		InterventionID:        interventionID,
		TaskID:                in.TaskID,
		Value:                 value,
		InterventionTimestamp: payload.InterventionTimestamp,
	}, nil
}

func enrichFromAlert(p *feedbackPayload, origin *model.AnalyticsEvent) {
	var alert struct {
		RuleID   string         `json:"rule_id"`
		Severity model.Severity `json:"severity"`
	}
	if err := json.Unmarshal(origin.Payload, &alert); err == nil {
		p.RuleID = alert.RuleID
		p.Severity = alert.Severity
	}
	at := origin.OccurredAt
	p.AlertGeneratedAt = &at
}
