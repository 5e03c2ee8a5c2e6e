package service

import (
	"context"
	"fmt"
	"math"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"taskpulse/internal/analytics"
	"taskpulse/internal/apperr"
	"taskpulse/internal/detector"
	"taskpulse/internal/model"
)

const coachingRule = "coaching"

// TriggerInput asks for a coaching message on one task. Severity defaults to critical; RuleID names the
// alert that prompted it, if any.
type TriggerInput struct {
	TaskID   uint           `json:"taskId"`
	Severity model.Severity `json:"severity"`
	RuleID   string         `json:"ruleId"`
}

// Intervention is a coaching message the user can rate through SubmitFeedback.
type Intervention struct {
	InterventionID string `json:"interventionId"`
	Message        string `json:"message"`
	TaskID         uint   `json:"taskId"`
	TaskTitle      string `json:"taskTitle"`
}

var coachingTemplates = []string{
	"I notice you've been putting off %q. That's normal for hard tasks. Spend just 2 minutes looking at what it needs, with no pressure to do it yet.",
	"%q has been hanging over you. Instead of the whole thing, pick ONE tiny piece you could finish in the next 5 minutes. A small win builds momentum.",
	"%q has been on your list for a while. What makes it hard to start: too big, unclear, or just not appealing? Name it and shrink the first step.",
}

// TriggerIntervention records a templated coaching message for the task. The event is the primary write,
// so recording failures are returned.
func (s *ProcrastinationService) TriggerIntervention(ctx context.Context, userID uint, in TriggerInput) (*Intervention, error) {
	const op = "trigger intervention"
	ctx, span := s.tracer.Start(ctx, "procrastination.trigger", trace.WithAttributes(
		attribute.Int64("user.id", int64(userID)),
		attribute.Int64("task.id", int64(in.TaskID)),
	))
	defer span.End()

	if userID == 0 {
		return nil, apperr.Validation(op, "user id is required")
	}
	if in.TaskID == 0 {
		return nil, apperr.Validation(op, "task id is required")
	}
	severity := in.Severity
	if severity == "" {
		severity = model.SeverityCritical
	}
	if severity.Rank() == 0 {
		return nil, apperr.Validation(op, "unknown severity %q", in.Severity)
	}

	task, err := s.tasks.FindByID(ctx, userID, in.TaskID)
	if err != nil {
		return nil, fail(span, err)
	}

	now := s.clock.Now()
	_, hours := analytics.UntilDue(task.DueDate, now)
	title := strings.TrimSpace(task.Title)
	message := fmt.Sprintf(coachingTemplates[task.SkipCount%len(coachingTemplates)], title)

	due := "no due date"
	if hours != nil {
		due = fmt.Sprintf("%dh", int(math.Floor(*hours)))
	}
	id := detector.AlertID(userID, task.ID, coachingRule, now)
	payload := analytics.InterventionTriggered{
		InterventionID: id,
		RuleID:         in.RuleID,
		TaskTitle:      title,
		TriggerType:    "rule",
		Prompt:         fmt.Sprintf("Task: %s, Priority: %s, Due in: %s, Skipped: %d times", title, task.Priority, due, task.SkipCount),
		Response:       message,
		Model:          "template",
		Severity:       severity,
		Context:        analytics.InterventionContext{SkipCount: task.SkipCount, HoursUntilDue: hours},
	}
	if _, _, err := s.recorder.Record(ctx, model.EventInterventionTriggered, userID, task.ID, payload,
		analytics.WithSourceKey(id), analytics.WithIntervention(id)); err != nil {
		return nil, fail(span, err)
	}

	return &Intervention{InterventionID: id, Message: message, TaskID: task.ID, TaskTitle: title}, nil
}
