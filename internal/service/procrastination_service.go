package service

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"taskpulse/internal/analytics"
	"taskpulse/internal/apperr"
	"taskpulse/internal/clock"
	"taskpulse/internal/detector"
	"taskpulse/internal/logger"
	"taskpulse/internal/model"
	"taskpulse/internal/notify"
	"taskpulse/internal/observability"
	"taskpulse/internal/repository"
)

// CheckResult is the response of a full evaluation pass.
type CheckResult struct {
	Alerts []model.Alert `json:"alerts"`
	Count  int           `json:"count"`
}

// SkipResult reports the new skip count and the alert the skip triggered, if any.
type SkipResult struct {
	SkipCount int          `json:"skipCount"`
	Alert     *model.Alert `json:"alert"`
	Message   string       `json:"message"`
	// NeedsCoaching is set when the alert is critical and a coaching intervention should follow.
	NeedsCoaching bool `json:"needsCoaching"`
}

// ProcrastinationService runs detection over a user's tasks and records what it finds.
type ProcrastinationService struct {
	tasks      *repository.TaskRepository
	recorder   *analytics.Recorder
	correlator *analytics.Correlator
	evaluator  *detector.Evaluator
	publisher  notify.Publisher
	clock      clock.Clock
	log        *logger.Logger
	tracer     trace.Tracer
}

func NewProcrastinationService(
	tasks *repository.TaskRepository,
	recorder *analytics.Recorder,
	correlator *analytics.Correlator,
	evaluator *detector.Evaluator,
	publisher notify.Publisher,
	clk clock.Clock,
	log *logger.Logger,
) *ProcrastinationService {
	if publisher == nil {
		publisher = notify.Nop{}
	}
	if clk == nil {
		clk = clock.System{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &ProcrastinationService{
		tasks:      tasks,
		recorder:   recorder,
		correlator: correlator,
		evaluator:  evaluator,
		publisher:  publisher,
		clock:      clk,
		log:        log.With("service", "ProcrastinationService"),
		tracer:     observability.Tracer("procrastination"),
	}
}

// CheckAlerts evaluates every open task of the user against the rest, delivers every alert and returns
// them ordered by severity, due date and task id.
func (s *ProcrastinationService) CheckAlerts(ctx context.Context, userID uint) (CheckResult, error) {
	ctx, span := s.tracer.Start(ctx, "procrastination.check", trace.WithAttributes(attribute.Int64("user.id", int64(userID))))
	defer span.End()

	evaluated, err := s.PreviewAlerts(ctx, userID)
	if err != nil {
		return CheckResult{}, fail(span, err)
	}
	for _, ev := range evaluated {
		s.Deliver(ctx, ev)
	}

	alerts := detector.Alerts(evaluated)
	span.SetAttributes(attribute.Int("alerts.count", len(alerts)))
	return CheckResult{Alerts: alerts, Count: len(alerts)}, nil
}

// PreviewAlerts evaluates like CheckAlerts but records and publishes nothing.
func (s *ProcrastinationService) PreviewAlerts(ctx context.Context, userID uint) ([]detector.Evaluated, error) {
	if userID == 0 {
		return nil, apperr.Validation("check alerts", "user id is required")
	}

	now := s.clock.Now()
	tasks, err := s.tasks.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.evaluator.EvaluateAll(ctx, tasks, s.histories(ctx, userID), now)
}

// SkipTask defers a task once and evaluates it immediately. Failures after the increment never undo it.
func (s *ProcrastinationService) SkipTask(ctx context.Context, userID, taskID uint) (SkipResult, error) {
	ctx, span := s.tracer.Start(ctx, "procrastination.skip", trace.WithAttributes(
		attribute.Int64("user.id", int64(userID)),
		attribute.Int64("task.id", int64(taskID)),
	))
	defer span.End()

	if userID == 0 {
		return SkipResult{}, apperr.Validation("skip task", "user id is required")
	}
	if taskID == 0 {
		return SkipResult{}, apperr.Validation("skip task", "task id is required")
	}

	now := s.clock.Now()
	task, err := s.tasks.IncrementSkip(ctx, userID, taskID, now)
	if err != nil {
		return SkipResult{}, fail(span, err)
	}
	result := SkipResult{SkipCount: task.SkipCount, Message: "Task skipped"}

	days, hours := analytics.UntilDue(task.DueDate, now)
	_, _, recErr := s.recorder.Record(ctx, model.EventTaskSkipped, userID, task.ID, analytics.TaskSkipped{
		Title:            task.Title,
		Priority:         task.Priority,
		DueDate:          task.DueDate,
		DaysUntilDue:     days,
		HoursUntilDue:    hours,
		CurrentSkipCount: task.SkipCount,
		Tags:             task.Tags,
		TimeOfDay:        analytics.TimeOfDay(now),
	})
	if recErr != nil {
		s.log.Warn("record skip failed", "user_id", userID, "task_id", task.ID, "error", recErr)
	}

	peers, err := s.tasks.ListByUser(ctx, userID)
	if err != nil {
		s.log.Warn("load peers after skip failed", "user_id", userID, "task_id", task.ID, "error", err)
		return result, nil
	}

	// Without the skip event in the log the history would undercount the streak.
	var history *detector.History
	if recErr == nil {
		history = s.taskHistory(ctx, userID, task.ID)
	}

	alert, sig, err := s.evaluator.Check(*task, peers, history, now)
	if err != nil {
		s.log.Warn("evaluate after skip failed", "user_id", userID, "task_id", task.ID, "error", err)
		return result, nil
	}
	if alert != nil {
		s.Deliver(ctx, detector.Evaluated{Alert: *alert, Signals: sig})
		result.Alert = alert
		result.Message = alert.Message
		result.NeedsCoaching = alert.Severity == model.SeverityCritical
	}
	return result, nil
}

// SubmitFeedback records the user's reaction to an intervention. Here the event is the primary write,
// so recording failures are returned.
func (s *ProcrastinationService) SubmitFeedback(ctx context.Context, userID uint, in analytics.FeedbackInput) (*model.Feedback, error) {
	ctx, span := s.tracer.Start(ctx, "procrastination.feedback", trace.WithAttributes(
		attribute.Int64("user.id", int64(userID)),
		attribute.String("intervention.id", in.InterventionID),
	))
	defer span.End()

	fb, err := s.correlator.Attach(ctx, userID, in)
	if err != nil {
		return nil, fail(span, err)
	}
	return fb, nil
}

func (s *ProcrastinationService) histories(ctx context.Context, userID uint) map[uint]*detector.History {
	events, err := s.recorder.Store().ListByUser(ctx, userID, model.EventTaskSkipped, model.EventTaskCompleted, model.EventTaskReopened)
	if err != nil {
		s.log.Warn("load skip history failed, using raw skip counts", "user_id", userID, "error", err)
		return nil
	}
	return detector.BuildHistories(events)
}

func (s *ProcrastinationService) taskHistory(ctx context.Context, userID, taskID uint) *detector.History {
	events, err := s.recorder.Store().ListByTask(ctx, userID, taskID)
	if err != nil {
		s.log.Warn("load task history failed, using raw skip count", "user_id", userID, "task_id", taskID, "error", err)
		return nil
	}
	return detector.BuildHistories(events)[taskID]
}

// Deliver records the alert and publishes it. Both are best effort.
func (s *ProcrastinationService) Deliver(ctx context.Context, ev detector.Evaluated) {
	alert := ev.Alert
	payload := analytics.AlertGenerated{
		AlertID:       alert.ID,
		RuleID:        alert.RuleID,
		Severity:      alert.Severity,
		Message:       alert.Message,
		TaskTitle:     alert.TaskTitle,
		DueDate:       alert.DueDate,
		NeedsCoaching: alert.Severity == model.SeverityCritical,
		Signals: analytics.AlertSignals{
			SkipCount:      ev.Signals.SkipCount,
			DaysOverdue:    ev.Signals.DaysOverdue,
			PeerSkipRate:   ev.Signals.PeerSkipRate,
			UserAvgSkips:   ev.Signals.UserAvgSkips,
			DeferralStreak: ev.Signals.DeferralStreak,
		},
	}
	if ev.Signals.HasDeadline {
		_, hours := analytics.UntilDue(alert.DueDate, alert.GeneratedAt)
		payload.Signals.HoursToDue = hours
	}

	if _, _, err := s.recorder.Record(ctx, model.EventAlertGenerated, alert.UserID, alert.TaskID, payload,
		analytics.WithSourceKey(alert.ID), analytics.WithIntervention(alert.ID)); err != nil {
		s.log.Warn("record alert failed", "alert_id", alert.ID, "task_id", alert.TaskID, "error", err)
	}
	if err := s.publisher.Publish(ctx, alert); err != nil {
		s.log.Warn("publish alert failed", "alert_id", alert.ID, "error", err)
	}
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
