package service

import (
	"context"
	"strings"
	"time"

	"taskpulse/internal/analytics"
	"taskpulse/internal/apperr"
	"taskpulse/internal/clock"
	"taskpulse/internal/logger"
	"taskpulse/internal/model"
	"taskpulse/internal/repository"
)

// TaskInput represents data required to create a task.
type TaskInput struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	DueDate     *time.Time `json:"dueDate"`
	Priority    string     `json:"priority"`
	Tags        []string   `json:"tags"`
}

// TaskService wraps task-related business logic. Every mutation is followed by a best-effort analytics event.
type TaskService struct {
	taskRepo *repository.TaskRepository
	recorder *analytics.Recorder
	clock    clock.Clock
	log      *logger.Logger
}

func NewTaskService(taskRepo *repository.TaskRepository, recorder *analytics.Recorder, clk clock.Clock, log *logger.Logger) *TaskService {
	if clk == nil {
		clk = clock.System{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &TaskService{taskRepo: taskRepo, recorder: recorder, clock: clk, log: log.With("service", "TaskService")}
}

func (s *TaskService) CreateTask(ctx context.Context, userID uint, input TaskInput) (*model.Task, error) {
	const op = "create task"
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, apperr.Validation(op, "title is required")
	}
	if userID == 0 {
		return nil, apperr.Validation(op, "user id is required")
	}
	priority, ok := model.ParsePriority(input.Priority)
	if !ok {
		return nil, apperr.Validation(op, "priority must be one of low, medium, high")
	}

	task := model.Task{
		UserID:      userID,
		Title:       title,
		Description: strings.TrimSpace(input.Description),
		Priority:    priority,
		Tags:        model.NormalizeTags(input.Tags),
	}
	if input.DueDate != nil {
		due := input.DueDate.UTC()
		task.DueDate = &due
	}

	if err := s.taskRepo.Create(ctx, &task); err != nil {
		return nil, err
	}

	days, _ := analytics.UntilDue(task.DueDate, s.clock.Now())
	s.record(ctx, model.EventTaskCreated, &task, analytics.TaskCreated{
		Title:     task.Title,
		Priority:  task.Priority,
		HasDue:    task.DueDate != nil,
		DaysToDue: days,
		Tags:      task.Tags,
	})
	return &task, nil
}

func (s *TaskService) ListOpen(ctx context.Context, userID uint) ([]model.Task, error) {
	return s.taskRepo.ListOpen(ctx, userID)
}

func (s *TaskService) GetTask(ctx context.Context, userID, taskID uint) (*model.Task, error) {
	return s.taskRepo.FindByID(ctx, userID, taskID)
}

// CompleteTask marks a task as done. Completing an already completed task is a no-op and records nothing.
func (s *TaskService) CompleteTask(ctx context.Context, userID, taskID uint) (*model.Task, error) {
	now := s.clock.Now()
	task, changed, err := s.taskRepo.MarkCompleted(ctx, userID, taskID, now)
	if err != nil {
		return nil, err
	}
	if changed {
		s.record(ctx, model.EventTaskCompleted, task, analytics.TaskCompleted{
			Title:      task.Title,
			WasOverdue: task.DueDate != nil && task.DueDate.Before(now),
			SkipCount:  task.SkipCount,
			TimeOfDay:  analytics.TimeOfDay(now),
		})
	}
	return task, nil
}

// ReopenTask moves a task back to the open list; its deferral streak restarts from here.
func (s *TaskService) ReopenTask(ctx context.Context, userID, taskID uint) (*model.Task, error) {
	task, changed, err := s.taskRepo.Reopen(ctx, userID, taskID, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if changed {
		s.record(ctx, model.EventTaskReopened, task, analytics.TaskReopened{Title: task.Title, SkipCount: task.SkipCount})
	}
	return task, nil
}

// DeleteTask removes a task completely. Its events stay in the log.
func (s *TaskService) DeleteTask(ctx context.Context, userID, taskID uint) error {
	return s.taskRepo.Delete(ctx, userID, taskID)
}

// TaskEvents returns the recorded history of one task.
func (s *TaskService) TaskEvents(ctx context.Context, userID, taskID uint) ([]model.AnalyticsEvent, error) {
	return s.recorder.Store().ListByTask(ctx, userID, taskID)
}

func (s *TaskService) record(ctx context.Context, kind model.EventKind, task *model.Task, payload any) {
	if _, _, err := s.recorder.Record(ctx, kind, task.UserID, task.ID, payload); err != nil {
		s.log.Warn("record event failed", "kind", kind, "task_id", task.ID, "error", err)
	}
}
