package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"taskpulse/internal/apperr"
	"taskpulse/internal/model"
)

// TaskRepository handles persistence for tasks.
type TaskRepository struct {
	db *gorm.DB
}

func NewTaskRepository(db *gorm.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

func (r *TaskRepository) Create(ctx context.Context, task *model.Task) error {
	if err := r.db.WithContext(ctx).Create(task).Error; err != nil {
		return apperr.Dependency("create task", err)
	}
	return nil
}

// ListByUser returns every task the user owns, completed ones included, ordered by id.
func (r *TaskRepository) ListByUser(ctx context.Context, userID uint) ([]model.Task, error) {
	var tasks []model.Task
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).
		Order("id ASC").
		Find(&tasks).Error; err != nil {
		return nil, apperr.Dependency("list tasks", err)
	}
	return tasks, nil
}

func (r *TaskRepository) ListOpen(ctx context.Context, userID uint) ([]model.Task, error) {
	var tasks []model.Task
	if err := r.db.WithContext(ctx).Where("user_id = ? AND is_completed = ?", userID, false).
		Order("due_date IS NULL, due_date ASC, created_at DESC").
		Find(&tasks).Error; err != nil {
		return nil, apperr.Dependency("list open tasks", err)
	}
	return tasks, nil
}

func (r *TaskRepository) FindByID(ctx context.Context, userID, taskID uint) (*model.Task, error) {
	var task model.Task
	err := r.db.WithContext(ctx).Where("user_id = ? AND id = ?", userID, taskID).First(&task).Error
	switch {
	case err == nil:
		return &task, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, apperr.NotFound("find task", "task %d not found", taskID)
	default:
		return nil, apperr.Dependency("find task", err)
	}
}

// IncrementSkip bumps skip_count by one in a single UPDATE and returns the row as written.
// Completed tasks cannot be skipped.
func (r *TaskRepository) IncrementSkip(ctx context.Context, userID, taskID uint, at time.Time) (*model.Task, error) {
	var task model.Task
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Task{}).
			Where("id = ? AND user_id = ? AND is_completed = ?", taskID, userID, false).
			UpdateColumns(map[string]any{
				"skip_count": gorm.Expr("skip_count + ?", 1),
				"updated_at": at,
			})
		if res.Error != nil {
			return apperr.Dependency("increment skip", res.Error)
		}
		if res.RowsAffected == 0 {
			return missingOrCompleted(tx, userID, taskID, "skip task")
		}
		if err := tx.Where("id = ?", taskID).First(&task).Error; err != nil {
			return apperr.Dependency("reload task", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// MarkCompleted closes an open task. changed is false when the task was already completed.
func (r *TaskRepository) MarkCompleted(ctx context.Context, userID, taskID uint, completedAt time.Time) (task *model.Task, changed bool, err error) {
	return r.setCompletion(ctx, userID, taskID, true, &completedAt, completedAt)
}

// Reopen moves a completed task back to the open list. changed is false when it was already open.
func (r *TaskRepository) Reopen(ctx context.Context, userID, taskID uint, at time.Time) (task *model.Task, changed bool, err error) {
	return r.setCompletion(ctx, userID, taskID, false, nil, at)
}

func (r *TaskRepository) setCompletion(ctx context.Context, userID, taskID uint, completed bool, completedAt *time.Time, at time.Time) (*model.Task, bool, error) {
	var (
		task    model.Task
		changed bool
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Task{}).
			Where("id = ? AND user_id = ? AND is_completed = ?", taskID, userID, !completed).
			UpdateColumns(map[string]any{
				"is_completed": completed,
				"completed_at": completedAt,
				"updated_at":   at,
			})
		if res.Error != nil {
			return apperr.Dependency("update task status", res.Error)
		}
		changed = res.RowsAffected > 0

		err := tx.Where("id = ? AND user_id = ?", taskID, userID).First(&task).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return apperr.NotFound("update task status", "task %d not found", taskID)
		case err != nil:
			return apperr.Dependency("reload task", err)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return &task, changed, nil
}

// Delete removes a task for the given user. Its analytics events are kept.
func (r *TaskRepository) Delete(ctx context.Context, userID, taskID uint) error {
	res := r.db.WithContext(ctx).Where("user_id = ? AND id = ?", userID, taskID).Delete(&model.Task{})
	if res.Error != nil {
		return apperr.Dependency("delete task", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("delete task", "task %d not found", taskID)
	}
	return nil
}

func missingOrCompleted(tx *gorm.DB, userID, taskID uint, op string) error {
	var existing model.Task
	err := tx.Select("id", "is_completed").Where("id = ? AND user_id = ?", taskID, userID).First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return apperr.NotFound(op, "task %d not found", taskID)
	case err != nil:
		return apperr.Dependency(op, err)
	default:
		return apperr.Validation(op, "task %d is already completed", taskID)
	}
}
