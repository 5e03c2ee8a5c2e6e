package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"taskpulse/internal/apperr"
	"taskpulse/internal/model"
)

// EventRepository is the append-only analytics log stored next to the tasks.
type EventRepository struct {
	db *gorm.DB
}

func NewEventRepository(db *gorm.DB) *EventRepository {
	return &EventRepository{db: db}
}

// Append inserts ev. When ev carries a source key that was already recorded nothing is written and
// inserted is false.
func (r *EventRepository) Append(ctx context.Context, ev *model.AnalyticsEvent) (inserted bool, err error) {
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(ev)
	if res.Error != nil {
		return false, apperr.Dependency("append event", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *EventRepository) Get(ctx context.Context, id string) (*model.AnalyticsEvent, error) {
	var ev model.AnalyticsEvent
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&ev).Error
	switch {
	case err == nil:
		return &ev, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, apperr.NotFound("get event", "event %s not found", id)
	default:
		return nil, apperr.Dependency("get event", err)
	}
}

// ListByUser returns the user's events in occurrence order, optionally restricted to kinds.
func (r *EventRepository) ListByUser(ctx context.Context, userID uint, kinds ...model.EventKind) ([]model.AnalyticsEvent, error) {
	q := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if len(kinds) > 0 {
		q = q.Where("kind IN ?", kinds)
	}
	var events []model.AnalyticsEvent
	if err := q.Order("occurred_at ASC, id ASC").Find(&events).Error; err != nil {
		return nil, apperr.Dependency("list events", err)
	}
	return events, nil
}

func (r *EventRepository) ListByTask(ctx context.Context, userID, taskID uint) ([]model.AnalyticsEvent, error) {
	var events []model.AnalyticsEvent
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND task_id = ?", userID, taskID).
		Order("occurred_at ASC, id ASC").
		Find(&events).Error; err != nil {
		return nil, apperr.Dependency("list task events", err)
	}
	return events, nil
}

// FindIntervention returns the alert_generated or intervention_triggered event that introduced interventionID.
func (r *EventRepository) FindIntervention(ctx context.Context, userID uint, interventionID string) (*model.AnalyticsEvent, error) {
	var ev model.AnalyticsEvent
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND intervention_id = ? AND kind IN ?", userID, interventionID, model.InterventionKinds).
		Order("occurred_at ASC").
		First(&ev).Error
	switch {
	case err == nil:
		return &ev, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, apperr.NotFound("find intervention", "intervention %s not found", interventionID)
	default:
		return nil, apperr.Dependency("find intervention", err)
	}
}
