package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"taskpulse/internal/apperr"
	"taskpulse/internal/model"
)

// SnapshotRepository aggregates a user's task table into a model.UserSnapshot.
type SnapshotRepository struct {
	db *gorm.DB
}

func NewSnapshotRepository(db *gorm.DB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

type snapshotRow struct {
	IsCompleted bool
	DueDate     *time.Time
	SkipCount   int
	CompletedAt *time.Time
}

func (r *SnapshotRepository) Snapshot(ctx context.Context, userID uint, now time.Time) (model.UserSnapshot, error) {
	var rows []snapshotRow
	if err := r.db.WithContext(ctx).Model(&model.Task{}).
		Select("is_completed", "due_date", "skip_count", "completed_at").
		Where("user_id = ?", userID).
		Scan(&rows).Error; err != nil {
		return model.UserSnapshot{}, apperr.Dependency("user snapshot", err)
	}

	snap := model.UserSnapshot{CapturedAt: now}
	var completions []time.Time
	for _, row := range rows {
		snap.TotalTasks++
		snap.TotalSkips += row.SkipCount
		if row.IsCompleted {
			snap.CompletedTasks++
			if row.CompletedAt != nil {
				completions = append(completions, *row.CompletedAt)
			}
			continue
		}
		snap.OpenTasks++
		if row.DueDate != nil && row.DueDate.Before(now) {
			snap.OverdueTasks++
		}
	}
	if snap.TotalTasks > 0 {
		snap.CompletionRate = float64(snap.CompletedTasks) / float64(snap.TotalTasks)
	}
	snap.ActiveStreak = ActiveStreak(completions, now)
	return snap, nil
}

// ActiveStreak counts consecutive UTC days with at least one completion, ending today or, when
// nothing was completed yet today, yesterday.
func ActiveStreak(completions []time.Time, now time.Time) int {
	days := make(map[string]struct{}, len(completions))
	for _, c := range completions {
		days[c.UTC().Format(time.DateOnly)] = struct{}{}
	}

	day := now.UTC()
	if _, ok := days[day.Format(time.DateOnly)]; !ok {
		day = day.AddDate(0, 0, -1)
	}
	streak := 0
	for {
		if _, ok := days[day.Format(time.DateOnly)]; !ok {
			return streak
		}
		streak++
		day = day.AddDate(0, 0, -1)
	}
}
