package repository_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"taskpulse/internal/apperr"
	"taskpulse/internal/model"
	"taskpulse/internal/repository"
	"taskpulse/internal/repository/testutil"
)

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func seedTask(t *testing.T, repo *repository.TaskRepository, task model.Task) model.Task {
	t.Helper()
	if task.UserID == 0 {
		task.UserID = 1
	}
	if task.Title == "" {
		task.Title = "task"
	}
	require.NoError(t, repo.Create(context.Background(), &task))
	return task
}

func TestIncrementSkipSequential(t *testing.T) {
	repo := repository.NewTaskRepository(testutil.DB(t))
	task := seedTask(t, repo, model.Task{Tags: []string{"work"}})
	ctx := context.Background()

	got, err := repo.IncrementSkip(ctx, 1, task.ID, now)
	require.NoError(t, err)
	assert.Equal(t, 1, got.SkipCount)

	got, err = repo.IncrementSkip(ctx, 1, task.ID, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, got.SkipCount)
	assert.Equal(t, []string{"work"}, []string(got.Tags))
}

func TestIncrementSkipConcurrentNoLostUpdates(t *testing.T) {
	const workers = 16
	db := testutil.ConcurrentDB(t, workers)
	sqlDB, err := db.DB()
	require.NoError(t, err)

	repo := repository.NewTaskRepository(db)
	// a fresh owner keeps reruns against a shared Postgres apart
	owner := uint(time.Now().UnixNano()%1_000_000_000) + 1
	task := seedTask(t, repo, model.Task{UserID: owner})

	start := make(chan struct{})
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := repo.IncrementSkip(context.Background(), owner, task.ID, now); err != nil {
				errs <- err
			}
		}()
	}
	close(start)
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.Greater(t, sqlDB.Stats().MaxOpenConnections, 1, "the pool must allow parallel transactions")
	got, err := repo.FindByID(context.Background(), owner, task.ID)
	require.NoError(t, err)
	assert.Equal(t, workers, got.SkipCount)
}

func TestIncrementSkipErrors(t *testing.T) {
	repo := repository.NewTaskRepository(testutil.DB(t))
	ctx := context.Background()
	task := seedTask(t, repo, model.Task{})

	_, err := repo.IncrementSkip(ctx, 1, 999, now)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	_, err = repo.IncrementSkip(ctx, 2, task.ID, now)
	assert.True(t, apperr.Is(err, apperr.KindNotFound), "other users cannot skip the task")

	_, changed, err := repo.MarkCompleted(ctx, 1, task.ID, now)
	require.NoError(t, err)
	require.True(t, changed)

	_, err = repo.IncrementSkip(ctx, 1, task.ID, now)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestCompleteAndReopen(t *testing.T) {
	repo := repository.NewTaskRepository(testutil.DB(t))
	ctx := context.Background()
	task := seedTask(t, repo, model.Task{})

	done, changed, err := repo.MarkCompleted(ctx, 1, task.ID, now)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, done.IsCompleted)
	require.NotNil(t, done.CompletedAt)
	assert.True(t, done.CompletedAt.Equal(now))

	_, changed, err = repo.MarkCompleted(ctx, 1, task.ID, now)
	require.NoError(t, err)
	assert.False(t, changed)

	open, changed, err := repo.Reopen(ctx, 1, task.ID, now)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.False(t, open.IsCompleted)
	assert.Nil(t, open.CompletedAt)

	_, _, err = repo.Reopen(ctx, 1, 12345, now)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestListOpenOrdersByDueDate(t *testing.T) {
	repo := repository.NewTaskRepository(testutil.DB(t))
	ctx := context.Background()

	later := now.Add(48 * time.Hour)
	sooner := now.Add(2 * time.Hour)
	undated := seedTask(t, repo, model.Task{Title: "undated"})
	l := seedTask(t, repo, model.Task{Title: "later", DueDate: &later})
	s := seedTask(t, repo, model.Task{Title: "sooner", DueDate: &sooner})
	closed := seedTask(t, repo, model.Task{Title: "closed"})
	_, _, err := repo.MarkCompleted(ctx, 1, closed.ID, now)
	require.NoError(t, err)

	open, err := repo.ListOpen(ctx, 1)
	require.NoError(t, err)
	require.Len(t, open, 3)
	assert.Equal(t, []uint{s.ID, l.ID, undated.ID}, []uint{open[0].ID, open[1].ID, open[2].ID})

	all, err := repo.ListByUser(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestDeleteTask(t *testing.T) {
	repo := repository.NewTaskRepository(testutil.DB(t))
	ctx := context.Background()
	task := seedTask(t, repo, model.Task{})

	require.NoError(t, repo.Delete(ctx, 1, task.ID))
	assert.True(t, apperr.Is(repo.Delete(ctx, 1, task.ID), apperr.KindNotFound))
}

func TestEventAppendRoundTrip(t *testing.T) {
	repo := repository.NewEventRepository(testutil.DB(t))
	ctx := context.Background()

	intervention := uuid.NewString()
	ev := model.AnalyticsEvent{
		ID:             uuid.NewString(),
		Kind:           model.EventAlertGenerated,
		UserID:         1,
		TaskID:         9,
		InterventionID: &intervention,
		SourceKey:      &intervention,
		Payload:        datatypes.JSON(`{"rule_id":"chronic-skip","severity":"warning"}`),
		Snapshot:       datatypes.NewJSONType(model.UserSnapshot{TotalTasks: 3, CapturedAt: now}),
		OccurredAt:     now,
	}
	inserted, err := repo.Append(ctx, &ev)
	require.NoError(t, err)
	assert.True(t, inserted)

	got, err := repo.Get(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, ev.Kind, got.Kind)
	assert.JSONEq(t, string(ev.Payload), string(got.Payload))
	assert.True(t, got.OccurredAt.Equal(now))
	assert.Equal(t, 3, got.Snapshot.Data().TotalTasks)

	dup := ev
	dup.ID = uuid.NewString()
	inserted, err = repo.Append(ctx, &dup)
	require.NoError(t, err)
	assert.False(t, inserted, "same source key must not be recorded twice")

	found, err := repo.FindIntervention(ctx, 1, intervention)
	require.NoError(t, err)
	assert.Equal(t, ev.ID, found.ID)

	_, err = repo.FindIntervention(ctx, 2, intervention)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	_, err = repo.Get(ctx, "missing")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestEventListFilters(t *testing.T) {
	repo := repository.NewEventRepository(testutil.DB(t))
	ctx := context.Background()

	for i, kind := range []model.EventKind{model.EventTaskSkipped, model.EventAlertGenerated, model.EventTaskSkipped, model.EventTaskCompleted} {
		_, err := repo.Append(ctx, &model.AnalyticsEvent{
			ID:         uuid.NewString(),
			Kind:       kind,
			UserID:     1,
			TaskID:     uint(1 + i%2),
			Payload:    datatypes.JSON(`{}`),
			OccurredAt: now.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	skips, err := repo.ListByUser(ctx, 1, model.EventTaskSkipped)
	require.NoError(t, err)
	assert.Len(t, skips, 2)

	all, err := repo.ListByUser(ctx, 1)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.True(t, all[0].OccurredAt.Before(all[3].OccurredAt))

	task2, err := repo.ListByTask(ctx, 1, 2)
	require.NoError(t, err)
	assert.Len(t, task2, 2)
}

func TestSnapshot(t *testing.T) {
	db := testutil.DB(t)
	tasks := repository.NewTaskRepository(db)
	snaps := repository.NewSnapshotRepository(db)
	ctx := context.Background()

	overdue := now.Add(-24 * time.Hour)
	seedTask(t, tasks, model.Task{SkipCount: 2, DueDate: &overdue})
	seedTask(t, tasks, model.Task{SkipCount: 1})
	done1 := seedTask(t, tasks, model.Task{})
	done2 := seedTask(t, tasks, model.Task{})
	seedTask(t, tasks, model.Task{UserID: 2, SkipCount: 50})

	_, _, err := tasks.MarkCompleted(ctx, 1, done1.ID, now.Add(-time.Hour))
	require.NoError(t, err)
	_, _, err = tasks.MarkCompleted(ctx, 1, done2.ID, now.Add(-25*time.Hour))
	require.NoError(t, err)

	snap, err := snaps.Snapshot(ctx, 1, now)
	require.NoError(t, err)
	assert.Equal(t, 4, snap.TotalTasks)
	assert.Equal(t, 2, snap.OpenTasks)
	assert.Equal(t, 2, snap.CompletedTasks)
	assert.InDelta(t, 0.5, snap.CompletionRate, 1e-9)
	assert.Equal(t, 1, snap.OverdueTasks)
	assert.Equal(t, 3, snap.TotalSkips)
	assert.Equal(t, 2, snap.ActiveStreak)
}

func TestActiveStreak(t *testing.T) {
	day := 24 * time.Hour
	assert.Equal(t, 0, repository.ActiveStreak(nil, now))
	assert.Equal(t, 1, repository.ActiveStreak([]time.Time{now.Add(-day)}, now))
	assert.Equal(t, 3, repository.ActiveStreak([]time.Time{now, now.Add(-day), now.Add(-2 * day), now.Add(-4 * day)}, now))
	assert.Equal(t, 0, repository.ActiveStreak([]time.Time{now.Add(-2 * day)}, now))
}

func TestUpsertFromTelegram(t *testing.T) {
	repo := repository.NewUserRepository(testutil.DB(t))
	ctx := context.Background()

	u, err := repo.UpsertFromTelegram(ctx, 777, "Ada", "L", "ada")
	require.NoError(t, err)
	require.NotNil(t, u.TelegramID)

	again, err := repo.UpsertFromTelegram(ctx, 777, "Ada", "Lovelace", "ada")
	require.NoError(t, err)
	assert.Equal(t, u.ID, again.ID)

	require.NoError(t, repo.Create(ctx, &model.User{FirstName: "web only"}))

	linked, err := repo.ListLinked(ctx)
	require.NoError(t, err)
	require.Len(t, linked, 1)
	assert.Equal(t, u.ID, linked[0].ID)

	byTG, err := repo.FindByTelegramID(ctx, 777)
	require.NoError(t, err)
	assert.Equal(t, "Lovelace", byTG.LastName)

	_, err = repo.FindByTelegramID(ctx, 1)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}
