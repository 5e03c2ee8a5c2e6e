package analytics_test

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskpulse/internal/analytics"
	"taskpulse/internal/apperr"
	"taskpulse/internal/clock"
	"taskpulse/internal/model"
	"taskpulse/internal/repository"
	"taskpulse/internal/repository/testutil"
)

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type fixture struct {
	tasks  *repository.TaskRepository
	events *repository.EventRepository
	clock  *clock.Manual
	rec    *analytics.Recorder
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	db := testutil.DB(t)
	f := fixture{
		tasks:  repository.NewTaskRepository(db),
		events: repository.NewEventRepository(db),
		clock:  clock.NewManual(now),
	}
	f.rec = analytics.NewRecorder(f.events, repository.NewSnapshotRepository(db), f.clock)
	return f
}

func (f fixture) task(t *testing.T, userID uint) model.Task {
	t.Helper()
	task := model.Task{UserID: userID, Title: "write report", SkipCount: 1}
	require.NoError(t, f.tasks.Create(context.Background(), &task))
	return task
}

func TestRecordAttachesSnapshot(t *testing.T) {
	f := newFixture(t)
	task := f.task(t, 7)

	ev, inserted, err := f.rec.Record(context.Background(), model.EventTaskSkipped, 7, task.ID, analytics.TaskSkipped{
		Title:            task.Title,
		CurrentSkipCount: 1,
		TimeOfDay:        analytics.TimeOfDay(now),
	})
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.NotEmpty(t, ev.ID)
	assert.True(t, ev.OccurredAt.Equal(now))

	stored, err := f.events.Get(context.Background(), ev.ID)
	require.NoError(t, err)
	snap := stored.Snapshot.Data()
	assert.Equal(t, 1, snap.TotalTasks)
	assert.Equal(t, 1, snap.TotalSkips)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(stored.Payload, &payload))
	assert.Equal(t, "afternoon", payload["time_of_day"])
	assert.EqualValues(t, 1, payload["current_skip_count"])
}

func TestRecordSourceKeyIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, inserted, err := f.rec.Record(ctx, model.EventAlertGenerated, 7, 1, map[string]string{"rule_id": "chronic-skip"}, analytics.WithSourceKey("alert-1"))
	require.NoError(t, err)
	assert.True(t, inserted)

	_, inserted, err = f.rec.Record(ctx, model.EventAlertGenerated, 7, 1, map[string]string{"rule_id": "chronic-skip"}, analytics.WithSourceKey("alert-1"))
	require.NoError(t, err)
	assert.False(t, inserted)

	all, err := f.events.ListByUser(ctx, 7)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestRecordKeepsAppendOrderWithinOneInstant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.task(t, 7)

	kinds := []model.EventKind{
		model.EventTaskCreated, model.EventTaskSkipped, model.EventTaskCompleted,
		model.EventTaskReopened, model.EventTaskSkipped, model.EventTaskCompleted,
	}
	for _, k := range kinds {
		_, _, err := f.rec.Record(ctx, k, 7, task.ID, map[string]string{})
		require.NoError(t, err)
	}

	byTask, err := f.events.ListByTask(ctx, 7, task.ID)
	require.NoError(t, err)
	byUser, err := f.events.ListByUser(ctx, 7)
	require.NoError(t, err)
	for _, got := range [][]model.AnalyticsEvent{byTask, byUser} {
		require.Len(t, got, len(kinds))
		for i, ev := range got {
			assert.True(t, ev.OccurredAt.Equal(now))
			assert.Equal(t, kinds[i], ev.Kind, "position %d", i)
		}
	}
}

func TestRecordRejectsMissingUser(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.rec.Record(context.Background(), model.EventTaskSkipped, 0, 1, nil)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestAttachRejectsInvalidFeedback(t *testing.T) {
	f := newFixture(t)
	task := f.task(t, 7)
	c := analytics.NewCorrelator(f.rec, f.tasks, false)

	cases := []analytics.FeedbackInput{
		{InterventionID: "a", TaskID: task.ID, Feedback: "great"},
		{InterventionID: "", TaskID: task.ID, Feedback: "positive"},
		{InterventionID: "a", TaskID: 0, Feedback: "positive"},
	}
	for _, in := range cases {
		_, err := c.Attach(context.Background(), 7, in)
		assert.True(t, apperr.Is(err, apperr.KindValidation), "input %+v", in)
	}

	events, err := f.events.ListByUser(context.Background(), 7)
	require.NoError(t, err)
	assert.Empty(t, events, "rejected feedback must not be recorded")
}

func TestAttachRequiresOwnedTask(t *testing.T) {
	f := newFixture(t)
	task := f.task(t, 7)
	c := analytics.NewCorrelator(f.rec, f.tasks, false)

	_, err := c.Attach(context.Background(), 8, analytics.FeedbackInput{InterventionID: "a", TaskID: task.ID, Feedback: "positive"})
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestAttachCorrelatesWithAlert(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.task(t, 7)

	alertID := "1c3c7f1e-8a55-5d2f-9d67-3f3c2d9a0b11"
	_, _, err := f.rec.Record(ctx, model.EventAlertGenerated, 7, task.ID, analytics.AlertGenerated{
		AlertID:  alertID,
		RuleID:   "chronic-skip",
		Severity: model.SeverityWarning,
	}, analytics.WithSourceKey(alertID), analytics.WithIntervention(alertID))
	require.NoError(t, err)

	f.clock.Advance(90 * time.Second)
	c := analytics.NewCorrelator(f.rec, f.tasks, true)
	fb, err := c.Attach(ctx, 7, analytics.FeedbackInput{InterventionID: alertID, TaskID: task.ID, Feedback: "negative"})
	require.NoError(t, err)
	assert.Equal(t, model.FeedbackNegative, fb.Value)
	assert.True(t, fb.InterventionTimestamp.Equal(now.Add(90*time.Second)), "missing timestamp defaults to now")

	got, err := f.events.ListByUser(ctx, 7, model.EventFeedbackReceived)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.NotNil(t, got[0].InterventionID)
	assert.Equal(t, alertID, *got[0].InterventionID)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(got[0].Payload, &payload))
	assert.Equal(t, "negative", payload["feedback"])
	assert.Equal(t, "chronic-skip", payload["rule_id"])
	assert.Equal(t, "warning", payload["severity"])
	assert.Contains(t, payload, "alert_generated_at")
}

func TestAttachCorrelatesWithTriggeredIntervention(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.task(t, 7)

	id := "int-1"
	_, _, err := f.rec.Record(ctx, model.EventInterventionTriggered, 7, task.ID, analytics.InterventionTriggered{
		InterventionID: id,
		RuleID:         "overdue-critical",
		Severity:       model.SeverityCritical,
	}, analytics.WithSourceKey(id), analytics.WithIntervention(id))
	require.NoError(t, err)

	c := analytics.NewCorrelator(f.rec, f.tasks, true)
	_, err = c.Attach(ctx, 7, analytics.FeedbackInput{InterventionID: id, TaskID: task.ID, Feedback: "positive"})
	require.NoError(t, err)

	got, err := f.events.ListByUser(ctx, 7, model.EventFeedbackReceived)
	require.NoError(t, err)
	require.Len(t, got, 1)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(got[0].Payload, &payload))
	assert.Equal(t, "overdue-critical", payload["rule_id"])
	assert.Equal(t, "critical", payload["severity"])
}

func TestAttachAppendsRepeatedFeedback(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.task(t, 7)
	c := analytics.NewCorrelator(f.rec, f.tasks, false)

	at := now.Add(-time.Hour)
	for _, v := range []string{"positive", "neutral"} {
		_, err := c.Attach(ctx, 7, analytics.FeedbackInput{InterventionID: "unknown", TaskID: task.ID, Feedback: v, InterventionTimestamp: &at})
		require.NoError(t, err)
	}

	got, err := f.events.ListByUser(ctx, 7, model.EventFeedbackReceived)
	require.NoError(t, err)
	require.Len(t, got, 2)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(got[1].Payload, &payload))
	assert.EqualValues(t, 3600, payload["time_to_feedback_seconds"])
	assert.NotContains(t, payload, "rule_id")
}

func TestAttachStrictRejectsUnknownIntervention(t *testing.T) {
	f := newFixture(t)
	task := f.task(t, 7)
	c := analytics.NewCorrelator(f.rec, f.tasks, true)

	_, err := c.Attach(context.Background(), 7, analytics.FeedbackInput{InterventionID: "nope", TaskID: task.ID, Feedback: "positive"})
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestTimeOfDay(t *testing.T) {
	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "night", analytics.TimeOfDay(day.Add(3*time.Hour)))
	assert.Equal(t, "morning", analytics.TimeOfDay(day.Add(8*time.Hour)))
	assert.Equal(t, "afternoon", analytics.TimeOfDay(day.Add(13*time.Hour)))
	assert.Equal(t, "evening", analytics.TimeOfDay(day.Add(19*time.Hour)))
	assert.Equal(t, "night", analytics.TimeOfDay(day.Add(22*time.Hour)))
}

func TestUntilDue(t *testing.T) {
	days, hours := analytics.UntilDue(nil, now)
	assert.Nil(t, days)
	assert.Nil(t, hours)

	due := now.Add(36 * time.Hour)
	days, hours = analytics.UntilDue(&due, now)
	require.NotNil(t, days)
	assert.InDelta(t, 1.5, *days, 1e-9)
	assert.InDelta(t, 36, *hours, 1e-9)
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("TEST_ANALYTICS_DSN")
	if dsn == "" {
		t.Skip("TEST_ANALYTICS_DSN not set")
	}
	ctx := context.Background()
	store, err := analytics.OpenPostgresStore(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	db := testutil.DB(t)
	tasks := repository.NewTaskRepository(db)
	task := model.Task{UserID: 9001, Title: "pg"}
	require.NoError(t, tasks.Create(ctx, &task))

	rec := analytics.NewRecorder(store, repository.NewSnapshotRepository(db), clock.NewManual(now))
	key := "pg-alert-" + time.Now().Format(time.RFC3339Nano)
	_, inserted, err := rec.Record(ctx, model.EventAlertGenerated, 9001, task.ID, analytics.AlertGenerated{AlertID: key, RuleID: "peer-anomaly"},
		analytics.WithSourceKey(key), analytics.WithIntervention(key))
	require.NoError(t, err)
	assert.True(t, inserted)

	_, inserted, err = rec.Record(ctx, model.EventAlertGenerated, 9001, task.ID, analytics.AlertGenerated{AlertID: key}, analytics.WithSourceKey(key))
	require.NoError(t, err)
	assert.False(t, inserted)

	found, err := store.FindIntervention(ctx, 9001, key)
	require.NoError(t, err)
	assert.Equal(t, 1, found.Snapshot.Data().TotalTasks)

	list, err := store.ListByUser(ctx, 9001, model.EventAlertGenerated)
	require.NoError(t, err)
	assert.NotEmpty(t, list)
}
