package analytics

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"taskpulse/internal/apperr"
	"taskpulse/internal/clock"
	"taskpulse/internal/model"
)

// Store is the append-only event log. repository.EventRepository and PostgresStore both satisfy it.
type Store interface {
	Append(ctx context.Context, ev *model.AnalyticsEvent) (inserted bool, err error)
	ListByUser(ctx context.Context, userID uint, kinds ...model.EventKind) ([]model.AnalyticsEvent, error)
	ListByTask(ctx context.Context, userID, taskID uint) ([]model.AnalyticsEvent, error)
	FindIntervention(ctx context.Context, userID uint, interventionID string) (*model.AnalyticsEvent, error)
}

// SnapshotProvider computes the user aggregate attached to every event.
type SnapshotProvider interface {
	Snapshot(ctx context.Context, userID uint, now time.Time) (model.UserSnapshot, error)
}

// Option adjusts an event before it is appended.
type Option func(*model.AnalyticsEvent)

// WithSourceKey makes the append idempotent: a second event with the same key is dropped.
func WithSourceKey(key string) Option {
	return func(ev *model.AnalyticsEvent) {
		if key != "" {
			ev.SourceKey = &key
		}
	}
}

// WithIntervention links the event to an intervention (alert) id.
func WithIntervention(id string) Option {
	return func(ev *model.AnalyticsEvent) {
		if id != "" {
			ev.InterventionID = &id
		}
	}
}

// Recorder appends training events enriched with a user snapshot.
type Recorder struct {
	store Store
	snaps SnapshotProvider
	clock clock.Clock
}

func NewRecorder(store Store, snaps SnapshotProvider, clk clock.Clock) *Recorder {
	if clk == nil {
		clk = clock.System{}
	}
	return &Recorder{store: store, snaps: snaps, clock: clk}
}

func (r *Recorder) Store() Store { return r.store }

// Record captures the user's snapshot and appends one event. inserted is false when a source key
// deduplicated the write. Errors are returned as is; callers on mutation paths decide whether to swallow.
func (r *Recorder) Record(ctx context.Context, kind model.EventKind, userID, taskID uint, payload any, opts ...Option) (ev *model.AnalyticsEvent, inserted bool, err error) {
	if kind == "" {
		return nil, false, apperr.Validation("record event", "event kind is required")
	}
	if userID == 0 {
		return nil, false, apperr.Validation("record event", "user id is required")
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, false, apperr.New(apperr.KindInternal, "record event", err)
	}

	now := r.clock.Now()
	snap, err := r.snaps.Snapshot(ctx, userID, now)
	if err != nil {
		return nil, false, err
	}

	// v7 ids sort in creation order, so they break ties between events sharing a timestamp.
	id, err := uuid.NewV7()
	if err != nil {
		return nil, false, apperr.New(apperr.KindInternal, "record event", err)
	}
	ev = &model.AnalyticsEvent{
		ID:         id.String(),
		Kind:       kind,
		UserID:     userID,
		TaskID:     taskID,
		Payload:    datatypes.JSON(raw),
		Snapshot:   datatypes.NewJSONType(snap),
		OccurredAt: now,
	}
	for _, opt := range opts {
		opt(ev)
	}

	inserted, err = r.store.Append(ctx, ev)
	if err != nil {
		return nil, false, err
	}
	return ev, inserted, nil
}
