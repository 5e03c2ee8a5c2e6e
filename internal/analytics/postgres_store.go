package analytics

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"gorm.io/datatypes"

	"taskpulse/internal/apperr"
	"taskpulse/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS analytics_events (
	id              UUID PRIMARY KEY,
	kind            TEXT NOT NULL,
	user_id         BIGINT NOT NULL,
	task_id         BIGINT NOT NULL DEFAULT 0,
	intervention_id TEXT NULL,
	source_key      TEXT NULL UNIQUE,
	payload         JSONB NOT NULL DEFAULT '{}'::jsonb,
	user_snapshot   JSONB NOT NULL DEFAULT '{}'::jsonb,
	occurred_at     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_analytics_events_user_kind ON analytics_events (user_id, kind);
CREATE INDEX IF NOT EXISTS idx_analytics_events_intervention ON analytics_events (intervention_id);
`

const selectColumns = `id, kind, user_id, task_id, intervention_id, payload, user_snapshot, occurred_at`

// PostgresStore keeps the event log in a dedicated Postgres database, separate from the task store.
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgresStore connects with lib/pq and creates the events table when missing.
func OpenPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open analytics db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping analytics db: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create analytics schema: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }

func (s *PostgresStore) Append(ctx context.Context, ev *model.AnalyticsEvent) (bool, error) {
	snap, err := json.Marshal(ev.Snapshot.Data())
	if err != nil {
		return false, apperr.New(apperr.KindInternal, "append event", err)
	}
	payload := []byte(ev.Payload)
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO analytics_events (
			id, kind, user_id, task_id, intervention_id, source_key, payload, user_snapshot, occurred_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8::jsonb, $9)
		ON CONFLICT (source_key) DO NOTHING
	`, ev.ID, string(ev.Kind), int64(ev.UserID), int64(ev.TaskID),
		nullable(ev.InterventionID), nullable(ev.SourceKey),
		string(payload), string(snap), ev.OccurredAt.UTC(),
	)
	if err != nil {
		return false, apperr.Dependency("append event", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperr.Dependency("append event", err)
	}
	return n > 0, nil
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID uint, kinds ...model.EventKind) ([]model.AnalyticsEvent, error) {
	if len(kinds) == 0 {
		return s.query(ctx, "list events", `
			SELECT `+selectColumns+` FROM analytics_events
			WHERE user_id = $1
			ORDER BY occurred_at ASC, id ASC
		`, int64(userID))
	}
	return s.query(ctx, "list events", `
		SELECT `+selectColumns+` FROM analytics_events
		WHERE user_id = $1 AND kind = ANY($2)
		ORDER BY occurred_at ASC, id ASC
	`, int64(userID), pq.Array(kindNames(kinds)))
}

func (s *PostgresStore) ListByTask(ctx context.Context, userID, taskID uint) ([]model.AnalyticsEvent, error) {
	return s.query(ctx, "list task events", `
		SELECT `+selectColumns+` FROM analytics_events
		WHERE user_id = $1 AND task_id = $2
		ORDER BY occurred_at ASC, id ASC
	`, int64(userID), int64(taskID))
}

func (s *PostgresStore) FindIntervention(ctx context.Context, userID uint, interventionID string) (*model.AnalyticsEvent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+selectColumns+` FROM analytics_events
		WHERE user_id = $1 AND intervention_id = $2 AND kind = ANY($3)
		ORDER BY occurred_at ASC
		LIMIT 1
	`, int64(userID), interventionID, pq.Array(kindNames(model.InterventionKinds)))

	ev, err := scanEvent(row)
	switch {
	case err == nil:
		return ev, nil
	case errors.Is(err, sql.ErrNoRows):
		return nil, apperr.NotFound("find intervention", "intervention %s not found", interventionID)
	default:
		return nil, apperr.Dependency("find intervention", err)
	}
}

func (s *PostgresStore) query(ctx context.Context, op, q string, args ...any) ([]model.AnalyticsEvent, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, apperr.Dependency(op, err)
	}
	defer rows.Close()

	var out []model.AnalyticsEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, apperr.Dependency(op, err)
		}
		out = append(out, *ev)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Dependency(op, err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(sc scanner) (*model.AnalyticsEvent, error) {
	var (
		ev             model.AnalyticsEvent
		kind           string
		userID, taskID int64
		intervention   sql.NullString
		payload, snap  []byte
	)
	if err := sc.Scan(&ev.ID, &kind, &userID, &taskID, &intervention, &payload, &snap, &ev.OccurredAt); err != nil {
		return nil, err
	}
	ev.Kind = model.EventKind(kind)
	ev.UserID = uint(userID)
	ev.TaskID = uint(taskID)
	if intervention.Valid {
		id := intervention.String
		ev.InterventionID = &id
	}
	ev.Payload = datatypes.JSON(payload)

	var us model.UserSnapshot
	if len(snap) > 0 {
		if err := json.Unmarshal(snap, &us); err != nil {
			return nil, fmt.Errorf("decode user snapshot: %w", err)
		}
	}
	ev.Snapshot = datatypes.NewJSONType(us)
	ev.OccurredAt = ev.OccurredAt.UTC()
	return &ev, nil
}

func kindNames(kinds []model.EventKind) []string {
	names := make([]string, 0, len(kinds))
	for _, k := range kinds {
		names = append(names, string(k))
	}
	return names
}

func nullable(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
