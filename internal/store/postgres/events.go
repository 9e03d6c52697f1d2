package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	alarms "videomonitoring/internal/alarms/domain"
)

const eventColumns = `id, camera_id, account_id, received_at, media_refs, status, alarm_id,
	dismissed_by, dismissed_at, escalated_by, escalated_at, created_at`

// EventRepository persists events.
type EventRepository struct {
	db DBTX
}

// Create inserts a new event.
func (r *EventRepository) Create(ctx context.Context, e *alarms.Event) error {
	if r == nil || r.db == nil {
		return errors.New("event repo: nil db")
	}
	media, err := marshalStrings(e.MediaRefs)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, fmt.Sprintf(`
INSERT INTO events (%s)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`, eventColumns),
		e.ID, e.CameraID, e.AccountID, e.ReceivedAt.UTC(), media, string(e.Status), nullString(e.AlarmID),
		e.DismissedBy, nullTime(e.DismissedAt), e.EscalatedBy, nullTime(e.EscalatedAt), e.CreatedAt.UTC())
	return err
}

// Get loads an event.
func (r *EventRepository) Get(ctx context.Context, id string) (*alarms.Event, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("event repo: nil db")
	}
	ev, err := scanEvent(r.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM events WHERE id = $1`, eventColumns), id))
	if err != nil {
		return nil, scanErr(err, "event", id)
	}
	return ev, nil
}

// Update writes the event's lifecycle columns.
func (r *EventRepository) Update(ctx context.Context, e *alarms.Event) error {
	if r == nil || r.db == nil {
		return errors.New("event repo: nil db")
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE events SET
	status = $2,
	alarm_id = $3,
	dismissed_by = $4,
	dismissed_at = $5,
	escalated_by = $6,
	escalated_at = $7
WHERE id = $1`,
		e.ID, string(e.Status), nullString(e.AlarmID), e.DismissedBy, nullTime(e.DismissedAt),
		e.EscalatedBy, nullTime(e.EscalatedAt))
	if err != nil {
		return err
	}
	return requireAffected(res, "event", e.ID)
}

// List returns events matching the filter, newest first.
func (r *EventRepository) List(ctx context.Context, f alarms.EventFilter) ([]alarms.Event, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("event repo: nil db")
	}
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if f.AccountID != "" {
		add("account_id = $%d", f.AccountID)
	}
	if f.CameraID != "" {
		add("camera_id = $%d", f.CameraID)
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	query := fmt.Sprintf(`SELECT %s FROM events`, eventColumns)
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY received_at DESC, id"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []alarms.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ev)
	}
	return out, rows.Err()
}

func scanEvent(row rowScanner) (*alarms.Event, error) {
	var (
		e                     alarms.Event
		media                 []byte
		status                string
		alarmID               sql.NullString
		dismissedAt, escalate sql.NullTime
	)
	if err := row.Scan(&e.ID, &e.CameraID, &e.AccountID, &e.ReceivedAt, &media, &status, &alarmID,
		&e.DismissedBy, &dismissedAt, &e.EscalatedBy, &escalate, &e.CreatedAt); err != nil {
		return nil, err
	}
	refs, err := unmarshalStrings(media)
	if err != nil {
		return nil, err
	}
	e.MediaRefs = refs
	e.Status = alarms.EventStatus(status)
	e.AlarmID = alarmID.String
	e.DismissedAt = fromNullTime(dismissedAt)
	e.EscalatedAt = fromNullTime(escalate)
	e.ReceivedAt = e.ReceivedAt.UTC()
	e.CreatedAt = e.CreatedAt.UTC()
	return &e, nil
}

func marshalStrings(values []string) ([]byte, error) {
	if values == nil {
		values = []string{}
	}
	return json.Marshal(values)
}

func unmarshalStrings(raw []byte) ([]string, error) {
	out := []string{}
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
