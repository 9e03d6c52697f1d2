package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	alarms "videomonitoring/internal/alarms/domain"
)

const alarmColumns = `id, account_id, event_id, related_event_ids, status, resolution, notes,
	created_by, created_at, held_by, held_at, unheld_by, unheld_at, hold_total_ms,
	resolved_by, resolved_at, updated_at`

// AlarmRepository persists alarms.
type AlarmRepository struct {
	db DBTX
}

// Create inserts a new alarm.
func (r *AlarmRepository) Create(ctx context.Context, a *alarms.Alarm) error {
	if r == nil || r.db == nil {
		return errors.New("alarm repo: nil db")
	}
	related, err := marshalStrings(a.RelatedEventIDs)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, fmt.Sprintf(`
INSERT INTO alarms (%s)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`, alarmColumns),
		a.ID, a.AccountID, a.EventID, related, string(a.Status), string(a.Resolution), a.Notes,
		a.CreatedBy, a.CreatedAt.UTC(), a.HeldBy, nullTime(a.HeldAt), a.UnheldBy, nullTime(a.UnheldAt),
		a.HoldTotal.Milliseconds(), a.ResolvedBy, nullTime(a.ResolvedAt), a.UpdatedAt.UTC())
	return err
}

// Get loads an alarm.
func (r *AlarmRepository) Get(ctx context.Context, id string) (*alarms.Alarm, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alarm repo: nil db")
	}
	a, err := scanAlarm(r.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM alarms WHERE id = $1`, alarmColumns), id))
	if err != nil {
		return nil, scanErr(err, "alarm", id)
	}
	return a, nil
}

// Update writes the alarm's lifecycle columns.
func (r *AlarmRepository) Update(ctx context.Context, a *alarms.Alarm) error {
	if r == nil || r.db == nil {
		return errors.New("alarm repo: nil db")
	}
	related, err := marshalStrings(a.RelatedEventIDs)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE alarms SET
	related_event_ids = $2,
	status = $3,
	resolution = $4,
	notes = $5,
	held_by = $6,
	held_at = $7,
	unheld_by = $8,
	unheld_at = $9,
	hold_total_ms = $10,
	resolved_by = $11,
	resolved_at = $12,
	updated_at = $13
WHERE id = $1`,
		a.ID, related, string(a.Status), string(a.Resolution), a.Notes,
		a.HeldBy, nullTime(a.HeldAt), a.UnheldBy, nullTime(a.UnheldAt), a.HoldTotal.Milliseconds(),
		a.ResolvedBy, nullTime(a.ResolvedAt), a.UpdatedAt.UTC())
	if err != nil {
		return err
	}
	return requireAffected(res, "alarm", a.ID)
}

// FindOpenByAccount returns the newest active or held alarm.
func (r *AlarmRepository) FindOpenByAccount(ctx context.Context, accountID string) (*alarms.Alarm, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alarm repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT %s FROM alarms
WHERE account_id = $1 AND status <> 'resolved'
ORDER BY created_at DESC
LIMIT 1`, alarmColumns)
	a, err := scanAlarm(r.db.QueryRowContext(ctx, query, accountID))
	if err != nil {
		return nil, scanErr(err, "open alarm for account", accountID)
	}
	return a, nil
}

func scanAlarm(row rowScanner) (*alarms.Alarm, error) {
	var (
		a                          alarms.Alarm
		related                    []byte
		status, resolution         string
		heldAt, unheldAt, resolved sql.NullTime
		holdMillis                 int64
	)
	if err := row.Scan(&a.ID, &a.AccountID, &a.EventID, &related, &status, &resolution, &a.Notes,
		&a.CreatedBy, &a.CreatedAt, &a.HeldBy, &heldAt, &a.UnheldBy, &unheldAt, &holdMillis,
		&a.ResolvedBy, &resolved, &a.UpdatedAt); err != nil {
		return nil, err
	}
	ids, err := unmarshalStrings(related)
	if err != nil {
		return nil, err
	}
	a.RelatedEventIDs = ids
	a.Status = alarms.AlarmStatus(status)
	a.Resolution = alarms.Resolution(resolution)
	a.HeldAt = fromNullTime(heldAt)
	a.UnheldAt = fromNullTime(unheldAt)
	a.ResolvedAt = fromNullTime(resolved)
	a.HoldTotal = time.Duration(holdMillis) * time.Millisecond
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return &a, nil
}
