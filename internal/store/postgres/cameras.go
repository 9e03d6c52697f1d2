package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	billing "videomonitoring/internal/billing/domain"
)

const cameraColumns = `id, account_id, name, monthly_event_count, warning_threshold, snooze_threshold,
	last_warning_sent_at, auto_snoozed_at, snoozed_until, allow_dismiss, updated_at`

// CameraRepository persists cameras.
type CameraRepository struct {
	db DBTX
}

// NewCameraRepository constructs a repository over db.
func NewCameraRepository(db DBTX) *CameraRepository {
	return &CameraRepository{db: db}
}

// Get loads a camera.
func (r *CameraRepository) Get(ctx context.Context, id string) (*billing.Camera, error) {
	return r.get(ctx, id, "")
}

// Lock loads a camera with FOR UPDATE.
func (r *CameraRepository) Lock(ctx context.Context, id string) (*billing.Camera, error) {
	return r.get(ctx, id, " FOR UPDATE")
}

func (r *CameraRepository) get(ctx context.Context, id, suffix string) (*billing.Camera, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("camera repo: nil db")
	}
	query := fmt.Sprintf(`SELECT %s FROM cameras WHERE id = $1%s`, cameraColumns, suffix)
	cam, err := scanCamera(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, scanErr(err, "camera", id)
	}
	return cam, nil
}

// Save writes every mutable column.
func (r *CameraRepository) Save(ctx context.Context, c *billing.Camera) error {
	if r == nil || r.db == nil {
		return errors.New("camera repo: nil db")
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE cameras SET
	name = $2,
	monthly_event_count = $3,
	warning_threshold = $4,
	snooze_threshold = $5,
	last_warning_sent_at = $6,
	auto_snoozed_at = $7,
	snoozed_until = $8,
	allow_dismiss = $9,
	updated_at = $10
WHERE id = $1`,
		c.ID, c.Name, c.MonthlyEventCount, nullInt(c.WarningThreshold), nullInt(c.SnoozeThreshold),
		nullTime(c.LastWarningSentAt), nullTime(c.AutoSnoozedAt), nullTime(c.SnoozedUntil),
		nullBool(c.AllowDismiss), c.UpdatedAt.UTC())
	if err != nil {
		return err
	}
	return requireAffected(res, "camera", c.ID)
}

// Insert creates a camera row.
func (r *CameraRepository) Insert(ctx context.Context, c *billing.Camera) error {
	if r == nil || r.db == nil {
		return errors.New("camera repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, fmt.Sprintf(`
INSERT INTO cameras (%s)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`, cameraColumns),
		c.ID, c.AccountID, c.Name, c.MonthlyEventCount, nullInt(c.WarningThreshold), nullInt(c.SnoozeThreshold),
		nullTime(c.LastWarningSentAt), nullTime(c.AutoSnoozedAt), nullTime(c.SnoozedUntil),
		nullBool(c.AllowDismiss), c.UpdatedAt.UTC())
	return err
}

// ListByAccount returns the account's cameras ordered by id.
func (r *CameraRepository) ListByAccount(ctx context.Context, accountID string) ([]billing.Camera, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("camera repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`SELECT %s FROM cameras WHERE account_id = $1 ORDER BY id`, cameraColumns), accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []billing.Camera
	for rows.Next() {
		cam, err := scanCamera(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *cam)
	}
	return out, rows.Err()
}

func scanCamera(row rowScanner) (*billing.Camera, error) {
	var (
		c                          billing.Camera
		warning, snooze            sql.NullInt64
		lastWarning, auto, snoozed sql.NullTime
		allow                      sql.NullBool
	)
	if err := row.Scan(&c.ID, &c.AccountID, &c.Name, &c.MonthlyEventCount, &warning, &snooze,
		&lastWarning, &auto, &snoozed, &allow, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.WarningThreshold = fromNullInt(warning)
	c.SnoozeThreshold = fromNullInt(snooze)
	c.LastWarningSentAt = fromNullTime(lastWarning)
	c.AutoSnoozedAt = fromNullTime(auto)
	c.SnoozedUntil = fromNullTime(snoozed)
	c.AllowDismiss = fromNullBool(allow)
	c.UpdatedAt = c.UpdatedAt.UTC()
	return &c, nil
}
