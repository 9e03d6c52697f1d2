package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	billing "videomonitoring/internal/billing/domain"
)

const accountColumns = `id, name, monthly_event_count, warning_threshold, snooze_threshold,
	last_warning_sent_at, auto_snoozed_at, snoozed_until, allow_dismiss,
	billing_period_start, billing_period_end, notify_seq, updated_at`

// AccountRepository persists accounts.
type AccountRepository struct {
	db DBTX
}

// NewAccountRepository constructs a repository over db.
func NewAccountRepository(db DBTX) *AccountRepository {
	return &AccountRepository{db: db}
}

// Lock loads the account with FOR UPDATE.
func (r *AccountRepository) Lock(ctx context.Context, id string) (*billing.Account, error) {
	return r.get(ctx, id, " FOR UPDATE")
}

// Get loads the account without locking.
func (r *AccountRepository) Get(ctx context.Context, id string) (*billing.Account, error) {
	return r.get(ctx, id, "")
}

func (r *AccountRepository) get(ctx context.Context, id, suffix string) (*billing.Account, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("account repo: nil db")
	}
	query := fmt.Sprintf(`SELECT %s FROM accounts WHERE id = $1%s`, accountColumns, suffix)
	acct, err := scanAccount(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, scanErr(err, "account", id)
	}
	return acct, nil
}

// Save writes every mutable column.
func (r *AccountRepository) Save(ctx context.Context, a *billing.Account) error {
	if r == nil || r.db == nil {
		return errors.New("account repo: nil db")
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE accounts SET
	name = $2,
	monthly_event_count = $3,
	warning_threshold = $4,
	snooze_threshold = $5,
	last_warning_sent_at = $6,
	auto_snoozed_at = $7,
	snoozed_until = $8,
	allow_dismiss = $9,
	billing_period_start = $10,
	billing_period_end = $11,
	notify_seq = $12,
	updated_at = $13
WHERE id = $1`,
		a.ID, a.Name, a.MonthlyEventCount, nullInt(a.WarningThreshold), nullInt(a.SnoozeThreshold),
		nullTime(a.LastWarningSentAt), nullTime(a.AutoSnoozedAt), nullTime(a.SnoozedUntil), a.AllowDismiss,
		a.BillingPeriodStart.UTC(), a.BillingPeriodEnd.UTC(), a.NotifySeq, a.UpdatedAt.UTC())
	if err != nil {
		return err
	}
	return requireAffected(res, "account", a.ID)
}

// Insert creates an account row. Used by provisioning and tests.
func (r *AccountRepository) Insert(ctx context.Context, a *billing.Account) error {
	if r == nil || r.db == nil {
		return errors.New("account repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, fmt.Sprintf(`
INSERT INTO accounts (%s)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`, accountColumns),
		a.ID, a.Name, a.MonthlyEventCount, nullInt(a.WarningThreshold), nullInt(a.SnoozeThreshold),
		nullTime(a.LastWarningSentAt), nullTime(a.AutoSnoozedAt), nullTime(a.SnoozedUntil), a.AllowDismiss,
		a.BillingPeriodStart.UTC(), a.BillingPeriodEnd.UTC(), a.NotifySeq, a.UpdatedAt.UTC())
	return err
}

// ListIDs returns every account id in order.
func (r *AccountRepository) ListIDs(ctx context.Context) ([]string, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("account repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM accounts ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*billing.Account, error) {
	var (
		a                          billing.Account
		warning, snooze            sql.NullInt64
		lastWarning, auto, snoozed sql.NullTime
	)
	if err := row.Scan(&a.ID, &a.Name, &a.MonthlyEventCount, &warning, &snooze,
		&lastWarning, &auto, &snoozed, &a.AllowDismiss,
		&a.BillingPeriodStart, &a.BillingPeriodEnd, &a.NotifySeq, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.WarningThreshold = fromNullInt(warning)
	a.SnoozeThreshold = fromNullInt(snooze)
	a.LastWarningSentAt = fromNullTime(lastWarning)
	a.AutoSnoozedAt = fromNullTime(auto)
	a.SnoozedUntil = fromNullTime(snoozed)
	a.BillingPeriodStart = a.BillingPeriodStart.UTC()
	a.BillingPeriodEnd = a.BillingPeriodEnd.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return &a, nil
}
