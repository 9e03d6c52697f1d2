package store

import (
	"context"
	"errors"
	"time"

	alarms "videomonitoring/internal/alarms/domain"
	"videomonitoring/internal/audit"
	billing "videomonitoring/internal/billing/domain"
	claims "videomonitoring/internal/claims/domain"
	"videomonitoring/internal/eventing"
)

var (
	// ErrNotFound indicates a missing row.
	ErrNotFound = errors.New("store: not found")
	// ErrTransientStorage marks failures that may succeed when the whole transaction is re-run.
	ErrTransientStorage = errors.New("store: transient storage failure")
)

// Store runs account-scoped units of work.
type Store interface {
	// WithinTx runs fn in one transaction, committing iff fn returns nil.
	// fn may be invoked more than once when the store retries transient failures.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx exposes the repositories bound to one transaction.
type Tx interface {
	Accounts() AccountRepository
	Cameras() CameraRepository
	Events() EventRepository
	Alarms() AlarmRepository
	Claims() ClaimRepository
	Audit() AuditRepository
	Outbox() eventing.OutboxWriter
}

// AccountRepository persists accounts.
type AccountRepository interface {
	// Lock loads the account and holds its row lock until the transaction ends.
	// Every account-scoped operation locks the account before touching anything else.
	Lock(ctx context.Context, id string) (*billing.Account, error)
	Get(ctx context.Context, id string) (*billing.Account, error)
	Save(ctx context.Context, account *billing.Account) error
	ListIDs(ctx context.Context) ([]string, error)
}

// CameraRepository persists cameras.
type CameraRepository interface {
	Get(ctx context.Context, id string) (*billing.Camera, error)
	// Lock reloads the camera under a row lock. Call after locking its account.
	Lock(ctx context.Context, id string) (*billing.Camera, error)
	Save(ctx context.Context, camera *billing.Camera) error
	ListByAccount(ctx context.Context, accountID string) ([]billing.Camera, error)
}

// EventRepository persists events.
type EventRepository interface {
	Create(ctx context.Context, event *alarms.Event) error
	Get(ctx context.Context, id string) (*alarms.Event, error)
	Update(ctx context.Context, event *alarms.Event) error
	List(ctx context.Context, filter alarms.EventFilter) ([]alarms.Event, error)
}

// AlarmRepository persists alarms.
type AlarmRepository interface {
	Create(ctx context.Context, alarm *alarms.Alarm) error
	Get(ctx context.Context, id string) (*alarms.Alarm, error)
	Update(ctx context.Context, alarm *alarms.Alarm) error
	// FindOpenByAccount returns the most recent active or held alarm, or ErrNotFound.
	FindOpenByAccount(ctx context.Context, accountID string) (*alarms.Alarm, error)
}

// ClaimRepository persists account claims.
type ClaimRepository interface {
	// Get returns the claim row, expired or not, or ErrNotFound.
	Get(ctx context.Context, accountID string) (*claims.Claim, error)
	Upsert(ctx context.Context, claim *claims.Claim) error
	Delete(ctx context.Context, accountID string) error
	ListExpired(ctx context.Context, now time.Time, limit int) ([]claims.Claim, error)
}

// AuditRepository appends and reads audit entries.
type AuditRepository interface {
	audit.Writer
	Query(ctx context.Context, q audit.Query) (audit.Page, error)
}

type auditReader struct{ store Store }

// AuditReader exposes the audit trail of s as an audit.Reader. Each query runs in its own transaction.
func AuditReader(s Store) audit.Reader {
	return auditReader{store: s}
}

func (r auditReader) Query(ctx context.Context, q audit.Query) (audit.Page, error) {
	var page audit.Page
	err := r.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		page, err = tx.Audit().Query(ctx, q)
		return err
	})
	return page, err
}
