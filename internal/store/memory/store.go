package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	alarms "videomonitoring/internal/alarms/domain"
	"videomonitoring/internal/audit"
	billing "videomonitoring/internal/billing/domain"
	claims "videomonitoring/internal/claims/domain"
	"videomonitoring/internal/eventing"
	"videomonitoring/internal/store"
)

// Store is an in-process store. Each transaction works on a private copy of the
// state that replaces the shared state only on success, so a failed or cancelled
// unit of work leaves nothing behind. Transactions are serialized by one mutex.
type Store struct {
	mu sync.Mutex
	st *state

	transientFailures int
	auditHook         func(*audit.Entry) error
}

type outboxRow struct {
	id         string
	env        eventing.Envelope
	status     string
	attempts   int
	lastError  string
	createdAt  time.Time
	leaseOwner string
	leaseUntil time.Time
}

type state struct {
	accounts  map[string]billing.Account
	cameras   map[string]billing.Camera
	events    map[string]alarms.Event
	alarms    map[string]alarms.Alarm
	claims    map[string]claims.Claim
	audit     []audit.Entry
	lastAudit map[string]time.Time
	auditSeq  int64
	outbox    []outboxRow
}

// New constructs an empty store.
func New() *Store {
	return &Store{st: &state{
		accounts:  map[string]billing.Account{},
		cameras:   map[string]billing.Camera{},
		events:    map[string]alarms.Event{},
		alarms:    map[string]alarms.Alarm{},
		claims:    map[string]claims.Claim{},
		lastAudit: map[string]time.Time{},
	}}
}

// WithinTx implements store.Store.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if s.transientFailures > 0 {
		s.transientFailures--
		return fmt.Errorf("memory: injected failure: %w", store.ErrTransientStorage)
	}

	work := s.st.clone()
	if err := fn(ctx, &tx{st: work, auditHook: s.auditHook}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.st = work
	return nil
}

// FailTransactions makes the next n transactions fail with store.ErrTransientStorage before running.
func (s *Store) FailTransactions(n int) {
	s.mu.Lock()
	s.transientFailures = n
	s.mu.Unlock()
}

// SetAuditHook installs a hook run before every audit append; a non-nil error fails the append.
func (s *Store) SetAuditHook(hook func(*audit.Entry) error) {
	s.mu.Lock()
	s.auditHook = hook
	s.mu.Unlock()
}

// PutAccount inserts or replaces an account outside any transaction.
func (s *Store) PutAccount(a billing.Account) {
	s.mu.Lock()
	s.st.accounts[a.ID] = copyAccount(a)
	s.mu.Unlock()
}

// PutCamera inserts or replaces a camera outside any transaction.
func (s *Store) PutCamera(c billing.Camera) {
	s.mu.Lock()
	s.st.cameras[c.ID] = copyCamera(c)
	s.mu.Unlock()
}

// Account returns a committed account snapshot.
func (s *Store) Account(id string) (billing.Account, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.st.accounts[id]
	return copyAccount(a), ok
}

// Camera returns a committed camera snapshot.
func (s *Store) Camera(id string) (billing.Camera, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.st.cameras[id]
	return copyCamera(c), ok
}

// AuditEntries returns every committed audit entry in append order.
func (s *Store) AuditEntries() []audit.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audit.Entry, len(s.st.audit))
	copy(out, s.st.audit)
	return out
}

// EventCount returns the number of committed events.
func (s *Store) EventCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.st.events)
}

// ListPending implements eventing.OutboxStore.
func (s *Store) ListPending(_ context.Context, limit, maxAttempts int) ([]eventing.OutboxRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	var out []eventing.OutboxRecord
	for _, row := range s.st.outbox {
		if row.status == "sent" || (maxAttempts > 0 && row.attempts >= maxAttempts) {
			continue
		}
		out = append(out, eventing.OutboxRecord{ID: row.id, Envelope: row.env, Attempts: row.attempts})
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// ClaimPending implements eventing.OutboxStore.
func (s *Store) ClaimPending(_ context.Context, owner string, limit, maxAttempts int, lease time.Duration) ([]eventing.OutboxRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	now := time.Now()
	var out []eventing.OutboxRecord
	for i := range s.st.outbox {
		row := &s.st.outbox[i]
		if row.status == "sent" || (maxAttempts > 0 && row.attempts >= maxAttempts) {
			continue
		}
		if row.leaseOwner != "" && row.leaseOwner != owner && now.Before(row.leaseUntil) {
			continue
		}
		row.leaseOwner, row.leaseUntil = owner, now.Add(lease)
		out = append(out, eventing.OutboxRecord{ID: row.id, Envelope: row.env, Attempts: row.attempts})
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// MarkSent implements eventing.OutboxStore.
func (s *Store) MarkSent(_ context.Context, id string) error {
	return s.updateOutbox(id, func(row *outboxRow) {
		row.status = "sent"
		row.leaseOwner, row.leaseUntil = "", time.Time{}
	})
}

// MarkFailed implements eventing.OutboxStore.
func (s *Store) MarkFailed(_ context.Context, id string, cause error) error {
	return s.updateOutbox(id, func(row *outboxRow) {
		row.leaseOwner, row.leaseUntil = "", time.Time{}
		row.status = "failed"
		row.attempts++
		if cause != nil {
			row.lastError = cause.Error()
		}
	})
}

func (s *Store) updateOutbox(id string, apply func(*outboxRow)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.st.outbox {
		if s.st.outbox[i].id == id {
			apply(&s.st.outbox[i])
			return nil
		}
	}
	return store.ErrNotFound
}

func (st *state) clone() *state {
	out := &state{
		accounts:  make(map[string]billing.Account, len(st.accounts)),
		cameras:   make(map[string]billing.Camera, len(st.cameras)),
		events:    make(map[string]alarms.Event, len(st.events)),
		alarms:    make(map[string]alarms.Alarm, len(st.alarms)),
		claims:    make(map[string]claims.Claim, len(st.claims)),
		audit:     make([]audit.Entry, len(st.audit)),
		lastAudit: make(map[string]time.Time, len(st.lastAudit)),
		auditSeq:  st.auditSeq,
		outbox:    make([]outboxRow, len(st.outbox)),
	}
	for k, v := range st.accounts {
		out.accounts[k] = v
	}
	for k, v := range st.cameras {
		out.cameras[k] = v
	}
	for k, v := range st.events {
		out.events[k] = v
	}
	for k, v := range st.alarms {
		out.alarms[k] = v
	}
	for k, v := range st.claims {
		out.claims[k] = v
	}
	for k, v := range st.lastAudit {
		out.lastAudit[k] = v
	}
	copy(out.audit, st.audit)
	copy(out.outbox, st.outbox)
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
