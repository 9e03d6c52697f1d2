package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	alarms "videomonitoring/internal/alarms/domain"
	"videomonitoring/internal/audit"
	billing "videomonitoring/internal/billing/domain"
	claims "videomonitoring/internal/claims/domain"
	"videomonitoring/internal/eventing"
	"videomonitoring/internal/store"
)

type tx struct {
	st        *state
	auditHook func(*audit.Entry) error
}

func (t *tx) Accounts() store.AccountRepository { return accountRepo{t.st} }
func (t *tx) Cameras() store.CameraRepository   { return cameraRepo{t.st} }
func (t *tx) Events() store.EventRepository     { return eventRepo{t.st} }
func (t *tx) Alarms() store.AlarmRepository     { return alarmRepo{t.st} }
func (t *tx) Claims() store.ClaimRepository     { return claimRepo{t.st} }
func (t *tx) Audit() store.AuditRepository      { return auditRepo{st: t.st, hook: t.auditHook} }
func (t *tx) Outbox() eventing.OutboxWriter     { return outboxRepo{t.st} }

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, store.ErrNotFound)
}

type accountRepo struct{ st *state }

func (r accountRepo) Lock(ctx context.Context, id string) (*billing.Account, error) {
	return r.Get(ctx, id)
}

func (r accountRepo) Get(_ context.Context, id string) (*billing.Account, error) {
	a, ok := r.st.accounts[id]
	if !ok {
		return nil, notFound("account", id)
	}
	out := copyAccount(a)
	return &out, nil
}

func (r accountRepo) Save(_ context.Context, a *billing.Account) error {
	if _, ok := r.st.accounts[a.ID]; !ok {
		return notFound("account", a.ID)
	}
	r.st.accounts[a.ID] = copyAccount(*a)
	return nil
}

func (r accountRepo) ListIDs(context.Context) ([]string, error) {
	return sortedKeys(r.st.accounts), nil
}

type cameraRepo struct{ st *state }

func (r cameraRepo) Get(_ context.Context, id string) (*billing.Camera, error) {
	c, ok := r.st.cameras[id]
	if !ok {
		return nil, notFound("camera", id)
	}
	out := copyCamera(c)
	return &out, nil
}

func (r cameraRepo) Lock(ctx context.Context, id string) (*billing.Camera, error) {
	return r.Get(ctx, id)
}

func (r cameraRepo) Save(_ context.Context, c *billing.Camera) error {
	if _, ok := r.st.cameras[c.ID]; !ok {
		return notFound("camera", c.ID)
	}
	r.st.cameras[c.ID] = copyCamera(*c)
	return nil
}

func (r cameraRepo) ListByAccount(_ context.Context, accountID string) ([]billing.Camera, error) {
	var out []billing.Camera
	for _, id := range sortedKeys(r.st.cameras) {
		if c := r.st.cameras[id]; c.AccountID == accountID {
			out = append(out, copyCamera(c))
		}
	}
	return out, nil
}

type eventRepo struct{ st *state }

func (r eventRepo) Create(_ context.Context, e *alarms.Event) error {
	if _, ok := r.st.events[e.ID]; ok {
		return fmt.Errorf("memory: duplicate event %s", e.ID)
	}
	r.st.events[e.ID] = copyEvent(*e)
	return nil
}

func (r eventRepo) Get(_ context.Context, id string) (*alarms.Event, error) {
	e, ok := r.st.events[id]
	if !ok {
		return nil, notFound("event", id)
	}
	out := copyEvent(e)
	return &out, nil
}

func (r eventRepo) Update(_ context.Context, e *alarms.Event) error {
	if _, ok := r.st.events[e.ID]; !ok {
		return notFound("event", e.ID)
	}
	r.st.events[e.ID] = copyEvent(*e)
	return nil
}

func (r eventRepo) List(_ context.Context, f alarms.EventFilter) ([]alarms.Event, error) {
	var out []alarms.Event
	for _, e := range r.st.events {
		if f.AccountID != "" && e.AccountID != f.AccountID {
			continue
		}
		if f.CameraID != "" && e.CameraID != f.CameraID {
			continue
		}
		if f.Status != "" && e.Status != f.Status {
			continue
		}
		out = append(out, copyEvent(e))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ReceivedAt.Equal(out[j].ReceivedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ReceivedAt.After(out[j].ReceivedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

type alarmRepo struct{ st *state }

func (r alarmRepo) Create(_ context.Context, a *alarms.Alarm) error {
	if _, ok := r.st.alarms[a.ID]; ok {
		return fmt.Errorf("memory: duplicate alarm %s", a.ID)
	}
	r.st.alarms[a.ID] = copyAlarm(*a)
	return nil
}

func (r alarmRepo) Get(_ context.Context, id string) (*alarms.Alarm, error) {
	a, ok := r.st.alarms[id]
	if !ok {
		return nil, notFound("alarm", id)
	}
	out := copyAlarm(a)
	return &out, nil
}

func (r alarmRepo) Update(_ context.Context, a *alarms.Alarm) error {
	if _, ok := r.st.alarms[a.ID]; !ok {
		return notFound("alarm", a.ID)
	}
	r.st.alarms[a.ID] = copyAlarm(*a)
	return nil
}

func (r alarmRepo) FindOpenByAccount(_ context.Context, accountID string) (*alarms.Alarm, error) {
	var found *alarms.Alarm
	for _, a := range r.st.alarms {
		if a.AccountID != accountID || !a.Open() {
			continue
		}
		if found == nil || a.CreatedAt.After(found.CreatedAt) {
			c := copyAlarm(a)
			found = &c
		}
	}
	if found == nil {
		return nil, notFound("open alarm for account", accountID)
	}
	return found, nil
}

type claimRepo struct{ st *state }

func (r claimRepo) Get(_ context.Context, accountID string) (*claims.Claim, error) {
	c, ok := r.st.claims[accountID]
	if !ok {
		return nil, notFound("claim", accountID)
	}
	return &c, nil
}

func (r claimRepo) Upsert(_ context.Context, c *claims.Claim) error {
	r.st.claims[c.AccountID] = *c
	return nil
}

func (r claimRepo) Delete(_ context.Context, accountID string) error {
	delete(r.st.claims, accountID)
	return nil
}

func (r claimRepo) ListExpired(_ context.Context, now time.Time, limit int) ([]claims.Claim, error) {
	var out []claims.Claim
	for _, id := range sortedKeys(r.st.claims) {
		c := r.st.claims[id]
		if c.Live(now) {
			continue
		}
		out = append(out, c)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

type auditRepo struct {
	st   *state
	hook func(*audit.Entry) error
}

func (r auditRepo) Append(_ context.Context, e *audit.Entry) error {
	if r.hook != nil {
		if err := r.hook(e); err != nil {
			return err
		}
	}
	if e.ID == "" {
		e.ID = audit.NewID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC().Truncate(time.Microsecond)
	}
	if last, ok := r.st.lastAudit[e.AccountID]; ok && !e.CreatedAt.After(last) {
		e.CreatedAt = last.Add(time.Microsecond)
	}
	r.st.auditSeq++
	e.Seq = r.st.auditSeq
	r.st.lastAudit[e.AccountID] = e.CreatedAt
	r.st.audit = append(r.st.audit, *e)
	return nil
}

func (r auditRepo) Query(_ context.Context, q audit.Query) (audit.Page, error) {
	var matched []audit.Entry
	for _, e := range r.st.audit {
		if !q.Matches(e) {
			continue
		}
		if q.After != nil && !q.After.Before(e) {
			continue
		}
		matched = append(matched, e)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].Seq < matched[j].Seq
		}
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})
	limit := q.NormalizedLimit()
	page := audit.Page{Entries: matched}
	if len(matched) > limit {
		page.Entries = matched[:limit]
		page.NextCursor = audit.CursorFor(matched[limit-1]).Encode()
	}
	if page.Entries == nil {
		page.Entries = []audit.Entry{}
	}
	return page, nil
}

type outboxRepo struct{ st *state }

func (r outboxRepo) Insert(_ context.Context, env eventing.Envelope) (string, error) {
	id := eventing.NewEventID()
	r.st.outbox = append(r.st.outbox, outboxRow{id: id, env: env, status: "pending", createdAt: time.Now().UTC()})
	return id, nil
}

func copyAccount(a billing.Account) billing.Account {
	a.WarningThreshold = copyInt(a.WarningThreshold)
	a.SnoozeThreshold = copyInt(a.SnoozeThreshold)
	return a
}

func copyCamera(c billing.Camera) billing.Camera {
	c.WarningThreshold = copyInt(c.WarningThreshold)
	c.SnoozeThreshold = copyInt(c.SnoozeThreshold)
	if c.AllowDismiss != nil {
		v := *c.AllowDismiss
		c.AllowDismiss = &v
	}
	return c
}

func copyInt(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func copyEvent(e alarms.Event) alarms.Event {
	e.MediaRefs = append([]string(nil), e.MediaRefs...)
	return e
}

func copyAlarm(a alarms.Alarm) alarms.Alarm {
	a.RelatedEventIDs = append([]string{}, a.RelatedEventIDs...)
	return a
}
