package application

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	alarms "videomonitoring/internal/alarms/domain"
	"videomonitoring/internal/audit"
	billing "videomonitoring/internal/billing/domain"
	claimsapp "videomonitoring/internal/claims/application"
	claims "videomonitoring/internal/claims/domain"
	"videomonitoring/internal/journal"
	"videomonitoring/internal/logger"
	"videomonitoring/internal/notify"
	"videomonitoring/internal/observability/metrics"
	"videomonitoring/internal/store"
)

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Service drives event triage and the alarm lifecycle.
type Service struct {
	store     store.Store
	publisher notify.Publisher
	clock     Clock
	logger    *zap.Logger
	newID     func() string
}

// ServiceOption customizes the alarm service.
type ServiceOption func(*Service)

// WithClock assigns a clock.
func WithClock(clock Clock) ServiceOption {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithPublisher assigns the notification publisher.
func WithPublisher(p notify.Publisher) ServiceOption {
	return func(s *Service) {
		if p != nil {
			s.publisher = p
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(l *zap.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger.OrNop(l)
	}
}

// WithIDGenerator overrides alarm id generation.
func WithIDGenerator(fn func() string) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// NewService constructs an alarm service.
func NewService(st store.Store, opts ...ServiceOption) (*Service, error) {
	if st == nil {
		return nil, errors.New("alarms: nil store")
	}
	s := &Service{
		store:     st,
		publisher: notify.NopPublisher{},
		clock:     systemClock{},
		logger:    zap.NewNop(),
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

type eventDetail struct {
	EventID  string             `json:"event_id"`
	CameraID string             `json:"camera_id"`
	Status   alarms.EventStatus `json:"status"`
	AlarmID  string             `json:"alarm_id,omitempty"`
}

type alarmDetail struct {
	AlarmID     string             `json:"alarm_id"`
	EventID     string             `json:"event_id"`
	Status      alarms.AlarmStatus `json:"status"`
	Resolution  alarms.Resolution  `json:"resolution,omitempty"`
	Notes       string             `json:"notes,omitempty"`
	HoldSeconds float64            `json:"hold_seconds,omitempty"`
	Related     []string           `json:"related_event_ids,omitempty"`
}

func detailOfEvent(ev *alarms.Event) eventDetail {
	return eventDetail{EventID: ev.ID, CameraID: ev.CameraID, Status: ev.Status, AlarmID: ev.AlarmID}
}

func detailOfAlarm(a *alarms.Alarm) alarmDetail {
	return alarmDetail{
		AlarmID:     a.ID,
		EventID:     a.EventID,
		Status:      a.Status,
		Resolution:  a.Resolution,
		Notes:       a.Notes,
		HoldSeconds: a.HoldTotal.Seconds(),
		Related:     a.RelatedEventIDs,
	}
}

// lockEvent locks the event's account and reloads the event under that lock.
func lockEvent(ctx context.Context, tx store.Tx, eventID string) (*billing.Account, *alarms.Event, error) {
	ev, err := tx.Events().Get(ctx, eventID)
	if err != nil {
		return nil, nil, err
	}
	acct, err := tx.Accounts().Lock(ctx, ev.AccountID)
	if err != nil {
		return nil, nil, err
	}
	ev, err = tx.Events().Get(ctx, eventID)
	if err != nil {
		return nil, nil, err
	}
	return acct, ev, nil
}

// lockAlarm locks the alarm's account and reloads the alarm under that lock.
func lockAlarm(ctx context.Context, tx store.Tx, alarmID string) (*billing.Account, *alarms.Alarm, error) {
	a, err := tx.Alarms().Get(ctx, alarmID)
	if err != nil {
		return nil, nil, err
	}
	acct, err := tx.Accounts().Lock(ctx, a.AccountID)
	if err != nil {
		return nil, nil, err
	}
	a, err = tx.Alarms().Get(ctx, alarmID)
	if err != nil {
		return nil, nil, err
	}
	return acct, a, nil
}

// Dismiss closes a pending event without escalation. No claim is needed, but a
// live claim held by another operator still blocks it.
func (s *Service) Dismiss(ctx context.Context, eventID, operator string) (*alarms.Event, error) {
	if operator == "" {
		return nil, claims.ErrInvalidOperator
	}
	var (
		j   journal.Journal
		out *alarms.Event
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		j.Reset()
		now := s.clock.Now()
		acct, ev, err := lockEvent(ctx, tx, eventID)
		if err != nil {
			return err
		}
		holder, live, err := claimsapp.LiveHolder(ctx, tx, acct.ID, now)
		if err != nil {
			return err
		}
		if holder != "" && holder != operator {
			return &claims.ConflictError{AccountID: acct.ID, Holder: holder, ExpiresAt: live.ExpiresAt}
		}
		cam, err := tx.Cameras().Get(ctx, ev.CameraID)
		if err != nil {
			return err
		}
		if !billing.EffectiveAllowDismiss(*cam, *acct) {
			return alarms.ErrDismissNotAllowed
		}
		if err := ev.Dismiss(operator, now); err != nil {
			return err
		}
		if err := tx.Events().Update(ctx, ev); err != nil {
			return err
		}
		subject := audit.Subject{CameraID: ev.CameraID, EventID: ev.ID}
		if err := j.Record(ctx, tx.Audit(), acct, subject, audit.ActionEventDismissed, operator, detailOfEvent(ev), now); err != nil {
			return err
		}
		out = ev
		return tx.Accounts().Save(ctx, acct)
	})
	if err != nil {
		s.logFailure("dismiss event", eventID, operator, err)
		return nil, err
	}
	s.committed(&j, audit.ActionEventDismissed)
	return out, nil
}

// EscalateResult reports the alarm an escalated event ended up in.
type EscalateResult struct {
	Alarm  *alarms.Alarm `json:"alarm"`
	Event  *alarms.Event `json:"event"`
	Linked bool          `json:"linked"`
}

// Escalate turns a pending event into a new alarm. When the account already has an
// open alarm the event is linked to it instead.
func (s *Service) Escalate(ctx context.Context, eventID, operator string) (EscalateResult, error) {
	var (
		j      journal.Journal
		result EscalateResult
		action audit.Action
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		j.Reset()
		now := s.clock.Now()
		acct, ev, err := lockEvent(ctx, tx, eventID)
		if err != nil {
			return err
		}
		if err := claimsapp.RequireHolder(ctx, tx, acct.ID, operator, now); err != nil {
			return err
		}

		open, err := tx.Alarms().FindOpenByAccount(ctx, acct.ID)
		switch {
		case err == nil:
			if err := open.LinkEvent(ev, operator, now); err != nil {
				return err
			}
			if err := tx.Alarms().Update(ctx, open); err != nil {
				return err
			}
			result = EscalateResult{Alarm: open, Event: ev, Linked: true}
			action = audit.ActionEventLinked
		case errors.Is(err, store.ErrNotFound):
			alarm, err := alarms.NewAlarm(s.newID(), ev, operator, now)
			if err != nil {
				return err
			}
			if err := tx.Alarms().Create(ctx, alarm); err != nil {
				return err
			}
			result = EscalateResult{Alarm: alarm, Event: ev}
			action = audit.ActionEventEscalated
		default:
			return err
		}
		if err := tx.Events().Update(ctx, ev); err != nil {
			return err
		}
		subject := audit.Subject{CameraID: ev.CameraID, EventID: ev.ID, AlarmID: result.Alarm.ID}
		if err := j.Record(ctx, tx.Audit(), acct, subject, action, operator, detailOfEvent(ev), now); err != nil {
			return err
		}
		return tx.Accounts().Save(ctx, acct)
	})
	if err != nil {
		s.logFailure("escalate event", eventID, operator, err)
		return EscalateResult{}, err
	}
	s.committed(&j, action)
	return result, nil
}

// Link attaches a pending event to an open alarm of the same account.
func (s *Service) Link(ctx context.Context, alarmID, eventID, operator string) (*alarms.Alarm, error) {
	var (
		j   journal.Journal
		out *alarms.Alarm
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		j.Reset()
		now := s.clock.Now()
		acct, alarm, err := lockAlarm(ctx, tx, alarmID)
		if err != nil {
			return err
		}
		if err := claimsapp.RequireHolder(ctx, tx, acct.ID, operator, now); err != nil {
			return err
		}
		ev, err := tx.Events().Get(ctx, eventID)
		if err != nil {
			return err
		}
		if err := alarm.LinkEvent(ev, operator, now); err != nil {
			return err
		}
		if err := tx.Alarms().Update(ctx, alarm); err != nil {
			return err
		}
		if err := tx.Events().Update(ctx, ev); err != nil {
			return err
		}
		subject := audit.Subject{CameraID: ev.CameraID, EventID: ev.ID, AlarmID: alarm.ID}
		if err := j.Record(ctx, tx.Audit(), acct, subject, audit.ActionEventLinked, operator, detailOfEvent(ev), now); err != nil {
			return err
		}
		out = alarm
		return tx.Accounts().Save(ctx, acct)
	})
	if err != nil {
		s.logFailure("link event", alarmID, operator, err)
		return nil, err
	}
	s.committed(&j, audit.ActionEventLinked)
	return out, nil
}

// Hold pauses an active alarm.
func (s *Service) Hold(ctx context.Context, alarmID, operator string) (*alarms.Alarm, error) {
	return s.transition(ctx, alarmID, operator, audit.ActionAlarmHeld, func(a *alarms.Alarm, now time.Time) error {
		return a.Hold(operator, now)
	})
}

// Unhold returns a held alarm to active.
func (s *Service) Unhold(ctx context.Context, alarmID, operator string) (*alarms.Alarm, error) {
	return s.transition(ctx, alarmID, operator, audit.ActionAlarmUnheld, func(a *alarms.Alarm, now time.Time) error {
		return a.Unhold(operator, now)
	})
}

// Resolve closes an alarm with a resolution code and optional notes.
func (s *Service) Resolve(ctx context.Context, alarmID, operator, code, notes string) (*alarms.Alarm, error) {
	resolution, err := alarms.ParseResolution(code)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, alarmID, operator, audit.ActionAlarmResolved, func(a *alarms.Alarm, now time.Time) error {
		return a.Resolve(resolution, notes, operator, now)
	})
}

func (s *Service) transition(ctx context.Context, alarmID, operator string, action audit.Action, apply func(*alarms.Alarm, time.Time) error) (*alarms.Alarm, error) {
	var (
		j   journal.Journal
		out *alarms.Alarm
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		j.Reset()
		now := s.clock.Now()
		acct, alarm, err := lockAlarm(ctx, tx, alarmID)
		if err != nil {
			return err
		}
		if err := claimsapp.RequireHolder(ctx, tx, acct.ID, operator, now); err != nil {
			return err
		}
		if err := apply(alarm, now); err != nil {
			return err
		}
		if err := tx.Alarms().Update(ctx, alarm); err != nil {
			return err
		}
		if err := j.Record(ctx, tx.Audit(), acct, audit.Subject{AlarmID: alarm.ID}, action, operator, detailOfAlarm(alarm), now); err != nil {
			return err
		}
		out = alarm
		return tx.Accounts().Save(ctx, acct)
	})
	if err != nil {
		s.logFailure(string(action), alarmID, operator, err)
		return nil, err
	}
	s.committed(&j, action)
	return out, nil
}

func (s *Service) committed(j *journal.Journal, action audit.Action) {
	metrics.IncTransition(string(action))
	j.Publish(s.publisher)
}

func (s *Service) logFailure(op, id, operator string, err error) {
	fields := []zap.Field{zap.String("id", id), zap.String("operator", operator), zap.Error(err)}
	switch {
	case errors.Is(err, store.ErrTransientStorage):
		s.logger.Error(op, fields...)
	case errors.Is(err, claims.ErrClaimConflict),
		errors.Is(err, alarms.ErrInvalidStateTransition),
		errors.Is(err, alarms.ErrDismissNotAllowed):
		s.logger.Warn(op, fields...)
	default:
		s.logger.Debug(op, fields...)
	}
}
