package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	alarms "videomonitoring/internal/alarms/domain"
	"videomonitoring/internal/audit"
	billing "videomonitoring/internal/billing/domain"
	"videomonitoring/internal/eventing"
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

// Service runs signal admission, threshold management and the monthly reset.
type Service struct {
	store     store.Store
	publisher notify.Publisher
	clock     Clock
	logger    *zap.Logger
	location  *time.Location
	newID     func() string
	kick      func()
}

// ServiceOption customizes the billing service.
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

// WithLocation sets the time zone billing periods are computed in.
func WithLocation(loc *time.Location) ServiceOption {
	return func(s *Service) {
		if loc != nil {
			s.location = loc
		}
	}
}

// WithIDGenerator overrides event id generation.
func WithIDGenerator(fn func() string) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// WithTriggerKick registers a callback run after a signal committed new triggers,
// typically the outbox dispatcher's Kick.
func WithTriggerKick(fn func()) ServiceOption {
	return func(s *Service) {
		s.kick = fn
	}
}

// NewService constructs a billing service.
func NewService(st store.Store, opts ...ServiceOption) (*Service, error) {
	if st == nil {
		return nil, errors.New("billing: nil store")
	}
	s := &Service{
		store:     st,
		publisher: notify.NopPublisher{},
		clock:     systemClock{},
		logger:    zap.NewNop(),
		location:  time.UTC,
		newID:     func() string { return "ev-" + uuid.NewString() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Signal is one observation handed over by the ingestion adapter.
type Signal struct {
	CameraID   string    `json:"camera_id"`
	ReceivedAt time.Time `json:"timestamp"`
	MediaRefs  []string  `json:"media_refs"`
}

// SignalResult reports the admission outcome.
type SignalResult struct {
	Accepted  bool                 `json:"accepted"`
	EventID   string               `json:"event_id,omitempty"`
	Reason    billing.RejectReason `json:"reason,omitempty"`
	Crossings []billing.Crossing   `json:"triggers,omitempty"`
}

// Rejection returns a billing.ErrAdmissionRejected error for rejected results, nil otherwise.
func (r SignalResult) Rejection() error {
	if r.Accepted {
		return nil
	}
	return fmt.Errorf("%w: %s", billing.ErrAdmissionRejected, r.Reason)
}

type signalDetail struct {
	CameraID     string               `json:"camera_id"`
	EventID      string               `json:"event_id,omitempty"`
	ReceivedAt   time.Time            `json:"received_at"`
	Reason       billing.RejectReason `json:"reason,omitempty"`
	CameraCount  int64                `json:"camera_count"`
	AccountCount int64                `json:"account_count"`
	Triggers     []billing.Crossing   `json:"triggers,omitempty"`
}

// SubmitSignal admits or rejects one signal in a single account-scoped transaction.
func (s *Service) SubmitSignal(ctx context.Context, sig Signal) (SignalResult, error) {
	if sig.CameraID == "" {
		return SignalResult{}, errors.New("billing: camera id required")
	}
	started := time.Now()
	var (
		result SignalResult
		j      journal.Journal
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		j.Reset()
		result = SignalResult{}
		now := s.clock.Now()
		receivedAt := sig.ReceivedAt
		if receivedAt.IsZero() {
			receivedAt = now
		}

		acct, cam, err := lockCamera(ctx, tx, sig.CameraID)
		if err != nil {
			return err
		}

		if reason, ok := billing.CheckAdmission(*cam, *acct, now); !ok {
			result.Reason = reason
			detail := signalDetail{CameraID: cam.ID, ReceivedAt: receivedAt, Reason: reason, CameraCount: cam.MonthlyEventCount, AccountCount: acct.MonthlyEventCount}
			if err := j.Record(ctx, tx.Audit(), acct, audit.Subject{CameraID: cam.ID}, audit.ActionSignalRejected, audit.ActorIngest, detail, now); err != nil {
				return err
			}
			return tx.Accounts().Save(ctx, acct)
		}

		crossings := billing.RecordSignal(cam, acct, now)
		ev := alarms.NewEvent(s.newID(), cam.ID, acct.ID, receivedAt, sig.MediaRefs, now)
		if err := tx.Events().Create(ctx, ev); err != nil {
			return err
		}
		for _, c := range crossings {
			if err := enqueueTrigger(ctx, tx, acct.ID, c); err != nil {
				return err
			}
		}
		detail := signalDetail{CameraID: cam.ID, EventID: ev.ID, ReceivedAt: receivedAt, CameraCount: cam.MonthlyEventCount, AccountCount: acct.MonthlyEventCount, Triggers: crossings}
		if err := j.Record(ctx, tx.Audit(), acct, audit.Subject{CameraID: cam.ID, EventID: ev.ID}, audit.ActionSignalAccepted, audit.ActorIngest, detail, now); err != nil {
			return err
		}
		if err := tx.Cameras().Save(ctx, cam); err != nil {
			return err
		}
		if err := tx.Accounts().Save(ctx, acct); err != nil {
			return err
		}
		result = SignalResult{Accepted: true, EventID: ev.ID, Crossings: crossings}
		return nil
	})
	if err != nil {
		metrics.ObserveSignal(metrics.ResultError, time.Since(started))
		return SignalResult{}, err
	}

	j.Publish(s.publisher)
	if result.Accepted {
		metrics.ObserveSignal("accepted", time.Since(started))
		if len(result.Crossings) > 0 && s.kick != nil {
			s.kick()
		}
		for _, c := range result.Crossings {
			metrics.IncTrigger(string(c.Kind), string(c.Entity.Type))
			s.logger.Info("billing threshold crossed",
				zap.String("kind", string(c.Kind)), zap.String("entity_type", string(c.Entity.Type)),
				zap.String("entity_id", c.Entity.ID), zap.Int64("count", c.Count), zap.Int64("threshold", c.Threshold))
		}
	} else {
		metrics.ObserveSignal("rejected", time.Since(started))
		s.logger.Warn("signal rejected", zap.String("camera_id", sig.CameraID), zap.String("reason", string(result.Reason)))
	}
	return result, nil
}

func enqueueTrigger(ctx context.Context, tx store.Tx, accountID string, c billing.Crossing) error {
	trigger := eventing.Trigger{
		Kind:       string(c.Kind),
		EntityType: string(c.Entity.Type),
		EntityID:   c.Entity.ID,
		AccountID:  accountID,
		Count:      c.Count,
		Threshold:  c.Threshold,
		OccurredAt: c.OccurredAt,
	}
	meta := eventing.MetaFromContext(ctx, accountID)
	meta.OccurredAt = c.OccurredAt
	env, err := eventing.BuildEnvelope(trigger.EventType(), trigger, meta)
	if err != nil {
		return err
	}
	_, err = tx.Outbox().Insert(ctx, env)
	return err
}

// lockCamera locks the camera's account and then the camera.
func lockCamera(ctx context.Context, tx store.Tx, cameraID string) (*billing.Account, *billing.Camera, error) {
	cam, err := tx.Cameras().Get(ctx, cameraID)
	if err != nil {
		return nil, nil, err
	}
	acct, err := tx.Accounts().Lock(ctx, cam.AccountID)
	if err != nil {
		return nil, nil, err
	}
	cam, err = tx.Cameras().Lock(ctx, cameraID)
	if err != nil {
		return nil, nil, err
	}
	return acct, cam, nil
}

// entityTx loads and locks the entity named by ref. cam is nil for account refs.
func entityTx(ctx context.Context, tx store.Tx, ref billing.EntityRef) (*billing.Account, *billing.Camera, error) {
	switch ref.Type {
	case billing.EntityAccount:
		acct, err := tx.Accounts().Lock(ctx, ref.ID)
		return acct, nil, err
	case billing.EntityCamera:
		return lockCamera(ctx, tx, ref.ID)
	default:
		return nil, nil, fmt.Errorf("%w: %q", billing.ErrUnknownEntity, ref.Type)
	}
}

func subjectFor(ref billing.EntityRef) audit.Subject {
	if ref.Type == billing.EntityCamera {
		return audit.Subject{CameraID: ref.ID}
	}
	return audit.Subject{}
}

type thresholdDetail struct {
	Entity       billing.EntityRef  `json:"entity"`
	Thresholds   billing.Thresholds `json:"thresholds"`
	Count        int64              `json:"count"`
	WasSnoozed   bool               `json:"was_auto_snoozed,omitempty"`
	SnoozedUntil *time.Time         `json:"snoozed_until,omitempty"`
	Released     []string           `json:"released_cameras,omitempty"`
}

// SetThresholds stores new thresholds for an account or camera. Nil camera values inherit.
func (s *Service) SetThresholds(ctx context.Context, ref billing.EntityRef, th billing.Thresholds, actor string) error {
	var j journal.Journal
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		j.Reset()
		now := s.clock.Now()
		acct, cam, err := entityTx(ctx, tx, ref)
		if err != nil {
			return err
		}
		detail := thresholdDetail{Entity: ref, Thresholds: th}
		if cam != nil {
			if err := cam.SetThresholds(th, now); err != nil {
				return err
			}
			detail.Count = cam.MonthlyEventCount
			if err := tx.Cameras().Save(ctx, cam); err != nil {
				return err
			}
		} else {
			if err := acct.SetThresholds(th, now); err != nil {
				return err
			}
			detail.Count = acct.MonthlyEventCount
		}
		if err := j.Record(ctx, tx.Audit(), acct, subjectFor(ref), audit.ActionThresholdsSet, actor, detail, now); err != nil {
			return err
		}
		return tx.Accounts().Save(ctx, acct)
	})
	if err != nil {
		return err
	}
	j.Publish(s.publisher)
	return nil
}

// Unsnooze raises thresholds above the current count and clears auto-snooze.
// It fails with billing.ErrInvalidThresholdTransition, leaving state unchanged, when either value does not exceed the count.
func (s *Service) Unsnooze(ctx context.Context, ref billing.EntityRef, warning, snooze int64, actor string) error {
	var j journal.Journal
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		j.Reset()
		now := s.clock.Now()
		acct, cam, err := entityTx(ctx, tx, ref)
		if err != nil {
			return err
		}
		detail := thresholdDetail{Entity: ref, Thresholds: billing.Thresholds{Warning: billing.Int64(warning), Snooze: billing.Int64(snooze)}}
		if cam != nil {
			detail.Count, detail.WasSnoozed = cam.MonthlyEventCount, cam.AutoSnoozed()
			if err := cam.Unsnooze(warning, snooze, now); err != nil {
				return err
			}
			if err := tx.Cameras().Save(ctx, cam); err != nil {
				return err
			}
		} else {
			detail.Count, detail.WasSnoozed = acct.MonthlyEventCount, acct.AutoSnoozed()
			if err := acct.Unsnooze(warning, snooze, now); err != nil {
				return err
			}
			released, err := releaseInheritedSnoozes(ctx, tx, acct, now)
			if err != nil {
				return err
			}
			detail.Released = released
		}
		if err := j.Record(ctx, tx.Audit(), acct, subjectFor(ref), audit.ActionUnsnoozed, actor, detail, now); err != nil {
			return err
		}
		return tx.Accounts().Save(ctx, acct)
	})
	if err != nil {
		if errors.Is(err, billing.ErrInvalidThresholdTransition) {
			s.logger.Warn("unsnooze rejected", zap.String("entity_type", string(ref.Type)), zap.String("entity_id", ref.ID), zap.Error(err))
		}
		return err
	}
	j.Publish(s.publisher)
	return nil
}

// releaseInheritedSnoozes clears cameras that were auto-snoozed by the account's snooze threshold.
// The caller holds the account lock.
func releaseInheritedSnoozes(ctx context.Context, tx store.Tx, acct *billing.Account, now time.Time) ([]string, error) {
	cams, err := tx.Cameras().ListByAccount(ctx, acct.ID)
	if err != nil {
		return nil, err
	}
	var released []string
	for i := range cams {
		cam := &cams[i]
		if !cam.ReleaseInheritedSnooze(*acct, now) {
			continue
		}
		if err := tx.Cameras().Save(ctx, cam); err != nil {
			return nil, err
		}
		released = append(released, cam.ID)
	}
	return released, nil
}

// Snooze sets a manual snooze until the given time. A zero until clears it.
func (s *Service) Snooze(ctx context.Context, ref billing.EntityRef, until time.Time, actor string) error {
	var j journal.Journal
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		j.Reset()
		now := s.clock.Now()
		if !until.IsZero() && !until.After(now) {
			return fmt.Errorf("%w: snooze end must be in the future", billing.ErrInvalidThreshold)
		}
		acct, cam, err := entityTx(ctx, tx, ref)
		if err != nil {
			return err
		}
		detail := thresholdDetail{Entity: ref}
		if !until.IsZero() {
			u := until.UTC()
			detail.SnoozedUntil = &u
		}
		if cam != nil {
			cam.Snooze(until.UTC(), now)
			detail.Count = cam.MonthlyEventCount
			if err := tx.Cameras().Save(ctx, cam); err != nil {
				return err
			}
		} else {
			acct.Snooze(until.UTC(), now)
			detail.Count = acct.MonthlyEventCount
		}
		if err := j.Record(ctx, tx.Audit(), acct, subjectFor(ref), audit.ActionSnoozed, actor, detail, now); err != nil {
			return err
		}
		return tx.Accounts().Save(ctx, acct)
	})
	if err != nil {
		return err
	}
	j.Publish(s.publisher)
	return nil
}
