package application

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"videomonitoring/internal/audit"
	billing "videomonitoring/internal/billing/domain"
	"videomonitoring/internal/eventing"
	"videomonitoring/internal/notify"
	"videomonitoring/internal/store"
	"videomonitoring/internal/store/memory"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

type fixture struct {
	store *memory.Store
	svc   *Service
	clock *fakeClock
	rec   *notify.Recorder
}

func newFixture(t *testing.T, acct billing.Account, cams ...billing.Camera) fixture {
	t.Helper()
	st := memory.New()
	clock := &fakeClock{now: time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)}
	if acct.BillingPeriodStart.IsZero() {
		acct.BillingPeriodStart, acct.BillingPeriodEnd = billing.PeriodBounds(clock.now, time.UTC)
	}
	st.PutAccount(acct)
	for _, c := range cams {
		st.PutCamera(c)
	}
	rec := &notify.Recorder{}
	svc, err := NewService(store.WithRetry(st, store.RetryPolicy{InitialInterval: time.Millisecond, MaxElapsedTime: time.Second}, nil),
		WithClock(clock), WithPublisher(rec))
	require.NoError(t, err)
	return fixture{store: st, svc: svc, clock: clock, rec: rec}
}

func baseAccount(count int64) billing.Account {
	return billing.Account{
		ID:                "acct-A",
		MonthlyEventCount: count,
		WarningThreshold:  billing.Int64(100),
		SnoozeThreshold:   billing.Int64(200),
		AllowDismiss:      true,
	}
}

func baseCamera(count int64) billing.Camera {
	return billing.Camera{ID: "cam-C", AccountID: "acct-A", MonthlyEventCount: count}
}

func submit(t *testing.T, f fixture) SignalResult {
	t.Helper()
	res, err := f.svc.SubmitSignal(context.Background(), Signal{CameraID: "cam-C", MediaRefs: []string{"clip.mp4"}})
	require.NoError(t, err)
	return res
}

func pendingTriggers(t *testing.T, st *memory.Store) []eventing.Trigger {
	t.Helper()
	recs, err := st.ListPending(context.Background(), 100, 0)
	require.NoError(t, err)
	out := make([]eventing.Trigger, 0, len(recs))
	for _, r := range recs {
		trig, err := r.Envelope.DecodeTrigger()
		require.NoError(t, err)
		out = append(out, trig)
	}
	return out
}

func TestWarningFiresOncePerEntity(t *testing.T) {
	f := newFixture(t, baseAccount(99), baseCamera(99))

	res := submit(t, f)
	require.True(t, res.Accepted)
	require.NotEmpty(t, res.EventID)
	require.Len(t, res.Crossings, 2)
	require.Equal(t, billing.EntityCamera, res.Crossings[0].Entity.Type)
	require.Equal(t, billing.EntityAccount, res.Crossings[1].Entity.Type)

	cam, _ := f.store.Camera("cam-C")
	require.Equal(t, int64(100), cam.MonthlyEventCount)
	require.False(t, cam.LastWarningSentAt.IsZero())

	res = submit(t, f)
	require.True(t, res.Accepted)
	require.Empty(t, res.Crossings)

	triggers := pendingTriggers(t, f.store)
	require.Len(t, triggers, 2)
	for _, trig := range triggers {
		require.Equal(t, "warning", trig.Kind)
	}
	require.Equal(t, 2, f.store.EventCount())
}

func TestSnoozeCrossingAcceptsThenRejects(t *testing.T) {
	f := newFixture(t, baseAccount(199), baseCamera(199))

	res := submit(t, f)
	require.True(t, res.Accepted)
	acct, _ := f.store.Account("acct-A")
	require.Equal(t, int64(200), acct.MonthlyEventCount)
	require.True(t, acct.AutoSnoozed())

	res = submit(t, f)
	require.False(t, res.Accepted)
	require.Equal(t, billing.ReasonAutoSnoozed, res.Reason)
	require.ErrorIs(t, res.Rejection(), billing.ErrAdmissionRejected)

	acct, _ = f.store.Account("acct-A")
	require.Equal(t, int64(200), acct.MonthlyEventCount)
	require.Equal(t, 1, f.store.EventCount())

	entries := f.store.AuditEntries()
	require.Equal(t, audit.ActionSignalRejected, entries[len(entries)-1].Action)
}

func TestUnsnoozeRequiresThresholdsAboveCount(t *testing.T) {
	acct := baseAccount(200)
	acct.AutoSnoozedAt = time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	f := newFixture(t, acct, baseCamera(150))
	ref := billing.EntityRef{Type: billing.EntityAccount, ID: "acct-A"}

	err := f.svc.Unsnooze(context.Background(), ref, 150, 180, "admin-1")
	require.ErrorIs(t, err, billing.ErrInvalidThresholdTransition)
	got, _ := f.store.Account("acct-A")
	require.True(t, got.AutoSnoozed())
	require.Equal(t, int64(100), *got.WarningThreshold)
	require.Empty(t, f.store.AuditEntries())

	require.NoError(t, f.svc.Unsnooze(context.Background(), ref, 300, 400, "admin-1"))
	got, _ = f.store.Account("acct-A")
	require.False(t, got.AutoSnoozed())
	require.Equal(t, int64(400), *got.SnoozeThreshold)

	res := submit(t, f)
	require.True(t, res.Accepted)
	got, _ = f.store.Account("acct-A")
	require.Equal(t, int64(201), got.MonthlyEventCount)
	require.Equal(t, []string{string(audit.ActionUnsnoozed), string(audit.ActionSignalAccepted)}, f.rec.Types())
}

func TestAccountUnsnoozeReleasesInheritingCameras(t *testing.T) {
	override := billing.Camera{
		ID:                "cam-D",
		AccountID:         "acct-A",
		MonthlyEventCount: 160,
		SnoozeThreshold:   billing.Int64(150),
		AutoSnoozedAt:     time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC),
	}
	f := newFixture(t, baseAccount(199), baseCamera(199), override)

	require.True(t, submit(t, f).Accepted)
	cam, _ := f.store.Camera("cam-C")
	require.True(t, cam.AutoSnoozed())
	res := submit(t, f)
	require.False(t, res.Accepted)
	require.Equal(t, billing.ReasonAutoSnoozed, res.Reason)

	ref := billing.EntityRef{Type: billing.EntityAccount, ID: "acct-A"}
	require.NoError(t, f.svc.Unsnooze(context.Background(), ref, 300, 400, "admin-1"))

	cam, _ = f.store.Camera("cam-C")
	require.False(t, cam.AutoSnoozed())
	other, _ := f.store.Camera("cam-D")
	require.True(t, other.AutoSnoozed())

	entries := f.store.AuditEntries()
	last := entries[len(entries)-1]
	require.Equal(t, audit.ActionUnsnoozed, last.Action)
	var detail struct {
		Released []string `json:"released_cameras"`
	}
	require.NoError(t, json.Unmarshal(last.Detail, &detail))
	require.Equal(t, []string{"cam-C"}, detail.Released)

	res = submit(t, f)
	require.True(t, res.Accepted)
	acct, _ := f.store.Account("acct-A")
	require.Equal(t, int64(201), acct.MonthlyEventCount)
	cam, _ = f.store.Camera("cam-C")
	require.Equal(t, int64(201), cam.MonthlyEventCount)
}

func TestCameraInheritsChangedAccountThreshold(t *testing.T) {
	f := newFixture(t, baseAccount(10), baseCamera(10))
	acctRef := billing.EntityRef{Type: billing.EntityAccount, ID: "acct-A"}
	require.NoError(t, f.svc.SetThresholds(context.Background(), acctRef, billing.Thresholds{Warning: billing.Int64(50), Snooze: billing.Int64(11)}, "admin-1"))

	res := submit(t, f)
	require.True(t, res.Accepted)
	cam, _ := f.store.Camera("cam-C")
	require.True(t, cam.AutoSnoozed())
}

func TestCameraOverrideWins(t *testing.T) {
	cam := baseCamera(4)
	cam.SnoozeThreshold = billing.Int64(5)
	f := newFixture(t, baseAccount(4), cam)

	res := submit(t, f)
	require.True(t, res.Accepted)
	require.Len(t, res.Crossings, 1)
	require.Equal(t, billing.TriggerSnoozed, res.Crossings[0].Kind)

	res = submit(t, f)
	require.False(t, res.Accepted)
	acct, _ := f.store.Account("acct-A")
	require.False(t, acct.AutoSnoozed())
}

func TestManualSnoozeRejectsUntilExpiry(t *testing.T) {
	f := newFixture(t, baseAccount(0), baseCamera(0))
	ref := billing.EntityRef{Type: billing.EntityCamera, ID: "cam-C"}
	require.NoError(t, f.svc.Snooze(context.Background(), ref, f.clock.now.Add(time.Hour), "op-1"))

	res := submit(t, f)
	require.False(t, res.Accepted)
	require.Equal(t, billing.ReasonSnoozed, res.Reason)

	f.clock.now = f.clock.now.Add(2 * time.Hour)
	res = submit(t, f)
	require.True(t, res.Accepted)

	err := f.svc.Snooze(context.Background(), ref, f.clock.now.Add(-time.Minute), "op-1")
	require.ErrorIs(t, err, billing.ErrInvalidThreshold)
}

func TestAuditFailureRollsBackSignal(t *testing.T) {
	f := newFixture(t, baseAccount(0), baseCamera(0))
	boom := errors.New("audit unavailable")
	f.store.SetAuditHook(func(*audit.Entry) error { return boom })

	_, err := f.svc.SubmitSignal(context.Background(), Signal{CameraID: "cam-C"})
	require.ErrorIs(t, err, boom)

	acct, _ := f.store.Account("acct-A")
	require.Zero(t, acct.MonthlyEventCount)
	require.Zero(t, f.store.EventCount())
	require.Empty(t, f.rec.Messages())
}

func TestTransientFailureIsRetriedWithoutDoubleCounting(t *testing.T) {
	f := newFixture(t, baseAccount(0), baseCamera(0))
	f.store.FailTransactions(2)

	res := submit(t, f)
	require.True(t, res.Accepted)
	acct, _ := f.store.Account("acct-A")
	require.Equal(t, int64(1), acct.MonthlyEventCount)
	require.Len(t, f.rec.Messages(), 1)
	require.Len(t, f.store.AuditEntries(), 1)
}

func TestCancelledSignalLeavesNothing(t *testing.T) {
	f := newFixture(t, baseAccount(0), baseCamera(0))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.svc.SubmitSignal(ctx, Signal{CameraID: "cam-C"})
	require.Error(t, err)
	require.Zero(t, f.store.EventCount())
	require.Empty(t, f.store.AuditEntries())
}

func TestUnknownCamera(t *testing.T) {
	f := newFixture(t, baseAccount(0))
	_, err := f.svc.SubmitSignal(context.Background(), Signal{CameraID: "nope"})
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestNotificationSequenceFollowsCommitOrder(t *testing.T) {
	f := newFixture(t, baseAccount(0), baseCamera(0))
	for i := 0; i < 3; i++ {
		submit(t, f)
	}
	msgs := f.rec.Messages()
	require.Len(t, msgs, 3)
	for i, m := range msgs {
		require.Equal(t, int64(i+1), m.Seq)
		require.Equal(t, "acct-A", m.AccountID)
	}
}

func TestMonthlyResetIsIdempotent(t *testing.T) {
	acct := baseAccount(250)
	acct.AutoSnoozedAt = time.Date(2026, 2, 20, 0, 0, 0, 0, time.UTC)
	acct.LastWarningSentAt = time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	acct.BillingPeriodStart = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	acct.BillingPeriodEnd = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	cam := baseCamera(250)
	cam.SnoozeThreshold = billing.Int64(300)
	cam.AutoSnoozedAt = acct.AutoSnoozedAt
	f := newFixture(t, acct, cam)

	report, err := f.svc.RunMonthlyReset(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Reset)

	got, _ := f.store.Account("acct-A")
	require.Zero(t, got.MonthlyEventCount)
	require.False(t, got.AutoSnoozed())
	require.True(t, got.LastWarningSentAt.IsZero())
	require.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), got.BillingPeriodStart)
	require.Equal(t, int64(200), *got.SnoozeThreshold)

	gotCam, _ := f.store.Camera("cam-C")
	require.Zero(t, gotCam.MonthlyEventCount)
	require.False(t, gotCam.AutoSnoozed())
	require.Equal(t, int64(300), *gotCam.SnoozeThreshold)

	report, err = f.svc.RunMonthlyReset(context.Background())
	require.NoError(t, err)
	require.Zero(t, report.Reset)
	require.Equal(t, 1, report.Skipped)
	require.Len(t, f.store.AuditEntries(), 1)
}

func TestActivityResolvesEffectiveValues(t *testing.T) {
	cam := baseCamera(3)
	cam.WarningThreshold = billing.Int64(5)
	allow := false
	cam.AllowDismiss = &allow
	f := newFixture(t, baseAccount(3), cam)

	act, err := f.svc.Activity(context.Background(), "acct-A")
	require.NoError(t, err)
	require.Len(t, act.Cameras, 1)
	require.Equal(t, int64(5), *act.Cameras[0].Effective.Warning)
	require.Equal(t, int64(200), *act.Cameras[0].Effective.Snooze)
	require.Nil(t, act.Cameras[0].Overrides.Snooze)
	require.False(t, act.Cameras[0].AllowDismiss)
}

func TestConcurrentSignalsAreCountedOnce(t *testing.T) {
	acct := baseAccount(0)
	acct.WarningThreshold, acct.SnoozeThreshold = billing.Int64(1000), billing.Int64(2000)
	f := newFixture(t, acct, baseCamera(0))
	const signals = 25

	var wg sync.WaitGroup
	for i := 0; i < signals; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.SubmitSignal(context.Background(), Signal{CameraID: "cam-C"})
			assert.NoError(t, err)
			assert.True(t, res.Accepted)
		}()
	}
	wg.Wait()

	got, _ := f.store.Account("acct-A")
	require.Equal(t, int64(signals), got.MonthlyEventCount)
	cam, _ := f.store.Camera("cam-C")
	require.Equal(t, int64(signals), cam.MonthlyEventCount)
	require.Equal(t, signals, f.store.EventCount())

	accepted := 0
	for _, e := range f.store.AuditEntries() {
		if e.Action == audit.ActionSignalAccepted {
			accepted++
		}
	}
	require.Equal(t, signals, accepted)

	seqs := make(map[int64]bool)
	for _, m := range f.rec.Messages() {
		seqs[m.Seq] = true
	}
	require.Len(t, seqs, signals)
}
