package alarms

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 5, 2, 8, 0, 0, 0, time.UTC)

func pending(id string) *Event {
	return NewEvent(id, "cam-1", "acct-1", t0, []string{"s3://clip.mp4"}, t0)
}

func TestEventTransitionsAreTerminal(t *testing.T) {
	t.Parallel()

	ev := pending("ev-1")
	require.NoError(t, ev.Dismiss("op-1", t0))
	require.Equal(t, EventDismissed, ev.Status)
	require.ErrorIs(t, ev.Dismiss("op-1", t0), ErrInvalidStateTransition)
	require.ErrorIs(t, ev.Escalate("op-1", "al-1", t0), ErrInvalidStateTransition)

	ev = pending("ev-2")
	require.NoError(t, ev.Escalate("op-1", "al-1", t0))
	require.ErrorIs(t, ev.Dismiss("op-1", t0), ErrInvalidStateTransition)
}

func TestAlarmHoldToggleAndResolve(t *testing.T) {
	t.Parallel()

	ev := pending("ev-1")
	alarm, err := NewAlarm("al-1", ev, "op-1", t0.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, EventEscalated, ev.Status)
	require.Equal(t, "al-1", ev.AlarmID)

	require.ErrorIs(t, alarm.Unhold("op-1", t0), ErrInvalidStateTransition)
	require.NoError(t, alarm.Hold("op-1", t0.Add(2*time.Minute)))
	require.ErrorIs(t, alarm.Hold("op-1", t0), ErrInvalidStateTransition)
	require.NoError(t, alarm.Unhold("op-1", t0.Add(5*time.Minute)))
	require.NoError(t, alarm.Hold("op-1", t0.Add(6*time.Minute)))
	require.Equal(t, 3*time.Minute, alarm.HoldTotal)

	_, err = ParseResolution("bogus")
	require.ErrorIs(t, err, ErrInvalidResolution)
	require.ErrorIs(t, alarm.Resolve("bogus", "", "op-1", t0), ErrInvalidResolution)

	require.NoError(t, alarm.Resolve(ResolutionEyesOn, "  all clear ", "op-1", t0.Add(10*time.Minute)))
	require.Equal(t, StatusResolved, alarm.Status)
	require.Equal(t, "all clear", alarm.Notes)
	require.Equal(t, 7*time.Minute, alarm.HoldTotal)

	require.ErrorIs(t, alarm.Hold("op-1", t0), ErrInvalidStateTransition)
	require.ErrorIs(t, alarm.Resolve(ResolutionEntry, "", "op-1", t0), ErrInvalidStateTransition)

	m := alarm.Metrics(ev, t0.Add(time.Hour))
	require.True(t, m.Resolved)
	require.Equal(t, 60.0, m.EventToEscalation)
	require.Equal(t, 420.0, m.HoldSeconds)
	require.Equal(t, 540.0, m.ToResolutionSecond)
	require.Equal(t, 600.0, m.TotalHandling)
}

func TestLinkEvent(t *testing.T) {
	t.Parallel()

	alarm, err := NewAlarm("al-1", pending("ev-1"), "op-1", t0)
	require.NoError(t, err)

	related := pending("ev-2")
	require.NoError(t, alarm.LinkEvent(related, "op-1", t0))
	require.Equal(t, []string{"ev-2"}, alarm.RelatedEventIDs)
	require.Equal(t, "al-1", related.AlarmID)
	require.ErrorIs(t, alarm.LinkEvent(related, "op-1", t0), ErrInvalidStateTransition)

	other := NewEvent("ev-3", "cam-9", "acct-2", t0, nil, t0)
	require.ErrorIs(t, alarm.LinkEvent(other, "op-1", t0), ErrAccountMismatch)

	require.NoError(t, alarm.Resolve(ResolutionVideoFalse, "", "op-1", t0))
	require.ErrorIs(t, alarm.LinkEvent(pending("ev-4"), "op-1", t0), ErrInvalidStateTransition)
}
