package alarms

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// AlarmStatus is the lifecycle state of an Alarm.
type AlarmStatus string

const (
	StatusActive   AlarmStatus = "active"
	StatusHeld     AlarmStatus = "held"
	StatusResolved AlarmStatus = "resolved"
)

// Resolution is the outcome code recorded when an alarm is resolved.
type Resolution string

const (
	ResolutionVideoDispatched  Resolution = "video_dispatched"
	ResolutionVideoFalse       Resolution = "video_false"
	ResolutionEntry            Resolution = "entry"
	ResolutionEyesOn           Resolution = "eyes_on"
	ResolutionDispersedPersons Resolution = "dispersed_persons"
)

// ParseResolution validates a resolution code.
func ParseResolution(value string) (Resolution, error) {
	switch r := Resolution(strings.ToLower(strings.TrimSpace(value))); r {
	case ResolutionVideoDispatched, ResolutionVideoFalse, ResolutionEntry, ResolutionEyesOn, ResolutionDispersedPersons:
		return r, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidResolution, value)
	}
}

// Alarm is an investigation escalated from one event, with any related events linked later.
type Alarm struct {
	ID              string        `json:"id"`
	AccountID       string        `json:"account_id"`
	EventID         string        `json:"event_id"`
	RelatedEventIDs []string      `json:"related_event_ids"`
	Status          AlarmStatus   `json:"status"`
	Resolution      Resolution    `json:"resolution,omitempty"`
	Notes           string        `json:"notes,omitempty"`
	CreatedBy       string        `json:"created_by"`
	CreatedAt       time.Time     `json:"created_at"`
	HeldBy          string        `json:"held_by,omitempty"`
	HeldAt          time.Time     `json:"held_at,omitempty"`
	UnheldBy        string        `json:"unheld_by,omitempty"`
	UnheldAt        time.Time     `json:"unheld_at,omitempty"`
	HoldTotal       time.Duration `json:"hold_total"`
	ResolvedBy      string        `json:"resolved_by,omitempty"`
	ResolvedAt      time.Time     `json:"resolved_at,omitempty"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// NewAlarm escalates ev into a new active alarm.
func NewAlarm(id string, ev *Event, actor string, at time.Time) (*Alarm, error) {
	if ev == nil {
		return nil, ErrNotFound
	}
	if err := ev.Escalate(actor, id, at); err != nil {
		return nil, err
	}
	return &Alarm{
		ID:              id,
		AccountID:       ev.AccountID,
		EventID:         ev.ID,
		RelatedEventIDs: []string{},
		Status:          StatusActive,
		CreatedBy:       actor,
		CreatedAt:       at,
		UpdatedAt:       at,
	}, nil
}

// Open reports whether the alarm is active or held.
func (a *Alarm) Open() bool {
	return a.Status == StatusActive || a.Status == StatusHeld
}

// LinkEvent attaches a pending event of the same account to this open alarm.
func (a *Alarm) LinkEvent(ev *Event, actor string, at time.Time) error {
	if ev == nil {
		return ErrNotFound
	}
	if !a.Open() {
		return fmt.Errorf("%w: alarm %s is %s", ErrInvalidStateTransition, a.ID, a.Status)
	}
	if ev.AccountID != a.AccountID {
		return fmt.Errorf("%w: event %s belongs to %s", ErrAccountMismatch, ev.ID, ev.AccountID)
	}
	if ev.ID == a.EventID || slices.Contains(a.RelatedEventIDs, ev.ID) {
		return fmt.Errorf("%w: event %s already linked", ErrInvalidStateTransition, ev.ID)
	}
	if err := ev.Escalate(actor, a.ID, at); err != nil {
		return err
	}
	a.RelatedEventIDs = append(a.RelatedEventIDs, ev.ID)
	a.UpdatedAt = at
	return nil
}

// Hold moves an active alarm to held.
func (a *Alarm) Hold(actor string, at time.Time) error {
	if a.Status != StatusActive {
		return fmt.Errorf("%w: cannot hold alarm %s in %s", ErrInvalidStateTransition, a.ID, a.Status)
	}
	a.Status = StatusHeld
	a.HeldBy = actor
	a.HeldAt = at
	a.UpdatedAt = at
	return nil
}

// Unhold moves a held alarm back to active and accumulates the hold time.
func (a *Alarm) Unhold(actor string, at time.Time) error {
	if a.Status != StatusHeld {
		return fmt.Errorf("%w: cannot unhold alarm %s in %s", ErrInvalidStateTransition, a.ID, a.Status)
	}
	a.closeHold(at)
	a.Status = StatusActive
	a.UnheldBy = actor
	a.UnheldAt = at
	a.UpdatedAt = at
	return nil
}

// Resolve closes an active or held alarm. Resolved alarms cannot be reopened.
func (a *Alarm) Resolve(code Resolution, notes, actor string, at time.Time) error {
	if !a.Open() {
		return fmt.Errorf("%w: alarm %s already %s", ErrInvalidStateTransition, a.ID, a.Status)
	}
	if _, err := ParseResolution(string(code)); err != nil {
		return err
	}
	if a.Status == StatusHeld {
		a.closeHold(at)
	}
	a.Status = StatusResolved
	a.Resolution = code
	a.Notes = strings.TrimSpace(notes)
	a.ResolvedBy = actor
	a.ResolvedAt = at
	a.UpdatedAt = at
	return nil
}

func (a *Alarm) closeHold(at time.Time) {
	if !a.HeldAt.IsZero() && at.After(a.HeldAt) {
		a.HoldTotal += at.Sub(a.HeldAt)
	}
}

// TimeMetrics summarizes how long an alarm took to handle.
type TimeMetrics struct {
	AlarmID            string  `json:"alarm_id"`
	EventToEscalation  float64 `json:"event_to_escalation_seconds"`
	HoldSeconds        float64 `json:"hold_seconds"`
	ToResolutionSecond float64 `json:"to_resolution_seconds,omitempty"`
	TotalHandling      float64 `json:"total_handling_seconds"`
	Resolved           bool    `json:"resolved"`
}

// Metrics computes handling times against the originating event. Open alarms are measured up to now.
func (a *Alarm) Metrics(origin *Event, now time.Time) TimeMetrics {
	out := TimeMetrics{AlarmID: a.ID, Resolved: a.Status == StatusResolved}
	received := a.CreatedAt
	if origin != nil && !origin.ReceivedAt.IsZero() {
		received = origin.ReceivedAt
	}
	out.EventToEscalation = nonNegative(a.CreatedAt.Sub(received))

	hold := a.HoldTotal
	if a.Status == StatusHeld && now.After(a.HeldAt) {
		hold += now.Sub(a.HeldAt)
	}
	out.HoldSeconds = hold.Seconds()

	end := now
	if out.Resolved {
		end = a.ResolvedAt
		out.ToResolutionSecond = nonNegative(a.ResolvedAt.Sub(a.CreatedAt))
	}
	out.TotalHandling = nonNegative(end.Sub(received))
	return out
}

func nonNegative(d time.Duration) float64 {
	if d < 0 {
		return 0
	}
	return d.Seconds()
}
