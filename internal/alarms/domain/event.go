package alarms

import (
	"fmt"
	"time"
)

// EventStatus is the lifecycle state of an Event.
type EventStatus string

const (
	EventPending   EventStatus = "pending"
	EventDismissed EventStatus = "dismissed"
	EventEscalated EventStatus = "escalated"
)

// Event is an admitted signal awaiting operator triage.
type Event struct {
	ID          string      `json:"id"`
	CameraID    string      `json:"camera_id"`
	AccountID   string      `json:"account_id"`
	ReceivedAt  time.Time   `json:"received_at"`
	MediaRefs   []string    `json:"media_refs"`
	Status      EventStatus `json:"status"`
	AlarmID     string      `json:"alarm_id,omitempty"`
	DismissedBy string      `json:"dismissed_by,omitempty"`
	DismissedAt time.Time   `json:"dismissed_at,omitempty"`
	EscalatedBy string      `json:"escalated_by,omitempty"`
	EscalatedAt time.Time   `json:"escalated_at,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

// EventFilter narrows event listings.
type EventFilter struct {
	AccountID string
	CameraID  string
	Status    EventStatus
	Limit     int
}

// NewEvent builds a pending event.
func NewEvent(id, cameraID, accountID string, receivedAt time.Time, mediaRefs []string, now time.Time) *Event {
	refs := make([]string, len(mediaRefs))
	copy(refs, mediaRefs)
	if receivedAt.IsZero() {
		receivedAt = now
	}
	return &Event{
		ID:         id,
		CameraID:   cameraID,
		AccountID:  accountID,
		ReceivedAt: receivedAt.UTC(),
		MediaRefs:  refs,
		Status:     EventPending,
		CreatedAt:  now,
	}
}

// Dismiss moves a pending event to dismissed.
func (e *Event) Dismiss(actor string, at time.Time) error {
	if e.Status != EventPending {
		return fmt.Errorf("%w: event %s is %s", ErrInvalidStateTransition, e.ID, e.Status)
	}
	e.Status = EventDismissed
	e.DismissedBy = actor
	e.DismissedAt = at
	return nil
}

// Escalate moves a pending event to escalated under alarmID.
func (e *Event) Escalate(actor, alarmID string, at time.Time) error {
	if e.Status != EventPending {
		return fmt.Errorf("%w: event %s is %s", ErrInvalidStateTransition, e.ID, e.Status)
	}
	e.Status = EventEscalated
	e.AlarmID = alarmID
	e.EscalatedBy = actor
	e.EscalatedAt = at
	return nil
}
