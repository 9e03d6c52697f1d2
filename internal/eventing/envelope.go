package eventing

import (
	"encoding/json"
	"errors"
	"time"
)

// Event types carried on the trigger boundary.
const (
	EventTypeWarningTrigger = "billing.warning"
	EventTypeSnoozedTrigger = "billing.snoozed"
)

// Envelope wraps event payload with metadata.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	OccurredAt    time.Time       `json:"occurred_at"`
	CorrelationID string          `json:"correlation_id"`
	AccountID     string          `json:"account_id"`
	SchemaVersion int             `json:"schema_version"`
	Payload       json.RawMessage `json:"payload"`
}

// Meta provides envelope overrides.
type Meta struct {
	EventID       string
	OccurredAt    time.Time
	CorrelationID string
	AccountID     string
	SchemaVersion int
}

// Trigger is the payload handed to the external mailer for a threshold crossing.
type Trigger struct {
	Kind       string    `json:"kind"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	AccountID  string    `json:"account_id"`
	Count      int64     `json:"count"`
	Threshold  int64     `json:"threshold"`
	OccurredAt time.Time `json:"occurred_at"`
}

// EventType maps the trigger kind to its envelope type.
func (t Trigger) EventType() string {
	if t.Kind == "snoozed" {
		return EventTypeSnoozedTrigger
	}
	return EventTypeWarningTrigger
}

// BuildEnvelope constructs an envelope from event payload and metadata.
func BuildEnvelope(eventType string, event any, meta Meta) (Envelope, error) {
	if event == nil {
		return Envelope{}, errors.New("eventing: nil event")
	}
	if eventType == "" {
		return Envelope{}, errors.New("eventing: empty event type")
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return Envelope{}, err
	}

	occurredAt := meta.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	eventID := meta.EventID
	if eventID == "" {
		eventID = NewEventID()
	}

	correlationID := meta.CorrelationID
	if correlationID == "" {
		correlationID = eventID
	}

	schemaVersion := meta.SchemaVersion
	if schemaVersion == 0 {
		schemaVersion = 1
	}

	return Envelope{
		EventID:       eventID,
		EventType:     eventType,
		OccurredAt:    occurredAt.UTC(),
		CorrelationID: correlationID,
		AccountID:     meta.AccountID,
		SchemaVersion: schemaVersion,
		Payload:       payload,
	}, nil
}

// DecodeTrigger extracts the trigger payload.
func (e Envelope) DecodeTrigger() (Trigger, error) {
	var t Trigger
	if err := json.Unmarshal(e.Payload, &t); err != nil {
		return Trigger{}, err
	}
	return t, nil
}
