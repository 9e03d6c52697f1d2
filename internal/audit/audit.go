package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Action names an audited mutation.
type Action string

const (
	ActionSignalAccepted   Action = "signal_accepted"
	ActionSignalRejected   Action = "signal_rejected"
	ActionEventDismissed   Action = "event_dismissed"
	ActionEventEscalated   Action = "event_escalated"
	ActionEventLinked      Action = "event_linked"
	ActionAlarmHeld        Action = "alarm_held"
	ActionAlarmUnheld      Action = "alarm_unheld"
	ActionAlarmResolved    Action = "alarm_resolved"
	ActionClaimAcquired    Action = "claim_acquired"
	ActionClaimHeartbeat   Action = "claim_heartbeat"
	ActionClaimReleased    Action = "claim_released"
	ActionClaimExpired     Action = "claim_expired"
	ActionThresholdsSet    Action = "thresholds_set"
	ActionUnsnoozed        Action = "unsnoozed"
	ActionSnoozed          Action = "snoozed"
	ActionCountersReset    Action = "counters_reset"
)

// Actors used for mutations not performed by an operator.
const (
	ActorSystem = "system"
	ActorIngest = "ingest"
)

// Subject identifies what an entry is about. AccountID is always set.
type Subject struct {
	AccountID string `json:"account_id"`
	CameraID  string `json:"camera_id,omitempty"`
	EventID   string `json:"event_id,omitempty"`
	AlarmID   string `json:"alarm_id,omitempty"`
}

// Entry represents an append-only audit log entry.
type Entry struct {
	ID            string          `json:"id"`
	Seq           int64           `json:"seq"`
	AccountID     string          `json:"account_id"`
	CameraID      string          `json:"camera_id,omitempty"`
	EventID       string          `json:"event_id,omitempty"`
	AlarmID       string          `json:"alarm_id,omitempty"`
	Action        Action          `json:"action"`
	Actor         string          `json:"actor"`
	Detail        json.RawMessage `json:"detail,omitempty"`
	PayloadDigest string          `json:"payload_digest,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Writer appends audit entries inside the caller's transaction.
type Writer interface {
	Append(ctx context.Context, entry *Entry) error
}

// NewID generates an audit id.
func NewID() string {
	return "audit-" + uuid.NewString()
}

// DigestJSON computes a SHA256 hex digest for detail payloads.
func DigestJSON(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// NewEntry builds an entry for subject. detail is marshalled to JSON when not nil.
func NewEntry(subject Subject, action Action, actor string, detail any, at time.Time) (*Entry, error) {
	if subject.AccountID == "" {
		return nil, errors.New("audit: account id required")
	}
	if action == "" {
		return nil, errors.New("audit: action required")
	}
	var raw json.RawMessage
	if detail != nil {
		data, err := json.Marshal(detail)
		if err != nil {
			return nil, err
		}
		raw = data
	}
	return &Entry{
		ID:            NewID(),
		AccountID:     subject.AccountID,
		CameraID:      subject.CameraID,
		EventID:       subject.EventID,
		AlarmID:       subject.AlarmID,
		Action:        action,
		Actor:         actor,
		Detail:        raw,
		PayloadDigest: DigestJSON(raw),
		CreatedAt:     at.UTC().Truncate(time.Microsecond),
	}, nil
}

// Append builds an entry and writes it through w. A failed write must abort the caller's transaction.
func Append(ctx context.Context, w Writer, subject Subject, action Action, actor string, detail any, at time.Time) error {
	if w == nil {
		return errors.New("audit: nil writer")
	}
	entry, err := NewEntry(subject, action, actor, detail, at)
	if err != nil {
		return err
	}
	return w.Append(ctx, entry)
}
