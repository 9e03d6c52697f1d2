// Package journal pairs every accepted mutation with its audit entry and its push notification.
// The audit entry is written inside the mutation's transaction; the notification is held
// until the caller publishes after commit.
package journal

import (
	"context"
	"errors"
	"time"

	"videomonitoring/internal/audit"
	billing "videomonitoring/internal/billing/domain"
	"videomonitoring/internal/notify"
)

// Journal accumulates notifications for one transaction attempt.
type Journal struct {
	msgs []notify.Message
}

// Reset discards everything recorded so far. Call at the start of each transaction attempt.
func (j *Journal) Reset() {
	j.msgs = j.msgs[:0]
}

// Record appends an audit entry through w and queues a notification carrying the
// account's next sequence number. The caller must save acct before committing.
func (j *Journal) Record(ctx context.Context, w audit.Writer, acct *billing.Account, subject audit.Subject, action audit.Action, actor string, detail any, at time.Time) error {
	if acct == nil {
		return errors.New("journal: nil account")
	}
	if subject.AccountID == "" {
		subject.AccountID = acct.ID
	}
	if err := audit.Append(ctx, w, subject, action, actor, detail, at); err != nil {
		return err
	}
	msg, err := notify.NewMessage(string(action), acct.ID, subjectID(subject), acct.NextNotifySeq(), detail, at)
	if err != nil {
		return err
	}
	msg.Actor = actor
	j.msgs = append(j.msgs, msg)
	return nil
}

// Publish hands the queued messages to p. Call only after commit.
func (j *Journal) Publish(p notify.Publisher) {
	if p == nil || len(j.msgs) == 0 {
		return
	}
	p.Publish(j.msgs...)
	j.msgs = nil
}

// Len returns the number of queued messages.
func (j *Journal) Len() int { return len(j.msgs) }

func subjectID(s audit.Subject) string {
	switch {
	case s.AlarmID != "":
		return s.AlarmID
	case s.EventID != "":
		return s.EventID
	case s.CameraID != "":
		return s.CameraID
	default:
		return s.AccountID
	}
}
