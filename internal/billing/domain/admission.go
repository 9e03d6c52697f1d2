package billing

import "time"

// RejectReason explains why a signal was not admitted.
type RejectReason string

const (
	ReasonAutoSnoozed RejectReason = "auto_snoozed"
	ReasonSnoozed     RejectReason = "snoozed"
)

// TriggerKind names an outbound billing notification.
type TriggerKind string

const (
	TriggerWarning TriggerKind = "warning"
	TriggerSnoozed TriggerKind = "snoozed"
)

// Crossing records one threshold crossed by a signal.
type Crossing struct {
	Kind       TriggerKind `json:"kind"`
	Entity     EntityRef   `json:"entity"`
	Count      int64       `json:"count"`
	Threshold  int64       `json:"threshold"`
	OccurredAt time.Time   `json:"occurred_at"`
}

// CheckAdmission decides whether a signal for cam may be admitted.
// Auto-snooze wins over a manual snooze when both apply.
func CheckAdmission(cam Camera, acct Account, now time.Time) (RejectReason, bool) {
	if cam.AutoSnoozed() || acct.AutoSnoozed() {
		return ReasonAutoSnoozed, false
	}
	if now.Before(cam.SnoozedUntil) || now.Before(acct.SnoozedUntil) {
		return ReasonSnoozed, false
	}
	return "", true
}

// RecordSignal counts one admitted signal against cam and acct and applies any
// warning or snooze crossings. The camera is evaluated before the account.
func RecordSignal(cam *Camera, acct *Account, now time.Time) []Crossing {
	cam.MonthlyEventCount++
	acct.MonthlyEventCount++
	cam.UpdatedAt = now
	acct.UpdatedAt = now

	var crossings []Crossing
	effective := EffectiveThresholds(*cam, *acct)
	camRef := EntityRef{Type: EntityCamera, ID: cam.ID}
	crossings = evaluate(crossings, camRef, cam.MonthlyEventCount, effective, &cam.LastWarningSentAt, &cam.AutoSnoozedAt, now)

	acctRef := EntityRef{Type: EntityAccount, ID: acct.ID}
	base := Thresholds{Warning: acct.WarningThreshold, Snooze: acct.SnoozeThreshold}
	crossings = evaluate(crossings, acctRef, acct.MonthlyEventCount, base, &acct.LastWarningSentAt, &acct.AutoSnoozedAt, now)
	return crossings
}

func evaluate(out []Crossing, ref EntityRef, count int64, th Thresholds, warnedAt, snoozedAt *time.Time, now time.Time) []Crossing {
	if th.Warning != nil && count >= *th.Warning && warnedAt.IsZero() {
		*warnedAt = now
		out = append(out, Crossing{Kind: TriggerWarning, Entity: ref, Count: count, Threshold: *th.Warning, OccurredAt: now})
	}
	if th.Snooze != nil && count >= *th.Snooze && snoozedAt.IsZero() {
		*snoozedAt = now
		out = append(out, Crossing{Kind: TriggerSnoozed, Entity: ref, Count: count, Threshold: *th.Snooze, OccurredAt: now})
	}
	return out
}
