package billing

import (
	"fmt"
	"time"
)

// EntityType names a counter-bearing entity.
type EntityType string

const (
	EntityAccount EntityType = "account"
	EntityCamera  EntityType = "camera"
)

// ParseEntityType validates an entity type string.
func ParseEntityType(value string) (EntityType, error) {
	switch EntityType(value) {
	case EntityAccount, EntityCamera:
		return EntityType(value), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownEntity, value)
	}
}

// EntityRef identifies an account or a camera.
type EntityRef struct {
	Type EntityType `json:"entity_type"`
	ID   string     `json:"entity_id"`
}

// Account holds the account-level counters and base thresholds.
// Nil thresholds disable the corresponding check.
type Account struct {
	ID                 string
	Name               string
	MonthlyEventCount  int64
	WarningThreshold   *int64
	SnoozeThreshold    *int64
	LastWarningSentAt  time.Time
	AutoSnoozedAt      time.Time
	SnoozedUntil       time.Time
	AllowDismiss       bool
	BillingPeriodStart time.Time
	BillingPeriodEnd   time.Time
	NotifySeq          int64
	UpdatedAt          time.Time
}

// Camera holds per-camera counters. Nil thresholds and AllowDismiss inherit from the account.
type Camera struct {
	ID                string
	AccountID         string
	Name              string
	MonthlyEventCount int64
	WarningThreshold  *int64
	SnoozeThreshold   *int64
	LastWarningSentAt time.Time
	AutoSnoozedAt     time.Time
	SnoozedUntil      time.Time
	AllowDismiss      *bool
	UpdatedAt         time.Time
}

// NextNotifySeq advances the account's notification sequence and returns the new value.
func (a *Account) NextNotifySeq() int64 {
	a.NotifySeq++
	return a.NotifySeq
}

// AutoSnoozed reports whether the account is auto-snoozed.
func (a *Account) AutoSnoozed() bool { return !a.AutoSnoozedAt.IsZero() }

// AutoSnoozed reports whether the camera is auto-snoozed.
func (c *Camera) AutoSnoozed() bool { return !c.AutoSnoozedAt.IsZero() }

// Thresholds is a resolved pair of optional thresholds.
type Thresholds struct {
	Warning *int64 `json:"warning_threshold"`
	Snooze  *int64 `json:"snooze_threshold"`
}

// EffectiveThresholds resolves camera thresholds against the account, field by field.
func EffectiveThresholds(cam Camera, acct Account) Thresholds {
	out := Thresholds{Warning: acct.WarningThreshold, Snooze: acct.SnoozeThreshold}
	if cam.WarningThreshold != nil {
		out.Warning = cam.WarningThreshold
	}
	if cam.SnoozeThreshold != nil {
		out.Snooze = cam.SnoozeThreshold
	}
	return out
}

// EffectiveAllowDismiss resolves the camera's dismiss permission against the account.
func EffectiveAllowDismiss(cam Camera, acct Account) bool {
	if cam.AllowDismiss != nil {
		return *cam.AllowDismiss
	}
	return acct.AllowDismiss
}

// Int64 returns a pointer to v.
func Int64(v int64) *int64 { return &v }
