package billing

import (
	"fmt"
	"time"
)

// ValidateThresholds rejects non-positive threshold values. Nil values are allowed.
func ValidateThresholds(th Thresholds) error {
	if th.Warning != nil && *th.Warning <= 0 {
		return fmt.Errorf("%w: warning threshold must be positive", ErrInvalidThreshold)
	}
	if th.Snooze != nil && *th.Snooze <= 0 {
		return fmt.Errorf("%w: snooze threshold must be positive", ErrInvalidThreshold)
	}
	return nil
}

// ValidateUnsnooze requires both new thresholds to strictly exceed count.
func ValidateUnsnooze(count, warning, snooze int64) error {
	if warning <= count || snooze <= count {
		return fmt.Errorf("%w: thresholds (%d, %d) must exceed current count %d", ErrInvalidThresholdTransition, warning, snooze, count)
	}
	return nil
}

// SetThresholds stores account thresholds. Auto-snooze state is left alone.
func (a *Account) SetThresholds(th Thresholds, now time.Time) error {
	if err := ValidateThresholds(th); err != nil {
		return err
	}
	a.WarningThreshold = th.Warning
	a.SnoozeThreshold = th.Snooze
	a.UpdatedAt = now
	return nil
}

// SetThresholds stores camera overrides; nil fields inherit from the account.
func (c *Camera) SetThresholds(th Thresholds, now time.Time) error {
	if err := ValidateThresholds(th); err != nil {
		return err
	}
	c.WarningThreshold = th.Warning
	c.SnoozeThreshold = th.Snooze
	c.UpdatedAt = now
	return nil
}

// Unsnooze raises the account thresholds above the current count and clears auto-snooze.
func (a *Account) Unsnooze(warning, snooze int64, now time.Time) error {
	if err := ValidateUnsnooze(a.MonthlyEventCount, warning, snooze); err != nil {
		return err
	}
	a.WarningThreshold = Int64(warning)
	a.SnoozeThreshold = Int64(snooze)
	a.AutoSnoozedAt = time.Time{}
	a.UpdatedAt = now
	return nil
}

// ReleaseInheritedSnooze clears an auto-snooze the camera took from the account's snooze
// threshold once its count is below the account's current value. Cameras with their own
// snooze threshold keep their state. Reports whether anything changed.
func (c *Camera) ReleaseInheritedSnooze(acct Account, now time.Time) bool {
	if !c.AutoSnoozed() || c.SnoozeThreshold != nil {
		return false
	}
	if acct.SnoozeThreshold != nil && c.MonthlyEventCount >= *acct.SnoozeThreshold {
		return false
	}
	c.AutoSnoozedAt = time.Time{}
	c.UpdatedAt = now
	return true
}

// Unsnooze raises the camera overrides above the current count and clears auto-snooze.
func (c *Camera) Unsnooze(warning, snooze int64, now time.Time) error {
	if err := ValidateUnsnooze(c.MonthlyEventCount, warning, snooze); err != nil {
		return err
	}
	c.WarningThreshold = Int64(warning)
	c.SnoozeThreshold = Int64(snooze)
	c.AutoSnoozedAt = time.Time{}
	c.UpdatedAt = now
	return nil
}

// Snooze sets a manual snooze. A zero until clears it.
func (a *Account) Snooze(until, now time.Time) {
	a.SnoozedUntil = until
	a.UpdatedAt = now
}

// Snooze sets a manual snooze. A zero until clears it.
func (c *Camera) Snooze(until, now time.Time) {
	c.SnoozedUntil = until
	c.UpdatedAt = now
}

// PeriodBounds returns the calendar month containing now in loc.
func PeriodBounds(now time.Time, loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	start := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 1, 0)
}

// NeedsReset reports whether the account still belongs to a period before start.
func (a *Account) NeedsReset(start time.Time) bool {
	return a.BillingPeriodStart.Before(start)
}

// ResetPeriod zeroes the account counter and rolls it into [start, end).
func (a *Account) ResetPeriod(start, end, now time.Time) {
	a.MonthlyEventCount = 0
	a.LastWarningSentAt = time.Time{}
	a.AutoSnoozedAt = time.Time{}
	a.BillingPeriodStart = start
	a.BillingPeriodEnd = end
	a.UpdatedAt = now
}

// ResetCounters zeroes the camera counter and its warning/snooze marks.
func (c *Camera) ResetCounters(now time.Time) {
	c.MonthlyEventCount = 0
	c.LastWarningSentAt = time.Time{}
	c.AutoSnoozedAt = time.Time{}
	c.UpdatedAt = now
}
