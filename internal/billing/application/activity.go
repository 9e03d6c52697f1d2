package application

import (
	"context"
	"time"

	billing "videomonitoring/internal/billing/domain"
	"videomonitoring/internal/store"
)

// CameraActivity is the read model for one camera.
type CameraActivity struct {
	ID                string             `json:"id"`
	Name              string             `json:"name,omitempty"`
	MonthlyEventCount int64              `json:"monthly_event_count"`
	Overrides         billing.Thresholds `json:"overrides"`
	Effective         billing.Thresholds `json:"effective"`
	AllowDismiss      bool               `json:"allow_dismiss"`
	LastWarningSentAt *time.Time         `json:"last_warning_sent_at,omitempty"`
	AutoSnoozedAt     *time.Time         `json:"auto_snoozed_at,omitempty"`
	SnoozedUntil      *time.Time         `json:"snoozed_until,omitempty"`
}

// AccountActivity is the read model for an account's billing state.
type AccountActivity struct {
	ID                 string             `json:"id"`
	Name               string             `json:"name,omitempty"`
	MonthlyEventCount  int64              `json:"monthly_event_count"`
	Thresholds         billing.Thresholds `json:"thresholds"`
	AllowDismiss       bool               `json:"allow_dismiss"`
	LastWarningSentAt  *time.Time         `json:"last_warning_sent_at,omitempty"`
	AutoSnoozedAt      *time.Time         `json:"auto_snoozed_at,omitempty"`
	SnoozedUntil       *time.Time         `json:"snoozed_until,omitempty"`
	BillingPeriodStart time.Time          `json:"billing_period_start"`
	BillingPeriodEnd   time.Time          `json:"billing_period_end"`
	Cameras            []CameraActivity   `json:"cameras"`
}

// Activity returns counters, effective thresholds and snooze state for an account and its cameras.
func (s *Service) Activity(ctx context.Context, accountID string) (AccountActivity, error) {
	var out AccountActivity
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		acct, err := tx.Accounts().Get(ctx, accountID)
		if err != nil {
			return err
		}
		cams, err := tx.Cameras().ListByAccount(ctx, accountID)
		if err != nil {
			return err
		}
		out = AccountActivity{
			ID:                 acct.ID,
			Name:               acct.Name,
			MonthlyEventCount:  acct.MonthlyEventCount,
			Thresholds:         billing.Thresholds{Warning: acct.WarningThreshold, Snooze: acct.SnoozeThreshold},
			AllowDismiss:       acct.AllowDismiss,
			LastWarningSentAt:  timePtr(acct.LastWarningSentAt),
			AutoSnoozedAt:      timePtr(acct.AutoSnoozedAt),
			SnoozedUntil:       timePtr(acct.SnoozedUntil),
			BillingPeriodStart: acct.BillingPeriodStart,
			BillingPeriodEnd:   acct.BillingPeriodEnd,
			Cameras:            make([]CameraActivity, 0, len(cams)),
		}
		for _, cam := range cams {
			out.Cameras = append(out.Cameras, CameraActivity{
				ID:                cam.ID,
				Name:              cam.Name,
				MonthlyEventCount: cam.MonthlyEventCount,
				Overrides:         billing.Thresholds{Warning: cam.WarningThreshold, Snooze: cam.SnoozeThreshold},
				Effective:         billing.EffectiveThresholds(cam, *acct),
				AllowDismiss:      billing.EffectiveAllowDismiss(cam, *acct),
				LastWarningSentAt: timePtr(cam.LastWarningSentAt),
				AutoSnoozedAt:     timePtr(cam.AutoSnoozedAt),
				SnoozedUntil:      timePtr(cam.SnoozedUntil),
			})
		}
		return nil
	})
	return out, err
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
