package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"videomonitoring/internal/audit"
	billing "videomonitoring/internal/billing/domain"
	"videomonitoring/internal/journal"
	"videomonitoring/internal/observability/metrics"
	"videomonitoring/internal/store"
)

// ResetReport summarizes one monthly reset run.
type ResetReport struct {
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
	Reset       int       `json:"reset"`
	Skipped     int       `json:"skipped"`
	Failed      int       `json:"failed"`
}

type resetDetail struct {
	PreviousStart time.Time `json:"previous_period_start"`
	PeriodStart   time.Time `json:"period_start"`
	PeriodEnd     time.Time `json:"period_end"`
	AccountCount  int64     `json:"previous_account_count"`
	Cameras       int       `json:"cameras"`
}

// RunMonthlyReset rolls every account that still belongs to an earlier period into the
// current one. Accounts already in the current period are skipped, so repeated calls are no-ops.
// Each account is reset in its own transaction; failures are reported after every account was tried.
func (s *Service) RunMonthlyReset(ctx context.Context) (ResetReport, error) {
	now := s.clock.Now()
	start, end := billing.PeriodBounds(now, s.location)
	report := ResetReport{PeriodStart: start.UTC(), PeriodEnd: end.UTC()}

	var ids []string
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		ids, err = tx.Accounts().ListIDs(ctx)
		return err
	})
	if err != nil {
		metrics.ObserveMonthlyReset(metrics.ResultError, 0)
		return report, err
	}

	var errs []error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		reset, err := s.resetAccount(ctx, id, start, end)
		switch {
		case err != nil:
			report.Failed++
			errs = append(errs, fmt.Errorf("account %s: %w", id, err))
			s.logger.Error("monthly reset failed", zap.String("account_id", id), zap.Error(err))
		case reset:
			report.Reset++
		default:
			report.Skipped++
		}
	}

	result := metrics.ResultSuccess
	if len(errs) > 0 {
		result = metrics.ResultError
	}
	metrics.ObserveMonthlyReset(result, report.Reset)
	s.logger.Info("monthly reset finished",
		zap.Time("period_start", report.PeriodStart), zap.Int("reset", report.Reset),
		zap.Int("skipped", report.Skipped), zap.Int("failed", report.Failed))
	return report, errors.Join(errs...)
}

func (s *Service) resetAccount(ctx context.Context, accountID string, start, end time.Time) (bool, error) {
	var (
		j     journal.Journal
		reset bool
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		j.Reset()
		reset = false
		now := s.clock.Now()
		acct, err := tx.Accounts().Lock(ctx, accountID)
		if err != nil {
			return err
		}
		if !acct.NeedsReset(start) {
			return nil
		}
		cams, err := tx.Cameras().ListByAccount(ctx, accountID)
		if err != nil {
			return err
		}
		for i := range cams {
			cams[i].ResetCounters(now)
			if err := tx.Cameras().Save(ctx, &cams[i]); err != nil {
				return err
			}
		}
		detail := resetDetail{
			PreviousStart: acct.BillingPeriodStart,
			PeriodStart:   start.UTC(),
			PeriodEnd:     end.UTC(),
			AccountCount:  acct.MonthlyEventCount,
			Cameras:       len(cams),
		}
		acct.ResetPeriod(start.UTC(), end.UTC(), now)
		if err := j.Record(ctx, tx.Audit(), acct, audit.Subject{}, audit.ActionCountersReset, audit.ActorSystem, detail, now); err != nil {
			return err
		}
		reset = true
		return tx.Accounts().Save(ctx, acct)
	})
	if err != nil {
		return false, err
	}
	j.Publish(s.publisher)
	return reset, nil
}
