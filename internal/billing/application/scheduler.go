package application

import (
	"context"
	"time"

	"go.uber.org/zap"

	"videomonitoring/internal/logger"
)

// Resetter runs the monthly reset.
type Resetter interface {
	RunMonthlyReset(ctx context.Context) (ResetReport, error)
}

// Scheduler invokes the monthly reset once a day at dailyAt in loc.
// The reset itself decides whether a period rolled over, so the daily run is a no-op mid-month.
type Scheduler struct {
	resetter Resetter
	dailyAt  string
	location *time.Location
	logger   *zap.Logger
	lastRun  string
}

// NewScheduler constructs a Scheduler.
func NewScheduler(resetter Resetter, dailyAt string, loc *time.Location, l *zap.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{
		resetter: resetter,
		dailyAt:  dailyAt,
		location: loc,
		logger:   logger.OrNop(l),
	}
}

// Start runs once immediately, to catch a rollover missed while down, then every day at dailyAt.
func (s *Scheduler) Start(ctx context.Context) {
	if s == nil || s.resetter == nil {
		return
	}
	s.runOnce(ctx, time.Now())

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if !s.shouldRun(now) {
				continue
			}
			s.runOnce(ctx, now)
		}
	}
}

func (s *Scheduler) shouldRun(now time.Time) bool {
	hour, minute, err := parseDailyAt(s.dailyAt)
	if err != nil {
		return false
	}
	local := now.In(s.location)
	if local.Hour() != hour || local.Minute() != minute {
		return false
	}
	return s.lastRun != local.Format("2006-01-02")
}

func (s *Scheduler) runOnce(ctx context.Context, now time.Time) {
	s.lastRun = now.In(s.location).Format("2006-01-02")
	report, err := s.resetter.RunMonthlyReset(ctx)
	if err != nil {
		s.logger.Error("scheduled monthly reset", zap.Error(err), zap.Int("failed", report.Failed))
		return
	}
	if report.Reset > 0 {
		s.logger.Info("scheduled monthly reset rolled accounts", zap.Int("reset", report.Reset))
	}
}

func parseDailyAt(value string) (int, int, error) {
	t, err := time.Parse("15:04", value)
	if err != nil {
		return 0, 0, err
	}
	return t.Hour(), t.Minute(), nil
}
