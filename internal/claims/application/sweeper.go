package application

import (
	"context"
	"time"

	"go.uber.org/zap"

	"videomonitoring/internal/audit"
	claims "videomonitoring/internal/claims/domain"
	"videomonitoring/internal/journal"
	"videomonitoring/internal/store"
)

const sweepBatch = 100

// Sweep deletes expired claim rows. Expiry is already enforced lazily, so this only
// keeps the table small and tells connected sessions the claim is gone.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	var expired []claims.Claim
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		expired, err = tx.Claims().ListExpired(ctx, s.clock.Now(), sweepBatch)
		return err
	})
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, c := range expired {
		ok, err := s.expire(ctx, c.AccountID)
		if err != nil {
			return removed, err
		}
		if ok {
			removed++
		}
	}
	return removed, nil
}

func (s *Service) expire(ctx context.Context, accountID string) (bool, error) {
	var (
		j       journal.Journal
		removed bool
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		j.Reset()
		removed = false
		now := s.clock.Now()
		acct, err := tx.Accounts().Lock(ctx, accountID)
		if err != nil {
			return err
		}
		existing, err := loadClaim(ctx, tx, accountID)
		if err != nil || existing == nil || existing.Live(now) {
			return err
		}
		if err := tx.Claims().Delete(ctx, accountID); err != nil {
			return err
		}
		if err := j.Record(ctx, tx.Audit(), acct, audit.Subject{}, audit.ActionClaimExpired, audit.ActorSystem, detailOf(*existing), now); err != nil {
			return err
		}
		removed = true
		return tx.Accounts().Save(ctx, acct)
	})
	if err != nil {
		return false, err
	}
	j.Publish(s.publisher)
	return removed, nil
}

// RunSweeper sweeps every interval until ctx is done.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Sweep(ctx)
			if err != nil {
				s.logger.Error("claim sweep", zap.Error(err))
				continue
			}
			if n > 0 {
				s.logger.Info("expired claims removed", zap.Int("count", n))
			}
		}
	}
}
