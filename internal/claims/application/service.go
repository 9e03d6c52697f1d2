package application

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"videomonitoring/internal/audit"
	claims "videomonitoring/internal/claims/domain"
	"videomonitoring/internal/journal"
	"videomonitoring/internal/logger"
	"videomonitoring/internal/notify"
	"videomonitoring/internal/observability/metrics"
	"videomonitoring/internal/store"
)

// DefaultTTL is the claim lifetime extended by every acquire and heartbeat.
const DefaultTTL = 2 * time.Minute

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Service coordinates exclusive account claims.
type Service struct {
	store     store.Store
	publisher notify.Publisher
	clock     Clock
	logger    *zap.Logger
	ttl       time.Duration
}

// ServiceOption customizes the claim service.
type ServiceOption func(*Service)

// WithClock assigns a clock.
func WithClock(clock Clock) ServiceOption {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithPublisher assigns the notification publisher.
func WithPublisher(p notify.Publisher) ServiceOption {
	return func(s *Service) {
		if p != nil {
			s.publisher = p
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(l *zap.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger.OrNop(l)
	}
}

// WithTTL overrides the claim lifetime.
func WithTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// NewService constructs a claim service.
func NewService(st store.Store, opts ...ServiceOption) (*Service, error) {
	if st == nil {
		return nil, errors.New("claims: nil store")
	}
	s := &Service{
		store:     st,
		publisher: notify.NopPublisher{},
		clock:     systemClock{},
		logger:    zap.NewNop(),
		ttl:       DefaultTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

type claimDetail struct {
	Holder          string    `json:"holder"`
	ClaimedAt       time.Time `json:"claimed_at"`
	ExpiresAt       time.Time `json:"expires_at"`
	Renewed         bool      `json:"renewed,omitempty"`
	ReplacedExpired string    `json:"replaced_expired_holder,omitempty"`
}

func detailOf(c claims.Claim) claimDetail {
	return claimDetail{Holder: c.Holder, ClaimedAt: c.ClaimedAt, ExpiresAt: c.ExpiresAt}
}

// loadClaim returns the stored claim row or nil.
func loadClaim(ctx context.Context, tx store.Tx, accountID string) (*claims.Claim, error) {
	c, err := tx.Claims().Get(ctx, accountID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return c, err
}

// RequireHolder fails unless operator holds a live claim on the account at now.
// Call it inside the transaction that mutates the account.
func RequireHolder(ctx context.Context, tx store.Tx, accountID, operator string, now time.Time) error {
	existing, err := loadClaim(ctx, tx, accountID)
	if err != nil {
		return err
	}
	return claims.Require(existing, accountID, operator, now)
}

// LiveHolder returns the live holder of the account claim, or "" when unclaimed.
func LiveHolder(ctx context.Context, tx store.Tx, accountID string, now time.Time) (string, *claims.Claim, error) {
	existing, err := loadClaim(ctx, tx, accountID)
	if err != nil {
		return "", nil, err
	}
	if !existing.Live(now) {
		return "", nil, nil
	}
	return existing.Holder, existing, nil
}

// Acquire grants operator the account claim unless another operator holds a live one,
// in which case the error is a *claims.ConflictError naming the holder.
func (s *Service) Acquire(ctx context.Context, accountID, operator string) (claims.Claim, error) {
	if operator == "" {
		return claims.Claim{}, claims.ErrInvalidOperator
	}
	var (
		j       journal.Journal
		granted claims.Claim
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		j.Reset()
		now := s.clock.Now()
		acct, err := tx.Accounts().Lock(ctx, accountID)
		if err != nil {
			return err
		}
		existing, err := loadClaim(ctx, tx, accountID)
		if err != nil {
			return err
		}
		granted, err = claims.Acquire(existing, accountID, operator, now, s.ttl)
		if err != nil {
			return err
		}
		if err := tx.Claims().Upsert(ctx, &granted); err != nil {
			return err
		}
		detail := detailOf(granted)
		detail.Renewed = existing.HeldBy(operator, now)
		if existing != nil && !existing.Live(now) {
			detail.ReplacedExpired = existing.Holder
		}
		if err := j.Record(ctx, tx.Audit(), acct, audit.Subject{}, audit.ActionClaimAcquired, operator, detail, now); err != nil {
			return err
		}
		return tx.Accounts().Save(ctx, acct)
	})
	if err != nil {
		if errors.Is(err, claims.ErrClaimConflict) {
			metrics.IncClaimResult("conflict")
			s.logger.Warn("claim conflict", zap.String("account_id", accountID), zap.String("operator", operator), zap.Error(err))
		} else {
			metrics.IncClaimResult(metrics.ResultError)
		}
		return claims.Claim{}, err
	}
	metrics.IncClaimResult("acquired")
	j.Publish(s.publisher)
	return granted, nil
}

// HeartbeatResult reports whether a heartbeat extended the claim.
type HeartbeatResult struct {
	Extended bool          `json:"extended"`
	Claim    *claims.Claim `json:"claim,omitempty"`
}

// Heartbeat extends operator's live claim. A claim that expired or moved to another
// operator is left alone and the call still succeeds.
func (s *Service) Heartbeat(ctx context.Context, accountID, operator string) (HeartbeatResult, error) {
	if operator == "" {
		return HeartbeatResult{}, claims.ErrInvalidOperator
	}
	var (
		j      journal.Journal
		result HeartbeatResult
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		j.Reset()
		result = HeartbeatResult{}
		now := s.clock.Now()
		acct, err := tx.Accounts().Lock(ctx, accountID)
		if err != nil {
			return err
		}
		existing, err := loadClaim(ctx, tx, accountID)
		if err != nil {
			return err
		}
		if existing == nil || !existing.Touch(operator, now, s.ttl) {
			return nil
		}
		if err := tx.Claims().Upsert(ctx, existing); err != nil {
			return err
		}
		if err := j.Record(ctx, tx.Audit(), acct, audit.Subject{}, audit.ActionClaimHeartbeat, operator, detailOf(*existing), now); err != nil {
			return err
		}
		result = HeartbeatResult{Extended: true, Claim: existing}
		return tx.Accounts().Save(ctx, acct)
	})
	if err != nil {
		return HeartbeatResult{}, err
	}
	if result.Extended {
		metrics.IncClaimResult("heartbeat")
	} else {
		metrics.IncClaimResult("heartbeat_noop")
	}
	j.Publish(s.publisher)
	return result, nil
}

// Release drops operator's live claim. Releasing a claim held by someone else, or an expired one, is a no-op.
func (s *Service) Release(ctx context.Context, accountID, operator string) (bool, error) {
	if operator == "" {
		return false, claims.ErrInvalidOperator
	}
	var (
		j        journal.Journal
		released bool
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		j.Reset()
		released = false
		now := s.clock.Now()
		acct, err := tx.Accounts().Lock(ctx, accountID)
		if err != nil {
			return err
		}
		existing, err := loadClaim(ctx, tx, accountID)
		if err != nil {
			return err
		}
		if !existing.HeldBy(operator, now) {
			return nil
		}
		if err := tx.Claims().Delete(ctx, accountID); err != nil {
			return err
		}
		if err := j.Record(ctx, tx.Audit(), acct, audit.Subject{}, audit.ActionClaimReleased, operator, detailOf(*existing), now); err != nil {
			return err
		}
		released = true
		return tx.Accounts().Save(ctx, acct)
	})
	if err != nil {
		return false, err
	}
	if released {
		metrics.IncClaimResult("released")
	}
	j.Publish(s.publisher)
	return released, nil
}

// Get returns the live claim on the account, or nil when unclaimed.
func (s *Service) Get(ctx context.Context, accountID string) (*claims.Claim, error) {
	var out *claims.Claim
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.Accounts().Get(ctx, accountID); err != nil {
			return err
		}
		_, live, err := LiveHolder(ctx, tx, accountID, s.clock.Now())
		out = live
		return err
	})
	return out, err
}
