package store

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"videomonitoring/internal/observability/metrics"
)

// RetryPolicy bounds the exponential backoff applied to transient failures.
type RetryPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
}

type retryingStore struct {
	inner  Store
	policy RetryPolicy
	logger *zap.Logger
}

// WithRetry re-runs whole transactions that fail with ErrTransientStorage.
// Any other error is returned on the first attempt.
func WithRetry(inner Store, policy RetryPolicy, logger *zap.Logger) Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &retryingStore{inner: inner, policy: policy, logger: logger}
}

func (s *retryingStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	op := func() error {
		err := s.inner.WithinTx(ctx, fn)
		if err == nil || errors.Is(err, ErrTransientStorage) {
			return err
		}
		return backoff.Permanent(err)
	}
	notify := func(err error, wait time.Duration) {
		metrics.IncStorageRetry()
		s.logger.Warn("retrying transaction", zap.Duration("wait", wait), zap.Error(err))
	}
	return backoff.RetryNotify(op, backoff.WithContext(s.newBackOff(), ctx), notify)
}

func (s *retryingStore) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if s.policy.InitialInterval > 0 {
		b.InitialInterval = s.policy.InitialInterval
	}
	if s.policy.MaxInterval > 0 {
		b.MaxInterval = s.policy.MaxInterval
	}
	if s.policy.MaxElapsedTime > 0 {
		b.MaxElapsedTime = s.policy.MaxElapsedTime
	}
	b.Reset()
	return b
}
