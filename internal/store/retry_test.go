package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type scriptedStore struct {
	errs  []error
	calls int
}

func (s *scriptedStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	s.calls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return err
	}
	return fn(ctx, nil)
}

var fastPolicy = RetryPolicy{InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond, MaxElapsedTime: time.Second}

func TestWithRetryRerunsTransientFailures(t *testing.T) {
	t.Parallel()

	inner := &scriptedStore{errs: []error{
		fmt.Errorf("deadlock: %w", ErrTransientStorage),
		fmt.Errorf("serialization: %w", ErrTransientStorage),
	}}
	ran := 0
	err := WithRetry(inner, fastPolicy, nil).WithinTx(context.Background(), func(context.Context, Tx) error {
		ran++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, inner.calls)
	require.Equal(t, 1, ran)
}

func TestWithRetryStopsOnPermanentError(t *testing.T) {
	t.Parallel()

	boom := errors.New("constraint violation")
	inner := &scriptedStore{errs: []error{boom}}
	err := WithRetry(inner, fastPolicy, nil).WithinTx(context.Background(), func(context.Context, Tx) error { return nil })
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, inner.calls)
}

func TestWithRetryGivesUp(t *testing.T) {
	t.Parallel()

	inner := &scriptedStore{}
	for i := 0; i < 1000; i++ {
		inner.errs = append(inner.errs, ErrTransientStorage)
	}
	policy := RetryPolicy{InitialInterval: time.Millisecond, MaxInterval: time.Millisecond, MaxElapsedTime: 20 * time.Millisecond}
	err := WithRetry(inner, policy, nil).WithinTx(context.Background(), func(context.Context, Tx) error { return nil })
	require.ErrorIs(t, err, ErrTransientStorage)
	require.Greater(t, inner.calls, 1)
}
