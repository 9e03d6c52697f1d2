package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	alarms "videomonitoring/internal/alarms/domain"
	"videomonitoring/internal/audit"
	billing "videomonitoring/internal/billing/domain"
	"videomonitoring/internal/eventing"
	"videomonitoring/internal/store"
)

func seeded() *Store {
	s := New()
	s.PutAccount(billing.Account{ID: "acct-1", AllowDismiss: true, WarningThreshold: billing.Int64(10)})
	s.PutCamera(billing.Camera{ID: "cam-1", AccountID: "acct-1"})
	return s
}

func TestWithinTxRollsBackOnError(t *testing.T) {
	t.Parallel()

	s := seeded()
	boom := errors.New("boom")
	err := s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		acct, err := tx.Accounts().Lock(ctx, "acct-1")
		require.NoError(t, err)
		acct.MonthlyEventCount = 5
		require.NoError(t, tx.Accounts().Save(ctx, acct))
		require.NoError(t, tx.Events().Create(ctx, alarms.NewEvent("ev-1", "cam-1", "acct-1", time.Now(), nil, time.Now())))
		return boom
	})
	require.ErrorIs(t, err, boom)

	acct, ok := s.Account("acct-1")
	require.True(t, ok)
	require.Zero(t, acct.MonthlyEventCount)
	require.Zero(t, s.EventCount())
}

func TestWithinTxRollsBackOnCancel(t *testing.T) {
	t.Parallel()

	s := seeded()
	ctx, cancel := context.WithCancel(context.Background())
	err := s.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		acct, err := tx.Accounts().Lock(ctx, "acct-1")
		require.NoError(t, err)
		acct.MonthlyEventCount = 9
		require.NoError(t, tx.Accounts().Save(ctx, acct))
		cancel()
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	acct, _ := s.Account("acct-1")
	require.Zero(t, acct.MonthlyEventCount)
}

func TestInjectedTransientFailure(t *testing.T) {
	t.Parallel()

	s := seeded()
	s.FailTransactions(1)
	err := s.WithinTx(context.Background(), func(context.Context, store.Tx) error { return nil })
	require.ErrorIs(t, err, store.ErrTransientStorage)
	require.NoError(t, s.WithinTx(context.Background(), func(context.Context, store.Tx) error { return nil }))
}

func TestRepositoriesReturnCopies(t *testing.T) {
	t.Parallel()

	s := seeded()
	err := s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		acct, err := tx.Accounts().Get(ctx, "acct-1")
		require.NoError(t, err)
		*acct.WarningThreshold = 999
		again, err := tx.Accounts().Get(ctx, "acct-1")
		require.NoError(t, err)
		require.Equal(t, int64(10), *again.WarningThreshold)

		_, err = tx.Cameras().Get(ctx, "missing")
		require.ErrorIs(t, err, store.ErrNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestAuditTimestampsStrictlyIncreasePerAccount(t *testing.T) {
	t.Parallel()

	s := seeded()
	at := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	err := s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		for i := 0; i < 3; i++ {
			if err := audit.Append(ctx, tx.Audit(), audit.Subject{AccountID: "acct-1", EventID: "ev-1"}, audit.ActionSignalAccepted, audit.ActorIngest, nil, at); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	entries := s.AuditEntries()
	require.Len(t, entries, 3)
	for i := 1; i < len(entries); i++ {
		require.True(t, entries[i].CreatedAt.After(entries[i-1].CreatedAt))
		require.Greater(t, entries[i].Seq, entries[i-1].Seq)
	}
}

func TestAuditQueryPaginates(t *testing.T) {
	t.Parallel()

	s := seeded()
	at := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		for i := 0; i < 5; i++ {
			if err := audit.Append(ctx, tx.Audit(), audit.Subject{AccountID: "acct-1"}, audit.ActionClaimHeartbeat, "op-1", nil, at.Add(time.Duration(i)*time.Second)); err != nil {
				return err
			}
		}
		return nil
	}))

	var seen []int64
	cursor := ""
	for {
		var page audit.Page
		require.NoError(t, s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
			after, err := audit.DecodeCursor(cursor)
			if err != nil {
				return err
			}
			page, err = tx.Audit().Query(ctx, audit.Query{AccountID: "acct-1", Limit: 2, After: after})
			return err
		}))
		for _, e := range page.Entries {
			seen = append(seen, e.Seq)
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	require.Equal(t, []int64{1, 2, 3, 4, 5}, seen)
}

func TestAuditHookFailsTransaction(t *testing.T) {
	t.Parallel()

	s := seeded()
	boom := errors.New("audit down")
	s.SetAuditHook(func(*audit.Entry) error { return boom })
	err := s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return audit.Append(ctx, tx.Audit(), audit.Subject{AccountID: "acct-1"}, audit.ActionClaimAcquired, "op-1", nil, time.Now())
	})
	require.ErrorIs(t, err, boom)
	require.Empty(t, s.AuditEntries())
}

func TestOutboxLifecycle(t *testing.T) {
	t.Parallel()

	s := seeded()
	env, err := eventing.BuildEnvelope(eventing.EventTypeWarningTrigger, eventing.Trigger{Kind: "warning"}, eventing.Meta{AccountID: "acct-1"})
	require.NoError(t, err)
	require.NoError(t, s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := tx.Outbox().Insert(ctx, env)
		return err
	}))

	pending, err := s.ListPending(context.Background(), 10, 2)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, s.MarkFailed(context.Background(), pending[0].ID, errors.New("nope")))
	require.NoError(t, s.MarkFailed(context.Background(), pending[0].ID, errors.New("nope")))
	pending, err = s.ListPending(context.Background(), 10, 2)
	require.NoError(t, err)
	require.Empty(t, pending)

	require.ErrorIs(t, s.MarkSent(context.Background(), "missing"), store.ErrNotFound)
}

type countingSink struct {
	mu    sync.Mutex
	byID  map[string]int
	delay time.Duration
}

func (c *countingSink) Deliver(_ context.Context, env eventing.Envelope) error {
	time.Sleep(c.delay)
	c.mu.Lock()
	c.byID[env.EventID]++
	c.mu.Unlock()
	return nil
}

func TestConcurrentDispatchersDeliverEachTriggerOnce(t *testing.T) {
	t.Parallel()

	s := seeded()
	for i := 0; i < 20; i++ {
		env, err := eventing.BuildEnvelope(eventing.EventTypeWarningTrigger, eventing.Trigger{Kind: "warning", Count: int64(i)}, eventing.Meta{AccountID: "acct-1"})
		require.NoError(t, err)
		require.NoError(t, s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
			_, err := tx.Outbox().Insert(ctx, env)
			return err
		}))
	}

	sink := &countingSink{byID: map[string]int{}, delay: time.Millisecond}
	var wg sync.WaitGroup
	for _, owner := range []string{"node-a", "node-b", "node-c"} {
		d, err := eventing.NewDispatcher(s, sink, eventing.WithOwner(owner), eventing.WithBatchSize(5))
		require.NoError(t, err)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				_, err := d.Dispatch(context.Background())
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	require.Len(t, sink.byID, 20)
	for id, n := range sink.byID {
		require.Equal(t, 1, n, id)
	}
	pending, err := s.ListPending(context.Background(), 100, 0)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestOutboxLeaseExpires(t *testing.T) {
	t.Parallel()

	s := seeded()
	env, err := eventing.BuildEnvelope(eventing.EventTypeSnoozedTrigger, eventing.Trigger{Kind: "snoozed"}, eventing.Meta{AccountID: "acct-1"})
	require.NoError(t, err)
	require.NoError(t, s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := tx.Outbox().Insert(ctx, env)
		return err
	}))

	ctx := context.Background()
	claimed, err := s.ClaimPending(ctx, "node-a", 10, 0, 20*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	other, err := s.ClaimPending(ctx, "node-b", 10, 0, time.Minute)
	require.NoError(t, err)
	require.Empty(t, other)

	require.Eventually(t, func() bool {
		other, err = s.ClaimPending(ctx, "node-b", 10, 0, time.Minute)
		return err == nil && len(other) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, s.MarkFailed(ctx, other[0].ID, errors.New("broker down")))
	again, err := s.ClaimPending(ctx, "node-a", 10, 0, time.Minute)
	require.NoError(t, err)
	require.Len(t, again, 1)
	require.Equal(t, 1, again[0].Attempts)
}
