package postgres_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/require"

	alarms "videomonitoring/internal/alarms/domain"
	"videomonitoring/internal/audit"
	billingapp "videomonitoring/internal/billing/application"
	billing "videomonitoring/internal/billing/domain"
	claimsapp "videomonitoring/internal/claims/application"
	claims "videomonitoring/internal/claims/domain"
	"videomonitoring/internal/eventing"
	"videomonitoring/internal/store"
	"videomonitoring/internal/store/postgres"
)

func openStore(t *testing.T) (*postgres.Store, *sql.DB) {
	t.Helper()
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}
	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = postgres.Migrate(context.Background(), db)
	require.NoError(t, err)

	st, err := postgres.New(db, nil)
	require.NoError(t, err)
	return st, db
}

func seedAccount(t *testing.T, db *sql.DB) (string, string) {
	t.Helper()
	suffix := uuid.NewString()[:8]
	acctID, camID := "acct-"+suffix, "cam-"+suffix
	now := time.Now().UTC().Truncate(time.Microsecond)
	start, end := billing.PeriodBounds(now, time.UTC)
	ctx := context.Background()
	require.NoError(t, postgres.NewAccountRepository(db).Insert(ctx, &billing.Account{
		ID: acctID, AllowDismiss: true, WarningThreshold: billing.Int64(2),
		BillingPeriodStart: start, BillingPeriodEnd: end, UpdatedAt: now,
	}))
	require.NoError(t, postgres.NewCameraRepository(db).Insert(ctx, &billing.Camera{ID: camID, AccountID: acctID, UpdatedAt: now}))
	return acctID, camID
}

func TestStoreRoundTrip(t *testing.T) {
	st, db := openStore(t)
	acctID, camID := seedAccount(t, db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	evID := "ev-" + uuid.NewString()
	alarmID := "alarm-" + uuid.NewString()
	err := st.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		acct, err := tx.Accounts().Lock(ctx, acctID)
		require.NoError(t, err)
		cam, err := tx.Cameras().Lock(ctx, camID)
		require.NoError(t, err)
		billing.RecordSignal(cam, acct, now)
		require.NoError(t, tx.Accounts().Save(ctx, acct))
		require.NoError(t, tx.Cameras().Save(ctx, cam))

		ev := alarms.NewEvent(evID, camID, acctID, now, []string{"s3://clip"}, now)
		require.NoError(t, tx.Events().Create(ctx, ev))
		al, err := alarms.NewAlarm(alarmID, ev, "op-1", now)
		require.NoError(t, err)
		require.NoError(t, tx.Alarms().Create(ctx, al))
		require.NoError(t, tx.Events().Update(ctx, ev))

		require.NoError(t, tx.Claims().Upsert(ctx, &claims.Claim{AccountID: acctID, Holder: "op-1", ClaimedAt: now, LastActivity: now, ExpiresAt: now.Add(time.Minute)}))
		return audit.Append(ctx, tx.Audit(), audit.Subject{AccountID: acctID, EventID: evID}, audit.ActionEventEscalated, "op-1", map[string]string{"alarm_id": alarmID}, now)
	})
	require.NoError(t, err)

	require.NoError(t, st.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		acct, err := tx.Accounts().Get(ctx, acctID)
		require.NoError(t, err)
		require.Equal(t, int64(1), acct.MonthlyEventCount)

		ev, err := tx.Events().Get(ctx, evID)
		require.NoError(t, err)
		require.Equal(t, alarms.EventEscalated, ev.Status)
		require.Equal(t, []string{"s3://clip"}, ev.MediaRefs)

		open, err := tx.Alarms().FindOpenByAccount(ctx, acctID)
		require.NoError(t, err)
		require.Equal(t, alarmID, open.ID)

		c, err := tx.Claims().Get(ctx, acctID)
		require.NoError(t, err)
		require.Equal(t, "op-1", c.Holder)

		page, err := tx.Audit().Query(ctx, audit.Query{AccountID: acctID})
		require.NoError(t, err)
		require.Len(t, page.Entries, 1)
		require.Equal(t, audit.ActionEventEscalated, page.Entries[0].Action)
		return nil
	}))
}

func TestStoreRollsBack(t *testing.T) {
	st, db := openStore(t)
	acctID, _ := seedAccount(t, db)
	ctx := context.Background()

	err := st.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		acct, err := tx.Accounts().Lock(ctx, acctID)
		require.NoError(t, err)
		acct.MonthlyEventCount = 99
		require.NoError(t, tx.Accounts().Save(ctx, acct))
		return alarms.ErrInvalidStateTransition
	})
	require.ErrorIs(t, err, alarms.ErrInvalidStateTransition)

	acct, err := postgres.NewAccountRepository(db).Get(ctx, acctID)
	require.NoError(t, err)
	require.Zero(t, acct.MonthlyEventCount)

	_, err = postgres.NewAccountRepository(db).Get(ctx, "missing-"+uuid.NewString())
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestAuditAppendIsMonotonicPerAccount(t *testing.T) {
	st, db := openStore(t)
	acctID, _ := seedAccount(t, db)
	ctx := context.Background()
	at := time.Now().UTC().Truncate(time.Microsecond)

	require.NoError(t, st.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		for i := 0; i < 3; i++ {
			if err := audit.Append(ctx, tx.Audit(), audit.Subject{AccountID: acctID}, audit.ActionClaimHeartbeat, "op-1", nil, at); err != nil {
				return err
			}
		}
		return nil
	}))

	var entries []audit.Entry
	cursor := ""
	for {
		after, err := audit.DecodeCursor(cursor)
		require.NoError(t, err)
		page, err := postgres.NewAuditRepository(db).Query(ctx, audit.Query{AccountID: acctID, Limit: 2, After: after})
		require.NoError(t, err)
		entries = append(entries, page.Entries...)
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	require.Len(t, entries, 3)
	for i := 1; i < len(entries); i++ {
		require.True(t, entries[i].CreatedAt.After(entries[i-1].CreatedAt))
	}
}

func TestOutboxLifecycle(t *testing.T) {
	st, _ := openStore(t)
	ctx := context.Background()
	env, err := eventing.BuildEnvelope(eventing.EventTypeSnoozedTrigger, eventing.Trigger{Kind: "snoozed"}, eventing.Meta{AccountID: "acct-outbox"})
	require.NoError(t, err)

	var id string
	require.NoError(t, st.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		id, err = tx.Outbox().Insert(ctx, env)
		return err
	}))

	outbox := st.Outbox()
	require.NoError(t, outbox.MarkFailed(ctx, id, context.DeadlineExceeded))
	pending, err := outbox.ListPending(ctx, 1000, 10)
	require.NoError(t, err)
	found := false
	for _, rec := range pending {
		if rec.ID == id {
			found = true
			require.Equal(t, 1, rec.Attempts)
			require.Equal(t, env.EventID, rec.Envelope.EventID)
		}
	}
	require.True(t, found)
	require.NoError(t, outbox.MarkSent(ctx, id))
	require.ErrorIs(t, outbox.MarkSent(ctx, "missing"), store.ErrNotFound)
}

func containsRecord(recs []eventing.OutboxRecord, id string) bool {
	for _, r := range recs {
		if r.ID == id {
			return true
		}
	}
	return false
}

func TestOutboxClaimIsExclusive(t *testing.T) {
	st, _ := openStore(t)
	ctx := context.Background()
	env, err := eventing.BuildEnvelope(eventing.EventTypeWarningTrigger, eventing.Trigger{Kind: "warning"}, eventing.Meta{AccountID: "acct-lease"})
	require.NoError(t, err)

	var id string
	require.NoError(t, st.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		id, err = tx.Outbox().Insert(ctx, env)
		return err
	}))

	outbox := st.Outbox()
	mine, err := outbox.ClaimPending(ctx, "node-a", 1000, 10, time.Minute)
	require.NoError(t, err)
	require.True(t, containsRecord(mine, id))

	theirs, err := outbox.ClaimPending(ctx, "node-b", 1000, 10, time.Minute)
	require.NoError(t, err)
	require.False(t, containsRecord(theirs, id))

	require.NoError(t, outbox.MarkSent(ctx, id))
	theirs, err = outbox.ClaimPending(ctx, "node-b", 1000, 10, time.Minute)
	require.NoError(t, err)
	require.False(t, containsRecord(theirs, id))
}

func TestConcurrentSignalsAndClaims(t *testing.T) {
	st, db := openStore(t)
	acctID, camID := seedAccount(t, db)
	ctx := context.Background()
	retrying := store.WithRetry(st, store.RetryPolicy{InitialInterval: 5 * time.Millisecond, MaxElapsedTime: 10 * time.Second}, nil)

	billingSvc, err := billingapp.NewService(retrying)
	require.NoError(t, err)
	claimSvc, err := claimsapp.NewService(retrying)
	require.NoError(t, err)

	const workers = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		winners   int
		conflicts int
	)
	for i := 0; i < workers; i++ {
		op := fmt.Sprintf("op-%d", i)
		wg.Add(2)
		go func() {
			defer wg.Done()
			res, err := billingSvc.SubmitSignal(ctx, billingapp.Signal{CameraID: camID})
			if err != nil || !res.Accepted {
				t.Errorf("signal: accepted=%v err=%v", res.Accepted, err)
			}
		}()
		go func() {
			defer wg.Done()
			_, err := claimSvc.Acquire(ctx, acctID, op)
			mu.Lock()
			defer mu.Unlock()
			var conflict *claims.ConflictError
			switch {
			case err == nil:
				winners++
			case errors.As(err, &conflict):
				conflicts++
			default:
				t.Errorf("acquire %s: %v", op, err)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, winners)
	require.Equal(t, workers-1, conflicts)

	acct, err := postgres.NewAccountRepository(db).Get(ctx, acctID)
	require.NoError(t, err)
	require.Equal(t, int64(workers), acct.MonthlyEventCount)
	require.NoError(t, st.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		events, err := tx.Events().List(ctx, alarms.EventFilter{AccountID: acctID, Limit: 100})
		require.NoError(t, err)
		require.Len(t, events, workers)
		page, err := tx.Audit().Query(ctx, audit.Query{AccountID: acctID, Limit: 100})
		require.NoError(t, err)
		accepted := 0
		for _, e := range page.Entries {
			if e.Action == audit.ActionSignalAccepted {
				accepted++
			}
		}
		require.Equal(t, workers, accepted)
		return nil
	}))
}
