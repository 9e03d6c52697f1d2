package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"videomonitoring/internal/eventing"
)

const defaultOutboxTable = "trigger_outbox"

// OutboxStore is a Postgres implementation for trigger outbox records.
type OutboxStore struct {
	db    DBTX
	table string
}

// NewOutboxStore constructs an outbox store.
func NewOutboxStore(db DBTX, opts ...OutboxOption) *OutboxStore {
	store := &OutboxStore{db: db, table: defaultOutboxTable}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// OutboxOption configures the outbox store.
type OutboxOption func(*OutboxStore)

// WithOutboxTable overrides the table name.
func WithOutboxTable(table string) OutboxOption {
	return func(store *OutboxStore) {
		if table != "" {
			store.table = table
		}
	}
}

// Insert writes an envelope to the outbox.
func (s *OutboxStore) Insert(ctx context.Context, env eventing.Envelope) (string, error) {
	if s == nil || s.db == nil {
		return "", errors.New("outbox store: nil db")
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return "", err
	}
	outboxID := eventing.NewEventID()
	query := fmt.Sprintf(`
INSERT INTO %s (id, event_id, event_type, payload, status, attempts)
VALUES ($1, $2, $3, $4, 'pending', 0)`, s.table)

	if _, err := s.db.ExecContext(ctx, query, outboxID, env.EventID, env.EventType, string(payload)); err != nil {
		return "", err
	}
	return outboxID, nil
}

// ListPending returns undelivered records below maxAttempts, oldest first, without leasing them.
func (s *OutboxStore) ListPending(ctx context.Context, limit, maxAttempts int) ([]eventing.OutboxRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("outbox store: nil db")
	}
	if limit <= 0 {
		limit = 50
	}
	if maxAttempts <= 0 {
		maxAttempts = int(^uint32(0) >> 1)
	}
	query := fmt.Sprintf(`
SELECT id, payload, attempts
FROM %s
WHERE status <> 'sent' AND attempts < $1
ORDER BY created_at ASC
LIMIT $2`, s.table)

	rows, err := s.db.QueryContext(ctx, query, maxAttempts, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []eventing.OutboxRecord
	for rows.Next() {
		var (
			id       string
			payload  []byte
			attempts int
		)
		if err := rows.Scan(&id, &payload, &attempts); err != nil {
			return nil, err
		}
		var env eventing.Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			return nil, err
		}
		result = append(result, eventing.OutboxRecord{ID: id, Envelope: env, Attempts: attempts})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// ClaimPending leases up to limit deliverable records to owner. Rows locked or leased by
// another dispatcher are skipped, so concurrent instances never deliver the same record
// while its lease holds.
func (s *OutboxStore) ClaimPending(ctx context.Context, owner string, limit, maxAttempts int, lease time.Duration) ([]eventing.OutboxRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("outbox store: nil db")
	}
	if owner == "" {
		return nil, errors.New("outbox store: empty lease owner")
	}
	if limit <= 0 {
		limit = 50
	}
	if maxAttempts <= 0 {
		maxAttempts = int(^uint32(0) >> 1)
	}
	now := time.Now().UTC()
	query := fmt.Sprintf(`
UPDATE %[1]s
SET lease_owner = $1, lease_until = $2
WHERE id IN (
	SELECT id
	FROM %[1]s
	WHERE status <> 'sent' AND attempts < $3
	  AND (lease_until IS NULL OR lease_until < $4 OR lease_owner = $1)
	ORDER BY created_at ASC
	LIMIT $5
	FOR UPDATE SKIP LOCKED
)
RETURNING id, payload, attempts, created_at`, s.table)

	rows, err := s.db.QueryContext(ctx, query, owner, now.Add(lease), maxAttempts, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type claimed struct {
		rec       eventing.OutboxRecord
		createdAt time.Time
	}
	var batch []claimed
	for rows.Next() {
		var (
			c       claimed
			payload []byte
		)
		if err := rows.Scan(&c.rec.ID, &payload, &c.rec.Attempts, &c.createdAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(payload, &c.rec.Envelope); err != nil {
			return nil, err
		}
		batch = append(batch, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(batch, func(i, j int) bool { return batch[i].createdAt.Before(batch[j].createdAt) })
	out := make([]eventing.OutboxRecord, len(batch))
	for i, c := range batch {
		out[i] = c.rec
	}
	return out, nil
}

// MarkSent marks an outbox record as sent.
func (s *OutboxStore) MarkSent(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return errors.New("outbox store: nil db")
	}
	query := fmt.Sprintf(`
UPDATE %s
SET status = 'sent', sent_at = $1, lease_owner = '', lease_until = NULL
WHERE id = $2`, s.table)
	res, err := s.db.ExecContext(ctx, query, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	return requireAffected(res, "outbox record", id)
}

// MarkFailed records a failed delivery and increments attempts.
func (s *OutboxStore) MarkFailed(ctx context.Context, id string, cause error) error {
	if s == nil || s.db == nil {
		return errors.New("outbox store: nil db")
	}
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	query := fmt.Sprintf(`
UPDATE %s
SET status = 'failed', attempts = attempts + 1, last_error = $2, lease_owner = '', lease_until = NULL
WHERE id = $1`, s.table)
	res, err := s.db.ExecContext(ctx, query, id, msg)
	if err != nil {
		return err
	}
	return requireAffected(res, "outbox record", id)
}
