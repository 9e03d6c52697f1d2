package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"videomonitoring/internal/audit"
)

// AuditRepository appends to and reads the audit log.
type AuditRepository struct {
	db DBTX
}

// NewAuditRepository constructs a repository over db.
func NewAuditRepository(db DBTX) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append inserts an entry. created_at is pushed forward so it strictly increases per account;
// callers hold the account row lock, which serializes appends for one account.
func (r *AuditRepository) Append(ctx context.Context, entry *audit.Entry) error {
	if r == nil || r.db == nil {
		return errors.New("audit repo: nil db")
	}
	if entry == nil {
		return errors.New("audit repo: nil entry")
	}
	if entry.ID == "" {
		entry.ID = audit.NewID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC().Truncate(time.Microsecond)
	}
	var detail any
	if len(entry.Detail) > 0 {
		detail = string(entry.Detail)
	}

	var createdAt time.Time
	err := r.db.QueryRowContext(ctx, `
INSERT INTO audit_log (id, account_id, camera_id, event_id, alarm_id, action, actor, detail, payload_digest, created_at)
SELECT $1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9,
	GREATEST($10::timestamptz, COALESCE(MAX(created_at) + INTERVAL '1 microsecond', $10::timestamptz))
FROM audit_log
WHERE account_id = $2
RETURNING seq, created_at`,
		entry.ID, entry.AccountID, entry.CameraID, entry.EventID, entry.AlarmID, string(entry.Action),
		entry.Actor, detail, entry.PayloadDigest, entry.CreatedAt.UTC()).Scan(&entry.Seq, &createdAt)
	if err != nil {
		return fmt.Errorf("audit append: %w", err)
	}
	entry.CreatedAt = createdAt.UTC()
	return nil
}

// Query returns one page ordered by (created_at, seq).
func (r *AuditRepository) Query(ctx context.Context, q audit.Query) (audit.Page, error) {
	if r == nil || r.db == nil {
		return audit.Page{}, errors.New("audit repo: nil db")
	}
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if q.AccountID != "" {
		where = append(where, "account_id = "+arg(q.AccountID))
	}
	if q.EventID != "" {
		where = append(where, "event_id = "+arg(q.EventID))
	}
	if q.AlarmID != "" {
		where = append(where, "alarm_id = "+arg(q.AlarmID))
	}
	if !q.From.IsZero() {
		where = append(where, "created_at >= "+arg(q.From.UTC()))
	}
	if !q.To.IsZero() {
		where = append(where, "created_at < "+arg(q.To.UTC()))
	}
	if q.After != nil {
		where = append(where, fmt.Sprintf("(created_at, seq) > (%s, %s)", arg(q.After.CreatedAt.UTC()), arg(q.After.Seq)))
	}
	limit := q.NormalizedLimit()

	query := `SELECT seq, id, account_id, camera_id, event_id, alarm_id, action, actor, detail, payload_digest, created_at FROM audit_log`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, seq LIMIT " + arg(limit+1)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return audit.Page{}, err
	}
	defer rows.Close()

	entries := []audit.Entry{}
	for rows.Next() {
		var (
			e      audit.Entry
			action string
			detail []byte
		)
		if err := rows.Scan(&e.Seq, &e.ID, &e.AccountID, &e.CameraID, &e.EventID, &e.AlarmID,
			&action, &e.Actor, &detail, &e.PayloadDigest, &e.CreatedAt); err != nil {
			return audit.Page{}, err
		}
		e.Action = audit.Action(action)
		if len(detail) > 0 {
			e.Detail = json.RawMessage(detail)
		}
		e.CreatedAt = e.CreatedAt.UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return audit.Page{}, err
	}

	page := audit.Page{Entries: entries}
	if len(entries) > limit {
		page.Entries = entries[:limit]
		page.NextCursor = audit.CursorFor(entries[limit-1]).Encode()
	}
	return page, nil
}

