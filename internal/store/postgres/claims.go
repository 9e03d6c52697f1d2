package postgres

import (
	"context"
	"errors"
	"time"

	claims "videomonitoring/internal/claims/domain"
)

// ClaimRepository persists account claims.
type ClaimRepository struct {
	db DBTX
}

// Get returns the claim row, expired or not.
func (r *ClaimRepository) Get(ctx context.Context, accountID string) (*claims.Claim, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("claim repo: nil db")
	}
	var c claims.Claim
	err := r.db.QueryRowContext(ctx, `
SELECT account_id, holder, claimed_at, last_activity, expires_at
FROM account_claims
WHERE account_id = $1`, accountID).Scan(&c.AccountID, &c.Holder, &c.ClaimedAt, &c.LastActivity, &c.ExpiresAt)
	if err != nil {
		return nil, scanErr(err, "claim", accountID)
	}
	normalizeClaim(&c)
	return &c, nil
}

// Upsert writes the claim, replacing any previous holder.
func (r *ClaimRepository) Upsert(ctx context.Context, c *claims.Claim) error {
	if r == nil || r.db == nil {
		return errors.New("claim repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO account_claims (account_id, holder, claimed_at, last_activity, expires_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (account_id)
DO UPDATE SET
	holder = EXCLUDED.holder,
	claimed_at = EXCLUDED.claimed_at,
	last_activity = EXCLUDED.last_activity,
	expires_at = EXCLUDED.expires_at`,
		c.AccountID, c.Holder, c.ClaimedAt.UTC(), c.LastActivity.UTC(), c.ExpiresAt.UTC())
	return err
}

// Delete removes the claim if present.
func (r *ClaimRepository) Delete(ctx context.Context, accountID string) error {
	if r == nil || r.db == nil {
		return errors.New("claim repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, `DELETE FROM account_claims WHERE account_id = $1`, accountID)
	return err
}

// ListExpired returns claims whose expiry is not after now.
func (r *ClaimRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]claims.Claim, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("claim repo: nil db")
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT account_id, holder, claimed_at, last_activity, expires_at
FROM account_claims
WHERE expires_at <= $1
ORDER BY account_id
LIMIT $2`, now.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []claims.Claim
	for rows.Next() {
		var c claims.Claim
		if err := rows.Scan(&c.AccountID, &c.Holder, &c.ClaimedAt, &c.LastActivity, &c.ExpiresAt); err != nil {
			return nil, err
		}
		normalizeClaim(&c)
		out = append(out, c)
	}
	return out, rows.Err()
}

func normalizeClaim(c *claims.Claim) {
	c.ClaimedAt = c.ClaimedAt.UTC()
	c.LastActivity = c.LastActivity.UTC()
	c.ExpiresAt = c.ExpiresAt.UTC()
}
