package claims

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrClaimConflict indicates another operator holds a live claim on the account.
	ErrClaimConflict = errors.New("claim: held by another operator")
	// ErrClaimRequired indicates the caller must hold the account claim first.
	ErrClaimRequired = errors.New("claim: account claim required")
	// ErrInvalidOperator indicates an empty operator id.
	ErrInvalidOperator = errors.New("claim: operator id required")
)

// ConflictError names the current holder of a contested claim.
type ConflictError struct {
	AccountID string
	Holder    string
	ExpiresAt time.Time
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("claim: account %s held by %s until %s", e.AccountID, e.Holder, e.ExpiresAt.UTC().Format(time.RFC3339))
}

// Is matches ErrClaimConflict.
func (e *ConflictError) Is(target error) bool {
	return target == ErrClaimConflict
}

// Claim is an exclusive, time-bounded handling lock on an account.
type Claim struct {
	AccountID    string    `json:"account_id"`
	Holder       string    `json:"holder"`
	ClaimedAt    time.Time `json:"claimed_at"`
	LastActivity time.Time `json:"last_activity"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Live reports whether c is present and unexpired at now.
func (c *Claim) Live(now time.Time) bool {
	return c != nil && now.Before(c.ExpiresAt)
}

// HeldBy reports whether operator holds a live claim.
func (c *Claim) HeldBy(operator string, now time.Time) bool {
	return c.Live(now) && c.Holder == operator
}

// Acquire applies the compare-and-set rule against the existing row, treating an
// expired row as absent. Re-acquiring an own claim keeps ClaimedAt and extends it.
func Acquire(existing *Claim, accountID, operator string, now time.Time, ttl time.Duration) (Claim, error) {
	if operator == "" {
		return Claim{}, ErrInvalidOperator
	}
	if existing.Live(now) && existing.Holder != operator {
		return Claim{}, &ConflictError{AccountID: accountID, Holder: existing.Holder, ExpiresAt: existing.ExpiresAt}
	}
	claimedAt := now
	if existing.Live(now) {
		claimedAt = existing.ClaimedAt
	}
	return Claim{
		AccountID:    accountID,
		Holder:       operator,
		ClaimedAt:    claimedAt,
		LastActivity: now,
		ExpiresAt:    now.Add(ttl),
	}, nil
}

// Require checks that operator may mutate the account at now.
func Require(existing *Claim, accountID, operator string, now time.Time) error {
	if operator == "" {
		return ErrInvalidOperator
	}
	if !existing.Live(now) {
		return fmt.Errorf("%w: account %s", ErrClaimRequired, accountID)
	}
	if existing.Holder != operator {
		return &ConflictError{AccountID: accountID, Holder: existing.Holder, ExpiresAt: existing.ExpiresAt}
	}
	return nil
}

// Touch extends a live claim held by operator. It reports false when nothing changed.
func (c *Claim) Touch(operator string, now time.Time, ttl time.Duration) bool {
	if !c.HeldBy(operator, now) {
		return false
	}
	c.LastActivity = now
	c.ExpiresAt = now.Add(ttl)
	return true
}
