package audit

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultQueryLimit = 100
	MaxQueryLimit     = 1000
	MaxExportRows     = 10000
)

// ErrInvalidCursor indicates a malformed pagination cursor.
var ErrInvalidCursor = errors.New("audit: invalid cursor")

// Query filters the audit trail. Zero fields do not filter.
// Results are ordered by (CreatedAt, Seq) ascending.
type Query struct {
	AccountID string
	EventID   string
	AlarmID   string
	From      time.Time
	To        time.Time
	Limit     int
	After     *Cursor
}

// Cursor is the keyset position of the last entry on a page.
type Cursor struct {
	CreatedAt time.Time
	Seq       int64
}

// Page is one page of audit entries.
type Page struct {
	Entries    []Entry `json:"entries"`
	NextCursor string  `json:"next_cursor,omitempty"`
}

// NormalizedLimit clamps the page size.
func (q Query) NormalizedLimit() int {
	switch {
	case q.Limit <= 0:
		return DefaultQueryLimit
	case q.Limit > MaxQueryLimit:
		return MaxQueryLimit
	default:
		return q.Limit
	}
}

// Matches reports whether e satisfies the filter, ignoring the cursor.
func (q Query) Matches(e Entry) bool {
	if q.AccountID != "" && e.AccountID != q.AccountID {
		return false
	}
	if q.EventID != "" && e.EventID != q.EventID {
		return false
	}
	if q.AlarmID != "" && e.AlarmID != q.AlarmID {
		return false
	}
	if !q.From.IsZero() && e.CreatedAt.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && !e.CreatedAt.Before(q.To) {
		return false
	}
	return true
}

// Before reports whether c sorts strictly before e.
func (c Cursor) Before(e Entry) bool {
	if e.CreatedAt.Equal(c.CreatedAt) {
		return e.Seq > c.Seq
	}
	return e.CreatedAt.After(c.CreatedAt)
}

// CursorFor returns the cursor positioned at e.
func CursorFor(e Entry) Cursor {
	return Cursor{CreatedAt: e.CreatedAt, Seq: e.Seq}
}

// Encode renders the cursor as an opaque token.
func (c Cursor) Encode() string {
	raw := strconv.FormatInt(c.CreatedAt.UnixMicro(), 10) + ":" + strconv.FormatInt(c.Seq, 10)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses a token produced by Encode. An empty token yields nil.
func DecodeCursor(token string) (*Cursor, error) {
	if token == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	micros, seq, ok := strings.Cut(string(raw), ":")
	if !ok {
		return nil, ErrInvalidCursor
	}
	us, err := strconv.ParseInt(micros, 10, 64)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	n, err := strconv.ParseInt(seq, 10, 64)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	return &Cursor{CreatedAt: time.UnixMicro(us).UTC(), Seq: n}, nil
}

// Reader serves audit trail queries.
type Reader interface {
	Query(ctx context.Context, q Query) (Page, error)
}
