package apihttp

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	alarms "videomonitoring/internal/alarms/domain"
	"videomonitoring/internal/audit"
	"videomonitoring/internal/auth"
	billing "videomonitoring/internal/billing/domain"
	claims "videomonitoring/internal/claims/domain"
	"videomonitoring/internal/store"
)

const (
	timeLayout   = time.RFC3339
	maxBodyBytes = 1 << 20
)

// ErrBadRequest marks malformed input caught at the HTTP boundary.
var ErrBadRequest = errors.New("bad request")

// ErrorBody is the JSON error envelope.
type ErrorBody struct {
	Error     string     `json:"error"`
	Message   string     `json:"message"`
	Holder    string     `json:"holder,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// WriteJSON encodes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// WriteError maps a service error onto a status code and error envelope.
func WriteError(w http.ResponseWriter, err error) {
	status, body := Classify(err)
	WriteJSON(w, status, body)
}

// Classify returns the HTTP status and body for err.
func Classify(err error) (int, ErrorBody) {
	body := ErrorBody{Message: err.Error()}

	var conflict *claims.ConflictError
	switch {
	case errors.As(err, &conflict):
		expires := conflict.ExpiresAt.UTC()
		body.Error, body.Holder, body.ExpiresAt = "claim_conflict", conflict.Holder, &expires
		return http.StatusConflict, body
	case errors.Is(err, claims.ErrClaimRequired):
		body.Error = "claim_required"
		return http.StatusConflict, body
	case errors.Is(err, billing.ErrInvalidThresholdTransition):
		body.Error = "invalid_threshold_transition"
		return http.StatusUnprocessableEntity, body
	case errors.Is(err, alarms.ErrInvalidStateTransition):
		body.Error = "invalid_state_transition"
		return http.StatusUnprocessableEntity, body
	case errors.Is(err, alarms.ErrDismissNotAllowed):
		body.Error = "dismiss_not_allowed"
		return http.StatusUnprocessableEntity, body
	case errors.Is(err, alarms.ErrAccountMismatch):
		body.Error = "account_mismatch"
		return http.StatusUnprocessableEntity, body
	case errors.Is(err, store.ErrNotFound), errors.Is(err, alarms.ErrNotFound):
		body.Error = "not_found"
		return http.StatusNotFound, body
	case errors.Is(err, store.ErrTransientStorage):
		body.Error, body.Message = "unavailable", "storage temporarily unavailable, retry"
		return http.StatusServiceUnavailable, body
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, billing.ErrInvalidThreshold),
		errors.Is(err, billing.ErrUnknownEntity),
		errors.Is(err, alarms.ErrInvalidResolution),
		errors.Is(err, alarms.ErrInvalidFilter),
		errors.Is(err, claims.ErrInvalidOperator),
		errors.Is(err, audit.ErrInvalidCursor):
		body.Error = "invalid_request"
		return http.StatusBadRequest, body
	case errors.Is(err, auth.ErrUnauthorized), errors.Is(err, auth.ErrInvalidToken):
		body.Error = "unauthorized"
		return http.StatusUnauthorized, body
	case errors.Is(err, auth.ErrForbidden):
		body.Error = "forbidden"
		return http.StatusForbidden, body
	default:
		body.Error, body.Message = "internal", "internal error"
		return http.StatusInternalServerError, body
	}
}

// DecodeJSON reads a bounded JSON body into v. An empty body leaves v untouched.
func DecodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return nil
}

// ParseTimeQuery reads an optional RFC3339 query parameter.
func ParseTimeQuery(r *http.Request, key string) (time.Time, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return time.Time{}, nil
	}
	parsed, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s must be RFC3339", ErrBadRequest, key)
	}
	return parsed.UTC(), nil
}

// ParseIntQuery reads an optional integer query parameter.
func ParseIntQuery(r *http.Request, key string) (int, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", ErrBadRequest, key)
	}
	return n, nil
}
