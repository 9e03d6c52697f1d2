package alarms

import "errors"

var (
	// ErrNotFound indicates a missing event or alarm record.
	ErrNotFound = errors.New("alarm: not found")
	// ErrInvalidStateTransition indicates an illegal event or alarm transition.
	ErrInvalidStateTransition = errors.New("alarm: invalid state transition")
	// ErrDismissNotAllowed indicates the camera/account forbids dismissing events.
	ErrDismissNotAllowed = errors.New("alarm: dismiss not allowed")
	// ErrInvalidResolution indicates an unknown resolution code.
	ErrInvalidResolution = errors.New("alarm: invalid resolution")
	// ErrAccountMismatch indicates an event linked to an alarm of another account.
	ErrAccountMismatch = errors.New("alarm: account mismatch")
	// ErrInvalidFilter indicates an unusable listing filter.
	ErrInvalidFilter = errors.New("alarm: invalid filter")
)
